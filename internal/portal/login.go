package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// Login outcome statuses reported by the portal.
const (
	LoginSuccess                = "SUCCESS"
	LoginPasscodeRequired       = "PASSCODE_REQUIRED"
	LoginPasscodeRequiredActive = "PASSCODE_REQUIRED_ACTIVE"
)

// PasscodeData is the contact-option payload a passcode challenge carries.
type PasscodeData struct {
	Emails map[string]string `json:"emails"`
	Phones map[string]string `json:"phones"`
	Status string            `json:"status"`
}

// LoginResponse is the portal's answer to a credential login attempt.
type LoginResponse struct {
	Status       string        `json:"status"`
	PasscodeData *PasscodeData `json:"passcode_data,omitempty"`
}

// Login submits member credentials. The caller inspects Status for the three
// known outcomes; anything else is an authentication failure.
func (c *Client) Login(ctx context.Context, nonce string) (*LoginResponse, error) {
	form := url.Values{
		"action":   {"whpp_login"},
		"memberid": {c.cfg.MemberID},
		"password": {c.cfg.Password},
		"security": {nonce},
	}

	status, body, duration, err := c.postForm(ctx, c.cfg.AjaxURL, form)
	if err != nil {
		c.monitor.LogAPICall(c.cfg.AjaxURL, "POST", status, duration, redactForm(form), err.Error())
		return nil, fmt.Errorf("login: %w", err)
	}
	c.monitor.LogAPICall(c.cfg.AjaxURL, "POST", status, duration, redactForm(form), truncate(string(body), 200))

	var lr LoginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	return &lr, nil
}

// RequestPasscode asks the portal to send a one-time code to the selected
// contact channel.
func (c *Client) RequestPasscode(ctx context.Context, nonce, contactHash string) error {
	form := url.Values{
		"action":           {"generatePasscode"},
		"memberid":         {c.cfg.MemberID},
		"passcode_mode":    {"EMAIL"},
		"passcode_contact": {contactHash},
		"security":         {nonce},
	}

	status, body, duration, err := c.postForm(ctx, c.cfg.AjaxURL, form)
	if err != nil {
		c.monitor.LogAPICall(c.cfg.AjaxURL, "POST", status, duration, redactForm(form), err.Error())
		return fmt.Errorf("request passcode: %w", err)
	}
	c.monitor.LogAPICall(c.cfg.AjaxURL, "POST", status, duration, redactForm(form), truncate(string(body), 200))

	var result struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("decode passcode request response: %w", err)
	}
	if result.Status != LoginSuccess {
		return fmt.Errorf("passcode request rejected: %s", result.Status)
	}
	return nil
}

// ValidatePasscode submits the received code to finish a 2FA login. The
// portal answers {"status": true} on success, older revisions "SUCCESS".
func (c *Client) ValidatePasscode(ctx context.Context, nonce, code string) (bool, error) {
	form := url.Values{
		"action":   {"validatePasscode"},
		"memberid": {c.cfg.MemberID},
		"passcode": {code},
		"security": {nonce},
	}

	status, body, duration, err := c.postForm(ctx, c.cfg.AjaxURL, form)
	if err != nil {
		c.monitor.LogAPICall(c.cfg.AjaxURL, "POST", status, duration, redactForm(form), err.Error())
		return false, fmt.Errorf("validate passcode: %w", err)
	}
	c.monitor.LogAPICall(c.cfg.AjaxURL, "POST", status, duration, redactForm(form), truncate(string(body), 200))

	var result struct {
		Status json.RawMessage `json:"status"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return false, fmt.Errorf("decode passcode validation response: %w", err)
	}
	raw := string(result.Status)
	return raw == "true" || raw == `"SUCCESS"`, nil
}

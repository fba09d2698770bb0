package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ResultKind tags a decoded API response. The portal signals session loss
// with sentinel payloads rather than status codes, so every call is decoded
// exactly once here and downstream logic switches on the tag.
type ResultKind int

const (
	ResultOK ResultKind = iota
	ResultSessionExpired
	ResultRemoteError
)

// CallResult is the decoded outcome of one portal API call.
type CallResult struct {
	Kind     ResultKind
	Data     json.RawMessage // valid when Kind == ResultOK
	Raw      string
	Status   int
	Duration time.Duration
}

// ErrSessionExpired is returned when a call still reports an expired session
// after the single re-authentication retry.
var ErrSessionExpired = fmt.Errorf("portal session expired")

// sessionExpired reports whether a response body is one of the portal's
// "not logged in" sentinels: a literal "0"/"-1" payload or a login redirect.
func sessionExpired(body string) bool {
	trimmed := strings.TrimSpace(body)
	if trimmed == `"0"` || trimmed == `"-1"` || trimmed == "0" || trimmed == "-1" {
		return true
	}
	return strings.Contains(trimmed, "login")
}

// CallAPI posts an AJAX action and decodes the sentinel protocol. On the
// first session-expiry signal it re-authenticates and retries the identical
// call exactly once; a second signal is terminal for this call.
func (c *Client) CallAPI(ctx context.Context, form url.Values) (*CallResult, error) {
	return c.callAPI(ctx, form, 0)
}

func (c *Client) callAPI(ctx context.Context, form url.Values, retryCount int) (*CallResult, error) {
	status, body, duration, err := c.postForm(ctx, c.cfg.AjaxURL, form)
	if err != nil {
		c.monitor.LogAPICall(c.cfg.AjaxURL, "POST", status, duration, redactForm(form), err.Error())
		return nil, err
	}

	raw := string(body)
	if sessionExpired(raw) {
		if retryCount > 0 {
			c.monitor.Log("error", "api call failed even after re-authentication", nil)
			return &CallResult{Kind: ResultSessionExpired, Raw: raw, Status: status, Duration: duration}, ErrSessionExpired
		}
		if c.reauth == nil {
			return &CallResult{Kind: ResultSessionExpired, Raw: raw, Status: status, Duration: duration}, ErrSessionExpired
		}

		c.monitor.Log("warning", "api call returned session-expired response, re-authenticating", nil)
		if err := c.reauth(ctx); err != nil {
			c.monitor.Log("error", "re-authentication failed", err.Error())
			return nil, fmt.Errorf("session expired and re-authentication failed: %w", err)
		}
		c.monitor.Log("info", "re-authentication successful, retrying api call", nil)
		return c.callAPI(ctx, form, retryCount+1)
	}

	c.monitor.LogAPICall(c.cfg.AjaxURL, "POST", status, duration, redactForm(form), truncate(raw, 200))

	if status < 200 || status >= 400 {
		return &CallResult{Kind: ResultRemoteError, Raw: raw, Status: status, Duration: duration},
			fmt.Errorf("portal returned status %d", status)
	}

	return &CallResult{
		Kind:     ResultOK,
		Data:     json.RawMessage(body),
		Raw:      raw,
		Status:   status,
		Duration: duration,
	}, nil
}

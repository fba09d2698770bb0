// Package portal is the HTTP client for the third-party booking portal. It
// owns the cookie jar, the anti-forgery nonce extraction, and the decoding of
// the portal's sentinel responses into tagged results.
package portal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Monitor is the observability sink the client reports into. Implementations
// must be best-effort; the client never checks for sink failures.
type Monitor interface {
	Log(level string, message string, details any)
	LogAPICall(url, method string, status int, duration time.Duration, payload, response any)
}

// Config holds portal connection settings.
type Config struct {
	BaseURL   string // landing page, nonce source
	AjaxURL   string // admin-ajax endpoint for all API actions
	BookURL   string // booking page with the region selector and calendars
	MemberID  string
	Password  string
	UserAgent string
	// MinRequestInterval paces every outbound call. The portal is hostile to
	// bursts, so the default keeps one request in flight at a time.
	MinRequestInterval time.Duration
}

// Client talks to the booking portal with an authenticated cookie session.
type Client struct {
	cfg        Config
	httpClient *http.Client
	jar        *cookiejar.Jar
	limiter    *rate.Limiter
	monitor    Monitor
	logger     *slog.Logger

	// reauth re-establishes the session when a call reports expiry. Set by
	// the composition root once the authenticator exists.
	reauth func(ctx context.Context) error
}

// NewClient creates a portal client with a fresh cookie jar.
func NewClient(cfg Config, monitor Monitor, logger *slog.Logger) (*Client, error) {
	if cfg.MinRequestInterval <= 0 {
		cfg.MinRequestInterval = time.Second
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
		jar:     jar,
		limiter: rate.NewLimiter(rate.Every(cfg.MinRequestInterval), 1),
		monitor: monitor,
		logger:  logger,
	}, nil
}

// SetReauth installs the re-authentication hook invoked on session expiry.
func (c *Client) SetReauth(fn func(ctx context.Context) error) {
	c.reauth = fn
}

// Cookies serializes the jar's cookies for the portal origin.
func (c *Client) Cookies() ([]string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	var out []string
	for _, ck := range c.jar.Cookies(u) {
		out = append(out, ck.Name+"="+ck.Value)
	}
	return out, nil
}

// RestoreCookies loads serialized "name=value" cookies into the jar,
// replacing whatever the jar held for the portal origin. Unparseable entries
// are skipped with a warning.
func (c *Client) RestoreCookies(cookies []string) (int, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return 0, fmt.Errorf("parse base url: %w", err)
	}
	var restored []*http.Cookie
	for _, raw := range cookies {
		name, value, ok := strings.Cut(strings.TrimSpace(raw), "=")
		if !ok || name == "" {
			c.logger.Warn("skipping unparseable cookie", "cookie", truncate(raw, 40))
			continue
		}
		// Only the first attribute matters; drop Path/Domain/etc.
		if i := strings.IndexByte(value, ';'); i >= 0 {
			value = value[:i]
		}
		restored = append(restored, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	c.jar.SetCookies(u, restored)
	return len(restored), nil
}

// get issues a rate-limited GET and returns the body.
func (c *Client) get(ctx context.Context, rawURL string) (int, []byte, time.Duration, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, 0, err
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("create request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		return 0, nil, duration, fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, duration, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, duration, nil
}

// postForm issues a rate-limited form POST and returns the raw body. No
// sentinel interpretation happens here; CallAPI layers that on top.
func (c *Client) postForm(ctx context.Context, rawURL string, form url.Values) (int, []byte, time.Duration, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, 0, err
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		return 0, nil, duration, fmt.Errorf("post %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, duration, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, duration, nil
}

// redactForm strips credential fields before a payload reaches the monitor.
func redactForm(form url.Values) map[string]string {
	out := make(map[string]string, len(form))
	for k := range form {
		switch k {
		case "memberid", "password", "passcode":
			out[k] = "***"
		default:
			out[k] = form.Get(k)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

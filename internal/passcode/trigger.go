package passcode

import (
	"context"
	"fmt"
	"net/http"
)

// Trigger tells the external automation endpoint to start watching a delivery
// channel (an inbox) for an incoming passcode. The watcher pushes the code
// back through the delivery webhook.
type Trigger struct {
	url        string
	httpClient *http.Client
}

type TriggerOption func(*Trigger)

func WithHTTPClient(c *http.Client) TriggerOption {
	return func(t *Trigger) {
		t.httpClient = c
	}
}

func NewTrigger(url string, opts ...TriggerOption) *Trigger {
	t := &Trigger{
		url:        url,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Configured returns true if a trigger endpoint is set.
func (t *Trigger) Configured() bool {
	return t.url != ""
}

// Start fires the monitoring trigger for a session/contact pair.
func (t *Trigger) Start(ctx context.Context, sessionID int64, email string) error {
	if !t.Configured() {
		return fmt.Errorf("monitoring trigger not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("trigger monitoring for session %d: %w", sessionID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("monitoring trigger returned %s", resp.Status)
	}
	return nil
}

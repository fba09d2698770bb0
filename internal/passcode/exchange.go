// Package passcode implements the 2FA verification flow: a verification
// record per challenge, an outbound monitoring trigger, and a bounded poll
// for the out-of-band code to arrive through the delivery webhook.
package passcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/resortwatch/internal/model"
	"github.com/dukerupert/resortwatch/internal/store"
)

const (
	// SessionTTL bounds how long a verification attempt may stay open.
	SessionTTL = 10 * time.Minute
	// pollInterval is how often AwaitCode re-reads the session record.
	pollInterval = 2 * time.Second
)

// CodeRequester asks the remote portal to send a fresh code.
type CodeRequester interface {
	RequestPasscode(ctx context.Context, nonce, contactHash string) error
}

// Exchange drives passcode sessions through their state machine. Only one
// 2FA flow should be in flight at a time; the webhook's most-recent-awaiting
// resolution is racy under concurrent flows.
type Exchange struct {
	sessions *store.PasscodeSessionStore
	remote   CodeRequester
	trigger  *Trigger
	logger   *slog.Logger
}

func NewExchange(sessions *store.PasscodeSessionStore, remote CodeRequester, trigger *Trigger, logger *slog.Logger) *Exchange {
	return &Exchange{
		sessions: sessions,
		remote:   remote,
		trigger:  trigger,
		logger:   logger,
	}
}

// CreateSession opens a verification attempt in awaiting_code state.
func (e *Exchange) CreateSession(category string, contacts *model.ContactOptions) (*model.PasscodeSession, error) {
	sess, err := e.sessions.Create(category, contacts, SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("create verification session: %w", err)
	}
	e.logger.Info("created passcode session", "id", sess.ID, "category", category)
	return sess, nil
}

// RecoverContacts returns contact options from the most recent session of the
// category. The portal omits the contact payload when a passcode is already
// active; a previous session row is the only place left to find it.
func (e *Exchange) RecoverContacts(category string) (*model.ContactOptions, error) {
	prev, err := e.sessions.MostRecentWithContacts(category)
	if err != nil {
		return nil, err
	}
	if prev == nil || prev.ContactOptions == nil {
		return nil, fmt.Errorf("no contact options available for active passcode")
	}
	return prev.ContactOptions, nil
}

// RequestCode asks the portal to send a code to the first email option and
// starts delivery monitoring. With reuseActive the remote send is skipped —
// a code is already in flight — but monitoring still starts.
func (e *Exchange) RequestCode(ctx context.Context, sess *model.PasscodeSession, nonce string, reuseActive bool) error {
	if sess.ContactOptions == nil || len(sess.ContactOptions.Emails) == 0 {
		return fmt.Errorf("no email available for passcode request")
	}

	hashes := make([]string, 0, len(sess.ContactOptions.Emails))
	for h := range sess.ContactOptions.Emails {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	contactHash := hashes[0]
	email := sess.ContactOptions.Emails[contactHash]

	if reuseActive {
		e.logger.Info("reusing active passcode", "session", sess.ID, "email", email)
	} else {
		e.logger.Info("requesting passcode", "session", sess.ID, "email", email)
		if err := e.remote.RequestPasscode(ctx, nonce, contactHash); err != nil {
			return err
		}
	}

	if err := e.trigger.Start(ctx, sess.ID, email); err != nil {
		return fmt.Errorf("start delivery monitoring: %w", err)
	}
	return nil
}

var errCodePending = errors.New("code not yet delivered")

// ErrNoAwaitingSession is returned by DeliverCode when nothing is waiting
// for a code. Deliveries can race session expiry, so callers treat this as
// a conflict rather than a failure.
var ErrNoAwaitingSession = errors.New("no session awaiting a passcode")

// AwaitCode polls the session until a code arrives or the wait ends. The wait
// is bounded by the caller's timeout and the session's own expiry, whichever
// comes first, and by ctx cancellation. On any failure the session is marked
// failed and an empty code is returned.
func (e *Exchange) AwaitCode(ctx context.Context, sessionID int64, timeout time.Duration) (string, error) {
	var code string

	backoff := retry.WithMaxDuration(timeout, retry.NewConstant(pollInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		sess, err := e.sessions.Get(sessionID)
		if err != nil {
			return err
		}
		if sess == nil {
			return fmt.Errorf("passcode session %d not found", sessionID)
		}
		if sess.Code != "" {
			code = sess.Code
			return nil
		}
		if sess.Status == model.PasscodeStatusFailed {
			return fmt.Errorf("passcode session %d failed", sessionID)
		}
		if time.Now().UTC().After(sess.ExpiresAt) {
			return fmt.Errorf("passcode session %d expired", sessionID)
		}
		return retry.RetryableError(errCodePending)
	})
	if err != nil {
		if markErr := e.sessions.MarkFailed(sessionID); markErr != nil {
			e.logger.Error("mark passcode session failed", "id", sessionID, "error", markErr)
		}
		if errors.Is(err, errCodePending) {
			return "", fmt.Errorf("timeout waiting for passcode on session %d", sessionID)
		}
		return "", err
	}

	e.logger.Info("passcode received", "session", sessionID)
	return code, nil
}

// DeliverCode is the webhook entry point. A zero sessionID resolves to the
// most recently created session still awaiting a code. Delivery to a session
// not awaiting a code, or past expiry, is rejected.
func (e *Exchange) DeliverCode(sessionID int64, code string) (bool, error) {
	if sessionID == 0 {
		sess, err := e.sessions.MostRecentAwaiting()
		if err != nil {
			return false, err
		}
		if sess == nil {
			return false, ErrNoAwaitingSession
		}
		sessionID = sess.ID
	}

	stored, err := e.sessions.StoreCode(sessionID, code)
	if err != nil {
		return false, err
	}
	if !stored {
		e.logger.Warn("rejected passcode delivery", "session", sessionID)
		return false, nil
	}
	e.logger.Info("stored passcode", "session", sessionID)
	return true, nil
}

// PurgeExpired removes verification records past their expiry.
func (e *Exchange) PurgeExpired() error {
	n, err := e.sessions.PurgeExpired()
	if err != nil {
		return err
	}
	if n > 0 {
		e.logger.Info("purged expired passcode sessions", "count", n)
	}
	return nil
}

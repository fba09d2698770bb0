// Package auth establishes and maintains the portal login session: stored
// session rehydration, credential login, and the 2FA passcode flow.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/resortwatch/internal/model"
	"github.com/dukerupert/resortwatch/internal/passcode"
	"github.com/dukerupert/resortwatch/internal/portal"
	"github.com/dukerupert/resortwatch/internal/store"
)

// PasscodeWait bounds how long one verification step may take. Exceeding it
// fails the whole authentication attempt; the caller may retry later.
const PasscodeWait = 5 * time.Minute

// Monitor is the subset of the observability sink the authenticator uses.
type Monitor interface {
	Log(level string, message string, details any)
}

// Authenticator owns the single portal session. It is constructed once by
// the composition root and shared by reference; concurrent crawl branches
// may trigger redundant re-authentication, which is tolerated because the
// login endpoint is idempotent per credentials (last writer wins).
type Authenticator struct {
	client    *portal.Client
	sessions  *store.AuthSessionStore
	exchange  *passcode.Exchange
	monitor   Monitor
	logger    *slog.Logger
	userAgent string
}

func NewAuthenticator(client *portal.Client, sessions *store.AuthSessionStore, exchange *passcode.Exchange, monitor Monitor, userAgent string, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		client:    client,
		sessions:  sessions,
		exchange:  exchange,
		monitor:   monitor,
		logger:    logger,
		userAgent: userAgent,
	}
}

// EnsureAuthenticated makes the portal client hold a working session. A
// stored valid session is rehydrated without any login traffic; otherwise a
// full credential login runs, including the passcode flow when challenged.
func (a *Authenticator) EnsureAuthenticated(ctx context.Context) error {
	restored, err := a.restoreStoredSession()
	if err != nil {
		// Fail closed: a broken session store means full re-authentication,
		// never reuse of a possibly corrupt session.
		a.logger.Error("session store error, forcing fresh login", "error", err)
	}
	if restored {
		a.monitor.Log("success", "using existing valid authentication session", nil)
		return nil
	}

	a.monitor.Log("info", "no valid session found, performing authentication", nil)

	nonce, err := a.client.SecurityNonce(ctx)
	if err != nil {
		return fmt.Errorf("fetch security nonce: %w", err)
	}

	login, err := a.client.Login(ctx, nonce)
	if err != nil {
		return fmt.Errorf("credential login: %w", err)
	}

	switch login.Status {
	case portal.LoginSuccess:
		if err := a.persistSession(); err != nil {
			return err
		}
		a.monitor.Log("success", "authentication successful, session saved", nil)
		return nil

	case portal.LoginPasscodeRequired, portal.LoginPasscodeRequiredActive:
		reuseActive := login.Status == portal.LoginPasscodeRequiredActive
		a.monitor.Log("warning", "2FA required, handling passcode flow", map[string]any{"active": reuseActive})

		if err := a.completePasscodeFlow(ctx, login, nonce, reuseActive); err != nil {
			return err
		}
		if err := a.persistSession(); err != nil {
			return err
		}
		a.monitor.Log("success", "2FA authentication successful, session saved", nil)
		return nil

	default:
		a.monitor.Log("error", "authentication failed", login.Status)
		return fmt.Errorf("login rejected with status %q", login.Status)
	}
}

// Reauthenticate discards the stored session and performs a fresh login.
// The portal client calls this when a response signals mid-crawl expiry, so
// the stale session must not be rehydrated.
func (a *Authenticator) Reauthenticate(ctx context.Context) error {
	a.monitor.Log("warning", "session expired, re-authenticating", nil)
	if err := a.sessions.Invalidate(); err != nil {
		a.logger.Error("invalidating expired session", "error", err)
	}
	return a.EnsureAuthenticated(ctx)
}

// restoreStoredSession binds a stored valid session to the client's cookie
// jar. Returns false when no usable session exists.
func (a *Authenticator) restoreStoredSession() (bool, error) {
	sess, err := a.sessions.LoadValid()
	if err != nil {
		return false, err
	}
	if sess == nil {
		a.logger.Info("no existing auth session")
		return false, nil
	}

	var cookies []string
	if err := decodeCookies(sess.Cookies, &cookies); err != nil {
		a.logger.Warn("failed to parse stored cookies", "error", err)
		if invErr := a.sessions.Invalidate(); invErr != nil {
			a.logger.Error("invalidate session", "error", invErr)
		}
		return false, nil
	}

	n, err := a.client.RestoreCookies(cookies)
	if err != nil || n == 0 {
		a.logger.Warn("session found but no usable cookies", "restored", n, "error", err)
		if invErr := a.sessions.Invalidate(); invErr != nil {
			a.logger.Error("invalidate session", "error", invErr)
		}
		return false, nil
	}

	if err := a.sessions.Touch(); err != nil {
		a.logger.Error("touch session", "error", err)
	}
	a.logger.Info("restored auth session",
		"cookies", n, "expires_in", time.Until(sess.ExpiresAt).Round(time.Minute))
	return true, nil
}

// completePasscodeFlow runs the 2FA sub-flow: create a verification session,
// request (or reuse) the code, wait for delivery, and validate it.
func (a *Authenticator) completePasscodeFlow(ctx context.Context, login *portal.LoginResponse, nonce string, reuseActive bool) error {
	contacts := contactOptions(login.PasscodeData)
	if contacts == nil && reuseActive {
		// Active-passcode responses may omit the contact payload entirely.
		recovered, err := a.exchange.RecoverContacts("auth")
		if err != nil {
			return fmt.Errorf("recover contact options: %w", err)
		}
		contacts = recovered
		a.monitor.Log("info", "recovered passcode contacts from a previous session", nil)
	}
	if contacts == nil {
		return fmt.Errorf("login response carried no passcode contact options")
	}

	sess, err := a.exchange.CreateSession("auth", contacts)
	if err != nil {
		return err
	}

	if err := a.exchange.RequestCode(ctx, sess, nonce, reuseActive); err != nil {
		return fmt.Errorf("request passcode: %w", err)
	}
	a.monitor.Log("info", "passcode requested, waiting for delivery", nil)

	code, err := a.exchange.AwaitCode(ctx, sess.ID, PasscodeWait)
	if err != nil {
		a.monitor.Log("error", "failed to receive passcode within timeout", nil)
		return err
	}
	a.monitor.Log("success", "passcode received, completing authentication", nil)

	ok, err := a.client.ValidatePasscode(ctx, nonce, code)
	if err != nil {
		return fmt.Errorf("passcode validation: %w", err)
	}
	if !ok {
		a.monitor.Log("error", "passcode verification rejected", nil)
		return fmt.Errorf("passcode verification rejected")
	}
	return nil
}

// persistSession snapshots the client's cookie jar into the session slot.
func (a *Authenticator) persistSession() error {
	cookies, err := a.client.Cookies()
	if err != nil {
		return fmt.Errorf("serialize cookies: %w", err)
	}
	if _, err := a.sessions.Save(cookies, a.userAgent); err != nil {
		return err
	}
	a.logger.Info("auth session saved", "expires_in", store.SessionTTL)
	return nil
}

func contactOptions(pd *portal.PasscodeData) *model.ContactOptions {
	if pd == nil || (len(pd.Emails) == 0 && len(pd.Phones) == 0) {
		return nil
	}
	return &model.ContactOptions{Emails: pd.Emails, Phones: pd.Phones}
}

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/resortwatch/internal/model"
)

// SessionID is the fixed key of the single portal auth session slot.
const SessionID = "portal-auth"

// SessionTTL is how long a freshly saved session stays usable.
const SessionTTL = 24 * time.Hour

type AuthSessionStore struct {
	db *sql.DB
}

func NewAuthSessionStore(db *sql.DB) *AuthSessionStore {
	return &AuthSessionStore{db: db}
}

func scanAuthSession(scanner interface{ Scan(...any) error }) (*model.AuthSession, error) {
	var s model.AuthSession
	var userAgent sql.NullString
	var isValid int
	err := scanner.Scan(
		&s.ID, &s.Cookies, &s.ExpiresAt, &s.CreatedAt, &s.LastUsedAt, &isValid, &userAgent,
	)
	if err != nil {
		return nil, err
	}
	s.IsValid = isValid != 0
	s.UserAgent = userAgent.String
	return &s, nil
}

const authSessionCols = `id, cookies, expires_at, created_at, last_used_at, is_valid, user_agent`

// LoadValid returns the stored session only if it is flagged valid and its
// expiry is strictly in the future. An expired or invalid row is invalidated
// as a side effect so it can never be reused.
func (s *AuthSessionStore) LoadValid() (*model.AuthSession, error) {
	row := s.db.QueryRow(`SELECT `+authSessionCols+` FROM auth_sessions WHERE id = ?`, SessionID)
	sess, err := scanAuthSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load auth session: %w", err)
	}

	if !sess.IsValid || !sess.ExpiresAt.After(time.Now().UTC()) {
		if err := s.Invalidate(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return sess, nil
}

// Save overwrites the session slot with a new cookie set, a fresh TTL, and
// the valid flag set. The slot is a single logical row.
func (s *AuthSessionStore) Save(cookies []string, userAgent string) (*model.AuthSession, error) {
	cookieJSON, err := json.Marshal(cookies)
	if err != nil {
		return nil, fmt.Errorf("marshal cookies: %w", err)
	}

	now := time.Now().UTC()
	expiresAt := now.Add(SessionTTL)

	_, err = s.db.Exec(
		`INSERT INTO auth_sessions (id, cookies, expires_at, created_at, last_used_at, is_valid, user_agent)
		 VALUES (?, ?, ?, ?, ?, 1, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   cookies = excluded.cookies,
		   expires_at = excluded.expires_at,
		   created_at = excluded.created_at,
		   last_used_at = excluded.last_used_at,
		   is_valid = 1,
		   user_agent = excluded.user_agent`,
		SessionID, string(cookieJSON), expiresAt, now, now, userAgent,
	)
	if err != nil {
		return nil, fmt.Errorf("save auth session: %w", err)
	}

	row := s.db.QueryRow(`SELECT `+authSessionCols+` FROM auth_sessions WHERE id = ?`, SessionID)
	return scanAuthSession(row)
}

// Touch updates the last-used timestamp without altering validity or expiry.
func (s *AuthSessionStore) Touch() error {
	_, err := s.db.Exec(
		`UPDATE auth_sessions SET last_used_at = ? WHERE id = ?`,
		time.Now().UTC(), SessionID,
	)
	if err != nil {
		return fmt.Errorf("touch auth session: %w", err)
	}
	return nil
}

// Invalidate clears the valid flag. The row is kept for auditability.
func (s *AuthSessionStore) Invalidate() error {
	_, err := s.db.Exec(
		`UPDATE auth_sessions SET is_valid = 0 WHERE id = ?`, SessionID,
	)
	if err != nil {
		return fmt.Errorf("invalidate auth session: %w", err)
	}
	return nil
}

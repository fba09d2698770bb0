package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/resortwatch/internal/model"
)

type PasscodeSessionStore struct {
	db *sql.DB
}

func NewPasscodeSessionStore(db *sql.DB) *PasscodeSessionStore {
	return &PasscodeSessionStore{db: db}
}

func scanPasscodeSession(scanner interface{ Scan(...any) error }) (*model.PasscodeSession, error) {
	var ps model.PasscodeSession
	var status string
	var contacts, code sql.NullString
	err := scanner.Scan(
		&ps.ID, &ps.Category, &status, &contacts, &code, &ps.CreatedAt, &ps.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	ps.Status = model.PasscodeStatus(status)
	ps.Code = code.String
	if contacts.Valid && contacts.String != "" {
		var co model.ContactOptions
		if err := json.Unmarshal([]byte(contacts.String), &co); err != nil {
			return nil, fmt.Errorf("decode contact options: %w", err)
		}
		ps.ContactOptions = &co
	}
	return &ps, nil
}

const passcodeSessionCols = `id, category, status, contact_options, code, created_at, expires_at`

// Create inserts a new verification attempt in awaiting_code state.
func (s *PasscodeSessionStore) Create(category string, contacts *model.ContactOptions, ttl time.Duration) (*model.PasscodeSession, error) {
	var contactJSON sql.NullString
	if contacts != nil {
		b, err := json.Marshal(contacts)
		if err != nil {
			return nil, fmt.Errorf("marshal contact options: %w", err)
		}
		contactJSON = sql.NullString{String: string(b), Valid: true}
	}

	now := time.Now().UTC()
	result, err := s.db.Exec(
		`INSERT INTO passcode_sessions (category, status, contact_options, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		category, string(model.PasscodeStatusAwaiting), contactJSON, now, now.Add(ttl),
	)
	if err != nil {
		return nil, fmt.Errorf("insert passcode session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.Get(id)
}

// Get returns the session by id, or nil if not found.
func (s *PasscodeSessionStore) Get(id int64) (*model.PasscodeSession, error) {
	row := s.db.QueryRow(`SELECT `+passcodeSessionCols+` FROM passcode_sessions WHERE id = ?`, id)
	ps, err := scanPasscodeSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get passcode session: %w", err)
	}
	return ps, nil
}

// MarkFailed transitions the session to failed unless it is already terminal.
func (s *PasscodeSessionStore) MarkFailed(id int64) error {
	_, err := s.db.Exec(
		`UPDATE passcode_sessions SET status = ?
		 WHERE id = ? AND status NOT IN (?, ?)`,
		string(model.PasscodeStatusFailed), id,
		string(model.PasscodeStatusComplete), string(model.PasscodeStatusFailed),
	)
	if err != nil {
		return fmt.Errorf("mark passcode session failed: %w", err)
	}
	return nil
}

// StoreCode records the delivered code and completes the session. It refuses
// delivery to a session that is not awaiting a code or is past its expiry.
func (s *PasscodeSessionStore) StoreCode(id int64, code string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE passcode_sessions SET code = ?, status = ?
		 WHERE id = ? AND status = ? AND expires_at > ?`,
		code, string(model.PasscodeStatusComplete),
		id, string(model.PasscodeStatusAwaiting), time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("store passcode: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// MostRecentAwaiting returns the newest session still awaiting a code, or nil.
// Used by the delivery webhook when no explicit session id is supplied; this
// resolution assumes at most one 2FA flow is in flight.
func (s *PasscodeSessionStore) MostRecentAwaiting() (*model.PasscodeSession, error) {
	row := s.db.QueryRow(
		`SELECT `+passcodeSessionCols+` FROM passcode_sessions
		 WHERE status = ? AND expires_at > ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		string(model.PasscodeStatusAwaiting), time.Now().UTC(),
	)
	ps, err := scanPasscodeSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("most recent awaiting session: %w", err)
	}
	return ps, nil
}

// MostRecentWithContacts returns the newest session of the category that
// captured contact options. The portal omits the contact payload when a
// passcode is already active, so the options are recovered from history.
func (s *PasscodeSessionStore) MostRecentWithContacts(category string) (*model.PasscodeSession, error) {
	row := s.db.QueryRow(
		`SELECT `+passcodeSessionCols+` FROM passcode_sessions
		 WHERE category = ? AND contact_options IS NOT NULL
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		category,
	)
	ps, err := scanPasscodeSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("most recent session with contacts: %w", err)
	}
	return ps, nil
}

// PurgeExpired deletes sessions past their expiry.
func (s *PasscodeSessionStore) PurgeExpired() (int64, error) {
	result, err := s.db.Exec(
		`DELETE FROM passcode_sessions WHERE expires_at < ?`, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("purge passcode sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

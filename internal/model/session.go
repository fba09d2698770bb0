package model

import "time"

// AuthSession is the single persisted portal login session. There is at most
// one authoritative valid session at a time, keyed by a fixed id.
type AuthSession struct {
	ID         string    `json:"id"`
	Cookies    string    `json:"cookies"` // JSON-encoded Set-Cookie strings
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	IsValid    bool      `json:"is_valid"`
	UserAgent  string    `json:"user_agent"`
}

// PasscodeStatus is the lifecycle state of a 2FA verification attempt.
// Transitions move forward only; completed and failed are terminal.
type PasscodeStatus string

const (
	PasscodeStatusPending  PasscodeStatus = "pending"
	PasscodeStatusAwaiting PasscodeStatus = "awaiting_code"
	PasscodeStatusComplete PasscodeStatus = "completed"
	PasscodeStatusFailed   PasscodeStatus = "failed"
)

// Terminal reports whether the status accepts no further transitions.
func (s PasscodeStatus) Terminal() bool {
	return s == PasscodeStatusComplete || s == PasscodeStatusFailed
}

// ContactOptions holds the masked delivery channels the portal offers for a
// passcode challenge, keyed by the portal's opaque contact hash.
type ContactOptions struct {
	Emails map[string]string `json:"emails,omitempty"`
	Phones map[string]string `json:"phones,omitempty"`
}

// PasscodeSession is one 2FA verification attempt.
type PasscodeSession struct {
	ID             int64           `json:"id"`
	Category       string          `json:"category"`
	Status         PasscodeStatus  `json:"status"`
	ContactOptions *ContactOptions `json:"contact_options,omitempty"`
	Code           string          `json:"code,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

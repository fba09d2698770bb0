package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/dukerupert/resortwatch/internal/database"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAuthSessionSaveLoadRoundTrip(t *testing.T) {
	s := NewAuthSessionStore(setupTestDB(t))

	cookies := []string{"wordpress_logged_in=abc123", "whpp_token=xyz"}
	saved, err := s.Save(cookies, "test-agent")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.ID != SessionID {
		t.Errorf("id = %q, want %q", saved.ID, SessionID)
	}
	if !saved.IsValid {
		t.Error("saved session should be valid")
	}
	wantExpiry := time.Now().UTC().Add(SessionTTL)
	if diff := saved.ExpiresAt.Sub(wantExpiry); diff < -time.Minute || diff > time.Minute {
		t.Errorf("expiry %v not ~24h out", saved.ExpiresAt)
	}

	loaded, err := s.LoadValid()
	if err != nil {
		t.Fatalf("LoadValid: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a session")
	}
	if loaded.Cookies != saved.Cookies {
		t.Errorf("cookies = %q, want %q", loaded.Cookies, saved.Cookies)
	}
	if loaded.UserAgent != "test-agent" {
		t.Errorf("user agent = %q", loaded.UserAgent)
	}
}

func TestAuthSessionLoadValidEmpty(t *testing.T) {
	s := NewAuthSessionStore(setupTestDB(t))

	sess, err := s.LoadValid()
	if err != nil {
		t.Fatalf("LoadValid: %v", err)
	}
	if sess != nil {
		t.Errorf("expected nil session, got %+v", sess)
	}
}

func TestAuthSessionSaveOverwritesSlot(t *testing.T) {
	s := NewAuthSessionStore(setupTestDB(t))

	if _, err := s.Save([]string{"first=1"}, "agent-a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save([]string{"second=2"}, "agent-b"); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadValid()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Cookies != `["second=2"]` {
		t.Errorf("cookies = %q, want overwrite", loaded.Cookies)
	}

	var count int
	db := s.db
	if err := db.QueryRow(`SELECT COUNT(*) FROM auth_sessions`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1 (single slot)", count)
	}
}

func TestAuthSessionExpiredIsInvalidatedOnLoad(t *testing.T) {
	db := setupTestDB(t)
	s := NewAuthSessionStore(db)

	if _, err := s.Save([]string{"c=1"}, ""); err != nil {
		t.Fatal(err)
	}
	// Force the session into the past
	if _, err := db.Exec(`UPDATE auth_sessions SET expires_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour), SessionID); err != nil {
		t.Fatal(err)
	}

	sess, err := s.LoadValid()
	if err != nil {
		t.Fatalf("LoadValid: %v", err)
	}
	if sess != nil {
		t.Fatal("expired session must not be returned")
	}

	// Side effect: the row is now flagged invalid, but kept
	var isValid int
	if err := db.QueryRow(`SELECT is_valid FROM auth_sessions WHERE id = ?`, SessionID).Scan(&isValid); err != nil {
		t.Fatal(err)
	}
	if isValid != 0 {
		t.Error("expired session should be flagged invalid")
	}
}

func TestAuthSessionInvalidatedNotReturned(t *testing.T) {
	s := NewAuthSessionStore(setupTestDB(t))

	if _, err := s.Save([]string{"c=1"}, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Invalidate(); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	sess, err := s.LoadValid()
	if err != nil {
		t.Fatal(err)
	}
	if sess != nil {
		t.Error("invalidated session must not be returned")
	}
}

func TestAuthSessionTouch(t *testing.T) {
	s := NewAuthSessionStore(setupTestDB(t))

	saved, err := s.Save([]string{"c=1"}, "")
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := s.Touch(); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	loaded, err := s.LoadValid()
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.LastUsedAt.After(saved.LastUsedAt) {
		t.Error("touch should bump last_used_at")
	}
	if !loaded.ExpiresAt.Equal(saved.ExpiresAt) {
		t.Error("touch must not alter expiry")
	}
}

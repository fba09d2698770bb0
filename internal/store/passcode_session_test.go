package store

import (
	"testing"
	"time"

	"github.com/dukerupert/resortwatch/internal/model"
)

func testContacts() *model.ContactOptions {
	return &model.ContactOptions{
		Emails: map[string]string{"a1b2c3": "j***@example.com"},
		Phones: map[string]string{},
	}
}

func TestPasscodeSessionCreate(t *testing.T) {
	s := NewPasscodeSessionStore(setupTestDB(t))

	sess, err := s.Create("auth", testContacts(), 10*time.Minute)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Status != model.PasscodeStatusAwaiting {
		t.Errorf("status = %q, want awaiting_code", sess.Status)
	}
	if sess.ContactOptions == nil || sess.ContactOptions.Emails["a1b2c3"] != "j***@example.com" {
		t.Errorf("contact options not round-tripped: %+v", sess.ContactOptions)
	}
	if !sess.ExpiresAt.After(time.Now().UTC().Add(9 * time.Minute)) {
		t.Errorf("expiry %v not ~10 min out", sess.ExpiresAt)
	}
}

func TestPasscodeStoreCodeCompletes(t *testing.T) {
	s := NewPasscodeSessionStore(setupTestDB(t))

	sess, err := s.Create("auth", testContacts(), 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := s.StoreCode(sess.ID, "123456")
	if err != nil {
		t.Fatalf("StoreCode: %v", err)
	}
	if !ok {
		t.Fatal("delivery to awaiting session should succeed")
	}

	got, err := s.Get(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.PasscodeStatusComplete {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.Code != "123456" {
		t.Errorf("code = %q", got.Code)
	}
}

func TestPasscodeTerminalStatesAbsorbing(t *testing.T) {
	s := NewPasscodeSessionStore(setupTestDB(t))

	// Completed session rejects further transitions
	completed, _ := s.Create("auth", nil, 10*time.Minute)
	if _, err := s.StoreCode(completed.ID, "111111"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.StoreCode(completed.ID, "222222"); ok {
		t.Error("second delivery to completed session should be rejected")
	}
	if err := s.MarkFailed(completed.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(completed.ID)
	if got.Status != model.PasscodeStatusComplete || got.Code != "111111" {
		t.Errorf("completed session mutated: %+v", got)
	}

	// Failed session rejects delivery
	failed, _ := s.Create("auth", nil, 10*time.Minute)
	if err := s.MarkFailed(failed.ID); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.StoreCode(failed.ID, "333333"); ok {
		t.Error("delivery to failed session should be rejected")
	}
	got, _ = s.Get(failed.ID)
	if got.Status != model.PasscodeStatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
}

func TestPasscodeExpiredRejectsLateCode(t *testing.T) {
	db := setupTestDB(t)
	s := NewPasscodeSessionStore(db)

	sess, _ := s.Create("auth", nil, 10*time.Minute)
	if _, err := db.Exec(`UPDATE passcode_sessions SET expires_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Minute), sess.ID); err != nil {
		t.Fatal(err)
	}

	ok, err := s.StoreCode(sess.ID, "123456")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expired session must never accept a late code")
	}
}

func TestPasscodeMostRecentAwaiting(t *testing.T) {
	s := NewPasscodeSessionStore(setupTestDB(t))

	older, _ := s.Create("auth", nil, 10*time.Minute)
	newer, _ := s.Create("auth", nil, 10*time.Minute)

	got, err := s.MostRecentAwaiting()
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != newer.ID {
		t.Fatalf("most recent = %+v, want id %d", got, newer.ID)
	}

	// Completing the newer one shifts resolution to the older
	if _, err := s.StoreCode(newer.ID, "123456"); err != nil {
		t.Fatal(err)
	}
	got, err = s.MostRecentAwaiting()
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != older.ID {
		t.Fatalf("most recent = %+v, want id %d", got, older.ID)
	}
}

func TestPasscodeMostRecentWithContacts(t *testing.T) {
	s := NewPasscodeSessionStore(setupTestDB(t))

	withContacts, _ := s.Create("auth", testContacts(), 10*time.Minute)
	s.Create("auth", nil, 10*time.Minute)

	got, err := s.MostRecentWithContacts("auth")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != withContacts.ID {
		t.Fatalf("got %+v, want session %d", got, withContacts.ID)
	}

	if got, _ := s.MostRecentWithContacts("other"); got != nil {
		t.Errorf("unexpected session for unknown category: %+v", got)
	}
}

func TestPasscodePurgeExpired(t *testing.T) {
	db := setupTestDB(t)
	s := NewPasscodeSessionStore(db)

	expired, _ := s.Create("auth", nil, 10*time.Minute)
	if _, err := db.Exec(`UPDATE passcode_sessions SET expires_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour), expired.ID); err != nil {
		t.Fatal(err)
	}
	live, _ := s.Create("auth", nil, 10*time.Minute)

	n, err := s.PurgeExpired()
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d rows, want 1", n)
	}
	if got, _ := s.Get(expired.ID); got != nil {
		t.Error("expired session should be deleted")
	}
	if got, _ := s.Get(live.ID); got == nil {
		t.Error("live session should survive purge")
	}
}

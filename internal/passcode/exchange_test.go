package passcode

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukerupert/resortwatch/internal/database"
	"github.com/dukerupert/resortwatch/internal/model"
	"github.com/dukerupert/resortwatch/internal/store"
)

type fakeRequester struct {
	calls atomic.Int32
	hash  string
	err   error
}

func (f *fakeRequester) RequestPasscode(ctx context.Context, nonce, contactHash string) error {
	f.calls.Add(1)
	f.hash = contactHash
	return f.err
}

func newTestExchange(t *testing.T, remote *fakeRequester, triggerURL string) (*Exchange, *store.PasscodeSessionStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sessions := store.NewPasscodeSessionStore(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewExchange(sessions, remote, NewTrigger(triggerURL), logger), sessions
}

func testContacts() *model.ContactOptions {
	return &model.ContactOptions{
		Emails: map[string]string{
			"hash-b": "b***@example.com",
			"hash-a": "a***@example.com",
		},
	}
}

func TestRequestCodeSendsToFirstEmail(t *testing.T) {
	var triggered atomic.Int32
	triggerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		triggered.Add(1)
	}))
	defer triggerSrv.Close()

	remote := &fakeRequester{}
	e, _ := newTestExchange(t, remote, triggerSrv.URL)

	sess, err := e.CreateSession("login", testContacts())
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if err := e.RequestCode(context.Background(), sess, "nonce", false); err != nil {
		t.Fatalf("RequestCode() error = %v", err)
	}
	if remote.calls.Load() != 1 {
		t.Errorf("remote calls = %d, want 1", remote.calls.Load())
	}
	// Hashes are sent in sorted order so retries hit the same contact.
	if remote.hash != "hash-a" {
		t.Errorf("contact hash = %q, want hash-a", remote.hash)
	}
	if triggered.Load() != 1 {
		t.Errorf("trigger calls = %d, want 1", triggered.Load())
	}
}

func TestRequestCodeReuseActiveSkipsRemoteSend(t *testing.T) {
	var triggered atomic.Int32
	triggerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		triggered.Add(1)
	}))
	defer triggerSrv.Close()

	remote := &fakeRequester{}
	e, _ := newTestExchange(t, remote, triggerSrv.URL)

	sess, err := e.CreateSession("login", testContacts())
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if err := e.RequestCode(context.Background(), sess, "nonce", true); err != nil {
		t.Fatalf("RequestCode() error = %v", err)
	}
	if remote.calls.Load() != 0 {
		t.Errorf("remote calls = %d, want 0 when reusing an active code", remote.calls.Load())
	}
	if triggered.Load() != 1 {
		t.Errorf("trigger calls = %d, want 1", triggered.Load())
	}
}

func TestRequestCodeWithoutEmail(t *testing.T) {
	e, _ := newTestExchange(t, &fakeRequester{}, "")

	sess, err := e.CreateSession("login", &model.ContactOptions{Phones: map[string]string{"h": "***1234"}})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if err := e.RequestCode(context.Background(), sess, "nonce", false); err == nil {
		t.Fatal("expected error when no email option exists")
	}
}

func TestAwaitCodeReturnsDeliveredCode(t *testing.T) {
	e, _ := newTestExchange(t, &fakeRequester{}, "")

	sess, err := e.CreateSession("login", testContacts())
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	// Resolves via most-recent-awaiting, the external watcher never knows
	// the session id.
	stored, err := e.DeliverCode(0, "482913")
	if err != nil {
		t.Fatalf("DeliverCode() error = %v", err)
	}
	if !stored {
		t.Fatal("DeliverCode() rejected delivery")
	}

	code, err := e.AwaitCode(context.Background(), sess.ID, 5*time.Second)
	if err != nil {
		t.Fatalf("AwaitCode() error = %v", err)
	}
	if code != "482913" {
		t.Errorf("code = %q, want 482913", code)
	}
}

func TestAwaitCodeTimeoutMarksFailed(t *testing.T) {
	e, sessions := newTestExchange(t, &fakeRequester{}, "")

	sess, err := e.CreateSession("login", testContacts())
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	_, err = e.AwaitCode(context.Background(), sess.ID, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("error = %v, want timeout", err)
	}

	got, err := sessions.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != model.PasscodeStatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
}

func TestAwaitCodeFailedSessionStopsWait(t *testing.T) {
	e, sessions := newTestExchange(t, &fakeRequester{}, "")

	sess, err := e.CreateSession("login", testContacts())
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := sessions.MarkFailed(sess.ID); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	start := time.Now()
	_, err = e.AwaitCode(context.Background(), sess.ID, 30*time.Second)
	if err == nil {
		t.Fatal("expected error for failed session")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("wait did not terminate promptly: %v", elapsed)
	}
}

func TestDeliverCodeRejectsCompletedSession(t *testing.T) {
	e, _ := newTestExchange(t, &fakeRequester{}, "")

	sess, err := e.CreateSession("login", testContacts())
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if stored, err := e.DeliverCode(sess.ID, "111111"); err != nil || !stored {
		t.Fatalf("first delivery: stored=%v err=%v", stored, err)
	}
	stored, err := e.DeliverCode(sess.ID, "222222")
	if err != nil {
		t.Fatalf("second delivery error = %v", err)
	}
	if stored {
		t.Error("second delivery to a completed session was accepted")
	}
}

func TestDeliverCodeNoAwaitingSession(t *testing.T) {
	e, _ := newTestExchange(t, &fakeRequester{}, "")

	if _, err := e.DeliverCode(0, "482913"); err == nil {
		t.Fatal("expected error when nothing awaits a code")
	}
}

func TestRecoverContacts(t *testing.T) {
	e, _ := newTestExchange(t, &fakeRequester{}, "")

	if _, err := e.RecoverContacts("login"); err == nil {
		t.Fatal("expected error with no prior sessions")
	}

	if _, err := e.CreateSession("login", testContacts()); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	contacts, err := e.RecoverContacts("login")
	if err != nil {
		t.Fatalf("RecoverContacts() error = %v", err)
	}
	if contacts.Emails["hash-a"] != "a***@example.com" {
		t.Errorf("contacts = %+v", contacts)
	}
}

func TestPurgeExpired(t *testing.T) {
	e, sessions := newTestExchange(t, &fakeRequester{}, "")

	if _, err := sessions.Create("login", testContacts(), -time.Minute); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	live, err := e.CreateSession("login", testContacts())
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if err := e.PurgeExpired(); err != nil {
		t.Fatalf("PurgeExpired() error = %v", err)
	}

	got, err := sessions.Get(live.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Error("live session was purged")
	}
}

package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/resortwatch/internal/database"
	"github.com/dukerupert/resortwatch/internal/monitor"
	"github.com/dukerupert/resortwatch/internal/passcode"
	"github.com/dukerupert/resortwatch/internal/scheduler"
	"github.com/dukerupert/resortwatch/internal/store"
	ws "github.com/dukerupert/resortwatch/internal/websocket"
)

func newTestServer(t *testing.T, adminSecret string) *Server {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := scheduler.New(
		store.NewResortStore(db),
		store.NewRoomStore(db),
		store.NewAvailabilityStore(db),
		scheduler.DefaultIntervals(), logger)
	exchange := passcode.NewExchange(
		store.NewPasscodeSessionStore(db), nil, passcode.NewTrigger(""), logger)
	return New(ws.NewHub(logger), monitor.New(nil, logger), exchange, nil, sched, adminSecret, logger)
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestServer(t, "secret").Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestAdminRoutesRequireSecret(t *testing.T) {
	router := newTestServer(t, "topsecret").Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scraping-status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without token: status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/scraping-status", nil)
	req.Header.Set("Authorization", "Bearer topsecret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with token: status = %d, want 200", rec.Code)
	}
}

func TestAdminRoutesDisabledWithoutSecret(t *testing.T) {
	router := newTestServer(t, "").Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scraping-status", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestWebhookIsPublic(t *testing.T) {
	router := newTestServer(t, "secret").Router()

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/passcode", strings.NewReader(`{"passcode":"123456"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	// No session awaits a code; the route itself must not demand the secret.
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

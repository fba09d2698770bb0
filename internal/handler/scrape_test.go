package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/resortwatch/internal/database"
	"github.com/dukerupert/resortwatch/internal/monitor"
	"github.com/dukerupert/resortwatch/internal/scheduler"
	"github.com/dukerupert/resortwatch/internal/store"
)

// newScrapeHandler builds a handler whose engine is never reached; these
// tests exercise the request validation and run-control paths only.
func newScrapeHandler(t *testing.T) *ScrapeHandler {
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
	return NewScrapeHandler(nil, monitor.New(nil, logger), sched, logger)
}

func TestScrapeStatus(t *testing.T) {
	h := newScrapeHandler(t)

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/scraping-status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Status       json.RawMessage   `json:"status"`
		NextEligible map[string]string `json:"next_eligible"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Status) == 0 {
		t.Error("status payload missing")
	}
	// Nothing has ever been scraped, every stage is ready.
	for _, stage := range []string{"resorts", "rooms", "availabilities"} {
		if resp.NextEligible[stage] != "ready now" {
			t.Errorf("next_eligible[%s] = %q", stage, resp.NextEligible[stage])
		}
	}
}

func TestScrapeControlStopWithoutRun(t *testing.T) {
	h := newScrapeHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/scraping-control", strings.NewReader(`{"action":"stop"}`))
	rec := httptest.NewRecorder()
	h.Control(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestScrapeControlBadRequests(t *testing.T) {
	h := newScrapeHandler(t)

	for _, body := range []string{`{broken`, `{"action":"reboot"}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/scraping-control", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.Control(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestSyncUnknownType(t *testing.T) {
	h := newScrapeHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sync/invoices", nil)
	req.SetPathValue("type", "invoices")
	rec := httptest.NewRecorder()
	h.Sync(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

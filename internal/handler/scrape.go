package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/dukerupert/resortwatch/internal/crawler"
	"github.com/dukerupert/resortwatch/internal/monitor"
	"github.com/dukerupert/resortwatch/internal/scheduler"
)

// ScrapeHandler exposes run control and status for the crawl engine. At most
// one run may be in flight at a time.
type ScrapeHandler struct {
	engine *crawler.Engine
	mon    *monitor.Monitor
	sched  *scheduler.Scheduler
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewScrapeHandler(engine *crawler.Engine, mon *monitor.Monitor, sched *scheduler.Scheduler, logger *slog.Logger) *ScrapeHandler {
	return &ScrapeHandler{engine: engine, mon: mon, sched: sched, logger: logger}
}

// Status handles GET /api/scraping-status.
func (h *ScrapeHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        h.mon.Status(),
		"next_eligible": h.sched.NextEligible(),
	})
}

type controlRequest struct {
	Action string `json:"action"`
}

// Control handles POST /api/scraping-control with {"action": "start"|"stop"}.
// Start launches a planned run in the background; stop cancels an in-flight
// run.
func (h *ScrapeHandler) Control(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	switch req.Action {
	case "start":
		ctx, ok := h.begin(context.Background())
		if !ok {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "scrape already running"})
			return
		}
		go func() {
			defer h.end()
			if _, err := h.engine.Run(ctx); err != nil {
				h.logger.Error("background scrape", "error", err)
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})

	case "stop":
		if !h.stop() {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "no scrape running"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})

	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "action must be start or stop"})
	}
}

// Cron handles GET /api/cron/scrape. Unlike Control it runs synchronously
// so the calling cron service sees the run summary.
func (h *ScrapeHandler) Cron(w http.ResponseWriter, r *http.Request) {
	ctx, ok := h.begin(r.Context())
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "scrape already running"})
		return
	}
	defer h.end()

	summary, err := h.engine.Run(ctx)
	if err != nil {
		h.logger.Error("cron scrape", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Sync handles POST /api/sync/{type}, forcing one stage regardless of plan.
func (h *ScrapeHandler) Sync(w http.ResponseWriter, r *http.Request) {
	stage := r.PathValue("type")
	switch scheduler.Type(stage) {
	case scheduler.TypeResorts, scheduler.TypeRooms, scheduler.TypeAvailabilities:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown sync type"})
		return
	}

	ctx, ok := h.begin(r.Context())
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "scrape already running"})
		return
	}
	defer h.end()

	summary, err := h.engine.SyncStage(ctx, stage)
	if err != nil {
		h.logger.Error("manual sync", "stage", stage, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *ScrapeHandler) begin(parent context.Context) (context.Context, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	h.cancel = cancel
	return ctx, true
}

func (h *ScrapeHandler) end() {
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.mu.Unlock()
}

func (h *ScrapeHandler) stop() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel == nil {
		return false
	}
	h.cancel()
	return true
}

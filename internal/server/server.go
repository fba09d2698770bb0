package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/resortwatch/internal/crawler"
	"github.com/dukerupert/resortwatch/internal/handler"
	"github.com/dukerupert/resortwatch/internal/middleware"
	"github.com/dukerupert/resortwatch/internal/monitor"
	"github.com/dukerupert/resortwatch/internal/passcode"
	"github.com/dukerupert/resortwatch/internal/scheduler"
	ws "github.com/dukerupert/resortwatch/internal/websocket"
)

type Server struct {
	hub         *ws.Hub
	webhookH    *handler.WebhookHandler
	scrapeH     *handler.ScrapeHandler
	rateLimiter *middleware.RateLimiter
	adminSecret string
	logger      *slog.Logger
}

func New(hub *ws.Hub, mon *monitor.Monitor, exchange *passcode.Exchange,
	engine *crawler.Engine, sched *scheduler.Scheduler, adminSecret string, logger *slog.Logger) *Server {
	return &Server{
		hub:         hub,
		webhookH:    handler.NewWebhookHandler(exchange, logger.With("component", "webhook")),
		scrapeH:     handler.NewScrapeHandler(engine, mon, sched, logger.With("component", "scrape")),
		rateLimiter: middleware.NewRateLimiter(),
		adminSecret: adminSecret,
		logger:      logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))

	// The webhook is called by an external inbox watcher that cannot hold
	// our admin secret; rate limiting keeps code guessing impractical.
	mux.HandleFunc("POST /api/webhooks/passcode", s.rateLimitedHandler(s.webhookH.DeliverPasscode))

	// Admin routes behind the shared secret
	guard := middleware.RequireSecret(s.adminSecret)
	mux.Handle("GET /api/scraping-status", guard(http.HandlerFunc(s.scrapeH.Status)))
	mux.Handle("POST /api/scraping-control", guard(http.HandlerFunc(s.scrapeH.Control)))
	mux.Handle("POST /api/sync/{type}", guard(http.HandlerFunc(s.scrapeH.Sync)))
	mux.Handle("GET /api/cron/scrape", guard(http.HandlerFunc(s.scrapeH.Cron)))

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

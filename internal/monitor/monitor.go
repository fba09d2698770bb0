// Package monitor collects live scraping telemetry: log entries, portal API
// call stats, and run progress. It is a passive sink; nothing it does can
// fail a scrape.
package monitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/resortwatch/internal/model"
	"github.com/dukerupert/resortwatch/internal/websocket"
)

const (
	maxLogEntries = 100
	maxAPICalls   = 50
)

// Entry is one captured log line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Details   any       `json:"details,omitempty"`
}

// APICall records one portal request for the status feed.
type APICall struct {
	Timestamp  time.Time `json:"timestamp"`
	URL        string    `json:"url"`
	Method     string    `json:"method"`
	Status     int       `json:"status"`
	DurationMS int64     `json:"duration_ms"`
}

// Progress is the position within the current crawl stage.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Status is a point-in-time snapshot for the status endpoint.
type Status struct {
	Running        bool              `json:"running"`
	CurrentStep    string            `json:"current_step,omitempty"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	Progress       Progress          `json:"progress"`
	APICallCount   int               `json:"api_call_count"`
	ErrorCount     int               `json:"error_count"`
	RecentLogs     []Entry           `json:"recent_logs"`
	RecentAPICalls []APICall         `json:"recent_api_calls"`
	LastRun        *model.RunSummary `json:"last_run,omitempty"`
}

// Monitor is the shared telemetry sink. The hub is optional; without one
// events are only retained locally.
type Monitor struct {
	mu sync.Mutex

	running      bool
	currentStep  string
	startedAt    *time.Time
	progress     Progress
	apiCallCount int
	errorCount   int
	logs         []Entry
	apiCalls     []APICall
	lastRun      *model.RunSummary

	hub    *websocket.Hub
	logger *slog.Logger
}

func New(hub *websocket.Hub, logger *slog.Logger) *Monitor {
	return &Monitor{
		hub:    hub,
		logger: logger,
	}
}

// Log captures a scraping log line and mirrors it to slog and the feed.
func (m *Monitor) Log(level, message string, details any) {
	entry := Entry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Details:   details,
	}

	m.mu.Lock()
	m.logs = append(m.logs, entry)
	if len(m.logs) > maxLogEntries {
		m.logs = m.logs[len(m.logs)-maxLogEntries:]
	}
	if level == "error" {
		m.errorCount++
	}
	m.mu.Unlock()

	switch level {
	case "error":
		m.logger.Error(message, "details", details)
	case "warn", "warning":
		m.logger.Warn(message, "details", details)
	default:
		m.logger.Info(message, "details", details)
	}
	m.broadcast("log", entry)
}

// LogAPICall records one portal request. Payloads and responses are already
// redacted and truncated by the caller.
func (m *Monitor) LogAPICall(url, method string, status int, duration time.Duration, payload, response any) {
	call := APICall{
		Timestamp:  time.Now().UTC(),
		URL:        url,
		Method:     method,
		Status:     status,
		DurationMS: duration.Milliseconds(),
	}

	m.mu.Lock()
	m.apiCalls = append(m.apiCalls, call)
	if len(m.apiCalls) > maxAPICalls {
		m.apiCalls = m.apiCalls[len(m.apiCalls)-maxAPICalls:]
	}
	m.apiCallCount++
	m.mu.Unlock()

	m.logger.Debug("portal call",
		"url", url, "method", method, "status", status, "duration_ms", call.DurationMS)
	m.broadcast("api_call", call)
}

// SetRunning flips the run flag. Starting a run resets per-run counters.
func (m *Monitor) SetRunning(running bool) {
	m.mu.Lock()
	m.running = running
	if running {
		now := time.Now().UTC()
		m.startedAt = &now
		m.apiCallCount = 0
		m.errorCount = 0
		m.progress = Progress{}
		m.currentStep = ""
	}
	m.mu.Unlock()

	m.broadcast("status", map[string]bool{"running": running})
}

// SetStep names the current crawl stage.
func (m *Monitor) SetStep(step string) {
	m.mu.Lock()
	m.currentStep = step
	m.progress = Progress{}
	m.mu.Unlock()

	m.broadcast("step", map[string]string{"step": step})
}

// UpdateProgress reports position within the current stage.
func (m *Monitor) UpdateProgress(current, total int) {
	p := Progress{Current: current, Total: total}

	m.mu.Lock()
	m.progress = p
	m.mu.Unlock()

	m.broadcast("progress", p)
}

// SetLastRun records the summary of the most recent completed run.
func (m *Monitor) SetLastRun(summary *model.RunSummary) {
	m.mu.Lock()
	m.lastRun = summary
	m.mu.Unlock()

	m.broadcast("run_complete", summary)
}

// Status returns a copy-safe snapshot of the current state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Status{
		Running:        m.running,
		CurrentStep:    m.currentStep,
		StartedAt:      m.startedAt,
		Progress:       m.progress,
		APICallCount:   m.apiCallCount,
		ErrorCount:     m.errorCount,
		RecentLogs:     append([]Entry(nil), m.logs...),
		RecentAPICalls: append([]APICall(nil), m.apiCalls...),
		LastRun:        m.lastRun,
	}
}

// Running reports whether a scrape is in flight.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) broadcast(kind string, payload any) {
	if m.hub == nil {
		return
	}
	m.hub.Broadcast(websocket.NewEvent(kind, payload))
}

package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/resortwatch/internal/passcode"
)

type WebhookHandler struct {
	exchange *passcode.Exchange
	logger   *slog.Logger
}

func NewWebhookHandler(exchange *passcode.Exchange, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{exchange: exchange, logger: logger}
}

type passcodeWebhookRequest struct {
	SessionID json.Number `json:"session_id"`
	Passcode  string      `json:"passcode"`
}

// DeliverPasscode handles POST /api/webhooks/passcode. An external inbox
// watcher posts the out-of-band code here; session_id is optional and when
// absent the most recent session still awaiting a code receives it.
func (h *WebhookHandler) DeliverPasscode(w http.ResponseWriter, r *http.Request) {
	var req passcodeWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Passcode == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "passcode is required"})
		return
	}

	var sessionID int64
	if req.SessionID != "" {
		id, err := strconv.ParseInt(req.SessionID.String(), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session_id"})
			return
		}
		sessionID = id
	}

	ok, err := h.exchange.DeliverCode(sessionID, req.Passcode)
	if errors.Is(err, passcode.ErrNoAwaitingSession) {
		ok = false
	} else if err != nil {
		h.logger.Error("deliver passcode", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to deliver passcode"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]any{
			"success": false,
			"error":   "no session awaiting a code",
		})
		return
	}

	h.logger.Info("passcode delivered", "session_id", sessionID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

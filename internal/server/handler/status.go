package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/arbhunter/dmarketbot/internal/engine"
	"github.com/arbhunter/dmarketbot/internal/platform/dmarket"
)

// StatusHandler serves runtime status: polling-loop counters, request-layer
// counters, and process metadata.
type StatusHandler struct {
	poller    *engine.Poller
	client    *dmarket.Client
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler. poller and client may be nil when
// the corresponding subsystem is not running in this mode.
func NewStatusHandler(poller *engine.Poller, client *dmarket.Client, mode string, startedAt time.Time, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		poller:    poller,
		client:    client,
		mode:      mode,
		startedAt: startedAt,
		logger:    logHandler(logger, "status"),
	}
}

// GetStatus returns a combined runtime snapshot.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if h.poller != nil {
		resp["poller"] = h.poller.Stats()
	}
	if h.client != nil {
		stats := h.client.Stats()
		resp["requests"] = map[string]int64{
			"total":      stats.Requests,
			"cache_hits": stats.CacheHits,
			"retries":    stats.Retries,
			"failures":   stats.Failures,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

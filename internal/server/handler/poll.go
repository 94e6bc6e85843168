package handler

import (
	"log/slog"
	"net/http"

	"github.com/arbhunter/dmarketbot/internal/engine"
)

// PollHandler exposes manual control over the polling loop.
type PollHandler struct {
	poller *engine.Poller
	games  []string
	logger *slog.Logger
}

// NewPollHandler creates a PollHandler. games is the configured scope list
// used when a trigger request names no game.
func NewPollHandler(poller *engine.Poller, games []string, logger *slog.Logger) *PollHandler {
	return &PollHandler{
		poller: poller,
		games:  games,
		logger: logHandler(logger, "poll"),
	}
}

// Trigger runs one synchronous poll cycle outside the loop's schedule.
// POST /api/poll/trigger?game=a8db
func (h *PollHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.poller == nil {
		writeError(w, http.StatusServiceUnavailable, "poller not running in this mode")
		return
	}

	games := h.games
	if g := r.URL.Query().Get("game"); g != "" {
		games = []string{g}
	}

	total := 0
	for _, game := range games {
		n, err := h.poller.ForcePoll(r.Context(), game)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "forced poll failed",
				slog.String("game", game),
				slog.String("error", err.Error()))
			writeError(w, http.StatusBadGateway, "poll failed for game "+game)
			return
		}
		total += n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"games":   games,
		"changes": total,
	})
}

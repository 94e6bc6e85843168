package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/arbhunter/dmarketbot/internal/domain"
	"github.com/arbhunter/dmarketbot/internal/engine"
)

// ChangeHandler serves the rolling log of detected market changes.
type ChangeHandler struct {
	tracker *engine.DeltaTracker
	logger  *slog.Logger
}

// NewChangeHandler creates a ChangeHandler backed by the delta tracker.
func NewChangeHandler(tracker *engine.DeltaTracker, logger *slog.Logger) *ChangeHandler {
	return &ChangeHandler{
		tracker: tracker,
		logger:  logHandler(logger, "changes"),
	}
}

// changeResponse is the wire form of a detected change.
type changeResponse struct {
	ID         string `json:"id"`
	EntityID   string `json:"entity_id"`
	Title      string `json:"title"`
	GameID     string `json:"game_id"`
	Kind       string `json:"kind"`
	OldPrice   string `json:"old_price"`
	NewPrice   string `json:"new_price"`
	OldQty     int    `json:"old_qty"`
	NewQty     int    `json:"new_qty"`
	Percent    string `json:"percent"`
	DetectedAt string `json:"detected_at"`
}

func toChangeResponse(c domain.PriceChange) changeResponse {
	return changeResponse{
		ID:         c.ID,
		EntityID:   c.EntityID,
		Title:      c.Title,
		GameID:     c.GameID,
		Kind:       string(c.Kind),
		OldPrice:   c.OldPrice.StringFixed(2),
		NewPrice:   c.NewPrice.StringFixed(2),
		OldQty:     c.OldQty,
		NewQty:     c.NewQty,
		Percent:    c.Percent.StringFixed(2),
		DetectedAt: c.DetectedAt.UTC().Format(time.RFC3339),
	}
}

// ListRecent returns the most recent detected changes, newest first.
// GET /api/changes/recent?limit=50
func (h *ChangeHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50, 500)

	changes := h.tracker.RecentChanges(limit)
	out := make([]changeResponse, len(changes))
	for i, c := range changes {
		out[i] = toChangeResponse(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"changes": out,
		"count":   len(out),
	})
}

// whitelistRequest names one item title to pin or unpin.
type whitelistRequest struct {
	Title string `json:"title"`
}

func decodeWhitelistRequest(r *http.Request) (string, bool) {
	var req whitelistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", false
	}
	title := strings.TrimSpace(req.Title)
	return title, title != ""
}

// Whitelist pins an item title to critical polling priority.
// POST /api/whitelist {"title": "AK-47 | Redline"}
func (h *ChangeHandler) Whitelist(w http.ResponseWriter, r *http.Request) {
	title, ok := decodeWhitelistRequest(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	h.tracker.Whitelist(title)
	h.logger.InfoContext(r.Context(), "title whitelisted", slog.String("title", title))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "title": title})
}

// Unwhitelist removes a pinned title.
// DELETE /api/whitelist {"title": "AK-47 | Redline"}
func (h *ChangeHandler) Unwhitelist(w http.ResponseWriter, r *http.Request) {
	title, ok := decodeWhitelistRequest(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	h.tracker.Unwhitelist(title)
	h.logger.InfoContext(r.Context(), "title unwhitelisted", slog.String("title", title))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "title": title})
}

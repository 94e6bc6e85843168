package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/arbhunter/dmarketbot/internal/domain"
)

// OpportunityHandler serves persisted arbitrage opportunities.
type OpportunityHandler struct {
	store  domain.OpportunityStore
	logger *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler backed by the store.
func NewOpportunityHandler(store domain.OpportunityStore, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{
		store:  store,
		logger: logHandler(logger, "opportunities"),
	}
}

type opportunityResponse struct {
	ID         string `json:"id"`
	EntityID   string `json:"entity_id"`
	Title      string `json:"title"`
	GameID     string `json:"game_id"`
	BuyPrice   string `json:"buy_price"`
	SellPrice  string `json:"sell_price"`
	FeePercent string `json:"fee_percent"`
	NetProfit  string `json:"net_profit"`
	ProfitPct  string `json:"profit_pct"`
	DetectedAt string `json:"detected_at"`
}

// ListRecent returns the most recently detected opportunities.
// GET /api/opportunities?limit=50
func (h *OpportunityHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "opportunity store not configured")
		return
	}
	limit := queryLimit(r, 50, 500)

	opps, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list opportunities failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}

	out := make([]opportunityResponse, len(opps))
	for i, o := range opps {
		out[i] = opportunityResponse{
			ID:         o.ID,
			EntityID:   o.EntityID,
			Title:      o.Title,
			GameID:     o.GameID,
			BuyPrice:   o.BuyPrice.StringFixed(2),
			SellPrice:  o.SellPrice.StringFixed(2),
			FeePercent: o.FeePercent.StringFixed(2),
			NetProfit:  o.NetProfit.StringFixed(2),
			ProfitPct:  o.ProfitPct.StringFixed(2),
			DetectedAt: o.DetectedAt.UTC().Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"opportunities": out,
		"count":         len(out),
	})
}

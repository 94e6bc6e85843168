package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arbhunter/dmarketbot/internal/domain"
	"github.com/arbhunter/dmarketbot/internal/platform/dmarket"
)

// AccountHandler serves authenticated account operations: balance lookup and
// buy-target management. Targets created through the API are mirrored into
// the local target store when one is configured.
type AccountHandler struct {
	client  *dmarket.Client
	targets domain.TargetStore
	logger  *slog.Logger
}

// NewAccountHandler creates an AccountHandler. targets may be nil; target
// records are then not persisted locally.
func NewAccountHandler(client *dmarket.Client, targets domain.TargetStore, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		client:  client,
		targets: targets,
		logger:  logHandler(logger, "account"),
	}
}

// GetBalance returns the account balance in dollars.
// GET /api/account/balance
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	bal, raw, err := h.client.GetBalance(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, "upstream rejected credentials")
			return
		}
		h.logger.ErrorContext(r.Context(), "balance fetch failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to fetch balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"usd": bal.USD.StringFixed(2),
		"dmc": bal.DMC.StringFixed(2),
		"raw": json.RawMessage(raw),
	})
}

// ListTargets proxies the upstream target list for one game.
// GET /api/targets?game=a8db
func (h *AccountHandler) ListTargets(w http.ResponseWriter, r *http.Request) {
	game := r.URL.Query().Get("game")
	if game == "" {
		writeError(w, http.StatusBadRequest, "game query parameter is required")
		return
	}
	raw, err := h.client.ListTargets(r.Context(), game)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "target list failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to list targets")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": json.RawMessage(raw)})
}

// createTargetRequest is the body for CreateTarget.
type createTargetRequest struct {
	GameID   string `json:"game_id"`
	Title    string `json:"title"`
	Amount   int    `json:"amount"`
	PriceUSD string `json:"price_usd"`
}

// CreateTarget places a buy target upstream and records it locally.
// POST /api/targets
func (h *AccountHandler) CreateTarget(w http.ResponseWriter, r *http.Request) {
	var req createTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.GameID == "" || req.Title == "" {
		writeError(w, http.StatusBadRequest, "game_id and title are required")
		return
	}
	price, err := decimal.NewFromString(req.PriceUSD)
	if err != nil || !price.IsPositive() {
		writeError(w, http.StatusBadRequest, "price_usd must be a positive decimal string")
		return
	}

	raw, err := h.client.CreateTarget(r.Context(), dmarket.TargetRequest{
		GameID:   req.GameID,
		Title:    req.Title,
		Amount:   req.Amount,
		PriceUSD: price,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "target create failed",
			slog.String("title", req.Title),
			slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to create target")
		return
	}

	record := domain.Target{
		ID:        uuid.NewString(),
		Title:     req.Title,
		GameID:    req.GameID,
		Price:     price,
		Quantity:  req.Amount,
		Status:    domain.TargetActive,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if h.targets != nil {
		if err := h.targets.Upsert(r.Context(), record); err != nil {
			h.logger.WarnContext(r.Context(), "target record persist failed",
				slog.String("id", record.ID),
				slog.String("error", err.Error()))
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       record.ID,
		"upstream": json.RawMessage(raw),
	})
}

// DeleteTarget cancels a buy target upstream and marks the local record.
// DELETE /api/targets/{id}
func (h *AccountHandler) DeleteTarget(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "target id is required")
		return
	}

	if err := h.client.DeleteTarget(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "target not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "target delete failed",
			slog.String("id", id),
			slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to delete target")
		return
	}

	if h.targets != nil {
		if rec, err := h.targets.Get(r.Context(), id); err == nil {
			rec.Status = domain.TargetCancelled
			rec.UpdatedAt = time.Now().UTC()
			if err := h.targets.Upsert(r.Context(), rec); err != nil {
				h.logger.WarnContext(r.Context(), "target record update failed",
					slog.String("id", id),
					slog.String("error", err.Error()))
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "id": id})
}

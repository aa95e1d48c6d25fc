package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/scrip/internal/issue"
	"github.com/dukerupert/scrip/internal/model"
	"github.com/dukerupert/scrip/internal/redeem"
	"github.com/dukerupert/scrip/internal/report"
	"github.com/dukerupert/scrip/internal/store"
	"github.com/dukerupert/scrip/internal/websocket"
)

type TokenHandler struct {
	issuer   *issue.Issuer
	engine   *redeem.Engine
	reporter *report.Reporter
	tokens   *store.TokenStore
	hub      *websocket.Hub
	logger   *slog.Logger
}

func NewTokenHandler(
	issuer *issue.Issuer,
	engine *redeem.Engine,
	reporter *report.Reporter,
	tokens *store.TokenStore,
	hub *websocket.Hub,
	logger *slog.Logger,
) *TokenHandler {
	return &TokenHandler{
		issuer:   issuer,
		engine:   engine,
		reporter: reporter,
		tokens:   tokens,
		hub:      hub,
		logger:   logger,
	}
}

func (h *TokenHandler) broadcast(ev websocket.Event) {
	if h.hub != nil {
		h.hub.Broadcast(ev)
	}
}

type issueBatchRequest struct {
	ProductName string `json:"product_name"`
	BatchID     string `json:"batch_id"`
	Count       int    `json:"count"`
	ExpiresAt   string `json:"expires_at"`
}

type issueBatchResponse struct {
	BatchID  string   `json:"batch_id"`
	TokenIDs []string `json:"token_ids"`
}

// IssueBatch creates a batch of fresh tokens for printing.
func (h *TokenHandler) IssueBatch(w http.ResponseWriter, r *http.Request) {
	var req issueBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req.ProductName = strings.TrimSpace(req.ProductName)
	if req.ProductName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "product_name is required"})
		return
	}
	if req.Count < 1 || req.Count > issue.MaxBatchSize {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "count must be between 1 and 10000"})
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != "" {
		ts, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expires_at must be RFC 3339"})
			return
		}
		utc := ts.UTC()
		expiresAt = &utc
	}

	batchID, ids, err := h.issuer.Batch(r.Context(), req.ProductName, strings.TrimSpace(req.BatchID), req.Count, expiresAt)
	if err != nil {
		h.logger.Error("issue batch", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to issue batch"})
		return
	}

	h.broadcast(websocket.BatchIssuedEvent(batchID, req.ProductName, len(ids)))

	writeJSON(w, http.StatusCreated, issueBatchResponse{BatchID: batchID, TokenIDs: ids})
}

// Redeem handles a scanned code. Transient store failures are retried a
// couple of times before the caller is told to try again; the engine's
// conditional transition keeps retries safe.
func (h *TokenHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token id is required"})
		return
	}

	var receipt *redeem.Receipt
	backoff := retry.WithMaxRetries(2, retry.NewExponential(100*time.Millisecond))
	err := retry.Do(r.Context(), backoff, func(ctx context.Context) error {
		var err error
		receipt, err = h.engine.Redeem(ctx, id)
		if redeem.IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, redeem.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "token not found"})
		case errors.Is(err, redeem.ErrExpired):
			writeJSON(w, http.StatusGone, map[string]string{"error": "token expired"})
		case errors.Is(err, redeem.ErrAlreadyUsed):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "token already used"})
		case redeem.IsTransient(err):
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable, retry"})
		default:
			h.logger.Error("redeem", "token_id", id, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "redemption failed"})
		}
		return
	}

	h.broadcast(websocket.RedeemedEvent(receipt.TokenID, receipt.ProductName, receipt.BatchID, receipt.Amount))

	writeJSON(w, http.StatusOK, receipt)
}

// Get returns a single token for support inspection.
func (h *TokenHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	t, err := h.tokens.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("get token", "token_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get token"})
		return
	}
	if t == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "token not found"})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Dashboard returns the top-line issuance and redemption totals.
func (h *TokenHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reporter.Dashboard(r.Context())
	if err != nil {
		h.logger.Error("dashboard stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to compute stats"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Products returns per-product issuance and redemption counts.
func (h *TokenHandler) Products(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reporter.Products(r.Context())
	if err != nil {
		h.logger.Error("product stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to compute stats"})
		return
	}
	if stats == nil {
		stats = []model.ProductStats{}
	}
	writeJSON(w, http.StatusOK, stats)
}

// Batches returns per-batch issuance and redemption counts.
func (h *TokenHandler) Batches(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reporter.Batches(r.Context())
	if err != nil {
		h.logger.Error("batch stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to compute stats"})
		return
	}
	if stats == nil {
		stats = []model.BatchStats{}
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json response", "error", err)
	}
}

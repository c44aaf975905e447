package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/credit"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	engine   *engine.Engine
	assessor *credit.Assessor
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, assessor *credit.Assessor, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		engine:   eng,
		assessor: assessor,
		version:  version,
	}
}

// DecisionResponse is the response for POST /transactions.
type DecisionResponse struct {
	Transaction    *domain.Transaction `json:"transaction"`
	Result         *domain.FraudResult `json:"result,omitempty"`
	Pattern        *domain.FraudPattern `json:"pattern,omitempty"`
	AwaitingReview bool                `json:"awaitingReview"`
	Metadata       struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// SubmitTransaction handles POST /transactions: it persists the
// transaction and runs the full synchronous decision before replying.
func (h *Handler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	decision, err := h.engine.Submit(ctx, &req)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := DecisionResponse{
		Transaction:    decision.Transaction,
		Result:         decision.Result,
		Pattern:        decision.Pattern,
		AwaitingReview: decision.AwaitingReview,
	}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	status := http.StatusCreated
	if decision.AwaitingReview {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")
	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	tx, err := h.repo.GetTransaction(r.Context(), txID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// GetTransactionByReference retrieves a transaction by its unique reference.
func (h *Handler) GetTransactionByReference(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	if reference == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "reference is required",
		})
		return
	}

	tx, err := h.repo.GetTransactionByReference(r.Context(), reference)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListUserTransactions retrieves all transactions for a user.
func (h *Handler) ListUserTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "user id is required",
		})
		return
	}

	txs, err := h.repo.ListTransactionsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	})
}

// CancelTransaction handles POST /transactions/{id}/cancel.
func (h *Handler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Cancel)
}

// RetryTransaction handles POST /transactions/{id}/retry. Admin only:
// moves a FAILED transaction back to PENDING and re-evaluates it.
func (h *Handler) RetryTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")
	actor := GetActor(r.Context())

	if _, err := h.engine.Retry(r.Context(), txID, actor); err != nil {
		writeError(w, err)
		return
	}

	// Re-run the decision now that the transaction is PENDING again.
	decision, err := h.engine.EvaluateAndDecide(r.Context(), txID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// OverrideTransaction handles POST /transactions/{id}/override.
func (h *Handler) OverrideTransaction(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Override)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, txID string, actor domain.Actor) (*domain.Transaction, error)) {
	txID := chi.URLParam(r, "id")
	actor := GetActor(r.Context())

	tx, err := fn(r.Context(), txID, actor)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListPatterns returns stored patterns, filterable by minConfidence or
// a from/to date range (RFC 3339).
func (h *Handler) ListPatterns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if fromStr, toStr := q.Get("from"), q.Get("to"); fromStr != "" || toStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid from timestamp"})
			return
		}
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid to timestamp"})
			return
		}
		patterns, err := h.repo.ListPatternsByDateRange(ctx, from, to)
		if err != nil {
			writeError(w, err)
			return
		}
		writePatterns(w, patterns)
		return
	}

	if minStr := q.Get("minConfidence"); minStr != "" {
		min, err := strconv.ParseFloat(minStr, 64)
		if err != nil || min < 0 || min > 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "minConfidence must be in [0,1]"})
			return
		}
		patterns, err := h.repo.ListPatternsByConfidence(ctx, min)
		if err != nil {
			writeError(w, err)
			return
		}
		writePatterns(w, patterns)
		return
	}

	// Default listing: everything above the categorizer's floor.
	patterns, err := h.repo.ListPatternsByConfidence(ctx, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	writePatterns(w, patterns)
}

// ListUnreviewedPatterns returns the analyst work queue.
func (h *Handler) ListUnreviewedPatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := h.repo.ListPatternsByReviewed(r.Context(), false)
	if err != nil {
		writeError(w, err)
		return
	}
	writePatterns(w, patterns)
}

// GetPattern retrieves a pattern by ID.
func (h *Handler) GetPattern(w http.ResponseWriter, r *http.Request) {
	patternID := chi.URLParam(r, "id")

	pattern, err := h.repo.GetPattern(r.Context(), patternID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pattern)
}

// ListTransactionPatterns returns the patterns stored for a transaction.
func (h *Handler) ListTransactionPatterns(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	patterns, err := h.repo.ListPatternsByTransaction(r.Context(), txID)
	if err != nil {
		writeError(w, err)
		return
	}
	writePatterns(w, patterns)
}

// ReviewRequest is the request body for POST /patterns/{id}/review.
type ReviewRequest struct {
	Notes string `json:"notes,omitempty"`
}

// ReviewPattern marks a pattern as reviewed by the calling actor.
func (h *Handler) ReviewPattern(w http.ResponseWriter, r *http.Request) {
	patternID := chi.URLParam(r, "id")
	actor := GetActor(r.Context())

	var req ReviewRequest
	if r.Body != nil {
		// An empty body is fine; notes are optional.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	pattern, err := h.engine.ReviewPattern(r.Context(), patternID, actor.ID, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pattern)
}

// PatternStats returns aggregate statistics over stored patterns.
func (h *Handler) PatternStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.PatternStatistics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// AssessCredit handles POST /credit/assess.
func (h *Handler) AssessCredit(w http.ResponseWriter, r *http.Request) {
	var profile credit.Profile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	assessment, err := h.assessor.Assess(r.Context(), &profile)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, assessment)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writePatterns(w http.ResponseWriter, patterns []*domain.FraudPattern) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"patterns": patterns,
		"count":    len(patterns),
	})
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var stateErr *domain.InvalidStateTransitionError

	switch {
	case errors.Is(err, domain.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, domain.ErrDuplicateReference):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "reference already exists"})
	case errors.As(err, &stateErr):
		writeJSON(w, http.StatusConflict, map[string]string{"error": stateErr.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

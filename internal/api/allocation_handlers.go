package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Kurokamori/reward-engine/internal/ledger"
	"github.com/Kurokamori/reward-engine/internal/metrics"
	"github.com/Kurokamori/reward-engine/internal/models"
)

// Allocation handlers

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())

	poolID := chi.URLParam(r, "poolId")
	if poolID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "pool id is required")
		return
	}

	var req models.AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	recipient := models.RecipientRef{
		Kind: req.RecipientKind,
		ID:   req.RecipientID,
	}

	record, err := s.ledger.Allocate(r.Context(), account.ID, poolID, recipient, req.Units)
	if err != nil {
		metrics.AllocationsTotal.WithLabelValues(allocOutcome(err)).Inc()
		s.respondLedgerError(w, err, poolID)
		return
	}

	metrics.AllocationsTotal.WithLabelValues("ok").Inc()
	metrics.AllocatedUnits.Add(float64(record.Units))

	respondJSON(w, http.StatusCreated, record)
}

func (s *Server) handlePoolStatus(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())

	poolID := chi.URLParam(r, "poolId")
	if poolID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "pool id is required")
		return
	}

	status, err := s.ledger.Status(r.Context(), account.ID, poolID)
	if err != nil {
		s.respondLedgerError(w, err, poolID)
		return
	}

	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleClosePool(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())

	poolID := chi.URLParam(r, "poolId")
	if poolID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "pool id is required")
		return
	}

	pool, err := s.ledger.Close(r.Context(), account.ID, poolID)
	if err != nil {
		s.respondLedgerError(w, err, poolID)
		return
	}

	respondJSON(w, http.StatusOK, pool)
}

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())

	pools, err := s.ledger.List(r.Context(), account.ID)
	if err != nil {
		slog.Error("failed to list pools", "error", err, "account", account.Name)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to list pools")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"pools": pools,
		"total": len(pools),
	})
}

// respondLedgerError maps ledger errors to HTTP error responses
func (s *Server) respondLedgerError(w http.ResponseWriter, err error, poolID string) {
	switch {
	case errors.Is(err, ledger.ErrPoolNotFound):
		respondError(w, http.StatusNotFound, "not_found", "pool not found")
	case errors.Is(err, ledger.ErrPoolClosed):
		respondError(w, http.StatusConflict, "pool_closed", "pool is closed")
	case errors.Is(err, ledger.ErrInsufficientPool):
		respondError(w, http.StatusConflict, "insufficient_pool", err.Error())
	case errors.Is(err, ledger.ErrIneligibleRecipient):
		respondError(w, http.StatusForbidden, "ineligible_recipient", err.Error())
	case errors.Is(err, ledger.ErrRecipientNotFound):
		respondError(w, http.StatusNotFound, "not_found", "recipient not found")
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		respondError(w, http.StatusConflict, "concurrency_conflict", "allocation conflicted with a concurrent request, retry")
	default:
		slog.Error("ledger operation failed", "error", err, "pool_id", poolID)
		respondError(w, http.StatusInternalServerError, "internal_error", "ledger operation failed")
	}
}

func allocOutcome(err error) string {
	switch {
	case errors.Is(err, ledger.ErrPoolClosed):
		return "pool_closed"
	case errors.Is(err, ledger.ErrInsufficientPool):
		return "insufficient"
	case errors.Is(err, ledger.ErrIneligibleRecipient):
		return "ineligible"
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, ledger.ErrPoolNotFound), errors.Is(err, ledger.ErrRecipientNotFound):
		return "not_found"
	default:
		return "error"
	}
}

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Kurokamori/reward-engine/internal/engine"
	"github.com/Kurokamori/reward-engine/internal/metrics"
	"github.com/Kurokamori/reward-engine/internal/models"
	"github.com/Kurokamori/reward-engine/internal/scoring"
)

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "storage not ready")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// Reward handlers

func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())

	var req models.CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	bundle, err := s.engine.Calculate(r.Context(), account.ID, req.Attributes)
	if err != nil {
		if errors.Is(err, scoring.ErrInvalidAttributes) {
			metrics.CalculationsTotal.WithLabelValues(string(req.Attributes.Kind), "invalid").Inc()
			respondError(w, http.StatusUnprocessableEntity, "invalid_attributes", err.Error())
			return
		}
		slog.Error("failed to calculate rewards", "error", err, "account", account.Name)
		metrics.CalculationsTotal.WithLabelValues(string(req.Attributes.Kind), "error").Inc()
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to calculate rewards")
		return
	}

	metrics.CalculationsTotal.WithLabelValues(string(req.Attributes.Kind), "ok").Inc()
	respondJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())

	var req models.FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	resp, err := s.engine.Finalize(r.Context(), account.ID, req.SubmissionID, req.Attributes)
	if err != nil {
		switch {
		case errors.Is(err, scoring.ErrInvalidAttributes):
			metrics.FinalizationsTotal.WithLabelValues(string(req.Attributes.Kind), "invalid").Inc()
			respondError(w, http.StatusUnprocessableEntity, "invalid_attributes", err.Error())
		case errors.Is(err, engine.ErrAlreadyFinalized):
			metrics.FinalizationsTotal.WithLabelValues(string(req.Attributes.Kind), "duplicate").Inc()
			respondError(w, http.StatusConflict, "already_finalized", "submission has already been finalized")
		default:
			slog.Error("failed to finalize submission", "error", err, "account", account.Name)
			metrics.FinalizationsTotal.WithLabelValues(string(req.Attributes.Kind), "error").Inc()
			respondError(w, http.StatusInternalServerError, "internal_error", "failed to finalize submission")
		}
		return
	}

	metrics.FinalizationsTotal.WithLabelValues(string(req.Attributes.Kind), "ok").Inc()
	for _, pool := range resp.Pools {
		metrics.PoolsOpened.WithLabelValues(string(pool.Kind)).Inc()
	}

	respondJSON(w, http.StatusCreated, resp)
}

package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Kurokamori/reward-engine/internal/storage"
)

// Roster handlers — trainers and the monsters they own

func (s *Server) handleListTrainers(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())

	limit := 50
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	trainers, err := s.repo.ListTrainers(r.Context(), account.ID, limit, offset)
	if err != nil {
		slog.Error("failed to list trainers", "error", err, "account", account.Name)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to list trainers")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"trainers": trainers,
		"total":    len(trainers),
	})
}

func (s *Server) handleGetTrainer(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())

	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "trainer id is required")
		return
	}

	trainer, err := s.repo.GetTrainer(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "trainer not found")
			return
		}
		slog.Error("failed to get trainer", "error", err, "id", id)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to get trainer")
		return
	}

	// Trainers are scoped to the account that owns them
	if trainer.AccountID != account.ID {
		respondError(w, http.StatusNotFound, "not_found", "trainer not found")
		return
	}

	respondJSON(w, http.StatusOK, trainer)
}

func (s *Server) handleListMonsters(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())

	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "trainer id is required")
		return
	}

	trainer, err := s.repo.GetTrainer(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "trainer not found")
			return
		}
		slog.Error("failed to get trainer", "error", err, "id", id)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to get trainer")
		return
	}

	if trainer.AccountID != account.ID {
		respondError(w, http.StatusNotFound, "not_found", "trainer not found")
		return
	}

	monsters, err := s.repo.ListMonsters(r.Context(), id)
	if err != nil {
		slog.Error("failed to list monsters", "error", err, "trainer_id", id)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to list monsters")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"monsters": monsters,
		"total":    len(monsters),
	})
}

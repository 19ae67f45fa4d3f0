package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Kurokamori/reward-engine/internal/ledger"
	"github.com/Kurokamori/reward-engine/internal/models"
	"github.com/Kurokamori/reward-engine/internal/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WatchMessage is a single frame on the pool watch feed
type WatchMessage struct {
	Type      string                    `json:"type"`
	Pool      *models.AllocationPool    `json:"pool,omitempty"`
	Record    *models.AllocationRecord  `json:"record,omitempty"`
	Summary   []models.EntityLevels     `json:"summary,omitempty"`
	Records   []models.AllocationRecord `json:"records,omitempty"`
	Remaining int                       `json:"remaining,omitempty"`
	Message   string                    `json:"message,omitempty"`
}

// handleWatchPool streams allocation events for a pool over a websocket.
// The first frame is a snapshot of the pool and its records; every
// subsequent frame is a live allocation or close event.
func (s *Server) handleWatchPool(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())

	poolID := chi.URLParam(r, "poolId")
	if poolID == "" {
		http.Error(w, "pool id required", http.StatusBadRequest)
		return
	}

	// Verify ownership and grab the snapshot before upgrading
	status, err := s.ledger.Status(r.Context(), account.ID, poolID)
	if err != nil {
		if errors.Is(err, ledger.ErrPoolNotFound) {
			http.Error(w, "pool not found", http.StatusNotFound)
			return
		}
		slog.Error("failed to get pool status", "error", err, "pool_id", poolID)
		http.Error(w, "failed to get pool status", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()

	slog.Info("pool watch connected", "pool_id", poolID, "account", account.Name)

	events, cancel, err := s.broker.Subscribe(r.Context(), poolID)
	if err != nil {
		slog.Error("failed to subscribe to pool events", "error", err, "pool_id", poolID)
		s.sendWatchMessage(conn, WatchMessage{Type: "error", Message: "failed to subscribe to pool events"})
		return
	}
	defer cancel()

	if err := s.sendWatchMessage(conn, WatchMessage{
		Type:      "snapshot",
		Pool:      status.Pool,
		Records:   status.Records,
		Summary:   status.PerTarget,
		Remaining: status.Pool.Remaining,
	}); err != nil {
		return
	}

	// Drain the client side so we notice disconnects
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			slog.Info("pool watch disconnected", "pool_id", poolID)
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			msg := WatchMessage{
				Type:      event.Type,
				Record:    event.Record,
				Remaining: event.Remaining,
			}
			if err := s.sendWatchMessage(conn, msg); err != nil {
				return
			}
			if event.Type == notify.EventClosed {
				slog.Info("pool watch finished, pool closed", "pool_id", poolID)
				return
			}
		}
	}
}

func (s *Server) sendWatchMessage(conn *websocket.Conn, msg WatchMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal watch message", "error", err)
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("failed to send watch message", "error", err)
		return err
	}
	return nil
}

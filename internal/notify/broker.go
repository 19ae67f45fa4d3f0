// Package notify fans allocation events out to live watchers. The ledger
// publishes one event per successful allocate or close; the websocket
// handler subscribes per pool.
package notify

import (
	"context"
	"time"

	"github.com/Kurokamori/reward-engine/internal/models"
)

// Event types published on a pool's channel
const (
	EventAllocation = "allocation"
	EventClosed     = "closed"
)

// Event describes one change to a pool
type Event struct {
	Type      string                   `json:"type"`
	PoolID    string                   `json:"pool_id"`
	Remaining int                      `json:"remaining"`
	Record    *models.AllocationRecord `json:"record,omitempty"`
	At        time.Time                `json:"at"`
}

// Broker publishes pool events and delivers them to subscribers. Delivery
// is best-effort: a slow subscriber may miss events and should re-read the
// pool's allocation history to resync.
type Broker interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, poolID string) (<-chan Event, func(), error)
	Close() error
}

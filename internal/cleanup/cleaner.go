package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/Kurokamori/reward-engine/internal/notify"
	"github.com/Kurokamori/reward-engine/internal/storage"
)

// Cleaner closes allocation pools that have stayed open past their
// maximum age. Remaining units are forfeited, same as a manual close.
type Cleaner struct {
	repo     storage.Repository
	broker   notify.Broker
	interval time.Duration
	maxAge   time.Duration
}

// NewCleaner creates a new expiry worker
func NewCleaner(repo storage.Repository, broker notify.Broker, interval, maxAge time.Duration) *Cleaner {
	if interval <= 0 {
		interval = time.Hour
	}
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}

	return &Cleaner{
		repo:     repo,
		broker:   broker,
		interval: interval,
		maxAge:   maxAge,
	}
}

// Start begins the expiry worker in a goroutine
func (c *Cleaner) Start(ctx context.Context) {
	go c.run(ctx)
}

// run is the main loop for the expiry worker
func (c *Cleaner) run(ctx context.Context) {
	slog.Info("pool expiry worker started", "interval", c.interval, "max_age", c.maxAge)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Run immediately on start
	c.expire(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("pool expiry worker stopped")
			return
		case <-ticker.C:
			c.expire(ctx)
		}
	}
}

// expire finds and closes stale pools
func (c *Cleaner) expire(ctx context.Context) {
	slog.Debug("running pool expiry cycle")

	cutoff := time.Now().UTC().Add(-c.maxAge)
	stale, err := c.repo.ListStalePools(ctx, cutoff)
	if err != nil {
		slog.Error("failed to list stale pools", "error", err)
		return
	}

	if len(stale) == 0 {
		slog.Debug("no stale pools found")
		return
	}

	slog.Info("found stale pools", "count", len(stale))

	for _, pool := range stale {
		closedAt := time.Now().UTC()
		if err := c.repo.ClosePool(ctx, pool.ID, closedAt); err != nil {
			slog.Error("failed to close stale pool",
				"error", err,
				"pool_id", pool.ID,
			)
			continue
		}

		if err := c.broker.Publish(ctx, notify.Event{
			Type:   notify.EventClosed,
			PoolID: pool.ID,
			At:     closedAt,
		}); err != nil {
			slog.Warn("failed to publish pool closed event", "error", err, "pool_id", pool.ID)
		}

		slog.Info("stale pool closed",
			"pool_id", pool.ID,
			"kind", pool.Kind,
			"forfeited_units", pool.Remaining,
			"created_at", pool.CreatedAt,
		)
	}
}

// Package ledger is the stateful allocation component. It spends a pool's
// bounded unit budget across recipients while holding three invariants:
// conservation (units spent plus remaining always equals the pool total),
// no partial fulfilment, and recipient eligibility against the pool's
// owning account.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Kurokamori/reward-engine/internal/models"
	"github.com/Kurokamori/reward-engine/internal/notify"
	"github.com/Kurokamori/reward-engine/internal/storage"
)

// Caller-facing errors; handlers map these to HTTP codes and surface them
// verbatim. The engine never retries on the caller's behalf.
var (
	ErrPoolNotFound        = errors.New("pool not found")
	ErrPoolClosed          = errors.New("pool is closed")
	ErrInsufficientPool    = errors.New("not enough units remaining in pool")
	ErrIneligibleRecipient = errors.New("recipient is not eligible for this pool")
	ErrRecipientNotFound   = errors.New("recipient not found")

	// ErrConcurrencyConflict means the serialization check failed; the
	// caller should retry the whole allocate with fresh remaining data and
	// must not assume partial effect.
	ErrConcurrencyConflict = errors.New("allocation conflicted with a concurrent update")
)

// Ledger coordinates pool spends through the repository's atomic allocate
// and fans events out to watchers
type Ledger struct {
	repo   storage.Repository
	broker notify.Broker
}

// NewLedger creates a ledger over the given repository and event broker
func NewLedger(repo storage.Repository, broker notify.Broker) *Ledger {
	return &Ledger{repo: repo, broker: broker}
}

// Allocate spends units from a pool on one recipient. The request either
// fully applies or applies nothing; the same recipient may be targeted any
// number of times, each call appending a fresh record.
func (l *Ledger) Allocate(ctx context.Context, accountID, poolID string, recipient models.RecipientRef, units int) (*models.AllocationRecord, error) {
	if units <= 0 {
		return nil, fmt.Errorf("%w: units must be positive", ErrInsufficientPool)
	}

	pool, err := l.getOwnedPool(ctx, accountID, poolID)
	if err != nil {
		return nil, err
	}
	if !pool.IsOpen() {
		return nil, ErrPoolClosed
	}
	if units > pool.Remaining {
		return nil, fmt.Errorf("%w: requested %d, remaining %d", ErrInsufficientPool, units, pool.Remaining)
	}

	resolved, err := l.resolveRecipient(ctx, accountID, recipient)
	if err != nil {
		return nil, err
	}

	rec := &models.AllocationRecord{
		ID:           uuid.New().String(),
		PoolID:       poolID,
		Recipient:    resolved,
		Units:        units,
		CoinsAwarded: units * pool.CoinPerUnit,
		CreatedAt:    time.Now().UTC(),
	}

	// Broadcast the remaining count the decrement committed, never an
	// arithmetic guess over the pre-transaction read: concurrent spends
	// would make that guess stale.
	remaining, err := l.repo.AllocateUnits(ctx, rec)
	if err != nil {
		return nil, mapStorageError(err)
	}

	slog.Info("pool units allocated",
		"pool_id", poolID,
		"recipient_kind", resolved.Kind,
		"recipient_id", resolved.ID,
		"units", units,
		"coins", rec.CoinsAwarded,
		"remaining", remaining,
	)

	l.publish(ctx, notify.Event{
		Type:      notify.EventAllocation,
		PoolID:    poolID,
		Remaining: remaining,
		Record:    rec,
		At:        rec.CreatedAt,
	})

	return rec, nil
}

// Close cancels an open pool. Remaining units are permanently forfeited;
// they are never returned to the submission or its capped recipient.
func (l *Ledger) Close(ctx context.Context, accountID, poolID string) (*models.AllocationPool, error) {
	if _, err := l.getOwnedPool(ctx, accountID, poolID); err != nil {
		return nil, err
	}

	closedAt := time.Now().UTC()
	if err := l.repo.ClosePool(ctx, poolID, closedAt); err != nil {
		return nil, mapStorageError(err)
	}

	pool, err := l.repo.GetPool(ctx, poolID)
	if err != nil {
		return nil, mapStorageError(err)
	}

	slog.Info("pool closed",
		"pool_id", poolID,
		"forfeited_units", pool.Remaining,
	)

	l.publish(ctx, notify.Event{
		Type:      notify.EventClosed,
		PoolID:    poolID,
		Remaining: pool.Remaining,
		At:        closedAt,
	})

	return pool, nil
}

// Status returns a pool with its full allocation history and the
// aggregated per-recipient view
func (l *Ledger) Status(ctx context.Context, accountID, poolID string) (*models.PoolStatusResponse, error) {
	pool, err := l.getOwnedPool(ctx, accountID, poolID)
	if err != nil {
		return nil, err
	}

	records, err := l.repo.ListAllocations(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}

	return &models.PoolStatusResponse{
		Pool:      pool,
		Records:   records,
		PerTarget: models.AggregateAllocations(records),
	}, nil
}

// List returns all pools owned by the account
func (l *Ledger) List(ctx context.Context, accountID string) ([]*models.AllocationPool, error) {
	pools, err := l.repo.ListPools(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	return pools, nil
}

// getOwnedPool fetches a pool and hides other accounts' pools behind
// not-found so pool ids don't leak across accounts
func (l *Ledger) getOwnedPool(ctx context.Context, accountID, poolID string) (*models.AllocationPool, error) {
	pool, err := l.repo.GetPool(ctx, poolID)
	if err != nil {
		return nil, mapStorageError(err)
	}
	if pool.AccountID != accountID {
		return nil, ErrPoolNotFound
	}
	return pool, nil
}

// resolveRecipient verifies the recipient exists and belongs to the pool's
// owning account, annotating monster refs with their owner
func (l *Ledger) resolveRecipient(ctx context.Context, accountID string, recipient models.RecipientRef) (models.RecipientRef, error) {
	switch recipient.Kind {
	case models.RecipientTrainer:
		trainer, err := l.repo.GetTrainer(ctx, recipient.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return models.RecipientRef{}, fmt.Errorf("%w: trainer %s", ErrRecipientNotFound, recipient.ID)
			}
			return models.RecipientRef{}, fmt.Errorf("failed to get trainer: %w", err)
		}
		if trainer.AccountID != accountID {
			return models.RecipientRef{}, fmt.Errorf("%w: trainer %s belongs to another account", ErrIneligibleRecipient, recipient.ID)
		}
		return trainer.Ref(), nil

	case models.RecipientMonster:
		monster, err := l.repo.GetMonster(ctx, recipient.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return models.RecipientRef{}, fmt.Errorf("%w: monster %s", ErrRecipientNotFound, recipient.ID)
			}
			return models.RecipientRef{}, fmt.Errorf("failed to get monster: %w", err)
		}
		owner, err := l.repo.GetTrainer(ctx, monster.TrainerID)
		if err != nil {
			return models.RecipientRef{}, fmt.Errorf("failed to get owning trainer: %w", err)
		}
		if owner.AccountID != accountID {
			return models.RecipientRef{}, fmt.Errorf("%w: monster %s is owned by another account's trainer", ErrIneligibleRecipient, recipient.ID)
		}
		return monster.Ref(), nil

	default:
		return models.RecipientRef{}, fmt.Errorf("%w: unknown recipient kind %q", ErrRecipientNotFound, recipient.Kind)
	}
}

func (l *Ledger) publish(ctx context.Context, event notify.Event) {
	if l.broker == nil {
		return
	}
	if err := l.broker.Publish(ctx, event); err != nil {
		slog.Warn("failed to publish pool event", "error", err, "pool_id", event.PoolID)
	}
}

func mapStorageError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrPoolNotFound
	case errors.Is(err, storage.ErrPoolClosed):
		return ErrPoolClosed
	case errors.Is(err, storage.ErrInsufficientUnits):
		return ErrInsufficientPool
	case errors.Is(err, storage.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
	default:
		return err
	}
}

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Kurokamori/reward-engine/internal/models"
)

// Storage-level errors. The ledger maps these onto its caller-facing error
// kinds; handlers never see them directly.
var (
	ErrNotFound          = errors.New("not found")
	ErrPoolClosed        = errors.New("pool is closed")
	ErrInsufficientUnits = errors.New("insufficient pool units")
	ErrConflict          = errors.New("concurrent update conflict")
)

// LevelGrant is one per-recipient level/coin grant applied at finalization
type LevelGrant struct {
	Recipient models.RecipientRef
	Levels    int
	Coins     int
}

// Repository defines the interface for reward persistence
type Repository interface {
	// Accounts
	GetAccountByAPIKey(ctx context.Context, apiKey string) (*models.Account, error)
	UpdateAccountLastUsed(ctx context.Context, apiKey string) error

	// Trainers and monsters
	GetTrainer(ctx context.Context, id string) (*models.Trainer, error)
	ListTrainers(ctx context.Context, accountID string, limit, offset int) ([]*models.Trainer, error)
	GetMonster(ctx context.Context, id string) (*models.Monster, error)
	ListMonsters(ctx context.Context, trainerID string) ([]*models.Monster, error)

	// Submissions
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)

	// FinalizeSubmission persists a submission, its level/coin grants and
	// any opened pools in one transaction.
	FinalizeSubmission(ctx context.Context, sub *models.Submission, grants []LevelGrant, pools []*models.AllocationPool) error

	// Pools and allocations
	GetPool(ctx context.Context, id string) (*models.AllocationPool, error)
	ListPools(ctx context.Context, accountID string) ([]*models.AllocationPool, error)
	ClosePool(ctx context.Context, id string, closedAt time.Time) error
	ListAllocations(ctx context.Context, poolID string) ([]models.AllocationRecord, error)

	// ListStalePools returns open pools created before the cutoff, for the
	// optional expiry worker
	ListStalePools(ctx context.Context, cutoff time.Time) ([]*models.AllocationPool, error)

	// AllocateUnits atomically decrements the pool, appends the record,
	// applies levels to the recipient and credits coins to the recipient's
	// trainer. Either every effect applies or none does. On success the
	// pool's remaining units after the decrement are returned, so watchers
	// see counts consistent with the committed state. Returns ErrPoolClosed,
	// ErrInsufficientUnits or ErrConflict on failure.
	AllocateUnits(ctx context.Context, rec *models.AllocationRecord) (int, error)

	// Health
	Ping(ctx context.Context) error
	Close() error
}

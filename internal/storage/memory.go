package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Kurokamori/reward-engine/internal/levelcap"
	"github.com/Kurokamori/reward-engine/internal/models"
)

// MemoryRepository is a mutex-guarded in-memory Repository. It backs unit
// tests and local development; the mutex gives it the same serializable
// allocate semantics the guarded SQL update gives PostgresRepository.
type MemoryRepository struct {
	mu          sync.Mutex
	accounts    map[string]*models.Account
	trainers    map[string]*models.Trainer
	monsters    map[string]*models.Monster
	submissions map[string]*models.Submission
	pools       map[string]*models.AllocationPool
	allocations map[string][]models.AllocationRecord
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:    make(map[string]*models.Account),
		trainers:    make(map[string]*models.Trainer),
		monsters:    make(map[string]*models.Monster),
		submissions: make(map[string]*models.Submission),
		pools:       make(map[string]*models.AllocationPool),
		allocations: make(map[string][]models.AllocationRecord),
	}
}

// PutAccount stores an account fixture
func (r *MemoryRepository) PutAccount(a *models.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *a
	r.accounts[a.ID] = &copied
}

// PutTrainer stores a trainer fixture
func (r *MemoryRepository) PutTrainer(t *models.Trainer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *t
	r.trainers[t.ID] = &copied
}

// PutMonster stores a monster fixture
func (r *MemoryRepository) PutMonster(m *models.Monster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *m
	r.monsters[m.ID] = &copied
}

// PutPool stores a pool fixture
func (r *MemoryRepository) PutPool(p *models.AllocationPool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *p
	r.pools[p.ID] = &copied
}

// GetAccountByAPIKey retrieves an account by its API key
func (r *MemoryRepository) GetAccountByAPIKey(ctx context.Context, apiKey string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.APIKey == apiKey {
			copied := *a
			return &copied, nil
		}
	}
	return nil, nil
}

// UpdateAccountLastUsed updates the last_used_at timestamp for an account
func (r *MemoryRepository) UpdateAccountLastUsed(ctx context.Context, apiKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, a := range r.accounts {
		if a.APIKey == apiKey {
			a.LastUsedAt = &now
			return nil
		}
	}
	return nil
}

// GetTrainer retrieves a trainer by id
func (r *MemoryRepository) GetTrainer(ctx context.Context, id string) (*models.Trainer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trainers[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *t
	return &copied, nil
}

// ListTrainers returns trainers, optionally filtered by owning account
func (r *MemoryRepository) ListTrainers(ctx context.Context, accountID string, limit, offset int) ([]*models.Trainer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Trainer
	for _, t := range r.trainers {
		if accountID != "" && t.AccountID != accountID {
			continue
		}
		copied := *t
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// GetMonster retrieves a monster by id
func (r *MemoryRepository) GetMonster(ctx context.Context, id string) (*models.Monster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.monsters[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *m
	return &copied, nil
}

// ListMonsters returns all monsters owned by a trainer
func (r *MemoryRepository) ListMonsters(ctx context.Context, trainerID string) ([]*models.Monster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Monster
	for _, m := range r.monsters {
		if m.TrainerID != trainerID {
			continue
		}
		copied := *m
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetSubmission retrieves a finalized submission by id
func (r *MemoryRepository) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.submissions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *sub
	return &copied, nil
}

// FinalizeSubmission persists the submission, grants and pools atomically
func (r *MemoryRepository) FinalizeSubmission(ctx context.Context, sub *models.Submission, grants []LevelGrant, pools []*models.AllocationPool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.submissions[sub.ID]; exists {
		return ErrConflict
	}

	// Validate all grants before applying any, so failure leaves no
	// partial effect
	for _, grant := range grants {
		if err := r.checkGrant(grant); err != nil {
			return err
		}
	}

	copied := *sub
	r.submissions[sub.ID] = &copied

	for _, grant := range grants {
		r.applyGrant(grant)
	}

	for _, pool := range pools {
		copiedPool := *pool
		r.pools[pool.ID] = &copiedPool
	}

	return nil
}

func (r *MemoryRepository) checkGrant(grant LevelGrant) error {
	switch grant.Recipient.Kind {
	case models.RecipientTrainer:
		if _, ok := r.trainers[grant.Recipient.ID]; !ok {
			return ErrNotFound
		}
	case models.RecipientMonster:
		if _, ok := r.monsters[grant.Recipient.ID]; !ok {
			return ErrNotFound
		}
	}
	return nil
}

func (r *MemoryRepository) applyGrant(grant LevelGrant) {
	trainerID := grant.Recipient.ID

	switch grant.Recipient.Kind {
	case models.RecipientTrainer:
		if t, ok := r.trainers[grant.Recipient.ID]; ok && grant.Levels > 0 {
			t.Level = min(t.Level+grant.Levels, levelcap.MaxLevel)
		}
	case models.RecipientMonster:
		if m, ok := r.monsters[grant.Recipient.ID]; ok {
			if grant.Levels > 0 {
				m.Level = min(m.Level+grant.Levels, levelcap.MaxLevel)
			}
			trainerID = m.TrainerID
		}
	}

	if grant.Coins > 0 {
		if t, ok := r.trainers[trainerID]; ok {
			t.Coins += grant.Coins
		}
	}
}

// GetPool retrieves a pool by id
func (r *MemoryRepository) GetPool(ctx context.Context, id string) (*models.AllocationPool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *p
	return &copied, nil
}

// ListPools returns all pools owned by an account, newest first
func (r *MemoryRepository) ListPools(ctx context.Context, accountID string) ([]*models.AllocationPool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.AllocationPool
	for _, p := range r.pools {
		if p.AccountID != accountID {
			continue
		}
		copied := *p
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListStalePools returns open pools created before the cutoff
func (r *MemoryRepository) ListStalePools(ctx context.Context, cutoff time.Time) ([]*models.AllocationPool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.AllocationPool
	for _, p := range r.pools {
		if p.Status == models.PoolOpen && p.CreatedAt.Before(cutoff) {
			copied := *p
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ClosePool cancels an open pool, forfeiting its remaining units
func (r *MemoryRepository) ClosePool(ctx context.Context, id string, closedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pools[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status != models.PoolOpen {
		return ErrPoolClosed
	}

	p.Status = models.PoolClosed
	p.ClosedAt = &closedAt
	return nil
}

// ListAllocations returns a pool's allocation history, oldest first
func (r *MemoryRepository) ListAllocations(ctx context.Context, poolID string) ([]models.AllocationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	records := r.allocations[poolID]
	out := make([]models.AllocationRecord, len(records))
	copy(out, records)
	return out, nil
}

// AllocateUnits spends units from a pool under the repository mutex:
// decrement, append and grant all happen atomically or not at all.
// Returns the remaining units after the decrement.
func (r *MemoryRepository) AllocateUnits(ctx context.Context, rec *models.AllocationRecord) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pools[rec.PoolID]
	if !ok {
		return 0, ErrNotFound
	}
	if p.Status != models.PoolOpen {
		return 0, ErrPoolClosed
	}
	if rec.Units > p.Remaining {
		return 0, ErrInsufficientUnits
	}
	if err := r.checkGrant(LevelGrant{Recipient: rec.Recipient}); err != nil {
		return 0, err
	}

	p.Remaining -= rec.Units
	if p.Remaining == 0 {
		p.Status = models.PoolClosed
		closedAt := rec.CreatedAt
		p.ClosedAt = &closedAt
	}

	r.allocations[rec.PoolID] = append(r.allocations[rec.PoolID], *rec)
	r.applyGrant(LevelGrant{Recipient: rec.Recipient, Levels: rec.Units, Coins: rec.CoinsAwarded})

	return p.Remaining, nil
}

// Ping always succeeds for the in-memory repository
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory repository
func (r *MemoryRepository) Close() error {
	return nil
}

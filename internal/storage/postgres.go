package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Kurokamori/reward-engine/internal/levelcap"
	"github.com/Kurokamori/reward-engine/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int32
	MaxIdleConns int32
	MaxLifetime  time.Duration
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	// Set pool configuration
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	} else {
		poolConfig.MaxConns = 25 // default
	}

	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	} else {
		poolConfig.MinConns = 5 // default
	}

	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// --- Accounts ---

// GetAccountByAPIKey retrieves an account by its API key
func (r *PostgresRepository) GetAccountByAPIKey(ctx context.Context, apiKey string) (*models.Account, error) {
	query := `
		SELECT id, name, api_key, is_active, created_at, last_used_at
		FROM accounts
		WHERE api_key = $1
	`

	var account models.Account
	var lastUsedAt sql.NullTime

	err := r.pool.QueryRow(ctx, query, apiKey).Scan(
		&account.ID,
		&account.Name,
		&account.APIKey,
		&account.IsActive,
		&account.CreatedAt,
		&lastUsedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	if lastUsedAt.Valid {
		account.LastUsedAt = &lastUsedAt.Time
	}

	return &account, nil
}

// UpdateAccountLastUsed updates the last_used_at timestamp for an account
func (r *PostgresRepository) UpdateAccountLastUsed(ctx context.Context, apiKey string) error {
	query := `UPDATE accounts SET last_used_at = NOW() WHERE api_key = $1`

	_, err := r.pool.Exec(ctx, query, apiKey)
	if err != nil {
		return fmt.Errorf("failed to update account last_used_at: %w", err)
	}

	return nil
}

// --- Trainers and monsters ---

// GetTrainer retrieves a trainer by id
func (r *PostgresRepository) GetTrainer(ctx context.Context, id string) (*models.Trainer, error) {
	query := `
		SELECT id, account_id, name, level, coins, created_at
		FROM trainers
		WHERE id = $1
	`

	var t models.Trainer
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&t.ID,
		&t.AccountID,
		&t.Name,
		&t.Level,
		&t.Coins,
		&t.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get trainer: %w", err)
	}

	return &t, nil
}

// ListTrainers returns trainers, optionally filtered by owning account
func (r *PostgresRepository) ListTrainers(ctx context.Context, accountID string, limit, offset int) ([]*models.Trainer, error) {
	query := `
		SELECT id, account_id, name, level, coins, created_at
		FROM trainers
		WHERE 1=1
	`
	args := make([]interface{}, 0)
	argNum := 1

	if accountID != "" {
		query += fmt.Sprintf(" AND account_id = $%d", argNum)
		args = append(args, accountID)
		argNum++
	}

	query += " ORDER BY created_at ASC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, limit)
		argNum++
	}

	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list trainers: %w", err)
	}
	defer rows.Close()

	var trainers []*models.Trainer
	for rows.Next() {
		var t models.Trainer
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Name, &t.Level, &t.Coins, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trainer: %w", err)
		}
		trainers = append(trainers, &t)
	}

	return trainers, rows.Err()
}

// GetMonster retrieves a monster by id
func (r *PostgresRepository) GetMonster(ctx context.Context, id string) (*models.Monster, error) {
	query := `
		SELECT id, trainer_id, name, species, level, created_at
		FROM monsters
		WHERE id = $1
	`

	var m models.Monster
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&m.ID,
		&m.TrainerID,
		&m.Name,
		&m.Species,
		&m.Level,
		&m.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get monster: %w", err)
	}

	return &m, nil
}

// ListMonsters returns all monsters owned by a trainer
func (r *PostgresRepository) ListMonsters(ctx context.Context, trainerID string) ([]*models.Monster, error) {
	query := `
		SELECT id, trainer_id, name, species, level, created_at
		FROM monsters
		WHERE trainer_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, trainerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list monsters: %w", err)
	}
	defer rows.Close()

	var monsters []*models.Monster
	for rows.Next() {
		var m models.Monster
		if err := rows.Scan(&m.ID, &m.TrainerID, &m.Name, &m.Species, &m.Level, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan monster: %w", err)
		}
		monsters = append(monsters, &m)
	}

	return monsters, rows.Err()
}

// --- Submissions ---

// GetSubmission retrieves a finalized submission by id
func (r *PostgresRepository) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	query := `
		SELECT id, account_id, kind, attributes, bundle, finalized_at
		FROM submissions
		WHERE id = $1
	`

	var sub models.Submission
	var kindStr string
	var attrsJSON, bundleJSON []byte

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&sub.ID,
		&sub.AccountID,
		&kindStr,
		&attrsJSON,
		&bundleJSON,
		&sub.FinalizedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}

	sub.Kind = models.SubmissionKind(kindStr)

	if err := json.Unmarshal(attrsJSON, &sub.Attributes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
	}
	if bundleJSON != nil {
		if err := json.Unmarshal(bundleJSON, &sub.Bundle); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bundle: %w", err)
		}
	}

	return &sub, nil
}

// FinalizeSubmission persists the submission, applies every level/coin
// grant and opens the given pools in a single transaction
func (r *PostgresRepository) FinalizeSubmission(ctx context.Context, sub *models.Submission, grants []LevelGrant, pools []*models.AllocationPool) error {
	attrsJSON, err := json.Marshal(sub.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}

	bundleJSON, err := json.Marshal(sub.Bundle)
	if err != nil {
		return fmt.Errorf("failed to marshal bundle: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO submissions (id, account_id, kind, attributes, bundle, finalized_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := tx.Exec(ctx, query,
		sub.ID,
		sub.AccountID,
		string(sub.Kind),
		attrsJSON,
		bundleJSON,
		sub.FinalizedAt,
	); err != nil {
		return fmt.Errorf("failed to create submission: %w", wrapConflict(err))
	}

	for _, grant := range grants {
		if err := applyGrant(ctx, tx, grant); err != nil {
			return err
		}
	}

	for _, pool := range pools {
		query := `
			INSERT INTO pools (id, submission_id, account_id, kind, total_units, remaining, coin_per_unit, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		if _, err := tx.Exec(ctx, query,
			pool.ID,
			pool.SubmissionID,
			pool.AccountID,
			string(pool.Kind),
			pool.TotalUnits,
			pool.Remaining,
			pool.CoinPerUnit,
			string(pool.Status),
			pool.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to create pool: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit finalization: %w", wrapConflict(err))
	}

	return nil
}

// applyGrant bumps the recipient's level (clamped at the cap) and credits
// coins to the recipient's trainer
func applyGrant(ctx context.Context, tx pgx.Tx, grant LevelGrant) error {
	trainerID := grant.Recipient.ID

	switch grant.Recipient.Kind {
	case models.RecipientTrainer:
		if grant.Levels > 0 {
			query := `UPDATE trainers SET level = LEAST(level + $2, $3) WHERE id = $1`
			tag, err := tx.Exec(ctx, query, grant.Recipient.ID, grant.Levels, levelcap.MaxLevel)
			if err != nil {
				return fmt.Errorf("failed to apply trainer levels: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("trainer %s: %w", grant.Recipient.ID, ErrNotFound)
			}
		}

	case models.RecipientMonster:
		if grant.Levels > 0 {
			query := `UPDATE monsters SET level = LEAST(level + $2, $3) WHERE id = $1`
			tag, err := tx.Exec(ctx, query, grant.Recipient.ID, grant.Levels, levelcap.MaxLevel)
			if err != nil {
				return fmt.Errorf("failed to apply monster levels: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("monster %s: %w", grant.Recipient.ID, ErrNotFound)
			}
		}
		trainerID = grant.Recipient.OwnerTrainerID

	default:
		return fmt.Errorf("unknown recipient kind %q", grant.Recipient.Kind)
	}

	if grant.Coins > 0 && trainerID != "" {
		query := `UPDATE trainers SET coins = coins + $2 WHERE id = $1`
		tag, err := tx.Exec(ctx, query, trainerID, grant.Coins)
		if err != nil {
			return fmt.Errorf("failed to credit coins: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("trainer %s: %w", trainerID, ErrNotFound)
		}
	}

	return nil
}

// --- Pools and allocations ---

// GetPool retrieves a pool by id
func (r *PostgresRepository) GetPool(ctx context.Context, id string) (*models.AllocationPool, error) {
	return getPool(ctx, r.pool, id)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getPool(ctx context.Context, q queryRower, id string) (*models.AllocationPool, error) {
	query := `
		SELECT id, submission_id, account_id, kind, total_units, remaining, coin_per_unit, status, created_at, closed_at
		FROM pools
		WHERE id = $1
	`

	var p models.AllocationPool
	var kindStr, statusStr string
	var closedAt sql.NullTime

	err := q.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.SubmissionID,
		&p.AccountID,
		&kindStr,
		&p.TotalUnits,
		&p.Remaining,
		&p.CoinPerUnit,
		&statusStr,
		&p.CreatedAt,
		&closedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pool: %w", err)
	}

	p.Kind = models.PoolKind(kindStr)
	p.Status = models.PoolStatus(statusStr)
	if closedAt.Valid {
		p.ClosedAt = &closedAt.Time
	}

	return &p, nil
}

// ListPools returns all pools owned by an account, newest first
func (r *PostgresRepository) ListPools(ctx context.Context, accountID string) ([]*models.AllocationPool, error) {
	query := `
		SELECT id, submission_id, account_id, kind, total_units, remaining, coin_per_unit, status, created_at, closed_at
		FROM pools
		WHERE account_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	defer rows.Close()

	var pools []*models.AllocationPool
	for rows.Next() {
		var p models.AllocationPool
		var kindStr, statusStr string
		var closedAt sql.NullTime

		if err := rows.Scan(
			&p.ID,
			&p.SubmissionID,
			&p.AccountID,
			&kindStr,
			&p.TotalUnits,
			&p.Remaining,
			&p.CoinPerUnit,
			&statusStr,
			&p.CreatedAt,
			&closedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pool: %w", err)
		}

		p.Kind = models.PoolKind(kindStr)
		p.Status = models.PoolStatus(statusStr)
		if closedAt.Valid {
			p.ClosedAt = &closedAt.Time
		}

		pools = append(pools, &p)
	}

	return pools, rows.Err()
}

// ListStalePools returns open pools created before the cutoff
func (r *PostgresRepository) ListStalePools(ctx context.Context, cutoff time.Time) ([]*models.AllocationPool, error) {
	query := `
		SELECT id, submission_id, account_id, kind, total_units, remaining, coin_per_unit, status, created_at, closed_at
		FROM pools
		WHERE status = 'open' AND created_at < $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pools: %w", err)
	}
	defer rows.Close()

	var pools []*models.AllocationPool
	for rows.Next() {
		var p models.AllocationPool
		var kindStr, statusStr string
		var closedAt sql.NullTime

		if err := rows.Scan(
			&p.ID,
			&p.SubmissionID,
			&p.AccountID,
			&kindStr,
			&p.TotalUnits,
			&p.Remaining,
			&p.CoinPerUnit,
			&statusStr,
			&p.CreatedAt,
			&closedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pool: %w", err)
		}

		p.Kind = models.PoolKind(kindStr)
		p.Status = models.PoolStatus(statusStr)
		if closedAt.Valid {
			p.ClosedAt = &closedAt.Time
		}

		pools = append(pools, &p)
	}

	return pools, rows.Err()
}

// ClosePool cancels an open pool. Remaining units are forfeited; the row
// keeps its remaining count for history but no further allocation succeeds.
func (r *PostgresRepository) ClosePool(ctx context.Context, id string, closedAt time.Time) error {
	query := `
		UPDATE pools
		SET status = 'closed', closed_at = $2
		WHERE id = $1 AND status = 'open'
	`

	tag, err := r.pool.Exec(ctx, query, id, closedAt)
	if err != nil {
		return fmt.Errorf("failed to close pool: %w", err)
	}

	if tag.RowsAffected() == 0 {
		if _, err := r.GetPool(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrPoolClosed
	}

	return nil
}

// ListAllocations returns a pool's full allocation history, oldest first
func (r *PostgresRepository) ListAllocations(ctx context.Context, poolID string) ([]models.AllocationRecord, error) {
	query := `
		SELECT a.id, a.pool_id, a.recipient_kind, a.recipient_id, a.units, a.coins_awarded, a.created_at,
		       COALESCE(m.trainer_id, '')
		FROM allocations a
		LEFT JOIN monsters m ON a.recipient_kind = 'monster' AND m.id = a.recipient_id
		WHERE a.pool_id = $1
		ORDER BY a.created_at ASC, a.id ASC
	`

	rows, err := r.pool.Query(ctx, query, poolID)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	defer rows.Close()

	var records []models.AllocationRecord
	for rows.Next() {
		var rec models.AllocationRecord
		var kindStr string

		if err := rows.Scan(
			&rec.ID,
			&rec.PoolID,
			&kindStr,
			&rec.Recipient.ID,
			&rec.Units,
			&rec.CoinsAwarded,
			&rec.CreatedAt,
			&rec.Recipient.OwnerTrainerID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}

		rec.Recipient.Kind = models.RecipientKind(kindStr)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// AllocateUnits spends units from a pool in one transaction: a guarded
// decrement serializes concurrent spends so two requests can never both
// take a pool's final unit. Returns the pool's remaining units after the
// decrement.
func (r *PostgresRepository) AllocateUnits(ctx context.Context, rec *models.AllocationRecord) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Guarded decrement: zero rows means closed, missing or not enough left
	decrement := `
		UPDATE pools
		SET remaining = remaining - $2
		WHERE id = $1 AND status = 'open' AND remaining >= $2
		RETURNING remaining
	`

	var remaining int
	err = tx.QueryRow(ctx, decrement, rec.PoolID, rec.Units).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			pool, getErr := getPool(ctx, tx, rec.PoolID)
			if getErr != nil {
				return 0, getErr
			}
			if !pool.IsOpen() {
				return 0, ErrPoolClosed
			}
			return 0, ErrInsufficientUnits
		}
		return 0, fmt.Errorf("failed to decrement pool: %w", wrapConflict(err))
	}

	// Pool closes automatically once fully spent
	if remaining == 0 {
		query := `UPDATE pools SET status = 'closed', closed_at = $2 WHERE id = $1`
		if _, err := tx.Exec(ctx, query, rec.PoolID, rec.CreatedAt); err != nil {
			return 0, fmt.Errorf("failed to auto-close pool: %w", err)
		}
	}

	query := `
		INSERT INTO allocations (id, pool_id, recipient_kind, recipient_id, units, coins_awarded, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := tx.Exec(ctx, query,
		rec.ID,
		rec.PoolID,
		string(rec.Recipient.Kind),
		rec.Recipient.ID,
		rec.Units,
		rec.CoinsAwarded,
		rec.CreatedAt,
	); err != nil {
		return 0, fmt.Errorf("failed to create allocation: %w", wrapConflict(err))
	}

	grant := LevelGrant{Recipient: rec.Recipient, Levels: rec.Units, Coins: rec.CoinsAwarded}
	if err := applyGrant(ctx, tx, grant); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit allocation: %w", wrapConflict(err))
	}

	return remaining, nil
}

// wrapConflict maps database serialization failures to ErrConflict so
// callers can retry the whole operation with fresh state
func wrapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected, unique_violation
		if pgErr.Code == "40001" || pgErr.Code == "40P01" || pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}
	return err
}

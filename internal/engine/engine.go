// Package engine assembles reward bundles: one scoring pass, a cap check
// per recipient, and the derived redistributable and gift pools. Calculate
// is a pure preview; Finalize is the single point where a bundle becomes
// durable.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Kurokamori/reward-engine/internal/levelcap"
	"github.com/Kurokamori/reward-engine/internal/models"
	"github.com/Kurokamori/reward-engine/internal/scoring"
	"github.com/Kurokamori/reward-engine/internal/storage"
)

// ErrAlreadyFinalized reports a finalize call reusing a submission id
var ErrAlreadyFinalized = errors.New("submission already finalized")

// Engine computes and finalizes reward bundles
type Engine struct {
	scorer *scoring.Scorer
	repo   storage.Repository
}

// NewEngine creates an engine over the given scorer and repository
func NewEngine(scorer *scoring.Scorer, repo storage.Repository) *Engine {
	return &Engine{scorer: scorer, repo: repo}
}

// Calculate scores a submission and caps every recipient's requested
// levels against their current level. Nothing is persisted: calling it
// repeatedly with the same attributes and unchanged recipient levels
// returns identical bundles.
func (e *Engine) Calculate(ctx context.Context, accountID string, attrs models.SubmissionAttributes) (*models.RewardBundle, error) {
	raw, err := e.scorer.Score(ctx, attrs)
	if err != nil {
		return nil, err
	}

	lines := make([]models.RewardLine, 0, len(raw.PerEntity))
	redistributable := 0
	coins := 0

	for _, entity := range raw.PerEntity {
		resolved, currentLevel, err := e.lookupRecipient(ctx, accountID, entity.Recipient)
		if err != nil {
			return nil, err
		}

		capped := levelcap.Apply(currentLevel, entity.Levels)
		line := models.RewardLine{
			Recipient:       resolved,
			LevelsRequested: entity.Levels,
			LevelsApplied:   capped.Applied,
			ExcessLevels:    capped.Excess,
			Coins:           capped.Applied * scoring.CoinsPerLevel,
		}
		lines = append(lines, line)

		// Floor per recipient, never floor of the summed excess
		redistributable += levelcap.Redistributable(capped.Excess)
		coins += line.Coins
	}

	return &models.RewardBundle{
		Kind:                attrs.Kind,
		OverallLevels:       raw.OverallLevels,
		Coins:               coins,
		Lines:               lines,
		RedistributablePool: redistributable,
		GiftLevels:          raw.GiftLevels,
		Secondary:           raw.Secondary,
	}, nil
}

// Finalize recomputes the bundle, persists every grant and opens one pool
// per pool type with nonzero units, all atomically. The returned pools are
// ready for ledger allocation.
func (e *Engine) Finalize(ctx context.Context, accountID, submissionID string, attrs models.SubmissionAttributes) (*models.FinalizeResponse, error) {
	bundle, err := e.Calculate(ctx, accountID, attrs)
	if err != nil {
		return nil, err
	}

	if submissionID == "" {
		submissionID = uuid.New().String()
	}

	now := time.Now().UTC()
	sub := &models.Submission{
		ID:          submissionID,
		AccountID:   accountID,
		Kind:        attrs.Kind,
		Attributes:  attrs,
		Bundle:      bundle,
		FinalizedAt: now,
	}

	grants := make([]storage.LevelGrant, 0, len(bundle.Lines))
	for _, line := range bundle.Lines {
		grants = append(grants, storage.LevelGrant{
			Recipient: line.Recipient,
			Levels:    line.LevelsApplied,
			Coins:     line.Coins,
		})
	}

	var pools []*models.AllocationPool

	if bundle.RedistributablePool > 0 {
		pools = append(pools, &models.AllocationPool{
			ID:           uuid.New().String(),
			SubmissionID: submissionID,
			AccountID:    accountID,
			Kind:         models.PoolCapped,
			TotalUnits:   bundle.RedistributablePool,
			Remaining:    bundle.RedistributablePool,
			CoinPerUnit:  0,
			Status:       models.PoolOpen,
			CreatedAt:    now,
		})
	}

	if bundle.GiftLevels > 0 {
		pools = append(pools, &models.AllocationPool{
			ID:           uuid.New().String(),
			SubmissionID: submissionID,
			AccountID:    accountID,
			Kind:         models.PoolGift,
			TotalUnits:   bundle.GiftLevels,
			Remaining:    bundle.GiftLevels,
			CoinPerUnit:  scoring.CoinsPerLevel,
			Status:       models.PoolOpen,
			CreatedAt:    now,
		})
	}

	if err := e.repo.FinalizeSubmission(ctx, sub, grants, pools); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyFinalized, submissionID)
		}
		return nil, fmt.Errorf("failed to finalize submission: %w", err)
	}

	slog.Info("submission finalized",
		"submission_id", submissionID,
		"kind", attrs.Kind,
		"overall_levels", bundle.OverallLevels,
		"coins", bundle.Coins,
		"pools", len(pools),
	)

	return &models.FinalizeResponse{
		SubmissionID: submissionID,
		Bundle:       bundle,
		Pools:        pools,
	}, nil
}

// lookupRecipient fetches the recipient's current level and annotates
// monster refs with their owning trainer. A recipient that does not exist,
// or that belongs to another account, makes the submission unscoreable:
// rewards never cross account boundaries, here or in the ledger.
func (e *Engine) lookupRecipient(ctx context.Context, accountID string, ref models.RecipientRef) (models.RecipientRef, int, error) {
	switch ref.Kind {
	case models.RecipientTrainer:
		trainer, err := e.repo.GetTrainer(ctx, ref.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return models.RecipientRef{}, 0, fmt.Errorf("%w: unknown trainer %s", scoring.ErrInvalidAttributes, ref.ID)
			}
			return models.RecipientRef{}, 0, fmt.Errorf("failed to get trainer: %w", err)
		}
		if trainer.AccountID != accountID {
			return models.RecipientRef{}, 0, fmt.Errorf("%w: trainer %s belongs to another account", scoring.ErrInvalidAttributes, ref.ID)
		}
		return trainer.Ref(), trainer.Level, nil

	case models.RecipientMonster:
		monster, err := e.repo.GetMonster(ctx, ref.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return models.RecipientRef{}, 0, fmt.Errorf("%w: unknown monster %s", scoring.ErrInvalidAttributes, ref.ID)
			}
			return models.RecipientRef{}, 0, fmt.Errorf("failed to get monster: %w", err)
		}
		owner, err := e.repo.GetTrainer(ctx, monster.TrainerID)
		if err != nil {
			return models.RecipientRef{}, 0, fmt.Errorf("failed to get owning trainer: %w", err)
		}
		if owner.AccountID != accountID {
			return models.RecipientRef{}, 0, fmt.Errorf("%w: monster %s is owned by another account's trainer", scoring.ErrInvalidAttributes, ref.ID)
		}
		return monster.Ref(), monster.Level, nil

	default:
		return models.RecipientRef{}, 0, fmt.Errorf("%w: unknown recipient kind %q", scoring.ErrInvalidAttributes, ref.Kind)
	}
}

package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/Kurokamori/reward-engine/internal/models"
	"github.com/Kurokamori/reward-engine/internal/scoring"
	"github.com/Kurokamori/reward-engine/internal/storage"
	"github.com/Kurokamori/reward-engine/internal/tables"
)

const testAccount = "acct-1"

func newTestEngine(t *testing.T) (*Engine, *storage.MemoryRepository) {
	t.Helper()

	repo := storage.NewMemoryRepository()
	repo.PutAccount(&models.Account{ID: testAccount, Name: "test", APIKey: "sk_test", IsActive: true})
	repo.PutTrainer(&models.Trainer{ID: "t1", AccountID: testAccount, Name: "Aster", Level: 10})
	repo.PutTrainer(&models.Trainer{ID: "t98", AccountID: testAccount, Name: "Rowan", Level: 98})
	repo.PutMonster(&models.Monster{ID: "m1", TrainerID: "t1", Name: "Cinderpaw", Level: 97})

	repo.PutAccount(&models.Account{ID: "acct-2", Name: "other", APIKey: "sk_other", IsActive: true})
	repo.PutTrainer(&models.Trainer{ID: "tx", AccountID: "acct-2", Name: "Vale", Level: 10})
	repo.PutMonster(&models.Monster{ID: "mx", TrainerID: "tx", Name: "Thornback", Level: 10})

	scorer := scoring.NewScorer(tables.NewLoader(), nil)
	return NewEngine(scorer, repo), repo
}

func writingAttrs(words int, recipients ...models.RecipientRef) models.SubmissionAttributes {
	return models.SubmissionAttributes{
		Kind:       models.SubmissionWriting,
		WordCount:  words,
		Recipients: recipients,
	}
}

func TestCalculateCapsPerRecipient(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	// 500 words request 5 levels; the trainer at 98 absorbs only 2
	bundle, err := engine.Calculate(ctx, testAccount, writingAttrs(500,
		models.RecipientRef{Kind: models.RecipientTrainer, ID: "t98"},
	))
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}

	if len(bundle.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(bundle.Lines))
	}
	line := bundle.Lines[0]
	if line.LevelsRequested != 5 {
		t.Errorf("requested = %d, want 5", line.LevelsRequested)
	}
	if line.LevelsApplied != 2 {
		t.Errorf("applied = %d, want 2", line.LevelsApplied)
	}
	if line.ExcessLevels != 3 {
		t.Errorf("excess = %d, want 3", line.ExcessLevels)
	}
	if line.Coins != 2*scoring.CoinsPerLevel {
		t.Errorf("coins = %d, want %d", line.Coins, 2*scoring.CoinsPerLevel)
	}

	// 3 excess converts to floor(3/2) = 1 pool unit
	if bundle.RedistributablePool != 1 {
		t.Errorf("redistributable = %d, want 1", bundle.RedistributablePool)
	}
}

func TestCalculateFloorsExcessPerRecipient(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	// Both recipients carry 3 excess each; per-recipient flooring yields
	// 1 + 1, never floor(6/2) = 3
	bundle, err := engine.Calculate(ctx, testAccount, writingAttrs(500,
		models.RecipientRef{Kind: models.RecipientTrainer, ID: "t98"},
		models.RecipientRef{Kind: models.RecipientMonster, ID: "m1"},
	))
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}

	if bundle.Lines[1].LevelsApplied != 3 || bundle.Lines[1].ExcessLevels != 2 {
		t.Errorf("monster line = %+v, want applied 3 excess 2", bundle.Lines[1])
	}
	// trainer excess 3 -> 1 unit, monster excess 2 -> 1 unit
	if bundle.RedistributablePool != 2 {
		t.Errorf("redistributable = %d, want 2", bundle.RedistributablePool)
	}
}

func TestCalculateIsIdempotent(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	attrs := writingAttrs(500,
		models.RecipientRef{Kind: models.RecipientTrainer, ID: "t1"},
		models.RecipientRef{Kind: models.RecipientMonster, ID: "m1"},
	)

	first, err := engine.Calculate(ctx, testAccount, attrs)
	if err != nil {
		t.Fatal(err)
	}
	second, err := engine.Calculate(ctx, testAccount, attrs)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated previews differ:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestCalculateUnknownRecipient(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Calculate(ctx, testAccount, writingAttrs(200,
		models.RecipientRef{Kind: models.RecipientTrainer, ID: "ghost"},
	))
	if !errors.Is(err, scoring.ErrInvalidAttributes) {
		t.Errorf("expected ErrInvalidAttributes, got %v", err)
	}
}

func TestCalculateForeignRecipient(t *testing.T) {
	engine, repo := newTestEngine(t)
	ctx := context.Background()

	for _, ref := range []models.RecipientRef{
		{Kind: models.RecipientTrainer, ID: "tx"},
		{Kind: models.RecipientMonster, ID: "mx"},
	} {
		_, err := engine.Calculate(ctx, testAccount, writingAttrs(500, ref))
		if !errors.Is(err, scoring.ErrInvalidAttributes) {
			t.Errorf("Calculate(%s %s): expected ErrInvalidAttributes, got %v", ref.Kind, ref.ID, err)
		}
	}

	// Finalize must refuse the same way and leave the other account's
	// trainer untouched
	_, err := engine.Finalize(ctx, testAccount, "sub-x", writingAttrs(500,
		models.RecipientRef{Kind: models.RecipientTrainer, ID: "tx"},
	))
	if !errors.Is(err, scoring.ErrInvalidAttributes) {
		t.Fatalf("Finalize: expected ErrInvalidAttributes, got %v", err)
	}

	trainer, _ := repo.GetTrainer(ctx, "tx")
	if trainer.Level != 10 || trainer.Coins != 0 {
		t.Errorf("foreign trainer = level %d coins %d, want untouched 10/0", trainer.Level, trainer.Coins)
	}
}

func TestFinalizeAppliesGrantsAndOpensPools(t *testing.T) {
	engine, repo := newTestEngine(t)
	ctx := context.Background()

	resp, err := engine.Finalize(ctx, testAccount, "sub-1", writingAttrs(500,
		models.RecipientRef{Kind: models.RecipientTrainer, ID: "t98"},
	))
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if resp.SubmissionID != "sub-1" {
		t.Errorf("submission id = %s, want sub-1", resp.SubmissionID)
	}

	sub, err := repo.GetSubmission(ctx, "sub-1")
	if err != nil {
		t.Fatalf("submission not persisted: %v", err)
	}
	if sub.Kind != models.SubmissionWriting {
		t.Errorf("submission kind = %s", sub.Kind)
	}

	trainer, _ := repo.GetTrainer(ctx, "t98")
	if trainer.Level != 100 {
		t.Errorf("trainer level = %d, want capped 100", trainer.Level)
	}
	if trainer.Coins != 2*scoring.CoinsPerLevel {
		t.Errorf("trainer coins = %d, want %d", trainer.Coins, 2*scoring.CoinsPerLevel)
	}

	if len(resp.Pools) != 1 {
		t.Fatalf("expected 1 pool, got %d", len(resp.Pools))
	}
	pool := resp.Pools[0]
	if pool.Kind != models.PoolCapped {
		t.Errorf("pool kind = %s, want capped", pool.Kind)
	}
	if pool.TotalUnits != 1 || pool.Remaining != 1 {
		t.Errorf("pool units = %d/%d, want 1/1", pool.Remaining, pool.TotalUnits)
	}
	if pool.CoinPerUnit != 0 {
		t.Errorf("capped pool coin rate = %d, want 0", pool.CoinPerUnit)
	}

	stored, err := repo.GetPool(ctx, pool.ID)
	if err != nil {
		t.Fatalf("pool not persisted: %v", err)
	}
	if !stored.IsOpen() {
		t.Error("persisted pool should be open")
	}
}

func TestFinalizeOpensGiftPool(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	custom := 9
	resp, err := engine.Finalize(ctx, testAccount, "", models.SubmissionAttributes{
		Kind:         models.SubmissionReference,
		CustomLevels: &custom,
		Recipients: []models.RecipientRef{
			{Kind: models.RecipientTrainer, ID: "t1"},
		},
	})
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if resp.SubmissionID == "" {
		t.Error("expected a generated submission id")
	}
	if len(resp.Pools) != 1 {
		t.Fatalf("expected 1 pool, got %d", len(resp.Pools))
	}
	pool := resp.Pools[0]
	if pool.Kind != models.PoolGift {
		t.Errorf("pool kind = %s, want gift", pool.Kind)
	}
	if pool.TotalUnits != 4 {
		t.Errorf("gift pool units = %d, want 4", pool.TotalUnits)
	}
	if pool.CoinPerUnit != scoring.CoinsPerLevel {
		t.Errorf("gift pool coin rate = %d, want %d", pool.CoinPerUnit, scoring.CoinsPerLevel)
	}
}

func TestFinalizeWithoutOverflowOpensNoPools(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	resp, err := engine.Finalize(ctx, testAccount, "", writingAttrs(300,
		models.RecipientRef{Kind: models.RecipientTrainer, ID: "t1"},
	))
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if len(resp.Pools) != 0 {
		t.Errorf("expected no pools, got %d", len(resp.Pools))
	}
}

func TestFinalizeAtMostOnce(t *testing.T) {
	engine, repo := newTestEngine(t)
	ctx := context.Background()
	attrs := writingAttrs(300, models.RecipientRef{Kind: models.RecipientTrainer, ID: "t1"})

	if _, err := engine.Finalize(ctx, testAccount, "sub-1", attrs); err != nil {
		t.Fatalf("first Finalize failed: %v", err)
	}

	_, err := engine.Finalize(ctx, testAccount, "sub-1", attrs)
	if !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}

	// The duplicate must not double-apply grants
	trainer, _ := repo.GetTrainer(ctx, "t1")
	if trainer.Level != 13 {
		t.Errorf("trainer level = %d, want 13 after a single grant", trainer.Level)
	}
}

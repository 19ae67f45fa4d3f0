package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Kurokamori/reward-engine/internal/models"
	"github.com/Kurokamori/reward-engine/internal/notify"
	"github.com/Kurokamori/reward-engine/internal/storage"
)

const (
	testAccount  = "acct-1"
	otherAccount = "acct-2"
)

func newTestLedger(t *testing.T) (*Ledger, *storage.MemoryRepository, *notify.MemoryBroker) {
	t.Helper()

	repo := storage.NewMemoryRepository()
	repo.PutAccount(&models.Account{ID: testAccount, Name: "test", APIKey: "sk_test", IsActive: true})
	repo.PutAccount(&models.Account{ID: otherAccount, Name: "other", APIKey: "sk_other", IsActive: true})

	repo.PutTrainer(&models.Trainer{ID: "t1", AccountID: testAccount, Name: "Aster", Level: 10})
	repo.PutTrainer(&models.Trainer{ID: "t2", AccountID: otherAccount, Name: "Rival", Level: 10})
	repo.PutMonster(&models.Monster{ID: "m1", TrainerID: "t1", Name: "Cinderpaw", Level: 8})
	repo.PutMonster(&models.Monster{ID: "m2", TrainerID: "t2", Name: "Stray", Level: 8})

	broker := notify.NewMemoryBroker()
	return NewLedger(repo, broker), repo, broker
}

func putPool(repo *storage.MemoryRepository, id string, units, coinPerUnit int) {
	repo.PutPool(&models.AllocationPool{
		ID:          id,
		AccountID:   testAccount,
		Kind:        models.PoolGift,
		TotalUnits:  units,
		Remaining:   units,
		CoinPerUnit: coinPerUnit,
		Status:      models.PoolOpen,
		CreatedAt:   time.Now().UTC(),
	})
}

func TestAllocateSpendsUnits(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	ctx := context.Background()
	putPool(repo, "p1", 10, 50)

	rec, err := ledger.Allocate(ctx, testAccount, "p1", models.RecipientRef{Kind: models.RecipientTrainer, ID: "t1"}, 4)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if rec.Units != 4 {
		t.Errorf("record units = %d, want 4", rec.Units)
	}
	if rec.CoinsAwarded != 200 {
		t.Errorf("coins awarded = %d, want 200", rec.CoinsAwarded)
	}

	pool, err := repo.GetPool(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if pool.Remaining != 6 {
		t.Errorf("remaining = %d, want 6", pool.Remaining)
	}

	trainer, err := repo.GetTrainer(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if trainer.Level != 14 {
		t.Errorf("trainer level = %d, want 14", trainer.Level)
	}
	if trainer.Coins != 200 {
		t.Errorf("trainer coins = %d, want 200", trainer.Coins)
	}
}

func TestAllocateToMonsterCreditsOwner(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	ctx := context.Background()
	putPool(repo, "p1", 10, 50)

	_, err := ledger.Allocate(ctx, testAccount, "p1", models.RecipientRef{Kind: models.RecipientMonster, ID: "m1"}, 3)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	monster, _ := repo.GetMonster(ctx, "m1")
	if monster.Level != 11 {
		t.Errorf("monster level = %d, want 11", monster.Level)
	}

	// Coins always land on a trainer
	owner, _ := repo.GetTrainer(ctx, "t1")
	if owner.Coins != 150 {
		t.Errorf("owner coins = %d, want 150", owner.Coins)
	}
}

func TestAllocateConservation(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	ctx := context.Background()
	putPool(repo, "p1", 20, 0)

	spent := 0
	for _, units := range []int{3, 5, 1, 4} {
		if _, err := ledger.Allocate(ctx, testAccount, "p1", models.RecipientRef{Kind: models.RecipientTrainer, ID: "t1"}, units); err != nil {
			t.Fatalf("Allocate(%d) failed: %v", units, err)
		}
		spent += units

		pool, _ := repo.GetPool(ctx, "p1")
		if spent+pool.Remaining != 20 {
			t.Fatalf("conservation broken: spent %d + remaining %d != 20", spent, pool.Remaining)
		}
	}
}

func TestAllocateOverdraw(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	ctx := context.Background()
	putPool(repo, "p1", 5, 0)

	_, err := ledger.Allocate(ctx, testAccount, "p1", models.RecipientRef{Kind: models.RecipientTrainer, ID: "t1"}, 6)
	if !errors.Is(err, ErrInsufficientPool) {
		t.Fatalf("expected ErrInsufficientPool, got %v", err)
	}

	// No partial effect
	pool, _ := repo.GetPool(ctx, "p1")
	if pool.Remaining != 5 {
		t.Errorf("remaining = %d, want untouched 5", pool.Remaining)
	}
	records, _ := repo.ListAllocations(ctx, "p1")
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
	trainer, _ := repo.GetTrainer(ctx, "t1")
	if trainer.Level != 10 {
		t.Errorf("trainer level = %d, want untouched 10", trainer.Level)
	}
}

func TestAllocateNonPositiveUnits(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	ctx := context.Background()
	putPool(repo, "p1", 5, 0)

	for _, units := range []int{0, -3} {
		_, err := ledger.Allocate(ctx, testAccount, "p1", models.RecipientRef{Kind: models.RecipientTrainer, ID: "t1"}, units)
		if !errors.Is(err, ErrInsufficientPool) {
			t.Errorf("Allocate(%d): expected ErrInsufficientPool, got %v", units, err)
		}
	}
}

func TestAllocateEligibility(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	ctx := context.Background()
	putPool(repo, "p1", 10, 0)

	// Another account's trainer is never eligible, regardless of remaining
	_, err := ledger.Allocate(ctx, testAccount, "p1", models.RecipientRef{Kind: models.RecipientTrainer, ID: "t2"}, 1)
	if !errors.Is(err, ErrIneligibleRecipient) {
		t.Errorf("expected ErrIneligibleRecipient for foreign trainer, got %v", err)
	}

	// Same for a monster owned by another account's trainer
	_, err = ledger.Allocate(ctx, testAccount, "p1", models.RecipientRef{Kind: models.RecipientMonster, ID: "m2"}, 1)
	if !errors.Is(err, ErrIneligibleRecipient) {
		t.Errorf("expected ErrIneligibleRecipient for foreign monster, got %v", err)
	}

	// Unknown recipients are distinct from ineligible ones
	_, err = ledger.Allocate(ctx, testAccount, "p1", models.RecipientRef{Kind: models.RecipientTrainer, ID: "ghost"}, 1)
	if !errors.Is(err, ErrRecipientNotFound) {
		t.Errorf("expected ErrRecipientNotFound, got %v", err)
	}

	pool, _ := repo.GetPool(ctx, "p1")
	if pool.Remaining != 10 {
		t.Errorf("remaining = %d, want untouched 10", pool.Remaining)
	}
}

func TestAllocatePoolOwnership(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	ctx := context.Background()
	putPool(repo, "p1", 10, 0)

	// Another account sees someone else's pool as not found
	_, err := ledger.Allocate(ctx, otherAccount, "p1", models.RecipientRef{Kind: models.RecipientTrainer, ID: "t2"}, 1)
	if !errors.Is(err, ErrPoolNotFound) {
		t.Errorf("expected ErrPoolNotFound, got %v", err)
	}

	_, err = ledger.Allocate(ctx, testAccount, "missing", models.RecipientRef{Kind: models.RecipientTrainer, ID: "t1"}, 1)
	if !errors.Is(err, ErrPoolNotFound) {
		t.Errorf("expected ErrPoolNotFound for missing pool, got %v", err)
	}
}

func TestAllocateAutoClosesAtZero(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	ctx := context.Background()
	putPool(repo, "p1", 3, 0)

	if _, err := ledger.Allocate(ctx, testAccount, "p1", models.RecipientRef{Kind: models.RecipientTrainer, ID: "t1"}, 3); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	pool, _ := repo.GetPool(ctx, "p1")
	if pool.Status != models.PoolClosed {
		t.Errorf("pool status = %s, want closed", pool.Status)
	}

	_, err := ledger.Allocate(ctx, testAccount, "p1", models.RecipientRef{Kind: models.RecipientTrainer, ID: "t1"}, 1)
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed after auto-close, got %v", err)
	}
}

func TestClosePoolForfeitsRemaining(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	ctx := context.Background()
	putPool(repo, "p1", 10, 0)

	if _, err := ledger.Allocate(ctx, testAccount, "p1", models.RecipientRef{Kind: models.RecipientTrainer, ID: "t1"}, 4); err != nil {
		t.Fatal(err)
	}

	pool, err := ledger.Close(ctx, testAccount, "p1")
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if pool.Status != models.PoolClosed {
		t.Errorf("status = %s, want closed", pool.Status)
	}
	if pool.Remaining != 6 {
		t.Errorf("remaining = %d, want forfeited 6", pool.Remaining)
	}

	_, err = ledger.Allocate(ctx, testAccount, "p1", models.RecipientRef{Kind: models.RecipientTrainer, ID: "t1"}, 1)
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}

	_, err = ledger.Close(ctx, testAccount, "p1")
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed on double close, got %v", err)
	}

	records, _ := repo.ListAllocations(ctx, "p1")
	if len(records) != 1 {
		t.Errorf("close must not touch history, got %d records", len(records))
	}
}

func TestStatusAggregatesPerRecipient(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	ctx := context.Background()
	putPool(repo, "p1", 20, 0)

	trainer := models.RecipientRef{Kind: models.RecipientTrainer, ID: "t1"}
	monster := models.RecipientRef{Kind: models.RecipientMonster, ID: "m1"}

	for _, alloc := range []struct {
		ref   models.RecipientRef
		units int
	}{{trainer, 2}, {monster, 3}, {trainer, 4}} {
		if _, err := ledger.Allocate(ctx, testAccount, "p1", alloc.ref, alloc.units); err != nil {
			t.Fatal(err)
		}
	}

	status, err := ledger.Status(ctx, testAccount, "p1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}

	if len(status.Records) != 3 {
		t.Errorf("expected 3 records, got %d", len(status.Records))
	}
	if len(status.PerTarget) != 2 {
		t.Fatalf("expected 2 aggregated targets, got %d", len(status.PerTarget))
	}
	if status.PerTarget[0].Recipient.ID != "t1" || status.PerTarget[0].Levels != 6 {
		t.Errorf("first target = %+v, want t1 with 6", status.PerTarget[0])
	}
	if status.PerTarget[1].Recipient.ID != "m1" || status.PerTarget[1].Levels != 3 {
		t.Errorf("second target = %+v, want m1 with 3", status.PerTarget[1])
	}

	if _, err := ledger.Status(ctx, otherAccount, "p1"); !errors.Is(err, ErrPoolNotFound) {
		t.Errorf("expected ErrPoolNotFound for foreign status, got %v", err)
	}
}

func TestAllocatePublishesEvents(t *testing.T) {
	ledger, repo, broker := newTestLedger(t)
	ctx := context.Background()
	putPool(repo, "p1", 5, 0)

	events, cancel, err := broker.Subscribe(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	if _, err := ledger.Allocate(ctx, testAccount, "p1", models.RecipientRef{Kind: models.RecipientTrainer, ID: "t1"}, 2); err != nil {
		t.Fatal(err)
	}

	select {
	case event := <-events:
		if event.Type != notify.EventAllocation {
			t.Errorf("event type = %s, want allocation", event.Type)
		}
		if event.Remaining != 3 {
			t.Errorf("event remaining = %d, want 3", event.Remaining)
		}
		if event.Record == nil || event.Record.Units != 2 {
			t.Errorf("unexpected event record: %+v", event.Record)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for allocation event")
	}

	if _, err := ledger.Close(ctx, testAccount, "p1"); err != nil {
		t.Fatal(err)
	}

	select {
	case event := <-events:
		if event.Type != notify.EventClosed {
			t.Errorf("event type = %s, want closed", event.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close event")
	}
}

func TestAllocateEventsCarryCommittedRemaining(t *testing.T) {
	ledger, repo, broker := newTestLedger(t)
	ctx := context.Background()
	putPool(repo, "p1", 60, 0)

	events, cancel, err := broker.Subscribe(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Allocate(ctx, testAccount, "p1", models.RecipientRef{Kind: models.RecipientTrainer, ID: "t1"}, 5)
			if err != nil && !errors.Is(err, ErrInsufficientPool) && !errors.Is(err, ErrPoolClosed) && !errors.Is(err, ErrConcurrencyConflict) {
				t.Errorf("unexpected allocate error: %v", err)
			}
		}()
	}
	wg.Wait()

	// Each successful spend of 5 commits a distinct remaining count. If the
	// broadcast value came from a read taken before the decrement, racing
	// spenders would publish duplicates.
	seen := make(map[int]int)
	for drained := false; !drained; {
		select {
		case event := <-events:
			if event.Type == notify.EventAllocation {
				seen[event.Remaining]++
			}
		default:
			drained = true
		}
	}

	if len(seen) != 12 {
		t.Fatalf("expected 12 distinct remaining counts, got %d: %v", len(seen), seen)
	}
	for want := 55; want >= 0; want -= 5 {
		if seen[want] != 1 {
			t.Errorf("remaining %d published %d times, want exactly once", want, seen[want])
		}
	}
}

func TestConcurrentAllocations(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	ctx := context.Background()
	putPool(repo, "p1", 60, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Allocate(ctx, testAccount, "p1", models.RecipientRef{Kind: models.RecipientTrainer, ID: "t1"}, 5)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrInsufficientPool) && !errors.Is(err, ErrPoolClosed) && !errors.Is(err, ErrConcurrencyConflict) {
				t.Errorf("unexpected allocate error: %v", err)
			}
		}()
	}
	wg.Wait()

	pool, _ := repo.GetPool(ctx, "p1")
	records, _ := repo.ListAllocations(ctx, "p1")

	spent := 0
	for _, rec := range records {
		spent += rec.Units
	}

	if spent+pool.Remaining != 60 {
		t.Errorf("conservation broken: spent %d + remaining %d != 60", spent, pool.Remaining)
	}
	if len(records) != successes {
		t.Errorf("records %d != successes %d", len(records), successes)
	}
	if spent > 60 {
		t.Errorf("over-spent the pool: %d", spent)
	}
}

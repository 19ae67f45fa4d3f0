package models

import (
	"encoding/json"
	"testing"
)

func TestNormalizeSecondary(t *testing.T) {
	t.Run("nil yields zero", func(t *testing.T) {
		got, err := NormalizeSecondary(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Amount != 0 || got.Detail != nil {
			t.Errorf("expected zero reward, got %+v", got)
		}
	})

	t.Run("bare numbers", func(t *testing.T) {
		for _, v := range []any{7, int64(7), float64(7), json.Number("7")} {
			got, err := NormalizeSecondary(v)
			if err != nil {
				t.Fatalf("NormalizeSecondary(%T) failed: %v", v, err)
			}
			if got.Amount != 7 {
				t.Errorf("NormalizeSecondary(%T).Amount = %d, want 7", v, got.Amount)
			}
		}
	})

	t.Run("object with amount and message", func(t *testing.T) {
		got, err := NormalizeSecondary(map[string]any{
			"amount":  float64(3),
			"message": "garden bloomed",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Amount != 3 {
			t.Errorf("Amount = %d, want 3", got.Amount)
		}
		if got.Detail == nil || got.Detail.Message != "garden bloomed" {
			t.Errorf("unexpected detail: %+v", got.Detail)
		}
	})

	t.Run("object with results", func(t *testing.T) {
		got, err := NormalizeSecondary(map[string]any{
			"amount":  2,
			"results": []any{"seed", "sprout"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Detail == nil || len(got.Detail.Results) != 2 {
			t.Fatalf("unexpected detail: %+v", got.Detail)
		}
		if got.Detail.Results[0] != "seed" || got.Detail.Results[1] != "sprout" {
			t.Errorf("unexpected results: %v", got.Detail.Results)
		}
	})

	t.Run("unsupported shapes fail", func(t *testing.T) {
		if _, err := NormalizeSecondary("five"); err == nil {
			t.Error("expected error for string input")
		}
		if _, err := NormalizeSecondary(map[string]any{"results": 42}); err == nil {
			t.Error("expected error for non-list results")
		}
		if _, err := NormalizeSecondary(map[string]any{"results": []any{1}}); err == nil {
			t.Error("expected error for non-string result entry")
		}
	})
}

func TestAggregateAllocations(t *testing.T) {
	trainer := RecipientRef{Kind: RecipientTrainer, ID: "t1"}
	monster := RecipientRef{Kind: RecipientMonster, ID: "m1"}

	records := []AllocationRecord{
		{Recipient: trainer, Units: 2},
		{Recipient: monster, Units: 1},
		{Recipient: trainer, Units: 3},
	}

	got := AggregateAllocations(records)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}

	// First-seen order is preserved
	if got[0].Recipient != trainer || got[0].Levels != 5 {
		t.Errorf("expected trainer with 5 units first, got %+v", got[0])
	}
	if got[1].Recipient != monster || got[1].Levels != 1 {
		t.Errorf("expected monster with 1 unit second, got %+v", got[1])
	}
}

func TestAggregateAllocationsEmpty(t *testing.T) {
	if got := AggregateAllocations(nil); len(got) != 0 {
		t.Errorf("expected empty aggregate, got %d entries", len(got))
	}
}

package models

import (
	"time"
)

// PoolKind distinguishes where a pool's units came from
type PoolKind string

const (
	// PoolGift holds gift levels awarded directly by certain submission
	// types; spending a gift unit also credits coins.
	PoolGift PoolKind = "gift"

	// PoolCapped holds units converted from capped level overflow at the
	// 2:1 redistribution ratio; capped units carry no coins.
	PoolCapped PoolKind = "capped"
)

// PoolStatus is the allocation pool state machine: open -> closed
type PoolStatus string

const (
	PoolOpen   PoolStatus = "open"
	PoolClosed PoolStatus = "closed"
)

// AllocationPool is a bounded, spendable reward budget created once per
// finalized submission. Remaining never goes below zero; a pool closes
// automatically when remaining hits zero or explicitly on cancellation,
// and explicit closure forfeits whatever is left.
type AllocationPool struct {
	ID           string     `json:"id"`
	SubmissionID string     `json:"submission_id"`
	AccountID    string     `json:"account_id"`
	Kind         PoolKind   `json:"kind"`
	TotalUnits   int        `json:"total_units"`
	Remaining    int        `json:"remaining"`
	CoinPerUnit  int        `json:"coin_per_unit"`
	Status       PoolStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}

// IsOpen reports whether the pool still accepts allocations
func (p *AllocationPool) IsOpen() bool {
	return p.Status == PoolOpen
}

// AllocationRecord is one append-only spend against a pool. Records are
// never edited or deleted; the same recipient may appear in any number of
// records for the same pool.
type AllocationRecord struct {
	ID           string       `json:"id"`
	PoolID       string       `json:"pool_id"`
	Recipient    RecipientRef `json:"recipient"`
	Units        int          `json:"units"`
	CoinsAwarded int          `json:"coins_awarded"`
	CreatedAt    time.Time    `json:"created_at"`
}

// AggregateAllocations collapses a pool's record history into a current
// per-recipient total, preserving first-seen order. This is the
// client-side view layered over the append-only ledger.
func AggregateAllocations(records []AllocationRecord) []EntityLevels {
	totals := make(map[string]int)
	var order []RecipientRef

	for _, rec := range records {
		key := rec.Recipient.Key()
		if _, seen := totals[key]; !seen {
			order = append(order, rec.Recipient)
		}
		totals[key] += rec.Units
	}

	out := make([]EntityLevels, 0, len(order))
	for _, ref := range order {
		out = append(out, EntityLevels{Recipient: ref, Levels: totals[ref.Key()]})
	}
	return out
}

package models

import (
	"time"
)

// RecipientKind distinguishes the two entity types that can receive levels
type RecipientKind string

const (
	RecipientTrainer RecipientKind = "trainer"
	RecipientMonster RecipientKind = "monster"
)

// IsValid reports whether the kind is one of the known recipient kinds
func (k RecipientKind) IsValid() bool {
	return k == RecipientTrainer || k == RecipientMonster
}

// RecipientRef identifies a trainer or monster. For monsters the owning
// trainer id is carried along because pool eligibility checks need it.
type RecipientRef struct {
	Kind           RecipientKind `json:"kind"`
	ID             string        `json:"id"`
	OwnerTrainerID string        `json:"owner_trainer_id,omitempty"`
}

// Equal reports whether two refs identify the same entity.
// Only kind and id participate; the owner annotation does not.
func (r RecipientRef) Equal(other RecipientRef) bool {
	return r.Kind == other.Kind && r.ID == other.ID
}

// Key returns a stable string key for aggregation maps
func (r RecipientRef) Key() string {
	return string(r.Kind) + ":" + r.ID
}

// Trainer represents a player-owned trainer entity
type Trainer struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Name      string    `json:"name"`
	Level     int       `json:"level"`
	Coins     int       `json:"coins"`
	CreatedAt time.Time `json:"created_at"`
}

// Ref returns the RecipientRef for this trainer
func (t *Trainer) Ref() RecipientRef {
	return RecipientRef{Kind: RecipientTrainer, ID: t.ID}
}

// Monster represents a monster owned by a trainer
type Monster struct {
	ID        string    `json:"id"`
	TrainerID string    `json:"trainer_id"`
	Name      string    `json:"name"`
	Species   string    `json:"species"`
	Level     int       `json:"level"`
	CreatedAt time.Time `json:"created_at"`
}

// Ref returns the RecipientRef for this monster, annotated with its owner
func (m *Monster) Ref() RecipientRef {
	return RecipientRef{Kind: RecipientMonster, ID: m.ID, OwnerTrainerID: m.TrainerID}
}

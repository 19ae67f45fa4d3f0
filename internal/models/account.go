package models

import (
	"time"
)

// Account represents an authenticated user of the reward API. The account
// that finalizes a submission becomes the owning context for any pools the
// submission opens; only that account's trainers and monsters may receive
// allocations from those pools.
type Account struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	APIKey     string     `json:"-"` // Never serialize
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// MaskedAPIKey returns first 8 characters of the API key for logging
func (a *Account) MaskedAPIKey() string {
	if len(a.APIKey) < 8 {
		return "***"
	}
	return a.APIKey[:8] + "..."
}

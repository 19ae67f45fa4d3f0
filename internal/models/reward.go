package models

import (
	"encoding/json"
	"fmt"
)

// EntityLevels pairs a recipient with its requested level count. Ordered
// slices are used instead of maps so repeated previews of the same
// submission produce byte-identical bundles.
type EntityLevels struct {
	Recipient RecipientRef `json:"recipient"`
	Levels    int          `json:"levels"`
}

// RawScore is the scorer's output before any cap is applied. Coins are
// not part of it: they derive from the capped per-recipient lines, so the
// engine is the only place that computes them.
type RawScore struct {
	OverallLevels int              `json:"overall_levels"`
	PerEntity     []EntityLevels   `json:"per_entity"`
	GiftLevels    int              `json:"gift_levels"`
	Secondary     SecondaryRewards `json:"secondary"`
}

// RewardLine is the capped outcome for one recipient.
// Invariant: LevelsApplied + ExcessLevels == LevelsRequested.
type RewardLine struct {
	Recipient       RecipientRef `json:"recipient"`
	LevelsRequested int          `json:"levels_requested"`
	LevelsApplied   int          `json:"levels_applied"`
	ExcessLevels    int          `json:"excess_levels"`
	Coins           int          `json:"coins"`
}

// RewardBundle is the full result of scoring one submission. It is computed
// on demand and becomes durable only when the submission is finalized.
type RewardBundle struct {
	Kind                SubmissionKind   `json:"kind"`
	OverallLevels       int              `json:"overall_levels"`
	Coins               int              `json:"coins"`
	Lines               []RewardLine     `json:"lines"`
	RedistributablePool int              `json:"redistributable_pool"`
	GiftLevels          int              `json:"gift_levels"`
	Secondary           SecondaryRewards `json:"secondary"`
}

// SecondaryRewards groups the rewards computed by delegated subsystems
type SecondaryRewards struct {
	Garden  SecondaryReward `json:"garden"`
	Mission SecondaryReward `json:"mission"`
	Boss    SecondaryReward `json:"boss"`
}

// SecondaryReward is the normalized shape for one secondary reward value
type SecondaryReward struct {
	Amount int              `json:"amount"`
	Detail *SecondaryDetail `json:"detail,omitempty"`
}

// SecondaryDetail carries optional context attached to a secondary reward
type SecondaryDetail struct {
	Message string   `json:"message,omitempty"`
	Results []string `json:"results,omitempty"`
}

// NormalizeSecondary converts a dynamically shaped secondary reward value
// (a bare number, or an object with amount/message/results) into the single
// SecondaryReward shape. The core never branches on shape after this point.
func NormalizeSecondary(v any) (SecondaryReward, error) {
	switch val := v.(type) {
	case nil:
		return SecondaryReward{}, nil
	case int:
		return SecondaryReward{Amount: val}, nil
	case int64:
		return SecondaryReward{Amount: int(val)}, nil
	case float64:
		return SecondaryReward{Amount: int(val)}, nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return SecondaryReward{}, fmt.Errorf("secondary reward is not an integer: %w", err)
		}
		return SecondaryReward{Amount: int(n)}, nil
	case map[string]any:
		return normalizeSecondaryObject(val)
	default:
		return SecondaryReward{}, fmt.Errorf("unsupported secondary reward shape %T", v)
	}
}

func normalizeSecondaryObject(obj map[string]any) (SecondaryReward, error) {
	out := SecondaryReward{}

	if raw, ok := obj["amount"]; ok {
		amount, err := NormalizeSecondary(raw)
		if err != nil {
			return SecondaryReward{}, fmt.Errorf("invalid amount field: %w", err)
		}
		out.Amount = amount.Amount
	}

	var detail SecondaryDetail
	hasDetail := false

	if msg, ok := obj["message"].(string); ok && msg != "" {
		detail.Message = msg
		hasDetail = true
	}

	if raw, ok := obj["results"]; ok {
		switch results := raw.(type) {
		case []string:
			detail.Results = results
			hasDetail = len(results) > 0
		case []any:
			for _, r := range results {
				s, ok := r.(string)
				if !ok {
					return SecondaryReward{}, fmt.Errorf("unsupported result entry %T", r)
				}
				detail.Results = append(detail.Results, s)
			}
			hasDetail = hasDetail || len(detail.Results) > 0
		default:
			return SecondaryReward{}, fmt.Errorf("unsupported results shape %T", raw)
		}
	}

	if hasDetail {
		out.Detail = &detail
	}
	return out, nil
}

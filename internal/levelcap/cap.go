// Package levelcap enforces the hard per-recipient level cap and converts
// capped overflow into redistributable units.
package levelcap

// MaxLevel is the hard cap for trainers and monsters
const MaxLevel = 100

// RedistributionRatio converts excess levels into redistributable units:
// one unit per two excess levels, remainder lost per recipient.
const RedistributionRatio = 2

// Result is the capped outcome for one recipient.
// Applied + Excess always equals the requested level count.
type Result struct {
	Applied int
	Excess  int
}

// Apply clamps a proposed level delta against the recipient's headroom.
// A recipient at or above MaxLevel absorbs nothing; everything requested
// becomes excess. Apply never mutates recipient state.
func Apply(currentLevel, levelsRequested int) Result {
	if levelsRequested < 0 {
		levelsRequested = 0
	}

	headroom := MaxLevel - currentLevel
	if headroom < 0 {
		headroom = 0
	}

	applied := levelsRequested
	if applied > headroom {
		applied = headroom
	}

	return Result{
		Applied: applied,
		Excess:  levelsRequested - applied,
	}
}

// Redistributable converts one recipient's excess into pool units. The
// floor is taken per recipient, before summing across recipients; fractional
// remainders are lost independently and never pooled before rounding.
func Redistributable(excess int) int {
	if excess <= 0 {
		return 0
	}
	return excess / RedistributionRatio
}

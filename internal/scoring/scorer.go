// Package scoring maps a submission's declared attributes to a raw reward
// score. Scoring is pure: no side effects, no stored state, safe to call
// concurrently and repeatedly.
package scoring

import (
	"context"
	"errors"
	"fmt"

	"github.com/Kurokamori/reward-engine/internal/models"
	"github.com/Kurokamori/reward-engine/internal/tables"
)

// CoinsPerLevel is the fixed coin grant per level. This rate is user-visible
// across reward previews and gift allocations and is not a balance knob.
const CoinsPerLevel = 50

// ErrInvalidAttributes reports a malformed or unscoreable submission.
// Malformed input is a caller contract violation and is never silently
// defaulted; scoring fails closed.
var ErrInvalidAttributes = errors.New("invalid submission attributes")

// Scorer computes raw scores from submission attributes
type Scorer struct {
	tables    *tables.Loader
	secondary SecondarySource
}

// NewScorer creates a scorer backed by the given balance tables. The
// secondary source supplies garden/mission/boss rewards; pass NopSource
// if those subsystems are not wired.
func NewScorer(loader *tables.Loader, secondary SecondarySource) *Scorer {
	if secondary == nil {
		secondary = NopSource{}
	}
	return &Scorer{tables: loader, secondary: secondary}
}

// Score maps attributes to a RawScore. It is total for well-formed input;
// malformed input fails with ErrInvalidAttributes before any reward is
// computed.
func (s *Scorer) Score(ctx context.Context, attrs models.SubmissionAttributes) (*models.RawScore, error) {
	t := s.tables.Get()

	if err := validate(attrs, t); err != nil {
		return nil, err
	}

	levels := 0
	gift := 0

	switch attrs.Kind {
	case models.SubmissionArt:
		levels = artLevels(attrs, t)

	case models.SubmissionExternalArt:
		// External content carries a reduced trust/effort weighting:
		// the summed total is halved, rounding down, before distribution.
		levels = artLevels(attrs, t) / 2

	case models.SubmissionWriting:
		levels = attrs.WordCount / t.WordsPerLevel
		if attrs.Participants > 1 {
			levels += (attrs.Participants - 1) * t.ParticipantBonus
		}

	case models.SubmissionReference:
		levels = t.ReferenceBaseLevels
		if attrs.CustomLevels != nil && *attrs.CustomLevels > t.GiftBaseline {
			gift = *attrs.CustomLevels - t.GiftBaseline
		}

	case models.SubmissionPrompt:
		levels = t.PromptLevels
	}

	perEntity := make([]models.EntityLevels, 0, len(attrs.Recipients))
	for _, ref := range attrs.Recipients {
		perEntity = append(perEntity, models.EntityLevels{Recipient: ref, Levels: levels})
	}

	secondary, err := s.secondaryRewards(ctx, attrs, levels)
	if err != nil {
		return nil, fmt.Errorf("failed to compute secondary rewards: %w", err)
	}

	return &models.RawScore{
		OverallLevels: levels,
		PerEntity:     perEntity,
		GiftLevels:    gift,
		Secondary:     secondary,
	}, nil
}

// artLevels sums the quality base with background and character modifiers
func artLevels(attrs models.SubmissionAttributes, t *tables.Tables) int {
	levels := t.QualityLevels[attrs.Quality]

	for _, bg := range attrs.Backgrounds {
		levels += t.BackgroundLevels[bg.Type]
	}

	for _, ch := range attrs.Characters {
		levels += t.AppearanceLevels[ch.Appearance]
		levels += t.ComplexityLevels[ch.Complexity]
	}

	return levels
}

func (s *Scorer) secondaryRewards(ctx context.Context, attrs models.SubmissionAttributes, levels int) (models.SecondaryRewards, error) {
	var out models.SecondaryRewards

	garden, err := s.secondary.Garden(ctx, attrs, levels)
	if err != nil {
		return out, fmt.Errorf("garden: %w", err)
	}
	if out.Garden, err = models.NormalizeSecondary(garden); err != nil {
		return out, fmt.Errorf("garden: %w", err)
	}

	mission, err := s.secondary.Mission(ctx, attrs, levels)
	if err != nil {
		return out, fmt.Errorf("mission: %w", err)
	}
	if out.Mission, err = models.NormalizeSecondary(mission); err != nil {
		return out, fmt.Errorf("mission: %w", err)
	}

	boss, err := s.secondary.Boss(ctx, attrs, levels)
	if err != nil {
		return out, fmt.Errorf("boss: %w", err)
	}
	if out.Boss, err = models.NormalizeSecondary(boss); err != nil {
		return out, fmt.Errorf("boss: %w", err)
	}

	return out, nil
}

func validate(attrs models.SubmissionAttributes, t *tables.Tables) error {
	if !attrs.Kind.IsValid() {
		return fmt.Errorf("%w: unknown submission kind %q", ErrInvalidAttributes, attrs.Kind)
	}

	switch attrs.Kind {
	case models.SubmissionArt, models.SubmissionExternalArt:
		if _, ok := t.QualityLevels[attrs.Quality]; !ok {
			return fmt.Errorf("%w: unknown quality %q", ErrInvalidAttributes, attrs.Quality)
		}
		nonNone := 0
		hasNone := false
		for _, bg := range attrs.Backgrounds {
			if _, ok := t.BackgroundLevels[bg.Type]; !ok {
				return fmt.Errorf("%w: unknown background type %q", ErrInvalidAttributes, bg.Type)
			}
			if bg.Type == models.BackgroundNone {
				hasNone = true
			} else {
				nonNone++
			}
		}
		if hasNone && nonNone > 0 {
			return fmt.Errorf("%w: a none background cannot be combined with others", ErrInvalidAttributes)
		}
		for _, ch := range attrs.Characters {
			if _, ok := t.AppearanceLevels[ch.Appearance]; !ok {
				return fmt.Errorf("%w: unknown appearance %q", ErrInvalidAttributes, ch.Appearance)
			}
			if _, ok := t.ComplexityLevels[ch.Complexity]; !ok {
				return fmt.Errorf("%w: unknown complexity %q", ErrInvalidAttributes, ch.Complexity)
			}
		}

	case models.SubmissionWriting:
		if attrs.WordCount < 0 {
			return fmt.Errorf("%w: negative word count", ErrInvalidAttributes)
		}
		if attrs.Participants < 0 {
			return fmt.Errorf("%w: negative participant count", ErrInvalidAttributes)
		}

	case models.SubmissionReference:
		if attrs.CustomLevels != nil && *attrs.CustomLevels < 0 {
			return fmt.Errorf("%w: negative custom levels", ErrInvalidAttributes)
		}
	}

	for _, ref := range attrs.Recipients {
		if !ref.Kind.IsValid() {
			return fmt.Errorf("%w: unknown recipient kind %q", ErrInvalidAttributes, ref.Kind)
		}
		if ref.ID == "" {
			return fmt.Errorf("%w: recipient id is required", ErrInvalidAttributes)
		}
	}

	return nil
}

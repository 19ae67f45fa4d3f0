package scoring

import (
	"context"

	"github.com/Kurokamori/reward-engine/internal/models"
)

// SecondarySource supplies garden, mission and boss rewards for a scored
// submission. Implementations live in delegated subsystems and may return
// either a bare number or an object with amount/message/results fields;
// the scorer normalizes whatever comes back at the boundary.
type SecondarySource interface {
	Garden(ctx context.Context, attrs models.SubmissionAttributes, overallLevels int) (any, error)
	Mission(ctx context.Context, attrs models.SubmissionAttributes, overallLevels int) (any, error)
	Boss(ctx context.Context, attrs models.SubmissionAttributes, overallLevels int) (any, error)
}

// NopSource is a SecondarySource that awards nothing. Used when the
// delegated subsystems are not wired.
type NopSource struct{}

func (NopSource) Garden(ctx context.Context, attrs models.SubmissionAttributes, overallLevels int) (any, error) {
	return nil, nil
}

func (NopSource) Mission(ctx context.Context, attrs models.SubmissionAttributes, overallLevels int) (any, error) {
	return nil, nil
}

func (NopSource) Boss(ctx context.Context, attrs models.SubmissionAttributes, overallLevels int) (any, error) {
	return nil, nil
}

// StaticSource awards fixed amounts scaled by the submission's overall
// levels. It stands in for the real garden/mission/boss subsystems.
type StaticSource struct {
	GardenPerLevel  int
	MissionPerLevel int
	BossPerLevel    int
}

func (s StaticSource) Garden(ctx context.Context, attrs models.SubmissionAttributes, overallLevels int) (any, error) {
	return s.GardenPerLevel * overallLevels, nil
}

func (s StaticSource) Mission(ctx context.Context, attrs models.SubmissionAttributes, overallLevels int) (any, error) {
	return s.MissionPerLevel * overallLevels, nil
}

func (s StaticSource) Boss(ctx context.Context, attrs models.SubmissionAttributes, overallLevels int) (any, error) {
	return s.BossPerLevel * overallLevels, nil
}

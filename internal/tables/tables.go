// Package tables holds the game balance tables consumed by the scorer.
// Tables are loaded from YAML files at startup; compiled-in defaults
// apply when no directory is configured or a file fails to parse.
package tables

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Kurokamori/reward-engine/internal/models"
)

// Tables holds every tunable scoring value. The level cap, the coin rate
// and the 2:1 redistribution ratio are deliberately not here: those are
// fixed, user-visible rules of the game, not balance knobs.
type Tables struct {
	QualityLevels    map[models.ArtQuality]int     `yaml:"quality_levels"`
	BackgroundLevels map[models.BackgroundType]int `yaml:"background_levels"`
	AppearanceLevels map[models.Appearance]int     `yaml:"appearance_levels"`
	ComplexityLevels map[models.Complexity]int     `yaml:"complexity_levels"`

	WordsPerLevel    int `yaml:"words_per_level"`
	ParticipantBonus int `yaml:"participant_bonus"`

	ReferenceBaseLevels int `yaml:"reference_base_levels"`
	PromptLevels        int `yaml:"prompt_levels"`

	// GiftBaseline is the custom-level threshold above which a reference
	// submission produces gift levels.
	GiftBaseline int `yaml:"gift_baseline"`
}

// Defaults returns the compiled-in balance tables
func Defaults() *Tables {
	return &Tables{
		QualityLevels: map[models.ArtQuality]int{
			models.QualityRough:      1,
			models.QualityClean:      2,
			models.QualityPolished:   3,
			models.QualityFullRender: 4,
		},
		BackgroundLevels: map[models.BackgroundType]int{
			models.BackgroundNone:    0,
			models.BackgroundSimple:  1,
			models.BackgroundComplex: 2,
		},
		AppearanceLevels: map[models.Appearance]int{
			models.AppearanceChibi:    1,
			models.AppearanceHeadshot: 1,
			models.AppearanceHalfBody: 2,
			models.AppearanceFullBody: 3,
		},
		ComplexityLevels: map[models.Complexity]int{
			models.ComplexitySimple:   0,
			models.ComplexityModerate: 1,
			models.ComplexityDetailed: 2,
		},
		WordsPerLevel:       100,
		ParticipantBonus:    1,
		ReferenceBaseLevels: 2,
		PromptLevels:        1,
		GiftBaseline:        5,
	}
}

// Loader manages loading and caching of balance tables
type Loader struct {
	mu     sync.RWMutex
	tables *Tables
}

// NewLoader creates a loader holding the default tables
func NewLoader() *Loader {
	return &Loader{tables: Defaults()}
}

// Get returns the current tables snapshot
func (l *Loader) Get() *Tables {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tables
}

// LoadFromDir loads all YAML table files from a directory, merging each over
// the current tables in lexical order. Files that fail to parse are skipped
// with a warning so a bad balance file never takes the service down.
func (l *Loader) LoadFromDir(dir string) error {
	slog.Info("loading balance tables from directory", "dir", dir)

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		files = append(files, matches...)
	}

	loaded := 0
	for _, file := range files {
		if err := l.LoadFromFile(file); err != nil {
			slog.Warn("failed to load balance tables", "file", file, "error", err)
			continue
		}
		loaded++
	}

	slog.Info("balance tables loaded", "count", loaded, "total_files", len(files))
	return nil
}

// LoadFromFile merges a single YAML table file over the current tables
func (l *Loader) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var file Tables
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	merged := *l.tables
	merged.QualityLevels = mergeMap(merged.QualityLevels, file.QualityLevels)
	merged.BackgroundLevels = mergeMap(merged.BackgroundLevels, file.BackgroundLevels)
	merged.AppearanceLevels = mergeMap(merged.AppearanceLevels, file.AppearanceLevels)
	merged.ComplexityLevels = mergeMap(merged.ComplexityLevels, file.ComplexityLevels)

	if file.WordsPerLevel > 0 {
		merged.WordsPerLevel = file.WordsPerLevel
	}
	if file.ParticipantBonus > 0 {
		merged.ParticipantBonus = file.ParticipantBonus
	}
	if file.ReferenceBaseLevels > 0 {
		merged.ReferenceBaseLevels = file.ReferenceBaseLevels
	}
	if file.PromptLevels > 0 {
		merged.PromptLevels = file.PromptLevels
	}
	if file.GiftBaseline > 0 {
		merged.GiftBaseline = file.GiftBaseline
	}

	l.tables = &merged

	slog.Info("balance table file loaded", "file", filepath.Base(path))
	return nil
}

func mergeMap[K comparable](base, overlay map[K]int) map[K]int {
	if len(overlay) == 0 {
		return base
	}
	out := make(map[K]int, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

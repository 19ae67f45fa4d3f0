package tables

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Kurokamori/reward-engine/internal/models"
)

func TestDefaults(t *testing.T) {
	tbl := Defaults()

	if tbl.QualityLevels[models.QualityFullRender] != 4 {
		t.Errorf("full_render = %d, want 4", tbl.QualityLevels[models.QualityFullRender])
	}
	if tbl.BackgroundLevels[models.BackgroundNone] != 0 {
		t.Errorf("none background = %d, want 0", tbl.BackgroundLevels[models.BackgroundNone])
	}
	if tbl.WordsPerLevel != 100 {
		t.Errorf("words_per_level = %d, want 100", tbl.WordsPerLevel)
	}
	if tbl.GiftBaseline != 5 {
		t.Errorf("gift_baseline = %d, want 5", tbl.GiftBaseline)
	}
}

func TestLoaderStartsWithDefaults(t *testing.T) {
	loader := NewLoader()
	if loader.Get().PromptLevels != 1 {
		t.Errorf("prompt_levels = %d, want 1", loader.Get().PromptLevels)
	}
}

func TestLoadFromFileMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "override.yaml")
	data := []byte("words_per_level: 50\nquality_levels:\n  rough: 2\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader()
	if err := loader.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	tbl := loader.Get()
	if tbl.WordsPerLevel != 50 {
		t.Errorf("words_per_level = %d, want 50", tbl.WordsPerLevel)
	}
	if tbl.QualityLevels[models.QualityRough] != 2 {
		t.Errorf("rough = %d, want 2", tbl.QualityLevels[models.QualityRough])
	}

	// Untouched values keep their defaults
	if tbl.QualityLevels[models.QualityClean] != 2 {
		t.Errorf("clean = %d, want default 2", tbl.QualityLevels[models.QualityClean])
	}
	if tbl.ParticipantBonus != 1 {
		t.Errorf("participant_bonus = %d, want default 1", tbl.ParticipantBonus)
	}
}

func TestLoadFromDirSkipsBadFiles(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "a_good.yaml")
	if err := os.WriteFile(good, []byte("prompt_levels: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	bad := filepath.Join(dir, "b_bad.yaml")
	if err := os.WriteFile(bad, []byte("{not yaml: ["), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader()
	if err := loader.LoadFromDir(dir); err != nil {
		t.Fatalf("LoadFromDir failed: %v", err)
	}

	if loader.Get().PromptLevels != 3 {
		t.Errorf("prompt_levels = %d, want 3 from the good file", loader.Get().PromptLevels)
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	loader := NewLoader()
	if err := loader.LoadFromFile("/nonexistent/balance.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

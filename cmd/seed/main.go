// Command seed loads development fixtures: an API account plus a small
// roster of trainers and monsters to allocate rewards against.
package main

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

type trainerFixture struct {
	name     string
	level    int
	coins    int
	monsters []monsterFixture
}

type monsterFixture struct {
	name    string
	species string
	level   int
}

var fixtures = []trainerFixture{
	{
		name: "Aster", level: 12, coins: 600,
		monsters: []monsterFixture{
			{name: "Cinderpaw", species: "ember cat", level: 8},
			{name: "Brackle", species: "thorn hound", level: 15},
		},
	},
	{
		name: "Rowan", level: 97, coins: 1200,
		monsters: []monsterFixture{
			{name: "Gale", species: "storm finch", level: 99},
		},
	},
	{
		name: "Juniper", level: 45, coins: 150,
		monsters: []monsterFixture{
			{name: "Mossback", species: "grove turtle", level: 30},
			{name: "Pip", species: "spark mouse", level: 3},
			{name: "Umbra", species: "dusk moth", level: 61},
		},
	},
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	dsn := flag.String("dsn", os.Getenv("DATABASE_DSN"), "postgres connection string")
	accountName := flag.String("account", "dev", "name for the seeded API account")
	apiKey := flag.String("api-key", "", "API key for the account (generated when empty)")
	flag.Parse()

	if *dsn == "" {
		slog.Error("no DSN provided, set --dsn or DATABASE_DSN")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	key := *apiKey
	if key == "" {
		key = generateKey()
	}

	if err := seed(db, *accountName, key); err != nil {
		slog.Error("seeding failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("seeded account %q with api key %s\n", *accountName, key)
}

func seed(db *sql.DB, accountName, apiKey string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	accountID := uuid.New().String()
	_, err = tx.Exec(`
		INSERT INTO accounts (id, name, api_key, is_active, created_at)
		VALUES ($1, $2, $3, TRUE, NOW())
		ON CONFLICT (name) DO UPDATE SET api_key = EXCLUDED.api_key, is_active = TRUE
	`, accountID, accountName, apiKey)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}

	// The upsert may have kept an existing id
	if err := tx.QueryRow(`SELECT id FROM accounts WHERE name = $1`, accountName).Scan(&accountID); err != nil {
		return fmt.Errorf("failed to read account id: %w", err)
	}

	for _, t := range fixtures {
		trainerID := uuid.New().String()
		_, err = tx.Exec(`
			INSERT INTO trainers (id, account_id, name, level, coins, created_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
		`, trainerID, accountID, t.name, t.level, t.coins)
		if err != nil {
			return fmt.Errorf("failed to insert trainer %s: %w", t.name, err)
		}

		for _, m := range t.monsters {
			_, err = tx.Exec(`
				INSERT INTO monsters (id, trainer_id, name, species, level, created_at)
				VALUES ($1, $2, $3, $4, $5, NOW())
			`, uuid.New().String(), trainerID, m.name, m.species, m.level)
			if err != nil {
				return fmt.Errorf("failed to insert monster %s: %w", m.name, err)
			}
		}

		slog.Info("seeded trainer", "name", t.name, "level", t.level, "monsters", len(t.monsters))
	}

	return tx.Commit()
}

func generateKey() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		slog.Error("failed to generate api key", "error", err)
		os.Exit(1)
	}
	return "sk_" + hex.EncodeToString(buf)
}

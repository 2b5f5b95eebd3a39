package database

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

var DB *pgxpool.Pool

// ConnectDB opens the global pgx pool from the POSTGRES_* environment.
func ConnectDB() {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		os.Getenv("PG_HOST"),
		os.Getenv("PG_PORT"),
		os.Getenv("PG_DATABASE"),
	)

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		log.Fatalf("unable to parse pgx config: %v", err)
	}

	DB, err = pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		log.Fatalf("unable to create pgx pool: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := DB.Ping(ctx); err != nil {
		log.Fatalf("db ping error: %v", err)
	}

	log.Infof("connected to database %s on %s", os.Getenv("PG_DATABASE"), os.Getenv("PG_HOST"))
}

// EnsureSchema creates the service tables if they do not exist yet.
func EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email TEXT UNIQUE,
			password TEXT,
			username TEXT NOT NULL,
			is_ephemeral BOOLEAN NOT NULL DEFAULT FALSE,
			is_admin BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS player_stats (
			player_id UUID NOT NULL,
			chat_key TEXT NOT NULL,
			name TEXT NOT NULL,
			games_played INT NOT NULL DEFAULT 0,
			games_won INT NOT NULL DEFAULT 0,
			total_score BIGINT NOT NULL DEFAULT 0,
			is_ai BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (player_id, chat_key)
		)`,
		`CREATE TABLE IF NOT EXISTS game_history (
			id BIGSERIAL PRIMARY KEY,
			chat_key TEXT NOT NULL,
			played_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			final_scores JSONB NOT NULL
		)`,
	}
	for _, q := range stmts {
		if _, err := DB.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/omerta-games/omerta-service/internal/game"
)

// PlayerStats is one leaderboard row.
type PlayerStats struct {
	PlayerID    uuid.UUID `json:"player_id"`
	ChatKey     string    `json:"chat_key"`
	Name        string    `json:"name"`
	GamesPlayed int       `json:"games_played"`
	GamesWon    int       `json:"games_won"`
	TotalScore  int64     `json:"total_score"`
	AvgScore    float64   `json:"avg_score"`
	IsAI        bool      `json:"is_ai"`
}

// RecordRoundResult persists one settled round: an append-only history row
// plus per-player stat upserts, in a single transaction.
func RecordRoundResult(ctx context.Context, chatKey string, results []game.FinalScore) error {
	blob, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal final scores: %w", err)
	}
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO game_history (chat_key, final_scores) VALUES ($1, $2)`,
			chatKey, blob,
		); err != nil {
			return fmt.Errorf("insert game history: %w", err)
		}
		for _, r := range results {
			won := 0
			if r.IsWinner {
				won = 1
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO player_stats (player_id, chat_key, name, games_played, games_won, total_score, is_ai)
				VALUES ($1, $2, $3, 1, $4, $5, $6)
				ON CONFLICT (player_id, chat_key) DO UPDATE SET
					name = EXCLUDED.name,
					games_played = player_stats.games_played + 1,
					games_won = player_stats.games_won + $4,
					total_score = player_stats.total_score + $5`,
				r.PlayerID, chatKey, r.Name, won, r.Score, r.IsAI,
			); err != nil {
				return fmt.Errorf("upsert player stats: %w", err)
			}
		}
		return nil
	})
}

// GetPlayerStats returns one player's record for a chat.
func GetPlayerStats(ctx context.Context, chatKey string, playerID uuid.UUID) (*PlayerStats, error) {
	var s PlayerStats
	err := DB.QueryRow(ctx, `
		SELECT player_id, chat_key, name, games_played, games_won, total_score, is_ai
		FROM player_stats
		WHERE chat_key = $1 AND player_id = $2`,
		chatKey, playerID,
	).Scan(&s.PlayerID, &s.ChatKey, &s.Name, &s.GamesPlayed, &s.GamesWon, &s.TotalScore, &s.IsAI)
	if err != nil {
		return nil, err
	}
	if s.GamesPlayed > 0 {
		s.AvgScore = float64(s.TotalScore) / float64(s.GamesPlayed)
	}
	return &s, nil
}

// GetLeaderboard lists a chat's players ordered by wins, then average score
// ascending (lower is better in Omerta).
func GetLeaderboard(ctx context.Context, chatKey string, limit int) ([]PlayerStats, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := DB.Query(ctx, `
		SELECT player_id, chat_key, name, games_played, games_won, total_score, is_ai
		FROM player_stats
		WHERE chat_key = $1 AND games_played > 0
		ORDER BY games_won DESC, total_score::float / games_played ASC
		LIMIT $2`,
		chatKey, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlayerStats
	for rows.Next() {
		var s PlayerStats
		if err := rows.Scan(&s.PlayerID, &s.ChatKey, &s.Name, &s.GamesPlayed, &s.GamesWon, &s.TotalScore, &s.IsAI); err != nil {
			return nil, err
		}
		if s.GamesPlayed > 0 {
			s.AvgScore = float64(s.TotalScore) / float64(s.GamesPlayed)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/omerta-games/omerta-service/internal/database"
	"github.com/omerta-games/omerta-service/internal/game"
)

// GameServer holds the session registry and wires new sessions to their
// collaborators (broadcast, persistence, historian).
type GameServer struct {
	GameStore *game.GameStore
}

func NewGameServer() *GameServer {
	return &GameServer{GameStore: game.NewGameStore()}
}

type createSessionRequest struct {
	ChatKey string                 `json:"chat_key"`
	Mode    string                 `json:"mode,omitempty"`
	Rules   map[string]interface{} `json:"rules,omitempty"`
}

// CreateSessionHandler opens a new session for a chat key and starts its
// join window. One session per chat key at a time.
func (gs *GameServer) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := EnsureEphemeralUser(w, r)
	if err != nil {
		http.Error(w, "authentication failed", http.StatusForbidden)
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatKey == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if existing := gs.GameStore.GetGameByChatKey(req.ChatKey); existing != nil {
		existing.Mu.Lock()
		done := existing.Phase == game.PhaseCompleted
		existing.Mu.Unlock()
		if !done {
			http.Error(w, "a game is already running in this chat", http.StatusConflict)
			return
		}
		gs.GameStore.DeleteGame(existing.ID)
	}

	g := game.NewOmertaGame(req.ChatKey, userID)
	switch req.Mode {
	case "", string(game.ModeGroup):
	case string(game.ModeSolo):
		g.Mode = game.ModeSolo
	default:
		http.Error(w, "unknown mode", http.StatusBadRequest)
		return
	}
	if req.Rules != nil {
		rules, err := game.ParseRules(req.Rules, g.HouseRules)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g.HouseRules = rules
	}
	g.OnGameEnd = func(chatKey string, results []game.FinalScore) {
		if len(results) == 0 || database.DB == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := database.RecordRoundResult(ctx, chatKey, results); err != nil {
			log.Errorf("failed to persist round result for chat %s: %v", chatKey, err)
		}
	}
	gs.GameStore.AddGame(g)

	g.OpenJoinWindow()
	if _, err := g.AddPlayer(userID, usernameFor(r.Context(), userID)); err != nil {
		log.Warnf("creator could not join own session: %v", err)
	}
	if g.Mode == game.ModeSolo {
		// A solo table starts with two AI opponents; more can be added.
		for i := 0; i < 2; i++ {
			if _, err := g.AddAIPlayer(); err != nil {
				log.Warnf("could not seat AI opponent: %v", err)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"game_id":  g.ID.String(),
		"chat_key": g.ChatKey,
		"mode":     string(g.Mode),
	})
}

type joinSessionRequest struct {
	ChatKey string `json:"chat_key"`
}

// JoinSessionHandler seats the requesting user in the chat's open session.
func (gs *GameServer) JoinSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := EnsureEphemeralUser(w, r)
	if err != nil {
		http.Error(w, "authentication failed", http.StatusForbidden)
		return
	}
	var req joinSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatKey == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	g := gs.GameStore.GetGameByChatKey(req.ChatKey)
	if g == nil {
		http.Error(w, "no session for this chat", http.StatusNotFound)
		return
	}
	p, err := g.AddPlayer(userID, usernameFor(r.Context(), userID))
	if err != nil {
		writeGameError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"game_id":   g.ID.String(),
		"player_id": p.ID.String(),
	})
}

// AddAIHandler seats an AI player in the chat's open session.
func (gs *GameServer) AddAIHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := EnsureEphemeralUser(w, r); err != nil {
		http.Error(w, "authentication failed", http.StatusForbidden)
		return
	}
	var req joinSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatKey == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	g := gs.GameStore.GetGameByChatKey(req.ChatKey)
	if g == nil {
		http.Error(w, "no session for this chat", http.StatusNotFound)
		return
	}
	p, err := g.AddAIPlayer()
	if err != nil {
		writeGameError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"player_id": p.ID.String(),
		"name":      p.Name,
	})
}

// LeaderboardHandler returns the chat's stats table.
func (gs *GameServer) LeaderboardHandler(w http.ResponseWriter, r *http.Request) {
	chatKey := r.URL.Query().Get("chat_key")
	if chatKey == "" {
		http.Error(w, "missing chat_key", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := database.GetLeaderboard(r.Context(), chatKey, limit)
	if err != nil {
		log.Errorf("leaderboard query failed for chat %s: %v", chatKey, err)
		http.Error(w, "leaderboard unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}

// writeGameError maps engine errors onto HTTP statuses.
func writeGameError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrSessionFull):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, game.ErrNotJoinable), errors.Is(err, game.ErrWrongPhase):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, game.ErrUnknownPlayer):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

// usernameFor resolves a display name, falling back to a guest label when
// the database is unavailable.
func usernameFor(ctx context.Context, userID uuid.UUID) string {
	if database.DB == nil {
		return "Guest"
	}
	u, err := database.GetUserByID(ctx, userID)
	if err != nil || u.Username == "" {
		return "Guest"
	}
	return u.Username
}

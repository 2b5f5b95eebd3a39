package game

import (
	"sync"

	"github.com/google/uuid"
)

// GameStore is the session registry. One session exists per chat key; a
// coarse mutex guards the map while per-session mutexes guard game state.
type GameStore struct {
	mu     sync.Mutex
	games  map[uuid.UUID]*OmertaGame
	byChat map[string]*OmertaGame
}

func NewGameStore() *GameStore {
	return &GameStore{
		games:  make(map[uuid.UUID]*OmertaGame),
		byChat: make(map[string]*OmertaGame),
	}
}

// AddGame registers a session. An existing session for the same chat key is
// displaced from the chat index but remains addressable by ID until deleted.
func (s *GameStore) AddGame(g *OmertaGame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[g.ID] = g
	s.byChat[g.ChatKey] = g
}

func (s *GameStore) GetGame(id uuid.UUID) (*OmertaGame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, exists := s.games[id]
	return g, exists
}

// GetGameByChatKey returns the session bound to a chat, or nil.
func (s *GameStore) GetGameByChatKey(chatKey string) *OmertaGame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byChat[chatKey]
}

// DeleteGame removes a session and stops its timers.
func (s *GameStore) DeleteGame(id uuid.UUID) {
	s.mu.Lock()
	g, exists := s.games[id]
	if exists {
		delete(s.games, id)
		if s.byChat[g.ChatKey] == g {
			delete(s.byChat, g.ChatKey)
		}
	}
	s.mu.Unlock()
	if exists {
		g.CancelAllTimers()
	}
}

package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/omerta-games/omerta-service/internal/cache"
	"github.com/omerta-games/omerta-service/internal/models"
	"github.com/omerta-games/omerta-service/internal/scheduler"
)

// Phase is the lifecycle state of a session.
type Phase string

const (
	PhaseSetup         Phase = "setup"
	PhaseJoining       Phase = "joining"
	PhaseAssignment    Phase = "gangster_assignment"
	PhaseCapoContinue  Phase = "wait_for_capo_continue"
	PhaseDealing       Phase = "dealing"
	PhaseViewing       Phase = "viewing"
	PhasePlaying       Phase = "playing"
	PhaseAbilityTarget Phase = "ability_targeting"
	PhaseAbilityAction Phase = "ability_action"
	PhaseBottleMatch   Phase = "bottle_match_window"
	PhaseOmertaCalled  Phase = "omerta_called"
	PhaseCompleted     Phase = "completed"
)

// Mode distinguishes a table of humans from a single human against AI.
type Mode string

const (
	ModeGroup Mode = "group"
	ModeSolo  Mode = "solo"
)

// Errors returned to callers for rejected actions. Rejected actions never
// mutate state.
var (
	ErrNotJoinable    = errors.New("session is not accepting players")
	ErrSessionFull    = errors.New("session is full")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrWrongPhase     = errors.New("action not allowed in current phase")
	ErrInvalidAction  = errors.New("invalid action")
	ErrOmertaBlocked  = errors.New("you cannot call omerta this turn")
	ErrUnknownPlayer  = errors.New("player not in session")
	ErrCardBlocked    = errors.New("that card is blocked by the police patrol")
	ErrNoDrawPending  = errors.New("no drawn card pending")
	ErrDrawPending    = errors.New("resolve your drawn card first")
	ErrDiscardLocked  = errors.New("top of discard cannot be taken")
	ErrAlreadyMatched = errors.New("you already failed this match window")
)

// FinalScore is one row of the settlement result.
type FinalScore struct {
	PlayerID uuid.UUID `json:"player_id"`
	Name     string    `json:"name"`
	Score    int       `json:"score"`
	IsWinner bool      `json:"is_winner"`
	IsAI     bool      `json:"is_ai"`
}

// OnGameEndFunc receives the settlement results for persistence and
// out-of-band announcements.
type OnGameEndFunc func(chatKey string, results []FinalScore)

// OmertaGame holds the entire state for a single session in memory. One
// mutex guards everything; timer callbacks re-acquire it and verify their
// captured generation before touching state.
type OmertaGame struct {
	ID      uuid.UUID
	ChatKey string // external chat identity that owns this session
	HostID  uuid.UUID
	Mode    Mode

	HouseRules HouseRules
	Phase      Phase

	Players     []*models.Player // join order; includes AI seats
	Deck        []*models.Card
	DiscardPile []*models.Card
	Safe        []*models.Card

	TurnOrder       []uuid.UUID // capo first, then join order
	CurrentPlayerID uuid.UUID
	CapoID          uuid.UUID
	CycleCount      int

	// BlockedCards maps player -> hand index -> cycles remaining.
	BlockedCards map[uuid.UUID]map[int]int

	Ability *AbilityContext
	Bottle  *BottleMatchContext

	// bottleJustEnded makes the next advance resume from the seat of the
	// player whose discard opened the window.
	bottleJustEnded     bool
	lastBottleDiscarder uuid.UUID

	OmertaCallerID uuid.UUID
	ForcedOmerta   bool
	FinalScores    []FinalScore

	// Generation counters for stale-timer detection. Each timed context
	// captures the current value; a fired callback that finds a different
	// value is stale and returns without acting.
	phaseGen   int
	turnGen    int
	abilityGen int
	bottleGen  int

	actionIndex int
	sched       *scheduler.Scheduler
	Mu          sync.Mutex

	// BroadcastFn sends an event to every player. If nil, no broadcast is done.
	BroadcastFn func(ev GameEvent)

	// BroadcastToPlayerFn sends an event to a single player.
	BroadcastToPlayerFn func(playerID uuid.UUID, ev GameEvent)

	// OnGameEnd is invoked after settlement with the final scores.
	OnGameEnd OnGameEndFunc
}

// NewOmertaGame builds an empty session shell in the setup phase.
func NewOmertaGame(chatKey string, hostID uuid.UUID) *OmertaGame {
	id, _ := uuid.NewRandom()
	return &OmertaGame{
		ID:           id,
		ChatKey:      chatKey,
		HostID:       hostID,
		Mode:         ModeGroup,
		HouseRules:   DefaultHouseRules(),
		Phase:        PhaseSetup,
		BlockedCards: make(map[uuid.UUID]map[int]int),
		sched:        scheduler.New(),
	}
}

// fireEvent broadcasts an event to all players if BroadcastFn is set.
func (g *OmertaGame) fireEvent(ev GameEvent) {
	if g.BroadcastFn != nil {
		g.BroadcastFn(ev)
	}
}

// fireEventToPlayer sends a private event to one player.
func (g *OmertaGame) fireEventToPlayer(playerID uuid.UUID, ev GameEvent) {
	if g.BroadcastToPlayerFn != nil {
		g.BroadcastToPlayerFn(playerID, ev)
	}
}

// logAction pushes an action record to the historian queue asynchronously.
func (g *OmertaGame) logAction(actorID uuid.UUID, actionType string, payload map[string]interface{}) {
	g.actionIndex++
	record := cache.GameActionRecord{
		GameID:        g.ID,
		ActionIndex:   g.actionIndex,
		ActorUserID:   actorID,
		ActionType:    actionType,
		ActionPayload: payload,
		Timestamp:     time.Now().UnixMilli(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := cache.PublishGameAction(ctx, record); err != nil {
			log.Warnf("historian publish failed for game %s: %v", g.ID, err)
		}
	}()
}

func (g *OmertaGame) playerByID(id uuid.UUID) *models.Player {
	for _, p := range g.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// activePlayersInOrder returns the players still participating, capo first.
func (g *OmertaGame) activePlayersInOrder() []*models.Player {
	var out []*models.Player
	for _, id := range g.TurnOrder {
		p := g.playerByID(id)
		if p != nil && p.Status != models.StatusInactive {
			out = append(out, p)
		}
	}
	return out
}

// OpenJoinWindow moves the session into the joining phase and starts the
// join deadline plus periodic reminders.
func (g *OmertaGame) OpenJoinWindow() {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	if g.Phase != PhaseSetup {
		return
	}
	g.Phase = PhaseJoining
	g.phaseGen++
	gen := g.phaseGen

	g.fireEvent(GameEvent{
		Type: EventSessionCreated,
		Payload: map[string]interface{}{
			"mode":            string(g.Mode),
			"join_window_sec": g.HouseRules.JoinWindowSec,
			"min_players":     g.HouseRules.MinPlayers,
			"max_players":     g.HouseRules.MaxPlayers,
		},
	})
	g.logAction(g.HostID, "session_created", nil)

	joinWindow := time.Duration(g.HouseRules.JoinWindowSec) * time.Second
	reminder := time.Duration(g.HouseRules.JoinReminderSec) * time.Second
	deadline := time.Now().Add(joinWindow)

	g.sched.Every("join_reminder", reminder, func() {
		g.Mu.Lock()
		defer g.Mu.Unlock()
		if g.phaseGen != gen || g.Phase != PhaseJoining {
			return
		}
		g.fireEvent(GameEvent{
			Type: EventJoinReminder,
			Payload: map[string]interface{}{
				"players":      len(g.Players),
				"seconds_left": int(time.Until(deadline).Seconds()),
				"min_players":  g.HouseRules.MinPlayers,
			},
		})
	})
	g.sched.Once("join_deadline", joinWindow, func() {
		g.closeJoinWindow(gen)
	})
}

// AddPlayer seats a human player during the joining phase. Re-joining is a
// no-op returning the existing seat.
func (g *OmertaGame) AddPlayer(userID uuid.UUID, name string) (*models.Player, error) {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	if g.Phase != PhaseJoining {
		return nil, ErrNotJoinable
	}
	if p := g.playerByID(userID); p != nil {
		return p, nil
	}
	if len(g.Players) >= g.HouseRules.MaxPlayers {
		return nil, ErrSessionFull
	}
	p := &models.Player{
		ID:        userID,
		Name:      name,
		Status:    models.StatusActive,
		Viewed:    make(map[int]bool),
		JoinedAt:  time.Now(),
		Connected: true,
	}
	g.Players = append(g.Players, p)
	g.fireEvent(GameEvent{
		Type:    EventPlayerJoined,
		User:    &EventUser{ID: p.ID, Name: p.Name},
		Payload: map[string]interface{}{"players": len(g.Players)},
	})
	g.logAction(userID, "player_joined", map[string]interface{}{"name": name})
	if len(g.Players) == g.HouseRules.MaxPlayers {
		// Full table: close early.
		gen := g.phaseGen
		g.sched.Once("join_deadline", 0, func() { g.closeJoinWindow(gen) })
	}
	return p, nil
}

// AddAIPlayer seats a computer player during the joining phase.
func (g *OmertaGame) AddAIPlayer() (*models.Player, error) {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	if g.Phase != PhaseJoining {
		return nil, ErrNotJoinable
	}
	if len(g.Players) >= g.HouseRules.MaxPlayers {
		return nil, ErrSessionFull
	}
	n := 0
	for _, p := range g.Players {
		if p.IsAI {
			n++
		}
	}
	id, _ := uuid.NewRandom()
	p := &models.Player{
		ID:        id,
		Name:      fmt.Sprintf("AI Bot %d", n+1),
		Status:    models.StatusActive,
		Viewed:    make(map[int]bool),
		JoinedAt:  time.Now(),
		IsAI:      true,
		Connected: true,
	}
	g.Players = append(g.Players, p)
	g.fireEvent(GameEvent{
		Type:    EventPlayerJoined,
		User:    &EventUser{ID: p.ID, Name: p.Name},
		Payload: map[string]interface{}{"players": len(g.Players), "is_ai": true},
	})
	g.logAction(id, "ai_joined", map[string]interface{}{"name": p.Name})
	return p, nil
}

// closeJoinWindow ends the joining phase: with enough players the round
// proceeds to gangster assignment, otherwise the session is cancelled.
func (g *OmertaGame) closeJoinWindow(gen int) {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	if g.phaseGen != gen || g.Phase != PhaseJoining {
		log.Warnf("game %s: stale join deadline fired, ignoring", g.ID)
		return
	}
	g.sched.Cancel("join_reminder")
	if len(g.Players) < g.HouseRules.MinPlayers {
		g.Phase = PhaseCompleted
		g.phaseGen++
		g.fireEvent(GameEvent{
			Type:    EventSessionCancelled,
			Payload: map[string]interface{}{"reason": "not enough players", "players": len(g.Players)},
		})
		g.logAction(uuid.Nil, "session_cancelled", nil)
		if g.OnGameEnd != nil {
			results := []FinalScore{}
			go g.OnGameEnd(g.ChatKey, results)
		}
		return
	}
	g.beginAssignmentLocked()
}

// beginAssignmentLocked runs gangster assignment and prompts the capo to
// continue. Mutex must be held.
func (g *OmertaGame) beginAssignmentLocked() {
	g.Phase = PhaseAssignment
	g.phaseGen++
	g.assignGangstersLocked()

	assignments := map[string]interface{}{}
	for _, p := range g.Players {
		assignments[p.ID.String()] = p.Gangster
	}
	g.fireEvent(GameEvent{Type: EventGangstersAssigned, Payload: map[string]interface{}{"assignments": assignments}})
	g.logAction(uuid.Nil, "gangsters_assigned", map[string]interface{}{"capo": g.CapoID.String()})

	g.Phase = PhaseCapoContinue
	gen := g.phaseGen
	capo := g.capoPlayer()
	g.fireEvent(GameEvent{
		Type: EventCapoContinue,
		User: &EventUser{ID: capo.ID, Name: capo.Name},
	})
	if capo.IsAI {
		g.sched.Once("capo_continue", aiThinkDelay(), func() { g.capoContinue(gen) })
		return
	}
	g.sched.Once("capo_continue", time.Duration(g.HouseRules.CapoContinueSec)*time.Second, func() {
		g.capoContinue(gen)
	})
}

// HandleCapoContinue processes the capo's confirmation to start dealing.
func (g *OmertaGame) HandleCapoContinue(playerID uuid.UUID) error {
	g.Mu.Lock()
	if g.Phase != PhaseCapoContinue {
		g.Mu.Unlock()
		return ErrWrongPhase
	}
	if playerID != g.CapoID {
		g.Mu.Unlock()
		return ErrInvalidAction
	}
	gen := g.phaseGen
	g.Mu.Unlock()
	g.sched.Cancel("capo_continue")
	g.capoContinue(gen)
	return nil
}

func (g *OmertaGame) capoContinue(gen int) {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	if g.phaseGen != gen || g.Phase != PhaseCapoContinue {
		return
	}
	g.dealCardsLocked()
}

// dealCardsLocked builds the deck, deals hands and the safe, fixes the turn
// order, and opens the viewing phase. Mutex must be held.
func (g *OmertaGame) dealCardsLocked() {
	g.Phase = PhaseDealing
	g.phaseGen++
	g.Deck = newDeck()
	g.DiscardPile = nil
	g.Safe = nil

	for _, p := range g.Players {
		p.Hand = nil
		p.Viewed = make(map[int]bool)
		p.ViewedAllInitial = false
		for i := 0; i < g.HouseRules.HandSize; i++ {
			p.Hand = append(p.Hand, g.Deck[0])
			g.Deck = g.Deck[1:]
		}
	}
	if len(g.Deck) >= g.HouseRules.SafeSize {
		g.Safe = g.Deck[:g.HouseRules.SafeSize]
		g.Deck = g.Deck[g.HouseRules.SafeSize:]
	}

	// Capo leads; everyone else follows in join order.
	g.TurnOrder = []uuid.UUID{g.CapoID}
	for _, p := range g.Players {
		if p.ID != g.CapoID {
			g.TurnOrder = append(g.TurnOrder, p.ID)
		}
	}

	g.fireEvent(GameEvent{
		Type: EventCardsDealt,
		Payload: map[string]interface{}{
			"hand_size": g.HouseRules.HandSize,
			"safe_size": len(g.Safe),
		},
	})
	g.logAction(uuid.Nil, "cards_dealt", nil)
	g.beginViewingLocked()
}

// beginViewingLocked privately reveals each player's first cards and starts
// the viewing countdown. Mutex must be held.
func (g *OmertaGame) beginViewingLocked() {
	g.Phase = PhaseViewing
	g.phaseGen++
	gen := g.phaseGen

	for _, p := range g.Players {
		if p.IsAI {
			// AI remembers its initial peek the same way humans do.
			for i := 0; i < g.HouseRules.InitialViewedCards && i < len(p.Hand); i++ {
				p.MarkViewed(i)
			}
			p.ViewedAllInitial = true
			continue
		}
		var cards []EventCard
		for i := 0; i < g.HouseRules.InitialViewedCards && i < len(p.Hand); i++ {
			p.MarkViewed(i)
			cards = append(cards, EventCard{
				ID:     p.Hand[i].ID,
				Name:   p.Hand[i].Label(),
				Points: p.Hand[i].Points,
				Idx:    intPtr(i),
			})
		}
		g.fireEventToPlayer(p.ID, GameEvent{
			Type:    EventPrivateInitial,
			Payload: map[string]interface{}{"cards": cards},
		})
	}
	g.fireEvent(GameEvent{
		Type:    EventViewingStarted,
		Payload: map[string]interface{}{"seconds": g.HouseRules.ViewingWindowSec},
	})
	g.sched.Once("viewing_deadline", time.Duration(g.HouseRules.ViewingWindowSec)*time.Second, func() {
		g.endViewing(gen)
	})
}

// HandleViewingDone marks a player as finished with the initial peek. Once
// every human confirms, play begins early.
func (g *OmertaGame) HandleViewingDone(playerID uuid.UUID) error {
	g.Mu.Lock()
	if g.Phase != PhaseViewing {
		g.Mu.Unlock()
		return ErrWrongPhase
	}
	p := g.playerByID(playerID)
	if p == nil {
		g.Mu.Unlock()
		return ErrUnknownPlayer
	}
	p.ViewedAllInitial = true
	allDone := true
	for _, pl := range g.Players {
		if !pl.ViewedAllInitial {
			allDone = false
			break
		}
	}
	gen := g.phaseGen
	g.Mu.Unlock()
	if allDone {
		g.sched.Cancel("viewing_deadline")
		g.endViewing(gen)
	}
	return nil
}

func (g *OmertaGame) endViewing(gen int) {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	if g.phaseGen != gen || g.Phase != PhaseViewing {
		return
	}

	// Confirming the initial peek is mandatory. Anyone still unconfirmed at
	// the deadline sits out the rest of the round.
	active := 0
	for _, p := range g.Players {
		if p.Status == models.StatusInactive {
			continue
		}
		if !p.ViewedAllInitial {
			p.Status = models.StatusInactive
			g.fireEvent(GameEvent{
				Type:    EventPlayerInactive,
				User:    &EventUser{ID: p.ID, Name: p.Name},
				Payload: map[string]interface{}{"reason": "viewing not confirmed"},
			})
			g.logAction(p.ID, "player_inactive", map[string]interface{}{"reason": "viewing not confirmed"})
			continue
		}
		active++
	}
	if active < g.HouseRules.MinPlayers {
		g.Phase = PhaseCompleted
		g.phaseGen++
		g.fireEvent(GameEvent{
			Type:    EventSessionCancelled,
			Payload: map[string]interface{}{"reason": "not enough active players", "players": active},
		})
		g.logAction(uuid.Nil, "session_cancelled", nil)
		if g.OnGameEnd != nil {
			results := []FinalScore{}
			go g.OnGameEnd(g.ChatKey, results)
		}
		return
	}

	g.Phase = PhasePlaying
	g.phaseGen++
	g.CycleCount = 0
	g.fireEvent(GameEvent{Type: EventViewingEnded})
	g.logAction(uuid.Nil, "playing_started", nil)

	// The capo opens the round; seed the walk one seat before so the capo
	// is the first selected and the cycle counter ticks to 1.
	g.startNextTurnLocked(g.TurnOrder[len(g.TurnOrder)-1])
}

// CancelAllTimers stops every scheduled job for the session.
func (g *OmertaGame) CancelAllTimers() {
	g.sched.CancelAll()
}

// aiThinkDelay returns a small randomized pause so AI moves read naturally.
func aiThinkDelay() time.Duration {
	return time.Duration(500+rand.Intn(1500)) * time.Millisecond
}

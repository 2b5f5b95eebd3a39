// internal/game/game_test.go
package game

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omerta-games/omerta-service/internal/models"
)

// mockBroadcaster collects events instead of sending them over WS.
type mockBroadcaster struct {
	mu           sync.Mutex
	allEvents    []GameEvent
	playerEvents map[uuid.UUID][]GameEvent
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{playerEvents: make(map[uuid.UUID][]GameEvent)}
}

func (mb *mockBroadcaster) broadcastFn(ev GameEvent) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.allEvents = append(mb.allEvents, ev)
}

func (mb *mockBroadcaster) broadcastToPlayerFn(playerID uuid.UUID, ev GameEvent) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.playerEvents[playerID] = append(mb.playerEvents[playerID], ev)
}

func (mb *mockBroadcaster) clear() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.allEvents = nil
	mb.playerEvents = make(map[uuid.UUID][]GameEvent)
}

func (mb *mockBroadcaster) hasEvent(typ GameEventType) bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for _, ev := range mb.allEvents {
		if ev.Type == typ {
			return true
		}
	}
	return false
}

func (mb *mockBroadcaster) hasPlayerEvent(playerID uuid.UUID, typ GameEventType) bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for _, ev := range mb.playerEvents[playerID] {
		if ev.Type == typ {
			return true
		}
	}
	return false
}

func (mb *mockBroadcaster) lastPlayerEvent(playerID uuid.UUID) *GameEvent {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	events := mb.playerEvents[playerID]
	if len(events) == 0 {
		return nil
	}
	return &events[len(events)-1]
}

func makeBottle(v int) *models.Card {
	id, _ := uuid.NewRandom()
	return &models.Card{ID: id, Kind: models.KindBottle, Name: "Bottle", Value: v, Points: v}
}

func makeChar(name string) *models.Card {
	id, _ := uuid.NewRandom()
	for _, entry := range characterCatalog {
		if entry.name == name {
			return &models.Card{ID: id, Kind: models.KindCharacter, Name: name, Points: entry.points}
		}
	}
	return &models.Card{ID: id, Kind: models.KindCharacter, Name: name}
}

// setupPlayingGame walks a table of human players through joining,
// assignment, dealing, and viewing, leaving the capo on turn. Returned
// players are in turn order: index 0 is the capo.
func setupPlayingGame(t *testing.T, numPlayers int) (*OmertaGame, []*models.Player, *mockBroadcaster) {
	t.Helper()
	g := NewOmertaGame("chat:test", uuid.New())
	mb := newMockBroadcaster()
	g.BroadcastFn = mb.broadcastFn
	g.BroadcastToPlayerFn = mb.broadcastToPlayerFn
	g.HouseRules.MinPlayers = 2
	g.HouseRules.BottleWindowSec = 1

	g.Mu.Lock()
	g.Phase = PhaseJoining
	g.phaseGen++
	g.Mu.Unlock()

	for i := 0; i < numPlayers; i++ {
		_, err := g.AddPlayer(uuid.New(), fmt.Sprintf("Player %d", i+1))
		require.NoError(t, err)
	}

	g.Mu.Lock()
	g.beginAssignmentLocked()
	g.Mu.Unlock()
	require.Equal(t, PhaseCapoContinue, g.Phase)
	require.NoError(t, g.HandleCapoContinue(g.CapoID))
	require.Equal(t, PhaseViewing, g.Phase)
	for _, p := range g.Players {
		require.NoError(t, g.HandleViewingDone(p.ID))
	}
	require.Equal(t, PhasePlaying, g.Phase)

	players := make([]*models.Player, 0, numPlayers)
	for _, id := range g.TurnOrder {
		players = append(players, g.playerByID(id))
	}
	require.Equal(t, g.CapoID, players[0].ID)
	require.Equal(t, g.CapoID, g.CurrentPlayerID)
	require.Equal(t, 1, g.CycleCount)

	mb.clear()
	return g, players, mb
}

// setHands overwrites hands and the stock for deterministic play.
func setHands(g *OmertaGame, deck []*models.Card, hands map[uuid.UUID][]*models.Card) {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	for id, hand := range hands {
		p := g.playerByID(id)
		p.Hand = hand
		p.Viewed = make(map[int]bool)
	}
	if deck != nil {
		g.Deck = deck
	}
}

func TestNewDeckComposition(t *testing.T) {
	deck := newDeck()
	assert.Len(t, deck, 64)

	bottles := make(map[int]int)
	characters := make(map[string]int)
	for _, c := range deck {
		if c.IsBottle() {
			bottles[c.Value]++
			assert.Equal(t, c.Value, c.Points)
		} else {
			characters[c.Name]++
		}
	}
	for v := 1; v <= 10; v++ {
		assert.Equal(t, 4, bottles[v], "bottle %d", v)
	}
	for _, entry := range characterCatalog {
		assert.Equal(t, entry.copies, characters[entry.name], entry.name)
	}
}

func TestJoinRules(t *testing.T) {
	g := NewOmertaGame("chat:test", uuid.New())
	g.HouseRules.MaxPlayers = 3

	_, err := g.AddPlayer(uuid.New(), "Early")
	assert.ErrorIs(t, err, ErrNotJoinable, "joining before the window opens")

	g.Mu.Lock()
	g.Phase = PhaseJoining
	g.Mu.Unlock()

	firstID := uuid.New()
	p1, err := g.AddPlayer(firstID, "First")
	require.NoError(t, err)

	again, err := g.AddPlayer(firstID, "First")
	require.NoError(t, err)
	assert.Same(t, p1, again, "re-join returns the existing seat")

	_, err = g.AddPlayer(uuid.New(), "Second")
	require.NoError(t, err)
	_, err = g.AddAIPlayer()
	require.NoError(t, err)

	_, err = g.AddPlayer(uuid.New(), "Overflow")
	assert.ErrorIs(t, err, ErrSessionFull)
}

func TestSessionModeAnnounced(t *testing.T) {
	g := NewOmertaGame("chat:test", uuid.New())
	assert.Equal(t, ModeGroup, g.Mode, "group is the default")

	g.Mode = ModeSolo
	mb := newMockBroadcaster()
	g.BroadcastFn = mb.broadcastFn
	g.OpenJoinWindow()
	defer g.CancelAllTimers()

	mb.mu.Lock()
	defer mb.mu.Unlock()
	var created *GameEvent
	for i := range mb.allEvents {
		if mb.allEvents[i].Type == EventSessionCreated {
			created = &mb.allEvents[i]
			break
		}
	}
	require.NotNil(t, created)
	assert.Equal(t, "solo", created.Payload["mode"])
}

func TestGangsterAssignment(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 4)

	capos := 0
	for _, p := range players {
		assert.NotEmpty(t, p.Gangster)
		if p.Gangster == capoName {
			capos++
			assert.Equal(t, g.CapoID, p.ID)
		}
	}
	assert.Equal(t, 1, capos, "exactly one Al Capone")
	assert.Equal(t, players[0].ID, g.TurnOrder[0], "capo leads the turn order")
}

// setupViewingGame stops the lifecycle at the viewing phase so tests can
// exercise the confirmation deadline. Returned players are in turn order.
func setupViewingGame(t *testing.T, numPlayers int) (*OmertaGame, []*models.Player, *mockBroadcaster) {
	t.Helper()
	g := NewOmertaGame("chat:test", uuid.New())
	mb := newMockBroadcaster()
	g.BroadcastFn = mb.broadcastFn
	g.BroadcastToPlayerFn = mb.broadcastToPlayerFn
	g.HouseRules.MinPlayers = 2

	g.Mu.Lock()
	g.Phase = PhaseJoining
	g.phaseGen++
	g.Mu.Unlock()

	for i := 0; i < numPlayers; i++ {
		_, err := g.AddPlayer(uuid.New(), fmt.Sprintf("Player %d", i+1))
		require.NoError(t, err)
	}

	g.Mu.Lock()
	g.beginAssignmentLocked()
	g.Mu.Unlock()
	require.NoError(t, g.HandleCapoContinue(g.CapoID))
	require.Equal(t, PhaseViewing, g.Phase)

	players := make([]*models.Player, 0, numPlayers)
	for _, id := range g.TurnOrder {
		players = append(players, g.playerByID(id))
	}
	mb.clear()
	return g, players, mb
}

func TestViewingDeadlineDropsUnconfirmed(t *testing.T) {
	g, players, mb := setupViewingGame(t, 4)
	defer g.CancelAllTimers()

	// Everyone confirms except the seat after the capo.
	for i, p := range players {
		if i == 1 {
			continue
		}
		require.NoError(t, g.HandleViewingDone(p.ID))
	}
	require.Equal(t, PhaseViewing, g.Phase)

	g.Mu.Lock()
	gen := g.phaseGen
	g.Mu.Unlock()
	g.endViewing(gen)

	assert.Equal(t, PhasePlaying, g.Phase)
	assert.Equal(t, models.StatusInactive, players[1].Status)
	assert.True(t, mb.hasEvent(EventPlayerInactive))

	// The dropped seat never gets a turn.
	hands := map[uuid.UUID][]*models.Card{}
	for _, p := range players {
		hands[p.ID] = []*models.Card{makeChar(models.CharWitness), makeBottle(9)}
	}
	setHands(g, []*models.Card{makeBottle(1), makeBottle(2)}, hands)

	require.Equal(t, players[0].ID, g.CurrentPlayerID)
	require.NoError(t, g.HandleDrawDeck(players[0].ID))
	require.NoError(t, g.HandleReplaceCard(players[0].ID, 0))
	assert.Equal(t, players[2].ID, g.CurrentPlayerID, "inactive seat is passed over")
}

func TestViewingDeadlineCancelsShortTable(t *testing.T) {
	g, players, mb := setupViewingGame(t, 2)
	defer g.CancelAllTimers()

	require.NoError(t, g.HandleViewingDone(players[0].ID))

	g.Mu.Lock()
	gen := g.phaseGen
	g.Mu.Unlock()
	g.endViewing(gen)

	assert.Equal(t, PhaseCompleted, g.Phase)
	assert.Equal(t, models.StatusInactive, players[1].Status)
	assert.True(t, mb.hasEvent(EventSessionCancelled))
}

func TestNoSelectablePlayerForcesOmerta(t *testing.T) {
	g, players, mb := setupPlayingGame(t, 3)
	defer g.CancelAllTimers()

	g.Mu.Lock()
	for _, p := range players {
		p.Status = models.StatusInactive
	}
	g.startNextTurnLocked(players[0].ID)
	g.Mu.Unlock()

	assert.Equal(t, PhaseCompleted, g.Phase)
	assert.True(t, g.ForcedOmerta)
	assert.True(t, mb.hasEvent(EventGameResults))
}

func TestTurnRotationAndCycles(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 3)

	// Witness discards are inert, so each turn passes cleanly.
	hands := map[uuid.UUID][]*models.Card{}
	for _, p := range players {
		hands[p.ID] = []*models.Card{makeChar(models.CharWitness), makeBottle(9)}
	}
	setHands(g, []*models.Card{makeBottle(1), makeBottle(2), makeBottle(3), makeBottle(4)}, hands)

	playTurn := func(p *models.Player) {
		require.NoError(t, g.HandleDrawDeck(p.ID))
		require.NoError(t, g.HandleReplaceCard(p.ID, 0))
	}

	playTurn(players[0])
	assert.Equal(t, players[1].ID, g.CurrentPlayerID)
	playTurn(players[1])
	assert.Equal(t, players[2].ID, g.CurrentPlayerID)
	playTurn(players[2])
	assert.Equal(t, players[0].ID, g.CurrentPlayerID, "rotation wraps to the capo")
	assert.Equal(t, 2, g.CycleCount, "capo's second turn starts cycle 2")
}

func TestSkipTurnConsumed(t *testing.T) {
	g, players, mb := setupPlayingGame(t, 3)

	hands := map[uuid.UUID][]*models.Card{}
	for _, p := range players {
		hands[p.ID] = []*models.Card{makeChar(models.CharWitness), makeBottle(9)}
	}
	setHands(g, []*models.Card{makeBottle(1), makeBottle(2)}, hands)

	g.Mu.Lock()
	players[1].Status = models.StatusSkipTurn
	players[1].CannotCallOmerta = true
	g.Mu.Unlock()

	require.NoError(t, g.HandleDrawDeck(players[0].ID))
	require.NoError(t, g.HandleReplaceCard(players[0].ID, 0))

	assert.Equal(t, players[2].ID, g.CurrentPlayerID, "skipped seat is passed over")
	assert.Equal(t, models.StatusActive, players[1].Status, "skip flag is consumed")
	assert.False(t, players[1].CannotCallOmerta)
	assert.True(t, mb.hasEvent(EventPlayerSkipped))
}

func TestEmptyHandForcesOmerta(t *testing.T) {
	g, players, mb := setupPlayingGame(t, 3)

	setHands(g, nil, map[uuid.UUID][]*models.Card{
		players[0].ID: {makeBottle(6), makeBottle(7)},
		players[1].ID: nil,
		players[2].ID: {makeBottle(8), makeBottle(9)},
	})
	g.Mu.Lock()
	g.advanceLocked(players[0].ID)
	g.Mu.Unlock()

	assert.Equal(t, PhaseCompleted, g.Phase)
	assert.True(t, g.ForcedOmerta)
	assert.Equal(t, players[1].ID, g.OmertaCallerID)
	assert.True(t, mb.hasEvent(EventGameResults))

	// Empty hand scores zero, so the forced caller wins.
	require.NotEmpty(t, g.FinalScores)
	for _, fs := range g.FinalScores {
		if fs.PlayerID == players[1].ID {
			assert.True(t, fs.IsWinner)
			assert.Zero(t, fs.Score)
		}
	}
}

func TestDrawDiscardOnlyBottleOrAlibi(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 3)
	capo := players[0]

	g.Mu.Lock()
	g.DiscardPile = []*models.Card{makeChar(models.CharSnitch)}
	g.Mu.Unlock()
	assert.ErrorIs(t, g.HandleDrawDiscard(capo.ID), ErrDiscardLocked)

	g.Mu.Lock()
	g.DiscardPile = []*models.Card{makeChar(models.CharAlibi)}
	g.Mu.Unlock()
	require.NoError(t, g.HandleDrawDiscard(capo.ID))
	assert.Equal(t, models.CharAlibi, capo.DrawnCard.Name)
	assert.Equal(t, "discard", capo.DrawSource)
}

func TestReplaceBlockedPosition(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 3)
	capo := players[0]

	require.NoError(t, g.HandleDrawDeck(capo.ID))
	g.Mu.Lock()
	g.BlockedCards[capo.ID] = map[int]int{1: 2}
	g.Mu.Unlock()

	assert.ErrorIs(t, g.HandleReplaceCard(capo.ID, 1), ErrCardBlocked)
}

func TestBlockedCardDecay(t *testing.T) {
	g, players, mb := setupPlayingGame(t, 3)

	g.Mu.Lock()
	g.BlockedCards[players[1].ID] = map[int]int{0: 2}
	g.onNewCycleLocked()
	g.Mu.Unlock()
	assert.Equal(t, 1, g.BlockedCards[players[1].ID][0])

	g.Mu.Lock()
	g.onNewCycleLocked()
	g.Mu.Unlock()
	assert.Empty(t, g.BlockedCards[players[1].ID])
	assert.True(t, mb.hasEvent(EventCardUnblocked))
}

func TestVoluntaryOmertaSuccess(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 3)

	setHands(g, nil, map[uuid.UUID][]*models.Card{
		players[0].ID: {makeBottle(2), makeBottle(3)},
		players[1].ID: {makeBottle(8), makeBottle(9)},
		players[2].ID: {makeBottle(10), makeBottle(10)},
	})

	require.NoError(t, g.HandleCallOmerta(players[0].ID))
	assert.Equal(t, PhaseCompleted, g.Phase)
	assert.False(t, g.ForcedOmerta)

	require.Len(t, g.FinalScores, 3)
	assert.Equal(t, players[0].ID, g.FinalScores[0].PlayerID)
	assert.True(t, g.FinalScores[0].IsWinner)
	assert.Equal(t, 5, g.FinalScores[0].Score)
}

func TestVoluntaryOmertaFailurePenalty(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 3)

	setHands(g, nil, map[uuid.UUID][]*models.Card{
		players[0].ID: {makeBottle(5), makeBottle(5)},
		players[1].ID: {makeBottle(2)},
		players[2].ID: {makeBottle(9), makeBottle(9)},
	})

	require.NoError(t, g.HandleCallOmerta(players[0].ID))
	assert.Equal(t, PhaseCompleted, g.Phase)

	var caller, lowest *FinalScore
	for i := range g.FinalScores {
		fs := &g.FinalScores[i]
		switch fs.PlayerID {
		case players[0].ID:
			caller = fs
		case players[1].ID:
			lowest = fs
		}
	}
	require.NotNil(t, caller)
	require.NotNil(t, lowest)
	assert.Equal(t, 30, caller.Score, "failed call adds the penalty")
	assert.False(t, caller.IsWinner)
	assert.True(t, lowest.IsWinner)
}

func TestOmertaBlockedByMamma(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 3)

	g.Mu.Lock()
	players[0].CannotCallOmerta = true
	g.Mu.Unlock()

	assert.ErrorIs(t, g.HandleCallOmerta(players[0].ID), ErrOmertaBlocked)
	assert.Equal(t, PhasePlaying, g.Phase)
}

func TestDeckExhaustionForcesOmerta(t *testing.T) {
	g, players, mb := setupPlayingGame(t, 3)

	g.Mu.Lock()
	g.Deck = nil
	g.DiscardPile = []*models.Card{makeBottle(4)}
	g.Mu.Unlock()

	require.NoError(t, g.HandleDrawDeck(players[0].ID))
	assert.Equal(t, PhaseCompleted, g.Phase)
	assert.True(t, g.ForcedOmerta)
	assert.True(t, mb.hasEvent(EventOmertaForced))
}

func TestReshuffleFoldsDiscardBackIn(t *testing.T) {
	g, players, mb := setupPlayingGame(t, 3)

	top := makeBottle(7)
	g.Mu.Lock()
	g.Deck = nil
	g.DiscardPile = []*models.Card{makeBottle(1), makeBottle(2), top}
	g.Mu.Unlock()

	require.NoError(t, g.HandleDrawDeck(players[0].ID))
	assert.NotNil(t, players[0].DrawnCard)
	assert.True(t, mb.hasEvent(EventDeckReshuffle))

	g.Mu.Lock()
	defer g.Mu.Unlock()
	require.Len(t, g.DiscardPile, 1)
	assert.Same(t, top, g.DiscardPile[0], "top discard stays out of the reshuffle")
}

func TestStaleTurnTimerIgnored(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 3)

	g.Mu.Lock()
	staleGen := g.turnGen - 1
	g.Mu.Unlock()

	g.turnTimeout(players[0].ID, staleGen)
	assert.Equal(t, players[0].ID, g.CurrentPlayerID, "stale timer must not advance the turn")
	assert.Equal(t, PhasePlaying, g.Phase)
}

func TestRemoveHandCardShiftsKnowledge(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 3)
	p := players[0]

	setHands(g, nil, map[uuid.UUID][]*models.Card{
		p.ID: {makeBottle(1), makeBottle(2), makeBottle(3), makeBottle(4)},
	})
	g.Mu.Lock()
	p.MarkViewed(0)
	p.MarkViewed(2)
	g.BlockedCards[p.ID] = map[int]int{3: 2}
	g.removeHandCardLocked(p, 1)
	g.Mu.Unlock()

	assert.True(t, p.Viewed[0])
	assert.True(t, p.Viewed[1], "knowledge of index 2 shifts down")
	assert.False(t, p.Viewed[2])
	assert.Equal(t, map[int]int{2: 2}, g.BlockedCards[p.ID])
}

func TestHouseRulesParsing(t *testing.T) {
	rules, err := ParseRules(map[string]interface{}{
		"bottleWindowSec": float64(8),
		"minPlayers":      float64(4),
		"omertaThreshold": float64(5),
	}, DefaultHouseRules())
	require.NoError(t, err)
	assert.Equal(t, 8, rules.BottleWindowSec)
	assert.Equal(t, 4, rules.MinPlayers)
	assert.Equal(t, 5, rules.OmertaThreshold)
	assert.Equal(t, 120, rules.JoinWindowSec, "untouched keys keep defaults")

	_, err = ParseRules(map[string]interface{}{"minPlayers": "three"}, DefaultHouseRules())
	assert.Error(t, err)

	_, err = ParseRules(map[string]interface{}{"joinWindowSec": float64(1)}, DefaultHouseRules())
	assert.Error(t, err, "below the minimum window")

	_, err = ParseRules(map[string]interface{}{"maxPlayers": float64(2), "minPlayers": float64(5)}, DefaultHouseRules())
	assert.Error(t, err)
}

func TestRestartRound(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 3)

	setHands(g, nil, map[uuid.UUID][]*models.Card{
		players[0].ID: {makeBottle(2)},
		players[1].ID: {makeBottle(6), makeBottle(7)},
		players[2].ID: {makeBottle(8), makeBottle(9)},
	})
	require.NoError(t, g.HandleCallOmerta(players[0].ID))
	require.Equal(t, PhaseCompleted, g.Phase)

	require.NoError(t, g.RestartRound())
	assert.Equal(t, PhaseCapoContinue, g.Phase)
	assert.Empty(t, g.FinalScores)
	for _, p := range g.Players {
		assert.Empty(t, p.Hand)
		assert.Equal(t, models.StatusActive, p.Status)
	}
	g.CancelAllTimers()
}

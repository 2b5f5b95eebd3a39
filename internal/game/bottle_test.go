// internal/game/bottle_test.go
package game

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omerta-games/omerta-service/internal/models"
)

// openWindow has the capo discard a bottle of the given value by replacing
// it with a drawn card.
func openWindow(t *testing.T, g *OmertaGame, capo *models.Player, value int) {
	t.Helper()
	g.Mu.Lock()
	capo.Hand[0] = makeBottle(value)
	capo.DrawnCard = makeBottle(9)
	g.Mu.Unlock()
	require.NoError(t, g.HandleReplaceCard(capo.ID, 0))
	require.Equal(t, PhaseBottleMatch, g.Phase)
}

func TestBottleMatchRace(t *testing.T) {
	g, players, mb := setupPlayingGame(t, 3)

	setHands(g, []*models.Card{makeBottle(1), makeBottle(2)}, map[uuid.UUID][]*models.Card{
		players[0].ID: {makeBottle(5), makeWitness()},
		players[1].ID: {makeBottle(5), makeBottle(2)},
		players[2].ID: {makeBottle(7), makeBottle(2)},
	})
	openWindow(t, g, players[0], 5)

	// A wrong claim bars the player for the rest of the window.
	require.NoError(t, g.HandleBottleMatch(players[2].ID, 0))
	assert.True(t, mb.hasEvent(EventBottleMatchFail))
	assert.Len(t, players[2].Hand, 3, "failed claim draws a penalty card")
	assert.ErrorIs(t, g.HandleBottleMatch(players[2].ID, 1), ErrAlreadyMatched)

	// The first correct claim wins.
	require.NoError(t, g.HandleBottleMatch(players[1].ID, 0))
	assert.True(t, mb.hasEvent(EventBottleMatchSuccess))
	assert.Len(t, players[1].Hand, 1)
	assert.Nil(t, g.Bottle)
	assert.Equal(t, PhasePlaying, g.Phase)
	assert.Equal(t, players[1].ID, g.CurrentPlayerID, "play resumes after the discarder")
	g.CancelAllTimers()
}

func TestBottleWindowExpires(t *testing.T) {
	g, players, mb := setupPlayingGame(t, 3)

	setHands(g, []*models.Card{makeBottle(1)}, map[uuid.UUID][]*models.Card{
		players[0].ID: {makeBottle(5), makeBottle(8)},
		players[1].ID: {makeBottle(6), makeBottle(2)},
		players[2].ID: {makeBottle(7), makeBottle(3)},
	})
	openWindow(t, g, players[0], 5)

	assert.Eventually(t, func() bool {
		g.Mu.Lock()
		defer g.Mu.Unlock()
		return g.Phase == PhasePlaying && g.Bottle == nil
	}, 3*time.Second, 50*time.Millisecond, "window should expire on its own")

	assert.True(t, mb.hasEvent(EventBottleWindowClosed))
	assert.Equal(t, players[1].ID, g.CurrentPlayerID, "play resumes after the discarder")
}

func TestStaleBottleTimerIgnored(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 3)

	setHands(g, nil, map[uuid.UUID][]*models.Card{
		players[0].ID: {makeBottle(5), makeBottle(8)},
	})
	openWindow(t, g, players[0], 5)
	g.CancelAllTimers()

	g.Mu.Lock()
	staleGen := g.Bottle.Gen - 1
	g.Mu.Unlock()
	g.bottleWindowExpired(staleGen)

	assert.Equal(t, PhaseBottleMatch, g.Phase, "stale timer must not close the window")
	g.bottleWindowExpired(staleGen + 1)
	assert.Equal(t, PhasePlaying, g.Phase)
}

func TestTurnBottleMatch(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 3)

	setHands(g, []*models.Card{makeBottle(1), makeBottle(2)}, map[uuid.UUID][]*models.Card{
		players[0].ID: {makeWitness(), makeBottle(8)},
		players[1].ID: {makeBottle(4), makeBottle(9)},
	})

	// Pass the capo's turn so the restriction on the opening turn is gone.
	require.NoError(t, g.HandleDrawDeck(players[0].ID))
	require.NoError(t, g.HandleReplaceCard(players[0].ID, 0))
	require.Equal(t, players[1].ID, g.CurrentPlayerID)

	g.Mu.Lock()
	g.DiscardPile = append(g.DiscardPile, makeBottle(4))
	g.Mu.Unlock()

	require.NoError(t, g.HandleBottleMatch(players[1].ID, 0))
	assert.Len(t, players[1].Hand, 1)
	assert.Equal(t, PhaseBottleMatch, g.Phase, "a turn match opens its own window")
	require.NotNil(t, g.Bottle)
	assert.Equal(t, 4, g.Bottle.Value)
	g.CancelAllTimers()
}

func TestTurnBottleMatchBlockedOnOpeningTurn(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 3)

	setHands(g, nil, map[uuid.UUID][]*models.Card{
		players[0].ID: {makeBottle(4), makeBottle(8)},
	})
	g.Mu.Lock()
	g.DiscardPile = append(g.DiscardPile, makeBottle(4))
	g.Mu.Unlock()

	err := g.HandleBottleMatch(players[0].ID, 0)
	assert.ErrorIs(t, err, ErrInvalidAction, "the capo's opening turn cannot race a discard")
}

func TestAIDumpedBottleOpensWindow(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 3)

	setHands(g, []*models.Card{makeBottle(3), makeBottle(6)}, map[uuid.UUID][]*models.Card{
		players[0].ID: {makeWitness(), makeBottle(8)},
		players[1].ID: {makeBottle(9)},
	})

	require.NoError(t, g.HandleDrawDeck(players[0].ID))
	require.NoError(t, g.HandleReplaceCard(players[0].ID, 0))
	require.Equal(t, players[1].ID, g.CurrentPlayerID)

	// Block the AI's only slot so it has to dump its draw.
	g.Mu.Lock()
	players[1].IsAI = true
	g.BlockedCards[players[1].ID] = map[int]int{0: 2}
	gen := g.turnGen
	g.Mu.Unlock()
	g.CancelAllTimers()

	g.aiTakeTurn(gen)

	assert.Equal(t, PhaseBottleMatch, g.Phase, "a dumped bottle still races")
	require.NotNil(t, g.Bottle)
	assert.Equal(t, 6, g.Bottle.Value)
	g.CancelAllTimers()
}

// makeWitness returns an inert character so a discard passes without effect.
func makeWitness() *models.Card {
	return makeChar(models.CharWitness)
}

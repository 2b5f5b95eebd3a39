// internal/game/abilities_test.go
package game

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omerta-games/omerta-service/internal/models"
)

// triggerAbility puts the named character on top of the actor's hand and
// plays a replace so its discard starts the ability.
func triggerAbility(t *testing.T, g *OmertaGame, actor *models.Player, name string) {
	t.Helper()
	g.Mu.Lock()
	actor.Hand[0] = makeChar(name)
	actor.DrawnCard = makeBottle(9)
	g.Mu.Unlock()
	require.NoError(t, g.HandleReplaceCard(actor.ID, 0))
}

func selectTarget(t *testing.T, g *OmertaGame, actor, target *models.Player) {
	t.Helper()
	err := g.HandleAbilityAction(actor.ID, models.GameAction{
		ActionType: models.ActionAbilitySelect,
		Payload:    map[string]interface{}{"target_id": target.ID.String()},
	})
	require.NoError(t, err)
}

func TestMoleSelfPeek(t *testing.T) {
	g, players, mb := setupPlayingGame(t, 3)
	actor := players[0]

	setHands(g, nil, map[uuid.UUID][]*models.Card{
		actor.ID: {makeBottle(1), makeBottle(6)},
	})
	triggerAbility(t, g, actor, models.CharMole)
	require.Equal(t, PhaseAbilityTarget, g.Phase)

	err := g.HandleAbilityAction(actor.ID, models.GameAction{
		ActionType: models.ActionAbilitySelect,
		Payload:    map[string]interface{}{"card_idx": 1},
	})
	require.NoError(t, err)

	assert.True(t, actor.Viewed[1])
	peek := mb.lastPlayerEvent(actor.ID)
	require.NotNil(t, peek)
	assert.Equal(t, EventPrivatePeek, peek.Type)
	assert.Equal(t, PhasePlaying, g.Phase)
	assert.Equal(t, players[1].ID, g.CurrentPlayerID)
}

func TestLadyShufflesAndWipesKnowledge(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 3)
	actor, victim := players[0], players[1]

	g.Mu.Lock()
	victim.IsAI = true // AI victims cannot counter
	victim.MarkViewed(0)
	g.Mu.Unlock()

	triggerAbility(t, g, actor, models.CharLady)
	selectTarget(t, g, actor, victim)

	assert.Empty(t, victim.Viewed, "shuffle wipes the victim's knowledge")
	assert.Equal(t, PhasePlaying, g.Phase)
	g.CancelAllTimers()
}

func TestKillerCounterCancelsEffect(t *testing.T) {
	g, players, mb := setupPlayingGame(t, 3)
	actor, victim := players[0], players[2]

	setHands(g, nil, map[uuid.UUID][]*models.Card{
		actor.ID:  {makeBottle(1), makeBottle(2)},
		victim.ID: {makeBottle(5), makeChar(models.CharKiller)},
	})
	triggerAbility(t, g, actor, models.CharMamma)
	selectTarget(t, g, actor, victim)

	require.NotNil(t, g.Ability)
	assert.Equal(t, AbilityKiller, g.Ability.Kind)
	assert.Equal(t, victim.ID, g.Ability.ActorID)
	prompt := mb.lastPlayerEvent(victim.ID)
	require.NotNil(t, prompt)
	assert.Equal(t, EventKillerPrompt, prompt.Type)

	err := g.HandleAbilityAction(victim.ID, models.GameAction{
		ActionType: models.ActionKillerActivate,
		Payload:    map[string]interface{}{"card_idx": 1},
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusActive, victim.Status, "countered effect must not land")
	assert.False(t, victim.CannotCallOmerta)
	assert.Len(t, victim.Hand, 1, "the played Killer leaves the hand")
	assert.Equal(t, models.CharKiller, g.topDiscard().Name)
	assert.True(t, mb.hasEvent(EventKillerCountered))
	assert.Nil(t, g.Ability)
	assert.Equal(t, PhasePlaying, g.Phase)
	assert.Equal(t, players[1].ID, g.CurrentPlayerID)
}

func TestKillerBluffFailsAndEffectLands(t *testing.T) {
	g, players, mb := setupPlayingGame(t, 3)
	actor, victim := players[0], players[2]

	setHands(g, []*models.Card{makeBottle(1), makeBottle(2)}, map[uuid.UUID][]*models.Card{
		actor.ID:  {makeBottle(1), makeBottle(2)},
		victim.ID: {makeBottle(5), makeChar(models.CharKiller)},
	})
	triggerAbility(t, g, actor, models.CharMamma)
	selectTarget(t, g, actor, victim)

	// Playing a non-Killer card is a failed bluff.
	err := g.HandleAbilityAction(victim.ID, models.GameAction{
		ActionType: models.ActionKillerActivate,
		Payload:    map[string]interface{}{"card_idx": 0},
	})
	require.NoError(t, err)

	assert.True(t, mb.hasEvent(EventKillerFailed))
	assert.Len(t, victim.Hand, 3, "bluff costs a penalty card")
	assert.Equal(t, models.StatusSkipTurn, victim.Status, "the suspended effect resumes")
	assert.True(t, victim.CannotCallOmerta)
	assert.Equal(t, players[1].ID, g.CurrentPlayerID)
}

func TestKillerDeclineResumesEffect(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 3)
	actor, victim := players[0], players[2]

	setHands(g, nil, map[uuid.UUID][]*models.Card{
		actor.ID:  {makeBottle(1), makeBottle(2)},
		victim.ID: {makeBottle(5), makeChar(models.CharKiller)},
	})
	triggerAbility(t, g, actor, models.CharMamma)
	selectTarget(t, g, actor, victim)

	err := g.HandleAbilityAction(victim.ID, models.GameAction{ActionType: models.ActionKillerDecline})
	require.NoError(t, err)

	assert.Equal(t, models.StatusSkipTurn, victim.Status)
	assert.Len(t, victim.Hand, 2, "declining costs nothing")
	assert.Equal(t, players[1].ID, g.CurrentPlayerID)
}

func TestKillerPromptTimeoutResumesEffect(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 3)
	actor, victim := players[0], players[2]

	setHands(g, nil, map[uuid.UUID][]*models.Card{
		actor.ID:  {makeBottle(1), makeBottle(2)},
		victim.ID: {makeBottle(5), makeChar(models.CharKiller)},
	})
	triggerAbility(t, g, actor, models.CharMamma)
	selectTarget(t, g, actor, victim)
	require.NotNil(t, g.Ability)

	g.CancelAllTimers()
	g.abilityTimeout(g.Ability.Gen)

	assert.Equal(t, models.StatusSkipTurn, victim.Status)
	assert.Equal(t, players[1].ID, g.CurrentPlayerID)
}

func TestKillerSkipsAIVictim(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 3)
	actor, victim := players[0], players[2]

	g.Mu.Lock()
	victim.IsAI = true
	g.Mu.Unlock()

	triggerAbility(t, g, actor, models.CharMamma)
	selectTarget(t, g, actor, victim)

	assert.Equal(t, models.StatusSkipTurn, victim.Status, "AI victims take the effect directly")
	assert.Equal(t, PhasePlaying, g.Phase)
	g.CancelAllTimers()
}

func TestGangsterSwapAndOptionalSecond(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 3)
	actor, victim := players[0], players[1]

	g.Mu.Lock()
	victim.IsAI = true
	g.Mu.Unlock()

	ownCard := makeBottle(8)
	theirCard := makeBottle(3)
	setHands(g, nil, map[uuid.UUID][]*models.Card{
		actor.ID:  {makeBottle(1), ownCard},
		victim.ID: {theirCard, makeBottle(6)},
	})
	triggerAbility(t, g, actor, models.CharGangster)

	err := g.HandleAbilityAction(actor.ID, models.GameAction{
		ActionType: models.ActionAbilitySelect,
		Payload:    map[string]interface{}{"owner_id": actor.ID.String(), "card_idx": 1},
	})
	require.NoError(t, err)
	err = g.HandleAbilityAction(actor.ID, models.GameAction{
		ActionType: models.ActionAbilitySelect,
		Payload:    map[string]interface{}{"owner_id": victim.ID.String(), "card_idx": 0},
	})
	require.NoError(t, err)

	assert.Same(t, theirCard, actor.Hand[1])
	assert.Same(t, ownCard, victim.Hand[0])
	assert.True(t, actor.Viewed[1], "the gangster sees the card they receive")
	require.NotNil(t, g.Ability)
	assert.Equal(t, StepSelectFirstCard, g.Ability.Step, "a second swap is offered")

	err = g.HandleAbilityAction(actor.ID, models.GameAction{ActionType: models.ActionAbilityConfirm})
	require.NoError(t, err)
	assert.Nil(t, g.Ability)
	assert.Equal(t, PhasePlaying, g.Phase)
	g.CancelAllTimers()
}

func TestSnitchDeliversToTwoTargets(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 3)
	actor := players[0]

	setHands(g, []*models.Card{makeBottle(1), makeBottle(2), makeBottle(3)}, map[uuid.UUID][]*models.Card{
		actor.ID:      {makeBottle(1), makeBottle(2)},
		players[1].ID: {makeBottle(4)},
		players[2].ID: {makeBottle(5)},
	})
	triggerAbility(t, g, actor, models.CharSnitch)

	selectTarget(t, g, actor, players[1])
	require.NotNil(t, g.Ability, "one target keeps the prompt open")
	selectTarget(t, g, actor, players[2])

	assert.Len(t, players[1].Hand, 2)
	assert.Len(t, players[2].Hand, 2)
	assert.Equal(t, PhasePlaying, g.Phase)
}

func TestDriverRemovesChosenBottles(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 3)
	actor := players[0]

	setHands(g, nil, map[uuid.UUID][]*models.Card{
		actor.ID: {makeBottle(1), makeBottle(3), makeBottle(3), makeChar(models.CharWitness)},
	})
	triggerAbility(t, g, actor, models.CharDriver)

	for _, idx := range []int{1, 2} {
		err := g.HandleAbilityAction(actor.ID, models.GameAction{
			ActionType: models.ActionAbilitySelect,
			Payload:    map[string]interface{}{"card_idx": idx},
		})
		require.NoError(t, err)
	}
	err := g.HandleAbilityAction(actor.ID, models.GameAction{ActionType: models.ActionAbilityConfirm})
	require.NoError(t, err)

	assert.Len(t, actor.Hand, 2, "both bottles leave the hand")
	assert.Equal(t, PhasePlaying, g.Phase)
}

func TestDriverWrongPickPenalized(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 3)
	actor := players[0]

	setHands(g, []*models.Card{makeBottle(2)}, map[uuid.UUID][]*models.Card{
		actor.ID: {makeBottle(1), makeBottle(3), makeChar(models.CharWitness), makeChar(models.CharWitness)},
	})
	triggerAbility(t, g, actor, models.CharDriver)

	err := g.HandleAbilityAction(actor.ID, models.GameAction{
		ActionType: models.ActionAbilitySelect,
		Payload:    map[string]interface{}{"card_idx": 2},
	})
	require.NoError(t, err)
	err = g.HandleAbilityAction(actor.ID, models.GameAction{ActionType: models.ActionAbilityConfirm})
	require.NoError(t, err)

	assert.Len(t, actor.Hand, 5, "a wrong pick stays and draws a penalty card")
	assert.Empty(t, actor.Viewed, "the reshuffled hand is unknown again")
}

func TestSafecrackerExchange(t *testing.T) {
	g, players, mb := setupPlayingGame(t, 3)
	actor := players[0]

	safeCard := makeBottle(2)
	handCard := makeBottle(7)
	setHands(g, nil, map[uuid.UUID][]*models.Card{
		actor.ID: {makeBottle(1), handCard},
	})
	g.Mu.Lock()
	g.Safe = []*models.Card{safeCard, makeBottle(9)}
	g.Mu.Unlock()

	triggerAbility(t, g, actor, models.CharSafecracker)
	// The safe reveal lands before the step prompt, so scan rather than
	// check the latest event.
	assert.True(t, mb.hasPlayerEvent(actor.ID, EventSafeRevealed))

	err := g.HandleAbilityAction(actor.ID, models.GameAction{
		ActionType: models.ActionAbilitySelect,
		Payload:    map[string]interface{}{"safe_idx": 0},
	})
	require.NoError(t, err)
	err = g.HandleAbilityAction(actor.ID, models.GameAction{
		ActionType: models.ActionAbilitySelect,
		Payload:    map[string]interface{}{"card_idx": 1},
	})
	require.NoError(t, err)

	assert.Same(t, safeCard, actor.Hand[1])
	assert.Same(t, handCard, g.Safe[0])
	assert.True(t, actor.Viewed[1])
	assert.Equal(t, PhasePlaying, g.Phase)
}

func TestPolicePatrolBlocksPosition(t *testing.T) {
	g, players, mb := setupPlayingGame(t, 3)
	actor, victim := players[0], players[1]

	g.Mu.Lock()
	victim.IsAI = true
	g.Mu.Unlock()

	triggerAbility(t, g, actor, models.CharPolicePatrol)
	selectTarget(t, g, actor, victim)
	err := g.HandleAbilityAction(actor.ID, models.GameAction{
		ActionType: models.ActionAbilitySelect,
		Payload:    map[string]interface{}{"card_idx": 0},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, g.BlockedCards[victim.ID][0])
	assert.True(t, mb.hasEvent(EventCardBlocked))
	g.CancelAllTimers()
}

func TestAbilityCancelFizzles(t *testing.T) {
	g, players, mb := setupPlayingGame(t, 3)
	actor := players[0]

	triggerAbility(t, g, actor, models.CharLady)
	err := g.HandleAbilityAction(actor.ID, models.GameAction{ActionType: models.ActionAbilityCancel})
	require.NoError(t, err)

	assert.Nil(t, g.Ability)
	assert.True(t, mb.hasEvent(EventAbilityFizzled))
	assert.Equal(t, players[1].ID, g.CurrentPlayerID)
}

func TestStaleAbilityTimerIgnored(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 3)
	actor := players[0]

	triggerAbility(t, g, actor, models.CharLady)
	require.NotNil(t, g.Ability)
	g.CancelAllTimers()

	g.abilityTimeout(g.Ability.Gen - 1)
	assert.NotNil(t, g.Ability, "a stale timer must not fizzle the ability")

	g.abilityTimeout(g.Ability.Gen)
	assert.Nil(t, g.Ability)
}

func TestAITurnPlaysToCompletion(t *testing.T) {
	g, players, _ := setupPlayingGame(t, 3)
	ai := players[1]

	setHands(g, []*models.Card{makeBottle(1), makeBottle(2)}, map[uuid.UUID][]*models.Card{
		players[0].ID: {makeChar(models.CharWitness), makeBottle(9)},
		ai.ID:         {makeChar(models.CharWitness), makeChar(models.CharWitness)},
	})

	// Pass the capo's turn, then run the AI turn directly.
	require.NoError(t, g.HandleDrawDeck(players[0].ID))
	require.NoError(t, g.HandleReplaceCard(players[0].ID, 0))
	require.Equal(t, ai.ID, g.CurrentPlayerID)

	g.Mu.Lock()
	ai.IsAI = true
	gen := g.turnGen
	g.Mu.Unlock()
	g.aiTakeTurn(gen)

	assert.Equal(t, players[2].ID, g.CurrentPlayerID, "the AI finishes its turn")
	assert.Equal(t, PhasePlaying, g.Phase)
}

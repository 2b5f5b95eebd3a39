package game

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/omerta-games/omerta-service/internal/models"
)

// aiMatchChance is the probability an eligible AI attempts a bottle match.
const aiMatchChance = 0.6

// BottleMatchContext tracks the race window opened by a bottle discard. At
// most one exists per session.
type BottleMatchContext struct {
	Gen                int
	Value              int
	WindowEnds         time.Time
	TriggeringPlayerID uuid.UUID
	FastestMatcherID   uuid.UUID
	// Failed bars a player from further attempts in this window.
	Failed map[uuid.UUID]bool
	// NotifiedIDs records who got the private eligibility ping.
	NotifiedIDs []uuid.UUID
}

// openBottleWindowLocked starts the match race for a just-discarded bottle.
// Mutex must be held.
func (g *OmertaGame) openBottleWindowLocked(discarder *models.Player, card *models.Card) {
	g.bottleGen++
	window := time.Duration(g.HouseRules.BottleWindowSec) * time.Second
	ctx := &BottleMatchContext{
		Gen:                g.bottleGen,
		Value:              card.Value,
		WindowEnds:         time.Now().Add(window),
		TriggeringPlayerID: discarder.ID,
		Failed:             make(map[uuid.UUID]bool),
	}
	g.Bottle = ctx
	g.Phase = PhaseBottleMatch

	g.fireEvent(GameEvent{
		Type: EventBottleWindowOpen,
		User: &EventUser{ID: discarder.ID, Name: discarder.Name},
		Card: &EventCard{Value: card.Value, Name: card.Label()},
		Payload: map[string]interface{}{
			"seconds": g.HouseRules.BottleWindowSec,
		},
	})
	g.logAction(discarder.ID, "bottle_window_open", map[string]interface{}{"value": card.Value})

	for _, p := range g.activePlayersInOrder() {
		if _, ok := g.matchableIndexLocked(p, card.Value); !ok {
			continue
		}
		if p.IsAI {
			g.scheduleAIMatchLocked(p, ctx.Gen, window)
			continue
		}
		ctx.NotifiedIDs = append(ctx.NotifiedIDs, p.ID)
		g.fireEventToPlayer(p.ID, GameEvent{
			Type: EventBottleEligible,
			Card: &EventCard{Value: card.Value},
			Payload: map[string]interface{}{
				"seconds": g.HouseRules.BottleWindowSec,
			},
		})
	}

	gen := ctx.Gen
	g.sched.Once("bottle_window", window, func() {
		g.bottleWindowExpired(gen)
	})
}

// matchableIndexLocked finds an unblocked hand card of the given bottle
// value. Mutex must be held.
func (g *OmertaGame) matchableIndexLocked(p *models.Player, value int) (int, bool) {
	for i, c := range p.Hand {
		if c.IsBottle() && c.Value == value && !g.isBlockedLocked(p.ID, i) {
			return i, true
		}
	}
	return 0, false
}

// scheduleAIMatchLocked lets an eligible AI race for the match after a
// humanlike delay. Mutex must be held.
func (g *OmertaGame) scheduleAIMatchLocked(p *models.Player, gen int, window time.Duration) {
	if rand.Float64() >= aiMatchChance {
		return
	}
	maxDelay := window - time.Second
	if maxDelay < time.Second {
		maxDelay = time.Second
	}
	delay := time.Second + time.Duration(rand.Int63n(int64(maxDelay)))
	playerID := p.ID
	g.sched.Once("ai_bottle_"+playerID.String(), delay, func() {
		g.Mu.Lock()
		defer g.Mu.Unlock()
		ctx := g.Bottle
		if ctx == nil || ctx.Gen != gen || ctx.FastestMatcherID != uuid.Nil {
			return
		}
		ai := g.playerByID(playerID)
		if ai == nil || ai.Status == models.StatusInactive {
			return
		}
		// Re-resolve the index at attempt time; the hand may have moved.
		idx, ok := g.matchableIndexLocked(ai, ctx.Value)
		if !ok {
			return
		}
		if err := g.attemptWindowMatchLocked(playerID, idx); err != nil {
			log.Debugf("game %s: ai bottle attempt rejected: %v", g.ID, err)
		}
	})
}

// HandleBottleMatch processes a match attempt. During an open window any
// eligible player may race; outside a window the current player may match
// the top discard as their turn action (not on the round's first turn).
func (g *OmertaGame) HandleBottleMatch(playerID uuid.UUID, cardIdx int) error {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	if g.Bottle != nil {
		return g.attemptWindowMatchLocked(playerID, cardIdx)
	}
	return g.attemptTurnMatchLocked(playerID, cardIdx)
}

func (g *OmertaGame) attemptWindowMatchLocked(playerID uuid.UUID, cardIdx int) error {
	ctx := g.Bottle
	p := g.playerByID(playerID)
	if p == nil {
		return ErrUnknownPlayer
	}
	if p.Status == models.StatusInactive {
		return ErrInvalidAction
	}
	if ctx.FastestMatcherID != uuid.Nil {
		// Someone already won the race; late attempts are not penalized.
		return ErrInvalidAction
	}
	if ctx.Failed[playerID] {
		return ErrAlreadyMatched
	}
	if cardIdx < 0 || cardIdx >= len(p.Hand) {
		return ErrInvalidAction
	}
	if g.isBlockedLocked(playerID, cardIdx) {
		return ErrCardBlocked
	}

	card := p.Hand[cardIdx]
	if !card.IsBottle() || card.Value != ctx.Value {
		// Failed attempt: barred for the rest of the window, plus a penalty
		// card when the stock can provide one.
		ctx.Failed[playerID] = true
		g.fireEvent(GameEvent{
			Type: EventBottleMatchFail,
			User: &EventUser{ID: p.ID, Name: p.Name},
			Card: &EventCard{Value: ctx.Value},
		})
		g.logAction(playerID, "bottle_match_fail", map[string]interface{}{"value": ctx.Value})
		g.drawPenaltyCardLocked(p, "failed bottle match")
		return nil
	}

	// First correct claim wins the race.
	ctx.FastestMatcherID = playerID
	matched := g.removeHandCardLocked(p, cardIdx)
	g.DiscardPile = append(g.DiscardPile, matched)
	g.fireEvent(GameEvent{
		Type:    EventBottleMatchSuccess,
		User:    &EventUser{ID: p.ID, Name: p.Name},
		Card:    &EventCard{ID: matched.ID, Value: matched.Value, Name: matched.Label()},
		Payload: map[string]interface{}{"hand_size": len(p.Hand)},
	})
	g.logAction(playerID, "bottle_match_success", map[string]interface{}{"value": ctx.Value})

	g.closeBottleWindowLocked(ctx)
	g.advanceLocked(playerID)
	return nil
}

// attemptTurnMatchLocked lets the current player spend their turn matching
// the top discard bottle instead of drawing.
func (g *OmertaGame) attemptTurnMatchLocked(playerID uuid.UUID, cardIdx int) error {
	p, err := g.requireTurnLocked(playerID)
	if err != nil {
		return err
	}
	if p.DrawnCard != nil {
		return ErrDrawPending
	}
	if g.CycleCount <= 1 && g.CurrentPlayerID == g.CapoID {
		// The round's very first turn has no prior discard worth racing.
		return ErrInvalidAction
	}
	top := g.topDiscard()
	if top == nil || !top.IsBottle() {
		return ErrInvalidAction
	}
	if cardIdx < 0 || cardIdx >= len(p.Hand) {
		return ErrInvalidAction
	}
	if g.isBlockedLocked(playerID, cardIdx) {
		return ErrCardBlocked
	}
	card := p.Hand[cardIdx]
	if !card.IsBottle() || card.Value != top.Value {
		return ErrInvalidAction
	}
	matched := g.removeHandCardLocked(p, cardIdx)
	g.logAction(playerID, "turn_bottle_match", map[string]interface{}{"value": matched.Value})
	// The matched bottle is itself a bottle discard, so it opens a window.
	g.processDiscardLocked(p, matched)
	return nil
}

// closeBottleWindowLocked cancels the expiry timer and arms the resume
// point at the discarder's seat. Mutex must be held.
func (g *OmertaGame) closeBottleWindowLocked(ctx *BottleMatchContext) {
	g.sched.Cancel("bottle_window")
	g.bottleGen++
	g.Bottle = nil
	g.bottleJustEnded = true
	g.lastBottleDiscarder = ctx.TriggeringPlayerID
	g.fireEvent(GameEvent{
		Type:    EventBottleWindowClosed,
		Card:    &EventCard{Value: ctx.Value},
		Payload: map[string]interface{}{"matched": ctx.FastestMatcherID != uuid.Nil},
	})
}

// bottleWindowExpired fires when no one wins the race in time.
func (g *OmertaGame) bottleWindowExpired(gen int) {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	ctx := g.Bottle
	if ctx == nil || ctx.Gen != gen {
		log.Warnf("game %s: stale bottle window timer, ignoring", g.ID)
		return
	}
	g.logAction(uuid.Nil, "bottle_window_expired", map[string]interface{}{"value": ctx.Value})
	g.closeBottleWindowLocked(ctx)
	g.advanceLocked(ctx.TriggeringPlayerID)
}

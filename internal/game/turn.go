package game

import (
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/omerta-games/omerta-service/internal/models"
)

// advanceLocked decides what happens after an action or timer resolves.
// Priority order: a player with an empty hand forces Omerta; terminal
// phases stop; a just-closed bottle window resumes from the discarder's
// seat; an active ability defers; otherwise the next turn starts. Mutex
// must be held.
func (g *OmertaGame) advanceLocked(prev uuid.UUID) {
	for _, id := range g.TurnOrder {
		p := g.playerByID(id)
		if p != nil && p.Status != models.StatusInactive && len(p.Hand) == 0 {
			g.settleOmertaLocked(p.ID, true)
			return
		}
	}
	if g.Phase == PhaseOmertaCalled || g.Phase == PhaseCompleted {
		return
	}
	if g.bottleJustEnded {
		g.bottleJustEnded = false
		prev = g.lastBottleDiscarder
		g.Phase = PhasePlaying
	}
	if g.Ability != nil {
		// An interrupted or multi-step ability still owns the flow.
		return
	}
	g.Phase = PhasePlaying
	g.startNextTurnLocked(prev)
}

// startNextTurnLocked walks the turn order after prev, skipping inactive
// seats and consuming skip-marked ones. Selecting the capo begins a new
// cycle. Mutex must be held.
func (g *OmertaGame) startNextTurnLocked(prev uuid.UUID) {
	idx := g.turnOrderIndex(prev)
	if idx < 0 {
		log.Errorf("game %s: previous player %s not in turn order, restarting from capo", g.ID, prev)
		idx = len(g.TurnOrder) - 1
	}
	for hops := 0; hops < len(g.TurnOrder)*2; hops++ {
		idx = (idx + 1) % len(g.TurnOrder)
		candidate := g.playerByID(g.TurnOrder[idx])
		if candidate == nil || candidate.Status == models.StatusInactive {
			continue
		}
		if candidate.ID == g.CapoID {
			g.CycleCount++
			g.onNewCycleLocked()
		}
		if candidate.Status == models.StatusSkipTurn {
			candidate.Status = models.StatusActive
			candidate.CannotCallOmerta = false
			g.fireEvent(GameEvent{
				Type: EventPlayerSkipped,
				User: &EventUser{ID: candidate.ID, Name: candidate.Name},
			})
			g.logAction(candidate.ID, "turn_skipped", nil)
			continue
		}
		g.beginTurnLocked(candidate)
		return
	}
	log.Errorf("game %s: no selectable player in turn order, forcing omerta", g.ID)
	g.settleOmertaLocked(uuid.Nil, true)
}

func (g *OmertaGame) turnOrderIndex(id uuid.UUID) int {
	for i, v := range g.TurnOrder {
		if v == id {
			return i
		}
	}
	return -1
}

// onNewCycleLocked runs cycle-start housekeeping: blocked cards tick down
// and, from the third cycle, hand sizes are published. Mutex must be held.
func (g *OmertaGame) onNewCycleLocked() {
	for playerID, blocks := range g.BlockedCards {
		for idx, cycles := range blocks {
			if cycles <= 1 {
				delete(blocks, idx)
				p := g.playerByID(playerID)
				if p != nil {
					g.fireEvent(GameEvent{
						Type: EventCardUnblocked,
						User: &EventUser{ID: playerID, Name: p.Name},
						Card: &EventCard{Idx: intPtr(idx)},
					})
				}
			} else {
				blocks[idx] = cycles - 1
			}
		}
		if len(blocks) == 0 {
			delete(g.BlockedCards, playerID)
		}
	}
	if g.CycleCount >= 3 {
		sizes := map[string]interface{}{}
		for _, p := range g.activePlayersInOrder() {
			sizes[p.Name] = len(p.Hand)
		}
		g.fireEvent(GameEvent{
			Type:    EventHandMeter,
			Payload: map[string]interface{}{"cycle": g.CycleCount, "hand_sizes": sizes},
		})
	}
}

// beginTurnLocked makes p the current player and arms the turn timer.
func (g *OmertaGame) beginTurnLocked(p *models.Player) {
	g.CurrentPlayerID = p.ID
	g.turnGen++
	gen := g.turnGen
	p.DrawnCard = nil
	p.DrawSource = ""

	g.fireEvent(GameEvent{
		Type:    EventTurnStarted,
		User:    &EventUser{ID: p.ID, Name: p.Name},
		Payload: map[string]interface{}{"cycle": g.CycleCount},
	})
	g.logAction(p.ID, "turn_started", map[string]interface{}{"cycle": g.CycleCount})

	if p.IsAI {
		g.sched.Once("ai_turn", aiThinkDelay(), func() {
			g.aiTakeTurn(gen)
		})
		return
	}
	if g.HouseRules.TurnTimerSec > 0 {
		g.sched.Once("turn_timeout", time.Duration(g.HouseRules.TurnTimerSec)*time.Second, func() {
			g.turnTimeout(p.ID, gen)
		})
	}
}

// turnTimeout fires when a human player lets the clock run out. The turn is
// forfeited; a pending drawn card is placed on the discard pile, opening a
// match window if it is a bottle but never granting an ability.
func (g *OmertaGame) turnTimeout(playerID uuid.UUID, gen int) {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	if g.turnGen != gen || g.CurrentPlayerID != playerID || g.Phase != PhasePlaying {
		log.Warnf("game %s: stale turn timer for %s, ignoring", g.ID, playerID)
		return
	}
	p := g.playerByID(playerID)
	if p == nil {
		return
	}
	var dumped *models.Card
	if p.DrawnCard != nil {
		dumped = p.DrawnCard
		p.DrawnCard = nil
		p.DrawSource = ""
	}
	g.fireEvent(GameEvent{
		Type:    EventPlayerSkipped,
		User:    &EventUser{ID: p.ID, Name: p.Name},
		Payload: map[string]interface{}{"reason": "timeout"},
	})
	g.logAction(p.ID, "turn_timeout", nil)
	if dumped != nil {
		// A forfeited turn grants no character ability, but a dumped
		// bottle still opens the match window.
		if dumped.IsBottle() {
			g.processDiscardLocked(p, dumped)
			return
		}
		g.DiscardPile = append(g.DiscardPile, dumped)
	}
	g.advanceLocked(p.ID)
}

// requireTurn validates that playerID may act right now. Mutex must be held.
func (g *OmertaGame) requireTurnLocked(playerID uuid.UUID) (*models.Player, error) {
	if g.Phase != PhasePlaying {
		return nil, ErrWrongPhase
	}
	if g.CurrentPlayerID != playerID {
		return nil, ErrNotYourTurn
	}
	p := g.playerByID(playerID)
	if p == nil {
		return nil, ErrUnknownPlayer
	}
	return p, nil
}

// HandleDrawDeck draws the top stock card for the current player and shows
// it to them privately. Stock exhaustion after a reshuffle forces Omerta.
func (g *OmertaGame) HandleDrawDeck(playerID uuid.UUID) error {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	p, err := g.requireTurnLocked(playerID)
	if err != nil {
		return err
	}
	if p.DrawnCard != nil {
		return ErrDrawPending
	}
	card := g.drawStockLocked()
	if card == nil {
		g.fireEvent(GameEvent{Type: EventOmertaForced, Payload: map[string]interface{}{"reason": "deck exhausted"}})
		g.settleOmertaLocked(uuid.Nil, true)
		return nil
	}
	p.DrawnCard = card
	p.DrawSource = "deck"
	g.fireEvent(GameEvent{
		Type: EventPlayerDrawDeck,
		User: &EventUser{ID: p.ID, Name: p.Name},
	})
	g.fireEventToPlayer(p.ID, GameEvent{
		Type: EventPrivateDrawnCard,
		Card: &EventCard{ID: card.ID, Name: card.Label(), Points: card.Points},
		Payload: map[string]interface{}{
			"blocked_positions": g.blockedIndicesLocked(p.ID),
		},
	})
	g.logAction(p.ID, "draw_deck", nil)
	g.resetTurnTimerLocked(p)
	return nil
}

// HandleDrawDiscard takes the top discard. It is only legal when that card
// is a bottle or The Alibi.
func (g *OmertaGame) HandleDrawDiscard(playerID uuid.UUID) error {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	p, err := g.requireTurnLocked(playerID)
	if err != nil {
		return err
	}
	if p.DrawnCard != nil {
		return ErrDrawPending
	}
	top := g.topDiscard()
	if top == nil {
		return ErrInvalidAction
	}
	if !top.IsBottle() && top.Name != models.CharAlibi {
		return ErrDiscardLocked
	}
	g.DiscardPile = g.DiscardPile[:len(g.DiscardPile)-1]
	p.DrawnCard = top
	p.DrawSource = "discard"
	g.fireEvent(GameEvent{
		Type: EventPlayerDrawDiscard,
		User: &EventUser{ID: p.ID, Name: p.Name},
		Card: &EventCard{ID: top.ID, Name: top.Label(), Points: top.Points},
	})
	g.logAction(p.ID, "draw_discard", map[string]interface{}{"card": top.Label()})
	g.resetTurnTimerLocked(p)
	return nil
}

// HandleReplaceCard swaps the drawn card into the chosen hand position and
// processes the replaced card's discard.
func (g *OmertaGame) HandleReplaceCard(playerID uuid.UUID, idx int) error {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	p, err := g.requireTurnLocked(playerID)
	if err != nil {
		return err
	}
	if p.DrawnCard == nil {
		return ErrNoDrawPending
	}
	if idx < 0 || idx >= len(p.Hand) {
		return ErrInvalidAction
	}
	if g.isBlockedLocked(p.ID, idx) {
		return ErrCardBlocked
	}
	old := p.Hand[idx]
	p.Hand[idx] = p.DrawnCard
	p.DrawnCard = nil
	p.DrawSource = ""
	// The player saw the drawn card, so the new face is known; the old
	// position's knowledge is gone with the card.
	p.MarkViewed(idx)

	g.logAction(p.ID, "replace_card", map[string]interface{}{"idx": idx, "discarded": old.Label()})
	g.processDiscardLocked(p, old)
	return nil
}

// HandleCallOmerta settles the round on a voluntary call.
func (g *OmertaGame) HandleCallOmerta(playerID uuid.UUID) error {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	p, err := g.requireTurnLocked(playerID)
	if err != nil {
		return err
	}
	if p.DrawnCard != nil {
		return ErrDrawPending
	}
	if p.CannotCallOmerta {
		return ErrOmertaBlocked
	}
	g.settleOmertaLocked(p.ID, false)
	return nil
}

// processDiscardLocked appends card to the discard pile and routes the
// follow-up: bottles open a match window, reactive-only and inert
// characters pass, the rest start their ability. Mutex must be held.
func (g *OmertaGame) processDiscardLocked(actor *models.Player, card *models.Card) {
	g.DiscardPile = append(g.DiscardPile, card)
	g.fireEvent(GameEvent{
		Type: EventPlayerDiscard,
		User: &EventUser{ID: actor.ID, Name: actor.Name},
		Card: &EventCard{ID: card.ID, Name: card.Label(), Value: card.Value, Points: card.Points},
	})

	if card.IsBottle() {
		g.openBottleWindowLocked(actor, card)
		return
	}
	switch card.Name {
	case models.CharWitness, models.CharAlibi, models.CharKiller:
		// The Killer only acts as a reaction; Witness and Alibi are inert.
		g.advanceLocked(actor.ID)
	default:
		g.initiateAbilityLocked(actor, card)
	}
}

// resetTurnTimerLocked re-arms the turn timer after a mid-turn action.
func (g *OmertaGame) resetTurnTimerLocked(p *models.Player) {
	if p.IsAI || g.HouseRules.TurnTimerSec == 0 {
		return
	}
	gen := g.turnGen
	g.sched.Once("turn_timeout", time.Duration(g.HouseRules.TurnTimerSec)*time.Second, func() {
		g.turnTimeout(p.ID, gen)
	})
}

// blockedIndicesLocked lists the hand positions of playerID currently
// locked by the police patrol.
func (g *OmertaGame) blockedIndicesLocked(playerID uuid.UUID) []int {
	var out []int
	for idx := range g.BlockedCards[playerID] {
		out = append(out, idx)
	}
	return out
}

func (g *OmertaGame) isBlockedLocked(playerID uuid.UUID, idx int) bool {
	_, ok := g.BlockedCards[playerID][idx]
	return ok
}

// removeHandCardLocked pulls the card at idx from p's hand, shifting both
// viewed knowledge and police blocks down to match the new indices.
func (g *OmertaGame) removeHandCardLocked(p *models.Player, idx int) *models.Card {
	card := p.Hand[idx]
	p.Hand = append(p.Hand[:idx], p.Hand[idx+1:]...)

	viewed := make(map[int]bool, len(p.Viewed))
	for i, v := range p.Viewed {
		switch {
		case i < idx:
			viewed[i] = v
		case i > idx:
			viewed[i-1] = v
		}
	}
	p.Viewed = viewed

	if blocks, ok := g.BlockedCards[p.ID]; ok {
		shifted := make(map[int]int, len(blocks))
		for i, cycles := range blocks {
			switch {
			case i < idx:
				shifted[i] = cycles
			case i > idx:
				shifted[i-1] = cycles
			}
		}
		if len(shifted) == 0 {
			delete(g.BlockedCards, p.ID)
		} else {
			g.BlockedCards[p.ID] = shifted
		}
	}
	return card
}

// drawPenaltyCardLocked appends one stock card to p's hand if the stock can
// produce one. Penalty draws never trigger a reshuffle-exhaustion Omerta;
// an empty stock simply waives the penalty.
func (g *OmertaGame) drawPenaltyCardLocked(p *models.Player, reason string) {
	if len(g.Deck) == 0 {
		g.reshuffleDiscardLocked()
	}
	if len(g.Deck) == 0 {
		return
	}
	card := g.Deck[0]
	g.Deck = g.Deck[1:]
	p.Hand = append(p.Hand, card)
	g.fireEvent(GameEvent{
		Type:    EventPenaltyDraw,
		User:    &EventUser{ID: p.ID, Name: p.Name},
		Payload: map[string]interface{}{"reason": reason, "hand_size": len(p.Hand)},
	})
	if !p.IsAI {
		g.fireEventToPlayer(p.ID, GameEvent{
			Type:    EventPrivatePenalty,
			Payload: map[string]interface{}{"reason": reason},
		})
	}
	g.logAction(p.ID, "penalty_draw", map[string]interface{}{"reason": reason})
}

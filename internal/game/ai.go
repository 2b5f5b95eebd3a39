package game

import (
	"math/rand"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/omerta-games/omerta-service/internal/models"
)

// aiOmertaChance is the probability an AI calls Omerta once its hand is
// under the threshold.
const aiOmertaChance = 0.5

// aiTakeTurn plays a full turn for the current AI player. It runs from the
// scheduler after a think delay; a stale generation means the turn moved on.
func (g *OmertaGame) aiTakeTurn(gen int) {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	if g.turnGen != gen || g.Phase != PhasePlaying {
		log.Warnf("game %s: stale ai turn timer, ignoring", g.ID)
		return
	}
	p := g.playerByID(g.CurrentPlayerID)
	if p == nil || !p.IsAI || p.Status == models.StatusInactive {
		return
	}

	if !p.CannotCallOmerta && g.CycleCount >= 2 &&
		p.HandScore() <= g.HouseRules.OmertaThreshold &&
		rand.Float64() < aiOmertaChance {
		g.logAction(p.ID, "ai_call_omerta", nil)
		g.settleOmertaLocked(p.ID, false)
		return
	}

	// Prefer a cheap bottle off the discard pile; otherwise hit the stock.
	var drawn *models.Card
	source := "deck"
	if top := g.topDiscard(); top != nil && top.IsBottle() && top.Value <= 4 {
		g.DiscardPile = g.DiscardPile[:len(g.DiscardPile)-1]
		drawn = top
		source = "discard"
		g.fireEvent(GameEvent{
			Type: EventPlayerDrawDiscard,
			User: &EventUser{ID: p.ID, Name: p.Name},
			Card: &EventCard{ID: top.ID, Name: top.Label(), Points: top.Points},
		})
	} else {
		drawn = g.drawStockLocked()
		if drawn == nil {
			g.fireEvent(GameEvent{Type: EventOmertaForced, Payload: map[string]interface{}{"reason": "deck exhausted"}})
			g.settleOmertaLocked(uuid.Nil, true)
			return
		}
		g.fireEvent(GameEvent{
			Type: EventPlayerDrawDeck,
			User: &EventUser{ID: p.ID, Name: p.Name},
		})
	}
	g.logAction(p.ID, "ai_draw", map[string]interface{}{"source": source})

	idx := g.aiChooseReplacementLocked(p, drawn)
	if idx < 0 {
		// Nothing to replace: the drawn card goes straight to the pile,
		// with the usual discard follow-up.
		g.processDiscardLocked(p, drawn)
		return
	}
	old := p.Hand[idx]
	p.Hand[idx] = drawn
	p.MarkViewed(idx)
	g.logAction(p.ID, "ai_replace", map[string]interface{}{"idx": idx, "discarded": old.Label()})
	g.processDiscardLocked(p, old)
}

// aiChooseReplacementLocked picks the hand slot to give up: the known card
// worth the most points if the draw improves on it, otherwise a random
// unknown slot. Returns -1 when every slot is blocked.
func (g *OmertaGame) aiChooseReplacementLocked(p *models.Player, drawn *models.Card) int {
	bestKnown := -1
	for i, c := range p.Hand {
		if g.isBlockedLocked(p.ID, i) || !p.Viewed[i] {
			continue
		}
		if bestKnown == -1 || c.Points > p.Hand[bestKnown].Points {
			bestKnown = i
		}
	}
	if bestKnown >= 0 && p.Hand[bestKnown].Points > drawn.Points {
		return bestKnown
	}
	var unknown []int
	for i := range p.Hand {
		if !g.isBlockedLocked(p.ID, i) && !p.Viewed[i] {
			unknown = append(unknown, i)
		}
	}
	if len(unknown) > 0 {
		return unknown[rand.Intn(len(unknown))]
	}
	return bestKnown
}

// aiResolveAbilityLocked resolves an AI actor's character ability with a
// simple random-target policy. The Driver, Safecracker, and Gangster need
// judgement the AI does not have, so they fizzle. Mutex must be held.
func (g *OmertaGame) aiResolveAbilityLocked(ctx *AbilityContext) {
	actor := g.playerByID(ctx.ActorID)
	if actor == nil {
		g.Ability = nil
		g.advanceLocked(ctx.ActorID)
		return
	}
	switch ctx.Kind {
	case AbilityLady, AbilityMamma:
		target := g.aiRandomOpponentLocked(actor)
		if target == nil {
			g.fizzleAbilityLocked(ctx, "no target")
			return
		}
		ctx.TargetIDs = []uuid.UUID{target.ID}

	case AbilityPolicePatrol:
		target := g.aiRandomOpponentLocked(actor)
		if target == nil || len(target.Hand) == 0 {
			g.fizzleAbilityLocked(ctx, "no target")
			return
		}
		ctx.TargetIDs = []uuid.UUID{target.ID}
		ctx.Idx1 = rand.Intn(len(target.Hand))

	case AbilitySnitch:
		opponents := g.aiOpponentsLocked(actor)
		if len(opponents) == 0 {
			g.fizzleAbilityLocked(ctx, "no target")
			return
		}
		rand.Shuffle(len(opponents), func(i, j int) { opponents[i], opponents[j] = opponents[j], opponents[i] })
		n := 1
		if len(opponents) > 1 && rand.Float64() < 0.5 {
			n = 2
		}
		for _, t := range opponents[:n] {
			ctx.TargetIDs = append(ctx.TargetIDs, t.ID)
		}

	case AbilityMole:
		if len(actor.Hand) == 0 {
			g.fizzleAbilityLocked(ctx, "empty hand")
			return
		}
		ctx.Idx1 = rand.Intn(len(actor.Hand))

	default:
		g.fizzleAbilityLocked(ctx, "ai declines")
		return
	}
	ctx.Step = ""
	g.Phase = PhaseAbilityAction
	g.executeAbilityLocked(ctx)
}

func (g *OmertaGame) aiOpponentsLocked(actor *models.Player) []*models.Player {
	var out []*models.Player
	for _, p := range g.activePlayersInOrder() {
		if p.ID != actor.ID {
			out = append(out, p)
		}
	}
	return out
}

func (g *OmertaGame) aiRandomOpponentLocked(actor *models.Player) *models.Player {
	opponents := g.aiOpponentsLocked(actor)
	if len(opponents) == 0 {
		return nil
	}
	return opponents[rand.Intn(len(opponents))]
}

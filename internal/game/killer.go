package game

import (
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/omerta-games/omerta-service/internal/models"
)

// singleVictim returns the one other player this resolution acts on, or
// uuid.Nil when the ability is self-directed or hits several players. Only
// single-victim resolutions can be countered by The Killer.
func (ctx *AbilityContext) singleVictim() uuid.UUID {
	switch ctx.Kind {
	case AbilityLady, AbilityMamma, AbilityPolicePatrol:
		if len(ctx.TargetIDs) == 1 {
			return ctx.TargetIDs[0]
		}
	case AbilitySnitch:
		if len(ctx.TargetIDs) == 1 {
			return ctx.TargetIDs[0]
		}
	case AbilityGangster:
		var victim uuid.UUID
		for _, owner := range []uuid.UUID{ctx.Owner1, ctx.Owner2} {
			if owner == ctx.ActorID || owner == uuid.Nil {
				continue
			}
			if victim != uuid.Nil && victim != owner {
				return uuid.Nil // two distinct victims
			}
			victim = owner
		}
		return victim
	}
	return uuid.Nil
}

// maybeKillerInterruptLocked suspends ctx and prompts its victim to play
// The Killer. Returns false (marking the check done) when nobody can
// counter: self-directed effects, multi-victim effects, and AI victims all
// resolve directly. Mutex must be held.
func (g *OmertaGame) maybeKillerInterruptLocked(ctx *AbilityContext) bool {
	victimID := ctx.singleVictim()
	if victimID == uuid.Nil {
		ctx.KillerChecked = true
		return false
	}
	victim := g.playerByID(victimID)
	if victim == nil || victim.IsAI || victim.Status == models.StatusInactive {
		ctx.KillerChecked = true
		return false
	}

	snapshot := ctx.clone()
	snapshot.KillerChecked = true

	g.abilityGen++
	killerCtx := &AbilityContext{
		Gen:       g.abilityGen,
		Kind:      AbilityKiller,
		Step:      StepKillerPrompt,
		Card:      &models.Card{Kind: models.KindCharacter, Name: models.CharKiller, Points: 15},
		ActorID:   victimID,
		Suspended: snapshot,
	}
	g.Ability = killerCtx
	g.Phase = PhaseAbilityAction

	actorName := ""
	if actor := g.playerByID(ctx.ActorID); actor != nil {
		actorName = actor.Name
	}
	window := abilityWindow(models.CharKiller)
	g.fireEventToPlayer(victimID, GameEvent{
		Type: EventKillerPrompt,
		Card: &EventCard{Name: ctx.Card.Name},
		Payload: map[string]interface{}{
			"attacker": actorName,
			"seconds":  int(window.Seconds()),
			"prompt":   "Play The Killer to cancel this, or take the hit.",
		},
	})
	g.logAction(victimID, "killer_prompted", map[string]interface{}{"against": ctx.Card.Name})
	gen := killerCtx.Gen
	g.sched.Once("ability_timeout", window, func() {
		g.abilityTimeout(gen)
	})
	return true
}

// handleKillerResponse resolves the victim's answer to the counter prompt.
func handleKillerResponse(g *OmertaGame, ctx *AbilityContext, actor *models.Player, action models.GameAction) error {
	switch action.ActionType {
	case models.ActionKillerActivate:
		idx, err := payloadInt(action.Payload, "card_idx")
		if err != nil {
			return err
		}
		if idx < 0 || idx >= len(actor.Hand) {
			return ErrInvalidAction
		}
		played := actor.Hand[idx]
		if played.Name == models.CharKiller {
			card := g.removeHandCardLocked(actor, idx)
			g.DiscardPile = append(g.DiscardPile, card)
			g.fireEvent(GameEvent{
				Type: EventKillerCountered,
				User: &EventUser{ID: actor.ID, Name: actor.Name},
				Card: &EventCard{Name: ctx.Suspended.Card.Name},
			})
			g.logAction(actor.ID, "killer_countered", map[string]interface{}{"cancelled": ctx.Suspended.Card.Name})
			originalActor := ctx.Suspended.ActorID
			g.Ability = nil
			g.advanceLocked(originalActor)
			return nil
		}
		// Wrong guess: the bluff failed, pay for it and take the effect.
		g.fireEvent(GameEvent{
			Type: EventKillerFailed,
			User: &EventUser{ID: actor.ID, Name: actor.Name},
		})
		g.logAction(actor.ID, "killer_bluff_failed", map[string]interface{}{"played": played.Label()})
		g.drawPenaltyCardLocked(actor, "that was not The Killer")
		g.resumeSuspendedLocked(ctx.Suspended)
		return nil

	case models.ActionKillerDecline, models.ActionAbilityCancel:
		g.logAction(actor.ID, "killer_declined", nil)
		g.resumeSuspendedLocked(ctx.Suspended)
		return nil
	}
	return ErrInvalidAction
}

// resumeSuspendedLocked reinstalls the interrupted ability. A resolution
// with complete selections executes immediately; one stopped mid-selection
// is re-prompted with a fresh window. Mutex must be held.
func (g *OmertaGame) resumeSuspendedLocked(snapshot *AbilityContext) {
	if snapshot == nil {
		log.Errorf("game %s: killer prompt had no suspended ability", g.ID)
		g.Ability = nil
		g.advanceLocked(g.CurrentPlayerID)
		return
	}
	g.abilityGen++
	snapshot.Gen = g.abilityGen
	g.Ability = snapshot

	if snapshot.readyToExecute() {
		g.Phase = PhaseAbilityAction
		g.executeAbilityLocked(snapshot)
		return
	}
	if _, ok := stepHandlers[stepKey{snapshot.Kind, snapshot.Step}]; ok {
		g.Phase = PhaseAbilityTarget
		g.promptStepLocked(snapshot, stepPromptText(snapshot))
		return
	}
	log.Errorf("game %s: cannot resume ability %d at step %q, abandoning", g.ID, snapshot.Kind, snapshot.Step)
	g.fizzleAbilityLocked(snapshot, "unresumable")
}

package game

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/omerta-games/omerta-service/internal/models"
)

// AbilityKind enumerates the character abilities. Dispatch runs through the
// step handler table rather than string comparisons on card names.
type AbilityKind int

const (
	AbilityNone AbilityKind = iota
	AbilityLady
	AbilityMole
	AbilityGangster
	AbilitySnitch
	AbilityDriver
	AbilitySafecracker
	AbilityKiller
	AbilityMamma
	AbilityPolicePatrol
)

func abilityKindFor(name string) AbilityKind {
	switch name {
	case models.CharLady:
		return AbilityLady
	case models.CharMole:
		return AbilityMole
	case models.CharGangster:
		return AbilityGangster
	case models.CharSnitch:
		return AbilitySnitch
	case models.CharDriver:
		return AbilityDriver
	case models.CharSafecracker:
		return AbilitySafecracker
	case models.CharKiller:
		return AbilityKiller
	case models.CharMamma:
		return AbilityMamma
	case models.CharPolicePatrol:
		return AbilityPolicePatrol
	default:
		return AbilityNone
	}
}

// AbilityStep names one stage of an ability's resolution.
type AbilityStep string

const (
	StepSelectTarget     AbilityStep = "select_target"
	StepSelectOwnCard    AbilityStep = "select_own_card"
	StepSelectFirstCard  AbilityStep = "select_first_card"
	StepSelectSecondCard AbilityStep = "select_second_card"
	StepSelectSafeCard   AbilityStep = "select_safe_card"
	StepKillerPrompt     AbilityStep = "killer_prompt"
)

// AbilityContext is the explicit continuation for an in-flight ability. All
// collected selections live here, so the resolution can be suspended by a
// Killer counter and resumed from the stored values.
type AbilityContext struct {
	Gen     int
	Kind    AbilityKind
	Step    AbilityStep
	Card    *models.Card
	ActorID uuid.UUID

	// Selections collected so far.
	TargetIDs []uuid.UUID
	Owner1    uuid.UUID
	Idx1      int
	Owner2    uuid.UUID
	Idx2      int
	Picks     []int
	SafeIdx   int
	HandIdx   int
	SwapsDone int

	// KillerChecked is set once the counter window for this resolution has
	// already been offered, so a resume does not re-prompt the target.
	KillerChecked bool

	// Suspended holds the interrupted ability while a Killer prompt is
	// pending; ActorID then refers to the countering player.
	Suspended *AbilityContext
}

// clone deep-copies the context so a Killer interrupt cannot alias the
// suspended selections.
func (ctx *AbilityContext) clone() *AbilityContext {
	cp := *ctx
	cp.TargetIDs = append([]uuid.UUID(nil), ctx.TargetIDs...)
	cp.Picks = append([]int(nil), ctx.Picks...)
	return &cp
}

// stepKey addresses the handler table.
type stepKey struct {
	kind AbilityKind
	step AbilityStep
}

type stepHandler func(g *OmertaGame, ctx *AbilityContext, actor *models.Player, action models.GameAction) error

// stepHandlers routes (ability, step, action) to its handler. Populated in
// init because the handlers reach back into the table through the resume
// path, which a var initializer cannot express.
var stepHandlers map[stepKey]stepHandler

func init() {
	stepHandlers = map[stepKey]stepHandler{
		{AbilityLady, StepSelectTarget}:          handleSingleTargetSelect,
		{AbilityMamma, StepSelectTarget}:         handleSingleTargetSelect,
		{AbilityMole, StepSelectOwnCard}:         handleMoleSelect,
		{AbilitySnitch, StepSelectTarget}:        handleSnitchSelect,
		{AbilityDriver, StepSelectOwnCard}:       handleDriverSelect,
		{AbilityGangster, StepSelectFirstCard}:   handleGangsterFirst,
		{AbilityGangster, StepSelectSecondCard}:  handleGangsterSecond,
		{AbilitySafecracker, StepSelectSafeCard}: handleSafecrackerSafe,
		{AbilitySafecracker, StepSelectOwnCard}:  handleSafecrackerHand,
		{AbilityPolicePatrol, StepSelectTarget}:  handlePoliceTarget,
		{AbilityPolicePatrol, StepSelectOwnCard}: handlePoliceCard,
		{AbilityKiller, StepKillerPrompt}:        handleKillerResponse,
	}
}

func firstStep(kind AbilityKind) AbilityStep {
	switch kind {
	case AbilityLady, AbilityMamma, AbilitySnitch, AbilityPolicePatrol:
		return StepSelectTarget
	case AbilityMole, AbilityDriver:
		return StepSelectOwnCard
	case AbilityGangster:
		return StepSelectFirstCard
	case AbilitySafecracker:
		return StepSelectSafeCard
	}
	return ""
}

// initiateAbilityLocked opens an ability context for the discarded card and
// prompts the actor's first step. Mutex must be held.
func (g *OmertaGame) initiateAbilityLocked(actor *models.Player, card *models.Card) {
	kind := abilityKindFor(card.Name)
	if kind == AbilityNone || kind == AbilityKiller {
		g.advanceLocked(actor.ID)
		return
	}
	g.abilityGen++
	ctx := &AbilityContext{
		Gen:     g.abilityGen,
		Kind:    kind,
		Step:    firstStep(kind),
		Card:    card,
		ActorID: actor.ID,
		Idx1:    -1,
		Idx2:    -1,
		SafeIdx: -1,
		HandIdx: -1,
	}
	g.Ability = ctx
	g.Phase = PhaseAbilityTarget

	g.fireEvent(GameEvent{
		Type: EventAbilityAnnounce,
		User: &EventUser{ID: actor.ID, Name: actor.Name},
		Card: &EventCard{ID: card.ID, Name: card.Name},
	})
	g.logAction(actor.ID, "ability_initiated", map[string]interface{}{"card": card.Name})

	if actor.IsAI {
		g.aiResolveAbilityLocked(ctx)
		return
	}
	if kind == AbilitySafecracker {
		g.revealSafeLocked(actor)
	}
	g.promptStepLocked(ctx, stepPromptText(ctx))
}

// promptStepLocked sends the actor their current step prompt and arms the
// step timeout. Mutex must be held.
func (g *OmertaGame) promptStepLocked(ctx *AbilityContext, text string) {
	window := abilityWindow(ctx.Card.Name)
	if ctx.Step == StepKillerPrompt {
		window = abilityWindow(models.CharKiller)
	}
	g.fireEventToPlayer(ctx.ActorID, GameEvent{
		Type: EventAbilityPrompt,
		Card: &EventCard{Name: ctx.Card.Name},
		Payload: map[string]interface{}{
			"step":    string(ctx.Step),
			"prompt":  text,
			"seconds": int(window.Seconds()),
		},
	})
	gen := ctx.Gen
	g.sched.Once("ability_timeout", window, func() {
		g.abilityTimeout(gen)
	})
}

func stepPromptText(ctx *AbilityContext) string {
	switch ctx.Kind {
	case AbilityLady:
		return "Choose a player whose hand The Lady will shuffle."
	case AbilityMole:
		return "Choose one of your own cards to view."
	case AbilityGangster:
		if ctx.Step == StepSelectSecondCard {
			return "Choose the second card for the swap."
		}
		if ctx.SwapsDone > 0 {
			return "Choose the first card of another swap, or confirm to stop."
		}
		return "Choose the first card to swap."
	case AbilitySnitch:
		if len(ctx.TargetIDs) > 0 {
			return "Choose a second victim, or confirm to deliver."
		}
		return "Choose a player who will receive a card from the deck."
	case AbilityDriver:
		return "Choose the bottles to drive away, then confirm."
	case AbilitySafecracker:
		if ctx.Step == StepSelectOwnCard {
			return "Choose the hand card to put into the safe."
		}
		return "Choose the safe card to take."
	case AbilityMamma:
		return "Choose a player who will sit out their next turn."
	case AbilityPolicePatrol:
		if ctx.Step == StepSelectOwnCard {
			return "Choose which of their positions to put under watch."
		}
		return "Choose a player to put under patrol."
	}
	return ""
}

// abilityTimeout fires when the actor lets a step window lapse. A lapsed
// Killer prompt resumes the suspended ability; anything else fizzles.
func (g *OmertaGame) abilityTimeout(gen int) {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	ctx := g.Ability
	if ctx == nil || ctx.Gen != gen {
		log.Warnf("game %s: stale ability timer, ignoring", g.ID)
		return
	}
	if ctx.Step == StepKillerPrompt {
		g.logAction(ctx.ActorID, "killer_timeout", nil)
		g.resumeSuspendedLocked(ctx.Suspended)
		return
	}
	g.fizzleAbilityLocked(ctx, "timeout")
}

// fizzleAbilityLocked abandons the ability without effect. Mutex must be held.
func (g *OmertaGame) fizzleAbilityLocked(ctx *AbilityContext, reason string) {
	actor := g.playerByID(ctx.ActorID)
	g.Ability = nil
	ev := GameEvent{
		Type:    EventAbilityFizzled,
		Card:    &EventCard{Name: ctx.Card.Name},
		Payload: map[string]interface{}{"reason": reason},
	}
	if actor != nil {
		ev.User = &EventUser{ID: actor.ID, Name: actor.Name}
	}
	g.fireEvent(ev)
	g.logAction(ctx.ActorID, "ability_fizzled", map[string]interface{}{"card": ctx.Card.Name, "reason": reason})
	g.advanceLocked(ctx.ActorID)
}

// HandleAbilityAction routes a structured ability command from playerID.
func (g *OmertaGame) HandleAbilityAction(playerID uuid.UUID, action models.GameAction) error {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	ctx := g.Ability
	if ctx == nil {
		return ErrWrongPhase
	}
	if ctx.ActorID != playerID {
		return ErrNotYourTurn
	}
	actor := g.playerByID(playerID)
	if actor == nil {
		return ErrUnknownPlayer
	}
	if action.ActionType == models.ActionAbilityCancel && ctx.Step != StepKillerPrompt {
		g.fizzleAbilityLocked(ctx, "cancelled")
		return nil
	}
	handler, ok := stepHandlers[stepKey{ctx.Kind, ctx.Step}]
	if !ok {
		// Unknown continuation: fall back to a clean advance rather than
		// wedging the session.
		log.Errorf("game %s: no handler for ability %d step %q", g.ID, ctx.Kind, ctx.Step)
		g.fizzleAbilityLocked(ctx, "internal error")
		return nil
	}
	return handler(g, ctx, actor, action)
}

// readyToExecute reports whether every selection the ability needs is
// present, used when resuming after a Killer interrupt.
func (ctx *AbilityContext) readyToExecute() bool {
	switch ctx.Kind {
	case AbilityLady, AbilityMamma:
		return len(ctx.TargetIDs) == 1
	case AbilityMole:
		return ctx.Idx1 >= 0
	case AbilityGangster:
		return ctx.Owner1 != uuid.Nil && ctx.Owner2 != uuid.Nil
	case AbilitySnitch:
		return len(ctx.TargetIDs) >= 1
	case AbilityDriver:
		return len(ctx.Picks) >= 1
	case AbilitySafecracker:
		return ctx.SafeIdx >= 0 && ctx.HandIdx >= 0
	case AbilityPolicePatrol:
		return len(ctx.TargetIDs) == 1 && ctx.Idx1 >= 0
	}
	return false
}

// executeAbilityLocked applies the ability's effect, offering the Killer
// counter first when the resolution has a single human victim. Mutex must
// be held.
func (g *OmertaGame) executeAbilityLocked(ctx *AbilityContext) {
	if !ctx.KillerChecked && g.maybeKillerInterruptLocked(ctx) {
		return
	}
	actor := g.playerByID(ctx.ActorID)
	if actor == nil {
		g.Ability = nil
		g.advanceLocked(ctx.ActorID)
		return
	}
	switch ctx.Kind {
	case AbilityLady:
		g.executeLadyLocked(ctx, actor)
	case AbilityMole:
		g.executeMoleLocked(ctx, actor)
	case AbilityGangster:
		g.executeGangsterLocked(ctx, actor)
		return // gangster manages its own continuation
	case AbilitySnitch:
		g.executeSnitchLocked(ctx, actor)
		if g.Phase == PhaseOmertaCalled || g.Phase == PhaseCompleted {
			return
		}
	case AbilityDriver:
		g.executeDriverLocked(ctx, actor)
	case AbilitySafecracker:
		g.executeSafecrackerLocked(ctx, actor)
	case AbilityMamma:
		g.executeMammaLocked(ctx, actor)
	case AbilityPolicePatrol:
		g.executePoliceLocked(ctx, actor)
	}
	g.finishAbilityLocked(ctx)
}

// finishAbilityLocked clears the context and hands control back to the turn
// engine. Mutex must be held.
func (g *OmertaGame) finishAbilityLocked(ctx *AbilityContext) {
	g.Ability = nil
	g.advanceLocked(ctx.ActorID)
}

// --- step handlers ---

func handleSingleTargetSelect(g *OmertaGame, ctx *AbilityContext, actor *models.Player, action models.GameAction) error {
	targetID, err := payloadUUID(action.Payload, "target_id")
	if err != nil {
		return err
	}
	target := g.playerByID(targetID)
	if target == nil || target.ID == actor.ID || target.Status == models.StatusInactive {
		return ErrInvalidAction
	}
	ctx.TargetIDs = []uuid.UUID{targetID}
	ctx.Step = ""
	g.Phase = PhaseAbilityAction
	g.executeAbilityLocked(ctx)
	return nil
}

func handleMoleSelect(g *OmertaGame, ctx *AbilityContext, actor *models.Player, action models.GameAction) error {
	idx, err := payloadInt(action.Payload, "card_idx")
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(actor.Hand) {
		return ErrInvalidAction
	}
	ctx.Idx1 = idx
	ctx.Step = ""
	g.Phase = PhaseAbilityAction
	g.executeAbilityLocked(ctx)
	return nil
}

func handleSnitchSelect(g *OmertaGame, ctx *AbilityContext, actor *models.Player, action models.GameAction) error {
	if action.ActionType == models.ActionAbilityConfirm {
		if len(ctx.TargetIDs) == 0 {
			return ErrInvalidAction
		}
		ctx.Step = ""
		g.Phase = PhaseAbilityAction
		g.executeAbilityLocked(ctx)
		return nil
	}
	targetID, err := payloadUUID(action.Payload, "target_id")
	if err != nil {
		return err
	}
	target := g.playerByID(targetID)
	if target == nil || target.ID == actor.ID || target.Status == models.StatusInactive {
		return ErrInvalidAction
	}
	for _, id := range ctx.TargetIDs {
		if id == targetID {
			return ErrInvalidAction
		}
	}
	ctx.TargetIDs = append(ctx.TargetIDs, targetID)
	if len(ctx.TargetIDs) == 2 {
		ctx.Step = ""
		g.Phase = PhaseAbilityAction
		g.executeAbilityLocked(ctx)
		return nil
	}
	g.promptStepLocked(ctx, stepPromptText(ctx))
	return nil
}

func handleDriverSelect(g *OmertaGame, ctx *AbilityContext, actor *models.Player, action models.GameAction) error {
	if action.ActionType == models.ActionAbilityConfirm {
		if len(ctx.Picks) == 0 {
			return ErrInvalidAction
		}
		ctx.Step = ""
		g.Phase = PhaseAbilityAction
		g.executeAbilityLocked(ctx)
		return nil
	}
	idx, err := payloadInt(action.Payload, "card_idx")
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(actor.Hand) {
		return ErrInvalidAction
	}
	if g.isBlockedLocked(actor.ID, idx) {
		return ErrCardBlocked
	}
	for _, p := range ctx.Picks {
		if p == idx {
			return ErrInvalidAction
		}
	}
	ctx.Picks = append(ctx.Picks, idx)
	g.promptStepLocked(ctx, stepPromptText(ctx))
	return nil
}

func handleGangsterFirst(g *OmertaGame, ctx *AbilityContext, actor *models.Player, action models.GameAction) error {
	if action.ActionType == models.ActionAbilityConfirm {
		// Declining a further swap after at least one completed one.
		if ctx.SwapsDone == 0 {
			return ErrInvalidAction
		}
		g.finishAbilityLocked(ctx)
		return nil
	}
	ownerID, idx, err := payloadCardRef(action.Payload)
	if err != nil {
		return err
	}
	if err := g.validateCardRefLocked(ownerID, idx); err != nil {
		return err
	}
	ctx.Owner1, ctx.Idx1 = ownerID, idx
	ctx.Step = StepSelectSecondCard
	g.promptStepLocked(ctx, stepPromptText(ctx))
	return nil
}

func handleGangsterSecond(g *OmertaGame, ctx *AbilityContext, actor *models.Player, action models.GameAction) error {
	ownerID, idx, err := payloadCardRef(action.Payload)
	if err != nil {
		return err
	}
	if err := g.validateCardRefLocked(ownerID, idx); err != nil {
		return err
	}
	if ownerID == ctx.Owner1 && idx == ctx.Idx1 {
		return ErrInvalidAction
	}
	ctx.Owner2, ctx.Idx2 = ownerID, idx
	ctx.Step = ""
	g.Phase = PhaseAbilityAction
	g.executeAbilityLocked(ctx)
	return nil
}

func handleSafecrackerSafe(g *OmertaGame, ctx *AbilityContext, actor *models.Player, action models.GameAction) error {
	idx, err := payloadInt(action.Payload, "safe_idx")
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(g.Safe) {
		return ErrInvalidAction
	}
	ctx.SafeIdx = idx
	ctx.Step = StepSelectOwnCard
	g.promptStepLocked(ctx, stepPromptText(ctx))
	return nil
}

func handleSafecrackerHand(g *OmertaGame, ctx *AbilityContext, actor *models.Player, action models.GameAction) error {
	idx, err := payloadInt(action.Payload, "card_idx")
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(actor.Hand) {
		return ErrInvalidAction
	}
	if g.isBlockedLocked(actor.ID, idx) {
		return ErrCardBlocked
	}
	ctx.HandIdx = idx
	ctx.Step = ""
	g.Phase = PhaseAbilityAction
	g.executeAbilityLocked(ctx)
	return nil
}

func handlePoliceTarget(g *OmertaGame, ctx *AbilityContext, actor *models.Player, action models.GameAction) error {
	targetID, err := payloadUUID(action.Payload, "target_id")
	if err != nil {
		return err
	}
	target := g.playerByID(targetID)
	if target == nil || target.ID == actor.ID || target.Status == models.StatusInactive {
		return ErrInvalidAction
	}
	ctx.TargetIDs = []uuid.UUID{targetID}
	ctx.Step = StepSelectOwnCard
	g.promptStepLocked(ctx, stepPromptText(ctx))
	return nil
}

func handlePoliceCard(g *OmertaGame, ctx *AbilityContext, actor *models.Player, action models.GameAction) error {
	idx, err := payloadInt(action.Payload, "card_idx")
	if err != nil {
		return err
	}
	target := g.playerByID(ctx.TargetIDs[0])
	if target == nil || idx < 0 || idx >= len(target.Hand) {
		return ErrInvalidAction
	}
	ctx.Idx1 = idx
	ctx.Step = ""
	g.Phase = PhaseAbilityAction
	g.executeAbilityLocked(ctx)
	return nil
}

// --- effects ---

func (g *OmertaGame) executeLadyLocked(ctx *AbilityContext, actor *models.Player) {
	target := g.playerByID(ctx.TargetIDs[0])
	if target == nil || target.Status == models.StatusInactive {
		return
	}
	rand.Shuffle(len(target.Hand), func(i, j int) {
		target.Hand[i], target.Hand[j] = target.Hand[j], target.Hand[i]
	})
	target.ForgetAllViewed()
	g.fireEvent(GameEvent{
		Type:    EventAbilityAnnounce,
		User:    &EventUser{ID: actor.ID, Name: actor.Name},
		Card:    &EventCard{Name: models.CharLady, User: &EventUser{ID: target.ID, Name: target.Name}},
		Payload: map[string]interface{}{"effect": "hand_shuffled"},
	})
	g.logAction(actor.ID, "lady_shuffle", map[string]interface{}{"target": target.ID.String()})
}

func (g *OmertaGame) executeMoleLocked(ctx *AbilityContext, actor *models.Player) {
	if ctx.Idx1 < 0 || ctx.Idx1 >= len(actor.Hand) {
		return
	}
	card := actor.Hand[ctx.Idx1]
	actor.MarkViewed(ctx.Idx1)
	g.fireEventToPlayer(actor.ID, GameEvent{
		Type: EventPrivatePeek,
		Card: &EventCard{ID: card.ID, Name: card.Label(), Points: card.Points, Idx: intPtr(ctx.Idx1)},
	})
	g.logAction(actor.ID, "mole_peek", map[string]interface{}{"idx": ctx.Idx1})
}

func (g *OmertaGame) executeGangsterLocked(ctx *AbilityContext, actor *models.Player) {
	p1 := g.playerByID(ctx.Owner1)
	p2 := g.playerByID(ctx.Owner2)
	if p1 == nil || p2 == nil ||
		ctx.Idx1 >= len(p1.Hand) || ctx.Idx2 >= len(p2.Hand) {
		g.finishAbilityLocked(ctx)
		return
	}
	p1.Hand[ctx.Idx1], p2.Hand[ctx.Idx2] = p2.Hand[ctx.Idx2], p1.Hand[ctx.Idx1]

	// Whoever receives an unknown card loses knowledge of that slot; the
	// gangster player gets to see the card arriving in their own hand.
	if p1.ID == actor.ID {
		actor.MarkViewed(ctx.Idx1)
		p2.ForgetViewed(ctx.Idx2)
	} else if p2.ID == actor.ID {
		actor.MarkViewed(ctx.Idx2)
		p1.ForgetViewed(ctx.Idx1)
	} else {
		p1.ForgetViewed(ctx.Idx1)
		p2.ForgetViewed(ctx.Idx2)
	}
	ctx.SwapsDone++
	g.fireEvent(GameEvent{
		Type: EventAbilityAnnounce,
		User: &EventUser{ID: actor.ID, Name: actor.Name},
		Card: &EventCard{Name: models.CharGangster},
		Payload: map[string]interface{}{
			"effect": "swap",
			"first":  map[string]interface{}{"player": p1.Name, "idx": ctx.Idx1},
			"second": map[string]interface{}{"player": p2.Name, "idx": ctx.Idx2},
			"swaps":  ctx.SwapsDone,
		},
	})
	g.logAction(actor.ID, "gangster_swap", map[string]interface{}{"swaps": ctx.SwapsDone})

	if ctx.SwapsDone >= 2 || actor.IsAI {
		g.finishAbilityLocked(ctx)
		return
	}
	// Offer the optional second swap.
	ctx.Owner1, ctx.Owner2 = uuid.Nil, uuid.Nil
	ctx.Idx1, ctx.Idx2 = -1, -1
	ctx.KillerChecked = false
	ctx.Step = StepSelectFirstCard
	g.Phase = PhaseAbilityTarget
	g.promptStepLocked(ctx, stepPromptText(ctx))
}

func (g *OmertaGame) executeSnitchLocked(ctx *AbilityContext, actor *models.Player) {
	for _, targetID := range ctx.TargetIDs {
		target := g.playerByID(targetID)
		if target == nil || target.Status == models.StatusInactive {
			continue
		}
		card := g.drawStockLocked()
		if card == nil {
			g.fireEvent(GameEvent{Type: EventOmertaForced, Payload: map[string]interface{}{"reason": "deck exhausted"}})
			g.Ability = nil
			g.settleOmertaLocked(uuid.Nil, true)
			return
		}
		target.Hand = append(target.Hand, card)
		if !target.IsAI {
			g.fireEventToPlayer(target.ID, GameEvent{
				Type:    EventPrivatePenalty,
				Payload: map[string]interface{}{"reason": "the snitch delivered you a card", "hand_size": len(target.Hand)},
			})
		}
		g.fireEvent(GameEvent{
			Type:    EventAbilityAnnounce,
			User:    &EventUser{ID: actor.ID, Name: actor.Name},
			Card:    &EventCard{Name: models.CharSnitch, User: &EventUser{ID: target.ID, Name: target.Name}},
			Payload: map[string]interface{}{"effect": "card_delivered", "hand_size": len(target.Hand)},
		})
	}
	g.logAction(actor.ID, "snitch_deliver", map[string]interface{}{"targets": len(ctx.TargetIDs)})
}

func (g *OmertaGame) executeDriverLocked(ctx *AbilityContext, actor *models.Player) {
	picks := append([]int(nil), ctx.Picks...)
	sort.Sort(sort.Reverse(sort.IntSlice(picks)))
	wrong := 0
	driven := 0
	for _, idx := range picks {
		if idx < 0 || idx >= len(actor.Hand) {
			continue
		}
		if actor.Hand[idx].IsBottle() {
			card := g.removeHandCardLocked(actor, idx)
			g.DiscardPile = append(g.DiscardPile, card)
			driven++
		} else {
			wrong++
		}
	}
	if wrong > 0 {
		rand.Shuffle(len(actor.Hand), func(i, j int) {
			actor.Hand[i], actor.Hand[j] = actor.Hand[j], actor.Hand[i]
		})
		actor.ForgetAllViewed()
		for i := 0; i < wrong; i++ {
			g.drawPenaltyCardLocked(actor, "driver picked a non-bottle")
		}
	}
	g.fireEvent(GameEvent{
		Type: EventAbilityAnnounce,
		User: &EventUser{ID: actor.ID, Name: actor.Name},
		Card: &EventCard{Name: models.CharDriver},
		Payload: map[string]interface{}{"effect": "bottles_driven", "driven": driven, "wrong": wrong},
	})
	g.logAction(actor.ID, "driver_discard", map[string]interface{}{"driven": driven, "wrong": wrong})
}

func (g *OmertaGame) revealSafeLocked(actor *models.Player) {
	var cards []EventCard
	for i, c := range g.Safe {
		cards = append(cards, EventCard{ID: c.ID, Name: c.Label(), Points: c.Points, Idx: intPtr(i)})
	}
	g.fireEventToPlayer(actor.ID, GameEvent{
		Type:    EventSafeRevealed,
		Payload: map[string]interface{}{"cards": cards},
	})
}

func (g *OmertaGame) executeSafecrackerLocked(ctx *AbilityContext, actor *models.Player) {
	if ctx.SafeIdx < 0 || ctx.SafeIdx >= len(g.Safe) ||
		ctx.HandIdx < 0 || ctx.HandIdx >= len(actor.Hand) {
		return
	}
	fromSafe := g.Safe[ctx.SafeIdx]
	fromHand := actor.Hand[ctx.HandIdx]
	actor.Hand[ctx.HandIdx] = fromSafe
	g.Safe[ctx.SafeIdx] = fromHand
	actor.MarkViewed(ctx.HandIdx)
	g.fireEventToPlayer(actor.ID, GameEvent{
		Type: EventPrivatePeek,
		Card: &EventCard{ID: fromSafe.ID, Name: fromSafe.Label(), Points: fromSafe.Points, Idx: intPtr(ctx.HandIdx)},
	})
	g.fireEvent(GameEvent{
		Type: EventAbilityAnnounce,
		User: &EventUser{ID: actor.ID, Name: actor.Name},
		Card: &EventCard{Name: models.CharSafecracker},
		Payload: map[string]interface{}{"effect": "safe_exchange", "safe_idx": ctx.SafeIdx},
	})
	g.logAction(actor.ID, "safecracker_exchange", map[string]interface{}{"safe_idx": ctx.SafeIdx, "hand_idx": ctx.HandIdx})
}

func (g *OmertaGame) executeMammaLocked(ctx *AbilityContext, actor *models.Player) {
	target := g.playerByID(ctx.TargetIDs[0])
	if target == nil || target.Status == models.StatusInactive {
		return
	}
	target.Status = models.StatusSkipTurn
	target.CannotCallOmerta = true
	g.fireEvent(GameEvent{
		Type: EventTurnSkipAssigned,
		User: &EventUser{ID: actor.ID, Name: actor.Name},
		Card: &EventCard{Name: models.CharMamma, User: &EventUser{ID: target.ID, Name: target.Name}},
	})
	g.logAction(actor.ID, "mamma_skip", map[string]interface{}{"target": target.ID.String()})
}

func (g *OmertaGame) executePoliceLocked(ctx *AbilityContext, actor *models.Player) {
	target := g.playerByID(ctx.TargetIDs[0])
	if target == nil || target.Status == models.StatusInactive ||
		ctx.Idx1 < 0 || ctx.Idx1 >= len(target.Hand) {
		return
	}
	if g.BlockedCards[target.ID] == nil {
		g.BlockedCards[target.ID] = make(map[int]int)
	}
	g.BlockedCards[target.ID][ctx.Idx1] = 2
	g.fireEvent(GameEvent{
		Type:    EventCardBlocked,
		User:    &EventUser{ID: actor.ID, Name: actor.Name},
		Card:    &EventCard{Idx: intPtr(ctx.Idx1), User: &EventUser{ID: target.ID, Name: target.Name}},
		Payload: map[string]interface{}{"cycles": 2},
	})
	g.logAction(actor.ID, "police_block", map[string]interface{}{"target": target.ID.String(), "idx": ctx.Idx1})
}

// --- payload helpers ---

func payloadInt(payload map[string]interface{}, key string) (int, error) {
	v, ok := payload[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", ErrInvalidAction, key)
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("%w: bad %s", ErrInvalidAction, key)
	}
}

func payloadUUID(payload map[string]interface{}, key string) (uuid.UUID, error) {
	v, ok := payload[key].(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: missing %s", ErrInvalidAction, key)
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad %s", ErrInvalidAction, key)
	}
	return id, nil
}

func payloadCardRef(payload map[string]interface{}) (uuid.UUID, int, error) {
	ownerID, err := payloadUUID(payload, "owner_id")
	if err != nil {
		return uuid.Nil, 0, err
	}
	idx, err := payloadInt(payload, "card_idx")
	if err != nil {
		return uuid.Nil, 0, err
	}
	return ownerID, idx, nil
}

// validateCardRefLocked checks a (player, hand index) reference for the
// gangster swap: the owner must be active and the position unblocked.
func (g *OmertaGame) validateCardRefLocked(ownerID uuid.UUID, idx int) error {
	owner := g.playerByID(ownerID)
	if owner == nil || owner.Status == models.StatusInactive {
		return ErrInvalidAction
	}
	if idx < 0 || idx >= len(owner.Hand) {
		return ErrInvalidAction
	}
	if g.isBlockedLocked(ownerID, idx) {
		return ErrCardBlocked
	}
	return nil
}

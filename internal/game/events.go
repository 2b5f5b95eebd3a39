package game

import (
	"github.com/google/uuid"
)

// GameEventType is an enum-like type for broadcasting game events.
type GameEventType string

const (
	EventSessionCreated    GameEventType = "session_created"
	EventPlayerJoined      GameEventType = "player_joined"
	EventJoinReminder      GameEventType = "join_reminder"
	EventSessionCancelled  GameEventType = "session_cancelled"
	EventGangstersAssigned GameEventType = "gangsters_assigned"
	EventCapoContinue      GameEventType = "capo_continue_prompt"
	EventCardsDealt        GameEventType = "cards_dealt"
	EventPrivateInitial    GameEventType = "private_initial_cards"
	EventViewingStarted    GameEventType = "viewing_started"
	EventViewingEnded      GameEventType = "viewing_ended"
	EventPlayerInactive    GameEventType = "player_inactive"

	EventTurnStarted   GameEventType = "turn_started"
	EventPlayerSkipped GameEventType = "player_skipped"
	EventHandMeter     GameEventType = "hand_meter"
	EventDeckReshuffle GameEventType = "deck_reshuffle"

	EventPlayerDrawDeck    GameEventType = "player_draw_deck"
	EventPlayerDrawDiscard GameEventType = "player_draw_discard"
	EventPrivateDrawnCard  GameEventType = "private_drawn_card"
	EventPlayerDiscard     GameEventType = "player_discard"
	EventPrivatePeek       GameEventType = "private_peek"
	EventPrivatePenalty    GameEventType = "private_penalty_card"
	EventPenaltyDraw       GameEventType = "penalty_draw"

	EventAbilityPrompt    GameEventType = "ability_prompt"
	EventAbilityAnnounce  GameEventType = "ability_announce"
	EventAbilityFizzled   GameEventType = "ability_fizzled"
	EventKillerPrompt     GameEventType = "killer_prompt"
	EventKillerCountered  GameEventType = "killer_countered"
	EventKillerFailed     GameEventType = "killer_failed"
	EventSafeRevealed     GameEventType = "safe_revealed"
	EventCardBlocked      GameEventType = "card_blocked"
	EventCardUnblocked    GameEventType = "card_unblocked"
	EventTurnSkipAssigned GameEventType = "turn_skip_assigned"

	EventBottleWindowOpen   GameEventType = "bottle_window_open"
	EventBottleEligible     GameEventType = "private_bottle_eligible"
	EventBottleMatchSuccess GameEventType = "bottle_match_success"
	EventBottleMatchFail    GameEventType = "bottle_match_fail"
	EventBottleWindowClosed GameEventType = "bottle_window_closed"

	EventOmertaCalled GameEventType = "omerta_called"
	EventOmertaForced GameEventType = "omerta_forced"
	EventGameResults  GameEventType = "game_results"
)

// EventUser identifies a player within an event payload.
type EventUser struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name,omitempty"`
}

// EventCard identifies a card within an event payload. Idx is a pointer so
// a zero hand index survives omitempty.
type EventCard struct {
	ID     uuid.UUID  `json:"id,omitempty"`
	Name   string     `json:"name,omitempty"`
	Value  int        `json:"value,omitempty"`
	Points int        `json:"points,omitempty"`
	Idx    *int       `json:"idx,omitempty"`
	User   *EventUser `json:"user,omitempty"`
}

// GameEvent holds data about an event broadcast to clients in a consistent
// format. Hands are never included in public events; private knowledge only
// travels through per-player sends.
type GameEvent struct {
	Type    GameEventType          `json:"type"`
	User    *EventUser             `json:"user,omitempty"`
	Card    *EventCard             `json:"card,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

func intPtr(i int) *int { return &i }

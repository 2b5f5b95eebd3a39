package models

// GameAction is a structured in-game command from a client. Commands are
// never parsed out of free text; every action names itself and carries a
// typed payload map.
type GameAction struct {
	ActionType string                 `json:"action_type"`
	Payload    map[string]interface{} `json:"payload"`
}

// Action types accepted over the game websocket.
const (
	ActionCallOmerta     = "call_omerta"
	ActionDrawDeck       = "draw_deck"
	ActionDrawDiscard    = "draw_discard"
	ActionReplaceCard    = "replace_card"
	ActionBottleMatch    = "bottle_match"
	ActionAbilitySelect  = "ability_select"
	ActionAbilityConfirm = "ability_confirm"
	ActionAbilityCancel  = "ability_cancel"
	ActionKillerActivate = "killer_activate"
	ActionKillerDecline  = "killer_decline"
	ActionViewingDone    = "viewing_done"
	ActionCapoContinue   = "capo_continue"
	ActionPlayAgain      = "play_again"
)

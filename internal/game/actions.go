package game

import (
	"github.com/google/uuid"

	"github.com/omerta-games/omerta-service/internal/models"
)

// HandlePlayerAction routes a structured client command to the matching
// engine operation. Unknown action types are rejected without mutation.
func (g *OmertaGame) HandlePlayerAction(userID uuid.UUID, action models.GameAction) error {
	switch action.ActionType {
	case models.ActionCallOmerta:
		return g.HandleCallOmerta(userID)
	case models.ActionDrawDeck:
		return g.HandleDrawDeck(userID)
	case models.ActionDrawDiscard:
		return g.HandleDrawDiscard(userID)
	case models.ActionReplaceCard:
		idx, err := payloadInt(action.Payload, "card_idx")
		if err != nil {
			return err
		}
		return g.HandleReplaceCard(userID, idx)
	case models.ActionBottleMatch:
		idx, err := payloadInt(action.Payload, "card_idx")
		if err != nil {
			return err
		}
		return g.HandleBottleMatch(userID, idx)
	case models.ActionAbilitySelect, models.ActionAbilityConfirm, models.ActionAbilityCancel,
		models.ActionKillerActivate, models.ActionKillerDecline:
		return g.HandleAbilityAction(userID, action)
	case models.ActionViewingDone:
		return g.HandleViewingDone(userID)
	case models.ActionCapoContinue:
		return g.HandleCapoContinue(userID)
	case models.ActionPlayAgain:
		return g.RestartRound()
	default:
		return ErrInvalidAction
	}
}

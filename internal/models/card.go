package models

import (
	"fmt"

	"github.com/google/uuid"
)

// CardKind distinguishes numbered bottle cards from character cards.
type CardKind string

const (
	KindBottle    CardKind = "bottle"
	KindCharacter CardKind = "character"
)

// Character names used as ranks for character cards.
const (
	CharLady         = "The Lady"
	CharMole         = "The Mole"
	CharGangster     = "The Gangster"
	CharSnitch       = "The Snitch"
	CharDriver       = "The Driver"
	CharSafecracker  = "The Safecracker"
	CharKiller       = "The Killer"
	CharWitness      = "The Witness"
	CharAlibi        = "The Alibi"
	CharMamma        = "The Mamma"
	CharPolicePatrol = "Police Patrol"
)

// Card is a single card in play. Bottles carry a Value of 1..10 and score
// their value; character cards have Value 0 and score their fixed Points.
type Card struct {
	ID     uuid.UUID `json:"id"`
	Kind   CardKind  `json:"kind"`
	Name   string    `json:"name"`
	Value  int       `json:"value,omitempty"`
	Points int       `json:"points"`
}

// IsBottle reports whether the card is a numbered bottle.
func (c *Card) IsBottle() bool {
	return c.Kind == KindBottle
}

// IsCharacter reports whether the card is a character card.
func (c *Card) IsCharacter() bool {
	return c.Kind == KindCharacter
}

// Label returns a short human-readable description for notifications.
func (c *Card) Label() string {
	if c.IsBottle() {
		return fmt.Sprintf("Bottle %d", c.Value)
	}
	return c.Name
}

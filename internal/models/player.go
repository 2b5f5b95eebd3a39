package models

import (
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// PlayerStatus tracks whether a player participates in turn selection.
type PlayerStatus string

const (
	StatusActive PlayerStatus = "active"
	// StatusSkipTurn marks a player whose next turn slot is consumed
	// without playing (set by The Mamma).
	StatusSkipTurn PlayerStatus = "skip_turn"
	StatusInactive PlayerStatus = "inactive"
)

type Player struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Gangster string    `json:"gangster,omitempty"`

	Hand []*Card `json:"-"`

	// Viewed holds the hand indices whose faces this player currently knows.
	// Knowledge is lost when a position is replaced, shuffled, or swapped away.
	Viewed map[int]bool `json:"-"`

	// ViewedAllInitial is set once the player confirms their initial peek.
	ViewedAllInitial bool `json:"-"`

	Status           PlayerStatus `json:"status"`
	CannotCallOmerta bool         `json:"-"`
	IsAI             bool         `json:"is_ai"`
	JoinedAt         time.Time    `json:"-"`

	Connected bool            `json:"connected"`
	Conn      *websocket.Conn `json:"-"`

	User *User `json:"-"`

	// DrawnCard holds the card drawn this turn, not yet placed in the hand.
	DrawnCard *Card `json:"-"`
	// DrawSource records where DrawnCard came from ("deck" or "discard").
	DrawSource string `json:"-"`
}

// ForgetViewed drops face knowledge for a single hand position.
func (p *Player) ForgetViewed(idx int) {
	delete(p.Viewed, idx)
}

// ForgetAllViewed drops all face knowledge, e.g. after a hand shuffle.
func (p *Player) ForgetAllViewed() {
	p.Viewed = make(map[int]bool)
}

// MarkViewed records that the player has seen the face at idx.
func (p *Player) MarkViewed(idx int) {
	if p.Viewed == nil {
		p.Viewed = make(map[int]bool)
	}
	p.Viewed[idx] = true
}

// HandScore sums the point values of the player's current hand.
func (p *Player) HandScore() int {
	total := 0
	for _, c := range p.Hand {
		total += c.Points
	}
	return total
}

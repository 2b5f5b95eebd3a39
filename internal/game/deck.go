package game

import (
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/omerta-games/omerta-service/internal/models"
)

// characterSpec describes one character rank: its score, how many copies the
// deck carries, and how long a human gets to resolve its ability. A zero
// window means the card has no ability prompt.
type characterSpec struct {
	name    string
	points  int
	copies  int
	window  time.Duration
}

var characterCatalog = []characterSpec{
	{models.CharLady, 15, 2, 20 * time.Second},
	{models.CharMole, 15, 2, 15 * time.Second},
	{models.CharGangster, 15, 2, 30 * time.Second},
	{models.CharSnitch, 20, 2, 25 * time.Second},
	{models.CharDriver, 20, 2, 20 * time.Second},
	{models.CharSafecracker, 15, 2, 20 * time.Second},
	{models.CharKiller, 15, 2, 10 * time.Second},
	{models.CharWitness, 10, 3, 0},
	{models.CharAlibi, 0, 3, 0},
	{models.CharMamma, 15, 2, 20 * time.Second},
	{models.CharPolicePatrol, 15, 2, 30 * time.Second},
}

// abilityWindow returns the resolution window for a character card, or 0 if
// the card has no ability.
func abilityWindow(name string) time.Duration {
	for _, entry := range characterCatalog {
		if entry.name == name {
			return entry.window
		}
	}
	return 0
}

// newDeck builds and shuffles a full Omerta deck: bottles 1..10 with four
// copies each, plus the character cards with their catalog copy counts.
func newDeck() []*models.Card {
	var deck []*models.Card
	for value := 1; value <= 10; value++ {
		for i := 0; i < 4; i++ {
			id, _ := uuid.NewRandom()
			deck = append(deck, &models.Card{
				ID:     id,
				Kind:   models.KindBottle,
				Name:   "Bottle",
				Value:  value,
				Points: value,
			})
		}
	}
	for _, entry := range characterCatalog {
		for i := 0; i < entry.copies; i++ {
			id, _ := uuid.NewRandom()
			deck = append(deck, &models.Card{
				ID:     id,
				Kind:   models.KindCharacter,
				Name:   entry.name,
				Points: entry.points,
			})
		}
	}
	rand.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
	return deck
}

// drawStockLocked pops the top card of the stock, folding the discard pile
// (minus its top card) back in when the stock runs dry. It returns nil when
// no card can be produced even after the reshuffle; callers treat that as a
// forced Omerta. Mutex must be held.
func (g *OmertaGame) drawStockLocked() *models.Card {
	if len(g.Deck) == 0 {
		g.reshuffleDiscardLocked()
	}
	if len(g.Deck) == 0 {
		return nil
	}
	card := g.Deck[0]
	g.Deck = g.Deck[1:]
	return card
}

// reshuffleDiscardLocked moves every discard except the top card back into
// the stock and shuffles. Mutex must be held.
func (g *OmertaGame) reshuffleDiscardLocked() {
	if len(g.DiscardPile) <= 1 {
		return
	}
	top := g.DiscardPile[len(g.DiscardPile)-1]
	recycled := g.DiscardPile[:len(g.DiscardPile)-1]
	g.Deck = append(g.Deck, recycled...)
	g.DiscardPile = []*models.Card{top}
	rand.Shuffle(len(g.Deck), func(i, j int) {
		g.Deck[i], g.Deck[j] = g.Deck[j], g.Deck[i]
	})
	g.fireEvent(GameEvent{
		Type:    EventDeckReshuffle,
		Payload: map[string]interface{}{"stock_size": len(g.Deck)},
	})
	g.logAction(uuid.Nil, "deck_reshuffle", map[string]interface{}{"stock_size": len(g.Deck)})
}

// topDiscard returns the top of the discard pile, or nil when empty.
func (g *OmertaGame) topDiscard() *models.Card {
	if len(g.DiscardPile) == 0 {
		return nil
	}
	return g.DiscardPile[len(g.DiscardPile)-1]
}

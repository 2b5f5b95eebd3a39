package game

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/omerta-games/omerta-service/internal/models"
)

// famousGangsters is the alias roster handed out at the start of a round.
// Al Capone leads the round and must be assigned to exactly one player.
var famousGangsters = []string{
	"Al Capone",
	"Bugsy Siegel",
	"Lucky Luciano",
	"Dutch Schultz",
	"Meyer Lansky",
	"Pablo Escobar",
	"John Gotti",
	"Frank Costello",
	"Whitey Bulger",
}

const capoName = "Al Capone"

// assignGangstersLocked hands every participant a gangster alias. Exactly
// one player becomes Al Capone; overflow seats beyond the roster get Rookie
// names. Mutex must be held.
func (g *OmertaGame) assignGangstersLocked() {
	n := len(g.Players)
	if n == 0 {
		return
	}

	pool := make([]string, len(famousGangsters))
	copy(pool, famousGangsters)
	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	var assigned []string
	if contains(pool[:min(n, len(pool))], capoName) {
		assigned = pool[:min(n, len(pool))]
	} else {
		pool = remove(pool, capoName)
		take := n - 1
		if take > len(pool) {
			take = len(pool)
		}
		assigned = append(assigned, pool[:take]...)
		assigned = append(assigned, capoName)
		rand.Shuffle(len(assigned), func(i, j int) { assigned[i], assigned[j] = assigned[j], assigned[i] })
	}
	for i := 1; len(assigned) < n; i++ {
		assigned = append(assigned, fmt.Sprintf("Rookie %d", i))
	}

	// Assignment order is shuffled so seat position does not leak the alias.
	order := rand.Perm(n)
	g.CapoID = uuid.Nil
	for i, pi := range order {
		p := g.Players[pi]
		p.Gangster = assigned[i]
		if assigned[i] == capoName {
			g.CapoID = p.ID
		}
	}

	// The shuffle above guarantees a capo as long as the roster held one;
	// guard the impossible case anyway rather than playing a leaderless round.
	if !g.hasCapoLocked() {
		log.Errorf("game %s: no Al Capone after assignment, forcing first participant", g.ID)
		for _, p := range g.Players {
			if p.Gangster == capoName {
				p.Gangster = "Rookie (demoted)"
			}
		}
		g.Players[0].Gangster = capoName
		g.CapoID = g.Players[0].ID
	}
}

func (g *OmertaGame) hasCapoLocked() bool {
	for _, p := range g.Players {
		if p.ID == g.CapoID && p.Gangster == capoName {
			return true
		}
	}
	return false
}

func (g *OmertaGame) capoPlayer() *models.Player {
	return g.playerByID(g.CapoID)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

package game

import (
	"sort"

	"github.com/google/uuid"

	"github.com/omerta-games/omerta-service/internal/models"
)

// inactiveSortScore ranks players who left the round behind every live
// score during settlement ordering. Their real score is still reported.
const inactiveSortScore = 999

// settleOmertaLocked ends the round and produces final scores. callerID is
// the voluntary caller, the player whose empty hand forced the call, or
// uuid.Nil for a system-forced call (deck exhaustion). Mutex must be held.
func (g *OmertaGame) settleOmertaLocked(callerID uuid.UUID, forced bool) {
	if g.Phase == PhaseOmertaCalled || g.Phase == PhaseCompleted {
		return
	}
	// Every pending context dies with the round.
	g.sched.CancelAll()
	g.Ability = nil
	g.Bottle = nil
	g.bottleJustEnded = false
	g.phaseGen++
	g.turnGen++
	g.abilityGen++
	g.bottleGen++

	g.Phase = PhaseOmertaCalled
	g.OmertaCallerID = callerID
	g.ForcedOmerta = forced

	caller := g.playerByID(callerID)
	ev := GameEvent{Type: EventOmertaCalled, Payload: map[string]interface{}{"forced": forced}}
	if caller != nil {
		ev.User = &EventUser{ID: caller.ID, Name: caller.Name}
	}
	g.fireEvent(ev)
	g.logAction(callerID, "omerta_called", map[string]interface{}{"forced": forced})

	type row struct {
		p       *models.Player
		score   int
		sortKey int
	}
	var rows []*row
	for _, id := range g.TurnOrder {
		p := g.playerByID(id)
		if p == nil {
			continue
		}
		r := &row{p: p, score: p.HandScore()}
		r.sortKey = r.score
		if p.Status == models.StatusInactive && p.ID != callerID {
			r.sortKey = inactiveSortScore
		}
		rows = append(rows, r)
	}
	rank := func() {
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].sortKey < rows[j].sortKey
		})
	}
	rank()
	if len(rows) == 0 {
		g.Phase = PhaseCompleted
		return
	}

	var winner *row
	if forced || caller == nil {
		// System-forced calls favor the table: the lowest hand wins and
		// nobody is penalized.
		winner = rows[0]
	} else {
		if rows[0].p.ID == callerID && rows[0].score <= g.HouseRules.OmertaThreshold {
			winner = rows[0]
		} else {
			// The call failed: penalty points, then the real winner stands.
			for _, r := range rows {
				if r.p.ID == callerID {
					r.score += g.HouseRules.OmertaPenalty
					r.sortKey = r.score
					if r.p.Status == models.StatusInactive {
						r.sortKey = inactiveSortScore
					}
				}
			}
			g.fireEvent(GameEvent{
				Type:    EventOmertaCalled,
				User:    &EventUser{ID: caller.ID, Name: caller.Name},
				Payload: map[string]interface{}{"failed": true, "penalty": g.HouseRules.OmertaPenalty},
			})
			rank()
			winner = rows[0]
		}
	}

	// Ultimate loser: the highest real score at the table.
	loser := rows[0]
	for _, r := range rows {
		if r.score > loser.score {
			loser = r
		}
	}

	g.FinalScores = nil
	for _, r := range rows {
		g.FinalScores = append(g.FinalScores, FinalScore{
			PlayerID: r.p.ID,
			Name:     r.p.Name,
			Score:    r.score,
			IsWinner: r == winner,
			IsAI:     r.p.IsAI,
		})
	}

	scores := make([]map[string]interface{}, 0, len(g.FinalScores))
	for _, fs := range g.FinalScores {
		scores = append(scores, map[string]interface{}{
			"player_id": fs.PlayerID.String(),
			"name":      fs.Name,
			"score":     fs.Score,
			"is_winner": fs.IsWinner,
			"is_ai":     fs.IsAI,
		})
	}
	g.fireEvent(GameEvent{
		Type: EventGameResults,
		Payload: map[string]interface{}{
			"scores":         scores,
			"winner":         winner.p.Name,
			"ultimate_loser": loser.p.Name,
			"forced":         forced,
		},
	})
	g.logAction(uuid.Nil, "game_results", map[string]interface{}{"winner": winner.p.ID.String()})

	g.Phase = PhaseCompleted
	if g.OnGameEnd != nil {
		results := append([]FinalScore(nil), g.FinalScores...)
		go g.OnGameEnd(g.ChatKey, results)
	}
}

// RestartRound starts a fresh round with the same table after a completed
// one: new aliases, new deal, scores reset.
func (g *OmertaGame) RestartRound() error {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	if g.Phase != PhaseCompleted {
		return ErrWrongPhase
	}
	if len(g.Players) < g.HouseRules.MinPlayers {
		return ErrNotJoinable
	}
	for _, p := range g.Players {
		p.Hand = nil
		p.Viewed = make(map[int]bool)
		p.ViewedAllInitial = false
		p.Status = models.StatusActive
		p.CannotCallOmerta = false
		p.Gangster = ""
		p.DrawnCard = nil
		p.DrawSource = ""
	}
	g.Deck = nil
	g.DiscardPile = nil
	g.Safe = nil
	g.TurnOrder = nil
	g.CurrentPlayerID = uuid.Nil
	g.CapoID = uuid.Nil
	g.CycleCount = 0
	g.BlockedCards = make(map[uuid.UUID]map[int]int)
	g.OmertaCallerID = uuid.Nil
	g.ForcedOmerta = false
	g.FinalScores = nil
	g.bottleJustEnded = false

	g.logAction(uuid.Nil, "round_restarted", nil)
	g.beginAssignmentLocked()
	return nil
}

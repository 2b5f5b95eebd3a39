package game

import (
	"github.com/coder/websocket"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// HandleConnect attaches a live websocket to a seated player.
func (g *OmertaGame) HandleConnect(userID uuid.UUID, conn *websocket.Conn) error {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	p := g.playerByID(userID)
	if p == nil {
		return ErrUnknownPlayer
	}
	p.Conn = conn
	p.Connected = true
	log.Infof("game %s: player %s connected", g.ID, userID)
	return nil
}

// HandleDisconnect marks a player's socket gone. The seat stays in the
// round; timers and AI continue without them.
func (g *OmertaGame) HandleDisconnect(userID uuid.UUID) {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	p := g.playerByID(userID)
	if p == nil {
		return
	}
	p.Conn = nil
	p.Connected = false
	log.Infof("game %s: player %s disconnected", g.ID, userID)
}

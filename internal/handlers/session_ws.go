package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/omerta-games/omerta-service/internal/game"
	"github.com/omerta-games/omerta-service/internal/middleware"
	"github.com/omerta-games/omerta-service/internal/models"
)

// wsMessage is an incoming structured command from a client socket.
type wsMessage struct {
	Action  string                 `json:"action"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// SessionWSHandler upgrades the HTTP connection to a game WebSocket. It
// authenticates the user, verifies their seat, registers broadcast
// callbacks for the session, and runs the read loop.
func SessionWSHandler(logger *logrus.Logger, gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameIDStr := r.URL.Query().Get("game_id")
		gameID, err := uuid.Parse(gameIDStr)
		if err != nil {
			http.Error(w, "missing or invalid game_id", http.StatusBadRequest)
			return
		}
		g, ok := gs.GameStore.GetGame(gameID)
		if !ok {
			http.Error(w, "game not found", http.StatusNotFound)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"omerta"},
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			logger.Warnf("websocket accept error for game %s: %v", gameID, err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler exit")

		if c.Subprotocol() != "omerta" {
			c.Close(websocket.StatusPolicyViolation, "client must use the 'omerta' subprotocol")
			return
		}
		middleware.LogSessionConnect(logger, r.RemoteAddr, gameID.String())

		userID, err := EnsureEphemeralUser(w, r)
		if err != nil {
			logger.Warnf("user auth failed for game %s: %v", gameID, err)
			c.Close(websocket.StatusPolicyViolation, "authentication failed")
			return
		}

		g.Mu.Lock()
		if g.BroadcastFn == nil {
			g.BroadcastFn = broadcastFunc(g, logger)
		}
		if g.BroadcastToPlayerFn == nil {
			g.BroadcastToPlayerFn = broadcastToPlayerFunc(g, logger)
		}
		g.Mu.Unlock()

		if err := g.HandleConnect(userID, c); err != nil {
			c.Close(websocket.StatusPolicyViolation, "you are not seated in this game")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		readErr := readSessionMessages(ctx, c, g, userID, logger)

		g.HandleDisconnect(userID)
		middleware.LogSessionDisconnect(logger, r.RemoteAddr, gameID.String(), readErr)
	}
}

// broadcastFunc builds the session's public fan-out. The engine invokes it
// while holding the game mutex, so the connection snapshot happens inline
// and the writes happen on a goroutine.
func broadcastFunc(g *game.OmertaGame, logger *logrus.Logger) func(ev game.GameEvent) {
	return func(ev game.GameEvent) {
		var conns []*websocket.Conn
		for _, p := range g.Players {
			if p.Connected && p.Conn != nil {
				conns = append(conns, p.Conn)
			}
		}
		data, err := json.Marshal(ev)
		if err != nil {
			logger.Errorf("failed to marshal event %s for game %s: %v", ev.Type, g.ID, err)
			return
		}
		go func() {
			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
					logger.Warnf("broadcast write failed in game %s: %v", g.ID, err)
				}
				cancel()
			}
		}()
	}
}

// broadcastToPlayerFunc builds the session's private send. Same locking
// contract as broadcastFunc.
func broadcastToPlayerFunc(g *game.OmertaGame, logger *logrus.Logger) func(playerID uuid.UUID, ev game.GameEvent) {
	return func(playerID uuid.UUID, ev game.GameEvent) {
		var conn *websocket.Conn
		for _, p := range g.Players {
			if p.ID == playerID {
				if p.Connected && p.Conn != nil {
					conn = p.Conn
				}
				break
			}
		}
		if conn == nil {
			return
		}
		data, err := json.Marshal(ev)
		if err != nil {
			logger.Errorf("failed to marshal private event %s for game %s: %v", ev.Type, g.ID, err)
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				logger.Warnf("private write to %s failed in game %s: %v", playerID, g.ID, err)
			}
		}()
	}
}

// readSessionMessages reads structured commands until the socket closes.
// Engine errors are reported back to the sender; they never tear down the
// connection.
func readSessionMessages(ctx context.Context, c *websocket.Conn, g *game.OmertaGame, userID uuid.UUID, logger *logrus.Logger) error {
	for {
		msgType, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway ||
				strings.Contains(err.Error(), "context canceled") {
				return nil
			}
			return err
		}
		if msgType != websocket.MessageText {
			continue
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sendWsError(ctx, c, logger, "invalid JSON")
			continue
		}
		if msg.Action == "ping" {
			sendWsMessage(ctx, c, logger, map[string]string{"type": "pong"})
			continue
		}

		action := models.GameAction{ActionType: msg.Action, Payload: msg.Payload}
		if err := g.HandlePlayerAction(userID, action); err != nil {
			logger.Debugf("rejected action %q from %s in game %s: %v", msg.Action, userID, g.ID, err)
			sendWsError(ctx, c, logger, err.Error())
		}
	}
}

func sendWsMessage(ctx context.Context, c *websocket.Conn, logger *logrus.Logger, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		logger.Errorf("failed to marshal ws message: %v", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Write(writeCtx, websocket.MessageText, data); err != nil {
		logger.Warnf("ws write failed: %v", err)
	}
}

func sendWsError(ctx context.Context, c *websocket.Conn, logger *logrus.Logger, errorMsg string) {
	sendWsMessage(ctx, c, logger, map[string]interface{}{
		"type":    "error",
		"message": errorMsg,
	})
}

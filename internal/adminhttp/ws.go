package adminhttp

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// handleEventsWS upgrades to a websocket and forwards meeting-lifecycle
// events as they occur, following the teacher's writePump idiom: one
// goroutine owns the connection's writes, draining a per-subscriber
// channel instead of the teacher's per-connection send queue.
func (a *Admin) handleEventsWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adminhttp").Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	sessionID := uuid.NewString()
	log.Info().Str("module", "adminhttp").Str("session", sessionID).Msg("admin event feed connected")
	defer log.Info().Str("module", "adminhttp").Str("session", sessionID).Msg("admin event feed disconnected")

	events, unsubscribe := a.src.AdminSubscribe()
	defer unsubscribe()

	// A blocked write pump would leak the subscription if the peer never
	// reads; a background reader lets a Close from the peer be observed
	// promptly.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Str("module", "adminhttp").Msg("marshal event")
				continue
			}
			if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Debug().Err(err).Str("module", "adminhttp").Msg("ws write failed")
				return
			}
		}
	}
}

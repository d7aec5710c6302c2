package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

// StateMessage is one websocket push.
type StateMessage struct {
	Type      string      `json:"type"`
	Data      types.State `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

const writeWait = 10 * time.Second

// streamState pushes a state snapshot every interval while it changes, and
// at least once a second as a keep-alive. The stream never consumes done
// events, so it can run next to a polling host.
func (s *Server) streamState(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// the read side only watches for the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var last types.State
	var lastSent time.Time
	send := func(st types.State) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		msg := StateMessage{Type: "state", Data: st, Timestamp: time.Now().Unix()}
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug("websocket client dropped", "error", err)
			return false
		}
		last, lastSent = st, time.Now()
		return true
	}

	if !send(s.engine.GetState2()) {
		return
	}
	for {
		select {
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			st := s.engine.GetState2()
			if st == last && time.Since(lastSent) < time.Second {
				continue
			}
			if !send(st) {
				return
			}
		}
	}
}

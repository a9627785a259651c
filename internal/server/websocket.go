package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/cubeward/cubeward/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	eventBuffer    = 128
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Panel and browser share the host; cross-origin use goes through
		// the reverse proxy.
		return true
	},
}

// handleEvents upgrades the connection and relays lifecycle events from the
// bus until the client goes away. On connect the retained console tail is
// replayed so a freshly opened console view is not blank.
func (r *Router) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	// The tail is snapshotted before the subscription opens, so a console
	// line published in between is delivered once (live), never twice.
	tail := r.ctl.ConsoleLines()
	ch, cancel := r.ctl.Events().Subscribe(eventBuffer)
	defer cancel()

	done := make(chan struct{})
	go r.readLoop(conn, done)
	r.writeLoop(conn, tail, ch, done)
}

// readLoop discards client messages; its job is detecting disconnects and
// answering pings.
func (r *Router) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (r *Router) writeLoop(conn *websocket.Conn, tail []string, ch <-chan events.Event, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	// Console tail replay.
	for _, line := range tail {
		e := events.Event{
			At:      time.Now(),
			Kind:    events.KindConsoleLine,
			Role:    "server",
			Message: line,
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(e); err != nil {
			return
		}
	}

	for {
		select {
		case <-done:
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

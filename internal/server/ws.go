package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/agentd/pkg/protocol"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsSendBuffer   = 64
)

// wsClient pumps hub events to a single WebSocket connection. Events are
// buffered; a client that cannot keep up gets dropped.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan protocol.Event
	done chan struct{}
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan protocol.Event, wsSendBuffer),
		done: make(chan struct{}),
	}
}

// enqueue is the hub subscription callback. Never blocks the broadcaster.
func (c *wsClient) enqueue(event protocol.Event) {
	select {
	case c.send <- event:
	case <-c.done:
	default:
		slog.Warn("websocket client lagging, dropping event", "id", c.id, "event", event.Name)
	}
}

// run drives the write pump and a reader that only watches for close.
func (c *wsClient) run(ctx context.Context) {
	defer close(c.done)

	readerGone := make(chan struct{})
	go func() {
		defer close(readerGone)
		for {
			if _, _, err := c.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readerGone:
			return
		case event := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(event); err != nil {
				slog.Debug("websocket write failed", "id", c.id, "error", err)
				return
			}
			if event.Name == protocol.EventShutdown {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

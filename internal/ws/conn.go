package ws

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/xfrllc/frank/internal/protocol"
)

const writeTimeout = 10 * time.Second

// Sender writes one server event to the peer.
type Sender interface {
	Send(ev any) error
}

// Conn wraps a websocket connection with a write mutex so the event loop and
// background publishers (title announcements) can both write safely.
type Conn struct {
	ws  *websocket.Conn
	log zerolog.Logger

	writeMu sync.Mutex
}

func newConn(ws *websocket.Conn, log zerolog.Logger) *Conn {
	return &Conn{ws: ws, log: log}
}

// Send encodes and writes a server event.
func (c *Conn) Send(ev any) error {
	data, err := protocol.Encode(ev)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	return c.ws.Write(ctx, websocket.MessageText, data)
}

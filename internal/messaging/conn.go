package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/footron/footron/internal/protocol"
)

const writeTimeout = 5 * time.Second

// conn wraps a websocket with an unbounded outbound queue. The send pump is
// the socket's only writer; every forwarder goes through enqueue, which never
// blocks. Display traffic is small and bursty, so unbounded is safe and a
// full-buffer drop would lose protocol frames.
type conn struct {
	ws *websocket.Conn

	// writeMu serializes socket writes between the send pump and the
	// close-time flush; gorilla allows only one concurrent writer.
	writeMu sync.Mutex

	mu     sync.Mutex
	queue  [][]byte
	closed bool
	signal chan struct{}
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{ws: ws, signal: make(chan struct{}, 1)}
}

// send encodes and queues one frame. It reports false when the connection is
// already closed.
func (c *conn) send(m protocol.Message) bool {
	data, err := protocol.Marshal(m)
	if err != nil {
		return false
	}
	return c.enqueue(data)
}

func (c *conn) enqueue(data []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, data)
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
	return true
}

// sendPump drains the queue until the connection closes or a write fails.
func (c *conn) sendPump(ctx context.Context) error {
	for {
		select {
		case <-c.signal:
		case <-ctx.Done():
			return ctx.Err()
		}
		for {
			c.writeMu.Lock()
			c.mu.Lock()
			if len(c.queue) == 0 {
				c.mu.Unlock()
				c.writeMu.Unlock()
				break
			}
			data := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()

			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := c.ws.WriteMessage(websocket.TextMessage, data)
			c.writeMu.Unlock()
			if err != nil {
				return err
			}
		}
	}
}

// close flushes any queued frames, then closes the socket, unblocking both
// pumps. The flush matters for access refusals: the frame must reach the
// client before its connection is torn down. Safe to call more than once.
func (c *conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	c.writeMu.Lock()
	for _, data := range pending {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			break
		}
	}
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = c.ws.Close()
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

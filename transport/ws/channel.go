// Package ws adapts a gorilla/websocket connection into the relay's
// session channel capability.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-relay/errors"
)

const writeWait = 10 * time.Second

// Channel wraps one websocket connection behind a buffered send queue
// drained by a single write pump, since gorilla connections allow only
// one concurrent writer.
type Channel struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newChannel(conn *websocket.Conn, buffer int) *Channel {
	return &Channel{
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// Send queues a payload for the write pump. It blocks only until ctx
// expires, so a full queue surfaces as a delivery failure instead of
// stalling a broadcast.
func (c *Channel) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return errors.ErrChannelClosed
	default:
	}
	select {
	case <-c.done:
		return errors.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	case c.send <- payload:
		return nil
	}
}

// Close is safe to call from any goroutine and more than once.
func (c *Channel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// writePump is the single writer for the connection. A write failure
// closes the channel; the read loop notices and tears the session down.
func (c *Channel) writePump() {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// Package chat implements the room-scoped text chat channel. Unlike the
// call signaling channel it survives transient drops: it reconnects with
// bounded attempts, since a chat room outlives any single connection.
package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/KiranBaburaj/socialmedia/internal/util"
)

const (
	maxReconnectAttempts = 5
	reconnectDelay       = 5 * time.Second
)

// Incoming is a chat message delivered by the room channel.
type Incoming struct {
	Message   string `json:"message"`
	User      string `json:"user"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

type outgoing struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

// Channel is one room's chat connection, authorized by the bearer token
// passed as a query parameter at connect time.
type Channel struct {
	url       string
	onMessage func(Incoming)

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// Open connects the chat channel for roomID and starts delivering inbound
// messages to onMessage.
func Open(ctx context.Context, wsBase, roomID, token string, onMessage func(Incoming)) (*Channel, error) {
	c := &Channel{
		url:       fmt.Sprintf("%s/ws/chat/%s?token=%s", wsBase, roomID, token),
		onMessage: onMessage,
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open chat channel for room %s: %w", roomID, err)
	}
	c.conn = conn

	go c.run(ctx)
	return c, nil
}

// Send writes a message. A send while the channel is not connected is
// dropped with a warning; chat messages are persisted via the REST API, the
// socket is only the live path.
func (c *Channel) Send(content, userID string) {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()

	if closed || conn == nil {
		util.LogWarning("chat channel is not open, message not sent")
		return
	}
	if err := conn.WriteJSON(outgoing{Message: content, UserID: userID}); err != nil {
		util.LogWarning("failed to send chat message: %v", err)
	}
}

// Close shuts the channel down and stops reconnecting. Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) run(ctx context.Context) {
	attempts := 0
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		c.readLoop(conn)
		if c.isClosed() || ctx.Err() != nil {
			return
		}

		for {
			attempts++
			if attempts > maxReconnectAttempts {
				util.LogError("chat channel: max reconnect attempts reached, giving up")
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			if c.isClosed() {
				return
			}

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
			if err != nil {
				util.LogWarning("chat reconnect %d/%d failed: %v", attempts, maxReconnectAttempts, err)
				continue
			}
			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()
			attempts = 0
			break
		}
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		var msg Incoming
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Error != "" {
			util.LogWarning("chat error from server: %s", msg.Error)
			continue
		}
		if msg.Timestamp == "" {
			msg.Timestamp = time.Now().Format(time.RFC3339)
		}
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

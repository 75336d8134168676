// Package notify implements the best-effort incoming-call channel. It is
// scoped to a user identity rather than a room and lives for the whole
// login session, so unlike the call channel it reconnects itself.
package notify

import (
	"context"
	"encoding/json"
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

// IncomingCall is the payload of an incoming-call notice.
type IncomingCall struct {
	From   string `json:"from"`
	To     string `json:"to"`
	RoomID string `json:"roomId"`
}

type notice struct {
	Type string       `json:"type"`
	Data IncomingCall `json:"data"`
}

// Notifier pushes and receives incoming-call notices for one logged-in
// user. Delivery is not guaranteed: no acks, no retry of individual
// notices. Initialized at login, torn down at logout, independent of any
// individual call.
type Notifier struct {
	wsBase string
	userID string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	handler func(IncomingCall)
}

// Subscribe connects the user-scoped channel and invokes onIncomingCall for
// every notice addressed to userID. Notices addressed to anyone else are
// ignored. The connection is maintained in the background with bounded
// reconnection (5 attempts, fixed 5 s delay) until Close or ctx
// cancellation.
func Subscribe(ctx context.Context, wsBase, userID string, onIncomingCall func(IncomingCall)) (*Notifier, error) {
	n := &Notifier{wsBase: wsBase, userID: userID, handler: onIncomingCall}

	conn, err := n.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open notify channel: %w", err)
	}
	n.setConn(conn)

	go n.run(ctx)
	return n, nil
}

func (n *Notifier) dial(ctx context.Context) (*websocket.Conn, error) {
	url := fmt.Sprintf("%s/ws/notify/%s", n.wsBase, n.userID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	return conn, err
}

func (n *Notifier) setConn(conn *websocket.Conn) {
	n.mu.Lock()
	n.conn = conn
	n.mu.Unlock()
}

// Notify pushes an incoming-call notice toward target. Best-effort: a
// failure is logged, never surfaced, and never retried.
func (n *Notifier) Notify(targetUserID, roomID string) {
	msg := notice{
		Type: "incoming-call",
		Data: IncomingCall{From: n.userID, To: targetUserID, RoomID: roomID},
	}

	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()

	if conn == nil {
		util.LogWarning("notify channel not connected, call notice dropped")
		return
	}
	if err := conn.WriteJSON(msg); err != nil {
		util.LogWarning("failed to send call notice: %v", err)
	}
}

// Close tears the channel down and stops reconnecting. Idempotent.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}

func (n *Notifier) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// run reads notices and reconnects after drops. Attempts reset on every
// successful connection, mirroring a session that outlives transient
// network hiccups.
func (n *Notifier) run(ctx context.Context) {
	attempts := 0
	for {
		n.mu.Lock()
		conn := n.conn
		n.mu.Unlock()

		n.readLoop(conn)
		if n.isClosed() || ctx.Err() != nil {
			return
		}

		for {
			attempts++
			if attempts > maxReconnectAttempts {
				util.LogError("notify channel: max reconnect attempts reached, giving up")
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			if n.isClosed() {
				return
			}

			c, err := n.dial(ctx)
			if err != nil {
				util.LogWarning("notify channel reconnect %d/%d failed: %v", attempts, maxReconnectAttempts, err)
				continue
			}
			n.setConn(c)
			attempts = 0
			break
		}
	}
}

func (n *Notifier) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg notice
		if err := json.Unmarshal(data, &msg); err != nil {
			util.LogDebug("dropping malformed notice: %v", err)
			continue
		}
		if msg.Type != "incoming-call" {
			continue
		}
		// Not for us. The relay routes by user, but a stale or misdirected
		// notice must never trigger local state changes.
		if msg.Data.To != n.userID {
			util.LogDebug("ignoring call notice addressed to %s", msg.Data.To)
			continue
		}
		if n.handler != nil {
			n.handler(msg.Data)
		}
	}
}

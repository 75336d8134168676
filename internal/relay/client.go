// Package relay implements the signaling relay: room-scoped call channels
// forwarded verbatim between two participants, room-scoped chat channels
// with in-memory history, and user-scoped notify channels for incoming-call
// notices.
package relay

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP blobs fit comfortably.
	maxMessageSize = 64 * 1024
)

type clientKind int

const (
	kindCall clientKind = iota
	kindChat
	kindNotify
)

// client wraps one websocket connection attached to the hub.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	kind clientKind

	roomID string // call and chat clients
	userID string // notify clients

	// send is the outbound frame queue, drained by writePump.
	send chan []byte
}

// readPump forwards raw frames to the hub. At most one reader per
// connection; the hub never reads from the socket directly. Every hub send
// selects on quit so a stopped hub never strands a pump.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("unexpected websocket close")
			}
			return
		}
		select {
		case c.hub.inbound <- inboundFrame{from: c, data: data}:
		case <-c.hub.quit:
			return
		}
	}
}

// writePump drains the send queue and keeps the connection alive with
// pings. At most one writer per connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

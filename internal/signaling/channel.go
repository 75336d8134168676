package signaling

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/KiranBaburaj/socialmedia/internal/util"
)

// ErrChannelClosed is returned by Send once the channel has been closed.
// Envelopes sent before the dial completes are queued instead.
var ErrChannelClosed = errors.New("signaling: channel closed")

// Channel is the room-scoped signaling transport for exactly one call
// attempt. It dials in the background, queues outbound envelopes until the
// connection is open, and delivers inbound envelopes in arrival order to a
// single registered handler.
//
// A Channel does not reconnect: when the transport drops, the call is over.
type Channel struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	pending []Envelope
	closed  bool
	handler func(Envelope)
	onClose func(error)

	opened  chan struct{}
	dialErr error
}

// Open starts dialing the given WebSocket URL (including any token query
// parameter) and returns immediately. Send may be called right away; queued
// envelopes are flushed in order once the handshake completes. Use WaitOpen
// to learn the dial outcome.
func Open(ctx context.Context, url string) *Channel {
	c := &Channel{opened: make(chan struct{})}

	go func() {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)

		c.mu.Lock()
		if err == nil && c.closed {
			// Closed while the handshake was in flight.
			conn.Close()
			err = ErrChannelClosed
		}
		if err != nil {
			c.dialErr = err
			c.closed = true
			c.mu.Unlock()
			close(c.opened)
			return
		}

		c.conn = conn
		queued := c.pending
		c.pending = nil
		for _, env := range queued {
			if werr := conn.WriteJSON(env); werr != nil {
				util.LogWarning("failed to flush queued envelope (%s): %v", env.Type, werr)
			}
		}
		c.mu.Unlock()
		close(c.opened)

		c.readLoop(conn)
	}()

	return c
}

// WaitOpen blocks until the underlying transport is open, the dial failed,
// or ctx is cancelled.
func (c *Channel) WaitOpen(ctx context.Context) error {
	select {
	case <-c.opened:
		return c.dialErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnReceive registers the handler invoked for each inbound envelope, in
// channel arrival order. Exactly one handler is supported; registering again
// replaces the previous one.
func (c *Channel) OnReceive(fn func(Envelope)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

// OnClose registers fn, invoked at most once when the transport drops without
// a prior Close. A deliberate Close never fires it; neither does a failed
// dial, which WaitOpen already surfaces.
func (c *Channel) OnClose(fn func(error)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// Send writes an envelope to the channel. Before the transport is open the
// envelope is queued; after Close it returns ErrChannelClosed.
func (c *Channel) Send(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}
	if c.conn == nil {
		c.pending = append(c.pending, env)
		return nil
	}
	return c.conn.WriteJSON(env)
}

// Close tears down the transport. Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.pending = nil
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// readLoop delivers inbound envelopes until the connection drops. Delivery
// happens on this single goroutine, which is what guarantees per-channel
// ordering for the negotiation state machine.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.mu.Lock()
			wasClosed := c.closed
			c.closed = true
			closeFn := c.onClose
			c.mu.Unlock()
			if !wasClosed {
				util.LogDebug("signaling channel read ended: %v", err)
				if closeFn != nil {
					closeFn(err)
				}
			}
			return
		}

		c.mu.Lock()
		fn := c.handler
		c.mu.Unlock()
		if fn != nil {
			fn(env)
		}
	}
}

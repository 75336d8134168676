package relay

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
)

type inboundFrame struct {
	from *client
	data []byte
}

// Hub is the single goroutine owning all relay state: call rooms (two
// participants, frames forwarded verbatim to the other side in arrival
// order), chat rooms (broadcast plus history append), and the user to
// notify-connection map.
type Hub struct {
	store *Store

	register   chan *client
	unregister chan *client
	inbound    chan inboundFrame
	quit       chan struct{}

	callRooms map[string]map[*client]bool
	chatRooms map[string]map[*client]bool
	notify    map[string]*client
}

// NewHub creates a hub backed by the given store.
func NewHub(store *Store) *Hub {
	return &Hub{
		store:      store,
		register:   make(chan *client),
		unregister: make(chan *client),
		inbound:    make(chan inboundFrame, 64),
		quit:       make(chan struct{}),
		callRooms:  make(map[string]map[*client]bool),
		chatRooms:  make(map[string]map[*client]bool),
		notify:     make(map[string]*client),
	}
}

// Run processes registrations and frames until Stop. All maps are touched
// from this goroutine only.
func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			for _, room := range h.callRooms {
				for c := range room {
					close(c.send)
				}
			}
			for _, room := range h.chatRooms {
				for c := range room {
					close(c.send)
				}
			}
			for _, c := range h.notify {
				close(c.send)
			}
			return

		case c := <-h.register:
			h.add(c)

		case c := <-h.unregister:
			h.remove(c)

		case frame := <-h.inbound:
			h.route(frame)
		}
	}
}

// Stop shuts the hub down and closes every attached connection.
func (h *Hub) Stop() {
	close(h.quit)
}

func (h *Hub) add(c *client) {
	switch c.kind {
	case kindCall:
		room := h.callRooms[c.roomID]
		if room == nil {
			room = make(map[*client]bool)
			h.callRooms[c.roomID] = room
		}
		// A room holds exactly two participants.
		if len(room) >= 2 {
			log.Warn().Str("room", c.roomID).Msg("call room full, rejecting participant")
			close(c.send)
			c.conn.Close()
			return
		}
		room[c] = true
		log.Info().Str("room", c.roomID).Int("participants", len(room)).Msg("call participant joined")

	case kindChat:
		room := h.chatRooms[c.roomID]
		if room == nil {
			room = make(map[*client]bool)
			h.chatRooms[c.roomID] = room
		}
		room[c] = true
		log.Info().Str("room", c.roomID).Msg("chat participant joined")

	case kindNotify:
		if old, ok := h.notify[c.userID]; ok {
			close(old.send)
			old.conn.Close()
		}
		h.notify[c.userID] = c
		log.Info().Str("user", c.userID).Msg("notify channel attached")
	}
}

func (h *Hub) remove(c *client) {
	switch c.kind {
	case kindCall:
		if room, ok := h.callRooms[c.roomID]; ok && room[c] {
			delete(room, c)
			if len(room) == 0 {
				delete(h.callRooms, c.roomID)
			}
			close(c.send)
			log.Info().Str("room", c.roomID).Msg("call participant left")
		}
	case kindChat:
		if room, ok := h.chatRooms[c.roomID]; ok && room[c] {
			delete(room, c)
			if len(room) == 0 {
				delete(h.chatRooms, c.roomID)
			}
			close(c.send)
		}
	case kindNotify:
		if h.notify[c.userID] == c {
			delete(h.notify, c.userID)
			close(c.send)
		}
	}
}

func (h *Hub) route(frame inboundFrame) {
	switch frame.from.kind {
	case kindCall:
		h.forwardCall(frame)
	case kindChat:
		h.broadcastChat(frame)
	case kindNotify:
		h.routeNotice(frame)
	}
}

// forwardCall relays a signaling envelope to the other participant,
// untouched. The relay never inspects SDP or candidate payloads.
func (h *Hub) forwardCall(frame inboundFrame) {
	room, ok := h.callRooms[frame.from.roomID]
	if !ok {
		return
	}
	for peer := range room {
		if peer == frame.from {
			continue
		}
		select {
		case peer.send <- frame.data:
		default:
			log.Warn().Str("room", frame.from.roomID).Msg("call peer send queue full, dropping envelope")
		}
	}
}

type chatInbound struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

type chatOutbound struct {
	Message   string `json:"message"`
	User      string `json:"user"`
	Timestamp string `json:"timestamp"`
}

func (h *Hub) broadcastChat(frame inboundFrame) {
	var in chatInbound
	if err := json.Unmarshal(frame.data, &in); err != nil || in.Message == "" {
		log.Debug().Msg("dropping malformed chat frame")
		return
	}

	username := in.UserID
	if u, ok := h.store.UserByID(in.UserID); ok {
		username = u.Username
	}
	msg := h.store.AppendMessage(frame.from.roomID, in.UserID, in.Message)

	out, err := json.Marshal(chatOutbound{
		Message:   in.Message,
		User:      username,
		Timestamp: msg.Timestamp.Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	for peer := range h.chatRooms[frame.from.roomID] {
		select {
		case peer.send <- out:
		default:
			log.Warn().Str("room", frame.from.roomID).Msg("chat peer send queue full, dropping message")
		}
	}
}

type noticeFrame struct {
	Type string `json:"type"`
	Data struct {
		From   string `json:"from"`
		To     string `json:"to"`
		RoomID string `json:"roomId"`
	} `json:"data"`
}

// routeNotice pushes an incoming-call notice to the target user's notify
// connection. Best-effort: an offline target just misses the call.
func (h *Hub) routeNotice(frame inboundFrame) {
	var n noticeFrame
	if err := json.Unmarshal(frame.data, &n); err != nil || n.Type != "incoming-call" {
		return
	}

	target, ok := h.notify[n.Data.To]
	if !ok {
		log.Debug().Str("to", n.Data.To).Msg("call notice target offline, dropped")
		return
	}
	select {
	case target.send <- frame.data:
		log.Info().Str("from", n.Data.From).Str("to", n.Data.To).Str("room", n.Data.RoomID).Msg("call notice routed")
	default:
		log.Warn().Str("to", n.Data.To).Msg("notify send queue full, notice dropped")
	}
}

// Package signaling handles the room-scoped WebSocket channel used for
// call setup: readiness announcements, SDP offer/answer and trickled ICE
// candidates, one JSON envelope per message.
package signaling

import "encoding/json"

// Type identifies the kind of signaling envelope.
type Type string

const (
	TypeReady     Type = "ready"
	TypeOffer     Type = "offer"
	TypeAnswer    Type = "answer"
	TypeCandidate Type = "ice-candidate"
)

// Envelope is the JSON structure exchanged through the relay. Data is
// kind-specific and opaque to the relay; offer/answer and candidate payloads
// are passed through to the media layer unmodified.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ReadyData announces that a participant has local media and a session ready.
type ReadyData struct {
	IsCaller bool   `json:"isCaller"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
}

// NewEnvelope marshals payload and wraps it in an envelope of the given type.
func NewEnvelope(t Type, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Data: data}, nil
}

package call

import (
	"github.com/pion/webrtc/v4"

	"github.com/KiranBaburaj/socialmedia/internal/signaling"
)

// EventKind discriminates NegotiationEvent variants.
type EventKind int

const (
	// EventLocalMedia reports that local capture succeeded and the media
	// session exists.
	EventLocalMedia EventKind = iota

	// EventReady is the peer's readiness announcement.
	EventReady

	// EventOffer and EventAnswer carry a remote session description.
	EventOffer
	EventAnswer

	// EventCandidate carries a remote ICE candidate.
	EventCandidate

	// EventConnectivityChanged reports the transport connectivity state.
	EventConnectivityChanged

	// EventFail aborts the session with a terminal error.
	EventFail
)

func (k EventKind) String() string {
	switch k {
	case EventLocalMedia:
		return "local-media"
	case EventReady:
		return "ready"
	case EventOffer:
		return "offer"
	case EventAnswer:
		return "answer"
	case EventCandidate:
		return "ice-candidate"
	case EventConnectivityChanged:
		return "connectivity"
	case EventFail:
		return "fail"
	}
	return "unknown"
}

// NegotiationEvent is the single variant type every asynchronous source
// (channel envelopes, media callbacks, lifecycle actions) is funnelled into.
// One field per variant is set, matching Kind. Collapsing the callback soup
// into one dispatch path is what makes the machine testable without a real
// transport.
type NegotiationEvent struct {
	Kind      EventKind
	Ready     signaling.ReadyData
	Desc      webrtc.SessionDescription
	Candidate webrtc.ICECandidateInit
	PCState   webrtc.PeerConnectionState
	Reason    string
}

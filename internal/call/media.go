package call

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/KiranBaburaj/socialmedia/internal/util"
)

// trackSender is the slice of *webrtc.RTPSender the toggles drive.
type trackSender interface {
	ReplaceTrack(webrtc.TrackLocal) error
}

// localTrack pairs an outgoing sender with the captured track it transmits,
// so a paused track can be restored later.
type localTrack struct {
	kind   webrtc.RTPCodecType
	sender trackSender
	track  webrtc.TrackLocal
}

// Media wraps the local capture tracks and the PeerConnection for one call.
// It is owned exclusively by the lifecycle manager: created before
// negotiation begins, released exactly once on teardown.
type Media struct {
	pc          *webrtc.PeerConnection
	stopCapture func()

	mu      sync.Mutex
	tracks  []localTrack
	audioOn bool
	videoOn bool
	closed  bool
}

// NewMedia acquires microphone and camera (platform permitting, see the
// build-tagged initMediaPC variants) and creates the peer transport around
// them. Acquisition failure is fatal for the call attempt.
func NewMedia() (*Media, error) {
	pc, stop, tracks, err := initMediaPC()
	if err != nil {
		return nil, err
	}
	return &Media{pc: pc, stopCapture: stop, tracks: tracks, audioOn: true, videoOn: true}, nil
}

// ---------------------------------------------------------------------------
// MediaSession (driven by the negotiation state machine)
// ---------------------------------------------------------------------------

func (m *Media) CreateOffer() (webrtc.SessionDescription, error) {
	return m.pc.CreateOffer(nil)
}

func (m *Media) CreateAnswer() (webrtc.SessionDescription, error) {
	return m.pc.CreateAnswer(nil)
}

func (m *Media) SetLocalDescription(desc webrtc.SessionDescription) error {
	return m.pc.SetLocalDescription(desc)
}

func (m *Media) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return m.pc.SetRemoteDescription(desc)
}

func (m *Media) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return m.pc.AddICECandidate(cand)
}

func (m *Media) SignalingState() webrtc.SignalingState {
	return m.pc.SignalingState()
}

func (m *Media) HasRemoteDescription() bool {
	return m.pc.RemoteDescription() != nil
}

// ---------------------------------------------------------------------------
// Callbacks wired by the lifecycle manager
// ---------------------------------------------------------------------------

// OnICECandidate registers the trickle callback. A nil candidate marks the
// end of gathering.
func (m *Media) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	m.pc.OnICECandidate(fn)
}

// OnConnectionStateChange registers the connectivity callback.
func (m *Media) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	m.pc.OnConnectionStateChange(fn)
}

// OnTrack registers the remote-track callback.
func (m *Media) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	m.pc.OnTrack(fn)
}

// ---------------------------------------------------------------------------
// Local controls
// ---------------------------------------------------------------------------

// ToggleMute flips local audio transmission. Returns true when now muted.
func (m *Media) ToggleMute() bool {
	m.mu.Lock()
	m.audioOn = !m.audioOn
	muted := !m.audioOn
	m.setOutgoing(webrtc.RTPCodecTypeAudio, m.audioOn)
	m.mu.Unlock()
	util.LogInfo("microphone muted=%v", muted)
	return muted
}

// ToggleVideo flips local video transmission. Returns true when now disabled.
func (m *Media) ToggleVideo() bool {
	m.mu.Lock()
	m.videoOn = !m.videoOn
	disabled := !m.videoOn
	m.setOutgoing(webrtc.RTPCodecTypeVideo, m.videoOn)
	m.mu.Unlock()
	util.LogInfo("camera disabled=%v", disabled)
	return disabled
}

// setOutgoing pauses or restores every sender of the given kind. Replacing
// with nil keeps the sender and its m-line alive while stopping RTP, so the
// toggle needs no renegotiation. Called with mu held.
func (m *Media) setOutgoing(kind webrtc.RTPCodecType, on bool) {
	for _, lt := range m.tracks {
		if lt.kind != kind {
			continue
		}
		var next webrtc.TrackLocal
		if on {
			next = lt.track
		}
		if err := lt.sender.ReplaceTrack(next); err != nil {
			util.LogWarning("failed to toggle outgoing %s track: %v", kind, err)
		}
	}
}

// Close stops capture and closes the transport. Idempotent; safe to call
// from a partially torn-down state.
func (m *Media) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	stop := m.stopCapture
	m.stopCapture = nil
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	if m.pc != nil {
		return m.pc.Close()
	}
	return nil
}

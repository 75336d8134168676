// Package call implements the peer-to-peer call setup machinery: the
// per-call negotiation state machine, the media session handle around a
// Pion PeerConnection, and the lifecycle manager that binds them to a
// signaling channel.
package call

import (
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/KiranBaburaj/socialmedia/internal/signaling"
	"github.com/KiranBaburaj/socialmedia/internal/util"
)

// Role fixes which side creates the initial offer. Decided externally by
// whichever flow initiated versus joined the room; fixed for the lifetime of
// a session.
type Role int

const (
	RoleCaller Role = iota
	RoleCallee
)

func (r Role) String() string {
	if r == RoleCaller {
		return "caller"
	}
	return "callee"
}

// State is the lifecycle position of one negotiation session.
type State int

const (
	StateIdle State = iota
	StateAwaitingLocalMedia
	StateAwaitingPeerReady
	StateNegotiating
	StateConnected
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingLocalMedia:
		return "awaiting-local-media"
	case StateAwaitingPeerReady:
		return "awaiting-peer-ready"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	}
	return "unknown"
}

func (s State) terminal() bool { return s == StateClosed || s == StateError }

// MediaSession is the slice of the media layer the state machine drives.
// *Media implements it; tests substitute a fake with no real transport.
type MediaSession interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState
	HasRemoteDescription() bool
}

// maxAttempts bounds retries of transient operations (candidate application,
// envelope sends): immediate retries, no backoff, then log and continue.
const maxAttempts = 3

// Session is the negotiation state machine for one call attempt. All events
// are funnelled through a single loop goroutine, so no two transitions ever
// apply concurrently and envelopes are handled in arrival order.
type Session struct {
	role     Role
	media    MediaSession
	send     func(signaling.Envelope) error
	identity signaling.ReadyData

	events chan NegotiationEvent
	done   chan struct{}
	once   sync.Once

	// Mutated by the loop goroutine only; stateMu covers cross-goroutine reads.
	stateMu   sync.Mutex
	state     State
	errReason string
	onState   func(State)

	localReady  bool
	remoteReady bool
	offerSent   bool
	pending     []webrtc.ICECandidateInit
}

// SessionOption configures a Session at creation time.
type SessionOption func(*Session)

// WithIdentity attaches the local user's identity to the emitted Ready
// envelope.
func WithIdentity(userID, username string) SessionOption {
	return func(s *Session) {
		s.identity.UserID = userID
		s.identity.Username = username
	}
}

// WithStateFunc registers a callback invoked from the event loop after every
// state change.
func WithStateFunc(fn func(State)) SessionOption {
	return func(s *Session) { s.onState = fn }
}

// NewSession creates the state machine for one call attempt and starts its
// event loop. send is used for every outbound envelope; it is expected to
// queue until the channel opens.
func NewSession(role Role, media MediaSession, send func(signaling.Envelope) error, opts ...SessionOption) *Session {
	s := &Session{
		role:     role,
		media:    media,
		send:     send,
		identity: signaling.ReadyData{IsCaller: role == RoleCaller},
		events:   make(chan NegotiationEvent, 16),
		done:     make(chan struct{}),
		state:    StateAwaitingLocalMedia,
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.loop()
	return s
}

// State returns the last committed state.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// ErrReason returns the human-readable reason after a transition to
// StateError, empty otherwise.
func (s *Session) ErrReason() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.errReason
}

// Dispatch feeds one event into the machine. Events arriving after Close are
// discarded: a continuation resolving late must not mutate a dead session.
func (s *Session) Dispatch(ev NegotiationEvent) {
	select {
	case <-s.done:
	case s.events <- ev:
	}
}

// LocalMediaReady reports successful media acquisition and session creation.
func (s *Session) LocalMediaReady() {
	s.Dispatch(NegotiationEvent{Kind: EventLocalMedia})
}

// ConnectivityChanged reports a transport connectivity transition.
func (s *Session) ConnectivityChanged(st webrtc.PeerConnectionState) {
	s.Dispatch(NegotiationEvent{Kind: EventConnectivityChanged, PCState: st})
}

// Fail aborts the session with a terminal, user-visible reason.
func (s *Session) Fail(reason string) {
	s.Dispatch(NegotiationEvent{Kind: EventFail, Reason: reason})
}

// HandleEnvelope translates an inbound signaling envelope into an event.
// Malformed payloads are logged and dropped; the relay forwards peer input
// verbatim, so this is the trust boundary.
func (s *Session) HandleEnvelope(env signaling.Envelope) {
	switch env.Type {
	case signaling.TypeReady:
		var rd signaling.ReadyData
		if err := json.Unmarshal(env.Data, &rd); err != nil {
			util.LogWarning("dropping malformed ready payload: %v", err)
			return
		}
		s.Dispatch(NegotiationEvent{Kind: EventReady, Ready: rd})

	case signaling.TypeOffer, signaling.TypeAnswer:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(env.Data, &desc); err != nil {
			util.LogWarning("dropping malformed %s payload: %v", env.Type, err)
			return
		}
		kind := EventOffer
		if env.Type == signaling.TypeAnswer {
			kind = EventAnswer
		}
		s.Dispatch(NegotiationEvent{Kind: kind, Desc: desc})

	case signaling.TypeCandidate:
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(env.Data, &cand); err != nil {
			util.LogWarning("dropping malformed candidate payload: %v", err)
			return
		}
		s.Dispatch(NegotiationEvent{Kind: EventCandidate, Candidate: cand})

	default:
		util.LogDebug("ignoring unknown envelope type %q", env.Type)
	}
}

// Close moves the session to StateClosed and stops the loop. Idempotent;
// called on hang-up and teardown.
func (s *Session) Close() {
	s.once.Do(func() { close(s.done) })
}

// ---------------------------------------------------------------------------
// Event loop
// ---------------------------------------------------------------------------

func (s *Session) loop() {
	for {
		select {
		case <-s.done:
			s.stateMu.Lock()
			terminal := s.state.terminal()
			if !terminal {
				s.state = StateClosed
			}
			fn := s.onState
			st := s.state
			s.stateMu.Unlock()
			if !terminal && fn != nil {
				fn(st)
			}
			return
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *Session) setState(st State) {
	s.stateMu.Lock()
	changed := s.state != st
	s.state = st
	fn := s.onState
	s.stateMu.Unlock()
	if changed {
		util.LogDebug("negotiation state -> %s", st)
		if fn != nil {
			fn(st)
		}
	}
}

func (s *Session) fail(reason string) {
	s.stateMu.Lock()
	s.errReason = reason
	s.stateMu.Unlock()
	util.LogError("call failed: %s", reason)
	s.setState(StateError)
}

// handle applies one event. It runs on the loop goroutine only.
func (s *Session) handle(ev NegotiationEvent) {
	if s.State().terminal() {
		return
	}

	switch ev.Kind {
	case EventLocalMedia:
		s.handleLocalMedia()
	case EventReady:
		s.remoteReady = true
		s.maybeCreateOffer()
	case EventOffer:
		s.handleOffer(ev.Desc)
	case EventAnswer:
		s.handleAnswer(ev.Desc)
	case EventCandidate:
		s.handleCandidate(ev.Candidate)
	case EventConnectivityChanged:
		s.handleConnectivity(ev.PCState)
	case EventFail:
		s.fail(ev.Reason)
	}
}

func (s *Session) handleLocalMedia() {
	if s.localReady {
		return
	}
	s.localReady = true
	if s.State() == StateAwaitingLocalMedia {
		s.setState(StateAwaitingPeerReady)
	}
	s.sendEnvelope(signaling.TypeReady, s.identity)
	s.maybeCreateOffer()
}

// maybeCreateOffer starts negotiation once both sides are ready. Only the
// caller offers, and only once: redundant readiness signals re-trigger this
// path, so the offerSent guard is load-bearing.
func (s *Session) maybeCreateOffer() {
	if s.role != RoleCaller || !s.localReady || !s.remoteReady || s.offerSent {
		return
	}
	s.offerSent = true
	s.setState(StateNegotiating)

	offer, err := s.media.CreateOffer()
	if err != nil {
		s.fail("failed to create offer: " + err.Error())
		return
	}
	if err := s.media.SetLocalDescription(offer); err != nil {
		s.fail("failed to apply local offer: " + err.Error())
		return
	}
	s.sendEnvelope(signaling.TypeOffer, offer)
}

// handleOffer is the callee path. An offer is only acceptable while the
// media session is stable; anything else is glare and the conflicting offer
// is dropped without touching the pending candidates or the local
// description. No rollback arbitration is attempted.
func (s *Session) handleOffer(desc webrtc.SessionDescription) {
	if s.media.SignalingState() != webrtc.SignalingStateStable {
		util.LogDebug("discarding offer received in state %s", s.media.SignalingState())
		return
	}
	s.setState(StateNegotiating)

	if err := s.media.SetRemoteDescription(desc); err != nil {
		s.fail("failed to apply remote offer: " + err.Error())
		return
	}
	s.flushPending()

	answer, err := s.media.CreateAnswer()
	if err != nil {
		s.fail("failed to create answer: " + err.Error())
		return
	}
	if err := s.media.SetLocalDescription(answer); err != nil {
		s.fail("failed to apply local answer: " + err.Error())
		return
	}
	s.sendEnvelope(signaling.TypeAnswer, answer)
}

// handleAnswer is the caller path. An answer while already stable means a
// retransmit or a stale duplicate; discard, state unchanged.
func (s *Session) handleAnswer(desc webrtc.SessionDescription) {
	if s.media.SignalingState() == webrtc.SignalingStateStable {
		util.LogDebug("discarding stale answer")
		return
	}
	if err := s.media.SetRemoteDescription(desc); err != nil {
		s.fail("failed to apply remote answer: " + err.Error())
		return
	}
	s.flushPending()
}

// handleCandidate applies a remote candidate, or queues it while no remote
// description exists yet.
func (s *Session) handleCandidate(cand webrtc.ICECandidateInit) {
	if !s.media.HasRemoteDescription() {
		s.pending = append(s.pending, cand)
		return
	}
	s.applyCandidate(cand)
}

// flushPending applies queued candidates in receipt order. Best-effort:
// individual failures are logged and do not abort the flush.
func (s *Session) flushPending() {
	queued := s.pending
	s.pending = nil
	for _, cand := range queued {
		s.applyCandidate(cand)
	}
}

func (s *Session) applyCandidate(cand webrtc.ICECandidateInit) {
	var err error
	for i := 0; i < maxAttempts; i++ {
		if err = s.media.AddICECandidate(cand); err == nil {
			return
		}
	}
	util.LogWarning("failed to apply ICE candidate after %d attempts: %v", maxAttempts, err)
}

func (s *Session) handleConnectivity(st webrtc.PeerConnectionState) {
	switch st {
	case webrtc.PeerConnectionStateConnected:
		s.setState(StateConnected)
	case webrtc.PeerConnectionStateFailed:
		s.fail("peer connection failed")
	}
}

// sendEnvelope marshals and sends with bounded retry; a send that still
// fails is logged and the call continues degraded.
func (s *Session) sendEnvelope(t signaling.Type, payload any) {
	env, err := signaling.NewEnvelope(t, payload)
	if err != nil {
		util.LogWarning("failed to encode %s envelope: %v", t, err)
		return
	}
	for i := 0; i < maxAttempts; i++ {
		if err = s.send(env); err == nil {
			return
		}
	}
	util.LogWarning("failed to send %s envelope after %d attempts: %v", t, maxAttempts, err)
}

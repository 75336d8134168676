package call

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/KiranBaburaj/socialmedia/internal/signaling"
)

// Compile-time interface check.
var _ MediaSession = (*fakeMedia)(nil)

// fakeMedia implements MediaSession with no real transport. It models the
// signaling-state transitions a PeerConnection would make in response to
// local and remote descriptions.
type fakeMedia struct {
	mu sync.Mutex

	sigState  webrtc.SignalingState
	remoteSet bool

	offers      int
	answers     int
	remoteDescs []webrtc.SessionDescription
	candidates  []webrtc.ICECandidateInit

	candidateErr      error
	candidateAttempts int
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{sigState: webrtc.SignalingStateStable}
}

func (m *fakeMedia) CreateOffer() (webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", m.offers)}, nil
}

func (m *fakeMedia) CreateAnswer() (webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", m.answers)}, nil
}

func (m *fakeMedia) SetLocalDescription(desc webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if desc.Type == webrtc.SDPTypeOffer {
		m.sigState = webrtc.SignalingStateHaveLocalOffer
	} else {
		m.sigState = webrtc.SignalingStateStable
	}
	return nil
}

func (m *fakeMedia) SetRemoteDescription(desc webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remoteDescs = append(m.remoteDescs, desc)
	m.remoteSet = true
	if desc.Type == webrtc.SDPTypeOffer {
		m.sigState = webrtc.SignalingStateHaveRemoteOffer
	} else {
		m.sigState = webrtc.SignalingStateStable
	}
	return nil
}

func (m *fakeMedia) AddICECandidate(cand webrtc.ICECandidateInit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidateAttempts++
	if m.candidateErr != nil {
		return m.candidateErr
	}
	m.candidates = append(m.candidates, cand)
	return nil
}

func (m *fakeMedia) SignalingState() webrtc.SignalingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sigState
}

func (m *fakeMedia) HasRemoteDescription() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteSet
}

func (m *fakeMedia) appliedCandidates() []webrtc.ICECandidateInit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(m.candidates))
	copy(out, m.candidates)
	return out
}

func (m *fakeMedia) counts() (offers, answers, remotes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offers, m.answers, len(m.remoteDescs)
}

// sink records every envelope a session sends.
type sink struct {
	mu   sync.Mutex
	envs []signaling.Envelope
}

func (s *sink) send(env signaling.Envelope) error {
	s.mu.Lock()
	s.envs = append(s.envs, env)
	s.mu.Unlock()
	return nil
}

func (s *sink) countByType(t signaling.Type) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, env := range s.envs {
		if env.Type == t {
			n++
		}
	}
	return n
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// settle gives the event loop time to drain anything already dispatched.
func settle() { time.Sleep(50 * time.Millisecond) }

func TestCalleeNeverOffers(t *testing.T) {
	media := newFakeMedia()
	out := &sink{}
	sess := NewSession(RoleCallee, media, out.send)
	defer sess.Close()

	sess.LocalMediaReady()
	sess.Dispatch(NegotiationEvent{Kind: EventReady, Ready: signaling.ReadyData{IsCaller: true}})
	settle()

	offers, _, _ := media.counts()
	if offers != 0 {
		t.Fatalf("callee created %d offers, want 0", offers)
	}
	if got := out.countByType(signaling.TypeOffer); got != 0 {
		t.Fatalf("callee sent %d offers, want 0", got)
	}
	if st := sess.State(); st != StateAwaitingPeerReady {
		t.Fatalf("callee state = %s, want %s", st, StateAwaitingPeerReady)
	}
}

func TestCallerOffersExactlyOnce(t *testing.T) {
	media := newFakeMedia()
	out := &sink{}
	sess := NewSession(RoleCaller, media, out.send)
	defer sess.Close()

	sess.LocalMediaReady()
	// Redundant readiness signals must not mint extra offers.
	for i := 0; i < 3; i++ {
		sess.Dispatch(NegotiationEvent{Kind: EventReady})
	}

	waitFor(t, "offer to be sent", func() bool {
		return out.countByType(signaling.TypeOffer) >= 1
	})
	settle()

	if got := out.countByType(signaling.TypeOffer); got != 1 {
		t.Fatalf("caller sent %d offers, want exactly 1", got)
	}
	offers, _, _ := media.counts()
	if offers != 1 {
		t.Fatalf("caller created %d offers, want exactly 1", offers)
	}
	if got := out.countByType(signaling.TypeReady); got != 1 {
		t.Fatalf("caller sent %d ready envelopes, want 1", got)
	}
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	media := newFakeMedia()
	out := &sink{}
	sess := NewSession(RoleCallee, media, out.send)
	defer sess.Close()

	sess.LocalMediaReady()
	cands := []webrtc.ICECandidateInit{
		{Candidate: "candidate-a"},
		{Candidate: "candidate-b"},
		{Candidate: "candidate-c"},
	}
	for _, c := range cands {
		sess.Dispatch(NegotiationEvent{Kind: EventCandidate, Candidate: c})
	}
	settle()

	if got := media.appliedCandidates(); len(got) != 0 {
		t.Fatalf("applied %d candidates before remote description, want 0", len(got))
	}

	sess.Dispatch(NegotiationEvent{Kind: EventOffer, Desc: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "o"}})
	waitFor(t, "answer to be sent", func() bool {
		return out.countByType(signaling.TypeAnswer) == 1
	})

	got := media.appliedCandidates()
	if len(got) != len(cands) {
		t.Fatalf("applied %d candidates after remote description, want %d", len(got), len(cands))
	}
	for i := range cands {
		if got[i].Candidate != cands[i].Candidate {
			t.Fatalf("candidate %d applied out of order: got %q, want %q", i, got[i].Candidate, cands[i].Candidate)
		}
	}

	// Once the remote description exists, candidates apply immediately.
	sess.Dispatch(NegotiationEvent{Kind: EventCandidate, Candidate: webrtc.ICECandidateInit{Candidate: "candidate-d"}})
	waitFor(t, "late candidate to apply", func() bool {
		return len(media.appliedCandidates()) == len(cands)+1
	})
}

func TestGlareOfferDiscarded(t *testing.T) {
	media := newFakeMedia()
	out := &sink{}
	sess := NewSession(RoleCaller, media, out.send)
	defer sess.Close()

	sess.LocalMediaReady()
	sess.Dispatch(NegotiationEvent{Kind: EventReady})
	waitFor(t, "local offer to be sent", func() bool {
		return out.countByType(signaling.TypeOffer) == 1
	})

	// A conflicting offer arrives while our own offer is outstanding.
	sess.Dispatch(NegotiationEvent{Kind: EventOffer, Desc: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "glare"}})
	settle()

	_, answers, remotes := media.counts()
	if remotes != 0 {
		t.Fatalf("remote description applied %d times during glare, want 0", remotes)
	}
	if answers != 0 {
		t.Fatalf("answer created during glare, want none")
	}
	if st := sess.State(); st == StateError {
		t.Fatalf("glare moved session to error: %s", sess.ErrReason())
	}
}

func TestStaleAnswerDiscarded(t *testing.T) {
	media := newFakeMedia()
	out := &sink{}
	sess := NewSession(RoleCaller, media, out.send)
	defer sess.Close()

	sess.LocalMediaReady()
	sess.Dispatch(NegotiationEvent{Kind: EventReady})
	waitFor(t, "offer to be sent", func() bool {
		return out.countByType(signaling.TypeOffer) == 1
	})

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "a1"}
	sess.Dispatch(NegotiationEvent{Kind: EventAnswer, Desc: answer})
	waitFor(t, "answer to apply", func() bool {
		_, _, remotes := media.counts()
		return remotes == 1
	})

	// A duplicate answer while stable is a retransmit; discard it.
	sess.Dispatch(NegotiationEvent{Kind: EventAnswer, Desc: answer})
	settle()

	_, _, remotes := media.counts()
	if remotes != 1 {
		t.Fatalf("remote description applied %d times, want 1 (stale answer must be dropped)", remotes)
	}
	if st := sess.State(); st == StateError {
		t.Fatalf("stale answer moved session to error: %s", sess.ErrReason())
	}
}

// pipe links a session's outbound envelopes to its peer's inbound handler.
type pipe struct {
	mu   sync.Mutex
	peer *Session
	sink
}

func (p *pipe) link(peer *Session) {
	p.mu.Lock()
	p.peer = peer
	p.mu.Unlock()
}

func (p *pipe) send(env signaling.Envelope) error {
	p.sink.send(env)
	p.mu.Lock()
	peer := p.peer
	p.mu.Unlock()
	if peer != nil {
		peer.HandleEnvelope(env)
	}
	return nil
}

func TestTwoSessionsNegotiate(t *testing.T) {
	callerMedia := newFakeMedia()
	calleeMedia := newFakeMedia()
	callerPipe := &pipe{}
	calleePipe := &pipe{}

	caller := NewSession(RoleCaller, callerMedia, callerPipe.send)
	defer caller.Close()
	callee := NewSession(RoleCallee, calleeMedia, calleePipe.send)
	defer callee.Close()
	callerPipe.link(callee)
	calleePipe.link(caller)

	callee.LocalMediaReady()
	caller.LocalMediaReady()

	// Offer flows to the callee, answer flows back, both sides end stable
	// with a remote description.
	waitFor(t, "callee to answer", func() bool {
		_, answers, _ := calleeMedia.counts()
		return answers == 1
	})
	waitFor(t, "caller to apply the answer", func() bool {
		return callerMedia.HasRemoteDescription()
	})

	offers, _, _ := callerMedia.counts()
	if offers != 1 {
		t.Fatalf("caller created %d offers, want 1", offers)
	}
	offers, _, _ = calleeMedia.counts()
	if offers != 0 {
		t.Fatalf("callee created %d offers, want 0", offers)
	}

	caller.ConnectivityChanged(webrtc.PeerConnectionStateConnected)
	callee.ConnectivityChanged(webrtc.PeerConnectionStateConnected)
	waitFor(t, "caller to reach connected", func() bool {
		return caller.State() == StateConnected
	})
	waitFor(t, "callee to reach connected", func() bool {
		return callee.State() == StateConnected
	})
}

func TestFailIsTerminal(t *testing.T) {
	media := newFakeMedia()
	out := &sink{}
	sess := NewSession(RoleCaller, media, out.send)
	defer sess.Close()

	sess.Fail("camera unplugged")
	waitFor(t, "error state", func() bool {
		return sess.State() == StateError
	})
	if got := sess.ErrReason(); got != "camera unplugged" {
		t.Fatalf("ErrReason = %q, want %q", got, "camera unplugged")
	}

	// Events after the terminal state must not resurrect the session.
	sess.LocalMediaReady()
	sess.Dispatch(NegotiationEvent{Kind: EventReady})
	settle()
	if got := out.countByType(signaling.TypeOffer); got != 0 {
		t.Fatalf("terminal session sent %d offers, want 0", got)
	}
	if st := sess.State(); st != StateError {
		t.Fatalf("state = %s after terminal error, want %s", st, StateError)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	media := newFakeMedia()
	out := &sink{}
	sess := NewSession(RoleCaller, media, out.send)

	sess.Close()
	sess.Close()
	sess.Close()

	waitFor(t, "closed state", func() bool {
		return sess.State() == StateClosed
	})

	// Dispatch after close is a no-op, not a deadlock.
	done := make(chan struct{})
	go func() {
		sess.LocalMediaReady()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked after Close")
	}
}

func TestCandidateApplicationRetriesAreBounded(t *testing.T) {
	media := newFakeMedia()
	media.candidateErr = errors.New("transient failure")
	out := &sink{}
	sess := NewSession(RoleCallee, media, out.send)
	defer sess.Close()

	sess.LocalMediaReady()
	sess.Dispatch(NegotiationEvent{Kind: EventOffer, Desc: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "o"}})
	waitFor(t, "answer to be sent", func() bool {
		return out.countByType(signaling.TypeAnswer) == 1
	})

	sess.Dispatch(NegotiationEvent{Kind: EventCandidate, Candidate: webrtc.ICECandidateInit{Candidate: "x"}})
	waitFor(t, "bounded retries", func() bool {
		media.mu.Lock()
		defer media.mu.Unlock()
		return media.candidateAttempts == maxAttempts
	})
	settle()

	media.mu.Lock()
	attempts := media.candidateAttempts
	media.mu.Unlock()
	if attempts != maxAttempts {
		t.Fatalf("candidate application attempted %d times, want %d", attempts, maxAttempts)
	}
	if st := sess.State(); st == StateError {
		t.Fatalf("candidate failure must not be terminal, got error: %s", sess.ErrReason())
	}
}

package call

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/KiranBaburaj/socialmedia/internal/signaling"
)

// Compile-time interface checks.
var (
	_ mediaHandle   = (*fakeHandle)(nil)
	_ signalChannel = (*fakeChannel)(nil)
)

// fakeHandle extends fakeMedia with the lifecycle surface.
type fakeHandle struct {
	*fakeMedia

	mu          sync.Mutex
	onCandidate func(*webrtc.ICECandidate)
	onPCState   func(webrtc.PeerConnectionState)
	muted       bool
	videoOff    bool
	closes      int
}

func (h *fakeHandle) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	h.mu.Lock()
	h.onCandidate = fn
	h.mu.Unlock()
}

func (h *fakeHandle) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	h.mu.Lock()
	h.onPCState = fn
	h.mu.Unlock()
}

func (h *fakeHandle) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (h *fakeHandle) ToggleMute() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.muted = !h.muted
	return h.muted
}

func (h *fakeHandle) ToggleVideo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.videoOff = !h.videoOff
	return h.videoOff
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	return nil
}

func (h *fakeHandle) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

// fakeChannel records sends and closes, never touching a socket.
type fakeChannel struct {
	sink

	mu      sync.Mutex
	handler func(signaling.Envelope)
	onClose func(error)
	closes  int
}

func (c *fakeChannel) Send(env signaling.Envelope) error { return c.sink.send(env) }

func (c *fakeChannel) OnReceive(fn func(signaling.Envelope)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

func (c *fakeChannel) OnClose(fn func(error)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *fakeChannel) WaitOpen(context.Context) error { return nil }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func newFakeCall() (*Call, *fakeHandle, *fakeChannel) {
	h := &fakeHandle{fakeMedia: newFakeMedia()}
	ch := &fakeChannel{}
	c := newCall(Options{RoomID: "room-1", Role: RoleCaller, UserID: "u1", Username: "alice"}, h, ch)
	return c, h, ch
}

func TestHangUpReleasesEverything(t *testing.T) {
	c, h, ch := newFakeCall()

	c.HangUp()

	waitFor(t, "session to close", func() bool {
		return c.State() == StateClosed
	})
	if got := h.closeCount(); got != 1 {
		t.Fatalf("media closed %d times, want 1", got)
	}
	if got := ch.closeCount(); got != 1 {
		t.Fatalf("channel closed %d times, want 1", got)
	}
}

func TestHangUpIsRepeatable(t *testing.T) {
	c, h, _ := newFakeCall()

	c.HangUp()
	c.HangUp()
	c.HangUp()

	waitFor(t, "session to close", func() bool {
		return c.State() == StateClosed
	})
	// The media handle tolerates repeated Close; the session must as well.
	if got := h.closeCount(); got != 3 {
		t.Fatalf("media Close called %d times, want 3", got)
	}
}

func TestLocalCandidatesSentImmediately(t *testing.T) {
	c, h, ch := newFakeCall()
	defer c.HangUp()

	// No negotiation has happened; gathered candidates still go out.
	h.mu.Lock()
	emit := h.onCandidate
	h.mu.Unlock()
	if emit == nil {
		t.Fatal("no candidate callback registered")
	}
	emit(nil) // end-of-gathering marker, must be ignored
	settle()
	if got := ch.countByType(signaling.TypeCandidate); got != 0 {
		t.Fatalf("nil candidate produced %d envelopes, want 0", got)
	}
}

func TestInboundEnvelopesReachSession(t *testing.T) {
	c, h, ch := newFakeCall()
	defer c.HangUp()

	ch.mu.Lock()
	deliver := ch.handler
	ch.mu.Unlock()
	if deliver == nil {
		t.Fatal("no receive handler registered")
	}

	c.sess.LocalMediaReady()
	env, err := signaling.NewEnvelope(signaling.TypeReady, signaling.ReadyData{IsCaller: false})
	if err != nil {
		t.Fatal(err)
	}
	deliver(env)

	waitFor(t, "offer to be sent", func() bool {
		return ch.countByType(signaling.TypeOffer) == 1
	})
	offers, _, _ := h.counts()
	if offers != 1 {
		t.Fatalf("caller created %d offers, want 1", offers)
	}
}

func TestChannelDropFailsSession(t *testing.T) {
	c, _, ch := newFakeCall()
	defer c.HangUp()

	c.sess.LocalMediaReady()
	waitFor(t, "negotiation to start", func() bool {
		return c.State() == StateAwaitingPeerReady
	})

	ch.mu.Lock()
	report := ch.onClose
	ch.mu.Unlock()
	if report == nil {
		t.Fatal("no close callback registered on the channel")
	}

	// Mid-setup transport loss must surface, not hang in AwaitingPeerReady.
	report(errors.New("connection reset by peer"))
	waitFor(t, "error state", func() bool {
		return c.State() == StateError
	})
	if reason := c.ErrReason(); !strings.Contains(reason, "signaling channel lost") {
		t.Fatalf("ErrReason = %q, want channel-loss reason", reason)
	}
}

func TestConnectivityCallbackDrivesState(t *testing.T) {
	c, h, _ := newFakeCall()
	defer c.HangUp()

	h.mu.Lock()
	report := h.onPCState
	h.mu.Unlock()
	if report == nil {
		t.Fatal("no connection state callback registered")
	}

	report(webrtc.PeerConnectionStateConnected)
	waitFor(t, "connected state", func() bool {
		return c.State() == StateConnected
	})

	report(webrtc.PeerConnectionStateFailed)
	waitFor(t, "error state", func() bool {
		return c.State() == StateError
	})
	if c.ErrReason() == "" {
		t.Fatal("ErrReason empty after transport failure")
	}
}

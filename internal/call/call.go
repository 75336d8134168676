package call

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/KiranBaburaj/socialmedia/internal/signaling"
	"github.com/KiranBaburaj/socialmedia/internal/util"
)

// mediaHandle is everything the lifecycle manager needs from the media
// layer. *Media implements it.
type mediaHandle interface {
	MediaSession
	OnICECandidate(func(*webrtc.ICECandidate))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	ToggleMute() bool
	ToggleVideo() bool
	Close() error
}

// signalChannel is the slice of signaling.Channel the lifecycle manager
// uses.
type signalChannel interface {
	Send(signaling.Envelope) error
	OnReceive(func(signaling.Envelope))
	OnClose(func(error))
	WaitOpen(context.Context) error
	Close() error
}

// Options parameterize one call attempt.
type Options struct {
	WSBase   string // e.g. ws://localhost:8000
	RoomID   string
	Role     Role
	UserID   string
	Username string

	// OnState, if set, observes every negotiation state change.
	OnState func(State)
}

// Call owns one call attempt end to end: the media handle, the room-scoped
// signaling channel and the negotiation session. At most one Call exists per
// room per client; nothing here is shared across attempts.
type Call struct {
	roomID string
	media  mediaHandle
	ch     signalChannel
	sess   *Session
}

// Start acquires local media, opens the room channel and kicks off
// negotiation. Media-acquisition failure and channel-open failure are fatal:
// the attempt is aborted with no retry.
func Start(ctx context.Context, opts Options) (*Call, error) {
	ch := signaling.Open(ctx, fmt.Sprintf("%s/ws/video_call/%s", opts.WSBase, opts.RoomID))

	media, err := NewMedia()
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("media acquisition failed: %w", err)
	}

	c := newCall(opts, media, ch)

	if err := ch.WaitOpen(ctx); err != nil {
		c.HangUp()
		return nil, fmt.Errorf("failed to open signaling channel for room %s: %w", opts.RoomID, err)
	}

	c.sess.LocalMediaReady()
	return c, nil
}

// newCall wires media, channel and session together. Split from Start so
// tests can inject fakes for both collaborators.
func newCall(opts Options, media mediaHandle, ch signalChannel) *Call {
	c := &Call{roomID: opts.RoomID, media: media, ch: ch}

	sessOpts := []SessionOption{WithIdentity(opts.UserID, opts.Username)}
	if opts.OnState != nil {
		sessOpts = append(sessOpts, WithStateFunc(opts.OnState))
	}
	c.sess = NewSession(opts.Role, media, ch.Send, sessOpts...)

	ch.OnReceive(c.sess.HandleEnvelope)

	// A dropped room channel is terminal. ICE may never have started, so
	// waiting for a transport failure report would hang the session.
	ch.OnClose(func(err error) {
		c.sess.Fail("signaling channel lost: " + err.Error())
	})

	// Locally gathered candidates go out immediately, whatever the
	// negotiation state. Bounded retry, then log and continue: the call may
	// still connect via other candidates.
	media.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		env, err := signaling.NewEnvelope(signaling.TypeCandidate, cand.ToJSON())
		if err != nil {
			util.LogWarning("failed to encode local candidate: %v", err)
			return
		}
		for i := 0; i < maxAttempts; i++ {
			if err = ch.Send(env); err == nil {
				return
			}
		}
		util.LogWarning("failed to send local candidate after %d attempts: %v", maxAttempts, err)
	})

	media.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		util.LogDebug("peer connection state: %s", st)
		c.sess.ConnectivityChanged(st)
	})

	media.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		util.LogInfo("remote %s track arrived (codec %s)", track.Kind(), track.Codec().MimeType)
	})

	return c
}

// RoomID returns the room this attempt is scoped to.
func (c *Call) RoomID() string { return c.roomID }

// State returns the current negotiation state.
func (c *Call) State() State { return c.sess.State() }

// ErrReason returns the terminal error reason, if any.
func (c *Call) ErrReason() string { return c.sess.ErrReason() }

// ToggleMute pauses or restores outgoing audio. No renegotiation.
func (c *Call) ToggleMute() bool { return c.media.ToggleMute() }

// ToggleVideo pauses or restores outgoing video. No renegotiation.
func (c *Call) ToggleVideo() bool { return c.media.ToggleVideo() }

// HangUp tears the attempt down: session released, local tracks stopped,
// transport and channel closed. Runs on every exit path and is safe to call
// repeatedly or from a partially torn-down state.
func (c *Call) HangUp() {
	c.sess.Close()
	if err := c.ch.Close(); err != nil {
		util.LogDebug("closing signaling channel: %v", err)
	}
	if err := c.media.Close(); err != nil {
		util.LogDebug("closing media session: %v", err)
	}
}

//go:build linux

package call

import (
	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/KiranBaburaj/socialmedia/internal/util"
)

// initMediaPC creates the PeerConnection and captures camera+microphone via
// pion/mediadevices (V4L2 + malgo). GetUserMedia fails as a unit when either
// track can't be opened, so attempts degrade: video+audio, then video-only,
// then audio-only, then receive-only.
func initMediaPC() (*webrtc.PeerConnection, func(), []localTrack, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, nil, err
	}

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	codecSelector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	pc, err := api.NewPeerConnection(peerConfiguration())
	if err != nil {
		return nil, nil, nil, err
	}

	type attempt struct {
		video bool
		audio bool
		label string
	}
	for _, a := range []attempt{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	} {
		constraints := mediadevices.MediaStreamConstraints{Codec: codecSelector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Raw frame formats only. Some cameras expose an MJPEG node
				// producing malformed frames that poison the VP8 encoder.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			util.LogDebug("GetUserMedia (%s) failed: %v", a.label, err)
			continue
		}

		tracks := stream.GetTracks()
		outgoing := make([]localTrack, 0, len(tracks))
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					util.LogDebug("local track ended: %v", err)
				}
			})
			sender, err := pc.AddTrack(track)
			if err != nil {
				util.LogWarning("failed to attach local track: %v", err)
				continue
			}
			outgoing = append(outgoing, localTrack{kind: track.Kind(), sender: sender, track: track})
		}

		util.LogInfo("local media captured (%s), %d tracks", a.label, len(tracks))
		stop := func() {
			for _, t := range tracks {
				t.Close()
			}
		}
		return pc, stop, outgoing, nil
	}

	// No usable capture device. The call can still receive remote media.
	util.LogWarning("no local media available, continuing receive-only")
	if err := addRecvOnlyTransceivers(pc); err != nil {
		pc.Close()
		return nil, nil, nil, err
	}
	return pc, nil, nil, nil
}

//go:build !linux

package call

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// initMediaPC creates a receive-only PeerConnection on platforms without
// pion/mediadevices driver support (capture needs V4L2/malgo, Linux only).
func initMediaPC() (*webrtc.PeerConnection, func(), []localTrack, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, nil, err
	}

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
	if err := addRecvOnlyTransceivers(pc); err != nil {
		pc.Close()
		return nil, nil, nil, err
	}
	return pc, nil, nil, nil
}

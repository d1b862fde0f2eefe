package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// Capturer acquires local media.
type Capturer interface {
	Capture(ctx context.Context, c Constraints) (*LocalStream, error)
}

// CapturerFunc adapts a function to Capturer.
type CapturerFunc func(ctx context.Context, c Constraints) (*LocalStream, error)

func (f CapturerFunc) Capture(ctx context.Context, c Constraints) (*LocalStream, error) {
	return f(ctx, c)
}

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const opusFrame = 20 * time.Millisecond

// SyntheticCapturer produces device-less tracks for headless participants. The audio
// track carries Opus silence; the video track is negotiated but idle.
type SyntheticCapturer struct {
	// Err, when set, is returned by every Capture call.
	Err error
}

func NewSyntheticCapturer() *SyntheticCapturer {
	return &SyntheticCapturer{}
}

func (c *SyntheticCapturer) Capture(ctx context.Context, constraints Constraints) (*LocalStream, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !constraints.Audio && !constraints.Video {
		return nil, fmt.Errorf("%w: neither audio nor video requested", ErrDeviceUnavailable)
	}

	streamID := "stream-" + uuid.NewString()
	var tracks []LocalTrack
	if constraints.Video {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video-"+uuid.NewString(), streamID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		tracks = append(tracks, newSyntheticTrack(track, nil))
	}
	if constraints.Audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio-"+uuid.NewString(), streamID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		tracks = append(tracks, newSyntheticTrack(track, opusSilence))
	}
	return NewLocalStream(streamID, tracks...), nil
}

// syntheticTrack writes frame every opusFrame until closed. A nil frame writes nothing.
type syntheticTrack struct {
	*webrtc.TrackLocalStaticSample

	closeOnce sync.Once
	done      chan struct{}
}

func newSyntheticTrack(track *webrtc.TrackLocalStaticSample, frame []byte) *syntheticTrack {
	t := &syntheticTrack{TrackLocalStaticSample: track, done: make(chan struct{})}
	if frame != nil {
		go t.generate(frame)
	}
	return t
}

func (t *syntheticTrack) generate(frame []byte) {
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			// Writes before the track is bound are dropped by pion.
			t.WriteSample(pionmedia.Sample{Data: frame, Duration: opusFrame})
		}
	}
}

func (t *syntheticTrack) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

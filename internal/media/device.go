//go:build mediadevices

package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"go.uber.org/zap"
)

// DefaultCapturer returns a capturer backed by the local camera and microphone.
func DefaultCapturer(logger *zap.Logger) Capturer {
	return &DeviceCapturer{logger: logger}
}

// DeviceCapturer captures from local devices through pion/mediadevices with VP8 video
// and Opus audio encoders.
type DeviceCapturer struct {
	logger *zap.Logger
}

func (c *DeviceCapturer) Capture(ctx context.Context, constraints Constraints) (*LocalStream, error) {
	if !constraints.Audio && !constraints.Video {
		return nil, fmt.Errorf("%w: neither audio nor video requested", ErrDeviceUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("%w: vp8 encoder: %v", ErrDeviceUnavailable, err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("%w: opus encoder: %v", ErrDeviceUnavailable, err)
	}

	msc := mediadevices.MediaStreamConstraints{
		Codec: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}
	if constraints.Video {
		msc.Video = func(mtc *mediadevices.MediaTrackConstraints) {
			mtc.FrameFormat = prop.FrameFormatOneOf{frame.FormatYUYV, frame.FormatI420}
			mtc.Width = prop.IntRanged{Max: 640}
			mtc.Height = prop.IntRanged{Max: 480}
		}
	}
	if constraints.Audio {
		msc.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}

	if len(mediadevices.EnumerateDevices()) == 0 {
		return nil, fmt.Errorf("%w: no media devices found", ErrDeviceUnavailable)
	}

	stream, err := mediadevices.GetUserMedia(msc)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	var tracks []LocalTrack
	for _, track := range stream.GetTracks() {
		track.OnEnded(func(err error) {
			if err != nil {
				c.logger.Warn("local track ended", zap.String("track", track.ID()), zap.Error(err))
			}
		})
		tracks = append(tracks, track)
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: capture produced no tracks", ErrDeviceUnavailable)
	}
	c.logger.Info("local media captured", zap.Int("tracks", len(tracks)))
	return NewLocalStream(tracks[0].StreamID(), tracks...), nil
}

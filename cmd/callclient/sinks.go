package main

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mossy-p/tutor-call/internal/media"
)

// previewSink stands in for the local preview.
type previewSink struct {
	logger *zap.Logger
}

func (p *previewSink) Attach(stream *media.LocalStream) {
	p.logger.Info("local preview attached", zap.String("stream", stream.ID), zap.Int("tracks", len(stream.Tracks)))
}

func (p *previewSink) Detach() {
	p.logger.Info("local preview detached")
}

// rtpDrain reads remote tracks so their receive buffers never fill.
type rtpDrain struct {
	logger *zap.Logger

	packets atomic.Int64
	bytes   atomic.Int64
}

func newRTPDrain(logger *zap.Logger) *rtpDrain {
	return &rtpDrain{logger: logger}
}

func (d *rtpDrain) Attach(track media.RemoteTrack) {
	d.logger.Info("remote track attached",
		zap.String("track", track.ID()),
		zap.String("stream", track.StreamID()),
		zap.String("kind", track.Kind().String()))

	// The reader ends once the session stops the track.
	go func() {
		buf := make([]byte, 1500)
		for {
			n, _, err := track.Read(buf)
			if err != nil {
				return
			}
			d.packets.Add(1)
			d.bytes.Add(int64(n))
		}
	}()
}

func (d *rtpDrain) Detach() {
	d.logger.Info("remote media detached",
		zap.Int64("packets", d.packets.Load()),
		zap.Int64("bytes", d.bytes.Load()))
}

// Package media owns the local capture, the peer connection and the track wiring of a
// single call participation.
package media

import (
	"errors"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

var (
	ErrPermissionDenied  = errors.New("permission_denied")
	ErrDeviceUnavailable = errors.New("device_unavailable")

	// ErrPeerConnectionLive is returned when a peer connection is requested while the
	// previous one has not been closed.
	ErrPeerConnectionLive = errors.New("peer connection already live")
	ErrNoICEServers       = errors.New("no ICE servers configured")
	ErrNoPeerConnection   = errors.New("no peer connection")
	ErrTornDown           = errors.New("media session torn down")
)

// Constraints selects which kinds of local media to capture.
type Constraints struct {
	Audio bool
	Video bool
}

// LocalTrack is a captured track that can be sent on a peer connection.
type LocalTrack interface {
	webrtc.TrackLocal
	// Close releases the underlying device.
	Close() error
}

// LocalStream is the set of tracks produced by one capture.
type LocalStream struct {
	ID     string
	Tracks []LocalTrack

	mu      sync.Mutex
	stopped bool
}

func NewLocalStream(id string, tracks ...LocalTrack) *LocalStream {
	return &LocalStream{ID: id, Tracks: tracks}
}

// Stop closes every track once and reports how many were closed by this call.
func (s *LocalStream) Stop() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return 0
	}
	s.stopped = true
	for _, t := range s.Tracks {
		t.Close()
	}
	return len(s.Tracks)
}

// Active reports whether the stream still holds open tracks.
func (s *LocalStream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped && len(s.Tracks) > 0
}

// RemoteTrack is a track received from the remote participant.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Read(b []byte) (int, interceptor.Attributes, error)
	// Stop stops the receiver; pending reads return an error.
	Stop() error
}

// LocalSink renders the local preview.
type LocalSink interface {
	Attach(stream *LocalStream)
	Detach()
}

// RemoteSink renders the remote participant's stream.
type RemoteSink interface {
	Attach(track RemoteTrack)
	Detach()
}

type nopLocalSink struct{}

func (nopLocalSink) Attach(*LocalStream) {}
func (nopLocalSink) Detach()             {}

type nopRemoteSink struct{}

func (nopRemoteSink) Attach(RemoteTrack) {}
func (nopRemoteSink) Detach()            {}

package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// SessionConfig wires a Session to its collaborators. Nil sinks render nothing.
type SessionConfig struct {
	ICEServers []webrtc.ICEServer
	Capturer   Capturer
	Factory    PeerFactory
	LocalSink  LocalSink
	RemoteSink RemoteSink
}

// Session owns the local stream, the peer connection and the remote tracks of one call
// participation. Everything it owns is released by Teardown; once torn down a Session
// cannot be reused.
type Session struct {
	iceServers []webrtc.ICEServer
	capturer   Capturer
	factory    PeerFactory
	localSink  LocalSink
	remoteSink RemoteSink
	logger     *zap.Logger

	mu             sync.Mutex
	local          *LocalStream
	pc             PeerConnection
	remote         []RemoteTrack
	remoteStreamID string
	tornDown       bool
}

func NewSession(cfg SessionConfig, logger *zap.Logger) *Session {
	s := &Session{
		iceServers: cfg.ICEServers,
		capturer:   cfg.Capturer,
		factory:    cfg.Factory,
		localSink:  cfg.LocalSink,
		remoteSink: cfg.RemoteSink,
		logger:     logger,
	}
	if s.localSink == nil {
		s.localSink = nopLocalSink{}
	}
	if s.remoteSink == nil {
		s.remoteSink = nopRemoteSink{}
	}
	return s
}

// StartCapture acquires a new local stream and shows it on the local sink. A previous
// stream is removed from the peer connection and stopped first. Failures wrap
// ErrPermissionDenied or ErrDeviceUnavailable.
func (s *Session) StartCapture(ctx context.Context, c Constraints) (*LocalStream, error) {
	s.mu.Lock()
	if s.tornDown {
		s.mu.Unlock()
		return nil, ErrTornDown
	}
	s.mu.Unlock()

	stream, err := s.capturer.Capture(ctx, c)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !errors.Is(err, ErrPermissionDenied) && !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Teardown may have run while the device was being opened.
	if s.tornDown {
		stream.Stop()
		return nil, ErrTornDown
	}

	if old := s.local; old != nil {
		if s.pc != nil {
			for _, t := range old.Tracks {
				if err := s.pc.RemoveTrack(t.ID()); err != nil {
					s.logger.Warn("failed to remove replaced track", zap.String("track", t.ID()), zap.Error(err))
				}
			}
		}
		n := old.Stop()
		s.logger.Debug("replaced local stream", zap.String("stream", old.ID), zap.Int("stopped", n))
	}

	s.local = stream
	s.localSink.Attach(stream)
	s.logger.Info("capture started", zap.String("stream", stream.ID), zap.Int("tracks", len(stream.Tracks)))
	return stream, nil
}

// LocalStream returns the current local stream, or nil before capture.
func (s *Session) LocalStream() *LocalStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

// CreatePeerConnection builds the session's peer connection. Remote tracks are bound to
// the remote sink as they arrive.
func (s *Session) CreatePeerConnection() (PeerConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tornDown {
		return nil, ErrTornDown
	}
	if s.pc != nil && s.pc.ConnectionState() != webrtc.PeerConnectionStateClosed {
		return nil, ErrPeerConnectionLive
	}
	if len(s.iceServers) == 0 {
		return nil, ErrNoICEServers
	}

	pc, err := s.factory.NewPeerConnection(webrtc.Configuration{ICEServers: s.iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	pc.OnTrack(func(track RemoteTrack) {
		s.BindRemoteSink(track)
	})

	s.pc = pc
	s.remote = nil
	s.remoteStreamID = ""
	return pc, nil
}

// ReplacePeerConnection closes the current peer connection and builds a new one in its
// place. An abandoned negotiation cannot be undone on the old connection, so the caller
// wires callbacks and attaches local tracks again on the returned one.
func (s *Session) ReplacePeerConnection() (PeerConnection, error) {
	s.mu.Lock()
	if s.tornDown {
		s.mu.Unlock()
		return nil, ErrTornDown
	}
	old, remote := s.pc, s.remote
	s.pc = nil
	s.remote = nil
	s.remoteStreamID = ""
	s.mu.Unlock()

	for _, t := range remote {
		if err := t.Stop(); err != nil {
			s.logger.Debug("failed to stop remote track", zap.String("track", t.ID()), zap.Error(err))
		}
	}
	if len(remote) > 0 {
		s.remoteSink.Detach()
	}
	if old != nil {
		old.DetachHandlers()
		if err := old.Close(); err != nil {
			s.logger.Warn("failed to close replaced peer connection", zap.Error(err))
		}
	}

	pc, err := s.CreatePeerConnection()
	if err != nil {
		return nil, err
	}
	s.logger.Info("peer connection replaced")
	return pc, nil
}

// PeerConnection returns the current peer connection, or nil.
func (s *Session) PeerConnection() PeerConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pc
}

// AttachLocalTracks adds every local track not already sent on the peer connection.
// It returns the number of tracks added.
func (s *Session) AttachLocalTracks() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tornDown {
		return 0, ErrTornDown
	}
	if s.pc == nil {
		return 0, ErrNoPeerConnection
	}
	if s.local == nil {
		return 0, nil
	}

	present := make(map[string]bool)
	for _, id := range s.pc.SenderTrackIDs() {
		present[id] = true
	}

	added := 0
	for _, t := range s.local.Tracks {
		if present[t.ID()] {
			continue
		}
		if err := s.pc.AddTrack(t); err != nil {
			return added, fmt.Errorf("add track %s: %w", t.ID(), err)
		}
		present[t.ID()] = true
		added++
	}
	return added, nil
}

// BindRemoteSink records an incoming remote track. Tracks of the first remote stream
// are attached to the remote sink; later streams are kept only so they can be stopped.
// It reports whether the track was attached.
func (s *Session) BindRemoteSink(track RemoteTrack) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tornDown {
		track.Stop()
		return false
	}

	s.remote = append(s.remote, track)
	if s.remoteStreamID == "" {
		s.remoteStreamID = track.StreamID()
	}
	if track.StreamID() != s.remoteStreamID {
		s.logger.Debug("ignoring additional remote stream", zap.String("stream", track.StreamID()))
		return false
	}

	s.remoteSink.Attach(track)
	s.logger.Info("remote track bound",
		zap.String("track", track.ID()), zap.Stringer("kind", track.Kind()))
	return true
}

// TeardownStats reports what a Teardown call released.
type TeardownStats struct {
	LocalTracksStopped  int
	RemoteTracksStopped int
	PeerClosed          bool
}

// Teardown stops every local and remote track, detaches the peer connection's handlers
// and closes it. Only the first call does any work.
func (s *Session) Teardown() TeardownStats {
	s.mu.Lock()
	var stats TeardownStats
	if s.tornDown {
		s.mu.Unlock()
		return stats
	}
	s.tornDown = true
	local, remote, pc := s.local, s.remote, s.pc
	s.mu.Unlock()

	// Peer callbacks take s.mu, so the peer is closed without holding it.
	if local != nil {
		stats.LocalTracksStopped = local.Stop()
	}
	for _, t := range remote {
		if err := t.Stop(); err != nil {
			s.logger.Debug("failed to stop remote track", zap.String("track", t.ID()), zap.Error(err))
		}
		stats.RemoteTracksStopped++
	}
	s.localSink.Detach()
	s.remoteSink.Detach()

	if pc != nil {
		pc.DetachHandlers()
		if pc.ConnectionState() != webrtc.PeerConnectionStateClosed {
			if err := pc.Close(); err != nil {
				s.logger.Warn("failed to close peer connection", zap.Error(err))
			}
			stats.PeerClosed = true
		}
	}

	s.logger.Info("media torn down",
		zap.Int("local_tracks", stats.LocalTracksStopped),
		zap.Int("remote_tracks", stats.RemoteTracksStopped),
		zap.Bool("peer_closed", stats.PeerClosed))
	return stats
}

// Stats is a point-in-time view of the session's resources.
type Stats struct {
	ActiveLocalTracks int
	RemoteTracks      int
	PeerState         webrtc.PeerConnectionState
	TornDown          bool
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{TornDown: s.tornDown}
	if s.local != nil && s.local.Active() {
		st.ActiveLocalTracks = len(s.local.Tracks)
	}
	if !s.tornDown {
		st.RemoteTracks = len(s.remote)
	}
	if s.pc != nil {
		st.PeerState = s.pc.ConnectionState()
	}
	return st
}

package media_test

import (
	"context"
	"testing"

	"github.com/mossy-p/tutor-call/internal/media"
	"github.com/mossy-p/tutor-call/internal/media/mediatest"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var stun = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

type previewSink struct {
	attached []*media.LocalStream
	detached int
}

func (s *previewSink) Attach(stream *media.LocalStream) { s.attached = append(s.attached, stream) }
func (s *previewSink) Detach()                          { s.detached++ }

type remoteSink struct {
	attached []media.RemoteTrack
}

func (s *remoteSink) Attach(track media.RemoteTrack) { s.attached = append(s.attached, track) }
func (s *remoteSink) Detach()                        {}

func newSession(capturer media.Capturer, factory media.PeerFactory) (*media.Session, *previewSink, *remoteSink) {
	local, remote := &previewSink{}, &remoteSink{}
	s := media.NewSession(media.SessionConfig{
		ICEServers: stun,
		Capturer:   capturer,
		Factory:    factory,
		LocalSink:  local,
		RemoteSink: remote,
	}, zap.NewNop())
	return s, local, remote
}

func TestStartCaptureReplacesStream(t *testing.T) {
	capturer := &mediatest.Capturer{}
	factory := &mediatest.Factory{}
	s, preview, _ := newSession(capturer, factory)
	ctx := context.Background()

	first, err := s.StartCapture(ctx, media.Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	require.Len(t, first.Tracks, 2)

	_, err = s.CreatePeerConnection()
	require.NoError(t, err)
	added, err := s.AttachLocalTracks()
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	second, err := s.StartCapture(ctx, media.Constraints{Audio: true, Video: true})
	require.NoError(t, err)

	assert.False(t, first.Active())
	for _, track := range first.Tracks {
		assert.Equal(t, 1, track.(*mediatest.LocalTrack).Closes())
	}
	assert.Empty(t, factory.Last().SenderTrackIDs(), "replaced tracks must leave the peer connection")
	assert.Equal(t, []*media.LocalStream{first, second}, preview.attached)
	assert.Same(t, second, s.LocalStream())
}

func TestStartCaptureFailures(t *testing.T) {
	s, _, _ := newSession(&mediatest.Capturer{Err: media.ErrPermissionDenied}, &mediatest.Factory{})
	_, err := s.StartCapture(context.Background(), media.Constraints{Audio: true, Video: true})
	assert.ErrorIs(t, err, media.ErrPermissionDenied)
	assert.Nil(t, s.LocalStream())

	// Unclassified capture errors are reported as an unavailable device.
	failing := media.CapturerFunc(func(context.Context, media.Constraints) (*media.LocalStream, error) {
		return nil, assert.AnError
	})
	s, _, _ = newSession(failing, &mediatest.Factory{})
	_, err = s.StartCapture(context.Background(), media.Constraints{Video: true})
	assert.ErrorIs(t, err, media.ErrDeviceUnavailable)
}

func TestCaptureFinishingAfterTeardownIsDiscarded(t *testing.T) {
	entered, gate := make(chan struct{}), make(chan struct{})
	var captured *media.LocalStream
	capturer := media.CapturerFunc(func(context.Context, media.Constraints) (*media.LocalStream, error) {
		close(entered)
		<-gate
		captured = media.NewLocalStream("late", mediatest.NewLocalTrack(webrtc.RTPCodecTypeAudio, "late"))
		return captured, nil
	})
	s, _, _ := newSession(capturer, &mediatest.Factory{})

	errc := make(chan error, 1)
	go func() {
		_, err := s.StartCapture(context.Background(), media.Constraints{Audio: true})
		errc <- err
	}()

	<-entered
	s.Teardown()
	close(gate)

	assert.ErrorIs(t, <-errc, media.ErrTornDown)
	require.NotNil(t, captured)
	assert.False(t, captured.Active())
	assert.Nil(t, s.LocalStream())
}

func TestCreatePeerConnection(t *testing.T) {
	factory := &mediatest.Factory{}
	s, _, _ := newSession(&mediatest.Capturer{}, factory)

	pc, err := s.CreatePeerConnection()
	require.NoError(t, err)

	_, err = s.CreatePeerConnection()
	assert.ErrorIs(t, err, media.ErrPeerConnectionLive)

	require.NoError(t, pc.Close())
	_, err = s.CreatePeerConnection()
	assert.NoError(t, err)

	noICE := media.NewSession(media.SessionConfig{Capturer: &mediatest.Capturer{}, Factory: factory}, zap.NewNop())
	_, err = noICE.CreatePeerConnection()
	assert.ErrorIs(t, err, media.ErrNoICEServers)
}

func TestReplacePeerConnection(t *testing.T) {
	factory := &mediatest.Factory{}
	capturer := &mediatest.Capturer{}
	s, _, _ := newSession(capturer, factory)

	_, err := s.StartCapture(context.Background(), media.Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	_, err = s.CreatePeerConnection()
	require.NoError(t, err)
	_, err = s.AttachLocalTracks()
	require.NoError(t, err)

	old := factory.Last()
	offer, err := old.CreateOffer()
	require.NoError(t, err)
	require.NoError(t, old.SetLocalDescription(offer))

	// A peer holding a local offer cannot take a remote one.
	err = old.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote"})
	require.Error(t, err)

	pc, err := s.ReplacePeerConnection()
	require.NoError(t, err)
	assert.Equal(t, 1, old.Closes())
	assert.True(t, old.Detached())
	assert.Len(t, factory.Peers(), 2)
	assert.Same(t, factory.Last(), pc)
	assert.Equal(t, webrtc.SignalingStateStable, factory.Last().SignalingState())

	added, err := s.AttachLocalTracks()
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	require.NoError(t, pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote"}))
	answer, err := pc.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, pc.SetLocalDescription(answer))

	s.Teardown()
	_, err = s.ReplacePeerConnection()
	assert.ErrorIs(t, err, media.ErrTornDown)
}

func TestAttachLocalTracksIsIdempotent(t *testing.T) {
	factory := &mediatest.Factory{}
	s, _, _ := newSession(&mediatest.Capturer{}, factory)

	_, err := s.AttachLocalTracks()
	assert.ErrorIs(t, err, media.ErrNoPeerConnection)

	_, err = s.StartCapture(context.Background(), media.Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	_, err = s.CreatePeerConnection()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.AttachLocalTracks()
		require.NoError(t, err)
	}
	assert.Len(t, factory.Last().SenderTrackIDs(), 2)
}

func TestBindRemoteSinkUsesFirstStream(t *testing.T) {
	factory := &mediatest.Factory{}
	s, _, sink := newSession(&mediatest.Capturer{}, factory)
	_, err := s.CreatePeerConnection()
	require.NoError(t, err)
	peer := factory.Last()

	video := mediatest.NewRemoteTrack("v1", "remote-a", webrtc.RTPCodecTypeVideo)
	audio := mediatest.NewRemoteTrack("a1", "remote-a", webrtc.RTPCodecTypeAudio)
	other := mediatest.NewRemoteTrack("v2", "remote-b", webrtc.RTPCodecTypeVideo)
	peer.EmitTrack(video)
	peer.EmitTrack(audio)
	peer.EmitTrack(other)

	require.Len(t, sink.attached, 2)
	assert.Equal(t, "v1", sink.attached[0].ID())
	assert.Equal(t, 3, s.Stats().RemoteTracks)
}

func TestTeardownIsIdempotent(t *testing.T) {
	factory := &mediatest.Factory{}
	s, preview, _ := newSession(&mediatest.Capturer{}, factory)
	ctx := context.Background()

	stream, err := s.StartCapture(ctx, media.Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	_, err = s.CreatePeerConnection()
	require.NoError(t, err)
	_, err = s.AttachLocalTracks()
	require.NoError(t, err)
	remote := mediatest.NewRemoteTrack("v1", "remote-a", webrtc.RTPCodecTypeVideo)
	factory.Last().EmitTrack(remote)

	first := s.Teardown()
	assert.Equal(t, media.TeardownStats{LocalTracksStopped: 2, RemoteTracksStopped: 1, PeerClosed: true}, first)

	second := s.Teardown()
	assert.Equal(t, media.TeardownStats{}, second)

	for _, track := range stream.Tracks {
		assert.Equal(t, 1, track.(*mediatest.LocalTrack).Closes())
	}
	assert.Equal(t, 1, remote.Stops())
	peer := factory.Last()
	assert.Equal(t, 1, peer.Closes())
	assert.True(t, peer.Detached())
	assert.Equal(t, 1, preview.detached)

	stats := s.Stats()
	assert.Equal(t, 0, stats.ActiveLocalTracks)
	assert.Equal(t, 0, stats.RemoteTracks)
	assert.Equal(t, webrtc.PeerConnectionStateClosed, stats.PeerState)

	// Tracks that arrive late are stopped immediately.
	late := mediatest.NewRemoteTrack("late", "remote-a", webrtc.RTPCodecTypeAudio)
	assert.False(t, s.BindRemoteSink(late))
	assert.Equal(t, 1, late.Stops())

	_, err = s.CreatePeerConnection()
	assert.ErrorIs(t, err, media.ErrTornDown)
}

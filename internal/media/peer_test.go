package media_test

import (
	"context"
	"testing"

	"github.com/mossy-p/tutor-call/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPionAttachLocalTracksOncePerTrack(t *testing.T) {
	factory, err := media.NewPionFactory()
	require.NoError(t, err)

	s := media.NewSession(media.SessionConfig{
		ICEServers: stun,
		Capturer:   media.NewSyntheticCapturer(),
		Factory:    factory,
	}, zap.NewNop())
	defer s.Teardown()

	stream, err := s.StartCapture(context.Background(), media.Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	require.Len(t, stream.Tracks, 2)

	pc, err := s.CreatePeerConnection()
	require.NoError(t, err)

	added, err := s.AttachLocalTracks()
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	added, err = s.AttachLocalTracks()
	require.NoError(t, err)
	assert.Zero(t, added)

	ids := pc.SenderTrackIDs()
	assert.Len(t, ids, 2)
	assert.ElementsMatch(t, []string{stream.Tracks[0].ID(), stream.Tracks[1].ID()}, ids)

	offer, err := pc.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "m=video")
}

func TestSyntheticCapturer(t *testing.T) {
	c := media.NewSyntheticCapturer()

	_, err := c.Capture(context.Background(), media.Constraints{})
	assert.ErrorIs(t, err, media.ErrDeviceUnavailable)

	stream, err := c.Capture(context.Background(), media.Constraints{Audio: true})
	require.NoError(t, err)
	require.Len(t, stream.Tracks, 1)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, stream.Tracks[0].Kind())
	assert.Equal(t, 1, stream.Stop())
	assert.Equal(t, 0, stream.Stop())

	c.Err = media.ErrPermissionDenied
	_, err = c.Capture(context.Background(), media.Constraints{Audio: true})
	assert.ErrorIs(t, err, media.ErrPermissionDenied)
}

func TestPionReplacedPeerAnswersAfterGlare(t *testing.T) {
	factory, err := media.NewPionFactory()
	require.NoError(t, err)

	newPionSession := func() *media.Session {
		s := media.NewSession(media.SessionConfig{
			ICEServers: stun,
			Capturer:   media.NewSyntheticCapturer(),
			Factory:    factory,
		}, zap.NewNop())
		t.Cleanup(func() { s.Teardown() })
		_, err := s.StartCapture(context.Background(), media.Constraints{Audio: true, Video: true})
		require.NoError(t, err)
		_, err = s.CreatePeerConnection()
		require.NoError(t, err)
		_, err = s.AttachLocalTracks()
		require.NoError(t, err)
		return s
	}
	offerFrom := func(pc media.PeerConnection) webrtc.SessionDescription {
		offer, err := pc.CreateOffer()
		require.NoError(t, err)
		require.NoError(t, pc.SetLocalDescription(offer))
		return offer
	}

	a, b := newPionSession(), newPionSession()
	offerA := offerFrom(a.PeerConnection())
	offerFrom(b.PeerConnection())

	// Both hold a local offer, so neither can take the other's.
	require.Error(t, b.PeerConnection().SetRemoteDescription(offerA))

	pc, err := b.ReplacePeerConnection()
	require.NoError(t, err)
	_, err = b.AttachLocalTracks()
	require.NoError(t, err)
	require.NoError(t, pc.SetRemoteDescription(offerA))
	answer, err := pc.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, pc.SetLocalDescription(answer))
	require.NoError(t, a.PeerConnection().SetRemoteDescription(answer))
}

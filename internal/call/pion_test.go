package call

import (
	"context"
	"testing"

	"github.com/mossy-p/tutor-call/internal/media"
	"github.com/mossy-p/tutor-call/internal/models"
	"github.com/mossy-p/tutor-call/internal/signaling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newPionParticipant joins roomID with real pion peer connections and synthetic media.
func newPionParticipant(t *testing.T, transport signaling.Transport, roomID, member string) *participant {
	t.Helper()
	factory, err := media.NewPionFactory()
	require.NoError(t, err)

	notices := &noticeLog{}
	session := media.NewSession(media.SessionConfig{
		ICEServers: stun,
		Capturer:   media.NewSyntheticCapturer(),
		Factory:    factory,
	}, zap.NewNop())
	channel := signaling.NewChannelWithMember(transport, member, zap.NewNop())

	o := New(roomID, channel, session, zap.NewNop(), Options{Observer: notices.observe})
	t.Cleanup(o.Close)
	require.NoError(t, o.Start(context.Background()))
	require.NoError(t, o.StartWebcam(context.Background(), bothKinds))
	return &participant{member: member, o: o, session: session, notices: notices}
}

// heldOffers delays every published offer until release is closed, so two
// participants can both be offering before either sees the other's offer.
type heldOffers struct {
	signaling.Transport
	release chan struct{}
}

func (h *heldOffers) Subscribe(ctx context.Context, topic, memberID string) (signaling.Subscription, error) {
	sub, err := h.Transport.Subscribe(ctx, topic, memberID)
	if err != nil {
		return nil, err
	}
	return &heldSubscription{Subscription: sub, release: h.release}, nil
}

type heldSubscription struct {
	signaling.Subscription
	release chan struct{}
}

func (s *heldSubscription) Publish(ctx context.Context, msg models.SignalMessage) error {
	if msg.Type != models.SignalTypeOffer {
		return s.Subscription.Publish(ctx, msg)
	}
	go func() {
		<-s.release
		s.Subscription.Publish(context.Background(), msg)
	}()
	return nil
}

func TestPionOfferAnswerConnects(t *testing.T) {
	hub := signaling.NewMemoryHub()
	a := newPionParticipant(t, hub, "r1", "a")
	b := newPionParticipant(t, hub, "r1", "b")

	require.NoError(t, a.o.StartCall(context.Background()))
	waitState(t, b.o, StateConnected)
	waitState(t, a.o, StateConnected)

	assert.Empty(t, a.notices.errorKinds())
	assert.Empty(t, b.notices.errorKinds())
}

func TestPionGlareConnects(t *testing.T) {
	hub := signaling.NewMemoryHub()
	held := &heldOffers{Transport: hub, release: make(chan struct{})}
	a := newPionParticipant(t, held, "r1", "a")
	b := newPionParticipant(t, held, "r1", "b")

	require.NoError(t, a.o.StartCall(context.Background()))
	require.NoError(t, b.o.StartCall(context.Background()))
	assert.Equal(t, StateOffering, a.o.State())
	assert.Equal(t, StateOffering, b.o.State())

	close(held.release)
	waitState(t, a.o, StateConnected)
	waitState(t, b.o, StateConnected)

	// Only the yielding side answered.
	answers := hub.PublishedOfType("room-r1", models.SignalTypeAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, "a", answers[0].From)
	assert.NotContains(t, a.notices.errorKinds(), KindNegotiation)
	assert.NotContains(t, b.notices.errorKinds(), KindNegotiation)
}

func TestPionOfferPublishFailureRecovers(t *testing.T) {
	hub := signaling.NewMemoryHub()
	a := newPionParticipant(t, hub, "r1", "a")
	b := newPionParticipant(t, hub, "r1", "b")

	hub.SetUnavailable(true)
	err := a.o.StartCall(context.Background())
	assert.Equal(t, KindAdapter, KindOf(err))
	assert.Equal(t, StateReady, a.o.State())
	hub.SetUnavailable(false)

	require.NoError(t, a.o.StartCall(context.Background()))
	waitState(t, b.o, StateConnected)
	waitState(t, a.o, StateConnected)
	assert.NotContains(t, a.notices.errorKinds(), KindNegotiation)
}

package signaling

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mossy-p/tutor-call/internal/models"
	"github.com/mossy-p/tutor-call/internal/redis"
	"github.com/pion/webrtc/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedisTransport(t *testing.T) (*RedisTransport, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisTransport(redis.NewClient(rdb), zap.NewNop()), mr
}

func TestRedisTransportRelay(t *testing.T) {
	transport, mr := newRedisTransport(t)
	ctx := context.Background()

	alice, err := transport.Subscribe(ctx, "room-r1", "alice")
	require.NoError(t, err)
	defer alice.Close()
	bob, err := transport.Subscribe(ctx, "room-r1", "bob")
	require.NoError(t, err)
	defer bob.Close()

	_, err = mr.ZScore(models.PresenceKey("r1"), "bob")
	require.NoError(t, err)

	// Alice starts with a sync of herself, then sees bob join.
	first := <-alice.Presence()
	assert.Equal(t, models.PresenceSync, first.Event)
	select {
	case ev := <-alice.Presence():
		assert.Equal(t, models.PresenceJoin, ev.Event)
		assert.Equal(t, "bob", ev.Member)
	case <-time.After(time.Second):
		t.Fatal("no join presence")
	}

	offer := models.NewOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	require.NoError(t, alice.Publish(ctx, offer))

	select {
	case msg := <-bob.Messages():
		assert.Equal(t, models.SignalTypeOffer, msg.Type)
		assert.Equal(t, "alice", msg.From)
		sd, err := msg.OfferDescription()
		require.NoError(t, err)
		assert.Equal(t, "v=0", sd.SDP)
	case <-time.After(time.Second):
		t.Fatal("offer not relayed")
	}

	select {
	case msg := <-alice.Messages():
		t.Fatalf("own %s echoed back", msg.Type)
	case <-time.After(50 * time.Millisecond):
	}

	members, err := bob.Members(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, members)
}

func TestRedisTransportClose(t *testing.T) {
	transport, mr := newRedisTransport(t)
	ctx := context.Background()

	alice, err := transport.Subscribe(ctx, "room-r2", "alice")
	require.NoError(t, err)
	defer alice.Close()
	bob, err := transport.Subscribe(ctx, "room-r2", "bob")
	require.NoError(t, err)

	require.NoError(t, bob.Close())
	require.NoError(t, bob.Close())

	members, err := mr.ZMembers(models.PresenceKey("r2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)

	assert.ErrorIs(t, bob.Publish(ctx, models.NewHangup()), ErrSubscriptionClosed)

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-alice.Presence():
			if ev.Event == models.PresenceLeave {
				assert.Equal(t, "bob", ev.Member)
				return
			}
		case <-deadline:
			t.Fatal("no leave presence")
		}
	}
}

func TestRedisTransportUnavailable(t *testing.T) {
	transport, mr := newRedisTransport(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewChannel(transport, zap.NewNop()).Join(ctx, "r3", nil, nil)
	assert.ErrorIs(t, err, ErrAdapter)
}

func TestRedisTransportSkipsStaleMembers(t *testing.T) {
	transport, mr := newRedisTransport(t)
	ctx := context.Background()

	// Left behind by a relay that stopped without leaving.
	stale := time.Now().Add(-2 * models.PresenceTTL).UnixMilli()
	_, err := mr.ZAdd(models.PresenceKey("r4"), float64(stale), "crashed")
	require.NoError(t, err)

	alice, err := transport.Subscribe(ctx, "room-r4", "alice")
	require.NoError(t, err)
	defer alice.Close()

	first := <-alice.Presence()
	assert.Equal(t, models.PresenceSync, first.Event)
	assert.Equal(t, []string{"alice"}, first.Members)

	members, err := alice.Members(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)

	stored, err := mr.ZMembers(models.PresenceKey("r4"))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, stored, "stale members are pruned")
}

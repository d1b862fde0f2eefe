package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mossy-p/tutor-call/internal/models"
	"github.com/mossy-p/tutor-call/internal/redis"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// Heartbeats run well inside models.PresenceTTL so one slow write never expires a member.
	presenceHeartbeat = models.PresenceTTL / 3
	subscriptionBuf   = 64
	leaveTimeout      = 2 * time.Second
)

// RedisTransport relays room topics over Redis PUBLISH/SUBSCRIBE. Presence is tracked in
// the sorted set models.PresenceKey(roomID), refreshed by a heartbeat per subscription,
// and announced with presence messages on the topic.
type RedisTransport struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisTransport(client *redis.Client, logger *zap.Logger) *RedisTransport {
	return &RedisTransport{client: client, logger: logger}
}

func presenceKeyForTopic(topic string) string {
	return models.PresenceKey(strings.TrimPrefix(topic, models.TopicPrefix))
}

func (t *RedisTransport) Subscribe(ctx context.Context, topic, memberID string) (Subscription, error) {
	ps := t.client.Subscribe(ctx, topic)
	// Wait for the subscription to be confirmed before announcing ourselves.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	key := presenceKeyForTopic(topic)
	members, err := t.client.TouchPresence(ctx, key, memberID)
	if err != nil {
		ps.Close()
		return nil, fmt.Errorf("register presence on %s: %w", topic, err)
	}

	sub := &redisSub{
		client:   t.client,
		ps:       ps,
		topic:    topic,
		key:      key,
		member:   memberID,
		logger:   t.logger.With(zap.String("topic", topic), zap.String("member", memberID)),
		closed:   make(chan struct{}),
		stopBeat: make(chan struct{}),
		beatDone: make(chan struct{}),
		messages: make(chan models.SignalMessage, subscriptionBuf),
		presence: make(chan models.PresenceEvent, subscriptionBuf),
	}
	sub.presence <- models.PresenceEvent{Event: models.PresenceSync, Members: members}
	go sub.heartbeat()

	join := models.NewPresence(models.PresenceEvent{Event: models.PresenceJoin, Member: memberID})
	if err := sub.Publish(ctx, join); err != nil {
		sub.Close()
		return nil, err
	}

	go sub.pump()
	return sub, nil
}

type redisSub struct {
	client *redis.Client
	ps     *goredis.PubSub
	topic  string
	key    string
	member string
	logger *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
	stopBeat  chan struct{}
	beatDone  chan struct{}
	messages  chan models.SignalMessage
	presence  chan models.PresenceEvent
}

func (s *redisSub) Publish(ctx context.Context, msg models.SignalMessage) error {
	select {
	case <-s.closed:
		return ErrSubscriptionClosed
	default:
	}

	msg.From = s.member
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	if err := s.client.Publish(ctx, s.topic, data).Err(); err != nil {
		return fmt.Errorf("publish %s on %s: %w", msg.Type, s.topic, err)
	}
	return nil
}

func (s *redisSub) Messages() <-chan models.SignalMessage { return s.messages }
func (s *redisSub) Presence() <-chan models.PresenceEvent { return s.presence }

func (s *redisSub) Members(ctx context.Context) ([]string, error) {
	members, err := s.client.LivePresence(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", s.topic, err)
	}
	return members, nil
}

// Close removes the member from the presence set, announces the leave and unsubscribes.
func (s *redisSub) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		// A heartbeat in flight must not re-add the member after it is removed.
		close(s.stopBeat)
		<-s.beatDone

		ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()

		if err := s.client.RemovePresence(ctx, s.key, s.member); err != nil {
			s.logger.Warn("failed to remove presence", zap.Error(err))
		}
		leave := models.NewPresence(models.PresenceEvent{Event: models.PresenceLeave, Member: s.member})
		if err := s.Publish(ctx, leave); err != nil {
			s.logger.Debug("failed to announce leave", zap.Error(err))
		}

		close(s.closed)
		closeErr = s.ps.Close()
	})
	return closeErr
}

// heartbeat keeps the member live in the presence set until the subscription closes.
func (s *redisSub) heartbeat() {
	defer close(s.beatDone)
	ticker := time.NewTicker(presenceHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopBeat:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
			if _, err := s.client.TouchPresence(ctx, s.key, s.member); err != nil {
				s.logger.Warn("failed to refresh presence", zap.Error(err))
			}
			cancel()
		}
	}
}

func (s *redisSub) pump() {
	defer close(s.messages)
	defer close(s.presence)

	ch := s.ps.Channel()
	for {
		select {
		case <-s.closed:
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}

			var msg models.SignalMessage
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				s.logger.Warn("dropping malformed message", zap.Error(err))
				continue
			}
			if msg.From == s.member {
				continue
			}

			if msg.Type == models.SignalTypePresence {
				ev, err := msg.PresenceEvent()
				if err != nil {
					s.logger.Warn("dropping malformed presence", zap.Error(err))
					continue
				}
				select {
				case s.presence <- ev:
				case <-s.closed:
					return
				}
				continue
			}

			select {
			case s.messages <- msg:
			case <-s.closed:
				return
			}
		}
	}
}

package signaling

import (
	"context"
	"errors"
	"sync"

	"github.com/mossy-p/tutor-call/internal/models"
)

var errHubUnavailable = errors.New("memory hub unavailable")

// MemoryHub is an in-process Transport. Every published message is queued for the
// other subscribers of the topic in publish order.
type MemoryHub struct {
	mu          sync.Mutex
	topics      map[string]map[string]*memorySub
	published   map[string][]models.SignalMessage
	unavailable bool
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		topics:    make(map[string]map[string]*memorySub),
		published: make(map[string][]models.SignalMessage),
	}
}

// SetUnavailable makes Subscribe and Publish fail until it is reset.
func (h *MemoryHub) SetUnavailable(unavailable bool) {
	h.mu.Lock()
	h.unavailable = unavailable
	h.mu.Unlock()
}

// Published returns every message published on topic so far.
func (h *MemoryHub) Published(topic string) []models.SignalMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.SignalMessage(nil), h.published[topic]...)
}

// PublishedOfType filters Published by message type.
func (h *MemoryHub) PublishedOfType(topic string, t models.SignalType) []models.SignalMessage {
	var out []models.SignalMessage
	for _, msg := range h.Published(topic) {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out
}

func (h *MemoryHub) Subscribe(ctx context.Context, topic, memberID string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unavailable {
		return nil, errHubUnavailable
	}

	sub := &memorySub{
		hub:      h,
		topic:    topic,
		member:   memberID,
		notify:   make(chan struct{}, 1),
		closed:   make(chan struct{}),
		messages: make(chan models.SignalMessage),
		presence: make(chan models.PresenceEvent),
	}

	members := h.topics[topic]
	if members == nil {
		members = make(map[string]*memorySub)
		h.topics[topic] = members
	}
	for _, other := range members {
		other.enqueue(models.PresenceEvent{Event: models.PresenceJoin, Member: memberID})
	}
	members[memberID] = sub
	sub.enqueue(models.PresenceEvent{Event: models.PresenceSync, Members: h.membersLocked(topic)})

	go sub.pump()
	return sub, nil
}

func (h *MemoryHub) publish(ctx context.Context, from *memorySub, msg models.SignalMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unavailable {
		return errHubUnavailable
	}
	if _, ok := h.topics[from.topic][from.member]; !ok {
		return ErrSubscriptionClosed
	}

	msg.From = from.member
	h.published[from.topic] = append(h.published[from.topic], msg)
	for member, sub := range h.topics[from.topic] {
		if member != from.member {
			sub.enqueue(msg)
		}
	}
	return nil
}

func (h *MemoryHub) remove(sub *memorySub) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.topics[sub.topic]
	if members[sub.member] != sub {
		return
	}
	delete(members, sub.member)
	for _, other := range members {
		other.enqueue(models.PresenceEvent{Event: models.PresenceLeave, Member: sub.member})
	}
	if len(members) == 0 {
		delete(h.topics, sub.topic)
	}
}

func (h *MemoryHub) membersLocked(topic string) []string {
	out := make([]string, 0, len(h.topics[topic]))
	for member := range h.topics[topic] {
		out = append(out, member)
	}
	return out
}

type memorySub struct {
	hub    *MemoryHub
	topic  string
	member string

	mu     sync.Mutex
	queue  []any
	notify chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
	messages  chan models.SignalMessage
	presence  chan models.PresenceEvent
}

func (s *memorySub) Publish(ctx context.Context, msg models.SignalMessage) error {
	return s.hub.publish(ctx, s, msg)
}

func (s *memorySub) Messages() <-chan models.SignalMessage { return s.messages }
func (s *memorySub) Presence() <-chan models.PresenceEvent { return s.presence }

func (s *memorySub) Members(ctx context.Context) ([]string, error) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.hub.membersLocked(s.topic), nil
}

func (s *memorySub) Close() error {
	s.closeOnce.Do(func() {
		s.hub.remove(s)
		close(s.closed)
	})
	return nil
}

func (s *memorySub) enqueue(v any) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memorySub) pump() {
	defer close(s.messages)
	defer close(s.presence)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.closed:
				return
			}
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		switch v := next.(type) {
		case models.SignalMessage:
			select {
			case s.messages <- v:
			case <-s.closed:
				return
			}
		case models.PresenceEvent:
			select {
			case s.presence <- v:
			case <-s.closed:
				return
			}
		}
	}
}

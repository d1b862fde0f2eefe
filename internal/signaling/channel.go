package signaling

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mossy-p/tutor-call/internal/models"
	"go.uber.org/zap"
)

// HandleState is the lifecycle of a room subscription.
type HandleState int

const (
	HandlePending HandleState = iota
	HandleJoined
	HandleError
	HandleClosed
)

func (s HandleState) String() string {
	switch s {
	case HandlePending:
		return "pending"
	case HandleJoined:
		return "joined"
	case HandleError:
		return "error"
	case HandleClosed:
		return "closed"
	}
	return fmt.Sprintf("HandleState(%d)", int(s))
}

type (
	MessageHandler  func(models.SignalMessage)
	PresenceHandler func(models.PresenceEvent)
)

// Channel opens room subscriptions on a transport for one participant.
type Channel struct {
	transport Transport
	memberID  string
	logger    *zap.Logger
}

// NewChannel creates a channel adapter. Every participant gets a unique presence key.
func NewChannel(transport Transport, logger *zap.Logger) *Channel {
	return &Channel{
		transport: transport,
		memberID:  "user-" + uuid.NewString(),
		logger:    logger,
	}
}

// NewChannelWithMember creates a channel adapter with a fixed presence key.
func NewChannelWithMember(transport Transport, memberID string, logger *zap.Logger) *Channel {
	return &Channel{transport: transport, memberID: memberID, logger: logger}
}

// MemberID is the presence key this participant joins rooms with.
func (c *Channel) MemberID() string {
	return c.memberID
}

// Join subscribes to the room's topic. onMessage and onPresence may be nil and can be
// replaced later; they are registered before the subscription goes live so no early
// message is missed. A transport failure is reported as ErrAdapter and leaves the
// returned handle in the error state.
func (c *Channel) Join(ctx context.Context, roomID string, onMessage MessageHandler, onPresence PresenceHandler) (*Handle, error) {
	topic := models.Topic(roomID)
	h := &Handle{
		roomID:     roomID,
		topic:      topic,
		logger:     c.logger.With(zap.String("topic", topic)),
		onMessage:  onMessage,
		onPresence: onPresence,
		done:       make(chan struct{}),
	}

	sub, err := c.transport.Subscribe(ctx, topic, c.memberID)
	if err != nil {
		h.mu.Lock()
		h.state = HandleError
		h.mu.Unlock()
		h.logger.Warn("subscribe failed", zap.Error(err))
		return h, fmt.Errorf("%w: join %s: %v", ErrAdapter, topic, err)
	}

	h.mu.Lock()
	h.sub = sub
	h.state = HandleJoined
	h.mu.Unlock()

	go h.dispatch(sub)
	h.logger.Info("joined", zap.String("member", c.memberID))
	return h, nil
}

// Handle is a live membership in a room topic.
type Handle struct {
	roomID string
	topic  string
	logger *zap.Logger

	mu         sync.Mutex
	state      HandleState
	sub        Subscription
	onMessage  MessageHandler
	onPresence PresenceHandler

	leaveOnce sync.Once
	done      chan struct{}
}

func (h *Handle) RoomID() string { return h.roomID }
func (h *Handle) Topic() string  { return h.topic }

func (h *Handle) State() HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Joined is shorthand for State() == HandleJoined.
func (h *Handle) Joined() bool {
	return h != nil && h.State() == HandleJoined
}

// OnMessage replaces the message handler.
func (h *Handle) OnMessage(fn MessageHandler) {
	h.mu.Lock()
	h.onMessage = fn
	h.mu.Unlock()
}

// OnPresence replaces the presence handler.
func (h *Handle) OnPresence(fn PresenceHandler) {
	h.mu.Lock()
	h.onPresence = fn
	h.mu.Unlock()
}

// Send publishes msg to the other participants of the room.
func (h *Handle) Send(ctx context.Context, msg models.SignalMessage) error {
	h.mu.Lock()
	state, sub := h.state, h.sub
	h.mu.Unlock()

	if state != HandleJoined {
		h.logger.Debug("dropping message, not joined",
			zap.String("type", string(msg.Type)), zap.Stringer("state", state))
		return fmt.Errorf("send %s: %w (state %s)", msg.Type, ErrNotJoined, state)
	}

	msg.RoomID = h.roomID
	if err := sub.Publish(ctx, msg); err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrAdapter, msg.Type, err)
	}
	return nil
}

// Members lists the presence keys currently subscribed to the topic.
func (h *Handle) Members(ctx context.Context) ([]string, error) {
	h.mu.Lock()
	state, sub := h.state, h.sub
	h.mu.Unlock()
	if state != HandleJoined {
		return nil, ErrNotJoined
	}
	return sub.Members(ctx)
}

// Leave unsubscribes. Calling it again, or on a handle that never joined, is a no-op.
func (h *Handle) Leave() {
	h.leaveOnce.Do(func() {
		h.mu.Lock()
		sub := h.sub
		h.state = HandleClosed
		h.mu.Unlock()

		close(h.done)
		if sub != nil {
			if err := sub.Close(); err != nil {
				h.logger.Warn("leave failed", zap.Error(err))
			}
		}
		h.logger.Info("left")
	})
}

// Done is closed once Leave has been called.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// dispatch delivers messages and presence events one at a time, in arrival order.
func (h *Handle) dispatch(sub Subscription) {
	messages, presence := sub.Messages(), sub.Presence()
	for messages != nil || presence != nil {
		select {
		case <-h.done:
			return
		case msg, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			h.mu.Lock()
			fn := h.onMessage
			h.mu.Unlock()
			if fn == nil {
				h.logger.Debug("no message handler", zap.String("type", string(msg.Type)))
				continue
			}
			fn(msg)
		case ev, ok := <-presence:
			if !ok {
				presence = nil
				continue
			}
			h.mu.Lock()
			fn := h.onPresence
			h.mu.Unlock()
			if fn != nil {
				fn(ev)
			}
		}
	}

	// The transport dropped the subscription underneath us.
	h.mu.Lock()
	if h.state == HandleJoined {
		h.state = HandleError
		h.logger.Warn("subscription lost")
	}
	h.mu.Unlock()
}

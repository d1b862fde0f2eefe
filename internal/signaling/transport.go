// Package signaling relays typed call signaling messages between the two
// participants of a room over a named publish/subscribe topic.
package signaling

import (
	"context"
	"errors"

	"github.com/mossy-p/tutor-call/internal/models"
)

var (
	// ErrAdapter wraps every failure to reach or publish on the underlying transport.
	ErrAdapter = errors.New("adapter_error")

	// ErrNotJoined is returned by Send when the handle is not in the joined state.
	// The message was not delivered; the caller may retry once joined.
	ErrNotJoined = errors.New("channel not joined")

	ErrSubscriptionClosed = errors.New("subscription closed")
)

// Transport is a named-topic publish/subscribe service with presence tracking.
type Transport interface {
	// Subscribe joins topic as memberID. The subscription is live when Subscribe returns.
	Subscribe(ctx context.Context, topic, memberID string) (Subscription, error)
}

// Subscription is one member's view of a topic. Messages published by the member
// itself are never delivered back on Messages.
type Subscription interface {
	Publish(ctx context.Context, msg models.SignalMessage) error
	Messages() <-chan models.SignalMessage
	Presence() <-chan models.PresenceEvent
	Members(ctx context.Context) ([]string, error)
	// Close leaves the topic. Both channels are closed afterwards.
	Close() error
}

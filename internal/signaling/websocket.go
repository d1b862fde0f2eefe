package signaling

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/tutor-call/internal/models"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next message or ping from the relay
	readWait = 60 * time.Second
)

// WebSocketTransport reaches room topics through the server's /ws/signal relay.
// The relay authenticates the participant from the token and relays under the member
// ID passed to Subscribe.
type WebSocketTransport struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer
	logger  *zap.Logger
}

func NewWebSocketTransport(baseURL, token string, logger *zap.Logger) *WebSocketTransport {
	return &WebSocketTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		dialer:  websocket.DefaultDialer,
		logger:  logger,
	}
}

// signalURL builds the relay URL for a room topic.
func (t *WebSocketTransport) signalURL(topic, memberID string) string {
	roomID := strings.TrimPrefix(topic, models.TopicPrefix)
	q := url.Values{}
	q.Set("token", t.token)
	q.Set("member", memberID)
	return fmt.Sprintf("%s/ws/signal/%s?%s", t.baseURL, url.PathEscape(roomID), q.Encode())
}

func (t *WebSocketTransport) Subscribe(ctx context.Context, topic, memberID string) (Subscription, error) {
	conn, resp, err := t.dialer.DialContext(ctx, t.signalURL(topic, memberID), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial relay for %s: %s: %w", topic, resp.Status, err)
		}
		return nil, fmt.Errorf("dial relay for %s: %w", topic, err)
	}

	// The relay answers with the current membership once the subscription is live.
	conn.SetReadDeadline(time.Now().Add(writeWait))
	var first models.SignalMessage
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, fmt.Errorf("await relay sync for %s: %w", topic, err)
	}
	if first.Type == models.SignalTypeError {
		conn.Close()
		return nil, fmt.Errorf("relay rejected %s: %s", topic, first.Error)
	}
	snapshot, err := first.PresenceEvent()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("unexpected first frame on %s: %w", topic, err)
	}

	sub := &wsSub{
		conn:     conn,
		topic:    topic,
		logger:   t.logger.With(zap.String("topic", topic), zap.String("member", memberID)),
		members:  append([]string(nil), snapshot.Members...),
		closed:   make(chan struct{}),
		messages: make(chan models.SignalMessage, subscriptionBuf),
		presence: make(chan models.PresenceEvent, subscriptionBuf),
	}
	sub.presence <- snapshot

	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	go sub.readPump()
	return sub, nil
}

type wsSub struct {
	conn   *websocket.Conn
	topic  string
	logger *zap.Logger

	writeMu sync.Mutex

	membersMu sync.Mutex
	members   []string

	closeOnce sync.Once
	closed    chan struct{}
	messages  chan models.SignalMessage
	presence  chan models.PresenceEvent
}

func (s *wsSub) Publish(ctx context.Context, msg models.SignalMessage) error {
	select {
	case <-s.closed:
		return ErrSubscriptionClosed
	default:
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

func (s *wsSub) Messages() <-chan models.SignalMessage { return s.messages }
func (s *wsSub) Presence() <-chan models.PresenceEvent { return s.presence }

// Members returns the membership as last reported by the relay.
func (s *wsSub) Members(ctx context.Context) ([]string, error) {
	s.membersMu.Lock()
	defer s.membersMu.Unlock()
	return append([]string(nil), s.members...), nil
}

func (s *wsSub) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.writeMu.Lock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *wsSub) readPump() {
	defer close(s.messages)
	defer close(s.presence)

	for {
		var msg models.SignalMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			select {
			case <-s.closed:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Warn("relay connection lost", zap.Error(err))
				}
			}
			return
		}

		switch msg.Type {
		case models.SignalTypePresence:
			ev, err := msg.PresenceEvent()
			if err != nil {
				s.logger.Warn("dropping malformed presence", zap.Error(err))
				continue
			}
			s.applyPresence(ev)
			select {
			case s.presence <- ev:
			case <-s.closed:
				return
			}
		case models.SignalTypeError:
			s.logger.Warn("relay error", zap.String("error", msg.Error))
		default:
			select {
			case s.messages <- msg:
			case <-s.closed:
				return
			}
		}
	}
}

func (s *wsSub) applyPresence(ev models.PresenceEvent) {
	s.membersMu.Lock()
	defer s.membersMu.Unlock()

	switch ev.Event {
	case models.PresenceSync:
		s.members = append([]string(nil), ev.Members...)
	case models.PresenceJoin:
		for _, m := range s.members {
			if m == ev.Member {
				return
			}
		}
		s.members = append(s.members, ev.Member)
	case models.PresenceLeave:
		kept := s.members[:0]
		for _, m := range s.members {
			if m != ev.Member {
				kept = append(kept, m)
			}
		}
		s.members = kept
	}
}

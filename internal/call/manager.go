package call

import (
	"context"
	"sync"

	"github.com/mossy-p/tutor-call/internal/media"
	"github.com/mossy-p/tutor-call/internal/signaling"
	"go.uber.org/zap"
)

// SessionFactory builds the media session for a new call participation.
type SessionFactory func(logger *zap.Logger) *media.Session

// Manager owns the active orchestrator of each room this participant is in.
type Manager struct {
	channel    *signaling.Channel
	newSession SessionFactory
	opts       Options
	logger     *zap.Logger

	mu    sync.Mutex
	calls map[string]*Orchestrator
}

func NewManager(channel *signaling.Channel, newSession SessionFactory, opts Options, logger *zap.Logger) *Manager {
	return &Manager{
		channel:    channel,
		newSession: newSession,
		opts:       opts,
		logger:     logger,
		calls:      make(map[string]*Orchestrator),
	}
}

// Join enters roomID with a fresh orchestrator. Any previous participation in the
// room is torn down first so at most one peer connection exists per room.
func (m *Manager) Join(ctx context.Context, roomID string) (*Orchestrator, error) {
	m.mu.Lock()
	prev := m.calls[roomID]
	delete(m.calls, roomID)
	m.mu.Unlock()

	if prev != nil {
		m.logger.Info("replacing call", zap.String("room", roomID))
		prev.Close()
	}

	logger := m.logger.With(zap.String("room", roomID))
	o := New(roomID, m.channel, m.newSession(logger), m.logger, m.opts)
	if err := o.Start(ctx); err != nil {
		o.Close()
		return nil, err
	}

	m.mu.Lock()
	m.calls[roomID] = o
	m.mu.Unlock()

	go func() {
		<-o.Done()
		m.mu.Lock()
		if m.calls[roomID] == o {
			delete(m.calls, roomID)
		}
		m.mu.Unlock()
	}()
	return o, nil
}

// Get returns the active orchestrator for roomID.
func (m *Manager) Get(roomID string) (*Orchestrator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.calls[roomID]
	return o, ok
}

// Close tears down every active call.
func (m *Manager) Close() {
	m.mu.Lock()
	calls := m.calls
	m.calls = make(map[string]*Orchestrator)
	m.mu.Unlock()

	for _, o := range calls {
		o.Close()
	}
}

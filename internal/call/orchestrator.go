// Package call sequences a call participation: webcam start, offer/answer negotiation
// over the room's signaling channel, the active call and teardown.
//
// Every user action, signaling message and peer connection callback becomes an event
// on a per-participation queue drained by a single goroutine, so handlers never run
// concurrently and each one sees the state left by the previous one.
package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mossy-p/tutor-call/internal/media"
	"github.com/mossy-p/tutor-call/internal/metrics"
	"github.com/mossy-p/tutor-call/internal/models"
	"github.com/mossy-p/tutor-call/internal/signaling"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

const (
	defaultOfferWait       = 30 * time.Second
	defaultCandidateBuffer = 64
	eventQueueSize         = 256

	// Bound on the best-effort hangup published when the view goes away.
	closeHangupTimeout = 2 * time.Second
)

// Close reasons reported in Notice.Reason.
const (
	ReasonHangup           = "hangup"
	ReasonRemoteHangup     = "remote_hangup"
	ReasonClosed           = "closed"
	ReasonNegotiationError = "negotiation_error"
	ReasonTransportFailure = "transport_failure"
	ReasonAdapterError     = "adapter_error"
)

// Notice is delivered to the Observer on every state change and every user-visible
// failure.
type Notice struct {
	State  State
	Reason string
	Err    *Error
}

// Options tunes an Orchestrator. Zero values select the defaults.
type Options struct {
	// OfferWait bounds how long an offer that arrived before capture is held.
	OfferWait time.Duration
	// CandidateBuffer bounds the remote candidates held until a remote description is set.
	CandidateBuffer int
	// Observer is called on the orchestrator goroutine and must not block.
	Observer func(Notice)
}

type event struct {
	kind        eventKind
	ctx         context.Context
	msg         models.SignalMessage
	presence    models.PresenceEvent
	candidate   webrtc.ICECandidateInit
	peerState   webrtc.PeerConnectionState
	constraints media.Constraints
	err         error
	gen         int
	peer        int
	reply       chan error
}

// Snapshot is a point-in-time view of a call participation.
type Snapshot struct {
	RoomID             string
	State              State
	Channel            signaling.HandleState
	PeerState          webrtc.PeerConnectionState
	ActiveLocalTracks  int
	RemoteTracks       int
	PendingOffer       bool
	BufferedCandidates int
	Members            int
	LastError          *Error
}

// Orchestrator drives one participant's call in one room.
type Orchestrator struct {
	roomID  string
	channel *signaling.Channel
	media   *media.Session
	logger  *zap.Logger
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	done   chan struct{}

	// Owned by the run goroutine.
	handle         *signaling.Handle
	pc             media.PeerConnection
	peerGen        int
	pendingOffer   *models.SignalMessage
	offerGen       int
	offerTimer     *time.Timer
	candidates     *candidateBuffer
	captureReplies []chan error
	negotiateStart time.Time

	// Mirrors of loop-owned state for State and Snapshot.
	mu           sync.Mutex
	state        State
	joined       *signaling.Handle
	members      int
	lastError    *Error
	hasPending   bool
	bufferedSize int
}

// New creates an orchestrator for roomID and starts its event loop. It owns session:
// the session is torn down when the call closes.
func New(roomID string, channel *signaling.Channel, session *media.Session, logger *zap.Logger, opts Options) *Orchestrator {
	if opts.OfferWait <= 0 {
		opts.OfferWait = defaultOfferWait
	}
	if opts.CandidateBuffer <= 0 {
		opts.CandidateBuffer = defaultCandidateBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		roomID:     roomID,
		channel:    channel,
		media:      session,
		logger:     logger.With(zap.String("room", roomID)),
		opts:       opts,
		ctx:        ctx,
		cancel:     cancel,
		events:     make(chan event, eventQueueSize),
		done:       make(chan struct{}),
		candidates: newCandidateBuffer(opts.CandidateBuffer),
		state:      StateIdle,
	}

	metrics.ActiveCalls.Inc()
	go o.run()
	return o
}

func (o *Orchestrator) RoomID() string { return o.roomID }

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Done is closed once the call has reached closed and the event loop has stopped.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	snap := Snapshot{
		RoomID:             o.roomID,
		State:              o.state,
		Channel:            signaling.HandlePending,
		PendingOffer:       o.hasPending,
		BufferedCandidates: o.bufferedSize,
		Members:            o.members,
		LastError:          o.lastError,
	}
	h := o.joined
	o.mu.Unlock()

	if h != nil {
		snap.Channel = h.State()
	}
	stats := o.media.Stats()
	snap.PeerState = stats.PeerState
	snap.ActiveLocalTracks = stats.ActiveLocalTracks
	snap.RemoteTracks = stats.RemoteTracks
	return snap
}

// Start creates the peer connection and joins the room's signaling topic. A join
// failure is reported as adapter_error; Start may be called again to retry.
func (o *Orchestrator) Start(ctx context.Context) error {
	return o.do(ctx, event{kind: evStart})
}

// StartWebcam captures local media and waits for the capture to finish. On failure
// the call stays idle and the returned error is permission_denied or
// device_unavailable.
func (o *Orchestrator) StartWebcam(ctx context.Context, c media.Constraints) error {
	return o.do(ctx, event{kind: evStartWebcam, constraints: c})
}

// StartCall sends an offer to the other participant. It requires ready state and a
// joined channel.
func (o *Orchestrator) StartCall(ctx context.Context) error {
	return o.do(ctx, event{kind: evStartCall})
}

// Hangup tells the other participant the call is over and tears the call down.
// Hanging up a closed call is a no-op.
func (o *Orchestrator) Hangup(ctx context.Context) error {
	err := o.do(ctx, event{kind: evHangup})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Close tears the call down as when its view goes away: a hangup is published on a
// best-effort basis if the channel is still joined. Close blocks until the event loop
// has stopped and is safe to call more than once.
func (o *Orchestrator) Close() {
	o.do(context.Background(), event{kind: evClose})
	<-o.done
}

func (o *Orchestrator) do(ctx context.Context, ev event) error {
	ev.ctx = ctx
	ev.reply = make(chan error, 1)
	if !o.post(ctx, ev) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return newError(KindNotReady, ev.kind.String(), ErrClosed)
	}

	select {
	case err := <-ev.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		select {
		case err := <-ev.reply:
			return err
		default:
			return newError(KindNotReady, ev.kind.String(), ErrClosed)
		}
	}
}

// post queues ev for the event loop. It reports false once the loop has stopped.
func (o *Orchestrator) post(ctx context.Context, ev event) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.events <- ev:
		return true
	case <-o.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) run() {
	defer close(o.done)
	defer metrics.ActiveCalls.Dec()

	for ev := range o.events {
		o.dispatch(ev)
		o.mirror()
		if o.State() == StateClosed {
			o.drain()
			return
		}
	}
}

// drain answers user actions still queued behind the event that closed the call.
func (o *Orchestrator) drain() {
	for {
		select {
		case ev := <-o.events:
			o.reject(ev)
		default:
			return
		}
	}
}

func (o *Orchestrator) mirror() {
	o.mu.Lock()
	o.hasPending = o.pendingOffer != nil
	o.bufferedSize = o.candidates.Len()
	o.mu.Unlock()
}

package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mossy-p/tutor-call/internal/media"
	"github.com/mossy-p/tutor-call/internal/metrics"
	"github.com/mossy-p/tutor-call/internal/models"
	"github.com/mossy-p/tutor-call/internal/signaling"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

func (o *Orchestrator) dispatch(ev event) {
	state := o.State()
	if !accepts(state, ev.kind) {
		o.reject(ev)
		return
	}

	switch ev.kind {
	case evStart:
		ev.reply <- o.onStart(ev)
	case evStartWebcam:
		o.onStartWebcam(ev)
	case evCaptureDone:
		o.onCaptureDone(ev)
	case evStartCall:
		ev.reply <- o.onStartCall()
	case evHangup:
		o.onHangup()
		ev.reply <- nil
	case evClose:
		o.onClose()
		ev.reply <- nil
	case evOffer:
		o.onOffer(ev.msg)
	case evAnswer:
		o.onAnswer(ev.msg)
	case evCandidate:
		o.onCandidate(ev.msg)
	case evRemoteHangup:
		o.logger.Info("remote participant hung up", zap.String("from", ev.msg.From))
		o.teardown(ReasonRemoteHangup, nil)
	case evLocalCandidate:
		o.onLocalCandidate(ev)
	case evPeerState:
		o.onPeerState(ev)
	case evOfferTimeout:
		o.onOfferTimeout(ev.gen)
	case evPresence:
		o.onPresence(ev.presence)
	}
}

// reject handles an event the current state does not accept.
func (o *Orchestrator) reject(ev event) {
	state := o.State()
	switch {
	case ev.kind.userAction():
		if state == StateClosed {
			if ev.kind == evHangup || ev.kind == evClose {
				ev.reply <- nil
				return
			}
			ev.reply <- newError(KindNotReady, ev.kind.String(), ErrClosed)
			return
		}
		ev.reply <- newError(KindNotReady, ev.kind.String(),
			fmt.Errorf("%w: %s not allowed while %s", ErrNotReady, ev.kind, state))
	case ev.kind.signal():
		o.stale(ev.kind.String(), fmt.Sprintf("received while %s", state))
	default:
		o.logger.Debug("ignoring event", zap.Stringer("event", ev.kind), zap.Stringer("state", state))
	}
}

func (o *Orchestrator) onStart(ev event) error {
	if o.pc == nil {
		pc, err := o.media.CreatePeerConnection()
		if err != nil {
			return o.report(newError(KindNegotiation, "create peer connection", err))
		}
		o.usePeer(pc)
	}

	if o.handle.Joined() {
		return nil
	}

	handle, err := o.channel.Join(ev.ctx, o.roomID, o.onSignal, o.onPresenceEvent)
	if err != nil {
		return o.report(newError(KindAdapter, "join", err))
	}
	o.handle = handle
	o.mu.Lock()
	o.joined = handle
	o.mu.Unlock()
	return nil
}

// usePeer makes pc the call's peer connection. Its callbacks are tagged so events from
// a replaced connection are ignored.
func (o *Orchestrator) usePeer(pc media.PeerConnection) {
	o.peerGen++
	gen := o.peerGen
	pc.OnICECandidate(func(c webrtc.ICECandidateInit) {
		o.post(o.ctx, event{kind: evLocalCandidate, candidate: c, peer: gen})
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		o.post(o.ctx, event{kind: evPeerState, peerState: s, peer: gen})
	})
	o.pc = pc
}

// replacePeer abandons the current negotiation by swapping in a fresh peer connection
// with the local tracks attached.
func (o *Orchestrator) replacePeer() error {
	pc, err := o.media.ReplacePeerConnection()
	if err != nil {
		return err
	}
	o.usePeer(pc)
	if _, err := o.media.AttachLocalTracks(); err != nil {
		return fmt.Errorf("attach local tracks: %w", err)
	}
	return nil
}

// onSignal runs on the channel's dispatch goroutine and only queues.
func (o *Orchestrator) onSignal(msg models.SignalMessage) {
	var kind eventKind
	switch msg.Type {
	case models.SignalTypeOffer:
		kind = evOffer
	case models.SignalTypeAnswer:
		kind = evAnswer
	case models.SignalTypeCandidate:
		kind = evCandidate
	case models.SignalTypeHangup:
		kind = evRemoteHangup
	default:
		o.logger.Debug("ignoring signal", zap.String("type", string(msg.Type)))
		return
	}
	o.post(o.ctx, event{kind: kind, msg: msg})
}

func (o *Orchestrator) onPresenceEvent(ev models.PresenceEvent) {
	o.post(o.ctx, event{kind: evPresence, presence: ev})
}

func (o *Orchestrator) onPresence(ev models.PresenceEvent) {
	o.mu.Lock()
	switch ev.Event {
	case models.PresenceSync:
		o.members = len(ev.Members)
	case models.PresenceJoin:
		o.members++
	case models.PresenceLeave:
		if o.members > 0 {
			o.members--
		}
	}
	members := o.members
	o.mu.Unlock()
	o.logger.Debug("presence", zap.String("event", string(ev.Event)), zap.String("member", ev.Member), zap.Int("members", members))
}

func (o *Orchestrator) onStartWebcam(ev event) {
	o.setState(StateCapturing, "", nil)
	o.captureReplies = append(o.captureReplies, ev.reply)

	go func() {
		_, err := o.media.StartCapture(o.ctx, ev.constraints)
		o.post(o.ctx, event{kind: evCaptureDone, err: err})
	}()
}

func (o *Orchestrator) onCaptureDone(ev event) {
	var result error
	if ev.err != nil {
		kind := KindDeviceUnavailable
		if errors.Is(ev.err, media.ErrPermissionDenied) {
			kind = KindPermissionDenied
		}
		captureErr := newError(kind, "start webcam", ev.err)
		metrics.CallErrorsTotal.WithLabelValues(string(kind)).Inc()
		o.logger.Warn("capture failed", zap.Error(captureErr))
		o.setState(StateIdle, "", captureErr)
		result = captureErr
	} else {
		o.setState(StateReady, "", nil)
		if o.pc != nil {
			if _, err := o.media.AttachLocalTracks(); err != nil {
				o.logger.Warn("failed to attach local tracks", zap.Error(err))
			}
		}
	}

	for _, reply := range o.captureReplies {
		reply <- result
	}
	o.captureReplies = nil

	if result == nil && o.pendingOffer != nil {
		msg := *o.pendingOffer
		o.clearPendingOffer()
		o.logger.Info("applying queued offer")
		o.acceptOffer(msg)
	}
}

func (o *Orchestrator) onStartCall() error {
	if !o.handle.Joined() {
		return o.report(newError(KindAdapter, "start call", signaling.ErrNotJoined))
	}
	if o.pc == nil {
		return o.report(newError(KindNotReady, "start call", ErrNotReady))
	}

	o.setState(StateOffering, "", nil)
	o.negotiateStart = time.Now()
	metrics.CallsStartedTotal.WithLabelValues("offerer").Inc()

	if _, err := o.media.AttachLocalTracks(); err != nil {
		return o.fail(newError(KindNegotiation, "attach local tracks", err))
	}
	offer, err := o.pc.CreateOffer()
	if err != nil {
		return o.fail(newError(KindNegotiation, "create offer", err))
	}
	if err := o.pc.SetLocalDescription(offer); err != nil {
		return o.fail(newError(KindNegotiation, "set local offer", err))
	}

	if err := o.publish(models.NewOffer(offer)); err != nil {
		// Nothing was sent. The unsent offer is dropped with its peer connection so the
		// user can retry from ready.
		if resetErr := o.replacePeer(); resetErr != nil {
			return o.fail(newError(KindNegotiation, "replace peer connection", resetErr))
		}
		o.candidates.Drain()
		o.setState(StateReady, "", nil)
		return o.report(newError(KindAdapter, "publish offer", err))
	}
	o.logger.Info("offer sent")
	return nil
}

func (o *Orchestrator) onOffer(msg models.SignalMessage) {
	if _, err := msg.OfferDescription(); err != nil {
		o.logger.Warn("dropping malformed offer", zap.Error(err))
		return
	}

	switch o.State() {
	case StateIdle, StateCapturing:
		o.queueOffer(msg)
	case StateOffering:
		// Both sides offered. The participant with the lower member ID yields.
		// Buffered candidates came from the remote's offer: dropped with it when this
		// side keeps its own, applied to the replacement when this side yields.
		if o.channel.MemberID() > msg.From {
			o.candidates.Drain()
			o.stale("offer", "glare, keeping local offer")
			return
		}
		if err := o.replacePeer(); err != nil {
			o.fail(newError(KindNegotiation, "replace peer connection", err))
			return
		}
		o.logger.Info("glare, dropped local offer")
		o.acceptOffer(msg)
	default:
		o.acceptOffer(msg)
	}
}

func (o *Orchestrator) queueOffer(msg models.SignalMessage) {
	if o.pendingOffer != nil {
		o.logger.Info("replacing queued offer")
	}
	o.clearPendingOffer()
	o.pendingOffer = &msg

	o.offerGen++
	gen := o.offerGen
	o.offerTimer = time.AfterFunc(o.opts.OfferWait, func() {
		o.post(o.ctx, event{kind: evOfferTimeout, gen: gen})
	})
	o.logger.Info("offer queued until webcam starts", zap.Duration("wait", o.opts.OfferWait))
}

func (o *Orchestrator) clearPendingOffer() {
	o.pendingOffer = nil
	if o.offerTimer != nil {
		o.offerTimer.Stop()
		o.offerTimer = nil
	}
}

// onOfferTimeout rejects a queued offer that capture never caught up with. The remote
// participant gets a hangup so it stops waiting; this side stays in the room.
func (o *Orchestrator) onOfferTimeout(gen int) {
	if o.pendingOffer == nil || gen != o.offerGen {
		return
	}
	o.clearPendingOffer()
	o.candidates.Drain()

	if err := o.publish(models.NewHangup()); err != nil {
		o.logger.Warn("failed to reject offer", zap.Error(err))
	}
	o.report(newError(KindNotReady, "answer offer",
		fmt.Errorf("%w: webcam not started within %s", ErrNotReady, o.opts.OfferWait)))
}

// acceptOffer answers an offer. The caller has checked the state allows it.
func (o *Orchestrator) acceptOffer(msg models.SignalMessage) {
	offer, _ := msg.OfferDescription()

	o.setState(StateAnswering, "", nil)
	o.negotiateStart = time.Now()
	metrics.CallsStartedTotal.WithLabelValues("answerer").Inc()

	if _, err := o.media.AttachLocalTracks(); err != nil {
		o.fail(newError(KindNegotiation, "attach local tracks", err))
		return
	}
	if err := o.pc.SetRemoteDescription(offer); err != nil {
		o.fail(newError(KindNegotiation, "set remote offer", err))
		return
	}
	o.flushCandidates()

	answer, err := o.pc.CreateAnswer()
	if err != nil {
		o.fail(newError(KindNegotiation, "create answer", err))
		return
	}
	if err := o.pc.SetLocalDescription(answer); err != nil {
		o.fail(newError(KindNegotiation, "set local answer", err))
		return
	}
	if err := o.publish(models.NewAnswer(answer)); err != nil {
		o.fail(newError(KindAdapter, "publish answer", err))
		return
	}

	o.logger.Info("answer sent")
	o.connected("answerer")
}

func (o *Orchestrator) onAnswer(msg models.SignalMessage) {
	// A second answer for the same offer must not renegotiate.
	if o.pc.RemoteDescription() != nil {
		o.stale("answer", "remote description already set")
		return
	}
	answer, err := msg.AnswerDescription()
	if err != nil {
		o.logger.Warn("dropping malformed answer", zap.Error(err))
		return
	}
	if err := o.pc.SetRemoteDescription(answer); err != nil {
		o.fail(newError(KindNegotiation, "set remote answer", err))
		return
	}
	o.flushCandidates()
	o.logger.Info("answer applied")
	o.connected("offerer")
}

func (o *Orchestrator) connected(role string) {
	metrics.CallsConnectedTotal.Inc()
	metrics.NegotiationSeconds.WithLabelValues(role).Observe(time.Since(o.negotiateStart).Seconds())
	o.setState(StateConnected, "", nil)
}

func (o *Orchestrator) onCandidate(msg models.SignalMessage) {
	candidate, err := msg.ICECandidate()
	if err != nil {
		o.logger.Warn("dropping malformed candidate", zap.Error(err))
		return
	}

	if o.pc == nil || o.pc.RemoteDescription() == nil {
		if o.candidates.Push(candidate) {
			metrics.CandidatesDroppedTotal.Inc()
			o.logger.Warn("candidate buffer full, dropped oldest", zap.Int("size", o.opts.CandidateBuffer))
		}
		return
	}
	o.applyCandidate(candidate)
}

func (o *Orchestrator) applyCandidate(candidate webrtc.ICECandidateInit) {
	if err := o.pc.AddICECandidate(candidate); err != nil {
		o.logger.Debug("ignoring candidate", zap.Error(err))
	}
}

func (o *Orchestrator) flushCandidates() {
	buffered := o.candidates.Drain()
	for _, c := range buffered {
		o.applyCandidate(c)
	}
	if len(buffered) > 0 {
		o.logger.Debug("flushed buffered candidates", zap.Int("count", len(buffered)))
	}
}

func (o *Orchestrator) onLocalCandidate(ev event) {
	if ev.peer != o.peerGen {
		return
	}
	if err := o.publish(models.NewCandidate(ev.candidate)); err != nil {
		o.logger.Warn("failed to send candidate", zap.Error(err))
	}
}

// onPeerState ends the call when the transport fails. Disconnects are left alone so
// ICE can recover on its own.
func (o *Orchestrator) onPeerState(ev event) {
	if ev.peer != o.peerGen {
		return
	}
	s := ev.peerState
	o.logger.Info("peer connection state", zap.Stringer("state", s))
	switch s {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		o.teardown(ReasonTransportFailure, newError(KindTransportFailure, "peer connection", fmt.Errorf("transport %s", s)))
	}
}

func (o *Orchestrator) onHangup() {
	if err := o.publish(models.NewHangup()); err != nil {
		o.logger.Warn("failed to send hangup", zap.Error(err))
	}
	o.teardown(ReasonHangup, nil)
}

func (o *Orchestrator) onClose() {
	if o.handle.Joined() {
		ctx, cancel := context.WithTimeout(context.Background(), closeHangupTimeout)
		if err := o.handle.Send(ctx, models.NewHangup()); err != nil {
			o.logger.Debug("best-effort hangup failed", zap.Error(err))
		}
		cancel()
	}
	o.teardown(ReasonClosed, nil)
}

// publish sends msg on the joined channel.
func (o *Orchestrator) publish(msg models.SignalMessage) error {
	if o.handle == nil {
		return signaling.ErrNotJoined
	}
	return o.handle.Send(o.ctx, msg)
}

// fail ends the call after a negotiation or adapter failure. A hangup is attempted so
// the other participant does not wait for a reply that will never come.
func (o *Orchestrator) fail(err *Error) error {
	o.logger.Error("call failed", zap.Error(err))
	if pubErr := o.publish(models.NewHangup()); pubErr != nil {
		o.logger.Debug("hangup after failure not sent", zap.Error(pubErr))
	}
	reason := ReasonNegotiationError
	if err.Kind == KindAdapter {
		reason = ReasonAdapterError
	}
	o.teardown(reason, err)
	return err
}

// report records a failure that does not change state and notifies the observer.
func (o *Orchestrator) report(err *Error) error {
	metrics.CallErrorsTotal.WithLabelValues(string(err.Kind)).Inc()
	o.logger.Warn("call error", zap.String("kind", string(err.Kind)), zap.Error(err))
	o.mu.Lock()
	o.lastError = err
	state := o.state
	o.mu.Unlock()
	o.notify(Notice{State: state, Err: err})
	return err
}

func (o *Orchestrator) stale(signal, detail string) {
	metrics.CallErrorsTotal.WithLabelValues(string(KindStaleSignal)).Inc()
	o.logger.Debug("stale signal", zap.String("signal", signal), zap.String("detail", detail))
}

// teardown stops all media, closes the peer connection and only then leaves the
// channel. It runs once; later calls do nothing.
func (o *Orchestrator) teardown(reason string, cause *Error) {
	if o.State() == StateClosed {
		return
	}

	o.clearPendingOffer()
	o.candidates.Drain()
	stats := o.media.Teardown()
	if o.handle != nil {
		o.handle.Leave()
	}
	o.cancel()

	for _, reply := range o.captureReplies {
		reply <- newError(KindNotReady, "start webcam", ErrClosed)
	}
	o.captureReplies = nil

	if cause != nil {
		metrics.CallErrorsTotal.WithLabelValues(string(cause.Kind)).Inc()
	}
	metrics.CallsClosedTotal.WithLabelValues(reason).Inc()
	o.logger.Info("call closed", zap.String("reason", reason),
		zap.Int("local_tracks_stopped", stats.LocalTracksStopped),
		zap.Int("remote_tracks_stopped", stats.RemoteTracksStopped))
	o.setState(StateClosed, reason, cause)
}

func (o *Orchestrator) setState(to State, reason string, cause *Error) {
	o.mu.Lock()
	from := o.state
	if from != to && !canTransition(from, to) {
		o.mu.Unlock()
		o.logger.DPanic("illegal transition", zap.Stringer("from", from), zap.Stringer("to", to))
		return
	}
	o.state = to
	if cause != nil {
		o.lastError = cause
	}
	o.mu.Unlock()

	if from != to {
		o.logger.Info("state", zap.Stringer("from", from), zap.Stringer("to", to))
	}
	o.notify(Notice{State: to, Reason: reason, Err: cause})
}

func (o *Orchestrator) notify(n Notice) {
	if o.opts.Observer != nil {
		o.opts.Observer(n)
	}
}

package call

import "fmt"

// State is a call participation's position in the call lifecycle.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateReady
	// StateOffering is negotiating as the offerer.
	StateOffering
	// StateAnswering is negotiating as the answerer.
	StateAnswering
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateReady:
		return "ready"
	case StateOffering:
		return "negotiating(offerer)"
	case StateAnswering:
		return "negotiating(answerer)"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Negotiating reports whether an offer/answer exchange is in flight.
func (s State) Negotiating() bool {
	return s == StateOffering || s == StateAnswering
}

// next lists the states each state may move to.
var next = map[State][]State{
	StateIdle:      {StateCapturing, StateClosed},
	StateCapturing: {StateIdle, StateReady, StateClosed},
	StateReady:     {StateCapturing, StateOffering, StateAnswering, StateClosed},
	// Back to ready when the offer could not be published.
	StateOffering:  {StateAnswering, StateConnected, StateReady, StateClosed},
	StateAnswering: {StateConnected, StateClosed},
	StateConnected: {StateClosed},
}

func canTransition(from, to State) bool {
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}

type eventKind int

const (
	evStart eventKind = iota
	evStartWebcam
	evCaptureDone
	evStartCall
	evHangup
	evClose
	evOffer
	evAnswer
	evCandidate
	evRemoteHangup
	evLocalCandidate
	evPeerState
	evOfferTimeout
	evPresence
)

func (k eventKind) String() string {
	switch k {
	case evStart:
		return "start"
	case evStartWebcam:
		return "start_webcam"
	case evCaptureDone:
		return "capture_done"
	case evStartCall:
		return "start_call"
	case evHangup:
		return "hangup"
	case evClose:
		return "close"
	case evOffer:
		return "offer"
	case evAnswer:
		return "answer"
	case evCandidate:
		return "candidate"
	case evRemoteHangup:
		return "remote_hangup"
	case evLocalCandidate:
		return "local_candidate"
	case evPeerState:
		return "peer_state"
	case evOfferTimeout:
		return "offer_timeout"
	case evPresence:
		return "presence"
	}
	return fmt.Sprintf("eventKind(%d)", int(k))
}

// userAction reports whether the event carries a reply for a caller.
func (k eventKind) userAction() bool {
	switch k {
	case evStart, evStartWebcam, evStartCall, evHangup, evClose:
		return true
	}
	return false
}

// signal reports whether the event came from the remote participant.
func (k eventKind) signal() bool {
	switch k {
	case evOffer, evAnswer, evCandidate, evRemoteHangup:
		return true
	}
	return false
}

type eventSet map[eventKind]bool

func events(kinds ...eventKind) eventSet {
	set := make(eventSet, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return set
}

// always are accepted in every state but closed.
var always = []eventKind{evStart, evHangup, evClose, evCandidate, evRemoteHangup, evPeerState, evPresence}

// accepted lists the events each state handles. Anything else is rejected before a
// handler runs: user actions get a not_ready error, remote signals are stale.
var accepted = map[State]eventSet{
	StateIdle:      events(append(always, evStartWebcam, evOffer, evOfferTimeout)...),
	StateCapturing: events(append(always, evCaptureDone, evOffer, evOfferTimeout)...),
	StateReady:     events(append(always, evStartWebcam, evStartCall, evOffer)...),
	StateOffering:  events(append(always, evOffer, evAnswer, evLocalCandidate)...),
	StateAnswering: events(append(always, evLocalCandidate)...),
	StateConnected: events(append(always, evLocalCandidate)...),
	StateClosed:    events(),
}

func accepts(s State, k eventKind) bool {
	return accepted[s][k]
}

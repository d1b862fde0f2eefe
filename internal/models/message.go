package models

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// SignalType represents the type of WebRTC signaling message
type SignalType string

const (
	SignalTypeJoin      SignalType = "join"
	SignalTypePresence  SignalType = "presence"
	SignalTypeOffer     SignalType = "offer"
	SignalTypeAnswer    SignalType = "answer"
	SignalTypeCandidate SignalType = "candidate"
	SignalTypeHangup    SignalType = "hangup"
	SignalTypeError     SignalType = "error"
)

// Relayed reports whether peers exchange messages of this type with each other.
// Join, presence and error messages only ever come from the server.
func (t SignalType) Relayed() bool {
	switch t {
	case SignalTypeOffer, SignalTypeAnswer, SignalTypeCandidate, SignalTypeHangup:
		return true
	}
	return false
}

// SignalMessage represents a WebRTC signaling message
type SignalMessage struct {
	Type    SignalType      `json:"type"`
	From    string          `json:"from,omitempty"`
	RoomID  string          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type OfferPayload struct {
	Offer webrtc.SessionDescription `json:"offer"`
}

type AnswerPayload struct {
	Answer webrtc.SessionDescription `json:"answer"`
}

type CandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// HangupPayload is always encoded as {}.
type HangupPayload struct{}

func NewOffer(offer webrtc.SessionDescription) SignalMessage {
	return newMessage(SignalTypeOffer, OfferPayload{Offer: offer})
}

func NewAnswer(answer webrtc.SessionDescription) SignalMessage {
	return newMessage(SignalTypeAnswer, AnswerPayload{Answer: answer})
}

func NewCandidate(candidate webrtc.ICECandidateInit) SignalMessage {
	return newMessage(SignalTypeCandidate, CandidatePayload{Candidate: candidate})
}

func NewHangup() SignalMessage {
	return newMessage(SignalTypeHangup, HangupPayload{})
}

func NewPresence(event PresenceEvent) SignalMessage {
	return newMessage(SignalTypePresence, event)
}

func newMessage(t SignalType, payload any) SignalMessage {
	// The payload types above always marshal.
	data, _ := json.Marshal(payload)
	return SignalMessage{Type: t, Payload: data}
}

// OfferDescription decodes the session description carried by an offer.
func (m SignalMessage) OfferDescription() (webrtc.SessionDescription, error) {
	var p OfferPayload
	if err := m.decode(SignalTypeOffer, &p); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if p.Offer.Type != webrtc.SDPTypeOffer || p.Offer.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("offer payload carries %q description", p.Offer.Type)
	}
	return p.Offer, nil
}

// AnswerDescription decodes the session description carried by an answer.
func (m SignalMessage) AnswerDescription() (webrtc.SessionDescription, error) {
	var p AnswerPayload
	if err := m.decode(SignalTypeAnswer, &p); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if p.Answer.Type != webrtc.SDPTypeAnswer || p.Answer.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("answer payload carries %q description", p.Answer.Type)
	}
	return p.Answer, nil
}

func (m SignalMessage) ICECandidate() (webrtc.ICECandidateInit, error) {
	var p CandidatePayload
	if err := m.decode(SignalTypeCandidate, &p); err != nil {
		return webrtc.ICECandidateInit{}, err
	}
	if p.Candidate.Candidate == "" {
		return webrtc.ICECandidateInit{}, fmt.Errorf("empty candidate")
	}
	return p.Candidate, nil
}

func (m SignalMessage) PresenceEvent() (PresenceEvent, error) {
	var p PresenceEvent
	err := m.decode(SignalTypePresence, &p)
	return p, err
}

// Validate checks that a relayed message is well formed before it is published.
func (m SignalMessage) Validate() error {
	var err error
	switch m.Type {
	case SignalTypeOffer:
		_, err = m.OfferDescription()
	case SignalTypeAnswer:
		_, err = m.AnswerDescription()
	case SignalTypeCandidate:
		_, err = m.ICECandidate()
	case SignalTypeHangup:
	default:
		err = fmt.Errorf("unknown message type %q", m.Type)
	}
	return err
}

func (m SignalMessage) decode(want SignalType, v any) error {
	if m.Type != want {
		return fmt.Errorf("message is %q, not %q", m.Type, want)
	}
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// PresenceEventType is the kind of membership change in a room topic.
type PresenceEventType string

const (
	PresenceJoin  PresenceEventType = "join"
	PresenceLeave PresenceEventType = "leave"
	PresenceSync  PresenceEventType = "sync"
)

// PresenceEvent reports who is subscribed to a room topic.
type PresenceEvent struct {
	Event   PresenceEventType `json:"event"`
	Member  string            `json:"member,omitempty"`
	Members []string          `json:"members,omitempty"`
}

package models

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireFormat(t *testing.T) {
	offer := NewOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	assert.JSONEq(t, `{"offer":{"type":"offer","sdp":"v=0"}}`, string(offer.Payload))

	answer := NewAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	assert.JSONEq(t, `{"answer":{"type":"answer","sdp":"v=0"}}`, string(answer.Payload))

	hangup := NewHangup()
	assert.Equal(t, SignalTypeHangup, hangup.Type)
	assert.JSONEq(t, `{}`, string(hangup.Payload))

	mid := "0"
	candidate := NewCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid})
	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(candidate.Payload, &raw))
	assert.Equal(t, "0", raw["candidate"]["sdpMid"])
}

func TestDecodeRoundTrip(t *testing.T) {
	msg := NewOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"})
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded SignalMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	sd, err := decoded.OfferDescription()
	require.NoError(t, err)
	assert.Equal(t, "v=0 offer", sd.SDP)

	_, err = decoded.AnswerDescription()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     SignalMessage
		wantErr bool
	}{
		{"offer", NewOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}), false},
		{"offer with answer description", NewOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}), true},
		{"empty candidate", NewCandidate(webrtc.ICECandidateInit{}), true},
		{"hangup", NewHangup(), false},
		{"missing payload", SignalMessage{Type: SignalTypeAnswer}, true},
		{"server only type", SignalMessage{Type: SignalTypeJoin}, true},
		{"garbage payload", SignalMessage{Type: SignalTypeOffer, Payload: json.RawMessage(`[1,2]`)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSessionStatusTransitions(t *testing.T) {
	assert.True(t, SessionRequested.CanTransition(SessionConfirmed))
	assert.True(t, SessionConfirmed.CanTransition(SessionCompleted))
	assert.False(t, SessionRequested.CanTransition(SessionCompleted))
	assert.False(t, SessionCancelled.CanTransition(SessionConfirmed))
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "room-r1", Topic("r1"))
	assert.Equal(t, "room-r1:peers", PresenceKey("r1"))
}

package models

import "time"

const (
	// TopicPrefix scopes every room's signaling topic.
	TopicPrefix = "room-"

	// MaxRoomPeers is fixed: a call is always one learner and one teacher.
	MaxRoomPeers = 2

	// PresenceTTL is how long a member counts as present after its last heartbeat.
	PresenceTTL = 90 * time.Second
)

// Topic returns the pub/sub topic for a room.
func Topic(roomID string) string {
	return TopicPrefix + roomID
}

// PresenceKey is the Redis sorted set of members subscribed to a room topic, scored by
// their last heartbeat in unix milliseconds.
func PresenceKey(roomID string) string {
	return Topic(roomID) + ":peers"
}

// RoomMetadata stores information about a call room
type RoomMetadata struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"` // Short, shareable room code (e.g., "ABCD23")
	SessionID string    `json:"sessionId"`
	CreatorID string    `json:"creatorId"`
	LearnerID string    `json:"learnerId"`
	TeacherID string    `json:"teacherId"`
	CreatedAt time.Time `json:"createdAt"`
	MaxPeers  int       `json:"maxPeers"`
	PeerCount int       `json:"peerCount"`
}

// IsParticipant reports whether userID is the learner or teacher of the room's session.
func (r *RoomMetadata) IsParticipant(userID string) bool {
	return userID != "" && (userID == r.LearnerID || userID == r.TeacherID)
}

// CreateRoomResponse is the response for creating a room
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

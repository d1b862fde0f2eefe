package redis

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/tutor-call/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	roomCodeLength = 6
	codeChars      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
)

var ErrRoomNotFound = errors.New("room not found")

// RoomStore keeps call room metadata in Redis with a TTL.
type RoomStore struct {
	client *Client
	ttl    time.Duration
}

func NewRoomStore(client *Client, ttl time.Duration) *RoomStore {
	return &RoomStore{client: client, ttl: ttl}
}

// CreateForSession returns the room of a scheduled session, creating it on first use.
func (s *RoomStore) CreateForSession(ctx context.Context, session models.ScheduledSession, creatorID string) (*models.RoomMetadata, bool, error) {
	if room, err := s.ForSession(ctx, session.ID); err == nil {
		return room, false, nil
	} else if !errors.Is(err, ErrRoomNotFound) {
		return nil, false, err
	}

	room := &models.RoomMetadata{
		ID:        uuid.New().String(),
		Code:      generateRoomCode(),
		SessionID: session.ID,
		CreatorID: creatorID,
		LearnerID: session.LearnerID,
		TeacherID: session.TeacherID,
		CreatedAt: time.Now().UTC(),
		MaxPeers:  models.MaxRoomPeers,
	}

	// Claim the session first so two concurrent creators end up in the same room.
	ok, err := s.client.SetNX(ctx, sessionKey(session.ID), room.ID, s.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("claim session room: %w", err)
	}
	if !ok {
		existing, err := s.ForSession(ctx, session.ID)
		return existing, false, err
	}

	roomData, err := json.Marshal(room)
	if err != nil {
		return nil, false, fmt.Errorf("encode room: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, roomKey(room.ID), roomData, s.ttl)
	// Store code-to-ID mapping for easy lookup
	pipe.Set(ctx, codeKey(room.Code), room.ID, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		s.client.Del(ctx, sessionKey(session.ID))
		return nil, false, fmt.Errorf("store room: %w", err)
	}
	return room, true, nil
}

// Resolve finds a room by its short code or its ID and fills in the live peer count.
func (s *RoomStore) Resolve(ctx context.Context, identifier string) (*models.RoomMetadata, error) {
	roomID := identifier

	// Check if it's a code (6 chars) vs UUID
	if len(identifier) == roomCodeLength {
		id, err := s.client.Get(ctx, codeKey(identifier)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, ErrRoomNotFound
			}
			return nil, fmt.Errorf("lookup room code: %w", err)
		}
		roomID = id
	}
	return s.load(ctx, roomID)
}

func (s *RoomStore) ForSession(ctx context.Context, sessionID string) (*models.RoomMetadata, error) {
	roomID, err := s.client.Get(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("lookup session room: %w", err)
	}
	return s.load(ctx, roomID)
}

// Delete removes the room, its code mapping and its presence set.
func (s *RoomStore) Delete(ctx context.Context, room *models.RoomMetadata) error {
	return s.client.Del(ctx,
		roomKey(room.ID),
		codeKey(room.Code),
		sessionKey(room.SessionID),
		models.PresenceKey(room.ID),
	).Err()
}

// PeerCount returns how many participants are live on the room topic.
func (s *RoomStore) PeerCount(ctx context.Context, roomID string) (int, error) {
	return s.client.CountPresence(ctx, models.PresenceKey(roomID))
}

// HasPeer reports whether member is live on the room topic.
func (s *RoomStore) HasPeer(ctx context.Context, roomID, member string) (bool, error) {
	return s.client.IsPresent(ctx, models.PresenceKey(roomID), member)
}

func (s *RoomStore) load(ctx context.Context, roomID string) (*models.RoomMetadata, error) {
	roomData, err := s.client.Get(ctx, roomKey(roomID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("load room: %w", err)
	}

	var room models.RoomMetadata
	if err := json.Unmarshal([]byte(roomData), &room); err != nil {
		return nil, fmt.Errorf("failed to parse room data: %w", err)
	}

	count, err := s.PeerCount(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("count peers: %w", err)
	}
	room.PeerCount = count
	return &room, nil
}

func roomKey(id string) string    { return "room:" + id }
func codeKey(code string) string  { return "code:" + code }
func sessionKey(id string) string { return "session-room:" + id }

// generateRoomCode generates a random room code
func generateRoomCode() string {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}

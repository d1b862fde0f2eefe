package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/tutor-call/internal/metrics"
	"github.com/mossy-p/tutor-call/internal/middleware"
	"github.com/mossy-p/tutor-call/internal/models"
	"github.com/mossy-p/tutor-call/internal/redis"
	"github.com/mossy-p/tutor-call/internal/signaling"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	relayWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	relayPongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than relayPongWait.
	relayPingPeriod = 54 * time.Second

	// Time allowed for the room topic to report its membership
	relaySyncWait = 5 * time.Second

	maxFrameSize   = 64 << 10
	maxMemberIDLen = 64
	relaySendQueue = 16
)

// HandleSignaling bridges a participant's websocket to the room topic. The token is
// taken from the query (browsers cannot set headers on websocket upgrades) or the
// Authorization header.
func (h *Handlers) HandleSignaling(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	claims, err := middleware.ParseToken(h.opts.JWTSecret, token)
	if err != nil {
		metrics.RelayRejectedTotal.WithLabelValues("unauthorized").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	ctx := c.Request.Context()
	room, err := h.rooms.Resolve(ctx, c.Param("roomId"))
	if errors.Is(err, redis.ErrRoomNotFound) {
		metrics.RelayRejectedTotal.WithLabelValues("not_found").Inc()
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load room", zap.String("room", c.Param("roomId")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
		return
	}
	if !room.IsParticipant(claims.UserID) {
		metrics.RelayRejectedTotal.WithLabelValues("forbidden").Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a participant of this room"})
		return
	}

	member := c.DefaultQuery("member", claims.UserID)
	if len(member) > maxMemberIDLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "member is too long"})
		return
	}
	if !ownsMember(claims.UserID, member) {
		metrics.RelayRejectedTotal.WithLabelValues("forbidden").Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": "member must be the caller's user ID or start with it"})
		return
	}

	// A reconnecting member keeps its slot; anyone else needs a free one.
	present, err := h.rooms.HasPeer(ctx, room.ID, member)
	if err != nil {
		h.logger.Error("failed to check presence", zap.String("room", room.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
		return
	}
	if !present && room.PeerCount >= room.MaxPeers {
		metrics.RelayRejectedTotal.WithLabelValues("full").Inc()
		c.JSON(http.StatusConflict, gin.H{"error": "Room is full"})
		return
	}

	if h.closingRelays() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server is shutting down"})
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	// The request context ends when this handler returns; the relay outlives it.
	relayCtx, cancel := context.WithCancel(context.Background())
	logger := h.logger.With(zap.String("room", room.ID), zap.String("member", member))

	sub, err := h.transport.Subscribe(relayCtx, models.Topic(room.ID), member)
	if err != nil {
		cancel()
		logger.Error("failed to subscribe to room topic", zap.Error(err))
		conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
		conn.WriteJSON(models.SignalMessage{Type: models.SignalTypeError, RoomID: room.ID, Error: "signaling unavailable"})
		conn.Close()
		return
	}

	client := &relayClient{
		conn:   conn,
		sub:    sub,
		roomID: room.ID,
		member: member,
		logger: logger,
		ctx:    relayCtx,
		cancel: cancel,
		send:   make(chan models.SignalMessage, relaySendQueue),
		done:   make(chan struct{}),
	}

	// The first frame is always the membership snapshot.
	if err := client.sync(); err != nil {
		logger.Warn("failed to sync presence", zap.Error(err))
		client.close()
		return
	}
	if !h.track(client) {
		logger.Info("relay refused, server shutting down")
		client.goAway("server shutting down")
		client.close()
		return
	}

	metrics.RelayConnections.Inc()
	logger.Info("peer joined room", zap.String("user", claims.UserID), zap.String("code", room.Code))

	go client.writePump()
	go func() {
		client.readPump()
		h.untrack(client)
	}()
}

// ownsMember reports whether member is bound to userID: either the user ID itself or
// the user ID followed by ":" and a device suffix.
func ownsMember(userID, member string) bool {
	return member == userID || strings.HasPrefix(member, userID+":")
}

func (h *Handlers) track(c *relayClient) bool {
	h.relaysMu.Lock()
	defer h.relaysMu.Unlock()
	if h.draining {
		return false
	}
	h.relays[c] = struct{}{}
	return true
}

func (h *Handlers) closingRelays() bool {
	h.relaysMu.Lock()
	defer h.relaysMu.Unlock()
	return h.draining
}

func (h *Handlers) untrack(c *relayClient) {
	h.relaysMu.Lock()
	delete(h.relays, c)
	h.relaysMu.Unlock()
}

// CloseRelays disconnects every active relay and refuses new ones. Each relay leaves
// its room topic, so presence is clean before the process exits.
func (h *Handlers) CloseRelays() int {
	h.relaysMu.Lock()
	h.draining = true
	relays := make([]*relayClient, 0, len(h.relays))
	for c := range h.relays {
		relays = append(relays, c)
	}
	h.relaysMu.Unlock()

	for _, c := range relays {
		c.goAway("server shutting down")
		c.close()
		<-c.done
	}
	return len(relays)
}

// relayClient represents one participant's websocket bridged to a room topic
type relayClient struct {
	conn   *websocket.Conn
	sub    signaling.Subscription
	roomID string
	member string
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	send   chan models.SignalMessage
	done   chan struct{}
}

func (c *relayClient) sync() error {
	timer := time.NewTimer(relaySyncWait)
	defer timer.Stop()

	select {
	case ev, ok := <-c.sub.Presence():
		if !ok {
			return signaling.ErrSubscriptionClosed
		}
		snapshot := models.NewPresence(ev)
		snapshot.RoomID = c.roomID
		return c.write(snapshot)
	case <-timer.C:
		return errors.New("no presence snapshot")
	}
}

// goAway tells the client to reconnect elsewhere. WriteControl is safe alongside the
// write pump.
func (c *relayClient) goAway(reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(relayWriteWait)); err != nil {
		c.logger.Debug("failed to send close frame", zap.Error(err))
	}
}

func (c *relayClient) close() {
	c.cancel()
	if err := c.sub.Close(); err != nil {
		c.logger.Debug("failed to close subscription", zap.Error(err))
	}
	c.conn.Close()
}

func (c *relayClient) readPump() {
	defer func() {
		close(c.done)
		c.close()
		metrics.RelayConnections.Dec()
		c.logger.Info("peer left room")
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(relayPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(relayPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket error", zap.Error(err))
			}
			return
		}

		// Parse message
		var msg models.SignalMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.reject("malformed message")
			continue
		}
		if !msg.Type.Relayed() {
			c.reject("message type " + string(msg.Type) + " is not relayed")
			continue
		}
		if err := msg.Validate(); err != nil {
			c.reject(err.Error())
			continue
		}

		// Set the sender
		msg.From = c.member
		msg.RoomID = c.roomID
		msg.Error = ""

		if err := c.sub.Publish(c.ctx, msg); err != nil {
			c.logger.Error("failed to publish message", zap.String("type", string(msg.Type)), zap.Error(err))
			c.reject("failed to relay " + string(msg.Type))
			continue
		}
		metrics.SignalsRelayedTotal.WithLabelValues(string(msg.Type)).Inc()
	}
}

func (c *relayClient) writePump() {
	ticker := time.NewTicker(relayPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	messages := c.sub.Messages()
	presence := c.sub.Presence()
	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg, ok := <-messages:
			if !ok {
				c.logger.Warn("room topic closed")
				return
			}
			if err := c.write(msg); err != nil {
				c.logger.Debug("failed to write message", zap.Error(err))
				return
			}

		case ev, ok := <-presence:
			if !ok {
				return
			}
			msg := models.NewPresence(ev)
			msg.RoomID = c.roomID
			if err := c.write(msg); err != nil {
				c.logger.Debug("failed to write presence", zap.Error(err))
				return
			}

		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *relayClient) write(msg models.SignalMessage) error {
	c.conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
	return c.conn.WriteJSON(msg)
}

// reject tells the sender its frame was dropped.
func (c *relayClient) reject(reason string) {
	metrics.RelayRejectedTotal.WithLabelValues("invalid_frame").Inc()
	select {
	case c.send <- models.SignalMessage{Type: models.SignalTypeError, RoomID: c.roomID, Error: reason}:
	default:
		c.logger.Warn("failed to queue error frame, buffer full", zap.String("reason", reason))
	}
}

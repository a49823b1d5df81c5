package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/loopchat/backend/internal/models"
)

const membershipCheckTimeout = 5 * time.Second

// ParticipantChecker verifies chat membership before a connection may join a
// broadcast group.
type ParticipantChecker interface {
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
}

// Hub routes relay events between live connections. It never persists
// anything: message durability is the REST layer's job, the hub only fans
// out. Failures are logged and dropped (the sending client gets no error
// signal, matching the client protocol).
type Hub struct {
	logger   *slog.Logger
	presence Presence
	chats    ParticipantChecker

	mu    sync.RWMutex
	conns map[string]*Client
	rooms map[string]map[string]*Client
}

// NewHub constructs a Hub over the provided presence tracker and membership
// checker.
func NewHub(presence Presence, chats ParticipantChecker, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:   logger,
		presence: presence,
		chats:    chats,
		conns:    make(map[string]*Client),
		rooms:    make(map[string]map[string]*Client),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.conns, c.id)
	for chatID := range c.rooms {
		if room := h.rooms[chatID]; room != nil {
			delete(room, c.id)
			if len(room) == 0 {
				delete(h.rooms, chatID)
			}
		}
	}
	h.mu.Unlock()

	h.presence.Remove(c.id)
}

// dispatch routes one inbound envelope from a client.
func (h *Hub) dispatch(c *Client, env Envelope) {
	switch env.Event {
	case EventJoin:
		h.handleJoin(c, env.Data)
	case EventJoinChat:
		h.handleJoinChat(c, env.Data)
	case EventSendMessage:
		h.handleSendMessage(c, env.Data)
	case EventSeenMessage:
		h.handleSeenMessage(c, env.Data)
	case EventCallUser:
		h.handleCall(c, env.Data, EventCallMade)
	case EventAnswerCall:
		h.handleCall(c, env.Data, EventCallAccepted)
	default:
		h.logger.Warn("unknown relay event", "event", env.Event, "userId", c.userID)
	}
}

func (h *Hub) handleJoin(c *Client, data json.RawMessage) {
	var payload joinPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.logger.Warn("invalid join payload", "error", err, "userId", c.userID)
		return
	}
	if payload.UserID != "" && payload.UserID != c.userID {
		h.logger.Warn("join user mismatch, using authenticated identity",
			"claimed", payload.UserID, "userId", c.userID)
	}
	h.presence.Set(c.userID, c.id)
}

func (h *Hub) handleJoinChat(c *Client, data json.RawMessage) {
	var payload joinChatPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.ChatID == "" {
		h.logger.Warn("invalid join-chat payload", "error", err, "userId", c.userID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), membershipCheckTimeout)
	defer cancel()

	ok, err := h.chats.IsParticipant(ctx, payload.ChatID, c.userID)
	if err != nil {
		h.logger.Error("membership check failed", "error", err, "chatId", payload.ChatID, "userId", c.userID)
		return
	}
	if !ok {
		h.logger.Warn("join-chat denied", "chatId", payload.ChatID, "userId", c.userID)
		return
	}

	h.mu.Lock()
	room := h.rooms[payload.ChatID]
	if room == nil {
		room = make(map[string]*Client)
		h.rooms[payload.ChatID] = room
	}
	room[c.id] = c
	c.rooms[payload.ChatID] = true
	h.mu.Unlock()
}

func (h *Hub) handleSendMessage(c *Client, data json.RawMessage) {
	var payload messagePayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.ChatID == "" {
		h.logger.Warn("invalid send-message payload", "error", err, "userId", c.userID)
		return
	}

	h.mu.RLock()
	_, joined := c.rooms[payload.ChatID]
	h.mu.RUnlock()
	if !joined {
		h.logger.Warn("send-message for unjoined chat dropped", "chatId", payload.ChatID, "userId", c.userID)
		return
	}

	// Echo a delivered status to the sender.
	echo, err := encodeEvent(EventMessageStatus, statusPayload{
		ChatID:    payload.ChatID,
		MessageID: payload.Message.Seq,
		Status:    models.MessageStatusDelivered,
	})
	if err != nil {
		h.logger.Error("encode message-status", "error", err)
		return
	}
	c.enqueue(echo)

	// Fan the message out to the rest of the room, tagged delivered.
	payload.Message.Status = models.MessageStatusDelivered
	frame, err := encodeEvent(EventReceiveMessage, payload)
	if err != nil {
		h.logger.Error("encode receive-message", "error", err)
		return
	}
	h.broadcastRoom(payload.ChatID, c, frame)

	// Unscoped broadcast so every connected client can refresh its chat list.
	updated, err := encodeEvent(EventChatUpdated, chatUpdatedPayload{
		ChatID:      payload.ChatID,
		LastMessage: payload.Message.Text,
		UpdatedAt:   time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("encode chat-updated", "error", err)
		return
	}
	h.broadcastAll(updated)
}

func (h *Hub) handleSeenMessage(c *Client, data json.RawMessage) {
	var payload seenPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.ChatID == "" {
		h.logger.Warn("invalid seen-message payload", "error", err, "userId", c.userID)
		return
	}

	h.mu.RLock()
	_, joined := c.rooms[payload.ChatID]
	h.mu.RUnlock()
	if !joined {
		h.logger.Warn("seen-message for unjoined chat dropped", "chatId", payload.ChatID, "userId", c.userID)
		return
	}

	// Live notification only; the stored message status is never updated.
	frame, err := encodeEvent(EventMessageStatus, statusPayload{
		ChatID:    payload.ChatID,
		MessageID: payload.MessageID,
		Status:    models.MessageStatusSeen,
		SeenBy:    payload.SeenBy,
	})
	if err != nil {
		h.logger.Error("encode message-status", "error", err)
		return
	}
	h.broadcastRoom(payload.ChatID, c, frame)
}

func (h *Hub) handleCall(c *Client, data json.RawMessage, outEvent string) {
	var payload callPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.To == "" {
		h.logger.Warn("invalid call payload", "error", err, "userId", c.userID)
		return
	}

	payload.From = c.userID
	frame, err := encodeEvent(outEvent, payload)
	if err != nil {
		h.logger.Error("encode call event", "error", err, "event", outEvent)
		return
	}

	if !h.Signal(payload.To, frame) {
		h.logger.Info("call target offline, dropping", "to", payload.To, "from", c.userID)
	}
}

// Signal delivers a pre-encoded frame to the target user's current
// connection, reporting whether a live connection was found.
func (h *Hub) Signal(targetUserID string, frame []byte) bool {
	connID, ok := h.presence.Get(targetUserID)
	if !ok {
		return false
	}

	h.mu.RLock()
	target := h.conns[connID]
	h.mu.RUnlock()
	if target == nil {
		return false
	}

	target.enqueue(frame)
	return true
}

func (h *Hub) broadcastRoom(chatID string, exclude *Client, frame []byte) {
	h.mu.RLock()
	room := h.rooms[chatID]
	targets := make([]*Client, 0, len(room))
	for _, client := range room {
		if client != exclude {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.enqueue(frame)
	}
}

func (h *Hub) broadcastAll(frame []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.conns))
	for _, client := range h.conns {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.enqueue(frame)
	}
}

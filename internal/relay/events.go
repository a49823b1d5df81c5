package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/loopchat/backend/internal/models"
)

// Event names exchanged over the websocket. Inbound events come from clients;
// outbound events are emitted by the hub.
const (
	EventJoin        = "join"
	EventJoinChat    = "join-chat"
	EventSendMessage = "send-message"
	EventSeenMessage = "seen-message"
	EventCallUser    = "call-user"
	EventAnswerCall  = "answer-call"

	EventReceiveMessage = "receive-message"
	EventMessageStatus  = "message-status"
	EventChatUpdated    = "chat-updated"
	EventCallMade       = "call-made"
	EventCallAccepted   = "call-accepted"
)

// Envelope is the wire framing for every relay event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func encodeEvent(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	return frame, nil
}

type joinPayload struct {
	UserID string `json:"userId"`
}

type joinChatPayload struct {
	ChatID string `json:"chatId"`
}

type messagePayload struct {
	ChatID  string         `json:"chatId"`
	Message models.Message `json:"message"`
}

type seenPayload struct {
	ChatID    string `json:"chatId"`
	MessageID int64  `json:"messageId"`
	SeenBy    string `json:"seenBy"`
}

type statusPayload struct {
	ChatID    string `json:"chatId"`
	MessageID int64  `json:"messageId,omitempty"`
	Status    string `json:"status"`
	SeenBy    string `json:"seenBy,omitempty"`
}

type chatUpdatedPayload struct {
	ChatID      string    `json:"chatId"`
	LastMessage string    `json:"lastMessage"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type callPayload struct {
	To     string          `json:"to"`
	From   string          `json:"from,omitempty"`
	Signal json.RawMessage `json:"signal"`
}

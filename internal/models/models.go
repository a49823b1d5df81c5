package models

import "time"

// User represents an account within the loopchat platform. Password holds the
// bcrypt hash and is never serialized.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Profile is the public projection of a user embedded in chats and invites.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Profile returns the public fields of the user.
func (u User) Profile() Profile {
	return Profile{ID: u.ID, Username: u.Username, Email: u.Email}
}

// Chat types.
const (
	ChatTypeDirect = "direct"
	ChatTypeGroup  = "group"
)

// Message delivery states. Only "sent" is ever written by the server; the
// later transitions are live relay notifications that are not persisted.
const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusSeen      = "seen"
	MessageStatusFailed    = "failed"
)

// Message is a single chat message. Messages are append-only and owned by
// their chat; Seq is assigned per chat at insert time.
type Message struct {
	ChatID    string    `json:"chatId"`
	Seq       int64     `json:"seq"`
	Sender    Profile   `json:"sender"`
	Text      string    `json:"text"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Chat is a direct or group conversation. Name, Description and AdminID are
// only meaningful for group chats.
type Chat struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Name         string    `json:"name,omitempty"`
	Description  string    `json:"description,omitempty"`
	AdminID      string    `json:"admin,omitempty"`
	Participants []Profile `json:"participants"`
	Messages     []Message `json:"messages"`
	LastMessage  string    `json:"lastMessage"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ChatSummary is the conversation-list projection returned by the chat index.
type ChatSummary struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Name         string    `json:"name,omitempty"`
	Participants []Profile `json:"participants"`
	LastMessage  string    `json:"lastMessage"`
	MessageCount int       `json:"messageCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Invite types and states. Pending is the only mutable state; accepted and
// rejected are terminal, cancellation deletes the record outright.
const (
	InviteTypeDirect = "direct"
	InviteTypeGroup  = "group"

	InviteStatusPending  = "pending"
	InviteStatusAccepted = "accepted"
	InviteStatusRejected = "rejected"
)

// Invite represents a relationship proposal between two users, optionally
// scoped to a group chat.
type Invite struct {
	ID          string     `json:"id"`
	Sender      Profile    `json:"sender"`
	Receiver    Profile    `json:"receiver"`
	ChatID      string     `json:"chatId,omitempty"`
	Type        string     `json:"inviteType"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	RespondedAt *time.Time `json:"respondedAt,omitempty"`
}

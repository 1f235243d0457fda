package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

type Role string

const (
	RoleClient Role = "client"
	RoleAdmin  Role = "admin"
)

// UserRef is the user a conversation is held with.
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  Role   `json:"role,omitempty"`
}

// Conversation is a chat thread as listed by the backend.
type Conversation struct {
	ID            int64     `json:"id"`
	User          UserRef   `json:"user"`
	LastMessage   string    `json:"lastMessage,omitempty"`
	LastMessageAt time.Time `json:"lastMessageAt,omitempty"`
	UnreadCount   int       `json:"unreadCount"`
}

// Message is a single persisted chat message.
// Ordering is the server creation order, the client never reorders.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Body           string    `json:"message"`
	CreatedAt      time.Time `json:"createdAt"`
	Read           bool      `json:"isRead"`
}

// PresenceEntry is one user known to be online.
type PresenceEntry struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   Role   `json:"role,omitempty"`
}

// Identity is what the client persists after a successful login.
type Identity struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// ServerError is reported by the backend through the "error" event.
type ServerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ServerError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ConnectError carries the message of a failed connection attempt.
// Network is set for failures that never reached the backend.
type ConnectError struct {
	Message string `json:"message"`
	Network bool   `json:"network,omitempty"`
}

func (e *ConnectError) Error() string {
	return e.Message
}

package models

import "time"

// Event is a socket event name. Names are case-sensitive.
type Event = string

// Lifecycle events produced by the socket itself.
const (
	EventConnect      Event = "connect"
	EventDisconnect   Event = "disconnect"
	EventConnectError Event = "connect_error"
)

// Events sent by the client.
const (
	EventSendMessage       Event = "chatMessage"
	EventTyping            Event = "typing"
	EventMarkAsRead        Event = "markAsRead"
	EventGetOnlineUsers    Event = "getOnlineUsers"
	EventJoinConversation  Event = "joinConversation"
	EventLeaveConversation Event = "leaveConversation"
)

// Events pushed by the server.
const (
	EventMessageReceived    Event = "messageReceived"
	EventChatMessage        Event = "chatMessage"
	EventTypingStatus       Event = "typingStatus"
	EventOnlineUsers        Event = "onlineUsers"
	EventUserOnline         Event = "userOnline"
	EventUserOffline        Event = "userOffline"
	EventMessagesRead       Event = "messagesRead"
	EventMessagesMarkedRead Event = "messagesMarkedRead"
	EventError              Event = "error"
)

// SendMessageRequest is the chatMessage payload sent by the client.
// ConversationID is omitted for the first message of a new conversation.
type SendMessageRequest struct {
	Message        string `json:"message"`
	ConversationID int64  `json:"conversationId,omitempty"`
}

type TypingRequest struct {
	ConversationID int64 `json:"conversationId"`
	IsTyping       bool  `json:"isTyping"`
}

type ConversationRequest struct {
	ConversationID int64 `json:"conversationId"`
}

// MessageEvent is both the send acknowledgement (messageReceived) and the
// broadcast form (chatMessage) of a message.
type MessageEvent struct {
	ConversationID int64   `json:"conversationId"`
	Message        Message `json:"message"`
}

// ConversationOf returns the conversation id carried by the event, looking
// into the embedded message when the top-level field is missing.
func (e MessageEvent) ConversationOf() int64 {
	if e.ConversationID != 0 {
		return e.ConversationID
	}
	return e.Message.ConversationID
}

type TypingStatus struct {
	ConversationID int64  `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	IsTyping       bool   `json:"isTyping"`
}

type MessagesRead struct {
	ConversationID int64     `json:"conversationId"`
	ReaderID       string    `json:"readerId"`
	ReadAt         time.Time `json:"readAt"`
}

type MessagesMarkedRead struct {
	Count          int   `json:"count"`
	ConversationID int64 `json:"conversationId"`
}

type DisconnectReason struct {
	Reason string `json:"reason"`
}

package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"studiochat/internal/models"
)

const (
	ConversationsKey = "chat/conversations"
	messagesPrefix   = "chat/messages/"
)

// MessagesKey names the message list of one conversation.
func MessagesKey(conversationID int64) string {
	return fmt.Sprintf("%s%d", messagesPrefix, conversationID)
}

// Backend is the REST surface the chat cache reads through.
type Backend interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error)
	SendMessage(ctx context.Context, conversationID int64, text string) (models.Message, error)
	MarkAsRead(ctx context.Context, conversationID int64) error
}

type Options struct {
	ConversationsRefetch time.Duration
	MessagesRefetch      time.Duration
	Logger               *slog.Logger
}

// ChatCache holds the conversation list and per-conversation message lists.
type ChatCache struct {
	backend       Backend
	opts          Options
	conversations *Store[[]models.Conversation]
	messages      *Store[[]models.Message]
}

func NewChatCache(ctx context.Context, backend Backend, opts Options) *ChatCache {
	if opts.ConversationsRefetch <= 0 {
		opts.ConversationsRefetch = 30 * time.Second
	}
	if opts.MessagesRefetch <= 0 {
		opts.MessagesRefetch = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	storeOpts := StoreOptions{Logger: logger.With("component", "cache")}

	return &ChatCache{
		backend:       backend,
		opts:          opts,
		conversations: NewStore[[]models.Conversation](ctx, storeOpts),
		messages:      NewStore[[]models.Message](ctx, storeOpts),
	}
}

func (c *ChatCache) fetchConversations(ctx context.Context) ([]models.Conversation, error) {
	return c.backend.ListConversations(ctx)
}

func (c *ChatCache) fetchMessages(id int64) Fetcher[[]models.Message] {
	return func(ctx context.Context) ([]models.Message, error) {
		return c.backend.ListMessages(ctx, id)
	}
}

func (c *ChatCache) Conversations(ctx context.Context) ([]models.Conversation, error) {
	return c.conversations.Get(ctx, ConversationsKey, c.fetchConversations)
}

func (c *ChatCache) Messages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	return c.messages.Get(ctx, MessagesKey(conversationID), c.fetchMessages(conversationID))
}

// CachedConversations returns the last fetched conversation list, if any.
func (c *ChatCache) CachedConversations() ([]models.Conversation, bool) {
	return c.conversations.Peek(ConversationsKey)
}

// CachedMessages returns the last fetched messages of a conversation, if any.
func (c *ChatCache) CachedMessages(conversationID int64) ([]models.Message, bool) {
	return c.messages.Peek(MessagesKey(conversationID))
}

// WatchConversations refetches the conversation list on its interval.
func (c *ChatCache) WatchConversations(ctx context.Context) (stop func()) {
	return c.conversations.Watch(ctx, ConversationsKey, c.opts.ConversationsRefetch, c.fetchConversations)
}

// WatchMessages refetches one conversation's messages on its interval.
func (c *ChatCache) WatchMessages(ctx context.Context, conversationID int64) (stop func()) {
	return c.messages.Watch(ctx, MessagesKey(conversationID), c.opts.MessagesRefetch, c.fetchMessages(conversationID))
}

// Invalidate marks the named entries stale. Unknown keys are ignored.
func (c *ChatCache) Invalidate(keys ...string) {
	for _, key := range keys {
		switch {
		case key == ConversationsKey:
			c.conversations.Invalidate(key)
		case strings.HasPrefix(key, messagesPrefix):
			c.messages.Invalidate(key)
		}
	}
}

// Subscribe calls fn with the key of every refreshed entry.
func (c *ChatCache) Subscribe(fn func(key string)) (unsubscribe func()) {
	u1 := c.conversations.Subscribe(fn)
	u2 := c.messages.Subscribe(fn)
	return func() {
		u1()
		u2()
	}
}

// SendMessage posts through REST and invalidates the affected entries.
func (c *ChatCache) SendMessage(ctx context.Context, conversationID int64, text string) (models.Message, error) {
	msg, err := c.backend.SendMessage(ctx, conversationID, text)
	if err != nil {
		return models.Message{}, err
	}
	if msg.ConversationID != 0 {
		conversationID = msg.ConversationID
	}
	c.Invalidate(ConversationsKey, MessagesKey(conversationID))
	return msg, nil
}

// MarkAsRead marks a conversation read through REST and invalidates it.
func (c *ChatCache) MarkAsRead(ctx context.Context, conversationID int64) error {
	if err := c.backend.MarkAsRead(ctx, conversationID); err != nil {
		return err
	}
	c.Invalidate(ConversationsKey, MessagesKey(conversationID))
	return nil
}

func (c *ChatCache) Close() {
	c.conversations.Close()
	c.messages.Close()
}

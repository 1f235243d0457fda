package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"studiochat/internal/models"

	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu       sync.Mutex
	convs    []models.Conversation
	messages map[int64][]models.Message

	convCalls atomic.Int32
	msgCalls  atomic.Int32
	readIDs   []int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{messages: make(map[int64][]models.Message)}
}

func (f *fakeBackend) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	f.convCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Conversation(nil), f.convs...), nil
}

func (f *fakeBackend) ListMessages(ctx context.Context, id int64) ([]models.Message, error) {
	f.msgCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.messages[id]...), nil
}

func (f *fakeBackend) SendMessage(ctx context.Context, id int64, text string) (models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == 0 {
		id = 100
	}
	msg := models.Message{ID: int64(len(f.messages[id]) + 1), ConversationID: id, Body: text}
	f.messages[id] = append(f.messages[id], msg)
	return msg, nil
}

func (f *fakeBackend) MarkAsRead(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readIDs = append(f.readIDs, id)
	return nil
}

func (f *fakeBackend) push(id int64, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[id] = append(f.messages[id], models.Message{ID: int64(len(f.messages[id]) + 1), ConversationID: id, Body: body})
}

func TestMessagesKey(t *testing.T) {
	require.Equal(t, "chat/messages/42", MessagesKey(42))
	require.Equal(t, "chat/conversations", ConversationsKey)
}

func TestChatCache_DuplicateInvalidationIsIdempotent(t *testing.T) {
	backend := newFakeBackend()
	backend.push(42, "first")

	c := NewChatCache(context.Background(), backend, Options{})
	defer c.Close()

	stop := c.WatchMessages(context.Background(), 42)
	defer stop()
	require.Eventually(t, func() bool {
		msgs, ok := c.CachedMessages(42)
		return ok && len(msgs) == 1
	}, time.Second, 5*time.Millisecond)

	// The same broadcast arriving twice.
	backend.push(42, "second")
	c.Invalidate(ConversationsKey, MessagesKey(42))
	c.Invalidate(ConversationsKey, MessagesKey(42))

	require.Eventually(t, func() bool {
		msgs, _ := c.CachedMessages(42)
		return len(msgs) == 2
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	msgs, _ := c.CachedMessages(42)
	require.Len(t, msgs, 2)
	require.Equal(t, "first", msgs[0].Body)
	require.Equal(t, "second", msgs[1].Body)
}

func TestChatCache_SendMessageInvalidates(t *testing.T) {
	backend := newFakeBackend()
	c := NewChatCache(context.Background(), backend, Options{})
	defer c.Close()

	msgs, err := c.Messages(context.Background(), 42)
	require.NoError(t, err)
	require.Empty(t, msgs)

	_, err = c.SendMessage(context.Background(), 42, "hello")
	require.NoError(t, err)

	// The stale entry is served once, then replaced.
	_, err = c.Messages(context.Background(), 42)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs, _ := c.CachedMessages(42)
		return len(msgs) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestChatCache_SendMessageToNewConversation(t *testing.T) {
	backend := newFakeBackend()
	c := NewChatCache(context.Background(), backend, Options{})
	defer c.Close()

	msg, err := c.SendMessage(context.Background(), 0, "hi")
	require.NoError(t, err)
	require.Equal(t, int64(100), msg.ConversationID)

	msgs, err := c.Messages(context.Background(), msg.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestChatCache_MarkAsRead(t *testing.T) {
	backend := newFakeBackend()
	backend.convs = []models.Conversation{{ID: 42, UnreadCount: 3}}

	c := NewChatCache(context.Background(), backend, Options{})
	defer c.Close()

	stop := c.WatchConversations(context.Background())
	defer stop()
	require.Eventually(t, func() bool {
		_, ok := c.CachedConversations()
		return ok
	}, time.Second, 5*time.Millisecond)

	backend.mu.Lock()
	backend.convs[0].UnreadCount = 0
	backend.mu.Unlock()

	require.NoError(t, c.MarkAsRead(context.Background(), 42))
	require.Equal(t, []int64{42}, backend.readIDs)

	require.Eventually(t, func() bool {
		convs, _ := c.CachedConversations()
		return len(convs) == 1 && convs[0].UnreadCount == 0
	}, time.Second, 5*time.Millisecond)
}

func TestChatCache_InvalidateIgnoresUnknownKeys(t *testing.T) {
	backend := newFakeBackend()
	c := NewChatCache(context.Background(), backend, Options{})
	defer c.Close()

	c.Invalidate("users/list", MessagesKey(1))
	require.Equal(t, int32(0), backend.convCalls.Load())
	require.Equal(t, int32(0), backend.msgCalls.Load())
}

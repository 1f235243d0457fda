// Package session binds one open conversation to the shared socket.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"studiochat/internal/models"
	"studiochat/internal/socket"
)

// Connector hands out the process-wide socket.
type Connector interface {
	Token() string
	Acquire(ctx context.Context, token string) socket.Client
}

// Invalidator marks cached query results stale.
type Invalidator interface {
	Invalidate(keys ...string)
}

// Fallback delivers actions over REST when the socket cannot take them.
type Fallback interface {
	SendMessage(ctx context.Context, conversationID int64, text string) (models.Message, error)
	MarkAsRead(ctx context.Context, conversationID int64) error
}

// Callbacks are invoked after the session has updated its own state and
// the cache. Any of them may be nil.
type Callbacks struct {
	OnNewMessage func(ev models.MessageEvent)
	OnTyping     func(ev models.TypingStatus)
	OnPresence   func(online []models.PresenceEntry)
	OnError      func(err error)
}

type Options struct {
	ConversationID int64
	Callbacks      Callbacks
	AutoConnect    bool
	TypingTimeout  time.Duration
	// Fallback, when set, receives messages and read receipts the socket
	// refused because it is not connected.
	Fallback Fallback
	Logger   *slog.Logger
}

type Session struct {
	connector Connector
	cache     Invalidator
	fallback  Fallback
	logger    *slog.Logger
	timeout   time.Duration
	auto      bool

	// callbacks is swapped by SetCallbacks; handlers load it on every event.
	callbacks atomic.Pointer[Callbacks]

	mu             sync.Mutex
	mounted        bool
	ctx            context.Context
	client         socket.Client
	subs           []socket.Subscription
	conversationID int64
	joined         int64
	dropped        bool

	typing       []string
	typingTimers map[string]*time.Timer
	online       []models.PresenceEntry

	stopTimer *time.Timer
	stopGen   uint64
}

func New(connector Connector, invalidator Invalidator, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = 2 * time.Second
	}

	s := &Session{
		connector:      connector,
		cache:          invalidator,
		fallback:       opts.Fallback,
		logger:         logger.With("component", "session"),
		timeout:        opts.TypingTimeout,
		auto:           opts.AutoConnect,
		conversationID: opts.ConversationID,
		typingTimers:   make(map[string]*time.Timer),
	}
	cb := opts.Callbacks
	s.callbacks.Store(&cb)
	return s
}

// Mount attaches the session to the shared socket and joins the bound
// conversation. Without AutoConnect or without a token the session stays
// detached and every action is a no-op.
func (s *Session) Mount(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mounted {
		return
	}
	s.mounted = true

	if !s.auto || s.connector == nil {
		return
	}
	token := s.connector.Token()
	if token == "" {
		s.logger.Debug("no token, session stays detached")
		return
	}

	s.ctx = ctx
	s.client = s.connector.Acquire(ctx, token)
	s.attach()

	if s.conversationID != 0 {
		s.join(s.conversationID)
	}
}

// Unmount leaves the bound conversation, detaches every handler this
// session attached and cancels its timers. The shared socket stays open.
func (s *Session) Unmount() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.mounted {
		return
	}
	s.mounted = false

	s.cancelStop()
	for name, t := range s.typingTimers {
		t.Stop()
		delete(s.typingTimers, name)
	}
	s.typing = nil

	if s.client == nil {
		return
	}
	if s.joined != 0 {
		s.emit(models.EventLeaveConversation, models.ConversationRequest{ConversationID: s.joined})
		s.joined = 0
	}
	for _, sub := range s.subs {
		s.client.Off(sub)
	}
	s.subs = nil
	s.client = nil
	s.ctx = nil
}

// SetCallbacks replaces the callbacks used by already attached handlers.
func (s *Session) SetCallbacks(cb Callbacks) {
	s.callbacks.Store(&cb)
}

// SetConversation rebinds the session. The previously joined conversation
// is left before the new one is joined.
func (s *Session) SetConversation(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == s.conversationID {
		return
	}
	s.conversationID = id
	s.typing = nil
	for name, t := range s.typingTimers {
		t.Stop()
		delete(s.typingTimers, name)
	}

	if s.client == nil {
		return
	}
	if s.joined != 0 {
		s.emit(models.EventLeaveConversation, models.ConversationRequest{ConversationID: s.joined})
		s.joined = 0
	}
	if id != 0 {
		s.join(id)
	}
}

func (s *Session) ConversationID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil && s.client.Connected()
}

// TypingUsers returns the display names currently typing, in arrival order.
func (s *Session) TypingUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.typing)
}

func (s *Session) OnlineUsers() []models.PresenceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.online)
}

// SendMessage emits the trimmed text. A zero conversationID falls back to
// the bound conversation; when both are zero the backend opens a new one.
func (s *Session) SendMessage(text string, conversationID int64) {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil || text == "" {
		return
	}
	id := s.resolve(conversationID)
	if s.emit(models.EventSendMessage, models.SendMessageRequest{Message: text, ConversationID: id}) {
		return
	}
	s.viaFallback(func(ctx context.Context, fb Fallback) error {
		if _, err := fb.SendMessage(ctx, id, text); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
		return nil
	})
}

// SendTyping emits the typing state at once. A true state is followed by an
// automatic false after the typing timeout unless another call comes first.
func (s *Session) SendTyping(isTyping bool, conversationID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.resolve(conversationID)
	if s.client == nil || id == 0 {
		return
	}

	s.cancelStop()
	s.emit(models.EventTyping, models.TypingRequest{ConversationID: id, IsTyping: isTyping})
	if !isTyping {
		return
	}

	gen := s.stopGen
	s.stopTimer = time.AfterFunc(s.timeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if gen != s.stopGen || s.client == nil {
			return
		}
		s.stopTimer = nil
		s.emit(models.EventTyping, models.TypingRequest{ConversationID: id, IsTyping: false})
	})
}

func (s *Session) MarkAsRead(conversationID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.resolve(conversationID)
	if s.client == nil || id == 0 {
		return
	}
	if s.emit(models.EventMarkAsRead, models.ConversationRequest{ConversationID: id}) {
		return
	}
	s.viaFallback(func(ctx context.Context, fb Fallback) error {
		if err := fb.MarkAsRead(ctx, id); err != nil {
			return fmt.Errorf("failed to mark conversation as read: %w", err)
		}
		return nil
	})
}

// GetOnlineUsers asks for a presence snapshot; it arrives as an event.
func (s *Session) GetOnlineUsers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return
	}
	s.emit(models.EventGetOnlineUsers, nil)
}

func (s *Session) resolve(id int64) int64 {
	if id != 0 {
		return id
	}
	return s.conversationID
}

// cancelStop drops a pending automatic typing stop. Callers hold s.mu.
func (s *Session) cancelStop() {
	s.stopGen++
	if s.stopTimer != nil {
		s.stopTimer.Stop()
		s.stopTimer = nil
	}
}

// join emits joinConversation. Callers hold s.mu.
func (s *Session) join(id int64) {
	if s.emit(models.EventJoinConversation, models.ConversationRequest{ConversationID: id}) {
		s.joined = id
	}
}

// emit reports whether the frame was accepted. Callers hold s.mu.
func (s *Session) emit(event string, payload any) bool {
	err := s.client.Emit(event, payload)
	if err == nil {
		return true
	}
	if errors.Is(err, socket.ErrNotConnected) || errors.Is(err, socket.ErrClosed) {
		s.logger.Debug("emit skipped", "event", event, "error", err)
		return false
	}
	s.logger.Warn("emit failed", "event", event, "error", err)
	return false
}

// viaFallback runs fn off the session lock. Failures go to OnError.
func (s *Session) viaFallback(fn func(ctx context.Context, fb Fallback) error) {
	if s.fallback == nil || s.ctx == nil {
		return
	}
	ctx, fb := s.ctx, s.fallback
	go func() {
		if err := fn(ctx, fb); err != nil {
			s.logger.Warn("fallback delivery failed", "error", err)
			s.reportError(err)
		}
	}()
}

func (s *Session) callbacksNow() Callbacks {
	return *s.callbacks.Load()
}

func (s *Session) reportError(err error) {
	if cb := s.callbacksNow(); cb.OnError != nil {
		cb.OnError(err)
	}
}

func decode[T any](s *Session, event string, data json.RawMessage) (T, bool) {
	var v T
	if len(data) == 0 {
		return v, true
	}
	if err := json.Unmarshal(data, &v); err != nil {
		s.logger.Warn("malformed event payload", "event", event, "error", err)
		return v, false
	}
	return v, true
}

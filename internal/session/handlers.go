package session

import (
	"encoding/json"
	"slices"
	"time"

	"studiochat/internal/cache"
	"studiochat/internal/models"
)

// attach registers one handler per server event. Callers hold s.mu.
func (s *Session) attach() {
	handlers := map[string]func(json.RawMessage){
		models.EventConnect:            s.handleConnect,
		models.EventDisconnect:         s.handleDisconnect,
		models.EventConnectError:       s.handleConnectError,
		models.EventMessageReceived:    s.handleMessage(models.EventMessageReceived),
		models.EventChatMessage:        s.handleMessage(models.EventChatMessage),
		models.EventTypingStatus:       s.handleTyping,
		models.EventOnlineUsers:        s.handleOnlineUsers,
		models.EventUserOnline:         s.handleUserOnline,
		models.EventUserOffline:        s.handleUserOffline,
		models.EventMessagesRead:       s.handleMessagesRead,
		models.EventMessagesMarkedRead: s.handleMessagesMarkedRead,
		models.EventError:              s.handleServerError,
	}
	for event, h := range handlers {
		s.subs = append(s.subs, s.client.On(event, h))
	}
}

func (s *Session) handleConnect(json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dropped || s.client == nil {
		return
	}
	s.dropped = false
	// The backend forgets room membership with the old connection.
	if s.conversationID != 0 {
		s.join(s.conversationID)
	}
}

func (s *Session) handleDisconnect(data json.RawMessage) {
	reason, _ := decode[models.DisconnectReason](s, models.EventDisconnect, data)
	s.logger.Info("socket disconnected", "reason", reason.Reason)

	s.mu.Lock()
	s.dropped = true
	s.mu.Unlock()
}

func (s *Session) handleConnectError(data json.RawMessage) {
	ce, _ := decode[models.ConnectError](s, models.EventConnectError, data)
	s.reportError(&ce)
}

// invalidate drops the conversation list and the messages of id, falling
// back to the bound conversation when id is zero.
func (s *Session) invalidate(id int64) {
	if id == 0 {
		id = s.ConversationID()
	}
	if s.cache == nil {
		return
	}
	keys := []string{cache.ConversationsKey}
	if id != 0 {
		keys = append(keys, cache.MessagesKey(id))
	}
	s.cache.Invalidate(keys...)
}

func (s *Session) handleMessage(event string) func(json.RawMessage) {
	return func(data json.RawMessage) {
		ev, ok := decode[models.MessageEvent](s, event, data)
		if !ok {
			return
		}
		s.invalidate(ev.ConversationOf())
		if cb := s.callbacksNow(); cb.OnNewMessage != nil {
			cb.OnNewMessage(ev)
		}
	}
}

func (s *Session) handleMessagesRead(data json.RawMessage) {
	ev, ok := decode[models.MessagesRead](s, models.EventMessagesRead, data)
	if !ok {
		return
	}
	s.invalidate(ev.ConversationID)
}

func (s *Session) handleMessagesMarkedRead(data json.RawMessage) {
	ev, ok := decode[models.MessagesMarkedRead](s, models.EventMessagesMarkedRead, data)
	if !ok {
		return
	}
	s.invalidate(ev.ConversationID)
}

func (s *Session) handleTyping(data json.RawMessage) {
	ev, ok := decode[models.TypingStatus](s, models.EventTypingStatus, data)
	if !ok {
		return
	}
	name := ev.UserName
	if name == "" {
		name = ev.UserID
	}

	s.mu.Lock()
	if bound := s.conversationID; bound != 0 && ev.ConversationID != 0 && ev.ConversationID != bound {
		s.mu.Unlock()
		return
	}
	if ev.IsTyping {
		s.startTyping(name, ev)
	} else {
		s.stopTyping(name)
	}
	s.mu.Unlock()

	if cb := s.callbacksNow(); cb.OnTyping != nil {
		cb.OnTyping(ev)
	}
}

// startTyping adds name and (re)arms its expiry. Callers hold s.mu.
func (s *Session) startTyping(name string, ev models.TypingStatus) {
	if !slices.Contains(s.typing, name) {
		s.typing = append(s.typing, name)
	}
	if t, ok := s.typingTimers[name]; ok {
		t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(s.timeout, func() {
		s.mu.Lock()
		if s.typingTimers[name] != t {
			s.mu.Unlock()
			return
		}
		s.stopTyping(name)
		s.mu.Unlock()

		ev.IsTyping = false
		if cb := s.callbacksNow(); cb.OnTyping != nil {
			cb.OnTyping(ev)
		}
	})
	s.typingTimers[name] = t
}

// stopTyping removes name. Callers hold s.mu.
func (s *Session) stopTyping(name string) {
	s.typing = slices.DeleteFunc(s.typing, func(n string) bool { return n == name })
	if t, ok := s.typingTimers[name]; ok {
		t.Stop()
		delete(s.typingTimers, name)
	}
}

func (s *Session) handleOnlineUsers(data json.RawMessage) {
	users, ok := decode[[]models.PresenceEntry](s, models.EventOnlineUsers, data)
	if !ok {
		return
	}

	s.mu.Lock()
	s.online = slices.Clone(users)
	online := slices.Clone(s.online)
	s.mu.Unlock()

	s.presenceChanged(online)
}

func (s *Session) handleUserOnline(data json.RawMessage) {
	user, ok := decode[models.PresenceEntry](s, models.EventUserOnline, data)
	if !ok || user.UserID == "" {
		return
	}

	s.mu.Lock()
	if i := slices.IndexFunc(s.online, func(e models.PresenceEntry) bool { return e.UserID == user.UserID }); i >= 0 {
		s.online[i] = user
	} else {
		s.online = append(s.online, user)
	}
	online := slices.Clone(s.online)
	s.mu.Unlock()

	s.presenceChanged(online)
}

func (s *Session) handleUserOffline(data json.RawMessage) {
	user, ok := decode[models.PresenceEntry](s, models.EventUserOffline, data)
	if !ok {
		return
	}

	s.mu.Lock()
	s.online = slices.DeleteFunc(s.online, func(e models.PresenceEntry) bool { return e.UserID == user.UserID })
	online := slices.Clone(s.online)
	s.mu.Unlock()

	s.presenceChanged(online)
}

func (s *Session) presenceChanged(online []models.PresenceEntry) {
	if cb := s.callbacksNow(); cb.OnPresence != nil {
		cb.OnPresence(online)
	}
}

func (s *Session) handleServerError(data json.RawMessage) {
	se, ok := decode[models.ServerError](s, models.EventError, data)
	if !ok {
		return
	}
	s.reportError(&se)
}

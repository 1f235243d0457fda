// Package connection owns the single live socket of the process.
package connection

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"studiochat/internal/auth"
	"studiochat/internal/models"
	"studiochat/internal/socket"
)

// LoginPath is where the client is sent after an authentication failure.
const LoginPath = "/login"

type State int

const (
	StateAbsent State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "absent"
	}
}

// IdentityStore is the persisted identity the manager reads the token from
// and wipes on authentication failure.
type IdentityStore interface {
	Token() string
	Clear() error
}

// Navigator moves the client to another entry point.
type Navigator interface {
	Navigate(path string)
}

type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

type Config struct {
	URL                  string
	Transports           []socket.Transport
	ReconnectionAttempts int
	ReconnectionDelay    time.Duration
	ReconnectionDelayMax time.Duration
	Timeout              time.Duration
	RedirectDelay        time.Duration
}

type Manager struct {
	cfg       Config
	identity  IdentityStore
	navigator Navigator
	logger    *slog.Logger

	mu     sync.Mutex
	socket *socket.Socket
}

func NewManager(cfg Config, identity IdentityStore, navigator Navigator, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RedirectDelay <= 0 {
		cfg.RedirectDelay = time.Second
	}
	return &Manager{
		cfg:       cfg,
		identity:  identity,
		navigator: navigator,
		logger:    logger,
	}
}

// Get returns the live socket, the one currently connecting, or a new one.
// Without any token it returns a disconnected placeholder and touches no
// network.
func (m *Manager) Get(ctx context.Context, token string) *socket.Socket {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.socket != nil && m.socket.Active() {
		return m.socket
	}

	resolved, err := auth.ResolveToken(token, m.identity)
	if err != nil {
		m.logger.Debug("no auth token, returning placeholder socket")
		return socket.NewPlaceholder()
	}

	if m.socket != nil {
		// A previous socket that gave up is replaced, never kept alongside.
		_ = m.socket.Close()
		m.socket = nil
	}

	s := socket.New(socket.Options{
		URL:                  m.cfg.URL,
		Token:                resolved,
		Transports:           m.cfg.Transports,
		Reconnection:         true,
		ReconnectionAttempts: m.cfg.ReconnectionAttempts,
		ReconnectionDelay:    m.cfg.ReconnectionDelay,
		ReconnectionDelayMax: m.cfg.ReconnectionDelayMax,
		Timeout:              m.cfg.Timeout,
		Logger:               m.logger,
	})
	m.watch(s)

	m.socket = s
	s.Connect(context.WithoutCancel(ctx))
	return s
}

// Acquire is Get for consumers that only need the socket.Client surface.
func (m *Manager) Acquire(ctx context.Context, token string) socket.Client {
	return m.Get(ctx, token)
}

// Token resolves the token Get would use, or "".
func (m *Manager) Token() string {
	if m.identity == nil {
		return ""
	}
	return m.identity.Token()
}

func (m *Manager) watch(s *socket.Socket) {
	s.On(models.EventConnect, func(json.RawMessage) {
		m.logger.Info("socket connected", "socket_id", s.ID)
	})

	s.On(models.EventConnectError, func(data json.RawMessage) {
		var ce models.ConnectError
		_ = json.Unmarshal(data, &ce)

		if ce.Network || !auth.IsAuthFailure(ce.Message) {
			m.logger.Warn("socket connection error", "error", ce.Message)
			return
		}

		m.logger.Error("socket authentication failed, logging out", "error", ce.Message)
		if m.identity != nil {
			if err := m.identity.Clear(); err != nil {
				m.logger.Error("failed to clear identity", "error", err)
			}
		}
		if m.navigator != nil {
			time.AfterFunc(m.cfg.RedirectDelay, func() {
				m.navigator.Navigate(LoginPath)
			})
		}
	})

	s.On(socket.EventReconnectFailed, func(json.RawMessage) {
		m.logger.Error("socket gave up reconnecting", "socket_id", s.ID)
	})
}

// State reports the lifecycle of the managed socket.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.socket == nil || !m.socket.Active():
		return StateAbsent
	case m.socket.Connected():
		return StateConnected
	default:
		return StateConnecting
	}
}

// Disconnect tears the socket down; the next Get creates a fresh one.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.socket == nil {
		return
	}
	_ = m.socket.Close()
	m.socket = nil
}

var (
	defaultMu      sync.RWMutex
	defaultManager *Manager
)

// SetDefault installs the process-wide manager.
func SetDefault(m *Manager) {
	defaultMu.Lock()
	defaultManager = m
	defaultMu.Unlock()
}

// Default returns the process-wide manager, or nil before SetDefault.
func Default() *Manager {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultManager
}

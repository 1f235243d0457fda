package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"studiochat/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// EventReconnectFailed is dispatched once the reconnection policy gives up.
const EventReconnectFailed = "reconnect_failed"

const (
	outboundBuffer = 64
	inboundBuffer  = 256
)

var (
	ErrClosed       = errors.New("socket closed")
	ErrNotConnected = errors.New("socket not connected")
	ErrBufferFull   = errors.New("socket send buffer full")
)

// Handler receives the raw payload of one event.
type Handler func(data json.RawMessage)

// Subscription identifies one attached handler so it can be detached
// without touching handlers owned by anybody else.
type Subscription struct {
	Event string
	ID    uint64
}

// Client is the part of a socket that consumers attach to.
type Client interface {
	On(event string, h Handler) Subscription
	Off(sub Subscription)
	Emit(event string, payload any) error
	Connected() bool
}

type Options struct {
	URL        string
	Token      string
	Transports []Transport

	Reconnection         bool
	ReconnectionAttempts int // 0 means unlimited
	ReconnectionDelay    time.Duration
	ReconnectionDelayMax time.Duration
	Timeout              time.Duration

	Logger *slog.Logger
}

type handlerEntry struct {
	id uint64
	fn Handler
}

// Socket is a named-event connection to the messaging backend. Every handler
// of one Socket runs on a single dispatcher goroutine, in delivery order.
type Socket struct {
	ID string

	opts   Options
	logger *slog.Logger

	mu        sync.RWMutex
	handlers  map[string][]handlerEntry
	nextID    uint64
	started   bool
	active    bool
	connected bool
	closed    bool

	out    chan Frame
	events chan Frame
	cancel context.CancelFunc
	done   chan struct{}
}

func New(opts Options) *Socket {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.ReconnectionDelay <= 0 {
		opts.ReconnectionDelay = time.Second
	}
	if opts.ReconnectionDelayMax < opts.ReconnectionDelay {
		opts.ReconnectionDelayMax = opts.ReconnectionDelay
	}

	id := uuid.NewString()
	return &Socket{
		ID:       id,
		opts:     opts,
		logger:   logger.With("socket_id", id),
		handlers: make(map[string][]handlerEntry),
		out:      make(chan Frame, outboundBuffer),
		events:   make(chan Frame, inboundBuffer),
		done:     make(chan struct{}),
	}
}

// NewPlaceholder returns a socket that never connects. Handlers may be
// attached to it but never fire, and Emit always fails with ErrNotConnected.
func NewPlaceholder() *Socket {
	return New(Options{})
}

// Connect starts the connection loop. It is a no-op on a started socket.
func (s *Socket) Connect(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.active = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.dispatch()
	go s.run(ctx)
}

// On attaches h to event and returns the subscription that detaches it.
func (s *Socket) On(event string, h Handler) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.handlers[event] = append(s.handlers[event], handlerEntry{id: s.nextID, fn: h})
	return Subscription{Event: event, ID: s.nextID}
}

// Off detaches exactly the handler identified by sub.
func (s *Socket) Off(sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.handlers[sub.Event]
	for i, e := range entries {
		if e.id == sub.ID {
			s.handlers[sub.Event] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(s.handlers[sub.Event]) == 0 {
		delete(s.handlers, sub.Event)
	}
}

// HandlerCount reports how many handlers are attached to event.
func (s *Socket) HandlerCount(event string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers[event])
}

// Emit queues an event for the server. Frames emitted while reconnecting
// are buffered and flushed once the connection is back.
func (s *Socket) Emit(event string, payload any) error {
	f := Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", event, err)
		}
		f.Data = data
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.closed:
		return ErrClosed
	case !s.started, !s.active:
		return ErrNotConnected
	}

	select {
	case s.out <- f:
		return nil
	default:
		return ErrBufferFull
	}
}

func (s *Socket) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Active reports whether the socket is connected or still trying to connect.
func (s *Socket) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Done is closed once the connection loop and all handlers have finished.
// It is never closed for a socket that was not started.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Close stops the connection loop. It does not wait for it; see Done.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *Socket) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Socket) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *Socket) setInactive() {
	s.mu.Lock()
	s.active = false
	s.connected = false
	s.mu.Unlock()
}

func (s *Socket) enqueue(event string, payload any) {
	f := Frame{Event: event}
	if payload != nil {
		f.Data, _ = json.Marshal(payload)
	}
	s.events <- f
}

func (s *Socket) dispatch() {
	defer close(s.done)

	for f := range s.events {
		s.mu.RLock()
		entries := append([]handlerEntry(nil), s.handlers[f.Event]...)
		s.mu.RUnlock()

		for _, e := range entries {
			e.fn(f.Data)
		}
	}
}

func (s *Socket) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.ReconnectionDelay
	b.MaxInterval = s.opts.ReconnectionDelayMax
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0

	var policy backoff.BackOff = b
	if s.opts.ReconnectionAttempts > 0 {
		policy = backoff.WithMaxRetries(b, uint64(s.opts.ReconnectionAttempts))
	}
	policy.Reset()
	return policy
}

func (s *Socket) run(ctx context.Context) {
	defer close(s.events)
	defer s.setInactive()

	policy := s.newBackOff()
	for {
		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("connect failed", "error", err)
			s.enqueue(models.EventConnectError, connectError(err))

			if isRejected(err) || !s.opts.Reconnection || !s.retry(ctx, policy) {
				return
			}
			continue
		}

		s.setConnected(true)
		s.enqueue(models.EventConnect, nil)

		connectedAt := time.Now()
		reason := s.serve(ctx, conn)
		s.setConnected(false)
		s.logger.Info("disconnected", "reason", reason)
		s.enqueue(models.EventDisconnect, models.DisconnectReason{Reason: reason})

		if ctx.Err() != nil || !s.opts.Reconnection {
			return
		}
		// A connection that drops before the delay cap counts as a failed
		// attempt, so a flapping backend exhausts the policy.
		if time.Since(connectedAt) >= s.opts.ReconnectionDelayMax {
			policy.Reset()
		}
		if !s.retry(ctx, policy) {
			return
		}
	}
}

// retry waits for the next backoff interval. It returns false when the
// policy gave up or ctx ended.
func (s *Socket) retry(ctx context.Context, policy backoff.BackOff) bool {
	wait := policy.NextBackOff()
	if wait == backoff.Stop {
		s.logger.Warn("giving up reconnecting", "attempts", s.opts.ReconnectionAttempts)
		s.enqueue(EventReconnectFailed, nil)
		return false
	}
	if wait > s.opts.ReconnectionDelayMax {
		wait = s.opts.ReconnectionDelayMax
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}

// connectError describes a failed attempt. Only a handshake the backend
// answered carries the server message; local transport failures are flagged
// so they are never read as credential problems.
func connectError(err error) models.ConnectError {
	var he *HandshakeError
	if errors.As(err, &he) {
		return models.ConnectError{Message: he.Message}
	}
	return models.ConnectError{Message: err.Error(), Network: true}
}

// dial tries every transport in order. A rejected handshake is final: other
// transports would be refused for the same credentials.
func (s *Socket) dial(ctx context.Context) (Conn, error) {
	if len(s.opts.Transports) == 0 {
		return nil, errors.New("no transports configured")
	}

	var lastErr error
	for _, t := range s.opts.Transports {
		dialCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		conn, err := t.Dial(dialCtx, s.opts.URL, s.opts.Token)
		cancel()
		if err == nil {
			s.logger.Debug("connected", "transport", t.Name())
			return conn, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%s: timeout", t.Name())
		}
		if isRejected(err) {
			return nil, err
		}
		s.logger.Debug("transport failed", "transport", t.Name(), "error", err)
		lastErr = err
	}
	return nil, lastErr
}

// serve pumps frames both ways until either side fails or ctx ends.
// It returns the disconnect reason.
func (s *Socket) serve(ctx context.Context, conn Conn) string {
	connCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 2)

	var wg sync.WaitGroup
	wg.Go(func() {
		errCh <- s.readPump(connCtx, conn)
		cancel()
	})
	wg.Go(func() {
		errCh <- s.writePump(connCtx, conn)
		cancel()
	})

	err := <-errCh
	cancel()
	_ = conn.Close()
	wg.Wait()

	switch {
	case ctx.Err() != nil:
		return "io client disconnect"
	case err != nil && !errors.Is(err, context.Canceled):
		return "transport error: " + err.Error()
	default:
		return "transport close"
	}
}

func (s *Socket) readPump(ctx context.Context, conn Conn) error {
	for {
		f, err := conn.ReadFrame(ctx)
		if err != nil {
			return err
		}
		select {
		case s.events <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Socket) writePump(ctx context.Context, conn Conn) error {
	for {
		select {
		case f := <-s.out:
			if err := conn.WriteFrame(ctx, f); err != nil {
				s.logger.Warn("dropping frame", "event", f.Event, "error", err)
				return err
			}
		case <-ctx.Done():
			if s.isClosed() {
				s.drain(ctx, conn)
			}
			return ctx.Err()
		}
	}
}

// drain writes frames that were queued before a local close, such as a
// final leaveConversation. It gives up at the first failure.
func (s *Socket) drain(ctx context.Context, conn Conn) {
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeWait)
	defer cancel()

	for {
		select {
		case f := <-s.out:
			if err := conn.WriteFrame(drainCtx, f); err != nil {
				return
			}
		default:
			return
		}
	}
}

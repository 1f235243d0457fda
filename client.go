package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"studiochat/internal/cache"
	"studiochat/internal/connection"
	"studiochat/internal/models"
	"studiochat/internal/session"
	"studiochat/internal/ui"

	"golang.org/x/sync/errgroup"
)

var errQuit = errors.New("quit")

// chatClient is the interactive terminal front end.
type chatClient struct {
	cache   *cache.ChatCache
	session *session.Session
	bar     *ui.InputBar
	selfID  string
	logger  *slog.Logger
	redraw  chan struct{}

	outMu sync.Mutex
	out   io.Writer

	mu           sync.Mutex
	stopMessages func()
}

// newChatClient binds a session to the process-wide connection manager.
// Without one installed the session stays detached.
func newChatClient(chatCache *cache.ChatCache, selfID string, typingTimeout time.Duration, out io.Writer, logger *slog.Logger) *chatClient {
	var connector session.Connector
	if m := connection.Default(); m != nil {
		connector = m
	}

	c := &chatClient{
		cache:  chatCache,
		selfID: selfID,
		logger: logger,
		redraw: make(chan struct{}, 1),
		out:    out,
	}
	c.session = session.New(connector, chatCache, session.Options{
		AutoConnect:   true,
		TypingTimeout: typingTimeout,
		Fallback:      chatCache,
		Logger:        logger,
		Callbacks: session.Callbacks{
			OnNewMessage: func(models.MessageEvent) { c.requestRedraw() },
			OnTyping:     func(models.TypingStatus) { c.requestRedraw() },
			OnPresence: func(online []models.PresenceEntry) {
				c.write(func(w io.Writer) error { return ui.RenderPresence(w, online) })
			},
			OnError: func(err error) { c.printf("! %v\n", err) },
		},
	})
	c.bar = ui.NewInputBar(c.session)
	return c
}

func (c *chatClient) run(ctx context.Context, open int64, stdin io.Reader) error {
	c.session.Mount(ctx)
	defer c.session.Unmount()
	defer c.watch(ctx, 0)

	unsubscribe := c.cache.Subscribe(func(key string) {
		if id := c.session.ConversationID(); id != 0 && key == cache.MessagesKey(id) {
			c.requestRedraw()
		}
	})
	defer unsubscribe()

	stopConversations := c.cache.WatchConversations(ctx)
	defer stopConversations()

	if open != 0 {
		if err := c.handle(ctx, fmt.Sprintf("/open %d", open)); err != nil {
			return err
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-gCtx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return errQuit
				}
				if err := c.handle(gCtx, line); err != nil {
					return err
				}
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-c.redraw:
				c.renderThread()
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

func (c *chatClient) handle(ctx context.Context, line string) error {
	cmd, err := c.bar.Handle(line)
	if err != nil {
		c.printf("! %v\n", err)
		return nil
	}

	switch cmd.Action {
	case ui.ActionOpen:
		c.watch(ctx, cmd.ConversationID)
		if _, err := c.cache.Messages(ctx, cmd.ConversationID); err != nil {
			c.printf("! %v\n", err)
			return nil
		}
		c.renderThread()
	case ui.ActionClose:
		c.watch(ctx, 0)
	case ui.ActionList:
		convs, err := c.cache.Conversations(ctx)
		if err != nil {
			c.printf("! %v\n", err)
			return nil
		}
		c.write(func(w io.Writer) error { return ui.RenderConversations(w, convs) })
	case ui.ActionExport:
		if err := c.export(ctx, cmd.Text); err != nil {
			c.printf("! %v\n", err)
			return nil
		}
		c.printf("transcript written to %s\n", cmd.Text)
	case ui.ActionQuit:
		return errQuit
	}
	return nil
}

// watch keeps the messages of id fresh, replacing any previous watch.
func (c *chatClient) watch(ctx context.Context, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopMessages != nil {
		c.stopMessages()
		c.stopMessages = nil
	}
	if id != 0 {
		c.stopMessages = c.cache.WatchMessages(ctx, id)
	}
}

func (c *chatClient) export(ctx context.Context, path string) error {
	id := c.session.ConversationID()
	if id == 0 {
		return errors.New("no conversation open")
	}

	convs, err := c.cache.Conversations(ctx)
	if err != nil {
		return err
	}
	conv := models.Conversation{ID: id}
	if i := slices.IndexFunc(convs, func(cv models.Conversation) bool { return cv.ID == id }); i >= 0 {
		conv = convs[i]
	}

	msgs, err := c.cache.Messages(ctx, id)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create transcript: %w", err)
	}
	if err := ui.WriteTranscript(f, conv, msgs); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (c *chatClient) renderThread() {
	id := c.session.ConversationID()
	if id == 0 {
		return
	}
	msgs, ok := c.cache.CachedMessages(id)
	if !ok {
		return
	}
	typing := c.session.TypingUsers()
	c.write(func(w io.Writer) error {
		if _, err := fmt.Fprintf(w, "--- conversation #%d ---\n", id); err != nil {
			return err
		}
		return ui.RenderThread(w, msgs, c.selfID, typing)
	})
}

func (c *chatClient) requestRedraw() {
	select {
	case c.redraw <- struct{}{}:
	default:
	}
}

func (c *chatClient) write(fn func(w io.Writer) error) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if err := fn(c.out); err != nil {
		c.logger.Error("failed to write output", "error", err)
	}
}

func (c *chatClient) printf(format string, args ...any) {
	c.write(func(w io.Writer) error {
		_, err := fmt.Fprintf(w, format, args...)
		return err
	})
}

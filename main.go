package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studiochat/internal/api"
	"studiochat/internal/cache"
	"studiochat/internal/commands"
	"studiochat/internal/config"
	"studiochat/internal/connection"
	"studiochat/internal/socket"
	"studiochat/internal/storage"
)

var errLoggedOut = errors.New("session ended")

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("studiochat", flag.ContinueOnError)
	login := fs.String("login", "", "Email to log in with (password from STUDIO_PASSWORD)")
	logout := fs.Bool("logout", false, "Forget the stored identity")
	whoami := fs.Bool("whoami", false, "Print the stored identity")
	open := fs.Int64("open", 0, "Conversation to open on start")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	store, err := storage.NewBboltStorage(cfg.StateFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	client := api.New(cfg.ServerURL, store, logger)

	switch {
	case *login != "":
		return commands.Login(ctx, stdout, client, store, *login, os.Getenv("STUDIO_PASSWORD"))
	case *logout:
		return commands.Logout(stdout, store)
	case *whoami:
		return commands.WhoAmI(stdout, store, time.Now())
	}

	transports, err := socket.TransportsByName(cfg.Transports)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	manager := connection.NewManager(connection.Config{
		URL:                  cfg.SocketURL,
		Transports:           transports,
		ReconnectionAttempts: cfg.ReconnectAttempts,
		ReconnectionDelay:    cfg.ReconnectDelay,
		ReconnectionDelayMax: cfg.ReconnectDelayMax,
		Timeout:              cfg.ConnectTimeout,
		RedirectDelay:        cfg.RedirectDelay,
	}, store, connection.NavigatorFunc(func(path string) {
		cancel(fmt.Errorf("%w: log in again (%s)", errLoggedOut, path))
	}), logger)
	connection.SetDefault(manager)
	defer manager.Disconnect()

	if manager.Token() == "" {
		return fmt.Errorf("%w: run with -login first", errLoggedOut)
	}

	chatCache := cache.NewChatCache(runCtx, client, cache.Options{
		ConversationsRefetch: cfg.ConversationsRefetch,
		MessagesRefetch:      cfg.MessagesRefetch,
		Logger:               logger,
	})
	defer chatCache.Close()

	identity, _ := store.Identity()
	c := newChatClient(chatCache, identity.UserID, cfg.TypingTimeout, stdout, logger)

	log.Println("Connecting to", cfg.SocketURL)
	err = c.run(runCtx, *open, stdin)
	if cause := context.Cause(runCtx); errors.Is(cause, errLoggedOut) {
		return cause
	}
	return err
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}

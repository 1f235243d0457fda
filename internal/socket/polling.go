package socket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
)

// PollingTransport is the HTTP long-polling fallback used when a websocket
// cannot be established.
type PollingTransport struct {
	Client *http.Client
	// Path is appended to the endpoint, "/socket/poll" by default.
	Path string
}

func (t *PollingTransport) Name() string { return "polling" }

func (t *PollingTransport) Dial(ctx context.Context, endpoint, token string) (Conn, error) {
	path := t.Path
	if path == "" {
		path = "/socket/poll"
	}
	client := t.Client
	if client == nil {
		// Long polls are bounded by the server; the client only needs a ceiling.
		client = &http.Client{Timeout: 2 * pongWait}
	}

	openURL, err := endpointURL(endpoint, path, "", url.Values{"token": {token}})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polling: %w", stripURL(err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxMessageSize))
	if resp.StatusCode != http.StatusOK {
		return nil, &HandshakeError{
			Transport: t.Name(),
			Status:    resp.StatusCode,
			Message:   handshakeMessage(body, resp.Status),
		}
	}

	var open struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &open); err != nil || open.SID == "" {
		return nil, fmt.Errorf("polling: invalid handshake response")
	}

	sessionURL, err := endpointURL(endpoint, path, "", url.Values{"sid": {open.SID}})
	if err != nil {
		return nil, err
	}

	connCtx, cancel := context.WithCancel(context.Background())
	return &pollConn{
		client: client,
		url:    sessionURL,
		token:  token,
		ctx:    connCtx,
		cancel: cancel,
	}, nil
}

type pollConn struct {
	client *http.Client
	url    string
	token  string

	// ctx is cancelled by Close and aborts any outstanding poll.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending []Frame
}

func (c *pollConn) ReadFrame(ctx context.Context) (Frame, error) {
	for {
		c.mu.Lock()
		if len(c.pending) > 0 {
			f := c.pending[0]
			c.pending = c.pending[1:]
			c.mu.Unlock()
			return f, nil
		}
		c.mu.Unlock()

		frames, err := c.poll(ctx)
		if err != nil {
			return Frame{}, err
		}

		c.mu.Lock()
		c.pending = append(c.pending, frames...)
		c.mu.Unlock()
	}
}

func (c *pollConn) poll(ctx context.Context) ([]Frame, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polling: %w", stripURL(err))
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil, nil
	default:
		return nil, fmt.Errorf("polling: unexpected status %s", resp.Status)
	}

	var frames []Frame
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxMessageSize)).Decode(&frames); err != nil {
		return nil, fmt.Errorf("polling: failed to decode frames: %w", err)
	}
	return frames, nil
}

func (c *pollConn) WriteFrame(ctx context.Context, f Frame) error {
	if err := c.ctx.Err(); err != nil {
		return fmt.Errorf("polling: %w", net.ErrClosed)
	}

	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("polling: %w", stripURL(err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("polling: send failed with status %s", resp.Status)
	}
	return nil
}

func (c *pollConn) Close() error {
	c.cancel()
	return nil
}

package socket

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 1 << 20
)

// WebsocketTransport is the preferred persistent bidirectional transport.
type WebsocketTransport struct {
	Dialer *websocket.Dialer
	// Path is appended to the endpoint, "/socket" by default.
	Path string
}

func (t *WebsocketTransport) Name() string { return "websocket" }

func (t *WebsocketTransport) Dial(ctx context.Context, endpoint, token string) (Conn, error) {
	path := t.Path
	if path == "" {
		path = "/socket"
	}
	target, err := endpointURL(endpoint, path, "ws", url.Values{"token": {token}})
	if err != nil {
		return nil, err
	}

	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			// gorilla keeps up to 1KiB of the handshake body and closes it itself.
			body, _ := io.ReadAll(resp.Body)
			return nil, &HandshakeError{
				Transport: t.Name(),
				Status:    resp.StatusCode,
				Message:   handshakeMessage(body, resp.Status),
			}
		}
		return nil, fmt.Errorf("websocket: %w", err)
	}

	return newWSConn(ws), nil
}

type wsConn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	done    chan struct{}
	quit    sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{
		ws:   ws,
		done: make(chan struct{}),
	}

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.pinger()
	return c
}

func (c *wsConn) pinger() {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			c.writeMu.Lock()
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *wsConn) ReadFrame(_ context.Context) (Frame, error) {
	var f Frame
	if err := c.ws.ReadJSON(&f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func (c *wsConn) WriteFrame(_ context.Context, f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(f)
}

func (c *wsConn) Close() error {
	var err error
	c.quit.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

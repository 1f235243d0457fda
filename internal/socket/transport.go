package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Frame is one named event on the wire: {"event": "...", "data": ...}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Conn is an established transport connection.
type Conn interface {
	ReadFrame(ctx context.Context) (Frame, error)
	WriteFrame(ctx context.Context, f Frame) error
	Close() error
}

// Transport opens connections of one kind (websocket, polling).
type Transport interface {
	Name() string
	Dial(ctx context.Context, endpoint, token string) (Conn, error)
}

// HandshakeError is returned when the backend answered the connection
// attempt with a non-success status.
type HandshakeError struct {
	Transport string
	Status    int
	Message   string
}

func (e *HandshakeError) Error() string {
	return e.Message
}

// Rejected reports whether the backend refused our credentials. Rejected
// handshakes are not retried.
func (e *HandshakeError) Rejected() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

func isRejected(err error) bool {
	var he *HandshakeError
	return errors.As(err, &he) && he.Rejected()
}

// stripURL drops the request URL from an HTTP client error. The URL carries
// the token in its query.
func stripURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}

// handshakeMessage extracts {"message": "..."} from a rejection body,
// falling back to the raw text and then to the HTTP status line.
func handshakeMessage(body []byte, status string) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return status
}

func endpointURL(endpoint, path, scheme string, query url.Values) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if scheme != "" {
		switch u.Scheme {
		case "https", "wss":
			u.Scheme = scheme + "s"
		default:
			u.Scheme = scheme
		}
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// TransportsByName builds transports from configuration names, keeping order.
func TransportsByName(names []string) ([]Transport, error) {
	var transports []Transport
	for _, name := range names {
		switch strings.TrimSpace(name) {
		case "websocket":
			transports = append(transports, &WebsocketTransport{})
		case "polling":
			transports = append(transports, &PollingTransport{})
		default:
			return nil, fmt.Errorf("unknown transport %q", name)
		}
	}
	return transports, nil
}

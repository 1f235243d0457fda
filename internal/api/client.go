// Package api is the REST client for the chat backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"studiochat/internal/auth"
	"studiochat/internal/models"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
)

// Envelope wraps every backend response.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Error is a non-successful backend response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string         `json:"token"`
	User  models.UserRef `json:"user"`
}

type SendMessageRequest struct {
	ConversationID int64  `json:"conversationId,omitempty"`
	Message        string `json:"message"`
}

type Client struct {
	baseURL string
	http    *http.Client
	tokens  auth.TokenSource
	logger  *slog.Logger
}

// New returns a client for baseURL. Requests carry the token from tokens,
// when one is available, as a bearer credential.
func New(baseURL string, tokens auth.TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		tokens:  tokens,
		logger:  logger,
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

func (c *Client) Login(ctx context.Context, email, password string) (models.Identity, error) {
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return models.Identity{}, fmt.Errorf("login failed: %w", err)
	}
	if resp.Token == "" {
		return models.Identity{}, errors.New("login failed: backend returned no token")
	}
	return models.Identity{Token: resp.Token, UserID: resp.User.ID, Role: resp.User.Role}, nil
}

func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var convs []models.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/chat/conversations", nil, &convs); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	var msgs []models.Message
	path := fmt.Sprintf("/api/chat/conversations/%d/messages", conversationID)
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, fmt.Errorf("failed to list messages of %d: %w", conversationID, err)
	}
	return msgs, nil
}

// SendMessage posts a message. A zero conversationID lets the backend open
// a new conversation; the returned message carries its id.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, text string) (models.Message, error) {
	var msg models.Message
	req := SendMessageRequest{ConversationID: conversationID, Message: text}
	if err := c.do(ctx, http.MethodPost, "/api/chat/messages", req, &msg); err != nil {
		return models.Message{}, fmt.Errorf("failed to send message: %w", err)
	}
	return msg, nil
}

func (c *Client) MarkAsRead(ctx context.Context, conversationID int64) error {
	path := fmt.Sprintf("/api/chat/conversations/%d/read", conversationID)
	if err := c.do(ctx, http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("failed to mark %d as read: %w", conversationID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	u, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, env.Message)
	case resp.StatusCode >= 300 || !env.Success:
		return &Error{Status: resp.StatusCode, Message: env.Message}
	}

	c.logger.Debug("backend request", "method", method, "path", path, "status", resp.StatusCode)

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}
	return nil
}

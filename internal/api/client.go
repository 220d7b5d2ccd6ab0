// Package api implements the HTTP transport client for the chat and auth
// backends, including the tolerant response decoding.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/eloquent-ai/operator-client/internal/model"
	"github.com/eloquent-ai/operator-client/pkg/logger"
	"github.com/eloquent-ai/operator-client/pkg/metrics"
)

// Error is a typed failure for a backend call. Message is the fixed
// operation-specific text callers may surface to the user.
type Error struct {
	Op      string
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
}

// TokenSource supplies the current bearer token, or empty when anonymous.
type TokenSource func() string

// Client performs request/response calls against the chat and auth APIs.
type Client struct {
	chatBase string
	authBase string
	http     *http.Client
	token    TokenSource
	log      *logger.Logger
}

// NewClient creates a backend client. token may be nil for anonymous use.
func NewClient(chatBase, authBase string, timeout time.Duration, token TokenSource, log *logger.Logger) *Client {
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{
		chatBase: chatBase,
		authBase: authBase,
		http:     &http.Client{Timeout: timeout},
		token:    token,
		log:      log,
	}
}

// HTTPClient exposes the underlying client for transports that share its
// configuration but manage their own timeouts.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{Transport: c.http.Transport}
}

// ChatBase returns the chat API base URL.
func (c *Client) ChatBase() string {
	return c.chatBase
}

// Token returns the current bearer token, or empty.
func (c *Client) Token() string {
	return c.token()
}

// ChatRequest is the body of a chat turn request.
type ChatRequest struct {
	ConversationID *string `json:"conversation_id"`
	Message        string  `json:"message"`
	UserID         *string `json:"user_id,omitempty"`
	TurnID         string  `json:"turn_id,omitempty"`
}

// ListConversations fetches the summaries for a user.
func (c *Client) ListConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	u := c.chatBase + "/conversations"
	if userID != "" {
		u += "?user_id=" + url.QueryEscape(userID)
	}
	body, err := c.do(ctx, http.MethodGet, u, nil, "list_conversations", "Failed to fetch conversations")
	if err != nil {
		return nil, err
	}
	return DecodeConversationList(body), nil
}

// Messages fetches the message history of a conversation.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]model.Message, error) {
	u := c.chatBase + "/messages/" + url.PathEscape(conversationID)
	body, err := c.do(ctx, http.MethodGet, u, nil, "messages", "Failed to fetch conversation messages")
	if err != nil {
		return nil, err
	}
	return DecodeMessageList(body), nil
}

// CreateChat sends one message in a request/response round trip and
// returns the resolved conversation id plus the authoritative message
// list. It creates the conversation when req.ConversationID is nil.
func (c *Client) CreateChat(ctx context.Context, req ChatRequest) (string, []model.Message, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", nil, fmt.Errorf("encode chat request: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, c.chatBase+"/create", payload, "create", "Chat request failed")
	if err != nil {
		return "", nil, err
	}
	convID, messages := DecodeChatResponse(body)
	return convID, messages, nil
}

// DeleteConversation deletes a conversation on the backend.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	u := c.chatBase + "/delete/" + url.PathEscape(conversationID)
	_, err := c.do(ctx, http.MethodPost, u, nil, "delete", "Failed to delete conversation")
	return err
}

// Summarize asks the backend for a plain-text summary of a conversation.
func (c *Client) Summarize(ctx context.Context, conversationID string) (string, error) {
	u := c.chatBase + "/summarize/" + url.PathEscape(conversationID)
	body, err := c.do(ctx, http.MethodPost, u, nil, "summarize", "Failed to summarize conversation")
	if err != nil {
		return "", err
	}
	return DecodeSummarize(body), nil
}

// Credentials is the body of a login or signup request.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// Login authenticates and returns the backend identity. A rejection
// carries the backend-supplied message when one exists.
func (c *Client) Login(ctx context.Context, creds Credentials) (AuthUser, error) {
	return c.authenticate(ctx, c.authBase+"/login", creds, "login", "Login failed")
}

// Signup registers a new account and returns the backend identity.
func (c *Client) Signup(ctx context.Context, creds Credentials) (AuthUser, error) {
	return c.authenticate(ctx, c.authBase+"/signup", creds, "signup", "Signup failed")
}

// Me probes the current session.
func (c *Client) Me(ctx context.Context) (AuthUser, error) {
	body, err := c.do(ctx, http.MethodGet, c.authBase+"/me", nil, "me", "Session probe failed")
	if err != nil {
		return AuthUser{}, err
	}
	user, ok := ExtractUser(body)
	if !ok {
		return AuthUser{}, &Error{Op: "me", Status: http.StatusOK, Message: "Invalid session response"}
	}
	return user, nil
}

func (c *Client) authenticate(ctx context.Context, u string, creds Credentials, op, fallback string) (AuthUser, error) {
	payload, err := json.Marshal(creds)
	if err != nil {
		return AuthUser{}, fmt.Errorf("encode credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return AuthUser{}, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(op, "network_error").Inc()
		return AuthUser{}, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	metrics.APIRequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Auth rejections reuse the backend's own message when present.
		return AuthUser{}, &Error{Op: op, Status: resp.StatusCode, Message: ExtractMessage(body, fallback)}
	}

	user, ok := ExtractUser(body)
	if !ok {
		return AuthUser{}, &Error{Op: op, Status: resp.StatusCode, Message: "Invalid " + op + " response"}
	}
	return user, nil
}

// do runs one request and returns the response body, mapping any non-2xx
// status to a typed Error with the fixed operation message.
func (c *Client) do(ctx context.Context, method, u string, payload []byte, op, failMessage string) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(op, "network_error").Inc()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	metrics.APIRequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Debug("backend call failed",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
		)
		return nil, &Error{Op: op, Status: resp.StatusCode, Message: failMessage}
	}

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", op, err)
	}
	return out, nil
}

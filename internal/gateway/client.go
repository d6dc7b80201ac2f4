// Package gateway talks to the agent backend over its HTTP+JSON API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/strrl/agentchat/pkg/models"
	"github.com/tidwall/gjson"
)

// DefaultBaseURL is where the agent backend listens by default
const DefaultBaseURL = "http://localhost:8001/api"

// maxErrorBody bounds how much of an error response is read
const maxErrorBody = 64 << 10

// TransportError represents any failed call to the backend
type TransportError struct {
	Op     string // "list sessions", "send message", ...
	Status int    // HTTP status, 0 when no response arrived
	Detail string // backend-supplied reason, if any
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Detail != "":
		return fmt.Sprintf("transport error: %s: HTTP %d: %s", e.Op, e.Status, e.Detail)
	case e.Status != 0 && (e.Status < 200 || e.Status > 299):
		return fmt.Sprintf("transport error: %s: HTTP %d", e.Op, e.Status)
	default:
		return fmt.Sprintf("transport error: %s: %v", e.Op, e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client is a stateless client for the agent backend
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client. Nil is ignored.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// New creates a client for the API rooted at baseURL
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListSessions fetches all sessions in server order
func (c *Client) ListSessions(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	if err := c.do(ctx, "list sessions", http.MethodGet, "/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// CreateSession asks the backend to create a session; the backend assigns the id
func (c *Client) CreateSession(ctx context.Context, name string) (models.Session, error) {
	var session models.Session
	body := map[string]string{"name": name}
	if err := c.do(ctx, "create session", http.MethodPost, "/sessions", body, &session); err != nil {
		return models.Session{}, err
	}
	return session, nil
}

// RenameSession changes a session's name
func (c *Client) RenameSession(ctx context.Context, id, name string) error {
	body := map[string]string{"name": name}
	return c.do(ctx, "rename session", http.MethodPut, "/sessions/"+url.PathEscape(id), body, nil)
}

// DeleteSession removes a session and its history
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, "delete session", http.MethodDelete, "/sessions/"+url.PathEscape(id), nil, nil)
}

// FetchHistory returns the full history of a session
func (c *Client) FetchHistory(ctx context.Context, sessionID string) ([]models.Message, error) {
	var history []models.Message
	if err := c.do(ctx, "fetch history", http.MethodGet, "/history/"+url.PathEscape(sessionID), nil, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// SendMessage posts a query and returns the session's post-send history
func (c *Client) SendMessage(ctx context.Context, sessionID, text string) (models.ChatResponse, error) {
	var resp models.ChatResponse
	body := map[string]string{"session_id": sessionID, "query": text}
	if err := c.do(ctx, "send message", http.MethodPost, "/chat", body, &resp); err != nil {
		return models.ChatResponse{}, err
	}
	return resp, nil
}

// Status fetches the backend's agent configuration report
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	var status map[string]any
	if err := c.do(ctx, "fetch config", http.MethodGet, "/config", nil, &status); err != nil {
		return nil, err
	}
	return status, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &TransportError{
			Op:     op,
			Status: resp.StatusCode,
			Detail: errorDetail(data),
			Err:    fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// errorDetail pulls a human-readable reason out of an error body.
// FastAPI-style backends answer {"detail": "..."}; others use "error".
func errorDetail(body []byte) string {
	if !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body))
	}
	for _, key := range []string{"detail", "error", "message"} {
		if v := gjson.GetBytes(body, key); v.Exists() {
			return v.String()
		}
	}
	return ""
}

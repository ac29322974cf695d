// Package api is the HTTP client for the tutoring backend.
//
// All calls attach the bearer token when one is set. The backend verifies the
// token on every request; the client never does.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"studybuddy/internal/logging"
)

var (
	// ErrNotFound maps 404 responses (deleted sessions, unknown ids).
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized maps 401 responses (rejected or expired token).
	ErrUnauthorized = errors.New("unauthorized")
)

// Client talks to the tutoring backend.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// Config holds configuration for the backend client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// NewClient creates a backend client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetToken sets the bearer token attached to subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// User is the authenticated user's profile.
type User struct {
	Username         string `json:"username"`
	Email            string `json:"email"`
	PreferredSubject string `json:"current_subject"`
}

// Session is a conversation record as the backend reports it.
type Session struct {
	ID      string
	Name    string
	Subject string
}

// Message is one conversation turn on the wire.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"-"`
}

// SendResult is the reply to a prompt submission.
type SendResult struct {
	Response string `json:"response"`
	// SessionName is set only when the backend renamed the session on its
	// first exchange.
	SessionName string `json:"session_name"`
}

// Login exchanges credentials for a signed token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, username, email, password string) error {
	body := map[string]string{"username": username, "email": email, "password": password}
	req, err := c.jsonRequest(ctx, "POST", "/auth/register", body)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// CurrentUser fetches the authenticated user's profile, including the
// server-side preferred subject.
func (c *Client) CurrentUser(ctx context.Context) (User, error) {
	req, err := c.jsonRequest(ctx, "GET", "/auth/me", nil)
	if err != nil {
		return User{}, err
	}
	var u User
	if err := c.do(req, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// SelectSubject updates the user's server-side subject.
func (c *Client) SelectSubject(ctx context.Context, subject string) error {
	req, err := c.jsonRequest(ctx, "POST", "/auth/select-subject", map[string]string{"subject": subject})
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// CreateSession creates a session for the given subject and returns its id.
// This also updates the user's server-side subject.
func (c *Client) CreateSession(ctx context.Context, subject string) (string, error) {
	req, err := c.jsonRequest(ctx, "POST", "/sessions/create", map[string]string{"subject": subject})
	if err != nil {
		return "", err
	}
	var out struct {
		SessionID int64 `json:"session_id"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	logging.API("session created: id=%d subject=%s", out.SessionID, subject)
	return strconv.FormatInt(out.SessionID, 10), nil
}

// GetSession fetches a session's authoritative name and subject.
func (c *Client) GetSession(ctx context.Context, sessionID string) (Session, error) {
	req, err := c.jsonRequest(ctx, "GET", "/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return Session{}, err
	}
	var out struct {
		ID      int64  `json:"id"`
		Name    string `json:"name"`
		Subject string `json:"subject"`
	}
	if err := c.do(req, &out); err != nil {
		return Session{}, err
	}
	return Session{
		ID:      strconv.FormatInt(out.ID, 10),
		Name:    out.Name,
		Subject: out.Subject,
	}, nil
}

// ListSessions returns the user's sessions, newest first.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	req, err := c.jsonRequest(ctx, "GET", "/sessions/list", nil)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		ID      int64  `json:"id"`
		Name    string `json:"name"`
		Subject string `json:"subject"`
	}
	if err := c.do(req, &raw); err != nil {
		return nil, err
	}
	sessions := make([]Session, len(raw))
	for i, s := range raw {
		sessions[i] = Session{
			ID:      strconv.FormatInt(s.ID, 10),
			Name:    s.Name,
			Subject: s.Subject,
		}
	}
	return sessions, nil
}

// ListMessages fetches one page of a session's history. The backend returns
// pages newest-first; page is 1-based. An empty slice means the page is past
// the end of history (or, for page 1, that the session has no messages).
func (c *Client) ListMessages(ctx context.Context, sessionID string, page, limit int) ([]Message, error) {
	path := fmt.Sprintf("/sessions/messages/%s?page=%d&limit=%d", url.PathEscape(sessionID), page, limit)
	req, err := c.jsonRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Role      string `json:"role"`
		Content   string `json:"content"`
		Timestamp string `json:"timestamp"`
	}
	if err := c.do(req, &raw); err != nil {
		return nil, err
	}

	messages := make([]Message, len(raw))
	for i, m := range raw {
		messages[i] = Message{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: parseTimestamp(m.Timestamp),
		}
	}
	logging.APIDebug("listed messages: session=%s page=%d got=%d", sessionID, page, len(messages))
	return messages, nil
}

// SendPrompt submits a prompt against a bound session. The backend appends
// the user turn, generates the reply, and names the session on its first
// exchange.
func (c *Client) SendPrompt(ctx context.Context, sessionID, prompt string) (SendResult, error) {
	id, err := strconv.ParseInt(sessionID, 10, 64)
	if err != nil {
		return SendResult{}, fmt.Errorf("invalid session id %q: %w", sessionID, err)
	}
	body := map[string]interface{}{"prompt": prompt, "session_id": id}
	req, err := c.jsonRequest(ctx, "POST", "/qa", body)
	if err != nil {
		return SendResult{}, err
	}
	var out SendResult
	if err := c.do(req, &out); err != nil {
		return SendResult{}, err
	}
	return out, nil
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do executes the request, attaches the bearer token, and decodes the JSON
// response into out (when non-nil).
func (c *Client) do(req *http.Request, out interface{}) error {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.Get(logging.CategoryAPI).Error("%s %s failed: %v", req.Method, req.URL.Path, err)
		return fmt.Errorf("backend request: %w", err)
	}
	defer resp.Body.Close()

	logging.APIDebug("%s %s -> %d (%v)", req.Method, req.URL.Path, resp.StatusCode, time.Since(start))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		detail := extractDetail(data)
		if detail == "" {
			detail = resp.Status
		}
		return fmt.Errorf("backend error: %s", detail)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// extractDetail pulls FastAPI's {"detail": "..."} error body.
func extractDetail(data []byte) string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	return body.Detail
}

// parseTimestamp handles the backend's datetime serializations. Naive
// datetimes (no zone suffix) are treated as UTC.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

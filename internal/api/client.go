// Package api is the REST client for the backend: credential issuance,
// the user directory, and chat-history fetch/append. All requests carry the
// bearer token obtained at login.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// User is one directory record.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Session is the result of a successful login: an opaque bearer token pair
// plus the authenticated identity.
type Session struct {
	Access   string `json:"access"`
	Refresh  string `json:"refresh"`
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Message is one persisted chat message.
type Message struct {
	ID        string    `json:"id"`
	Sender    User      `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Client talks to the backend REST API.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// New creates a client for the given base URL, e.g. http://localhost:8000.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Token returns the current bearer token; empty before login.
func (c *Client) Token() string { return c.token }

// Login exchanges credentials for a token pair and stores the access token
// for subsequent requests.
func (c *Client) Login(ctx context.Context, username, password string) (Session, error) {
	var sess Session
	err := c.do(ctx, http.MethodPost, "/api/login/",
		map[string]string{"username": username, "password": password}, &sess)
	if err != nil {
		return Session{}, fmt.Errorf("login failed: %w", err)
	}
	c.token = sess.Access
	return sess, nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, username, email, password string) (User, error) {
	var u User
	err := c.do(ctx, http.MethodPost, "/api/register/",
		map[string]string{"username": username, "email": email, "password": password}, &u)
	if err != nil {
		return User{}, fmt.Errorf("registration failed: %w", err)
	}
	return u, nil
}

// Users fetches the user directory.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.do(ctx, http.MethodGet, "/api/users/", nil, &users); err != nil {
		return nil, fmt.Errorf("failed to fetch users: %w", err)
	}
	return users, nil
}

// Messages fetches chat history for a room.
func (c *Client) Messages(ctx context.Context, roomID string) ([]Message, error) {
	var msgs []Message
	path := fmt.Sprintf("/api/chat/%s/messages/", roomID)
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, fmt.Errorf("failed to fetch messages for room %s: %w", roomID, err)
	}
	return msgs, nil
}

// SendMessage appends a message to a room's history.
func (c *Client) SendMessage(ctx context.Context, roomID, content string) (Message, error) {
	var msg Message
	path := fmt.Sprintf("/api/chat/%s/messages/", roomID)
	err := c.do(ctx, http.MethodPost, path, map[string]string{"content": content}, &msg)
	if err != nil {
		return Message{}, fmt.Errorf("failed to send message to room %s: %w", roomID, err)
	}
	return msg, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

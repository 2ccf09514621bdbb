// Package apiclient talks to the messaging server's HTTP API. It is the
// delivery fallback when the realtime session is down: a message posted
// here is persisted and fanned out by the server exactly as a socket
// send would have been.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/omnivibe/wavelink/pkg/protocol"
)

const (
	messagesPath      = "/api/messages"
	conversationsPath = "/api/conversations"

	defaultTimeout = 10 * time.Second
)

// ErrUnauthorized indicates the server rejected the client's token.
var ErrUnauthorized = errors.New("api: unauthorized")

// Client is an HTTP API client. Safe for concurrent use.
type Client struct {
	base   *url.URL
	http   *http.Client
	token  string
	logger *log.Logger
}

// New creates a client for the given base URL, e.g.
// "http://chat.example.com:5000". A bare host:port is accepted and
// treated as plain HTTP.
func New(baseURL, token string) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, errors.New("api: base URL is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("api: invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api: unsupported scheme %q", u.Scheme)
	}

	return &Client{
		base:  u,
		http:  &http.Client{Timeout: defaultTimeout},
		token: token,
	}, nil
}

// SetLogger sets the logger for request diagnostics. Nil disables them.
func (c *Client) SetLogger(logger *log.Logger) {
	c.logger = logger
}

func (c *Client) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

type sendMessageRequest struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// apiError is the server's error body shape.
type apiError struct {
	Error string `json:"error"`
}

// SendMessage persists a message over HTTP and returns the saved record
// with its server-assigned ID and timestamp.
func (c *Client) SendMessage(ctx context.Context, senderID, receiverID, content string) (protocol.Message, error) {
	req := sendMessageRequest{SenderID: senderID, ReceiverID: receiverID, Content: content}

	var saved protocol.Message
	if err := c.post(ctx, messagesPath, req, &saved); err != nil {
		return protocol.Message{}, fmt.Errorf("send message: %w", err)
	}

	if saved.ConversationID == "" {
		saved.ConversationID = protocol.ConversationID(senderID, receiverID)
	}
	c.logf("message persisted over http: %s", saved.ID)
	return saved, nil
}

// Messages fetches a conversation's history, oldest first.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]protocol.Message, error) {
	path := conversationsPath + "/" + url.PathEscape(conversationID) + "/messages"

	var messages []protocol.Message
	if err := c.get(ctx, path, &messages); err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	return messages, nil
}

// MarkRead records a read receipt over HTTP.
func (c *Client) MarkRead(ctx context.Context, messageID, userID string) error {
	path := messagesPath + "/" + url.PathEscape(messageID) + "/read"
	body := struct {
		UserID string `json:"userId"`
	}{UserID: userID}

	if err := c.post(ctx, path, body, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		var ae apiError
		if json.NewDecoder(resp.Body).Decode(&ae) == nil && ae.Error != "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, ae.Error)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	return nil
}

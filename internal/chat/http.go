package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const maxReplySize = 1 << 20

// HTTPClient talks to a bot that exposes a plain JSON endpoint instead of a
// WebSocket. It keeps the conversation history and sends it with every
// message.
type HTTPClient struct {
	url    string
	http   *http.Client
	logger *zap.Logger

	mu      sync.Mutex
	pending bool
	history []string
}

type askRequest struct {
	Message     string   `json:"message"`
	ChatHistory []string `json:"chat_history"`
}

// NewHTTPClient creates a client for the bot endpoint at url.
func NewHTTPClient(url string, hc *http.Client, logger *zap.Logger) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{url: url, http: hc, logger: logger.Named("chat")}
}

// Ask sends one message and waits for the reply. Only one question may be in
// flight; a second call returns ErrRequestPending.
func (c *HTTPClient) Ask(ctx context.Context, message string) (Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return Reply{}, ErrRequestPending
	}
	c.pending = true
	history := append([]string(nil), c.history...)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.pending = false
		c.mu.Unlock()
	}()

	reply, err := c.post(ctx, askRequest{Message: message, ChatHistory: history})
	if err != nil {
		c.logger.Warn("bot request failed", zap.Error(err))
		return Reply{}, err
	}

	c.mu.Lock()
	c.history = append(c.history, "user: "+message, "bot: "+reply.Response)
	c.mu.Unlock()
	return reply, nil
}

// History returns the conversation so far as "sender: text" lines.
func (c *HTTPClient) History() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.history...)
}

func (c *HTTPClient) post(ctx context.Context, body askRequest) (Reply, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Reply{}, fmt.Errorf("chat: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Reply{}, fmt.Errorf("chat: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("chat: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return Reply{}, fmt.Errorf("chat: read reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Reply{}, fmt.Errorf("chat: bot returned %s", resp.Status)
	}

	var reply Reply
	if err := json.Unmarshal(data, &reply); err != nil {
		return Reply{}, fmt.Errorf("chat: decode reply: %w", err)
	}
	if reply.Error != "" {
		return reply, errors.New(reply.Error)
	}
	if reply.Response == "" {
		return reply, errors.New("chat: empty reply")
	}
	return reply, nil
}

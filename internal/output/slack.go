package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wingheights/wingsite/internal/config"
)

// slackWebhookURLPrefix is the required prefix for Slack webhook URLs.
// This prevents booking details from being posted to non-Slack endpoints.
const slackWebhookURLPrefix = "https://hooks.slack.com/"

// SlackOutput posts a staff notice for each booking to a Slack channel via
// an incoming webhook.
type SlackOutput struct {
	channel    string
	webhookURL string
	client     *http.Client
}

// slackPayload is an incoming-webhook message. Text is the notification
// fallback; Blocks carry the rendered notice.
type slackPayload struct {
	Channel string       `json:"channel,omitempty"`
	Text    string       `json:"text"`
	Blocks  []slackBlock `json:"blocks,omitempty"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// bookingBlocks lays out a notice as a header and a mrkdwn section.
func bookingBlocks(subject, body string) []slackBlock {
	var blocks []slackBlock
	if subject != "" {
		blocks = append(blocks, slackBlock{Type: "header", Text: &slackText{Type: "plain_text", Text: subject}})
	}
	if body != "" {
		blocks = append(blocks, slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: body}})
	}
	return blocks
}

// NewSlackOutput creates a Slack output from configuration.
func NewSlackOutput(cfg config.SlackConfig) (*SlackOutput, error) {
	if !strings.HasPrefix(cfg.WebhookURL, slackWebhookURLPrefix) {
		return nil, fmt.Errorf("invalid Slack webhook URL: must start with %s", slackWebhookURLPrefix)
	}
	return newSlackOutput(cfg.GetChannel(), cfg.WebhookURL, nil), nil
}

func newSlackOutput(channel, webhookURL string, client *http.Client) *SlackOutput {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SlackOutput{channel: channel, webhookURL: webhookURL, client: client}
}

// Name returns "slack".
func (s *SlackOutput) Name() string {
	return "slack"
}

// Send posts the subject as a header over the plain-text body. HTML,
// calendar and attachments are not sent.
func (s *SlackOutput) Send(ctx context.Context, msg Message) error {
	text := strings.TrimSpace(msg.Text)
	fallback := text
	if msg.Subject != "" {
		fallback = msg.Subject + ": " + text
	}

	body, err := json.Marshal(slackPayload{
		Channel: s.channel,
		Text:    fallback,
		Blocks:  bookingBlocks(msg.Subject, text),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack API error: status %d", resp.StatusCode)
	}
	return nil
}

// Close is a no-op for Slack output.
func (s *SlackOutput) Close() error {
	return nil
}

// Channel returns the configured channel name.
func (s *SlackOutput) Channel() string {
	return s.channel
}

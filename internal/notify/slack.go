package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const slackTimeout = 15 * time.Second

// SlackNotifier posts notifications to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlack creates a Slack sink. channel optionally overrides the webhook's
// default channel.
func NewSlack(webhookURL, channel string) (*SlackNotifier, error) {
	if strings.TrimSpace(webhookURL) == "" {
		return nil, errors.New("slack: webhook url is required")
	}
	return &SlackNotifier{
		webhookURL: strings.TrimSpace(webhookURL),
		channel:    strings.TrimSpace(channel),
		client:     &http.Client{Timeout: slackTimeout},
	}, nil
}

func (s *SlackNotifier) Kind() Kind {
	return KindSlack
}

// Notify sends one message holding every text when batch is set, otherwise
// one message per text in order. Delivery stops at the first failed post.
func (s *SlackNotifier) Notify(ctx context.Context, texts []string, batch bool) error {
	if len(texts) == 0 {
		return nil
	}

	if batch {
		return s.post(ctx, strings.Join(texts, "\n"))
	}

	for i, text := range texts {
		if err := s.post(ctx, text); err != nil {
			return fmt.Errorf("message %d of %d: %w", i+1, len(texts), err)
		}
	}
	return nil
}

func (s *SlackNotifier) post(ctx context.Context, text string) error {
	body, err := json.Marshal(slackMessage{Text: text, Channel: s.channel})
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: slack webhook returned status %d", ErrTransport, resp.StatusCode)
	}
	return nil
}

type slackMessage struct {
	Text    string `json:"text"`
	Channel string `json:"channel,omitempty"`
}

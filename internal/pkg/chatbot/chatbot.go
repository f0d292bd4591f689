// Package chatbot delivers plain-text messages to a chat-bot platform.
package chatbot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

var ErrNotConfigured = errors.New("chatbot: not configured")

type Provider interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

type NoOpProvider struct{}

func (NoOpProvider) SendMessage(context.Context, string, string) error { return nil }

// Telegram sends messages through the Bot API sendMessage method.
type Telegram struct {
	baseURL  string
	token    string
	client   *http.Client
	attempts uint64
	backoff  time.Duration
}

type Option func(*Telegram)

func WithHTTPClient(c *http.Client) Option {
	return func(t *Telegram) { t.client = c }
}

// WithRetry sets how many extra attempts a retryable failure gets and the
// initial backoff between them.
func WithRetry(attempts uint64, backoff time.Duration) Option {
	return func(t *Telegram) {
		t.attempts = attempts
		t.backoff = backoff
	}
}

// NewTelegram returns NoOpProvider when token is empty.
func NewTelegram(baseURL, token string, opts ...Option) Provider {
	if strings.TrimSpace(token) == "" {
		return NoOpProvider{}
	}
	t := &Telegram{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		client:   &http.Client{Timeout: 10 * time.Second},
		attempts: 3,
		backoff:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) SendMessage(ctx context.Context, chatID, text string) error {
	if chatID == "" {
		return ErrNotConfigured
	}
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)

	b := retry.WithMaxRetries(t.attempts, retry.NewExponential(t.backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.client.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("chatbot: send: %w", err))
		}
		defer resp.Body.Close()

		var out apiResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(raw, &out)

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("chatbot: status %d: %s", resp.StatusCode, out.Description))
		case resp.StatusCode >= 300 || !out.OK:
			return fmt.Errorf("chatbot: status %d: %s", resp.StatusCode, out.Description)
		}
		return nil
	})
}

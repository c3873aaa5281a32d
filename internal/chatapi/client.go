// Package chatapi abstracts the messaging transport the bridge polls: a
// long-poll get-updates call and a send call, modeled on the wire shape
// most chat bot APIs share ({update_id, message: {text, chat: {id}}}).
// The concrete provider is selected by configuration; this package only
// fixes the shape the bridge depends on.
package chatapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Update is one inbound message, flattened from the nested wire shape.
type Update struct {
	ID     int64
	ChatID string
	Text   string
}

// Client is the provider abstraction the bridge depends on.
type Client interface {
	// GetUpdates long-polls for messages with update_id >= offset.
	GetUpdates(ctx context.Context, offset int64) ([]Update, error)
	// Send delivers text to the configured chat.
	Send(ctx context.Context, text string) error
}

// wireUpdate mirrors the {update_id, message: {text, chat: {id}}} shape
// spec'd for the messaging API abstraction.
type wireUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  struct {
		Text string `json:"text"`
		Chat struct {
			ID json.Number `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// HTTPClient implements Client against a long-poll HTTP JSON API. It is
// provider-agnostic beyond the endpoint paths, which are built from
// BaseURL + Token the way every Telegram-shaped bot API does.
type HTTPClient struct {
	BaseURL         string
	Token           string
	ChatID          string
	LongPollTimeout time.Duration
	RequestTimeout  time.Duration

	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPClient returns a Client that asks the server to hold each
// get-updates call for longPoll and gives every HTTP request a deadline
// of requestTimeout. Both values are used as given; nothing checks that
// requestTimeout exceeds longPoll (the config defaults, 30s and 35s, do).
func NewHTTPClient(baseURL, token, chatID string, longPoll, requestTimeout time.Duration) *HTTPClient {
	return &HTTPClient{
		BaseURL:         baseURL,
		Token:           token,
		ChatID:          chatID,
		LongPollTimeout: longPoll,
		RequestTimeout:  requestTimeout,
		httpClient:      &http.Client{Timeout: requestTimeout},
		// Sends are capped at 1/sec with a small burst so a runaway
		// notification loop in the agent loop cannot flood the chat API.
		limiter: rate.NewLimiter(rate.Limit(1), 3),
	}
}

func (c *HTTPClient) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.BaseURL, c.Token, method)
}

// GetUpdates issues a long-poll request for updates with id >= offset.
func (c *HTTPClient) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("timeout", strconv.Itoa(int(c.LongPollTimeout.Seconds())))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("chatapi: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chatapi: get updates: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("chatapi: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chatapi: get updates: status %d: %s", resp.StatusCode, body)
	}

	var envelope struct {
		OK     bool         `json:"ok"`
		Result []wireUpdate `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("chatapi: decode response: %w", err)
	}

	updates := make([]Update, 0, len(envelope.Result))
	for _, w := range envelope.Result {
		updates = append(updates, Update{
			ID:     w.UpdateID,
			ChatID: w.Message.Chat.ID.String(),
			Text:   w.Message.Text,
		})
	}
	return updates, nil
}

// Send delivers text to the configured chat id, rate-limited so a burst
// of outbox messages cannot exceed the provider's own flood limits.
func (c *HTTPClient) Send(ctx context.Context, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("chatapi: rate limit wait: %w", err)
	}

	form := url.Values{}
	form.Set("chat_id", c.ChatID)
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("sendMessage"), nil)
	if err != nil {
		return fmt.Errorf("chatapi: build request: %w", err)
	}
	req.URL.RawQuery = form.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chatapi: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chatapi: send: status %d: %s", resp.StatusCode, body)
	}
	return nil
}

// Fingerprint renders a credential fragment safe to print: its length and
// last four characters, never the full secret.
func Fingerprint(secret string) string {
	if len(secret) <= 4 {
		return fmt.Sprintf("len=%d", len(secret))
	}
	return fmt.Sprintf("len=%d ...%s", len(secret), secret[len(secret)-4:])
}

package push

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// PushoverConfig controls the Pushover-style HTTP client.
type PushoverConfig struct {
	Endpoint string
	Token    string
	UserKey  string
	Timeout  time.Duration
}

const defaultEndpoint = "https://api.pushover.net/1/messages.json"

// PushoverChannel sends messages through a Pushover-compatible API.
type PushoverChannel struct {
	endpoint string
	token    string
	userKey  string
	http     *http.Client
}

// NewPushover builds a PushoverChannel.
func NewPushover(cfg PushoverConfig) (*PushoverChannel, error) {
	if cfg.Token == "" || cfg.UserKey == "" {
		return nil, fmt.Errorf("push.token and push.user_key are required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &PushoverChannel{
		endpoint: endpoint,
		token:    cfg.Token,
		userKey:  cfg.UserKey,
		http:     &http.Client{Timeout: timeout},
	}, nil
}

// Send posts the message as a form payload. Emergency priority carries the
// retry and expire parameters the provider requires.
func (c *PushoverChannel) Send(ctx context.Context, msg Message) error {
	form := url.Values{}
	form.Set("token", c.token)
	form.Set("user", c.userKey)
	form.Set("title", msg.Title)
	form.Set("message", msg.Body)
	form.Set("priority", strconv.Itoa(msg.Priority))
	if msg.Sound != "" {
		form.Set("sound", msg.Sound)
	}
	if msg.Priority >= 2 {
		form.Set("retry", strconv.Itoa(int(msg.Retry.Seconds())))
		form.Set("expire", strconv.Itoa(int(msg.Expire.Seconds())))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("send push: status %d: %s", resp.StatusCode, snippet)
	}
	return nil
}

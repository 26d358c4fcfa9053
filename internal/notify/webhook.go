package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookChannel posts a Markdown-formatted payload to a group-chat bot
// webhook (DingTalk message shape).
type WebhookChannel struct {
	URL    string
	client *http.Client
}

// NewWebhookChannel creates a webhook channel with a bounded request timeout.
func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		URL:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements the Channel interface.
func (c *WebhookChannel) Name() string { return "webhook" }

type webhookPayload struct {
	MsgType  string          `json:"msgtype"`
	Markdown webhookMarkdown `json:"markdown"`
}

type webhookMarkdown struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Send implements the Channel interface.
func (c *WebhookChannel) Send(ctx context.Context, msg Message) error {
	if c.URL == "" {
		return fmt.Errorf("webhook url not configured")
	}

	payload, err := json.Marshal(webhookPayload{
		MsgType:  "markdown",
		Markdown: webhookMarkdown{Title: msg.Title(), Text: msg.Markdown()},
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}

	var body struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.ErrCode != 0 {
		return fmt.Errorf("webhook rejected message: %s", body.ErrMsg)
	}
	return nil
}

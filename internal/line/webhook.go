package line

import (
	"encoding/json"
	"fmt"
)

// WebhookRequest is the body LINE posts to the webhook endpoint.
type WebhookRequest struct {
	Events []WebhookEvent `json:"events"`
}

// WebhookEvent is one event inside a webhook delivery.
type WebhookEvent struct {
	Type       string         `json:"type"`
	ReplyToken string         `json:"replyToken"`
	Source     WebhookSource  `json:"source"`
	Message    WebhookMessage `json:"message"`
}

type WebhookSource struct {
	UserID string `json:"userId"`
}

type WebhookMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// IsTextMessage reports whether the event carries user text.
func (e WebhookEvent) IsTextMessage() bool {
	return e.Type == "message" && e.Message.Type == "text"
}

// ParseWebhook decodes a raw webhook body.
func ParseWebhook(body []byte) (*WebhookRequest, error) {
	var req WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decoding webhook body: %w", err)
	}
	return &req, nil
}

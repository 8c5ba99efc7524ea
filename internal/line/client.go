// Package line is a small client for the LINE Messaging API: webhook
// signature validation, reply and push messages, and profile lookup.
package line

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Config holds LINE channel credentials.
type Config struct {
	Endpoint      string // e.g. https://api.line.me
	ChannelSecret string
	ChannelToken  string
}

// DefaultConfig returns a Config pointed at the public LINE endpoint.
func DefaultConfig() Config {
	return Config{Endpoint: "https://api.line.me"}
}

// Profile is the subset of a LINE user profile this system uses.
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// Client sends messages to and fetches profiles from LINE.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a Client for the channel described by cfg.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
			},
		},
	}
}

// ValidateSignature checks the x-line-signature header against the
// HMAC-SHA256 digest of the raw webhook body.
func (c *Client) ValidateSignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(c.cfg.ChannelSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type replyRequest struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []textMessage `json:"messages"`
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

// Reply sends a text reply for the given reply token.
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	body := replyRequest{
		ReplyToken: replyToken,
		Messages:   []textMessage{{Type: "text", Text: text}},
	}
	if err := c.post(ctx, "/v2/bot/message/reply", body); err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}
	return nil
}

// Push sends a text message directly to a user.
func (c *Client) Push(ctx context.Context, userID, text string) error {
	body := pushRequest{
		To:       userID,
		Messages: []textMessage{{Type: "text", Text: text}},
	}
	if err := c.post(ctx, "/v2/bot/message/push", body); err != nil {
		return fmt.Errorf("sending push: %w", err)
	}
	return nil
}

// GetProfile fetches a user's display profile.
func (c *Client) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	url := c.cfg.Endpoint + "/v2/bot/profile/" + userID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.ChannelToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching profile: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("line returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var p Profile
	if err := json.Unmarshal(respBody, &p); err != nil {
		return nil, fmt.Errorf("decoding profile: %w", err)
	}
	return &p, nil
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.ChannelToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("line returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

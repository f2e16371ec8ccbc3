package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.telegram.org"

// Client is a minimal Bot API client covering the calls this service makes
// itself; everything else about the bot protocol is the upstream platform's
// concern.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient constructs a Client for the given bot token.
func NewClient(token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    defaultBaseURL,
		token:      token,
	}
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendMessage sends a plain text message to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	payload, errMarshal := json.Marshal(map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	if errMarshal != nil {
		return fmt.Errorf("telegram: marshal sendMessage: %w", errMarshal)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, errRequest := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if errRequest != nil {
		return fmt.Errorf("telegram: build request: %w", errRequest)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, errDo := c.httpClient.Do(req)
	if errDo != nil {
		return fmt.Errorf("telegram: sendMessage: %w", errDo)
	}
	defer func() { _ = resp.Body.Close() }()

	var body apiResponse
	if errDecode := json.NewDecoder(resp.Body).Decode(&body); errDecode != nil {
		return fmt.Errorf("telegram: decode response: %w", errDecode)
	}
	if !body.OK {
		return fmt.Errorf("telegram: sendMessage failed: %s", body.Description)
	}
	return nil
}

/**
 * @description
 * Client for the transactional email notifier service. Workflow email steps
 * hand a template name, recipient, and template data to this client; the
 * notifier renders and sends the message and returns its message id.
 */
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client provides methods to interact with the notifier service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new notifier service client.
func NewClient(baseURL, apiKey string) *Client {
	normalizedURL := strings.TrimSuffix(baseURL, "/")
	return &Client{
		baseURL:    normalizedURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

type sendRequest struct {
	Template  string         `json:"template"`
	Recipient string         `json:"recipient"`
	Data      map[string]any `json:"data,omitempty"`
}

type sendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Send delivers one templated email and returns the notifier's message id.
func (c *Client) Send(ctx context.Context, template, recipient string, data map[string]any) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("notifier base URL is not configured")
	}

	payload, err := json.Marshal(sendRequest{Template: template, Recipient: recipient, Data: data})
	if err != nil {
		return "", fmt.Errorf("failed to marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/send", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("notifier returned status %d", resp.StatusCode)
	}

	var body sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode notifier response: %w", err)
	}
	if !body.Success {
		return "", fmt.Errorf("notifier rejected message: %s", body.Error)
	}
	return body.MessageID, nil
}

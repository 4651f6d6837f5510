package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MikeSquared-Agency/chatlens/internal/settings"
)

// ErrNoEndpoint is returned when no proxy URL is configured.
var ErrNoEndpoint = errors.New("no completion endpoint configured")

// Client talks to an OpenAI-compatible chat-completion endpoint. The
// endpoint, model and key are supplied per call since they can change at
// runtime through the settings API.
type Client struct {
	client *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{client: &http.Client{Timeout: timeout}}
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type choices struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Some proxies wrap the completion in a data object.
type wrapped struct {
	Data *choices `json:"data"`
}

// Complete posts the conversation and returns the assistant text. Responses
// in neither known shape are returned as indented JSON.
func (c *Client) Complete(ctx context.Context, cfg settings.AIConfig, messages []Message) (string, error) {
	if cfg.ProxyURL == "" {
		return "", ErrNoEndpoint
	}

	body, err := json.Marshal(request{Model: cfg.Model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.ProxyURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("api error %d: %s", resp.StatusCode, string(respBody))
	}

	return extractContent(respBody)
}

func extractContent(body []byte) (string, error) {
	var direct choices
	if err := json.Unmarshal(body, &direct); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(direct.Choices) > 0 && direct.Choices[0].Message.Content != "" {
		return direct.Choices[0].Message.Content, nil
	}

	// An empty answer falls through to the next shape, then to the raw body.
	var w wrapped
	if json.Unmarshal(body, &w) == nil && w.Data != nil && len(w.Data.Choices) > 0 && w.Data.Choices[0].Message.Content != "" {
		return w.Data.Choices[0].Message.Content, nil
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		return string(body), nil
	}
	return pretty.String(), nil
}

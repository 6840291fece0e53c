package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Engine renders one prompt completion. Implementations are stateless: no
// conversation or session carries over between calls.
type Engine interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ChatConfig holds chat-completion API configuration.
type ChatConfig struct {
	// BaseURL of an OpenAI-compatible API root (e.g. https://api.deepseek.com).
	BaseURL string
	// APIKey sent as a bearer token.
	APIKey string
	// Model is the chat model name (e.g. "deepseek-chat").
	Model string
	// Timeout per completion. Default 60s.
	Timeout time.Duration
}

// ChatClient calls an OpenAI-compatible /chat/completions endpoint with a
// single user message per request.
type ChatClient struct {
	cfg        ChatConfig
	httpClient *http.Client
}

// NewChatClient creates a ChatClient.
func NewChatClient(cfg ChatConfig) *ChatClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &ChatClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends prompt as one user message and returns the model's raw text
// output. The caller treats that text as the verdict without parsing it.
func (c *ChatClient) Complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    c.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat API returned status %d", resp.StatusCode)
	}

	var body chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if len(body.Choices) == 0 {
		return "", fmt.Errorf("chat API returned no choices")
	}
	return body.Choices[0].Message.Content, nil
}

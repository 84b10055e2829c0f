// Package llm produces the synthetic patient's next line from a scenario
// and the transcript so far.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/chadiek/hospital-callbot/internal/callerr"
)

// Role is the chat role of a message.
type Role string

const (
	System    Role = openai.ChatMessageRoleSystem
	User      Role = openai.ChatMessageRoleUser
	Assistant Role = openai.ChatMessageRoleAssistant
)

type Message struct {
	Role    Role
	Content string
}

// Completer returns the model's answer to messages.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// ChatClient talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, Cerebras).
type ChatClient struct {
	HTTPClient *http.Client
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int

	client *openai.Client
}

func NewChatClient(apiKey, baseURL, model string) *ChatClient {
	c := &ChatClient{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Model:      model,
		MaxTokens:  200,
	}
	return c
}

func (c *ChatClient) openai() *openai.Client {
	if c.client == nil {
		cfg := openai.DefaultConfig(c.APIKey)
		if c.BaseURL != "" {
			cfg.BaseURL = strings.TrimRight(c.BaseURL, "/")
		}
		if c.HTTPClient != nil {
			cfg.HTTPClient = c.HTTPClient
		}
		c.client = openai.NewClientWithConfig(cfg)
	}
	return c.client
}

func (c *ChatClient) Complete(ctx context.Context, messages []Message) (string, error) {
	if c.APIKey == "" {
		return "", callerr.Permanent(&callerr.ConfigError{Missing: []string{"LLM_API_KEY"}})
	}
	req := openai.ChatCompletionRequest{
		Model:     c.Model,
		MaxTokens: c.MaxTokens,
		Messages:  make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	resp, err := c.openai().CreateChatCompletion(ctx, req)
	if err != nil {
		if status := httpStatus(err); status >= 400 && status < 500 && status != http.StatusTooManyRequests {
			return "", callerr.Permanent(fmt.Errorf("chat completion: status=%d: %w", status, err))
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func httpStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

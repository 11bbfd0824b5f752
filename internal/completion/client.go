package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/digkill/buildgen/internal/config"
)

// ErrNoAPIKey is returned by NewClient when the provider key is empty.
var ErrNoAPIKey = errors.New("completion api key is required")

// Client talks to an OpenAI-compatible chat completion endpoint.
type Client struct {
	api *openai.Client
	log *slog.Logger
}

func NewClient(cfg config.Config, log *slog.Logger) (*Client, error) {
	if cfg.CompletionAPIKey == "" {
		return nil, ErrNoAPIKey
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}

	clientCfg := openai.DefaultConfig(cfg.CompletionAPIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.CompletionBaseURL, "/")
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		api: openai.NewClientWithConfig(clientCfg),
		log: log,
	}, nil
}

// Complete sends one system and one user message and returns the first choice's text.
// No choices yields an empty string and no error.
func (c *Client) Complete(ctx context.Context, model, system, user string) (string, error) {
	started := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && c.log != nil {
			c.log.Warn("completion api error", "model", model, "status", apiErr.HTTPStatusCode, "message", truncate(apiErr.Message, 300))
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if c.log != nil {
		c.log.Debug("completion finished",
			"model", model,
			"choices", len(resp.Choices),
			"total_tokens", resp.Usage.TotalTokens,
			"elapsed", time.Since(started).String())
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tgrelay/internal/conversation"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, DeepSeek, Grok, OpenRouter).
type OpenAIClient struct {
	provider   string
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

type OpenAIConfig struct {
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

func NewOpenAIClient(cfg OpenAIConfig, httpClient *http.Client, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.Model == "" {
		return nil, ErrInvalidModel
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}
	return &OpenAIClient{
		provider:   provider,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (c *OpenAIClient) Provider() string { return c.provider }

func (c *OpenAIClient) Model() string { return c.model }

func (c *OpenAIClient) Generate(ctx context.Context, systemPrompt string, history []conversation.Turn, newText string) (string, error) {
	body := chatCompletionRequest{
		Model:     c.model,
		Messages:  buildMessages(systemPrompt, history, newText),
		MaxTokens: c.maxTokens,
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return "", invalidResponse(c.provider, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return "", invalidResponse(c.provider, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", transportError(c.provider, fmt.Errorf("execute request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError(c.provider, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 300 {
		return "", statusError(c.provider, resp, respBody, c.now())
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", invalidResponse(c.provider, fmt.Errorf("decode response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return "", invalidResponse(c.provider, errors.New("no choices in response"))
	}
	answer := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if answer == "" {
		return "", invalidResponse(c.provider, errors.New("empty response from model"))
	}

	if c.logger != nil {
		c.logger.Debug("completion received",
			slog.String("provider", c.provider),
			slog.String("model", c.model),
			slog.Int("history", len(history)),
			slog.String("finish_reason", parsed.Choices[0].FinishReason))
	}
	return answer, nil
}

type chatCompletionRequest struct {
	Model     string    `json:"model"`
	Messages  []message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

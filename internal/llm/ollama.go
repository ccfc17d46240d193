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

const ollamaProvider = "ollama"

// OllamaClient talks to a local Ollama server.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

func NewOllamaClient(baseURL, model string, httpClient *http.Client, logger *slog.Logger) (*OllamaClient, error) {
	if model == "" {
		return nil, ErrInvalidModel
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OllamaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (c *OllamaClient) Provider() string { return ollamaProvider }

func (c *OllamaClient) Model() string { return c.model }

func (c *OllamaClient) Generate(ctx context.Context, systemPrompt string, history []conversation.Turn, newText string) (string, error) {
	var parsed ollamaChatResponse
	err := c.post(ctx, "/api/chat", ollamaChatRequest{
		Model:    c.model,
		Messages: buildMessages(systemPrompt, history, newText),
		Stream:   false,
	}, &parsed)
	if err != nil {
		return "", err
	}

	answer := strings.TrimSpace(parsed.Message.Content)
	if answer == "" {
		return "", invalidResponse(ollamaProvider, errors.New("empty response from model"))
	}
	return answer, nil
}

// EnsureModel pulls the configured model when the server does not have it.
// The pull is bounded by ctx only, not by the client's Timeout.
func (c *OllamaClient) EnsureModel(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("build tags request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(ollamaProvider, fmt.Errorf("list models: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(ollamaProvider, fmt.Errorf("read tags: %w", err))
	}
	if resp.StatusCode >= 300 {
		return statusError(ollamaProvider, resp, body, c.now())
	}

	var tags ollamaTagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		return invalidResponse(ollamaProvider, fmt.Errorf("decode tags: %w", err))
	}
	for _, m := range tags.Models {
		if m.Name == c.model || m.Name == c.model+":latest" {
			if c.logger != nil {
				c.logger.Info("ollama model available", slog.String("model", c.model))
			}
			return nil
		}
	}

	if c.logger != nil {
		c.logger.Info("ollama model not found, pulling", slog.String("model", c.model))
	}
	pullClient := *c.httpClient
	pullClient.Timeout = 0

	var pulled ollamaPullResponse
	if err := c.postWith(ctx, &pullClient, "/api/pull", ollamaPullRequest{Model: c.model, Stream: false}, &pulled); err != nil {
		return fmt.Errorf("pull model %s: %w", c.model, err)
	}
	if pulled.Status != "success" {
		return invalidResponse(ollamaProvider, fmt.Errorf("pull model %s: status %q", c.model, pulled.Status))
	}
	return nil
}

func (c *OllamaClient) post(ctx context.Context, path string, payload any, out any) error {
	return c.postWith(ctx, c.httpClient, path, payload, out)
}

func (c *OllamaClient) postWith(ctx context.Context, client *http.Client, path string, payload any, out any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return invalidResponse(ollamaProvider, fmt.Errorf("marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return invalidResponse(ollamaProvider, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return transportError(ollamaProvider, fmt.Errorf("execute request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(ollamaProvider, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode >= 300 {
		return statusError(ollamaProvider, resp, body, c.now())
	}
	if err := json.Unmarshal(body, out); err != nil {
		return invalidResponse(ollamaProvider, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResponse struct {
	Message message `json:"message"`
	Done    bool    `json:"done"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type ollamaPullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

type ollamaPullResponse struct {
	Status string `json:"status"`
}

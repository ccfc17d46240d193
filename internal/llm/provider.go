package llm

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"tgrelay/internal/config"
)

// Backend is a concrete model client.
type Backend interface {
	Gateway
	Provider() string
	Model() string
}

type preset struct {
	baseURL   string
	model     string
	maxTokens int
}

var presets = map[string]preset{
	"openai":     {baseURL: "https://api.openai.com/v1", model: "gpt-4"},
	"deepseek":   {baseURL: "https://api.deepseek.com", model: "deepseek-chat", maxTokens: 1111},
	"grok":       {baseURL: "https://api.x.ai/v1", model: "grok-3-mini"},
	"openrouter": {baseURL: "https://openrouter.ai/api/v1"},
	"ollama":     {baseURL: "http://localhost:11434"},
}

// Providers lists the supported MODEL_PROVIDER values.
func Providers() []string {
	return []string{"openai", "deepseek", "grok", "openrouter", "ollama"}
}

// NewBackend builds the client selected by cfg.Provider, filling base URL,
// model and token limit from the provider defaults when unset.
func NewBackend(cfg config.ModelConfig, httpClient *http.Client, logger *slog.Logger) (Backend, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	p, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown model provider %q (supported: %s)", cfg.Provider, strings.Join(Providers(), ", "))
	}

	baseURL := firstNonEmpty(cfg.BaseURL, p.baseURL)
	model := firstNonEmpty(cfg.Model, p.model)
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}

	if name == ollamaProvider {
		client, err := NewOllamaClient(baseURL, model, httpClient, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s requires an API key", name)
	}
	client, err := NewOpenAIClient(OpenAIConfig{
		Provider:  name,
		APIKey:    cfg.APIKey,
		BaseURL:   baseURL,
		Model:     model,
		MaxTokens: maxTokens,
	}, httpClient, logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

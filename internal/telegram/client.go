package telegram

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

	"tgrelay/internal/config"
	"tgrelay/internal/retry"
)

const (
	ParseModeHTML = "HTML"
	ActionTyping  = "typing"
)

// BotClient is the outbound part of the Bot API used by the webhook handler.
type BotClient interface {
	SendMessage(ctx context.Context, chatID int64, text, parseMode string) (int64, error)
	SendChatAction(ctx context.Context, chatID int64, action string) error
}

type HTTPBotClient struct {
	token      string
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
	logger     *slog.Logger
}

func NewClient(cfg config.TelegramConfig, httpClient *http.Client, logger *slog.Logger) *HTTPBotClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &HTTPBotClient{
		token:      cfg.Token,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		policy:     retry.DefaultPolicy(),
		logger:     logger,
	}
}

// WithRetryPolicy replaces the policy used for flood-control and 5xx retries.
func (c *HTTPBotClient) WithRetryPolicy(p retry.Policy) *HTTPBotClient {
	c.policy = p
	return c
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type sendChatActionRequest struct {
	ChatID int64  `json:"chat_id"`
	Action string `json:"action"`
}

type setWebhookRequest struct {
	URL            string   `json:"url"`
	SecretToken    string   `json:"secret_token,omitempty"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

func (c *HTTPBotClient) SendMessage(ctx context.Context, chatID int64, text, parseMode string) (int64, error) {
	var msg Message
	err := c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:    chatID,
		Text:      text,
		ParseMode: parseMode,
	}, &msg)
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

func (c *HTTPBotClient) SendChatAction(ctx context.Context, chatID int64, action string) error {
	var ok bool
	return c.call(ctx, "sendChatAction", sendChatActionRequest{ChatID: chatID, Action: action}, &ok)
}

func (c *HTTPBotClient) GetWebhookInfo(ctx context.Context) (WebhookInfo, error) {
	var info WebhookInfo
	if err := c.call(ctx, "getWebhookInfo", struct{}{}, &info); err != nil {
		return WebhookInfo{}, err
	}
	return info, nil
}

// SetWebhook registers url for message updates. An empty secret disables
// the secret header.
func (c *HTTPBotClient) SetWebhook(ctx context.Context, url, secret string) error {
	var ok bool
	return c.call(ctx, "setWebhook", setWebhookRequest{
		URL:            url,
		SecretToken:    secret,
		AllowedUpdates: []string{"message"},
	}, &ok)
}

func (c *HTTPBotClient) call(ctx context.Context, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram request: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	return retry.Do(ctx, c.policy, c.logger, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build telegram request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// The URL carries the bot token; keep only the underlying cause.
			return fmt.Errorf("execute telegram %s: %w", method, unwrapURLError(err))
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read telegram response: %w", err)
		}
		return decodeResponse(method, resp.StatusCode, respBody, out)
	})
}

func decodeResponse(method string, status int, body []byte, out any) error {
	var response apiResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return &APIError{
			Method:      method,
			Code:        status,
			Description: retry.BodySnippet(body, retry.DefaultSnippetLimit),
		}
	}
	if !response.Ok {
		apiErr := &APIError{
			Method:      method,
			Code:        response.ErrorCode,
			Description: response.Description,
		}
		if apiErr.Code == 0 {
			apiErr.Code = status
		}
		if response.Parameters != nil && response.Parameters.RetryAfter > 0 {
			apiErr.retryAfter = time.Duration(response.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}
	if err := json.Unmarshal(response.Result, out); err != nil {
		return fmt.Errorf("decode telegram %s result: %w", method, err)
	}
	return nil
}

func unwrapURLError(err error) error {
	if inner := errors.Unwrap(err); inner != nil {
		return inner
	}
	return err
}

package telegram

import (
	"context"
	"fmt"
	"strings"
)

// WebhookAPI is the subset of the Bot API used to manage the webhook.
type WebhookAPI interface {
	GetWebhookInfo(ctx context.Context) (WebhookInfo, error)
	SetWebhook(ctx context.Context, url, secret string) error
}

// WebhookURL joins the public base URL with the relay's webhook route.
func WebhookURL(publicURL, token string) string {
	return strings.TrimRight(publicURL, "/") + "/webhook/" + token
}

// EnsureWebhook points the bot at publicURL unless it already is. It
// returns the final webhook info and whether setWebhook was called.
func EnsureWebhook(ctx context.Context, api WebhookAPI, publicURL, token, secret string) (WebhookInfo, bool, error) {
	info, err := api.GetWebhookInfo(ctx)
	if err != nil {
		return WebhookInfo{}, false, fmt.Errorf("get webhook info: %w", err)
	}

	target := WebhookURL(publicURL, token)
	if info.URL == target {
		return info, false, nil
	}

	if err := api.SetWebhook(ctx, target, secret); err != nil {
		return WebhookInfo{}, false, fmt.Errorf("set webhook: %w", err)
	}
	info, err = api.GetWebhookInfo(ctx)
	if err != nil {
		return WebhookInfo{}, true, fmt.Errorf("get webhook info: %w", err)
	}
	return info, true, nil
}

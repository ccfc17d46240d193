package telegram

import (
	"context"
	"errors"
	"testing"
)

type fakeWebhookAPI struct {
	info    WebhookInfo
	setURLs []string
	getErr  error
}

func (f *fakeWebhookAPI) GetWebhookInfo(context.Context) (WebhookInfo, error) {
	return f.info, f.getErr
}

func (f *fakeWebhookAPI) SetWebhook(_ context.Context, url, _ string) error {
	f.setURLs = append(f.setURLs, url)
	f.info.URL = url
	return nil
}

func TestWebhookURL(t *testing.T) {
	if got := WebhookURL("https://relay.example/", "1:AB"); got != "https://relay.example/webhook/1:AB" {
		t.Fatalf("unexpected url %s", got)
	}
}

func TestEnsureWebhook_SetsWhenDifferent(t *testing.T) {
	api := &fakeWebhookAPI{info: WebhookInfo{URL: "https://old.example/hook"}}

	info, changed, err := EnsureWebhook(context.Background(), api, "https://relay.example", "T", "")
	if err != nil {
		t.Fatalf("EnsureWebhook failed: %v", err)
	}
	if !changed || len(api.setURLs) != 1 {
		t.Fatalf("expected one setWebhook call, got %v", api.setURLs)
	}
	if info.URL != "https://relay.example/webhook/T" {
		t.Fatalf("unexpected final url %s", info.URL)
	}
}

func TestEnsureWebhook_IsIdempotent(t *testing.T) {
	api := &fakeWebhookAPI{info: WebhookInfo{URL: "https://relay.example/webhook/T"}}

	_, changed, err := EnsureWebhook(context.Background(), api, "https://relay.example", "T", "")
	if err != nil {
		t.Fatalf("EnsureWebhook failed: %v", err)
	}
	if changed || len(api.setURLs) != 0 {
		t.Fatalf("setWebhook must not be called when url matches")
	}
}

func TestEnsureWebhook_InfoError(t *testing.T) {
	api := &fakeWebhookAPI{getErr: errors.New("boom")}

	if _, _, err := EnsureWebhook(context.Background(), api, "https://relay.example", "T", ""); err == nil {
		t.Fatalf("expected error")
	}
}

package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"tgrelay/internal/config"
	"tgrelay/internal/retry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPBotClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	policy := retry.DefaultPolicy()
	policy.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return NewClient(config.TelegramConfig{Token: "T", APIBaseURL: srv.URL}, srv.Client(), nil).
		WithRetryPolicy(policy)
}

func TestClient_SendMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botT/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ChatID != 42 || req.Text != "<b>hi</b>" || req.ParseMode != ParseModeHTML {
			t.Errorf("unexpected request: %+v", req)
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":9,"chat":{"id":42}}}`))
	})

	id, err := client.SendMessage(context.Background(), 42, "<b>hi</b>", ParseModeHTML)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if id != 9 {
		t.Fatalf("expected message id 9, got %d", id)
	}
}

func TestClient_ParseErrorIsNotRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities: Unsupported start tag"}`))
	})

	_, err := client.SendMessage(context.Background(), 1, "<x>", ParseModeHTML)
	if !IsParseError(err) {
		t.Fatalf("expected parse error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestClient_FloodControlIsRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 1","parameters":{"retry_after":1}}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	})

	if err := client.SendChatAction(context.Background(), 1, ActionTyping); err != nil {
		t.Fatalf("SendChatAction failed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestClient_ErrorsDoNotLeakToken(t *testing.T) {
	client := NewClient(config.TelegramConfig{Token: "super-secret", APIBaseURL: "http://127.0.0.1:1"}, nil, nil)
	client.WithRetryPolicy(retry.Policy{MaxAttempts: 1})

	err := client.SendChatAction(context.Background(), 1, ActionTyping)
	if err == nil {
		t.Fatalf("expected connection error")
	}
	if strings.Contains(err.Error(), "super-secret") {
		t.Fatalf("error leaks token: %v", err)
	}
}

func TestClient_WebhookCalls(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/botT/getWebhookInfo":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"url":"https://relay.example/webhook/T","pending_update_count":3}}`))
		case "/botT/setWebhook":
			var req setWebhookRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.URL != "https://relay.example/webhook/T" || req.SecretToken != "s" {
				t.Errorf("unexpected setWebhook request: %+v", req)
			}
			_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
		default:
			http.NotFound(w, r)
		}
	})

	info, err := client.GetWebhookInfo(context.Background())
	if err != nil {
		t.Fatalf("GetWebhookInfo failed: %v", err)
	}
	if info.PendingUpdateCount != 3 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if err := client.SetWebhook(context.Background(), "https://relay.example/webhook/T", "s"); err != nil {
		t.Fatalf("SetWebhook failed: %v", err)
	}
}

func TestAPIError(t *testing.T) {
	err := error(&APIError{Method: "sendMessage", Code: 429, Description: "Too Many Requests", retryAfter: 3 * time.Second})

	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.Retryable() {
		t.Fatalf("429 must be retryable")
	}
	if d, ok := apiErr.RetryAfter(); !ok || d != 3*time.Second {
		t.Fatalf("unexpected retry after: %v %v", d, ok)
	}
	if (&APIError{Code: 403}).Retryable() {
		t.Fatalf("403 must not be retryable")
	}
	if IsParseError(errors.New("can't parse entities")) {
		t.Fatalf("plain errors are not parse errors")
	}
}

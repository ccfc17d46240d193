package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"hey"},"done":true}`))
	}))
	defer srv.Close()

	client, err := NewOllamaClient(srv.URL, "llama3", srv.Client(), nil)
	require.NoError(t, err)

	reply, err := client.Generate(context.Background(), "sys", nil, "hi")
	require.NoError(t, err)
	assert.Equal(t, "hey", reply)
	assert.Equal(t, "ollama", client.Provider())
}

func TestOllamaClient_Generate_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewOllamaClient(srv.URL, "llama3", srv.Client(), nil)
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "", nil, "hi")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOllamaClient_EnsureModel(t *testing.T) {
	tests := []struct {
		name       string
		tags       string
		wantPulled bool
	}{
		{name: "present", tags: `{"models":[{"name":"llama3:latest"}]}`},
		{name: "missing", tags: `{"models":[{"name":"mistral"}]}`, wantPulled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pulled := false
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/api/tags":
					_, _ = w.Write([]byte(tt.tags))
				case "/api/pull":
					pulled = true
					var req ollamaPullRequest
					require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
					assert.Equal(t, "llama3", req.Model)
					_, _ = w.Write([]byte(`{"status":"success"}`))
				default:
					http.NotFound(w, r)
				}
			}))
			defer srv.Close()

			client, err := NewOllamaClient(srv.URL, "llama3", srv.Client(), nil)
			require.NoError(t, err)
			require.NoError(t, client.EnsureModel(context.Background()))
			assert.Equal(t, tt.wantPulled, pulled)
		})
	}
}

func TestOllamaClient_EnsureModel_PullFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			_, _ = w.Write([]byte(`{"models":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"pulling manifest"}`))
	}))
	defer srv.Close()

	client, err := NewOllamaClient(srv.URL, "llama3", srv.Client(), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, client.EnsureModel(context.Background()), ErrInvalidResponse)
}

func TestOllamaClient_EnsureModel_PullOutlivesClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			_, _ = w.Write([]byte(`{"models":[]}`))
			return
		}
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	httpClient := srv.Client()
	httpClient.Timeout = 50 * time.Millisecond
	client, err := NewOllamaClient(srv.URL, "llama3", httpClient, nil)
	require.NoError(t, err)

	require.NoError(t, client.EnsureModel(context.Background()))
	assert.Equal(t, 50*time.Millisecond, httpClient.Timeout)
}

func TestOllamaClient_EnsureModel_PullBoundedByContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			_, _ = w.Write([]byte(`{"models":[]}`))
			return
		}
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client, err := NewOllamaClient(srv.URL, "llama3", srv.Client(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, client.EnsureModel(ctx), ErrTimeout)
}

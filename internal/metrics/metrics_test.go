package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgrelay/internal/llm"
)

func TestObserveDispatch(t *testing.T) {
	m := New()
	m.ObserveDispatch("replied", 2*time.Second)
	m.ObserveDispatch("replied", time.Second)
	m.ObserveDispatch("duplicate", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.updatesTotal.WithLabelValues("replied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.updatesTotal.WithLabelValues("duplicate")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.dispatchDuration))
}

func TestObserveGeneration(t *testing.T) {
	m := New()
	m.ObserveGeneration("deepseek", "deepseek-chat", time.Second, nil)
	m.ObserveGeneration("deepseek", "deepseek-chat", time.Second, &llm.UpstreamError{Kind: llm.KindRateLimited})
	m.ObserveGeneration("deepseek", "deepseek-chat", time.Second, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.generationsTotal.WithLabelValues("deepseek", "deepseek-chat", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generationsTotal.WithLabelValues("deepseek", "deepseek-chat", "rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generationsTotal.WithLabelValues("deepseek", "deepseek-chat", "error")))
}

func TestEvictionCounters(t *testing.T) {
	m := New()
	m.DedupEvicted(3, 10)
	m.DedupEvicted(2, 8)
	m.ConversationsEvicted(4)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.dedupEvicted))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.convsEvicted))
}

func TestHandler(t *testing.T) {
	m := New()
	size := 7
	m.TrackSize("conversations_active", "Number of conversations in memory", func() int { return size })
	m.ObserveDispatch("command", time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `tgrelay_updates_total{outcome="command"} 1`)
	assert.Contains(t, string(body), "tgrelay_conversations_active 7")
	assert.Contains(t, string(body), "go_goroutines")
}

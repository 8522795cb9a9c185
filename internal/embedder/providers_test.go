package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() *RetryConfig {
	return &RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

// embeddingServer answers with one vector per input, in reverse index
// order, so callers must sort by index.
func embeddingServer(t *testing.T, calls *atomic.Int32, fail func(n int32) int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if fail != nil {
			if code := fail(n); code != 0 {
				http.Error(w, "boom", code)
				return
			}
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		type item struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, 4)
			vec[i%4] = float32(3 * (i + 1))
			data = append(data, item{Embedding: vec, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "data": data})
	}))
}

func newTestProvider(t *testing.T, name, endpoint, key string) *HTTPProvider {
	t.Helper()
	p, err := NewHTTPProvider(HTTPOptions{
		Provider: name,
		APIKey:   key,
		Endpoint: endpoint,
		RPS:      1000,
		Retry:    fastRetry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestHTTPProvider_Defaults(t *testing.T) {
	jina, err := NewHTTPProvider(HTTPOptions{Provider: ProviderJina, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, ProviderJina, jina.Provider())
	assert.Equal(t, DefaultJinaModel, jina.Model())
	assert.Equal(t, JinaDimension, jina.Dimension())
	assert.Equal(t, JinaEndpoint, jina.endpoint)

	openai, err := NewHTTPProvider(HTTPOptions{Provider: ProviderOpenAI, APIKey: "k", Model: "custom"})
	require.NoError(t, err)
	assert.Equal(t, "custom", openai.Model())
	assert.Equal(t, OpenAIDimension, openai.Dimension())
	assert.Equal(t, OpenAIEndpoint, openai.endpoint)

	_, err = NewHTTPProvider(HTTPOptions{Provider: ProviderJina})
	assert.ErrorIs(t, err, ErrNoProviderEnabled)

	_, err = NewHTTPProvider(HTTPOptions{Provider: "bogus", APIKey: "k"})
	assert.ErrorIs(t, err, ErrUnsupportedModel)
}

func TestHTTPProvider_GenerateBatch(t *testing.T) {
	var calls atomic.Int32
	server := embeddingServer(t, &calls, nil)
	defer server.Close()

	p := newTestProvider(t, ProviderJina, server.URL, "test-key")
	resp, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"first", "second"}})
	require.NoError(t, err)

	require.Len(t, resp.Embeddings, 2)
	assert.Equal(t, []float32{1, 0, 0, 0}, resp.Embeddings[0].Vector, "vectors are ordered by index and normalized")
	assert.Equal(t, []float32{0, 1, 0, 0}, resp.Embeddings[1].Vector)
	assert.Equal(t, ComputeHash("first"), resp.Embeddings[0].Hash)
	assert.Equal(t, DefaultJinaModel, resp.Model)
	assert.Equal(t, ProviderJina, resp.Provider)
	assert.Equal(t, int32(1), calls.Load())

	single, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "only"})
	require.NoError(t, err)
	assert.Equal(t, 4, single.Dimension)
}

func TestHTTPProvider_Validation(t *testing.T) {
	p := newTestProvider(t, ProviderOpenAI, "http://127.0.0.1:0", "test-key")

	_, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{})
	assert.ErrorIs(t, err, ErrEmptyText)

	texts := make([]string, MaxBatchSize+1)
	for i := range texts {
		texts[i] = "x"
	}
	_, err = p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: texts})
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestHTTPProvider_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := embeddingServer(t, &calls, func(n int32) int {
		if n < 3 {
			return http.StatusServiceUnavailable
		}
		return 0
	})
	defer server.Close()

	p := newTestProvider(t, ProviderOpenAI, server.URL, "test-key")
	_, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "retry me"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPProvider_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := embeddingServer(t, &calls, nil)
	defer server.Close()

	p := newTestProvider(t, ProviderOpenAI, server.URL, "wrong-key")
	_, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPProvider_RateLimitIsRetried(t *testing.T) {
	var calls atomic.Int32
	server := embeddingServer(t, &calls, func(n int32) int {
		if n == 1 {
			return http.StatusTooManyRequests
		}
		return 0
	})
	defer server.Close()

	p := newTestProvider(t, ProviderJina, server.URL, "test-key")
	_, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPProvider_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	p := newTestProvider(t, ProviderJina, server.URL, "test-key")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "slow"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderFailed)
}

func TestRetryWithBackoff(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
	errBoom := errors.New("boom")

	t.Run("succeeds after failures", func(t *testing.T) {
		n := 0
		got, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			n++
			if n < 3 {
				return 0, errBoom
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, got)
		assert.Equal(t, 3, n)
	})

	t.Run("returns last error when exhausted", func(t *testing.T) {
		n := 0
		_, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			n++
			return 0, errBoom
		})
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 3, n)
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		n := 0
		_, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			n++
			return 0, permanent(errBoom)
		})
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 1, n)
	})

	t.Run("cancelled context stops", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		n := 0
		_, err := retryWithBackoff(ctx, cfg, func() (int, error) {
			n++
			cancel()
			return 0, errBoom
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, n)
	})
}

package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClient(t *testing.T) {
	t.Run("creates client with custom config", func(t *testing.T) {
		cfg := HTTPClientConfig{
			Timeout:       2 * time.Second,
			RateLimit:     3,
			BurstSize:     2,
			MaxRetries:    4,
			RetryDelay:    50 * time.Millisecond,
			MaxRetryDelay: time.Second,
			UserAgent:     "TestAgent/1.0",
		}

		client := NewHTTPClient(cfg)

		require.NotNil(t, client)
		require.NotNil(t, client.rateLimiter)
		assert.Equal(t, 2*time.Second, client.client.Timeout)
		assert.Equal(t, "TestAgent/1.0", client.config.UserAgent)
		assert.Equal(t, 4, client.config.MaxRetries)
	})

	t.Run("applies default values", func(t *testing.T) {
		client := NewHTTPClient(HTTPClientConfig{})

		assert.Equal(t, DefaultTimeout, client.client.Timeout)
		assert.Equal(t, DefaultUserAgent, client.config.UserAgent)
		assert.Equal(t, DefaultMaxRetries, client.config.MaxRetries)
		assert.Equal(t, DefaultRateLimit, client.config.RateLimit)
		assert.Equal(t, DefaultBurstSize, client.config.BurstSize)
	})

	t.Run("negative retries disables retrying", func(t *testing.T) {
		client := NewHTTPClient(HTTPClientConfig{MaxRetries: -1})
		assert.Equal(t, 0, client.config.MaxRetries)
	})
}

func newFastHTTPClient(maxRetries int) *HTTPClient {
	return NewHTTPClient(HTTPClientConfig{
		Timeout:       time.Second,
		RateLimit:     1000,
		BurstSize:     100,
		MaxRetries:    maxRetries,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 5 * time.Millisecond,
		UserAgent:     "TestClient/1.0",
	})
}

func TestHTTPClient_Do(t *testing.T) {
	t.Run("sets default headers", func(t *testing.T) {
		var userAgent, accept string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userAgent = r.Header.Get("User-Agent")
			accept = r.Header.Get("Accept")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := newFastHTTPClient(1).Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, "TestClient/1.0", userAgent)
		assert.Equal(t, "application/json", accept)
	})

	t.Run("retries 5xx then succeeds", func(t *testing.T) {
		var count atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if count.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := newFastHTTPClient(3).Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int32(3), count.Load())
	})

	t.Run("retries 429 honoring short Retry-After", func(t *testing.T) {
		var count atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if count.Add(1) == 1 {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := newFastHTTPClient(2).Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, int32(2), count.Load())
	})

	t.Run("caps long Retry-After hints", func(t *testing.T) {
		var count atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if count.Add(1) == 1 {
				w.Header().Set("Retry-After", "120")
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		start := time.Now()
		resp, err := newFastHTTPClient(1).Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		var count atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := newFastHTTPClient(2).Do(req)
		assert.Nil(t, resp)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max retries exhausted after 3 attempts")
		assert.Equal(t, int32(3), count.Load())
	})

	t.Run("does not retry 4xx", func(t *testing.T) {
		var count atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := newFastHTTPClient(3).Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, int32(1), count.Load())
	})

	t.Run("returns context error when cancelled", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		_, err = newFastHTTPClient(3).Do(req)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, shouldRetry(http.StatusTooManyRequests))
	assert.True(t, shouldRetry(http.StatusInternalServerError))
	assert.True(t, shouldRetry(http.StatusGatewayTimeout))
	assert.False(t, shouldRetry(http.StatusOK))
	assert.False(t, shouldRetry(http.StatusBadRequest))
	assert.False(t, shouldRetry(http.StatusNotFound))
}

func TestRetryAfter(t *testing.T) {
	t.Run("seconds", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{"Retry-After": []string{"3"}}}
		d, ok := retryAfter(resp)
		assert.True(t, ok)
		assert.Equal(t, 3*time.Second, d)
	})

	t.Run("missing header", func(t *testing.T) {
		_, ok := retryAfter(&http.Response{Header: http.Header{}})
		assert.False(t, ok)
	})

	t.Run("zero seconds", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{"Retry-After": []string{"0"}}}
		_, ok := retryAfter(resp)
		assert.False(t, ok)
	})

	t.Run("http date in the future", func(t *testing.T) {
		when := time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat)
		resp := &http.Response{Header: http.Header{"Retry-After": []string{when}}}
		d, ok := retryAfter(resp)
		assert.True(t, ok)
		assert.Greater(t, d, time.Duration(0))
	})
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, limiter.Wait(ctx))
}

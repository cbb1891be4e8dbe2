package httputil

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

	"github.com/wonny/aegis/weightgov/pkg/logger"
)

func TestNew(t *testing.T) {
	client := New(logger.Nop())
	require.NotNil(t, client)
	assert.NotNil(t, client.httpClient)
	assert.Equal(t, 3, client.retryConfig.MaxRetries)
	assert.True(t, client.retryConfig.Enabled)
}

func TestNewWithTimeout(t *testing.T) {
	client := NewWithTimeout(logger.Nop(), 5*time.Second)
	assert.Equal(t, 5*time.Second, client.httpClient.Timeout)
}

func TestWithRetry(t *testing.T) {
	client := New(logger.Nop()).WithRetry(5, 2*time.Second)
	assert.Equal(t, 5, client.retryConfig.MaxRetries)
	assert.Equal(t, 2*time.Second, client.retryConfig.InitialDelay)

	client.DisableRetry()
	assert.False(t, client.retryConfig.Enabled)
}

func TestPostJSON_Success(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	err := New(logger.Nop()).PostJSON(context.Background(), server.URL, map[string]string{"regime": "bull"})
	require.NoError(t, err)
	assert.Equal(t, "bull", got["regime"])
}

func TestPostJSON_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]int
		// body must be resent on every attempt
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 1, body["n"])

		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(logger.Nop()).WithRetry(3, time.Millisecond)
	require.NoError(t, client.PostJSON(context.Background(), server.URL, map[string]int{"n": 1}))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPostJSON_GivesUp(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(logger.Nop()).WithRetry(2, time.Millisecond)
	err := client.PostJSON(context.Background(), server.URL, map[string]int{"n": 1})

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPostJSON_NoRetryOnClientError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := New(logger.Nop()).WithRetry(3, time.Millisecond).
		PostJSON(context.Background(), server.URL, "x")

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPostJSON_DisabledRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := New(logger.Nop()).DisableRetry().PostJSON(context.Background(), server.URL, "x")
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{404, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryableError(tt.code), "status %d", tt.code)
	}
}

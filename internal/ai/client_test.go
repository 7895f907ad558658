package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/videoloft-bridge/internal/config"
	"github.com/vzahanych/videoloft-bridge/internal/logger"
	"github.com/vzahanych/videoloft-bridge/internal/retry"
)

func setupTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Default().Gemini
	cfg.APIKey = "test-key"
	cfg.Endpoint = server.URL + "/v1beta"

	client := NewClient(cfg, logger.NewNopLogger())
	client.policy.Backoff = retry.Constant(0)
	return client, server
}

func answer(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"candidates": []interface{}{
			map[string]interface{}{
				"content": map[string]interface{}{
					"parts": []interface{}{map[string]interface{}{"text": text}},
				},
			},
		},
	})
}

func TestClient_Describe(t *testing.T) {
	image := []byte{0xFF, 0xD8, 0xFF, 0x01}

	client, _ := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.URL.Query().Get("key"))

		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		require.Len(t, req.Contents[0].Parts, 2)
		assert.Equal(t, "image/jpeg", req.Contents[0].Parts[0].InlineData.MimeType)
		assert.Equal(t, base64.StdEncoding.EncodeToString(image), req.Contents[0].Parts[0].InlineData.Data)
		assert.Equal(t, AnalysisPrompt, req.Contents[0].Parts[1].Text)

		answer(w, "A blue van parked on the street.")
	})

	text, err := client.Describe(context.Background(), image)
	require.NoError(t, err)
	assert.Equal(t, "A blue van parked on the street.", text)
}

func TestClient_DescribeNotConfigured(t *testing.T) {
	client := NewClient(config.Default().Gemini, logger.NewNopLogger())
	assert.False(t, client.Configured())

	_, err := client.Describe(context.Background(), []byte{0xFF})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClient_DescribeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		answer(w, "ok")
	})

	text, err := client.Describe(context.Background(), []byte{0xFF})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DescribeGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	client, _ := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Describe(context.Background(), []byte{0xFF})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, int32(4), calls.Load(), "one attempt plus three retries")
}

func TestClient_DescribeRateLimited(t *testing.T) {
	var calls atomic.Int32
	body := `{"error":{"code":429,"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"30s"}]}}`
	client, _ := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(body))
	})

	_, err := client.Describe(context.Background(), []byte{0xFF})
	var rl *RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.JSONEq(t, body, string(rl.Body))
	assert.Equal(t, int32(1), calls.Load(), "429 is not retried by the client")
}

func TestClient_DescribeClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := client.Describe(context.Background(), []byte{0xFF})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_DescribeMissingCandidate(t *testing.T) {
	client, _ := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	})

	_, err := client.Describe(context.Background(), []byte{0xFF})
	assert.Error(t, err)
}

package llmclient

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/candidateeval/evaluator-core/internal/domain/evalcore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	return NewClient(Config{
		APIKey:         "test-key",
		BaseURL:        server.URL,
		Model:          "gpt-4o-mini",
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
		MaxConcurrency: 4,
	}, testLogger())
}

func TestChatSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o-mini",
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "hello"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server)
	result := client.Chat(context.Background(), []evalcore.ChatMessage{{Role: "user", Content: "hi"}}, evalcore.ChatOptions{})

	require.True(t, result.Success)
	require.Equal(t, "hello", result.Content)
	require.Equal(t, 12, result.Usage.TotalTokens)
}

func TestChatRetriesOnServerErrorThenSucceeds(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server)
	result := client.Chat(context.Background(), []evalcore.ChatMessage{{Role: "user", Content: "hi"}}, evalcore.ChatOptions{})

	require.True(t, result.Success)
	require.Equal(t, 3, attempts)
}

func TestChatQuotaErrorNeverRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": "you have exceeded your current quota"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	result := client.Chat(context.Background(), []evalcore.ChatMessage{{Role: "user", Content: "hi"}}, evalcore.ChatOptions{})

	require.False(t, result.Success)
	require.True(t, result.IsQuotaError)
	require.Equal(t, 1, attempts)
}

func TestChatBareRateLimitIsRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	result := client.Chat(context.Background(), []evalcore.ChatMessage{{Role: "user", Content: "hi"}}, evalcore.ChatOptions{})

	require.False(t, result.Success)
	require.False(t, result.IsQuotaError)
	require.Equal(t, 3, attempts)
}

func TestEvaluateParsesBalancedJSONFromNoisyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "Sure, here you go:\n```json\n{\"match_rate\": 0.8}\n```\nHope that helps"}},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server)
	result := client.Evaluate(context.Background(), "system prompt", "context", evalcore.EvaluateOptions{})

	require.True(t, result.Chat.Success)
	require.NotNil(t, result.Parsed)
	require.Equal(t, 0.8, result.Parsed["match_rate"])
}

func TestEvaluateWithSchemaHintStillReturnsPayloadOnMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": `{"unexpected_field": 1}`}}},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server)
	result := client.Evaluate(context.Background(), "system prompt", "context", evalcore.EvaluateOptions{SchemaHint: "cv_score"})

	require.True(t, result.Chat.Success)
	require.NotNil(t, result.Parsed)
}

func TestDetectProviderFromBaseURL(t *testing.T) {
	require.Equal(t, ProviderB, detectProvider("", "https://openrouter.ai/api/v1"))
	require.Equal(t, ProviderA, detectProvider("", "https://api.openai.com/v1"))
	require.Equal(t, ProviderB, detectProvider("sk-or-abc", ""))
	require.Equal(t, ProviderA, detectProvider("sk-abc", ""))
}

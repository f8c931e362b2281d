package llmclient

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/candidateeval/evaluator-core/internal/domain/evalcore"
)

func TestEmbedViaEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.1, 0.2, 0.3}},
				{"embedding": []float32{0.4, 0.5, 0.6}},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server)
	vectors, err := client.Embed(context.Background(), []string{"a", "b"}, evalcore.EmbedOptions{})

	require.NoError(t, err)
	require.Len(t, vectors, 2)
	require.Equal(t, []float32{0.1, 0.2, 0.3}, vectors[0])
}

func TestEmbedFallsBackToChatEmittedCSV(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/embeddings" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "0.3, 0.4"}}},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server)
	vectors, err := client.Embed(context.Background(), []string{"hello"}, evalcore.EmbedOptions{})

	require.NoError(t, err)
	require.Len(t, vectors, 1)
	require.Len(t, vectors[0], 2)
	require.InDelta(t, 1.0, l2Norm(vectors[0]), 1e-6)
}

func TestEmbedFallsBackToHashWhenChatUnusable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(Config{
		APIKey:         "test-key",
		BaseURL:        server.URL,
		RetryAttempts:  1,
		RetryBaseDelay: 0,
		MaxConcurrency: 4,
	}, testLogger())

	vectors, err := client.Embed(context.Background(), []string{"same text"}, evalcore.EmbedOptions{})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	require.Equal(t, HashEmbed("same text", hashEmbedDim), vectors[0])
}

func TestHashEmbedIsDeterministic(t *testing.T) {
	a := HashEmbed("candidate résumé text", 64)
	b := HashEmbed("candidate résumé text", 64)
	c := HashEmbed("a different document", 64)

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 64)
}

func TestParseCSVFloatsIgnoresNonNumericNoise(t *testing.T) {
	floats := parseCSVFloats("[0.1, abc, 0.2,  , 0.3]")
	require.Equal(t, []float32{0.1, 0.2, 0.3}, floats)
}

func l2Norm(v []float32) float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	return math.Sqrt(sumSq)
}

package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/candidateeval/evaluator-core/internal/domain/evalcore"
)

const hashEmbedDim = 128

const csvEmbedSystemPrompt = "Respond with exactly 128 comma-separated floating point numbers between -1 and 1 " +
	"representing a semantic embedding of the text. Output numbers only, no prose, no brackets."

type embeddingRequestBody struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponseBody struct {
	Model string `json:"model"`
	Data  []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed implements the three-tier fallback strategy: the dedicated
// embeddings endpoint, then a chat-emitted CSV-of-floats parse, then a
// deterministic hash embedding so the same text always yields the same
// vector.
func (c *Client) Embed(ctx context.Context, texts []string, opts evalcore.EmbedOptions) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := c.embedViaEndpoint(ctx, texts, opts)
	if err == nil {
		return vectors, nil
	}
	c.logger.Warn("embeddings endpoint failed, falling back to chat-emitted vectors", "error", err)

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.embedViaChat(ctx, text)
		if err != nil {
			c.logger.Warn("chat-emitted embedding failed, falling back to deterministic hash", "error", err)
			vec = HashEmbed(text, hashEmbedDim)
		}
		out[i] = vec
	}
	return out, nil
}

func (c *Client) embedViaEndpoint(ctx context.Context, texts []string, opts evalcore.EmbedOptions) ([][]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	embedCtx, cancel := context.WithTimeout(ctx, c.cfg.EmbeddingsTimeout)
	defer cancel()

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = c.cfg.EmbeddingModel
	}
	payload, err := json.Marshal(embeddingRequestBody{Model: model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("encode embedding request: %w", err)
	}
	req, err := c.newRequest(embedCtx, "POST", "/embeddings", payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request embeddings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embeddings request failed: status=%d", resp.StatusCode)
	}
	var parsed embeddingResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings response count mismatch: want %d got %d", len(texts), len(parsed.Data))
	}
	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// embedViaChat prompts the chat endpoint to emit comma-separated floats,
// parses them defensively, and L2-normalizes the result.
func (c *Client) embedViaChat(ctx context.Context, text string) ([]float32, error) {
	result := c.Chat(ctx, []evalcore.ChatMessage{
		{Role: "system", Content: csvEmbedSystemPrompt},
		{Role: "user", Content: text},
	}, evalcore.ChatOptions{Model: c.cfg.Model, Temperature: 0, MaxTokens: 800})
	if !result.Success {
		return nil, result.Err
	}
	floats := parseCSVFloats(result.Content)
	if len(floats) == 0 {
		return nil, fmt.Errorf("chat emitted no parseable floats")
	}
	return l2Normalize(floats), nil
}

// parseCSVFloats defensively extracts floating point numbers from a
// comma-separated (possibly prose-wrapped) string.
func parseCSVFloats(s string) []float32 {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	parts := strings.Split(s, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		f, err := strconv.ParseFloat(p, 32)
		if err != nil {
			continue
		}
		out = append(out, float32(f))
	}
	return out
}

func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// HashEmbed generates a deterministic dim-dimensional vector derived from
// the character codes of text, L2-normalized. The same text always yields
// the same vector: this is a liveness fallback, not a semantic embedding.
func HashEmbed(text string, dim int) []float32 {
	if dim <= 0 {
		dim = hashEmbedDim
	}
	vec := make([]float32, dim)
	for i, r := range text {
		vec[i%dim] += float32(r)
	}
	return l2Normalize(vec)
}

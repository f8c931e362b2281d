// Package llmclient is the single point of contact with the LLM backend: it
// hides provider differences, guarantees bounded-time bounded-retry
// behavior, and returns structured outputs.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"golang.org/x/time/rate"

	"github.com/candidateeval/evaluator-core/internal/domain/evalcore"
	"github.com/candidateeval/evaluator-core/pkg/metrics"
)

// Provider identifies the detected LLM backend shape.
type Provider string

const (
	ProviderA       Provider = "provider-a" // OpenAI-style
	ProviderB       Provider = "provider-b" // OpenRouter-style
	defaultBaseURLA          = "https://api.openai.com/v1"
	defaultBaseURLB          = "https://openrouter.ai/api/v1"
	defaultModelA            = "gpt-4o-mini"
	defaultModelB            = "openai/gpt-4o-mini"
)

// Config configures the Client.
type Config struct {
	APIKey            string
	Provider          Provider // empty = autodetect
	BaseURL           string
	Model             string
	EmbeddingModel    string
	Referer           string
	AppName           string
	RetryAttempts     int
	RetryBaseDelay    time.Duration
	ChatTimeout       time.Duration
	EmbeddingsTimeout time.Duration
	MaxConcurrency    int
}

// Client implements evalcore.LLMClient against an OpenAI-shaped chat and
// embeddings HTTP contract, with provider autodetection and retry-with-backoff.
type Client struct {
	cfg        Config
	provider   Provider
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient constructs a Client, autodetecting the provider from the
// configured API key and base URL unless one was given explicitly.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = 60 * time.Second
	}
	if cfg.EmbeddingsTimeout <= 0 {
		cfg.EmbeddingsTimeout = 30 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	provider := cfg.Provider
	if provider == "" {
		provider = detectProvider(cfg.APIKey, cfg.BaseURL)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURLFor(provider)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:        cfg,
		provider:   provider,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Limit(cfg.MaxConcurrency), cfg.MaxConcurrency),
		logger:     logger.With("component", "llmclient", "provider", provider),
	}
}

// detectProvider classifies the backend as provider-A (OpenAI-style) or
// provider-B (OpenRouter-style) by inspecting the base URL, falling back to
// the API key shape when the URL is unset or ambiguous.
func detectProvider(apiKey, baseURL string) Provider {
	lower := strings.ToLower(baseURL)
	switch {
	case strings.Contains(lower, "openrouter"):
		return ProviderB
	case strings.Contains(lower, "openai"):
		return ProviderA
	}
	if strings.HasPrefix(apiKey, "sk-or-") {
		return ProviderB
	}
	return ProviderA
}

func defaultBaseURLFor(p Provider) string {
	if p == ProviderB {
		return defaultBaseURLB
	}
	return defaultBaseURLA
}

func (c *Client) defaultModel() string {
	if c.provider == ProviderB {
		return defaultModelB
	}
	return defaultModelA
}

// resolveModel substitutes the provider default when the caller's model
// looks like it belongs to the other provider, logging a warning.
func (c *Client) resolveModel(requested string) string {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		if c.cfg.Model != "" {
			return c.cfg.Model
		}
		return c.defaultModel()
	}
	looksLikeB := strings.Contains(requested, "/")
	if c.provider == ProviderA && looksLikeB {
		c.logger.Warn("model looks invalid for provider, substituting default", "requested", requested)
		return c.defaultModel()
	}
	if c.provider == ProviderB && !looksLikeB {
		c.logger.Warn("model looks invalid for provider, substituting default", "requested", requested)
		return c.defaultModel()
	}
	return requested
}

type chatRequestBody struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	Temperature         float32       `json:"temperature,omitempty"`
	MaxTokens           int           `json:"max_tokens,omitempty"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
	Stream              bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponseBody struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Chat performs a chat-completion call, retried with exponential backoff for
// transient failures. Quota/exhaustion errors are never retried.
func (c *Client) Chat(ctx context.Context, messages []evalcore.ChatMessage, opts evalcore.ChatOptions) evalcore.ChatResult {
	model := c.resolveModel(opts.Model)
	body := chatRequestBody{
		Model:       model,
		Messages:    toWireMessages(messages),
		Temperature: opts.Temperature,
	}
	if c.provider == ProviderB {
		body.MaxCompletionTokens = opts.MaxTokens
	} else {
		body.MaxTokens = opts.MaxTokens
	}

	var result evalcore.ChatResult
	err := c.withRetry(ctx, func() error {
		r, callErr := c.doChat(ctx, body)
		result = r
		if callErr != nil {
			return callErr
		}
		if !result.Success && !result.IsQuotaError {
			return transientError{statusCode: result.StatusCode}
		}
		return nil
	})
	if err != nil && result.Err == nil {
		result.Err = err
	}
	return result
}

func (c *Client) doChat(ctx context.Context, body chatRequestBody) (evalcore.ChatResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return evalcore.ChatResult{}, err
	}
	chatCtx, cancel := context.WithTimeout(ctx, c.cfg.ChatTimeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return evalcore.ChatResult{}, fmt.Errorf("encode chat request: %w", err)
	}
	req, err := c.newRequest(chatCtx, http.MethodPost, "/chat/completions", payload)
	if err != nil {
		return evalcore.ChatResult{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return evalcore.ChatResult{Success: false, Err: err}, nil
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 300 {
		isQuota, retryAfter := classifyQuotaError(resp, raw)
		return evalcore.ChatResult{
			Success:      false,
			StatusCode:   resp.StatusCode,
			Err:          fmt.Errorf("llm chat request failed: status=%d body=%s", resp.StatusCode, string(raw)),
			IsQuotaError: isQuota,
			RetryAfter:   retryAfter,
		}, nil
	}

	var parsed chatResponseBody
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return evalcore.ChatResult{Success: false, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode chat response: %w", err)}, nil
	}
	if len(parsed.Choices) == 0 {
		return evalcore.ChatResult{Success: false, StatusCode: resp.StatusCode, Err: fmt.Errorf("chat response had no choices")}, nil
	}

	usage := metrics.TokenUsage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
	}
	if usage.IsZero() {
		c.logger.Warn("provider did not report token usage", "model", parsed.Model)
	}

	return evalcore.ChatResult{
		Success:      true,
		Content:      parsed.Choices[0].Message.Content,
		Model:        parsed.Model,
		FinishReason: parsed.Choices[0].FinishReason,
		StatusCode:   resp.StatusCode,
		Usage: evalcore.Usage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		},
	}, nil
}

// classifyQuotaError distinguishes an explicit quota/exhaustion signal (not
// retried) from a plain rate-limit (retried). 402 Payment Required, any
// response body mentioning quota/exhaustion, and a numeric Retry-After header
// are explicit; a bare 429 with none of these is treated as a transient
// rate-limit.
func classifyQuotaError(resp *http.Response, body []byte) (bool, int) {
	lowerBody := strings.ToLower(string(body))
	explicit := resp.StatusCode == http.StatusPaymentRequired ||
		strings.Contains(lowerBody, "quota") || strings.Contains(lowerBody, "insufficient_quota") ||
		strings.Contains(lowerBody, "exceeded your current quota") ||
		strings.Contains(lowerBody, "exhaust")

	retryAfter := 0
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			retryAfter = secs
			explicit = true
		}
	}
	return explicit, retryAfter
}

// Evaluate wraps Chat with a best-effort JSON parse of the response: a strict
// parse of the whole content first, then the largest balanced {...} block.
func (c *Client) Evaluate(ctx context.Context, prompt, contextText string, opts evalcore.EvaluateOptions) evalcore.EvaluateResult {
	messages := []evalcore.ChatMessage{
		{Role: "system", Content: prompt},
		{Role: "user", Content: contextText},
	}
	chat := c.Chat(ctx, messages, evalcore.ChatOptions{Model: opts.Model, Temperature: opts.Temperature, MaxTokens: opts.MaxTokens})
	if !chat.Success {
		return evalcore.EvaluateResult{Chat: chat}
	}
	parsed, raw := parseJSONObject(chat.Content)
	if parsed != nil {
		if schema := schemaForHint(opts.SchemaHint); schema != nil {
			if err := validateAgainstSchema(schema, parsed); err != nil {
				c.logger.Warn("llm response did not match expected schema", "hint", opts.SchemaHint, "error", err)
			}
		}
	}
	return evalcore.EvaluateResult{Chat: chat, Parsed: parsed, Raw: raw}
}

func schemaForHint(hint string) *jsonschema.Schema {
	switch hint {
	case "cv_score":
		return cvScoreSchema
	case "project_score":
		return projectScoreSchema
	default:
		return nil
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.provider == ProviderB {
		if c.cfg.Referer != "" {
			req.Header.Set("HTTP-Referer", c.cfg.Referer)
		}
		if c.cfg.AppName != "" {
			req.Header.Set("X-Title", c.cfg.AppName)
		}
	}
	return req, nil
}

func toWireMessages(messages []evalcore.ChatMessage) []chatMessage {
	out := make([]chatMessage, len(messages))
	for i, m := range messages {
		out[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

var _ evalcore.LLMClient = (*Client)(nil)

package evalcore

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRetrieval struct {
	chunks map[Collection][]ReferenceChunk
	err    error
}

func (f *fakeRetrieval) IndexDocument(context.Context, Document, Collection) error { return nil }

func (f *fakeRetrieval) Search(_ context.Context, _ string, collection Collection, _ int, _ SearchFilter, _ float64) ([]ReferenceChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks[collection], nil
}

func (f *fakeRetrieval) Remove(context.Context, string, Collection) error { return nil }

type fakeLLM struct {
	evaluateFn func(prompt, context_ string, opts EvaluateOptions) EvaluateResult
	chatFn     func(messages []ChatMessage, opts ChatOptions) ChatResult
}

func (f *fakeLLM) Chat(_ context.Context, messages []ChatMessage, opts ChatOptions) ChatResult {
	if f.chatFn != nil {
		return f.chatFn(messages, opts)
	}
	return ChatResult{Success: true, Content: "RECOMMENDATION: HIRE\nDETAILED FEEDBACK: strong candidate"}
}

func (f *fakeLLM) Embed(context.Context, []string, EmbedOptions) ([][]float32, error) {
	return nil, nil
}

func (f *fakeLLM) Evaluate(_ context.Context, prompt, context_ string, opts EvaluateOptions) EvaluateResult {
	if f.evaluateFn != nil {
		return f.evaluateFn(prompt, context_, opts)
	}
	return EvaluateResult{Chat: ChatResult{Success: true}}
}

func successfulEvaluate(payload map[string]any) func(string, string, EvaluateOptions) EvaluateResult {
	return func(string, string, EvaluateOptions) EvaluateResult {
		return EvaluateResult{Chat: ChatResult{Success: true}, Parsed: payload}
	}
}

func TestEngineRunHappyPath(t *testing.T) {
	retrieval := &fakeRetrieval{chunks: map[Collection][]ReferenceChunk{
		CollectionJobDescriptions: {{Text: "needs a backend engineer"}},
	}}
	llm := &fakeLLM{
		evaluateFn: func(_, _ string, opts EvaluateOptions) EvaluateResult {
			if opts.SchemaHint == "cv_score" {
				return EvaluateResult{Chat: ChatResult{Success: true}, Parsed: map[string]any{
					"matchRate": 0.8, "experienceMatch": 0.7, "overallAssessment": "strong fit",
				}}
			}
			return EvaluateResult{Chat: ChatResult{Success: true}, Parsed: map[string]any{
				"overallScore": 4.0, "technicalQuality": 4.0, "complexityLevel": 3.0,
				"documentationQuality": 4.0, "innovationScore": 3.0,
			}}
		},
		chatFn: func([]ChatMessage, ChatOptions) ChatResult {
			return ChatResult{Success: true, Content: "RECOMMENDATION: HIRE\nDETAILED FEEDBACK: strong candidate\nSPECIFIC RECOMMENDATIONS: none"}
		},
	}
	engine := NewEngine(Config{RetrievalMaxResults: 5, RetrievalThreshold: 0.1}, retrieval, llm, discardLogger())

	result, err := engine.Run(context.Background(), "Backend Engineer", "experienced engineer", "a well documented project")

	require.NoError(t, err)
	require.Equal(t, 0.8, result.CVMatchRate)
	require.Equal(t, 4.0, result.ProjectScore)
	require.Equal(t, RecommendationHire, result.Recommendation)
	require.Greater(t, result.ContextSources, 0)
}

func TestEngineRunFallsBackToHeuristicScorerOnLLMFailure(t *testing.T) {
	retrieval := &fakeRetrieval{}
	llm := &fakeLLM{
		evaluateFn: func(string, string, EvaluateOptions) EvaluateResult {
			return EvaluateResult{Chat: ChatResult{Success: false, Err: context.DeadlineExceeded}}
		},
		chatFn: func([]ChatMessage, ChatOptions) ChatResult {
			return ChatResult{Success: false, Err: context.DeadlineExceeded}
		},
	}
	engine := NewEngine(Config{}, retrieval, llm, discardLogger())

	result, err := engine.Run(context.Background(), "Backend Engineer experience developed", "years experience developed led improved", "```code``` ## readme")

	require.NoError(t, err)
	require.GreaterOrEqual(t, result.CVMatchRate, 0.0)
	require.Contains(t, result.CVFeedback, "fallback")
}

func TestEngineRunPropagatesQuotaErrorFromRecommendationStage(t *testing.T) {
	retrieval := &fakeRetrieval{}
	llm := &fakeLLM{
		evaluateFn: successfulEvaluate(map[string]any{"matchRate": 0.5, "overallScore": 3.0}),
		chatFn: func([]ChatMessage, ChatOptions) ChatResult {
			return ChatResult{Success: false, IsQuotaError: true, RetryAfter: 30}
		},
	}
	engine := NewEngine(Config{}, retrieval, llm, discardLogger())

	_, err := engine.Run(context.Background(), "Backend Engineer", "cv text", "project text")
	require.Error(t, err)
}

func TestEngineDegradesGracefullyWhenRetrievalFails(t *testing.T) {
	retrieval := &fakeRetrieval{err: context.DeadlineExceeded}
	llm := &fakeLLM{
		evaluateFn: successfulEvaluate(map[string]any{"matchRate": 0.6, "overallScore": 3.0}),
	}
	engine := NewEngine(Config{}, retrieval, llm, discardLogger())

	result, err := engine.Run(context.Background(), "Backend Engineer", "cv text", "project text")
	require.NoError(t, err)
	require.Equal(t, 0, result.ContextSources)
}

func TestNormalizeRecommendation(t *testing.T) {
	require.Equal(t, RecommendationHire, normalizeRecommendation("HIRE"))
	require.Equal(t, RecommendationConditionalHire, normalizeRecommendation("CONDITIONAL_HIRE"))
	require.Equal(t, RecommendationConditionalHire, normalizeRecommendation("maybe, with reservations"))
	require.Equal(t, RecommendationReject, normalizeRecommendation("REJECT"))
	require.Equal(t, RecommendationConditionalHire, normalizeRecommendation("unclear signal"))
}

func TestHeuristicRecommendation(t *testing.T) {
	require.Equal(t, RecommendationHire, heuristicRecommendation(0.9, 4.5))
	require.Equal(t, RecommendationReject, heuristicRecommendation(0.1, 1.5))
}

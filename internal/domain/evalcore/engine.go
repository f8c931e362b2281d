package evalcore

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cast"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/candidateeval/evaluator-core/pkg/errors"
	"github.com/candidateeval/evaluator-core/pkg/util"
)

// Config parameterizes the Evaluation Engine.
type Config struct {
	Model             string
	Temperature       float32
	MaxTokens         int
	RetrievalMaxResults int
	RetrievalThreshold  float64
}

// Engine executes the retrieval-augmented scoring chain and emits a
// schema-valid EvaluationResult.
type Engine struct {
	cfg       Config
	retrieval RetrievalIndex
	llm       LLMClient
	logger    *slog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(cfg Config, retrieval RetrievalIndex, llm LLMClient, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		retrieval: retrieval,
		llm:       llm,
		logger:    logger.With("component", "evalcore.engine"),
	}
}

type retrievalContext struct {
	jobRequirements []ReferenceChunk
	cvRubric        []ReferenceChunk
	priorCVs        []ReferenceChunk
	caseStudies     []ReferenceChunk
	techRequirements []ReferenceChunk
	projectRubric   []ReferenceChunk
	priorProjects   []ReferenceChunk
}

func (rc retrievalContext) sourceCount() int {
	return len(rc.jobRequirements) + len(rc.cvRubric) + len(rc.priorCVs) + len(rc.caseStudies) +
		len(rc.techRequirements) + len(rc.projectRubric) + len(rc.priorProjects)
}

// Run executes the five-step pipeline described in the Evaluation Engine
// responsibility: retrieve context, score the CV, score the project, derive
// an overall recommendation, and assemble the clamped result.
func (e *Engine) Run(ctx context.Context, jobTitle, cvText, projectText string) (EvaluationResult, error) {
	rc := e.retrieveContext(ctx, jobTitle, cvText, projectText)

	cvBreakdown := e.scoreCV(ctx, jobTitle, cvText, rc)
	projectScore, projectBreakdown := e.scoreProject(ctx, jobTitle, projectText, rc)

	recommendation, feedback, recErr := e.recommend(ctx, cvBreakdown, projectScore, projectBreakdown)
	if recErr != nil {
		return EvaluationResult{}, recErr
	}

	result := EvaluationResult{
		CVMatchRate:      lo.Clamp(cvBreakdown.CVMatchRate, 0, 1),
		CVBreakdown:      clampCVBreakdown(cvBreakdown.CVBreakdown),
		CVFeedback:       cvBreakdown.CVFeedback,
		ProjectScore:     lo.Clamp(projectScore, 1, 5),
		ProjectBreakdown: clampProjectBreakdown(projectBreakdown),
		OverallSummary:   feedback,
		Recommendation:   recommendation,
		EvaluatedAt:      util.NowUTC(),
		ContextSources:   rc.sourceCount(),
	}
	return result, nil
}

func (e *Engine) retrieveContext(ctx context.Context, jobTitle, cvText, projectText string) retrievalContext {
	searchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var rc retrievalContext
	g, gctx := errgroup.WithContext(searchCtx)

	g.Go(func() error {
		rc.jobRequirements = e.safeSearch(gctx, jobTitle, CollectionJobDescriptions, SearchFilter{})
		return nil
	})
	g.Go(func() error {
		rc.cvRubric = e.safeSearch(gctx, jobTitle+" CV evaluation criteria", CollectionRubrics, SearchFilter{DocType: DocTypeCVRubric})
		return nil
	})
	g.Go(func() error {
		rc.priorCVs = e.safeSearch(gctx, firstN(cvText, 500), CollectionCVDocuments, SearchFilter{})
		return nil
	})
	g.Go(func() error {
		rc.caseStudies = e.safeSearch(gctx, jobTitle, CollectionCaseStudies, SearchFilter{})
		return nil
	})
	g.Go(func() error {
		rc.techRequirements = e.safeSearch(gctx, jobTitle, CollectionJobDescriptions, SearchFilter{})
		return nil
	})
	g.Go(func() error {
		rc.projectRubric = e.safeSearch(gctx, jobTitle+" project evaluation criteria", CollectionRubrics, SearchFilter{DocType: DocTypeProjectRubric})
		return nil
	})
	g.Go(func() error {
		rc.priorProjects = e.safeSearch(gctx, firstN(projectText, 500), CollectionProjectDocs, SearchFilter{})
		return nil
	})

	// Every search call already swallows its own error; g.Wait() cannot
	// fail, but we still call it to join the goroutines.
	_ = g.Wait()
	return rc
}

// safeSearch implements the Retrieval Index degradation policy: any failure
// becomes an empty slice plus a logged warning, never propagated to the
// caller.
func (e *Engine) safeSearch(ctx context.Context, query string, collection Collection, filter SearchFilter) []ReferenceChunk {
	if e.retrieval == nil {
		return nil
	}
	maxResults := e.cfg.RetrievalMaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	threshold := e.cfg.RetrievalThreshold
	chunks, err := e.retrieval.Search(ctx, query, collection, maxResults, filter, threshold)
	if err != nil {
		e.logger.Warn("retrieval search degraded to empty context", "collection", collection, "error", err)
		return nil
	}
	return chunks
}

type cvScoreOutcome struct {
	CVMatchRate float64
	CVBreakdown CVBreakdown
	CVFeedback  string
}

func (e *Engine) scoreCV(ctx context.Context, jobTitle, cvText string, rc retrievalContext) cvScoreOutcome {
	prompt := buildCVScorePrompt(jobTitle, rc.jobRequirements, rc.cvRubric, cvText)
	eval := e.llm.Evaluate(ctx, cvScoreSystemPrompt, prompt, EvaluateOptions{
		Model:       e.cfg.Model,
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
		SchemaHint:  "cv_score",
	})

	if !eval.Chat.Success || eval.Parsed == nil {
		e.logger.Warn("cv scoring stage fell back to heuristic scorer", "error", eval.Chat.Err)
		matchRate, breakdown, feedback := FallbackCVScore(jobTitle, cvText)
		return cvScoreOutcome{CVMatchRate: matchRate, CVBreakdown: breakdown, CVFeedback: feedback}
	}

	matchRate := cast.ToFloat64(eval.Parsed["matchRate"])
	experienceMatch := cast.ToFloat64(eval.Parsed["experienceMatch"])
	assessment := cast.ToString(eval.Parsed["overallAssessment"])
	if assessment == "" {
		assessment = summarizeStringList(eval.Parsed["strengths"])
	}

	return cvScoreOutcome{
		CVMatchRate: lo.Clamp(matchRate, 0, 1),
		CVBreakdown: CVBreakdown{
			TechnicalSkills: lo.Clamp(matchRate, 0, 1),
			ExperienceLevel: lo.Clamp(experienceMatch, 0, 1),
			Achievements:    lo.Clamp(matchRate, 0, 1),
			CulturalFit:     lo.Clamp(matchRate, 0, 1),
		},
		CVFeedback: assessment,
	}
}

func (e *Engine) scoreProject(ctx context.Context, jobTitle, projectText string, rc retrievalContext) (float64, ProjectBreakdown) {
	prompt := buildProjectScorePrompt(jobTitle, rc.techRequirements, rc.projectRubric, projectText)
	eval := e.llm.Evaluate(ctx, projectScoreSystemPrompt, prompt, EvaluateOptions{
		Model:       e.cfg.Model,
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
		SchemaHint:  "project_score",
	})

	if !eval.Chat.Success || eval.Parsed == nil {
		e.logger.Warn("project scoring stage fell back to heuristic scorer", "error", eval.Chat.Err)
		return FallbackProjectScore(projectText)
	}

	overall := cast.ToFloat64(eval.Parsed["overallScore"])
	breakdown := ProjectBreakdown{
		Correctness:   lo.Clamp(overall, 1, 5),
		CodeQuality:   lo.Clamp(cast.ToFloat64(eval.Parsed["technicalQuality"]), 1, 5),
		Resilience:    lo.Clamp(cast.ToFloat64(eval.Parsed["complexityLevel"]), 1, 5),
		Documentation: lo.Clamp(cast.ToFloat64(eval.Parsed["documentationQuality"]), 1, 5),
		Creativity:    lo.Clamp(cast.ToFloat64(eval.Parsed["innovationScore"]), 1, 5),
	}
	return lo.Clamp(overall, 1, 5), breakdown
}

var (
	recommendationRe = regexp.MustCompile(`(?is)RECOMMENDATION:\s*(.+?)(?:DETAILED FEEDBACK:|$)`)
	feedbackRe        = regexp.MustCompile(`(?is)DETAILED FEEDBACK:\s*(.+?)(?:SPECIFIC RECOMMENDATIONS:|$)`)
	suggestionsRe     = regexp.MustCompile(`(?is)SPECIFIC RECOMMENDATIONS:\s*(.+)$`)
)

// recommend issues the final chat call. A quota error here is fatal to the
// job and is returned unsuppressed, per the Engine's error propagation
// policy — every other stage degrades to a fallback instead.
func (e *Engine) recommend(ctx context.Context, cv cvScoreOutcome, projectScore float64, project ProjectBreakdown) (Recommendation, string, error) {
	cvSummary := strings.TrimSpace(cv.CVFeedback)
	projectSummary := strings.TrimSpace(summarizeProject(projectScore, project))
	prompt := buildRecommendationPrompt(cvSummary, projectSummary)

	result := e.llm.Chat(ctx, []ChatMessage{
		{Role: "system", Content: recommendationSystemPrompt},
		{Role: "user", Content: prompt},
	}, ChatOptions{Model: e.cfg.Model, Temperature: e.cfg.Temperature, MaxTokens: e.cfg.MaxTokens})

	if !result.Success {
		if result.IsQuotaError {
			return "", "", apperrors.WrapQuota(
				"evaluation temporarily unavailable due to API usage limits",
				result.Err,
				time.Duration(result.RetryAfter)*time.Second,
			)
		}
		e.logger.Warn("recommendation stage fell back to weighted heuristic", "error", result.Err)
		return heuristicRecommendation(cv.CVMatchRate, projectScore), cvSummary + "\n\n" + projectSummary, nil
	}

	recommendation := parseRecommendation(result.Content)
	feedback := parseFeedback(result.Content)
	return recommendation, feedback, nil
}

func parseRecommendation(content string) Recommendation {
	m := recommendationRe.FindStringSubmatch(content)
	token := content
	if len(m) > 1 {
		token = m[1]
	}
	return normalizeRecommendation(token)
}

// normalizeRecommendation applies the case-insensitive substring rule from
// the Overall recommendation step: HIRE without CONDITIONAL => HIRE;
// CONDITIONAL or MAYBE => CONDITIONAL_HIRE; REJECT or NO => REJECT;
// otherwise CONDITIONAL_HIRE.
func normalizeRecommendation(token string) Recommendation {
	upper := strings.ToUpper(token)
	switch {
	case strings.Contains(upper, "CONDITIONAL") || strings.Contains(upper, "MAYBE"):
		return RecommendationConditionalHire
	case strings.Contains(upper, "HIRE"):
		return RecommendationHire
	case strings.Contains(upper, "REJECT") || strings.Contains(upper, "NO"):
		return RecommendationReject
	default:
		return RecommendationConditionalHire
	}
}

func parseFeedback(content string) string {
	var b strings.Builder
	if m := feedbackRe.FindStringSubmatch(content); len(m) > 1 {
		b.WriteString(strings.TrimSpace(m[1]))
	}
	if m := suggestionsRe.FindStringSubmatch(content); len(m) > 1 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(m[1]))
	}
	if b.Len() == 0 {
		return strings.TrimSpace(content)
	}
	return b.String()
}

func heuristicRecommendation(matchRate, projectScore float64) Recommendation {
	overall := 0.4*((projectScore-1)/4) + 0.6*matchRate
	switch {
	case overall >= 0.65:
		return RecommendationHire
	case overall >= 0.4:
		return RecommendationConditionalHire
	default:
		return RecommendationReject
	}
}

func summarizeProject(score float64, breakdown ProjectBreakdown) string {
	return fmt.Sprintf(
		"overall %.1f/5 (correctness %.1f, code quality %.1f, resilience %.1f, documentation %.1f, creativity %.1f)",
		score, breakdown.Correctness, breakdown.CodeQuality, breakdown.Resilience, breakdown.Documentation, breakdown.Creativity,
	)
}

func clampCVBreakdown(b CVBreakdown) CVBreakdown {
	return CVBreakdown{
		TechnicalSkills: lo.Clamp(b.TechnicalSkills, 0, 1),
		ExperienceLevel: lo.Clamp(b.ExperienceLevel, 0, 1),
		Achievements:    lo.Clamp(b.Achievements, 0, 1),
		CulturalFit:     lo.Clamp(b.CulturalFit, 0, 1),
	}
}

func clampProjectBreakdown(b ProjectBreakdown) ProjectBreakdown {
	return ProjectBreakdown{
		Correctness:   lo.Clamp(b.Correctness, 1, 5),
		CodeQuality:   lo.Clamp(b.CodeQuality, 1, 5),
		Resilience:    lo.Clamp(b.Resilience, 1, 5),
		Documentation: lo.Clamp(b.Documentation, 1, 5),
		Creativity:    lo.Clamp(b.Creativity, 1, 5),
	}
}

func summarizeStringList(val any) string {
	list, ok := val.([]any)
	if !ok || len(list) == 0 {
		return ""
	}
	parts := make([]string, 0, len(list))
	for _, v := range list {
		if s := cast.ToString(v); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "; ")
}

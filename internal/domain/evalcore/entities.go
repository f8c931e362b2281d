package evalcore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// JobStatus enumerates the states of the evaluation state machine.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// DocumentType enumerates the kinds of Document the core reads.
type DocumentType string

const (
	DocTypeCV            DocumentType = "cv"
	DocTypeProjectReport DocumentType = "project_report"
	DocTypeJobDesc       DocumentType = "job_description"
	DocTypeCaseStudy     DocumentType = "case_study"
	DocTypeCVRubric      DocumentType = "cv_rubric"
	DocTypeProjectRubric DocumentType = "project_rubric"
)

// Recommendation enumerates the Engine's terminal hire/no-hire verdicts.
type Recommendation string

const (
	RecommendationHire            Recommendation = "HIRE"
	RecommendationConditionalHire Recommendation = "CONDITIONAL_HIRE"
	RecommendationReject          Recommendation = "REJECT"
)

// Collection names the partitions of the Retrieval Index.
type Collection string

const (
	CollectionJobDescriptions Collection = "job_descriptions"
	CollectionCVDocuments     Collection = "cv_documents"
	CollectionProjectDocs     Collection = "project_documents"
	CollectionRubrics         Collection = "rubrics"
	CollectionCaseStudies     Collection = "case_studies"
)

// Document is a unit of text owned by an external upload subsystem; the core
// only reads it.
type Document struct {
	DocID         string
	Type          DocumentType
	ExtractedText string
	OwnerID       string
	Vectorized    bool
}

// ReferenceChunk is a bounded slice of a Document's text paired with its
// embedding and retrieval metadata.
type ReferenceChunk struct {
	ChunkID      string
	SourceDocID  string
	Collection   Collection
	Text         string
	Embedding    []float32
	OwnerID      string
	DocType      DocumentType
	ChunkIndex   int
	TotalChunks  int
	IndexedAt    time.Time
	Score        float64 // similarity, populated only on Search results: cosine in the pgvector index, keyword overlap in the in-memory index
}

// CVBreakdown holds the CV scoring sub-dimensions, each clamped to [0,1].
type CVBreakdown struct {
	TechnicalSkills float64 `json:"technical_skills"`
	ExperienceLevel float64 `json:"experience_level"`
	Achievements    float64 `json:"achievements"`
	CulturalFit     float64 `json:"cultural_fit"`
}

// ProjectBreakdown holds the project scoring sub-dimensions, each clamped to [1,5].
type ProjectBreakdown struct {
	Correctness   float64 `json:"correctness"`
	CodeQuality   float64 `json:"code_quality"`
	Resilience    float64 `json:"resilience"`
	Documentation float64 `json:"documentation"`
	Creativity    float64 `json:"creativity"`
}

// EvaluationResult is the schema-valid output of the Evaluation Engine.
type EvaluationResult struct {
	CVMatchRate      float64          `json:"cvMatchRate"`
	CVBreakdown      CVBreakdown      `json:"cvBreakdown"`
	CVFeedback       string           `json:"cvFeedback"`
	ProjectScore     float64          `json:"projectScore"`
	ProjectBreakdown ProjectBreakdown `json:"projectBreakdown"`
	OverallSummary   string           `json:"overallSummary"`
	Recommendation   Recommendation   `json:"recommendation"`
	EvaluatedAt      time.Time        `json:"evaluatedAt"`
	ContextSources   int              `json:"contextSources"`
}

// EvaluationJob is the durable record of one end-to-end scoring request.
type EvaluationJob struct {
	JobID                 string
	OwnerID               string
	JobTitle              string
	CVRef                 string
	ProjectRef            string
	Status                JobStatus
	Version               int
	RetryCount            int
	ErrorMessage          string
	Result                *EvaluationResult
	CreatedAt             time.Time
	ProcessingStartedAt   *time.Time
	ProcessingCompletedAt *time.Time
}

// NewJobID mints a globally unique job identifier: "eval_" + base36(now-ms) + "_" + 12 hex chars.
func NewJobID(now time.Time) (string, error) {
	ms := now.UnixMilli()
	suffix, err := randomHex(6)
	if err != nil {
		return "", fmt.Errorf("mint job id: %w", err)
	}
	return fmt.Sprintf("eval_%s_%s", strconv.FormatInt(ms, 36), suffix), nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// WorkItem is what the Dispatcher enqueues and a Worker dequeues.
type WorkItem struct {
	JobID       string
	JobTitle    string
	CVText      string
	ProjectText string
	OwnerID     string
}

// Page describes the pagination parameters for List; PageResult carries the
// pagination metadata.
type Page struct {
	Page     int
	Limit    int
}

// PageResult wraps a page of jobs with pagination metadata.
type PageResult struct {
	Jobs       []EvaluationJob
	Page       int
	Limit      int
	TotalPages int
	Total      int
	HasNext    bool
	HasPrev    bool
}

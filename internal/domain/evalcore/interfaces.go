package evalcore

import "context"

// DocumentProvider is the external upload subsystem boundary: the core only
// reads Documents through this interface, never owns their bytes.
type DocumentProvider interface {
	GetDocument(ctx context.Context, docID, ownerID string) (Document, bool, error)
}

// SearchFilter restricts a Retrieval Index search to a document type.
type SearchFilter struct {
	DocType DocumentType
}

// RetrievalIndex stores and searches embeddings partitioned by collection.
type RetrievalIndex interface {
	IndexDocument(ctx context.Context, doc Document, collection Collection) error
	Search(ctx context.Context, queryText string, collection Collection, maxResults int, filter SearchFilter, threshold float64) ([]ReferenceChunk, error)
	Remove(ctx context.Context, docID string, collection Collection) error
}

// ChatMessage is a single turn in a chat-completion request.
type ChatMessage struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// ChatOptions parameterizes a Chat call.
type ChatOptions struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// ChatResult is the outcome of a Chat call.
type ChatResult struct {
	Success      bool
	Content      string
	Usage        Usage
	Model        string
	FinishReason string
	Err          error
	StatusCode   int
	IsQuotaError bool
	RetryAfter   int // seconds, 0 if not reported
}

// Usage mirrors provider-reported token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// EvaluateOptions parameterizes an Evaluate call.
type EvaluateOptions struct {
	Model       string
	Temperature float32
	MaxTokens   int
	// SchemaHint names the expected response shape ("cv_score" or
	// "project_score") so the client can validate the parsed payload against
	// the matching schema before returning it.
	SchemaHint string
}

// EvaluateResult is the outcome of an Evaluate call: the raw Chat result plus
// a best-effort parse of the content (the whole content if it is a JSON
// object, else its largest balanced JSON object).
type EvaluateResult struct {
	Chat   ChatResult
	Parsed map[string]any // nil if no JSON object could be extracted
	Raw    string
}

// EmbedOptions parameterizes an Embed call.
type EmbedOptions struct {
	Model string
}

// LLMClient is the single point of contact with the LLM backend.
type LLMClient interface {
	Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) ChatResult
	Embed(ctx context.Context, texts []string, opts EmbedOptions) ([][]float32, error)
	Evaluate(ctx context.Context, prompt string, context_ string, opts EvaluateOptions) EvaluateResult
}

// JobStore is the authoritative, concurrency-safe persistence of EvaluationJob.
type JobStore interface {
	CreateAtomic(ctx context.Context, job EvaluationJob) (EvaluationJob, error)
	UpdateOptimistic(ctx context.Context, jobID string, expectedVersion int, patch func(*EvaluationJob)) (EvaluationJob, error)
	TransitionStatus(ctx context.Context, jobID string, newStatus JobStatus, patch func(*EvaluationJob)) (EvaluationJob, error)
	Find(ctx context.Context, jobID, ownerID string) (EvaluationJob, bool, error)
	List(ctx context.Context, ownerID string, status JobStatus, page Page) (PageResult, error)
	Cancel(ctx context.Context, jobID, ownerID string) (EvaluationJob, error)
}

// JobQueue is a durable FIFO with at-least-once delivery.
type JobQueue interface {
	Enqueue(ctx context.Context, item WorkItem) error
	Dequeue(ctx context.Context) (WorkItem, bool, error)
	Ack(ctx context.Context, item WorkItem) error
	Nack(ctx context.Context, item WorkItem, redeliver bool) error
}

// ChunkCandidate is produced by the Chunker before embedding.
type ChunkCandidate struct {
	Index      int
	Content    string
	TokenCount int
}

// Chunker splits raw text into overlapping, boundary-snapped chunks.
type Chunker interface {
	Chunk(text string) []ChunkCandidate
}

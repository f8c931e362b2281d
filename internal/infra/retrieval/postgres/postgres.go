// Package postgres is a pgvector-backed evalcore.RetrievalIndex.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/candidateeval/evaluator-core/internal/domain/evalcore"
	"github.com/candidateeval/evaluator-core/pkg/util"
)

// embedder is the subset of evalcore.LLMClient the index needs to turn text
// into vectors for indexing and querying.
type embedder interface {
	Embed(ctx context.Context, texts []string, opts evalcore.EmbedOptions) ([][]float32, error)
}

// Index persists reference chunks across every collection in one table,
// discriminated by a collection column, and searches via pgvector cosine
// distance. Failures are returned to the caller as errors; the index does
// not log them or turn them into empty results itself (for Search, the
// Engine's safeSearch does that).
type Index struct {
	pool     *pgxpool.Pool
	embedder embedder
	chunker  evalcore.Chunker
	timeout  time.Duration
}

// New constructs a postgres-backed Index.
func New(pool *pgxpool.Pool, embedder embedder, chunker evalcore.Chunker, timeout time.Duration) *Index {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Index{pool: pool, embedder: embedder, chunker: chunker, timeout: timeout}
}

// IndexDocument chunks doc.ExtractedText, embeds each chunk, and inserts
// them into retrieval_chunks under collection.
func (idx *Index) IndexDocument(ctx context.Context, doc evalcore.Document, collection evalcore.Collection) error {
	candidates := idx.chunker.Chunk(doc.ExtractedText)
	if len(candidates) == 0 {
		return nil
	}
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Content
	}

	embedCtx, cancel := context.WithTimeout(ctx, idx.timeout)
	defer cancel()
	vectors, err := idx.embedder.Embed(embedCtx, texts, evalcore.EmbedOptions{})
	if err != nil {
		return fmt.Errorf("embed chunks for indexing: %w", err)
	}

	batch := &pgx.Batch{}
	now := util.NowUTC()
	for i, c := range candidates {
		chunkID := uuid.New().String()
		batch.Queue(`
			INSERT INTO retrieval_chunks
				(chunk_id, source_doc_id, collection, doc_type, owner_id, content, chunk_index, total_chunks, embedding, indexed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, chunkID, doc.DocID, string(collection), string(doc.Type), doc.OwnerID, c.Content, c.Index, len(candidates),
			pgvector.NewVector(vectors[i]), now)
	}
	return idx.pool.SendBatch(ctx, batch).Close()
}

// Search embeds queryText and returns the nearest chunks in collection by
// cosine distance, keeping those whose similarity (1 - distance) is at least
// threshold. Any embedding or query failure is returned as an error with a
// nil slice.
func (idx *Index) Search(ctx context.Context, queryText string, collection evalcore.Collection, maxResults int, filter evalcore.SearchFilter, threshold float64) ([]evalcore.ReferenceChunk, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	embedCtx, cancel := context.WithTimeout(ctx, idx.timeout)
	defer cancel()
	vectors, err := idx.embedder.Embed(embedCtx, []string{queryText}, evalcore.EmbedOptions{})
	if err != nil || len(vectors) == 0 {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	query := `
		SELECT chunk_id, source_doc_id, doc_type, owner_id, content, chunk_index, total_chunks, indexed_at,
			(1.0 - (embedding <=> $1)) AS score
		FROM retrieval_chunks
		WHERE collection = $2
	`
	args := []any{pgvector.NewVector(vectors[0]), string(collection)}
	argPos := 3
	if filter.DocType != "" {
		query += ` AND doc_type = $` + strconv.Itoa(argPos)
		args = append(args, string(filter.DocType))
		argPos++
	}
	query += fmt.Sprintf(` ORDER BY embedding <=> $1 ASC LIMIT %d`, maxResults)

	searchCtx, cancel2 := context.WithTimeout(ctx, idx.timeout)
	defer cancel2()
	rows, err := idx.pool.Query(searchCtx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search retrieval_chunks: %w", err)
	}
	defer rows.Close()

	var out []evalcore.ReferenceChunk
	for rows.Next() {
		var (
			c       evalcore.ReferenceChunk
			docType string
		)
		if err := rows.Scan(&c.ChunkID, &c.SourceDocID, &docType, &c.OwnerID, &c.Text, &c.ChunkIndex, &c.TotalChunks, &c.IndexedAt, &c.Score); err != nil {
			return nil, fmt.Errorf("scan retrieval_chunks row: %w", err)
		}
		c.Collection = collection
		c.DocType = evalcore.DocumentType(docType)
		if c.Score < threshold {
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Remove deletes every chunk sourced from docID within collection.
func (idx *Index) Remove(ctx context.Context, docID string, collection evalcore.Collection) error {
	_, err := idx.pool.Exec(ctx, `
		DELETE FROM retrieval_chunks WHERE source_doc_id = $1 AND collection = $2
	`, docID, string(collection))
	return err
}

var _ evalcore.RetrievalIndex = (*Index)(nil)

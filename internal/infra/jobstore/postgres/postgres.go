// Package postgres is the authoritative, concurrency-safe JobStore backed
// by Postgres, using a version column for optimistic locking.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/candidateeval/evaluator-core/internal/domain/evalcore"
	apperrors "github.com/candidateeval/evaluator-core/pkg/errors"
	"github.com/candidateeval/evaluator-core/pkg/util"
)

var terminalStatuses = map[evalcore.JobStatus]bool{
	evalcore.StatusCompleted: true,
	evalcore.StatusFailed:    true,
	evalcore.StatusCancelled: true,
}

const (
	updateRetryAttempts = 3
	updateRetryBaseMS   = 50
)

// Store persists EvaluationJob rows in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateAtomic inserts job, or returns the existing record unchanged if
// job_id already exists: submission is idempotent, not a race to be
// rejected. A unique violation only ever means a duplicate submission (the
// id-minting scheme makes an accidental collision exceptionally unlikely),
// so it's resolved by re-reading rather than retried as if it were transient.
func (s *Store) CreateAtomic(ctx context.Context, job evalcore.EvaluationJob) (evalcore.EvaluationJob, error) {
	job.Version = 1
	created, err := s.insert(ctx, job)
	if err == nil {
		return created, nil
	}
	if !isUniqueViolation(err) {
		return evalcore.EvaluationJob{}, apperrors.Wrap(apperrors.CodePersistence, "create job failed", err)
	}
	existing, found, findErr := s.findByID(ctx, job.JobID)
	if findErr != nil {
		return evalcore.EvaluationJob{}, apperrors.Wrap(apperrors.CodePersistence, "load existing job after unique violation failed", findErr)
	}
	if !found {
		return evalcore.EvaluationJob{}, apperrors.Wrap(apperrors.CodePersistence, "job vanished after unique violation", err)
	}
	return existing, nil
}

func (s *Store) insert(ctx context.Context, job evalcore.EvaluationJob) (evalcore.EvaluationJob, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO evaluation_jobs
			(job_id, owner_id, job_title, cv_ref, project_ref, status, version, retry_count, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, job.JobID, job.OwnerID, job.JobTitle, job.CVRef, job.ProjectRef, string(job.Status), job.Version,
		job.RetryCount, job.ErrorMessage, job.CreatedAt)
	if err != nil {
		return evalcore.EvaluationJob{}, err
	}
	return job, nil
}

// UpdateOptimistic applies patch in memory, then writes the full row back
// conditioned on version = expectedVersion. If a concurrent writer wins the
// race between the read and the guarded write, the row is re-read; its
// version then no longer matches expectedVersion, so the call returns a
// concurrency error rather than applying patch to the newer row.
func (s *Store) UpdateOptimistic(ctx context.Context, jobID string, expectedVersion int, patch func(*evalcore.EvaluationJob)) (evalcore.EvaluationJob, error) {
	var lastErr error
	for attempt := 0; attempt < updateRetryAttempts; attempt++ {
		current, found, err := s.findByID(ctx, jobID)
		if err != nil {
			return evalcore.EvaluationJob{}, apperrors.Wrap(apperrors.CodePersistence, "load job for update failed", err)
		}
		if !found {
			return evalcore.EvaluationJob{}, apperrors.Wrap(apperrors.CodeNotFound, "job not found", nil)
		}
		if current.Version != expectedVersion {
			return evalcore.EvaluationJob{}, apperrors.Wrap(apperrors.CodeConcurrency, "job version mismatch", nil)
		}

		next := current
		if patch != nil {
			patch(&next)
		}
		next.Version = current.Version + 1

		updated, ok, err := s.updateWithVersionGuard(ctx, next, current.Version)
		if err != nil {
			return evalcore.EvaluationJob{}, apperrors.Wrap(apperrors.CodePersistence, "update job failed", err)
		}
		if ok {
			return updated, nil
		}
		lastErr = apperrors.Wrap(apperrors.CodeConcurrency, "concurrent writer won the race", nil)
		if attempt < updateRetryAttempts-1 {
			sleepBackoff(ctx, updateRetryBaseMS, attempt)
		}
		expectedVersion = current.Version
	}
	return evalcore.EvaluationJob{}, lastErr
}

// TransitionStatus moves job to newStatus, applying patch first, and is a
// no-op (returns the unchanged current record) when the job is already in a
// terminal status: no transition ever leaves completed, failed, or
// cancelled.
func (s *Store) TransitionStatus(ctx context.Context, jobID string, newStatus evalcore.JobStatus, patch func(*evalcore.EvaluationJob)) (evalcore.EvaluationJob, error) {
	var lastErr error
	for attempt := 0; attempt < updateRetryAttempts; attempt++ {
		current, found, err := s.findByID(ctx, jobID)
		if err != nil {
			return evalcore.EvaluationJob{}, apperrors.Wrap(apperrors.CodePersistence, "load job for transition failed", err)
		}
		if !found {
			return evalcore.EvaluationJob{}, apperrors.Wrap(apperrors.CodeNotFound, "job not found", nil)
		}
		if terminalStatuses[current.Status] {
			return current, nil
		}

		next := current
		next.Status = newStatus
		now := util.NowUTC()
		switch newStatus {
		case evalcore.StatusProcessing:
			next.ProcessingStartedAt = &now
		case evalcore.StatusCompleted, evalcore.StatusFailed, evalcore.StatusCancelled:
			next.ProcessingCompletedAt = &now
		}
		if patch != nil {
			patch(&next)
		}
		next.Version = current.Version + 1

		updated, ok, err := s.updateWithVersionGuard(ctx, next, current.Version)
		if err != nil {
			return evalcore.EvaluationJob{}, apperrors.Wrap(apperrors.CodePersistence, "transition job failed", err)
		}
		if ok {
			return updated, nil
		}
		lastErr = apperrors.Wrap(apperrors.CodeConcurrency, "concurrent writer won the race", nil)
		if attempt < updateRetryAttempts-1 {
			sleepBackoff(ctx, updateRetryBaseMS, attempt)
		}
	}
	return evalcore.EvaluationJob{}, lastErr
}

func (s *Store) updateWithVersionGuard(ctx context.Context, job evalcore.EvaluationJob, expectedVersion int) (evalcore.EvaluationJob, bool, error) {
	resultJSON, err := marshalResult(job.Result)
	if err != nil {
		return evalcore.EvaluationJob{}, false, err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE evaluation_jobs
		SET status = $1, version = $2, retry_count = $3, error_message = $4, result = $5,
			processing_started_at = $6, processing_completed_at = $7
		WHERE job_id = $8 AND version = $9
	`, string(job.Status), job.Version, job.RetryCount, job.ErrorMessage, resultJSON,
		job.ProcessingStartedAt, job.ProcessingCompletedAt, job.JobID, expectedVersion)
	if err != nil {
		return evalcore.EvaluationJob{}, false, err
	}
	if tag.RowsAffected() == 0 {
		return evalcore.EvaluationJob{}, false, nil
	}
	return job, true, nil
}

// Find returns job scoped to ownerID.
func (s *Store) Find(ctx context.Context, jobID, ownerID string) (evalcore.EvaluationJob, bool, error) {
	job, found, err := s.findByID(ctx, jobID)
	if err != nil || !found || job.OwnerID != ownerID {
		if err != nil {
			return evalcore.EvaluationJob{}, false, apperrors.Wrap(apperrors.CodePersistence, "find job failed", err)
		}
		return evalcore.EvaluationJob{}, false, nil
	}
	return job, true, nil
}

func (s *Store) findByID(ctx context.Context, jobID string) (evalcore.EvaluationJob, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT job_id, owner_id, job_title, cv_ref, project_ref, status, version, retry_count,
			error_message, result, created_at, processing_started_at, processing_completed_at
		FROM evaluation_jobs
		WHERE job_id = $1
	`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return evalcore.EvaluationJob{}, false, nil
		}
		return evalcore.EvaluationJob{}, false, err
	}
	return job, true, nil
}

// List returns a page of ownerID's jobs, optionally filtered by status.
func (s *Store) List(ctx context.Context, ownerID string, status evalcore.JobStatus, page evalcore.Page) (evalcore.PageResult, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 20
	}
	pageNum := page.Page
	if pageNum <= 0 {
		pageNum = 1
	}
	offset := (pageNum - 1) * limit

	query := `
		SELECT job_id, owner_id, job_title, cv_ref, project_ref, status, version, retry_count,
			error_message, result, created_at, processing_started_at, processing_completed_at
		FROM evaluation_jobs
		WHERE owner_id = $1
	`
	countQuery := `SELECT count(*) FROM evaluation_jobs WHERE owner_id = $1`
	args := []any{ownerID}
	if status != "" {
		query += ` AND status = $2`
		countQuery += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT $` + placeholderIndex(len(args)+1) + ` OFFSET $` + placeholderIndex(len(args)+2)
	listArgs := append(append([]any{}, args...), limit, offset)

	var total int
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return evalcore.PageResult{}, apperrors.Wrap(apperrors.CodePersistence, "count jobs failed", err)
	}

	rows, err := s.pool.Query(ctx, query, listArgs...)
	if err != nil {
		return evalcore.PageResult{}, apperrors.Wrap(apperrors.CodePersistence, "list jobs failed", err)
	}
	defer rows.Close()

	var jobs []evalcore.EvaluationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return evalcore.PageResult{}, apperrors.Wrap(apperrors.CodePersistence, "scan job row failed", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return evalcore.PageResult{}, apperrors.Wrap(apperrors.CodePersistence, "list jobs failed", err)
	}

	totalPages := (total + limit - 1) / limit
	if totalPages == 0 {
		totalPages = 1
	}
	return evalcore.PageResult{
		Jobs:       jobs,
		Page:       pageNum,
		Limit:      limit,
		TotalPages: totalPages,
		Total:      total,
		HasNext:    pageNum < totalPages,
		HasPrev:    pageNum > 1,
	}, nil
}

// Cancel transitions a queued or processing job to cancelled, retrying on a
// concurrent version conflict; any job already in a terminal status is a
// no-op returning the current record.
func (s *Store) Cancel(ctx context.Context, jobID, ownerID string) (evalcore.EvaluationJob, error) {
	job, found, err := s.Find(ctx, jobID, ownerID)
	if err != nil {
		return evalcore.EvaluationJob{}, err
	}
	if !found {
		return evalcore.EvaluationJob{}, apperrors.Wrap(apperrors.CodeNotFound, "job not found", nil)
	}
	if terminalStatuses[job.Status] {
		return job, nil
	}
	return s.TransitionStatus(ctx, jobID, evalcore.StatusCancelled, nil)
}

type row interface {
	Scan(dest ...any) error
}

func scanJob(r row) (evalcore.EvaluationJob, error) {
	var (
		job        evalcore.EvaluationJob
		status     string
		resultJSON []byte
	)
	if err := r.Scan(
		&job.JobID, &job.OwnerID, &job.JobTitle, &job.CVRef, &job.ProjectRef, &status, &job.Version,
		&job.RetryCount, &job.ErrorMessage, &resultJSON, &job.CreatedAt, &job.ProcessingStartedAt, &job.ProcessingCompletedAt,
	); err != nil {
		return evalcore.EvaluationJob{}, err
	}
	job.Status = evalcore.JobStatus(status)
	if len(resultJSON) > 0 {
		var result evalcore.EvaluationResult
		if err := json.Unmarshal(resultJSON, &result); err == nil {
			job.Result = &result
		}
	}
	return job, nil
}

func marshalResult(result *evalcore.EvaluationResult) ([]byte, error) {
	if result == nil {
		return nil, nil
	}
	return json.Marshal(result)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func sleepBackoff(ctx context.Context, baseMS, attempt int) {
	delay := time.Duration(baseMS*(1<<uint(attempt))) * time.Millisecond
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func placeholderIndex(n int) string {
	return strconv.Itoa(n)
}

var _ evalcore.JobStore = (*Store)(nil)

// Package memory is an in-memory JobStore used for tests and for running
// without Postgres configured. It enforces the same optimistic-locking and
// state-machine semantics as the Postgres-backed store.
package memory

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/candidateeval/evaluator-core/pkg/errors"

	"github.com/candidateeval/evaluator-core/internal/domain/evalcore"
)

// terminalStatuses are states the state machine never allows leaving.
var terminalStatuses = map[evalcore.JobStatus]bool{
	evalcore.StatusCompleted: true,
	evalcore.StatusFailed:    true,
	evalcore.StatusCancelled: true,
}

// Store is a mutex-guarded map of job ID to EvaluationJob.
type Store struct {
	mu   sync.Mutex
	jobs map[string]evalcore.EvaluationJob
	now  func() time.Time
}

// New constructs an empty Store.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{jobs: make(map[string]evalcore.EvaluationJob), now: now}
}

// CreateAtomic inserts job, or returns the existing record unchanged if its
// ID already exists: submission is idempotent, not a race to be rejected.
func (s *Store) CreateAtomic(_ context.Context, job evalcore.EvaluationJob) (evalcore.EvaluationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, exists := s.jobs[job.JobID]; exists {
		return existing, nil
	}
	job.Version = 1
	s.jobs[job.JobID] = job
	return job, nil
}

// UpdateOptimistic applies patch to the job if its current version matches
// expectedVersion, bumping the version on success.
func (s *Store) UpdateOptimistic(_ context.Context, jobID string, expectedVersion int, patch func(*evalcore.EvaluationJob)) (evalcore.EvaluationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return evalcore.EvaluationJob{}, apperrors.Wrap(apperrors.CodeNotFound, "job not found", nil)
	}
	if job.Version != expectedVersion {
		return evalcore.EvaluationJob{}, apperrors.Wrap(apperrors.CodeConcurrency, "job version mismatch", nil)
	}
	if patch != nil {
		patch(&job)
	}
	job.Version++
	s.jobs[jobID] = job
	return job, nil
}

// TransitionStatus moves job to newStatus, applying patch first. A job
// already in a terminal status is a silent no-op: the current record is
// returned unchanged, satisfying the rule that no attempt to leave a
// terminal state ever succeeds.
func (s *Store) TransitionStatus(_ context.Context, jobID string, newStatus evalcore.JobStatus, patch func(*evalcore.EvaluationJob)) (evalcore.EvaluationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return evalcore.EvaluationJob{}, apperrors.Wrap(apperrors.CodeNotFound, "job not found", nil)
	}
	if terminalStatuses[job.Status] {
		return job, nil
	}

	now := s.now().UTC()
	job.Status = newStatus
	switch newStatus {
	case evalcore.StatusProcessing:
		job.ProcessingStartedAt = &now
	case evalcore.StatusCompleted, evalcore.StatusFailed, evalcore.StatusCancelled:
		job.ProcessingCompletedAt = &now
	}
	if patch != nil {
		patch(&job)
	}
	job.Version++
	s.jobs[jobID] = job
	return job, nil
}

// Find returns job by ID, scoped to ownerID.
func (s *Store) Find(_ context.Context, jobID, ownerID string) (evalcore.EvaluationJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.OwnerID != ownerID {
		return evalcore.EvaluationJob{}, false, nil
	}
	return job, true, nil
}

// List returns a page of ownerID's jobs, optionally filtered by status.
func (s *Store) List(_ context.Context, ownerID string, status evalcore.JobStatus, page evalcore.Page) (evalcore.PageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []evalcore.EvaluationJob
	for _, job := range s.jobs {
		if job.OwnerID != ownerID {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		matched = append(matched, job)
	}
	sortByCreatedAtDesc(matched)

	limit := page.Limit
	if limit <= 0 {
		limit = 20
	}
	pageNum := page.Page
	if pageNum <= 0 {
		pageNum = 1
	}
	total := len(matched)
	totalPages := (total + limit - 1) / limit
	if totalPages == 0 {
		totalPages = 1
	}
	start := (pageNum - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return evalcore.PageResult{
		Jobs:       matched[start:end],
		Page:       pageNum,
		Limit:      limit,
		TotalPages: totalPages,
		Total:      total,
		HasNext:    pageNum < totalPages,
		HasPrev:    pageNum > 1,
	}, nil
}

// Cancel transitions a queued or processing job to cancelled; any other
// current status is a no-op returning the current record.
func (s *Store) Cancel(_ context.Context, jobID, ownerID string) (evalcore.EvaluationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.OwnerID != ownerID {
		return evalcore.EvaluationJob{}, apperrors.Wrap(apperrors.CodeNotFound, "job not found", nil)
	}
	if terminalStatuses[job.Status] {
		return job, nil
	}
	now := s.now().UTC()
	job.Status = evalcore.StatusCancelled
	job.ProcessingCompletedAt = &now
	job.Version++
	s.jobs[jobID] = job
	return job, nil
}

func sortByCreatedAtDesc(jobs []evalcore.EvaluationJob) {
	for i := 1; i < len(jobs); i++ {
		for j := i; j > 0 && jobs[j].CreatedAt.After(jobs[j-1].CreatedAt); j-- {
			jobs[j], jobs[j-1] = jobs[j-1], jobs[j]
		}
	}
}

var _ evalcore.JobStore = (*Store)(nil)

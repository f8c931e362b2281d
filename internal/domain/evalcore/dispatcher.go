package evalcore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/candidateeval/evaluator-core/pkg/errors"
)

// SubmitRequest is the Submit contract's input.
type SubmitRequest struct {
	JobTitle   string
	CVRef      string
	ProjectRef string
	OwnerID    string
}

// SubmitResponse is the Submit contract's synchronous output.
type SubmitResponse struct {
	JobID               string
	Status              JobStatus
	EstimatedCompletion string
}

// Dispatcher accepts submissions, owns the job identifier, persists each
// queued job and enqueues its work item; the WorkerPool drains that queue and
// drives the Engine.
type Dispatcher struct {
	docs   DocumentProvider
	store  JobStore
	queue  JobQueue
	logger *slog.Logger
	now    func() time.Time
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(docs DocumentProvider, store JobStore, queue JobQueue, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		docs:   docs,
		store:  store,
		queue:  queue,
		logger: logger.With("component", "evalcore.dispatcher"),
		now:    time.Now,
	}
}

// Submit validates the request, mints a job id, persists the queued job, and
// enqueues the corresponding work item.
func (d *Dispatcher) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	if err := d.validate(req); err != nil {
		return SubmitResponse{}, err
	}

	cvDoc, found, err := d.docs.GetDocument(ctx, req.CVRef, req.OwnerID)
	if err != nil {
		return SubmitResponse{}, apperrors.Wrap(apperrors.CodePersistence, "failed to load cv document", err)
	}
	if !found {
		return SubmitResponse{}, apperrors.Wrap(apperrors.CodeNotFound, "cv document not found", nil)
	}
	if cvDoc.Type != DocTypeCV {
		return SubmitResponse{}, apperrors.Wrap(apperrors.CodeValidation, "cv-ref does not reference a cv document", nil)
	}

	projectDoc, found, err := d.docs.GetDocument(ctx, req.ProjectRef, req.OwnerID)
	if err != nil {
		return SubmitResponse{}, apperrors.Wrap(apperrors.CodePersistence, "failed to load project document", err)
	}
	if !found {
		return SubmitResponse{}, apperrors.Wrap(apperrors.CodeNotFound, "project document not found", nil)
	}
	if projectDoc.Type != DocTypeProjectReport {
		return SubmitResponse{}, apperrors.Wrap(apperrors.CodeValidation, "project-ref does not reference a project report", nil)
	}

	jobID, err := NewJobID(d.now())
	if err != nil {
		return SubmitResponse{}, apperrors.Wrap(apperrors.CodeEngine, "failed to mint job id", err)
	}

	job := EvaluationJob{
		JobID:      jobID,
		OwnerID:    req.OwnerID,
		JobTitle:   req.JobTitle,
		CVRef:      req.CVRef,
		ProjectRef: req.ProjectRef,
		Status:     StatusQueued,
		CreatedAt:  d.now(),
	}
	created, err := d.store.CreateAtomic(ctx, job)
	if err != nil {
		return SubmitResponse{}, apperrors.Wrap(apperrors.CodePersistence, "failed to persist job", err)
	}

	item := WorkItem{
		JobID:       created.JobID,
		JobTitle:    created.JobTitle,
		CVText:      cvDoc.ExtractedText,
		ProjectText: projectDoc.ExtractedText,
		OwnerID:     created.OwnerID,
	}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		msg := fmt.Sprintf("enqueue failed: %v", err)
		if _, failErr := d.store.TransitionStatus(ctx, created.JobID, StatusFailed, func(j *EvaluationJob) {
			j.ErrorMessage = msg
		}); failErr != nil {
			d.logger.Error("failed to mark job failed after enqueue error", "job_id", created.JobID, "error", failErr)
		}
		return SubmitResponse{}, apperrors.Wrap(apperrors.CodeTransientExternal, msg, err)
	}

	return SubmitResponse{
		JobID:               created.JobID,
		Status:              created.Status,
		EstimatedCompletion: "a few minutes",
	}, nil
}

func (d *Dispatcher) validate(req SubmitRequest) error {
	title := strings.TrimSpace(req.JobTitle)
	if len(title) < 3 || len(title) > 100 {
		return apperrors.Wrap(apperrors.CodeValidation, "job-title must be between 3 and 100 characters", nil)
	}
	if strings.TrimSpace(req.CVRef) == "" || strings.TrimSpace(req.ProjectRef) == "" {
		return apperrors.Wrap(apperrors.CodeValidation, "cv-ref and project-ref are required", nil)
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return apperrors.Wrap(apperrors.CodeValidation, "owner-id is required", nil)
	}
	return nil
}

// GetStatus returns the full job for its owner, or a not-found error if it
// does not exist or belongs to a different owner (never leaking existence
// across owners).
func (d *Dispatcher) GetStatus(ctx context.Context, jobID, ownerID string) (EvaluationJob, error) {
	job, found, err := d.store.Find(ctx, jobID, ownerID)
	if err != nil {
		return EvaluationJob{}, apperrors.Wrap(apperrors.CodePersistence, "failed to load job", err)
	}
	if !found {
		return EvaluationJob{}, apperrors.Wrap(apperrors.CodeNotFound, "job not found", nil)
	}
	return job, nil
}

// List returns a page of jobs owned by ownerID.
func (d *Dispatcher) List(ctx context.Context, ownerID string, status JobStatus, page Page) (PageResult, error) {
	result, err := d.store.List(ctx, ownerID, status, page)
	if err != nil {
		return PageResult{}, apperrors.Wrap(apperrors.CodePersistence, "failed to list jobs", err)
	}
	return result, nil
}

// Cancel cancels a job from {queued, processing}; a no-op on an
// already-cancelled job.
func (d *Dispatcher) Cancel(ctx context.Context, jobID, ownerID string) (EvaluationJob, error) {
	job, err := d.store.Cancel(ctx, jobID, ownerID)
	if err != nil {
		return EvaluationJob{}, err
	}
	return job, nil
}

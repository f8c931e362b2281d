package evalcore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	apperrors "github.com/candidateeval/evaluator-core/pkg/errors"
)

// WorkerPoolConfig parameterizes the fixed-size worker pool.
type WorkerPoolConfig struct {
	PoolSize     int
	DrainTimeout time.Duration
}

// WorkerPool drains the durable queue with a fixed-size pool of workers and
// drives the Engine for each item.
type WorkerPool struct {
	cfg    WorkerPoolConfig
	queue  JobQueue
	store  JobStore
	engine *Engine
	logger *slog.Logger
	pool   *ants.Pool
	wg     sync.WaitGroup
}

// NewWorkerPool constructs a WorkerPool.
func NewWorkerPool(cfg WorkerPoolConfig, queue JobQueue, store JobStore, engine *Engine, logger *slog.Logger) (*WorkerPool, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 3
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	pool, err := ants.NewPool(cfg.PoolSize, ants.WithPreAlloc(false))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &WorkerPool{
		cfg:    cfg,
		queue:  queue,
		store:  store,
		engine: engine,
		logger: logger.With("component", "evalcore.worker"),
		pool:   pool,
	}, nil
}

// Run polls the queue until ctx is cancelled, then drains in-flight work
// before returning. A worker never leaves a job in processing on exit: each
// submitted task is wrapped with panic recovery that transitions its job to
// failed before the task returns.
func (p *WorkerPool) Run(ctx context.Context) error {
	defer p.pool.Release()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker pool shutting down, draining in-flight items")
			p.drain()
			return nil
		default:
		}

		item, ok, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue failed", "error", err)
			continue
		}
		if !ok {
			continue
		}

		p.wg.Add(1)
		submitErr := p.pool.Submit(func() {
			defer p.wg.Done()
			p.process(ctx, item)
		})
		if submitErr != nil {
			p.wg.Done()
			p.logger.Error("failed to submit item to pool, nacking for redelivery", "job_id", item.JobID, "error", submitErr)
			if err := p.queue.Nack(ctx, item, true); err != nil {
				p.logger.Error("nack failed", "job_id", item.JobID, "error", err)
			}
		}
	}
}

func (p *WorkerPool) drain() {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.cfg.DrainTimeout):
		p.logger.Warn("drain timeout exceeded, exiting with items still in flight")
	}
}

// process runs one work item through TransitionStatus(processing) -> Engine
// -> TransitionStatus(completed|failed), recovering from any panic by
// failing the job rather than crashing the worker.
func (p *WorkerPool) process(ctx context.Context, item WorkItem) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing job, marking failed", "job_id", item.JobID, "panic", r)
			p.failJob(ctx, item.JobID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	job, err := p.store.TransitionStatus(ctx, item.JobID, StatusProcessing, nil)
	if err != nil {
		p.logger.Error("failed to transition job to processing", "job_id", item.JobID, "error", err)
		if err := p.queue.Nack(ctx, item, true); err != nil {
			p.logger.Error("nack failed", "job_id", item.JobID, "error", err)
		}
		return
	}
	if job.Status == StatusCancelled {
		_ = p.queue.Ack(ctx, item)
		return
	}

	result, err := p.engine.Run(ctx, item.JobTitle, item.CVText, item.ProjectText)
	if err != nil {
		p.failJob(ctx, item.JobID, describeEngineError(err))
		_ = p.queue.Ack(ctx, item)
		return
	}

	if _, err := p.store.TransitionStatus(ctx, item.JobID, StatusCompleted, func(j *EvaluationJob) {
		j.Result = &result
	}); err != nil {
		p.logger.Error("failed to persist completed job after a delay", "job_id", item.JobID, "error", err)
		time.Sleep(200 * time.Millisecond)
		if _, retryErr := p.store.TransitionStatus(ctx, item.JobID, StatusCompleted, func(j *EvaluationJob) {
			j.Result = &result
		}); retryErr != nil {
			p.logger.Error("job remains stuck in processing after retry", "job_id", item.JobID, "error", retryErr)
		}
	}
	_ = p.queue.Ack(ctx, item)
}

func (p *WorkerPool) failJob(ctx context.Context, jobID, message string) {
	if _, err := p.store.TransitionStatus(ctx, jobID, StatusFailed, func(j *EvaluationJob) {
		j.ErrorMessage = message
		j.RetryCount++
	}); err != nil {
		p.logger.Error("failed to mark job failed", "job_id", jobID, "error", err)
	}
}

func describeEngineError(err error) string {
	if appErr, ok := apperrors.AsAppError(err); ok && appErr.Code == apperrors.CodeQuota {
		return "evaluation temporarily unavailable due to API usage limits"
	}
	return "evaluation failed"
}

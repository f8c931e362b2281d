package evalcore

import (
	"context"
	"sync"
)

// fakeJobStore is a minimal in-memory JobStore double for dispatcher/worker
// tests that don't need the full memory.Store implementation's semantics.
type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]EvaluationJob

	createErr error
	transitionErr error
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]EvaluationJob)}
}

func (f *fakeJobStore) CreateAtomic(_ context.Context, job EvaluationJob) (EvaluationJob, error) {
	if f.createErr != nil {
		return EvaluationJob{}, f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job.Version = 1
	f.jobs[job.JobID] = job
	return job, nil
}

func (f *fakeJobStore) UpdateOptimistic(_ context.Context, jobID string, expectedVersion int, patch func(*EvaluationJob)) (EvaluationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	if patch != nil {
		patch(&job)
	}
	job.Version++
	f.jobs[jobID] = job
	return job, nil
}

func (f *fakeJobStore) TransitionStatus(_ context.Context, jobID string, newStatus JobStatus, patch func(*EvaluationJob)) (EvaluationJob, error) {
	if f.transitionErr != nil {
		return EvaluationJob{}, f.transitionErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	if job.Status == StatusCompleted || job.Status == StatusFailed || job.Status == StatusCancelled {
		return job, nil
	}
	job.Status = newStatus
	if patch != nil {
		patch(&job)
	}
	job.Version++
	f.jobs[jobID] = job
	return job, nil
}

func (f *fakeJobStore) Find(_ context.Context, jobID, ownerID string) (EvaluationJob, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok || job.OwnerID != ownerID {
		return EvaluationJob{}, false, nil
	}
	return job, true, nil
}

func (f *fakeJobStore) List(context.Context, string, JobStatus, Page) (PageResult, error) {
	return PageResult{}, nil
}

func (f *fakeJobStore) Cancel(_ context.Context, jobID, ownerID string) (EvaluationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok || job.OwnerID != ownerID {
		return EvaluationJob{}, errNotFoundFake
	}
	if job.Status == StatusCompleted || job.Status == StatusFailed || job.Status == StatusCancelled {
		return job, nil
	}
	job.Status = StatusCancelled
	job.Version++
	f.jobs[jobID] = job
	return job, nil
}

var errNotFoundFake = &fakeNotFoundError{}

type fakeNotFoundError struct{}

func (*fakeNotFoundError) Error() string { return "job not found" }

// fakeJobQueue is an unbounded in-memory JobQueue double.
type fakeJobQueue struct {
	mu      sync.Mutex
	pending []WorkItem
	acked   []WorkItem
	nacked  []WorkItem
	enqueueErr error
}

func (f *fakeJobQueue) Enqueue(_ context.Context, item WorkItem) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, item)
	return nil
}

func (f *fakeJobQueue) Dequeue(_ context.Context) (WorkItem, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return WorkItem{}, false, nil
	}
	item := f.pending[0]
	f.pending = f.pending[1:]
	return item, true, nil
}

func (f *fakeJobQueue) Ack(_ context.Context, item WorkItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, item)
	return nil
}

func (f *fakeJobQueue) Nack(_ context.Context, item WorkItem, redeliver bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = append(f.nacked, item)
	if redeliver {
		f.pending = append(f.pending, item)
	}
	return nil
}

// fakeDocumentProvider serves Documents seeded by test setup.
type fakeDocumentProvider struct {
	docs map[string]Document
}

func newFakeDocumentProvider() *fakeDocumentProvider {
	return &fakeDocumentProvider{docs: make(map[string]Document)}
}

func (f *fakeDocumentProvider) put(doc Document) {
	f.docs[doc.DocID] = doc
}

func (f *fakeDocumentProvider) GetDocument(_ context.Context, docID, ownerID string) (Document, bool, error) {
	doc, ok := f.docs[docID]
	if !ok || doc.OwnerID != ownerID {
		return Document{}, false, nil
	}
	return doc, true, nil
}

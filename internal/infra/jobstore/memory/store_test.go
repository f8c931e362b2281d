package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/candidateeval/evaluator-core/internal/domain/evalcore"
	apperrors "github.com/candidateeval/evaluator-core/pkg/errors"
)

func fixedNow() time.Time { return time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC) }

func TestCreateAtomicIsIdempotentOnDuplicateID(t *testing.T) {
	store := New(fixedNow)
	ctx := context.Background()
	job := evalcore.EvaluationJob{JobID: "job-1", OwnerID: "owner-1", Status: evalcore.StatusQueued}

	created, err := store.CreateAtomic(ctx, job)
	require.NoError(t, err)
	require.Equal(t, 1, created.Version)

	again, err := store.CreateAtomic(ctx, job)
	require.NoError(t, err)
	require.Equal(t, created, again)
}

func TestUpdateOptimisticRejectsStaleVersion(t *testing.T) {
	store := New(fixedNow)
	ctx := context.Background()
	created, err := store.CreateAtomic(ctx, evalcore.EvaluationJob{JobID: "job-1", OwnerID: "owner-1"})
	require.NoError(t, err)

	_, err = store.UpdateOptimistic(ctx, created.JobID, created.Version+1, func(j *evalcore.EvaluationJob) {
		j.ErrorMessage = "should not apply"
	})
	require.True(t, apperrors.IsCode(err, apperrors.CodeConcurrency))

	updated, err := store.UpdateOptimistic(ctx, created.JobID, created.Version, func(j *evalcore.EvaluationJob) {
		j.ErrorMessage = "applied"
	})
	require.NoError(t, err)
	require.Equal(t, "applied", updated.ErrorMessage)
	require.Equal(t, created.Version+1, updated.Version)
}

func TestUpdateOptimisticNotFound(t *testing.T) {
	store := New(fixedNow)
	_, err := store.UpdateOptimistic(context.Background(), "missing", 1, nil)
	require.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestTransitionStatusSetsTimestamps(t *testing.T) {
	store := New(fixedNow)
	ctx := context.Background()
	created, err := store.CreateAtomic(ctx, evalcore.EvaluationJob{JobID: "job-1", OwnerID: "owner-1", Status: evalcore.StatusQueued})
	require.NoError(t, err)

	processing, err := store.TransitionStatus(ctx, created.JobID, evalcore.StatusProcessing, nil)
	require.NoError(t, err)
	require.Equal(t, evalcore.StatusProcessing, processing.Status)
	require.NotNil(t, processing.ProcessingStartedAt)
	require.Nil(t, processing.ProcessingCompletedAt)

	completed, err := store.TransitionStatus(ctx, created.JobID, evalcore.StatusCompleted, func(j *evalcore.EvaluationJob) {
		j.Result = &evalcore.EvaluationResult{}
	})
	require.NoError(t, err)
	require.Equal(t, evalcore.StatusCompleted, completed.Status)
	require.NotNil(t, completed.ProcessingCompletedAt)
	require.NotNil(t, completed.Result)
}

func TestTransitionStatusIsNoOpOnceTerminal(t *testing.T) {
	store := New(fixedNow)
	ctx := context.Background()
	created, err := store.CreateAtomic(ctx, evalcore.EvaluationJob{JobID: "job-1", OwnerID: "owner-1", Status: evalcore.StatusQueued})
	require.NoError(t, err)

	cancelled, err := store.Cancel(ctx, created.JobID, created.OwnerID)
	require.NoError(t, err)
	require.Equal(t, evalcore.StatusCancelled, cancelled.Status)

	// A worker finishing its in-flight work after cancellation must not
	// resurrect the job into "completed".
	unchanged, err := store.TransitionStatus(ctx, created.JobID, evalcore.StatusCompleted, func(j *evalcore.EvaluationJob) {
		j.Result = &evalcore.EvaluationResult{}
	})
	require.NoError(t, err)
	require.Equal(t, evalcore.StatusCancelled, unchanged.Status)
	require.Equal(t, cancelled.Version, unchanged.Version)
	require.Nil(t, unchanged.Result)
}

func TestCancelIsNoOpOnAlreadyTerminalJob(t *testing.T) {
	store := New(fixedNow)
	ctx := context.Background()
	created, err := store.CreateAtomic(ctx, evalcore.EvaluationJob{JobID: "job-1", OwnerID: "owner-1", Status: evalcore.StatusQueued})
	require.NoError(t, err)
	completed, err := store.TransitionStatus(ctx, created.JobID, evalcore.StatusCompleted, nil)
	require.NoError(t, err)

	again, err := store.Cancel(ctx, created.JobID, created.OwnerID)
	require.NoError(t, err)
	require.Equal(t, evalcore.StatusCompleted, again.Status)
	require.Equal(t, completed.Version, again.Version)
}

func TestFindScopesToOwner(t *testing.T) {
	store := New(fixedNow)
	ctx := context.Background()
	_, err := store.CreateAtomic(ctx, evalcore.EvaluationJob{JobID: "job-1", OwnerID: "owner-1"})
	require.NoError(t, err)

	_, found, err := store.Find(ctx, "job-1", "owner-2")
	require.NoError(t, err)
	require.False(t, found)

	job, found, err := store.Find(ctx, "job-1", "owner-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "job-1", job.JobID)
}

func TestListFiltersAndPaginates(t *testing.T) {
	store := New(fixedNow)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := store.CreateAtomic(ctx, evalcore.EvaluationJob{
			JobID:     string(rune('a' + i)),
			OwnerID:   "owner-1",
			Status:    evalcore.StatusQueued,
			CreatedAt: fixedNow().Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	page1, err := store.List(ctx, "owner-1", "", evalcore.Page{Page: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1.Jobs, 2)
	require.Equal(t, 5, page1.Total)
	require.Equal(t, 3, page1.TotalPages)
	require.True(t, page1.HasNext)
	require.False(t, page1.HasPrev)
	// Most recently created first.
	require.Equal(t, string(rune('a'+4)), page1.Jobs[0].JobID)

	none, err := store.List(ctx, "owner-other", "", evalcore.Page{})
	require.NoError(t, err)
	require.Empty(t, none.Jobs)
}

func TestCancelNotFoundForWrongOwner(t *testing.T) {
	store := New(fixedNow)
	ctx := context.Background()
	_, err := store.CreateAtomic(ctx, evalcore.EvaluationJob{JobID: "job-1", OwnerID: "owner-1"})
	require.NoError(t, err)

	_, err = store.Cancel(ctx, "job-1", "owner-2")
	require.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"propleads/internal/common"
	"propleads/internal/domain/model"
	"propleads/internal/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() (*BatchJobService, *repository.MemoryBatchJobRepository, *repository.MemoryJobLogRepository) {
	jobRepo := repository.NewMemoryBatchJobRepository()
	logRepo := repository.NewMemoryJobLogRepository()
	return NewBatchJobService(jobRepo, logRepo), jobRepo, logRepo
}

func makeIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("prop-%04d", i)
	}
	return ids
}

func createParentWithChildren(t *testing.T, svc *BatchJobService, idCount, batchSize int) (*model.BatchJob, []*model.BatchJob) {
	t.Helper()
	criteria := &model.JobCriteria{Provider: "pdp", PropertyIDs: makeIDs(idCount)}
	parent, err := svc.CreateParentJob(context.Background(), &model.BatchJob{
		Criteria:  criteria,
		CreatedBy: "op-1",
	})
	require.NoError(t, err)

	children, err := svc.CreateChildJobsFromList(context.Background(), parent.ID, criteria, batchSize, "op-1")
	require.NoError(t, err)
	return parent, children
}

func TestCreateChildJobsFromListPartition(t *testing.T) {
	svc, _, _ := newTestService()
	parent, children := createParentWithChildren(t, svc, 1000, 400)

	require.Len(t, children, 3)

	sizes := []int{400, 400, 200}
	offsets := []int{0, 400, 800}
	seen := map[string]int{}
	for i, child := range children {
		assert.Equal(t, i+1, child.BatchNumber)
		assert.Equal(t, offsets[i], child.BatchOffset)
		assert.Equal(t, sizes[i], child.TotalRecords)
		assert.Equal(t, model.JobStatusPending, child.Status)
		require.NotNil(t, child.ParentID)
		assert.Equal(t, parent.ID, *child.ParentID)
		for _, id := range child.Criteria.PropertyIDs {
			seen[id]++
		}
	}

	// Disjoint slices covering the parent's list exactly once.
	assert.Len(t, seen, 1000)
	for id, count := range seen {
		assert.Equalf(t, 1, count, "id %s assigned to %d children", id, count)
	}
}

func TestCreateChildJobsFromListDefaultBatchSize(t *testing.T) {
	svc, _, _ := newTestService()
	_, children := createParentWithChildren(t, svc, 500, 0)

	require.Len(t, children, 2)
	assert.Equal(t, 400, children[0].TotalRecords)
	assert.Equal(t, 100, children[1].TotalRecords)
}

func TestCreateChildJobsFromListEmptyCriteria(t *testing.T) {
	svc, _, _ := newTestService()
	parent, err := svc.CreateParentJob(context.Background(), &model.BatchJob{
		Criteria:  &model.JobCriteria{Provider: "pdp", PropertyIDs: makeIDs(10)},
		CreatedBy: "op-1",
	})
	require.NoError(t, err)

	_, err = svc.CreateChildJobsFromList(context.Background(), parent.ID, &model.JobCriteria{}, 400, "op-1")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestCreateJobValidation(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.CreateJob(context.Background(), &model.BatchJob{CreatedBy: "op-1"})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = svc.CreateJob(context.Background(), &model.BatchJob{
		Criteria: &model.JobCriteria{PropertyIDs: makeIDs(1)},
	})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestUpdateJobStatusRejectsUnknownStatus(t *testing.T) {
	svc, _, _ := newTestService()
	job, err := svc.CreateJob(context.Background(), &model.BatchJob{
		Criteria:  &model.JobCriteria{Provider: "pdp", PropertyIDs: makeIDs(5)},
		CreatedBy: "op-1",
	})
	require.NoError(t, err)

	_, err = svc.UpdateJobStatus(context.Background(), job.ID, "RUNNING", nil)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestCalculateJobProgress(t *testing.T) {
	svc, _, _ := newTestService()

	cases := []struct {
		name      string
		processed int
		total     int
		want      int
	}{
		{"zero total", 0, 0, 0},
		{"not started", 0, 1000, 0},
		{"floored", 1, 3, 33},
		{"half", 500, 1000, 50},
		{"done", 1000, 1000, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := svc.CalculateJobProgress(&model.BatchJob{Processed: tc.processed, TotalRecords: tc.total})
			assert.Equal(t, tc.want, p.PercentComplete)
		})
	}
}

func TestUpdateParentJobProgressSumsChildren(t *testing.T) {
	svc, _, _ := newTestService()
	parent, children := createParentWithChildren(t, svc, 1000, 400)

	for _, child := range children {
		_, err := svc.UpdateJobProgress(context.Background(), child.ID,
			child.TotalRecords, child.TotalRecords, child.TotalRecords-10, 10)
		require.NoError(t, err)
	}

	updated, err := svc.UpdateParentJobProgress(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1000, updated.Processed)
	assert.Equal(t, 1000, updated.TotalRecords)
	assert.Equal(t, 970, updated.SuccessCount)
	assert.Equal(t, 30, updated.ErrorCount)
}

func TestUpdateParentJobStatusTransitions(t *testing.T) {
	svc, _, _ := newTestService()
	parent, children := createParentWithChildren(t, svc, 1000, 400)

	// All children still pending: no transition.
	updated, err := svc.UpdateParentJobStatus(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Nil(t, updated)

	// First child done: parent moves to PROCESSING.
	_, err = svc.UpdateJobStatus(context.Background(), children[0].ID, model.JobStatusCompleted, nil)
	require.NoError(t, err)
	updated, err = svc.UpdateParentJobStatus(context.Background(), parent.ID)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, model.JobStatusProcessing, updated.Status)

	// Repeating the same aggregation changes nothing.
	updated, err = svc.UpdateParentJobStatus(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Nil(t, updated)
}

func TestParentCompletesDespiteFailedChildren(t *testing.T) {
	svc, _, logRepo := newTestService()
	parent, children := createParentWithChildren(t, svc, 1000, 400)

	_, err := svc.UpdateJobStatus(context.Background(), children[0].ID, model.JobStatusCompleted, nil)
	require.NoError(t, err)
	_, err = svc.UpdateJobStatus(context.Background(), children[1].ID, model.JobStatusCompleted, nil)
	require.NoError(t, err)
	details := "provider returned 503"
	_, err = svc.UpdateJobStatus(context.Background(), children[2].ID, model.JobStatusFailed, &details)
	require.NoError(t, err)

	updated, err := svc.UpdateParentJobStatus(context.Background(), parent.ID)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, model.JobStatusCompleted, updated.Status)

	// The failure stays visible through a WARNING completion log.
	logs, err := logRepo.ListByJob(context.Background(), parent.ID, 0, 0)
	require.NoError(t, err)
	var warned bool
	for _, entry := range logs {
		if entry.Level == model.LogLevelWarning {
			warned = true
		}
	}
	assert.True(t, warned, "expected a WARNING completion log for the failed child")
}

func TestProcessBatchContainsExecutorFailure(t *testing.T) {
	svc, jobRepo, _ := newTestService()
	job, err := svc.CreateJob(context.Background(), &model.BatchJob{
		Criteria:  &model.JobCriteria{Provider: "pdp", PropertyIDs: makeIDs(40)},
		CreatedBy: "op-1",
	})
	require.NoError(t, err)

	boom := errors.New("provider unreachable")
	result, err := svc.ProcessBatch(context.Background(), job, func(ctx context.Context, criteria *model.JobCriteria) (int, int, error) {
		return 0, 0, boom
	})
	require.NoError(t, err, "executor failure must not propagate")
	assert.Equal(t, 40, result.ProcessedCount)
	assert.Equal(t, 0, result.SuccessCount)
	assert.Equal(t, 40, result.ErrorCount)

	stored, err := jobRepo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, stored.Processed)
	assert.Equal(t, 40, stored.ErrorCount)
}

func TestProcessBatchRecordsPartialFailure(t *testing.T) {
	svc, _, _ := newTestService()
	job, err := svc.CreateJob(context.Background(), &model.BatchJob{
		Criteria:  &model.JobCriteria{Provider: "pdp", PropertyIDs: makeIDs(40)},
		CreatedBy: "op-1",
	})
	require.NoError(t, err)

	result, err := svc.ProcessBatch(context.Background(), job, func(ctx context.Context, criteria *model.JobCriteria) (int, int, error) {
		return 37, 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 40, result.ProcessedCount)
	assert.Equal(t, 37, result.SuccessCount)
	assert.Equal(t, 3, result.ErrorCount)
}

func TestAcquireNextJobClaimsExclusively(t *testing.T) {
	svc, _, _ := newTestService()
	_, children := createParentWithChildren(t, svc, 400, 400)
	require.Len(t, children, 1)

	first, err := svc.AcquireNextJob(context.Background(), "worker-a", 10*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, model.JobStatusProcessing, first.Status)
	require.NotNil(t, first.LockedBy)
	assert.Equal(t, "worker-a", *first.LockedBy)
	assert.Equal(t, 1, first.Attempts)

	// The only runnable job is claimed; a second worker gets nothing.
	second, err := svc.AcquireNextJob(context.Background(), "worker-b", 10*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestAcquireNextJobOrdersByPriorityThenAge(t *testing.T) {
	svc, _, _ := newTestService()

	low, err := svc.CreateJob(context.Background(), &model.BatchJob{
		Criteria:  &model.JobCriteria{Provider: "pdp", PropertyIDs: makeIDs(5)},
		CreatedBy: "op-1",
	})
	require.NoError(t, err)
	high, err := svc.CreateJob(context.Background(), &model.BatchJob{
		Criteria:  &model.JobCriteria{Provider: "pdp", PropertyIDs: makeIDs(5)},
		Priority:  10,
		CreatedBy: "op-1",
	})
	require.NoError(t, err)

	claimed, err := svc.AcquireNextJob(context.Background(), "worker-a", 10*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, high.ID, claimed.ID)

	claimed, err = svc.AcquireNextJob(context.Background(), "worker-a", 10*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, low.ID, claimed.ID)
}

func TestRequeueDelaysNextClaim(t *testing.T) {
	svc, _, _ := newTestService()
	job, err := svc.CreateJob(context.Background(), &model.BatchJob{
		Criteria:  &model.JobCriteria{Provider: "pdp", PropertyIDs: makeIDs(5)},
		CreatedBy: "op-1",
	})
	require.NoError(t, err)

	claimed, err := svc.AcquireNextJob(context.Background(), "worker-a", 10*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	details := "boom"
	_, err = svc.UpdateJobStatus(context.Background(), job.ID, model.JobStatusFailed, &details)
	require.NoError(t, err)
	require.NoError(t, svc.ReleaseJob(context.Background(), job.ID))

	future := time.Now().Add(time.Hour)
	require.NoError(t, svc.RequeueJob(context.Background(), job.ID, &future))

	// Not claimable until next_attempt_at passes.
	claimed, err = svc.AcquireNextJob(context.Background(), "worker-a", 10*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, claimed)

	stats, err := svc.QueueStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Delayed)
}

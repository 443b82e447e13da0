package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"propleads/internal/app/service"
	"propleads/internal/domain/model"
	"propleads/internal/domain/repository"
	"propleads/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider serves pages straight from the criteria's id list and can be
// told to fail at a given offset.
type fakeProvider struct {
	failAtOffset int // -1 disables
	fetches      int
}

func (f *fakeProvider) Code() string { return "fake" }

func (f *fakeProvider) FetchPage(ctx context.Context, criteria *model.JobCriteria, pageSize, offset int) (*provider.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.fetches++
	if f.failAtOffset >= 0 && offset >= f.failAtOffset {
		return nil, errors.New("vendor returned 503")
	}
	ids := criteria.PropertyIDs
	if offset >= len(ids) {
		return &provider.Page{}, nil
	}
	end := offset + pageSize
	if end > len(ids) {
		end = len(ids)
	}
	page := &provider.Page{HasMore: end < len(ids)}
	for _, id := range ids[offset:end] {
		page.Records = append(page.Records, &model.Property{ExternalID: id, Provider: "fake"})
	}
	return page, nil
}

func (f *fakeProvider) FetchByID(ctx context.Context, externalID string) (*model.Property, error) {
	return &model.Property{ExternalID: externalID, Provider: "fake"}, nil
}

type workerFixture struct {
	svc      *service.BatchJobService
	jobRepo  *repository.MemoryBatchJobRepository
	props    *repository.MemoryPropertyRepository
	provider *fakeProvider
	worker   *JobQueueWorker
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	jobRepo := repository.NewMemoryBatchJobRepository()
	logRepo := repository.NewMemoryJobLogRepository()
	props := repository.NewMemoryPropertyRepository()
	svc := service.NewBatchJobService(jobRepo, logRepo)

	fake := &fakeProvider{failAtOffset: -1}
	providers := provider.NewRegistry()
	providers.Register(fake)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewJobQueueWorker(svc, providers, props, logger, Options{
		PageDelay:       0,
		DefaultProvider: "fake",
	})
	return &workerFixture{svc: svc, jobRepo: jobRepo, props: props, provider: fake, worker: w}
}

func (f *workerFixture) createChild(t *testing.T, idCount, batchSize int) (*model.BatchJob, *model.BatchJob) {
	t.Helper()
	ids := make([]string, idCount)
	for i := range ids {
		ids[i] = fmt.Sprintf("prop-%03d", i)
	}
	criteria := &model.JobCriteria{Provider: "fake", PropertyIDs: ids}
	parent, err := f.svc.CreateParentJob(context.Background(), &model.BatchJob{Criteria: criteria, CreatedBy: "op-1"})
	require.NoError(t, err)
	children, err := f.svc.CreateChildJobsFromList(context.Background(), parent.ID, criteria, batchSize, "op-1")
	require.NoError(t, err)
	require.Len(t, children, 1)
	return parent, children[0]
}

// runClaimed claims the next job and executes it synchronously.
func (f *workerFixture) runClaimed(t *testing.T) *model.BatchJob {
	t.Helper()
	job, err := f.svc.AcquireNextJob(context.Background(), f.worker.WorkerID(), 10*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	f.worker.wg.Add(1)
	f.worker.run(context.Background(), job)
	return job
}

func TestRunCompletesJobAcrossPages(t *testing.T) {
	f := newWorkerFixture(t)
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = fmt.Sprintf("prop-%03d", i)
	}
	// No per-job batch size, so the worker's page size applies: 4 over 10 ids
	// forces three fetches.
	job, err := f.svc.CreateJob(context.Background(), &model.BatchJob{
		Criteria:  &model.JobCriteria{Provider: "fake", PropertyIDs: ids},
		CreatedBy: "op-1",
	})
	require.NoError(t, err)

	f.worker.opts.PageSize = 4
	claimed := f.runClaimed(t)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, 3, f.provider.fetches)

	stored, err := f.jobRepo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, stored.Status)
	assert.Equal(t, 10, stored.Processed)
	assert.Equal(t, 10, stored.SuccessCount)
	assert.Equal(t, 0, stored.ErrorCount)
	assert.Nil(t, stored.LockedAt, "lock must be released after execution")
	assert.Nil(t, stored.LockedBy)
}

func TestRunAggregatesParentOnCompletion(t *testing.T) {
	f := newWorkerFixture(t)
	parent, child := f.createChild(t, 10, 10)

	claimed := f.runClaimed(t)
	assert.Equal(t, child.ID, claimed.ID)

	// Terminal child pulls the parent along.
	storedParent, err := f.jobRepo.GetByID(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, storedParent.Status)
	assert.Equal(t, 10, storedParent.Processed)
	assert.Equal(t, 10, storedParent.SuccessCount)
}

func TestRunFailsJobOnFetchError(t *testing.T) {
	f := newWorkerFixture(t)
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = fmt.Sprintf("prop-%03d", i)
	}
	job, err := f.svc.CreateJob(context.Background(), &model.BatchJob{
		Criteria:  &model.JobCriteria{Provider: "fake", PropertyIDs: ids},
		CreatedBy: "op-1",
	})
	require.NoError(t, err)

	f.worker.opts.PageSize = 4
	f.provider.failAtOffset = 4 // first page succeeds, second blows up
	f.runClaimed(t)

	stored, err := f.jobRepo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorDetails)
	assert.Contains(t, *stored.ErrorDetails, "vendor returned 503")
	assert.Nil(t, stored.LockedAt)

	// Progress from the successful first page is kept.
	assert.Equal(t, 4, stored.Processed)
	assert.Equal(t, 4, stored.SuccessCount)
}

func TestRunContainsPersistErrors(t *testing.T) {
	f := newWorkerFixture(t)
	_, child := f.createChild(t, 10, 10)

	f.props.FailExternalIDs["prop-002"] = true
	f.props.FailExternalIDs["prop-007"] = true
	f.runClaimed(t)

	// Per-record persistence failures never fail the job.
	stored, err := f.jobRepo.GetByID(context.Background(), child.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, stored.Status)
	assert.Equal(t, 10, stored.Processed)
	assert.Equal(t, 8, stored.SuccessCount)
	assert.Equal(t, 2, stored.ErrorCount)
}

func TestRunFailsJobOnUnknownProvider(t *testing.T) {
	f := newWorkerFixture(t)
	job, err := f.svc.CreateJob(context.Background(), &model.BatchJob{
		Criteria:  &model.JobCriteria{Provider: "nowhere", PropertyIDs: []string{"a"}},
		CreatedBy: "op-1",
	})
	require.NoError(t, err)

	f.runClaimed(t)

	stored, err := f.jobRepo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorDetails)
	assert.Contains(t, *stored.ErrorDetails, "no provider registered")
}

func TestTryClaimRespectsConcurrencyCap(t *testing.T) {
	f := newWorkerFixture(t)
	_, child := f.createChild(t, 4, 4)

	f.worker.mu.Lock()
	f.worker.active = f.worker.opts.MaxConcurrent
	f.worker.mu.Unlock()

	f.worker.tryClaim(context.Background())

	// At capacity nothing may be claimed.
	stored, err := f.jobRepo.GetByID(context.Background(), child.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, stored.Status)
	assert.Nil(t, stored.LockedBy)
}

func TestAddJobUpsertsAndRequeues(t *testing.T) {
	f := newWorkerFixture(t)

	job, err := f.worker.AddJob(context.Background(), AddJobParams{
		Criteria:  &model.JobCriteria{Provider: "fake", PropertyIDs: []string{"a", "b"}},
		CreatedBy: "op-1",
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, 3, job.Priority)
	assert.Equal(t, 2, job.TotalRecords)

	// Re-adding the same id resets it to PENDING.
	details := "boom"
	_, err = f.svc.UpdateJobStatus(context.Background(), job.ID, model.JobStatusFailed, &details)
	require.NoError(t, err)

	again, err := f.worker.AddJob(context.Background(), AddJobParams{
		JobID:     job.ID,
		Criteria:  job.Criteria,
		CreatedBy: "op-1",
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, model.JobStatusPending, again.Status)
}

func TestScheduleRetryDelaysJob(t *testing.T) {
	f := newWorkerFixture(t)
	_, child := f.createChild(t, 4, 4)

	details := "boom"
	_, err := f.svc.UpdateJobStatus(context.Background(), child.ID, model.JobStatusFailed, &details)
	require.NoError(t, err)

	require.NoError(t, f.worker.ScheduleRetry(context.Background(), child.ID, time.Hour))

	stored, err := f.jobRepo.GetByID(context.Background(), child.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, stored.Status)
	require.NotNil(t, stored.NextAttemptAt)
	assert.True(t, stored.NextAttemptAt.After(time.Now()))

	// The delayed job is invisible to the claim query.
	job, err := f.svc.AcquireNextJob(context.Background(), "worker-x", 10*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)

	stats, err := f.worker.GetQueueStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Delayed)
}

// ctxCheckedJobRepo rejects writes on a canceled context, the way a real
// database/sql store does.
type ctxCheckedJobRepo struct {
	*repository.MemoryBatchJobRepository
}

func (r *ctxCheckedJobRepo) UpdateStatus(ctx context.Context, id int64, status string, errorDetails *string) (*model.BatchJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.MemoryBatchJobRepository.UpdateStatus(ctx, id, status, errorDetails)
}

func (r *ctxCheckedJobRepo) UpdateProgress(ctx context.Context, id int64, processed, total, success, errs int) (*model.BatchJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.MemoryBatchJobRepository.UpdateProgress(ctx, id, processed, total, success, errs)
}

func TestShutdownMidJobLeavesJobRetryable(t *testing.T) {
	jobRepo := &ctxCheckedJobRepo{repository.NewMemoryBatchJobRepository()}
	logRepo := repository.NewMemoryJobLogRepository()
	props := repository.NewMemoryPropertyRepository()
	svc := service.NewBatchJobService(jobRepo, logRepo)

	fake := &fakeProvider{failAtOffset: -1}
	providers := provider.NewRegistry()
	providers.Register(fake)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewJobQueueWorker(svc, providers, props, logger, Options{DefaultProvider: "fake"})

	job, err := svc.CreateJob(context.Background(), &model.BatchJob{
		Criteria:  &model.JobCriteria{Provider: "fake", PropertyIDs: []string{"a", "b"}},
		CreatedBy: "op-1",
	})
	require.NoError(t, err)

	claimed, err := svc.AcquireNextJob(context.Background(), w.WorkerID(), 10*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Shutdown cancels the worker context while the job is in flight.
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	w.wg.Add(1)
	w.run(canceled, claimed)

	// The terminal write must land even though the worker context is dead:
	// FAILED with the lock cleared, never PROCESSING with no lock.
	stored, err := jobRepo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorDetails)
	assert.Contains(t, *stored.ErrorDetails, context.Canceled.Error())
	assert.Nil(t, stored.LockedAt)
	assert.Nil(t, stored.LockedBy)

	// Being FAILED, the job is reachable through the retry path.
	require.NoError(t, w.ScheduleRetry(context.Background(), job.ID, 0))
	next, err := svc.AcquireNextJob(context.Background(), "worker-next", 10*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, job.ID, next.ID)
}

func TestStaleLockIsReclaimed(t *testing.T) {
	f := newWorkerFixture(t)
	_, child := f.createChild(t, 4, 4)

	// First worker claims and then "dies" without releasing.
	claimed, err := f.svc.AcquireNextJob(context.Background(), "worker-dead", 10*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Nobody else can touch it while the lock is fresh.
	job, err := f.svc.AcquireNextJob(context.Background(), "worker-live", 10*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)

	// Age the clock past the staleness window.
	f.jobRepo.SetClock(func() time.Time { return time.Now().Add(11 * time.Minute) })

	job, err = f.svc.AcquireNextJob(context.Background(), "worker-live", 10*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, child.ID, job.ID)
	require.NotNil(t, job.LockedBy)
	assert.Equal(t, "worker-live", *job.LockedBy)
	assert.Equal(t, 2, job.Attempts)
}

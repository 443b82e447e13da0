package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"propleads/internal/app/service"
	"propleads/internal/domain/model"
	"propleads/internal/domain/repository"
	"propleads/internal/platform/observability"
	"propleads/internal/provider"

	"github.com/google/uuid"
)

// Options tune one worker process. Zero values fall back to the defaults the
// back office runs with in production.
type Options struct {
	PollInterval    time.Duration // how often the loop looks for work (default 5s)
	MaxConcurrent   int           // in-process cap on simultaneously executing jobs (default 5)
	Staleness       time.Duration // lock age after which a claim counts as abandoned (default 10m)
	PageSize        int           // provider fetch page size when the job doesn't carry one (default 400)
	PageDelay       time.Duration // pause between provider pages, for rate limits; zero disables
	DefaultProvider string        // provider code used when criteria doesn't name one
}

func (o *Options) fillDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 5
	}
	if o.Staleness <= 0 {
		o.Staleness = 10 * time.Minute
	}
	if o.PageSize <= 0 {
		o.PageSize = service.DefaultBatchSize
	}
	if o.DefaultProvider == "" {
		o.DefaultProvider = "pdp"
	}
}

// JobQueueWorker turns PENDING batch jobs into COMPLETED/FAILED ones. One
// polling loop per process; the concurrency cap is in-process only, so global
// concurrency is the sum across worker processes. Note that reclaiming a
// stale lock does not verify the original worker is dead: if a hung provider
// call eventually returns, the original and the reclaimer may both write
// results. Progress writes are cumulative overwrites and the job log records
// both attempts.
type JobQueueWorker struct {
	jobs      *service.BatchJobService
	providers *provider.Registry
	props     repository.PropertyRepository
	logger    *slog.Logger
	opts      Options

	workerID string

	mu       sync.Mutex
	active   int
	claiming bool
	wg       sync.WaitGroup
}

func NewJobQueueWorker(jobs *service.BatchJobService, providers *provider.Registry, props repository.PropertyRepository, logger *slog.Logger, opts Options) *JobQueueWorker {
	opts.fillDefaults()
	return &JobQueueWorker{
		jobs:      jobs,
		providers: providers,
		props:     props,
		logger:    logger,
		opts:      opts,
		workerID:  "worker-" + uuid.NewString(),
	}
}

// WorkerID identifies this process in locked_by.
func (w *JobQueueWorker) WorkerID() string { return w.workerID }

// Start runs the polling loop until ctx is canceled, then waits for any
// in-flight jobs to finish.
func (w *JobQueueWorker) Start(ctx context.Context) {
	w.logger.Info("job queue worker started",
		"worker_id", w.workerID,
		"poll_interval", w.opts.PollInterval.String(),
		"max_concurrent", w.opts.MaxConcurrent)

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("job queue worker stopping, waiting for active jobs", "active", w.ActiveCount())
			w.wg.Wait()
			w.logger.Info("job queue worker stopped")
			return
		case <-ticker.C:
			w.tryClaim(ctx)
		}
	}
}

// tryClaim attempts to claim exactly one job, and only when there is free
// capacity and no other claim attempt is in flight.
func (w *JobQueueWorker) tryClaim(ctx context.Context) {
	w.mu.Lock()
	if w.active >= w.opts.MaxConcurrent || w.claiming {
		w.mu.Unlock()
		return
	}
	w.claiming = true
	w.mu.Unlock()

	job, err := w.jobs.AcquireNextJob(ctx, w.workerID, w.opts.Staleness)

	w.mu.Lock()
	w.claiming = false
	if err != nil || job == nil {
		w.mu.Unlock()
		if err != nil {
			w.logger.Error("failed to claim job", "error", err)
		}
		return
	}
	w.active++
	w.mu.Unlock()

	observability.JobsClaimed.Inc()
	observability.ActiveJobs.Inc()
	w.logger.Info("job claimed", "job_id", job.ID, "attempt", job.Attempts, "priority", job.Priority)

	w.wg.Add(1)
	go w.run(ctx, job)
}

// run executes one claimed job and guarantees release: whatever the outcome,
// the lock is cleared and the active counter drops. Release uses a background
// context so shutdown can't strand a lock.
func (w *JobQueueWorker) run(ctx context.Context, job *model.BatchJob) {
	start := time.Now()
	defer func() {
		if err := w.jobs.ReleaseJob(context.Background(), job.ID); err != nil {
			w.logger.Error("failed to release job lock", "job_id", job.ID, "error", err)
		}
		w.mu.Lock()
		w.active--
		w.mu.Unlock()
		observability.ActiveJobs.Dec()
		observability.JobDuration.Observe(time.Since(start).Seconds())
		w.wg.Done()
	}()

	execErr := w.processJob(ctx, job)

	// Terminal writes and parent aggregation run on a background context:
	// a canceled worker context must not leave the job in PROCESSING with
	// its lock already cleared, which no claim or retry path can reach.
	done := context.Background()
	if execErr != nil {
		msg := execErr.Error()
		if _, err := w.jobs.UpdateJobStatus(done, job.ID, model.JobStatusFailed, &msg); err != nil {
			w.logger.Error("failed to mark job failed", "job_id", job.ID, "error", err)
		}
		observability.JobsProcessed.WithLabelValues("failed").Inc()
		w.logger.Error("job failed", "job_id", job.ID, "error", execErr, "duration", time.Since(start).String())
	} else {
		if _, err := w.jobs.UpdateJobStatus(done, job.ID, model.JobStatusCompleted, nil); err != nil {
			w.logger.Error("failed to mark job completed", "job_id", job.ID, "error", err)
		}
		observability.JobsProcessed.WithLabelValues("completed").Inc()
		w.logger.Info("job completed", "job_id", job.ID, "duration", time.Since(start).String())
	}

	if job.ParentID != nil {
		w.aggregateParent(done, *job.ParentID)
	}
}

// aggregateParent refreshes the parent's derived counters and status after a
// child reaches a terminal state.
func (w *JobQueueWorker) aggregateParent(ctx context.Context, parentID int64) {
	if _, err := w.jobs.UpdateParentJobProgress(ctx, parentID); err != nil {
		w.logger.Error("failed to update parent progress", "parent_id", parentID, "error", err)
	}
	if _, err := w.jobs.UpdateParentJobStatus(ctx, parentID); err != nil {
		w.logger.Error("failed to update parent status", "parent_id", parentID, "error", err)
	}
}

// processJob pages through the provider for the job's criteria: fetch a page,
// persist it, fold the counts into cumulative progress, pause, repeat while
// the provider reports more. Persistence failures are contained per page; a
// fetch failure propagates and fails the whole job.
func (w *JobQueueWorker) processJob(ctx context.Context, job *model.BatchJob) error {
	if job.Criteria == nil {
		return fmt.Errorf("job %d has no criteria", job.ID)
	}

	code := job.Criteria.Provider
	if code == "" {
		code = w.opts.DefaultProvider
	}
	prov, err := w.providers.Get(code)
	if err != nil {
		return err
	}

	pageSize := job.BatchSize
	if pageSize <= 0 {
		pageSize = w.opts.PageSize
	}

	total := job.TotalRecords
	processed, successTotal, errorTotal := 0, 0, 0
	offset := 0

	for {
		page, err := prov.FetchPage(ctx, job.Criteria, pageSize, offset)
		if err != nil {
			return fmt.Errorf("fetch page at offset %d: %w", offset, err)
		}
		observability.PagesFetched.Inc()

		saved, failed := w.props.SaveBatch(ctx, page.Records)
		if failed > 0 {
			w.logPage(ctx, job.ID, model.LogLevelError,
				fmt.Sprintf("Page at offset %d: %d of %d records failed to save", offset, failed, len(page.Records)))
		}

		processed += len(page.Records)
		successTotal += saved
		errorTotal += failed
		if processed > total {
			total = processed
		}
		if _, err := w.jobs.UpdateJobProgress(ctx, job.ID, processed, total, successTotal, errorTotal); err != nil {
			w.logger.Error("failed to update job progress", "job_id", job.ID, "error", err)
		}

		if !page.HasMore {
			break
		}
		offset += pageSize

		// Pace requests against the provider's rate limit.
		if w.opts.PageDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.opts.PageDelay):
			}
		}
	}

	w.logPage(ctx, job.ID, model.LogLevelInfo,
		fmt.Sprintf("Job finished: %d records processed, %d saved, %d errors", processed, successTotal, errorTotal))
	return nil
}

func (w *JobQueueWorker) logPage(ctx context.Context, jobID int64, level, message string) {
	if _, err := w.jobs.AddJobLog(ctx, &model.JobLog{JobID: jobID, Level: level, Message: message}); err != nil {
		w.logger.Error("failed to append job log", "job_id", jobID, "error", err)
	}
}

// AddJobParams hands a newly created (or re-run) job to the queue.
type AddJobParams struct {
	JobID     int64
	Criteria  *model.JobCriteria
	BatchSize int
	CreatedBy string
}

// AddJob is an idempotent upsert: an existing job id is reset to PENDING,
// a new one is created. HTTP handlers call this after building a job so the
// polling loop picks it up.
func (w *JobQueueWorker) AddJob(ctx context.Context, params AddJobParams, priority int) (*model.BatchJob, error) {
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = w.opts.PageSize
	}
	job := &model.BatchJob{
		ID:        params.JobID,
		Criteria:  params.Criteria,
		BatchSize: batchSize,
		Priority:  priority,
		CreatedBy: params.CreatedBy,
	}
	return w.jobs.UpsertJob(ctx, job)
}

// ScheduleRetry puts a job back in the queue after a delay. Retries are never
// automatic; this is the explicit recovery path for failed jobs.
func (w *JobQueueWorker) ScheduleRetry(ctx context.Context, jobID int64, delay time.Duration) error {
	next := time.Now().Add(delay)
	if err := w.jobs.RequeueJob(ctx, jobID, &next); err != nil {
		return err
	}
	w.logPage(ctx, jobID, model.LogLevelInfo,
		fmt.Sprintf("Retry scheduled, next attempt no earlier than %s", next.UTC().Format(time.RFC3339)))
	return nil
}

// GetQueueStats aggregates job counts by state in one store query.
func (w *JobQueueWorker) GetQueueStats(ctx context.Context) (*model.QueueStats, error) {
	return w.jobs.QueueStats(ctx)
}

// ActiveCount reports jobs currently executing in this process.
func (w *JobQueueWorker) ActiveCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

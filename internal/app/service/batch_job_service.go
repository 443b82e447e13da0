package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"propleads/internal/common"
	"propleads/internal/domain/model"
	"propleads/internal/domain/repository"
)

// DefaultBatchSize keeps one child job's id list under the external
// provider's safe per-call payload size.
const DefaultBatchSize = 400

// BatchExecutor performs the external fetch-and-save work for one batch of
// property ids. Implementations report partial failure via the counts; a
// returned error means the batch produced nothing usable.
type BatchExecutor func(ctx context.Context, criteria *model.JobCriteria) (successCount, errorCount int, err error)

type BatchJobService struct {
	jobRepo repository.BatchJobRepository
	logRepo repository.JobLogRepository
}

func NewBatchJobService(jobRepo repository.BatchJobRepository, logRepo repository.JobLogRepository) *BatchJobService {
	return &BatchJobService{jobRepo: jobRepo, logRepo: logRepo}
}

func (s *BatchJobService) validateNewJob(job *model.BatchJob) error {
	if job.Criteria == nil {
		return fmt.Errorf("criteria is required: %w", common.ErrValidation)
	}
	if job.CreatedBy == "" {
		return fmt.Errorf("created_by is required: %w", common.ErrValidation)
	}
	return nil
}

// CreateJob persists a standalone or child-capable job in PENDING status.
func (s *BatchJobService) CreateJob(ctx context.Context, job *model.BatchJob) (*model.BatchJob, error) {
	if err := s.validateNewJob(job); err != nil {
		return nil, err
	}
	job.Status = model.JobStatusPending
	if job.TotalRecords == 0 {
		job.TotalRecords = len(job.Criteria.PropertyIDs)
	}
	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, common.Errorf("failed to create job: %w", err)
	}
	s.addLog(ctx, job.ID, model.LogLevelInfo,
		fmt.Sprintf("Job created with %d records by %s", job.TotalRecords, job.CreatedBy))
	return job, nil
}

// CreateParentJob persists an aggregate job covering the full id list. The
// worker never claims parent jobs; their state is derived from children.
func (s *BatchJobService) CreateParentJob(ctx context.Context, job *model.BatchJob) (*model.BatchJob, error) {
	if err := s.validateNewJob(job); err != nil {
		return nil, err
	}
	job.IsParent = true
	job.Status = model.JobStatusPending
	job.TotalRecords = len(job.Criteria.PropertyIDs)
	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, common.Errorf("failed to create parent job: %w", err)
	}
	s.addLog(ctx, job.ID, model.LogLevelInfo,
		fmt.Sprintf("Parent job created covering %d records by %s", job.TotalRecords, job.CreatedBy))
	return job, nil
}

// CreateChildJobsFromList partitions the criteria's id list into consecutive
// slices of at most batchSize and creates one child job per slice, batch
// numbers 1-based and contiguous. The slices are disjoint and cover the
// parent's list exactly once.
func (s *BatchJobService) CreateChildJobsFromList(ctx context.Context, parentID int64, criteria *model.JobCriteria, batchSize int, createdBy string) ([]*model.BatchJob, error) {
	parent, err := s.jobRepo.GetByID(ctx, parentID)
	if err != nil {
		return nil, common.Errorf("failed to load parent job %d: %w", parentID, err)
	}
	if criteria == nil || len(criteria.PropertyIDs) == 0 {
		return nil, fmt.Errorf("criteria must carry a non-empty property id list: %w", common.ErrValidation)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	ids := criteria.PropertyIDs
	children := []*model.BatchJob{}
	for offset := 0; offset < len(ids); offset += batchSize {
		end := offset + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		slice := ids[offset:end]

		child := &model.BatchJob{
			Status: model.JobStatusPending,
			Criteria: &model.JobCriteria{
				Provider:    criteria.Provider,
				PropertyIDs: slice,
				Extra:       criteria.Extra,
			},
			ParentID:     &parent.ID,
			BatchNumber:  len(children) + 1,
			BatchOffset:  offset,
			BatchSize:    len(slice),
			TotalRecords: len(slice),
			Priority:     parent.Priority,
			CreatedBy:    createdBy,
		}
		if err := s.jobRepo.Create(ctx, child); err != nil {
			return children, common.Errorf("failed to create child job %d of parent %d: %w", child.BatchNumber, parentID, err)
		}
		children = append(children, child)
		s.addLog(ctx, parent.ID, model.LogLevelInfo,
			fmt.Sprintf("Created child job %d (batch %d, offset %d, %d records)",
				child.ID, child.BatchNumber, child.BatchOffset, child.TotalRecords))
	}

	s.addLog(ctx, parent.ID, model.LogLevelInfo,
		fmt.Sprintf("Split %d records into %d child jobs (batch size %d)", len(ids), len(children), batchSize))
	return children, nil
}

func (s *BatchJobService) GetJobByID(ctx context.Context, id int64) (*model.BatchJob, error) {
	return s.jobRepo.GetByID(ctx, id)
}

// GetJobs lists jobs, excluding children by default so operators see only
// top-level work items.
func (s *BatchJobService) GetJobs(ctx context.Context, status string, limit, offset int, includeChildJobs bool) ([]*model.BatchJob, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.jobRepo.List(ctx, status, limit, offset, includeChildJobs)
}

func (s *BatchJobService) GetChildJobs(ctx context.Context, parentID int64) ([]*model.BatchJob, error) {
	return s.jobRepo.ListChildren(ctx, parentID)
}

// UpdateJobStatus applies a pure state transition; errorDetails is attached
// only when transitioning to FAILED.
func (s *BatchJobService) UpdateJobStatus(ctx context.Context, id int64, status string, errorDetails *string) (*model.BatchJob, error) {
	switch status {
	case model.JobStatusPending, model.JobStatusProcessing, model.JobStatusCompleted, model.JobStatusFailed:
	default:
		return nil, fmt.Errorf("unknown job status %q: %w", status, common.ErrValidation)
	}
	if status != model.JobStatusFailed {
		errorDetails = nil
	}
	job, err := s.jobRepo.UpdateStatus(ctx, id, status, errorDetails)
	if err != nil {
		return nil, common.Errorf("failed to update status of job %d: %w", id, err)
	}

	level := model.LogLevelInfo
	message := fmt.Sprintf("Status changed to %s", status)
	if status == model.JobStatusFailed {
		level = model.LogLevelError
		if errorDetails != nil {
			message = fmt.Sprintf("Status changed to %s: %s", status, *errorDetails)
		}
	}
	s.addLog(ctx, id, level, message)
	return job, nil
}

// UpdateJobProgress overwrites the progress counters atomically. Callers pass
// cumulative values, never deltas.
func (s *BatchJobService) UpdateJobProgress(ctx context.Context, id int64, processed, total, success, errs int) (*model.BatchJob, error) {
	job, err := s.jobRepo.UpdateProgress(ctx, id, processed, total, success, errs)
	if err != nil {
		return nil, common.Errorf("failed to update progress of job %d: %w", id, err)
	}
	return job, nil
}

// UpdateParentJobProgress recomputes a parent's counters as the sum across
// all of its children. Idempotent: no child changes, no result changes.
func (s *BatchJobService) UpdateParentJobProgress(ctx context.Context, parentID int64) (*model.BatchJob, error) {
	children, err := s.jobRepo.ListChildren(ctx, parentID)
	if err != nil {
		return nil, common.Errorf("failed to list children of job %d: %w", parentID, err)
	}

	processed, total, success, errs := 0, 0, 0, 0
	for _, child := range children {
		processed += child.Processed
		total += child.TotalRecords
		success += child.SuccessCount
		errs += child.ErrorCount
	}
	job, err := s.jobRepo.UpdateProgress(ctx, parentID, processed, total, success, errs)
	if err != nil {
		return nil, common.Errorf("failed to update parent job %d progress: %w", parentID, err)
	}
	return job, nil
}

// UpdateParentJobStatus inspects per-status counts across children and moves
// the parent through PENDING -> PROCESSING -> terminal. The parent completes
// once no child is pending or processing, even when some children failed;
// failures stay visible through the aggregated error count and a WARNING
// completion log, not through the parent status. Returns nil when no status
// change was warranted.
func (s *BatchJobService) UpdateParentJobStatus(ctx context.Context, parentID int64) (*model.BatchJob, error) {
	parent, err := s.jobRepo.GetByID(ctx, parentID)
	if err != nil {
		return nil, common.Errorf("failed to load parent job %d: %w", parentID, err)
	}
	children, err := s.jobRepo.ListChildren(ctx, parentID)
	if err != nil {
		return nil, common.Errorf("failed to list children of job %d: %w", parentID, err)
	}
	if len(children) == 0 {
		return nil, nil
	}

	pending, processing, completed, failed := 0, 0, 0, 0
	for _, child := range children {
		switch child.Status {
		case model.JobStatusPending:
			pending++
		case model.JobStatusProcessing:
			processing++
		case model.JobStatusCompleted:
			completed++
		case model.JobStatusFailed:
			failed++
		}
	}
	s.addLog(ctx, parentID, model.LogLevelInfo,
		fmt.Sprintf("Child status counts: %d pending, %d processing, %d completed, %d failed",
			pending, processing, completed, failed))

	newStatus := ""
	if pending+processing > 0 {
		if parent.Status == model.JobStatusPending && pending < len(children) {
			newStatus = model.JobStatusProcessing
		}
	} else {
		newStatus = model.JobStatusCompleted
	}

	if newStatus == "" || newStatus == parent.Status {
		return nil, nil
	}

	parent, err = s.jobRepo.UpdateStatus(ctx, parentID, newStatus, nil)
	if err != nil {
		return nil, common.Errorf("failed to update parent job %d status: %w", parentID, err)
	}

	if newStatus == model.JobStatusCompleted {
		level := model.LogLevelInfo
		if failed > 0 {
			level = model.LogLevelWarning
		}
		s.addLog(ctx, parentID, level,
			fmt.Sprintf("Parent job completed: %d child jobs succeeded, %d failed", completed, failed))
	} else {
		s.addLog(ctx, parentID, model.LogLevelInfo,
			fmt.Sprintf("Parent status changed to %s", newStatus))
	}
	return parent, nil
}

func (s *BatchJobService) AddJobLog(ctx context.Context, entry *model.JobLog) (*model.JobLog, error) {
	if err := s.logRepo.Append(ctx, entry); err != nil {
		return nil, common.Errorf("failed to append job log: %w", err)
	}
	return entry, nil
}

func (s *BatchJobService) GetJobLogs(ctx context.Context, jobID int64, limit, offset int) ([]*model.JobLog, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.logRepo.ListByJob(ctx, jobID, limit, offset)
}

// CalculateJobProgress derives a progress snapshot; percent is floored and
// defined as 0 when the job has no records at all.
func (s *BatchJobService) CalculateJobProgress(job *model.BatchJob) *model.JobProgress {
	progress := &model.JobProgress{
		Processed: job.Processed,
		Total:     job.TotalRecords,
		Success:   job.SuccessCount,
		Errors:    job.ErrorCount,
	}
	if job.TotalRecords > 0 {
		progress.PercentComplete = job.Processed * 100 / job.TotalRecords
	}
	return progress
}

// GetNextPendingJob peeks at the head of the queue without claiming it.
func (s *BatchJobService) GetNextPendingJob(ctx context.Context) (*model.BatchJob, error) {
	return s.jobRepo.FindNextPending(ctx)
}

func (s *BatchJobService) IncrementJobAttempt(ctx context.Context, id int64) (*model.BatchJob, error) {
	return s.jobRepo.IncrementAttempts(ctx, id)
}

// AcquireNextJob is the worker's claim path: one atomic conditional update,
// so concurrent workers never claim the same job. Returns nil when nothing is
// runnable.
func (s *BatchJobService) AcquireNextJob(ctx context.Context, workerID string, staleness time.Duration) (*model.BatchJob, error) {
	return s.jobRepo.ClaimNextPending(ctx, workerID, staleness)
}

// ReleaseJob clears the claim metadata once execution finishes, whatever the
// outcome, so a terminal job is never mistaken for an active claim.
func (s *BatchJobService) ReleaseJob(ctx context.Context, id int64) error {
	return s.jobRepo.ClearLock(ctx, id)
}

// RequeueJob resets a job to PENDING; a non-nil nextAttemptAt delays the next
// claim until that time.
func (s *BatchJobService) RequeueJob(ctx context.Context, id int64, nextAttemptAt *time.Time) error {
	return s.jobRepo.Requeue(ctx, id, nextAttemptAt)
}

func (s *BatchJobService) QueueStats(ctx context.Context) (*model.QueueStats, error) {
	return s.jobRepo.QueueStats(ctx)
}

// UpsertJob backs the worker's AddJob hand-off: an existing job is reset to
// PENDING, a missing one is created.
func (s *BatchJobService) UpsertJob(ctx context.Context, job *model.BatchJob) (*model.BatchJob, error) {
	if err := s.validateNewJob(job); err != nil {
		return nil, err
	}
	if job.TotalRecords == 0 {
		job.TotalRecords = len(job.Criteria.PropertyIDs)
	}
	return s.jobRepo.Upsert(ctx, job)
}

// ProcessBatch executes one child job's work through the injected executor
// and records the outcome. Executor failure does not propagate: the whole
// batch is counted as errors (no partial credit within a batch) and the
// returned result describes the total failure so the caller can continue.
func (s *BatchJobService) ProcessBatch(ctx context.Context, job *model.BatchJob, executor BatchExecutor) (*model.BatchResult, error) {
	if job.Criteria == nil {
		return nil, fmt.Errorf("job %d has no criteria: %w", job.ID, common.ErrValidation)
	}
	total := len(job.Criteria.PropertyIDs)

	success, errCount, err := executor(ctx, job.Criteria)
	if err != nil {
		s.addLog(ctx, job.ID, model.LogLevelError,
			fmt.Sprintf("Batch execution failed, counting all %d records as errors: %v", total, err))
		result := &model.BatchResult{ProcessedCount: total, SuccessCount: 0, ErrorCount: total}
		if _, uerr := s.UpdateJobProgress(ctx, job.ID, total, total, 0, total); uerr != nil {
			slog.Error("failed to record batch failure", "job_id", job.ID, "error", uerr)
		}
		return result, nil
	}

	processed := success + errCount
	if processed > total {
		total = processed
	}
	if _, uerr := s.UpdateJobProgress(ctx, job.ID, processed, total, success, errCount); uerr != nil {
		return nil, uerr
	}
	s.addLog(ctx, job.ID, model.LogLevelInfo,
		fmt.Sprintf("Batch processed: %d records, %d saved, %d errors", processed, success, errCount))
	return &model.BatchResult{ProcessedCount: processed, SuccessCount: success, ErrorCount: errCount}, nil
}

// addLog records an audit line; a failed log write is reported but never
// fails the operation that triggered it.
func (s *BatchJobService) addLog(ctx context.Context, jobID int64, level, message string) {
	entry := &model.JobLog{JobID: jobID, Level: level, Message: message}
	if err := s.logRepo.Append(ctx, entry); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("failed to append job log", "job_id", jobID, "error", err)
	}
}

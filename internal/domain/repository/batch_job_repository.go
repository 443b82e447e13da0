package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"propleads/internal/common"
	"propleads/internal/domain/model"
)

// BatchJobRepository is the job store. ClaimNextPending is the one operation
// that needs cross-process mutual exclusion; everything else is plain CRUD.
type BatchJobRepository interface {
	Create(ctx context.Context, job *model.BatchJob) error
	GetByID(ctx context.Context, id int64) (*model.BatchJob, error)
	List(ctx context.Context, status string, limit, offset int, includeChildren bool) ([]*model.BatchJob, error)
	ListChildren(ctx context.Context, parentID int64) ([]*model.BatchJob, error)
	UpdateStatus(ctx context.Context, id int64, status string, errorDetails *string) (*model.BatchJob, error)
	UpdateProgress(ctx context.Context, id int64, processed, total, success, errs int) (*model.BatchJob, error)
	IncrementAttempts(ctx context.Context, id int64) (*model.BatchJob, error)
	FindNextPending(ctx context.Context) (*model.BatchJob, error)
	ClaimNextPending(ctx context.Context, workerID string, staleness time.Duration) (*model.BatchJob, error)
	ClearLock(ctx context.Context, id int64) error
	Requeue(ctx context.Context, id int64, nextAttemptAt *time.Time) error
	Upsert(ctx context.Context, job *model.BatchJob) (*model.BatchJob, error)
	QueueStats(ctx context.Context) (*model.QueueStats, error)
}

const jobColumns = `id, status, criteria, is_parent, parent_id, batch_number, batch_offset, batch_size,
	total_records, processed_records, success_count, error_count, priority, attempts, error_details,
	locked_at, locked_by, next_attempt_at, created_by, created_at, updated_at`

type pgBatchJobRepository struct {
	db *sql.DB
}

func NewPgBatchJobRepository(db *sql.DB) BatchJobRepository {
	return &pgBatchJobRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.BatchJob, error) {
	job := &model.BatchJob{}
	var criteriaRaw []byte
	var parentID sql.NullInt64
	var errorDetails, lockedBy sql.NullString
	var lockedAt, nextAttemptAt sql.NullTime

	err := row.Scan(
		&job.ID, &job.Status, &criteriaRaw, &job.IsParent, &parentID,
		&job.BatchNumber, &job.BatchOffset, &job.BatchSize,
		&job.TotalRecords, &job.Processed, &job.SuccessCount, &job.ErrorCount,
		&job.Priority, &job.Attempts, &errorDetails,
		&lockedAt, &lockedBy, &nextAttemptAt,
		&job.CreatedBy, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(criteriaRaw) > 0 {
		criteria := &model.JobCriteria{}
		if err := json.Unmarshal(criteriaRaw, criteria); err != nil {
			return nil, fmt.Errorf("scanJob: bad criteria payload for job %d: %w", job.ID, err)
		}
		job.Criteria = criteria
	}
	if parentID.Valid {
		v := parentID.Int64
		job.ParentID = &v
	}
	if errorDetails.Valid {
		v := errorDetails.String
		job.ErrorDetails = &v
	}
	if lockedBy.Valid {
		v := lockedBy.String
		job.LockedBy = &v
	}
	if lockedAt.Valid {
		t := lockedAt.Time
		job.LockedAt = &t
	}
	if nextAttemptAt.Valid {
		t := nextAttemptAt.Time
		job.NextAttemptAt = &t
	}
	return job, nil
}

func (r *pgBatchJobRepository) Create(ctx context.Context, job *model.BatchJob) error {
	criteriaRaw, err := json.Marshal(job.Criteria)
	if err != nil {
		return fmt.Errorf("pgBatchJobRepository.Create: marshal criteria: %w", err)
	}
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}

	query := `INSERT INTO batch_jobs
		(status, criteria, is_parent, parent_id, batch_number, batch_offset, batch_size,
		 total_records, priority, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query,
		job.Status, criteriaRaw, job.IsParent, job.ParentID,
		job.BatchNumber, job.BatchOffset, job.BatchSize,
		job.TotalRecords, job.Priority, job.CreatedBy,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pgBatchJobRepository.Create: %w", err)
	}
	return nil
}

func (r *pgBatchJobRepository) GetByID(ctx context.Context, id int64) (*model.BatchJob, error) {
	query := `SELECT ` + jobColumns + ` FROM batch_jobs WHERE id = $1`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgBatchJobRepository.GetByID: %w", err)
	}
	return job, nil
}

func (r *pgBatchJobRepository) List(ctx context.Context, status string, limit, offset int, includeChildren bool) ([]*model.BatchJob, error) {
	query := `SELECT ` + jobColumns + ` FROM batch_jobs
		WHERE ($1 = '' OR status = $1)
		  AND ($2 OR parent_id IS NULL)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`
	rows, err := r.db.QueryContext(ctx, query, status, includeChildren, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("pgBatchJobRepository.List: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (r *pgBatchJobRepository) ListChildren(ctx context.Context, parentID int64) ([]*model.BatchJob, error) {
	query := `SELECT ` + jobColumns + ` FROM batch_jobs WHERE parent_id = $1 ORDER BY batch_number ASC`
	rows, err := r.db.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("pgBatchJobRepository.ListChildren: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows *sql.Rows) ([]*model.BatchJob, error) {
	jobs := []*model.BatchJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *pgBatchJobRepository) UpdateStatus(ctx context.Context, id int64, status string, errorDetails *string) (*model.BatchJob, error) {
	query := `UPDATE batch_jobs
		SET status = $2, error_details = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + jobColumns
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id, status, errorDetails))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgBatchJobRepository.UpdateStatus: %w", err)
	}
	return job, nil
}

func (r *pgBatchJobRepository) UpdateProgress(ctx context.Context, id int64, processed, total, success, errs int) (*model.BatchJob, error) {
	query := `UPDATE batch_jobs
		SET processed_records = $2, total_records = $3, success_count = $4, error_count = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + jobColumns
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id, processed, total, success, errs))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgBatchJobRepository.UpdateProgress: %w", err)
	}
	return job, nil
}

func (r *pgBatchJobRepository) IncrementAttempts(ctx context.Context, id int64) (*model.BatchJob, error) {
	query := `UPDATE batch_jobs SET attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 RETURNING ` + jobColumns
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgBatchJobRepository.IncrementAttempts: %w", err)
	}
	return job, nil
}

// FindNextPending peeks at the job the claim query would pick, without
// claiming it. Inspection only; the worker claims through ClaimNextPending.
func (r *pgBatchJobRepository) FindNextPending(ctx context.Context) (*model.BatchJob, error) {
	query := `SELECT ` + jobColumns + ` FROM batch_jobs
		WHERE status = 'PENDING' AND is_parent = FALSE
		  AND (next_attempt_at IS NULL OR next_attempt_at <= NOW())
		ORDER BY priority DESC, created_at ASC
		LIMIT 1`
	job, err := scanJob(r.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("pgBatchJobRepository.FindNextPending: %w", err)
	}
	return job, nil
}

// ClaimNextPending atomically claims one runnable job for workerID: a single
// conditional UPDATE over a SKIP LOCKED subselect, so concurrent workers can
// never claim the same row. A PROCESSING job whose lock is older than the
// staleness window is treated as abandoned and is reclaimable. Returns nil
// when nothing is runnable.
func (r *pgBatchJobRepository) ClaimNextPending(ctx context.Context, workerID string, staleness time.Duration) (*model.BatchJob, error) {
	stale := fmt.Sprintf("%d seconds", int(staleness.Seconds()))
	query := `UPDATE batch_jobs
		SET status = 'PROCESSING', locked_at = NOW(), locked_by = $1,
		    attempts = attempts + 1, updated_at = NOW()
		WHERE id = (
			SELECT id FROM batch_jobs
			WHERE is_parent = FALSE
			  AND (next_attempt_at IS NULL OR next_attempt_at <= NOW())
			  AND (
				(status = 'PENDING' AND (locked_at IS NULL OR locked_at < NOW() - $2::interval))
				OR (status = 'PROCESSING' AND locked_at < NOW() - $2::interval)
			  )
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns
	job, err := scanJob(r.db.QueryRowContext(ctx, query, workerID, stale))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // lost the race, or queue is empty
		}
		return nil, fmt.Errorf("pgBatchJobRepository.ClaimNextPending: %w", err)
	}
	return job, nil
}

func (r *pgBatchJobRepository) ClearLock(ctx context.Context, id int64) error {
	query := `UPDATE batch_jobs SET locked_at = NULL, locked_by = NULL, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("pgBatchJobRepository.ClearLock: %w", err)
	}
	return nil
}

// Requeue resets a job to PENDING with its lock cleared; a non-nil
// nextAttemptAt keeps the claim query away from it until that time.
func (r *pgBatchJobRepository) Requeue(ctx context.Context, id int64, nextAttemptAt *time.Time) error {
	query := `UPDATE batch_jobs
		SET status = 'PENDING', locked_at = NULL, locked_by = NULL,
		    error_details = NULL, next_attempt_at = $2, updated_at = NOW()
		WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("pgBatchJobRepository.Requeue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// Upsert backs the worker's AddJob: an existing job is reset to PENDING,
// a missing one is created. A caller-supplied id is honored either way.
func (r *pgBatchJobRepository) Upsert(ctx context.Context, job *model.BatchJob) (*model.BatchJob, error) {
	if job.ID != 0 {
		err := r.Requeue(ctx, job.ID, nil)
		if err == nil {
			return r.GetByID(ctx, job.ID)
		}
		if !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		if err := r.insertWithID(ctx, job); err != nil {
			return nil, err
		}
		return job, nil
	}
	if err := r.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// insertWithID inserts a job under a caller-supplied id instead of drawing
// one from the sequence.
func (r *pgBatchJobRepository) insertWithID(ctx context.Context, job *model.BatchJob) error {
	criteriaRaw, err := json.Marshal(job.Criteria)
	if err != nil {
		return fmt.Errorf("pgBatchJobRepository.insertWithID: marshal criteria: %w", err)
	}
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}

	query := `INSERT INTO batch_jobs
		(id, status, criteria, is_parent, parent_id, batch_number, batch_offset, batch_size,
		 total_records, priority, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query,
		job.ID, job.Status, criteriaRaw, job.IsParent, job.ParentID,
		job.BatchNumber, job.BatchOffset, job.BatchSize,
		job.TotalRecords, job.Priority, job.CreatedBy,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pgBatchJobRepository.insertWithID: %w", err)
	}
	return nil
}

// QueueStats counts non-parent jobs by queue state in one query; parents are
// bookkeeping records, not queue entries.
func (r *pgBatchJobRepository) QueueStats(ctx context.Context) (*model.QueueStats, error) {
	query := `SELECT
		COUNT(*) FILTER (WHERE status = 'PENDING' AND (next_attempt_at IS NULL OR next_attempt_at <= NOW())),
		COUNT(*) FILTER (WHERE status = 'PROCESSING'),
		COUNT(*) FILTER (WHERE status = 'COMPLETED'),
		COUNT(*) FILTER (WHERE status = 'FAILED'),
		COUNT(*) FILTER (WHERE status = 'PENDING' AND next_attempt_at > NOW())
		FROM batch_jobs WHERE is_parent = FALSE`
	stats := &model.QueueStats{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&stats.Waiting, &stats.Active, &stats.Completed, &stats.Failed, &stats.Delayed,
	)
	if err != nil {
		return nil, fmt.Errorf("pgBatchJobRepository.QueueStats: %w", err)
	}
	return stats, nil
}

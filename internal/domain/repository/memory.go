package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"propleads/internal/common"
	"propleads/internal/domain/model"
)

// In-memory store implementations. They honor the same contracts as the
// Postgres ones, including claim atomicity (a mutex-guarded compare-and-swap
// stands in for FOR UPDATE SKIP LOCKED), and back both the test suites and
// local development without a database.

type MemoryBatchJobRepository struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*model.BatchJob
	now    func() time.Time
}

func NewMemoryBatchJobRepository() *MemoryBatchJobRepository {
	return &MemoryBatchJobRepository{
		nextID: 1,
		jobs:   make(map[int64]*model.BatchJob),
		now:    time.Now,
	}
}

// SetClock overrides the repository clock; tests use it to age locks.
func (r *MemoryBatchJobRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func copyJob(job *model.BatchJob) *model.BatchJob {
	cp := *job
	if job.Criteria != nil {
		crit := *job.Criteria
		crit.PropertyIDs = append([]string(nil), job.Criteria.PropertyIDs...)
		cp.Criteria = &crit
	}
	return &cp
}

func (r *MemoryBatchJobRepository) Create(ctx context.Context, job *model.BatchJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job.ID = r.nextID
	r.nextID++
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	job.CreatedAt = r.now()
	job.UpdatedAt = job.CreatedAt
	r.jobs[job.ID] = copyJob(job)
	return nil
}

func (r *MemoryBatchJobRepository) GetByID(ctx context.Context, id int64) (*model.BatchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return copyJob(job), nil
}

func (r *MemoryBatchJobRepository) List(ctx context.Context, status string, limit, offset int, includeChildren bool) ([]*model.BatchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matched := []*model.BatchJob{}
	for _, job := range r.jobs {
		if status != "" && job.Status != status {
			continue
		}
		if !includeChildren && job.ParentID != nil {
			continue
		}
		matched = append(matched, copyJob(job))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if offset >= len(matched) {
		return []*model.BatchJob{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *MemoryBatchJobRepository) ListChildren(ctx context.Context, parentID int64) ([]*model.BatchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	children := []*model.BatchJob{}
	for _, job := range r.jobs {
		if job.ParentID != nil && *job.ParentID == parentID {
			children = append(children, copyJob(job))
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].BatchNumber < children[j].BatchNumber })
	return children, nil
}

func (r *MemoryBatchJobRepository) UpdateStatus(ctx context.Context, id int64, status string, errorDetails *string) (*model.BatchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	job.Status = status
	job.ErrorDetails = errorDetails
	job.UpdatedAt = r.now()
	return copyJob(job), nil
}

func (r *MemoryBatchJobRepository) UpdateProgress(ctx context.Context, id int64, processed, total, success, errs int) (*model.BatchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	job.Processed = processed
	job.TotalRecords = total
	job.SuccessCount = success
	job.ErrorCount = errs
	job.UpdatedAt = r.now()
	return copyJob(job), nil
}

func (r *MemoryBatchJobRepository) IncrementAttempts(ctx context.Context, id int64) (*model.BatchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	job.Attempts++
	job.UpdatedAt = r.now()
	return copyJob(job), nil
}

func (r *MemoryBatchJobRepository) claimable(job *model.BatchJob, now time.Time, staleness time.Duration) bool {
	if job.IsParent {
		return false
	}
	if job.NextAttemptAt != nil && job.NextAttemptAt.After(now) {
		return false
	}
	switch job.Status {
	case model.JobStatusPending:
		return job.LockedAt == nil || job.LockedAt.Before(now.Add(-staleness))
	case model.JobStatusProcessing:
		return job.LockedAt != nil && job.LockedAt.Before(now.Add(-staleness))
	}
	return false
}

func (r *MemoryBatchJobRepository) FindNextPending(ctx context.Context) (*model.BatchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.pickNext(r.now(), 0)
	if job == nil {
		return nil, nil
	}
	return copyJob(job), nil
}

func (r *MemoryBatchJobRepository) pickNext(now time.Time, staleness time.Duration) *model.BatchJob {
	var best *model.BatchJob
	for _, job := range r.jobs {
		if staleness == 0 {
			if job.IsParent || job.Status != model.JobStatusPending {
				continue
			}
			if job.NextAttemptAt != nil && job.NextAttemptAt.After(now) {
				continue
			}
		} else if !r.claimable(job, now, staleness) {
			continue
		}
		if best == nil ||
			job.Priority > best.Priority ||
			(job.Priority == best.Priority && job.CreatedAt.Before(best.CreatedAt)) {
			best = job
		}
	}
	return best
}

// ClaimNextPending is the CAS equivalent of the Postgres claim: selection and
// the state flip happen under one lock, so two concurrent claims can never
// return the same job.
func (r *MemoryBatchJobRepository) ClaimNextPending(ctx context.Context, workerID string, staleness time.Duration) (*model.BatchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	job := r.pickNext(now, staleness)
	if job == nil {
		return nil, nil
	}
	job.Status = model.JobStatusProcessing
	lockedAt := now
	job.LockedAt = &lockedAt
	worker := workerID
	job.LockedBy = &worker
	job.Attempts++
	job.UpdatedAt = now
	return copyJob(job), nil
}

func (r *MemoryBatchJobRepository) ClearLock(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return common.ErrNotFound
	}
	job.LockedAt = nil
	job.LockedBy = nil
	job.UpdatedAt = r.now()
	return nil
}

func (r *MemoryBatchJobRepository) Requeue(ctx context.Context, id int64, nextAttemptAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return common.ErrNotFound
	}
	job.Status = model.JobStatusPending
	job.LockedAt = nil
	job.LockedBy = nil
	job.ErrorDetails = nil
	job.NextAttemptAt = nextAttemptAt
	job.UpdatedAt = r.now()
	return nil
}

func (r *MemoryBatchJobRepository) Upsert(ctx context.Context, job *model.BatchJob) (*model.BatchJob, error) {
	if job.ID != 0 {
		if err := r.Requeue(ctx, job.ID, nil); err == nil {
			return r.GetByID(ctx, job.ID)
		}
		// Requested id doesn't exist yet; insert it under that id.
		r.mu.Lock()
		if job.Status == "" {
			job.Status = model.JobStatusPending
		}
		job.CreatedAt = r.now()
		job.UpdatedAt = job.CreatedAt
		r.jobs[job.ID] = copyJob(job)
		if job.ID >= r.nextID {
			r.nextID = job.ID + 1
		}
		r.mu.Unlock()
		return copyJob(job), nil
	}
	if err := r.Create(ctx, job); err != nil {
		return nil, err
	}
	return copyJob(job), nil
}

func (r *MemoryBatchJobRepository) QueueStats(ctx context.Context) (*model.QueueStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	stats := &model.QueueStats{}
	for _, job := range r.jobs {
		if job.IsParent {
			continue
		}
		switch job.Status {
		case model.JobStatusPending:
			if job.NextAttemptAt != nil && job.NextAttemptAt.After(now) {
				stats.Delayed++
			} else {
				stats.Waiting++
			}
		case model.JobStatusProcessing:
			stats.Active++
		case model.JobStatusCompleted:
			stats.Completed++
		case model.JobStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

type MemoryJobLogRepository struct {
	mu     sync.Mutex
	nextID int64
	logs   map[int64][]*model.JobLog
}

func NewMemoryJobLogRepository() *MemoryJobLogRepository {
	return &MemoryJobLogRepository{nextID: 1, logs: make(map[int64][]*model.JobLog)}
}

func (r *MemoryJobLogRepository) Append(ctx context.Context, entry *model.JobLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = r.nextID
	r.nextID++
	if entry.Level == "" {
		entry.Level = model.LogLevelInfo
	}
	entry.CreatedAt = time.Now()
	cp := *entry
	r.logs[entry.JobID] = append(r.logs[entry.JobID], &cp)
	return nil
}

func (r *MemoryJobLogRepository) ListByJob(ctx context.Context, jobID int64, limit, offset int) ([]*model.JobLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.logs[jobID]
	if offset >= len(all) {
		return []*model.JobLog{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	out := make([]*model.JobLog, len(all))
	for i, entry := range all {
		cp := *entry
		out[i] = &cp
	}
	return out, nil
}

type MemoryPropertyRepository struct {
	mu         sync.Mutex
	nextID     int64
	properties map[string]*model.Property // keyed by provider + "/" + external id

	// FailExternalIDs makes SaveBatch report the listed external ids as
	// persistence errors; tests use it to simulate per-record failures.
	FailExternalIDs map[string]bool
}

func NewMemoryPropertyRepository() *MemoryPropertyRepository {
	return &MemoryPropertyRepository{
		nextID:          1,
		properties:      make(map[string]*model.Property),
		FailExternalIDs: make(map[string]bool),
	}
}

func propertyKey(provider, externalID string) string {
	return provider + "/" + externalID
}

func (r *MemoryPropertyRepository) SaveBatch(ctx context.Context, properties []*model.Property) (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	success, failed := 0, 0
	for _, p := range properties {
		if r.FailExternalIDs[p.ExternalID] {
			failed++
			continue
		}
		key := propertyKey(p.Provider, p.ExternalID)
		if existing, ok := r.properties[key]; ok {
			p.ID = existing.ID
		} else {
			p.ID = r.nextID
			r.nextID++
		}
		cp := *p
		r.properties[key] = &cp
		success++
	}
	return success, failed
}

func (r *MemoryPropertyRepository) GetByID(ctx context.Context, id int64) (*model.Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.properties {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *MemoryPropertyRepository) FindByExternalIDs(ctx context.Context, provider string, externalIDs []string) ([]*model.Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := []*model.Property{}
	for _, id := range externalIDs {
		if p, ok := r.properties[propertyKey(provider, id)]; ok {
			cp := *p
			found = append(found, &cp)
		}
	}
	return found, nil
}

func (r *MemoryPropertyRepository) FindExistingIDs(ctx context.Context, provider string, externalIDs []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing := []string{}
	for _, id := range externalIDs {
		if _, ok := r.properties[propertyKey(provider, id)]; ok {
			existing = append(existing, id)
		}
	}
	return existing, nil
}

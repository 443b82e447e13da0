package tracker

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"propleads/internal/common"
	"propleads/internal/domain/model"

	"github.com/google/uuid"
)

// DuplicateCheckJobTracker keeps duplicate-check job state in process memory.
// It is a plain injected instance guarded by a mutex; state does not survive a
// restart and is not shared across processes. Completed entries stay around
// until Cleanup is called so clients can read the final result.
type DuplicateCheckJobTracker struct {
	mu   sync.Mutex
	jobs map[string]*model.DuplicateCheckJob
}

func NewDuplicateCheckJobTracker() *DuplicateCheckJobTracker {
	return &DuplicateCheckJobTracker{jobs: make(map[string]*model.DuplicateCheckJob)}
}

// newJobID returns a short 8-hex-char handle. Collisions are possible at this
// length, so the caller must hold the lock and re-roll on a hit.
func newJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// CreateJob registers a pending job expecting totalBatches batches and returns
// its id.
func (t *DuplicateCheckJobTracker) CreateJob(totalBatches int) (string, error) {
	if totalBatches <= 0 {
		return "", fmt.Errorf("totalBatches must be positive, got %d: %w", totalBatches, common.ErrValidation)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id := newJobID()
	for _, exists := t.jobs[id]; exists; _, exists = t.jobs[id] {
		id = newJobID()
	}

	now := time.Now().UTC()
	t.jobs[id] = &model.DuplicateCheckJob{
		ID:           id,
		Status:       model.DupCheckPending,
		TotalBatches: totalBatches,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return id, nil
}

// SetJobInProgress marks the first batch as started.
func (t *DuplicateCheckJobTracker) SetJobInProgress(id string) error {
	return t.update(id, func(job *model.DuplicateCheckJob) error {
		job.Status = model.DupCheckInProgress
		return nil
	})
}

// IncrementBatch records one finished batch and folds its matches into the
// partial results. Incrementing past totalBatches is a caller bug and is
// rejected.
func (t *DuplicateCheckJobTracker) IncrementBatch(id string, matches []model.DuplicateMatch) error {
	return t.update(id, func(job *model.DuplicateCheckJob) error {
		if job.Status != model.DupCheckInProgress {
			return fmt.Errorf("job %s is %s, not %s: %w", id, job.Status, model.DupCheckInProgress, common.ErrValidation)
		}
		if job.CompletedBatches >= job.TotalBatches {
			return fmt.Errorf("job %s already has all %d batches: %w", id, job.TotalBatches, common.ErrValidation)
		}
		job.CompletedBatches++
		job.PartialResults = append(job.PartialResults, matches...)
		return nil
	})
}

// SetJobCompleted freezes the job with its final result. Partial results stop
// accumulating from here.
func (t *DuplicateCheckJobTracker) SetJobCompleted(id string, result []model.DuplicateMatch) error {
	return t.update(id, func(job *model.DuplicateCheckJob) error {
		job.Status = model.DupCheckCompleted
		job.Result = result
		return nil
	})
}

// SetJobFailed records the failure reason and freezes the job.
func (t *DuplicateCheckJobTracker) SetJobFailed(id string, cause error) error {
	return t.update(id, func(job *model.DuplicateCheckJob) error {
		job.Status = model.DupCheckFailed
		if cause != nil {
			job.Error = cause.Error()
		}
		return nil
	})
}

// GetJob returns a snapshot of the job; mutating the copy does not touch
// tracker state.
func (t *DuplicateCheckJobTracker) GetJob(id string) (*model.DuplicateCheckJob, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return nil, fmt.Errorf("duplicate check job %s: %w", id, common.ErrNotFound)
	}
	return snapshot(job), nil
}

// Cleanup removes a job outright. There is no TTL; retention is the caller's
// call.
func (t *DuplicateCheckJobTracker) Cleanup(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, id)
}

// Len reports how many jobs are currently tracked.
func (t *DuplicateCheckJobTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

func (t *DuplicateCheckJobTracker) update(id string, fn func(*model.DuplicateCheckJob) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return fmt.Errorf("duplicate check job %s: %w", id, common.ErrNotFound)
	}
	if err := fn(job); err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func snapshot(job *model.DuplicateCheckJob) *model.DuplicateCheckJob {
	cp := *job
	if job.PartialResults != nil {
		cp.PartialResults = make([]model.DuplicateMatch, len(job.PartialResults))
		copy(cp.PartialResults, job.PartialResults)
	}
	if job.Result != nil {
		cp.Result = make([]model.DuplicateMatch, len(job.Result))
		copy(cp.Result, job.Result)
	}
	return &cp
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"propleads/internal/app/tracker"
	"propleads/internal/common"
	"propleads/internal/domain/model"
	"propleads/internal/domain/repository"

	"github.com/redis/go-redis/v9"
)

// DuplicateCheckService answers "which of these property ids do we already
// have" without blocking the caller: StartCheck returns a job id immediately
// and the lookup runs batch by batch in a goroutine, publishing progress to a
// redis channel so the front end can subscribe instead of polling.
type DuplicateCheckService struct {
	props     repository.PropertyRepository
	tracker   *tracker.DuplicateCheckJobTracker
	rdb       *redis.Client
	channel   string
	batchSize int
	logger    *slog.Logger
}

func NewDuplicateCheckService(props repository.PropertyRepository, trk *tracker.DuplicateCheckJobTracker, rdb *redis.Client, channel string, batchSize int, logger *slog.Logger) *DuplicateCheckService {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &DuplicateCheckService{
		props:     props,
		tracker:   trk,
		rdb:       rdb,
		channel:   channel,
		batchSize: batchSize,
		logger:    logger,
	}
}

// progressEvent is what subscribers on the redis channel receive after every
// batch and on the terminal transition.
type progressEvent struct {
	JobID            string `json:"job_id"`
	Status           string `json:"status"`
	CompletedBatches int    `json:"completed_batches"`
	TotalBatches     int    `json:"total_batches"`
	MatchesSoFar     int    `json:"matches_so_far"`
	Error            string `json:"error,omitempty"`
}

// StartCheck registers the job and kicks off the background lookup. The
// returned id is the only handle the caller gets; results are read back via
// GetCheck or the progress channel.
func (s *DuplicateCheckService) StartCheck(ctx context.Context, provider string, externalIDs []string) (string, error) {
	if len(externalIDs) == 0 {
		return "", fmt.Errorf("externalIDs must not be empty: %w", common.ErrValidation)
	}
	if provider == "" {
		return "", fmt.Errorf("provider is required: %w", common.ErrValidation)
	}

	totalBatches := (len(externalIDs) + s.batchSize - 1) / s.batchSize
	jobID, err := s.tracker.CreateJob(totalBatches)
	if err != nil {
		return "", err
	}

	// Detached from the request context on purpose: the check outlives the
	// HTTP request that started it.
	go s.runCheck(context.Background(), jobID, provider, externalIDs)

	return jobID, nil
}

// GetCheck reads the current snapshot of a running or finished check.
func (s *DuplicateCheckService) GetCheck(id string) (*model.DuplicateCheckJob, error) {
	return s.tracker.GetJob(id)
}

// DismissCheck drops a finished check from the tracker.
func (s *DuplicateCheckService) DismissCheck(id string) {
	s.tracker.Cleanup(id)
}

func (s *DuplicateCheckService) runCheck(ctx context.Context, jobID, provider string, externalIDs []string) {
	if err := s.tracker.SetJobInProgress(jobID); err != nil {
		s.logger.Error("duplicate check: failed to start", "job_id", jobID, "error", err)
		return
	}

	matchTotal := 0
	for offset := 0; offset < len(externalIDs); offset += s.batchSize {
		end := offset + s.batchSize
		if end > len(externalIDs) {
			end = len(externalIDs)
		}

		existing, err := s.props.FindExistingIDs(ctx, provider, externalIDs[offset:end])
		if err != nil {
			s.fail(ctx, jobID, err)
			return
		}

		matches := make([]model.DuplicateMatch, 0, len(existing))
		for _, id := range existing {
			matches = append(matches, model.DuplicateMatch{ExternalID: id})
		}
		matchTotal += len(matches)

		if err := s.tracker.IncrementBatch(jobID, matches); err != nil {
			s.fail(ctx, jobID, err)
			return
		}

		job, err := s.tracker.GetJob(jobID)
		if err != nil {
			s.logger.Error("duplicate check: job vanished mid-run", "job_id", jobID, "error", err)
			return
		}
		s.publish(ctx, progressEvent{
			JobID:            jobID,
			Status:           job.Status,
			CompletedBatches: job.CompletedBatches,
			TotalBatches:     job.TotalBatches,
			MatchesSoFar:     matchTotal,
		})
	}

	job, err := s.tracker.GetJob(jobID)
	if err != nil {
		s.logger.Error("duplicate check: job vanished before completion", "job_id", jobID, "error", err)
		return
	}
	if err := s.tracker.SetJobCompleted(jobID, job.PartialResults); err != nil {
		s.logger.Error("duplicate check: failed to complete", "job_id", jobID, "error", err)
		return
	}
	s.publish(ctx, progressEvent{
		JobID:            jobID,
		Status:           model.DupCheckCompleted,
		CompletedBatches: job.TotalBatches,
		TotalBatches:     job.TotalBatches,
		MatchesSoFar:     matchTotal,
	})
	s.logger.Info("duplicate check completed", "job_id", jobID, "matches", matchTotal, "batches", job.TotalBatches)
}

func (s *DuplicateCheckService) fail(ctx context.Context, jobID string, cause error) {
	s.logger.Error("duplicate check failed", "job_id", jobID, "error", cause)
	if err := s.tracker.SetJobFailed(jobID, cause); err != nil {
		s.logger.Error("duplicate check: failed to record failure", "job_id", jobID, "error", err)
		return
	}
	job, err := s.tracker.GetJob(jobID)
	if err != nil {
		return
	}
	s.publish(ctx, progressEvent{
		JobID:            jobID,
		Status:           model.DupCheckFailed,
		CompletedBatches: job.CompletedBatches,
		TotalBatches:     job.TotalBatches,
		Error:            job.Error,
	})
}

// publish is best effort: a dropped progress event never fails the check.
func (s *DuplicateCheckService) publish(ctx context.Context, event progressEvent) {
	if s.rdb == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("duplicate check: failed to encode progress event", "job_id", event.JobID, "error", err)
		return
	}
	if err := s.rdb.Publish(ctx, s.channel, payload).Err(); err != nil {
		s.logger.Error("duplicate check: failed to publish progress", "job_id", event.JobID, "error", err)
	}
}

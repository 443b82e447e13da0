package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"propleads/internal/app/tracker"
	"propleads/internal/common"
	"propleads/internal/domain/model"
	"propleads/internal/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCheckFixture(batchSize int) (*DuplicateCheckService, *repository.MemoryPropertyRepository, *tracker.DuplicateCheckJobTracker) {
	props := repository.NewMemoryPropertyRepository()
	trk := tracker.NewDuplicateCheckJobTracker()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewDuplicateCheckService(props, trk, nil, "duplicate_check_progress", batchSize, logger)
	return svc, props, trk
}

func seedProperties(props *repository.MemoryPropertyRepository, ids ...string) {
	stored := make([]*model.Property, len(ids))
	for i, id := range ids {
		stored[i] = &model.Property{ExternalID: id, Provider: "pdp"}
	}
	props.SaveBatch(context.Background(), stored)
}

func waitForTerminal(t *testing.T, svc *DuplicateCheckService, jobID string) *model.DuplicateCheckJob {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("duplicate check never reached a terminal status")
		default:
		}
		job, err := svc.GetCheck(jobID)
		require.NoError(t, err)
		if job.Status == model.DupCheckCompleted || job.Status == model.DupCheckFailed {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartCheckValidation(t *testing.T) {
	svc, _, _ := newCheckFixture(2)

	_, err := svc.StartCheck(context.Background(), "pdp", nil)
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = svc.StartCheck(context.Background(), "", []string{"a"})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestStartCheckFindsDuplicatesAcrossBatches(t *testing.T) {
	svc, props, _ := newCheckFixture(2)
	seedProperties(props, "a", "c", "e")

	// Five ids, batch size two: three batches.
	jobID, err := svc.StartCheck(context.Background(), "pdp", []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Len(t, jobID, 8)

	job := waitForTerminal(t, svc, jobID)
	assert.Equal(t, model.DupCheckCompleted, job.Status)
	assert.Equal(t, 3, job.TotalBatches)
	assert.Equal(t, 3, job.CompletedBatches)

	matched := map[string]bool{}
	for _, m := range job.Result {
		matched[m.ExternalID] = true
	}
	assert.Equal(t, map[string]bool{"a": true, "c": true, "e": true}, matched)
}

func TestStartCheckWithNoDuplicates(t *testing.T) {
	svc, _, _ := newCheckFixture(10)

	jobID, err := svc.StartCheck(context.Background(), "pdp", []string{"x", "y"})
	require.NoError(t, err)

	job := waitForTerminal(t, svc, jobID)
	assert.Equal(t, model.DupCheckCompleted, job.Status)
	assert.Equal(t, 1, job.TotalBatches)
	assert.Empty(t, job.Result)
}

func TestDismissCheckDropsJob(t *testing.T) {
	svc, _, _ := newCheckFixture(10)

	jobID, err := svc.StartCheck(context.Background(), "pdp", []string{"x"})
	require.NoError(t, err)
	waitForTerminal(t, svc, jobID)

	svc.DismissCheck(jobID)
	_, err = svc.GetCheck(jobID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

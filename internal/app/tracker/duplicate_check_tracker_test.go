package tracker

import (
	"errors"
	"sync"
	"testing"

	"propleads/internal/common"
	"propleads/internal/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateJobAssignsShortIDs(t *testing.T) {
	trk := NewDuplicateCheckJobTracker()

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := trk.CreateJob(3)
		require.NoError(t, err)
		assert.Len(t, id, 8)
		assert.False(t, seen[id], "id %s issued twice", id)
		seen[id] = true
	}
	assert.Equal(t, 50, trk.Len())
}

func TestCreateJobRejectsNonPositiveBatches(t *testing.T) {
	trk := NewDuplicateCheckJobTracker()
	_, err := trk.CreateJob(0)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestJobLifecycle(t *testing.T) {
	trk := NewDuplicateCheckJobTracker()
	id, err := trk.CreateJob(3)
	require.NoError(t, err)

	job, err := trk.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, model.DupCheckPending, job.Status)
	assert.Equal(t, 3, job.TotalBatches)
	assert.Equal(t, 0, job.CompletedBatches)

	require.NoError(t, trk.SetJobInProgress(id))

	require.NoError(t, trk.IncrementBatch(id, []model.DuplicateMatch{{ExternalID: "a"}, {ExternalID: "b"}}))
	require.NoError(t, trk.IncrementBatch(id, nil))
	require.NoError(t, trk.IncrementBatch(id, []model.DuplicateMatch{{ExternalID: "c"}}))

	job, err = trk.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, 3, job.CompletedBatches)
	assert.Len(t, job.PartialResults, 3)

	// A fourth increment is a caller bug.
	err = trk.IncrementBatch(id, nil)
	assert.ErrorIs(t, err, common.ErrValidation)

	require.NoError(t, trk.SetJobCompleted(id, job.PartialResults))
	job, err = trk.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, model.DupCheckCompleted, job.Status)
	assert.Len(t, job.Result, 3)
}

func TestIncrementBatchRequiresInProgress(t *testing.T) {
	trk := NewDuplicateCheckJobTracker()
	id, err := trk.CreateJob(2)
	require.NoError(t, err)

	err = trk.IncrementBatch(id, nil)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestSetJobFailedRecordsCause(t *testing.T) {
	trk := NewDuplicateCheckJobTracker()
	id, err := trk.CreateJob(2)
	require.NoError(t, err)
	require.NoError(t, trk.SetJobInProgress(id))

	require.NoError(t, trk.SetJobFailed(id, errors.New("db unreachable")))

	job, err := trk.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, model.DupCheckFailed, job.Status)
	assert.Equal(t, "db unreachable", job.Error)
}

func TestGetJobReturnsSnapshot(t *testing.T) {
	trk := NewDuplicateCheckJobTracker()
	id, err := trk.CreateJob(2)
	require.NoError(t, err)
	require.NoError(t, trk.SetJobInProgress(id))
	require.NoError(t, trk.IncrementBatch(id, []model.DuplicateMatch{{ExternalID: "a"}}))

	job, err := trk.GetJob(id)
	require.NoError(t, err)
	job.PartialResults[0].ExternalID = "tampered"
	job.Status = model.DupCheckFailed

	fresh, err := trk.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, "a", fresh.PartialResults[0].ExternalID)
	assert.Equal(t, model.DupCheckInProgress, fresh.Status)
}

func TestCleanupRemovesJob(t *testing.T) {
	trk := NewDuplicateCheckJobTracker()
	id, err := trk.CreateJob(1)
	require.NoError(t, err)

	trk.Cleanup(id)
	_, err = trk.GetJob(id)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.Equal(t, 0, trk.Len())
}

func TestTrackerIsSafeForConcurrentUse(t *testing.T) {
	trk := NewDuplicateCheckJobTracker()
	id, err := trk.CreateJob(100)
	require.NoError(t, err)
	require.NoError(t, trk.SetJobInProgress(id))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = trk.IncrementBatch(id, []model.DuplicateMatch{{ExternalID: "x"}})
		}()
	}
	wg.Wait()

	job, err := trk.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, 100, job.CompletedBatches)
	assert.Len(t, job.PartialResults, 100)
}

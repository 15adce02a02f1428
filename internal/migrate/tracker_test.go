package migrate

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_Snapshot(t *testing.T) {
	tracker := NewTracker("run-1")

	tracker.RecordExtension("csv")
	tracker.RecordExtension("zip")
	tracker.RecordExtension("csv")
	tracker.RecordAlreadyStored("r1")
	tracker.RecordExcluded("r2", "zip")
	tracker.RecordEligible()
	tracker.RecordMigrated()
	tracker.RecordKeyError()
	tracker.RecordValidationError()
	tracker.RecordOtherError("d2", errors.New("connection reset"))
	tracker.RecordDatasetCrash("d2")
	tracker.RecordDatasetCrash("d1")
	tracker.RecordDatasetCrash("d2")
	tracker.RecordDatasetError("d3", errors.New("not found"))

	outcome := tracker.Snapshot()
	assert.Equal(t, "run-1", outcome.RunID)
	assert.Equal(t, 1, outcome.KeyErrors)
	assert.Equal(t, 1, outcome.ValidationErrors)
	assert.Equal(t, []ResourceError{{DatasetID: "d2", Detail: "connection reset"}}, outcome.OtherErrors)
	assert.Equal(t, []string{"d1", "d2"}, outcome.CrashedDatasets)
	assert.Equal(t, []DatasetError{{Dataset: "d3", Detail: "not found"}}, outcome.DatasetErrors)
	assert.Equal(t, []string{"r1"}, outcome.AlreadyStored)
	assert.Equal(t, []ExcludedResource{{ResourceID: "r2", Format: "zip"}}, outcome.Excluded)
	assert.Equal(t, 1, outcome.Eligible)
	assert.Equal(t, 1, outcome.Migrated)
	assert.Equal(t, []string{"csv", "zip"}, outcome.Extensions)
}

func TestTracker_SnapshotIdempotent(t *testing.T) {
	tracker := NewTracker("run-1")
	tracker.RecordExtension("csv")
	tracker.RecordExcluded("r1", "zip")
	tracker.RecordEligible()
	tracker.RecordDatasetCrash("d1")

	first := tracker.Snapshot()
	second := tracker.Snapshot()
	assert.Equal(t, first, second)
}

func TestTracker_SnapshotIsACopy(t *testing.T) {
	tracker := NewTracker("run-1")
	tracker.RecordAlreadyStored("r1")

	outcome := tracker.Snapshot()
	tracker.RecordAlreadyStored("r2")
	tracker.RecordExtension("csv")

	assert.Equal(t, []string{"r1"}, outcome.AlreadyStored)
	assert.Empty(t, outcome.Extensions)
}

func TestTracker_ConcurrentRecording(t *testing.T) {
	tracker := NewTracker("run-1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tracker.RecordEligible()
				tracker.RecordMigrated()
				tracker.RecordExtension("csv")
				tracker.RecordDatasetCrash("d1")
			}
		}()
	}
	wg.Wait()

	outcome := tracker.Snapshot()
	assert.Equal(t, 800, outcome.Eligible)
	assert.Equal(t, 800, outcome.Migrated)
	assert.Equal(t, []string{"csv"}, outcome.Extensions)
	assert.Equal(t, []string{"d1"}, outcome.CrashedDatasets)
}

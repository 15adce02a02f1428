package migrate

import (
	"sort"
	"sync"
)

// ResourceError is an uncategorized resource migration failure kept for the
// run report.
type ResourceError struct {
	// DatasetID is the identifier of the dataset the resource belongs to.
	DatasetID string
	// Detail is the original error message.
	Detail string
}

// DatasetError is a dataset-level failure: the dataset could not be fetched
// or its archive could not be packaged.
type DatasetError struct {
	// Dataset is the name of the failed dataset.
	Dataset string
	// Detail is the original error message.
	Detail string
}

// ExcludedResource is a resource that was not migrated because its format is
// excluded.
type ExcludedResource struct {
	// ResourceID is the identifier of the resource.
	ResourceID string
	// Format is the lowercased format that matched the exclusion policy.
	Format string
}

// Outcome is the aggregate record of one migration run.
type Outcome struct {
	// RunID identifies the run the outcome belongs to.
	RunID string
	// KeyErrors counts migrations that failed on a missing resource field.
	KeyErrors int
	// ValidationErrors counts migrations the catalog rejected as invalid.
	ValidationErrors int
	// OtherErrors lists all remaining migration failures in occurrence order.
	OtherErrors []ResourceError
	// CrashedDatasets lists the ids of datasets with at least one failed
	// resource migration, sorted.
	CrashedDatasets []string
	// DatasetErrors lists dataset-level failures in occurrence order.
	DatasetErrors []DatasetError
	// AlreadyStored lists the ids of resources skipped because they were
	// already in the object store.
	AlreadyStored []string
	// Excluded lists the resources whose format kept them from migrating.
	Excluded []ExcludedResource
	// Eligible counts the resources that were neither skipped nor excluded.
	Eligible int
	// Migrated counts the resources migrated successfully.
	Migrated int
	// Extensions lists every distinct lowercased format observed, sorted.
	Extensions []string
}

// Tracker accumulates the outcome of a migration run. Counts only increase
// and sets only grow; records may arrive in any order. All methods are safe
// for concurrent use.
type Tracker struct {
	mu               sync.Mutex
	runID            string
	keyErrors        int
	validationErrors int
	otherErrors      []ResourceError
	crashed          map[string]struct{}
	datasetErrors    []DatasetError
	alreadyStored    []string
	excluded         []ExcludedResource
	eligible         int
	migrated         int
	extensions       map[string]struct{}
}

// NewTracker constructs a Tracker for the given run.
func NewTracker(runID string) *Tracker {
	return &Tracker{
		runID:      runID,
		crashed:    make(map[string]struct{}),
		extensions: make(map[string]struct{}),
	}
}

// RecordKeyError counts a migration that failed on a missing resource field.
func (t *Tracker) RecordKeyError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keyErrors++
}

// RecordValidationError counts a migration the catalog rejected as invalid.
func (t *Tracker) RecordValidationError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.validationErrors++
}

// RecordOtherError keeps an uncategorized migration failure for the report.
func (t *Tracker) RecordOtherError(datasetID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.otherErrors = append(t.otherErrors, ResourceError{DatasetID: datasetID, Detail: err.Error()})
}

// RecordDatasetCrash marks a dataset as having at least one failed resource
// migration.
func (t *Tracker) RecordDatasetCrash(datasetID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.crashed[datasetID] = struct{}{}
}

// RecordDatasetError keeps a dataset-level failure for the report.
func (t *Tracker) RecordDatasetError(dataset string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.datasetErrors = append(t.datasetErrors, DatasetError{Dataset: dataset, Detail: err.Error()})
}

// RecordAlreadyStored keeps the id of a resource skipped because it is
// already in the object store.
func (t *Tracker) RecordAlreadyStored(resourceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alreadyStored = append(t.alreadyStored, resourceID)
}

// RecordExcluded keeps a resource that was not migrated because of its format.
func (t *Tracker) RecordExcluded(resourceID string, format string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.excluded = append(t.excluded, ExcludedResource{ResourceID: resourceID, Format: format})
}

// RecordEligible counts a resource that was neither skipped nor excluded.
func (t *Tracker) RecordEligible() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.eligible++
}

// RecordMigrated counts a resource migrated successfully.
func (t *Tracker) RecordMigrated() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.migrated++
}

// RecordExtension adds a format to the set of formats observed.
func (t *Tracker) RecordExtension(format string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.extensions[format] = struct{}{}
}

// Snapshot returns an immutable copy of the state recorded so far. Calling
// it again without intervening records yields an identical outcome. Sets are
// emitted as sorted slices so reports are reproducible.
func (t *Tracker) Snapshot() *Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	o := &Outcome{
		RunID:            t.runID,
		KeyErrors:        t.keyErrors,
		ValidationErrors: t.validationErrors,
		OtherErrors:      make([]ResourceError, len(t.otherErrors)),
		CrashedDatasets:  make([]string, 0, len(t.crashed)),
		DatasetErrors:    make([]DatasetError, len(t.datasetErrors)),
		AlreadyStored:    make([]string, len(t.alreadyStored)),
		Excluded:         make([]ExcludedResource, len(t.excluded)),
		Eligible:         t.eligible,
		Migrated:         t.migrated,
		Extensions:       make([]string, 0, len(t.extensions)),
	}

	copy(o.OtherErrors, t.otherErrors)
	copy(o.DatasetErrors, t.datasetErrors)
	copy(o.AlreadyStored, t.alreadyStored)
	copy(o.Excluded, t.excluded)

	for id := range t.crashed {
		o.CrashedDatasets = append(o.CrashedDatasets, id)
	}
	sort.Strings(o.CrashedDatasets)

	for ext := range t.extensions {
		o.Extensions = append(o.Extensions, ext)
	}
	sort.Strings(o.Extensions)

	return o
}

package migrate

import (
	"context"
	"errors"
	"fmt"
	"github.com/datagovtools/porter/internal/config"
	"github.com/datagovtools/porter/internal/core"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"strings"
	"sync"
	"time"
)

// DefaultWorkers is the number of datasets processed concurrently when the
// configuration does not specify one.
const DefaultWorkers = 1

// Engine orchestrates a migration run: it walks every dataset of the
// catalog, classifies each resource, migrates the eligible ones and packages
// a per-dataset archive, accumulating the outcome as it goes.
//
// Failures are contained at two boundaries. A failed resource migration is
// recorded and never stops its siblings. A failed dataset fetch or archive
// packaging is recorded and never stops the run. Every contained failure is
// logged the moment it happens and appears again in the final outcome.
type Engine struct {
	catalog  core.Catalog
	archiver core.Archiver
	policy   *ExclusionPolicy
	workers  int
	log      zerolog.Logger
}

// NewEngine constructs an Engine.
//
// Parameters:
//   - catalog: The catalog holding datasets and resources.
//   - archiver: The packager invoked once per traversed dataset.
//   - mc: The migration configuration (excluded formats, worker count).
//   - log: The logger for run progress and contained failures.
//
// Returns:
//   - The engine, or an error if the excluded format list cannot be parsed.
func NewEngine(catalog core.Catalog, archiver core.Archiver, mc *config.MigrationConfig, log zerolog.Logger) (*Engine, error) {
	policy, err := NewExclusionPolicy(mc.ExcludedFormats)
	if err != nil {
		return nil, err
	}

	workers := mc.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	return &Engine{
		catalog:  catalog,
		archiver: archiver,
		policy:   policy,
		workers:  workers,
		log:      log,
	}, nil
}

// Run performs one full migration pass over the catalog.
//
// Parameters:
//   - ctx: Cancelling the context stops new datasets from starting; datasets
//     already in flight finish or abort through their own calls.
//   - force: When true, resources already in the object store are migrated
//     again instead of skipped.
//
// Returns:
//   - The outcome of the run. An error is returned only when the catalog
//     enumeration itself fails; every later failure is contained and
//     reported through the outcome instead.
func (e *Engine) Run(ctx context.Context, force bool) (*Outcome, error) {
	started := time.Now()
	runID := uuid.New().String()
	log := e.log.With().Str("run_id", runID).Logger()

	names, err := e.catalog.ListDatasetNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}

	tracker := NewTracker(runID)
	classifier := NewClassifier(e.policy, tracker, force)

	log.Info().
		Int("datasets", len(names)).
		Bool("force", force).
		Int("workers", e.workers).
		Str("excluded_formats", fmt.Sprintf("%v", e.policy.Tokens())).
		Msg("Migration run starting")

	queue := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range queue {
				e.processDataset(ctx, name, classifier, tracker, log)
			}
		}()
	}

feed:
	for _, name := range names {
		if ctx.Err() != nil {
			log.Warn().Msg("Context cancelled, not starting remaining datasets")
			break feed
		}
		select {
		case queue <- name:
		case <-ctx.Done():
			log.Warn().Msg("Context cancelled, not starting remaining datasets")
			break feed
		}
	}
	close(queue)
	wg.Wait()

	outcome := tracker.Snapshot()
	e.logSummary(log, outcome, time.Since(started))
	return outcome, nil
}

// processDataset runs the full migration of one dataset: fetch, classify and
// migrate each resource in source order, then package the archive. Fetch and
// packaging failures mark the dataset as failed and are recorded; neither
// stops the run.
func (e *Engine) processDataset(ctx context.Context, name string, classifier *Classifier, tracker *Tracker, log zerolog.Logger) {
	log.Info().Str("dataset", name).Msg("Processing dataset")

	ds, err := e.catalog.GetDataset(ctx, name)
	if err != nil {
		log.Error().Stack().Err(err).Str("dataset", name).Msg("Failed to fetch dataset")
		tracker.RecordDatasetError(name, err)
		return
	}

	for i := range ds.Resources {
		res := &ds.Resources[i]
		decision, format := classifier.Classify(res)
		switch decision {
		case DecisionSkip:
			log.Debug().
				Str("dataset", name).
				Str("resource", res.ID).
				Msg("Resource already in object store, skipping")
			tracker.RecordAlreadyStored(res.ID)
		case DecisionExclude:
			log.Debug().
				Str("dataset", name).
				Str("resource", res.ID).
				Str("format", format).
				Msg("Resource format excluded from migration, skipping")
			tracker.RecordExcluded(res.ID, format)
		case DecisionMigrate:
			tracker.RecordEligible()
			e.migrateResource(ctx, ds, res, tracker, log)
		}
	}

	if err := e.archiver.PackageDataset(ctx, ds); err != nil {
		log.Error().Stack().Err(err).Str("dataset", name).Msg("Failed to package dataset archive")
		tracker.RecordDatasetError(name, err)
		return
	}

	log.Info().
		Str("dataset", name).
		Int("resources", len(ds.Resources)).
		Msg("Dataset processed")
}

// migrateResource pushes one resource through the catalog and files the
// result. A failure marks the owning dataset as crashed and is counted by
// kind; the caller moves on to the next resource either way.
func (e *Engine) migrateResource(ctx context.Context, ds *core.Dataset, res *core.Resource, tracker *Tracker, log zerolog.Logger) {
	log.Info().
		Str("dataset", ds.Name).
		Str("resource", res.ID).
		Str("name", res.Name).
		Msg("Migrating resource")

	err := e.catalog.PushResource(ctx, res)
	if err == nil {
		tracker.RecordMigrated()
		log.Info().
			Str("dataset", ds.Name).
			Str("resource", res.ID).
			Str("url", res.URL).
			Msg("Resource migrated")
		return
	}

	tracker.RecordDatasetCrash(ds.ID)

	var validationErr *core.ValidationError
	var missingErr *core.MissingFieldError
	switch {
	case errors.As(err, &validationErr):
		log.Error().Stack().Err(err).
			Str("dataset", ds.Name).
			Str("resource", res.ID).
			Msg("Catalog rejected resource update")
		tracker.RecordValidationError()
	case errors.As(err, &missingErr):
		log.Error().Stack().Err(err).
			Str("dataset", ds.Name).
			Str("resource", res.ID).
			Str("field", missingErr.Field).
			Msg("Resource record is missing a required field")
		tracker.RecordKeyError()
	default:
		log.Error().Stack().Err(err).
			Str("dataset", ds.Name).
			Str("resource", res.ID).
			Msg("Failed to migrate resource")
		tracker.RecordOtherError(ds.ID, err)
	}
}

// logSummary emits the final report of the run.
func (e *Engine) logSummary(log zerolog.Logger, o *Outcome, took time.Duration) {
	log.Info().
		Int("key_errors", o.KeyErrors).
		Int("validation_errors", o.ValidationErrors).
		Int("other_errors", len(o.OtherErrors)).
		Int("crashed_datasets", len(o.CrashedDatasets)).
		Int("dataset_errors", len(o.DatasetErrors)).
		Int("already_stored", len(o.AlreadyStored)).
		Int("excluded", len(o.Excluded)).
		Int("eligible", o.Eligible).
		Int("migrated", o.Migrated).
		Str("extensions_seen", strings.Join(o.Extensions, " ")).
		Dur("took", took).
		Msg("Migration run complete")

	if len(o.CrashedDatasets) > 0 {
		log.Warn().
			Str("datasets", strings.Join(o.CrashedDatasets, " ")).
			Msg("Datasets with failed resource migrations")
	}
	for _, de := range o.DatasetErrors {
		log.Warn().
			Str("dataset", de.Dataset).
			Str("error", de.Detail).
			Msg("Dataset failed during run")
	}
	for _, re := range o.OtherErrors {
		log.Warn().
			Str("dataset", re.DatasetID).
			Str("error", re.Detail).
			Msg("Resource migration failed during run")
	}
}

package migrate

import (
	"context"
	"fmt"
	"github.com/datagovtools/porter/internal/config"
	"github.com/datagovtools/porter/internal/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
)

type mockCatalog struct {
	mu       sync.Mutex
	listFunc func(ctx context.Context) ([]string, error)
	getFunc  func(ctx context.Context, name string) (*core.Dataset, error)
	pushFunc func(ctx context.Context, res *core.Resource) error
	getCalls int
	pushed   []string
}

func (m *mockCatalog) ListDatasetNames(ctx context.Context) ([]string, error) {
	return m.listFunc(ctx)
}

func (m *mockCatalog) GetDataset(ctx context.Context, name string) (*core.Dataset, error) {
	m.mu.Lock()
	m.getCalls++
	m.mu.Unlock()
	return m.getFunc(ctx, name)
}

func (m *mockCatalog) PushResource(ctx context.Context, res *core.Resource) error {
	m.mu.Lock()
	m.pushed = append(m.pushed, res.ID)
	m.mu.Unlock()

	if m.pushFunc != nil {
		return m.pushFunc(ctx, res)
	}

	// Default behavior for testing: the push succeeded and moved the resource
	res.URL = "https://objects.example.org/" + res.ID
	res.URLType = core.URLTypeObjectStore
	return nil
}

// pushedIndex returns the position of a resource id in the push order, or -1.
func (m *mockCatalog) pushedIndex(resourceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range m.pushed {
		if id == resourceID {
			return i
		}
	}
	return -1
}

type mockArchiver struct {
	mu          sync.Mutex
	packageFunc func(ctx context.Context, ds *core.Dataset) error
	packaged    []string
}

func (m *mockArchiver) PackageDataset(ctx context.Context, ds *core.Dataset) error {
	m.mu.Lock()
	m.packaged = append(m.packaged, ds.Name)
	m.mu.Unlock()

	if m.packageFunc != nil {
		return m.packageFunc(ctx, ds)
	}
	return nil
}

// catalogOf builds a mockCatalog serving the given datasets in order.
func catalogOf(datasets ...*core.Dataset) *mockCatalog {
	byName := make(map[string]*core.Dataset, len(datasets))
	names := make([]string, 0, len(datasets))
	for _, ds := range datasets {
		byName[ds.Name] = ds
		names = append(names, ds.Name)
	}

	return &mockCatalog{
		listFunc: func(ctx context.Context) ([]string, error) {
			return names, nil
		},
		getFunc: func(ctx context.Context, name string) (*core.Dataset, error) {
			ds, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("dataset %s not found", name)
			}
			return ds, nil
		},
	}
}

func newTestEngine(t *testing.T, catalog core.Catalog, archiver core.Archiver, mc *config.MigrationConfig) *Engine {
	engine, err := NewEngine(catalog, archiver, mc, zerolog.Nop())
	require.NoError(t, err)
	return engine
}

func TestEngineRun_MigrateAndPackage(t *testing.T) {
	ds := &core.Dataset{
		ID:           "d1",
		Name:         "d1",
		NumResources: 2,
		Resources: []core.Resource{
			{ID: "r1", DatasetID: "d1", Name: "annual report", URL: "https://old.example.org/r1.zip", Format: "zip"},
			{ID: "r2", DatasetID: "d1", Name: "records", URL: "https://old.example.org/r2.csv", Format: "csv"},
		},
	}
	catalog := catalogOf(ds)
	archiver := &mockArchiver{}
	engine := newTestEngine(t, catalog, archiver, &config.MigrationConfig{ExcludedFormats: "zip"})

	outcome, err := engine.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, []ExcludedResource{{ResourceID: "r1", Format: "zip"}}, outcome.Excluded)
	assert.Equal(t, 1, outcome.Eligible)
	assert.Equal(t, 1, outcome.Migrated)
	assert.Empty(t, outcome.CrashedDatasets)
	assert.Empty(t, outcome.DatasetErrors)
	assert.Empty(t, outcome.AlreadyStored)
	assert.Equal(t, []string{"csv", "zip"}, outcome.Extensions)
	assert.NotEmpty(t, outcome.RunID)

	// the excluded resource never reached the catalog
	assert.Equal(t, []string{"r2"}, catalog.pushed)
	assert.Equal(t, []string{"d1"}, archiver.packaged)

	// packaging saw the post-migration location
	assert.Equal(t, core.URLTypeObjectStore, ds.Resources[1].URLType)
}

func TestEngineRun_DatasetFetchFailure(t *testing.T) {
	catalog := &mockCatalog{
		listFunc: func(ctx context.Context) ([]string, error) {
			return []string{"d2"}, nil
		},
		getFunc: func(ctx context.Context, name string) (*core.Dataset, error) {
			return nil, fmt.Errorf("backend unavailable")
		},
	}
	archiver := &mockArchiver{}
	engine := newTestEngine(t, catalog, archiver, &config.MigrationConfig{})

	outcome, err := engine.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, []DatasetError{{Dataset: "d2", Detail: "backend unavailable"}}, outcome.DatasetErrors)
	assert.Equal(t, 0, outcome.Eligible)
	assert.Equal(t, 0, outcome.Migrated)
	assert.Empty(t, outcome.Excluded)
	assert.Empty(t, outcome.AlreadyStored)
	assert.Empty(t, outcome.Extensions)
	assert.Empty(t, outcome.CrashedDatasets)
	assert.Empty(t, catalog.pushed)
	assert.Empty(t, archiver.packaged)
}

func TestEngineRun_ResourceFailuresContained(t *testing.T) {
	ds := &core.Dataset{
		ID:   "d1",
		Name: "d1",
		Resources: []core.Resource{
			{ID: "r1", DatasetID: "d1", Format: "csv"},
			{ID: "r2", DatasetID: "d1", Format: "csv"},
			{ID: "r3", DatasetID: "d1", Format: "csv"},
			{ID: "r4", DatasetID: "d1", Format: "csv"},
		},
	}
	pushErrs := map[string]error{
		"r1": &core.MissingFieldError{Field: "url"},
		"r2": fmt.Errorf("update failed: %w", &core.ValidationError{Detail: "bad payload"}),
		"r3": fmt.Errorf("connection reset"),
	}

	catalog := catalogOf(ds)
	catalog.pushFunc = func(ctx context.Context, res *core.Resource) error {
		return pushErrs[res.ID]
	}
	archiver := &mockArchiver{}
	engine := newTestEngine(t, catalog, archiver, &config.MigrationConfig{})

	outcome, err := engine.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.KeyErrors)
	assert.Equal(t, 1, outcome.ValidationErrors)
	assert.Equal(t, []ResourceError{{DatasetID: "d1", Detail: "connection reset"}}, outcome.OtherErrors)
	assert.Equal(t, []string{"d1"}, outcome.CrashedDatasets)
	assert.Equal(t, 4, outcome.Eligible)
	assert.Equal(t, 1, outcome.Migrated)

	// every sibling was still attempted, in source order, and the dataset
	// was still packaged
	assert.Equal(t, []string{"r1", "r2", "r3", "r4"}, catalog.pushed)
	assert.Equal(t, []string{"d1"}, archiver.packaged)
}

func TestEngineRun_AlreadyStored(t *testing.T) {
	buildCatalog := func() *mockCatalog {
		return catalogOf(&core.Dataset{
			ID:   "d1",
			Name: "d1",
			Resources: []core.Resource{
				{ID: "r1", DatasetID: "d1", Format: "csv", URLType: core.URLTypeObjectStore},
				{ID: "r2", DatasetID: "d1", Format: "csv"},
			},
		})
	}

	t.Run("Default run skips stored resources", func(t *testing.T) {
		catalog := buildCatalog()
		engine := newTestEngine(t, catalog, &mockArchiver{}, &config.MigrationConfig{})

		outcome, err := engine.Run(context.Background(), false)
		require.NoError(t, err)

		assert.Equal(t, []string{"r1"}, outcome.AlreadyStored)
		assert.Equal(t, 1, outcome.Eligible)
		assert.Equal(t, []string{"r2"}, catalog.pushed)
	})

	t.Run("Force migrates stored resources again", func(t *testing.T) {
		catalog := buildCatalog()
		engine := newTestEngine(t, catalog, &mockArchiver{}, &config.MigrationConfig{})

		outcome, err := engine.Run(context.Background(), true)
		require.NoError(t, err)

		assert.Empty(t, outcome.AlreadyStored)
		assert.Equal(t, 2, outcome.Eligible)
		assert.Equal(t, 2, outcome.Migrated)
		assert.Equal(t, []string{"r1", "r2"}, catalog.pushed)
	})
}

func TestEngineRun_PackagingFailure(t *testing.T) {
	ds := &core.Dataset{
		ID:   "d1",
		Name: "d1",
		Resources: []core.Resource{
			{ID: "r1", DatasetID: "d1", Format: "csv"},
		},
	}
	catalog := catalogOf(ds)
	archiver := &mockArchiver{
		packageFunc: func(ctx context.Context, ds *core.Dataset) error {
			return fmt.Errorf("archive upload failed")
		},
	}
	engine := newTestEngine(t, catalog, archiver, &config.MigrationConfig{})

	outcome, err := engine.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, []DatasetError{{Dataset: "d1", Detail: "archive upload failed"}}, outcome.DatasetErrors)
	// the migrations recorded before the packaging failure are kept
	assert.Equal(t, 1, outcome.Eligible)
	assert.Equal(t, 1, outcome.Migrated)
	assert.Equal(t, []string{"d1"}, archiver.packaged)
}

func TestEngineRun_EmptyDatasetStillPackaged(t *testing.T) {
	catalog := catalogOf(&core.Dataset{ID: "d1", Name: "d1"})
	archiver := &mockArchiver{}
	engine := newTestEngine(t, catalog, archiver, &config.MigrationConfig{})

	outcome, err := engine.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"d1"}, archiver.packaged)
	assert.Empty(t, outcome.DatasetErrors)
	assert.Equal(t, 0, outcome.Eligible)
}

func TestEngineRun_ListFailure(t *testing.T) {
	catalog := &mockCatalog{
		listFunc: func(ctx context.Context) ([]string, error) {
			return nil, fmt.Errorf("catalog unreachable")
		},
	}
	engine := newTestEngine(t, catalog, &mockArchiver{}, &config.MigrationConfig{})

	outcome, err := engine.Run(context.Background(), false)
	assert.Error(t, err)
	assert.Nil(t, outcome)
}

func TestEngineRun_Cancelled(t *testing.T) {
	names := []string{"d1", "d2", "d3"}
	catalog := &mockCatalog{
		listFunc: func(ctx context.Context) ([]string, error) {
			return names, nil
		},
		getFunc: func(ctx context.Context, name string) (*core.Dataset, error) {
			return &core.Dataset{ID: name, Name: name}, nil
		},
	}
	archiver := &mockArchiver{}
	engine := newTestEngine(t, catalog, archiver, &config.MigrationConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := engine.Run(ctx, false)
	require.NoError(t, err)
	require.NotNil(t, outcome)

	assert.Equal(t, 0, catalog.getCalls)
	assert.Empty(t, archiver.packaged)
}

func TestEngineRun_Workers(t *testing.T) {
	const numDatasets = 12

	buildCatalog := func() *mockCatalog {
		datasets := make([]*core.Dataset, 0, numDatasets)
		for i := 0; i < numDatasets; i++ {
			name := fmt.Sprintf("d%02d", i)
			datasets = append(datasets, &core.Dataset{
				ID:   name,
				Name: name,
				Resources: []core.Resource{
					{ID: name + "-a", DatasetID: name, Format: "csv"},
					{ID: name + "-b", DatasetID: name, Format: "csv"},
					{ID: name + "-c", DatasetID: name, Format: "zip"},
					{ID: name + "-d", DatasetID: name, Format: "pdf", URLType: core.URLTypeObjectStore},
				},
			})
		}
		return catalogOf(datasets...)
	}

	run := func(workers int) (*Outcome, *mockCatalog, *mockArchiver) {
		catalog := buildCatalog()
		archiver := &mockArchiver{}
		engine := newTestEngine(t, catalog, archiver, &config.MigrationConfig{
			ExcludedFormats: "zip",
			Workers:         workers,
		})
		outcome, err := engine.Run(context.Background(), false)
		require.NoError(t, err)
		return outcome, catalog, archiver
	}

	seq, _, _ := run(1)
	par, parCatalog, parArchiver := run(4)

	// dataset order varies across workers but the totals do not
	assert.Equal(t, seq.Eligible, par.Eligible)
	assert.Equal(t, seq.Migrated, par.Migrated)
	assert.Equal(t, seq.KeyErrors, par.KeyErrors)
	assert.Equal(t, seq.ValidationErrors, par.ValidationErrors)
	assert.Equal(t, seq.CrashedDatasets, par.CrashedDatasets)
	assert.Equal(t, seq.Extensions, par.Extensions)
	assert.ElementsMatch(t, seq.AlreadyStored, par.AlreadyStored)
	assert.ElementsMatch(t, seq.Excluded, par.Excluded)

	assert.Equal(t, 2*numDatasets, par.Eligible)
	assert.Equal(t, 2*numDatasets, par.Migrated)
	assert.Len(t, parArchiver.packaged, numDatasets)

	// resources within a dataset keep their source order under concurrency
	for i := 0; i < numDatasets; i++ {
		name := fmt.Sprintf("d%02d", i)
		first := parCatalog.pushedIndex(name + "-a")
		second := parCatalog.pushedIndex(name + "-b")
		require.NotEqual(t, -1, first)
		require.NotEqual(t, -1, second)
		assert.Less(t, first, second)
	}
}

func TestNewEngine_InvalidExcludedFormats(t *testing.T) {
	catalog := catalogOf()
	_, err := NewEngine(catalog, &mockArchiver{}, &config.MigrationConfig{ExcludedFormats: "["}, zerolog.Nop())
	assert.Error(t, err)
}

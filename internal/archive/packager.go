package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"github.com/datagovtools/porter/internal/core"
	"github.com/datagovtools/porter/pkg/fsx"
	"github.com/rs/zerolog"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
)

const (
	// DefaultArchivePrefix is used when the migration configuration leaves
	// the archive prefix empty.
	DefaultArchivePrefix = "archives"

	// archiveContentType is recorded on every uploaded archive object.
	archiveContentType = "application/zip"
)

// Packager bundles a dataset's resources into a zip archive and uploads it
// to the object store under {prefix}/{dataset-name}.zip.
type Packager struct {
	prefix     string
	store      core.ObjectStore
	httpClient *http.Client
	log        zerolog.Logger
}

// NewPackager creates a Packager writing archives under the given key prefix.
func NewPackager(archivePrefix string, store core.ObjectStore, log zerolog.Logger) *Packager {
	if archivePrefix == "" {
		archivePrefix = DefaultArchivePrefix
	}

	return &Packager{
		prefix:     archivePrefix,
		store:      store,
		httpClient: &http.Client{},
		log:        log,
	}
}

// PackageDataset bundles the current content of every resource in the
// dataset into a zip archive and uploads it to the object store.
//
// Parameters:
//   - ctx: context for cancellation; aborts in-flight content fetches.
//   - ds: the dataset to package, with resource URLs reflecting any
//     migrations performed earlier in the run.
//
// Returns:
//   - error: nil when the archive was uploaded; any fetch, write, or upload
//     failure, with the dataset left unpackaged.
//
// Behavior:
//   - The archive is spooled to a temp file which is always removed.
//   - A dataset with zero resources produces an empty archive; the archive
//     is uploaded either way.
//   - A resource with an empty URL aborts packaging.
func (p *Packager) PackageDataset(ctx context.Context, ds *core.Dataset) error {
	spool, err := os.CreateTemp("", "porter-*.zip")
	if err != nil {
		return fmt.Errorf("failed to create archive spool file: %w", err)
	}

	spoolPath := spool.Name()
	defer fsx.RemoveFile(spoolPath)

	if err = p.writeArchive(ctx, spool, ds); err != nil {
		fsx.CloseFile(spool)
		return err
	}

	if err = spool.Close(); err != nil {
		return fmt.Errorf("failed to close archive spool file: %w", err)
	}

	md5sum, err := fsx.FileMD5(spoolPath)
	if err != nil {
		return fmt.Errorf("failed to compute archive checksum for dataset %s: %w", ds.Name, err)
	}

	stat, err := os.Stat(spoolPath)
	if err != nil {
		return fmt.Errorf("failed to stat archive spool file: %w", err)
	}

	key := path.Join(p.prefix, ds.Name+".zip")
	url, err := p.store.PutFile(ctx, key, spoolPath, archiveContentType)
	if err != nil {
		return fmt.Errorf("failed to upload archive for dataset %s: %w", ds.Name, err)
	}

	p.log.Info().
		Str("dataset", ds.Name).
		Str("key", key).
		Str("md5", md5sum).
		Int64("size_bytes", stat.Size()).
		Int("entries", len(ds.Resources)).
		Str("url", url).
		Msg("Packaged dataset archive")

	return nil
}

func (p *Packager) writeArchive(ctx context.Context, w io.Writer, ds *core.Dataset) error {
	zw := zip.NewWriter(w)
	seen := make(map[string]int, len(ds.Resources))

	for i := range ds.Resources {
		if err := p.addEntry(ctx, zw, &ds.Resources[i], seen); err != nil {
			_ = zw.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive for dataset %s: %w", ds.Name, err)
	}

	return nil
}

func (p *Packager) addEntry(ctx context.Context, zw *zip.Writer, res *core.Resource, seen map[string]int) error {
	if res.URL == "" {
		return fmt.Errorf("resource %s has no url to package", res.ID)
	}

	body, err := p.fetch(ctx, res.URL)
	if err != nil {
		return fmt.Errorf("failed to fetch content of resource %s: %w", res.ID, err)
	}

	defer func() { _ = body.Close() }()

	entry := entryName(res, seen)
	w, err := zw.Create(entry)
	if err != nil {
		return fmt.Errorf("failed to create archive entry %s: %w", entry, err)
	}

	if _, err = io.Copy(w, body); err != nil {
		return fmt.Errorf("failed to write archive entry %s: %w", entry, err)
	}

	return nil
}

func (p *Packager) fetch(ctx context.Context, contentURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, contentURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build content request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch resource content: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch resource content from %s: status %s", contentURL, resp.Status)
	}

	return resp.Body, nil
}

// entryName derives the archive entry name for a resource. Entries are
// slash-free, carry the lowercased format as extension, and get a numeric
// suffix when a dataset holds duplicate names.
func entryName(res *core.Resource, seen map[string]int) string {
	name := res.Name
	if name == "" {
		name = res.ID
	}

	name = sanitizeEntryName(name)
	if format := strings.ToLower(strings.TrimSpace(res.Format)); format != "" {
		if !strings.HasSuffix(strings.ToLower(name), "."+format) {
			name = name + "." + format
		}
	}

	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}

	ext := path.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
}

func sanitizeEntryName(name string) string {
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, "\\", "-")
	name = strings.Trim(name, ". ")
	if name == "" {
		name = "resource"
	}

	return name
}

package core

import (
	"context"
	"io"
)

// URLTypeObjectStore is the catalog's location-type tag for a resource whose
// content already lives in the object store. Resources carrying any other
// tag (commonly an empty string or "upload") are still at their original
// location.
const URLTypeObjectStore = "s3"

// Resource is a single file entry belonging to a Dataset.
//
// Fields:
//   - ID: The catalog identifier of the resource.
//   - DatasetID: The identifier of the owning dataset.
//   - Name: The display name of the resource.
//   - URL: The current download location of the resource content.
//   - Format: The filetype/extension string recorded by the catalog (e.g. "CSV").
//   - URLType: The storage-location-type tag; see URLTypeObjectStore.
//
// Notes:
//   - Resources are never created or destroyed by this tool; a successful
//     migration rewrites URL and URLType in place so that later stages
//     (archive packaging) observe the post-migration state.
type Resource struct {
	ID        string `json:"id"`
	DatasetID string `json:"package_id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Format    string `json:"format"`
	URLType   string `json:"url_type"`
}

// Dataset is a named collection of resources in the catalog.
//
// Fields:
//   - ID: The catalog identifier of the dataset.
//   - Name: The unique dataset name used for lookups.
//   - NumResources: The resource count reported by the catalog.
//   - Resources: The ordered resource list; processing order follows it.
type Dataset struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	NumResources int        `json:"num_resources"`
	Resources    []Resource `json:"resources"`
}

// Catalog is the metadata service the migration runs against.
//
// Methods:
//   - ListDatasetNames: Enumerates every dataset name in the catalog.
//   - GetDataset: Fetches one dataset record including its full resource list.
//   - PushResource: Uploads the resource content to the object store and
//     updates the catalog record to point at the new location. On success the
//     passed Resource is mutated (URL, URLType) to reflect the migration.
//
// Notes:
//   - PushResource failures are classified by the caller via errors.As:
//     *ValidationError (catalog rejected the payload), *MissingFieldError
//     (malformed resource record), anything else is an unexpected failure
//     whose message must be preserved for the run report.
//   - No cleanup is attempted on partial failure; atomicity of the
//     upload+update pair is the service's responsibility.
type Catalog interface {
	ListDatasetNames(ctx context.Context) ([]string, error)
	GetDataset(ctx context.Context, name string) (*Dataset, error)
	PushResource(ctx context.Context, res *Resource) error
}

// Archiver bundles a dataset's current resources into an archive and stores
// it alongside the migrated content. It is invoked once per dataset after
// all of the dataset's resources have been visited.
type Archiver interface {
	PackageDataset(ctx context.Context, ds *Dataset) error
}

// ObjectStore is an S3-compatible bucket the tool writes into.
//
// Methods:
//   - EnsureBucket: Creates the configured bucket when it does not exist yet.
//   - Put: Streams an object into the bucket and returns its public URL.
//     A negative size is allowed and switches the client to multipart upload.
//   - PutFile: Uploads a local file (used for spooled archives).
//   - ObjectURL: Computes the public URL for a key without uploading.
type ObjectStore interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	PutFile(ctx context.Context, key string, path string, contentType string) (string, error)
	ObjectURL(key string) string
}

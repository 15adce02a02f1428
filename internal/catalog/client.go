package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"github.com/datagovtools/porter/internal/config"
	"github.com/datagovtools/porter/internal/core"
	"github.com/rs/zerolog"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// DefaultTimeout bounds every catalog request when the configuration does
// not specify one.
const DefaultTimeout = 30 * time.Second

// validationErrorType is the error type tag the catalog uses when it rejects
// a payload as structurally invalid.
const validationErrorType = "Validation Error"

// Client speaks the catalog's action API and implements core.Catalog.
//
// Pushing a resource uploads its content to the object store first, then
// updates the catalog record to point at the new location. Content uploads
// go under "{prefix}/{dataset-id}/{resource-id}/{filename}".
type Client struct {
	baseURL    string
	apiKey     string
	prefix     string
	store      core.ObjectStore
	httpClient *http.Client
	log        zerolog.Logger
}

// actionResponse is the envelope of every action API reply.
type actionResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *actionError    `json:"error,omitempty"`
}

// actionError is the error detail of a failed action API reply.
type actionError struct {
	Type    string `json:"__type"`
	Message string `json:"message"`
}

// NewClient constructs a catalog client.
//
// Parameters:
//   - catalogConfig: The catalog settings, already holding the resolved API key.
//   - prefix: The object key prefix for migrated resource content.
//   - store: The object store receiving resource content.
//   - log: The logger for request progress and failures.
//
// Returns:
//   - The client, or an error if the configuration is invalid.
func NewClient(catalogConfig config.CatalogConfig, prefix string, store core.ObjectStore, log zerolog.Logger) (*Client, error) {
	if err := config.ValidateCatalogConfig(catalogConfig); err != nil {
		log.Error().
			Err(err).
			Msg("Invalid catalog configuration")
		return nil, err
	}

	timeout := DefaultTimeout
	if catalogConfig.Timeout != "" {
		parsed, err := time.ParseDuration(catalogConfig.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to parse catalog timeout: %w", err)
		}
		timeout = parsed
	}

	return &Client{
		baseURL:    strings.TrimRight(catalogConfig.BaseURL, "/"),
		apiKey:     catalogConfig.APIKey,
		prefix:     prefix,
		store:      store,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}, nil
}

// ListDatasetNames returns the names of every dataset in the catalog.
func (c *Client) ListDatasetNames(ctx context.Context) ([]string, error) {
	result, err := c.do(ctx, http.MethodGet, "package_list", nil, nil)
	if err != nil {
		return nil, err
	}

	var names []string
	if err := json.Unmarshal(result, &names); err != nil {
		return nil, fmt.Errorf("failed to decode dataset names: %w", err)
	}
	return names, nil
}

// GetDataset fetches a dataset record with its full resource list.
func (c *Client) GetDataset(ctx context.Context, name string) (*core.Dataset, error) {
	params := url.Values{"id": []string{name}}
	result, err := c.do(ctx, http.MethodGet, "package_show", params, nil)
	if err != nil {
		return nil, err
	}

	var ds core.Dataset
	if err := json.Unmarshal(result, &ds); err != nil {
		return nil, fmt.Errorf("failed to decode dataset %s: %w", name, err)
	}
	return &ds, nil
}

// PushResource migrates one resource: it fetches the content from the
// resource's current URL, streams it into the object store and updates the
// catalog record with the new location. On success the passed resource is
// mutated to its post-migration state.
//
// Failure modes:
//   - *core.MissingFieldError when a required field is absent from the record.
//   - *core.ValidationError when the catalog rejects the update.
//   - Any other error for fetch, store or transport failures.
//
// No cleanup is attempted on failure; content already uploaded stays in the
// object store until the next successful run overwrites it.
func (c *Client) PushResource(ctx context.Context, res *core.Resource) error {
	if err := requireFields(res); err != nil {
		return err
	}

	key := path.Join(c.prefix, res.DatasetID, res.ID, objectFileName(res))

	c.log.Debug().
		Str("resource", res.ID).
		Str("url", res.URL).
		Str("object", key).
		Msg("Fetching resource content")

	body, size, contentType, err := c.fetchContent(ctx, res.URL)
	if err != nil {
		return err
	}
	defer func() {
		_ = body.Close()
	}()

	newURL, err := c.store.Put(ctx, key, body, size, contentType)
	if err != nil {
		return fmt.Errorf("failed to store content of resource %s: %w", res.ID, err)
	}

	updated := *res
	updated.URL = newURL
	updated.URLType = core.URLTypeObjectStore

	if _, err := c.do(ctx, http.MethodPost, "resource_update", nil, &updated); err != nil {
		return err
	}

	res.URL = newURL
	res.URLType = core.URLTypeObjectStore

	c.log.Debug().
		Str("resource", res.ID).
		Str("url", newURL).
		Msg("Catalog record updated")
	return nil
}

// fetchContent downloads the current resource content. The returned reader
// streams the full body; the content type comes from the response header or,
// when absent, from sniffing the first bytes.
func (c *Client) fetchContent(ctx context.Context, contentURL string) (io.ReadCloser, int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, contentURL, nil)
	if err != nil {
		return nil, 0, "", fmt.Errorf("failed to build content request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, "", fmt.Errorf("failed to fetch resource content: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, 0, "", fmt.Errorf("failed to fetch resource content from %s: status %s", contentURL, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" {
		return resp.Body, resp.ContentLength, contentType, nil
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		_ = resp.Body.Close()
		return nil, 0, "", fmt.Errorf("failed to read resource content: %w", err)
	}
	head = head[:n]

	body := struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), resp.Body), resp.Body}

	return body, resp.ContentLength, http.DetectContentType(head), nil
}

// do performs one action API call and unwraps its envelope.
func (c *Client) do(ctx context.Context, method, action string, params url.Values, payload any) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/api/3/action/%s", c.baseURL, action)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", action, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog %s request failed: %w", action, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", action, err)
	}

	var envelope actionResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("catalog %s failed with status %s", action, resp.Status)
		}
		return nil, fmt.Errorf("failed to decode %s response: %w", action, err)
	}

	if !envelope.Success || resp.StatusCode != http.StatusOK {
		if envelope.Error != nil {
			if envelope.Error.Type == validationErrorType {
				return nil, &core.ValidationError{Detail: envelope.Error.Message}
			}
			return nil, fmt.Errorf("catalog %s failed: %s: %s", action, envelope.Error.Type, envelope.Error.Message)
		}
		return nil, fmt.Errorf("catalog %s failed with status %s", action, resp.Status)
	}

	return envelope.Result, nil
}

// requireFields checks the fields PushResource cannot work without.
func requireFields(res *core.Resource) error {
	switch {
	case res.ID == "":
		return &core.MissingFieldError{Field: "id"}
	case res.DatasetID == "":
		return &core.MissingFieldError{Field: "package_id"}
	case res.Name == "":
		return &core.MissingFieldError{Field: "name"}
	case res.URL == "":
		return &core.MissingFieldError{Field: "url"}
	}
	return nil
}

// objectFileName derives the object filename for a resource from the last
// segment of its current URL, falling back to its id and format.
func objectFileName(res *core.Resource) string {
	if u, err := url.Parse(res.URL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			return base
		}
	}
	if res.Format != "" {
		return fmt.Sprintf("%s.%s", res.ID, strings.ToLower(res.Format))
	}
	return res.ID
}

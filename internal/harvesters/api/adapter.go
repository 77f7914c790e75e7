// Package api implements the JSON REST harvester. It polls a listing
// endpoint whose response shape is described by source configuration, so
// one adapter serves many registries without per-agency code.
package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/araddon/dateparse"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driven"
)

// Ensure Adapter implements the interface.
var _ driven.SourceAdapter = (*Adapter)(nil)

const (
	fetchAttempts = 3
	retryDelay    = 500 * time.Millisecond
)

// fieldConfig maps the source's JSON shape onto listing items.
type fieldConfig struct {
	// itemsPath is the dot-separated path to the listing array, empty when
	// the response root is the array itself.
	itemsPath     string
	idField       string
	urlField      string
	titleField    string
	modifiedField string
}

// cachedResponse holds the validators and body of the last fetch of a URL
// so a 304 can be answered from cache.
type cachedResponse struct {
	etag         string
	lastModified string
	contentType  string
	body         []byte
}

// Adapter harvests a JSON REST listing endpoint.
type Adapter struct {
	source domain.Source
	fields fieldConfig
	token  string
	client *http.Client

	mu    sync.Mutex
	cache map[string]cachedResponse
}

// New creates an API adapter for the source.
func New(source domain.Source) (*Adapter, error) {
	if source.Endpoint == "" {
		return nil, fmt.Errorf("api source %s: empty endpoint: %w", source.ID, domain.ErrInvalidInput)
	}

	fields := fieldConfig{
		itemsPath:     source.Config["items_path"],
		idField:       configOr(source, "id_field", "id"),
		urlField:      configOr(source, "url_field", "url"),
		titleField:    configOr(source, "title_field", "title"),
		modifiedField: configOr(source, "modified_field", "modified"),
	}

	return &Adapter{
		source: source,
		fields: fields,
		token:  source.Config["auth_token"],
		client: &http.Client{Timeout: 30 * time.Second},
		cache:  make(map[string]cachedResponse),
	}, nil
}

func configOr(source domain.Source, key, fallback string) string {
	if v := source.Config[key]; v != "" {
		return v
	}
	return fallback
}

// Kind returns the harvester kind identifier.
func (a *Adapter) Kind() domain.SourceKind {
	return domain.KindAPI
}

// SourceID returns the configured source ID.
func (a *Adapter) SourceID() string {
	return a.source.ID
}

// Capabilities returns what this adapter supports.
func (a *Adapter) Capabilities() driven.AdapterCapabilities {
	return driven.AdapterCapabilities{SupportsConditionalFetch: true}
}

// List fetches the listing endpoint and maps the configured fields onto
// listing items. An entry missing its id field is skipped.
func (a *Adapter) List(ctx context.Context) ([]domain.ListingItem, error) {
	body, _, err := a.get(ctx, a.source.Endpoint, false)
	if err != nil {
		return nil, err
	}

	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("parsing listing %s: %w", a.source.Endpoint, domain.ErrSourceFormatChanged)
	}

	entries, err := a.itemsAt(root)
	if err != nil {
		return nil, err
	}

	items := make([]domain.ListingItem, 0, len(entries))
	for _, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("listing %s: entry is not an object: %w",
				a.source.Endpoint, domain.ErrSourceFormatChanged)
		}

		nativeID := stringField(entry, a.fields.idField)
		if nativeID == "" {
			continue
		}

		item := domain.ListingItem{
			SourceID: a.source.ID,
			NativeID: nativeID,
			URL:      stringField(entry, a.fields.urlField),
			Title:    stringField(entry, a.fields.titleField),
		}

		if modified := stringField(entry, a.fields.modifiedField); modified != "" {
			item.CursorToken = modified
			if parsed, err := dateparse.ParseAny(modified); err == nil {
				item.DeclaredModified = parsed.UTC()
			}
		} else {
			item.CursorToken = entryDigest(entry)
		}

		items = append(items, item)
	}

	return items, nil
}

// Fetch retrieves the full raw artifact for a listing item. Validators
// from the previous fetch of the same URL are sent; a 304 is answered
// from the cached body so the fingerprint check still runs on real bytes.
func (a *Adapter) Fetch(ctx context.Context, item domain.ListingItem) (*domain.RawArtifact, error) {
	if item.URL == "" {
		return nil, fmt.Errorf("item %s has no URL: %w", item.NativeID, domain.ErrInvalidInput)
	}

	body, contentType, err := a.get(ctx, item.URL, true)
	if err != nil {
		return nil, err
	}

	return &domain.RawArtifact{
		SourceID:    a.source.ID,
		OriginURL:   item.URL,
		ContentType: contentType,
		Body:        body,
		RetrievedAt: time.Now().UTC(),
	}, nil
}

// Close releases resources.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

// itemsAt walks the configured items path into the decoded response.
func (a *Adapter) itemsAt(root any) ([]any, error) {
	node := root
	if a.fields.itemsPath != "" {
		for _, key := range strings.Split(a.fields.itemsPath, ".") {
			obj, ok := node.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("listing %s: path %q not found: %w",
					a.source.Endpoint, a.fields.itemsPath, domain.ErrSourceFormatChanged)
			}
			node = obj[key]
		}
	}

	entries, ok := node.([]any)
	if !ok {
		return nil, fmt.Errorf("listing %s: path %q is not an array: %w",
			a.source.Endpoint, a.fields.itemsPath, domain.ErrSourceFormatChanged)
	}
	return entries, nil
}

// get retrieves a URL with retries for transient failures. When
// conditional is set, cached validators are sent and 304 responses are
// served from cache.
func (a *Adapter) get(ctx context.Context, url string, conditional bool) ([]byte, string, error) {
	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(time.Duration(attempt) * retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, "", fmt.Errorf("building request for %s: %w", url, err)
		}
		req.Header.Set("Accept", "application/json, */*")
		if a.token != "" {
			req.Header.Set("Authorization", "Bearer "+a.token)
		}

		var cached cachedResponse
		var haveCache bool
		if conditional {
			a.mu.Lock()
			cached, haveCache = a.cache[url]
			a.mu.Unlock()
			if haveCache {
				if cached.etag != "" {
					req.Header.Set("If-None-Match", cached.etag)
				}
				if cached.lastModified != "" {
					req.Header.Set("If-Modified-Since", cached.lastModified)
				}
			}
		}

		resp, err := a.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("fetching %s: %w: %w", url, domain.ErrSourceUnreachable, err)
			continue
		}

		if resp.StatusCode == http.StatusNotModified && haveCache {
			resp.Body.Close()
			return cached.body, cached.contentType, nil
		}
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("fetching %s: status %d: %w", url, resp.StatusCode, domain.ErrSourceUnreachable)
			continue
		}
		if resp.StatusCode >= http.StatusBadRequest {
			resp.Body.Close()
			return nil, "", fmt.Errorf("fetching %s: status %d: %w", url, resp.StatusCode, domain.ErrSourceUnreachable)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("reading %s: %w: %w", url, domain.ErrSourceUnreachable, err)
			continue
		}

		contentType := resp.Header.Get("Content-Type")
		if conditional {
			a.mu.Lock()
			a.cache[url] = cachedResponse{
				etag:         resp.Header.Get("ETag"),
				lastModified: resp.Header.Get("Last-Modified"),
				contentType:  contentType,
				body:         body,
			}
			a.mu.Unlock()
		}

		return body, contentType, nil
	}
	return nil, "", lastErr
}

// stringField extracts a field as a string, accepting JSON strings and
// numbers (registries disagree on numeric vs string ids).
func stringField(entry map[string]any, key string) string {
	switch v := entry[key].(type) {
	case string:
		return v
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%.0f", v), ".")
	default:
		return ""
	}
}

// entryDigest hashes an entry's canonical JSON for sources that declare
// no modification field.
func entryDigest(entry map[string]any) string {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:16])
}

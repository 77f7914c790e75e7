// Package rss implements the feed harvester. It polls an RSS or Atom
// listing and exposes feed entries as listing items.
package rss

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driven"
)

// Ensure Adapter implements the interface.
var _ driven.SourceAdapter = (*Adapter)(nil)

// defaultUserAgent is a browser-like identity. Several government feed
// hosts reject default Go client identities outright.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

const (
	fetchAttempts = 3
	retryDelay    = 500 * time.Millisecond
)

// Adapter harvests an RSS or Atom feed.
type Adapter struct {
	source    domain.Source
	userAgent string
	client    *http.Client
	parser    *gofeed.Parser
}

// New creates an RSS adapter for the source.
func New(source domain.Source) (*Adapter, error) {
	if source.Endpoint == "" {
		return nil, fmt.Errorf("rss source %s: empty endpoint: %w", source.ID, domain.ErrInvalidInput)
	}

	userAgent := source.Config["user_agent"]
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Adapter{
		source:    source,
		userAgent: userAgent,
		client:    &http.Client{Timeout: 30 * time.Second},
		parser:    gofeed.NewParser(),
	}, nil
}

// Kind returns the harvester kind identifier.
func (a *Adapter) Kind() domain.SourceKind {
	return domain.KindRSS
}

// SourceID returns the configured source ID.
func (a *Adapter) SourceID() string {
	return a.source.ID
}

// Capabilities returns what this adapter supports.
func (a *Adapter) Capabilities() driven.AdapterCapabilities {
	return driven.AdapterCapabilities{}
}

// List fetches and parses the feed.
func (a *Adapter) List(ctx context.Context) ([]domain.ListingItem, error) {
	body, _, err := a.get(ctx, a.source.Endpoint)
	if err != nil {
		return nil, err
	}

	feed, err := a.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", a.source.Endpoint, domain.ErrSourceFormatChanged)
	}

	items := make([]domain.ListingItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		nativeID := entry.GUID
		if nativeID == "" {
			nativeID = entry.Link
		}
		if nativeID == "" {
			continue
		}

		item := domain.ListingItem{
			SourceID:    a.source.ID,
			NativeID:    nativeID,
			URL:         entry.Link,
			Title:       entry.Title,
			CursorToken: cursorToken(entry),
		}
		if entry.UpdatedParsed != nil {
			item.DeclaredModified = *entry.UpdatedParsed
		} else if entry.PublishedParsed != nil {
			item.DeclaredModified = *entry.PublishedParsed
		}
		items = append(items, item)
	}

	return items, nil
}

// Fetch retrieves the full raw artifact behind a feed entry.
func (a *Adapter) Fetch(ctx context.Context, item domain.ListingItem) (*domain.RawArtifact, error) {
	if item.URL == "" {
		return nil, fmt.Errorf("item %s has no URL: %w", item.NativeID, domain.ErrInvalidInput)
	}

	body, contentType, err := a.get(ctx, item.URL)
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

// get retrieves a URL with retries for transient failures.
func (a *Adapter) get(ctx context.Context, url string) ([]byte, string, error) {
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
		req.Header.Set("User-Agent", a.userAgent)

		resp, err := a.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("fetching %s: %w: %w", url, domain.ErrSourceUnreachable, err)
			continue
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

		return body, resp.Header.Get("Content-Type"), nil
	}
	return nil, "", lastErr
}

// cursorToken derives the listing token for a feed entry: the declared
// modification timestamp when present, otherwise a digest of the entry's
// visible fields. The token only nominates candidates; raw bytes confirm.
func cursorToken(entry *gofeed.Item) string {
	if entry.UpdatedParsed != nil {
		return entry.UpdatedParsed.UTC().Format(time.RFC3339)
	}
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed.UTC().Format(time.RFC3339)
	}
	sum := sha256.Sum256([]byte(entry.GUID + "\x00" + entry.Title + "\x00" + entry.Description))
	return hex.EncodeToString(sum[:16])
}

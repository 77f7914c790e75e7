// Package scrape implements the HTML listing harvester for agencies that
// publish neither a feed nor an API. Anchors are matched by a configurable
// pattern, requests honour the source's politeness delay, and the client
// identity rotates to survive anti-automation defences.
package scrape

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driven"
)

// Ensure Adapter implements the interface.
var _ driven.SourceAdapter = (*Adapter)(nil)

// defaultItemPattern matches anchor tags, capturing href and inner text.
const defaultItemPattern = `(?is)<a\s[^>]*href\s*=\s*"([^"#]+)"[^>]*>(.*?)</a>`

// identityPool holds browser-like User-Agent strings the adapter rotates
// through. Government portals running anti-bot layers reject a stable
// non-browser identity after a few requests.
var identityPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

const (
	fetchAttempts         = 3
	retryDelay            = time.Second
	defaultPoliteness     = 2 * time.Second
	defaultRequestTimeout = 45 * time.Second
)

var tagPattern = regexp.MustCompile(`(?s)<[^>]*>`)

// Adapter harvests an HTML listing page.
type Adapter struct {
	source      domain.Source
	base        *url.URL
	itemPattern *regexp.Regexp
	linkFilter  *regexp.Regexp
	limiter     *rate.Limiter
	client      *http.Client
	identity    atomic.Uint32
}

// New creates a scrape adapter for the source.
func New(source domain.Source) (*Adapter, error) {
	if source.Endpoint == "" {
		return nil, fmt.Errorf("scrape source %s: empty endpoint: %w", source.ID, domain.ErrInvalidInput)
	}

	base, err := url.Parse(source.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("scrape source %s: invalid endpoint: %w", source.ID, domain.ErrInvalidInput)
	}

	pattern := source.Config["item_pattern"]
	if pattern == "" {
		pattern = defaultItemPattern
	}
	itemPattern, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("scrape source %s: invalid item_pattern: %w", source.ID, domain.ErrInvalidInput)
	}
	if itemPattern.NumSubexp() < 2 {
		return nil, fmt.Errorf("scrape source %s: item_pattern needs href and title captures: %w",
			source.ID, domain.ErrInvalidInput)
	}

	var linkFilter *regexp.Regexp
	if filter := source.Config["link_filter"]; filter != "" {
		linkFilter, err = regexp.Compile(filter)
		if err != nil {
			return nil, fmt.Errorf("scrape source %s: invalid link_filter: %w", source.ID, domain.ErrInvalidInput)
		}
	}

	politeness := source.PolitenessDelay
	if politeness <= 0 {
		politeness = defaultPoliteness
	}

	return &Adapter{
		source:      source,
		base:        base,
		itemPattern: itemPattern,
		linkFilter:  linkFilter,
		limiter:     rate.NewLimiter(rate.Every(politeness), 1),
		client:      &http.Client{Timeout: defaultRequestTimeout},
	}, nil
}

// Kind returns the harvester kind identifier.
func (a *Adapter) Kind() domain.SourceKind {
	return domain.KindScrape
}

// SourceID returns the configured source ID.
func (a *Adapter) SourceID() string {
	return a.source.ID
}

// Capabilities returns what this adapter supports.
func (a *Adapter) Capabilities() driven.AdapterCapabilities {
	return driven.AdapterCapabilities{
		RequiresPoliteness: true,
		RotatesIdentity:    true,
	}
}

// List fetches the listing page and extracts matching anchors. Relative
// links are resolved against the endpoint. The item's cursor token hashes
// the matched snippet, so a retitled entry becomes a candidate.
func (a *Adapter) List(ctx context.Context) ([]domain.ListingItem, error) {
	body, _, err := a.get(ctx, a.source.Endpoint)
	if err != nil {
		return nil, err
	}

	matches := a.itemPattern.FindAllStringSubmatch(string(body), -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("listing %s: no anchors matched: %w",
			a.source.Endpoint, domain.ErrSourceFormatChanged)
	}

	seen := make(map[string]bool)
	items := make([]domain.ListingItem, 0, len(matches))
	for _, match := range matches {
		href := strings.TrimSpace(match[1])
		if a.linkFilter != nil && !a.linkFilter.MatchString(href) {
			continue
		}

		resolved, err := a.base.Parse(href)
		if err != nil {
			continue
		}
		absolute := resolved.String()
		if seen[absolute] {
			continue
		}
		seen[absolute] = true

		title := stripTags(match[2])
		sum := sha256.Sum256([]byte(absolute + "\x00" + title))

		items = append(items, domain.ListingItem{
			SourceID:    a.source.ID,
			NativeID:    absolute,
			URL:         absolute,
			Title:       title,
			CursorToken: hex.EncodeToString(sum[:16]),
		})
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("listing %s: no anchors passed the filter: %w",
			a.source.Endpoint, domain.ErrSourceFormatChanged)
	}

	return items, nil
}

// Fetch retrieves the full page behind a listing item.
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

// get retrieves a URL under the politeness limiter, rotating identity and
// retrying on transient failures and anti-automation responses.
func (a *Adapter) get(ctx context.Context, target string) ([]byte, string, error) {
	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(time.Duration(attempt) * retryDelay):
			}
		}

		if err := a.limiter.Wait(ctx); err != nil {
			return nil, "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, "", fmt.Errorf("building request for %s: %w", target, err)
		}
		req.Header.Set("User-Agent", a.nextIdentity())
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")

		resp, err := a.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("fetching %s: %w: %w", target, domain.ErrSourceUnreachable, err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
			// Likely an anti-bot rejection; the next attempt carries a
			// different identity.
			resp.Body.Close()
			lastErr = fmt.Errorf("fetching %s: status %d: %w", target, resp.StatusCode, domain.ErrSourceUnreachable)
			continue
		case resp.StatusCode >= http.StatusInternalServerError:
			resp.Body.Close()
			lastErr = fmt.Errorf("fetching %s: status %d: %w", target, resp.StatusCode, domain.ErrSourceUnreachable)
			continue
		case resp.StatusCode >= http.StatusBadRequest:
			resp.Body.Close()
			return nil, "", fmt.Errorf("fetching %s: status %d: %w", target, resp.StatusCode, domain.ErrSourceUnreachable)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("reading %s: %w: %w", target, domain.ErrSourceUnreachable, err)
			continue
		}

		return body, resp.Header.Get("Content-Type"), nil
	}
	return nil, "", lastErr
}

// nextIdentity returns the next User-Agent from the rotation pool.
func (a *Adapter) nextIdentity() string {
	n := a.identity.Add(1)
	return identityPool[int(n)%len(identityPool)]
}

// stripTags reduces anchor inner HTML to its visible text.
func stripTags(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

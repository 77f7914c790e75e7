package extractors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driven"
)

// Ensure Registry implements the interface.
var _ driven.ExtractorRegistry = (*Registry)(nil)

// Registry dispatches artifacts to extractors by declared content type,
// preferring higher priority when several match.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string][]driven.Extractor
}

// NewRegistry creates an empty extractor registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string][]driven.Extractor)}
}

// Register adds an extractor for each of its supported content types.
func (r *Registry) Register(extractor driven.Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, contentType := range extractor.SupportedContentTypes() {
		key := normalizeContentType(contentType)
		r.extractors[key] = append(r.extractors[key], extractor)
		sort.SliceStable(r.extractors[key], func(i, j int) bool {
			return r.extractors[key][i].Priority() > r.extractors[key][j].Priority()
		})
	}
}

// Extract dispatches to the best matching extractor. When the preferred
// extractor rejects the bytes as not matching the declared type, the next
// candidate gets a chance before the artifact is declared unsupported.
func (r *Registry) Extract(ctx context.Context, artifact *domain.RawArtifact) (*domain.Extraction, error) {
	if artifact == nil {
		return nil, domain.ErrInvalidInput
	}

	key := normalizeContentType(artifact.ContentType)

	r.mu.RLock()
	candidates := append([]driven.Extractor(nil), r.extractors[key]...)
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, fmt.Errorf("no extractor for %q: %w", key, domain.ErrUnsupportedFormat)
	}

	var lastErr error
	for _, extractor := range candidates {
		extraction, err := extractor.Extract(ctx, artifact)
		if err == nil {
			return extraction, nil
		}
		lastErr = err
		if !isFormatMismatch(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// SupportedContentTypes returns all content types that can be extracted.
func (r *Registry) SupportedContentTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.extractors))
	for contentType := range r.extractors {
		types = append(types, contentType)
	}
	sort.Strings(types)
	return types
}

// normalizeContentType lowercases a content type and drops parameters
// ("text/html; charset=utf-8" -> "text/html").
func normalizeContentType(contentType string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	return contentType
}

func isFormatMismatch(err error) bool {
	return errors.Is(err, domain.ErrUnsupportedFormat)
}

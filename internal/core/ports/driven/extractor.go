package driven

import (
	"context"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
)

// Extractor converts a raw artifact into normalized text plus structural
// metadata. Each extractor handles specific content types and must be
// deterministic for identical input bytes; fingerprinting happens on raw
// bytes, so extraction never influences change detection.
type Extractor interface {
	// SupportedContentTypes returns the content types this extractor
	// handles, lowercased, without parameters (e.g. "text/html").
	SupportedContentTypes() []string

	// Priority returns the selection priority (higher = preferred).
	// Type-specific extractors should return 50-89, fallbacks 1-9.
	Priority() int

	// Extract produces normalized output for the artifact. Returns
	// ErrExtractionEmpty when the result falls below the minimum content
	// length, ErrUnsupportedFormat when the bytes do not match the
	// declared type.
	Extract(ctx context.Context, artifact *domain.RawArtifact) (*domain.Extraction, error)
}

// ExtractorRegistry selects the appropriate extractor for an artifact by
// declared content type, preferring higher priority on ties.
type ExtractorRegistry interface {
	// Extract dispatches to the best matching extractor.
	// Returns ErrUnsupportedFormat when no extractor matches.
	Extract(ctx context.Context, artifact *domain.RawArtifact) (*domain.Extraction, error)

	// Register adds an extractor to the registry.
	Register(extractor Extractor)

	// SupportedContentTypes returns all content types that can be
	// extracted.
	SupportedContentTypes() []string
}

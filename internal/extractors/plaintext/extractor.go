// Package plaintext implements the fallback extractor for text-like
// artifacts that no richer extractor claims.
package plaintext

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

// minTextLength is the minimum extracted length to accept.
const minTextLength = 100

// Extractor handles plain text documents.
type Extractor struct{}

// New creates a new plain text extractor.
func New() *Extractor {
	return &Extractor{}
}

// SupportedContentTypes returns the content types this extractor handles.
func (e *Extractor) SupportedContentTypes() []string {
	return []string{
		"text/plain",
		"text/markdown",
		"text/csv",
		"application/json",
		"application/xml",
		"text/xml",
	}
}

// Priority returns the selection priority.
func (e *Extractor) Priority() int {
	return 5 // Fallback extractor
}

// Extract normalizes whitespace and takes the first line as the title.
func (e *Extractor) Extract(_ context.Context, artifact *domain.RawArtifact) (*domain.Extraction, error) {
	if artifact == nil {
		return nil, domain.ErrInvalidInput
	}

	text := normalizeWhitespace(string(artifact.Body))
	if utf8.RuneCountInString(text) < minTextLength {
		return nil, fmt.Errorf("extracted %d chars from %s: %w",
			utf8.RuneCountInString(text), artifact.OriginURL, domain.ErrExtractionEmpty)
	}

	title := text
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}

	return &domain.Extraction{
		Title:    strings.TrimSpace(title),
		Text:     text,
		Metadata: map[string]any{"extractor": "plaintext"},
	}, nil
}

// normalizeWhitespace collapses runs of spaces and drops blank lines.
func normalizeWhitespace(content string) string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

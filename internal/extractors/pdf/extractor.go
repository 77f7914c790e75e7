// Package pdf implements the PDF extractor over ledongthuc/pdf, a pure Go
// reader. Regulators publish decisions and enforcement orders as PDF far
// more often than as HTML.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	pdflib "github.com/ledongthuc/pdf"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

// minTextLength is the minimum extracted length to accept. Scanned PDFs
// with no text layer fall below it and fail extraction rather than
// publish an empty version.
const minTextLength = 100

// Extractor handles PDF documents.
type Extractor struct{}

// New creates a new PDF extractor.
func New() *Extractor {
	return &Extractor{}
}

// SupportedContentTypes returns the content types this extractor handles.
func (e *Extractor) SupportedContentTypes() []string {
	return []string{"application/pdf", "application/x-pdf"}
}

// Priority returns the selection priority.
func (e *Extractor) Priority() int {
	return 50
}

// Extract produces normalized text from the PDF's text layer, one section
// entry per page.
func (e *Extractor) Extract(_ context.Context, artifact *domain.RawArtifact) (*domain.Extraction, error) {
	if artifact == nil {
		return nil, domain.ErrInvalidInput
	}

	if !bytes.HasPrefix(artifact.Body, []byte("%PDF-")) {
		return nil, fmt.Errorf("%s does not carry a PDF header: %w",
			artifact.OriginURL, domain.ErrUnsupportedFormat)
	}

	reader, err := pdflib.NewReader(bytes.NewReader(artifact.Body), int64(len(artifact.Body)))
	if err != nil {
		return nil, fmt.Errorf("opening pdf %s: %w", artifact.OriginURL, domain.ErrUnsupportedFormat)
	}

	var sb strings.Builder
	var sections []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		sections = append(sections, fmt.Sprintf("page %d", i))
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}

	text := normalizeWhitespace(sb.String())
	if utf8.RuneCountInString(text) < minTextLength {
		return nil, fmt.Errorf("extracted %d chars from %s (no text layer?): %w",
			utf8.RuneCountInString(text), artifact.OriginURL, domain.ErrExtractionEmpty)
	}

	return &domain.Extraction{
		Title:    titleFromText(text),
		Text:     text,
		Sections: sections,
		Metadata: map[string]any{
			"extractor": "pdf",
			"pages":     reader.NumPage(),
		},
	}, nil
}

// titleFromText takes the first non-empty line as the working title.
// PDF metadata titles are unreliable in practice (template names, empty).
func titleFromText(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
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

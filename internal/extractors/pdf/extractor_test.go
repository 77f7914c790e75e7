package pdf

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
)

func TestExtract_NotAPDF(t *testing.T) {
	_, err := New().Extract(context.Background(), &domain.RawArtifact{
		OriginURL:   "https://example.org/decision.pdf",
		ContentType: "application/pdf",
		Body:        []byte("<html>Sorry, this document has moved.</html>"),
	})
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestExtract_CorruptPDF(t *testing.T) {
	// Carries the header but no valid structure behind it.
	_, err := New().Extract(context.Background(), &domain.RawArtifact{
		OriginURL:   "https://example.org/decision.pdf",
		ContentType: "application/pdf",
		Body:        []byte("%PDF-1.7 truncated garbage"),
	})
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestExtract_NilArtifact(t *testing.T) {
	_, err := New().Extract(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSupportedContentTypes(t *testing.T) {
	e := New()
	assert.Contains(t, e.SupportedContentTypes(), "application/pdf")
	assert.Equal(t, 50, e.Priority())
}

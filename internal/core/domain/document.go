package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DocumentRecord is the durable entity representing one logical regulatory
// item across time. Its identity derives from the source and the source's
// native identifier, never from content, so republished text keeps its
// history.
type DocumentRecord struct {
	// ID is the stable document identifier, derived via NewDocumentID.
	ID string

	// SourceID links to the Source that first listed the document.
	SourceID string

	// NativeID is the source's stable identifier for the document.
	NativeID string

	// URL is the most recently observed fetch URL.
	URL string

	// Title is the most recently observed title.
	Title string

	// LastCursor is the most recently resolved listing token for the
	// document. Updated on confirmed changes and on false positives, so
	// an unchanged listing is skipped without a fetch.
	LastCursor string

	// CreatedAt is when the document was first observed.
	CreatedAt time.Time
}

// NewDocumentID derives the stable document id from a source id and the
// source-native identifier.
func NewDocumentID(sourceID, nativeID string) string {
	sum := sha256.Sum256([]byte(sourceID + "\x00" + nativeID))
	return hex.EncodeToString(sum[:16])
}

// VersionStatus is the processing state of one observed document version.
type VersionStatus string

const (
	// StatusDiscovered means the change was confirmed but the artifact has
	// not been recorded yet.
	StatusDiscovered VersionStatus = "discovered"

	// StatusFetched means the raw artifact was retrieved and fingerprinted.
	StatusFetched VersionStatus = "fetched"

	// StatusExtracted means normalized text is available and the version
	// awaits publication.
	StatusExtracted VersionStatus = "extracted"

	// StatusPublished means the version was handed to the downstream
	// analysis boundary. Terminal.
	StatusPublished VersionStatus = "published"

	// StatusFailed means processing failed with a recorded reason.
	// Terminal until an operator retries extraction.
	StatusFailed VersionStatus = "failed"
)

// CanTransition reports whether moving from s to next is a legal status
// transition. Published and failed versions are immutable, except that a
// failed version may be re-extracted.
func (s VersionStatus) CanTransition(next VersionStatus) bool {
	switch s {
	case StatusDiscovered:
		return next == StatusFetched || next == StatusFailed
	case StatusFetched:
		return next == StatusExtracted || next == StatusFailed
	case StatusExtracted:
		return next == StatusPublished || next == StatusFailed
	case StatusFailed:
		return next == StatusExtracted
	case StatusPublished:
		return false
	}
	return false
}

// Version is one observed state of a document. Within a document, versions
// are strictly ordered by observation time and adjacent versions never
// share a fingerprint.
type Version struct {
	// ID is the unique version identifier.
	ID string

	// DocumentID links to the owning DocumentRecord.
	DocumentID string

	// Ordinal is the 1-based position within the document's history.
	Ordinal int

	// Fingerprint is the digest of the raw fetched bytes.
	Fingerprint Fingerprint

	// Status is the processing state.
	Status VersionStatus

	// CursorToken is the listing token observed when this version was
	// confirmed. Used to skip unchanged listings on later polls.
	CursorToken string

	// OriginURL is where the artifact was fetched from; serves as the raw
	// artifact reference handed downstream.
	OriginURL string

	// ContentType is the artifact's declared content type.
	ContentType string

	// Title is the extracted title, once extraction succeeds.
	Title string

	// Text is the normalized plain text, once extraction succeeds.
	Text string

	// Metadata carries structural extraction metadata (publication date,
	// section boundaries, extractor name).
	Metadata map[string]any

	// FailureReason records why processing failed, for operator retry.
	FailureReason string

	// ObservedAt is when the change was confirmed.
	ObservedAt time.Time

	// PublishedAt is when the version was handed downstream.
	PublishedAt time.Time
}

// Extraction is the normalized output of the extraction engine.
type Extraction struct {
	// Title is the document title, best effort.
	Title string

	// Text is the normalized plain text with boilerplate removed.
	Text string

	// PublishedAt is the detected publication date, if recoverable.
	PublishedAt time.Time

	// Sections lists recovered section or article headings in order.
	Sections []string

	// Metadata carries extractor-specific values.
	Metadata map[string]any
}

package driven

import (
	"context"
	"time"
)

// PublishRecord is the hand-off contract to the downstream analysis
// boundary: one record per published version. The boundary is expected to
// be idempotent on (DocumentID, VersionID).
type PublishRecord struct {
	DocumentID           string         `json:"document_id"`
	VersionID            string         `json:"version_id"`
	SourceID             string         `json:"source_id"`
	NormalizedText       string         `json:"normalized_text"`
	StructuralMetadata   map[string]any `json:"structural_metadata"`
	RawArtifactReference string         `json:"raw_artifact_reference"`
	ObservedAt           time.Time      `json:"observed_at"`
}

// PublishSink delivers published versions to the downstream analysis
// boundary. Delivery is at-least-once across restarts.
type PublishSink interface {
	// Deliver hands one record to the boundary. An error leaves the
	// version in extracted state for a later re-offer.
	Deliver(ctx context.Context, record *PublishRecord) error
}

// DegradedSource describes a source that crossed its consecutive-failure
// threshold.
type DegradedSource struct {
	// SourceID identifies the degraded source.
	SourceID string

	// ConsecutiveFailures is the failure count at signal time.
	ConsecutiveFailures int

	// LastError is the most recent poll error.
	LastError string

	// SignalledAt is when the signal was raised.
	SignalledAt time.Time
}

// AlertSink receives degraded-source signals for operator attention.
// Delivery technology is a collaborator decision; the default sink logs.
type AlertSink interface {
	// SourceDegraded reports a source that keeps failing. The source is
	// still polled at the capped backoff interval, never abandoned.
	SourceDegraded(ctx context.Context, alert DegradedSource)
}

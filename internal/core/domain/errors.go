package domain

import "errors"

// Domain errors represent pipeline failures. Adapter and extraction errors
// are contained per item or per source; only storage errors halt a run.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedKind indicates an unknown harvester or extractor kind.
	ErrUnsupportedKind = errors.New("unsupported kind")

	// Adapter errors. Both are recovered via backoff and retry on the
	// source's own cadence; neither is fatal to the pipeline.

	// ErrSourceUnreachable indicates a network or HTTP failure while
	// listing or fetching from a source.
	ErrSourceUnreachable = errors.New("source unreachable")

	// ErrSourceFormatChanged indicates the source responded but its
	// listing no longer parses against the expected shape.
	ErrSourceFormatChanged = errors.New("source format changed")

	// Extraction errors. Both mark the affected version failed with a
	// reason and are surfaced for retry; the run continues.

	// ErrUnsupportedFormat indicates no extractor handles the artifact's
	// content type.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrExtractionEmpty indicates extraction produced output below the
	// minimum content length, signalling a likely silent failure.
	ErrExtractionEmpty = errors.New("extraction produced no usable content")

	// ErrStoreUnavailable indicates the document store cannot be reached.
	// Fatal to the current run: there is no safe way to record provenance,
	// so scheduling pauses and the run is retried whole.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrPollInProgress indicates a poll of the same source is already
	// running. Polls of a single source never overlap.
	ErrPollInProgress = errors.New("poll already in progress")

	// ErrDuplicateContent indicates the artifact's fingerprint already
	// belongs to another document. A normal skip outcome, not a failure.
	ErrDuplicateContent = errors.New("duplicate content")
)

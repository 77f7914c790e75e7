package driving

import (
	"context"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
)

// PollStatus reports the live state of a poll.
type PollStatus struct {
	// SourceID identifies the source.
	SourceID string

	// Running indicates a poll is in progress.
	Running bool

	// ItemsProcessed counts listing items handled so far.
	ItemsProcessed int

	// ErrorCount counts per-item failures so far.
	ErrorCount int
}

// PollOrchestrator runs the harvest pipeline for sources: list, detect
// changes, fetch, fingerprint, extract, store.
type PollOrchestrator interface {
	// Poll runs one poll of one source and returns its recorded result.
	// Returns domain.ErrPollInProgress if the source is already being
	// polled; polls of a single source never overlap.
	Poll(ctx context.Context, sourceID string) (*domain.PollResult, error)

	// PollAll polls every enabled source sequentially and joins errors.
	PollAll(ctx context.Context) error

	// RetryFailed re-runs extraction for versions in failed status,
	// using the current extractor registry.
	RetryFailed(ctx context.Context, sourceID string) (int, error)

	// Status returns the live poll status for a source.
	Status(ctx context.Context, sourceID string) (*PollStatus, error)
}

// Publisher hands extracted versions to the downstream analysis boundary.
type Publisher interface {
	// PublishPending delivers every version in extracted status and
	// transitions it to published. Returns the number delivered. Called
	// at startup (restart recovery) and after each poll round.
	PublishPending(ctx context.Context) (int, error)
}

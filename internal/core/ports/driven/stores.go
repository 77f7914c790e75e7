package driven

import (
	"context"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
)

// SourceStore persists source configuration. Sources are upserted from
// configuration at startup and never deleted, only disabled.
type SourceStore interface {
	// Save stores or updates a source.
	Save(ctx context.Context, source domain.Source) error

	// Get retrieves a source by ID. Returns domain.ErrNotFound if absent.
	Get(ctx context.Context, id string) (*domain.Source, error)

	// List returns all configured sources.
	List(ctx context.Context) ([]domain.Source, error)

	// Disable marks a source disabled without removing it.
	Disable(ctx context.Context, id string) error
}

// StateStore persists per-source processing state so a restart resumes
// without reprocessing unchanged items.
type StateStore interface {
	// Save stores or updates processing state.
	Save(ctx context.Context, state domain.ProcessingState) error

	// Get retrieves state for a source. Returns domain.ErrNotFound if the
	// source has never been polled.
	Get(ctx context.Context, sourceID string) (*domain.ProcessingState, error)
}

// DocumentStore owns the DocumentRecord and Version lifecycle.
type DocumentStore interface {
	// SaveRecord stores or updates a document record.
	SaveRecord(ctx context.Context, record *domain.DocumentRecord) error

	// GetRecord retrieves a document record by ID.
	GetRecord(ctx context.Context, id string) (*domain.DocumentRecord, error)

	// ListRecords returns document records for a source.
	ListRecords(ctx context.Context, sourceID string) ([]domain.DocumentRecord, error)

	// AppendVersion appends a version to a document's history. The store
	// assigns the next ordinal and rejects a fingerprint equal to the
	// latest version's (adjacent versions must differ).
	AppendVersion(ctx context.Context, version *domain.Version) error

	// LatestVersion returns the newest version for a document.
	// Returns domain.ErrNotFound when the document has no versions.
	LatestVersion(ctx context.Context, documentID string) (*domain.Version, error)

	// GetVersion retrieves a version by ID.
	GetVersion(ctx context.Context, id string) (*domain.Version, error)

	// UpdateVersion persists extraction output, status, and failure
	// reason for a version, enforcing legal status transitions.
	UpdateVersion(ctx context.Context, version *domain.Version) error

	// ListVersionsByStatus returns versions in a given status across all
	// documents, oldest observation first. The publisher uses it to
	// re-offer versions stuck in extracted state after a restart.
	ListVersionsByStatus(ctx context.Context, status domain.VersionStatus) ([]domain.Version, error)
}

// DedupIndex maps content fingerprints to the earliest document and
// version that produced them. Lookup is exact-match only.
type DedupIndex interface {
	// Lookup returns the earliest owner of a fingerprint.
	// Returns domain.ErrNotFound when the fingerprint is unseen.
	Lookup(ctx context.Context, fp domain.Fingerprint) (documentID, versionID string, err error)

	// Record stores the earliest owner of a fingerprint. Later calls for
	// the same fingerprint are no-ops.
	Record(ctx context.Context, fp domain.Fingerprint, documentID, versionID string) error

	// Link records that another document republished the same bytes.
	Link(ctx context.Context, fp domain.Fingerprint, documentID string) error

	// Links lists document IDs linked to a fingerprint, excluding the
	// earliest owner.
	Links(ctx context.Context, fp domain.Fingerprint) ([]string, error)
}

// PollHistoryStore records poll outcomes for the operational surface.
type PollHistoryStore interface {
	// Record logs a poll result.
	Record(ctx context.Context, result *domain.PollResult) error

	// History returns recent results for a source, newest first.
	History(ctx context.Context, sourceID string, limit int) ([]domain.PollResult, error)

	// Prune keeps only the most recent keep results per source.
	Prune(ctx context.Context, keep int) error
}

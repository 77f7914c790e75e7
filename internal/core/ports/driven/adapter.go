package driven

import (
	"context"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
)

// SourceAdapter fetches listings and documents from one external source.
// Each harvester kind (rss, api, scrape) implements this interface under a
// single contract; the scheduler never special-cases a kind.
type SourceAdapter interface {
	// Kind returns the harvester kind identifier.
	Kind() domain.SourceKind

	// SourceID returns the configured source ID.
	SourceID() string

	// Capabilities returns what this adapter supports.
	Capabilities() AdapterCapabilities

	// List returns the source's current listing. It is safe to call
	// repeatedly and mutates no shared state. A listing that cannot be
	// parsed against the expected shape returns ErrSourceFormatChanged;
	// network and HTTP failures return ErrSourceUnreachable.
	List(ctx context.Context) ([]domain.ListingItem, error)

	// Fetch retrieves the full raw artifact for a listing item.
	Fetch(ctx context.Context, item domain.ListingItem) (*domain.RawArtifact, error)

	// Close releases resources.
	Close() error
}

// AdapterCapabilities describes what a source adapter supports.
type AdapterCapabilities struct {
	// SupportsConditionalFetch indicates Fetch sends ETag/Last-Modified
	// validators when the listing carries them.
	SupportsConditionalFetch bool

	// RequiresPoliteness indicates the adapter enforces a politeness
	// delay between requests to the origin host.
	RequiresPoliteness bool

	// RotatesIdentity indicates the adapter rotates client identity
	// headers to survive anti-automation defences.
	RotatesIdentity bool
}

// AdapterBuilder creates a SourceAdapter from a source configuration.
type AdapterBuilder func(source domain.Source) (SourceAdapter, error)

// AdapterFactory creates adapters from source configuration. It maintains
// a registry of harvester kinds and their builders.
type AdapterFactory interface {
	// Create returns a SourceAdapter for the given source.
	// Returns ErrUnsupportedKind if the source kind is unknown.
	Create(source domain.Source) (SourceAdapter, error)

	// Register adds a builder for the given kind.
	Register(kind domain.SourceKind, builder AdapterBuilder)

	// SupportedKinds returns all registered harvester kinds.
	SupportedKinds() []domain.SourceKind
}

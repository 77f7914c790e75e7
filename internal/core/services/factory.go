package services

import (
	"fmt"
	"sync"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driven"
)

// Ensure AdapterFactory implements the interface.
var _ driven.AdapterFactory = (*AdapterFactory)(nil)

// AdapterFactory creates source adapters from source configuration via
// registered per-kind builders.
type AdapterFactory struct {
	mu       sync.RWMutex
	builders map[domain.SourceKind]driven.AdapterBuilder
}

// NewAdapterFactory creates an empty adapter factory.
func NewAdapterFactory() *AdapterFactory {
	return &AdapterFactory{builders: make(map[domain.SourceKind]driven.AdapterBuilder)}
}

// Register adds a builder for the given kind.
func (f *AdapterFactory) Register(kind domain.SourceKind, builder driven.AdapterBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[kind] = builder
}

// Create returns a SourceAdapter for the given source.
func (f *AdapterFactory) Create(source domain.Source) (driven.SourceAdapter, error) {
	f.mu.RLock()
	builder, ok := f.builders[source.Kind]
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedKind, source.Kind)
	}
	return builder(source)
}

// SupportedKinds returns all registered harvester kinds.
func (f *AdapterFactory) SupportedKinds() []domain.SourceKind {
	f.mu.RLock()
	defer f.mu.RUnlock()

	kinds := make([]domain.SourceKind, 0, len(f.builders))
	for kind := range f.builders {
		kinds = append(kinds, kind)
	}
	return kinds
}

package memory

import (
	"context"
	"sync"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driven"
)

// Ensure StateStore implements the interface.
var _ driven.StateStore = (*StateStore)(nil)

// StateStore is an in-memory implementation of driven.StateStore.
type StateStore struct {
	mu     sync.RWMutex
	states map[string]domain.ProcessingState
}

// NewStateStore creates an empty in-memory state store.
func NewStateStore() *StateStore {
	return &StateStore{states: make(map[string]domain.ProcessingState)}
}

// Save stores or updates processing state.
func (s *StateStore) Save(_ context.Context, state domain.ProcessingState) error {
	if state.SourceID == "" {
		return domain.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.SourceID] = state
	return nil
}

// Get retrieves state for a source.
func (s *StateStore) Get(_ context.Context, sourceID string) (*domain.ProcessingState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[sourceID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := state
	return &copied, nil
}

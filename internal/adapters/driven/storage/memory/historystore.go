package memory

import (
	"context"
	"sync"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driven"
)

// Ensure PollHistoryStore implements the interface.
var _ driven.PollHistoryStore = (*PollHistoryStore)(nil)

// PollHistoryStore is an in-memory implementation of driven.PollHistoryStore.
type PollHistoryStore struct {
	mu sync.RWMutex
	// results holds poll results per source, newest first.
	results map[string][]domain.PollResult
}

// NewPollHistoryStore creates an empty in-memory poll history store.
func NewPollHistoryStore() *PollHistoryStore {
	return &PollHistoryStore{results: make(map[string][]domain.PollResult)}
}

// Record logs a poll result.
func (s *PollHistoryStore) Record(_ context.Context, result *domain.PollResult) error {
	if result == nil || result.SourceID == "" {
		return domain.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.SourceID] = append([]domain.PollResult{*result}, s.results[result.SourceID]...)
	return nil
}

// History returns recent results for a source, newest first.
func (s *PollHistoryStore) History(_ context.Context, sourceID string, limit int) ([]domain.PollResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := s.results[sourceID]
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	out := make([]domain.PollResult, len(results))
	copy(out, results)
	return out, nil
}

// Prune keeps only the most recent keep results per source.
func (s *PollHistoryStore) Prune(_ context.Context, keep int) error {
	if keep < 0 {
		return domain.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for sourceID, results := range s.results {
		if len(results) > keep {
			s.results[sourceID] = results[:keep]
		}
	}
	return nil
}

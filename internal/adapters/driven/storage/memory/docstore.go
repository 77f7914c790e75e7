package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driven"
)

// Ensure DocumentStore implements the interface.
var _ driven.DocumentStore = (*DocumentStore)(nil)

// DocumentStore is an in-memory implementation of driven.DocumentStore.
// It enforces the same history invariants as the sqlite store: ordinals
// are assigned by the store, adjacent versions never share a fingerprint,
// and status updates follow the legal transitions.
type DocumentStore struct {
	mu       sync.RWMutex
	records  map[string]domain.DocumentRecord
	versions map[string]domain.Version
	// history holds version IDs per document, in ordinal order.
	history map[string][]string
}

// NewDocumentStore creates an empty in-memory document store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		records:  make(map[string]domain.DocumentRecord),
		versions: make(map[string]domain.Version),
		history:  make(map[string][]string),
	}
}

// SaveRecord stores or updates a document record.
func (s *DocumentStore) SaveRecord(_ context.Context, record *domain.DocumentRecord) error {
	if record == nil || record.ID == "" {
		return domain.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[record.ID]; ok {
		record.CreatedAt = existing.CreatedAt
	}
	s.records[record.ID] = *record
	return nil
}

// GetRecord retrieves a document record by ID.
func (s *DocumentStore) GetRecord(_ context.Context, id string) (*domain.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := record
	return &copied, nil
}

// ListRecords returns document records for a source.
func (s *DocumentStore) ListRecords(_ context.Context, sourceID string) ([]domain.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []domain.DocumentRecord
	for _, record := range s.records {
		if record.SourceID == sourceID {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// AppendVersion appends a version to a document's history, assigning the
// next ordinal. A fingerprint equal to the latest version's is rejected.
func (s *DocumentStore) AppendVersion(_ context.Context, version *domain.Version) error {
	if version == nil || version.ID == "" || version.DocumentID == "" {
		return domain.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[version.DocumentID]; !ok {
		return domain.ErrNotFound
	}

	ids := s.history[version.DocumentID]
	if len(ids) > 0 {
		latest := s.versions[ids[len(ids)-1]]
		if latest.Fingerprint == version.Fingerprint {
			return fmt.Errorf("append version for %s: %w", version.DocumentID, domain.ErrDuplicateContent)
		}
	}

	version.Ordinal = len(ids) + 1
	s.versions[version.ID] = *version
	s.history[version.DocumentID] = append(ids, version.ID)
	return nil
}

// LatestVersion returns the newest version for a document.
func (s *DocumentStore) LatestVersion(_ context.Context, documentID string) (*domain.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.history[documentID]
	if len(ids) == 0 {
		return nil, domain.ErrNotFound
	}
	version := s.versions[ids[len(ids)-1]]
	return &version, nil
}

// GetVersion retrieves a version by ID.
func (s *DocumentStore) GetVersion(_ context.Context, id string) (*domain.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	version, ok := s.versions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := version
	return &copied, nil
}

// UpdateVersion persists extraction output and status for a version,
// enforcing legal status transitions.
func (s *DocumentStore) UpdateVersion(_ context.Context, version *domain.Version) error {
	if version == nil || version.ID == "" {
		return domain.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.versions[version.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if existing.Status != version.Status && !existing.Status.CanTransition(version.Status) {
		return fmt.Errorf("version %s: illegal transition %s -> %s: %w",
			version.ID, existing.Status, version.Status, domain.ErrInvalidInput)
	}

	// Ordinal and fingerprint are immutable once appended.
	version.Ordinal = existing.Ordinal
	version.Fingerprint = existing.Fingerprint
	s.versions[version.ID] = *version
	return nil
}

// ListVersionsByStatus returns versions in a given status, oldest
// observation first.
func (s *DocumentStore) ListVersionsByStatus(_ context.Context, status domain.VersionStatus) ([]domain.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var versions []domain.Version
	for _, version := range s.versions {
		if version.Status == status {
			versions = append(versions, version)
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].ObservedAt.Before(versions[j].ObservedAt)
	})
	return versions, nil
}

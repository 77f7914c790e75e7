package memory

import (
	"context"
	"sync"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driven"
)

// Ensure DedupIndex implements the interface.
var _ driven.DedupIndex = (*DedupIndex)(nil)

type dedupEntry struct {
	documentID string
	versionID  string
	links      []string
}

// DedupIndex is an in-memory implementation of driven.DedupIndex.
type DedupIndex struct {
	mu      sync.RWMutex
	entries map[domain.Fingerprint]*dedupEntry
}

// NewDedupIndex creates an empty in-memory dedup index.
func NewDedupIndex() *DedupIndex {
	return &DedupIndex{entries: make(map[domain.Fingerprint]*dedupEntry)}
}

// Lookup returns the earliest owner of a fingerprint.
func (d *DedupIndex) Lookup(_ context.Context, fp domain.Fingerprint) (string, string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entry, ok := d.entries[fp]
	if !ok {
		return "", "", domain.ErrNotFound
	}
	return entry.documentID, entry.versionID, nil
}

// Record stores the earliest owner of a fingerprint. Later calls for the
// same fingerprint are no-ops.
func (d *DedupIndex) Record(_ context.Context, fp domain.Fingerprint, documentID, versionID string) error {
	if fp == "" || documentID == "" {
		return domain.ErrInvalidInput
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[fp]; ok {
		return nil
	}
	d.entries[fp] = &dedupEntry{documentID: documentID, versionID: versionID}
	return nil
}

// Link records that another document republished the same bytes.
func (d *DedupIndex) Link(_ context.Context, fp domain.Fingerprint, documentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.entries[fp]
	if !ok {
		return domain.ErrNotFound
	}
	for _, linked := range entry.links {
		if linked == documentID {
			return nil
		}
	}
	entry.links = append(entry.links, documentID)
	return nil
}

// Links lists document IDs linked to a fingerprint, excluding the owner.
func (d *DedupIndex) Links(_ context.Context, fp domain.Fingerprint) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entry, ok := d.entries[fp]
	if !ok {
		return nil, domain.ErrNotFound
	}
	links := make([]string, len(entry.links))
	copy(links, entry.links)
	return links, nil
}

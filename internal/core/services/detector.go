package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driven"
)

// ChangeDetector decides, per listing item, whether it represents new or
// changed content versus previously seen state. Cursor tokens select
// candidates; only raw-byte fingerprints confirm a change.
type ChangeDetector struct {
	docStore driven.DocumentStore
}

// NewChangeDetector creates a change detector over a document store.
func NewChangeDetector(docStore driven.DocumentStore) *ChangeDetector {
	return &ChangeDetector{docStore: docStore}
}

// Decide classifies a listing item without fetching it.
func (d *ChangeDetector) Decide(ctx context.Context, item domain.ListingItem) (domain.Decision, error) {
	docID := domain.NewDocumentID(item.SourceID, item.NativeID)

	record, err := d.docStore.GetRecord(ctx, docID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.DecisionNew, nil
	}
	if err != nil {
		return "", fmt.Errorf("get record %s: %w", docID, err)
	}

	// Sources are unreliable: an unchanged token means skip, but a changed
	// token only nominates the item for fingerprint confirmation.
	if item.CursorToken != "" && item.CursorToken == record.LastCursor {
		return domain.DecisionUnchanged, nil
	}
	return domain.DecisionCandidate, nil
}

// Confirm classifies a fetched candidate by comparing its fingerprint
// against the latest stored version and the dedup index.
func (d *ChangeDetector) Confirm(
	ctx context.Context,
	item domain.ListingItem,
	fp domain.Fingerprint,
	dedup driven.DedupIndex,
) (domain.ConfirmOutcome, error) {
	docID := domain.NewDocumentID(item.SourceID, item.NativeID)

	latest, err := d.docStore.LatestVersion(ctx, docID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("latest version for %s: %w", docID, err)
	}
	if latest != nil && latest.Fingerprint == fp {
		return domain.OutcomeFalsePositive, nil
	}

	// Same bytes already observed under a different document id: a
	// mirrored or republished posting. Link, don't republish.
	ownerDoc, _, err := dedup.Lookup(ctx, fp)
	if err == nil && ownerDoc != docID {
		return domain.OutcomeDuplicate, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("dedup lookup: %w", err)
	}

	return domain.OutcomeConfirmed, nil
}

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driven"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driving"
	"github.com/watchtower-labs/watchtower/internal/logger"
)

// Ensure Publisher implements the interface.
var _ driving.Publisher = (*Publisher)(nil)

// Publisher hands extracted versions to the downstream analysis boundary,
// exactly once per version in normal operation. Delivery and the status
// transition form one recoverable step: a version is marked published only
// after the sink accepts it, so a crash in between re-offers the version
// on the next run (at-least-once to the boundary, which is idempotent on
// document id + version id).
type Publisher struct {
	docStore driven.DocumentStore
	sink     driven.PublishSink
	locks    *keyedMutex
}

// NewPublisher creates a publisher over a document store and sink.
func NewPublisher(docStore driven.DocumentStore, sink driven.PublishSink) *Publisher {
	return &Publisher{
		docStore: docStore,
		sink:     sink,
		locks:    newKeyedMutex(),
	}
}

// PublishPending delivers every version in extracted status, oldest
// first, and transitions each to published. Called at startup to recover
// versions stranded by a restart, and after every poll round.
func (p *Publisher) PublishPending(ctx context.Context) (int, error) {
	pending, err := p.docStore.ListVersionsByStatus(ctx, domain.StatusExtracted)
	if err != nil {
		return 0, fmt.Errorf("list extracted versions: %w", err)
	}

	published := 0
	for i := range pending {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}
		if err := p.publishOne(ctx, &pending[i]); err != nil {
			// Leave the version in extracted state for the next round.
			logger.Warn("Publish %s failed: %v", pending[i].ID, err)
			continue
		}
		published++
	}
	return published, nil
}

// publishOne delivers a single version and marks it published.
func (p *Publisher) publishOne(ctx context.Context, version *domain.Version) error {
	p.locks.Lock(version.DocumentID)
	defer p.locks.Unlock(version.DocumentID)

	// Re-read under the lock: another publisher round may have won.
	current, err := p.docStore.GetVersion(ctx, version.ID)
	if err != nil {
		return fmt.Errorf("get version: %w", err)
	}
	if current.Status != domain.StatusExtracted {
		return nil
	}

	record, err := p.docStore.GetRecord(ctx, current.DocumentID)
	if err != nil {
		return fmt.Errorf("get record: %w", err)
	}

	if err := p.sink.Deliver(ctx, &driven.PublishRecord{
		DocumentID:           current.DocumentID,
		VersionID:            current.ID,
		SourceID:             record.SourceID,
		NormalizedText:       current.Text,
		StructuralMetadata:   current.Metadata,
		RawArtifactReference: current.OriginURL,
		ObservedAt:           current.ObservedAt,
	}); err != nil {
		return fmt.Errorf("deliver: %w", err)
	}

	current.Status = domain.StatusPublished
	current.PublishedAt = time.Now().UTC()
	if err := p.docStore.UpdateVersion(ctx, current); err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

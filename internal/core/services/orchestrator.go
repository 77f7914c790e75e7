package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driven"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driving"
	"github.com/watchtower-labs/watchtower/internal/logger"
)

// pollHistoryKeep is how many poll results are retained per source.
const pollHistoryKeep = 100

// Ensure PollOrchestrator implements the interface.
var _ driving.PollOrchestrator = (*PollOrchestrator)(nil)

// PollOrchestrator runs the harvest pipeline for one source at a time:
// list, detect, fetch, fingerprint, extract, store.
type PollOrchestrator struct {
	sourceStore driven.SourceStore
	stateStore  driven.StateStore
	docStore    driven.DocumentStore
	dedup       driven.DedupIndex
	history     driven.PollHistoryStore
	factory     driven.AdapterFactory
	registry    driven.ExtractorRegistry
	detector    *ChangeDetector

	// docLocks serializes writes per document id; different documents
	// proceed concurrently.
	docLocks *keyedMutex

	mu          sync.RWMutex
	activePolls map[string]*driving.PollStatus
}

// NewPollOrchestrator creates a poll orchestrator.
func NewPollOrchestrator(
	sourceStore driven.SourceStore,
	stateStore driven.StateStore,
	docStore driven.DocumentStore,
	dedup driven.DedupIndex,
	history driven.PollHistoryStore,
	factory driven.AdapterFactory,
	registry driven.ExtractorRegistry,
) *PollOrchestrator {
	return &PollOrchestrator{
		sourceStore: sourceStore,
		stateStore:  stateStore,
		docStore:    docStore,
		dedup:       dedup,
		history:     history,
		factory:     factory,
		registry:    registry,
		detector:    NewChangeDetector(docStore),
		docLocks:    newKeyedMutex(),
		activePolls: make(map[string]*driving.PollStatus),
	}
}

// Poll runs one poll of one source.
func (o *PollOrchestrator) Poll(ctx context.Context, sourceID string) (*domain.PollResult, error) {
	source, err := o.sourceStore.Get(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	if !source.Enabled {
		return nil, fmt.Errorf("%w: source %s is disabled", domain.ErrInvalidInput, sourceID)
	}

	if !o.beginPoll(sourceID) {
		return nil, domain.ErrPollInProgress
	}
	defer o.endPoll(sourceID)

	result := &domain.PollResult{SourceID: sourceID, StartedAt: time.Now().UTC()}
	err = o.poll(ctx, source, result)
	result.EndedAt = time.Now().UTC()
	result.Success = err == nil
	if err != nil {
		result.Error = err.Error()
	}

	o.recordOutcome(ctx, source, result, err)
	return result, err
}

// poll does the actual work; errors it returns are source-level.
func (o *PollOrchestrator) poll(ctx context.Context, source *domain.Source, result *domain.PollResult) error {
	adapter, err := o.factory.Create(*source)
	if err != nil {
		return fmt.Errorf("create adapter: %w", err)
	}
	defer adapter.Close()

	items, err := adapter.List(ctx)
	if err != nil {
		return fmt.Errorf("list %s: %w", source.ID, err)
	}
	result.ItemsListed = len(items)

	// Fast path: an unchanged listing snapshot after a clean poll means
	// nothing to inspect item by item.
	snapshot := listingSnapshot(items)
	if state, err := o.stateStore.Get(ctx, source.ID); err == nil {
		if state.Cursor == snapshot && state.LastError == "" {
			logger.Debug("Listing unchanged for %s, skipping %d items", source.ID, len(items))
			result.Cursor = snapshot
			return nil
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("get state: %w", err)
	}

	for _, item := range items {
		if ctx.Err() != nil {
			// Cancelled mid-poll: partially processed listings are fine,
			// partially fetched artifacts are never persisted.
			return ctx.Err()
		}

		if err := o.processItem(ctx, source, adapter, item, result); err != nil {
			if errors.Is(err, domain.ErrStoreUnavailable) {
				// No safe way to record provenance; abort the run.
				return err
			}
			o.noteItem(source.ID, false)
			logger.Warn("Item %s from %s failed: %v", item.NativeID, source.ID, err)
			continue
		}
		o.noteItem(source.ID, true)
	}

	if o.itemErrors(source.ID) == 0 {
		result.Cursor = snapshot
	}
	return nil
}

// processItem runs detection and, when needed, fetch + extract for one
// listing item.
func (o *PollOrchestrator) processItem(
	ctx context.Context,
	source *domain.Source,
	adapter driven.SourceAdapter,
	item domain.ListingItem,
	result *domain.PollResult,
) error {
	decision, err := o.detector.Decide(ctx, item)
	if err != nil {
		return err
	}
	if decision == domain.DecisionUnchanged {
		logger.Debug("Unchanged: %s", item.NativeID)
		return nil
	}
	if decision == domain.DecisionNew {
		result.NewDocuments++
	}

	artifact, err := adapter.Fetch(ctx, item)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", item.URL, err)
	}
	fp := artifact.Fingerprint()

	docID := domain.NewDocumentID(item.SourceID, item.NativeID)
	o.docLocks.Lock(docID)
	defer o.docLocks.Unlock(docID)

	outcome, err := o.detector.Confirm(ctx, item, fp, o.dedup)
	if err != nil {
		return err
	}

	switch outcome {
	case domain.OutcomeFalsePositive:
		// The source declared a change; the bytes disagree. Remember the
		// token so the next poll skips without fetching.
		result.FalsePositives++
		logger.Debug("False positive: %s (cursor %q)", item.NativeID, item.CursorToken)
		return o.saveRecord(ctx, docID, item)

	case domain.OutcomeDuplicate:
		result.Duplicates++
		logger.Info("Duplicate content: %s republishes %s", docID, fp[:12])
		if err := o.saveRecord(ctx, docID, item); err != nil {
			return err
		}
		return o.dedup.Link(ctx, fp, docID)

	case domain.OutcomeConfirmed:
		result.ConfirmedChanges++
		return o.recordChange(ctx, docID, item, artifact, fp)
	}
	return nil
}

// recordChange creates the next Version for a confirmed change and runs
// extraction on it.
func (o *PollOrchestrator) recordChange(
	ctx context.Context,
	docID string,
	item domain.ListingItem,
	artifact *domain.RawArtifact,
	fp domain.Fingerprint,
) error {
	if err := o.saveRecord(ctx, docID, item); err != nil {
		return err
	}

	version := &domain.Version{
		ID:          uuid.New().String(),
		DocumentID:  docID,
		Fingerprint: fp,
		Status:      domain.StatusDiscovered,
		CursorToken: item.CursorToken,
		OriginURL:   artifact.OriginURL,
		ContentType: artifact.ContentType,
		ObservedAt:  artifact.RetrievedAt,
	}
	if err := o.docStore.AppendVersion(ctx, version); err != nil {
		return fmt.Errorf("append version: %w", err)
	}
	if err := o.dedup.Record(ctx, fp, docID, version.ID); err != nil {
		return fmt.Errorf("record fingerprint: %w", err)
	}

	version.Status = domain.StatusFetched
	if err := o.docStore.UpdateVersion(ctx, version); err != nil {
		return fmt.Errorf("mark fetched: %w", err)
	}

	o.extractVersion(ctx, version, artifact)
	if err := o.docStore.UpdateVersion(ctx, version); err != nil {
		return fmt.Errorf("save extraction: %w", err)
	}
	return nil
}

// extractVersion runs the extractor registry and mutates the version in
// place: extracted on success, failed with a reason otherwise. Extraction
// failures never abort the poll.
func (o *PollOrchestrator) extractVersion(ctx context.Context, version *domain.Version, artifact *domain.RawArtifact) {
	extraction, err := o.registry.Extract(ctx, artifact)
	if err != nil {
		version.Status = domain.StatusFailed
		version.FailureReason = failureReason(err)
		logger.Warn("Extraction failed for %s: %v", version.ID, err)
		return
	}

	version.Status = domain.StatusExtracted
	version.Title = extraction.Title
	version.Text = extraction.Text
	version.Metadata = extractionMetadata(extraction)
}

// saveRecord upserts the document record with the latest listing info.
func (o *PollOrchestrator) saveRecord(ctx context.Context, docID string, item domain.ListingItem) error {
	record, err := o.docStore.GetRecord(ctx, docID)
	if errors.Is(err, domain.ErrNotFound) {
		record = &domain.DocumentRecord{
			ID:        docID,
			SourceID:  item.SourceID,
			NativeID:  item.NativeID,
			CreatedAt: time.Now().UTC(),
		}
	} else if err != nil {
		return fmt.Errorf("get record: %w", err)
	}

	record.URL = item.URL
	if item.Title != "" {
		record.Title = item.Title
	}
	record.LastCursor = item.CursorToken

	if err := o.docStore.SaveRecord(ctx, record); err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

// PollAll polls every enabled source sequentially.
func (o *PollOrchestrator) PollAll(ctx context.Context) error {
	sources, err := o.sourceStore.List(ctx)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}

	var errs []error
	for _, source := range sources {
		if !source.Enabled {
			continue
		}
		if _, err := o.Poll(ctx, source.ID); err != nil {
			errs = append(errs, fmt.Errorf("poll %s: %w", source.ID, err))
		}
	}
	return errors.Join(errs...)
}

// RetryFailed re-runs extraction for failed versions of a source. The
// artifact is refetched; if its bytes no longer match the version's
// fingerprint the version is left alone for the normal poll to pick up.
func (o *PollOrchestrator) RetryFailed(ctx context.Context, sourceID string) (int, error) {
	source, err := o.sourceStore.Get(ctx, sourceID)
	if err != nil {
		return 0, fmt.Errorf("get source: %w", err)
	}

	failed, err := o.docStore.ListVersionsByStatus(ctx, domain.StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("list failed versions: %w", err)
	}

	adapter, err := o.factory.Create(*source)
	if err != nil {
		return 0, fmt.Errorf("create adapter: %w", err)
	}
	defer adapter.Close()

	retried := 0
	for i := range failed {
		version := &failed[i]
		record, err := o.docStore.GetRecord(ctx, version.DocumentID)
		if err != nil || record.SourceID != sourceID {
			continue
		}

		item := domain.ListingItem{
			SourceID: sourceID,
			NativeID: record.NativeID,
			URL:      version.OriginURL,
		}
		artifact, err := adapter.Fetch(ctx, item)
		if err != nil {
			logger.Warn("Retry fetch failed for %s: %v", version.ID, err)
			continue
		}
		if artifact.Fingerprint() != version.Fingerprint {
			logger.Debug("Content moved on for %s, leaving to next poll", version.ID)
			continue
		}

		o.docLocks.Lock(version.DocumentID)
		o.extractVersion(ctx, version, artifact)
		err = o.docStore.UpdateVersion(ctx, version)
		o.docLocks.Unlock(version.DocumentID)
		if err != nil {
			return retried, fmt.Errorf("save retried version: %w", err)
		}
		if version.Status == domain.StatusExtracted {
			retried++
		}
	}
	return retried, nil
}

// Status returns the live poll status for a source.
func (o *PollOrchestrator) Status(_ context.Context, sourceID string) (*driving.PollStatus, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if status, ok := o.activePolls[sourceID]; ok {
		copied := *status
		return &copied, nil
	}
	return &driving.PollStatus{SourceID: sourceID}, nil
}

// recordOutcome advances processing state and appends poll history.
func (o *PollOrchestrator) recordOutcome(ctx context.Context, source *domain.Source, result *domain.PollResult, pollErr error) {
	if errors.Is(pollErr, domain.ErrStoreUnavailable) {
		// Nothing can be recorded if the store itself is down.
		return
	}

	state, err := o.stateStore.Get(ctx, source.ID)
	if errors.Is(err, domain.ErrNotFound) {
		state = &domain.ProcessingState{SourceID: source.ID}
	} else if err != nil {
		logger.Error("Get state for %s: %v", source.ID, err)
		return
	}

	state.LastPoll = result.EndedAt
	if result.Success {
		state.LastSuccess = result.EndedAt
		state.ConsecutiveFailures = 0
		state.LastError = ""
		if result.Cursor != "" {
			state.Cursor = result.Cursor
		}
	} else {
		state.ConsecutiveFailures++
		state.LastError = result.Error
	}

	if err := o.stateStore.Save(ctx, *state); err != nil {
		logger.Error("Save state for %s: %v", source.ID, err)
	}
	if err := o.history.Record(ctx, result); err != nil {
		logger.Error("Record poll result for %s: %v", source.ID, err)
	}
	if err := o.history.Prune(ctx, pollHistoryKeep); err != nil {
		logger.Error("Prune poll history: %v", err)
	}
}

// beginPoll marks a source as in flight. Returns false when a poll of the
// same source is already running.
func (o *PollOrchestrator) beginPoll(sourceID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, running := o.activePolls[sourceID]; running {
		return false
	}
	o.activePolls[sourceID] = &driving.PollStatus{SourceID: sourceID, Running: true}
	return true
}

func (o *PollOrchestrator) endPoll(sourceID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activePolls, sourceID)
}

// noteItem updates the live poll status for one processed listing item.
// Status may be read concurrently through the driving port, so the
// counters are only touched under the lock.
func (o *PollOrchestrator) noteItem(sourceID string, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	status := o.activePolls[sourceID]
	if status == nil {
		return
	}
	if ok {
		status.ItemsProcessed++
	} else {
		status.ErrorCount++
	}
}

func (o *PollOrchestrator) itemErrors(sourceID string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if status := o.activePolls[sourceID]; status != nil {
		return status.ErrorCount
	}
	return 0
}

// listingSnapshot digests a listing into an order-independent token used
// as the per-source resume cursor.
func listingSnapshot(items []domain.ListingItem) string {
	if len(items) == 0 {
		return ""
	}
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = item.NativeID + "\x00" + item.CursorToken
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, line := range lines {
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// failureReason maps extraction errors to stored reason strings.
func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return "UnsupportedFormat"
	case errors.Is(err, domain.ErrExtractionEmpty):
		return "ExtractionEmpty"
	default:
		return err.Error()
	}
}

// extractionMetadata flattens an extraction into version metadata.
func extractionMetadata(e *domain.Extraction) map[string]any {
	meta := make(map[string]any, len(e.Metadata)+2)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	if !e.PublishedAt.IsZero() {
		meta["published_at"] = e.PublishedAt.UTC().Format(time.RFC3339)
	}
	if len(e.Sections) > 0 {
		meta["sections"] = e.Sections
	}
	return meta
}

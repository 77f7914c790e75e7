package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "watchtower-test-*")
	require.NoError(t, err)

	store, err := NewStore(tempDir)
	require.NoError(t, err)
	require.NotNil(t, store)

	cleanup := func() {
		assert.NoError(t, store.Close())
		assert.NoError(t, os.RemoveAll(tempDir))
	}

	return store, cleanup
}

// createTestSource creates a test source to satisfy foreign key constraints.
func createTestSource(t *testing.T, store *Store, sourceID string) {
	t.Helper()
	source := domain.Source{
		ID:       sourceID,
		Kind:     domain.KindRSS,
		Name:     "Test Source " + sourceID,
		Endpoint: "https://example.org/feed.xml",
		Config:   map[string]string{},
		Cadence:  time.Hour,
		Enabled:  true,
	}
	require.NoError(t, store.SourceStore().Save(context.Background(), source))
}

// createTestRecord creates a document record to satisfy foreign key constraints.
func createTestRecord(t *testing.T, store *Store, sourceID, nativeID string) *domain.DocumentRecord {
	t.Helper()
	record := &domain.DocumentRecord{
		ID:       domain.NewDocumentID(sourceID, nativeID),
		SourceID: sourceID,
		NativeID: nativeID,
		URL:      "https://example.org/docs/" + nativeID,
		Title:    "Test Document " + nativeID,
	}
	require.NoError(t, store.DocumentStore().SaveRecord(context.Background(), record))
	return record
}

func newTestVersion(documentID string, fp domain.Fingerprint) *domain.Version {
	return &domain.Version{
		ID:          uuid.NewString(),
		DocumentID:  documentID,
		Fingerprint: fp,
		Status:      domain.StatusDiscovered,
		CursorToken: "tok-1",
		OriginURL:   "https://example.org/docs/1",
		ContentType: "text/html",
		Metadata:    map[string]any{},
		ObservedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

// ==================== Store Creation Tests ====================

func TestNewStore_Success(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "watchtower-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	store, err := NewStore(tempDir)
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	dbPath := filepath.Join(tempDir, "watchtower.db")
	assert.Equal(t, dbPath, store.Path())
	assert.FileExists(t, dbPath)

	assert.NoError(t, store.db.Ping())
}

func TestNewStore_MigrationsAreIdempotent(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "watchtower-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	store, err := NewStore(tempDir)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening must not re-run applied migrations.
	store, err = NewStore(tempDir)
	require.NoError(t, err)
	defer store.Close()

	var version int
	row := store.db.QueryRow("SELECT MAX(version) FROM schema_migrations")
	require.NoError(t, row.Scan(&version))
	assert.Equal(t, 1, version)
}

// ==================== Source Store Tests ====================

func TestSourceStore_SaveAndGet(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	source := domain.Source{
		ID:                     "fda-rss",
		Kind:                   domain.KindRSS,
		Name:                   "FDA Press Announcements",
		Endpoint:               "https://example.gov/press/rss.xml",
		Config:                 map[string]string{"user_agent": "watchtower/1.0"},
		Cadence:                30 * time.Minute,
		PolitenessDelay:        2 * time.Second,
		MaxConsecutiveFailures: 5,
		Enabled:                true,
	}
	require.NoError(t, store.SourceStore().Save(ctx, source))

	got, err := store.SourceStore().Get(ctx, "fda-rss")
	require.NoError(t, err)
	assert.Equal(t, domain.KindRSS, got.Kind)
	assert.Equal(t, "FDA Press Announcements", got.Name)
	assert.Equal(t, 30*time.Minute, got.Cadence)
	assert.Equal(t, 2*time.Second, got.PolitenessDelay)
	assert.Equal(t, 5, got.MaxConsecutiveFailures)
	assert.Equal(t, "watchtower/1.0", got.Config["user_agent"])
	assert.True(t, got.Enabled)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSourceStore_GetNotFound(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.SourceStore().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSourceStore_Disable(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	createTestSource(t, store, "src-1")
	require.NoError(t, store.SourceStore().Disable(ctx, "src-1"))

	got, err := store.SourceStore().Get(ctx, "src-1")
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	assert.ErrorIs(t, store.SourceStore().Disable(ctx, "missing"), domain.ErrNotFound)
}

func TestSourceStore_List(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	createTestSource(t, store, "src-a")
	createTestSource(t, store, "src-b")

	sources, err := store.SourceStore().List(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "src-a", sources[0].ID)
	assert.Equal(t, "src-b", sources[1].ID)
}

// ==================== State Store Tests ====================

func TestStateStore_SaveAndGet(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	createTestSource(t, store, "src-1")

	now := time.Now().UTC().Truncate(time.Second)
	state := domain.ProcessingState{
		SourceID:            "src-1",
		Cursor:              "snapshot-abc",
		LastPoll:            now,
		LastSuccess:         now,
		ConsecutiveFailures: 0,
	}
	require.NoError(t, store.StateStore().Save(ctx, state))

	got, err := store.StateStore().Get(ctx, "src-1")
	require.NoError(t, err)
	assert.Equal(t, "snapshot-abc", got.Cursor)
	assert.Equal(t, now, got.LastPoll.UTC())

	// Upsert replaces the state.
	state.Cursor = "snapshot-def"
	state.ConsecutiveFailures = 3
	state.LastError = "connection refused"
	require.NoError(t, store.StateStore().Save(ctx, state))

	got, err = store.StateStore().Get(ctx, "src-1")
	require.NoError(t, err)
	assert.Equal(t, "snapshot-def", got.Cursor)
	assert.Equal(t, 3, got.ConsecutiveFailures)
	assert.Equal(t, "connection refused", got.LastError)
}

func TestStateStore_GetNeverPolled(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.StateStore().Get(context.Background(), "never-polled")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ==================== Document Store Tests ====================

func TestDocumentStore_SaveAndGetRecord(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	createTestSource(t, store, "src-1")
	record := createTestRecord(t, store, "src-1", "doc-2024-001")

	got, err := store.DocumentStore().GetRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "doc-2024-001", got.NativeID)
	assert.Equal(t, "src-1", got.SourceID)
	assert.False(t, got.CreatedAt.IsZero())

	// Upsert updates mutable fields but keeps creation time.
	created := got.CreatedAt
	got.Title = "Amended Title"
	got.LastCursor = "tok-2"
	require.NoError(t, store.DocumentStore().SaveRecord(ctx, got))

	got, err = store.DocumentStore().GetRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "Amended Title", got.Title)
	assert.Equal(t, "tok-2", got.LastCursor)
	assert.Equal(t, created, got.CreatedAt)
}

func TestDocumentStore_AppendVersion_AssignsOrdinals(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	createTestSource(t, store, "src-1")
	record := createTestRecord(t, store, "src-1", "doc-1")

	v1 := newTestVersion(record.ID, "fp-aaa")
	require.NoError(t, store.DocumentStore().AppendVersion(ctx, v1))
	assert.Equal(t, 1, v1.Ordinal)

	v2 := newTestVersion(record.ID, "fp-bbb")
	require.NoError(t, store.DocumentStore().AppendVersion(ctx, v2))
	assert.Equal(t, 2, v2.Ordinal)

	latest, err := store.DocumentStore().LatestVersion(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, latest.ID)
	assert.Equal(t, domain.Fingerprint("fp-bbb"), latest.Fingerprint)
}

func TestDocumentStore_AppendVersion_RejectsAdjacentDuplicate(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	createTestSource(t, store, "src-1")
	record := createTestRecord(t, store, "src-1", "doc-1")

	require.NoError(t, store.DocumentStore().AppendVersion(ctx, newTestVersion(record.ID, "fp-same")))

	err := store.DocumentStore().AppendVersion(ctx, newTestVersion(record.ID, "fp-same"))
	assert.ErrorIs(t, err, domain.ErrDuplicateContent)

	// A different fingerprint, then the original again, is a legal history.
	require.NoError(t, store.DocumentStore().AppendVersion(ctx, newTestVersion(record.ID, "fp-other")))
	require.NoError(t, store.DocumentStore().AppendVersion(ctx, newTestVersion(record.ID, "fp-same")))
}

func TestDocumentStore_LatestVersion_NoVersions(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	createTestSource(t, store, "src-1")
	record := createTestRecord(t, store, "src-1", "doc-1")

	_, err := store.DocumentStore().LatestVersion(context.Background(), record.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDocumentStore_UpdateVersion_EnforcesTransitions(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	createTestSource(t, store, "src-1")
	record := createTestRecord(t, store, "src-1", "doc-1")

	version := newTestVersion(record.ID, "fp-1")
	require.NoError(t, store.DocumentStore().AppendVersion(ctx, version))

	// discovered -> fetched -> extracted -> published is the happy path.
	version.Status = domain.StatusFetched
	require.NoError(t, store.DocumentStore().UpdateVersion(ctx, version))

	version.Status = domain.StatusExtracted
	version.Title = "Extracted Title"
	version.Text = "Normalized body text."
	require.NoError(t, store.DocumentStore().UpdateVersion(ctx, version))

	version.Status = domain.StatusPublished
	version.PublishedAt = time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.DocumentStore().UpdateVersion(ctx, version))

	// Published versions are immutable.
	version.Status = domain.StatusExtracted
	err := store.DocumentStore().UpdateVersion(ctx, version)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	got, err := store.DocumentStore().GetVersion(ctx, version.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, got.Status)
	assert.Equal(t, "Extracted Title", got.Title)
	assert.False(t, got.PublishedAt.IsZero())
}

func TestDocumentStore_UpdateVersion_FailedRetry(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	createTestSource(t, store, "src-1")
	record := createTestRecord(t, store, "src-1", "doc-1")

	version := newTestVersion(record.ID, "fp-1")
	require.NoError(t, store.DocumentStore().AppendVersion(ctx, version))

	version.Status = domain.StatusFailed
	version.FailureReason = "UnsupportedFormat"
	require.NoError(t, store.DocumentStore().UpdateVersion(ctx, version))

	// Operator retry: failed may go back to extracted.
	version.Status = domain.StatusExtracted
	version.FailureReason = ""
	version.Text = "Recovered text."
	require.NoError(t, store.DocumentStore().UpdateVersion(ctx, version))

	got, err := store.DocumentStore().GetVersion(ctx, version.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExtracted, got.Status)
	assert.Empty(t, got.FailureReason)
}

func TestDocumentStore_ListVersionsByStatus(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	createTestSource(t, store, "src-1")
	recordA := createTestRecord(t, store, "src-1", "doc-a")
	recordB := createTestRecord(t, store, "src-1", "doc-b")

	older := newTestVersion(recordA.ID, "fp-a")
	older.ObservedAt = time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, store.DocumentStore().AppendVersion(ctx, older))

	newer := newTestVersion(recordB.ID, "fp-b")
	require.NoError(t, store.DocumentStore().AppendVersion(ctx, newer))

	pending, err := store.DocumentStore().ListVersionsByStatus(ctx, domain.StatusDiscovered)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, older.ID, pending[0].ID, "oldest observation first")
	assert.Equal(t, newer.ID, pending[1].ID)

	extracted, err := store.DocumentStore().ListVersionsByStatus(ctx, domain.StatusExtracted)
	require.NoError(t, err)
	assert.Empty(t, extracted)
}

// ==================== Dedup Index Tests ====================

func TestDedupIndex_RecordAndLookup(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	index := store.DedupIndex()

	_, _, err := index.Lookup(ctx, "fp-unseen")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, index.Record(ctx, "fp-1", "doc-earliest", "ver-1"))

	// Later records for the same fingerprint do not displace the owner.
	require.NoError(t, index.Record(ctx, "fp-1", "doc-later", "ver-2"))

	docID, verID, err := index.Lookup(ctx, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-earliest", docID)
	assert.Equal(t, "ver-1", verID)
}

func TestDedupIndex_Links(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	index := store.DedupIndex()

	require.NoError(t, index.Record(ctx, "fp-1", "doc-owner", "ver-1"))
	require.NoError(t, index.Link(ctx, "fp-1", "doc-mirror-a"))
	require.NoError(t, index.Link(ctx, "fp-1", "doc-mirror-b"))
	require.NoError(t, index.Link(ctx, "fp-1", "doc-mirror-a")) // idempotent

	links, err := index.Links(ctx, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-mirror-a", "doc-mirror-b"}, links)

	assert.ErrorIs(t, index.Link(ctx, "fp-unseen", "doc-x"), domain.ErrNotFound)
}

// ==================== Poll History Tests ====================

func TestPollHistoryStore_RecordAndHistory(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	history := store.PollHistoryStore()

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	for i := 0; i < 3; i++ {
		require.NoError(t, history.Record(ctx, &domain.PollResult{
			SourceID:         "src-1",
			StartedAt:        base.Add(time.Duration(i) * time.Minute),
			EndedAt:          base.Add(time.Duration(i)*time.Minute + 5*time.Second),
			Success:          true,
			ItemsListed:      10 + i,
			ConfirmedChanges: i,
		}))
	}

	results, err := history.History(ctx, "src-1", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 12, results[0].ItemsListed, "newest first")
	assert.Equal(t, 11, results[1].ItemsListed)
}

func TestPollHistoryStore_Prune(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	history := store.PollHistoryStore()

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	for i := 0; i < 5; i++ {
		require.NoError(t, history.Record(ctx, &domain.PollResult{
			SourceID:    "src-1",
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
			EndedAt:     base.Add(time.Duration(i) * time.Minute),
			Success:     true,
			ItemsListed: i,
		}))
	}

	require.NoError(t, history.Prune(ctx, 2))

	results, err := history.History(ctx, "src-1", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 4, results[0].ItemsListed)
	assert.Equal(t, 3, results[1].ItemsListed)
}

package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/watchtower-labs/watchtower/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/watchtower-labs/watchtower/internal/core/domain"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driven"
)

// Store is a unified SQLite-based storage that provides access to
// all metadata store interfaces through wrapper types.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.watchtower/data/watchtower.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".watchtower", "data")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "watchtower.db")

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	// Run migrations
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SourceStore returns a SourceStore interface backed by this store.
func (s *Store) SourceStore() driven.SourceStore {
	return &sourceStore{store: s}
}

// StateStore returns a StateStore interface backed by this store.
func (s *Store) StateStore() driven.StateStore {
	return &stateStore{store: s}
}

// DocumentStore returns a DocumentStore interface backed by this store.
func (s *Store) DocumentStore() driven.DocumentStore {
	return &documentStore{store: s}
}

// DedupIndex returns a DedupIndex interface backed by this store.
func (s *Store) DedupIndex() driven.DedupIndex {
	return &dedupIndex{store: s}
}

// PollHistoryStore returns a PollHistoryStore interface backed by this store.
func (s *Store) PollHistoryStore() driven.PollHistoryStore {
	return &pollHistoryStore{store: s}
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	// Ensure schema_migrations table exists
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	// Find all up migrations
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort and run migrations
	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// Extract version number (e.g., "001_initial.up.sql" -> 1)
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue // Skip files that don't match pattern
		}

		if version <= currentVersion {
			continue // Already applied
		}

		// Read and execute migration
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}

		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// ==================== Source Store ====================

// sourceStore implements driven.SourceStore.
type sourceStore struct {
	store *Store
}

var _ driven.SourceStore = (*sourceStore)(nil)

// Save stores or updates a source.
func (s *sourceStore) Save(ctx context.Context, source domain.Source) error {
	configJSON, err := json.Marshal(source.Config)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	now := time.Now().UTC()
	if source.CreatedAt.IsZero() {
		source.CreatedAt = now
	}
	source.UpdatedAt = now

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO sources (id, kind, name, endpoint, config, cadence_ns, politeness_ns,
			max_consecutive_failures, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			endpoint = excluded.endpoint,
			config = excluded.config,
			cadence_ns = excluded.cadence_ns,
			politeness_ns = excluded.politeness_ns,
			max_consecutive_failures = excluded.max_consecutive_failures,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, source.ID, source.Kind, source.Name, source.Endpoint, string(configJSON),
		int64(source.Cadence), int64(source.PolitenessDelay),
		source.MaxConsecutiveFailures, source.Enabled,
		source.CreatedAt, source.UpdatedAt)

	if err != nil {
		return fmt.Errorf("saving source: %w", err)
	}
	return nil
}

// Get retrieves a source by ID.
func (s *sourceStore) Get(ctx context.Context, id string) (*domain.Source, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, kind, name, endpoint, config, cadence_ns, politeness_ns,
			max_consecutive_failures, enabled, created_at, updated_at
		FROM sources WHERE id = ?
	`, id)

	return scanSource(row)
}

// List returns all configured sources.
func (s *sourceStore) List(ctx context.Context) ([]domain.Source, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, kind, name, endpoint, config, cadence_ns, politeness_ns,
			max_consecutive_failures, enabled, created_at, updated_at
		FROM sources ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying sources: %w", err)
	}
	defer rows.Close()

	var sources []domain.Source //nolint:prealloc // size unknown from query
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *source)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sources: %w", err)
	}

	return sources, nil
}

// Disable marks a source disabled without removing it.
func (s *sourceStore) Disable(ctx context.Context, id string) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE sources SET enabled = 0, updated_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("disabling source: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking disable result: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanSource(row scanner) (*domain.Source, error) {
	var source domain.Source
	var configJSON string
	var cadenceNS, politenessNS int64
	var createdAt, updatedAt sql.NullTime
	if err := row.Scan(&source.ID, &source.Kind, &source.Name, &source.Endpoint,
		&configJSON, &cadenceNS, &politenessNS, &source.MaxConsecutiveFailures,
		&source.Enabled, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning source: %w", err)
	}

	if err := json.Unmarshal([]byte(configJSON), &source.Config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	source.Cadence = time.Duration(cadenceNS)
	source.PolitenessDelay = time.Duration(politenessNS)
	if createdAt.Valid {
		source.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		source.UpdatedAt = updatedAt.Time
	}

	return &source, nil
}

// ==================== State Store ====================

// stateStore implements driven.StateStore.
type stateStore struct {
	store *Store
}

var _ driven.StateStore = (*stateStore)(nil)

// Save stores or updates processing state.
func (s *stateStore) Save(ctx context.Context, state domain.ProcessingState) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO processing_states (source_id, cursor, last_poll, last_success,
			consecutive_failures, last_error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			cursor = excluded.cursor,
			last_poll = excluded.last_poll,
			last_success = excluded.last_success,
			consecutive_failures = excluded.consecutive_failures,
			last_error = excluded.last_error
	`, state.SourceID, state.Cursor, nullTime(state.LastPoll), nullTime(state.LastSuccess),
		state.ConsecutiveFailures, state.LastError)

	if err != nil {
		return fmt.Errorf("saving processing state: %w", err)
	}
	return nil
}

// Get retrieves processing state for a source.
func (s *stateStore) Get(ctx context.Context, sourceID string) (*domain.ProcessingState, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT source_id, cursor, last_poll, last_success, consecutive_failures, last_error
		FROM processing_states WHERE source_id = ?
	`, sourceID)

	var state domain.ProcessingState
	var lastPoll, lastSuccess sql.NullTime
	if err := row.Scan(&state.SourceID, &state.Cursor, &lastPoll, &lastSuccess,
		&state.ConsecutiveFailures, &state.LastError); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning processing state: %w", err)
	}

	if lastPoll.Valid {
		state.LastPoll = lastPoll.Time
	}
	if lastSuccess.Valid {
		state.LastSuccess = lastSuccess.Time
	}

	return &state, nil
}

// ==================== Document Store ====================

// documentStore implements driven.DocumentStore.
type documentStore struct {
	store *Store
}

var _ driven.DocumentStore = (*documentStore)(nil)

// SaveRecord stores or updates a document record.
func (s *documentStore) SaveRecord(ctx context.Context, record *domain.DocumentRecord) error {
	if record == nil || record.ID == "" {
		return domain.ErrInvalidInput
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO documents (id, source_id, native_id, url, title, last_cursor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			last_cursor = excluded.last_cursor
	`, record.ID, record.SourceID, record.NativeID, record.URL, record.Title,
		record.LastCursor, record.CreatedAt)

	if err != nil {
		return fmt.Errorf("saving document record: %w", err)
	}
	return nil
}

// GetRecord retrieves a document record by ID.
func (s *documentStore) GetRecord(ctx context.Context, id string) (*domain.DocumentRecord, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, source_id, native_id, url, title, last_cursor, created_at
		FROM documents WHERE id = ?
	`, id)

	return scanRecord(row)
}

// ListRecords returns document records for a source.
func (s *documentStore) ListRecords(ctx context.Context, sourceID string) ([]domain.DocumentRecord, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, source_id, native_id, url, title, last_cursor, created_at
		FROM documents WHERE source_id = ?
		ORDER BY created_at
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("querying document records: %w", err)
	}
	defer rows.Close()

	var records []domain.DocumentRecord //nolint:prealloc // size unknown from query
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating document records: %w", err)
	}

	return records, nil
}

// AppendVersion appends a version to a document's history. The ordinal is
// assigned inside a transaction so concurrent appends cannot collide, and
// a fingerprint equal to the latest version's is rejected.
func (s *documentStore) AppendVersion(ctx context.Context, version *domain.Version) error {
	if version == nil || version.ID == "" || version.DocumentID == "" {
		return domain.ErrInvalidInput
	}

	metadataJSON, err := json.Marshal(version.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var latestOrdinal int
	var latestFingerprint string
	row := tx.QueryRowContext(ctx, `
		SELECT ordinal, fingerprint FROM versions
		WHERE document_id = ? ORDER BY ordinal DESC LIMIT 1
	`, version.DocumentID)
	if err := row.Scan(&latestOrdinal, &latestFingerprint); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("querying latest version: %w", err)
	}

	if latestOrdinal > 0 && domain.Fingerprint(latestFingerprint) == version.Fingerprint {
		return fmt.Errorf("append version for %s: %w", version.DocumentID, domain.ErrDuplicateContent)
	}

	version.Ordinal = latestOrdinal + 1
	if version.ObservedAt.IsZero() {
		version.ObservedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO versions (id, document_id, ordinal, fingerprint, status, cursor_token,
			origin_url, content_type, title, text, metadata, failure_reason,
			observed_at, published_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, version.ID, version.DocumentID, version.Ordinal, string(version.Fingerprint),
		string(version.Status), version.CursorToken, version.OriginURL, version.ContentType,
		version.Title, version.Text, string(metadataJSON), version.FailureReason,
		version.ObservedAt, nullTime(version.PublishedAt))
	if err != nil {
		return fmt.Errorf("inserting version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// LatestVersion returns the newest version for a document.
func (s *documentStore) LatestVersion(ctx context.Context, documentID string) (*domain.Version, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, document_id, ordinal, fingerprint, status, cursor_token, origin_url,
			content_type, title, text, metadata, failure_reason, observed_at, published_at
		FROM versions WHERE document_id = ?
		ORDER BY ordinal DESC LIMIT 1
	`, documentID)

	return scanVersion(row)
}

// GetVersion retrieves a version by ID.
func (s *documentStore) GetVersion(ctx context.Context, id string) (*domain.Version, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, document_id, ordinal, fingerprint, status, cursor_token, origin_url,
			content_type, title, text, metadata, failure_reason, observed_at, published_at
		FROM versions WHERE id = ?
	`, id)

	return scanVersion(row)
}

// UpdateVersion persists extraction output and status for a version,
// enforcing legal status transitions. Ordinal and fingerprint are
// immutable once appended.
func (s *documentStore) UpdateVersion(ctx context.Context, version *domain.Version) error {
	if version == nil || version.ID == "" {
		return domain.ErrInvalidInput
	}

	metadataJSON, err := json.Marshal(version.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current string
	row := tx.QueryRowContext(ctx, "SELECT status FROM versions WHERE id = ?", version.ID)
	if err := row.Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return domain.ErrNotFound
		}
		return fmt.Errorf("querying version status: %w", err)
	}

	currentStatus := domain.VersionStatus(current)
	if currentStatus != version.Status && !currentStatus.CanTransition(version.Status) {
		return fmt.Errorf("version %s: illegal transition %s -> %s: %w",
			version.ID, currentStatus, version.Status, domain.ErrInvalidInput)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE versions SET status = ?, title = ?, text = ?, metadata = ?,
			failure_reason = ?, published_at = ?
		WHERE id = ?
	`, string(version.Status), version.Title, version.Text, string(metadataJSON),
		version.FailureReason, nullTime(version.PublishedAt), version.ID)
	if err != nil {
		return fmt.Errorf("updating version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ListVersionsByStatus returns versions in a given status, oldest
// observation first.
func (s *documentStore) ListVersionsByStatus(ctx context.Context, status domain.VersionStatus) ([]domain.Version, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, document_id, ordinal, fingerprint, status, cursor_token, origin_url,
			content_type, title, text, metadata, failure_reason, observed_at, published_at
		FROM versions WHERE status = ?
		ORDER BY observed_at
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("querying versions by status: %w", err)
	}
	defer rows.Close()

	var versions []domain.Version //nolint:prealloc // size unknown from query
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *version)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating versions: %w", err)
	}

	return versions, nil
}

func scanRecord(row scanner) (*domain.DocumentRecord, error) {
	var record domain.DocumentRecord
	var createdAt sql.NullTime
	if err := row.Scan(&record.ID, &record.SourceID, &record.NativeID, &record.URL,
		&record.Title, &record.LastCursor, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning document record: %w", err)
	}
	if createdAt.Valid {
		record.CreatedAt = createdAt.Time
	}
	return &record, nil
}

func scanVersion(row scanner) (*domain.Version, error) {
	var version domain.Version
	var fingerprint, status, metadataJSON string
	var observedAt, publishedAt sql.NullTime
	if err := row.Scan(&version.ID, &version.DocumentID, &version.Ordinal, &fingerprint,
		&status, &version.CursorToken, &version.OriginURL, &version.ContentType,
		&version.Title, &version.Text, &metadataJSON, &version.FailureReason,
		&observedAt, &publishedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning version: %w", err)
	}

	if err := json.Unmarshal([]byte(metadataJSON), &version.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshaling metadata: %w", err)
	}

	version.Fingerprint = domain.Fingerprint(fingerprint)
	version.Status = domain.VersionStatus(status)
	if observedAt.Valid {
		version.ObservedAt = observedAt.Time
	}
	if publishedAt.Valid {
		version.PublishedAt = publishedAt.Time
	}

	return &version, nil
}

// ==================== Dedup Index ====================

// dedupIndex implements driven.DedupIndex.
type dedupIndex struct {
	store *Store
}

var _ driven.DedupIndex = (*dedupIndex)(nil)

// Lookup returns the earliest owner of a fingerprint.
func (d *dedupIndex) Lookup(ctx context.Context, fp domain.Fingerprint) (string, string, error) {
	row := d.store.db.QueryRowContext(ctx, `
		SELECT document_id, version_id FROM dedup_index WHERE fingerprint = ?
	`, string(fp))

	var documentID, versionID string
	if err := row.Scan(&documentID, &versionID); err != nil {
		if err == sql.ErrNoRows {
			return "", "", domain.ErrNotFound
		}
		return "", "", fmt.Errorf("scanning dedup entry: %w", err)
	}
	return documentID, versionID, nil
}

// Record stores the earliest owner of a fingerprint. Later calls for the
// same fingerprint are no-ops.
func (d *dedupIndex) Record(ctx context.Context, fp domain.Fingerprint, documentID, versionID string) error {
	if fp == "" || documentID == "" {
		return domain.ErrInvalidInput
	}

	_, err := d.store.db.ExecContext(ctx, `
		INSERT INTO dedup_index (fingerprint, document_id, version_id)
		VALUES (?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING
	`, string(fp), documentID, versionID)
	if err != nil {
		return fmt.Errorf("recording dedup entry: %w", err)
	}
	return nil
}

// Link records that another document republished the same bytes.
func (d *dedupIndex) Link(ctx context.Context, fp domain.Fingerprint, documentID string) error {
	var exists int
	row := d.store.db.QueryRowContext(ctx,
		"SELECT 1 FROM dedup_index WHERE fingerprint = ?", string(fp))
	if err := row.Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return domain.ErrNotFound
		}
		return fmt.Errorf("checking dedup entry: %w", err)
	}

	_, err := d.store.db.ExecContext(ctx, `
		INSERT INTO dedup_links (fingerprint, document_id)
		VALUES (?, ?)
		ON CONFLICT(fingerprint, document_id) DO NOTHING
	`, string(fp), documentID)
	if err != nil {
		return fmt.Errorf("recording dedup link: %w", err)
	}
	return nil
}

// Links lists document IDs linked to a fingerprint, excluding the owner.
func (d *dedupIndex) Links(ctx context.Context, fp domain.Fingerprint) ([]string, error) {
	var exists int
	row := d.store.db.QueryRowContext(ctx,
		"SELECT 1 FROM dedup_index WHERE fingerprint = ?", string(fp))
	if err := row.Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("checking dedup entry: %w", err)
	}

	rows, err := d.store.db.QueryContext(ctx, `
		SELECT document_id FROM dedup_links WHERE fingerprint = ? ORDER BY document_id
	`, string(fp))
	if err != nil {
		return nil, fmt.Errorf("querying dedup links: %w", err)
	}
	defer rows.Close()

	links := []string{}
	for rows.Next() {
		var documentID string
		if err := rows.Scan(&documentID); err != nil {
			return nil, fmt.Errorf("scanning dedup link: %w", err)
		}
		links = append(links, documentID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dedup links: %w", err)
	}

	return links, nil
}

// ==================== Poll History Store ====================

// pollHistoryStore implements driven.PollHistoryStore.
type pollHistoryStore struct {
	store *Store
}

var _ driven.PollHistoryStore = (*pollHistoryStore)(nil)

// Record logs a poll result.
func (s *pollHistoryStore) Record(ctx context.Context, result *domain.PollResult) error {
	if result == nil || result.SourceID == "" {
		return domain.ErrInvalidInput
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO poll_history (source_id, started_at, ended_at, success, error,
			items_listed, new_documents, confirmed_changes, false_positives, duplicates, cursor)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, result.SourceID, result.StartedAt, result.EndedAt, result.Success, result.Error,
		result.ItemsListed, result.NewDocuments, result.ConfirmedChanges,
		result.FalsePositives, result.Duplicates, result.Cursor)
	if err != nil {
		return fmt.Errorf("recording poll result: %w", err)
	}
	return nil
}

// History returns recent results for a source, newest first.
func (s *pollHistoryStore) History(ctx context.Context, sourceID string, limit int) ([]domain.PollResult, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.store.db.QueryContext(ctx, `
		SELECT source_id, started_at, ended_at, success, error, items_listed,
			new_documents, confirmed_changes, false_positives, duplicates, cursor
		FROM poll_history WHERE source_id = ?
		ORDER BY started_at DESC, id DESC LIMIT ?
	`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying poll history: %w", err)
	}
	defer rows.Close()

	var results []domain.PollResult //nolint:prealloc // size unknown from query
	for rows.Next() {
		var result domain.PollResult
		var startedAt, endedAt sql.NullTime
		if err := rows.Scan(&result.SourceID, &startedAt, &endedAt, &result.Success,
			&result.Error, &result.ItemsListed, &result.NewDocuments,
			&result.ConfirmedChanges, &result.FalsePositives, &result.Duplicates,
			&result.Cursor); err != nil {
			return nil, fmt.Errorf("scanning poll result: %w", err)
		}
		if startedAt.Valid {
			result.StartedAt = startedAt.Time
		}
		if endedAt.Valid {
			result.EndedAt = endedAt.Time
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating poll history: %w", err)
	}

	return results, nil
}

// Prune keeps only the most recent keep results per source.
func (s *pollHistoryStore) Prune(ctx context.Context, keep int) error {
	if keep < 0 {
		return domain.ErrInvalidInput
	}

	_, err := s.store.db.ExecContext(ctx, `
		DELETE FROM poll_history WHERE id NOT IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY source_id ORDER BY started_at DESC, id DESC
				) AS rn
				FROM poll_history
			) WHERE rn <= ?
		)
	`, keep)
	if err != nil {
		return fmt.Errorf("pruning poll history: %w", err)
	}
	return nil
}

// nullTime maps a zero time to SQL NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// Package metadb is the metadata database: the persistent mapping from
// remote file ids to the local trackers that drive synchronization. Every
// record is mirrored in memory and indexed by file id, by tracker id, and
// by (parent tracker, title); SQLite holds the durable copy. Mutations are
// applied as one transaction each, so a failed write leaves both copies as
// they were.
package metadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Sentinel errors. Use errors.Is to check.
var (
	// ErrDatabase wraps every failure of the underlying storage.
	ErrDatabase           = errors.New("metadb: database error")
	ErrAlreadyInitialized = errors.New("metadb: sync root already initialized")
	ErrNotInitialized     = errors.New("metadb: sync root not initialized")
	ErrNotFound           = errors.New("metadb: not found")
	ErrConflict           = errors.New("metadb: conflicting active tracker")
	ErrSyncRootRemoval    = errors.New("metadb: the sync root cannot be removed")
)

// dbDirPerms is used when creating the directory holding the database.
const dbDirPerms = 0o700

// SQL statements.
const (
	sqlLoadService = `SELECT next_tracker_id, sync_root_tracker_id, largest_change_id
		FROM service_metadata WHERE id = 1`

	sqlLoadFiles = `SELECT file_id, title, is_folder, etag, placeholder, parent_ids
		FROM file_metadata`

	sqlLoadTrackers = `SELECT tracker_id, file_id, parent_tracker_id, role, app_id,
		active, dirty, needs_folder_listing, title
		FROM trackers`

	sqlUpsertService = `INSERT INTO service_metadata
		(id, next_tracker_id, sync_root_tracker_id, largest_change_id)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 next_tracker_id = excluded.next_tracker_id,
		 sync_root_tracker_id = excluded.sync_root_tracker_id,
		 largest_change_id = excluded.largest_change_id`

	sqlUpsertFile = `INSERT INTO file_metadata
		(file_id, title, is_folder, etag, placeholder, parent_ids)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET
		 title = excluded.title,
		 is_folder = excluded.is_folder,
		 etag = excluded.etag,
		 placeholder = excluded.placeholder,
		 parent_ids = excluded.parent_ids`

	sqlDeleteFile = `DELETE FROM file_metadata WHERE file_id = ?`

	sqlUpsertTracker = `INSERT INTO trackers
		(tracker_id, file_id, parent_tracker_id, role, app_id,
		 active, dirty, needs_folder_listing, title)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tracker_id) DO UPDATE SET
		 file_id = excluded.file_id,
		 parent_tracker_id = excluded.parent_tracker_id,
		 role = excluded.role,
		 app_id = excluded.app_id,
		 active = excluded.active,
		 dirty = excluded.dirty,
		 needs_folder_listing = excluded.needs_folder_listing,
		 title = excluded.title`

	sqlDeleteTracker = `DELETE FROM trackers WHERE tracker_id = ?`
)

// serviceMetadata is the singleton bookkeeping row.
type serviceMetadata struct {
	nextTrackerID     int64
	syncRootTrackerID int64
	largestChangeID   int64
}

// state is the in-memory mirror of the persisted records.
type state struct {
	service                  serviceMetadata
	fileByID                 map[string]*FileMetadata
	trackerByID              map[int64]*Tracker
	trackersByFileID         map[string]*TrackerIDSet
	trackersByParentAndTitle map[int64]map[string]*TrackerIDSet
	appRootByAppID           map[string]int64
}

func newState() state {
	return state{
		service:                  serviceMetadata{nextTrackerID: 1},
		fileByID:                 make(map[string]*FileMetadata),
		trackerByID:              make(map[int64]*Tracker),
		trackersByFileID:         make(map[string]*TrackerIDSet),
		trackersByParentAndTitle: make(map[int64]map[string]*TrackerIDSet),
		appRootByAppID:           make(map[string]int64),
	}
}

// DB is the metadata database. All methods are safe for concurrent use;
// readers share a lock and writers hold it exclusively.
type DB struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	logger *slog.Logger

	state

	// broken is set when a failed write could not be rolled back in memory.
	// Every later write fails with it.
	broken error
}

// Open opens or initializes the database at path, applies migrations, and
// loads every record into memory. Trackers no longer reachable from the
// sync root, and metadata no tracker refers to, are pruned on load.
// All failures wrap ErrDatabase.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), dbDirPerms); err != nil {
		return nil, fmt.Errorf("%w: creating directory for %s: %w", ErrDatabase, path, err)
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		path,
	)

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrDatabase, path, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	sqlDB.SetMaxOpenConns(1)

	if err := runMigrations(ctx, sqlDB, logger); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: %w", ErrDatabase, err)
	}

	d := &DB{db: sqlDB, path: path, logger: logger, state: newState()}

	if err := d.load(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	if err := d.pruneUnreachable(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	logger.Info("metadata database opened",
		slog.String("db_path", path),
		slog.Int("files", len(d.fileByID)),
		slog.Int("trackers", len(d.trackerByID)),
	)

	return d, nil
}

// Path returns the location the database was opened from.
func (d *DB) Path() string {
	return d.path
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.db.Close()
}

// load replaces the in-memory state with the persisted one. The current
// state is kept if loading fails.
func (d *DB) load(ctx context.Context) error {
	st := newState()

	if err := d.loadService(ctx, &st); err != nil {
		return err
	}

	if err := d.loadFiles(ctx, &st); err != nil {
		return err
	}

	if err := d.loadTrackers(ctx, &st); err != nil {
		return err
	}

	d.state = st

	return nil
}

func (d *DB) loadService(ctx context.Context, st *state) error {
	var syncRoot sql.NullInt64

	err := d.db.QueryRowContext(ctx, sqlLoadService).Scan(
		&st.service.nextTrackerID, &syncRoot, &st.service.largestChangeID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("%w: loading service metadata: %w", ErrDatabase, err)
	}

	st.service.syncRootTrackerID = syncRoot.Int64

	return nil
}

func (d *DB) loadFiles(ctx context.Context, st *state) error {
	rows, err := d.db.QueryContext(ctx, sqlLoadFiles)
	if err != nil {
		return fmt.Errorf("%w: loading file metadata: %w", ErrDatabase, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			f         FileMetadata
			etag      sql.NullString
			parentIDs string
		)

		if err := rows.Scan(&f.FileID, &f.Title, &f.IsFolder, &etag, &f.Placeholder, &parentIDs); err != nil {
			return fmt.Errorf("%w: scanning file metadata row: %w", ErrDatabase, err)
		}

		if err := json.Unmarshal([]byte(parentIDs), &f.ParentIDs); err != nil {
			return fmt.Errorf("%w: decoding parents of %s: %w", ErrDatabase, f.FileID, err)
		}

		f.ETag = etag.String
		st.fileByID[f.FileID] = &f
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: iterating file metadata rows: %w", ErrDatabase, err)
	}

	return nil
}

func (d *DB) loadTrackers(ctx context.Context, st *state) error {
	rows, err := d.db.QueryContext(ctx, sqlLoadTrackers)
	if err != nil {
		return fmt.Errorf("%w: loading trackers: %w", ErrDatabase, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t        Tracker
			parentID sql.NullInt64
			role     string
			appID    sql.NullString
		)

		err := rows.Scan(&t.TrackerID, &t.FileID, &parentID, &role, &appID,
			&t.Active, &t.Dirty, &t.NeedsFolderListing, &t.Title)
		if err != nil {
			return fmt.Errorf("%w: scanning tracker row: %w", ErrDatabase, err)
		}

		if t.Role, err = ParseRole(role); err != nil {
			return fmt.Errorf("%w: %w", ErrDatabase, err)
		}

		t.ParentTrackerID = parentID.Int64
		t.AppID = appID.String
		st.indexTracker(&t)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: iterating tracker rows: %w", ErrDatabase, err)
	}

	return nil
}

// ---------------------------------------------------------------------------
// Write batches
// ---------------------------------------------------------------------------

type batchOp struct {
	query string
	args  []any
}

// batch collects the statements of one mutation. Mutators update memory and
// record the matching statement; commit makes both durable or neither.
type batch struct {
	ops []batchOp
}

func (b *batch) add(query string, args ...any) {
	b.ops = append(b.ops, batchOp{query: query, args: args})
}

func (b *batch) putService(s serviceMetadata) {
	b.add(sqlUpsertService, s.nextTrackerID, nullInt64(s.syncRootTrackerID), s.largestChangeID)
}

func (b *batch) putFile(f *FileMetadata) {
	parents := f.ParentIDs
	if parents == nil {
		parents = []string{}
	}

	// Marshaling a []string cannot fail.
	encoded, _ := json.Marshal(parents) //nolint:errchkjson // plain string slice

	b.add(sqlUpsertFile, f.FileID, f.Title, f.IsFolder, nullString(f.ETag), f.Placeholder, string(encoded))
}

func (b *batch) deleteFile(fileID string) {
	b.add(sqlDeleteFile, fileID)
}

func (b *batch) putTracker(t *Tracker) {
	b.add(sqlUpsertTracker,
		t.TrackerID, t.FileID, nullInt64(t.ParentTrackerID), t.Role.String(),
		nullString(t.AppID), t.Active, t.Dirty, t.NeedsFolderListing, t.Title,
	)
}

func (b *batch) deleteTracker(trackerID int64) {
	b.add(sqlDeleteTracker, trackerID)
}

// commit applies b in one transaction. On failure the in-memory state is
// rebuilt from disk, discarding the mutations that produced b.
// Caller must hold d.mu for writing and must have called writable first.
func (d *DB) commit(ctx context.Context, b *batch) error {
	if len(b.ops) == 0 {
		return nil
	}

	err := d.applyBatch(ctx, b)
	if err == nil {
		return nil
	}

	d.logger.Error("metadata write failed, reloading from disk",
		slog.Int("statements", len(b.ops)),
		slog.String("error", err.Error()),
	)

	// The write context may be the reason for the failure.
	if reloadErr := d.load(context.WithoutCancel(ctx)); reloadErr != nil {
		d.broken = errors.Join(err, reloadErr)
		return d.broken
	}

	return err
}

// writable returns the error that broke the database, if any.
func (d *DB) writable() error {
	if d.broken != nil {
		return fmt.Errorf("%w: in-memory state diverged from disk: %w", ErrDatabase, d.broken)
	}

	return nil
}

func (d *DB) applyBatch(ctx context.Context, b *batch) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %w", ErrDatabase, err)
	}
	defer tx.Rollback()

	for _, op := range b.ops {
		if _, err := tx.ExecContext(ctx, op.query, op.args...); err != nil {
			return fmt.Errorf("%w: executing statement: %w", ErrDatabase, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing transaction: %w", ErrDatabase, err)
	}

	d.logger.Debug("metadata committed", slog.Int("statements", len(b.ops)))

	return nil
}

// ---------------------------------------------------------------------------
// Nullable helpers: empty string / zero int → NULL in SQLite.
// ---------------------------------------------------------------------------

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}

func nullInt64(n int64) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: n, Valid: true}
}

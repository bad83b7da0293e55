package metadb

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/syncroot/internal/remote"
)

// testLogWriter routes slog output through t.Log so database activity
// shows up with -v.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// openTestDB opens a database at path and closes it when the test ends.
func openTestDB(t *testing.T, path string) *DB {
	t.Helper()

	d, err := Open(context.Background(), path, testLogger(t))
	require.NoError(t, err, "Open(%q)", path)

	t.Cleanup(func() {
		// Tests that reopen the same file close it themselves first.
		_ = d.Close()
	})

	return d
}

func newTestDB(t *testing.T) (*DB, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "state", "metadata.db")

	return openTestDB(t, path), path
}

func folder(id, title string, parents ...string) remote.Resource {
	r := remote.Resource{ID: id, Title: title, IsFolder: true, ETag: "etag-" + id}
	for _, p := range parents {
		r.Parents = append(r.Parents, remote.ParentRef{ID: p, IsRoot: p == "root"})
	}

	return r
}

// populateDefault seeds a sync root "sr" with app roots "app-a" and "app-b".
func populateDefault(t *testing.T, d *DB) {
	t.Helper()

	err := d.PopulateInitialData(context.Background(), 42,
		folder("sr", "Chrome Syncable FileSystem"),
		[]remote.Resource{folder("app-a", "a", "sr"), folder("app-b", "b", "sr")},
	)
	require.NoError(t, err)
}

// failWrites installs a trigger that aborts every write touching trackers.
func failWrites(t *testing.T, d *DB) {
	t.Helper()

	ctx := context.Background()
	for _, stmt := range []string{
		`CREATE TRIGGER fail_insert BEFORE INSERT ON trackers BEGIN SELECT RAISE(ABORT, 'injected'); END`,
		`CREATE TRIGGER fail_update BEFORE UPDATE ON trackers BEGIN SELECT RAISE(ABORT, 'injected'); END`,
		`CREATE TRIGGER fail_delete BEFORE DELETE ON trackers BEGIN SELECT RAISE(ABORT, 'injected'); END`,
	} {
		_, err := d.db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
}

func restoreWrites(t *testing.T, d *DB) {
	t.Helper()

	for _, name := range []string{"fail_insert", "fail_update", "fail_delete"} {
		_, err := d.db.ExecContext(context.Background(), "DROP TRIGGER "+name)
		require.NoError(t, err)
	}
}

// assertInvariants checks one active tracker per file id, a single sync
// root without a parent, and that every parent exists.
func assertInvariants(t *testing.T, d *DB) {
	t.Helper()

	roots := 0
	for _, tr := range d.Trackers() {
		set := d.FindTrackersByFileID(tr.FileID)
		assert.True(t, set.Has(tr.TrackerID))

		if tr.Active {
			assert.Equal(t, tr.TrackerID, set.ActiveTracker(), "file %s has another active tracker", tr.FileID)
		}

		if tr.IsSyncRoot() {
			roots++
			assert.Zero(t, tr.ParentTrackerID)

			continue
		}

		_, err := d.FindTrackerByTrackerID(tr.ParentTrackerID)
		assert.NoError(t, err, "parent of tracker %d", tr.TrackerID)
	}

	assert.Equal(t, 1, roots, "sync root count")
}

func TestOpen_EmptyDatabase(t *testing.T) {
	t.Parallel()

	d, path := newTestDB(t)

	_, err := os.Stat(path)
	require.NoError(t, err)

	assert.False(t, d.HasSyncRoot())
	assert.Equal(t, path, d.Path())

	_, err = d.SyncRootTrackerID()
	assert.ErrorIs(t, err, ErrNotInitialized)

	assert.Equal(t, Stats{}, d.Stats())
	assert.Zero(t, d.FindTrackersByFileID("anything").Len())
}

func TestOpen_CorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "metadata.db")
	garbage := make([]byte, 8192)
	for i := range garbage {
		garbage[i] = byte('x')
	}

	require.NoError(t, os.WriteFile(path, garbage, 0o600))

	_, err := Open(context.Background(), path, testLogger(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDatabase)
}

func TestOpen_UnwritableLocation(t *testing.T) {
	t.Parallel()

	// A regular file where the parent directory should be.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	_, err := Open(context.Background(), filepath.Join(blocker, "metadata.db"), testLogger(t))
	assert.ErrorIs(t, err, ErrDatabase)
}

func TestPopulateInitialData_SeedsTree(t *testing.T) {
	t.Parallel()

	d, _ := newTestDB(t)
	populateDefault(t, d)

	rootID, err := d.SyncRootTrackerID()
	require.NoError(t, err)

	root, err := d.FindTrackerByTrackerID(rootID)
	require.NoError(t, err)
	assert.Equal(t, "sr", root.FileID)
	assert.True(t, root.Active)
	assert.True(t, root.IsSyncRoot())
	assert.True(t, root.NeedsFolderListing)
	assert.Zero(t, root.ParentTrackerID)

	for _, id := range []string{"app-a", "app-b"} {
		set := d.FindTrackersByFileID(id)
		require.Equal(t, 1, set.Len(), id)
		assert.False(t, set.HasActive(), id)

		tr, err := d.FindTrackerByTrackerID(set.IDs()[0])
		require.NoError(t, err)
		assert.Equal(t, RoleAppRoot, tr.Role)
		assert.Equal(t, rootID, tr.ParentTrackerID)
		assert.Empty(t, tr.AppID)
	}

	assert.Equal(t, Stats{Files: 3, Trackers: 3, ActiveTrackers: 1}, d.Stats())
	assert.Equal(t, int64(42), d.LargestChangeID())

	f, err := d.FindFileByFileID("sr")
	require.NoError(t, err)
	assert.Empty(t, f.ParentIDs, "claimed sync root is stored detached")

	app, err := d.FindFileByFileID("app-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"sr"}, app.ParentIDs)

	assertInvariants(t, d)
}

func TestPopulateInitialData_AlreadyInitialized(t *testing.T) {
	t.Parallel()

	d, _ := newTestDB(t)
	populateDefault(t, d)

	err := d.PopulateInitialData(context.Background(), 1, folder("other", "x"), nil)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Equal(t, 3, d.Stats().Trackers)
}

func TestPopulateInitialData_DuplicateAppRoots(t *testing.T) {
	t.Parallel()

	d, _ := newTestDB(t)
	err := d.PopulateInitialData(context.Background(), 1, folder("sr", "root"),
		[]remote.Resource{folder("a", "a", "sr"), folder("a", "a", "sr"), folder("sr", "self", "sr")})
	require.NoError(t, err)

	assert.Equal(t, 2, d.Stats().Trackers)
	assertInvariants(t, d)
}

func TestPopulateInitialData_Placeholder(t *testing.T) {
	t.Parallel()

	d, _ := newTestDB(t)
	root := NewPlaceholderSyncRoot("Chrome Syncable FileSystem")
	require.True(t, IsPlaceholderID(root.ID))

	require.NoError(t, d.PopulateInitialData(context.Background(), 0, root, nil))

	f, err := d.FindFileByFileID(root.ID)
	require.NoError(t, err)
	assert.True(t, f.Placeholder)

	rootID, err := d.SyncRootTrackerID()
	require.NoError(t, err)

	tr, err := d.FindTrackerByTrackerID(rootID)
	require.NoError(t, err)
	assert.False(t, tr.NeedsFolderListing)
}

func TestPopulateInitialData_AllOrNothing(t *testing.T) {
	t.Parallel()

	d, path := newTestDB(t)
	failWrites(t, d)

	err := d.PopulateInitialData(context.Background(), 7, folder("sr", "root"),
		[]remote.Resource{folder("a", "a", "sr")})
	require.ErrorIs(t, err, ErrDatabase)

	assert.False(t, d.HasSyncRoot())
	assert.Equal(t, Stats{}, d.Stats())

	restoreWrites(t, d)
	require.NoError(t, d.Close())

	reopened := openTestDB(t, path)
	assert.False(t, reopened.HasSyncRoot())
	assert.Equal(t, Stats{}, reopened.Stats())

	// A retry after the failure succeeds.
	require.NoError(t, reopened.PopulateInitialData(context.Background(), 7, folder("sr", "root"),
		[]remote.Resource{folder("a", "a", "sr")}))
	assert.Equal(t, 2, reopened.Stats().Trackers)
}

func TestOpen_ReloadsPersistedState(t *testing.T) {
	t.Parallel()

	d, path := newTestDB(t)
	populateDefault(t, d)
	require.NoError(t, d.RegisterApp(context.Background(), "app-1", "app-a"))

	before := d.Trackers()
	require.NoError(t, d.Close())

	reopened := openTestDB(t, path)
	assert.Equal(t, before, reopened.Trackers())
	assert.Equal(t, int64(42), reopened.LargestChangeID())
	assert.Equal(t, []string{"app-1"}, reopened.RegisteredAppIDs())
	assertInvariants(t, reopened)

	assert.Equal(t, int64(4), reopened.service.nextTrackerID)
}

func TestOpen_PrunesUnreachable(t *testing.T) {
	t.Parallel()

	d, path := newTestDB(t)
	populateDefault(t, d)

	rootID, err := d.SyncRootTrackerID()
	require.NoError(t, err)

	appA := d.FindTrackersByFileID("app-a").IDs()[0]

	// Rows written behind the database's back: a child of an inactive app
	// root and a metadata record nothing refers to.
	ctx := context.Background()
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO file_metadata (file_id, title, is_folder, parent_ids) VALUES
		 ('child', 'child', 1, '["app-a"]'), ('stray', 'stray', 0, '[]')`)
	require.NoError(t, err)
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO trackers (tracker_id, file_id, parent_tracker_id, role, active, dirty,
		 needs_folder_listing, title) VALUES (100, 'child', ?, 'regular', 1, 0, 0, 'child')`, appA)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	reopened := openTestDB(t, path)

	_, err = reopened.FindTrackerByTrackerID(100)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = reopened.FindFileByFileID("stray")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = reopened.FindFileByFileID("child")
	assert.ErrorIs(t, err, ErrNotFound)

	gotRoot, err := reopened.SyncRootTrackerID()
	require.NoError(t, err)
	assert.Equal(t, rootID, gotRoot)
	assert.Equal(t, Stats{Files: 3, Trackers: 3, ActiveTrackers: 1}, reopened.Stats())
}

func TestFindTrackerByTrackerID_NotFound(t *testing.T) {
	t.Parallel()

	d, _ := newTestDB(t)

	_, err := d.FindTrackerByTrackerID(99)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = d.FindFileByFileID("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindTrackersByParentAndTitle_Normalized(t *testing.T) {
	t.Parallel()

	d, _ := newTestDB(t)

	// Stored precomposed, looked up as "e" plus a combining acute.
	require.NoError(t, d.PopulateInitialData(context.Background(), 1, folder("sr", "root"),
		[]remote.Resource{folder("x", "caf\u00e9", "sr")}))

	rootID, err := d.SyncRootTrackerID()
	require.NoError(t, err)

	set := d.FindTrackersByParentAndTitle(rootID, "cafe\u0301")
	require.Equal(t, 1, set.Len())

	tr, err := d.FindTrackerByTrackerID(set.IDs()[0])
	require.NoError(t, err)
	assert.Equal(t, "x", tr.FileID)

	assert.Zero(t, d.FindTrackersByParentAndTitle(rootID, "other").Len())
}

func TestSnapshotsAreCopies(t *testing.T) {
	t.Parallel()

	d, _ := newTestDB(t)
	populateDefault(t, d)

	files := d.Files()
	require.Len(t, files, 3)
	assert.Equal(t, "app-a", files[0].FileID)

	files[0].ParentIDs[0] = "mutated"

	f, err := d.FindFileByFileID("app-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"sr"}, f.ParentIDs)

	set := d.FindTrackersByFileID("app-a")
	ids := set.IDs()
	ids[0] = -1
	assert.NotEqual(t, int64(-1), d.FindTrackersByFileID("app-a").IDs()[0])
}

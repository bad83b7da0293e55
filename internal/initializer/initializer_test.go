package initializer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/syncroot/internal/metadb"
	"github.com/tonimelisma/syncroot/internal/remote"
	"github.com/tonimelisma/syncroot/internal/remote/remotetest"
)

const testTimeout = 10 * time.Second

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

// runOnce runs a fresh initializer to completion and returns its result
// and the database it produced. The database is closed at cleanup.
func runOnce(t *testing.T, store *remotetest.Store, dbPath string, opts ...Option) (Result, *metadb.DB) {
	t.Helper()

	opts = append([]Option{WithLogger(testLogger(t))}, opts...)
	boot := New(store, dbPath, opts...)

	results := make(chan Result, 1)
	require.NoError(t, boot.Run(context.Background(), func(r Result) { results <- r }))

	var res Result
	select {
	case res = <-results:
	case <-time.After(testTimeout):
		t.Fatal("initializer did not complete")
	}

	assert.Equal(t, res, boot.Wait())

	db, err := boot.PassMetadataDatabase()
	if errors.Is(err, ErrNoDatabase) {
		return res, nil
	}

	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return res, db
}

// reopen closes db and opens the same file again, so assertions also
// cover what reached disk.
func reopen(t *testing.T, db *metadb.DB) *metadb.DB {
	t.Helper()

	path := db.Path()
	require.NoError(t, db.Close())

	reopened, err := metadb.Open(context.Background(), path, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	return reopened
}

func dbPath(t *testing.T) string {
	t.Helper()

	return filepath.Join(t.TempDir(), "metadata.db")
}

func syncRootTracker(t *testing.T, db *metadb.DB) metadb.Tracker {
	t.Helper()

	id, err := db.SyncRootTrackerID()
	require.NoError(t, err)

	tr, err := db.FindTrackerByTrackerID(id)
	require.NoError(t, err)

	return tr
}

// assertInvariants checks at most one active tracker per file id and
// exactly one sync root.
func assertInvariants(t *testing.T, db *metadb.DB) {
	t.Helper()

	roots := 0
	for _, tr := range db.Trackers() {
		active := 0
		set := db.FindTrackersByFileID(tr.FileID)

		for _, id := range set.IDs() {
			other, err := db.FindTrackerByTrackerID(id)
			require.NoError(t, err)

			if other.Active {
				active++
			}
		}

		assert.LessOrEqual(t, active, 1, "file %s", tr.FileID)

		if tr.IsSyncRoot() {
			roots++
		}
	}

	assert.Equal(t, 1, roots)
}

func TestRun_NoRemoteCandidate(t *testing.T) {
	t.Parallel()

	store := remotetest.New()
	res, db := runOnce(t, store, dbPath(t))
	require.Equal(t, StatusOK, res.Status, "err: %v", res.Err)

	db = reopen(t, db)
	stats := db.Stats()
	assert.Equal(t, 1, stats.Trackers)
	assert.Equal(t, 1, stats.Files)

	root := syncRootTracker(t, db)
	assert.True(t, root.Active)
	assert.True(t, metadb.IsPlaceholderID(root.FileID))

	f, err := db.FindFileByFileID(root.FileID)
	require.NoError(t, err)
	assert.True(t, f.Placeholder)
	assert.Equal(t, DefaultSyncRootTitle, f.Title)

	assert.Zero(t, store.Calls(remotetest.OpRemoveParent))
	assert.Zero(t, store.Calls(remotetest.OpCreateFolder))
	assertInvariants(t, db)
}

func TestRun_SingleCandidateWithTwoChildren(t *testing.T) {
	t.Parallel()

	store := remotetest.New()
	root := store.AddFolder("", DefaultSyncRootTitle)
	appA := store.AddFolder(root.ID, "app-a")
	appB := store.AddFolder(root.ID, "app-b")
	store.AddFile(root.ID, "stray file")

	res, db := runOnce(t, store, dbPath(t))
	require.Equal(t, StatusOK, res.Status, "err: %v", res.Err)

	db = reopen(t, db)
	stats := db.Stats()
	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 3, stats.Trackers)

	sr := syncRootTracker(t, db)
	assert.Equal(t, root.ID, sr.FileID)
	assert.True(t, sr.Active)

	for _, id := range []string{appA.ID, appB.ID} {
		set := db.FindTrackersByFileID(id)
		require.Equal(t, 1, set.Len())
		assert.False(t, set.HasActive())

		tr, err := db.FindTrackerByTrackerID(set.IDs()[0])
		require.NoError(t, err)
		assert.Equal(t, metadb.RoleAppRoot, tr.Role)
		assert.Equal(t, sr.TrackerID, tr.ParentTrackerID)
	}

	assert.Equal(t, 1, db.FindTrackersByFileID(root.ID).Len())
	assert.Empty(t, store.Parents(root.ID), "claimed root is detached remotely")
	assertInvariants(t, db)
}

func TestRun_Idempotent(t *testing.T) {
	t.Parallel()

	store := remotetest.New()
	root := store.AddFolder("", DefaultSyncRootTitle)
	store.AddFolder(root.ID, "app")
	path := dbPath(t)

	res, db := runOnce(t, store, path)
	require.Equal(t, StatusOK, res.Status)

	first := db.Stats()
	firstRoot := syncRootTracker(t, db).FileID
	require.NoError(t, db.Close())

	listCalls := store.Calls(remotetest.OpListFoldersByTitle)

	res, db = runOnce(t, store, path)
	require.Equal(t, StatusOK, res.Status)

	assert.Equal(t, first, db.Stats())
	assert.Equal(t, firstRoot, syncRootTracker(t, db).FileID)
	assert.Equal(t, listCalls, store.Calls(remotetest.OpListFoldersByTitle),
		"an initialized database skips discovery")
	assertInvariants(t, db)
}

func TestRun_MultipleCandidatesFirstWins(t *testing.T) {
	t.Parallel()

	for range 3 {
		store := remotetest.New()
		first := store.AddFolder("", DefaultSyncRootTitle)
		second := store.AddFolder("", DefaultSyncRootTitle)

		res, db := runOnce(t, store, dbPath(t))
		require.Equal(t, StatusOK, res.Status)

		assert.Equal(t, first.ID, syncRootTracker(t, db).FileID)
		assert.True(t, db.FindTrackersByFileID(first.ID).HasActive())
		assert.Zero(t, db.FindTrackersByFileID(second.ID).Len())
		assert.Equal(t, []string{remotetest.RootFolderID}, store.Parents(second.ID),
			"the losing candidate is left alone")
		assertInvariants(t, db)
	}
}

func TestRun_NestedNamesakeIgnored(t *testing.T) {
	t.Parallel()

	store := remotetest.New()
	ordinary := store.AddFolder("", "Documents")
	fake := store.AddFolder(ordinary.ID, DefaultSyncRootTitle)

	res, db := runOnce(t, store, dbPath(t))
	require.Equal(t, StatusOK, res.Status)

	assert.Zero(t, db.FindTrackersByFileID(fake.ID).Len())
	assert.True(t, metadb.IsPlaceholderID(syncRootTracker(t, db).FileID))
	assert.Equal(t, metadb.Stats{Files: 1, Trackers: 1, ActiveTrackers: 1}, db.Stats())
	assert.Equal(t, []string{ordinary.ID}, store.Parents(fake.ID))
	assertInvariants(t, db)
}

func TestRun_NestedNamesakeBeforeRealRoot(t *testing.T) {
	t.Parallel()

	store := remotetest.New()
	ordinary := store.AddFolder("", "Documents")
	store.AddFolder(ordinary.ID, DefaultSyncRootTitle)
	genuine := store.AddFolder("", DefaultSyncRootTitle)

	res, db := runOnce(t, store, dbPath(t))
	require.Equal(t, StatusOK, res.Status)

	assert.Equal(t, genuine.ID, syncRootTracker(t, db).FileID)
}

func TestRun_MultiParentCandidate(t *testing.T) {
	t.Parallel()

	store := remotetest.New()
	root := store.AddFolder("", DefaultSyncRootTitle)
	ordinary := store.AddFolder("", "Shared")
	require.NoError(t, store.AddParent(ordinary.ID, root.ID))
	require.Len(t, store.Parents(root.ID), 2)

	res, db := runOnce(t, store, dbPath(t))
	require.Equal(t, StatusOK, res.Status)

	assert.Empty(t, store.Parents(root.ID))
	assert.Equal(t, 2, store.Calls(remotetest.OpRemoveParent))

	sr := syncRootTracker(t, db)
	assert.Equal(t, root.ID, sr.FileID)
	assert.Equal(t, 1, db.Stats().ActiveTrackers)
	assertInvariants(t, db)
}

func TestRun_PartialDetachThenRetry(t *testing.T) {
	t.Parallel()

	store := remotetest.New()
	root := store.AddFolder("", DefaultSyncRootTitle)
	app := store.AddFolder(root.ID, "editor")
	ordinary := store.AddFolder("", "Shared")
	require.NoError(t, store.AddParent(ordinary.ID, root.ID))
	path := dbPath(t)

	var removes atomic.Int32
	store.SetBeforeCall(func(_ context.Context, op remotetest.Op) error {
		if op == remotetest.OpRemoveParent && removes.Add(1) == 2 {
			return &remote.Error{StatusCode: 503, Message: "unavailable", Err: remote.ErrServerError}
		}

		return nil
	})

	res, db := runOnce(t, store, path)
	require.Equal(t, StatusRemoteError, res.Status)
	assert.False(t, db.HasSyncRoot())
	assert.Equal(t, []string{remotetest.RootFolderID}, store.Parents(root.ID),
		"the top-level link is removed last")
	require.NoError(t, db.Close())

	store.SetBeforeCall(nil)

	res, db = runOnce(t, store, path)
	require.Equal(t, StatusOK, res.Status)

	sr := syncRootTracker(t, db)
	assert.Equal(t, root.ID, sr.FileID)
	assert.False(t, metadb.IsPlaceholderID(sr.FileID))
	assert.Empty(t, store.Parents(root.ID))

	assert.Equal(t, 1, db.FindTrackersByFileID(app.ID).Len(), "app roots of the claimed root are kept")
	assertInvariants(t, db)
}

func TestRun_DetachedCandidateWithoutParents(t *testing.T) {
	t.Parallel()

	store := remotetest.New()
	root := store.AddFolder("", DefaultSyncRootTitle)
	require.NoError(t, store.RemoveParent(context.Background(), root.ID, remotetest.RootFolderID))
	calls := store.Calls(remotetest.OpRemoveParent)

	res, db := runOnce(t, store, dbPath(t))
	require.Equal(t, StatusOK, res.Status)

	assert.Equal(t, root.ID, syncRootTracker(t, db).FileID)
	assert.Equal(t, calls, store.Calls(remotetest.OpRemoveParent))
}

func TestRun_RemoteErrorThenRetry(t *testing.T) {
	t.Parallel()

	store := remotetest.New()
	root := store.AddFolder("", DefaultSyncRootTitle)
	path := dbPath(t)

	injected := &remote.Error{StatusCode: 503, Message: "unavailable", Err: remote.ErrServerError}
	store.FailOn(remotetest.OpListChildren, injected)

	res, db := runOnce(t, store, path)
	assert.Equal(t, StatusRemoteError, res.Status)
	assert.ErrorIs(t, res.Err, remote.ErrServerError)

	require.NotNil(t, db, "the database is handed over on failure too")
	assert.False(t, db.HasSyncRoot())
	assert.Equal(t, metadb.Stats{}, db.Stats())
	assert.Equal(t, []string{remotetest.RootFolderID}, store.Parents(root.ID),
		"nothing is detached before the app roots are listed")
	require.NoError(t, db.Close())

	store.FailOn(remotetest.OpListChildren, nil)

	res, db = runOnce(t, store, path)
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, root.ID, syncRootTracker(t, db).FileID)
}

func TestRun_RemoveParentFailure(t *testing.T) {
	t.Parallel()

	store := remotetest.New()
	store.AddFolder("", DefaultSyncRootTitle)
	store.FailOn(remotetest.OpRemoveParent, &remote.Error{StatusCode: 409, Err: remote.ErrConflict})

	res, db := runOnce(t, store, dbPath(t))
	assert.Equal(t, StatusRemoteError, res.Status)
	assert.ErrorIs(t, res.Err, remote.ErrConflict)
	assert.False(t, db.HasSyncRoot())
}

func TestRun_VanishedCandidateDropped(t *testing.T) {
	t.Parallel()

	store := remotetest.New()
	gone := store.AddFolder("", DefaultSyncRootTitle)
	kept := store.AddFolder("", DefaultSyncRootTitle)

	var lookups atomic.Int32
	store.SetBeforeCall(func(_ context.Context, op remotetest.Op) error {
		if op == remotetest.OpGetResource && lookups.Add(1) == 1 {
			return &remote.Error{StatusCode: 404, Err: remote.ErrNotFound}
		}

		return nil
	})

	res, db := runOnce(t, store, dbPath(t), WithFanOut(1))
	require.Equal(t, StatusOK, res.Status)

	assert.Equal(t, kept.ID, syncRootTracker(t, db).FileID)
	assert.Zero(t, db.FindTrackersByFileID(gone.ID).Len())
}

func TestRun_DatabaseError(t *testing.T) {
	t.Parallel()

	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	store := remotetest.New()
	res, db := runOnce(t, store, filepath.Join(blocker, "metadata.db"))

	assert.Equal(t, StatusDatabaseError, res.Status)
	assert.ErrorIs(t, res.Err, metadb.ErrDatabase)
	assert.Nil(t, db)
	assert.Zero(t, store.Calls(remotetest.OpGetAbout))
}

func TestRun_CustomTitle(t *testing.T) {
	t.Parallel()

	store := remotetest.New()
	store.AddFolder("", DefaultSyncRootTitle)
	custom := store.AddFolder("", "My Sync Root")

	res, db := runOnce(t, store, dbPath(t), WithSyncRootTitle("My Sync Root"))
	require.Equal(t, StatusOK, res.Status)

	assert.Equal(t, custom.ID, syncRootTracker(t, db).FileID)
}

func TestClose_CancelsInFlightRun(t *testing.T) {
	t.Parallel()

	store := remotetest.New()
	store.AddFolder("", DefaultSyncRootTitle)

	entered := make(chan struct{})
	store.SetBeforeCall(func(ctx context.Context, op remotetest.Op) error {
		if op != remotetest.OpListFoldersByTitle {
			return nil
		}

		close(entered)
		<-ctx.Done()

		return ctx.Err()
	})

	boot := New(store, dbPath(t), WithLogger(testLogger(t)))

	var called atomic.Bool
	require.NoError(t, boot.Run(context.Background(), func(Result) { called.Store(true) }))

	select {
	case <-entered:
	case <-time.After(testTimeout):
		t.Fatal("run never reached discovery")
	}

	require.NoError(t, boot.Close())

	select {
	case <-boot.Done():
	default:
		t.Fatal("Close returned before the run stopped")
	}

	assert.False(t, called.Load(), "callback must not fire after Close")
	assert.ErrorIs(t, boot.Wait().Err, context.Canceled)

	_, err := boot.PassMetadataDatabase()
	assert.ErrorIs(t, err, ErrAlreadyPassed, "Close released the database")

	require.NoError(t, boot.Close())
}

func TestClose_WaitsForRunningCallback(t *testing.T) {
	t.Parallel()

	store := remotetest.New()
	store.AddFolder("", DefaultSyncRootTitle)

	boot := New(store, dbPath(t), WithLogger(testLogger(t)))

	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	require.NoError(t, boot.Run(context.Background(), func(Result) {
		close(entered)
		<-release
		finished.Store(true)
	}))

	select {
	case <-entered:
	case <-time.After(testTimeout):
		t.Fatal("callback never ran")
	}

	closed := make(chan error, 1)
	go func() { closed <- boot.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while the callback was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("Close did not return")
	}

	assert.True(t, finished.Load())
}

func TestLifecycleErrors(t *testing.T) {
	t.Parallel()

	store := remotetest.New()
	blockCh := make(chan struct{})
	store.SetBeforeCall(func(ctx context.Context, _ remotetest.Op) error {
		select {
		case <-blockCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	boot := New(store, dbPath(t), WithLogger(testLogger(t)))

	_, err := boot.PassMetadataDatabase()
	assert.ErrorIs(t, err, ErrNotFinished)

	require.NoError(t, boot.Run(context.Background(), nil))
	assert.ErrorIs(t, boot.Run(context.Background(), nil), ErrAlreadyStarted)

	_, err = boot.PassMetadataDatabase()
	assert.ErrorIs(t, err, ErrNotFinished)

	close(blockCh)
	require.Equal(t, StatusOK, boot.Wait().Status)

	db, err := boot.PassMetadataDatabase()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = boot.PassMetadataDatabase()
	assert.ErrorIs(t, err, ErrAlreadyPassed)

	// The caller owns the database now; Close leaves it open.
	require.NoError(t, boot.Close())
	assert.True(t, db.HasSyncRoot())
	assert.ErrorIs(t, boot.Run(context.Background(), nil), ErrClosed)
}

func TestStatusString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ok", StatusOK.String())
	assert.Equal(t, "remote_error", StatusRemoteError.String())
	assert.Equal(t, "database_error", StatusDatabaseError.String())
	assert.Equal(t, "open_database", stepOpenDatabase.String())
}

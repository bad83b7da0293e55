package initializer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/syncroot/internal/metadb"
	"github.com/tonimelisma/syncroot/internal/remote"
)

// step is one state of the bootstrap protocol.
type step int

const (
	stepOpenDatabase step = iota
	stepFetchAbout
	stepDiscoverCandidates
	stepFilterCandidates
	stepListAppRoots
	stepDetachSyncRoot
	stepPopulate
	stepDone
)

var stepNames = [...]string{
	stepOpenDatabase:       "open_database",
	stepFetchAbout:         "fetch_about",
	stepDiscoverCandidates: "discover_candidates",
	stepFilterCandidates:   "filter_candidates",
	stepListAppRoots:       "list_app_roots",
	stepDetachSyncRoot:     "detach_sync_root",
	stepPopulate:           "populate",
	stepDone:               "done",
}

func (s step) String() string {
	if int(s) < len(stepNames) {
		return stepNames[s]
	}

	return fmt.Sprintf("step(%d)", int(s))
}

// stepError tags a failure with the status it maps to.
type stepError struct {
	status Status
	err    error
}

func (e *stepError) Error() string { return e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

func remoteFailure(err error) error {
	return &stepError{status: StatusRemoteError, err: err}
}

func databaseFailure(err error) error {
	return &stepError{status: StatusDatabaseError, err: err}
}

// run drives the state machine until it reaches stepDone or a step fails.
func (i *Initializer) run(ctx context.Context) Result {
	current := stepOpenDatabase

	for current != stepDone {
		next, err := i.execute(ctx, current)
		if err != nil {
			var se *stepError
			if !errors.As(err, &se) {
				se = &stepError{status: StatusRemoteError, err: err}
			}

			i.logger.Warn("initialization failed",
				slog.String("step", current.String()),
				slog.String("status", se.status.String()),
				slog.String("error", se.err.Error()),
			)

			return Result{Status: se.status, Err: se.err}
		}

		i.logger.Debug("initialization step finished",
			slog.String("step", current.String()),
			slog.String("next", next.String()),
		)

		current = next
	}

	return Result{Status: StatusOK}
}

func (i *Initializer) execute(ctx context.Context, s step) (step, error) {
	switch s {
	case stepOpenDatabase:
		return i.openDatabase(ctx)
	case stepFetchAbout:
		return i.fetchAbout(ctx)
	case stepDiscoverCandidates:
		return i.discoverCandidates(ctx)
	case stepFilterCandidates:
		return i.filterCandidates(ctx)
	case stepListAppRoots:
		return i.listAppRoots(ctx)
	case stepDetachSyncRoot:
		return i.detachSyncRoot(ctx)
	case stepPopulate:
		return i.populate(ctx)
	default:
		return stepDone, fmt.Errorf("initializer: unexpected step %s", s)
	}
}

func (i *Initializer) openDatabase(ctx context.Context) (step, error) {
	db, err := metadb.Open(ctx, i.dbPath, i.logger)
	if err != nil {
		return stepDone, databaseFailure(err)
	}

	i.mu.Lock()
	i.db = db
	i.mu.Unlock()

	if db.HasSyncRoot() {
		i.logger.Info("sync root already initialized, nothing to do",
			slog.String("db_path", i.dbPath),
		)

		return stepDone, nil
	}

	return stepFetchAbout, nil
}

func (i *Initializer) fetchAbout(ctx context.Context) (step, error) {
	about, err := i.remote.GetAbout(ctx)
	if err != nil {
		return stepDone, remoteFailure(err)
	}

	i.about = about

	return stepDiscoverCandidates, nil
}

func (i *Initializer) discoverCandidates(ctx context.Context) (step, error) {
	found, err := i.remote.ListFoldersByTitle(ctx, i.title)
	if err != nil {
		return stepDone, remoteFailure(err)
	}

	i.candidates = i.candidates[:0]

	for _, r := range found {
		if r.IsFolder && metadb.NormalizeTitle(r.Title) == i.title {
			i.candidates = append(i.candidates, r)
		}
	}

	i.logger.Info("sync root candidates found",
		slog.String("title", i.title),
		slog.Int("candidates", len(i.candidates)),
	)

	return stepFilterCandidates, nil
}

// filterCandidates refreshes every candidate concurrently, then picks the
// first detached one in listing order. With none left, a placeholder root
// is seeded and the remote side is left untouched.
func (i *Initializer) filterCandidates(ctx context.Context) (step, error) {
	fresh := make([]*remote.Resource, len(i.candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.fanOut)

	for idx := range i.candidates {
		id := i.candidates[idx].ID

		g.Go(func() error {
			r, err := i.remote.GetResource(gctx, id)
			if errors.Is(err, remote.ErrNotFound) {
				i.logger.Debug("candidate vanished", slog.String("file_id", id))
				return nil
			}

			if err != nil {
				return err
			}

			fresh[idx] = r

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stepDone, remoteFailure(err)
	}

	for _, r := range fresh {
		if r == nil {
			continue
		}

		if !isDetached(r, i.about.RootFolderID) {
			i.logger.Info("ignoring nested namesake",
				slog.String("file_id", r.ID),
				slog.Any("parents", r.ParentIDs()),
			)

			continue
		}

		i.syncRoot = *r
		i.logger.Info("sync root selected",
			slog.String("file_id", r.ID),
			slog.Int("parents", len(r.Parents)),
		)

		return stepListAppRoots, nil
	}

	i.syncRoot = metadb.NewPlaceholderSyncRoot(i.title)
	i.logger.Info("no detached sync root found, seeding placeholder",
		slog.String("file_id", i.syncRoot.ID),
	)

	return stepPopulate, nil
}

// isDetached reports whether r has no parent or at least one parent that
// is the top-level container.
func isDetached(r *remote.Resource, rootFolderID string) bool {
	if len(r.Parents) == 0 {
		return true
	}

	for _, p := range r.Parents {
		if p.IsRoot || (rootFolderID != "" && p.ID == rootFolderID) {
			return true
		}
	}

	return false
}

func (i *Initializer) listAppRoots(ctx context.Context) (step, error) {
	children, err := i.remote.ListChildren(ctx, i.syncRoot.ID)
	if err != nil {
		return stepDone, remoteFailure(err)
	}

	i.appRoots = i.appRoots[:0]

	for _, c := range children {
		if c.IsFolder {
			i.appRoots = append(i.appRoots, c)
		}
	}

	i.logger.Info("app roots listed",
		slog.String("sync_root_id", i.syncRoot.ID),
		slog.Int("app_roots", len(i.appRoots)),
	)

	return stepDetachSyncRoot, nil
}

// detachSyncRoot removes every parent link of the selected root, the
// top-level one included. A link that is already gone counts as removed.
// Top-level links go last so that a partially detached root still passes
// isDetached on the next run.
func (i *Initializer) detachSyncRoot(ctx context.Context) (step, error) {
	for _, parentID := range detachOrder(&i.syncRoot, i.rootFolderID()) {
		err := i.remote.RemoveParent(ctx, i.syncRoot.ID, parentID)
		if errors.Is(err, remote.ErrNotFound) {
			i.logger.Debug("parent link already removed",
				slog.String("file_id", i.syncRoot.ID),
				slog.String("parent_id", parentID),
			)

			continue
		}

		if err != nil {
			return stepDone, remoteFailure(err)
		}

		i.logger.Info("sync root detached from parent",
			slog.String("file_id", i.syncRoot.ID),
			slog.String("parent_id", parentID),
		)
	}

	i.syncRoot.Parents = nil

	return stepPopulate, nil
}

// detachOrder returns the parent ids of r with ordinary folders first and
// top-level links last, otherwise keeping API order.
func detachOrder(r *remote.Resource, rootFolderID string) []string {
	nested := make([]string, 0, len(r.Parents))
	var top []string

	for _, p := range r.Parents {
		if p.IsRoot || (rootFolderID != "" && p.ID == rootFolderID) {
			top = append(top, p.ID)
			continue
		}

		nested = append(nested, p.ID)
	}

	return append(nested, top...)
}

func (i *Initializer) rootFolderID() string {
	if i.about == nil {
		return ""
	}

	return i.about.RootFolderID
}

func (i *Initializer) populate(ctx context.Context) (step, error) {
	i.mu.Lock()
	db := i.db
	i.mu.Unlock()

	err := db.PopulateInitialData(ctx, i.about.LargestChangeID, i.syncRoot, i.appRoots)
	if errors.Is(err, metadb.ErrAlreadyInitialized) {
		return stepDone, nil
	}

	if err != nil {
		return stepDone, databaseFailure(err)
	}

	return stepDone, nil
}

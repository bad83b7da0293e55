package metadb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/syncroot/internal/remote"
)

// PopulateInitialData seeds an empty database: one metadata record and an
// active sync-root tracker for syncRoot, plus one metadata record and an
// inactive app-root tracker under the sync root for each entry of
// appRoots. Everything is written in a single transaction and the
// in-memory indexes change only after it commits. Returns
// ErrAlreadyInitialized if a sync root exists.
func (d *DB) PopulateInitialData(
	ctx context.Context, largestChangeID int64, syncRoot remote.Resource, appRoots []remote.Resource,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.writable(); err != nil {
		return err
	}

	if d.service.syncRootTrackerID != 0 {
		return ErrAlreadyInitialized
	}

	if syncRoot.ID == "" {
		return fmt.Errorf("metadb: sync root resource has no id")
	}

	service := d.service
	service.largestChangeID = largestChangeID

	nextID := func() int64 {
		id := service.nextTrackerID
		service.nextTrackerID++

		return id
	}

	rootFile := fileFromResource(&syncRoot)
	// The claimed root is detached; persisting its old parents would make
	// them look current.
	rootFile.ParentIDs = nil

	rootTracker := &Tracker{
		TrackerID:          nextID(),
		FileID:             rootFile.FileID,
		Role:               RoleSyncRoot,
		Active:             true,
		NeedsFolderListing: !rootFile.Placeholder,
		Title:              rootFile.Title,
	}
	service.syncRootTrackerID = rootTracker.TrackerID

	files := []*FileMetadata{rootFile}
	trackers := []*Tracker{rootTracker}
	seen := map[string]bool{rootFile.FileID: true}

	for i := range appRoots {
		r := &appRoots[i]
		if seen[r.ID] {
			continue
		}

		seen[r.ID] = true

		f := fileFromResource(r)
		files = append(files, f)
		trackers = append(trackers, &Tracker{
			TrackerID:       nextID(),
			FileID:          f.FileID,
			ParentTrackerID: rootTracker.TrackerID,
			Role:            RoleAppRoot,
			Title:           f.Title,
		})
	}

	b := &batch{}
	b.putService(service)

	for _, f := range files {
		b.putFile(f)
	}

	for _, t := range trackers {
		b.putTracker(t)
	}

	if err := d.applyBatch(ctx, b); err != nil {
		return err
	}

	d.service = service

	for _, f := range files {
		d.fileByID[f.FileID] = f
	}

	for _, t := range trackers {
		d.indexTracker(t)
	}

	d.logger.Info("metadata database populated",
		slog.String("sync_root_file_id", rootFile.FileID),
		slog.Bool("placeholder", rootFile.Placeholder),
		slog.Int("app_roots", len(trackers)-1),
		slog.Int64("largest_change_id", largestChangeID),
	)

	return nil
}

package metadb

import (
	"context"
	"log/slog"
	"slices"

	"github.com/tonimelisma/syncroot/internal/remote"
)

// UpdateByFileResource refreshes the metadata of a known file from its
// current remote state. The record is rewritten only when the etag moved,
// and every tracker of the file is then marked dirty. A trashed resource is
// handled as a deletion. Unknown file ids are ignored.
func (d *DB) UpdateByFileResource(ctx context.Context, r remote.Resource) error {
	if r.Trashed {
		return d.RemoveDeletedFile(ctx, r.ID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.writable(); err != nil {
		return err
	}

	current, ok := d.fileByID[r.ID]
	if !ok || current.ETag == r.ETag {
		return nil
	}

	updated := fileFromResource(&r)
	if d.isSyncRootFile(r.ID) {
		// The sync root stays detached locally even if someone relinked it.
		updated.ParentIDs = nil
	}

	b := &batch{}
	d.fileByID[r.ID] = updated
	b.putFile(updated)

	if set := d.trackersByFileID[r.ID]; set != nil {
		for _, id := range slices.Clone(set.ids) {
			t := d.trackerByID[id]
			if t.Dirty {
				continue
			}

			dirty := *t
			dirty.Dirty = true
			d.replaceTracker(b, &dirty)
		}
	}

	if err := d.commit(ctx, b); err != nil {
		return err
	}

	d.logger.Debug("file metadata updated",
		slog.String("file_id", r.ID),
		slog.String("etag", r.ETag),
	)

	return nil
}

// RemoveDeletedFile drops a file confirmed deleted remotely: every tracker
// of it together with its descendants, and then its metadata record.
// The sync root cannot be removed this way (ErrSyncRootRemoval).
func (d *DB) RemoveDeletedFile(ctx context.Context, fileID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.writable(); err != nil {
		return err
	}

	if d.isSyncRootFile(fileID) {
		return ErrSyncRootRemoval
	}

	b := &batch{}

	if set := d.trackersByFileID[fileID]; set != nil {
		for _, id := range slices.Clone(set.ids) {
			d.removeTrackerSubtree(b, id)
		}
	}

	d.dropOrphanedFile(b, fileID)

	if err := d.commit(ctx, b); err != nil {
		return err
	}

	d.logger.Info("deleted file removed", slog.String("file_id", fileID))

	return nil
}

func (d *DB) isSyncRootFile(fileID string) bool {
	root, ok := d.trackerByID[d.service.syncRootTrackerID]

	return ok && root.FileID == fileID
}

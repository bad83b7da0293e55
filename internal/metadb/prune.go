package metadb

import (
	"context"
	"log/slog"
)

// pruneUnreachable removes trackers that cannot be reached from the sync
// root, then metadata records no tracker refers to. Only active trackers
// are descended into, so an inactive tracker is kept but its children are
// not. Without a sync root nothing is reachable.
func (d *DB) pruneUnreachable(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	reachable := make(map[int64]bool, len(d.trackerByID))

	if root, ok := d.trackerByID[d.service.syncRootTrackerID]; ok {
		stack := []*Tracker{root}

		for len(stack) > 0 {
			t := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			reachable[t.TrackerID] = true

			if !t.Active {
				continue
			}

			for _, id := range d.childTrackerIDs(t.TrackerID) {
				if child, ok := d.trackerByID[id]; ok && !reachable[id] {
					stack = append(stack, child)
				}
			}
		}
	}

	b := &batch{}
	var prunedTrackers, prunedFiles int

	for id, t := range d.trackerByID {
		if reachable[id] {
			continue
		}

		d.unindexTracker(t)
		b.deleteTracker(id)
		prunedTrackers++
	}

	for fileID := range d.fileByID {
		if set := d.trackersByFileID[fileID]; set != nil && set.Len() > 0 {
			continue
		}

		delete(d.fileByID, fileID)
		b.deleteFile(fileID)
		prunedFiles++
	}

	if d.service.syncRootTrackerID != 0 && !reachable[d.service.syncRootTrackerID] {
		// The recorded root row is gone; forget it so the database reads as
		// uninitialized.
		d.service.syncRootTrackerID = 0
		b.putService(d.service)
	}

	if len(b.ops) == 0 {
		return nil
	}

	if err := d.commit(ctx, b); err != nil {
		return err
	}

	d.logger.Warn("pruned unreachable metadata",
		slog.Int("trackers", prunedTrackers),
		slog.Int("files", prunedFiles),
	)

	return nil
}

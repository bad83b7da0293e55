package metadb

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// FindTrackersByFileID returns every tracker of fileID. The set is empty
// when the file id is unknown.
func (d *DB) FindTrackersByFileID(fileID string) TrackerIDSet {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.trackersByFileID[fileID].clone()
}

// FindTrackerByTrackerID returns a copy of the tracker, or ErrNotFound.
func (d *DB) FindTrackerByTrackerID(trackerID int64) (Tracker, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	t, ok := d.trackerByID[trackerID]
	if !ok {
		return Tracker{}, fmt.Errorf("%w: tracker %d", ErrNotFound, trackerID)
	}

	return *t, nil
}

// FindTrackersByParentAndTitle returns the trackers directly below
// parentTrackerID whose title matches title after normalization.
func (d *DB) FindTrackersByParentAndTitle(parentTrackerID int64, title string) TrackerIDSet {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.trackersByParentAndTitle[parentTrackerID][NormalizeTitle(title)].clone()
}

// FindFileByFileID returns a copy of the metadata record, or ErrNotFound.
func (d *DB) FindFileByFileID(fileID string) (FileMetadata, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	f, ok := d.fileByID[fileID]
	if !ok {
		return FileMetadata{}, fmt.Errorf("%w: file %s", ErrNotFound, fileID)
	}

	return f.clone(), nil
}

// SyncRootTrackerID returns the id of the sync-root tracker, or
// ErrNotInitialized before the database has been populated.
func (d *DB) SyncRootTrackerID() (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.service.syncRootTrackerID == 0 {
		return 0, ErrNotInitialized
	}

	return d.service.syncRootTrackerID, nil
}

// HasSyncRoot reports whether the database has been populated.
func (d *DB) HasSyncRoot() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.service.syncRootTrackerID != 0
}

// LargestChangeID returns the change id recorded at population time.
func (d *DB) LargestChangeID() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.service.largestChangeID
}

// Trackers returns a snapshot of every tracker ordered by tracker id.
func (d *DB) Trackers() []Tracker {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Tracker, 0, len(d.trackerByID))
	for _, t := range d.trackerByID {
		out = append(out, *t)
	}

	slices.SortFunc(out, func(a, b Tracker) int {
		return cmp.Compare(a.TrackerID, b.TrackerID)
	})

	return out
}

// DirtyTrackers returns the ids of every dirty tracker in ascending order.
// Dirty trackers are the work queue of incremental sync.
func (d *DB) DirtyTrackers() []int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ids []int64
	for id, t := range d.trackerByID {
		if t.Dirty {
			ids = append(ids, id)
		}
	}

	slices.Sort(ids)

	return ids
}

// NextDirtyTracker returns the dirty tracker with the lowest id, or
// ErrNotFound when nothing is dirty.
func (d *DB) NextDirtyTracker() (Tracker, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var next *Tracker
	for _, t := range d.trackerByID {
		if t.Dirty && (next == nil || t.TrackerID < next.TrackerID) {
			next = t
		}
	}

	if next == nil {
		return Tracker{}, fmt.Errorf("%w: no dirty tracker", ErrNotFound)
	}

	return *next, nil
}

// Files returns a snapshot of every metadata record ordered by file id.
func (d *DB) Files() []FileMetadata {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]FileMetadata, 0, len(d.fileByID))
	for _, f := range d.fileByID {
		out = append(out, f.clone())
	}

	slices.SortFunc(out, func(a, b FileMetadata) int {
		return strings.Compare(a.FileID, b.FileID)
	})

	return out
}

// Stats counts the records currently held.
func (d *DB) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Stats{
		Files:    len(d.fileByID),
		Trackers: len(d.trackerByID),
		Apps:     len(d.appRootByAppID),
	}

	for _, t := range d.trackerByID {
		if t.Active {
			s.ActiveTrackers++
		}
	}

	return s
}

// BuildPathForTracker returns the slash-joined titles leading to an active
// tracker. Paths inside an app root start at the app id; the sync root and
// trackers outside any app root start at "/". ErrNotFound is returned for
// unknown or inactive trackers.
func (d *DB) BuildPathForTracker(trackerID int64) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	t, ok := d.trackerByID[trackerID]
	if !ok || !t.Active {
		return "", fmt.Errorf("%w: active tracker %d", ErrNotFound, trackerID)
	}

	var segments []string

	for !t.IsSyncRoot() {
		if t.IsAppRoot() && t.AppID != "" {
			segments = append(segments, t.AppID)
			slices.Reverse(segments)

			return strings.Join(segments, "/"), nil
		}

		segments = append(segments, t.Title)

		parent, ok := d.trackerByID[t.ParentTrackerID]
		if !ok {
			return "", fmt.Errorf("%w: parent of tracker %d", ErrNotFound, t.TrackerID)
		}

		t = parent
	}

	slices.Reverse(segments)

	return "/" + strings.Join(segments, "/"), nil
}

package metadb

// In-memory index maintenance. Every helper here requires DB.mu held for
// writing; none of them touch SQLite.

func (s *state) indexTracker(t *Tracker) {
	s.trackerByID[t.TrackerID] = t

	set := s.trackersByFileID[t.FileID]
	if set == nil {
		set = &TrackerIDSet{}
		s.trackersByFileID[t.FileID] = set
	}

	set.insert(t.TrackerID, t.Active)

	if t.ParentTrackerID != 0 {
		byTitle := s.trackersByParentAndTitle[t.ParentTrackerID]
		if byTitle == nil {
			byTitle = make(map[string]*TrackerIDSet)
			s.trackersByParentAndTitle[t.ParentTrackerID] = byTitle
		}

		titled := byTitle[t.Title]
		if titled == nil {
			titled = &TrackerIDSet{}
			byTitle[t.Title] = titled
		}

		titled.insert(t.TrackerID, t.Active)
	}

	if t.AppID != "" {
		s.appRootByAppID[t.AppID] = t.TrackerID
	}
}

func (s *state) unindexTracker(t *Tracker) {
	delete(s.trackerByID, t.TrackerID)

	if set := s.trackersByFileID[t.FileID]; set != nil {
		set.erase(t.TrackerID)

		if set.Len() == 0 {
			delete(s.trackersByFileID, t.FileID)
		}
	}

	if byTitle := s.trackersByParentAndTitle[t.ParentTrackerID]; byTitle != nil {
		if titled := byTitle[t.Title]; titled != nil {
			titled.erase(t.TrackerID)

			if titled.Len() == 0 {
				delete(byTitle, t.Title)
			}
		}

		if len(byTitle) == 0 {
			delete(s.trackersByParentAndTitle, t.ParentTrackerID)
		}
	}

	if t.AppID != "" && s.appRootByAppID[t.AppID] == t.TrackerID {
		delete(s.appRootByAppID, t.AppID)
	}
}

// replaceTracker swaps the stored copy of updated.TrackerID for updated
// and records the write in b.
func (s *state) replaceTracker(b *batch, updated *Tracker) {
	if old, ok := s.trackerByID[updated.TrackerID]; ok {
		s.unindexTracker(old)
	}

	s.indexTracker(updated)
	b.putTracker(updated)
}

// childTrackerIDs returns every tracker whose parent is parentID, in
// ascending id order per title bucket.
func (s *state) childTrackerIDs(parentID int64) []int64 {
	var ids []int64

	for _, set := range s.trackersByParentAndTitle[parentID] {
		ids = append(ids, set.ids...)
	}

	return ids
}

// removeTrackerSubtree deletes rootID and every tracker below it. Metadata
// records left without any tracker are deleted too.
func (s *state) removeTrackerSubtree(b *batch, rootID int64) {
	stack := []int64{rootID}
	var order []*Tracker

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		t, ok := s.trackerByID[id]
		if !ok {
			continue
		}

		order = append(order, t)
		stack = append(stack, s.childTrackerIDs(id)...)
	}

	// Children first, so a parent row never disappears before its child.
	for i := len(order) - 1; i >= 0; i-- {
		t := order[i]
		s.unindexTracker(t)
		b.deleteTracker(t.TrackerID)
		s.dropOrphanedFile(b, t.FileID)
	}
}

// removeDescendants deletes every tracker strictly below parentID.
func (s *state) removeDescendants(b *batch, parentID int64) {
	for _, child := range s.childTrackerIDs(parentID) {
		s.removeTrackerSubtree(b, child)
	}
}

// markDescendantsDirty flags every tracker below parentID for a refresh.
func (s *state) markDescendantsDirty(b *batch, parentID int64) {
	stack := s.childTrackerIDs(parentID)

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		t, ok := s.trackerByID[id]
		if !ok {
			continue
		}

		if !t.Dirty {
			updated := *t
			updated.Dirty = true
			s.replaceTracker(b, &updated)
		}

		stack = append(stack, s.childTrackerIDs(id)...)
	}
}

func (s *state) dropOrphanedFile(b *batch, fileID string) {
	if set := s.trackersByFileID[fileID]; set != nil && set.Len() > 0 {
		return
	}

	if _, ok := s.fileByID[fileID]; ok {
		delete(s.fileByID, fileID)
		b.deleteFile(fileID)
	}
}

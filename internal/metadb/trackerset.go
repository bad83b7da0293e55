package metadb

import "slices"

// TrackerIDSet is a set of tracker ids that remembers which member, if any,
// is active. At most one member is active at a time.
type TrackerIDSet struct {
	ids    []int64 // sorted
	active int64
}

// Len returns the number of trackers in the set.
func (s TrackerIDSet) Len() int {
	return len(s.ids)
}

// IDs returns the member ids in ascending order.
func (s TrackerIDSet) IDs() []int64 {
	return slices.Clone(s.ids)
}

// Has reports whether id is a member.
func (s TrackerIDSet) Has(id int64) bool {
	_, found := slices.BinarySearch(s.ids, id)
	return found
}

// HasActive reports whether one member is active.
func (s TrackerIDSet) HasActive() bool {
	return s.active != 0
}

// ActiveTracker returns the active member, or zero if none is active.
func (s TrackerIDSet) ActiveTracker() int64 {
	return s.active
}

func (s *TrackerIDSet) insert(id int64, active bool) {
	i, found := slices.BinarySearch(s.ids, id)
	if !found {
		s.ids = slices.Insert(s.ids, i, id)
	}

	if active {
		s.active = id
	}
}

func (s *TrackerIDSet) erase(id int64) {
	if i, found := slices.BinarySearch(s.ids, id); found {
		s.ids = slices.Delete(s.ids, i, i+1)
	}

	if s.active == id {
		s.active = 0
	}
}

func (s *TrackerIDSet) clone() TrackerIDSet {
	if s == nil {
		return TrackerIDSet{}
	}

	return TrackerIDSet{ids: slices.Clone(s.ids), active: s.active}
}

// Package remotetest provides an in-memory remote store for tests. It keeps
// the remote data model intact (multi-parent resources, an implicit
// top-level container, creation-order listing) and lets tests inject
// failures or block individual calls.
package remotetest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/tonimelisma/syncroot/internal/remote"
)

// RootFolderID is the id of the implicit top-level container.
const RootFolderID = "root"

// Op names a Store operation for failure injection and call counting.
type Op string

// Store operations.
const (
	OpGetAbout           Op = "GetAbout"
	OpGetResource        Op = "GetResource"
	OpListFoldersByTitle Op = "ListFoldersByTitle"
	OpListChildren       Op = "ListChildren"
	OpCreateFolder       Op = "CreateFolder"
	OpRemoveParent       Op = "RemoveParent"
)

// Store is a concurrency-safe in-memory remote store.
type Store struct {
	mu              sync.Mutex
	order           []string
	resources       map[string]*remote.Resource
	largestChangeID int64
	failures        map[Op]error
	calls           map[Op]int
	beforeCall      func(ctx context.Context, op Op) error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		resources:       make(map[string]*remote.Resource),
		largestChangeID: 1,
		failures:        make(map[Op]error),
		calls:           make(map[Op]int),
	}
}

// FailOn makes every subsequent call of op return err. A nil err clears it.
func (s *Store) FailOn(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		delete(s.failures, op)
		return
	}

	s.failures[op] = err
}

// SetBeforeCall installs a hook run at the start of every call, outside
// the store lock. A non-nil error from the hook is returned by the call.
func (s *Store) SetBeforeCall(fn func(ctx context.Context, op Op) error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.beforeCall = fn
}

// Calls returns how many times op has been invoked.
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[op]
}

// enter records the call and runs the hook and injected failure.
func (s *Store) enter(ctx context.Context, op Op) error {
	s.mu.Lock()
	s.calls[op]++
	hook := s.beforeCall
	failure := s.failures[op]
	s.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, op); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return failure
}

func notFound(id string) error {
	return &remote.Error{StatusCode: 404, Message: "no resource " + id, Err: remote.ErrNotFound}
}

// clone returns a deep copy so callers never alias store state.
func clone(r *remote.Resource) remote.Resource {
	c := *r
	c.Parents = slices.Clone(r.Parents)

	return c
}

// AddFolder creates a folder directly, bypassing hooks and failures.
// An empty parentID places it in the top-level container.
func (s *Store) AddFolder(parentID, title string) remote.Resource {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addLocked(parentID, title, true)
}

// AddFile creates a non-folder resource directly.
func (s *Store) AddFile(parentID, title string) remote.Resource {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addLocked(parentID, title, false)
}

func (s *Store) addLocked(parentID, title string, folder bool) remote.Resource {
	if parentID == "" {
		parentID = RootFolderID
	}

	s.largestChangeID++
	r := &remote.Resource{
		ID:       "res-" + uuid.NewString(),
		Title:    title,
		IsFolder: folder,
		ETag:     fmt.Sprintf("etag-%d", s.largestChangeID),
		Parents:  []remote.ParentRef{{ID: parentID, IsRoot: parentID == RootFolderID}},
	}

	s.resources[r.ID] = r
	s.order = append(s.order, r.ID)

	return clone(r)
}

// AddParent links childID under parentID in addition to its existing parents.
func (s *Store) AddParent(parentID, childID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	child, ok := s.resources[childID]
	if !ok {
		return notFound(childID)
	}

	if parentID != RootFolderID {
		if _, ok := s.resources[parentID]; !ok {
			return notFound(parentID)
		}
	}

	if !child.HasParent(parentID) {
		child.Parents = append(child.Parents, remote.ParentRef{ID: parentID, IsRoot: parentID == RootFolderID})
		s.bumpLocked(child)
	}

	return nil
}

// Parents returns the current parent ids of id, or nil if it does not exist.
func (s *Store) Parents(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resources[id]
	if !ok {
		return nil
	}

	return r.ParentIDs()
}

func (s *Store) bumpLocked(r *remote.Resource) {
	s.largestChangeID++
	r.ETag = fmt.Sprintf("etag-%d", s.largestChangeID)
}

// GetAbout implements the remote store interface.
func (s *Store) GetAbout(ctx context.Context) (*remote.About, error) {
	if err := s.enter(ctx, OpGetAbout); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return &remote.About{RootFolderID: RootFolderID, LargestChangeID: s.largestChangeID}, nil
}

// GetResource implements the remote store interface.
func (s *Store) GetResource(ctx context.Context, id string) (*remote.Resource, error) {
	if err := s.enter(ctx, OpGetResource); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resources[id]
	if !ok {
		return nil, notFound(id)
	}

	c := clone(r)

	return &c, nil
}

// ListFoldersByTitle implements the remote store interface. Results are in
// creation order.
func (s *Store) ListFoldersByTitle(ctx context.Context, title string) ([]remote.Resource, error) {
	if err := s.enter(ctx, OpListFoldersByTitle); err != nil {
		return nil, err
	}

	return s.filter(func(r *remote.Resource) bool {
		return r.IsFolder && r.Title == title
	}), nil
}

// ListChildren implements the remote store interface. Results are in
// creation order.
func (s *Store) ListChildren(ctx context.Context, folderID string) ([]remote.Resource, error) {
	if err := s.enter(ctx, OpListChildren); err != nil {
		return nil, err
	}

	s.mu.Lock()
	_, exists := s.resources[folderID]
	s.mu.Unlock()

	if !exists && folderID != RootFolderID {
		return nil, notFound(folderID)
	}

	return s.filter(func(r *remote.Resource) bool {
		return r.HasParent(folderID)
	}), nil
}

func (s *Store) filter(keep func(r *remote.Resource) bool) []remote.Resource {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []remote.Resource

	for _, id := range s.order {
		r := s.resources[id]
		if !r.Trashed && keep(r) {
			out = append(out, clone(r))
		}
	}

	return out
}

// CreateFolder implements the remote store interface.
func (s *Store) CreateFolder(ctx context.Context, parentID, title string) (*remote.Resource, error) {
	if err := s.enter(ctx, OpCreateFolder); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if parentID != "" && parentID != RootFolderID {
		if _, ok := s.resources[parentID]; !ok {
			return nil, notFound(parentID)
		}
	}

	r := s.addLocked(parentID, title, true)

	return &r, nil
}

// RemoveParent implements the remote store interface.
func (s *Store) RemoveParent(ctx context.Context, resourceID, parentID string) error {
	if err := s.enter(ctx, OpRemoveParent); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resources[resourceID]
	if !ok {
		return notFound(resourceID)
	}

	idx := slices.IndexFunc(r.Parents, func(p remote.ParentRef) bool { return p.ID == parentID })
	if idx < 0 {
		return notFound(parentID)
	}

	r.Parents = slices.Delete(r.Parents, idx, idx+1)
	s.bumpLocked(r)

	return nil
}

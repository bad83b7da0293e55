// Package initializer bootstraps the metadata database: it finds or claims
// the remote sync root, detaches it from every parent, and seeds the
// database with the sync root and its app-root folders. A run against a
// database that already has a sync root does nothing, so callers may run
// it on every start and simply rerun it after a failure.
package initializer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tonimelisma/syncroot/internal/metadb"
	"github.com/tonimelisma/syncroot/internal/remote"
)

// DefaultSyncRootTitle is the reserved title of the sync-root folder.
const DefaultSyncRootTitle = "Chrome Syncable FileSystem"

// DefaultFanOut bounds concurrent candidate lookups.
const DefaultFanOut = 4

// Sentinel errors. Use errors.Is to check.
var (
	ErrNotFinished    = errors.New("initializer: run has not finished")
	ErrAlreadyPassed  = errors.New("initializer: database already passed to the caller")
	ErrAlreadyStarted = errors.New("initializer: already started")
	ErrClosed         = errors.New("initializer: closed")
	ErrNoDatabase     = errors.New("initializer: database was never opened")
)

// Remote is the subset of the remote store the bootstrap needs. It is
// satisfied by *remote.Client and by the in-memory test store.
type Remote interface {
	GetAbout(ctx context.Context) (*remote.About, error)
	ListFoldersByTitle(ctx context.Context, title string) ([]remote.Resource, error)
	ListChildren(ctx context.Context, folderID string) ([]remote.Resource, error)
	GetResource(ctx context.Context, id string) (*remote.Resource, error)
	RemoveParent(ctx context.Context, resourceID, parentID string) error
}

// Status classifies the outcome of a run.
type Status int

// Run outcomes.
const (
	StatusOK Status = iota
	StatusRemoteError
	StatusDatabaseError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRemoteError:
		return "remote_error"
	case StatusDatabaseError:
		return "database_error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is delivered once per run. Err is the first failure, unchanged.
type Result struct {
	Status Status
	Err    error
}

// Option configures an Initializer.
type Option func(*Initializer)

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Initializer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithSyncRootTitle overrides the reserved sync-root title.
func WithSyncRootTitle(title string) Option {
	return func(i *Initializer) {
		if title != "" {
			i.title = title
		}
	}
}

// WithFanOut sets how many candidate lookups run concurrently.
func WithFanOut(n int) Option {
	return func(i *Initializer) {
		if n > 0 {
			i.fanOut = n
		}
	}
}

// Initializer runs the bootstrap protocol once. Create with New, start
// with Run, and collect the database with PassMetadataDatabase after the
// run completes.
type Initializer struct {
	remote Remote
	dbPath string
	logger *slog.Logger
	title  string
	fanOut int

	closed atomic.Bool
	comp   *completion

	// mu guards the fields below.
	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	db      *metadb.DB
	passed  bool

	// Protocol state, owned by the run goroutine.
	about      *remote.About
	candidates []remote.Resource
	syncRoot   remote.Resource
	appRoots   []remote.Resource
}

// New returns an initializer that will seed the database at dbPath using r.
func New(r Remote, dbPath string, opts ...Option) *Initializer {
	i := &Initializer{
		remote: r,
		dbPath: dbPath,
		logger: slog.Default(),
		title:  DefaultSyncRootTitle,
		fanOut: DefaultFanOut,
	}

	for _, opt := range opts {
		opt(i)
	}

	i.title = metadb.NormalizeTitle(i.title)
	i.comp = newCompletion(nil, i.alive)

	return i
}

// Run starts the protocol on its own goroutine and returns immediately.
// callback, if non-nil, receives the result once unless Close is called
// first. Run may be called only once.
func (i *Initializer) Run(ctx context.Context, callback func(Result)) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed.Load() {
		return ErrClosed
	}

	if i.started {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	i.started = true
	i.cancel = cancel
	i.comp.callback = callback

	go func() {
		defer cancel()

		i.comp.fire(i.run(runCtx))
	}()

	return nil
}

// Done is closed once the run has completed.
func (i *Initializer) Done() <-chan struct{} {
	return i.comp.done
}

// Wait blocks until the run completes and returns its result.
func (i *Initializer) Wait() Result {
	<-i.comp.done

	return i.comp.result
}

// PassMetadataDatabase hands the database to the caller, whatever the
// outcome of the run. It fails with ErrNotFinished before completion and
// with ErrAlreadyPassed on a second call. The caller must close the
// returned database.
func (i *Initializer) PassMetadataDatabase() (*metadb.DB, error) {
	if !i.comp.fired() {
		return nil, ErrNotFinished
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.passed {
		return nil, ErrAlreadyPassed
	}

	if i.db == nil {
		return nil, ErrNoDatabase
	}

	i.passed = true

	return i.db, nil
}

// Close abandons the initializer. In-flight remote calls are canceled, the
// callback will not be invoked, and a database nobody took is closed.
// Close waits for the run goroutine to stop and for a callback already in
// progress to return, so the callback must not call Close.
func (i *Initializer) Close() error {
	i.mu.Lock()
	if !i.closed.CompareAndSwap(false, true) {
		i.mu.Unlock()
		return nil
	}

	started, cancel := i.started, i.cancel
	i.mu.Unlock()

	if started {
		cancel()
		<-i.comp.done
		i.comp.settle()
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.db != nil && !i.passed {
		i.passed = true
		return i.db.Close()
	}

	return nil
}

func (i *Initializer) alive() bool {
	return !i.closed.Load()
}

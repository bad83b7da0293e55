package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/syncroot/internal/metadb"
)

// errNotInitialized is returned by commands that need a seeded database.
var errNotInitialized = errors.New("metadata database is not initialized, run 'syncroot init' first")

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sync root, its trackers, and database counts",
		Long: `Display the contents of the local metadata database.

Shows the sync root, every tracker with its role and application, and
summary counts. Reads the local database only; the remote store is not
contacted.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

// statusOutput is the JSON shape of 'syncroot status'.
type statusOutput struct {
	Database        string          `json:"database"`
	Initialized     bool            `json:"initialized"`
	SyncRoot        *statusRoot     `json:"sync_root,omitempty"`
	LargestChangeID int64           `json:"largest_change_id"`
	Stats           metadb.Stats    `json:"stats"`
	NextDirty       int64           `json:"next_dirty_tracker,omitempty"`
	Trackers        []statusTracker `json:"trackers"`
}

type statusRoot struct {
	FileID      string `json:"file_id"`
	Title       string `json:"title"`
	Placeholder bool   `json:"placeholder"`
}

type statusTracker struct {
	TrackerID int64  `json:"tracker_id"`
	FileID    string `json:"file_id"`
	Title     string `json:"title"`
	Path      string `json:"path,omitempty"`
	Role      string `json:"role"`
	AppID     string `json:"app_id,omitempty"`
	Active    bool   `json:"active"`
	Dirty     bool   `json:"dirty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	path := cc.Cfg.Sync.DatabasePath

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		out := statusOutput{Database: path, Trackers: []statusTracker{}}
		if cc.Flags.JSON {
			return printJSON(cc.Out, out)
		}

		fmt.Fprintf(cc.Out, "No metadata database at %s. Run 'syncroot init' to create one.\n", path)

		return nil
	}

	db, err := metadb.Open(cmd.Context(), path, cc.Logger)
	if err != nil {
		return err
	}
	defer db.Close()

	out := buildStatus(db)

	if cc.Flags.JSON {
		return printJSON(cc.Out, out)
	}

	printStatusText(cc.Out, out)

	return nil
}

// openSeededDatabase opens the configured database and insists that it has
// a sync root.
func openSeededDatabase(ctx context.Context, cc *CLIContext) (*metadb.DB, error) {
	if _, err := os.Stat(cc.Cfg.Sync.DatabasePath); errors.Is(err, fs.ErrNotExist) {
		return nil, errNotInitialized
	}

	db, err := metadb.Open(ctx, cc.Cfg.Sync.DatabasePath, cc.Logger)
	if err != nil {
		return nil, err
	}

	if !db.HasSyncRoot() {
		db.Close()
		return nil, errNotInitialized
	}

	return db, nil
}

// buildStatus snapshots db into the status report.
func buildStatus(db *metadb.DB) statusOutput {
	out := statusOutput{
		Database:        db.Path(),
		Initialized:     db.HasSyncRoot(),
		LargestChangeID: db.LargestChangeID(),
		Stats:           db.Stats(),
		Trackers:        []statusTracker{},
	}

	if rootID, err := db.SyncRootTrackerID(); err == nil {
		if root, err := db.FindTrackerByTrackerID(rootID); err == nil {
			out.SyncRoot = &statusRoot{
				FileID:      root.FileID,
				Title:       root.Title,
				Placeholder: metadb.IsPlaceholderID(root.FileID),
			}
		}
	}

	if next, err := db.NextDirtyTracker(); err == nil {
		out.NextDirty = next.TrackerID
	}

	for _, t := range db.Trackers() {
		st := statusTracker{
			TrackerID: t.TrackerID,
			FileID:    t.FileID,
			Title:     t.Title,
			Role:      t.Role.String(),
			AppID:     t.AppID,
			Active:    t.Active,
			Dirty:     t.Dirty,
		}

		// Inactive trackers have no path.
		if p, err := db.BuildPathForTracker(t.TrackerID); err == nil {
			st.Path = p
		}

		out.Trackers = append(out.Trackers, st)
	}

	return out
}

func printStatusText(w io.Writer, out statusOutput) {
	fmt.Fprintf(w, "Database: %s\n", out.Database)

	if out.SyncRoot == nil {
		fmt.Fprintln(w, "Sync root: (none)")
		return
	}

	root := out.SyncRoot.FileID
	if out.SyncRoot.Placeholder {
		root += " (placeholder)"
	}

	fmt.Fprintf(w, "Sync root: %s  %s\n", out.SyncRoot.Title, root)
	fmt.Fprintf(w, "Largest change id: %d\n", out.LargestChangeID)
	fmt.Fprintf(w, "Files: %d  Trackers: %d (active %d)  Apps: %d\n\n",
		out.Stats.Files, out.Stats.Trackers, out.Stats.ActiveTrackers, out.Stats.Apps)

	if out.NextDirty != 0 {
		fmt.Fprintf(w, "Next dirty tracker: %d\n\n", out.NextDirty)
	}

	rows := make([][]string, 0, len(out.Trackers))
	for _, t := range out.Trackers {
		path := t.Path
		if path == "" {
			path = "-"
		}

		app := t.AppID
		if app == "" {
			app = "-"
		}

		rows = append(rows, []string{
			strconv.FormatInt(t.TrackerID, 10),
			t.Role,
			app,
			yesNo(t.Active),
			yesNo(t.Dirty),
			t.FileID,
			path,
		})
	}

	printTable(w, []string{"ID", "ROLE", "APP", "ACTIVE", "DIRTY", "FILE ID", "PATH"}, rows)
}

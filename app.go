package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/syncroot/internal/metadb"
)

func newAppCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Manage application folders under the sync root",
		Long: `Manage which applications own folders under the sync root.

Each direct child folder of the sync root is an app root. Registering an
application claims one of them; disabling keeps the claim but pauses the
application; unregistering releases the folder and forgets everything
below it. These commands change the local metadata database only.`,
	}

	cmd.AddCommand(newAppListCmd())
	cmd.AddCommand(newAppRegisterCmd())
	cmd.AddCommand(newAppEnableCmd())
	cmd.AddCommand(newAppDisableCmd())
	cmd.AddCommand(newAppUnregisterCmd())

	return cmd
}

func newAppListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List app-root folders and the applications that own them",
		Args:  cobra.NoArgs,
		RunE:  runAppList,
	}
}

func newAppRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <app-id> <folder-id>",
		Short: "Claim an app-root folder for an application",
		Args:  cobra.ExactArgs(2),
		RunE:  runAppRegister,
	}
}

func newAppEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <app-id>",
		Short: "Resume a disabled application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeApp(cmd, args[0], "enabled", (*metadb.DB).EnableApp)
		},
	}
}

func newAppDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <app-id>",
		Short: "Pause an application without releasing its folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeApp(cmd, args[0], "disabled", (*metadb.DB).DisableApp)
		},
	}
}

func newAppUnregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <app-id>",
		Short: "Release an application's folder and forget its contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeApp(cmd, args[0], "unregistered", (*metadb.DB).UnregisterApp)
		},
	}
}

// appEntry is one row of 'syncroot app list'.
type appEntry struct {
	TrackerID int64  `json:"tracker_id"`
	FileID    string `json:"file_id"`
	Title     string `json:"title"`
	AppID     string `json:"app_id,omitempty"`
	State     string `json:"state"`
}

// App-root states shown by 'app list'.
const (
	appStateUnclaimed = "unclaimed"
	appStateEnabled   = "enabled"
	appStateDisabled  = "disabled"
)

// listApps returns every app-root tracker, claimed or not, in tracker order.
func listApps(db *metadb.DB) []appEntry {
	entries := []appEntry{}

	for _, t := range db.Trackers() {
		if !t.IsAppRoot() {
			continue
		}

		e := appEntry{
			TrackerID: t.TrackerID,
			FileID:    t.FileID,
			Title:     t.Title,
			AppID:     t.AppID,
			State:     appStateUnclaimed,
		}

		if t.AppID != "" {
			e.State = appStateDisabled
			if db.IsAppEnabled(t.AppID) {
				e.State = appStateEnabled
			}
		}

		entries = append(entries, e)
	}

	return entries
}

func runAppList(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	db, err := openSeededDatabase(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer db.Close()

	entries := listApps(db)

	if cc.Flags.JSON {
		return printJSON(cc.Out, entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(cc.Out, "No app-root folders under the sync root.")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		app := e.AppID
		if app == "" {
			app = "-"
		}

		rows = append(rows, []string{strconv.FormatInt(e.TrackerID, 10), app, e.State, e.FileID, e.Title})
	}

	printTable(cc.Out, []string{"ID", "APP", "STATE", "FILE ID", "TITLE"}, rows)

	return nil
}

func runAppRegister(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	appID, folderID := args[0], args[1]

	db, release, err := openForWrite(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer release()

	if err := db.RegisterApp(cmd.Context(), appID, folderID); err != nil {
		return fmt.Errorf("registering %s: %w", appID, err)
	}

	cc.Statusf("Registered %s on folder %s.\n", appID, folderID)

	return nil
}

// changeApp opens the database and applies one app state transition.
func changeApp(cmd *cobra.Command, appID, verb string, apply func(*metadb.DB, context.Context, string) error) error {
	cc := mustCLIContext(cmd.Context())

	db, release, err := openForWrite(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer release()

	if err := apply(db, cmd.Context(), appID); err != nil {
		return fmt.Errorf("%s: %w", appID, err)
	}

	cc.Statusf("App %s %s.\n", appID, verb)

	return nil
}

// openForWrite locks the database and opens it. release closes the database
// and then drops the lock.
func openForWrite(ctx context.Context, cc *CLIContext) (*metadb.DB, func(), error) {
	unlock, err := lockDatabase(cc.Cfg.Sync.DatabasePath)
	if err != nil {
		return nil, nil, err
	}

	db, err := openSeededDatabase(ctx, cc)
	if err != nil {
		unlock()
		return nil, nil, err
	}

	return db, func() {
		db.Close()
		unlock()
	}, nil
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/syncroot/internal/initializer"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Find or create the sync root and seed the metadata database",
		Long: `Bootstrap the local metadata database.

Searches the remote store for the sync root folder, detaches it from every
parent, and records it together with its application folders. When no
folder qualifies, a local placeholder is recorded instead. Running init
against an initialized database does nothing, and an interrupted or failed
run can simply be repeated.`,
		Args: cobra.NoArgs,
		RunE: runInit,
	}
}

func runInit(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	client, err := newRemoteClient(cmd.Context(), cc)
	if err != nil {
		return err
	}

	return initialize(cmd.Context(), cc, client)
}

// initialize runs the bootstrap against r and reports the seeded database.
func initialize(ctx context.Context, cc *CLIContext, r initializer.Remote) error {
	release, err := lockDatabase(cc.Cfg.Sync.DatabasePath)
	if err != nil {
		return err
	}
	defer release()

	boot := initializer.New(r, cc.Cfg.Sync.DatabasePath,
		initializer.WithLogger(cc.Logger),
		initializer.WithSyncRootTitle(cc.Cfg.Sync.SyncRootTitle),
		initializer.WithFanOut(cc.Cfg.Sync.FanOut),
	)
	defer boot.Close()

	cc.Statusf("Initializing %s...\n", cc.Cfg.Sync.DatabasePath)

	if err := boot.Run(ctx, nil); err != nil {
		return err
	}

	res := boot.Wait()
	if res.Status != initializer.StatusOK {
		return fmt.Errorf("init failed (%s): %w", res.Status, res.Err)
	}

	db, err := boot.PassMetadataDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	out := buildStatus(db)

	if cc.Flags.JSON {
		return printJSON(cc.Out, out)
	}

	root := out.SyncRoot
	switch {
	case root == nil:
		return errNotInitialized
	case root.Placeholder:
		cc.Statusf("No sync root found remotely; recorded placeholder %s.\n", root.FileID)
	default:
		cc.Statusf("Sync root %s ready.\n", root.FileID)
	}

	printStatusText(cc.Out, out)

	return nil
}

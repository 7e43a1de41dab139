package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/and161185/jwt-auth/internal/app"
	"github.com/and161185/jwt-auth/internal/logger"
	"github.com/and161185/jwt-auth/internal/progress"
	"github.com/and161185/jwt-auth/internal/repository/postgres"
)

func newSyncCmd(g *globals) *cobra.Command {
	var update, quiet bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile local identities with the external directory",
		Long:  "Suspends or deletes identities gone from the directory, optionally refreshes existing ones, and creates missing ones.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync(log) }()

			ctx := cmd.Context()
			db, err := postgres.New(ctx, cfg.Local.DSN)
			if err != nil {
				return fmt.Errorf("connect local store: %w", err)
			}
			defer db.Close()

			var trace progress.Trace = progress.NewZap(log.Named("trace"))
			if !quiet {
				trace = progress.Multi{progress.NewText(cmd.OutOrStdout()), trace}
			}
			syncer, closeDir, err := app.Synchronizer(ctx, cfg, db, trace, nil, log)
			if err != nil {
				return err
			}
			defer func() { _ = closeDir() }()

			rep, err := syncer.Run(ctx, update || cfg.Sync.UpdateUsers)
			if err != nil {
				return fmt.Errorf("sync %s: %w", rep.RunID, err)
			}
			if failed := rep.Failed(); len(failed) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d identities failed, see log for run %s\n", len(failed), rep.RunID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&update, "update", false, "refresh existing identities (overrides sync.update_users=false)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print the progress trace")
	return cmd
}

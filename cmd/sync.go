package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/villasync/internal/db"
	"github.com/example/villasync/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replace the feed source's blocked ranges with the current iCal feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.cfg.ValidateSync(); err != nil {
				return err
			}

			d, pg, err := a.openStore(ctx, migrateUp)
			if err != nil {
				return err
			}
			defer d.Close()

			res, err := a.syncJob(pg).Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced source=%s blocked=%d replaced=%d digest=%s run_id=%s\n",
				res.Source, res.BlockedCount, res.Deleted, res.Digest, res.RunID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", false, "apply pending migrations before syncing")
	cmd.AddCommand(newSyncHistoryCmd())
	cmd.AddCommand(newSyncShowCmd())
	return cmd
}

func newSyncHistoryCmd() *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:   "history",
		Short: "List recent sync runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.cfg.ValidateStore(); err != nil {
				return err
			}
			d, pg, err := a.openStore(ctx, false)
			if err != nil {
				return err
			}
			defer d.Close()

			runs, err := pg.RecentSyncRuns(ctx, limit)
			if err != nil {
				return err
			}
			for _, r := range runs {
				printSyncRun(cmd.OutOrStdout(), r)
			}
			return nil
		},
	}
	c.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return c
}

func newSyncShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print one sync run, including its feed URL and digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id %q: %w", args[0], err)
			}

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.cfg.ValidateStore(); err != nil {
				return err
			}
			d, pg, err := a.openStore(ctx, false)
			if err != nil {
				return err
			}
			defer d.Close()

			r, err := pg.SyncRun(ctx, id)
			if db.IsNotFound(err) {
				return fmt.Errorf("sync run %s not found", id)
			}
			if err != nil {
				return err
			}
			printSyncRun(cmd.OutOrStdout(), r)
			fmt.Fprintf(cmd.OutOrStdout(), "id=%s feed=%s digest=%s\n", r.ID, r.FeedURL, r.FeedDigest)
			return nil
		},
	}
}

func printSyncRun(w io.Writer, r store.SyncRun) {
	fmt.Fprintf(w, "%s status=%s source=%s blocked=%d replaced=%d took=%s",
		r.StartedAt.Format(time.RFC3339), r.Status, r.Source, r.BlockedCount, r.Deleted,
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	if r.Error != "" {
		fmt.Fprintf(w, " error=%q", r.Error)
	}
	fmt.Fprintln(w)
}

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/villasync/internal/availability"
	"github.com/example/villasync/internal/booking"
	"github.com/spf13/cobra"
)

func newQuoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quote CHECK_IN CHECK_OUT",
		Short: "Show nights, total price and availability for a stay",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := availability.ParseDay(args[0])
			if err != nil {
				return fmt.Errorf("invalid check-in: %w", err)
			}
			out, err := availability.ParseDay(args[1])
			if err != nil {
				return fmt.Errorf("invalid check-out: %w", err)
			}

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			q, err := booking.NewQuote(in, out, a.cfg.NightlyRate)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s..%s nights=%d rate=%s total=%s\n",
				q.CheckIn, q.CheckOut, q.Nights, q.NightlyRate.StringFixed(2), q.Total.StringFixed(2))

			if a.cfg.DatabaseURL == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "availability: unknown (DATABASE_URL not set)")
				return nil
			}
			d, pg, err := a.openStore(ctx, false)
			if err != nil {
				return err
			}
			defer d.Close()

			blocked, err := a.engine(pg).LoadBlockedDays(ctx)
			if err != nil {
				return err
			}
			var ue *availability.UnavailableError
			switch err := availability.CheckRange(in, out, blocked); {
			case err == nil:
				fmt.Fprintln(cmd.OutOrStdout(), "availability: open")
			case errors.As(err, &ue):
				fmt.Fprintf(cmd.OutOrStdout(), "availability: blocked (%s)\n", ue.Day)
			default:
				return err
			}
			return nil
		},
	}
}

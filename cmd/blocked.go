package cmd

import (
	"context"
	"fmt"

	"github.com/example/villasync/internal/availability"
	"github.com/spf13/cobra"
)

func newBlockedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blocked",
		Short: "Inspect blocked date ranges",
	}
	cmd.AddCommand(newBlockedListCmd())
	cmd.AddCommand(newBlockedDaysCmd())
	return cmd
}

func newBlockedListCmd() *cobra.Command {
	var source string
	c := &cobra.Command{
		Use:   "list",
		Short: "List stored blocked ranges",
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

			ranges, err := pg.ListRanges(ctx)
			if err != nil {
				return err
			}
			for _, r := range ranges {
				if source != "" && string(r.Source) != source {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s..%s source=%s days=%d\n", r.CheckIn, r.CheckOut, r.Source, r.Days())
			}
			return nil
		},
	}
	c.Flags().StringVar(&source, "source", "", "only show ranges from this source")
	return c
}

func newBlockedDaysCmd() *cobra.Command {
	var from, to string
	c := &cobra.Command{
		Use:   "days",
		Short: "Print the expanded blocked-day set the widget sees",
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

			blocked, err := a.engine(pg).LoadBlockedDays(ctx)
			if err != nil {
				return err
			}

			days := blocked.Sorted()
			if from != "" || to != "" {
				f, t, err := parseWindow(from, to, days)
				if err != nil {
					return err
				}
				days = availability.DisabledDays(f, t, blocked)
			}
			for _, day := range days {
				fmt.Fprintln(cmd.OutOrStdout(), day)
			}
			return nil
		},
	}
	c.Flags().StringVar(&from, "from", "", "first day to show (YYYY-MM-DD)")
	c.Flags().StringVar(&to, "to", "", "last day to show (YYYY-MM-DD)")
	return c
}

// parseWindow fills an open end of the window from the first or last blocked day.
func parseWindow(from, to string, days []availability.Day) (availability.Day, availability.Day, error) {
	var f, t availability.Day
	if len(days) > 0 {
		f, t = days[0], days[len(days)-1]
	}
	var err error
	if from != "" {
		if f, err = availability.ParseDay(from); err != nil {
			return f, t, fmt.Errorf("invalid --from: %w", err)
		}
	}
	if to != "" {
		if t, err = availability.ParseDay(to); err != nil {
			return f, t, fmt.Errorf("invalid --to: %w", err)
		}
	}
	return f, t, nil
}

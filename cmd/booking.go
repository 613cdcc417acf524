package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/example/villasync/internal/availability"
	"github.com/example/villasync/internal/booking"
	"github.com/example/villasync/internal/db"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newBookingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "booking",
		Short: "Manage booking requests (non-widget)",
	}
	cmd.AddCommand(newBookingCreateCmd())
	cmd.AddCommand(newBookingShowCmd())
	return cmd
}

func newBookingShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one stored booking request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid booking id %q: %w", args[0], err)
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

			b, err := pg.Booking(ctx, id)
			if db.IsNotFound(err) {
				return fmt.Errorf("booking %s not found", id)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "id=%s %s..%s nights=%d adults=%d infants=%d total=%s name=%q email=%s created=%s\n",
				b.ID, b.CheckIn, b.CheckOut, availability.NightsBetween(b.CheckIn, b.CheckOut),
				b.Adults, b.Infants, b.TotalPrice, b.Name, b.Email, b.CreatedAt.Format(time.RFC3339))
			if b.Message != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "message=%q\n", b.Message)
			}
			return nil
		},
	}
}

func newBookingCreateCmd() *cobra.Command {
	var (
		checkIn  string
		checkOut string
		adults   int
		infants  int
		name     string
		email    string
		message  string
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Submit a booking request through the same checks as the widget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := availability.ParseDay(checkIn)
			if err != nil {
				return fmt.Errorf("invalid --check-in (want YYYY-MM-DD): %w", err)
			}
			out, err := availability.ParseDay(checkOut)
			if err != nil {
				return fmt.Errorf("invalid --check-out (want YYYY-MM-DD): %w", err)
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
			d, pg, err := a.openStore(ctx, true)
			if err != nil {
				return err
			}
			defer d.Close()

			engine := a.engine(pg)
			snapshot, err := engine.LoadBlockedDays(ctx)
			if err != nil {
				return err
			}

			svc := booking.NewService(booking.Options{
				Loader:       engine,
				Writer:       pg,
				Policy:       a.policy(),
				NightlyRate:  a.cfg.NightlyRate,
				MaxNights:    a.cfg.MaxStayNights,
				StoreTimeout: a.cfg.StoreTimeout,
				Logger:       a.log.Named("booking"),
			})

			state := booking.NewWidgetState(svc.Policy())
			state.Selection = booking.Selection{CheckIn: in, CheckOut: out}
			state.Guests = booking.Guests{Adults: adults, Infants: infants}

			_, b, err := svc.Submit(ctx, state, snapshot, booking.Contact{Name: name, Email: email, Message: message}, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created booking id=%s %s..%s guests=%d total=%s\n",
				b.ID, b.CheckIn, b.CheckOut, b.Guests(), b.TotalPrice)
			return nil
		},
	}

	c.Flags().StringVar(&checkIn, "check-in", "", "check-in date YYYY-MM-DD")
	c.Flags().StringVar(&checkOut, "check-out", "", "check-out date YYYY-MM-DD")
	c.Flags().IntVar(&adults, "adults", 1, "number of adults")
	c.Flags().IntVar(&infants, "infants", 0, "number of infants")
	c.Flags().StringVar(&name, "name", "", "guest name")
	c.Flags().StringVar(&email, "email", "", "guest email")
	c.Flags().StringVar(&message, "message", "", "optional message to the host")

	_ = c.MarkFlagRequired("check-in")
	_ = c.MarkFlagRequired("check-out")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("email")
	return c
}

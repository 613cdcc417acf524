package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/example/villasync/internal/availability"
	"github.com/example/villasync/internal/booking"
	"github.com/example/villasync/internal/calsync"
	"github.com/example/villasync/internal/config"
	"github.com/example/villasync/internal/db"
	"github.com/example/villasync/internal/logging"
	"github.com/example/villasync/internal/migrate"
	"github.com/example/villasync/internal/store"
	"github.com/example/villasync/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "villasync",
		Short:         "Vacation rental availability: calendar sync, availability engine and booking widget API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newKeysCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newServerCmd())
	root.AddCommand(newBlockedCmd())
	root.AddCommand(newQuoteCmd())
	root.AddCommand(newBookingCmd())

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is what every command starts from: loaded config, the process logger
// and the tracer provider.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	shutdown func(context.Context) error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	shutdown, err := telemetry.Setup(ctx, cfg.OTel, Version)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	return &app{cfg: cfg, log: log, shutdown: shutdown}, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.log.Warn("telemetry shutdown", zap.Error(err))
	}
	_ = a.log.Sync()
}

// openStore connects to Postgres and optionally applies pending migrations.
func (a *app) openStore(ctx context.Context, migrateUp bool) (*db.DB, *store.Postgres, error) {
	d, err := db.Open(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Ping(ctx); err != nil {
		d.Close()
		return nil, nil, fmt.Errorf("db ping: %w", err)
	}
	if migrateUp {
		if _, err := migrate.Up(ctx, d, a.log); err != nil {
			d.Close()
			return nil, nil, err
		}
	}
	return d, store.NewPostgres(d), nil
}

func (a *app) syncJob(st store.BlockedStore) *calsync.Job {
	return &calsync.Job{
		Fetcher:      calsync.NewHTTPFetcher(a.cfg.FeedTimeout, "villasync/"+Version),
		Store:        st,
		FeedURL:      a.cfg.FeedURL,
		Source:       a.cfg.FeedSource,
		StoreTimeout: a.cfg.StoreTimeout,
		Logger:       a.log.Named("calsync"),
	}
}

func (a *app) engine(ranges availability.RangeLister) *availability.Engine {
	return availability.NewEngine(ranges, a.log.Named("availability"), a.cfg.StoreTimeout)
}

func (a *app) policy() booking.GuestPolicy {
	return booking.GuestPolicy{Max: a.cfg.MaxGuests}
}

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/villasync/internal/availability"
	"github.com/example/villasync/internal/booking"
	"github.com/example/villasync/internal/scheduler"
	"github.com/example/villasync/internal/store"
	"github.com/example/villasync/internal/web"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the booking widget API and, if SYNC_INTERVAL is set, the periodic calendar sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			cfg := a.cfg

			if err := cfg.ValidateServer(); err != nil {
				return err
			}

			var (
				engine   *availability.Engine
				writer   store.BookingWriter
				ready    []web.ReadyCheck
				syncDone <-chan struct{}
			)
			if cfg.DatabaseURL != "" {
				d, pg, err := a.openStore(ctx, migrateUp)
				if err != nil {
					return err
				}
				defer d.Close()

				engine = a.engine(pg)
				writer = pg
				ready = append(ready, web.ReadyCheck{Name: "postgres", Check: pg.Ping})

				if cfg.SyncInterval > 0 {
					s := &scheduler.Scheduler{
						Job:      a.syncJob(pg),
						Interval: cfg.SyncInterval,
						Logger:   a.log.Named("scheduler"),
					}
					syncDone = s.Start(ctx)
				}
			} else {
				a.log.Warn("DATABASE_URL not set; availability is empty and booking is disabled")
				engine = a.engine(nil)
			}

			var limiter web.Limiter
			if cfg.RedisAddr != "" {
				rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
				defer rdb.Close()
				limiter = web.NewRedisLimiter(rdb, cfg.RateLimitPerMin, time.Minute, "villasync:rl")
				ready = append(ready, web.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
					return rdb.Ping(ctx).Err()
				}})
			} else {
				limiter = web.NewLocalLimiter(cfg.RateLimitPerMin, web.DefaultLocalClients)
			}

			svc := booking.NewService(booking.Options{
				Loader:       engine,
				Writer:       writer,
				Policy:       a.policy(),
				NightlyRate:  cfg.NightlyRate,
				MaxNights:    cfg.MaxStayNights,
				StoreTimeout: cfg.StoreTimeout,
				Logger:       a.log.Named("booking"),
			})

			ws := &web.Server{
				Booking:        svc,
				Snapshots:      web.NewSnapshotCache(engine, cfg.SnapshotMaxAge, cfg.SessionTTL),
				Sessions:       web.NewSessions(cfg.CookieHashKey, cfg.CookieBlockKey, cfg.SessionTTL, cfg.IsProduction()),
				Limiter:        limiter,
				Ready:          ready,
				Delays:         booking.ResetDelays{Success: cfg.SuccessResetDelay, Error: cfg.ErrorResetDelay},
				Logger:         a.log.Named("http"),
				TrustedProxies: cfg.TrustedProxies,
			}
			a.log.Info("starting server",
				zap.Bool("booking_enabled", svc.Enabled()),
				zap.Duration("sync_interval", cfg.SyncInterval),
				zap.Bool("redis_rate_limit", cfg.RedisAddr != ""),
				zap.Int("trusted_proxies", len(cfg.TrustedProxies)),
			)
			err = web.Start(ctx, cfg.ListenAddr, ws.Routes(), a.log)

			// the pool closes on return; let a running sync finish first
			cancel()
			if syncDone != nil {
				<-syncDone
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")

	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}

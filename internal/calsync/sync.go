// Package calsync mirrors an external iCalendar feed into the blocked-range
// store. Each run replaces every range of the configured source with the
// busy events of the freshly fetched feed.
package calsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/villasync/internal/availability"
	"github.com/example/villasync/internal/store"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/example/villasync/internal/calsync"

type SyncResult struct {
	RunID        uuid.UUID
	Source       availability.Source
	BlockedCount int
	Deleted      int
	Status       store.SyncStatus
	Digest       string
}

// Job is one configured sync. Run may be called repeatedly; runs are
// idempotent for an unchanged feed.
type Job struct {
	Fetcher      FeedFetcher
	Store        store.BlockedStore
	FeedURL      string
	Source       availability.Source
	StoreTimeout time.Duration
	Logger       *zap.Logger

	now    func() time.Time
	tracer trace.Tracer
}

func (j *Job) init() {
	if j.Logger == nil {
		j.Logger = zap.NewNop()
	}
	if j.now == nil {
		j.now = time.Now
	}
	if j.tracer == nil {
		j.tracer = otel.Tracer(tracerName)
	}
	if j.Source == "" {
		j.Source = availability.SourceAirbnb
	}
}

func (j *Job) Run(ctx context.Context) (SyncResult, error) {
	j.init()
	res := SyncResult{RunID: uuid.New(), Source: j.Source, Status: store.SyncFailed}
	started := j.now()

	ctx, span := j.tracer.Start(ctx, "calsync.Run", trace.WithAttributes(
		attribute.String("sync.run_id", res.RunID.String()),
		attribute.String("sync.source", string(j.Source)),
	))
	defer span.End()

	log := j.Logger.With(zap.String("run_id", res.RunID.String()), zap.String("source", string(j.Source)))

	err := j.run(ctx, &res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("calendar sync failed", zap.Error(err))
	} else {
		res.Status = store.SyncSucceeded
		span.SetAttributes(
			attribute.Int("sync.blocked_count", res.BlockedCount),
			attribute.Int("sync.deleted", res.Deleted),
		)
		log.Info("calendar sync complete",
			zap.Int("blocked_count", res.BlockedCount),
			zap.Int("deleted", res.Deleted),
			zap.String("digest", res.Digest),
		)
	}

	j.record(ctx, log, res, started, err)
	return res, err
}

func (j *Job) run(ctx context.Context, res *SyncResult) error {
	if j.Fetcher == nil || j.Store == nil {
		return errors.New("calendar sync: fetcher and store are required")
	}

	feed, err := j.Fetcher.Fetch(ctx, j.FeedURL)
	if err != nil {
		return err
	}
	res.Digest = feed.Digest

	events, err := ParseEvents(feed.Body)
	if err != nil {
		return err
	}
	ranges, err := BlockedRanges(events, j.Source)
	if err != nil {
		return err
	}

	deleted, err := j.replace(ctx, ranges)
	res.Deleted = deleted
	if err != nil {
		return err
	}
	res.BlockedCount = len(ranges)
	return nil
}

// replace swaps the source partition. Without a transactional store the
// delete and insert are separate calls and a failed insert leaves the
// partition empty until the next successful run.
func (j *Job) replace(ctx context.Context, ranges []availability.BlockedRange) (int, error) {
	if rs, ok := j.Store.(store.SourceReplacer); ok {
		sctx, cancel := j.storeCtx(ctx)
		defer cancel()
		return rs.ReplaceSource(sctx, j.Source, ranges)
	}

	sctx, cancel := j.storeCtx(ctx)
	deleted, err := j.Store.DeleteBySource(sctx, j.Source)
	cancel()
	if err != nil {
		return 0, err
	}
	if len(ranges) == 0 {
		return deleted, nil
	}

	sctx, cancel = j.storeCtx(ctx)
	defer cancel()
	if err := j.Store.InsertRanges(sctx, ranges); err != nil {
		return deleted, fmt.Errorf("deleted %d %s ranges but insert failed, source has no ranges until the next run: %w",
			deleted, j.Source, err)
	}
	return deleted, nil
}

func (j *Job) record(ctx context.Context, log *zap.Logger, res SyncResult, started time.Time, runErr error) {
	rec, ok := j.Store.(store.SyncRunRecorder)
	if !ok {
		return
	}
	run := store.SyncRun{
		ID:           res.RunID,
		Source:       res.Source,
		FeedURL:      j.FeedURL,
		FeedDigest:   res.Digest,
		BlockedCount: res.BlockedCount,
		Deleted:      res.Deleted,
		Status:       res.Status,
		StartedAt:    started,
		FinishedAt:   j.now(),
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	sctx, cancel := j.storeCtx(context.WithoutCancel(ctx))
	defer cancel()
	if err := rec.RecordSyncRun(sctx, run); err != nil {
		log.Warn("sync run not recorded", zap.Error(err))
	}
}

func (j *Job) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if j.StoreTimeout > 0 {
		return context.WithTimeout(ctx, j.StoreTimeout)
	}
	return context.WithCancel(ctx)
}

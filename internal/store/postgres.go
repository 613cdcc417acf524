package store

import (
	"context"
	"errors"
	"time"

	"github.com/example/villasync/internal/availability"
	"github.com/example/villasync/internal/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Postgres keeps blocked ranges, bookings and sync runs in the tables created
// by internal/migrate.
type Postgres struct {
	db *db.DB
}

func NewPostgres(d *db.DB) *Postgres { return &Postgres{db: d} }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.Ping(ctx) }

func (p *Postgres) DeleteBySource(ctx context.Context, source availability.Source) (int, error) {
	var deleted int
	err := p.db.InTx(ctx, func(tx pgx.Tx) error {
		n, err := deleteSource(ctx, tx, source)
		deleted = n
		return err
	})
	if err != nil {
		return 0, &WriteError{Op: OpDeleteBySource, Err: err}
	}
	return deleted, nil
}

func (p *Postgres) InsertRanges(ctx context.Context, ranges []availability.BlockedRange) error {
	if len(ranges) == 0 {
		return nil
	}
	err := p.db.InTx(ctx, func(tx pgx.Tx) error {
		return copyRanges(ctx, tx, ranges)
	})
	if err != nil {
		return &WriteError{Op: OpInsertRanges, Err: err}
	}
	return nil
}

// ReplaceSource deletes and re-inserts a source's ranges in one transaction.
func (p *Postgres) ReplaceSource(ctx context.Context, source availability.Source, ranges []availability.BlockedRange) (int, error) {
	var deleted int
	err := p.db.InTx(ctx, func(tx pgx.Tx) error {
		n, err := deleteSource(ctx, tx, source)
		if err != nil {
			return err
		}
		deleted = n
		if len(ranges) == 0 {
			return nil
		}
		return copyRanges(ctx, tx, ranges)
	})
	if err != nil {
		return 0, &WriteError{Op: OpReplaceSource, Err: err}
	}
	return deleted, nil
}

func (p *Postgres) ListRanges(ctx context.Context) ([]availability.BlockedRange, error) {
	rows, err := p.db.Query(ctx, `
SELECT check_in, check_out, source
FROM blocked_dates
ORDER BY check_in, check_out`)
	if err != nil {
		return nil, &ReadError{Op: OpListRanges, Err: err}
	}
	defer rows.Close()

	var out []availability.BlockedRange
	for rows.Next() {
		var checkIn, checkOut time.Time
		var source string
		if err := rows.Scan(&checkIn, &checkOut, &source); err != nil {
			return nil, &ReadError{Op: OpListRanges, Err: err}
		}
		out = append(out, availability.BlockedRange{
			CheckIn:  availability.DayOf(checkIn),
			CheckOut: availability.DayOf(checkOut),
			Source:   availability.Source(source),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &ReadError{Op: OpListRanges, Err: err}
	}
	return out, nil
}

// InsertBooking writes the booking and its booking_request range while
// holding a lock that keeps the sync job and other submissions out, so the
// overlap check and the insert see the same table.
func (p *Postgres) InsertBooking(ctx context.Context, b Booking) error {
	err := p.db.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `LOCK TABLE blocked_dates IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return err
		}

		var taken bool
		if err := tx.QueryRow(ctx, `
SELECT EXISTS(
  SELECT 1 FROM blocked_dates
  WHERE check_in <= $2 AND check_out >= $1
)`, b.CheckIn.Time(), b.CheckOut.Time()).Scan(&taken); err != nil {
			return err
		}
		if taken {
			return ErrRangeConflict
		}

		if _, err := tx.Exec(ctx, `
INSERT INTO bookings(id,name,email,message,check_in,check_out,guests,adults,infants,total_price,created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::numeric,$11)`,
			b.ID, b.Name, b.Email, b.Message, b.CheckIn.Time(), b.CheckOut.Time(),
			b.Guests(), b.Adults, b.Infants, b.TotalPrice.String(), b.CreatedAt,
		); err != nil {
			return err
		}

		br := b.BlockedRange()
		_, err := tx.Exec(ctx, `INSERT INTO blocked_dates(check_in,check_out,source) VALUES ($1,$2,$3)`,
			br.CheckIn.Time(), br.CheckOut.Time(), string(br.Source))
		return err
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRangeConflict) || db.IsExclusionViolation(err) {
		return &WriteError{Op: OpInsertBooking, Err: ErrRangeConflict}
	}
	return &WriteError{Op: OpInsertBooking, Err: err}
}

func (p *Postgres) RecordSyncRun(ctx context.Context, run SyncRun) error {
	var errText *string
	if run.Error != "" {
		errText = &run.Error
	}
	err := p.db.Exec(ctx, `
INSERT INTO sync_runs(id,source,feed_url,feed_digest,blocked_count,deleted_count,status,error,started_at,finished_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		run.ID, string(run.Source), run.FeedURL, run.FeedDigest, run.BlockedCount, run.Deleted,
		string(run.Status), errText, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return &WriteError{Op: OpRecordSyncRun, Err: err}
	}
	return nil
}

// RecentSyncRuns returns the newest runs first.
func (p *Postgres) RecentSyncRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.db.Query(ctx, `
SELECT id,source,feed_url,feed_digest,blocked_count,deleted_count,status,COALESCE(error,''),started_at,finished_at
FROM sync_runs
ORDER BY started_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, &ReadError{Op: "recent_sync_runs", Err: err}
	}
	defer rows.Close()

	var out []SyncRun
	for rows.Next() {
		var r SyncRun
		var source, status string
		if err := rows.Scan(&r.ID, &source, &r.FeedURL, &r.FeedDigest, &r.BlockedCount, &r.Deleted,
			&status, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, &ReadError{Op: "recent_sync_runs", Err: err}
		}
		r.Source = availability.Source(source)
		r.Status = SyncStatus(status)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &ReadError{Op: "recent_sync_runs", Err: err}
	}
	return out, nil
}

// SyncRun looks up one run. A missing id reports db.IsNotFound.
func (p *Postgres) SyncRun(ctx context.Context, id uuid.UUID) (SyncRun, error) {
	var (
		r              SyncRun
		source, status string
	)
	err := p.db.QueryRow(ctx, `
SELECT id,source,feed_url,feed_digest,blocked_count,deleted_count,status,COALESCE(error,''),started_at,finished_at
FROM sync_runs
WHERE id = $1`, id).Scan(&r.ID, &source, &r.FeedURL, &r.FeedDigest, &r.BlockedCount, &r.Deleted,
		&status, &r.Error, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return SyncRun{}, &ReadError{Op: OpGetSyncRun, Err: db.WrapNotFound(err)}
	}
	r.Source = availability.Source(source)
	r.Status = SyncStatus(status)
	return r, nil
}

// Booking looks up one booking request. A missing id reports db.IsNotFound.
func (p *Postgres) Booking(ctx context.Context, id uuid.UUID) (Booking, error) {
	var (
		b       Booking
		in, out time.Time
		total   string
		guests  int
	)
	err := p.db.QueryRow(ctx, `
SELECT id,name,email,message,check_in,check_out,guests,adults,infants,total_price::text,created_at
FROM bookings
WHERE id = $1`, id).Scan(&b.ID, &b.Name, &b.Email, &b.Message, &in, &out,
		&guests, &b.Adults, &b.Infants, &total, &b.CreatedAt)
	if err != nil {
		return Booking{}, &ReadError{Op: OpGetBooking, Err: db.WrapNotFound(err)}
	}
	b.CheckIn, b.CheckOut = availability.DayOf(in), availability.DayOf(out)
	if b.TotalPrice, err = decimal.NewFromString(total); err != nil {
		return Booking{}, &ReadError{Op: OpGetBooking, Err: err}
	}
	return b, nil
}

func deleteSource(ctx context.Context, tx pgx.Tx, source availability.Source) (int, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM blocked_dates WHERE source=$1`, string(source))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func copyRanges(ctx context.Context, tx pgx.Tx, ranges []availability.BlockedRange) error {
	for _, r := range ranges {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"blocked_dates"},
		[]string{"check_in", "check_out", "source"},
		pgx.CopyFromSlice(len(ranges), func(i int) ([]any, error) {
			r := ranges[i]
			return []any{r.CheckIn.Time(), r.CheckOut.Time(), string(r.Source)}, nil
		}),
	)
	return err
}

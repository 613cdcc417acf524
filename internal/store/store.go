// Package store is the shared record store between the calendar sync job and
// the booking widget. Blocked ranges are partitioned by source; bookings and
// sync runs are append-only.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/villasync/internal/availability"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Operation names used in ReadError and WriteError.
const (
	OpListRanges     = "list_ranges"
	OpDeleteBySource = "delete_by_source"
	OpInsertRanges   = "insert_ranges"
	OpReplaceSource  = "replace_source"
	OpInsertBooking  = "insert_booking"
	OpRecordSyncRun  = "record_sync_run"
	OpGetBooking     = "get_booking"
	OpGetSyncRun     = "get_sync_run"
)

// ErrRangeConflict means a booking overlaps a day that became blocked after
// the caller last looked.
var ErrRangeConflict = errors.New("requested dates are no longer available")

type ReadError struct {
	Op  string
	Err error
}

func (e *ReadError) Error() string { return fmt.Sprintf("store read %s: %v", e.Op, e.Err) }
func (e *ReadError) Unwrap() error { return e.Err }

type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("store write %s: %v", e.Op, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// BlockedStore is the minimum the sync job and the engine need.
type BlockedStore interface {
	DeleteBySource(ctx context.Context, source availability.Source) (int, error)
	InsertRanges(ctx context.Context, ranges []availability.BlockedRange) error
	ListRanges(ctx context.Context) ([]availability.BlockedRange, error)
}

// SourceReplacer swaps a source's ranges atomically. Stores that implement it
// never expose an empty partition between delete and insert.
type SourceReplacer interface {
	ReplaceSource(ctx context.Context, source availability.Source, ranges []availability.BlockedRange) (deleted int, err error)
}

type BookingWriter interface {
	InsertBooking(ctx context.Context, b Booking) error
}

type SyncRunRecorder interface {
	RecordSyncRun(ctx context.Context, run SyncRun) error
}

type Booking struct {
	ID         uuid.UUID
	CheckIn    availability.Day
	CheckOut   availability.Day
	Adults     int
	Infants    int
	Name       string
	Email      string
	Message    string
	TotalPrice decimal.Decimal
	CreatedAt  time.Time
}

func (b Booking) Guests() int { return b.Adults + b.Infants }

// BlockedRange is the booking_request range an accepted booking occupies.
func (b Booking) BlockedRange() availability.BlockedRange {
	return availability.BlockedRange{
		CheckIn:  b.CheckIn,
		CheckOut: b.CheckOut,
		Source:   availability.SourceBookingRequest,
	}
}

type SyncStatus string

const (
	SyncSucceeded SyncStatus = "succeeded"
	SyncFailed    SyncStatus = "failed"
)

type SyncRun struct {
	ID           uuid.UUID
	Source       availability.Source
	FeedURL      string
	FeedDigest   string
	BlockedCount int
	Deleted      int
	Status       SyncStatus
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
}

func overlaps(a, b availability.BlockedRange) bool {
	return !a.CheckOut.Before(b.CheckIn) && !b.CheckOut.Before(a.CheckIn)
}

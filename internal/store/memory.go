package store

import (
	"context"
	"sync"

	"github.com/example/villasync/internal/availability"
)

// Memory is an in-process store. Delete and insert are separate calls, so a
// sync against it has the same transient-empty window as a plain REST table.
type Memory struct {
	mu       sync.Mutex
	ranges   []availability.BlockedRange
	bookings []Booking
	runs     []SyncRun
	faults   map[string]error
	calls    map[string]int
}

func NewMemory(seed ...availability.BlockedRange) *Memory {
	m := &Memory{faults: map[string]error{}, calls: map[string]int{}}
	m.ranges = append(m.ranges, seed...)
	return m
}

// FailOn makes every later call of op fail with err. A nil err clears it.
func (m *Memory) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = err
}

// Calls reports how many times op was invoked, failed calls included.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *Memory) enter(op string) error {
	m.calls[op]++
	return m.faults[op]
}

func (m *Memory) DeleteBySource(ctx context.Context, source availability.Source) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpDeleteBySource); err != nil {
		return 0, &WriteError{Op: OpDeleteBySource, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return 0, &WriteError{Op: OpDeleteBySource, Err: err}
	}

	kept := m.ranges[:0]
	deleted := 0
	for _, r := range m.ranges {
		if r.Source == source {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.ranges = kept
	return deleted, nil
}

func (m *Memory) InsertRanges(ctx context.Context, ranges []availability.BlockedRange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpInsertRanges); err != nil {
		return &WriteError{Op: OpInsertRanges, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &WriteError{Op: OpInsertRanges, Err: err}
	}
	for _, r := range ranges {
		if err := r.Validate(); err != nil {
			return &WriteError{Op: OpInsertRanges, Err: err}
		}
	}
	m.ranges = append(m.ranges, ranges...)
	return nil
}

func (m *Memory) ListRanges(ctx context.Context) ([]availability.BlockedRange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpListRanges); err != nil {
		return nil, &ReadError{Op: OpListRanges, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &ReadError{Op: OpListRanges, Err: err}
	}
	out := make([]availability.BlockedRange, len(m.ranges))
	copy(out, m.ranges)
	return out, nil
}

// InsertBooking stores b and its booking_request range unless the range
// overlaps anything already blocked.
func (m *Memory) InsertBooking(ctx context.Context, b Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpInsertBooking); err != nil {
		return &WriteError{Op: OpInsertBooking, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &WriteError{Op: OpInsertBooking, Err: err}
	}

	br := b.BlockedRange()
	for _, r := range m.ranges {
		if overlaps(r, br) {
			return &WriteError{Op: OpInsertBooking, Err: ErrRangeConflict}
		}
	}
	m.bookings = append(m.bookings, b)
	m.ranges = append(m.ranges, br)
	return nil
}

func (m *Memory) RecordSyncRun(ctx context.Context, run SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpRecordSyncRun); err != nil {
		return &WriteError{Op: OpRecordSyncRun, Err: err}
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) Bookings() []Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Booking, len(m.bookings))
	copy(out, m.bookings)
	return out
}

func (m *Memory) SyncRuns() []SyncRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SyncRun, len(m.runs))
	copy(out, m.runs)
	return out
}

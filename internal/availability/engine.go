package availability

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RangeLister reads every blocked range regardless of source.
type RangeLister interface {
	ListRanges(ctx context.Context) ([]BlockedRange, error)
}

// Engine loads blocked ranges from the shared store and expands them.
type Engine struct {
	ranges  RangeLister
	logger  *zap.Logger
	timeout time.Duration
}

func NewEngine(ranges RangeLister, logger *zap.Logger, timeout time.Duration) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{ranges: ranges, logger: logger, timeout: timeout}
}

// LoadBlockedDays returns the current blocked-day set. A read failure is not
// fatal: the set comes back empty and the error is returned alongside it so
// the caller can surface it.
func (e *Engine) LoadBlockedDays(ctx context.Context) (BlockedDaySet, error) {
	if e.ranges == nil {
		return BlockedDaySet{}, nil
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	ranges, err := e.ranges.ListRanges(ctx)
	if err != nil {
		e.logger.Warn("blocked ranges unavailable; treating every day as open", zap.Error(err))
		return BlockedDaySet{}, err
	}
	set := Expand(ranges)
	e.logger.Debug("blocked days loaded",
		zap.Int("ranges", len(ranges)),
		zap.Int("days", set.Len()),
	)
	return set, nil
}

package availability

import (
	"errors"
	"fmt"
)

var (
	ErrMissingSelection = errors.New("please select check-in and check-out dates")
	ErrEndBeforeStart   = errors.New("check-out cannot be before check-in")
	ErrZeroNights       = errors.New("check-out must be at least one night after check-in")
	ErrCheckInPast      = errors.New("check-in cannot be in the past")
)

// StayTooLongError reports a stay longer than the configured maximum.
type StayTooLongError struct {
	Nights int
	Max    int
}

func (e *StayTooLongError) Error() string {
	return fmt.Sprintf("stays are limited to %d nights (requested %d)", e.Max, e.Nights)
}

// StayRules bound when a new stay may start and how long it may last. A zero
// Today or MaxNights disables that bound.
type StayRules struct {
	Today     Day
	MaxNights int
}

// Check validates the stay shape and then the rules.
func (r StayRules) Check(start, end Day) error {
	if err := ValidateStay(start, end); err != nil {
		return err
	}
	if !r.Today.IsZero() && start.Before(r.Today) {
		return ErrCheckInPast
	}
	if r.MaxNights > 0 {
		if n := end.Sub(start); n > r.MaxNights {
			return &StayTooLongError{Nights: n, Max: r.MaxNights}
		}
	}
	return nil
}

// CheckStay is CheckRange for a new booking: the rules are applied before any
// blocked day is looked at.
func CheckStay(start, end Day, blocked BlockedDaySet, rules StayRules) error {
	if err := rules.Check(start, end); err != nil {
		return err
	}
	return CheckRange(start, end, blocked)
}

// UnavailableError reports the first blocked day inside a requested stay.
type UnavailableError struct {
	Day Day
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s is not available", e.Day)
}

// ValidateStay checks the shape of a requested stay without looking at
// availability. A stay needs both dates and at least one night.
func ValidateStay(start, end Day) error {
	if start.IsZero() || end.IsZero() {
		return ErrMissingSelection
	}
	if end.Before(start) {
		return ErrEndBeforeStart
	}
	if !end.After(start) {
		return ErrZeroNights
	}
	return nil
}

// CheckRange returns nil when [start, end] is a bookable stay with no blocked
// day, otherwise the reason it is not.
func CheckRange(start, end Day, blocked BlockedDaySet) error {
	if err := ValidateStay(start, end); err != nil {
		return err
	}
	for d := start; !d.After(end); d = d.AddDays(1) {
		if blocked.Contains(d) {
			return &UnavailableError{Day: d}
		}
	}
	return nil
}

func IsRangeAvailable(start, end Day, blocked BlockedDaySet) bool {
	return CheckRange(start, end, blocked) == nil
}

// DisabledDays lists the blocked days inside [from, to] for the date picker.
func DisabledDays(from, to Day, blocked BlockedDaySet) []Day {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return nil
	}
	var out []Day
	for d := from; !d.After(to); d = d.AddDays(1) {
		if blocked.Contains(d) {
			out = append(out, d)
		}
	}
	return out
}

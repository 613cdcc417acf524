package availability

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Source identifies which producer owns a blocked range. A sync run may only
// delete ranges carrying its own source.
type Source string

const (
	SourceAirbnb         Source = "airbnb"
	SourceBookingRequest Source = "booking_request"
)

var sourcePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

func ParseSource(s string) (Source, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !sourcePattern.MatchString(s) {
		return "", fmt.Errorf("invalid source tag %q", s)
	}
	return Source(s), nil
}

// BlockedRange is a closed interval [CheckIn, CheckOut] during which the
// property cannot be booked.
type BlockedRange struct {
	CheckIn  Day
	CheckOut Day
	Source   Source
}

func (r BlockedRange) Validate() error {
	if r.CheckIn.IsZero() || r.CheckOut.IsZero() {
		return fmt.Errorf("blocked range: check_in and check_out are required")
	}
	if r.CheckOut.Before(r.CheckIn) {
		return fmt.Errorf("blocked range: check_out %s before check_in %s", r.CheckOut, r.CheckIn)
	}
	if r.Source == "" {
		return fmt.Errorf("blocked range: source is required")
	}
	return nil
}

// Days returns how many calendar days the range covers, both endpoints included.
func (r BlockedRange) Days() int {
	if r.CheckOut.Before(r.CheckIn) {
		return 0
	}
	return r.CheckOut.Sub(r.CheckIn) + 1
}

// ExpandRange lists every day in [CheckIn, CheckOut]. An inverted range
// expands to nothing.
func ExpandRange(r BlockedRange) []Day {
	n := r.Days()
	if n == 0 {
		return nil
	}
	days := make([]Day, 0, n)
	start := r.CheckIn.Time()
	for i := 0; i < n; i++ {
		days = append(days, DayOf(start.AddDate(0, 0, i)))
	}
	return days
}

// BlockedDaySet is the flattened per-day view of all blocked ranges.
type BlockedDaySet map[Day]struct{}

// Expand builds the blocked-day set for ranges of every source.
func Expand(ranges []BlockedRange) BlockedDaySet {
	set := make(BlockedDaySet)
	for _, r := range ranges {
		set.AddRange(r)
	}
	return set
}

func (s BlockedDaySet) Add(d Day) { s[d] = struct{}{} }

func (s BlockedDaySet) AddRange(r BlockedRange) {
	n := r.Days()
	start := r.CheckIn.Time()
	for i := 0; i < n; i++ {
		s.Add(DayOf(start.AddDate(0, 0, i)))
	}
}

func (s BlockedDaySet) Contains(d Day) bool {
	_, ok := s[d]
	return ok
}

func (s BlockedDaySet) Len() int { return len(s) }

// Sorted returns the members in ascending order.
func (s BlockedDaySet) Sorted() []Day {
	out := make([]Day, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

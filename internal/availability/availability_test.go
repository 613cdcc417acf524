package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func day(t *testing.T, s string) Day {
	t.Helper()
	d, err := ParseDay(s)
	if err != nil {
		t.Fatalf("ParseDay(%q): %v", s, err)
	}
	return d
}

func TestExpandRange_IncludesBothEndpoints(t *testing.T) {
	cases := []struct {
		in, out string
	}{
		{"2024-07-01", "2024-07-01"},
		{"2024-07-01", "2024-07-05"},
		{"2024-02-27", "2024-03-02"},
		{"2023-12-30", "2024-01-02"},
		{"2024-03-29", "2024-04-02"},
	}
	for _, c := range cases {
		r := BlockedRange{CheckIn: day(t, c.in), CheckOut: day(t, c.out), Source: SourceAirbnb}
		days := ExpandRange(r)
		want := r.CheckOut.Sub(r.CheckIn) + 1
		if len(days) != want {
			t.Fatalf("%s..%s: expected %d days, got %d", c.in, c.out, want, len(days))
		}
		if days[0] != r.CheckIn || days[len(days)-1] != r.CheckOut {
			t.Fatalf("%s..%s: endpoints missing: %v", c.in, c.out, days)
		}
		seen := map[Day]bool{}
		for _, d := range days {
			if seen[d] {
				t.Fatalf("duplicate day %s", d)
			}
			seen[d] = true
		}
	}
}

func TestExpandRange_Inverted(t *testing.T) {
	r := BlockedRange{CheckIn: day(t, "2024-07-05"), CheckOut: day(t, "2024-07-01"), Source: SourceAirbnb}
	if got := ExpandRange(r); len(got) != 0 {
		t.Fatalf("expected no days, got %v", got)
	}
}

func TestExpand_DeduplicatesAcrossSources(t *testing.T) {
	set := Expand([]BlockedRange{
		{CheckIn: day(t, "2024-07-01"), CheckOut: day(t, "2024-07-05"), Source: SourceAirbnb},
		{CheckIn: day(t, "2024-07-04"), CheckOut: day(t, "2024-07-07"), Source: SourceBookingRequest},
	})
	if set.Len() != 7 {
		t.Fatalf("expected 7 days, got %d", set.Len())
	}
	sorted := set.Sorted()
	if sorted[0] != day(t, "2024-07-01") || sorted[6] != day(t, "2024-07-07") {
		t.Fatalf("unexpected order: %v", sorted)
	}
}

func TestCheckRange(t *testing.T) {
	blocked := Expand([]BlockedRange{
		{CheckIn: day(t, "2024-07-01"), CheckOut: day(t, "2024-07-05"), Source: SourceAirbnb},
		{CheckIn: day(t, "2024-08-10"), CheckOut: day(t, "2024-08-12"), Source: SourceBookingRequest},
	})

	cases := []struct {
		name       string
		start, end Day
		want       error
		wantDay    string
	}{
		{name: "missing start", end: day(t, "2024-07-10"), want: ErrMissingSelection},
		{name: "missing end", start: day(t, "2024-07-10"), want: ErrMissingSelection},
		{name: "end before start", start: day(t, "2024-07-10"), end: day(t, "2024-07-09"), want: ErrEndBeforeStart},
		{name: "zero nights", start: day(t, "2024-07-10"), end: day(t, "2024-07-10"), want: ErrZeroNights},
		{name: "overlaps external block", start: day(t, "2024-07-03"), end: day(t, "2024-07-06"), wantDay: "2024-07-03"},
		{name: "touches last blocked day", start: day(t, "2024-06-28"), end: day(t, "2024-07-01"), wantDay: "2024-07-01"},
		{name: "overlaps local block", start: day(t, "2024-08-08"), end: day(t, "2024-08-10"), wantDay: "2024-08-10"},
		{name: "free", start: day(t, "2024-07-06"), end: day(t, "2024-07-10")},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := CheckRange(c.start, c.end, blocked)
			if c.wantDay != "" {
				var ue *UnavailableError
				if !errors.As(err, &ue) {
					t.Fatalf("expected UnavailableError, got %v", err)
				}
				if ue.Day.String() != c.wantDay {
					t.Fatalf("expected first blocked day %s, got %s", c.wantDay, ue.Day)
				}
				return
			}
			if !errors.Is(err, c.want) {
				t.Fatalf("expected %v, got %v", c.want, err)
			}
			if (c.want == nil) != IsRangeAvailable(c.start, c.end, blocked) {
				t.Fatalf("IsRangeAvailable disagrees with CheckRange")
			}
		})
	}
}

func TestStayRules(t *testing.T) {
	rules := StayRules{Today: day(t, "2024-07-10"), MaxNights: 14}
	blocked := Expand([]BlockedRange{{CheckIn: day(t, "2024-07-20"), CheckOut: day(t, "2024-07-22"), Source: SourceAirbnb}})

	cases := []struct {
		name       string
		start, end string
		want       error
	}{
		{name: "check-in yesterday", start: "2024-07-09", end: "2024-07-12", want: ErrCheckInPast},
		{name: "years in the past", start: "2001-01-01", end: "2001-01-05", want: ErrCheckInPast},
		{name: "check-in today", start: "2024-07-10", end: "2024-07-12"},
		{name: "exactly max nights", start: "2024-08-01", end: "2024-08-15"},
		{name: "shape errors first", start: "2024-07-01", end: "2024-07-01", want: ErrZeroNights},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if err := CheckStay(day(t, c.start), day(t, c.end), blocked, rules); !errors.Is(err, c.want) {
				t.Fatalf("expected %v, got %v", c.want, err)
			}
		})
	}

	err := CheckStay(day(t, "2024-08-01"), day(t, "2024-08-16"), blocked, rules)
	var tl *StayTooLongError
	if !errors.As(err, &tl) || tl.Nights != 15 || tl.Max != 14 {
		t.Fatalf("expected StayTooLongError 15/14, got %v", err)
	}

	var ue *UnavailableError
	if err := CheckStay(day(t, "2024-07-18"), day(t, "2024-07-21"), blocked, rules); !errors.As(err, &ue) {
		t.Fatalf("blocked days still apply under rules, got %v", err)
	}

	// zero rules only check the shape
	if err := CheckStay(day(t, "2001-01-01"), day(t, "2003-01-01"), BlockedDaySet{}, StayRules{}); err != nil {
		t.Fatalf("zero rules must not bound the stay, got %v", err)
	}
}

func TestNightsAndPrice_FullDateRange(t *testing.T) {
	first, last := day(t, "0001-01-01"), day(t, "9999-12-31")
	if n := NightsBetween(first, last); n != 3652058 {
		t.Fatalf("expected 3652058 nights, got %d", n)
	}
	if n := (BlockedRange{CheckIn: first, CheckOut: last, Source: SourceAirbnb}).Days(); n != 3652059 {
		t.Fatalf("expected 3652059 days, got %d", n)
	}
	got := PriceFor(first, last, decimal.NewFromInt(2))
	if !got.Equal(decimal.NewFromInt(7304116)) {
		t.Fatalf("unexpected price %s", got)
	}
}

func TestNightsAndPrice(t *testing.T) {
	start, end := day(t, "2024-07-06"), day(t, "2024-07-10")
	if n := NightsBetween(start, end); n != 4 {
		t.Fatalf("expected 4 nights, got %d", n)
	}
	if n := NightsBetween(end, start); n != 4 {
		t.Fatalf("expected absolute difference, got %d", n)
	}
	rate := decimal.RequireFromString("249.99")
	if got := PriceFor(start, end, rate); !got.Equal(decimal.RequireFromString("999.96")) {
		t.Fatalf("unexpected price %s", got)
	}
	// across a DST change in Europe the night count must not drift
	if n := NightsBetween(day(t, "2024-03-30"), day(t, "2024-04-01")); n != 2 {
		t.Fatalf("expected 2 nights across DST, got %d", n)
	}
}

func TestDisabledDays(t *testing.T) {
	blocked := Expand([]BlockedRange{{CheckIn: day(t, "2024-07-01"), CheckOut: day(t, "2024-07-03"), Source: SourceAirbnb}})
	got := DisabledDays(day(t, "2024-07-02"), day(t, "2024-07-10"), blocked)
	if len(got) != 2 || got[0].String() != "2024-07-02" || got[1].String() != "2024-07-03" {
		t.Fatalf("unexpected disabled days %v", got)
	}
}

func TestDayOf_UsesWallClockDate(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	ts := time.Date(2024, 7, 1, 0, 30, 0, 0, loc)
	if got := DayOf(ts).String(); got != "2024-07-01" {
		t.Fatalf("expected 2024-07-01, got %s", got)
	}
}

type listerFunc func(ctx context.Context) ([]BlockedRange, error)

func (f listerFunc) ListRanges(ctx context.Context) ([]BlockedRange, error) { return f(ctx) }

func TestEngine_LoadBlockedDays(t *testing.T) {
	e := NewEngine(listerFunc(func(context.Context) ([]BlockedRange, error) {
		return []BlockedRange{{CheckIn: day(t, "2024-07-01"), CheckOut: day(t, "2024-07-05"), Source: SourceAirbnb}}, nil
	}), nil, time.Second)
	set, err := e.LoadBlockedDays(context.Background())
	if err != nil {
		t.Fatalf("LoadBlockedDays: %v", err)
	}
	if set.Len() != 5 {
		t.Fatalf("expected 5 days, got %d", set.Len())
	}

	empty := NewEngine(listerFunc(func(context.Context) ([]BlockedRange, error) { return nil, nil }), nil, 0)
	set, err = empty.LoadBlockedDays(context.Background())
	if err != nil || set.Len() != 0 {
		t.Fatalf("expected empty set and no error, got %d / %v", set.Len(), err)
	}
}

func TestEngine_ReadFailureDegrades(t *testing.T) {
	boom := errors.New("connection refused")
	e := NewEngine(listerFunc(func(context.Context) ([]BlockedRange, error) { return nil, boom }), nil, 0)
	set, err := e.LoadBlockedDays(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected read error to surface, got %v", err)
	}
	if set == nil || set.Len() != 0 {
		t.Fatalf("expected empty non-nil set on failure")
	}
}

func TestDay_TextRoundTrip(t *testing.T) {
	var d Day
	if err := d.UnmarshalText([]byte("2024-07-06")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	b, _ := d.MarshalText()
	if string(b) != "2024-07-06" {
		t.Fatalf("unexpected text %q", b)
	}
	if err := d.UnmarshalText([]byte("07/06/2024")); err == nil {
		t.Fatal("expected error for non-ISO date")
	}
}

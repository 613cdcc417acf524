package availability

import (
	"fmt"
	"strings"
	"time"
)

const (
	dayLayout     = "2006-01-02"
	secondsPerDay = 24 * 60 * 60
)

// Day is a calendar date with no time-of-day component. The zero value means
// "no date selected".
type Day struct {
	Year  int
	Month time.Month
	Dom   int
}

func NewDay(year int, month time.Month, dom int) Day {
	return DayOf(time.Date(year, month, dom, 0, 0, 0, 0, time.UTC))
}

// DayOf returns the wall-clock date of t in t's own location.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return Day{Year: y, Month: m, Dom: d}
}

func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, strings.TrimSpace(s))
	if err != nil {
		return Day{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return DayOf(t), nil
}

func (d Day) IsZero() bool { return d == Day{} }

// Time returns midnight UTC of d.
func (d Day) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Dom, 0, 0, 0, 0, time.UTC)
}

func (d Day) AddDays(n int) Day { return DayOf(d.Time().AddDate(0, 0, n)) }

// Sub returns the number of whole days from o to d. It works on Unix
// seconds, so spans longer than time.Duration can hold stay exact.
func (d Day) Sub(o Day) int {
	return int((d.Time().Unix() - o.Time().Unix()) / secondsPerDay)
}

func (d Day) Compare(o Day) int {
	switch {
	case d.Year != o.Year:
		return cmpInt(d.Year, o.Year)
	case d.Month != o.Month:
		return cmpInt(int(d.Month), int(o.Month))
	default:
		return cmpInt(d.Dom, o.Dom)
	}
}

func (d Day) Before(o Day) bool { return d.Compare(o) < 0 }
func (d Day) After(o Day) bool  { return d.Compare(o) > 0 }

func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time().Format(dayLayout)
}

func (d Day) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Day) UnmarshalText(b []byte) error {
	if len(strings.TrimSpace(string(b))) == 0 {
		*d = Day{}
		return nil
	}
	p, err := ParseDay(string(b))
	if err != nil {
		return err
	}
	*d = p
	return nil
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

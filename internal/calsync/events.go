package calsync

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/example/villasync/internal/availability"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const icalDateLayout = "20060102"

// CalendarEvent is the subset of a VEVENT the sync job cares about. Start and
// End are wall-clock dates in the event's own zone.
type CalendarEvent struct {
	UID          string
	Summary      string
	Start        availability.Day
	End          availability.Day
	HasEnd       bool
	Status       string
	Transparency string
}

// Busy reports whether the event occupies the property. Transparent,
// cancelled and tentative events do not; neither does any status we do not
// recognise.
func (e CalendarEvent) Busy() bool {
	if strings.EqualFold(e.Transparency, "TRANSPARENT") {
		return false
	}
	switch strings.ToUpper(e.Status) {
	case "", "CONFIRMED":
		return true
	default:
		return false
	}
}

// Range converts the event into a blocked range. Without DTEND the event
// blocks its start day only.
func (e CalendarEvent) Range(source availability.Source) availability.BlockedRange {
	end := e.End
	if !e.HasEnd {
		end = e.Start
	}
	return availability.BlockedRange{CheckIn: e.Start, CheckOut: end, Source: source}
}

// ParseEvents decodes an iCalendar document and returns every VEVENT in
// document order. A leading byte-order mark is ignored.
func ParseEvents(body []byte) ([]CalendarEvent, error) {
	r := transform.NewReader(bytes.NewReader(body), unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	cal, err := ical.NewDecoder(r).Decode()
	if errors.Is(err, io.EOF) {
		return nil, &FeedParseError{Reason: "empty document"}
	}
	if err != nil {
		return nil, &FeedParseError{Reason: "not an iCalendar document", Err: err}
	}

	var out []CalendarEvent
	for i, ev := range cal.Events() {
		ce, err := eventFromComponent(ev.Component)
		if err != nil {
			return nil, &FeedParseError{Reason: fmt.Sprintf("event %d", i), Err: err}
		}
		out = append(out, ce)
	}
	return out, nil
}

// BlockedRanges filters busy events and normalizes them to ranges tagged with
// source. Identical ranges are collapsed; document order is kept.
func BlockedRanges(events []CalendarEvent, source availability.Source) ([]availability.BlockedRange, error) {
	seen := make(map[availability.BlockedRange]struct{}, len(events))
	out := make([]availability.BlockedRange, 0, len(events))
	for _, e := range events {
		if !e.Busy() {
			continue
		}
		r := e.Range(source)
		if r.CheckOut.Before(r.CheckIn) {
			return nil, &FeedParseError{Reason: fmt.Sprintf("event %q ends %s before it starts %s", e.UID, r.CheckOut, r.CheckIn)}
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}

func eventFromComponent(c *ical.Component) (CalendarEvent, error) {
	ev := CalendarEvent{
		UID:          propText(c, ical.PropUID),
		Summary:      propText(c, ical.PropSummary),
		Status:       propText(c, ical.PropStatus),
		Transparency: propText(c, ical.PropTransparency),
	}

	start := c.Props.Get(ical.PropDateTimeStart)
	if start == nil {
		return ev, fmt.Errorf("missing DTSTART")
	}
	d, err := propDay(start)
	if err != nil {
		return ev, fmt.Errorf("DTSTART: %w", err)
	}
	ev.Start = d

	if end := c.Props.Get(ical.PropDateTimeEnd); end != nil {
		d, err := propDay(end)
		if err != nil {
			return ev, fmt.Errorf("DTEND: %w", err)
		}
		ev.End = d
		ev.HasEnd = true
	}
	return ev, nil
}

func propText(c *ical.Component, name string) string {
	p := c.Props.Get(name)
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p.Value)
}

// propDay reads a DATE or DATE-TIME property as a calendar date. Date-times
// keep the date as written in their own zone; only UTC ("Z") values are UTC.
func propDay(p *ical.Prop) (availability.Day, error) {
	v := strings.TrimSpace(p.Value)
	if strings.EqualFold(p.Params.Get(ical.ParamValue), string(ical.ValueDate)) || len(v) == len(icalDateLayout) {
		t, err := time.Parse(icalDateLayout, v)
		if err != nil {
			return availability.Day{}, fmt.Errorf("invalid date %q", v)
		}
		return availability.DayOf(t), nil
	}

	t, err := p.DateTime(time.UTC)
	if err == nil {
		return availability.DayOf(t), nil
	}
	// Unknown TZID: the local wall date is still the leading YYYYMMDD.
	if p.Params.Get(ical.PropTimezoneID) != "" && len(v) > len(icalDateLayout) {
		if t, perr := time.Parse(icalDateLayout, v[:len(icalDateLayout)]); perr == nil {
			return availability.DayOf(t), nil
		}
	}
	return availability.Day{}, fmt.Errorf("invalid date-time %q: %w", v, err)
}

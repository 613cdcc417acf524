package booking

import (
	"errors"
	"time"

	"github.com/example/villasync/internal/availability"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusSubmitting Status = "submitting"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

const (
	msgSuccess  = "Request sent! We'll get back to you within 24 hours."
	msgGeneric  = "Something went wrong. Please try again."
	msgConflict = "Those dates are no longer available. Please choose different dates."
	msgDisabled = "Booking disabled: missing store configuration."
)

var ErrSubmissionInFlight = errors.New("a booking request is already being submitted")

type Selection struct {
	CheckIn  availability.Day `json:"check_in"`
	CheckOut availability.Day `json:"check_out"`
}

func (s Selection) Complete() bool { return !s.CheckIn.IsZero() && !s.CheckOut.IsZero() }

// WidgetState is everything the booking widget needs between requests. Every
// transition returns a new value.
type WidgetState struct {
	Selection Selection `json:"selection"`
	Guests    Guests    `json:"guests"`
	Contact   Contact   `json:"contact"`
	Status    Status    `json:"status"`
	StatusAt  time.Time `json:"status_at,omitempty"`
	Message   string    `json:"message,omitempty"`
	// resets to idle on the next Tick rather than after ErrorResetDelay
	Disabled bool `json:"disabled,omitempty"`
}

func NewWidgetState(p GuestPolicy) WidgetState {
	return WidgetState{Guests: p.Default(), Status: StatusIdle}
}

// ResetDelays controls how long terminal states stay visible.
type ResetDelays struct {
	Success time.Duration
	Error   time.Duration
}

// SelectDates accepts [in, out] only when it is a bookable stay under rules
// with no blocked day. On rejection the state is returned unchanged with the
// reason.
func (s WidgetState) SelectDates(in, out availability.Day, blocked availability.BlockedDaySet, rules availability.StayRules) (WidgetState, error) {
	if err := availability.CheckStay(in, out, blocked, rules); err != nil {
		return s, err
	}
	s.Selection = Selection{CheckIn: in, CheckOut: out}
	return s, nil
}

func (s WidgetState) ClearDates() WidgetState {
	s.Selection = Selection{}
	return s
}

func (s WidgetState) AdjustGuests(p GuestPolicy, kind GuestKind, delta int) WidgetState {
	s.Guests = p.Adjust(s.Guests, kind, delta)
	return s
}

// Begin enters submitting. Only idle or a lingering error may start a
// submission.
func (s WidgetState) Begin(now time.Time) (WidgetState, error) {
	switch s.Status {
	case StatusIdle, StatusError, "":
	default:
		return s, ErrSubmissionInFlight
	}
	s.Status = StatusSubmitting
	s.StatusAt = now
	s.Message = ""
	s.Disabled = false
	return s, nil
}

func (s WidgetState) Succeed(now time.Time) WidgetState {
	s.Status = StatusSuccess
	s.StatusAt = now
	s.Message = msgSuccess
	s.Disabled = false
	return s
}

func (s WidgetState) Fail(now time.Time, msg string, disabled bool) WidgetState {
	s.Status = StatusError
	s.StatusAt = now
	s.Message = msg
	s.Disabled = disabled
	return s
}

// Tick applies time-based transitions. Success clears the whole form once
// its delay has passed; error returns to idle and keeps the form.
func (s WidgetState) Tick(now time.Time, p GuestPolicy, d ResetDelays) WidgetState {
	switch s.Status {
	case StatusSuccess:
		if !now.Before(s.StatusAt.Add(d.Success)) {
			return NewWidgetState(p)
		}
	case StatusError:
		if s.Disabled || !now.Before(s.StatusAt.Add(d.Error)) {
			s.Status = StatusIdle
			s.StatusAt = now
			s.Message = ""
			s.Disabled = false
		}
	}
	return s
}

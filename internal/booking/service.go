// Package booking turns a widget session into a booking request: guest
// bounds, contact validation, the submission state machine and the final
// availability re-check before the store write.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/villasync/internal/availability"
	"github.com/example/villasync/internal/config"
	"github.com/example/villasync/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrBookingDisabled is returned when the server runs without a store.
var ErrBookingDisabled = &config.Error{Key: "DATABASE_URL", Msg: "booking disabled: no store configured"}

// InvalidGuestsError means the guest counts arrived outside the policy, which
// the widget never produces on its own.
type InvalidGuestsError struct {
	Guests Guests
	Max    int
}

func (e *InvalidGuestsError) Error() string {
	return fmt.Sprintf("invalid guest counts %d adults, %d infants (max %d guests)", e.Guests.Adults, e.Guests.Infants, e.Max)
}

// BlockedDayLoader returns the current blocked-day set from the store.
type BlockedDayLoader interface {
	LoadBlockedDays(ctx context.Context) (availability.BlockedDaySet, error)
}

type Quote struct {
	CheckIn     availability.Day `json:"check_in"`
	CheckOut    availability.Day `json:"check_out"`
	Nights      int              `json:"nights"`
	NightlyRate decimal.Decimal  `json:"nightly_rate"`
	Total       decimal.Decimal  `json:"total"`
}

func NewQuote(in, out availability.Day, rate decimal.Decimal) (Quote, error) {
	if err := availability.ValidateStay(in, out); err != nil {
		return Quote{}, err
	}
	return Quote{
		CheckIn:     in,
		CheckOut:    out,
		Nights:      availability.NightsBetween(in, out),
		NightlyRate: rate,
		Total:       availability.PriceFor(in, out, rate),
	}, nil
}

type Service struct {
	loader       BlockedDayLoader
	writer       store.BookingWriter
	validator    *ContactValidator
	policy       GuestPolicy
	rate         decimal.Decimal
	maxNights    int
	storeTimeout time.Duration
	logger       *zap.Logger
}

type Options struct {
	Loader       BlockedDayLoader
	Writer       store.BookingWriter // nil disables booking
	Policy       GuestPolicy
	NightlyRate  decimal.Decimal
	MaxNights    int // 0 means no upper bound
	StoreTimeout time.Duration
	Logger       *zap.Logger
}

func NewService(o Options) *Service {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &Service{
		loader:       o.Loader,
		writer:       o.Writer,
		validator:    NewContactValidator(),
		policy:       o.Policy,
		rate:         o.NightlyRate,
		maxNights:    o.MaxNights,
		storeTimeout: o.StoreTimeout,
		logger:       o.Logger,
	}
}

func (s *Service) Policy() GuestPolicy          { return s.policy }
func (s *Service) NightlyRate() decimal.Decimal { return s.rate }
func (s *Service) Enabled() bool                { return s.writer != nil }

// StayRules are the booking bounds as of now: no check-in before today's
// date and no stay longer than MaxNights.
func (s *Service) StayRules(now time.Time) availability.StayRules {
	return availability.StayRules{Today: availability.DayOf(now), MaxNights: s.maxNights}
}

func (s *Service) Quote(sel Selection) (Quote, error) {
	return NewQuote(sel.CheckIn, sel.CheckOut, s.rate)
}

// Submit validates the request against the session snapshot and the contact
// rules, then re-reads the store and writes the booking. Validation failures
// leave the status untouched; anything after the state enters submitting
// ends in success or error.
func (s *Service) Submit(ctx context.Context, state WidgetState, snapshot availability.BlockedDaySet, contact Contact, now time.Time) (WidgetState, store.Booking, error) {
	state.Contact = contact.Normalize()
	if state.Status == StatusSubmitting {
		return state, store.Booking{}, ErrSubmissionInFlight
	}

	sel := state.Selection
	if err := availability.CheckStay(sel.CheckIn, sel.CheckOut, snapshot, s.StayRules(now)); err != nil {
		return state, store.Booking{}, err
	}
	if !s.policy.Valid(state.Guests) {
		return state, store.Booking{}, &InvalidGuestsError{Guests: state.Guests, Max: s.policy.max()}
	}
	if err := s.validator.Validate(state.Contact); err != nil {
		return state, store.Booking{}, err
	}

	if s.writer == nil {
		return state.Fail(now, msgDisabled, true), store.Booking{}, ErrBookingDisabled
	}

	state, err := state.Begin(now)
	if err != nil {
		return state, store.Booking{}, err
	}

	log := s.logger.With(
		zap.String("check_in", sel.CheckIn.String()),
		zap.String("check_out", sel.CheckOut.String()),
	)

	if err := s.recheck(ctx, sel); err != nil {
		if errors.Is(err, store.ErrRangeConflict) {
			log.Info("booking rejected on re-check", zap.Error(err))
			return state.Fail(now, msgConflict, false), store.Booking{}, err
		}
		log.Error("booking re-check failed", zap.Error(err))
		return state.Fail(now, msgGeneric, false), store.Booking{}, err
	}

	b := store.Booking{
		ID:         uuid.New(),
		CheckIn:    sel.CheckIn,
		CheckOut:   sel.CheckOut,
		Adults:     state.Guests.Adults,
		Infants:    state.Guests.Infants,
		Name:       state.Contact.Name,
		Email:      state.Contact.Email,
		Message:    state.Contact.Message,
		TotalPrice: availability.PriceFor(sel.CheckIn, sel.CheckOut, s.rate),
		CreatedAt:  now.UTC(),
	}

	wctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.writer.InsertBooking(wctx, b); err != nil {
		if errors.Is(err, store.ErrRangeConflict) {
			log.Info("booking rejected by store", zap.Error(err))
			return state.Fail(now, msgConflict, false), store.Booking{}, err
		}
		log.Error("booking insert failed", zap.Error(err))
		return state.Fail(now, msgGeneric, false), store.Booking{}, err
	}

	log.Info("booking request stored",
		zap.String("booking_id", b.ID.String()),
		zap.Int("guests", b.Guests()),
		zap.String("total_price", b.TotalPrice.String()),
	)
	return state.Succeed(now), b, nil
}

// recheck runs the availability check against a fresh store read. A failed
// read is returned as is: submitting against unknown availability is refused.
func (s *Service) recheck(ctx context.Context, sel Selection) error {
	if s.loader == nil {
		return nil
	}
	fresh, err := s.loader.LoadBlockedDays(ctx)
	if err != nil {
		return err
	}
	var ue *availability.UnavailableError
	if err := availability.CheckRange(sel.CheckIn, sel.CheckOut, fresh); errors.As(err, &ue) {
		return fmt.Errorf("%w: %s was booked meanwhile", store.ErrRangeConflict, ue.Day)
	} else if err != nil {
		return err
	}
	return nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout > 0 {
		return context.WithTimeout(ctx, s.storeTimeout)
	}
	return context.WithCancel(ctx)
}

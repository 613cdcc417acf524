package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"github.com/example/villasync/internal/availability"
	"github.com/example/villasync/internal/booking"
	"github.com/example/villasync/internal/store"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	maxBodyBytes      = 64 << 10
	maxDisabledWindow = 366

	msgNoSession    = "no widget session; start one with POST /api/widget"
	msgAvailability = "Availability could not be loaded. Dates shown as open may already be taken."
	msgFixFields    = "Please correct the highlighted fields."
)

type Server struct {
	Booking   *booking.Service
	Snapshots *SnapshotCache
	Sessions  *Sessions
	Limiter   Limiter
	Ready     []ReadyCheck
	Delays    booking.ResetDelays
	Logger    *zap.Logger

	// TrustedProxies are the peers whose X-Forwarded-For is believed when
	// keying rate limits.
	TrustedProxies []netip.Prefix

	Now func() time.Time
}

type errorBody struct {
	Error string `json:"error"`
}

type widgetResponse struct {
	State             booking.WidgetState `json:"state"`
	Quote             *booking.Quote      `json:"quote,omitempty"`
	BookingEnabled    bool                `json:"booking_enabled"`
	BlockedDays       []availability.Day  `json:"blocked_days,omitempty"`
	AvailabilityError string              `json:"availability_error,omitempty"`
	BookingID         string              `json:"booking_id,omitempty"`
	Error             string              `json:"error,omitempty"`
	Fields            map[string]string   `json:"fields,omitempty"`
}

type disabledResponse struct {
	From              availability.Day   `json:"from"`
	To                availability.Day   `json:"to"`
	Days              []availability.Day `json:"days"`
	AvailabilityError string             `json:"availability_error,omitempty"`
}

func (s *Server) Routes() http.Handler {
	mux := NewBaseMux(s.Ready...)

	clientIP := ClientIP(s.TrustedProxies)

	mux.Handle("POST /api/widget", WithRateLimit(s.Limiter, "start", clientIP, s.logger())(http.HandlerFunc(s.handleWidgetStart)))
	mux.HandleFunc("GET /api/widget", s.handleWidget)
	mux.HandleFunc("POST /api/widget/dates", s.handleSelectDates)
	mux.HandleFunc("DELETE /api/widget/dates", s.handleClearDates)
	mux.HandleFunc("POST /api/widget/guests", s.handleGuests)
	mux.Handle("POST /api/widget/submit", WithRateLimit(s.Limiter, "submit", clientIP, s.logger())(http.HandlerFunc(s.handleSubmit)))
	mux.HandleFunc("GET /api/calendar/disabled", s.handleDisabled)

	h := Chain(mux,
		WithRequestID,
		WithAccessLog(s.logger()),
		WithBodyLimit(maxBodyBytes),
	)
	return otelhttp.NewHandler(h, "villasync.http")
}

func (s *Server) handleWidgetStart(w http.ResponseWriter, r *http.Request) {
	snap := s.Snapshots.Current(r.Context())
	sess := newSession(booking.NewWidgetState(s.Booking.Policy()), snap.gen)

	resp := s.view(sess, snap)
	resp.BlockedDays = snap.days.Sorted()
	s.respond(w, r, http.StatusCreated, sess, resp)
}

func (s *Server) handleWidget(w http.ResponseWriter, r *http.Request) {
	sess, snap, ok := s.session(w, r)
	if !ok {
		return
	}
	s.respond(w, r, http.StatusOK, sess, s.view(sess, snap))
}

func (s *Server) handleSelectDates(w http.ResponseWriter, r *http.Request) {
	sess, snap, ok := s.session(w, r)
	if !ok {
		return
	}
	var body struct {
		CheckIn  availability.Day `json:"check_in"`
		CheckOut availability.Day `json:"check_out"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	next, err := sess.State.SelectDates(body.CheckIn, body.CheckOut, snap.days, s.Booking.StayRules(s.now()))
	sess.State = next
	resp := s.view(sess, snap)
	if err != nil {
		resp.Error = err.Error()
		s.respond(w, r, stayStatus(err), sess, resp)
		return
	}
	s.respond(w, r, http.StatusOK, sess, resp)
}

func (s *Server) handleClearDates(w http.ResponseWriter, r *http.Request) {
	sess, snap, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.State = sess.State.ClearDates()
	s.respond(w, r, http.StatusOK, sess, s.view(sess, snap))
}

func (s *Server) handleGuests(w http.ResponseWriter, r *http.Request) {
	sess, snap, ok := s.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Kind  string `json:"kind"`
		Delta int    `json:"delta"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	kind, err := booking.ParseGuestKind(body.Kind)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if body.Delta != 1 && body.Delta != -1 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "delta must be 1 or -1"})
		return
	}

	sess.State = sess.State.AdjustGuests(s.Booking.Policy(), kind, body.Delta)
	s.respond(w, r, http.StatusOK, sess, s.view(sess, snap))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sess, snap, ok := s.session(w, r)
	if !ok {
		return
	}
	var contact booking.Contact
	if err := decodeJSON(r, &contact); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	state, b, err := s.Booking.Submit(r.Context(), sess.State, snap.days, contact, s.now())
	sess.State = state
	resp := s.view(sess, snap)
	if err != nil {
		code := submitStatus(err)
		resp.Error = err.Error()
		var ve booking.ValidationErrors
		switch {
		case errors.As(err, &ve):
			resp.Error = msgFixFields
			resp.Fields = ve.Fields()
		case code >= http.StatusInternalServerError && state.Message != "":
			resp.Error = state.Message
		}
		s.respond(w, r, code, sess, resp)
		return
	}

	resp.BookingID = b.ID.String()
	s.respond(w, r, http.StatusCreated, sess, resp)
}

func (s *Server) handleDisabled(w http.ResponseWriter, r *http.Request) {
	sess, snap, ok := s.session(w, r)
	if !ok {
		return
	}
	from, err := availability.ParseDay(r.URL.Query().Get("from"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "from: " + err.Error()})
		return
	}
	to, err := availability.ParseDay(r.URL.Query().Get("to"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "to: " + err.Error()})
		return
	}
	if to.Before(from) || to.Sub(from) > maxDisabledWindow {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "to must be on or after from and at most a year later"})
		return
	}

	resp := disabledResponse{From: from, To: to, Days: availability.DisabledDays(from, to, snap.days)}
	if resp.Days == nil {
		resp.Days = []availability.Day{}
	}
	if snap.loadErr != nil {
		resp.AvailabilityError = msgAvailability
	}
	s.respond(w, r, http.StatusOK, sess, resp)
}

// session reads the widget cookie, applies pending timed transitions and
// attaches the session's blocked-day generation. A session whose generation
// has left the cache moves to the current one.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (Session, snapshot, bool) {
	sess, ok := s.Sessions.Read(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msgNoSession})
		return Session{}, snapshot{}, false
	}
	sess.State = sess.State.Tick(s.now(), s.Booking.Policy(), s.Delays)

	snap, ok := s.Snapshots.Get(sess.Gen)
	if !ok {
		snap = s.Snapshots.Current(r.Context())
		sess.Gen = snap.gen
	}
	return sess, snap, true
}

func (s *Server) view(sess Session, snap snapshot) widgetResponse {
	resp := widgetResponse{State: sess.State, BookingEnabled: s.Booking.Enabled()}
	if q, err := s.Booking.Quote(sess.State.Selection); err == nil {
		resp.Quote = &q
	}
	if snap.loadErr != nil {
		resp.AvailabilityError = msgAvailability
	}
	return resp
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, code int, sess Session, body any) {
	if err := s.Sessions.Write(w, r, sess); err != nil {
		s.logger().Error("encode widget session", zap.String("session_id", sess.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "could not save widget session"})
		return
	}
	writeJSON(w, code, body)
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Server) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func stayStatus(err error) int {
	var ue *availability.UnavailableError
	if errors.As(err, &ue) {
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

func submitStatus(err error) int {
	var (
		ve booking.ValidationErrors
		ue *availability.UnavailableError
		ig *booking.InvalidGuestsError
		tl *availability.StayTooLongError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case errors.As(err, &ue),
		errors.Is(err, store.ErrRangeConflict),
		errors.Is(err, booking.ErrSubmissionInFlight):
		return http.StatusConflict
	case errors.Is(err, availability.ErrMissingSelection),
		errors.Is(err, availability.ErrEndBeforeStart),
		errors.Is(err, availability.ErrZeroNights),
		errors.Is(err, availability.ErrCheckInPast),
		errors.As(err, &tl),
		errors.As(err, &ig):
		return http.StatusBadRequest
	case errors.Is(err, booking.ErrBookingDisabled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Start serves h on addr until ctx is cancelled, then drains for up to five
// seconds.
func Start(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
	}()
	logger.Info("listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

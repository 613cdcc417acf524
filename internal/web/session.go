package web

import (
	"net/http"
	"time"

	"github.com/example/villasync/internal/booking"
	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
)

const cookieName = "villasync_widget"

// Session is the signed, encrypted widget cookie. Contact details are not
// kept in it; the client sends them with each submit. Gen pins the
// blocked-day generation the session was started on.
type Session struct {
	ID    string              `json:"id"`
	Gen   int64               `json:"gen"`
	State booking.WidgetState `json:"state"`
}

// Sessions issues widget cookies.
type Sessions struct {
	sc     *securecookie.SecureCookie
	ttl    time.Duration
	secure bool
}

// NewSessions signs and encrypts cookies with the given keys. With secure set
// the cookie is marked Secure even when the request itself arrived over
// plain HTTP from a TLS-terminating proxy.
func NewSessions(hashKey, blockKey []byte, ttl time.Duration, secure bool) *Sessions {
	sc := securecookie.New(hashKey, blockKey)
	sc.SetSerializer(securecookie.JSONEncoder{})
	sc.MaxAge(int(ttl.Seconds()))
	return &Sessions{sc: sc, ttl: ttl, secure: secure}
}

func newSession(state booking.WidgetState, gen int64) Session {
	return Session{ID: uuid.NewString(), Gen: gen, State: state}
}

func (s *Sessions) Read(r *http.Request) (Session, bool) {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return Session{}, false
	}
	var sess Session
	if err := s.sc.Decode(cookieName, c.Value, &sess); err != nil {
		return Session{}, false
	}
	if sess.ID == "" {
		return Session{}, false
	}
	return sess, true
}

func (s *Sessions) Write(w http.ResponseWriter, r *http.Request, sess Session) error {
	sess.State.Contact = booking.Contact{}
	encoded, err := s.sc.Encode(cookieName, sess)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.secure || r.TLS != nil,
		MaxAge:   int(s.ttl.Seconds()),
	})
	return nil
}

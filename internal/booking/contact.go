package booking

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const (
	nameMinRunes    = 2
	nameMaxRunes    = 50
	messageMaxRunes = 2000
)

var (
	namePattern  = regexp.MustCompile(`^[\p{L}\s]+$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

type Contact struct {
	Name    string `json:"name" validate:"personname"`
	Email   string `json:"email" validate:"contactemail"`
	Message string `json:"message" validate:"messagelen"`
}

// Normalize trims surrounding whitespace from every field.
func (c Contact) Normalize() Contact {
	return Contact{
		Name:    strings.TrimSpace(c.Name),
		Email:   strings.TrimSpace(c.Email),
		Message: strings.TrimSpace(c.Message),
	}
}

type InvalidNameError struct{ Message string }

func (e *InvalidNameError) Error() string { return e.Message }

type InvalidEmailError struct{ Message string }

func (e *InvalidEmailError) Error() string { return e.Message }

type InvalidMessageError struct{ Message string }

func (e *InvalidMessageError) Error() string { return e.Message }

// ValidationErrors carries every field violation of one submission.
type ValidationErrors []error

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, err := range v {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (v ValidationErrors) Unwrap() []error { return v }

// Fields maps field names to their user-facing messages.
func (v ValidationErrors) Fields() map[string]string {
	out := make(map[string]string, len(v))
	for _, err := range v {
		var ne *InvalidNameError
		var ee *InvalidEmailError
		var me *InvalidMessageError
		switch {
		case errors.As(err, &ne):
			out["name"] = ne.Message
		case errors.As(err, &ee):
			out["email"] = ee.Message
		case errors.As(err, &me):
			out["message"] = me.Message
		}
	}
	return out
}

// ContactValidator checks contact fields and reports all violations at once.
type ContactValidator struct {
	v *validator.Validate
}

func NewContactValidator() *ContactValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("personname", func(fl validator.FieldLevel) bool {
		return ValidName(fl.Field().String())
	})
	_ = v.RegisterValidation("contactemail", func(fl validator.FieldLevel) bool {
		return ValidEmail(fl.Field().String())
	})
	_ = v.RegisterValidation("messagelen", func(fl validator.FieldLevel) bool {
		return utf8.RuneCountInString(fl.Field().String()) <= messageMaxRunes
	}, true)
	return &ContactValidator{v: v}
}

// Validate returns nil or a ValidationErrors listing each bad field.
func (cv *ContactValidator) Validate(c Contact) error {
	err := cv.v.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	var out ValidationErrors
	for _, fe := range fieldErrs {
		switch fe.StructField() {
		case "Name":
			out = append(out, &InvalidNameError{Message: "Please enter your name using letters and spaces (2 to 50 characters)."})
		case "Email":
			out = append(out, &InvalidEmailError{Message: "Please enter a valid email address."})
		case "Message":
			out = append(out, &InvalidMessageError{Message: "Message is too long (2000 characters at most)."})
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func ValidName(s string) bool {
	s = strings.TrimSpace(s)
	n := utf8.RuneCountInString(s)
	return n >= nameMinRunes && n <= nameMaxRunes && namePattern.MatchString(s)
}

func ValidEmail(s string) bool {
	return emailPattern.MatchString(strings.TrimSpace(s))
}

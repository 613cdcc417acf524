package booking

import "fmt"

type GuestKind string

const (
	Adults  GuestKind = "adults"
	Infants GuestKind = "infants"
)

func ParseGuestKind(s string) (GuestKind, error) {
	switch GuestKind(s) {
	case Adults, Infants:
		return GuestKind(s), nil
	}
	return "", fmt.Errorf("unknown guest kind %q", s)
}

type Guests struct {
	Adults  int `json:"adults"`
	Infants int `json:"infants"`
}

func (g Guests) Total() int { return g.Adults + g.Infants }

// GuestPolicy bounds the party size. Adults stay at one or more, infants at
// zero or more, and the sum never exceeds Max.
type GuestPolicy struct {
	Max int
}

func (p GuestPolicy) max() int {
	if p.Max < 1 {
		return 1
	}
	return p.Max
}

func (p GuestPolicy) Default() Guests { return Guests{Adults: 1} }

func (p GuestPolicy) Valid(g Guests) bool {
	return g.Adults >= 1 && g.Infants >= 0 && g.Total() <= p.max()
}

// Adjust moves one counter by delta. A move that would break the policy
// returns g unchanged.
func (p GuestPolicy) Adjust(g Guests, kind GuestKind, delta int) Guests {
	next := g
	switch kind {
	case Adults:
		next.Adults += delta
	case Infants:
		next.Infants += delta
	default:
		return g
	}
	if !p.Valid(next) {
		return g
	}
	return next
}

func (p GuestPolicy) AddAdult(g Guests) Guests     { return p.Adjust(g, Adults, 1) }
func (p GuestPolicy) RemoveAdult(g Guests) Guests  { return p.Adjust(g, Adults, -1) }
func (p GuestPolicy) AddInfant(g Guests) Guests    { return p.Adjust(g, Infants, 1) }
func (p GuestPolicy) RemoveInfant(g Guests) Guests { return p.Adjust(g, Infants, -1) }

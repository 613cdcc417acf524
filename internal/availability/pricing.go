package availability

import "github.com/shopspring/decimal"

// NightsBetween is the absolute number of nights between two dates.
func NightsBetween(start, end Day) int {
	n := end.Sub(start)
	if n < 0 {
		n = -n
	}
	return n
}

// PriceFor multiplies nights by the nightly rate. No rounding is applied
// beyond the precision of the rate itself.
func PriceFor(start, end Day, nightlyRate decimal.Decimal) decimal.Decimal {
	return nightlyRate.Mul(decimal.NewFromInt(int64(NightsBetween(start, end))))
}

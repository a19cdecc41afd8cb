package money

import (
	"math"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/shopspring/decimal"
)

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// ToMinor converts a major-unit amount to minor units. Non-positive amounts,
// amounts finer than one minor unit and amounts that overflow int64 are
// rejected with domain.ErrInvalidAmount.
func ToMinor(major decimal.Decimal) (int64, error) {
	if !major.IsPositive() {
		return 0, domain.ErrInvalidAmount
	}
	minor := major.Shift(2)
	if !minor.IsInteger() || minor.GreaterThan(maxMinor) {
		return 0, domain.ErrInvalidAmount
	}
	return minor.IntPart(), nil
}

// FromMinor converts minor units back to a major-unit decimal.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

package httpapi

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
)

const minorUnitExponent = 2

var (
	errFractionalMinorUnit = errors.New("amount has more than two decimal places")
	maxMinorUnits          = decimal.NewFromInt(math.MaxInt64)
)

// toMinorUnits converts a major-unit amount (rupees) into paise.
func toMinorUnits(major decimal.Decimal) (ledger.PositiveAmount, error) {
	minor := major.Shift(minorUnitExponent)
	if !minor.IsInteger() {
		return 0, errFractionalMinorUnit
	}
	if minor.GreaterThan(maxMinorUnits) {
		return 0, ledger.ErrInvalidAmount
	}
	return ledger.NewPositiveAmount(minor.IntPart())
}

// toMajorUnits renders paise as a fixed two-decimal string.
func toMajorUnits(minor int64) string {
	return decimal.New(minor, -minorUnitExponent).StringFixed(minorUnitExponent)
}

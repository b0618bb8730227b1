package utils

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var maxUnits = decimal.NewFromInt(math.MaxInt64)

// ToUnits rounds d to AmountDecimals fractional digits and returns it as
// integer units. It fails when the value does not fit in an int64.
func ToUnits(d decimal.Decimal) (int64, error) {
	units := d.Round(AmountDecimals).Shift(AmountDecimals)
	if units.Abs().GreaterThan(maxUnits) {
		return 0, fmt.Errorf("amount %s out of range", d.String())
	}
	return units.IntPart(), nil
}

// FromUnits converts integer units back to a decimal with AmountDecimals
// fractional digits.
func FromUnits(units int64) decimal.Decimal {
	return decimal.New(units, -AmountDecimals)
}

// FormatUnits renders units with exactly AmountDecimals fractional digits,
// e.g. 6000000000 -> "60.00000000".
func FormatUnits(units int64) string {
	return FromUnits(units).StringFixed(AmountDecimals)
}

func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

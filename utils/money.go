package utils

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amounts are stored as integer minor units (paise for INR). Every supported
// currency uses two decimal places.
const minorUnitExp = 2

// MinorToDecimal converts 150000 into 1500.00.
func MinorToDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -minorUnitExp)
}

// DecimalToMinor converts 1500.00 into 150000. Values with more precision than
// the minor unit are rejected rather than rounded.
func DecimalToMinor(d decimal.Decimal) (int64, error) {
	scaled := d.Shift(minorUnitExp)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", d.String(), minorUnitExp)
	}
	return scaled.IntPart(), nil
}

// FormatMinor renders minor units for logs and exports, e.g. "1500.00".
func FormatMinor(minor int64) string {
	return MinorToDecimal(minor).StringFixed(minorUnitExp)
}

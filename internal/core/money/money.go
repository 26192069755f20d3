// Package money converts between decimal amounts and the integer minor units
// wallets store. Conversions truncate toward zero: digits beyond a wallet's
// precision are dropped, never rounded.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxDecimalPlaces bounds the precision a wallet may use so that scaled
// amounts stay well inside int64.
const MaxDecimalPlaces = 18

// ErrOutOfRange is returned when a scaled amount does not fit in int64.
var ErrOutOfRange = errors.New("amount out of range")

var (
	minMinorUnits = decimal.NewFromInt(math.MinInt64)
	maxMinorUnits = decimal.NewFromInt(math.MaxInt64)
)

// ToMinorUnits scales amount by 10^places and truncates toward zero.
func ToMinorUnits(amount decimal.Decimal, places uint8) (int64, error) {
	exp := int32(places)
	scaled := amount.Truncate(exp).Shift(exp)
	if scaled.GreaterThan(maxMinorUnits) || scaled.LessThan(minMinorUnits) {
		return 0, fmt.Errorf("%w: %s at %d decimal places", ErrOutOfRange, amount.String(), places)
	}
	return scaled.IntPart(), nil
}

// ToDecimal is the inverse of ToMinorUnits for amounts that already fit the
// wallet's precision.
func ToDecimal(minorUnits int64, places uint8) decimal.Decimal {
	exp := int32(places)
	return decimal.New(minorUnits, -exp).Truncate(exp)
}

// Parse reads a user supplied amount. Both "," and "." are accepted as the
// decimal separator and surrounding or grouping spaces are ignored.
func Parse(s string) (decimal.Decimal, error) {
	normalized := strings.ReplaceAll(strings.ReplaceAll(strings.TrimSpace(s), " ", ""), ",", ".")
	if normalized == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	amount, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Zero, fmt.Errorf("could not parse amount %q: %w", s, err)
	}
	return amount, nil
}

func ValidPlaces(places uint8) bool {
	return places <= MaxDecimalPlaces
}

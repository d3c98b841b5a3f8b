package money

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Currency enumerates the supported ISO currency codes.
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
)

var (
	// ErrInvalidAmount occurs when an amount string does not match the
	// accepted decimal grammar (digits, optional point, 1-2 fraction digits).
	ErrInvalidAmount = errors.New("invalid amount format")

	// ErrUnsupportedCurrency occurs when a currency code is outside the
	// supported set.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)

var amountPattern = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)

// maxWholeUnits bounds the whole part so whole*100+frac stays within int64.
const maxWholeUnits = (math.MaxInt64 - 99) / 100

// ParseCurrency validates a currency code string.
func ParseCurrency(code string) (Currency, error) {
	switch Currency(strings.ToUpper(strings.TrimSpace(code))) {
	case USD:
		return USD, nil
	case EUR:
		return EUR, nil
	default:
		return "", ErrUnsupportedCurrency
	}
}

// ParseAmount converts a decimal amount string into integer cents. Signs,
// extra fraction digits, any non-numeric content, and amounts too large to
// represent as int64 cents are rejected.
func ParseAmount(input string) (int64, error) {
	s := strings.TrimSpace(input)
	if !amountPattern.MatchString(s) {
		return 0, ErrInvalidAmount
	}

	whole := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	// Pad the fraction to exactly two digits so "1.5" means 150 cents.
	frac = (frac + "00")[:2]

	wholePart, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || wholePart > maxWholeUnits {
		return 0, ErrInvalidAmount
	}
	fracPart, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}

	return wholePart*100 + fracPart, nil
}

// FormatAmount renders cents as "CUR 12.34", with the sign ahead of the
// currency code for negative values.
func FormatAmount(cents int64, currency Currency) string {
	sign := ""
	abs := cents
	if cents < 0 {
		sign = "-"
		abs = -cents
	}
	return fmt.Sprintf("%s%s %d.%02d", sign, currency, abs/100, abs%100)
}

// RoundDivHalfUp divides numerator by denominator rounding ties away from
// zero, using integer arithmetic only. Operands must be non-negative.
func RoundDivHalfUp(numerator, denominator int64) int64 {
	return (numerator + denominator/2) / denominator
}

package exchange

import (
	"fmt"
	"math"

	"github.com/duobank/duobank/internal/money"
)

// Quote is the result of a fixed-rate conversion. The rate pair is kept as
// exact integers so the conversion can be replayed byte-for-byte later.
type Quote struct {
	FromCurrency    money.Currency
	ToCurrency      money.Currency
	FromAmountCents int64
	ToAmountCents   int64
	RateNumerator   int64
	RateDenominator int64
}

// Rate renders the quote's rate as a human-readable ratio, e.g.
// "USD->EUR 92/100".
func (q Quote) Rate() string {
	return fmt.Sprintf("%s->%s %d/%d", q.FromCurrency, q.ToCurrency, q.RateNumerator, q.RateDenominator)
}

// Convert applies the fixed two-currency rate table. USD->EUR is 92/100 and
// EUR->USD is its exact reciprocal 100/92.
func Convert(from money.Currency, fromAmountCents int64) (Quote, error) {
	var q Quote
	switch from {
	case money.USD:
		q = Quote{FromCurrency: money.USD, ToCurrency: money.EUR, RateNumerator: 92, RateDenominator: 100}
	case money.EUR:
		q = Quote{FromCurrency: money.EUR, ToCurrency: money.USD, RateNumerator: 100, RateDenominator: 92}
	default:
		return Quote{}, money.ErrUnsupportedCurrency
	}

	// The scaled numerator must not exceed int64 before the rounding step.
	if fromAmountCents > (math.MaxInt64-q.RateDenominator/2)/q.RateNumerator {
		return Quote{}, money.ErrInvalidAmount
	}

	q.FromAmountCents = fromAmountCents
	q.ToAmountCents = money.RoundDivHalfUp(fromAmountCents*q.RateNumerator, q.RateDenominator)
	return q, nil
}

package money

import (
	"errors"
	"testing"
)

func TestParseAmountWholeAndFraction(t *testing.T) {
	cents, err := ParseAmount("10.00")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cents != 1000 {
		t.Fatalf("expected 1000 cents, got %d", cents)
	}

	cents, err = ParseAmount(" 0.5 ")
	if err != nil {
		t.Fatalf("parse with single fraction digit failed: %v", err)
	}
	if cents != 50 {
		t.Fatalf("expected 50 cents, got %d", cents)
	}

	cents, err = ParseAmount("7")
	if err != nil {
		t.Fatalf("parse whole amount failed: %v", err)
	}
	if cents != 700 {
		t.Fatalf("expected 700 cents, got %d", cents)
	}
}

func TestParseAmountRejectsMalformedInput(t *testing.T) {
	for _, input := range []string{"", "-1.00", "1.234", "1,00", "12.", ".50", "ten", "1.00x"} {
		if _, err := ParseAmount(input); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount for %q, got %v", input, err)
		}
	}
}

func TestParseAmountRejectsOverflowingInput(t *testing.T) {
	// Each of these would wrap around int64 when scaled to cents.
	for _, input := range []string{
		"184467440737095517",
		"92233720368547758.07",
		"99999999999999999999999999",
	} {
		if _, err := ParseAmount(input); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount for %q, got %v", input, err)
		}
	}

	// The largest representable whole part still parses.
	cents, err := ParseAmount("92233720368547757.99")
	if err != nil {
		t.Fatalf("parse max amount: %v", err)
	}
	if cents != 9223372036854775799 {
		t.Fatalf("unexpected cents for max amount: %d", cents)
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(1000, USD); got != "USD 10.00" {
		t.Fatalf("unexpected format: %s", got)
	}
	if got := FormatAmount(-50, EUR); got != "-EUR 0.50" {
		t.Fatalf("unexpected negative format: %s", got)
	}
	if got := FormatAmount(5, USD); got != "USD 0.05" {
		t.Fatalf("unexpected sub-dime format: %s", got)
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, input := range []string{"0.01", "1.5", "12", "999.99"} {
		cents, err := ParseAmount(input)
		if err != nil {
			t.Fatalf("parse %q: %v", input, err)
		}
		formatted := FormatAmount(cents, USD)
		reparsed, err := ParseAmount(formatted[len("USD "):])
		if err != nil {
			t.Fatalf("reparse %q: %v", formatted, err)
		}
		if reparsed != cents {
			t.Fatalf("round trip mismatch for %q: %d != %d", input, reparsed, cents)
		}
	}
}

func TestRoundDivHalfUp(t *testing.T) {
	if got := RoundDivHalfUp(1, 2); got != 1 {
		t.Fatalf("1/2 should round to 1, got %d", got)
	}
	if got := RoundDivHalfUp(3, 2); got != 2 {
		t.Fatalf("3/2 should round to 2, got %d", got)
	}
	if got := RoundDivHalfUp(4, 2); got != 2 {
		t.Fatalf("4/2 should be 2, got %d", got)
	}
}

func TestParseCurrency(t *testing.T) {
	if cur, err := ParseCurrency("usd"); err != nil || cur != USD {
		t.Fatalf("expected USD, got %v %v", cur, err)
	}
	if _, err := ParseCurrency("GBP"); !errors.Is(err, ErrUnsupportedCurrency) {
		t.Fatalf("expected ErrUnsupportedCurrency, got %v", err)
	}
}

package exchange

import (
	"errors"
	"testing"

	"github.com/duobank/duobank/internal/money"
)

func TestConvertUSDToEUR(t *testing.T) {
	q, err := Convert(money.USD, 1000)
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if q.ToCurrency != money.EUR {
		t.Fatalf("expected EUR, got %s", q.ToCurrency)
	}
	if q.ToAmountCents != 920 {
		t.Fatalf("expected 920 cents, got %d", q.ToAmountCents)
	}
	if q.Rate() != "USD->EUR 92/100" {
		t.Fatalf("unexpected rate string: %s", q.Rate())
	}
}

func TestConvertEURToUSD(t *testing.T) {
	q, err := Convert(money.EUR, 1000)
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if q.ToCurrency != money.USD {
		t.Fatalf("expected USD, got %s", q.ToCurrency)
	}
	if q.ToAmountCents != 1087 {
		t.Fatalf("expected 1087 cents, got %d", q.ToAmountCents)
	}
	if q.Rate() != "EUR->USD 100/92" {
		t.Fatalf("unexpected rate string: %s", q.Rate())
	}
}

func TestConvertRejectsOverflowingAmount(t *testing.T) {
	// Close to the int64 cents ceiling: scaling by the rate would wrap.
	if _, err := Convert(money.EUR, 9223372036854775700); !errors.Is(err, money.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := Convert(money.USD, 9223372036854775700); !errors.Is(err, money.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestConvertUnsupportedCurrency(t *testing.T) {
	if _, err := Convert(money.Currency("GBP"), 1000); !errors.Is(err, money.ErrUnsupportedCurrency) {
		t.Fatalf("expected ErrUnsupportedCurrency, got %v", err)
	}
}

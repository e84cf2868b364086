package payment

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"crowdfund/internal/domain"
)

func TestMinorUnitsFollowCurrencyScale(t *testing.T) {
	cases := []struct {
		minor int64
		code  string
		want  string
	}{
		{5000, "usd", "50"},
		{1999, "EUR", "19.99"},
		{500, "jpy", "500"},
		{1234, "kwd", "1.234"},
	}
	for _, tc := range cases {
		got, _, err := FromMinorUnits(tc.minor, tc.code)
		if err != nil {
			t.Fatalf("FromMinorUnits(%d, %s): %v", tc.minor, tc.code, err)
		}
		if got.String() != tc.want {
			t.Fatalf("FromMinorUnits(%d, %s) = %s, want %s", tc.minor, tc.code, got, tc.want)
		}
		back, _, err := ToMinorUnits(got, tc.code)
		if err != nil || back != tc.minor {
			t.Fatalf("ToMinorUnits(%s, %s) = %d, %v", got, tc.code, back, err)
		}
	}
}

func TestToMinorUnitsRejectsExcessPrecision(t *testing.T) {
	if _, _, err := ToMinorUnits(decimal.RequireFromString("10.005"), "USD"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestNormalizeCurrency(t *testing.T) {
	got, err := NormalizeCurrency(" usd ")
	if err != nil || got != "USD" {
		t.Fatalf("NormalizeCurrency = %q, %v", got, err)
	}
	if _, err := NormalizeCurrency("XYZ1"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestLamportsToSOL(t *testing.T) {
	if got := LamportsToSOL(1_500_000_000).String(); got != "1.5" {
		t.Fatalf("LamportsToSOL = %s, want 1.5", got)
	}
	if got := LamportsToSOL(1).String(); got != "0.000000001" {
		t.Fatalf("LamportsToSOL(1) = %s", got)
	}
}

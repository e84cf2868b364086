package payment

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"crowdfund/internal/domain"
)

// ChainCurrency is the unit chain-transfer amounts are recorded in.
const ChainCurrency = "SOL"

const lamportsExp = -9

// NormalizeCurrency validates an ISO 4217 code and returns it upper-cased.
func NormalizeCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return "", fmt.Errorf("%w: currency %q", domain.ErrInvalidInput, code)
	}
	return unit.String(), nil
}

func currencyScale(code string) (string, int32, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return "", 0, fmt.Errorf("%w: currency %q", domain.ErrInvalidInput, code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return unit.String(), int32(scale), nil
}

// FromMinorUnits converts a processor amount (cents for USD) into a decimal
// amount in the currency's major unit.
func FromMinorUnits(minor int64, code string) (decimal.Decimal, string, error) {
	norm, scale, err := currencyScale(code)
	if err != nil {
		return decimal.Zero, "", err
	}
	return decimal.New(minor, -scale), norm, nil
}

// ToMinorUnits converts a major-unit amount to processor minor units. Amounts
// with more precision than the currency allows are rejected, not rounded.
func ToMinorUnits(amount decimal.Decimal, code string) (int64, string, error) {
	norm, scale, err := currencyScale(code)
	if err != nil {
		return 0, "", err
	}
	shifted := amount.Shift(scale)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, "", fmt.Errorf("%w: %s has more than %d decimals for %s", domain.ErrInvalidInput, amount, scale, norm)
	}
	return shifted.IntPart(), norm, nil
}

// LamportsToSOL converts a lamport count to SOL.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), lamportsExp)
}

package models

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyAmount    = errors.New("amount is empty")
	ErrNegativeAmount = errors.New("amount is negative")
)

var realTxHashRe = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// IsRealTxHash tells a base-ledger transaction hash apart from a short
// tracking reference. The same rule is used wherever a tx_hash is rendered.
func IsRealTxHash(s string) bool {
	return realTxHashRe.MatchString(strings.TrimSpace(s))
}

// ParseAmount parses a non-negative decimal string.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrEmptyAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	return d, nil
}

// ParsePositiveAmount is ParseAmount that also rejects zero.
func ParsePositiveAmount(s string) (decimal.Decimal, error) {
	d, err := ParseAmount(s)
	if err != nil {
		return d, err
	}
	if !d.IsPositive() {
		return d, fmt.Errorf("amount must be greater than zero")
	}
	return d, nil
}

// ToSmallestUnit returns floor(amount × 10^decimals).
func ToSmallestUnit(amount string, decimals int32) (*big.Int, error) {
	d, err := ParseAmount(amount)
	if err != nil {
		return nil, err
	}
	return d.Shift(decimals).Floor().BigInt(), nil
}

// SubtractFloor returns max(0, balance − amount). The result carries at
// least two decimals and never fewer than the operands, so 18-decimal
// tokens keep their precision.
func SubtractFloor(balance, amount string) (string, error) {
	b, err := ParseAmount(balance)
	if err != nil {
		return "", err
	}
	a, err := ParseAmount(amount)
	if err != nil {
		return "", err
	}
	r := decimal.Max(decimal.Zero, b.Sub(a))
	return r.StringFixed(max(2, -r.Exponent())), nil
}

// AddAmounts returns balance + amount in canonical decimal form.
func AddAmounts(balance, amount string) (string, error) {
	b, err := ParseAmount(balance)
	if err != nil {
		return "", err
	}
	a, err := ParseAmount(amount)
	if err != nil {
		return "", err
	}
	return b.Add(a).String(), nil
}

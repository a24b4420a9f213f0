package token

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/crowdforge/escrow-engine/pkg/errors"
)

// Amount is an unsigned arbitrary-precision integer in token base units.
// The zero value is a valid zero amount. Amounts never go negative:
// subtraction below zero fails instead of wrapping.
type Amount struct {
	i *big.Int
}

// Zero returns a zero amount.
func Zero() Amount {
	return Amount{}
}

// FromUint64 returns an amount holding v base units.
func FromUint64(v uint64) Amount {
	return Amount{i: new(big.Int).SetUint64(v)}
}

// FromBigInt returns an amount backed by a copy of v.
// Negative values are rejected.
func FromBigInt(v *big.Int) (Amount, error) {
	if v == nil {
		return Amount{}, nil
	}
	if v.Sign() < 0 {
		return Amount{}, errors.NewValidationError("negative amount")
	}
	return Amount{i: new(big.Int).Set(v)}, nil
}

// FromBaseUnits parses an integer base-unit string such as "1500000".
func FromBaseUnits(s string) (Amount, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return Amount{}, errors.NewValidationError(fmt.Sprintf("malformed amount %q", s))
	}
	return FromBigInt(v)
}

func (a Amount) val() *big.Int {
	if a.i == nil {
		return new(big.Int)
	}
	return a.i
}

// BigInt returns a copy of the underlying integer.
func (a Amount) BigInt() *big.Int {
	return new(big.Int).Set(a.val())
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool {
	return a.i == nil || a.i.Sign() == 0
}

// Cmp compares a and b: -1 if a < b, 0 if equal, +1 if a > b.
func (a Amount) Cmp(b Amount) int {
	return a.val().Cmp(b.val())
}

// Equal reports whether a and b hold the same value.
func (a Amount) Equal(b Amount) bool {
	return a.Cmp(b) == 0
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{i: new(big.Int).Add(a.val(), b.val())}
}

// Sub returns a - b, failing if the result would be negative.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.Cmp(b) < 0 {
		return Amount{}, errors.NewInsufficientFundsError(
			fmt.Sprintf("cannot subtract %s from %s", b, a))
	}
	return Amount{i: new(big.Int).Sub(a.val(), b.val())}, nil
}

// MulUint64 returns a * n.
func (a Amount) MulUint64(n uint64) Amount {
	return Amount{i: new(big.Int).Mul(a.val(), new(big.Int).SetUint64(n))}
}

// DivUint64 returns floor(a / n). Division by zero fails.
func (a Amount) DivUint64(n uint64) (Amount, error) {
	if n == 0 {
		return Amount{}, errors.NewValidationError("division by zero")
	}
	return Amount{i: new(big.Int).Div(a.val(), new(big.Int).SetUint64(n))}, nil
}

// String renders the amount in base units.
func (a Amount) String() string {
	return a.val().String()
}

// MarshalJSON renders the amount as a decimal base-unit string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts a decimal base-unit string or bare integer.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := FromBaseUnits(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Sum returns the checked total of amounts.
func Sum(amounts []Amount) Amount {
	total := new(big.Int)
	for _, a := range amounts {
		total.Add(total, a.val())
	}
	return Amount{i: total}
}

// ParseUnits converts a decimal token string such as "1.5" into base units
// using the given decimal precision. More fractional digits than the token
// supports is a PrecisionError, never silent truncation.
func ParseUnits(value string, decimals uint8) (Amount, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return Amount{}, errors.NewValidationError("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return Amount{}, errors.NewValidationError("negative amount")
	}

	whole := s
	frac := ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		whole, frac = s[:idx], s[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	// A fractional part longer than the precision is rejected outright,
	// zero tail or not, matching the upstream unit parsers.
	if len(frac) > int(decimals) {
		return Amount{}, errors.NewPrecisionError(value, decimals)
	}

	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return Amount{}, errors.NewValidationError(fmt.Sprintf("malformed amount %q", value))
	}
	return Amount{i: v}, nil
}

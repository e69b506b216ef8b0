package domain

import (
	"bytes"
	"fmt"

	"github.com/holiman/uint256"
)

// Amount is an unsigned 256-bit token quantity. The zero value is 0.
// Arithmetic never wraps: overflow and underflow are reported as ErrOverflow.
type Amount struct {
	v uint256.Int
}

// NewAmount returns n as an Amount.
func NewAmount(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

// ParseAmount parses a base-10 integer string.
func ParseAmount(s string) (Amount, error) {
	var a Amount
	if err := a.v.SetFromDecimal(s); err != nil {
		return Amount{}, fmt.Errorf("domain: parse amount %q: %w", s, err)
	}
	return a, nil
}

// MustAmount parses s and panics on failure. Intended for constants and tests.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) String() string { return a.v.Dec() }

// IsZero reports whether a == 0.
func (a Amount) IsZero() bool { return a.v.IsZero() }

// Cmp returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }

// Uint64 returns the low 64 bits and whether a fits in them.
func (a Amount) Uint64() (uint64, bool) { return a.v.Uint64(), a.v.IsUint64() }

// Add returns a+b.
func (a Amount) Add(b Amount) (Amount, error) {
	var out Amount
	if _, overflow := out.v.AddOverflow(&a.v, &b.v); overflow {
		return Amount{}, &Error{Kind: ErrOverflow, Detail: fmt.Sprintf("%s + %s", a, b)}
	}
	return out, nil
}

// Sub returns a-b.
func (a Amount) Sub(b Amount) (Amount, error) {
	var out Amount
	if _, underflow := out.v.SubOverflow(&a.v, &b.v); underflow {
		return Amount{}, &Error{Kind: ErrOverflow, Detail: fmt.Sprintf("%s - %s", a, b)}
	}
	return out, nil
}

// MulDiv returns a*mul/div truncated toward zero. The intermediate product is
// computed at 512 bits so only the final quotient has to fit.
func (a Amount) MulDiv(mul, div Amount) (Amount, error) {
	if div.IsZero() {
		return Amount{}, &Error{Kind: ErrDivideByZero, Detail: fmt.Sprintf("%s * %s / 0", a, mul)}
	}
	if a.IsZero() || mul.IsZero() {
		return Amount{}, nil
	}
	var out Amount
	if _, overflow := out.v.MulDivOverflow(&a.v, &mul.v, &div.v); overflow {
		return Amount{}, &Error{Kind: ErrOverflow, Detail: fmt.Sprintf("%s * %s / %s", a, mul, div)}
	}
	return out, nil
}

// MinAmount returns the smaller of a and b.
func MinAmount(a, b Amount) Amount {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.v.Dec()), nil
}

func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalJSON encodes the amount as a quoted decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.v.Dec() + `"`), nil
}

// UnmarshalJSON accepts both a quoted decimal string and a bare JSON integer.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = Amount{}
		return nil
	}
	return a.UnmarshalText(bytes.Trim(data, `"`))
}

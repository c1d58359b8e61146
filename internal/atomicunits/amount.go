// Package atomicunits provides exact-precision handling of ERC-3009 token
// amounts using big-integer arithmetic. PaymentInfo.maxAmount can be as large
// as 2^120-1, far beyond what an int64 can hold, so amounts are backed by
// math/big rather than a fixed-point integer type.
package atomicunits

import (
	"database/sql/driver"
	"fmt"
	"math/big"
)

// MaxAmount is the largest value an Amount may hold, 2^120-1, matching the
// escrow contract's PaymentInfo.maxAmount field width.
var MaxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 120), big.NewInt(1))

// Amount is an atomic-unit token amount (e.g. USDC's 6-decimal base units).
// The zero value represents 0.
type Amount struct {
	v big.Int
}

// Zero is the additive identity.
var Zero = Amount{}

// New wraps an int64 as an Amount.
func New(v int64) Amount {
	var a Amount
	a.v.SetInt64(v)
	return a
}

// FromBigInt copies b into a new Amount.
func FromBigInt(b *big.Int) Amount {
	var a Amount
	if b != nil {
		a.v.Set(b)
	}
	return a
}

// Parse reads a base-10 integer string (e.g. from JSON or a contract call).
func Parse(s string) (Amount, error) {
	var a Amount
	if _, ok := a.v.SetString(s, 10); !ok {
		return Amount{}, fmt.Errorf("atomicunits: invalid amount %q", s)
	}
	if a.v.Sign() < 0 {
		return Amount{}, fmt.Errorf("atomicunits: amount %q is negative", s)
	}
	if a.v.Cmp(MaxAmount) > 0 {
		return Amount{}, fmt.Errorf("atomicunits: amount %q exceeds 2^120-1", s)
	}
	return a, nil
}

// BigInt returns a defensive copy as *big.Int, suitable for ABI encoding.
func (a Amount) BigInt() *big.Int {
	return new(big.Int).Set(&a.v)
}

// String renders the base-10 integer representation.
func (a Amount) String() string {
	return a.v.String()
}

// IsZero reports whether the amount is exactly 0.
func (a Amount) IsZero() bool {
	return a.v.Sign() == 0
}

// Sign returns -1, 0, or 1.
func (a Amount) Sign() int {
	return a.v.Sign()
}

// Cmp compares a to b the same way big.Int.Cmp does.
func (a Amount) Cmp(b Amount) int {
	return a.v.Cmp(&b.v)
}

// Add returns a+b.
func Add(a, b Amount) Amount {
	var r Amount
	r.v.Add(&a.v, &b.v)
	return r
}

// Sub returns a-b. Callers that need a non-negative result should check
// Cmp first; Sub does not clamp.
func Sub(a, b Amount) Amount {
	var r Amount
	r.v.Sub(&a.v, &b.v)
	return r
}

// MarshalJSON encodes the amount as a quoted decimal string, matching the
// teacher's convention of never emitting raw numeric literals for money.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.v.String() + `"`), nil
}

// UnmarshalJSON parses a quoted or bare decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value implements database/sql/driver.Valuer, storing the amount as a
// numeric-compatible decimal string.
func (a Amount) Value() (driver.Value, error) {
	return a.v.String(), nil
}

// Scan implements database/sql.Scanner.
func (a *Amount) Scan(src any) error {
	if a == nil {
		return fmt.Errorf("atomicunits: scan into nil *Amount")
	}
	switch v := src.(type) {
	case nil:
		*a = Amount{}
		return nil
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case []byte:
		parsed, err := Parse(string(v))
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case int64:
		*a = New(v)
		return nil
	default:
		return fmt.Errorf("atomicunits: cannot scan %T into Amount", src)
	}
}

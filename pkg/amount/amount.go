// Package amount implements fixed-point token quantities: an integer number of
// base units scaled by the token's decimal count. Values that move money never
// pass through floating point.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// BpsBase is the denominator for basis-point fractions
const BpsBase = 10_000

var (
	ErrScaleMismatch = errors.New("amounts have different decimals")
	ErrNegative      = errors.New("amount would be negative")
	ErrOverflow      = errors.New("amount exceeds 256 bits")
	ErrInvalidBps    = errors.New("basis points out of range")
)

// Amount is an immutable fixed-point token quantity
type Amount struct {
	raw      sdkmath.Int
	decimals uint8
}

// Zero returns a zero amount at the given scale
func Zero(decimals uint8) Amount {
	return Amount{raw: sdkmath.ZeroInt(), decimals: decimals}
}

// New wraps a raw integer. Negative values are rejected.
func New(raw sdkmath.Int, decimals uint8) (Amount, error) {
	if raw.IsNil() {
		return Zero(decimals), nil
	}
	if raw.IsNegative() {
		return Amount{}, ErrNegative
	}
	return Amount{raw: raw, decimals: decimals}, nil
}

// FromBig wraps a big integer, copying it
func FromBig(raw *big.Int, decimals uint8) (Amount, error) {
	if raw == nil {
		return Zero(decimals), nil
	}
	if raw.Sign() < 0 {
		return Amount{}, ErrNegative
	}
	if raw.BitLen() > sdkmath.MaxBitLen {
		return Amount{}, ErrOverflow
	}
	return Amount{raw: sdkmath.NewIntFromBigInt(new(big.Int).Set(raw)), decimals: decimals}, nil
}

// FromUint64 wraps a native integer
func FromUint64(raw uint64, decimals uint8) Amount {
	return Amount{raw: sdkmath.NewIntFromUint64(raw), decimals: decimals}
}

// Parse reads a raw base-unit integer string such as "1000000"
func Parse(raw string, decimals uint8) (Amount, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Amount{}, fmt.Errorf("empty amount")
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return Amount{}, fmt.Errorf("invalid integer amount %q", raw)
		}
	}
	v, ok := sdkmath.NewIntFromString(raw)
	if !ok {
		return Amount{}, fmt.Errorf("invalid integer amount %q", raw)
	}
	return Amount{raw: v, decimals: decimals}, nil
}

// ParseUnits reads a human decimal string such as "1.5" and scales it by decimals.
// More fractional digits than the token supports is an error, not a rounding.
func ParseUnits(s string, decimals uint8) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount format %q: %w", s, err)
	}
	if d.IsNegative() {
		return Amount{}, ErrNegative
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return Amount{}, fmt.Errorf("amount %q has more than %d decimal places", s, decimals)
	}
	return FromBig(scaled.BigInt(), decimals)
}

func (a Amount) value() sdkmath.Int {
	if a.raw.IsNil() {
		return sdkmath.ZeroInt()
	}
	return a.raw
}

// Raw returns the underlying integer
func (a Amount) Raw() sdkmath.Int { return a.value() }

// BigInt returns a copy of the underlying integer
func (a Amount) BigInt() *big.Int { return a.value().BigInt() }

func (a Amount) Decimals() uint8 { return a.decimals }

func (a Amount) IsZero() bool { return a.value().IsZero() }

// String returns the raw base-unit integer, e.g. "1000000"
func (a Amount) String() string { return a.value().String() }

// IsUint64 reports whether the amount fits a u64 (Solana token amounts)
func (a Amount) IsUint64() bool { return a.value().IsUint64() }

func (a Amount) Uint64() uint64 { return a.value().Uint64() }

func (a Amount) sameScale(b Amount) error {
	if a.decimals != b.decimals {
		return fmt.Errorf("%w: %d vs %d", ErrScaleMismatch, a.decimals, b.decimals)
	}
	return nil
}

// Cmp compares two amounts of equal scale
func (a Amount) Cmp(b Amount) (int, error) {
	if err := a.sameScale(b); err != nil {
		return 0, err
	}
	return a.value().BigInt().Cmp(b.value().BigInt()), nil
}

// Equal reports equal scale and equal value
func (a Amount) Equal(b Amount) bool {
	return a.decimals == b.decimals && a.value().Equal(b.value())
}

func (a Amount) Add(b Amount) (Amount, error) {
	if err := a.sameScale(b); err != nil {
		return Amount{}, err
	}
	return FromBig(new(big.Int).Add(a.BigInt(), b.BigInt()), a.decimals)
}

// Sub fails instead of going below zero
func (a Amount) Sub(b Amount) (Amount, error) {
	if err := a.sameScale(b); err != nil {
		return Amount{}, err
	}
	return FromBig(new(big.Int).Sub(a.BigInt(), b.BigInt()), a.decimals)
}

// MulBps returns floor(a * bps / BpsBase)
func (a Amount) MulBps(bps uint32) (Amount, error) {
	if bps > BpsBase {
		return Amount{}, fmt.Errorf("%w: %d", ErrInvalidBps, bps)
	}
	v := new(big.Int).Mul(a.BigInt(), new(big.Int).SetUint64(uint64(bps)))
	v.Quo(v, big.NewInt(BpsBase))
	return FromBig(v, a.decimals)
}

// Rescale converts to another decimal count. Scaling down truncates toward zero.
func (a Amount) Rescale(decimals uint8) (Amount, error) {
	if decimals == a.decimals {
		return a, nil
	}
	v := a.BigInt()
	if decimals > a.decimals {
		v.Mul(v, pow10(decimals-a.decimals))
	} else {
		v.Quo(v, pow10(a.decimals-decimals))
	}
	return FromBig(v, decimals)
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Decimal returns the human-unit value as an exact decimal
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(a.BigInt(), -int32(a.decimals))
}

// Format renders human units truncated to at most places fractional digits
func (a Amount) Format(places int32) string {
	return a.Decimal().Truncate(places).String()
}

// Float64 is for display only
func (a Amount) Float64() float64 {
	f, _ := a.Decimal().Float64()
	return f
}

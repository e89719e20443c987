package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Rounding selects the truncation direction of a division.
type Rounding int

const (
	// Down truncates toward zero.
	Down Rounding = iota
	// Up rounds any non-zero remainder away from zero.
	Up
)

func (r Rounding) String() string {
	if r == Up {
		return "up"
	}
	return "down"
}

const (
	// Resolution is the number of fractional bits of a Q96 number.
	Resolution = 96
)

var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrOverflow       = errors.New("uint256 overflow")
	ErrUnderflow      = errors.New("uint256 underflow")
)

var (
	Zero = uint256.NewInt(0)
	One  = uint256.NewInt(1)
	// Q96 is 1.0 in UQ64.96.
	Q96 = new(uint256.Int).Lsh(uint256.NewInt(1), Resolution)
	// WAD is 1.0 as an 18-decimal fixed point number.
	WAD = uint256.NewInt(1_000_000_000_000_000_000)
	// E14 and E28 are the decimal scales used when converting USD prices.
	E14 = uint256.NewInt(100_000_000_000_000)
	E28 = MustParse("10000000000000000000000000000")
	// MaxUint128 bounds liquidity values.
	MaxUint128 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))
	// MaxUint160 bounds sqrt prices.
	MaxUint160 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 160), uint256.NewInt(1))
)

// MulDiv computes a*b/denominator with a 512-bit intermediate product.
func MulDiv(a, b, denominator *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	if denominator.IsZero() {
		return nil, ErrDivisionByZero
	}
	result, overflow := new(uint256.Int).MulDivOverflow(a, b, denominator)
	if overflow {
		return nil, fmt.Errorf("mulDiv %s*%s/%s: %w", a.ToBig(), b.ToBig(), denominator.ToBig(), ErrOverflow)
	}
	if rounding == Up && !new(uint256.Int).MulMod(a, b, denominator).IsZero() {
		if result.Eq(maxUint256) {
			return nil, fmt.Errorf("mulDiv round up: %w", ErrOverflow)
		}
		result.AddUint64(result, 1)
	}
	return result, nil
}

// Div computes a/b.
func Div(a, b *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivisionByZero
	}
	quotient, rem := new(uint256.Int).DivMod(a, b, new(uint256.Int))
	if rounding == Up && !rem.IsZero() {
		quotient.AddUint64(quotient, 1)
	}
	return quotient, nil
}

// Sqrt returns floor(sqrt(x)).
func Sqrt(x *uint256.Int) *uint256.Int {
	return new(uint256.Int).Sqrt(x)
}

// Add returns a+b or ErrOverflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b or ErrUnderflow.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	if a.Lt(b) {
		return nil, ErrUnderflow
	}
	return new(uint256.Int).Sub(a, b), nil
}

// Mul returns a*b or ErrOverflow.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return product, nil
}

// Min returns the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a
	}
	return b
}

// MustParse parses a base-10 constant. It panics on malformed input and is
// meant for package-level values only.
func MustParse(value string) *uint256.Int {
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic(fmt.Sprintf("fixedpoint: invalid constant %q", value))
	}
	return uint256.MustFromBig(parsed)
}

// Parse parses a non-negative base-10 integer that fits in 256 bits.
func Parse(value string) (*uint256.Int, error) {
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer: %q", value)
	}
	return FromBig(parsed)
}

// FromBig converts a non-negative big.Int.
func FromBig(value *big.Int) (*uint256.Int, error) {
	if value == nil {
		return new(uint256.Int), nil
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("negative value %s: %w", value, ErrUnderflow)
	}
	out, overflow := uint256.FromBig(value)
	if overflow {
		return nil, fmt.Errorf("value %s: %w", value, ErrOverflow)
	}
	return out, nil
}

// String renders a possibly nil value in base 10.
func String(value *uint256.Int) string {
	if value == nil {
		return "0"
	}
	return value.ToBig().String()
}

var maxUint256 = new(uint256.Int).SetAllOne()

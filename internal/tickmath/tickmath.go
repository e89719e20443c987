package tickmath

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"liquidityRebalancer/internal/fixedpoint"
)

const (
	// MinTick is the smallest tick for which a sqrt ratio can be computed.
	MinTick int32 = -887272
	// MaxTick is the largest tick for which a sqrt ratio can be computed.
	MaxTick int32 = -MinTick
)

var (
	// MinSqrtRatio equals GetSqrtRatioAtTick(MinTick).
	MinSqrtRatio = uint256.NewInt(4295128739)
	// MaxSqrtRatio equals GetSqrtRatioAtTick(MaxTick).
	MaxSqrtRatio = fixedpoint.MustParse("1461446703485210103287273052203988822378723970342")

	ErrTickOutOfBounds      = errors.New("tick out of bounds")
	ErrSqrtRatioOutOfBounds = errors.New("sqrt ratio out of bounds")
	ErrInvalidTickSpacing   = errors.New("tick spacing must be positive")
)

// sqrt(1.0001^-(2^i)) in UQ128.128 for i = 0..19.
var ratioFactors = [20]*uint256.Int{
	mustHex("0xfffcb933bd6fad37aa2d162d1a594001"),
	mustHex("0xfff97272373d413259a46990580e213a"),
	mustHex("0xfff2e50f5f656932ef12357cf3c7fdcc"),
	mustHex("0xffe5caca7e10e4e61c3624eaa0941cd0"),
	mustHex("0xffcb9843d60f6159c9db58835c926644"),
	mustHex("0xff973b41fa98c081472e6896dfb254c0"),
	mustHex("0xff2ea16466c96a3843ec78b326b52861"),
	mustHex("0xfe5dee046a99a2a811c461f1969c3053"),
	mustHex("0xfcbe86c7900a88aedcffc83b479aa3a4"),
	mustHex("0xf987a7253ac413176f2b074cf7815e54"),
	mustHex("0xf3392b0822b70005940c7a398e4b70f3"),
	mustHex("0xe7159475a2c29b7443b29c7fa6e889d9"),
	mustHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
	mustHex("0xa9f746462d870fdf8a65dc1f90e061e5"),
	mustHex("0x70d869a156d2a1b890bb3df62baf32f7"),
	mustHex("0x31be135f97d08fd981231505542fcfa6"),
	mustHex("0x9aa508b5b7a84e1c677de54f3e99bc9"),
	mustHex("0x5d6af8dedb81196699c329225ee604"),
	mustHex("0x2216e584f5fa1ea926041bedfe98"),
	mustHex("0x48a170391f7dc42444e8fa2"),
}

var (
	q128    = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	mask32  = uint256.NewInt(0xffffffff)
	maxWord = new(uint256.Int).SetAllOne()
)

// GetSqrtRatioAtTick returns sqrt(1.0001^tick) as a Q64.96 number.
func GetSqrtRatioAtTick(tick int32) (*uint256.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("tick %d: %w", tick, ErrTickOutOfBounds)
	}

	absTick := tick
	if absTick < 0 {
		absTick = -absTick
	}

	ratio := new(uint256.Int).Set(q128)
	for bit, factor := range ratioFactors {
		if absTick&(1<<bit) == 0 {
			continue
		}
		ratio.Mul(ratio, factor)
		ratio.Rsh(ratio, 128)
	}

	if tick > 0 {
		ratio.Div(maxWord, ratio)
	}

	// Q128.128 -> Q128.96, rounding up so the result is never below the exact ratio.
	rem := new(uint256.Int).And(ratio, mask32)
	ratio.Rsh(ratio, 32)
	if !rem.IsZero() {
		ratio.AddUint64(ratio, 1)
	}
	return ratio, nil
}

// GetTickAtSqrtRatio returns the greatest tick whose sqrt ratio is <= sqrtPriceX96.
func GetTickAtSqrtRatio(sqrtPriceX96 *uint256.Int) (int32, error) {
	if sqrtPriceX96.Lt(MinSqrtRatio) || !sqrtPriceX96.Lt(MaxSqrtRatio) {
		return 0, fmt.Errorf("sqrt ratio %s: %w", fixedpoint.String(sqrtPriceX96), ErrSqrtRatioOutOfBounds)
	}

	low, high := MinTick, MaxTick
	var tick int32
	for low <= high {
		mid := low + (high-low)/2
		ratio, err := GetSqrtRatioAtTick(mid)
		if err != nil {
			return 0, err
		}
		if !ratio.Gt(sqrtPriceX96) {
			tick = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}
	return tick, nil
}

// FloorToSpacing rounds tick toward negative infinity onto the spacing grid.
func FloorToSpacing(tick, spacing int32) int32 {
	if spacing <= 0 {
		return tick
	}
	compressed := tick / spacing
	if tick < 0 && tick%spacing != 0 {
		compressed--
	}
	return compressed * spacing
}

// MinUsableTick is the smallest spacing-aligned tick.
func MinUsableTick(spacing int32) int32 {
	return -(MaxTick / spacing) * spacing
}

// MaxUsableTick is the largest spacing-aligned tick.
func MaxUsableTick(spacing int32) int32 {
	return (MaxTick / spacing) * spacing
}

func mustHex(value string) *uint256.Int {
	return uint256.MustFromHex(value)
}

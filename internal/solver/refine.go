package solver

import (
	"fmt"

	"github.com/holiman/uint256"

	"liquidityRebalancer/internal/fixedpoint"
	"liquidityRebalancer/internal/pricing"
	"liquidityRebalancer/internal/swapmath"
	"liquidityRebalancer/internal/tickmath"
)

const DefaultMaxIterations = 100

// DefaultRatioTolerance accepts a post-swap token1 share within 1e-6 of the target.
var DefaultRatioTolerance = uint256.NewInt(1_000_000_000_000)

// Options bounds the slippage-aware refinement.
type Options struct {
	MaxIterations int
	// RatioTolerance is the accepted distance, 18 decimals, between the
	// post-swap token1 share and the target ratio at the post-swap price.
	RatioTolerance *uint256.Int
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.RatioTolerance == nil {
		o.RatioTolerance = DefaultRatioTolerance
	}
	return o
}

// Refinement is a swap size that accounts for price impact.
type Refinement struct {
	// AmountIn is everything taken from the input balance, initiator fee included.
	SwapParams
	PoolAmountIn   *uint256.Int
	InitiatorFee   *uint256.Int
	SqrtPriceAfter *uint256.Int
	Balance0       *uint256.Int
	Balance1       *uint256.Int
	Ratio          *uint256.Int
	TargetRatio    *uint256.Int
	Liquidity      *uint256.Int
	Iterations     int
	// Path lists the accepted under-shooting amounts in order; it never decreases.
	Path []*uint256.Int
}

type evaluation struct {
	refinement Refinement
	// hitLimit is set when the swap would push the price to its limit.
	hitLimit bool
	// above is set when the token1 share overshoots the target in the swap direction.
	above bool
	gap   *uint256.Int
}

// Refine improves a no-slippage estimate by simulating each candidate against
// the pool with swapmath.ComputeSwapStep and searching for the input that
// lands the post-swap balances on the target ratio of the post-swap price.
//
// The candidate is kept bracketed: lo always under-shoots and hi over-shoots
// (or would move the price onto its limit). Candidates come from regula falsi
// with the Illinois correction, alternated with bisection. The returned amount
// is within RatioTolerance of the target or the last under-shooting integer
// before a real over-shoot; anything else is ErrNonConvergence.
func Refine(p Problem, estimate Estimate, opts Options) (Refinement, error) {
	if err := p.validate(); err != nil {
		return Refinement{}, err
	}
	opts = opts.withDefaults()
	zeroToOne := estimate.ZeroToOne

	lo, err := evaluate(p, zeroToOne, new(uint256.Int))
	if err != nil {
		return Refinement{}, err
	}
	if estimate.IsZero() || !lo.gap.Gt(opts.RatioTolerance) {
		return lo.refinement, nil
	}
	if lo.above {
		return Refinement{}, fmt.Errorf("swap direction disagrees with balances: %w", ErrInvalidProblem)
	}

	maxIn := p.Balance1
	if zeroToOne {
		maxIn = p.Balance0
	}
	hi, err := evaluate(p, zeroToOne, maxIn)
	if err != nil {
		return Refinement{}, err
	}
	if !hi.hitLimit && !hi.above {
		if !hi.gap.Gt(opts.RatioTolerance) {
			return hi.refinement, nil
		}
		return Refinement{}, fmt.Errorf("whole balance leaves ratio %s short: %w", fixedpoint.String(hi.gap), ErrNonConvergence)
	}

	path := []*uint256.Int{lo.refinement.AmountIn}
	loGap := new(uint256.Int).Set(lo.gap)
	var hiGap *uint256.Int
	if !hi.hitLimit {
		hiGap = new(uint256.Int).Set(hi.gap)
	}
	lastSide := 0

	for i := 1; i <= opts.MaxIterations; i++ {
		loAmount := lo.refinement.AmountIn
		hiAmount := hi.refinement.AmountIn
		width := new(uint256.Int).Sub(hiAmount, loAmount)
		if !width.Gt(fixedpoint.One) {
			if hi.hitLimit {
				return Refinement{}, fmt.Errorf("price limit reached %s short of target: %w", fixedpoint.String(lo.gap), ErrNonConvergence)
			}
			return finish(lo, path, i-1), nil
		}

		candidate, err := nextCandidate(i, loAmount, hiAmount, width, estimate.AmountIn, loGap, hiGap)
		if err != nil {
			return Refinement{}, err
		}
		eval, err := evaluate(p, zeroToOne, candidate)
		if err != nil {
			return Refinement{}, err
		}

		switch {
		case eval.hitLimit:
			hi = eval
			hiGap = nil
			lastSide = 0
		case !eval.gap.Gt(opts.RatioTolerance):
			if !eval.above {
				path = append(path, eval.refinement.AmountIn)
			}
			return finish(eval, path, i), nil
		case eval.above:
			hi = eval
			hiGap = new(uint256.Int).Set(eval.gap)
			if lastSide == 1 {
				loGap.Rsh(loGap, 1)
			}
			lastSide = 1
		default:
			lo = eval
			loGap = new(uint256.Int).Set(eval.gap)
			path = append(path, eval.refinement.AmountIn)
			if lastSide == -1 && hiGap != nil {
				hiGap.Rsh(hiGap, 1)
			}
			lastSide = -1
		}
	}

	return Refinement{}, fmt.Errorf("%d iterations, ratio still %s off: %w", opts.MaxIterations, fixedpoint.String(lo.gap), ErrNonConvergence)
}

func finish(eval evaluation, path []*uint256.Int, iterations int) Refinement {
	out := eval.refinement
	out.Iterations = iterations
	out.Path = path
	return out
}

// nextCandidate picks a point strictly inside (lo, hi).
func nextCandidate(iteration int, lo, hi, width, estimate, loGap, hiGap *uint256.Int) (*uint256.Int, error) {
	var candidate *uint256.Int
	switch {
	case iteration == 1 && estimate.Gt(lo) && estimate.Lt(hi):
		candidate = new(uint256.Int).Set(estimate)
	case iteration%2 == 0 && hiGap != nil:
		denominator, err := fixedpoint.Add(loGap, hiGap)
		if err != nil || denominator.IsZero() {
			candidate = midpoint(lo, width)
			break
		}
		step, err := fixedpoint.MulDiv(width, loGap, denominator, fixedpoint.Down)
		if err != nil {
			return nil, err
		}
		candidate = new(uint256.Int).Add(lo, step)
	default:
		candidate = midpoint(lo, width)
	}

	if !candidate.Gt(lo) {
		candidate = new(uint256.Int).AddUint64(lo, 1)
	}
	if !candidate.Lt(hi) {
		candidate = new(uint256.Int).SubUint64(hi, 1)
	}
	return candidate, nil
}

func midpoint(lo, width *uint256.Int) *uint256.Int {
	half := new(uint256.Int).Rsh(width, 1)
	return half.Add(half, lo)
}

// evaluate simulates spending amountIn of the input token, initiator fee
// included, and measures how far the resulting token1 share is from the target
// at the post-swap price.
func evaluate(p Problem, zeroToOne bool, amountIn *uint256.Int) (evaluation, error) {
	initiatorFee := new(uint256.Int)
	if p.InitiatorFee != nil && !p.InitiatorFee.IsZero() {
		var err error
		initiatorFee, err = fixedpoint.MulDiv(amountIn, p.InitiatorFee, fixedpoint.WAD, fixedpoint.Up)
		if err != nil {
			return evaluation{}, err
		}
		initiatorFee = fixedpoint.Min(initiatorFee, amountIn)
	}
	poolIn := new(uint256.Int).Sub(amountIn, initiatorFee)

	sqrtAfter := new(uint256.Int).Set(p.SqrtPriceX96)
	amountOut := new(uint256.Int)
	if !poolIn.IsZero() {
		limit := priceLimit(p, zeroToOne)
		movesToward := limit.Lt(p.SqrtPriceX96)
		if !zeroToOne {
			movesToward = limit.Gt(p.SqrtPriceX96)
		}
		if !movesToward || p.PoolLiquidity == nil || p.PoolLiquidity.IsZero() {
			return evaluation{hitLimit: true, refinement: Refinement{SwapParams: SwapParams{ZeroToOne: zeroToOne, AmountIn: amountIn}}}, nil
		}
		step, err := swapmath.ComputeSwapStep(p.SqrtPriceX96, limit, p.PoolLiquidity, poolIn.ToBig(), p.PoolFee)
		if err != nil {
			return evaluation{}, fmt.Errorf("simulate swap of %s: %w", fixedpoint.String(poolIn), err)
		}
		if step.SqrtPriceNext.Eq(limit) {
			return evaluation{hitLimit: true, refinement: Refinement{SwapParams: SwapParams{ZeroToOne: zeroToOne, AmountIn: amountIn}}}, nil
		}
		sqrtAfter = step.SqrtPriceNext
		amountOut = step.AmountOut
	}

	params := SwapParams{ZeroToOne: zeroToOne, AmountIn: amountIn, AmountOut: amountOut}
	balance0, balance1, err := applySwap(p.Balance0, p.Balance1, params)
	if err != nil {
		return evaluation{}, err
	}
	ratio, _, err := pricing.CurrentRatio(sqrtAfter, balance0, balance1)
	if err != nil {
		return evaluation{}, err
	}
	target, err := pricing.TargetRatio(sqrtAfter, p.SqrtRatioLower, p.SqrtRatioUpper)
	if err != nil {
		return evaluation{}, err
	}
	liquidity, err := pricing.LiquidityForAmounts(sqrtAfter, p.SqrtRatioLower, p.SqrtRatioUpper, balance0, balance1)
	if err != nil {
		return evaluation{}, fmt.Errorf("post-swap liquidity: %w", err)
	}

	// token0 -> token1 raises the token1 share, token1 -> token0 lowers it
	above := ratio.Gt(target)
	if !zeroToOne {
		above = ratio.Lt(target)
	}
	gap := new(uint256.Int)
	if ratio.Gt(target) {
		gap.Sub(ratio, target)
	} else {
		gap.Sub(target, ratio)
	}

	return evaluation{
		above: above,
		gap:   gap,
		refinement: Refinement{
			SwapParams:     params,
			PoolAmountIn:   poolIn,
			InitiatorFee:   initiatorFee,
			SqrtPriceAfter: sqrtAfter,
			Balance0:       balance0,
			Balance1:       balance1,
			Ratio:          ratio,
			TargetRatio:    target,
			Liquidity:      liquidity,
		},
	}, nil
}

func priceLimit(p Problem, zeroToOne bool) *uint256.Int {
	if zeroToOne {
		if p.LowerBound != nil {
			return p.LowerBound
		}
		return new(uint256.Int).AddUint64(tickmath.MinSqrtRatio, 1)
	}
	if p.UpperBound != nil {
		return p.UpperBound
	}
	return new(uint256.Int).SubUint64(tickmath.MaxSqrtRatio, 1)
}

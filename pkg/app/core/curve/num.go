package curve

import (
	"errors"

	"github.com/holiman/uint256"
)

// Fixed-point numeric policy for all rate math.
//
// Rates are unsigned Q48 fixed-point values: the cost in source tokens of one
// target token, scaled by 2^48. All intermediate products go through 512-bit
// mul-div so a rate near the top of the range cannot silently wrap.
//
// Rounding always favors the strategy owner: rates round up, the taker's
// required input rounds up, the taker's received output rounds down. Over many
// small fills the rounding error therefore accumulates toward the maker, never
// away from it.

// RateScale is the number of fractional bits in a fixed-point rate.
const RateScale = 48

// One is the Q48 representation of rate 1.0 (one source per target).
var One = new(uint256.Int).Lsh(uint256.NewInt(1), RateScale)

// ln2Q48 is ln(2) in Q48, used by the exponential decay evaluator.
var ln2Q48 = uint256.NewInt(0xb17217f7d1cf)

var (
	ErrRateOverflow = errors.New("curve: rate math overflow")
	ErrZeroDivision = errors.New("curve: division by zero rate term")
)

// mulDivFloor returns floor(x*y/d) with a 512-bit intermediate product.
func mulDivFloor(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrZeroDivision
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrRateOverflow
	}
	return z, nil
}

// mulDivCeil returns ceil(x*y/d) with a 512-bit intermediate product.
func mulDivCeil(x, y, d *uint256.Int) (*uint256.Int, error) {
	z, err := mulDivFloor(x, y, d)
	if err != nil {
		return nil, err
	}
	if !new(uint256.Int).MulMod(x, y, d).IsZero() {
		var carry bool
		if z, carry = new(uint256.Int).AddOverflow(z, uint256.NewInt(1)); carry {
			return nil, ErrRateOverflow
		}
	}
	return z, nil
}

// TargetForSource converts a source amount into the target amount bought at
// the given rate, rounded down (taker output rounds down).
func TargetForSource(rate, source *uint256.Int) (*uint256.Int, error) {
	return mulDivFloor(source, One, rate)
}

// SourceForTarget converts a target amount into the source amount it costs at
// the given rate, rounded up (taker input rounds up).
func SourceForTarget(rate, target *uint256.Int) (*uint256.Int, error) {
	return mulDivCeil(target, rate, One)
}

// expDecayFactor returns 2^-(elapsed/halflife) as a Q48 factor in [0, One].
//
// The exponent is split into its integer part (a right shift) and fractional
// part r/halflife, with 2^-(r/halflife) = 1/e^(r/halflife * ln2) computed by a
// Taylor expansion of e^y. The series argument is < ln2 so the terms shrink by
// better than half each step and the truncation error stays below one Q48 ulp.
func expDecayFactor(elapsed, halflife int64) (*uint256.Int, error) {
	if halflife <= 0 {
		return nil, ErrZeroDivision
	}
	if elapsed <= 0 {
		return new(uint256.Int).Set(One), nil
	}

	whole := uint64(elapsed / halflife)
	rem := uint64(elapsed % halflife)

	// One is 2^48; anything shifted past that is zero and the remainder
	// factor can only shrink it further.
	if whole > RateScale+1 {
		return new(uint256.Int), nil
	}
	factor := new(uint256.Int).Rsh(One, uint(whole))
	if rem == 0 || factor.IsZero() {
		return factor, nil
	}

	// y = (rem/halflife) * ln2 in Q48, 0 < y < ln2.
	y, err := mulDivFloor(ln2Q48, uint256.NewInt(rem), uint256.NewInt(uint64(halflife)))
	if err != nil {
		return nil, err
	}

	// e^y by Taylor series: sum_{n} y^n / n!.
	sum := new(uint256.Int).Set(One)
	term := new(uint256.Int).Set(One)
	for n := uint64(1); n <= 32; n++ {
		denom := new(uint256.Int).Mul(One, uint256.NewInt(n))
		term, err = mulDivFloor(term, y, denom)
		if err != nil {
			return nil, err
		}
		if term.IsZero() {
			break
		}
		sum.Add(sum, term)
	}

	// factor *= 1/e^y, i.e. factor*One/sum.
	return mulDivFloor(factor, One, sum)
}

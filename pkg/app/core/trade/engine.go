package trade

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/core/curve"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/core/strategy"
)

var (
	ErrNoTradeActions        = errors.New("trade: trade actions must be non-empty")
	ErrInsufficientLiquidity = errors.New("trade: no liquidity available for the requested actions")
	ErrGreaterThanLimit      = errors.New("trade: realized amount exceeds the caller's ceiling")
	ErrLowerThanLimit        = errors.New("trade: realized amount falls below the caller's floor")
)

// ppmDenom is the parts-per-million fee denominator.
const ppmDenom = 1_000_000

// Direction states whether a trade's amounts denote the taker's input
// (BySource) or the taker's desired output (ByTarget).
type Direction uint8

const (
	BySource Direction = iota
	ByTarget
)

func (d Direction) String() string {
	switch d {
	case BySource:
		return "BySource"
	case ByTarget:
		return "ByTarget"
	default:
		return "Unknown"
	}
}

// Action is a caller's request to consume up to Amount from one strategy's
// matching-direction order. Amounts are source units for BySource trades and
// target units for ByTarget trades.
type Action struct {
	StrategyID uint64       `json:"strategyId"`
	Amount     *uint256.Int `json:"amount"`
}

// Fill records what one action drew from one strategy.
type Fill struct {
	StrategyID   uint64         `json:"strategyId"`
	Owner        common.Address `json:"owner"`
	SourceAmount *uint256.Int   `json:"sourceAmount"` // credited to the strategy owner
	TargetAmount *uint256.Int   `json:"targetAmount"` // drawn from the order
	Fee          *uint256.Int   `json:"fee"`          // protocol fee attributable to this fill
}

// Fees carries the PPM fee rates per pricing-model kind.
type Fees struct {
	StaticPPM   uint32
	GradientPPM uint32
}

func (f Fees) forKind(k strategy.Kind) uint64 {
	if k == strategy.KindGradient {
		return uint64(f.GradientPPM)
	}
	return uint64(f.StaticPPM)
}

// Result is the aggregate outcome of a matched trade.
//
// SourceAmount is everything the taker pays (fee included for ByTarget
// trades); TargetAmount is everything the taker receives (fee already
// deducted for BySource trades). The fee is charged in FeeToken: the target
// token for BySource trades and the source token for ByTarget trades.
type Result struct {
	SourceAmount *uint256.Int
	TargetAmount *uint256.Int
	FeeAmount    *uint256.Int
	FeeToken     common.Address
	Fills        []Fill
	Updated      []*strategy.Strategy
}

// Source resolves strategy snapshots for the engine. The repository's Get
// satisfies it; the engine never mutates repository state directly.
type Source interface {
	Get(id uint64) (*strategy.Strategy, bool)
}

// Match walks the trade actions in caller order and computes the aggregate
// fill. The engine does no re-sorting: the caller is responsible for
// rate-optimal ordering. Per action it evaluates the marginal rate at the
// order's present liquidity, caps the fill at what the order still holds, and
// moves on; an action against a depleted, expired, or deleted strategy
// contributes nothing. Only a trade where nothing at all fills fails with
// ErrInsufficientLiquidity.
//
// Match is pure with respect to the repository: all mutation happens on
// private clones returned in Result.Updated, which the caller commits (or
// discards wholesale on a failed limit check).
func Match(
	book Source,
	sourceToken, targetToken common.Address,
	dir Direction,
	actions []Action,
	totalAmount, limitAmount *uint256.Int,
	now int64,
	fees Fees,
) (*Result, error) {
	if len(actions) == 0 {
		return nil, ErrNoTradeActions
	}

	working := make(map[uint64]*strategy.Strategy)
	res := &Result{
		SourceAmount: new(uint256.Int),
		TargetAmount: new(uint256.Int),
		FeeAmount:    new(uint256.Int),
	}
	grossTarget := new(uint256.Int)

	for _, action := range actions {
		if action.Amount == nil || action.Amount.IsZero() {
			continue
		}

		st, ok := working[action.StrategyID]
		if !ok {
			live, found := book.Get(action.StrategyID)
			if !found {
				// Deleted or never-allocated id: contributes nothing.
				continue
			}
			st = live.Clone()
		}

		if !pairMatches(st, sourceToken, targetToken) {
			return nil, strategy.ErrInvalidToken
		}

		rate, available, err := quote(st, targetToken, now)
		if err != nil {
			return nil, err
		}
		if rate == nil || available.IsZero() {
			continue
		}

		fill, err := fillAction(st, dir, action.Amount, rate, available, fees)
		if err != nil {
			return nil, err
		}
		if fill == nil {
			continue
		}

		if err := consume(st, targetToken, fill.TargetAmount); err != nil {
			return nil, err
		}
		if _, tracked := working[action.StrategyID]; !tracked {
			working[action.StrategyID] = st
			res.Updated = append(res.Updated, st)
		}

		res.Fills = append(res.Fills, *fill)
		grossTarget.Add(grossTarget, fill.TargetAmount)
		res.FeeAmount.Add(res.FeeAmount, fill.Fee)
		if dir == BySource {
			res.SourceAmount.Add(res.SourceAmount, fill.SourceAmount)
		} else {
			// Taker pays principal plus the grossed-up fee.
			res.SourceAmount.Add(res.SourceAmount, fill.SourceAmount)
			res.SourceAmount.Add(res.SourceAmount, fill.Fee)
		}
	}

	if grossTarget.IsZero() {
		return nil, ErrInsufficientLiquidity
	}

	switch dir {
	case BySource:
		// Fee comes off the taker's output.
		res.FeeToken = targetToken
		res.TargetAmount.Sub(grossTarget, res.FeeAmount)
		if totalAmount != nil && res.SourceAmount.Gt(totalAmount) {
			return nil, ErrGreaterThanLimit
		}
		if limitAmount != nil && res.TargetAmount.Lt(limitAmount) {
			return nil, ErrLowerThanLimit
		}
	case ByTarget:
		// Fee is grossed onto the taker's input.
		res.FeeToken = sourceToken
		res.TargetAmount.Set(grossTarget)
		if totalAmount != nil && res.TargetAmount.Gt(totalAmount) {
			return nil, ErrGreaterThanLimit
		}
		if limitAmount != nil && res.SourceAmount.Gt(limitAmount) {
			return nil, ErrGreaterThanLimit
		}
	}
	return res, nil
}

func pairMatches(st *strategy.Strategy, sourceToken, targetToken common.Address) bool {
	return (st.Token0 == sourceToken && st.Token1 == targetToken) ||
		(st.Token0 == targetToken && st.Token1 == sourceToken)
}

// quote returns the marginal rate and remaining liquidity of the strategy's
// order selling targetToken, or (nil, zero) when the strategy has nothing to
// offer in that direction right now.
func quote(st *strategy.Strategy, targetToken common.Address, now int64) (*uint256.Int, *uint256.Int, error) {
	switch st.Kind {
	case strategy.KindStatic:
		ord := st.OrderSelling(targetToken)
		if !ord.Active() || ord.Available.IsZero() {
			return nil, new(uint256.Int), nil
		}
		rate, err := ord.RateAt(ord.Available)
		if err != nil {
			return nil, nil, err
		}
		return rate, ord.Available, nil

	case strategy.KindGradient:
		// A gradient order sells Token1 only.
		if targetToken != st.Token1 || !st.Gradient.ActiveAt(now) {
			return nil, new(uint256.Int), nil
		}
		rate, err := st.Gradient.RateAt(now)
		if err != nil {
			return nil, nil, err
		}
		return rate, st.Gradient.TargetAmount, nil

	default:
		return nil, new(uint256.Int), nil
	}
}

// fillAction computes one action's fill at the given rate, capped at the
// order's remaining liquidity. Returns nil when the action rounds to nothing.
func fillAction(st *strategy.Strategy, dir Direction, amount, rate, available *uint256.Int, fees Fees) (*Fill, error) {
	ppm := fees.forKind(st.Kind)

	var source, target *uint256.Int
	var err error

	switch dir {
	case BySource:
		if target, err = curve.TargetForSource(rate, amount); err != nil {
			return nil, err
		}
		if target.Gt(available) {
			target = new(uint256.Int).Set(available)
		}
		if target.IsZero() {
			return nil, nil
		}
		if source, err = curve.SourceForTarget(rate, target); err != nil {
			return nil, err
		}
		fee, err := feeOn(target, ppm)
		if err != nil {
			return nil, err
		}
		return &Fill{
			StrategyID:   st.ID,
			Owner:        st.Owner,
			SourceAmount: source,
			TargetAmount: target,
			Fee:          fee,
		}, nil

	case ByTarget:
		target = new(uint256.Int).Set(amount)
		if target.Gt(available) {
			target.Set(available)
		}
		if source, err = curve.SourceForTarget(rate, target); err != nil {
			return nil, err
		}
		fee, err := feeGrossUp(source, ppm)
		if err != nil {
			return nil, err
		}
		return &Fill{
			StrategyID:   st.ID,
			Owner:        st.Owner,
			SourceAmount: source,
			TargetAmount: target,
			Fee:          fee,
		}, nil
	}
	return nil, nil
}

// feeOn returns ceil(amount * ppm / 1e6): the protocol's cut of an output
// amount, rounded in the protocol's favor.
func feeOn(amount *uint256.Int, ppm uint64) (*uint256.Int, error) {
	if ppm == 0 {
		return new(uint256.Int), nil
	}
	fee := new(uint256.Int)
	if _, overflow := fee.MulDivOverflow(amount, uint256.NewInt(ppm), uint256.NewInt(ppmDenom)); overflow {
		return nil, curve.ErrRateOverflow
	}
	if !new(uint256.Int).MulMod(amount, uint256.NewInt(ppm), uint256.NewInt(ppmDenom)).IsZero() {
		fee.AddUint64(fee, 1)
	}
	return fee, nil
}

// feeGrossUp returns the extra source the taker must pay so the owner still
// receives the full principal after the fee: ceil(src*1e6/(1e6-ppm)) - src.
func feeGrossUp(source *uint256.Int, ppm uint64) (*uint256.Int, error) {
	if ppm == 0 {
		return new(uint256.Int), nil
	}
	net := uint256.NewInt(ppmDenom - ppm)
	gross := new(uint256.Int)
	if _, overflow := gross.MulDivOverflow(source, uint256.NewInt(ppmDenom), net); overflow {
		return nil, curve.ErrRateOverflow
	}
	if !new(uint256.Int).MulMod(source, uint256.NewInt(ppmDenom), net).IsZero() {
		gross.AddUint64(gross, 1)
	}
	return gross.Sub(gross, source), nil
}

// consume draws the filled target amount out of the working copy.
func consume(st *strategy.Strategy, targetToken common.Address, target *uint256.Int) error {
	switch st.Kind {
	case strategy.KindStatic:
		return st.OrderSelling(targetToken).Consume(target)
	case strategy.KindGradient:
		return st.Gradient.Consume(target)
	}
	return nil
}

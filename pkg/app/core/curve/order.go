package curve

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	ErrInvalidOrder   = errors.New("curve: invalid order parameters")
	ErrOrderDepleted  = errors.New("curve: order has no remaining liquidity")
	ErrOrderInactive  = errors.New("curve: order is inactive")
	ErrInvalidRate    = errors.New("curve: invalid rate bounds")
	ErrUnderfunded    = errors.New("curve: available exceeds capacity")
	ErrAmountOverflow = errors.New("curve: amount exceeds order liquidity range")
)

// Order is one side of a static strategy: a liquidity position whose marginal
// rate climbs linearly from RateLow to RateHigh as the position is consumed.
//
// Available is the remaining tradeable liquidity denominated in the order's
// output token; Capacity is the position's full size. An order with zero
// Capacity is inactive and is never selected for matching.
type Order struct {
	Available *uint256.Int `json:"available"`
	Capacity  *uint256.Int `json:"capacity"`
	RateLow   *uint256.Int `json:"rateLow"`  // Q48, rate at full liquidity
	RateHigh  *uint256.Int `json:"rateHigh"` // Q48, rate at depletion
}

// NewOrder builds a fully liquid order (Available == Capacity).
func NewOrder(capacity, rateLow, rateHigh *uint256.Int) *Order {
	return &Order{
		Available: new(uint256.Int).Set(capacity),
		Capacity:  new(uint256.Int).Set(capacity),
		RateLow:   new(uint256.Int).Set(rateLow),
		RateHigh:  new(uint256.Int).Set(rateHigh),
	}
}

// Validate enforces the order invariants: available <= capacity, a nonzero
// rate, and rateHigh >= rateLow so the marginal rate never falls as liquidity
// depletes.
func (o *Order) Validate() error {
	if o == nil || o.Available == nil || o.Capacity == nil || o.RateLow == nil || o.RateHigh == nil {
		return ErrInvalidOrder
	}
	if o.Available.Gt(o.Capacity) {
		return ErrUnderfunded
	}
	if !o.Capacity.IsZero() {
		if o.RateLow.IsZero() {
			return ErrInvalidRate
		}
		if o.RateHigh.Lt(o.RateLow) {
			return ErrInvalidRate
		}
	}
	return nil
}

// Active reports whether the order can be selected for matching at all.
func (o *Order) Active() bool {
	return o != nil && o.Capacity != nil && !o.Capacity.IsZero()
}

// RateAt evaluates the marginal Q48 rate with the given liquidity remaining:
// RateLow at available == capacity, RateHigh at available == 0, linearly
// interpolated in between. The interpolated term rounds up so the evaluated
// rate never undercuts the curve.
func (o *Order) RateAt(available *uint256.Int) (*uint256.Int, error) {
	if !o.Active() {
		return nil, ErrOrderInactive
	}
	if available.Gt(o.Capacity) {
		return nil, ErrUnderfunded
	}
	spread := new(uint256.Int).Sub(o.RateHigh, o.RateLow)
	if spread.IsZero() {
		return new(uint256.Int).Set(o.RateLow), nil
	}
	consumed := new(uint256.Int).Sub(o.Capacity, available)
	step, err := mulDivCeil(spread, consumed, o.Capacity)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Add(o.RateLow, step), nil
}

// Consume draws the given target amount out of the order. The caller is
// responsible for capping the amount at Available first; drawing past it is a
// programming error surfaced as ErrAmountOverflow rather than a wrapped value.
func (o *Order) Consume(target *uint256.Int) error {
	if target.Gt(o.Available) {
		return ErrAmountOverflow
	}
	o.Available.Sub(o.Available, target)
	return nil
}

// Equal reports exact field equality. The repository uses it for the
// expected-state check on update.
func (o *Order) Equal(other *Order) bool {
	if o == nil || other == nil {
		return o == other
	}
	return o.Available.Eq(other.Available) &&
		o.Capacity.Eq(other.Capacity) &&
		o.RateLow.Eq(other.RateLow) &&
		o.RateHigh.Eq(other.RateHigh)
}

// Clone returns a deep copy safe for speculative mutation.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	return &Order{
		Available: new(uint256.Int).Set(o.Available),
		Capacity:  new(uint256.Int).Set(o.Capacity),
		RateLow:   new(uint256.Int).Set(o.RateLow),
		RateHigh:  new(uint256.Int).Set(o.RateHigh),
	}
}

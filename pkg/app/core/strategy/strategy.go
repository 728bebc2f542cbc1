package strategy

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/core/curve"
)

var (
	ErrInvalidAddress    = errors.New("strategy: zero address where a token or account is required")
	ErrTokensIdentical   = errors.New("strategy: pair tokens are identical")
	ErrInvalidToken      = errors.New("strategy: token does not belong to a known pair")
	ErrPairAlreadyExists = errors.New("strategy: pair already exists")
	ErrOutdatedOrder     = errors.New("strategy: expected orders do not match live state")
	ErrStrategyNotFound  = errors.New("strategy: strategy not found")
	ErrAccessDenied      = errors.New("strategy: caller is not the strategy owner")
	ErrKindMismatch      = errors.New("strategy: pricing model kind cannot change")
)

// Kind tags a strategy's pricing model.
type Kind uint8

const (
	KindStatic   Kind = iota // two static orders, one per direction
	KindGradient             // one time-parameterized gradient order
)

func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "Static"
	case KindGradient:
		return "Gradient"
	default:
		return "Unknown"
	}
}

// Strategy is a liquidity position between a fixed, ordered token pair.
//
// A static strategy carries two orders: Orders[0] holds Token0 liquidity
// (sold when a taker trades Token1 into Token0) and Orders[1] holds Token1
// liquidity. A gradient strategy carries a single gradient order selling
// Token1 liquidity for Token0 along its time curve.
type Strategy struct {
	ID     uint64         `json:"id"`
	Owner  common.Address `json:"owner"`
	Token0 common.Address `json:"token0"`
	Token1 common.Address `json:"token1"`
	Kind   Kind           `json:"kind"`

	Orders   [2]*curve.Order      `json:"orders,omitempty"`
	Gradient *curve.GradientOrder `json:"gradient,omitempty"`
}

// OrderSet is the mutable half of a strategy: the orders without identity.
// Update calls pass the set the caller expects to see and the set it wants.
type OrderSet struct {
	Orders   [2]*curve.Order      `json:"orders,omitempty"`
	Gradient *curve.GradientOrder `json:"gradient,omitempty"`
}

// Validate checks identity and order invariants for the strategy's kind.
func (s *Strategy) Validate() error {
	if s.Owner == (common.Address{}) || s.Token0 == (common.Address{}) || s.Token1 == (common.Address{}) {
		return ErrInvalidAddress
	}
	if s.Token0 == s.Token1 {
		return ErrTokensIdentical
	}
	switch s.Kind {
	case KindStatic:
		if s.Orders[0] == nil || s.Orders[1] == nil || s.Gradient != nil {
			return curve.ErrInvalidOrder
		}
		for _, o := range s.Orders {
			if err := o.Validate(); err != nil {
				return err
			}
		}
	case KindGradient:
		if s.Gradient == nil || s.Orders[0] != nil || s.Orders[1] != nil {
			return curve.ErrInvalidOrder
		}
		if err := s.Gradient.Validate(); err != nil {
			return err
		}
	default:
		return curve.ErrInvalidOrder
	}
	return nil
}

// OrderSelling returns the static order holding liquidity in the given token,
// or nil if the token is not part of the pair or the strategy is gradient.
func (s *Strategy) OrderSelling(token common.Address) *curve.Order {
	if s.Kind != KindStatic {
		return nil
	}
	switch token {
	case s.Token0:
		return s.Orders[0]
	case s.Token1:
		return s.Orders[1]
	default:
		return nil
	}
}

// Set returns the strategy's orders as an OrderSet (no copy).
func (s *Strategy) Set() OrderSet {
	return OrderSet{Orders: s.Orders, Gradient: s.Gradient}
}

// Matches reports whether the live strategy orders equal the expected set
// exactly. Any drift, including fills since the caller last read the
// strategy, fails the comparison.
func (s *Strategy) Matches(expected OrderSet) bool {
	switch s.Kind {
	case KindStatic:
		return s.Orders[0].Equal(expected.Orders[0]) && s.Orders[1].Equal(expected.Orders[1])
	case KindGradient:
		return s.Gradient.Equal(expected.Gradient)
	default:
		return false
	}
}

// Clone returns a deep copy safe for speculative mutation.
func (s *Strategy) Clone() *Strategy {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Orders[0] = s.Orders[0].Clone()
	cp.Orders[1] = s.Orders[1].Clone()
	cp.Gradient = s.Gradient.Clone()
	return &cp
}

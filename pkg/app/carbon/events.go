package carbon

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/core/strategy"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/core/trade"
)

type StrategyEventType string

const (
	StrategyCreated StrategyEventType = "created"
	StrategyUpdated StrategyEventType = "updated"
	StrategyDeleted StrategyEventType = "deleted"
)

// StrategyEvent fires after a strategy mutation commits.
type StrategyEvent struct {
	Type      StrategyEventType  `json:"type"`
	Strategy  *strategy.Strategy `json:"strategy"`
	Timestamp int64              `json:"timestamp"`
}

// TradeEvent fires after a trade settles.
type TradeEvent struct {
	Seq         uint64         `json:"seq"`
	Taker       common.Address `json:"taker"`
	SourceToken common.Address `json:"sourceToken"`
	TargetToken common.Address `json:"targetToken"`
	ByTarget    bool           `json:"byTarget"`

	SourceAmount *uint256.Int `json:"sourceAmount"`
	TargetAmount *uint256.Int `json:"targetAmount"`
	FeeToken     common.Address `json:"feeToken"`
	FeeAmount    *uint256.Int   `json:"feeAmount"`

	Fills     []trade.Fill `json:"fills"`
	Timestamp int64        `json:"timestamp"`
}

// OnTrade registers a hook invoked after each settled trade. Hooks run
// synchronously under the venue lock; keep them fast and hand off to a
// channel for anything slow.
func (a *App) OnTrade(fn func(TradeEvent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onTrade = append(a.onTrade, fn)
}

// OnStrategy registers a hook invoked after each strategy mutation.
func (a *App) OnStrategy(fn func(StrategyEvent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onStrategy = append(a.onStrategy, fn)
}

func (a *App) emitTrade(ev TradeEvent) {
	for _, fn := range a.onTrade {
		fn(ev)
	}
}

func (a *App) emitStrategy(ev StrategyEvent) {
	for _, fn := range a.onStrategy {
		fn(ev)
	}
}

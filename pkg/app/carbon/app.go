package carbon

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/core/strategy"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/core/trade"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/core/vault"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/storage"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/util"
)

var (
	ErrPaused           = errors.New("carbon: venue is paused")
	ErrAccessDenied     = errors.New("carbon: caller lacks the required role")
	ErrUnknownDelegator = errors.New("carbon: caller is not an approved delegator for the taker")
	ErrDeadlineExpired  = errors.New("carbon: trade deadline has passed")
	ErrInvalidFee       = errors.New("carbon: fee must be below one million PPM")
)

// Config wires the venue's stores, identity, and fee schedule.
type Config struct {
	StrategyDB string
	VaultDB    string
	JournalDB  string

	Admin common.Address
	Fees  trade.Fees

	Logger *zap.Logger
	Clock  util.Clock
}

// App is the venue controller. It owns every mutation path: strategy
// lifecycle, vault movements, and trade settlement all pass through its
// single lock, so one invocation runs at a time and each either fully
// commits or leaves no trace.
//
// The matching engine works on snapshots and the controller settles in
// checks-effects-interactions order: funding is verified first, order deltas
// persist next, ledger movements last.
type App struct {
	mu sync.Mutex

	strategies *strategy.Manager
	vault      *vault.Vault
	journal    *storage.Journal

	log   *zap.Logger
	clock util.Clock

	admin      common.Address
	delegators map[common.Address]bool
	fees       trade.Fees
	paused     bool

	onTrade    []func(TradeEvent)
	onStrategy []func(StrategyEvent)
}

// NewApp opens the venue's stores and builds the controller.
func NewApp(cfg Config) (*App, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}

	strategies, err := strategy.NewManager(cfg.StrategyDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open strategy repository: %w", err)
	}
	vlt, err := vault.NewVault(cfg.VaultDB)
	if err != nil {
		strategies.Close()
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}

	var journal *storage.Journal
	if cfg.JournalDB != "" {
		if journal, err = storage.OpenJournal(cfg.JournalDB); err != nil {
			strategies.Close()
			vlt.Close()
			return nil, fmt.Errorf("failed to open trade journal: %w", err)
		}
	}

	return &App{
		strategies: strategies,
		vault:      vlt,
		journal:    journal,
		log:        cfg.Logger,
		clock:      cfg.Clock,
		admin:      cfg.Admin,
		delegators: make(map[common.Address]bool),
		fees:       cfg.Fees,
	}, nil
}

// Close closes every store.
func (a *App) Close() error {
	var first error
	for _, closer := range []func() error{a.strategies.Close, a.vault.Close} {
		if err := closer(); err != nil && first == nil {
			first = err
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ----------------------------------------------------------------------------
// Admin surface
// ----------------------------------------------------------------------------

// Pause halts trading and strategy mutations. Vault deposits and withdrawals
// stay open so funds are never trapped.
func (a *App) Pause(caller common.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if caller != a.admin {
		return ErrAccessDenied
	}
	a.paused = true
	a.log.Warn("venue paused", zap.String("by", caller.Hex()))
	return nil
}

func (a *App) Unpause(caller common.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if caller != a.admin {
		return ErrAccessDenied
	}
	a.paused = false
	a.log.Info("venue unpaused", zap.String("by", caller.Hex()))
	return nil
}

// SetTradingFee replaces the PPM fee schedule.
func (a *App) SetTradingFee(caller common.Address, fees trade.Fees) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if caller != a.admin {
		return ErrAccessDenied
	}
	if fees.StaticPPM >= 1_000_000 || fees.GradientPPM >= 1_000_000 {
		return ErrInvalidFee
	}
	a.log.Info("fee schedule updated",
		zap.Uint32("staticPPM", fees.StaticPPM),
		zap.Uint32("gradientPPM", fees.GradientPPM))
	a.fees = fees
	return nil
}

// SetDelegator grants or revokes a router's right to trade on behalf of
// takers.
func (a *App) SetDelegator(caller, router common.Address, allowed bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if caller != a.admin {
		return ErrAccessDenied
	}
	a.delegators[router] = allowed
	return nil
}

// WithdrawFees drains the accumulated protocol fees for a token into the
// recipient's vault balance.
func (a *App) WithdrawFees(caller, token, recipient common.Address) (*uint256.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if caller != a.admin {
		return nil, ErrAccessDenied
	}
	moved, err := a.vault.WithdrawFees(token, recipient)
	if err != nil {
		return nil, err
	}
	a.log.Info("protocol fees withdrawn",
		zap.String("token", token.Hex()),
		zap.String("recipient", recipient.Hex()),
		zap.String("amount", moved.Dec()))
	return moved, nil
}

// AccumulatedFees reports the protocol fees collected in the given token.
func (a *App) AccumulatedFees(token common.Address) (*uint256.Int, error) {
	return a.vault.AccumulatedFees(token)
}

// ----------------------------------------------------------------------------
// Vault surface
// ----------------------------------------------------------------------------

func (a *App) Deposit(account, token common.Address, amount *uint256.Int) error {
	return a.vault.Deposit(account, token, amount)
}

func (a *App) Withdraw(account, token common.Address, amount *uint256.Int) error {
	return a.vault.Withdraw(account, token, amount)
}

func (a *App) BalanceOf(account, token common.Address) *uint256.Int {
	return a.vault.BalanceOf(account, token)
}

// ----------------------------------------------------------------------------
// Strategy lifecycle
// ----------------------------------------------------------------------------

// CreatePair registers a token pair for trading.
func (a *App) CreatePair(token0, token1 common.Address) (strategy.Pair, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.paused {
		return strategy.Pair{}, ErrPaused
	}
	p, err := a.strategies.CreatePair(token0, token1)
	if err != nil {
		return strategy.Pair{}, err
	}
	a.log.Info("pair created",
		zap.String("token0", p.Token0.Hex()),
		zap.String("token1", p.Token1.Hex()))
	return p, nil
}

// Pairs lists every registered pair.
func (a *App) Pairs() []strategy.Pair { return a.strategies.Pairs() }

// CreateStrategy funds a new strategy out of the owner's vault balances and
// registers it. The owner must hold the full initial liquidity on both sides.
func (a *App) CreateStrategy(owner, token0, token1 common.Address, kind strategy.Kind, set strategy.OrderSet) (*strategy.Strategy, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.paused {
		return nil, ErrPaused
	}

	fund0, fund1 := liquidityOf(kind, set)
	if err := a.vault.Withdraw(owner, token0, fund0); err != nil {
		return nil, err
	}
	if err := a.vault.Withdraw(owner, token1, fund1); err != nil {
		// Undo the first leg; the owner keeps their token0 balance.
		if derr := a.vault.Deposit(owner, token0, fund0); derr != nil {
			a.log.Error("failed to restore token0 funding", zap.Error(derr))
		}
		return nil, err
	}

	st, err := a.strategies.Create(owner, token0, token1, kind, set)
	if err != nil {
		for token, amount := range map[common.Address]*uint256.Int{token0: fund0, token1: fund1} {
			if derr := a.vault.Deposit(owner, token, amount); derr != nil {
				a.log.Error("failed to restore funding", zap.Error(derr))
			}
		}
		return nil, err
	}

	a.log.Info("strategy created",
		zap.Uint64("id", st.ID),
		zap.String("owner", owner.Hex()),
		zap.String("kind", kind.String()))
	a.emitStrategy(StrategyEvent{Type: StrategyCreated, Strategy: st, Timestamp: a.clock.Now().Unix()})
	return st, nil
}

// GetStrategy returns a snapshot of one strategy.
func (a *App) GetStrategy(id uint64) (*strategy.Strategy, bool) {
	return a.strategies.Get(id)
}

// ListStrategies returns snapshots of all live strategies in id order.
func (a *App) ListStrategies() []*strategy.Strategy {
	return a.strategies.List()
}

// UpdateStrategy replaces a strategy's orders wholesale against the exact
// state the caller last observed. Liquidity added is debited from the owner's
// vault balance up front; liquidity removed is credited back.
func (a *App) UpdateStrategy(caller common.Address, id uint64, current, next strategy.OrderSet) (*strategy.Strategy, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.paused {
		return nil, ErrPaused
	}

	live, ok := a.strategies.Get(id)
	if !ok {
		return nil, strategy.ErrStrategyNotFound
	}

	// Funding is checked before the repository mutates so a rejected delta
	// leaves both the strategy and the ledger untouched.
	add0, sub0 := liquidityDelta(live.Kind, current, next, 0)
	add1, sub1 := liquidityDelta(live.Kind, current, next, 1)
	if a.vault.BalanceOf(caller, live.Token0).Lt(add0) ||
		a.vault.BalanceOf(caller, live.Token1).Lt(add1) {
		return nil, vault.ErrInsufficientBalance
	}

	_, updated, err := a.strategies.Update(caller, id, current, next)
	if err != nil {
		return nil, err
	}

	for _, leg := range []struct {
		token    common.Address
		add, sub *uint256.Int
	}{
		{live.Token0, add0, sub0},
		{live.Token1, add1, sub1},
	} {
		if !leg.add.IsZero() {
			if err := a.vault.Withdraw(caller, leg.token, leg.add); err != nil {
				a.log.Error("funding debit failed after update", zap.Error(err))
				return nil, err
			}
		}
		if !leg.sub.IsZero() {
			if err := a.vault.Deposit(caller, leg.token, leg.sub); err != nil {
				a.log.Error("refund credit failed after update", zap.Error(err))
				return nil, err
			}
		}
	}

	a.emitStrategy(StrategyEvent{Type: StrategyUpdated, Strategy: updated, Timestamp: a.clock.Now().Unix()})
	return updated, nil
}

// DeleteStrategy retires the strategy and refunds its remaining liquidity to
// the owner's vault balances.
func (a *App) DeleteStrategy(caller common.Address, id uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.paused {
		return ErrPaused
	}

	live, ok := a.strategies.Get(id)
	if !ok {
		return strategy.ErrStrategyNotFound
	}
	refund0, refund1, err := a.strategies.Delete(caller, id)
	if err != nil {
		return err
	}
	if !refund0.IsZero() {
		if err := a.vault.Deposit(caller, live.Token0, refund0); err != nil {
			return err
		}
	}
	if !refund1.IsZero() {
		if err := a.vault.Deposit(caller, live.Token1, refund1); err != nil {
			return err
		}
	}

	a.log.Info("strategy deleted",
		zap.Uint64("id", id),
		zap.String("refund0", refund0.Dec()),
		zap.String("refund1", refund1.Dec()))
	a.emitStrategy(StrategyEvent{Type: StrategyDeleted, Strategy: live, Timestamp: a.clock.Now().Unix()})
	return nil
}

// ----------------------------------------------------------------------------
// Trading
// ----------------------------------------------------------------------------

// TradeBySourceAmount spends the taker's source tokens across the given
// actions. minReturn is the floor on the taker's net output; a nil floor
// disables the check. Callers trading for someone else must be approved
// delegators.
func (a *App) TradeBySourceAmount(caller, taker, sourceToken, targetToken common.Address, actions []trade.Action, deadline int64, minReturn *uint256.Int) (*TradeEvent, error) {
	return a.trade(caller, taker, sourceToken, targetToken, trade.BySource, actions, deadline, minReturn)
}

// TradeByTargetAmount acquires a fixed target amount across the given
// actions. maxInput is the ceiling on what the taker pays, fee included.
func (a *App) TradeByTargetAmount(caller, taker, sourceToken, targetToken common.Address, actions []trade.Action, deadline int64, maxInput *uint256.Int) (*TradeEvent, error) {
	return a.trade(caller, taker, sourceToken, targetToken, trade.ByTarget, actions, deadline, maxInput)
}

func (a *App) trade(caller, taker, sourceToken, targetToken common.Address, dir trade.Direction, actions []trade.Action, deadline int64, limit *uint256.Int) (*TradeEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.paused {
		return nil, ErrPaused
	}
	if caller != taker && !a.delegators[caller] {
		return nil, ErrUnknownDelegator
	}

	now := a.clock.Now().Unix()
	if deadline != 0 && now > deadline {
		return nil, ErrDeadlineExpired
	}

	res, err := trade.Match(a.strategies, sourceToken, targetToken, dir, actions, nil, limit, now, a.fees)
	if err != nil {
		return nil, err
	}

	// Funding check before any state moves.
	if a.vault.BalanceOf(taker, sourceToken).Lt(res.SourceAmount) {
		return nil, vault.ErrInsufficientBalance
	}

	// Order deltas first: a taker must never receive output the curves did
	// not release.
	if err := a.strategies.ApplyTrade(res.Updated); err != nil {
		return nil, fmt.Errorf("failed to apply order deltas: %w", err)
	}

	credits := make(map[common.Address]*uint256.Int)
	for _, f := range res.Fills {
		if cur, ok := credits[f.Owner]; ok {
			cur.Add(cur, f.SourceAmount)
		} else {
			credits[f.Owner] = new(uint256.Int).Set(f.SourceAmount)
		}
	}
	if err := a.vault.Settle(vault.Settlement{
		Taker:         taker,
		SourceToken:   sourceToken,
		TargetToken:   targetToken,
		TakerPays:     res.SourceAmount,
		TakerReceives: res.TargetAmount,
		OwnerCredits:  credits,
		FeeToken:      res.FeeToken,
		FeeAmount:     res.FeeAmount,
	}); err != nil {
		// The deltas are already durable; a ledger failure here is a venue
		// halt condition, not something to paper over.
		a.log.Error("settlement failed after order deltas committed", zap.Error(err))
		return nil, err
	}

	ev := TradeEvent{
		Taker:        taker,
		SourceToken:  sourceToken,
		TargetToken:  targetToken,
		ByTarget:     dir == trade.ByTarget,
		SourceAmount: res.SourceAmount,
		TargetAmount: res.TargetAmount,
		FeeToken:     res.FeeToken,
		FeeAmount:    res.FeeAmount,
		Fills:        res.Fills,
		Timestamp:    now,
	}
	if a.journal != nil {
		rec := RecordOf(ev)
		seq, err := a.journal.Append(rec)
		if err != nil {
			a.log.Error("failed to journal trade", zap.Error(err))
		} else {
			ev.Seq = seq
		}
	}

	a.log.Info("trade settled",
		zap.String("taker", taker.Hex()),
		zap.String("direction", dir.String()),
		zap.String("source", res.SourceAmount.Dec()),
		zap.String("target", res.TargetAmount.Dec()),
		zap.String("fee", res.FeeAmount.Dec()),
		zap.Int("fills", len(res.Fills)))
	a.emitTrade(ev)
	return &ev, nil
}

// RecentTrades returns the latest n journaled trades, oldest first. Returns
// nil when the venue runs without a journal.
func (a *App) RecentTrades(n uint64) ([]*storage.TradeRecord, error) {
	if a.journal == nil {
		return nil, nil
	}
	return a.journal.Recent(n)
}

// RecordOf converts a settled trade event into its durable record form, for
// journaling and for replication to peer nodes.
func RecordOf(ev TradeEvent) *storage.TradeRecord {
	fills := make([]storage.FillRecord, 0, len(ev.Fills))
	for _, f := range ev.Fills {
		fills = append(fills, storage.FillRecord{
			StrategyID:   f.StrategyID,
			Owner:        f.Owner,
			SourceAmount: f.SourceAmount,
			TargetAmount: f.TargetAmount,
			Fee:          f.Fee,
		})
	}
	return &storage.TradeRecord{
		Seq:          ev.Seq,
		Timestamp:    ev.Timestamp,
		Taker:        ev.Taker,
		SourceToken:  ev.SourceToken,
		TargetToken:  ev.TargetToken,
		ByTarget:     ev.ByTarget,
		SourceAmount: ev.SourceAmount,
		TargetAmount: ev.TargetAmount,
		FeeToken:     ev.FeeToken,
		FeeAmount:    ev.FeeAmount,
		Fills:        fills,
	}
}

// liquidityOf returns the funding a fresh order set requires per token side.
func liquidityOf(kind strategy.Kind, set strategy.OrderSet) (fund0, fund1 *uint256.Int) {
	fund0, fund1 = new(uint256.Int), new(uint256.Int)
	switch kind {
	case strategy.KindStatic:
		if set.Orders[0] != nil && set.Orders[0].Available != nil {
			fund0.Set(set.Orders[0].Available)
		}
		if set.Orders[1] != nil && set.Orders[1].Available != nil {
			fund1.Set(set.Orders[1].Available)
		}
	case strategy.KindGradient:
		if set.Gradient != nil && set.Gradient.TargetAmount != nil {
			fund1.Set(set.Gradient.TargetAmount)
		}
	}
	return fund0, fund1
}

// liquidityDelta compares one token side between the expected and replacement
// sets and returns how much the owner must add or gets back.
func liquidityDelta(kind strategy.Kind, current, next strategy.OrderSet, side int) (add, sub *uint256.Int) {
	cur := sideLiquidity(kind, current, side)
	nxt := sideLiquidity(kind, next, side)
	add, sub = new(uint256.Int), new(uint256.Int)
	if nxt.Gt(cur) {
		add.Sub(nxt, cur)
	} else {
		sub.Sub(cur, nxt)
	}
	return add, sub
}

func sideLiquidity(kind strategy.Kind, set strategy.OrderSet, side int) *uint256.Int {
	switch kind {
	case strategy.KindStatic:
		if set.Orders[side] != nil && set.Orders[side].Available != nil {
			return set.Orders[side].Available
		}
	case strategy.KindGradient:
		if side == 1 && set.Gradient != nil && set.Gradient.TargetAmount != nil {
			return set.Gradient.TargetAmount
		}
	}
	return new(uint256.Int)
}

package vault

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInvalidAddress      = errors.New("vault: zero address where a token or account is required")
	ErrInsufficientBalance = errors.New("vault: insufficient balance")
)

// NativeToken is the sentinel address representing the chain's native asset
// in balance and fee records.
var NativeToken = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// Vault is the venue's internal ledger. It tracks per-account token balances
// (deposits, strategy refunds, trade proceeds) and the protocol's accumulated
// fees per token. Nothing leaves the venue except through an explicit
// Withdraw or WithdrawFees.
//
// Uses in-memory cache + Pebble persistence, mirroring the strategy
// repository. All amounts are owned by the vault: callers get copies.
type Vault struct {
	mu       sync.RWMutex
	balances map[common.Address]map[common.Address]*uint256.Int // token -> account -> amount
	fees     map[common.Address]*uint256.Int                    // token -> accumulated fees
	store    *Store
}

// NewVault opens the ledger at the given path and loads balances and fee
// accumulators.
func NewVault(dbPath string) (*Vault, error) {
	store, err := NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	balances, err := store.LoadBalances()
	if err != nil {
		return nil, err
	}
	fees, err := store.LoadFees()
	if err != nil {
		return nil, err
	}
	return &Vault{balances: balances, fees: fees, store: store}, nil
}

// Close closes the underlying Pebble database.
func (v *Vault) Close() error {
	return v.store.Close()
}

// BalanceOf returns the account's balance in the given token.
func (v *Vault) BalanceOf(account, token common.Address) *uint256.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return new(uint256.Int).Set(v.balance(token, account))
}

// Deposit credits the account. Used for external deposits and for strategy
// refunds and trade proceeds routed by the controller.
func (v *Vault) Deposit(account, token common.Address, amount *uint256.Int) error {
	if account == (common.Address{}) || token == (common.Address{}) {
		return ErrInvalidAddress
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	next := new(uint256.Int).Add(v.balance(token, account), amount)
	if err := v.store.SaveBalance(token, account, next); err != nil {
		return err
	}
	v.setBalance(token, account, next)
	return nil
}

// Withdraw debits the account, failing with ErrInsufficientBalance when the
// balance does not cover the amount.
func (v *Vault) Withdraw(account, token common.Address, amount *uint256.Int) error {
	if account == (common.Address{}) || token == (common.Address{}) {
		return ErrInvalidAddress
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	bal := v.balance(token, account)
	if bal.Lt(amount) {
		return ErrInsufficientBalance
	}
	next := new(uint256.Int).Sub(bal, amount)
	if err := v.store.SaveBalance(token, account, next); err != nil {
		return err
	}
	v.setBalance(token, account, next)
	return nil
}

// Settlement describes a trade's ledger movements: the taker pays
// SourceToken, each strategy owner receives their share, the taker receives
// TargetToken, and the protocol fee accrues.
type Settlement struct {
	Taker       common.Address
	SourceToken common.Address
	TargetToken common.Address

	TakerPays     *uint256.Int // debited from the taker in SourceToken
	TakerReceives *uint256.Int // credited to the taker in TargetToken

	OwnerCredits map[common.Address]*uint256.Int // SourceToken credits per strategy owner

	FeeToken  common.Address
	FeeAmount *uint256.Int
}

// Settle validates funding, stages every balance movement, and commits them
// in one batch.
func (v *Vault) Settle(s Settlement) error {
	if s.Taker == (common.Address{}) {
		return ErrInvalidAddress
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	takerSource := v.balance(s.SourceToken, s.Taker)
	if takerSource.Lt(s.TakerPays) {
		return ErrInsufficientBalance
	}

	// Stage the next value of every touched record.
	pending := map[common.Address]map[common.Address]*uint256.Int{
		s.SourceToken: {s.Taker: new(uint256.Int).Sub(takerSource, s.TakerPays)},
	}
	stage := func(token, account common.Address, delta *uint256.Int) {
		if pending[token] == nil {
			pending[token] = make(map[common.Address]*uint256.Int)
		}
		cur, ok := pending[token][account]
		if !ok {
			cur = new(uint256.Int).Set(v.balance(token, account))
		}
		pending[token][account] = cur.Add(cur, delta)
	}

	for owner, credit := range s.OwnerCredits {
		stage(s.SourceToken, owner, credit)
	}
	stage(s.TargetToken, s.Taker, s.TakerReceives)

	pendingFees := map[common.Address]*uint256.Int{}
	if s.FeeAmount != nil && !s.FeeAmount.IsZero() {
		pendingFees[s.FeeToken] = new(uint256.Int).Add(v.fee(s.FeeToken), s.FeeAmount)
	}

	if err := v.store.SaveSettlement(pending, pendingFees); err != nil {
		return err
	}

	for token, accounts := range pending {
		for account, amount := range accounts {
			v.setBalance(token, account, amount)
		}
	}
	for token, amount := range pendingFees {
		v.fees[token] = amount
	}
	return nil
}

// AccumulatedFees returns the protocol fees collected in the given token.
// The zero address is rejected; never-traded tokens report zero.
func (v *Vault) AccumulatedFees(token common.Address) (*uint256.Int, error) {
	if token == (common.Address{}) {
		return nil, ErrInvalidAddress
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	return new(uint256.Int).Set(v.fee(token)), nil
}

// WithdrawFees moves the full accumulated fee balance for the token into the
// recipient's vault balance and resets the accumulator. Returns the amount
// moved; withdrawing an empty accumulator moves zero and is not an error.
func (v *Vault) WithdrawFees(token, recipient common.Address) (*uint256.Int, error) {
	if token == (common.Address{}) || recipient == (common.Address{}) {
		return nil, ErrInvalidAddress
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	amount := new(uint256.Int).Set(v.fee(token))
	if amount.IsZero() {
		return amount, nil
	}

	next := new(uint256.Int).Add(v.balance(token, recipient), amount)
	pending := map[common.Address]map[common.Address]*uint256.Int{
		token: {recipient: next},
	}
	if err := v.store.SaveSettlement(pending, map[common.Address]*uint256.Int{token: new(uint256.Int)}); err != nil {
		return nil, err
	}
	v.setBalance(token, recipient, next)
	v.fees[token] = new(uint256.Int)
	return amount, nil
}

// balance returns the live balance record, zero if absent. Caller holds the
// lock.
func (v *Vault) balance(token, account common.Address) *uint256.Int {
	if accounts, ok := v.balances[token]; ok {
		if bal, ok := accounts[account]; ok {
			return bal
		}
	}
	return new(uint256.Int)
}

func (v *Vault) setBalance(token, account common.Address, amount *uint256.Int) {
	if v.balances[token] == nil {
		v.balances[token] = make(map[common.Address]*uint256.Int)
	}
	v.balances[token][account] = amount
}

func (v *Vault) fee(token common.Address) *uint256.Int {
	if f, ok := v.fees[token]; ok {
		return f
	}
	return new(uint256.Int)
}

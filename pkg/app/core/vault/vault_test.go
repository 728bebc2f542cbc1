package vault

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	alice  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob    = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := NewVault(t.TempDir())
	if err != nil {
		t.Fatalf("NewVault() error = %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v
}

func TestDepositWithdraw(t *testing.T) {
	v := newTestVault(t)

	if err := v.Deposit(alice, tokenA, uint256.NewInt(100)); err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	if got := v.BalanceOf(alice, tokenA).Uint64(); got != 100 {
		t.Errorf("BalanceOf = %d, want 100", got)
	}

	if err := v.Withdraw(alice, tokenA, uint256.NewInt(30)); err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	if got := v.BalanceOf(alice, tokenA).Uint64(); got != 70 {
		t.Errorf("BalanceOf after withdraw = %d, want 70", got)
	}

	if err := v.Withdraw(alice, tokenA, uint256.NewInt(1000)); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("overdraw error = %v, want ErrInsufficientBalance", err)
	}
	if err := v.Withdraw(alice, common.Address{}, uint256.NewInt(1)); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("zero token error = %v, want ErrInvalidAddress", err)
	}
}

func TestSettle(t *testing.T) {
	v := newTestVault(t)

	if err := v.Deposit(alice, tokenA, uint256.NewInt(1000)); err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}

	err := v.Settle(Settlement{
		Taker:         alice,
		SourceToken:   tokenA,
		TargetToken:   tokenB,
		TakerPays:     uint256.NewInt(500),
		TakerReceives: uint256.NewInt(498),
		OwnerCredits:  map[common.Address]*uint256.Int{bob: uint256.NewInt(500)},
		FeeToken:      tokenB,
		FeeAmount:     uint256.NewInt(2),
	})
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}

	if got := v.BalanceOf(alice, tokenA).Uint64(); got != 500 {
		t.Errorf("taker source balance = %d, want 500", got)
	}
	if got := v.BalanceOf(alice, tokenB).Uint64(); got != 498 {
		t.Errorf("taker target balance = %d, want 498", got)
	}
	if got := v.BalanceOf(bob, tokenA).Uint64(); got != 500 {
		t.Errorf("owner credit = %d, want 500", got)
	}
	fees, err := v.AccumulatedFees(tokenB)
	if err != nil {
		t.Fatalf("AccumulatedFees() error = %v", err)
	}
	if got := fees.Uint64(); got != 2 {
		t.Errorf("accumulated fees = %d, want 2", got)
	}
}

func TestSettleUnderfundedTaker(t *testing.T) {
	v := newTestVault(t)

	err := v.Settle(Settlement{
		Taker:         alice,
		SourceToken:   tokenA,
		TargetToken:   tokenB,
		TakerPays:     uint256.NewInt(500),
		TakerReceives: uint256.NewInt(498),
		OwnerCredits:  map[common.Address]*uint256.Int{bob: uint256.NewInt(500)},
		FeeToken:      tokenB,
		FeeAmount:     uint256.NewInt(2),
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("Settle() error = %v, want ErrInsufficientBalance", err)
	}
	// Nothing moved.
	if got := v.BalanceOf(bob, tokenA).Uint64(); got != 0 {
		t.Errorf("owner credit after failed settle = %d, want 0", got)
	}
}

func TestAccumulatedFeesZeroToken(t *testing.T) {
	v := newTestVault(t)

	if _, err := v.AccumulatedFees(common.Address{}); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("AccumulatedFees(zero) error = %v, want ErrInvalidAddress", err)
	}
	fees, err := v.AccumulatedFees(NativeToken)
	if err != nil {
		t.Fatalf("AccumulatedFees(native) error = %v", err)
	}
	if !fees.IsZero() {
		t.Errorf("fees for untraded token = %s, want 0", fees)
	}
}

func TestWithdrawFees(t *testing.T) {
	v := newTestVault(t)

	if err := v.Deposit(alice, tokenA, uint256.NewInt(1000)); err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	err := v.Settle(Settlement{
		Taker:         alice,
		SourceToken:   tokenA,
		TargetToken:   tokenB,
		TakerPays:     uint256.NewInt(100),
		TakerReceives: uint256.NewInt(95),
		OwnerCredits:  map[common.Address]*uint256.Int{bob: uint256.NewInt(100)},
		FeeToken:      tokenB,
		FeeAmount:     uint256.NewInt(5),
	})
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}

	moved, err := v.WithdrawFees(tokenB, bob)
	if err != nil {
		t.Fatalf("WithdrawFees() error = %v", err)
	}
	if got := moved.Uint64(); got != 5 {
		t.Errorf("moved = %d, want 5", got)
	}
	if got := v.BalanceOf(bob, tokenB).Uint64(); got != 5 {
		t.Errorf("recipient balance = %d, want 5", got)
	}
	fees, _ := v.AccumulatedFees(tokenB)
	if !fees.IsZero() {
		t.Errorf("accumulator after withdraw = %s, want 0", fees)
	}

	// Draining an empty accumulator is a no-op, not an error.
	moved, err = v.WithdrawFees(tokenB, bob)
	if err != nil || !moved.IsZero() {
		t.Errorf("second WithdrawFees() = (%s, %v), want (0, nil)", moved, err)
	}
}

func TestVaultReload(t *testing.T) {
	dir := t.TempDir()

	v, err := NewVault(dir)
	if err != nil {
		t.Fatalf("NewVault() error = %v", err)
	}
	if err := v.Deposit(alice, tokenA, uint256.NewInt(42)); err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	v2, err := NewVault(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer v2.Close()

	if got := v2.BalanceOf(alice, tokenA).Uint64(); got != 42 {
		t.Errorf("balance after reload = %d, want 42", got)
	}
}

package strategy

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestNewPair(t *testing.T) {
	tests := []struct {
		name    string
		token0  common.Address
		token1  common.Address
		wantErr error
	}{
		{name: "valid", token0: tokenA, token1: tokenB},
		{name: "reversed still valid", token0: tokenB, token1: tokenA},
		{name: "identical tokens", token0: tokenA, token1: tokenA, wantErr: ErrTokensIdentical},
		{name: "zero token0", token0: common.Address{}, token1: tokenB, wantErr: ErrInvalidAddress},
		{name: "zero token1", token0: tokenA, token1: common.Address{}, wantErr: ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPair(tt.token0, tt.token1)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewPair() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPairRegistry(t *testing.T) {
	r := NewPairRegistry()

	ab, err := NewPair(tokenA, tokenB)
	if err != nil {
		t.Fatalf("NewPair() error = %v", err)
	}
	if err := r.Register(ab); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Registering the flipped orientation hits the same canonical slot.
	ba, _ := NewPair(tokenB, tokenA)
	if err := r.Register(ba); !errors.Is(err, ErrPairAlreadyExists) {
		t.Errorf("flipped Register() error = %v, want ErrPairAlreadyExists", err)
	}

	if !r.Contains(tokenA, tokenB) || !r.Contains(tokenB, tokenA) {
		t.Error("Contains() must hold for both orientations")
	}
	if r.Contains(tokenA, tokenC) {
		t.Error("Contains() true for unregistered pair")
	}

	bc, _ := NewPair(tokenB, tokenC)
	if err := r.Register(bc); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if got := r.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}
	if got := len(r.List()); got != 2 {
		t.Errorf("len(List()) = %d, want 2", got)
	}
}

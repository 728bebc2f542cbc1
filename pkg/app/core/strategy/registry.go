package strategy

import (
	"bytes"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Pair is a fixed, ordered token pair. A pair must be registered once before
// any strategy can quote it; registration is direction-agnostic (A/B and B/A
// are the same pair).
type Pair struct {
	Token0 common.Address `json:"token0"`
	Token1 common.Address `json:"token1"`
}

// NewPair validates the two tokens and returns the pair as given.
func NewPair(token0, token1 common.Address) (Pair, error) {
	if token0 == (common.Address{}) || token1 == (common.Address{}) {
		return Pair{}, ErrInvalidAddress
	}
	if token0 == token1 {
		return Pair{}, ErrTokensIdentical
	}
	return Pair{Token0: token0, Token1: token1}, nil
}

// canonical returns the pair key with the lower address first, so both
// orientations map to one registry entry.
func (p Pair) canonical() string {
	a, b := p.Token0, p.Token1
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		a, b = b, a
	}
	return a.Hex() + ":" + b.Hex()
}

// PairRegistry tracks the known pairs in a thread-safe manner.
type PairRegistry struct {
	mu    sync.RWMutex
	pairs map[string]Pair
}

func NewPairRegistry() *PairRegistry {
	return &PairRegistry{pairs: make(map[string]Pair)}
}

// Register adds a pair. Returns ErrPairAlreadyExists if either orientation of
// the pair is already known.
func (r *PairRegistry) Register(p Pair) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := p.canonical()
	if _, exists := r.pairs[key]; exists {
		return ErrPairAlreadyExists
	}
	r.pairs[key] = p
	return nil
}

// Contains reports whether the pair is registered, in either orientation.
func (r *PairRegistry) Contains(token0, token1 common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pairs[Pair{Token0: token0, Token1: token1}.canonical()]
	return ok
}

// List returns all registered pairs sorted by canonical key.
func (r *PairRegistry) List() []Pair {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.pairs))
	for k := range r.pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]Pair, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, r.pairs[k])
	}
	return pairs
}

// Count returns the number of registered pairs.
func (r *PairRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pairs)
}

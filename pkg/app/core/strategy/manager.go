package strategy

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/core/curve"
)

// Manager is the strategy repository: it exclusively owns all order state.
// The matching engine only reads snapshots and proposes deltas; the manager
// applies accepted deltas atomically per trade invocation.
//
// Uses in-memory cache + Pebble persistence for durability. Strategy ids come
// from a monotonic counter that is persisted alongside the repository and is
// never reset or reused.
type Manager struct {
	mu         sync.RWMutex
	strategies map[uint64]*Strategy
	pairs      *PairRegistry
	nextID     uint64
	store      *Store
}

// NewManager opens the repository at the given path and loads pairs,
// strategies, and the id counter.
func NewManager(dbPath string) (*Manager, error) {
	store, err := NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	m := &Manager{
		strategies: make(map[uint64]*Strategy),
		pairs:      NewPairRegistry(),
		store:      store,
	}

	pairs, err := store.LoadPairs()
	if err != nil {
		return nil, err
	}
	for _, p := range pairs {
		if err := m.pairs.Register(p); err != nil {
			return nil, err
		}
	}

	sts, err := store.LoadStrategies()
	if err != nil {
		return nil, err
	}
	for _, st := range sts {
		m.strategies[st.ID] = st
	}

	if m.nextID, err = store.LoadSeq(); err != nil {
		return nil, err
	}
	return m, nil
}

// Close closes the underlying Pebble database.
func (m *Manager) Close() error {
	return m.store.Close()
}

// CreatePair registers a token pair. Both tokens must be distinct and
// nonzero; either orientation of an existing pair is a duplicate.
func (m *Manager) CreatePair(token0, token1 common.Address) (Pair, error) {
	p, err := NewPair(token0, token1)
	if err != nil {
		return Pair{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.pairs.Register(p); err != nil {
		return Pair{}, err
	}
	if err := m.store.SavePair(p); err != nil {
		return Pair{}, err
	}
	return p, nil
}

// Pairs returns all registered pairs.
func (m *Manager) Pairs() []Pair {
	return m.pairs.List()
}

// HasPair reports whether the pair is known, in either orientation.
func (m *Manager) HasPair(token0, token1 common.Address) bool {
	return m.pairs.Contains(token0, token1)
}

// Create allocates a new strategy id and stores the strategy. The pair must
// have been created beforehand.
func (m *Manager) Create(owner, token0, token1 common.Address, kind Kind, set OrderSet) (*Strategy, error) {
	st := &Strategy{
		Owner:    owner,
		Token0:   token0,
		Token1:   token1,
		Kind:     kind,
		Orders:   [2]*curve.Order{set.Orders[0].Clone(), set.Orders[1].Clone()},
		Gradient: set.Gradient.Clone(),
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}
	if !m.pairs.Contains(token0, token1) {
		return nil, ErrInvalidToken
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	st.ID = m.nextID

	if err := m.store.SaveSeq(m.nextID); err != nil {
		m.nextID--
		return nil, err
	}
	if err := m.store.SaveStrategy(st); err != nil {
		return nil, err
	}
	m.strategies[st.ID] = st
	return st.Clone(), nil
}

// Get returns a deep copy of the strategy, or false if the id was never
// allocated or has been deleted.
func (m *Manager) Get(id uint64) (*Strategy, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.strategies[id]
	if !ok {
		return nil, false
	}
	return st.Clone(), true
}

// List returns deep copies of all live strategies in id order.
func (m *Manager) List() []*Strategy {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Strategy, 0, len(m.strategies))
	for id := uint64(1); id <= m.nextID; id++ {
		if st, ok := m.strategies[id]; ok {
			out = append(out, st.Clone())
		}
	}
	return out
}

// Update replaces the strategy's orders wholesale. The caller supplies the
// orders it expects to see; any mismatch with live state fails hard with
// ErrOutdatedOrder and mutates nothing; the caller must re-read and resubmit.
// Returns the previous state so the caller can settle liquidity deltas.
func (m *Manager) Update(caller common.Address, id uint64, current, next OrderSet) (prev, updated *Strategy, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.strategies[id]
	if !ok {
		return nil, nil, ErrStrategyNotFound
	}
	if st.Owner != caller {
		return nil, nil, ErrAccessDenied
	}
	if !st.Matches(current) {
		return nil, nil, ErrOutdatedOrder
	}
	if (next.Gradient != nil) != (st.Kind == KindGradient) {
		return nil, nil, ErrKindMismatch
	}

	replacement := &Strategy{
		ID:       st.ID,
		Owner:    st.Owner,
		Token0:   st.Token0,
		Token1:   st.Token1,
		Kind:     st.Kind,
		Orders:   [2]*curve.Order{next.Orders[0].Clone(), next.Orders[1].Clone()},
		Gradient: next.Gradient.Clone(),
	}
	if err := replacement.Validate(); err != nil {
		return nil, nil, err
	}

	if err := m.store.SaveStrategy(replacement); err != nil {
		return nil, nil, err
	}
	prev = st
	m.strategies[id] = replacement
	return prev, replacement.Clone(), nil
}

// Delete removes the strategy and reports the liquidity to refund per token
// side. The id is never matched or reassigned again.
func (m *Manager) Delete(caller common.Address, id uint64) (refund0, refund1 *uint256.Int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.strategies[id]
	if !ok {
		return nil, nil, ErrStrategyNotFound
	}
	if st.Owner != caller {
		return nil, nil, ErrAccessDenied
	}

	switch st.Kind {
	case KindStatic:
		refund0 = new(uint256.Int).Set(st.Orders[0].Available)
		refund1 = new(uint256.Int).Set(st.Orders[1].Available)
	case KindGradient:
		refund0 = new(uint256.Int)
		refund1 = new(uint256.Int).Set(st.Gradient.TargetAmount)
	}

	if err := m.store.DeleteStrategy(id); err != nil {
		return nil, nil, err
	}
	delete(m.strategies, id)
	return refund0, refund1, nil
}

// ApplyTrade commits the order deltas proposed by the matching engine. The
// snapshots must descend from this repository's state; available amounts only
// ever shrink here.
func (m *Manager) ApplyTrade(updated []*Strategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, st := range updated {
		live, ok := m.strategies[st.ID]
		if !ok {
			return ErrStrategyNotFound
		}
		if err := checkDepletion(live, st); err != nil {
			return err
		}
	}
	if err := m.store.SaveStrategies(updated); err != nil {
		return err
	}
	for _, st := range updated {
		m.strategies[st.ID] = st
	}
	return nil
}

// checkDepletion enforces the monotonic-depletion invariant before a trade
// delta is accepted.
func checkDepletion(live, next *Strategy) error {
	switch live.Kind {
	case KindStatic:
		for i := range live.Orders {
			if next.Orders[i].Available.Gt(live.Orders[i].Available) {
				return curve.ErrAmountOverflow
			}
		}
	case KindGradient:
		if next.Gradient.TargetAmount.Gt(live.Gradient.TargetAmount) {
			return curve.ErrAmountOverflow
		}
	}
	return nil
}

package strategy

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Store provides Pebble-based persistence for strategies, pairs, and the id
// counter. Thread-safe: all operations go through the Manager's mutex.
type Store struct {
	db *pebble.DB
}

// NewStore opens a Pebble database at the given path.
func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(64 << 20),
		MemTableSize:          32 << 20,
		L0CompactionThreshold: 2,
		MaxOpenFiles:          1000,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveStrategy persists one strategy.
func (s *Store) SaveStrategy(st *Strategy) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal strategy %d: %w", st.ID, err)
	}
	if err := s.db.Set(strategyKey(st.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save strategy %d: %w", st.ID, err)
	}
	return nil
}

// SaveStrategies persists a set of strategies in one atomic batch. Used after
// a trade so either every touched order commits or none do.
func (s *Store) SaveStrategies(sts []*Strategy) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, st := range sts {
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("failed to marshal strategy %d: %w", st.ID, err)
		}
		if err := batch.Set(strategyKey(st.ID), data, nil); err != nil {
			return fmt.Errorf("failed to stage strategy %d: %w", st.ID, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit strategy batch: %w", err)
	}
	return nil
}

// DeleteStrategy removes a strategy record. The id counter is never rewound,
// so the id stays permanently retired.
func (s *Store) DeleteStrategy(id uint64) error {
	if err := s.db.Delete(strategyKey(id), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete strategy %d: %w", id, err)
	}
	return nil
}

// LoadStrategies walks the strategy prefix and returns every stored strategy.
func (s *Store) LoadStrategies() ([]*Strategy, error) {
	prefix := []byte(prefixStrategy)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open strategy iterator: %w", err)
	}
	defer iter.Close()

	var out []*Strategy
	for iter.First(); iter.Valid(); iter.Next() {
		var st Strategy
		if err := json.Unmarshal(iter.Value(), &st); err != nil {
			return nil, fmt.Errorf("failed to unmarshal strategy at %s: %w", iter.Key(), err)
		}
		out = append(out, &st)
	}
	return out, iter.Error()
}

// SavePair persists a registered pair.
func (s *Store) SavePair(p Pair) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pair: %w", err)
	}
	if err := s.db.Set(pairKey(p.canonical()), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save pair: %w", err)
	}
	return nil
}

// LoadPairs returns every registered pair.
func (s *Store) LoadPairs() ([]Pair, error) {
	prefix := []byte(prefixPair)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open pair iterator: %w", err)
	}
	defer iter.Close()

	var out []Pair
	for iter.First(); iter.Valid(); iter.Next() {
		var p Pair
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pair at %s: %w", iter.Key(), err)
		}
		out = append(out, p)
	}
	return out, iter.Error()
}

// SaveSeq persists the strategy id counter.
func (s *Store) SaveSeq(seq uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	if err := s.db.Set([]byte(keySeq), buf[:], pebble.Sync); err != nil {
		return fmt.Errorf("failed to save id counter: %w", err)
	}
	return nil
}

// LoadSeq returns the persisted id counter, or zero if none exists.
func (s *Store) LoadSeq() (uint64, error) {
	data, closer, err := s.db.Get([]byte(keySeq))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load id counter: %w", err)
	}
	defer closer.Close()

	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt id counter record: %d bytes", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

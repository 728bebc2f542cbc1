package vault

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Store provides Pebble-based persistence for the vault ledger. Balances and
// fee accumulators are stored as 32-byte big-endian values so records are
// fixed-width and comparable on disk.
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

// SaveBalance persists one account's balance in one token. A zero balance is
// written rather than deleted so the account's history of holding the token
// stays visible in the keyspace.
func (s *Store) SaveBalance(token, account common.Address, amount *uint256.Int) error {
	val := amount.Bytes32()
	if err := s.db.Set(balanceKey(token, account), val[:], pebble.Sync); err != nil {
		return fmt.Errorf("failed to save balance %s/%s: %w", token.Hex(), account.Hex(), err)
	}
	return nil
}

// SaveFee persists a token's accumulated protocol fees.
func (s *Store) SaveFee(token common.Address, amount *uint256.Int) error {
	val := amount.Bytes32()
	if err := s.db.Set(feeKey(token), val[:], pebble.Sync); err != nil {
		return fmt.Errorf("failed to save fee accumulator %s: %w", token.Hex(), err)
	}
	return nil
}

// SaveSettlement writes a group of balance and fee records in one atomic
// batch. Used when a trade settles so the taker debit, owner credits, and fee
// accrual land together.
func (s *Store) SaveSettlement(balances map[common.Address]map[common.Address]*uint256.Int, fees map[common.Address]*uint256.Int) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for token, accounts := range balances {
		for account, amount := range accounts {
			val := amount.Bytes32()
			if err := batch.Set(balanceKey(token, account), val[:], nil); err != nil {
				return fmt.Errorf("failed to stage balance %s/%s: %w", token.Hex(), account.Hex(), err)
			}
		}
	}
	for token, amount := range fees {
		val := amount.Bytes32()
		if err := batch.Set(feeKey(token), val[:], nil); err != nil {
			return fmt.Errorf("failed to stage fee accumulator %s: %w", token.Hex(), err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit settlement batch: %w", err)
	}
	return nil
}

// LoadBalances walks the balance prefix and rebuilds the token -> account ->
// amount map.
func (s *Store) LoadBalances() (map[common.Address]map[common.Address]*uint256.Int, error) {
	prefix := []byte(prefixBalance)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open balance iterator: %w", err)
	}
	defer iter.Close()

	out := make(map[common.Address]map[common.Address]*uint256.Int)
	for iter.First(); iter.Valid(); iter.Next() {
		parts := strings.Split(strings.TrimPrefix(string(iter.Key()), prefixBalance), ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("corrupt balance key: %s", iter.Key())
		}
		token := common.HexToAddress(parts[0])
		account := common.HexToAddress(parts[1])

		amount := new(uint256.Int).SetBytes(iter.Value())
		if out[token] == nil {
			out[token] = make(map[common.Address]*uint256.Int)
		}
		out[token][account] = amount
	}
	return out, iter.Error()
}

// LoadFees walks the fee prefix and rebuilds the per-token fee accumulators.
func (s *Store) LoadFees() (map[common.Address]*uint256.Int, error) {
	prefix := []byte(prefixFee)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open fee iterator: %w", err)
	}
	defer iter.Close()

	out := make(map[common.Address]*uint256.Int)
	for iter.First(); iter.Valid(); iter.Next() {
		token := common.HexToAddress(strings.TrimPrefix(string(iter.Key()), prefixFee))
		out[token] = new(uint256.Int).SetBytes(iter.Value())
	}
	return out, iter.Error()
}

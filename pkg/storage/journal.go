package storage

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// FillRecord is one strategy's contribution to a journaled trade.
type FillRecord struct {
	StrategyID   uint64
	Owner        common.Address
	SourceAmount *uint256.Int
	TargetAmount *uint256.Int
	Fee          *uint256.Int
}

// TradeRecord is the durable record of one executed trade. Seq is assigned by
// the journal on append and is strictly increasing.
type TradeRecord struct {
	Seq       uint64
	Timestamp int64

	Taker       common.Address
	SourceToken common.Address
	TargetToken common.Address
	ByTarget    bool

	SourceAmount *uint256.Int
	TargetAmount *uint256.Int
	FeeToken     common.Address
	FeeAmount    *uint256.Int

	Fills []FillRecord
}

// Journal is an append-only trade log on Pebble. Records are gob-encoded
// under big-endian sequence keys so an iterator walks them in execution
// order. The venue appends after a trade settles; readers replay or tail.
type Journal struct {
	mu   sync.Mutex
	db   *pebble.DB
	next uint64
}

// keys: t:<8-byte-seq>, seq:trade
func kTrade(seq uint64) []byte { return append([]byte("t:"), seqKey(seq)...) }
func kTradeSeq() []byte        { return []byte("seq:trade") }

// OpenJournal opens (or creates) the journal at the given path and recovers
// the sequence counter.
func OpenJournal(path string) (*Journal, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open trade journal at %s: %w", path, err)
	}

	j := &Journal{db: db}
	val, closer, err := db.Get(kTradeSeq())
	switch err {
	case nil:
		j.next = binary.BigEndian.Uint64(val)
		closer.Close()
	case pebble.ErrNotFound:
	default:
		db.Close()
		return nil, fmt.Errorf("failed to recover journal sequence: %w", err)
	}
	return j, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error { return j.db.Close() }

// Append assigns the next sequence number and persists the record. The record
// and counter land in one batch so a crash never skips or repeats a sequence.
func (j *Journal) Append(rec *TradeRecord) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec.Seq = j.next + 1
	val, err := encodeGob(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to encode trade record: %w", err)
	}

	batch := j.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(kTrade(rec.Seq), val, nil); err != nil {
		return 0, fmt.Errorf("failed to stage trade record: %w", err)
	}
	if err := batch.Set(kTradeSeq(), seqKey(rec.Seq), nil); err != nil {
		return 0, fmt.Errorf("failed to stage journal sequence: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to commit trade record: %w", err)
	}
	j.next = rec.Seq
	return rec.Seq, nil
}

// Len returns the number of records appended so far.
func (j *Journal) Len() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.next
}

// Range returns records with from <= Seq <= to, in sequence order.
func (j *Journal) Range(from, to uint64) ([]*TradeRecord, error) {
	if from == 0 {
		from = 1
	}
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: kTrade(from),
		UpperBound: kTrade(to + 1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal iterator: %w", err)
	}
	defer iter.Close()

	var out []*TradeRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec TradeRecord
		if err := decodeGob(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("corrupt trade record at seq %x: %w", iter.Key(), err)
		}
		out = append(out, &rec)
	}
	return out, iter.Error()
}

// Recent returns the latest n records, oldest first.
func (j *Journal) Recent(n uint64) ([]*TradeRecord, error) {
	j.mu.Lock()
	last := j.next
	j.mu.Unlock()

	if last == 0 || n == 0 {
		return nil, nil
	}
	from := uint64(1)
	if last > n {
		from = last - n + 1
	}
	return j.Range(from, last)
}

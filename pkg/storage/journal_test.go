package storage

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func record(taker byte) *TradeRecord {
	return &TradeRecord{
		Timestamp:    1700000000,
		Taker:        common.BytesToAddress([]byte{taker}),
		SourceToken:  common.BytesToAddress([]byte{0xaa}),
		TargetToken:  common.BytesToAddress([]byte{0xbb}),
		SourceAmount: uint256.NewInt(100),
		TargetAmount: uint256.NewInt(98),
		FeeToken:     common.BytesToAddress([]byte{0xbb}),
		FeeAmount:    uint256.NewInt(2),
		Fills: []FillRecord{{
			StrategyID:   1,
			Owner:        common.BytesToAddress([]byte{0x11}),
			SourceAmount: uint256.NewInt(100),
			TargetAmount: uint256.NewInt(100),
			Fee:          uint256.NewInt(2),
		}},
	}
}

func TestJournalAppendAndRange(t *testing.T) {
	j, err := OpenJournal(t.TempDir())
	if err != nil {
		t.Fatalf("OpenJournal() error = %v", err)
	}
	defer j.Close()

	for i := byte(1); i <= 5; i++ {
		seq, err := j.Append(record(i))
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if seq != uint64(i) {
			t.Errorf("seq = %d, want %d", seq, i)
		}
	}
	if got := j.Len(); got != 5 {
		t.Errorf("Len() = %d, want 5", got)
	}

	recs, err := j.Range(2, 4)
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if len(recs) != 3 || recs[0].Seq != 2 || recs[2].Seq != 4 {
		t.Fatalf("Range(2,4) returned %d records, first/last = %d/%d", len(recs), recs[0].Seq, recs[len(recs)-1].Seq)
	}
	if got := recs[0].SourceAmount.Uint64(); got != 100 {
		t.Errorf("decoded SourceAmount = %d, want 100", got)
	}
	if len(recs[0].Fills) != 1 || recs[0].Fills[0].StrategyID != 1 {
		t.Errorf("fills did not round-trip: %+v", recs[0].Fills)
	}
}

func TestJournalRecent(t *testing.T) {
	j, err := OpenJournal(t.TempDir())
	if err != nil {
		t.Fatalf("OpenJournal() error = %v", err)
	}
	defer j.Close()

	recs, err := j.Recent(10)
	if err != nil || recs != nil {
		t.Fatalf("Recent() on empty journal = (%v, %v), want (nil, nil)", recs, err)
	}

	for i := byte(1); i <= 7; i++ {
		if _, err := j.Append(record(i)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	recs, err = j.Recent(3)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recs) != 3 || recs[0].Seq != 5 || recs[2].Seq != 7 {
		t.Fatalf("Recent(3) seqs wrong: %+v", recs)
	}
}

func TestJournalSequenceRecovery(t *testing.T) {
	dir := t.TempDir()

	j, err := OpenJournal(dir)
	if err != nil {
		t.Fatalf("OpenJournal() error = %v", err)
	}
	if _, err := j.Append(record(1)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	j2, err := OpenJournal(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer j2.Close()

	seq, err := j2.Append(record(2))
	if err != nil {
		t.Fatalf("Append() after reopen error = %v", err)
	}
	if seq != 2 {
		t.Errorf("seq after reopen = %d, want 2", seq)
	}
}

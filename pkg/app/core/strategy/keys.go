package strategy

import "fmt"

// Pebble key schema for the strategy repository.
//
// Strategy ids are zero-padded so lexicographic order equals numeric order
// and a prefix scan walks strategies in creation order.
const (
	prefixStrategy = "strat:" // strategy state
	prefixPair     = "pair:"  // registered pairs
	keySeq         = "seq:strategy"
)

// strategyKey returns the key for a strategy.
// Format: "strat:{020d}"
func strategyKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixStrategy, id))
}

// pairKey returns the key for a registered pair's canonical form.
// Format: "pair:{0xLow}:{0xHigh}"
func pairKey(canonical string) []byte {
	return []byte(prefixPair + canonical)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

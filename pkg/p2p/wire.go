package p2p

import (
	"bytes"
	"encoding/gob"
)

func init() {
	gob.Register(TradeWire{})
	gob.Register(StrategyWire{})
}

// TradeWire carries one executed trade between venue nodes.
type TradeWire struct {
	Record []byte // gob-encoded storage.TradeRecord
}

// StrategyWire carries one strategy lifecycle event.
type StrategyWire struct {
	Event    string // "created" | "updated" | "deleted"
	Strategy []byte // gob-encoded strategy.Strategy
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

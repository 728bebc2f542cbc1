package vault

import "github.com/ethereum/go-ethereum/common"

// Pebble key schema for the vault ledger.
const (
	prefixBalance = "bal:" // per account, per token balances
	prefixFee     = "fee:" // accumulated protocol fees per token
)

// balanceKey returns the key for one account's balance in one token.
// Format: "bal:{0xToken}:{0xAccount}"
func balanceKey(token, account common.Address) []byte {
	return []byte(prefixBalance + token.Hex() + ":" + account.Hex())
}

// feeKey returns the key for a token's accumulated protocol fees.
// Format: "fee:{0xToken}"
func feeKey(token common.Address) []byte {
	return []byte(prefixFee + token.Hex())
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

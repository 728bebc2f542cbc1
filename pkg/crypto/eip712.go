package crypto

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replay attacks across different chains/venues
type EIP712Domain struct {
	Name              string         // Protocol name (e.g., "Carbon")
	Version           string         // Protocol version (e.g., "1")
	ChainID           *big.Int       // Chain ID (1337 for local, 1 for mainnet)
	VerifyingContract common.Address // Contract address (or zero for off-chain)
}

// TradeEIP712 is the typed data a taker signs to authorize a trade
// submission. The per-strategy actions are folded into ActionsHash so wallets
// sign a fixed-size struct regardless of route length.
type TradeEIP712 struct {
	SourceToken common.Address
	TargetToken common.Address
	ByTarget    uint8        // 0 = amounts in source units, 1 = target units
	ActionsHash common.Hash  // HashActions over the ordered action list
	Limit       *uint256.Int // minReturn (by source) or maxInput (by target)
	Deadline    *big.Int     // Unix seconds, 0 = no expiry
	Nonce       *big.Int     // replay protection
	Owner       common.Address
}

// DeleteEIP712 is the typed data a strategy owner signs to retire a strategy.
type DeleteEIP712 struct {
	StrategyID uint64
	Nonce      *big.Int
	Owner      common.Address
}

// TradeAction mirrors one engine action for hashing purposes.
type TradeAction struct {
	StrategyID uint64
	Amount     *uint256.Int
}

// HashActions folds an ordered action list into one digest:
// keccak256 of the concatenated (id uint64 BE || amount 32-byte BE) records.
// Order matters; the engine consumes actions in exactly this order.
func HashActions(actions []TradeAction) common.Hash {
	buf := make([]byte, 0, len(actions)*40)
	for _, a := range actions {
		var id [8]byte
		binary.BigEndian.PutUint64(id[:], a.StrategyID)
		buf = append(buf, id[:]...)

		amount := a.Amount
		if amount == nil {
			amount = new(uint256.Int)
		}
		val := amount.Bytes32()
		buf = append(buf, val[:]...)
	}
	return crypto.Keccak256Hash(buf)
}

// EIP712Signer handles EIP-712 typed data signing for trade submissions
type EIP712Signer struct {
	domain EIP712Domain
}

// NewEIP712Signer creates a new EIP-712 signer with given domain
func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// DefaultDomain returns the default EIP-712 domain for the venue
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "Carbon",
		Version:           "1",
		ChainID:           big.NewInt(1337), // Local dev chain
		VerifyingContract: common.Address{}, // Zero address for off-chain signing
	}
}

var tradeTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Trade": []apitypes.Type{
		{Name: "sourceToken", Type: "address"},
		{Name: "targetToken", Type: "address"},
		{Name: "byTarget", Type: "uint8"},
		{Name: "actionsHash", Type: "bytes32"},
		{Name: "limit", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	},
}

func (e *EIP712Signer) tradeTypedData(trade *TradeEIP712) apitypes.TypedData {
	limit := trade.Limit
	if limit == nil {
		limit = new(uint256.Int)
	}
	return apitypes.TypedData{
		Types:       tradeTypes,
		PrimaryType: "Trade",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"sourceToken": trade.SourceToken.Hex(),
			"targetToken": trade.TargetToken.Hex(),
			"byTarget":    fmt.Sprintf("%d", trade.ByTarget),
			"actionsHash": trade.ActionsHash.Hex(),
			"limit":       limit.Dec(),
			"deadline":    trade.Deadline.String(),
			"nonce":       trade.Nonce.String(),
			"owner":       trade.Owner.Hex(),
		},
	}
}

// HashTrade hashes a trade submission according to EIP-712 spec
// Returns the digest that should be signed
func (e *EIP712Signer) HashTrade(trade *TradeEIP712) ([]byte, error) {
	return e.digest(e.tradeTypedData(trade))
}

func (e *EIP712Signer) digest(typedData apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// Final digest: keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

// SignTrade signs a trade submission and returns the signature
func (e *EIP712Signer) SignTrade(signer *Signer, trade *TradeEIP712) ([]byte, error) {
	hash, err := e.HashTrade(trade)
	if err != nil {
		return nil, fmt.Errorf("failed to hash trade: %w", err)
	}

	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign trade: %w", err)
	}
	return signature, nil
}

// VerifyTradeSignature verifies that a trade signature is valid
// Returns true if signature matches the trade and claimed owner
func (e *EIP712Signer) VerifyTradeSignature(trade *TradeEIP712, signature []byte) (bool, error) {
	hash, err := e.HashTrade(trade)
	if err != nil {
		return false, fmt.Errorf("failed to hash trade: %w", err)
	}

	recoveredAddr, err := RecoverAddress(hash, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}
	return recoveredAddr == trade.Owner, nil
}

// RecoverTradeSigner recovers the address that signed a trade
// Useful for extracting the taker from a signature without prior knowledge
func (e *EIP712Signer) RecoverTradeSigner(trade *TradeEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashTrade(trade)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash trade: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// TradeToJSON converts a trade submission to JSON for frontend/wallet signing
// MetaMask and other wallets use this format for eth_signTypedData_v4
func (e *EIP712Signer) TradeToJSON(trade *TradeEIP712) (string, error) {
	limit := trade.Limit
	if limit == nil {
		limit = new(uint256.Int)
	}
	typedData := map[string]interface{}{
		"types": map[string]interface{}{
			"EIP712Domain": []map[string]string{
				{"name": "name", "type": "string"},
				{"name": "version", "type": "string"},
				{"name": "chainId", "type": "uint256"},
				{"name": "verifyingContract", "type": "address"},
			},
			"Trade": []map[string]string{
				{"name": "sourceToken", "type": "address"},
				{"name": "targetToken", "type": "address"},
				{"name": "byTarget", "type": "uint8"},
				{"name": "actionsHash", "type": "bytes32"},
				{"name": "limit", "type": "uint256"},
				{"name": "deadline", "type": "uint256"},
				{"name": "nonce", "type": "uint256"},
				{"name": "owner", "type": "address"},
			},
		},
		"primaryType": "Trade",
		"domain": map[string]interface{}{
			"name":              e.domain.Name,
			"version":           e.domain.Version,
			"chainId":           e.domain.ChainID.String(),
			"verifyingContract": e.domain.VerifyingContract.Hex(),
		},
		"message": map[string]interface{}{
			"sourceToken": trade.SourceToken.Hex(),
			"targetToken": trade.TargetToken.Hex(),
			"byTarget":    trade.ByTarget,
			"actionsHash": trade.ActionsHash.Hex(),
			"limit":       limit.Dec(),
			"deadline":    trade.Deadline.String(),
			"nonce":       trade.Nonce.String(),
			"owner":       trade.Owner.Hex(),
		},
	}

	jsonBytes, err := json.MarshalIndent(typedData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}

// HashDelete hashes a strategy deletion request according to EIP-712 spec
func (e *EIP712Signer) HashDelete(del *DeleteEIP712) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"DeleteStrategy": []apitypes.Type{
				{Name: "strategyId", Type: "uint64"},
				{Name: "nonce", Type: "uint256"},
				{Name: "owner", Type: "address"},
			},
		},
		PrimaryType: "DeleteStrategy",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"strategyId": fmt.Sprintf("%d", del.StrategyID),
			"nonce":      del.Nonce.String(),
			"owner":      del.Owner.Hex(),
		},
	}
	return e.digest(typedData)
}

// VerifyDeleteSignature verifies that a deletion signature is valid
func (e *EIP712Signer) VerifyDeleteSignature(del *DeleteEIP712, signature []byte) (bool, error) {
	hash, err := e.HashDelete(del)
	if err != nil {
		return false, fmt.Errorf("failed to hash delete: %w", err)
	}

	recoveredAddr, err := RecoverAddress(hash, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}
	return recoveredAddr == del.Owner, nil
}

package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/crypto"
)

// sign-trade builds and signs an EIP-712 trade authorization, printing the
// signature and the typed-data JSON a wallet would sign. With no -key it
// mints a fresh keypair first.
func main() {
	var (
		keyHex      = flag.String("key", "", "secp256k1 private key hex (generates a new key when empty)")
		sourceToken = flag.String("source", "", "source token address")
		targetToken = flag.String("target", "", "target token address")
		actionsArg  = flag.String("actions", "", "comma-separated id:amount pairs, e.g. 1:1000,2:500")
		byTarget    = flag.Bool("by-target", false, "amounts are in target token units")
		limitArg    = flag.String("limit", "0", "min return (by source) or max input (by target)")
		deadline    = flag.Int64("deadline", 0, "unix seconds, 0 = no expiry")
		nonceArg    = flag.Int64("nonce", 0, "replay nonce (random when 0)")
		chainID     = flag.Int64("chain-id", 1337, "EIP-712 domain chain id")
	)
	flag.Parse()

	signer, err := loadOrGenerateKey(*keyHex)
	if err != nil {
		fatalf("key: %v", err)
	}

	// Derive the address both ways as a sanity check on the key material.
	pub, err := hex.DecodeString(signer.PublicKeyHex())
	if err != nil {
		fatalf("decode public key: %v", err)
	}
	checksummed := crypto.AddressFromUncompressedPub(pub)
	if checksummed != signer.Address().Hex() {
		fatalf("address derivation mismatch: %s vs %s", checksummed, signer.Address().Hex())
	}

	fmt.Printf("Signer: %s\n", checksummed)
	if *keyHex == "" {
		fmt.Printf("Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	}
	fmt.Println()

	if *sourceToken == "" || *targetToken == "" || *actionsArg == "" {
		fmt.Println("No trade given; pass -source, -target and -actions to sign one.")
		flag.Usage()
		return
	}
	if !common.IsHexAddress(*sourceToken) || !common.IsHexAddress(*targetToken) {
		fatalf("source and target must be hex addresses")
	}

	actions, err := parseActions(*actionsArg)
	if err != nil {
		fatalf("actions: %v", err)
	}
	limit, err := uint256.FromDecimal(*limitArg)
	if err != nil {
		fatalf("limit: %v", err)
	}

	nonce := *nonceArg
	if nonce == 0 {
		n, err := crypto.GenerateNonce()
		if err != nil {
			fatalf("nonce: %v", err)
		}
		nonce = int64(n & 0x7fffffffffffffff)
	}

	direction := uint8(0)
	if *byTarget {
		direction = 1
	}
	trade := &crypto.TradeEIP712{
		SourceToken: common.HexToAddress(*sourceToken),
		TargetToken: common.HexToAddress(*targetToken),
		ByTarget:    direction,
		ActionsHash: crypto.HashActions(actions),
		Limit:       limit,
		Deadline:    big.NewInt(*deadline),
		Nonce:       big.NewInt(nonce),
		Owner:       signer.Address(),
	}

	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(*chainID)
	eip712 := crypto.NewEIP712Signer(domain)

	signature, err := eip712.SignTrade(signer, trade)
	if err != nil {
		fatalf("sign: %v", err)
	}

	valid, err := eip712.VerifyTradeSignature(trade, signature)
	if err != nil || !valid {
		fatalf("self-verification failed: %v", err)
	}

	fmt.Printf("Actions Hash: %s\n", trade.ActionsHash.Hex())
	fmt.Printf("Nonce: %d\n", nonce)
	fmt.Printf("Signature: 0x%x\n\n", signature)

	typedJSON, err := eip712.TradeToJSON(trade)
	if err != nil {
		fatalf("typed data: %v", err)
	}
	fmt.Println("Typed data (eth_signTypedData_v4):")
	fmt.Println(typedJSON)
	fmt.Println()
	fmt.Println("Submit with:")
	fmt.Println("  POST http://localhost:8080/api/v1/trade/source  (or /trade/target)")
	fmt.Printf("  fields: taker=%s nonce=%d signature=0x%x\n", checksummed, nonce, signature)
}

func loadOrGenerateKey(keyHex string) (*crypto.Signer, error) {
	if keyHex != "" {
		return crypto.FromPrivateKeyHex(keyHex)
	}
	fmt.Println("Generating new keypair...")
	return crypto.GenerateKey()
}

// parseActions turns "1:1000,2:500" into hash-ready trade actions.
func parseActions(s string) ([]crypto.TradeAction, error) {
	parts := strings.Split(s, ",")
	actions := make([]crypto.TradeAction, 0, len(parts))
	for _, p := range parts {
		idAmount := strings.SplitN(strings.TrimSpace(p), ":", 2)
		if len(idAmount) != 2 {
			return nil, fmt.Errorf("want id:amount, got %q", p)
		}
		id, err := strconv.ParseUint(idAmount[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("strategy id %q: %w", idAmount[0], err)
		}
		amount, err := uint256.FromDecimal(idAmount[1])
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", idAmount[1], err)
		}
		actions = append(actions, crypto.TradeAction{StrategyID: id, Amount: amount})
	}
	return actions, nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

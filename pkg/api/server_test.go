package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/carbon"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/core/trade"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/crypto"
)

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000Aa")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000Bb")
	alice  = common.HexToAddress("0x0000000000000000000000000000000000a11CE0")
	bob    = common.HexToAddress("0x000000000000000000000000000000000000B0b0")
	carol  = common.HexToAddress("0x000000000000000000000000000000000000CA01")
	admin  = common.HexToAddress("0x000000000000000000000000000000000000Ad01")
)

func newTestServer(t *testing.T) (*Server, *carbon.App) {
	t.Helper()
	dir := t.TempDir()
	app, err := carbon.NewApp(carbon.Config{
		StrategyDB: filepath.Join(dir, "strategies"),
		VaultDB:    filepath.Join(dir, "vault"),
		JournalDB:  filepath.Join(dir, "journal"),
		Admin:      admin,
		Fees:       trade.Fees{StaticPPM: 2000, GradientPPM: 4000},
	})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	t.Cleanup(func() { app.Close() })
	return NewServer(app, Options{}), app
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

// q48 scales a small integer ratio into the fixed-point rate domain.
func q48(num, den uint64) string {
	r := new(uint256.Int).Lsh(uint256.NewInt(num), 48)
	r.Div(r, uint256.NewInt(den))
	return r.Dec()
}

func sellOrder(available string) *OrderRequest {
	return &OrderRequest{
		Available: available,
		Capacity:  available,
		RateLow:   q48(1, 1),
		RateHigh:  q48(1, 1),
	}
}

func createStrategyViaAPI(t *testing.T, s *Server, app *carbon.App) uint64 {
	t.Helper()

	if rec := doJSON(t, s, "POST", "/api/v1/pairs", CreatePairRequest{
		Token0: tokenA.Hex(), Token1: tokenB.Hex(),
	}); rec.Code != http.StatusOK {
		t.Fatalf("create pair: status %d body %s", rec.Code, rec.Body.String())
	}

	for _, token := range []common.Address{tokenA, tokenB} {
		if err := app.Deposit(bob, token, uint256.NewInt(10_000)); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}

	rec := doJSON(t, s, "POST", "/api/v1/strategies", CreateStrategyRequest{
		Owner:  bob.Hex(),
		Token0: tokenA.Hex(),
		Token1: tokenB.Hex(),
		Kind:   "static",
		Orders: [2]*OrderRequest{sellOrder("1000"), sellOrder("1000")},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create strategy: status %d body %s", rec.Code, rec.Body.String())
	}
	var info StrategyInfo
	decodeInto(t, rec, &info)
	if info.ID == 0 || info.Kind != "Static" {
		t.Fatalf("unexpected strategy response: %+v", info)
	}
	return info.ID
}

func TestPairLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, "GET", "/api/v1/pairs", nil)
	var pairs []PairInfo
	decodeInto(t, rec, &pairs)
	if len(pairs) != 0 {
		t.Fatalf("expected no pairs, got %d", len(pairs))
	}

	rec = doJSON(t, s, "POST", "/api/v1/pairs", CreatePairRequest{Token0: tokenA.Hex(), Token1: tokenB.Hex()})
	if rec.Code != http.StatusOK {
		t.Fatalf("create pair: status %d", rec.Code)
	}

	// Duplicate registration conflicts, either orientation.
	rec = doJSON(t, s, "POST", "/api/v1/pairs", CreatePairRequest{Token0: tokenB.Hex(), Token1: tokenA.Hex()})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate pair: status %d, want 409", rec.Code)
	}

	rec = doJSON(t, s, "GET", "/api/v1/pairs", nil)
	decodeInto(t, rec, &pairs)
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
}

func TestStrategyEndpoints(t *testing.T) {
	s, app := newTestServer(t)
	id := createStrategyViaAPI(t, s, app)

	rec := doJSON(t, s, "GET", fmt.Sprintf("/api/v1/strategies/%d", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get strategy: status %d", rec.Code)
	}
	var info StrategyInfo
	decodeInto(t, rec, &info)
	if info.Owner != bob.Hex() || info.Orders[0].Available != "1000" {
		t.Fatalf("unexpected strategy: %+v", info)
	}

	rec = doJSON(t, s, "GET", "/api/v1/strategies/999", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing strategy: status %d, want 404", rec.Code)
	}

	// Owner filter.
	rec = doJSON(t, s, "GET", "/api/v1/strategies?owner="+alice.Hex(), nil)
	var list []StrategyInfo
	decodeInto(t, rec, &list)
	if len(list) != 0 {
		t.Fatalf("alice owns no strategies, got %d", len(list))
	}

	// Delete requires the owner as caller.
	rec = doJSON(t, s, "DELETE", fmt.Sprintf("/api/v1/strategies/%d?caller=%s", id, alice.Hex()), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("delete by stranger: status %d, want 403", rec.Code)
	}
	rec = doJSON(t, s, "DELETE", fmt.Sprintf("/api/v1/strategies/%d?caller=%s", id, bob.Hex()), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete by owner: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateStrategyStaleOrders(t *testing.T) {
	s, app := newTestServer(t)
	id := createStrategyViaAPI(t, s, app)

	// Current snapshot does not match what is stored.
	rec := doJSON(t, s, "PUT", fmt.Sprintf("/api/v1/strategies/%d", id), UpdateStrategyRequest{
		Caller:        bob.Hex(),
		CurrentOrders: [2]*OrderRequest{sellOrder("123"), sellOrder("1000")},
		NextOrders:    [2]*OrderRequest{sellOrder("500"), sellOrder("500")},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale update: status %d, want 409 (body %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, "PUT", fmt.Sprintf("/api/v1/strategies/%d", id), UpdateStrategyRequest{
		Caller:        bob.Hex(),
		CurrentOrders: [2]*OrderRequest{sellOrder("1000"), sellOrder("1000")},
		NextOrders:    [2]*OrderRequest{sellOrder("500"), sellOrder("500")},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status %d body %s", rec.Code, rec.Body.String())
	}
	var info StrategyInfo
	decodeInto(t, rec, &info)
	if info.Orders[0].Available != "500" {
		t.Fatalf("update not applied: %+v", info)
	}
}

func TestTradeBySourceEndpoint(t *testing.T) {
	s, app := newTestServer(t)
	id := createStrategyViaAPI(t, s, app)

	if err := app.Deposit(alice, tokenA, uint256.NewInt(5_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	rec := doJSON(t, s, "POST", "/api/v1/trade/source", TradeRequest{
		Caller:      alice.Hex(),
		SourceToken: tokenA.Hex(),
		TargetToken: tokenB.Hex(),
		Actions:     []ActionRequest{{StrategyID: id, Amount: "1000"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("trade: status %d body %s", rec.Code, rec.Body.String())
	}
	var info TradeInfo
	decodeInto(t, rec, &info)
	if info.SourceAmount != "1000" || info.TargetAmount != "998" || info.FeeAmount != "2" {
		t.Fatalf("unexpected trade result: %+v", info)
	}
	if len(info.Fills) != 1 || info.Fills[0].StrategyID != id {
		t.Fatalf("unexpected fills: %+v", info.Fills)
	}

	// Balance endpoint reflects the settlement.
	rec = doJSON(t, s, "GET", fmt.Sprintf("/api/v1/accounts/%s/balances/%s", alice.Hex(), tokenB.Hex()), nil)
	var bal BalanceInfo
	decodeInto(t, rec, &bal)
	if bal.Balance != "998" {
		t.Fatalf("alice tokenB balance = %s, want 998", bal.Balance)
	}

	// Journal shows the trade.
	rec = doJSON(t, s, "GET", "/api/v1/trades?limit=10", nil)
	var trades []TradeInfo
	decodeInto(t, rec, &trades)
	if len(trades) != 1 || trades[0].Seq != info.Seq {
		t.Fatalf("unexpected trade history: %+v", trades)
	}

	// Accumulated fees on the target token.
	rec = doJSON(t, s, "GET", "/api/v1/fees/"+tokenB.Hex(), nil)
	var fees FeeInfo
	decodeInto(t, rec, &fees)
	if fees.Amount != "2" {
		t.Fatalf("accumulated fees = %s, want 2", fees.Amount)
	}
}

func TestTradeRejections(t *testing.T) {
	s, app := newTestServer(t)
	id := createStrategyViaAPI(t, s, app)

	if err := app.Deposit(alice, tokenA, uint256.NewInt(5_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	tests := []struct {
		name   string
		req    TradeRequest
		status int
	}{
		{
			name: "no actions",
			req: TradeRequest{
				Caller: alice.Hex(), SourceToken: tokenA.Hex(), TargetToken: tokenB.Hex(),
			},
			status: http.StatusBadRequest,
		},
		{
			name: "bad amount",
			req: TradeRequest{
				Caller: alice.Hex(), SourceToken: tokenA.Hex(), TargetToken: tokenB.Hex(),
				Actions: []ActionRequest{{StrategyID: id, Amount: "not-a-number"}},
			},
			status: http.StatusBadRequest,
		},
		{
			name: "min return not met",
			req: TradeRequest{
				Caller: alice.Hex(), SourceToken: tokenA.Hex(), TargetToken: tokenB.Hex(),
				Actions: []ActionRequest{{StrategyID: id, Amount: "1000"}},
				Limit:   "999999",
			},
			status: http.StatusBadRequest,
		},
		{
			name: "underfunded taker",
			req: TradeRequest{
				Caller: carol.Hex(), SourceToken: tokenA.Hex(), TargetToken: tokenB.Hex(),
				Actions: []ActionRequest{{StrategyID: id, Amount: "100"}},
			},
			status: http.StatusPaymentRequired,
		},
		{
			name: "router without approval",
			req: TradeRequest{
				Caller: alice.Hex(), Taker: bob.Hex(), SourceToken: tokenA.Hex(), TargetToken: tokenB.Hex(),
				Actions: []ActionRequest{{StrategyID: id, Amount: "100"}},
			},
			status: http.StatusForbidden,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s, "POST", "/api/v1/trade/source", tt.req)
			if rec.Code != tt.status {
				t.Fatalf("status %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestSignedTrade(t *testing.T) {
	s, app := newTestServer(t)
	id := createStrategyViaAPI(t, s, app)

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	taker := key.Address()
	if err := app.Deposit(taker, tokenA, uint256.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	typed := &crypto.TradeEIP712{
		SourceToken: tokenA,
		TargetToken: tokenB,
		ByTarget:    0,
		ActionsHash: crypto.HashActions([]crypto.TradeAction{{StrategyID: id, Amount: uint256.NewInt(100)}}),
		Limit:       new(uint256.Int),
		Deadline:    big.NewInt(0),
		Nonce:       big.NewInt(7),
		Owner:       taker,
	}
	signer := crypto.NewEIP712Signer(crypto.DefaultDomain())
	sig, err := signer.SignTrade(key, typed)
	if err != nil {
		t.Fatalf("SignTrade: %v", err)
	}

	req := TradeRequest{
		Caller:      taker.Hex(),
		Taker:       taker.Hex(),
		SourceToken: tokenA.Hex(),
		TargetToken: tokenB.Hex(),
		Actions:     []ActionRequest{{StrategyID: id, Amount: "100"}},
		Nonce:       "7",
		Signature:   hexutil.Encode(sig),
	}
	rec := doJSON(t, s, "POST", "/api/v1/trade/source", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("signed trade: status %d body %s", rec.Code, rec.Body.String())
	}

	// Tampering with the actions after signing invalidates the request.
	req.Actions[0].Amount = "500"
	rec = doJSON(t, s, "POST", "/api/v1/trade/source", req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("tampered trade: status %d, want 401", rec.Code)
	}
}

func TestVaultEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, "POST", "/api/v1/vault/deposit", DepositRequest{
		Account: alice.Hex(), Token: tokenA.Hex(), Amount: "500",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit: status %d", rec.Code)
	}
	var bal BalanceInfo
	decodeInto(t, rec, &bal)
	if bal.Balance != "500" {
		t.Fatalf("balance after deposit = %s", bal.Balance)
	}

	rec = doJSON(t, s, "POST", "/api/v1/vault/withdraw", DepositRequest{
		Account: alice.Hex(), Token: tokenA.Hex(), Amount: "600",
	})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("overdraw: status %d, want 402", rec.Code)
	}

	rec = doJSON(t, s, "POST", "/api/v1/vault/withdraw", DepositRequest{
		Account: alice.Hex(), Token: tokenA.Hex(), Amount: "200",
	})
	decodeInto(t, rec, &bal)
	if bal.Balance != "300" {
		t.Fatalf("balance after withdraw = %s", bal.Balance)
	}
}

func TestAdminEndpoints(t *testing.T) {
	s, app := newTestServer(t)
	id := createStrategyViaAPI(t, s, app)

	// Non-admin cannot pause.
	rec := doJSON(t, s, "POST", "/api/v1/admin/pause", AdminRequest{Caller: alice.Hex()})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("pause by stranger: status %d, want 403", rec.Code)
	}

	rec = doJSON(t, s, "POST", "/api/v1/admin/pause", AdminRequest{Caller: admin.Hex()})
	if rec.Code != http.StatusOK {
		t.Fatalf("pause: status %d", rec.Code)
	}

	// Trades fail while paused.
	rec = doJSON(t, s, "POST", "/api/v1/trade/source", TradeRequest{
		Caller: alice.Hex(), SourceToken: tokenA.Hex(), TargetToken: tokenB.Hex(),
		Actions: []ActionRequest{{StrategyID: id, Amount: "10"}},
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("trade while paused: status %d, want 503", rec.Code)
	}

	rec = doJSON(t, s, "POST", "/api/v1/admin/unpause", AdminRequest{Caller: admin.Hex()})
	if rec.Code != http.StatusOK {
		t.Fatalf("unpause: status %d", rec.Code)
	}

	// Fee updates are bounded.
	rec = doJSON(t, s, "POST", "/api/v1/admin/fees", AdminRequest{Caller: admin.Hex(), StaticPPM: 1_000_000, GradientPPM: 4000})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("out-of-range fee: status %d, want 400", rec.Code)
	}
	rec = doJSON(t, s, "POST", "/api/v1/admin/fees", AdminRequest{Caller: admin.Hex(), StaticPPM: 3000, GradientPPM: 5000})
	if rec.Code != http.StatusOK {
		t.Fatalf("set fees: status %d", rec.Code)
	}
}

func TestBadAddressesRejected(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, "POST", "/api/v1/pairs", CreatePairRequest{Token0: "nope", Token1: tokenB.Hex()})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad token0: status %d", rec.Code)
	}

	rec = doJSON(t, s, "GET", "/api/v1/accounts/xyz/balances/"+tokenA.Hex(), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad account: status %d", rec.Code)
	}
}

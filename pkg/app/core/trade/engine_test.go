package trade

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/core/curve"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/core/strategy"
)

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	tokenC = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	maker  = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

var testFees = Fees{StaticPPM: 2000, GradientPPM: 4000}

// q48 returns n/d as a Q48 fixed-point value.
func q48(n, d uint64) *uint256.Int {
	v := new(uint256.Int).Lsh(uint256.NewInt(n), curve.RateScale)
	return v.Div(v, uint256.NewInt(d))
}

type fakeBook map[uint64]*strategy.Strategy

func (b fakeBook) Get(id uint64) (*strategy.Strategy, bool) {
	s, ok := b[id]
	return s, ok
}

// staticSelling builds a static strategy whose Token1 order holds the given
// liquidity between rateLow and rateHigh, with an empty Token0 side.
func staticSelling(id uint64, capacity uint64, rateLow, rateHigh *uint256.Int) *strategy.Strategy {
	return &strategy.Strategy{
		ID:     id,
		Owner:  maker,
		Token0: tokenA,
		Token1: tokenB,
		Kind:   strategy.KindStatic,
		Orders: [2]*curve.Order{
			curve.NewOrder(new(uint256.Int), new(uint256.Int), new(uint256.Int)),
			curve.NewOrder(uint256.NewInt(capacity), rateLow, rateHigh),
		},
	}
}

func dutchGradient(id uint64, liquidity uint64) *strategy.Strategy {
	return &strategy.Strategy{
		ID:     id,
		Owner:  maker,
		Token0: tokenA,
		Token1: tokenB,
		Kind:   strategy.KindGradient,
		Gradient: &curve.GradientOrder{
			InitialPrice:     curve.Ratio{SourceAmount: uint256.NewInt(2), TargetAmount: uint256.NewInt(1)},
			EndPrice:         curve.Ratio{SourceAmount: uint256.NewInt(1), TargetAmount: uint256.NewInt(1)},
			SourceAmount:     uint256.NewInt(2 * liquidity),
			TargetAmount:     uint256.NewInt(liquidity),
			TradingStartTime: 1000,
			Expiry:           2000,
			Curve: curve.GradientCurve{
				Type:             curve.CurveLinear,
				IncreaseAmount:   q48(1, 4),
				IncreaseInterval: 250,
				IsDutchAuction:   true,
			},
		},
	}
}

func TestMatchBySourceDrainsOrder(t *testing.T) {
	// 1000 of liquidity between 1.0 and 2.0 source per target. The marginal
	// rate at full liquidity is 1.0, so 1000 source clears the whole order.
	book := fakeBook{7: staticSelling(7, 1000, q48(1, 1), q48(2, 1))}

	res, err := Match(book, tokenA, tokenB, BySource,
		[]Action{{StrategyID: 7, Amount: uint256.NewInt(1000)}},
		uint256.NewInt(1000), nil, 0, testFees)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}

	if got := res.SourceAmount.Uint64(); got != 1000 {
		t.Errorf("SourceAmount = %d, want 1000", got)
	}
	// Gross 1000 target, fee ceil(1000*2000/1e6) = 2.
	if got := res.FeeAmount.Uint64(); got != 2 {
		t.Errorf("FeeAmount = %d, want 2", got)
	}
	if got := res.TargetAmount.Uint64(); got != 998 {
		t.Errorf("TargetAmount = %d, want 998", got)
	}
	if res.FeeToken != tokenB {
		t.Errorf("FeeToken = %s, want target token %s", res.FeeToken, tokenB)
	}

	if len(res.Updated) != 1 {
		t.Fatalf("len(Updated) = %d, want 1", len(res.Updated))
	}
	if got := res.Updated[0].Orders[1].Available; !got.IsZero() {
		t.Errorf("order available after drain = %s, want 0", got)
	}
	// The working copy must not alias repository state.
	if live := book[7].Orders[1].Available.Uint64(); live != 1000 {
		t.Errorf("repository mutated during match: available = %d", live)
	}
}

func TestMatchBySourcePartialFill(t *testing.T) {
	// Only 50 of liquidity at a flat rate of 1.0: the 1000-source action caps
	// at the order's remaining target.
	book := fakeBook{1: staticSelling(1, 50, q48(1, 1), q48(1, 1))}

	res, err := Match(book, tokenA, tokenB, BySource,
		[]Action{{StrategyID: 1, Amount: uint256.NewInt(1000)}},
		uint256.NewInt(1000), nil, 0, testFees)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if got := res.SourceAmount.Uint64(); got != 50 {
		t.Errorf("SourceAmount = %d, want 50", got)
	}
	if got := res.TargetAmount.Uint64(); got != 49 {
		t.Errorf("TargetAmount = %d, want 49", got)
	}
}

func TestMatchByTargetGrossesUpFee(t *testing.T) {
	// Flat rate 1.5: 7 target costs ceil(7*1.5) = 11 source principal, grossed
	// to ceil(11 * 1e6 / 998000) = 12 with a 1-unit fee in the source token.
	book := fakeBook{3: staticSelling(3, 1000, q48(3, 2), q48(3, 2))}

	res, err := Match(book, tokenA, tokenB, ByTarget,
		[]Action{{StrategyID: 3, Amount: uint256.NewInt(7)}},
		uint256.NewInt(7), nil, 0, testFees)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if got := res.TargetAmount.Uint64(); got != 7 {
		t.Errorf("TargetAmount = %d, want 7", got)
	}
	if got := res.FeeAmount.Uint64(); got != 1 {
		t.Errorf("FeeAmount = %d, want 1", got)
	}
	if got := res.SourceAmount.Uint64(); got != 12 {
		t.Errorf("SourceAmount = %d, want 12", got)
	}
	if res.FeeToken != tokenA {
		t.Errorf("FeeToken = %s, want source token %s", res.FeeToken, tokenA)
	}
	// The owner is still credited the full principal.
	if got := res.Fills[0].SourceAmount.Uint64(); got != 11 {
		t.Errorf("fill principal = %d, want 11", got)
	}
}

func TestMatchRepeatedActionsAccumulate(t *testing.T) {
	// Two actions against the same strategy: the second sees the marginal rate
	// after the first fill, not the original one.
	book := fakeBook{9: staticSelling(9, 1000, q48(1, 1), q48(2, 1))}

	res, err := Match(book, tokenA, tokenB, BySource,
		[]Action{
			{StrategyID: 9, Amount: uint256.NewInt(500)}, // rate 1.0 -> 500 target
			{StrategyID: 9, Amount: uint256.NewInt(300)}, // rate 1.5 -> 200 target
		},
		uint256.NewInt(800), nil, 0, testFees)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}

	if len(res.Fills) != 2 {
		t.Fatalf("len(Fills) = %d, want 2", len(res.Fills))
	}
	if got := res.Fills[0].TargetAmount.Uint64(); got != 500 {
		t.Errorf("first fill target = %d, want 500", got)
	}
	if got := res.Fills[1].TargetAmount.Uint64(); got != 200 {
		t.Errorf("second fill target = %d, want 200", got)
	}
	if len(res.Updated) != 1 {
		t.Fatalf("len(Updated) = %d, want 1 (same strategy touched twice)", len(res.Updated))
	}
	if got := res.Updated[0].Orders[1].Available.Uint64(); got != 300 {
		t.Errorf("available after both fills = %d, want 300", got)
	}
}

func TestMatchGradientUsesGradientFee(t *testing.T) {
	book := fakeBook{5: dutchGradient(5, 1000)}

	// At the window start the Dutch auction quotes its initial rate of 2.0.
	res, err := Match(book, tokenA, tokenB, BySource,
		[]Action{{StrategyID: 5, Amount: uint256.NewInt(100)}},
		uint256.NewInt(100), nil, 1000, testFees)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if got := res.Fills[0].TargetAmount.Uint64(); got != 50 {
		t.Errorf("gross target = %d, want 50", got)
	}
	// ceil(50 * 4000 / 1e6) = 1 at the gradient fee tier.
	if got := res.FeeAmount.Uint64(); got != 1 {
		t.Errorf("FeeAmount = %d, want 1", got)
	}
	if got := res.Updated[0].Gradient.TargetAmount.Uint64(); got != 950 {
		t.Errorf("gradient liquidity after fill = %d, want 950", got)
	}
}

func TestMatchGradientOutsideWindow(t *testing.T) {
	book := fakeBook{5: dutchGradient(5, 1000)}

	// Before tradingStartTime and after expiry the order contributes nothing.
	for _, now := range []int64{500, 2500} {
		_, err := Match(book, tokenA, tokenB, BySource,
			[]Action{{StrategyID: 5, Amount: uint256.NewInt(100)}},
			uint256.NewInt(100), nil, now, testFees)
		if !errors.Is(err, ErrInsufficientLiquidity) {
			t.Errorf("Match(now=%d) error = %v, want ErrInsufficientLiquidity", now, err)
		}
	}
}

func TestMatchGradientWrongDirection(t *testing.T) {
	// A gradient order only sells Token1; asking for Token0 finds no liquidity.
	book := fakeBook{5: dutchGradient(5, 1000)}

	_, err := Match(book, tokenB, tokenA, BySource,
		[]Action{{StrategyID: 5, Amount: uint256.NewInt(100)}},
		uint256.NewInt(100), nil, 1000, testFees)
	if !errors.Is(err, ErrInsufficientLiquidity) {
		t.Errorf("Match() error = %v, want ErrInsufficientLiquidity", err)
	}
}

func TestMatchErrors(t *testing.T) {
	book := fakeBook{1: staticSelling(1, 1000, q48(1, 1), q48(2, 1))}

	tests := []struct {
		name    string
		src     common.Address
		tgt     common.Address
		dir     Direction
		actions []Action
		total   *uint256.Int
		limit   *uint256.Int
		wantErr error
	}{
		{
			name:    "no actions",
			src:     tokenA,
			tgt:     tokenB,
			dir:     BySource,
			wantErr: ErrNoTradeActions,
		},
		{
			name:    "unknown strategy only",
			src:     tokenA,
			tgt:     tokenB,
			dir:     BySource,
			actions: []Action{{StrategyID: 404, Amount: uint256.NewInt(10)}},
			wantErr: ErrInsufficientLiquidity,
		},
		{
			name:    "zero amounts only",
			src:     tokenA,
			tgt:     tokenB,
			dir:     BySource,
			actions: []Action{{StrategyID: 1, Amount: new(uint256.Int)}},
			wantErr: ErrInsufficientLiquidity,
		},
		{
			name:    "strategy from another pair",
			src:     tokenA,
			tgt:     tokenC,
			dir:     BySource,
			actions: []Action{{StrategyID: 1, Amount: uint256.NewInt(10)}},
			wantErr: strategy.ErrInvalidToken,
		},
		{
			name:    "return below floor",
			src:     tokenA,
			tgt:     tokenB,
			dir:     BySource,
			actions: []Action{{StrategyID: 1, Amount: uint256.NewInt(100)}},
			total:   uint256.NewInt(100),
			limit:   uint256.NewInt(1000),
			wantErr: ErrLowerThanLimit,
		},
		{
			name:    "cost above ceiling",
			src:     tokenA,
			tgt:     tokenB,
			dir:     ByTarget,
			actions: []Action{{StrategyID: 1, Amount: uint256.NewInt(100)}},
			total:   uint256.NewInt(100),
			limit:   uint256.NewInt(10),
			wantErr: ErrGreaterThanLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Match(book, tt.src, tt.tgt, tt.dir, tt.actions, tt.total, tt.limit, 0, testFees)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Match() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMatchMixedKnownAndUnknown(t *testing.T) {
	// Unknown ids are skipped, not fatal, as long as something fills.
	book := fakeBook{1: staticSelling(1, 1000, q48(1, 1), q48(1, 1))}

	res, err := Match(book, tokenA, tokenB, BySource,
		[]Action{
			{StrategyID: 404, Amount: uint256.NewInt(500)},
			{StrategyID: 1, Amount: uint256.NewInt(100)},
		},
		uint256.NewInt(600), nil, 0, testFees)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if len(res.Fills) != 1 {
		t.Fatalf("len(Fills) = %d, want 1", len(res.Fills))
	}
	if got := res.SourceAmount.Uint64(); got != 100 {
		t.Errorf("SourceAmount = %d, want 100", got)
	}
}

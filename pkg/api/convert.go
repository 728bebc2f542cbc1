package api

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/carbon"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/core/curve"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/core/strategy"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/core/trade"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/storage"
)

// Converters between wire DTOs and domain types. Every uint256 crosses the
// wire as a decimal string.

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing amount")
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func orderFromRequest(req *OrderRequest) (*curve.Order, error) {
	if req == nil {
		return nil, nil
	}
	var o curve.Order
	var err error
	if o.Available, err = parseAmount(req.Available); err != nil {
		return nil, err
	}
	if o.Capacity, err = parseAmount(req.Capacity); err != nil {
		return nil, err
	}
	if o.RateLow, err = parseAmount(req.RateLow); err != nil {
		return nil, err
	}
	if o.RateHigh, err = parseAmount(req.RateHigh); err != nil {
		return nil, err
	}
	return &o, nil
}

func ratioFromRequest(r RatioInfo) (curve.Ratio, error) {
	src, err := parseAmount(r.SourceAmount)
	if err != nil {
		return curve.Ratio{}, err
	}
	tgt, err := parseAmount(r.TargetAmount)
	if err != nil {
		return curve.Ratio{}, err
	}
	return curve.Ratio{SourceAmount: src, TargetAmount: tgt}, nil
}

func gradientFromRequest(req *GradientRequest) (*curve.GradientOrder, error) {
	if req == nil {
		return nil, nil
	}
	g := &curve.GradientOrder{
		TradingStartTime: req.TradingStartTime,
		Expiry:           req.Expiry,
		TokensInverted:   req.TokensInverted,
	}
	var err error
	if g.InitialPrice, err = ratioFromRequest(req.InitialPrice); err != nil {
		return nil, err
	}
	if g.EndPrice, err = ratioFromRequest(req.EndPrice); err != nil {
		return nil, err
	}
	if g.SourceAmount, err = parseAmount(req.SourceAmount); err != nil {
		return nil, err
	}
	if g.TargetAmount, err = parseAmount(req.TargetAmount); err != nil {
		return nil, err
	}

	switch strings.ToLower(req.CurveType) {
	case "linear":
		g.Curve.Type = curve.CurveLinear
		if g.Curve.IncreaseAmount, err = parseAmount(req.IncreaseAmount); err != nil {
			return nil, err
		}
		g.Curve.IncreaseInterval = req.IncreaseInterval
	case "exponential":
		g.Curve.Type = curve.CurveExponential
		g.Curve.Halflife = req.Halflife
	default:
		return nil, fmt.Errorf("unknown curve type %q", req.CurveType)
	}
	g.Curve.IsDutchAuction = req.IsDutchAuction
	return g, nil
}

func orderSetFromRequests(orders [2]*OrderRequest, gradient *GradientRequest) (strategy.OrderSet, error) {
	var set strategy.OrderSet
	var err error
	for i, o := range orders {
		if set.Orders[i], err = orderFromRequest(o); err != nil {
			return strategy.OrderSet{}, err
		}
	}
	if set.Gradient, err = gradientFromRequest(gradient); err != nil {
		return strategy.OrderSet{}, err
	}
	return set, nil
}

func orderInfo(o *curve.Order) *OrderInfo {
	if o == nil {
		return nil
	}
	return &OrderInfo{
		Available: amountString(o.Available),
		Capacity:  amountString(o.Capacity),
		RateLow:   amountString(o.RateLow),
		RateHigh:  amountString(o.RateHigh),
	}
}

func gradientInfo(g *curve.GradientOrder) *GradientInfo {
	if g == nil {
		return nil
	}
	info := &GradientInfo{
		CurveType: g.Curve.Type.String(),
		InitialPrice: RatioInfo{
			SourceAmount: amountString(g.InitialPrice.SourceAmount),
			TargetAmount: amountString(g.InitialPrice.TargetAmount),
		},
		EndPrice: RatioInfo{
			SourceAmount: amountString(g.EndPrice.SourceAmount),
			TargetAmount: amountString(g.EndPrice.TargetAmount),
		},
		SourceAmount:     amountString(g.SourceAmount),
		TargetAmount:     amountString(g.TargetAmount),
		TradingStartTime: g.TradingStartTime,
		Expiry:           g.Expiry,
		TokensInverted:   g.TokensInverted,
		IsDutchAuction:   g.Curve.IsDutchAuction,
	}
	switch g.Curve.Type {
	case curve.CurveLinear:
		info.IncreaseAmount = amountString(g.Curve.IncreaseAmount)
		info.IncreaseInterval = g.Curve.IncreaseInterval
	case curve.CurveExponential:
		info.Halflife = g.Curve.Halflife
	}
	return info
}

func strategyInfo(st *strategy.Strategy) StrategyInfo {
	info := StrategyInfo{
		ID:     st.ID,
		Owner:  st.Owner.Hex(),
		Token0: st.Token0.Hex(),
		Token1: st.Token1.Hex(),
		Kind:   st.Kind.String(),
	}
	switch st.Kind {
	case strategy.KindStatic:
		info.Orders = [2]*OrderInfo{orderInfo(st.Orders[0]), orderInfo(st.Orders[1])}
	case strategy.KindGradient:
		info.Gradient = gradientInfo(st.Gradient)
	}
	return info
}

func fillInfos(fills []trade.Fill) []FillInfo {
	out := make([]FillInfo, len(fills))
	for i, f := range fills {
		out[i] = FillInfo{
			StrategyID:   f.StrategyID,
			Owner:        f.Owner.Hex(),
			SourceAmount: amountString(f.SourceAmount),
			TargetAmount: amountString(f.TargetAmount),
			Fee:          amountString(f.Fee),
		}
	}
	return out
}

func tradeInfoFromEvent(ev carbon.TradeEvent) TradeInfo {
	return TradeInfo{
		Seq:          ev.Seq,
		Taker:        ev.Taker.Hex(),
		SourceToken:  ev.SourceToken.Hex(),
		TargetToken:  ev.TargetToken.Hex(),
		ByTarget:     ev.ByTarget,
		SourceAmount: amountString(ev.SourceAmount),
		TargetAmount: amountString(ev.TargetAmount),
		FeeToken:     ev.FeeToken.Hex(),
		FeeAmount:    amountString(ev.FeeAmount),
		Fills:        fillInfos(ev.Fills),
		Timestamp:    ev.Timestamp,
	}
}

func tradeInfoFromRecord(rec *storage.TradeRecord) TradeInfo {
	info := TradeInfo{
		Seq:          rec.Seq,
		Taker:        rec.Taker.Hex(),
		SourceToken:  rec.SourceToken.Hex(),
		TargetToken:  rec.TargetToken.Hex(),
		ByTarget:     rec.ByTarget,
		SourceAmount: amountString(rec.SourceAmount),
		TargetAmount: amountString(rec.TargetAmount),
		FeeToken:     rec.FeeToken.Hex(),
		FeeAmount:    amountString(rec.FeeAmount),
		Timestamp:    rec.Timestamp,
		Fills:        make([]FillInfo, len(rec.Fills)),
	}
	for i, f := range rec.Fills {
		info.Fills[i] = FillInfo{
			StrategyID:   f.StrategyID,
			Owner:        f.Owner.Hex(),
			SourceAmount: amountString(f.SourceAmount),
			TargetAmount: amountString(f.TargetAmount),
			Fee:          amountString(f.Fee),
		}
	}
	return info
}

func actionsFromRequests(reqs []ActionRequest) ([]trade.Action, error) {
	actions := make([]trade.Action, len(reqs))
	for i, a := range reqs {
		amount, err := parseAmount(a.Amount)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		actions[i] = trade.Action{StrategyID: a.StrategyID, Amount: amount}
	}
	return actions, nil
}

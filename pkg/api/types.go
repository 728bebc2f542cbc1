package api

// API request/response types for REST endpoints and WebSocket messages.
// Amounts travel as decimal strings so browsers never lose precision on
// 256-bit values.

// ==============================
// REST Response Types
// ==============================

// PairInfo represents a registered trading pair
type PairInfo struct {
	Token0 string `json:"token0"`
	Token1 string `json:"token1"`
}

// OrderInfo is one side of a static strategy
type OrderInfo struct {
	Available string `json:"available"`
	Capacity  string `json:"capacity"`
	RateLow   string `json:"rateLow"`  // Q48 fixed point
	RateHigh  string `json:"rateHigh"` // Q48 fixed point
}

// RatioInfo is a price expressed as sourceAmount:targetAmount
type RatioInfo struct {
	SourceAmount string `json:"sourceAmount"`
	TargetAmount string `json:"targetAmount"`
}

// GradientInfo represents a gradient order's full parameterization
type GradientInfo struct {
	CurveType        string    `json:"curveType"` // "Linear" | "Exponential"
	InitialPrice     RatioInfo `json:"initialPrice"`
	EndPrice         RatioInfo `json:"endPrice"`
	SourceAmount     string    `json:"sourceAmount"`
	TargetAmount     string    `json:"targetAmount"`
	TradingStartTime int64     `json:"tradingStartTime"`
	Expiry           int64     `json:"expiry"` // 0 = never expires
	TokensInverted   bool      `json:"tokensInverted"`
	IncreaseAmount   string    `json:"increaseAmount,omitempty"` // LINEAR
	IncreaseInterval int64     `json:"increaseInterval,omitempty"`
	Halflife         int64     `json:"halflife,omitempty"` // EXPONENTIAL
	IsDutchAuction   bool      `json:"isDutchAuction"`
}

// StrategyInfo represents one strategy
type StrategyInfo struct {
	ID       uint64        `json:"id"`
	Owner    string        `json:"owner"`
	Token0   string        `json:"token0"`
	Token1   string        `json:"token1"`
	Kind     string        `json:"kind"` // "Static" | "Gradient"
	Orders   [2]*OrderInfo `json:"orders,omitempty"`
	Gradient *GradientInfo `json:"gradient,omitempty"`
}

// BalanceInfo is one account's vault balance in one token
type BalanceInfo struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

// FeeInfo reports a token's accumulated protocol fees
type FeeInfo struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// FillInfo is one strategy's contribution to a trade
type FillInfo struct {
	StrategyID   uint64 `json:"strategyId"`
	Owner        string `json:"owner"`
	SourceAmount string `json:"sourceAmount"`
	TargetAmount string `json:"targetAmount"`
	Fee          string `json:"fee"`
}

// TradeInfo represents an executed trade
type TradeInfo struct {
	Seq          uint64     `json:"seq"`
	Taker        string     `json:"taker"`
	SourceToken  string     `json:"sourceToken"`
	TargetToken  string     `json:"targetToken"`
	ByTarget     bool       `json:"byTarget"`
	SourceAmount string     `json:"sourceAmount"`
	TargetAmount string     `json:"targetAmount"`
	FeeToken     string     `json:"feeToken"`
	FeeAmount    string     `json:"feeAmount"`
	Fills        []FillInfo `json:"fills"`
	Timestamp    int64      `json:"timestamp"`
}

// ==============================
// REST Request Types
// ==============================

// CreatePairRequest is the payload for POST /api/v1/pairs
type CreatePairRequest struct {
	Token0 string `json:"token0"`
	Token1 string `json:"token1"`
}

// OrderRequest mirrors OrderInfo for strategy creation/update
type OrderRequest struct {
	Available string `json:"available"`
	Capacity  string `json:"capacity"`
	RateLow   string `json:"rateLow"`
	RateHigh  string `json:"rateHigh"`
}

// GradientRequest mirrors GradientInfo for strategy creation/update
type GradientRequest struct {
	CurveType        string    `json:"curveType"`
	InitialPrice     RatioInfo `json:"initialPrice"`
	EndPrice         RatioInfo `json:"endPrice"`
	SourceAmount     string    `json:"sourceAmount"`
	TargetAmount     string    `json:"targetAmount"`
	TradingStartTime int64     `json:"tradingStartTime"`
	Expiry           int64     `json:"expiry"`
	TokensInverted   bool      `json:"tokensInverted"`
	IncreaseAmount   string    `json:"increaseAmount,omitempty"`
	IncreaseInterval int64     `json:"increaseInterval,omitempty"`
	Halflife         int64     `json:"halflife,omitempty"`
	IsDutchAuction   bool      `json:"isDutchAuction"`
}

// CreateStrategyRequest is the payload for POST /api/v1/strategies
type CreateStrategyRequest struct {
	Owner    string           `json:"owner"`
	Token0   string           `json:"token0"`
	Token1   string           `json:"token1"`
	Kind     string           `json:"kind"` // "static" | "gradient"
	Orders   [2]*OrderRequest `json:"orders,omitempty"`
	Gradient *GradientRequest `json:"gradient,omitempty"`
}

// UpdateStrategyRequest is the payload for PUT /api/v1/strategies/{id}.
// Current carries the orders the caller expects; any drift is rejected.
type UpdateStrategyRequest struct {
	Caller          string           `json:"caller"`
	CurrentOrders   [2]*OrderRequest `json:"currentOrders,omitempty"`
	CurrentGradient *GradientRequest `json:"currentGradient,omitempty"`
	NextOrders      [2]*OrderRequest `json:"nextOrders,omitempty"`
	NextGradient    *GradientRequest `json:"nextGradient,omitempty"`
}

// ActionRequest is one (strategyId, amount) trade action
type ActionRequest struct {
	StrategyID uint64 `json:"strategyId"`
	Amount     string `json:"amount"`
}

// TradeRequest is the payload for POST /api/v1/trade/source and /trade/target
type TradeRequest struct {
	Caller      string          `json:"caller"`
	Taker       string          `json:"taker,omitempty"` // defaults to caller
	SourceToken string          `json:"sourceToken"`
	TargetToken string          `json:"targetToken"`
	Actions     []ActionRequest `json:"actions"`
	Deadline    int64           `json:"deadline,omitempty"`
	Limit       string          `json:"limit,omitempty"` // minReturn or maxInput
	Signature   string          `json:"signature,omitempty"`
	Nonce       string          `json:"nonce,omitempty"`
}

// DepositRequest is the payload for POST /api/v1/vault/deposit and /withdraw
type DepositRequest struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

// AdminRequest carries the admin caller for pause/unpause/fee endpoints
type AdminRequest struct {
	Caller      string `json:"caller"`
	StaticPPM   uint32 `json:"staticPPM,omitempty"`
	GradientPPM uint32 `json:"gradientPPM,omitempty"`
	Token       string `json:"token,omitempty"`
	Recipient   string `json:"recipient,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WS channels clients can subscribe to.
const (
	ChannelTrades     = "trades"
	ChannelStrategies = "strategies"
)

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["trades", "strategies"]
}

// TradeUpdate is broadcast on the "trades" channel after a trade settles
type TradeUpdate struct {
	Type  string    `json:"type"` // "trade"
	Trade TradeInfo `json:"trade"`
}

// StrategyUpdate is broadcast on the "strategies" channel on create, update,
// and delete
type StrategyUpdate struct {
	Type      string       `json:"type"`  // "strategy"
	Event     string       `json:"event"` // "created" | "updated" | "deleted"
	Strategy  StrategyInfo `json:"strategy"`
	Timestamp int64        `json:"timestamp"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

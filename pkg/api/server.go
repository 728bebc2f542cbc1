package api

import (
	"encoding/json"
	"errors"
	"log"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"

	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/carbon"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/core/strategy"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/core/trade"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/app/core/vault"
	"github.com/bancorprotocol/carbon-contracts-sub001/pkg/crypto"
)

// Server handles REST API and WebSocket connections
type Server struct {
	app    *carbon.App
	router *mux.Router
	hub    *Hub // WebSocket hub
	signer *crypto.EIP712Signer

	allowedOrigins []string
}

// Options configures the API surface.
type Options struct {
	AllowedOrigins []string
	ChainID        int64 // EIP-712 domain chain id for signed trades
}

// NewServer creates a new API server
func NewServer(app *carbon.App, opts Options) *Server {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	domain := crypto.DefaultDomain()
	if opts.ChainID != 0 {
		domain.ChainID = big.NewInt(opts.ChainID)
	}

	s := &Server{
		app:            app,
		router:         mux.NewRouter(),
		hub:            NewHub(),
		signer:         crypto.NewEIP712Signer(domain),
		allowedOrigins: opts.AllowedOrigins,
	}

	s.setupRoutes()
	s.wireEvents()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Pair endpoints
	api.HandleFunc("/pairs", s.handleGetPairs).Methods("GET")
	api.HandleFunc("/pairs", s.handleCreatePair).Methods("POST")

	// Strategy endpoints
	api.HandleFunc("/strategies", s.handleListStrategies).Methods("GET")
	api.HandleFunc("/strategies", s.handleCreateStrategy).Methods("POST")
	api.HandleFunc("/strategies/{id}", s.handleGetStrategy).Methods("GET")
	api.HandleFunc("/strategies/{id}", s.handleUpdateStrategy).Methods("PUT")
	api.HandleFunc("/strategies/{id}", s.handleDeleteStrategy).Methods("DELETE")

	// Trading
	api.HandleFunc("/trade/source", s.handleTradeBySource).Methods("POST")
	api.HandleFunc("/trade/target", s.handleTradeByTarget).Methods("POST")
	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")

	// Vault
	api.HandleFunc("/accounts/{address}/balances/{token}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/vault/deposit", s.handleDeposit).Methods("POST")
	api.HandleFunc("/vault/withdraw", s.handleWithdraw).Methods("POST")

	// Protocol fees
	api.HandleFunc("/fees/{token}", s.handleGetFees).Methods("GET")

	// Admin
	api.HandleFunc("/admin/pause", s.handlePause).Methods("POST")
	api.HandleFunc("/admin/unpause", s.handleUnpause).Methods("POST")
	api.HandleFunc("/admin/fees", s.handleSetFees).Methods("POST")
	api.HandleFunc("/admin/fees/withdraw", s.handleWithdrawFees).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// wireEvents forwards venue events to WebSocket subscribers. Hooks run under
// the venue lock, so they only enqueue onto the hub's broadcast channel.
func (s *Server) wireEvents() {
	s.app.OnTrade(func(ev carbon.TradeEvent) {
		s.hub.BroadcastToChannel(ChannelTrades, TradeUpdate{
			Type:  "trade",
			Trade: tradeInfoFromEvent(ev),
		})
	})
	s.app.OnStrategy(func(ev carbon.StrategyEvent) {
		s.hub.BroadcastToChannel(ChannelStrategies, StrategyUpdate{
			Type:      "strategy",
			Event:     string(ev.Type),
			Strategy:  strategyInfo(ev.Strategy),
			Timestamp: ev.Timestamp,
		})
	})
}

// Start starts the API server
func (s *Server) Start(addr string) error {
	// Start WebSocket hub
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	handler := c.Handler(s.router)

	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, handler)
}

// ==============================
// Pair Handlers
// ==============================

func (s *Server) handleGetPairs(w http.ResponseWriter, r *http.Request) {
	pairs := s.app.Pairs()
	response := make([]PairInfo, len(pairs))
	for i, p := range pairs {
		response[i] = PairInfo{Token0: p.Token0.Hex(), Token1: p.Token1.Hex()}
	}
	respondJSON(w, response)
}

func (s *Server) handleCreatePair(w http.ResponseWriter, r *http.Request) {
	var req CreatePairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	token0, err := parseAddress(req.Token0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	token1, err := parseAddress(req.Token1)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	pair, err := s.app.CreatePair(token0, token1)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, PairInfo{Token0: pair.Token0.Hex(), Token1: pair.Token1.Hex()})
}

// ==============================
// Strategy Handlers
// ==============================

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	strategies := s.app.ListStrategies()

	// Optional ?owner= filter
	var owner common.Address
	filterOwner := false
	if v := r.URL.Query().Get("owner"); v != "" {
		addr, err := parseAddress(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		owner, filterOwner = addr, true
	}

	response := make([]StrategyInfo, 0, len(strategies))
	for _, st := range strategies {
		if filterOwner && st.Owner != owner {
			continue
		}
		response = append(response, strategyInfo(st))
	}
	respondJSON(w, response)
}

func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	var req CreateStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	owner, err := parseAddress(req.Owner)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	token0, err := parseAddress(req.Token0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	token1, err := parseAddress(req.Token1)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	kind, err := parseKind(req.Kind)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	set, err := orderSetFromRequests(req.Orders, req.Gradient)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	st, err := s.app.CreateStrategy(owner, token0, token1, kind, set)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, strategyInfo(st))
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	id, err := strategyID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	st, ok := s.app.GetStrategy(id)
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "strategy not found")
		return
	}
	respondJSON(w, strategyInfo(st))
}

func (s *Server) handleUpdateStrategy(w http.ResponseWriter, r *http.Request) {
	id, err := strategyID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var req UpdateStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	current, err := orderSetFromRequests(req.CurrentOrders, req.CurrentGradient)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	next, err := orderSetFromRequests(req.NextOrders, req.NextGradient)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	st, err := s.app.UpdateStrategy(caller, id, current, next)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, strategyInfo(st))
}

func (s *Server) handleDeleteStrategy(w http.ResponseWriter, r *http.Request) {
	id, err := strategyID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	caller, err := parseAddress(r.URL.Query().Get("caller"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "caller query parameter: "+err.Error())
		return
	}

	// Optional EIP-712 authorization over (id, nonce, caller).
	if sigHex := r.URL.Query().Get("signature"); sigHex != "" {
		sig, err := hexutil.Decode(sigHex)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid_signature", err.Error())
			return
		}
		nonce := new(big.Int)
		if v := r.URL.Query().Get("nonce"); v != "" {
			if _, ok := nonce.SetString(v, 10); !ok {
				respondError(w, http.StatusBadRequest, "invalid_request", "invalid nonce")
				return
			}
		}
		valid, err := s.signer.VerifyDeleteSignature(&crypto.DeleteEIP712{
			StrategyID: id,
			Nonce:      nonce,
			Owner:      caller,
		}, sig)
		if err != nil || !valid {
			respondError(w, http.StatusUnauthorized, "invalid_signature", "signature does not match caller")
			return
		}
	}

	if err := s.app.DeleteStrategy(caller, id); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{"deleted": id})
}

// ==============================
// Trade Handlers
// ==============================

func (s *Server) handleTradeBySource(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, trade.BySource)
}

func (s *Server) handleTradeByTarget(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, trade.ByTarget)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request, dir trade.Direction) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	taker := caller
	if req.Taker != "" {
		if taker, err = parseAddress(req.Taker); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}
	sourceToken, err := parseAddress(req.SourceToken)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	targetToken, err := parseAddress(req.TargetToken)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	actions, err := actionsFromRequests(req.Actions)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var limit *uint256.Int
	if req.Limit != "" {
		if limit, err = parseAmount(req.Limit); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}

	// A signed request proves the taker authorized these exact parameters.
	// The recovered signer must be the taker; the submitting caller may
	// still be a router, which the venue checks against its delegator set.
	if req.Signature != "" {
		signer, err := s.recoverTradeSigner(&req, dir, actions, limit, taker)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid_signature", err.Error())
			return
		}
		if signer != taker {
			respondError(w, http.StatusUnauthorized, "invalid_signature", "signature does not match taker")
			return
		}
	}

	var ev *carbon.TradeEvent
	if dir == trade.ByTarget {
		ev, err = s.app.TradeByTargetAmount(caller, taker, sourceToken, targetToken, actions, req.Deadline, limit)
	} else {
		ev, err = s.app.TradeBySourceAmount(caller, taker, sourceToken, targetToken, actions, req.Deadline, limit)
	}
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, tradeInfoFromEvent(*ev))
}

func (s *Server) recoverTradeSigner(req *TradeRequest, dir trade.Direction, actions []trade.Action, limit *uint256.Int, taker common.Address) (common.Address, error) {
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		return common.Address{}, err
	}
	nonce := new(big.Int)
	if req.Nonce != "" {
		if _, ok := nonce.SetString(req.Nonce, 10); !ok {
			return common.Address{}, errors.New("invalid nonce")
		}
	}

	hashed := make([]crypto.TradeAction, len(actions))
	for i, a := range actions {
		hashed[i] = crypto.TradeAction{StrategyID: a.StrategyID, Amount: a.Amount}
	}
	byTarget := uint8(0)
	if dir == trade.ByTarget {
		byTarget = 1
	}
	if limit == nil {
		limit = new(uint256.Int)
	}

	typed := &crypto.TradeEIP712{
		SourceToken: common.HexToAddress(req.SourceToken),
		TargetToken: common.HexToAddress(req.TargetToken),
		ByTarget:    byTarget,
		ActionsHash: crypto.HashActions(hashed),
		Limit:       limit,
		Deadline:    big.NewInt(req.Deadline),
		Nonce:       nonce,
		Owner:       taker,
	}
	return s.signer.RecoverTradeSigner(typed, sig)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit := uint64(50)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 || n > 1000 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be 1..1000")
			return
		}
		limit = n
	}

	records, err := s.app.RecentTrades(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	response := make([]TradeInfo, len(records))
	for i, rec := range records {
		response[i] = tradeInfoFromRecord(rec)
	}
	respondJSON(w, response)
}

// ==============================
// Vault Handlers
// ==============================

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	account, err := parseAddress(vars["address"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	token, err := parseAddress(vars["token"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	balance := s.app.BalanceOf(account, token)
	respondJSON(w, BalanceInfo{
		Account: account.Hex(),
		Token:   token.Hex(),
		Balance: amountString(balance),
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleVaultMove(w, r, s.app.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleVaultMove(w, r, s.app.Withdraw)
}

func (s *Server) handleVaultMove(w http.ResponseWriter, r *http.Request, move func(common.Address, common.Address, *uint256.Int) error) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	account, err := parseAddress(req.Account)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	token, err := parseAddress(req.Token)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if err := move(account, token, amount); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, BalanceInfo{
		Account: account.Hex(),
		Token:   token.Hex(),
		Balance: amountString(s.app.BalanceOf(account, token)),
	})
}

// ==============================
// Fee Handlers
// ==============================

func (s *Server) handleGetFees(w http.ResponseWriter, r *http.Request) {
	token, err := parseAddress(mux.Vars(r)["token"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	amount, err := s.app.AccumulatedFees(token)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, FeeInfo{Token: token.Hex(), Amount: amountString(amount)})
}

// ==============================
// Admin Handlers
// ==============================

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.handleAdminToggle(w, r, s.app.Pause)
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	s.handleAdminToggle(w, r, s.app.Unpause)
}

func (s *Server) handleAdminToggle(w http.ResponseWriter, r *http.Request, toggle func(common.Address) error) {
	var req AdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := toggle(caller); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleSetFees(w http.ResponseWriter, r *http.Request) {
	var req AdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	fees := trade.Fees{StaticPPM: req.StaticPPM, GradientPPM: req.GradientPPM}
	if err := s.app.SetTradingFee(caller, fees); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, map[string]uint32{"staticPPM": fees.StaticPPM, "gradientPPM": fees.GradientPPM})
}

func (s *Server) handleWithdrawFees(w http.ResponseWriter, r *http.Request) {
	var req AdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	token, err := parseAddress(req.Token)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	recipient, err := parseAddress(req.Recipient)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	amount, err := s.app.WithdrawFees(caller, token, recipient)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, FeeInfo{Token: token.Hex(), Amount: amountString(amount)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// ==============================
// Helper Functions
// ==============================

func strategyID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
}

func parseKind(s string) (strategy.Kind, error) {
	switch strings.ToLower(s) {
	case "static":
		return strategy.KindStatic, nil
	case "gradient":
		return strategy.KindGradient, nil
	default:
		return 0, errors.New("kind must be \"static\" or \"gradient\"")
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

// respondAppError maps venue sentinel errors onto HTTP statuses.
func respondAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, strategy.ErrStrategyNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, strategy.ErrOutdatedOrder), errors.Is(err, strategy.ErrPairAlreadyExists):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, carbon.ErrAccessDenied), errors.Is(err, strategy.ErrAccessDenied), errors.Is(err, carbon.ErrUnknownDelegator):
		respondError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, carbon.ErrPaused):
		respondError(w, http.StatusServiceUnavailable, "paused", err.Error())
	case errors.Is(err, vault.ErrInsufficientBalance):
		respondError(w, http.StatusPaymentRequired, "insufficient_balance", err.Error())
	case errors.Is(err, trade.ErrInsufficientLiquidity),
		errors.Is(err, trade.ErrGreaterThanLimit),
		errors.Is(err, trade.ErrLowerThanLimit),
		errors.Is(err, trade.ErrNoTradeActions),
		errors.Is(err, carbon.ErrDeadlineExpired),
		errors.Is(err, carbon.ErrInvalidFee):
		respondError(w, http.StatusBadRequest, "rejected", err.Error())
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	}
}

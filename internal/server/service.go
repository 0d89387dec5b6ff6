// Package server provides the HTTP handlers and wiring for the pool engine:
// stable-unit issuance, swaps, leveraged positions, liquidations, and the
// read-side pool queries.
//
// All monetary values use shopspring/decimal, never float64.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/synthpool/margin-engine/internal/ledger"
	"github.com/synthpool/margin-engine/internal/metrics"
	"github.com/synthpool/margin-engine/internal/model"
	"github.com/synthpool/margin-engine/internal/store"
)

// Depositor is implemented by custodians that accept simulated inbound
// transfers. The dev server credits deposits itself; a production deployment
// would observe settled transfers instead.
type Depositor interface {
	Deposit(token string, amount decimal.Decimal)
}

// AccessGate authorizes a request to act on an account. Liquidations are
// exempt: anyone may liquidate an unhealthy position.
type AccessGate interface {
	Authorize(r *http.Request, account string) error
}

// HeaderGate is the default gate: the X-Account header must match the acting
// account. It stands in for real authentication in development.
type HeaderGate struct{}

// ErrNotOwner is returned when a caller acts on another account's position.
var ErrNotOwner = errors.New("server: caller does not own account")

func (HeaderGate) Authorize(r *http.Request, account string) error {
	if caller := r.Header.Get("X-Account"); caller != account {
		return ErrNotOwner
	}
	return nil
}

// Service handles pool operations over HTTP. The ledger serializes state
// mutation internally; the store is written behind each committed operation.
type Service struct {
	ledger *ledger.Ledger
	store  store.Store
	bank   Depositor
	gate   AccessGate
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new pool service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(lg *ledger.Ledger, st store.Store, bank Depositor, hub *WSHub) *Service {
	return &Service{
		ledger: lg,
		store:  st,
		bank:   bank,
		gate:   HeaderGate{},
		wsHub:  hub,
	}
}

// SetAccessGate replaces the default owner gate.
func (s *Service) SetAccessGate(g AccessGate) { s.gate = g }

// Routes mounts every API endpoint on a chi router.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}

	r.Post("/stable/buy", s.BuyStable)
	r.Post("/stable/sell", s.SellStable)
	r.Post("/swap", s.Swap)

	r.Post("/positions/increase", s.IncreasePosition)
	r.Post("/positions/decrease", s.DecreasePosition)
	r.Post("/positions/liquidate", s.LiquidatePosition)
	r.Get("/positions/{account}", s.GetPositions)
	r.Get("/positions/{account}/{collateralToken}/{indexToken}/{side}", s.GetPositionDetail)

	r.Get("/pool", s.GetPool)
	r.Get("/pool/value", s.GetPoolValue)
	r.Get("/pool/{token}", s.GetPoolToken)
	r.Get("/shorts/{token}", s.GetGlobalShorts)
	r.Get("/solvency", s.GetSolvency)
	r.Get("/journal/{account}", s.GetJournal)

	// Governance operations.
	r.Post("/assets", s.CreateAsset)
	r.Post("/fees/withdraw", s.WithdrawFees)
	return r
}

// --- Request types ---

// BuyStableRequest is the JSON body for POST /stable/buy.
type BuyStableRequest struct {
	Token    string          `json:"token"`
	Amount   decimal.Decimal `json:"amount"` // token units deposited
	Receiver string          `json:"receiver"`
}

// SellStableRequest is the JSON body for POST /stable/sell.
type SellStableRequest struct {
	Token       string          `json:"token"`
	StableUnits decimal.Decimal `json:"stable_units"`
	Receiver    string          `json:"receiver"`
}

// SwapRequest is the JSON body for POST /swap.
type SwapRequest struct {
	TokenIn  string          `json:"token_in"`
	TokenOut string          `json:"token_out"`
	AmountIn decimal.Decimal `json:"amount_in"`
	Receiver string          `json:"receiver"`
}

// IncreaseRequest is the JSON body for POST /positions/increase.
type IncreaseRequest struct {
	Account          string          `json:"account"`
	CollateralToken  string          `json:"collateral_token"`
	IndexToken       string          `json:"index_token"`
	Side             model.Side      `json:"side"`
	CollateralAmount decimal.Decimal `json:"collateral_amount"` // token units deposited
	SizeDelta        decimal.Decimal `json:"size_delta"`        // USD
}

// DecreaseRequest is the JSON body for POST /positions/decrease.
type DecreaseRequest struct {
	Account         string          `json:"account"`
	CollateralToken string          `json:"collateral_token"`
	IndexToken      string          `json:"index_token"`
	Side            model.Side      `json:"side"`
	CollateralDelta decimal.Decimal `json:"collateral_delta"` // USD
	SizeDelta       decimal.Decimal `json:"size_delta"`       // USD
	Receiver        string          `json:"receiver"`
}

// LiquidateRequest is the JSON body for POST /positions/liquidate.
type LiquidateRequest struct {
	Account         string     `json:"account"`
	CollateralToken string     `json:"collateral_token"`
	IndexToken      string     `json:"index_token"`
	Side            model.Side `json:"side"`
	FeeReceiver     string     `json:"fee_receiver"`
}

// --- Handlers ---

// BuyStable handles POST /api/v1/stable/buy.
func (s *Service) BuyStable(w http.ResponseWriter, r *http.Request) {
	var req BuyStableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	start := time.Now()

	s.bank.Deposit(req.Token, req.Amount)
	receipt, err := s.ledger.BuyStableUnit(ctx, req.Token, req.Receiver)
	if err != nil {
		metrics.OperationRejections.WithLabelValues("buy_stable").Inc()
		writeError(w, err.Error(), statusFor(err))
		return
	}
	metrics.OperationsTotal.WithLabelValues("buy_stable").Inc()
	metrics.OperationLatency.WithLabelValues("buy_stable").Observe(time.Since(start).Seconds())

	s.persist(ctx, req.Token)
	s.journal(ctx, &model.JournalEntry{
		ID: uuid.New().String(), Op: "buy_stable", Account: req.Receiver,
		TokenIn: req.Token, AmountIn: receipt.AmountIn, AmountOut: receipt.Minted,
		Price: receipt.Price, Timestamp: time.Now().UTC(),
	})

	slog.Info("stable units minted",
		"token", req.Token,
		"amount_in", receipt.AmountIn.String(),
		"minted", receipt.Minted.String(),
		"fee_bps", receipt.FeeBps,
	)
	s.broadcast(WSMessage{
		Type: "stable_bought", Token: req.Token, Account: req.Receiver,
		Amount: receipt.Minted.String(), Price: receipt.Price.String(),
	})
	writeJSON(w, http.StatusOK, receipt)
}

// SellStable handles POST /api/v1/stable/sell.
func (s *Service) SellStable(w http.ResponseWriter, r *http.Request) {
	var req SellStableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	start := time.Now()

	receipt, err := s.ledger.SellStableUnit(ctx, req.Token, req.StableUnits, req.Receiver)
	if err != nil {
		metrics.OperationRejections.WithLabelValues("sell_stable").Inc()
		writeError(w, err.Error(), statusFor(err))
		return
	}
	metrics.OperationsTotal.WithLabelValues("sell_stable").Inc()
	metrics.OperationLatency.WithLabelValues("sell_stable").Observe(time.Since(start).Seconds())

	s.persist(ctx, req.Token)
	s.journal(ctx, &model.JournalEntry{
		ID: uuid.New().String(), Op: "sell_stable", Account: req.Receiver,
		TokenOut: req.Token, AmountIn: receipt.Burned, AmountOut: receipt.AmountOut,
		Price: receipt.Price, Timestamp: time.Now().UTC(),
	})

	slog.Info("stable units redeemed",
		"token", req.Token,
		"burned", receipt.Burned.String(),
		"amount_out", receipt.AmountOut.String(),
		"fee_bps", receipt.FeeBps,
	)
	s.broadcast(WSMessage{
		Type: "stable_sold", Token: req.Token, Account: req.Receiver,
		Amount: receipt.AmountOut.String(), Price: receipt.Price.String(),
	})
	writeJSON(w, http.StatusOK, receipt)
}

// Swap handles POST /api/v1/swap.
func (s *Service) Swap(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.AmountIn.IsPositive() {
		writeError(w, "amount_in must be positive", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	start := time.Now()

	s.bank.Deposit(req.TokenIn, req.AmountIn)
	receipt, err := s.ledger.Swap(ctx, req.TokenIn, req.TokenOut, req.Receiver)
	if err != nil {
		metrics.OperationRejections.WithLabelValues("swap").Inc()
		writeError(w, err.Error(), statusFor(err))
		return
	}
	metrics.OperationsTotal.WithLabelValues("swap").Inc()
	metrics.OperationLatency.WithLabelValues("swap").Observe(time.Since(start).Seconds())

	s.persist(ctx, req.TokenIn, req.TokenOut)
	s.journal(ctx, &model.JournalEntry{
		ID: uuid.New().String(), Op: "swap", Account: req.Receiver,
		TokenIn: req.TokenIn, TokenOut: req.TokenOut,
		AmountIn: receipt.AmountIn, AmountOut: receipt.AmountOut,
		Timestamp: time.Now().UTC(),
	})

	slog.Info("swap executed",
		"token_in", req.TokenIn,
		"token_out", req.TokenOut,
		"amount_in", receipt.AmountIn.String(),
		"amount_out", receipt.AmountOut.String(),
		"fee_bps", receipt.FeeBps,
	)
	s.broadcast(WSMessage{
		Type: "swap", Token: req.TokenOut, Account: req.Receiver,
		Amount: receipt.AmountOut.String(),
	})
	writeJSON(w, http.StatusOK, receipt)
}

// IncreasePosition handles POST /api/v1/positions/increase.
func (s *Service) IncreasePosition(w http.ResponseWriter, r *http.Request) {
	var req IncreaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	if err := s.gate.Authorize(r, req.Account); err != nil {
		writeError(w, err.Error(), http.StatusForbidden)
		return
	}
	if req.CollateralAmount.IsNegative() {
		writeError(w, "collateral_amount must not be negative", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	start := time.Now()

	if req.CollateralAmount.IsPositive() {
		s.bank.Deposit(req.CollateralToken, req.CollateralAmount)
	}
	receipt, err := s.ledger.IncreasePosition(ctx, req.Account, req.CollateralToken,
		req.IndexToken, req.Side, req.SizeDelta)
	if err != nil {
		metrics.OperationRejections.WithLabelValues("increase").Inc()
		writeError(w, err.Error(), statusFor(err))
		return
	}
	metrics.OperationsTotal.WithLabelValues("increase").Inc()
	metrics.OperationLatency.WithLabelValues("increase").Observe(time.Since(start).Seconds())

	s.persist(ctx, req.CollateralToken, req.IndexToken)
	s.syncPosition(ctx, req.Account, req.CollateralToken, req.IndexToken, req.Side)
	s.journal(ctx, &model.JournalEntry{
		ID: uuid.New().String(), Op: "increase", Account: req.Account,
		TokenIn: req.CollateralToken, IndexToken: req.IndexToken, Side: req.Side,
		AmountIn: req.CollateralAmount, SizeDelta: receipt.SizeDelta,
		FeeUsd: receipt.FeeUsd, Price: receipt.Price, Timestamp: time.Now().UTC(),
	})

	slog.Info("position increased",
		"account", req.Account,
		"index", req.IndexToken,
		"side", req.Side,
		"size_delta", receipt.SizeDelta.String(),
		"size", receipt.Size.String(),
		"avg_price", receipt.AveragePrice.String(),
		"leverage_bps", receipt.LeverageBps,
	)
	s.broadcast(WSMessage{
		Type: "position_increased", Token: req.CollateralToken, IndexToken: req.IndexToken,
		Account: req.Account, Side: string(req.Side),
		SizeDelta: receipt.SizeDelta.String(), Price: receipt.Price.String(),
	})
	writeJSON(w, http.StatusOK, receipt)
}

// DecreasePosition handles POST /api/v1/positions/decrease.
func (s *Service) DecreasePosition(w http.ResponseWriter, r *http.Request) {
	var req DecreaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	if err := s.gate.Authorize(r, req.Account); err != nil {
		writeError(w, err.Error(), http.StatusForbidden)
		return
	}
	receiver := req.Receiver
	if receiver == "" {
		receiver = req.Account
	}
	ctx := r.Context()
	start := time.Now()

	receipt, err := s.ledger.DecreasePosition(ctx, req.Account, req.CollateralToken,
		req.IndexToken, req.Side, req.CollateralDelta, req.SizeDelta, receiver)
	if err != nil {
		metrics.OperationRejections.WithLabelValues("decrease").Inc()
		writeError(w, err.Error(), statusFor(err))
		return
	}
	metrics.OperationsTotal.WithLabelValues("decrease").Inc()
	metrics.OperationLatency.WithLabelValues("decrease").Observe(time.Since(start).Seconds())

	s.persist(ctx, req.CollateralToken, req.IndexToken)
	s.syncPosition(ctx, req.Account, req.CollateralToken, req.IndexToken, req.Side)
	s.journal(ctx, &model.JournalEntry{
		ID: uuid.New().String(), Op: "decrease", Account: req.Account,
		TokenOut: req.CollateralToken, IndexToken: req.IndexToken, Side: req.Side,
		AmountOut: receipt.AmountOut, SizeDelta: receipt.SizeDelta,
		FeeUsd: receipt.FeeUsd, Price: receipt.Price, Timestamp: time.Now().UTC(),
	})

	slog.Info("position decreased",
		"account", req.Account,
		"index", req.IndexToken,
		"side", req.Side,
		"size_delta", receipt.SizeDelta.String(),
		"amount_out", receipt.AmountOut.String(),
		"realized_pnl", receipt.RealizedPnl.String(),
		"closed", receipt.Closed,
	)
	s.broadcast(WSMessage{
		Type: "position_decreased", Token: req.CollateralToken, IndexToken: req.IndexToken,
		Account: req.Account, Side: string(req.Side),
		SizeDelta: receipt.SizeDelta.String(), Amount: receipt.AmountOut.String(),
		Price: receipt.Price.String(),
	})
	writeJSON(w, http.StatusOK, receipt)
}

// LiquidatePosition handles POST /api/v1/positions/liquidate. Deliberately
// not gated: any caller may liquidate a position the engine deems unhealthy.
func (s *Service) LiquidatePosition(w http.ResponseWriter, r *http.Request) {
	var req LiquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.FeeReceiver == "" {
		writeError(w, "fee_receiver is required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	start := time.Now()

	receipt, err := s.ledger.LiquidatePosition(ctx, req.Account, req.CollateralToken,
		req.IndexToken, req.Side, req.FeeReceiver)
	if err != nil {
		metrics.OperationRejections.WithLabelValues("liquidate").Inc()
		writeError(w, err.Error(), statusFor(err))
		return
	}
	metrics.OperationsTotal.WithLabelValues("liquidate").Inc()
	metrics.OperationLatency.WithLabelValues("liquidate").Observe(time.Since(start).Seconds())
	metrics.LiquidationsTotal.WithLabelValues(receipt.ReasonText).Inc()

	s.persist(ctx, req.CollateralToken, req.IndexToken)
	s.syncPosition(ctx, req.Account, req.CollateralToken, req.IndexToken, req.Side)
	s.journal(ctx, &model.JournalEntry{
		ID: uuid.New().String(), Op: "liquidate", Account: req.Account,
		TokenOut: req.CollateralToken, IndexToken: req.IndexToken, Side: req.Side,
		SizeDelta: receipt.Size, FeeUsd: receipt.FeeUsd, Price: receipt.Price,
		Timestamp: time.Now().UTC(),
	})

	slog.Info("position liquidated",
		"account", req.Account,
		"index", req.IndexToken,
		"side", req.Side,
		"size", receipt.Size.String(),
		"reason", receipt.ReasonText,
		"liquidator_fee", receipt.LiquidatorFee.String(),
	)
	s.broadcast(WSMessage{
		Type: "position_liquidated", Token: req.CollateralToken, IndexToken: req.IndexToken,
		Account: req.Account, Side: string(req.Side),
		SizeDelta: receipt.Size.String(), Price: receipt.Price.String(),
		Reason: receipt.ReasonText,
	})
	writeJSON(w, http.StatusOK, receipt)
}

// GetPositions handles GET /api/v1/positions/{account}.
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	positions := s.ledger.Positions(account)
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// PositionDetail is the response for GET /api/v1/positions/{account}/...,
// the read-only view keepers scan before attempting a liquidation.
type PositionDetail struct {
	Position          model.Position  `json:"position"`
	HasProfit         bool            `json:"has_profit"`
	Delta             decimal.Decimal `json:"delta"` // USD, min-profit gate applied
	LeverageBps       int64           `json:"leverage_bps"`
	LiquidationReason string          `json:"liquidation_reason"`
}

// GetPositionDetail handles
// GET /api/v1/positions/{account}/{collateralToken}/{indexToken}/{side}.
func (s *Service) GetPositionDetail(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	collateralToken := chi.URLParam(r, "collateralToken")
	indexToken := chi.URLParam(r, "indexToken")
	side := model.Side(strings.ToUpper(chi.URLParam(r, "side")))
	if !side.Valid() {
		writeError(w, "side must be LONG or SHORT", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	p, err := s.ledger.GetPosition(account, collateralToken, indexToken, side)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	hasProfit, delta, err := s.ledger.PositionDelta(ctx, account, collateralToken, indexToken, side)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	leverage, err := s.ledger.PositionLeverage(account, collateralToken, indexToken, side)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	reason, err := s.ledger.ValidateLiquidation(ctx, account, collateralToken, indexToken, side)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, PositionDetail{
		Position:          p,
		HasProfit:         hasProfit,
		Delta:             delta,
		LeverageBps:       leverage,
		LiquidationReason: reason.String(),
	})
}

// GetPoolValue handles GET /api/v1/pool/value. Both price bounds of the net
// pool value, consumed by the external pool-valuation component.
func (s *Service) GetPoolValue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	low, err := s.ledger.PoolValueUsd(ctx, false)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	high, err := s.ledger.PoolValueUsd(ctx, true)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"min_usd": low, "max_usd": high})
}

// GetGlobalShorts handles GET /api/v1/shorts/{token}: the aggregate short
// exposure against one index token and its unrealized PnL.
func (s *Service) GetGlobalShorts(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	a, err := s.ledger.AssetState(token)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	hasProfit, delta, err := s.ledger.GlobalShortDelta(r.Context(), token)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":              token,
		"size":               a.GlobalShortSize,
		"average_price":      a.GlobalShortAveragePrice,
		"shorts_have_profit": hasProfit,
		"delta_usd":          delta,
	})
}

// GetPool handles GET /api/v1/pool.
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"assets":             s.ledger.Snapshot(),
		"stable_unit_supply": s.ledger.StableUnitSupply(),
	})
}

// GetPoolToken handles GET /api/v1/pool/{token}.
func (s *Service) GetPoolToken(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	a, err := s.ledger.AssetState(token)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GetSolvency handles GET /api/v1/solvency.
func (s *Service) GetSolvency(w http.ResponseWriter, r *http.Request) {
	reports, err := s.ledger.CheckSolvency()
	status := http.StatusOK
	if err != nil {
		// Still return the full report; the status code carries the alarm.
		status = http.StatusConflict
	}
	writeJSON(w, status, reports)
}

// GetJournal handles GET /api/v1/journal/{account}.
func (s *Service) GetJournal(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	entries, err := s.store.GetJournalByAccount(r.Context(), account)
	if err != nil {
		writeError(w, "failed to load journal", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// WithdrawFeesRequest is the JSON body for POST /fees/withdraw.
type WithdrawFeesRequest struct {
	Token    string `json:"token"`
	Receiver string `json:"receiver"`
}

// CreateAsset handles POST /api/v1/assets. Whitelists a token, or updates
// the configuration of an already whitelisted one.
func (s *Service) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var cfg model.AssetConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.ledger.SetAssetConfig(cfg); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if err := s.store.UpsertAssetConfig(r.Context(), &cfg); err != nil {
		slog.Error("persist asset config failed", "token", cfg.Symbol, "err", err)
	}
	s.persist(r.Context(), cfg.Symbol)

	slog.Info("asset whitelisted", "token", cfg.Symbol, "weight", cfg.Weight, "stable", cfg.IsStable)
	writeJSON(w, http.StatusCreated, cfg)
}

// WithdrawFees handles POST /api/v1/fees/withdraw. Drains a token's accrued
// fee reserve to the receiver.
func (s *Service) WithdrawFees(w http.ResponseWriter, r *http.Request) {
	var req WithdrawFeesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	paid, err := s.ledger.WithdrawFees(req.Token, req.Receiver)
	if err != nil {
		metrics.OperationRejections.WithLabelValues("withdraw_fees").Inc()
		writeError(w, err.Error(), statusFor(err))
		return
	}
	metrics.OperationsTotal.WithLabelValues("withdraw_fees").Inc()

	s.persist(ctx, req.Token)
	s.journal(ctx, &model.JournalEntry{
		ID: uuid.New().String(), Op: "withdraw_fees", Account: req.Receiver,
		TokenOut: req.Token, AmountOut: paid,
		Timestamp: time.Now().UTC(),
	})

	slog.Info("fees withdrawn", "token", req.Token, "receiver", req.Receiver, "amount", paid.String())
	writeJSON(w, http.StatusOK, map[string]any{"token": req.Token, "amount": paid})
}

// --- Write-behind persistence ---

// persist writes the touched token states and the supply to the store, and
// refreshes the pool gauges. The ledger has already committed; a store
// failure is logged and retried implicitly on the next operation, never
// surfaced to the caller.
func (s *Service) persist(ctx context.Context, tokens ...string) {
	seen := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		if seen[token] {
			continue
		}
		seen[token] = true

		a, err := s.ledger.AssetState(token)
		if err != nil {
			continue
		}
		if err := s.store.UpsertAssetState(ctx, &a); err != nil {
			slog.Error("persist asset state failed", "token", token, "err", err)
		}
		metrics.PoolAmount.WithLabelValues(token).Set(a.PoolAmount.InexactFloat64())
		metrics.ReservedAmount.WithLabelValues(token).Set(a.ReservedAmount.InexactFloat64())
	}

	supply := s.ledger.StableUnitSupply()
	if err := s.store.SaveStableUnitSupply(ctx, supply); err != nil {
		slog.Error("persist supply failed", "err", err)
	}
	metrics.StableUnitSupply.Set(supply.InexactFloat64())
}

// syncPosition mirrors one position's ledger state into the store: upsert
// while open, delete once closed.
func (s *Service) syncPosition(ctx context.Context, account, collateralToken, indexToken string, side model.Side) {
	key := model.PositionKey(account, collateralToken, indexToken, side)
	p, err := s.ledger.GetPosition(account, collateralToken, indexToken, side)
	if err != nil {
		if err := s.store.DeletePosition(ctx, key); err != nil {
			slog.Error("delete position failed", "key", key, "err", err)
		}
		return
	}
	if err := s.store.UpsertPosition(ctx, &p); err != nil {
		slog.Error("persist position failed", "key", key, "err", err)
	}
}

func (s *Service) journal(ctx context.Context, e *model.JournalEntry) {
	if err := s.store.InsertJournalEntry(ctx, e); err != nil {
		slog.Error("journal append failed", "op", e.Op, "err", err)
	}
}

func (s *Service) broadcast(msg WSMessage) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(msg)
	}
}

// --- HTTP helpers ---

// statusFor maps ledger errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrTokenNotWhitelisted),
		errors.Is(err, ledger.ErrEmptyPosition):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidTokens),
		errors.Is(err, ledger.ErrTokenNotShortable):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrBalanceDeficit):
		return http.StatusInternalServerError
	default:
		// Business precondition failures: leverage caps, reserve limits,
		// buffer breaches, healthy-position liquidations.
		return http.StatusConflict
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// Package ledger implements the multi-asset collateral pool: per-token
// balances and configuration, stable-unit issuance, the leveraged position
// engine with funding accrual, the global short tracker, and the solvency
// invariant checker.
//
// The Ledger is a single sequential mutator. Every public operation takes
// the writer lock, stages its changes in a transaction against cloned
// entries, and commits only after every precondition has passed; a failed
// operation leaves no partial writes. External transfers out are executed
// after the state commit; transfers in are reconciled against the measured
// custodian balance before any accounting, so caller-declared amounts are
// never trusted.
//
// All monetary values use shopspring/decimal, never float64.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/synthpool/margin-engine/internal/custody"
	"github.com/synthpool/margin-engine/internal/model"
	"github.com/synthpool/margin-engine/internal/oracle"
)

var (
	ErrTokenNotWhitelisted    = errors.New("ledger: token not whitelisted")
	ErrInvalidAmount          = errors.New("ledger: invalid amount")
	ErrInvalidTokens          = errors.New("ledger: invalid token combination")
	ErrTokenNotShortable      = errors.New("ledger: index token not shortable")
	ErrReserveExceedsPool     = errors.New("ledger: reserve exceeds pool")
	ErrMaxLeverageExceeded    = errors.New("ledger: max leverage exceeded")
	ErrInsufficientFeeCover   = errors.New("ledger: insufficient collateral for fees")
	ErrLossesExceedCollateral = errors.New("ledger: losses exceed collateral")
	ErrSizeBelowCollateral    = errors.New("ledger: position size below collateral")
	ErrEmptyPosition          = errors.New("ledger: empty position")
	ErrCannotLiquidate        = errors.New("ledger: position cannot be liquidated")
	ErrMaxShortsExceeded      = errors.New("ledger: max global short size exceeded")
	ErrMaxIssuanceExceeded    = errors.New("ledger: max stable unit issuance exceeded")
	ErrPoolBelowBuffer        = errors.New("ledger: redemption would breach pool buffer")
	ErrInsufficientPool       = errors.New("ledger: insufficient pool amount")
	ErrBalanceDeficit         = errors.New("ledger: held balance below recorded state")
)

// Params is the governance-injected engine configuration. It is supplied at
// construction and replaced wholesale via UpdateParams; the ledger carries
// no embedded admin logic.
type Params struct {
	MintBurnFeeBps          int64
	SwapFeeBps              int64
	StableSwapFeeBps        int64
	MarginFeeBps            int64
	TaxBps                  int64
	StableTaxBps            int64
	LiquidationFeeUsd       decimal.Decimal
	MaxLeverageBps          int64 // 10000 = 1x
	MinProfitTime           time.Duration
	FundingInterval         time.Duration
	FundingRateFactor       int64
	StableFundingRateFactor int64
}

// DefaultParams mirrors common production settings: 30bps mint/burn and swap
// fees, 10bps margin fee, 50bps max imbalance tax, 50x leverage cap, $5 flat
// liquidation fee, hourly funding.
func DefaultParams() Params {
	return Params{
		MintBurnFeeBps:          30,
		SwapFeeBps:              30,
		StableSwapFeeBps:        4,
		MarginFeeBps:            10,
		TaxBps:                  50,
		StableTaxBps:            20,
		LiquidationFeeUsd:       decimal.NewFromInt(5),
		MaxLeverageBps:          50 * 10_000,
		MinProfitTime:           15 * time.Minute,
		FundingInterval:         time.Hour,
		FundingRateFactor:       600,
		StableFundingRateFactor: 600,
	}
}

// Ledger owns all per-token and per-position state. All access goes through
// its operation methods; read queries are in query.go.
type Ledger struct {
	mu sync.Mutex

	params    Params
	prices    oracle.PriceSource
	custodian custody.Custodian
	now       func() time.Time

	configs   map[string]model.AssetConfig
	assets    map[string]*model.AssetState
	positions map[string]*model.Position

	// balances is the recorded per-token custodian balance. The measured
	// balance must never fall below it; any surplus is the next
	// operation's input amount.
	balances map[string]decimal.Decimal

	stableUnitSupply decimal.Decimal
	totalWeight      int64
}

// New creates an empty ledger.
func New(params Params, prices oracle.PriceSource, custodian custody.Custodian) *Ledger {
	return &Ledger{
		params:    params,
		prices:    prices,
		custodian: custodian,
		now:       func() time.Time { return time.Now().UTC() },
		configs:   make(map[string]model.AssetConfig),
		assets:    make(map[string]*model.AssetState),
		positions: make(map[string]*model.Position),
		balances:  make(map[string]decimal.Decimal),
	}
}

// SetClock overrides the time source. Tests use this to drive funding
// intervals and the min-profit window deterministically.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// UpdateParams replaces the engine configuration.
func (l *Ledger) UpdateParams(p Params) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.params = p
}

// SetAssetConfig whitelists a token or replaces its configuration.
func (l *Ledger) SetAssetConfig(cfg model.AssetConfig) error {
	if cfg.Symbol == "" || cfg.Decimals < 0 {
		return fmt.Errorf("%w: bad asset config", ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.configs[cfg.Symbol]; ok {
		l.totalWeight -= prev.Weight
	} else {
		l.assets[cfg.Symbol] = &model.AssetState{Symbol: cfg.Symbol}
	}
	l.configs[cfg.Symbol] = cfg
	l.totalWeight += cfg.Weight
	return nil
}

// --- transaction staging ---

// pendingTransfer is an outbound custody transfer executed after commit.
type pendingTransfer struct {
	token    string
	receiver string
	amount   decimal.Decimal
}

// txn stages clones of the entries an operation touches. Nothing is visible
// to other operations (or to a failed operation's caller) until commit.
type txn struct {
	l           *Ledger
	assets      map[string]*model.AssetState
	positions   map[string]*model.Position
	deleted     map[string]bool
	balances    map[string]decimal.Decimal
	supplyDelta decimal.Decimal
	transfers   []pendingTransfer
}

func (l *Ledger) begin() *txn {
	return &txn{
		l:         l,
		assets:    make(map[string]*model.AssetState),
		positions: make(map[string]*model.Position),
		deleted:   make(map[string]bool),
		balances:  make(map[string]decimal.Decimal),
	}
}

// asset returns the staged clone for a whitelisted token.
func (t *txn) asset(token string) (*model.AssetState, error) {
	if a, ok := t.assets[token]; ok {
		return a, nil
	}
	live, ok := t.l.assets[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotWhitelisted, token)
	}
	clone := *live
	t.assets[token] = &clone
	return &clone, nil
}

// position returns the staged clone for a key, creating a fresh position
// when none exists.
func (t *txn) position(account, collateralToken, indexToken string, side model.Side) *model.Position {
	key := model.PositionKey(account, collateralToken, indexToken, side)
	if p, ok := t.positions[key]; ok {
		return p
	}
	if live, ok := t.l.positions[key]; ok {
		clone := *live
		t.positions[key] = &clone
		return &clone
	}
	p := &model.Position{
		Account:         account,
		CollateralToken: collateralToken,
		IndexToken:      indexToken,
		Side:            side,
	}
	t.positions[key] = p
	return p
}

func (t *txn) deletePosition(key string) {
	t.deleted[key] = true
	delete(t.positions, key)
}

// transferIn reconciles the custodian's measured balance against the
// recorded one and stages the new recorded value. The surplus is the
// operation's input amount; a deficit is a fatal consistency failure.
func (t *txn) transferIn(token string) (decimal.Decimal, error) {
	held := t.l.custodian.Balance(token)
	recorded := t.l.balances[token]
	if staged, ok := t.balances[token]; ok {
		recorded = staged
	}
	delta := held.Sub(recorded)
	if delta.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s held=%s recorded=%s",
			ErrBalanceDeficit, token, held, recorded)
	}
	t.balances[token] = held
	return delta, nil
}

// transferOut stages an outbound transfer and the recorded-balance change.
func (t *txn) transferOut(token, receiver string, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	recorded, ok := t.balances[token]
	if !ok {
		recorded = t.l.balances[token]
	}
	t.balances[token] = recorded.Sub(amount)
	t.transfers = append(t.transfers, pendingTransfer{token: token, receiver: receiver, amount: amount})
}

// commit publishes staged state and executes outbound transfers. Must only
// be called after every precondition has passed.
func (t *txn) commit() error {
	for sym, a := range t.assets {
		t.l.assets[sym] = a
	}
	for key, p := range t.positions {
		if !t.deleted[key] {
			t.l.positions[key] = p
		}
	}
	for key := range t.deleted {
		delete(t.l.positions, key)
	}
	for token, bal := range t.balances {
		t.l.balances[token] = bal
	}
	t.l.stableUnitSupply = t.l.stableUnitSupply.Add(t.supplyDelta)

	for _, tr := range t.transfers {
		if err := t.l.custodian.Transfer(tr.token, tr.receiver, tr.amount); err != nil {
			// State is already committed; a custody failure here is a
			// fatal reconciliation problem, not a precondition.
			return fmt.Errorf("ledger: transfer out %s %s to %s: %w",
				tr.amount, tr.token, tr.receiver, err)
		}
	}
	return nil
}

// --- price and unit helpers ---

func (l *Ledger) price(ctx context.Context, token string, maximize bool) (decimal.Decimal, error) {
	p, err := l.prices.Price(ctx, token, maximize)
	if err != nil {
		return decimal.Zero, err
	}
	if !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive price for %s", oracle.ErrNoPrice, token)
	}
	return p, nil
}

// tokenToUsdMin values incoming token amounts at the conservative low quote.
func tokenToUsdMin(amount, minPrice decimal.Decimal) decimal.Decimal {
	return amount.Mul(minPrice)
}

// usdToTokenMin converts USD to the fewest token units (divides by the high
// quote). Used for fees and payouts.
func usdToTokenMin(usd, maxPrice decimal.Decimal) decimal.Decimal {
	return usd.Div(maxPrice)
}

// usdToTokenMax converts USD to the most token units (divides by the low
// quote). Used for reserve sizing.
func usdToTokenMax(usd, minPrice decimal.Decimal) decimal.Decimal {
	return usd.Div(minPrice)
}

func (l *Ledger) config(token string) (model.AssetConfig, error) {
	cfg, ok := l.configs[token]
	if !ok {
		return model.AssetConfig{}, fmt.Errorf("%w: %s", ErrTokenNotWhitelisted, token)
	}
	return cfg, nil
}

// floorToDecimals rounds a token amount down to the token's precision.
// The caller keeps the shaved remainder in the pool.
func floorToDecimals(amount decimal.Decimal, decimals int32) decimal.Decimal {
	return amount.RoundFloor(decimals)
}

// Package model defines the core domain types shared across the pool engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a leveraged position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Valid reports whether s is one of the two supported sides.
func (s Side) Valid() bool { return s == Long || s == Short }

// IsLong is a convenience predicate used throughout the pricing code.
func (s Side) IsLong() bool { return s == Long }

// AssetConfig is the governance-injected configuration of one whitelisted
// collateral/index token. Weight is the target share of total stable-unit
// backing, relative to the sum of all weights.
type AssetConfig struct {
	Symbol                string          `json:"symbol" db:"symbol"`
	Decimals              int32           `json:"decimals" db:"decimals"`
	Weight                int64           `json:"weight" db:"weight"`
	MinProfitBps          int64           `json:"min_profit_bps" db:"min_profit_bps"`
	MaxStableUnitIssuance decimal.Decimal `json:"max_stable_unit_issuance" db:"max_stable_unit_issuance"` // 0 = unlimited
	IsStable              bool            `json:"is_stable" db:"is_stable"`
	IsShortable           bool            `json:"is_shortable" db:"is_shortable"`
	BufferAmount          decimal.Decimal `json:"buffer_amount" db:"buffer_amount"`                 // pool floor protected from redemption
	MaxGlobalShortSize    decimal.Decimal `json:"max_global_short_size" db:"max_global_short_size"` // USD, 0 = unlimited
}

// AssetState is the mutable per-token ledger state.
//
// Token-denominated fields: PoolAmount, ReservedAmount, FeeReserve,
// RecordedBalance. USD-denominated fields: GuaranteedUsd, StableUnitsIssued,
// GlobalShortSize. The funding rate is an integer scaled by
// position.FundingPrecision.
type AssetState struct {
	Symbol         string          `json:"symbol" db:"symbol"`
	PoolAmount     decimal.Decimal `json:"pool_amount" db:"pool_amount"`
	ReservedAmount decimal.Decimal `json:"reserved_amount" db:"reserved_amount"`
	FeeReserve     decimal.Decimal `json:"fee_reserve" db:"fee_reserve"`
	// RecordedBalance is the custodian balance attributed to this token:
	// pool plus fee reserve plus off-pool short collateral. The measured
	// custodian balance must never fall below it.
	RecordedBalance         decimal.Decimal `json:"recorded_balance" db:"recorded_balance"`
	GuaranteedUsd           decimal.Decimal `json:"guaranteed_usd" db:"guaranteed_usd"`
	StableUnitsIssued       decimal.Decimal `json:"stable_units_issued" db:"stable_units_issued"`
	CumulativeFundingRate   int64           `json:"cumulative_funding_rate" db:"cumulative_funding_rate"`
	LastFundingTime         time.Time       `json:"last_funding_time" db:"last_funding_time"`
	GlobalShortSize         decimal.Decimal `json:"global_short_size" db:"global_short_size"`
	GlobalShortAveragePrice decimal.Decimal `json:"global_short_average_price" db:"global_short_average_price"`
}

// Position is one account's leveraged exposure, keyed by
// (account, collateral token, index token, side).
//
// Size and Collateral are USD values; ReserveAmount is in collateral-token
// units. A position with Size zero is deleted, never stored.
type Position struct {
	Account          string          `json:"account" db:"account"`
	CollateralToken  string          `json:"collateral_token" db:"collateral_token"`
	IndexToken       string          `json:"index_token" db:"index_token"`
	Side             Side            `json:"side" db:"side"`
	Size             decimal.Decimal `json:"size" db:"size"`
	Collateral       decimal.Decimal `json:"collateral" db:"collateral"`
	AveragePrice     decimal.Decimal `json:"average_price" db:"average_price"`
	EntryFundingRate int64           `json:"entry_funding_rate" db:"entry_funding_rate"`
	ReserveAmount    decimal.Decimal `json:"reserve_amount" db:"reserve_amount"`
	RealizedPnl      decimal.Decimal `json:"realized_pnl" db:"realized_pnl"` // signed
	LastIncreaseTime time.Time       `json:"last_increase_time" db:"last_increase_time"`
}

// Key returns the ledger map key for this position.
func (p *Position) Key() string {
	return PositionKey(p.Account, p.CollateralToken, p.IndexToken, p.Side)
}

// PositionKey builds the canonical position key.
func PositionKey(account, collateralToken, indexToken string, side Side) string {
	return fmt.Sprintf("%s|%s|%s|%s", account, collateralToken, indexToken, side)
}

// JournalEntry is an immutable record of one committed ledger operation.
// Once created, these are never modified or deleted.
type JournalEntry struct {
	ID         string          `json:"id" db:"id"`
	Op         string          `json:"op" db:"op"` // buy_stable, sell_stable, swap, increase, decrease, liquidate, withdraw_fees
	Account    string          `json:"account" db:"account"`
	TokenIn    string          `json:"token_in" db:"token_in"`
	TokenOut   string          `json:"token_out" db:"token_out"`
	IndexToken string          `json:"index_token,omitempty" db:"index_token"`
	Side       Side            `json:"side,omitempty" db:"side"`
	AmountIn   decimal.Decimal `json:"amount_in" db:"amount_in"`
	AmountOut  decimal.Decimal `json:"amount_out" db:"amount_out"`
	SizeDelta  decimal.Decimal `json:"size_delta" db:"size_delta"`
	FeeUsd     decimal.Decimal `json:"fee_usd" db:"fee_usd"`
	Price      decimal.Decimal `json:"price" db:"price"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
}

// PoolSnapshot is the read-model view of one token's state, exposed to the
// external pool-valuation collaborator.
type PoolSnapshot struct {
	Symbol                  string          `json:"symbol"`
	Config                  AssetConfig     `json:"config"`
	PoolAmount              decimal.Decimal `json:"pool_amount"`
	ReservedAmount          decimal.Decimal `json:"reserved_amount"`
	FeeReserve              decimal.Decimal `json:"fee_reserve"`
	GuaranteedUsd           decimal.Decimal `json:"guaranteed_usd"`
	StableUnitsIssued       decimal.Decimal `json:"stable_units_issued"`
	CumulativeFundingRate   int64           `json:"cumulative_funding_rate"`
	GlobalShortSize         decimal.Decimal `json:"global_short_size"`
	GlobalShortAveragePrice decimal.Decimal `json:"global_short_average_price"`
}

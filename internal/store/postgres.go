package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/synthpool/margin-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) UpsertAssetConfig(ctx context.Context, cfg *model.AssetConfig) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO asset_configs (symbol, decimals, weight, min_profit_bps, max_stable_unit_issuance,
		                            is_stable, is_shortable, buffer_amount, max_global_short_size)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8::NUMERIC, $9::NUMERIC)
		 ON CONFLICT (symbol) DO UPDATE SET
		   decimals = EXCLUDED.decimals,
		   weight = EXCLUDED.weight,
		   min_profit_bps = EXCLUDED.min_profit_bps,
		   max_stable_unit_issuance = EXCLUDED.max_stable_unit_issuance,
		   is_stable = EXCLUDED.is_stable,
		   is_shortable = EXCLUDED.is_shortable,
		   buffer_amount = EXCLUDED.buffer_amount,
		   max_global_short_size = EXCLUDED.max_global_short_size`,
		cfg.Symbol, cfg.Decimals, cfg.Weight, cfg.MinProfitBps,
		cfg.MaxStableUnitIssuance.String(), cfg.IsStable, cfg.IsShortable,
		cfg.BufferAmount.String(), cfg.MaxGlobalShortSize.String(),
	)
	return err
}

func (s *PostgresStore) GetAssetConfig(ctx context.Context, symbol string) (*model.AssetConfig, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT symbol, decimals, weight, min_profit_bps,
		        max_stable_unit_issuance::TEXT, is_stable, is_shortable,
		        buffer_amount::TEXT, max_global_short_size::TEXT
		 FROM asset_configs WHERE symbol = $1`, symbol)

	cfg, err := scanAssetConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("asset config %s: %w", symbol, ErrNotFound)
		}
		return nil, fmt.Errorf("get asset config %s: %w", symbol, err)
	}
	return cfg, nil
}

func (s *PostgresStore) ListAssetConfigs(ctx context.Context) ([]model.AssetConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, decimals, weight, min_profit_bps,
		        max_stable_unit_issuance::TEXT, is_stable, is_shortable,
		        buffer_amount::TEXT, max_global_short_size::TEXT
		 FROM asset_configs ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []model.AssetConfig
	for rows.Next() {
		cfg, err := scanAssetConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

func (s *PostgresStore) UpsertAssetState(ctx context.Context, a *model.AssetState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO asset_states (symbol, pool_amount, reserved_amount, fee_reserve, recorded_balance,
		                           guaranteed_usd, stable_units_issued, cumulative_funding_rate,
		                           last_funding_time, global_short_size, global_short_average_price)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10::NUMERIC, $11::NUMERIC)
		 ON CONFLICT (symbol) DO UPDATE SET
		   pool_amount = EXCLUDED.pool_amount,
		   reserved_amount = EXCLUDED.reserved_amount,
		   fee_reserve = EXCLUDED.fee_reserve,
		   recorded_balance = EXCLUDED.recorded_balance,
		   guaranteed_usd = EXCLUDED.guaranteed_usd,
		   stable_units_issued = EXCLUDED.stable_units_issued,
		   cumulative_funding_rate = EXCLUDED.cumulative_funding_rate,
		   last_funding_time = EXCLUDED.last_funding_time,
		   global_short_size = EXCLUDED.global_short_size,
		   global_short_average_price = EXCLUDED.global_short_average_price`,
		a.Symbol, a.PoolAmount.String(), a.ReservedAmount.String(), a.FeeReserve.String(),
		a.RecordedBalance.String(), a.GuaranteedUsd.String(), a.StableUnitsIssued.String(),
		a.CumulativeFundingRate, a.LastFundingTime, a.GlobalShortSize.String(),
		a.GlobalShortAveragePrice.String(),
	)
	return err
}

func (s *PostgresStore) GetAssetState(ctx context.Context, symbol string) (*model.AssetState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT symbol, pool_amount::TEXT, reserved_amount::TEXT, fee_reserve::TEXT,
		        recorded_balance::TEXT, guaranteed_usd::TEXT, stable_units_issued::TEXT,
		        cumulative_funding_rate, last_funding_time,
		        global_short_size::TEXT, global_short_average_price::TEXT
		 FROM asset_states WHERE symbol = $1`, symbol)

	a, err := scanAssetState(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("asset state %s: %w", symbol, ErrNotFound)
		}
		return nil, fmt.Errorf("get asset state %s: %w", symbol, err)
	}
	return a, nil
}

func (s *PostgresStore) ListAssetStates(ctx context.Context) ([]model.AssetState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, pool_amount::TEXT, reserved_amount::TEXT, fee_reserve::TEXT,
		        recorded_balance::TEXT, guaranteed_usd::TEXT, stable_units_issued::TEXT,
		        cumulative_funding_rate, last_funding_time,
		        global_short_size::TEXT, global_short_average_price::TEXT
		 FROM asset_states ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []model.AssetState
	for rows.Next() {
		a, err := scanAssetState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, *a)
	}
	return states, rows.Err()
}

func (s *PostgresStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (key, account, collateral_token, index_token, side, size, collateral,
		                        average_price, entry_funding_rate, reserve_amount, realized_pnl, last_increase_time)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10::NUMERIC, $11::NUMERIC, $12)
		 ON CONFLICT (key) DO UPDATE SET
		   size = EXCLUDED.size,
		   collateral = EXCLUDED.collateral,
		   average_price = EXCLUDED.average_price,
		   entry_funding_rate = EXCLUDED.entry_funding_rate,
		   reserve_amount = EXCLUDED.reserve_amount,
		   realized_pnl = EXCLUDED.realized_pnl,
		   last_increase_time = EXCLUDED.last_increase_time`,
		p.Key(), p.Account, p.CollateralToken, p.IndexToken, p.Side,
		p.Size.String(), p.Collateral.String(), p.AveragePrice.String(),
		p.EntryFundingRate, p.ReserveAmount.String(), p.RealizedPnl.String(),
		p.LastIncreaseTime,
	)
	return err
}

func (s *PostgresStore) DeletePosition(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE key = $1`, key)
	return err
}

func (s *PostgresStore) GetPosition(ctx context.Context, key string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT account, collateral_token, index_token, side, size::TEXT, collateral::TEXT,
		        average_price::TEXT, entry_funding_rate, reserve_amount::TEXT, realized_pnl::TEXT,
		        last_increase_time
		 FROM positions WHERE key = $1`, key)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("position %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("get position %s: %w", key, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, account string) ([]model.Position, error) {
	query := `SELECT account, collateral_token, index_token, side, size::TEXT, collateral::TEXT,
	                 average_price::TEXT, entry_funding_rate, reserve_amount::TEXT, realized_pnl::TEXT,
	                 last_increase_time
	          FROM positions`
	args := []any{}
	if account != "" {
		query += ` WHERE account = $1`
		args = append(args, account)
	}
	query += ` ORDER BY key`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) InsertJournalEntry(ctx context.Context, e *model.JournalEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO journal_entries (id, op, account, token_in, token_out, index_token, side,
		                              amount_in, amount_out, size_delta, fee_usd, price, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13)`,
		e.ID, e.Op, e.Account, e.TokenIn, e.TokenOut, e.IndexToken, e.Side,
		e.AmountIn.String(), e.AmountOut.String(), e.SizeDelta.String(),
		e.FeeUsd.String(), e.Price.String(), e.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetJournalByAccount(ctx context.Context, account string) ([]model.JournalEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, op, account, token_in, token_out, index_token, side,
		        amount_in::TEXT, amount_out::TEXT, size_delta::TEXT, fee_usd::TEXT, price::TEXT, timestamp
		 FROM journal_entries WHERE account = $1 ORDER BY timestamp`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.JournalEntry
	for rows.Next() {
		var e model.JournalEntry
		var amountIn, amountOut, sizeDelta, feeUsd, price string
		if err := rows.Scan(&e.ID, &e.Op, &e.Account, &e.TokenIn, &e.TokenOut, &e.IndexToken, &e.Side,
			&amountIn, &amountOut, &sizeDelta, &feeUsd, &price, &e.Timestamp); err != nil {
			return nil, err
		}
		e.AmountIn, _ = decimal.NewFromString(amountIn)
		e.AmountOut, _ = decimal.NewFromString(amountOut)
		e.SizeDelta, _ = decimal.NewFromString(sizeDelta)
		e.FeeUsd, _ = decimal.NewFromString(feeUsd)
		e.Price, _ = decimal.NewFromString(price)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) SaveStableUnitSupply(ctx context.Context, supply decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO engine_meta (key, value) VALUES ('stable_unit_supply', $1::NUMERIC)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		supply.String())
	return err
}

func (s *PostgresStore) LoadStableUnitSupply(ctx context.Context) (decimal.Decimal, error) {
	var v string
	err := s.pool.QueryRow(ctx,
		`SELECT value::TEXT FROM engine_meta WHERE key = 'stable_unit_supply'`).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Decimal{}, err
	}
	supply, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse stable unit supply %q: %w", v, err)
	}
	return supply, nil
}

// --- row scanning helpers ---

type pgxRow interface {
	Scan(dest ...any) error
}

func scanAssetConfig(row pgxRow) (*model.AssetConfig, error) {
	var cfg model.AssetConfig
	var maxIssuance, buffer, maxShorts string

	if err := row.Scan(&cfg.Symbol, &cfg.Decimals, &cfg.Weight, &cfg.MinProfitBps,
		&maxIssuance, &cfg.IsStable, &cfg.IsShortable, &buffer, &maxShorts); err != nil {
		return nil, err
	}
	cfg.MaxStableUnitIssuance, _ = decimal.NewFromString(maxIssuance)
	cfg.BufferAmount, _ = decimal.NewFromString(buffer)
	cfg.MaxGlobalShortSize, _ = decimal.NewFromString(maxShorts)
	return &cfg, nil
}

func scanAssetState(row pgxRow) (*model.AssetState, error) {
	var a model.AssetState
	var pool, reserved, feeReserve, recorded, guaranteed, issued, shortSize, shortAvg string

	if err := row.Scan(&a.Symbol, &pool, &reserved, &feeReserve, &recorded, &guaranteed, &issued,
		&a.CumulativeFundingRate, &a.LastFundingTime, &shortSize, &shortAvg); err != nil {
		return nil, err
	}
	a.PoolAmount, _ = decimal.NewFromString(pool)
	a.ReservedAmount, _ = decimal.NewFromString(reserved)
	a.FeeReserve, _ = decimal.NewFromString(feeReserve)
	a.RecordedBalance, _ = decimal.NewFromString(recorded)
	a.GuaranteedUsd, _ = decimal.NewFromString(guaranteed)
	a.StableUnitsIssued, _ = decimal.NewFromString(issued)
	a.GlobalShortSize, _ = decimal.NewFromString(shortSize)
	a.GlobalShortAveragePrice, _ = decimal.NewFromString(shortAvg)
	return &a, nil
}

func scanPosition(row pgxRow) (*model.Position, error) {
	var p model.Position
	var size, collateral, avgPrice, reserve, realized string

	if err := row.Scan(&p.Account, &p.CollateralToken, &p.IndexToken, &p.Side,
		&size, &collateral, &avgPrice, &p.EntryFundingRate, &reserve, &realized,
		&p.LastIncreaseTime); err != nil {
		return nil, err
	}
	p.Size, _ = decimal.NewFromString(size)
	p.Collateral, _ = decimal.NewFromString(collateral)
	p.AveragePrice, _ = decimal.NewFromString(avgPrice)
	p.ReserveAmount, _ = decimal.NewFromString(reserve)
	p.RealizedPnl, _ = decimal.NewFromString(realized)
	return &p, nil
}

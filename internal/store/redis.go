package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/synthpool/margin-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh or invalidate cache) ---

func (s *CachedStore) UpsertAssetConfig(ctx context.Context, cfg *model.AssetConfig) error {
	if err := s.primary.UpsertAssetConfig(ctx, cfg); err != nil {
		return err
	}
	s.rdb.Del(ctx, configKey(cfg.Symbol))
	return nil
}

func (s *CachedStore) UpsertAssetState(ctx context.Context, a *model.AssetState) error {
	if err := s.primary.UpsertAssetState(ctx, a); err != nil {
		return err
	}
	s.cacheState(ctx, a)
	return nil
}

func (s *CachedStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.UpsertPosition(ctx, p); err != nil {
		return err
	}
	// Invalidate the account's position listing; next read re-populates.
	s.rdb.Del(ctx, positionsKey(p.Account))
	return nil
}

func (s *CachedStore) DeletePosition(ctx context.Context, key string) error {
	if err := s.primary.DeletePosition(ctx, key); err != nil {
		return err
	}
	// The key embeds the account as its first segment.
	if account, _, found := strings.Cut(key, "|"); found {
		s.rdb.Del(ctx, positionsKey(account))
	}
	return nil
}

func (s *CachedStore) InsertJournalEntry(ctx context.Context, e *model.JournalEntry) error {
	return s.primary.InsertJournalEntry(ctx, e)
}

func (s *CachedStore) SaveStableUnitSupply(ctx context.Context, supply decimal.Decimal) error {
	return s.primary.SaveStableUnitSupply(ctx, supply)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAssetState(ctx context.Context, symbol string) (*model.AssetState, error) {
	data, err := s.rdb.Get(ctx, stateKey(symbol)).Bytes()
	if err == nil {
		var a model.AssetState
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAssetState(ctx, symbol)
	if err != nil {
		return nil, err
	}
	s.cacheState(ctx, a)
	return a, nil
}

func (s *CachedStore) GetAssetConfig(ctx context.Context, symbol string) (*model.AssetConfig, error) {
	data, err := s.rdb.Get(ctx, configKey(symbol)).Bytes()
	if err == nil {
		var cfg model.AssetConfig
		if json.Unmarshal(data, &cfg) == nil {
			return &cfg, nil
		}
	}

	cfg, err := s.primary.GetAssetConfig(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(cfg); err == nil {
		s.rdb.Set(ctx, configKey(symbol), data, s.ttl)
	}
	return cfg, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, account string) ([]model.Position, error) {
	if account == "" {
		return s.primary.ListPositions(ctx, account)
	}

	data, err := s.rdb.Get(ctx, positionsKey(account)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListPositions(ctx, account)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(account), data, s.ttl)
	}
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAssetConfigs(ctx context.Context) ([]model.AssetConfig, error) {
	return s.primary.ListAssetConfigs(ctx)
}

func (s *CachedStore) ListAssetStates(ctx context.Context) ([]model.AssetState, error) {
	return s.primary.ListAssetStates(ctx)
}

func (s *CachedStore) GetPosition(ctx context.Context, key string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, key)
}

func (s *CachedStore) GetJournalByAccount(ctx context.Context, account string) ([]model.JournalEntry, error) {
	return s.primary.GetJournalByAccount(ctx, account)
}

func (s *CachedStore) LoadStableUnitSupply(ctx context.Context) (decimal.Decimal, error) {
	return s.primary.LoadStableUnitSupply(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheState(ctx context.Context, a *model.AssetState) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, stateKey(a.Symbol), data, s.ttl)
	}
}

func stateKey(symbol string) string   { return fmt.Sprintf("asset:%s", symbol) }
func configKey(symbol string) string  { return fmt.Sprintf("config:%s", symbol) }
func positionsKey(acct string) string { return fmt.Sprintf("positions:%s", acct) }

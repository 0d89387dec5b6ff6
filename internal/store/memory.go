package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/synthpool/margin-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	configs   map[string]model.AssetConfig
	states    map[string]model.AssetState
	positions map[string]model.Position
	journal   []model.JournalEntry
	supply    decimal.Decimal
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs:   make(map[string]model.AssetConfig),
		states:    make(map[string]model.AssetState),
		positions: make(map[string]model.Position),
	}
}

func (s *MemoryStore) UpsertAssetConfig(_ context.Context, cfg *model.AssetConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.Symbol] = *cfg
	return nil
}

func (s *MemoryStore) GetAssetConfig(_ context.Context, symbol string) (*model.AssetConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[symbol]
	if !ok {
		return nil, fmt.Errorf("asset config %s: %w", symbol, ErrNotFound)
	}
	return &cfg, nil
}

func (s *MemoryStore) ListAssetConfigs(_ context.Context) ([]model.AssetConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.AssetConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *MemoryStore) UpsertAssetState(_ context.Context, a *model.AssetState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[a.Symbol] = *a
	return nil
}

func (s *MemoryStore) GetAssetState(_ context.Context, symbol string) (*model.AssetState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.states[symbol]
	if !ok {
		return nil, fmt.Errorf("asset state %s: %w", symbol, ErrNotFound)
	}
	return &a, nil
}

func (s *MemoryStore) ListAssetStates(_ context.Context) ([]model.AssetState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.AssetState, 0, len(s.states))
	for _, a := range s.states {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *MemoryStore) UpsertPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.Key()] = *p
	return nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, key)
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, key string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[key]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", key, ErrNotFound)
	}
	return &p, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, account string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, p := range s.positions {
		if account != "" && p.Account != account {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *MemoryStore) InsertJournalEntry(_ context.Context, e *model.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = append(s.journal, *e)
	return nil
}

func (s *MemoryStore) GetJournalByAccount(_ context.Context, account string) ([]model.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.JournalEntry
	for _, e := range s.journal {
		if e.Account == account {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveStableUnitSupply(_ context.Context, supply decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supply = supply
	return nil
}

func (s *MemoryStore) LoadStableUnitSupply(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.supply, nil
}

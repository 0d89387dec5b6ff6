// Package store defines the persistence interface for the pool engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/synthpool/margin-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. The engine rebuilds its
// in-memory state from the store at startup and writes back after every
// committed operation.
type Store interface {
	// --- Asset configuration ---

	// UpsertAssetConfig persists a whitelist entry.
	UpsertAssetConfig(ctx context.Context, cfg *model.AssetConfig) error

	// GetAssetConfig retrieves one whitelist entry by symbol.
	GetAssetConfig(ctx context.Context, symbol string) (*model.AssetConfig, error)

	// ListAssetConfigs returns every whitelist entry.
	ListAssetConfigs(ctx context.Context) ([]model.AssetConfig, error)

	// --- Asset state ---

	// UpsertAssetState persists a token's pool-side accounting.
	UpsertAssetState(ctx context.Context, a *model.AssetState) error

	// GetAssetState retrieves one token's state by symbol.
	GetAssetState(ctx context.Context, symbol string) (*model.AssetState, error)

	// ListAssetStates returns every token's state.
	ListAssetStates(ctx context.Context) ([]model.AssetState, error)

	// --- Positions ---

	// UpsertPosition persists a position keyed by its canonical key.
	UpsertPosition(ctx context.Context, p *model.Position) error

	// DeletePosition removes a closed or liquidated position.
	DeletePosition(ctx context.Context, key string) error

	// GetPosition retrieves one position by its canonical key.
	GetPosition(ctx context.Context, key string) (*model.Position, error)

	// ListPositions returns open positions, optionally filtered by account
	// (empty account means all).
	ListPositions(ctx context.Context, account string) ([]model.Position, error)

	// --- Immutable journal ---

	// InsertJournalEntry appends an immutable operation record.
	InsertJournalEntry(ctx context.Context, e *model.JournalEntry) error

	// GetJournalByAccount returns all operations touching an account.
	GetJournalByAccount(ctx context.Context, account string) ([]model.JournalEntry, error)

	// --- Supply ---

	// SaveStableUnitSupply persists total outstanding stable units.
	SaveStableUnitSupply(ctx context.Context, supply decimal.Decimal) error

	// LoadStableUnitSupply retrieves total outstanding stable units.
	// Returns zero (not ErrNotFound) when never saved.
	LoadStableUnitSupply(ctx context.Context) (decimal.Decimal, error)
}

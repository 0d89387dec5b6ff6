// Package oracle is the thin adapter over the external price aggregation
// collaborator. The engine asks for either the conservative high quote
// (maximize=true) or the conservative low quote (maximize=false); staleness
// and deviation filtering are the collaborator's responsibility.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrNoPrice is returned when no quote is available for a token.
var ErrNoPrice = errors.New("oracle: no price for token")

// PriceSource provides min/max USD quotes per token. Both bounds of a quote
// come from the same oracle round; callers may fetch min and max within one
// operation without risking a mixed round.
type PriceSource interface {
	Price(ctx context.Context, token string, maximize bool) (decimal.Decimal, error)
}

// quote holds one oracle round for a token.
type quote struct {
	min decimal.Decimal
	max decimal.Decimal
}

// StaticSource is an in-memory PriceSource with settable quotes. Used by the
// dev server and by tests; production deployments inject a real aggregator.
type StaticSource struct {
	mu     sync.RWMutex
	quotes map[string]quote
}

// NewStaticSource creates an empty static price source.
func NewStaticSource() *StaticSource {
	return &StaticSource{quotes: make(map[string]quote)}
}

// Set records a new round with identical min and max quotes.
func (s *StaticSource) Set(token string, price decimal.Decimal) {
	s.SetSpread(token, price, price)
}

// SetSpread records a new round with distinct low and high quotes.
func (s *StaticSource) SetSpread(token string, min, max decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[token] = quote{min: min, max: max}
}

// Price implements PriceSource.
func (s *StaticSource) Price(_ context.Context, token string, maximize bool) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotes[token]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoPrice, token)
	}
	if maximize {
		return q.max, nil
	}
	return q.min, nil
}

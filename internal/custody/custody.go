// Package custody abstracts the external asset-transfer collaborator. The
// ledger never trusts caller-declared deposit amounts: it measures the
// custodian's balance and reconciles the delta, which tolerates assets that
// apply their own transfer-time deductions.
package custody

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrInsufficientBalance is returned when a transfer out exceeds the held
// balance.
var ErrInsufficientBalance = errors.New("custody: insufficient balance")

// Custodian holds the tokens backing the pool. Balance is the measured
// holding used for reconciliation; Transfer pushes tokens out.
type Custodian interface {
	Balance(token string) decimal.Decimal
	Transfer(token, receiver string, amount decimal.Decimal) error
}

// InMemory is a Custodian for tests and the dev server. Deposits model the
// external transfer that precedes a ledger operation.
type InMemory struct {
	mu       sync.Mutex
	held     map[string]decimal.Decimal
	paid     map[string]decimal.Decimal // receiver|token → total paid out
}

// NewInMemory creates an empty in-memory custodian.
func NewInMemory() *InMemory {
	return &InMemory{
		held: make(map[string]decimal.Decimal),
		paid: make(map[string]decimal.Decimal),
	}
}

// Deposit credits tokens to the custodian, as an external transfer would.
func (c *InMemory) Deposit(token string, amount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.held[token] = c.held[token].Add(amount)
}

// Balance implements Custodian.
func (c *InMemory) Balance(token string) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held[token]
}

// Transfer implements Custodian.
func (c *InMemory) Transfer(token, receiver string, amount decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if amount.GreaterThan(c.held[token]) {
		return fmt.Errorf("%w: %s %s > held %s", ErrInsufficientBalance, amount, token, c.held[token])
	}
	c.held[token] = c.held[token].Sub(amount)
	key := receiver + "|" + token
	c.paid[key] = c.paid[key].Add(amount)
	return nil
}

// PaidTo reports the cumulative amount transferred to a receiver. Tests use
// this to assert payouts.
func (c *InMemory) PaidTo(receiver, token string) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paid[receiver+"|"+token]
}

// Package ledger provides the host-environment collaborators the engine
// consumes: an in-memory multi-currency fungible-token ledger and a
// simulated chain clock. Production deployments substitute their own
// implementations of the domain interfaces.
package ledger

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/obligo/bondengine/internal/domain"
)

// Ledger holds every currency. Currencies are created once, up front, and
// shared by handle.
type Ledger struct {
	mu         sync.RWMutex
	currencies map[string]*Token
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{currencies: make(map[string]*Token)}
}

// NewCurrency registers a currency under symbol and returns its handle.
// Registering an existing symbol returns the existing handle.
func (l *Ledger) NewCurrency(symbol string) *Token {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.currencies[symbol]; ok {
		return t
	}
	t := &Token{
		symbol:     symbol,
		balances:   make(map[common.Address]uint64),
		allowances: make(map[common.Address]map[common.Address]uint64),
	}
	l.currencies[symbol] = t
	return t
}

// Currency returns the handle for symbol, or nil when unknown.
func (l *Ledger) Currency(symbol string) *Token {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.currencies[symbol]
}

// Token is one fungible currency inside the Ledger. It implements
// domain.Currency: transfers fail on insufficient balance or allowance
// and are otherwise unconditional.
type Token struct {
	mu         sync.RWMutex
	symbol     string
	balances   map[common.Address]uint64
	allowances map[common.Address]map[common.Address]uint64
}

// Symbol returns the currency symbol.
func (t *Token) Symbol() string {
	return t.symbol
}

// Mint credits amount to an account out of thin air. Host-side privilege;
// the engine itself never mints currency.
func (t *Token) Mint(to common.Address, amount uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[to] += amount
}

// Approve grants spender the right to move up to amount of owner's funds.
// It overwrites any earlier allowance.
func (t *Token) Approve(owner, spender common.Address, amount uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[common.Address]uint64)
		t.allowances[owner] = m
	}
	m[spender] = amount
}

// BalanceOf returns the current balance of an account.
func (t *Token) BalanceOf(account common.Address) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balances[account]
}

// Allowance returns how much spender may still move from owner.
func (t *Token) Allowance(owner, spender common.Address) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allowances[owner][spender]
}

// Transfer moves amount from the caller's own holdings to the recipient.
func (t *Token) Transfer(from, to common.Address, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.balances[from] < amount {
		return fmt.Errorf("ledger: %s transfer of %d from %s: %w", t.symbol, amount, from, domain.ErrInsufficientBalance)
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	return nil
}

// TransferFrom moves amount from owner to the recipient, consuming
// spender's allowance.
func (t *Token) TransferFrom(spender, owner, to common.Address, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[owner][spender] < amount {
		return fmt.Errorf("ledger: %s transferFrom of %d by %s: %w", t.symbol, amount, spender, domain.ErrInsufficientAllowance)
	}
	if t.balances[owner] < amount {
		return fmt.Errorf("ledger: %s transferFrom of %d from %s: %w", t.symbol, amount, owner, domain.ErrInsufficientBalance)
	}
	t.allowances[owner][spender] -= amount
	t.balances[owner] -= amount
	t.balances[to] += amount
	return nil
}

// Compile-time interface check.
var _ domain.Currency = (*Token)(nil)

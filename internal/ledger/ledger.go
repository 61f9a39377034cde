// Package ledger tracks holder balances per token and moves value
// between accounts. It is the default value-transfer backend behind the
// debit service: the holder funds an account once, and each authorized
// debit moves base units from the holder to an approved destination.
//
// Amounts are uint64 token base units. Balances never go negative; a move
// exceeding the source balance fails with ErrInsufficientBalance and
// changes nothing.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/pullpay/internal/identity"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrInvalidAmount       = errors.New("ledger: amount must be positive")
)

// Entry is one immutable ledger line.
type Entry struct {
	ID           string    `json:"id"`
	Token        string    `json:"token"`
	Account      string    `json:"account"`
	Type         string    `json:"type"` // deposit, debit_out, debit_in
	Amount       uint64    `json:"amount"`
	Counterparty string    `json:"counterparty,omitempty"`
	Reference    string    `json:"reference,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Store persists balances and entries.
type Store interface {
	// Balance returns the account's balance; unknown accounts are 0.
	Balance(ctx context.Context, token, account identity.Identity) (uint64, error)

	// Deposit credits an account.
	Deposit(ctx context.Context, token, account identity.Identity, amount uint64) error

	// Move atomically transfers amount from one account to another.
	// ErrInsufficientBalance if the source balance is too low.
	Move(ctx context.Context, token, from, to identity.Identity, amount uint64, reference string) error

	// History returns the most recent entries for an account.
	History(ctx context.Context, token, account identity.Identity, limit int) ([]*Entry, error)
}

// Ledger manages holder balances. It satisfies the debit service's
// Transferer interface.
type Ledger struct {
	store Store
}

// New creates a ledger over the given store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Balance returns an account's balance for a token.
func (l *Ledger) Balance(ctx context.Context, token, account identity.Identity) (uint64, error) {
	return l.store.Balance(ctx, token, account)
}

// Deposit credits an account. How value arrived (on-chain deposit, bank
// rail, test fixture) is the host's concern.
func (l *Ledger) Deposit(ctx context.Context, token, account identity.Identity, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	return l.store.Deposit(ctx, token, account, amount)
}

// Transfer moves amount of token from one account to another under the
// holder's standing delegation to the engine.
func (l *Ledger) Transfer(ctx context.Context, token, from, to identity.Identity, amount uint64, reference string) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	return l.store.Move(ctx, token, from, to, amount, reference)
}

// History returns the most recent entries for an account.
func (l *Ledger) History(ctx context.Context, token, account identity.Identity, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.History(ctx, token, account, limit)
}

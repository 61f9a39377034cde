package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/mbd888/pullpay/internal/identity"
	"github.com/mbd888/pullpay/internal/idgen"
)

type balanceKey struct {
	token   identity.Identity
	account identity.Identity
}

// MemoryStore is an in-memory ledger store for tests and demo mode.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[balanceKey]uint64
	entries  []*Entry
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{balances: make(map[balanceKey]uint64)}
}

func (m *MemoryStore) Balance(_ context.Context, token, account identity.Identity) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[balanceKey{token, account}], nil
}

func (m *MemoryStore) Deposit(_ context.Context, token, account identity.Identity, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.balances[balanceKey{token, account}] += amount
	m.append(&Entry{
		Token:   token.String(),
		Account: account.String(),
		Type:    "deposit",
		Amount:  amount,
	})
	return nil
}

func (m *MemoryStore) Move(_ context.Context, token, from, to identity.Identity, amount uint64, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fromKey := balanceKey{token, from}
	if m.balances[fromKey] < amount {
		return ErrInsufficientBalance
	}
	m.balances[fromKey] -= amount
	m.balances[balanceKey{token, to}] += amount

	m.append(&Entry{
		Token:        token.String(),
		Account:      from.String(),
		Type:         "debit_out",
		Amount:       amount,
		Counterparty: to.String(),
		Reference:    reference,
	})
	m.append(&Entry{
		Token:        token.String(),
		Account:      to.String(),
		Type:         "debit_in",
		Amount:       amount,
		Counterparty: from.String(),
		Reference:    reference,
	})
	return nil
}

func (m *MemoryStore) History(_ context.Context, token, account identity.Identity, limit int) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, acct := token.String(), account.String()
	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := m.entries[i]
		if e.Token == tok && e.Account == acct {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *MemoryStore) append(e *Entry) {
	e.ID = idgen.WithPrefix("led_")
	e.CreatedAt = time.Now().UTC()
	m.entries = append(m.entries, e)
}

var _ Store = (*MemoryStore)(nil)

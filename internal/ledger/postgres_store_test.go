package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/mbd888/pullpay/internal/testutil"
)

func TestPostgresStore_MoveAndHistory(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	l := New(NewPostgresStore(db))

	if err := l.Deposit(ctx, usd, alice, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.Transfer(ctx, usd, alice, bob, 400, "pgref-1"); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if bal, err := l.Balance(ctx, usd, alice); err != nil || bal != 600 {
		t.Errorf("alice balance = %d (%v), want 600", bal, err)
	}
	if bal, err := l.Balance(ctx, usd, bob); err != nil || bal != 400 {
		t.Errorf("bob balance = %d (%v), want 400", bal, err)
	}

	if err := l.Transfer(ctx, usd, alice, bob, 601, "pgref-2"); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("overdraw: got %v, want ErrInsufficientBalance", err)
	}
	if bal, _ := l.Balance(ctx, usd, alice); bal != 600 {
		t.Errorf("failed move changed balance: %d", bal)
	}

	entries, err := l.History(ctx, usd, alice, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Type != "debit_out" || entries[0].Reference != "pgref-1" {
		t.Errorf("entries[0] = %+v", entries[0])
	}
}

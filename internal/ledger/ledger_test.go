package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/mbd888/pullpay/internal/identity"
)

var (
	usd   = identity.MustParse("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	alice = identity.MustParse("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	bob   = identity.MustParse("cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc")
)

func TestLedger_DepositAndBalance(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore())

	if bal, _ := l.Balance(ctx, usd, alice); bal != 0 {
		t.Errorf("unknown account balance = %d, want 0", bal)
	}

	if err := l.Deposit(ctx, usd, alice, 500); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.Deposit(ctx, usd, alice, 250); err != nil {
		t.Fatalf("second deposit: %v", err)
	}

	if bal, _ := l.Balance(ctx, usd, alice); bal != 750 {
		t.Errorf("balance = %d, want 750", bal)
	}
}

func TestLedger_DepositZero(t *testing.T) {
	l := New(NewMemoryStore())

	if err := l.Deposit(context.Background(), usd, alice, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("got %v, want ErrInvalidAmount", err)
	}
}

func TestLedger_Transfer(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore())

	if err := l.Deposit(ctx, usd, alice, 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.Transfer(ctx, usd, alice, bob, 60, "ref-1"); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if bal, _ := l.Balance(ctx, usd, alice); bal != 40 {
		t.Errorf("alice balance = %d, want 40", bal)
	}
	if bal, _ := l.Balance(ctx, usd, bob); bal != 60 {
		t.Errorf("bob balance = %d, want 60", bal)
	}
}

func TestLedger_TransferInsufficient(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore())

	if err := l.Deposit(ctx, usd, alice, 50); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.Transfer(ctx, usd, alice, bob, 51, "ref-2"); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}

	// Nothing moved.
	if bal, _ := l.Balance(ctx, usd, alice); bal != 50 {
		t.Errorf("alice balance = %d, want 50", bal)
	}
	if bal, _ := l.Balance(ctx, usd, bob); bal != 0 {
		t.Errorf("bob balance = %d, want 0", bal)
	}
}

func TestLedger_TokensAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore())
	other := identity.MustParse("dddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddd")

	if err := l.Deposit(ctx, usd, alice, 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.Transfer(ctx, other, alice, bob, 1, "ref-3"); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("balance leaked across tokens: %v", err)
	}
}

func TestLedger_History(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore())

	if err := l.Deposit(ctx, usd, alice, 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.Transfer(ctx, usd, alice, bob, 30, "ref-4"); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	entries, err := l.History(ctx, usd, alice, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	// Newest first.
	if entries[0].Type != "debit_out" || entries[0].Reference != "ref-4" {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Type != "deposit" || entries[1].Amount != 100 {
		t.Errorf("entries[1] = %+v", entries[1])
	}

	bobEntries, err := l.History(ctx, usd, bob, 10)
	if err != nil {
		t.Fatalf("bob history: %v", err)
	}
	if len(bobEntries) != 1 || bobEntries[0].Type != "debit_in" {
		t.Errorf("bob entries = %+v", bobEntries)
	}
}

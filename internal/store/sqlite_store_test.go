package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mbd888/pullpay/internal/record"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	a := addr(200)

	if _, err := s.Get(ctx, a); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing: got %v, want ErrNotFound", err)
	}

	if err := s.Create(ctx, a, &record.MerchantManager{Manager: ent}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, a, &record.MerchantManager{Manager: ent}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate create: got %v, want ErrAlreadyExists", err)
	}

	rec, err := s.Get(ctx, a)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.(*record.MerchantManager).Manager != ent {
		t.Errorf("unexpected record: %+v", rec)
	}

	if err := s.Delete(ctx, a); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestSQLiteStore_TxRollback(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	a := addr(201)
	boom := errors.New("boom")

	if err := s.Put(ctx, a, &record.MerchantDebitor{Allowed: true}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := s.WithinTx(ctx, func(tx Store) error {
		if err := tx.Put(ctx, a, &record.MerchantDebitor{Allowed: false}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("tx error: got %v", err)
	}

	rec, err := s.Get(ctx, a)
	if err != nil {
		t.Fatalf("get after rollback: %v", err)
	}
	if !rec.(*record.MerchantDebitor).Allowed {
		t.Error("rolled-back write is visible")
	}
}

package admin

import (
	"context"
	"errors"
	"testing"

	"github.com/mbd888/pullpay/internal/authz"
	"github.com/mbd888/pullpay/internal/identity"
	"github.com/mbd888/pullpay/internal/record"
	"github.com/mbd888/pullpay/internal/store"
)

var (
	firstAdmin  = identity.MustParse("1111111111111111111111111111111111111111111111111111111111111111")
	secondAdmin = identity.MustParse("2222222222222222222222222222222222222222222222222222222222222222")
	rogue       = identity.MustParse("3333333333333333333333333333333333333333333333333333333333333333")
)

func newService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return New(st, store.Blake3Deriver{}, nil, nil), st
}

func TestInitialize(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	if err := svc.Initialize(ctx, firstAdmin); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	rec, err := st.Get(ctx, store.Blake3Deriver{}.Derive(record.GlobalKey()))
	if err != nil {
		t.Fatalf("get global state: %v", err)
	}
	state := rec.(*record.GlobalState)
	if state.Admin != firstAdmin {
		t.Errorf("admin = %s, want %s", state.Admin.Short(), firstAdmin.Short())
	}
	if state.Version != 1 {
		t.Errorf("version = %d, want 1", state.Version)
	}
}

func TestInitialize_Twice(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if err := svc.Initialize(ctx, firstAdmin); err != nil {
		t.Fatalf("first initialize: %v", err)
	}
	if err := svc.Initialize(ctx, secondAdmin); !errors.Is(err, authz.ErrAlreadyInitialized) {
		t.Errorf("second initialize: got %v, want ErrAlreadyInitialized", err)
	}
}

func TestInitialize_ZeroAdmin(t *testing.T) {
	svc, _ := newService(t)

	if err := svc.Initialize(context.Background(), identity.Zero); !errors.Is(err, authz.ErrInvalidParameter) {
		t.Errorf("got %v, want ErrInvalidParameter", err)
	}
}

func TestUpdateAdmin(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	if err := svc.Initialize(ctx, firstAdmin); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if err := svc.UpdateAdmin(ctx, rogue, secondAdmin); !errors.Is(err, authz.ErrUnauthorized) {
		t.Errorf("rogue rotation: got %v, want ErrUnauthorized", err)
	}

	if err := svc.UpdateAdmin(ctx, firstAdmin, secondAdmin); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	rec, _ := st.Get(ctx, store.Blake3Deriver{}.Derive(record.GlobalKey()))
	state := rec.(*record.GlobalState)
	if state.Admin != secondAdmin {
		t.Errorf("admin = %s, want %s", state.Admin.Short(), secondAdmin.Short())
	}
	if state.Version != 2 {
		t.Errorf("version = %d, want 2", state.Version)
	}

	// The old admin lost its authority with the rotation.
	if err := svc.UpdateAdmin(ctx, firstAdmin, firstAdmin); !errors.Is(err, authz.ErrUnauthorized) {
		t.Errorf("stale admin: got %v, want ErrUnauthorized", err)
	}
}

func TestUpdateAdmin_SelfRotationKeepsVersion(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	if err := svc.Initialize(ctx, firstAdmin); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := svc.UpdateAdmin(ctx, firstAdmin, firstAdmin); err != nil {
		t.Fatalf("self rotation: %v", err)
	}

	rec, _ := st.Get(ctx, store.Blake3Deriver{}.Derive(record.GlobalKey()))
	if v := rec.(*record.GlobalState).Version; v != 1 {
		t.Errorf("no-op rotation bumped version to %d", v)
	}
}

func TestUpdateAdmin_BeforeInitialize(t *testing.T) {
	svc, _ := newService(t)

	err := svc.UpdateAdmin(context.Background(), firstAdmin, secondAdmin)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestCloseRecord(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	derive := store.Blake3Deriver{}

	if err := svc.Initialize(ctx, firstAdmin); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	addr := derive.Derive(record.ManagerKey(1))
	if err := st.Put(ctx, addr, &record.MerchantManager{Manager: secondAdmin}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := svc.CloseRecord(ctx, rogue, addr); !errors.Is(err, authz.ErrUnauthorized) {
		t.Errorf("rogue close: got %v, want ErrUnauthorized", err)
	}

	if err := svc.CloseRecord(ctx, firstAdmin, addr); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := st.Get(ctx, addr); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("record still present: %v", err)
	}

	if err := svc.CloseRecord(ctx, firstAdmin, addr); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("closing missing record: got %v, want ErrNotFound", err)
	}
}

func TestCloseRecord_RefusesGlobalState(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if err := svc.Initialize(ctx, firstAdmin); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	globalAddr := store.Blake3Deriver{}.Derive(record.GlobalKey())
	if err := svc.CloseRecord(ctx, firstAdmin, globalAddr); !errors.Is(err, authz.ErrInvalidParameter) {
		t.Errorf("got %v, want ErrInvalidParameter", err)
	}
}

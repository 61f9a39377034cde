// Package admin manages the engine's global state: one-time
// initialization, administrator rotation, and record retirement.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mbd888/pullpay/internal/authz"
	"github.com/mbd888/pullpay/internal/events"
	"github.com/mbd888/pullpay/internal/identity"
	"github.com/mbd888/pullpay/internal/record"
	"github.com/mbd888/pullpay/internal/store"
)

// Service mutates the global state record and retires records.
type Service struct {
	store  store.TxStore
	derive store.Deriver
	events *events.Dispatcher
	logger *slog.Logger
}

// New creates an admin service. dispatcher may be nil.
func New(st store.TxStore, derive store.Deriver, dispatcher *events.Dispatcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, derive: derive, events: dispatcher, logger: logger}
}

// Initialize creates the singleton global state with the given
// administrator. A second call fails with ErrAlreadyInitialized.
func (s *Service) Initialize(ctx context.Context, adm identity.Identity) error {
	if adm.IsZero() {
		return fmt.Errorf("%w: admin identity is unset", authz.ErrInvalidParameter)
	}

	addr := s.derive.Derive(record.GlobalKey())
	err := s.store.Create(ctx, addr, &record.GlobalState{Admin: adm, Version: 1})
	if errors.Is(err, store.ErrAlreadyExists) {
		return authz.ErrAlreadyInitialized
	}
	if err != nil {
		return err
	}

	s.logger.Info("engine initialized", "admin", adm.Short())
	s.events.Emit(events.TypeInitialized, map[string]any{"admin": adm.String()})
	return nil
}

// UpdateAdmin rotates the administrator identity. Only the current admin
// may call it. Rotating to the current admin is a no-op success.
func (s *Service) UpdateAdmin(ctx context.Context, caller, newAdmin identity.Identity) error {
	if newAdmin.IsZero() {
		return fmt.Errorf("%w: admin identity is unset", authz.ErrInvalidParameter)
	}

	var changed bool
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		addr := s.derive.Derive(record.GlobalKey())
		rec, err := tx.Get(ctx, addr)
		if err != nil {
			return err
		}
		state, ok := rec.(*record.GlobalState)
		if !ok {
			return fmt.Errorf("%w: global state has kind %s", record.ErrMalformed, rec.Kind())
		}
		if caller != state.Admin {
			return authz.ErrUnauthorized
		}
		if state.Admin == newAdmin {
			return nil
		}
		changed = true
		return tx.Put(ctx, addr, &record.GlobalState{Admin: newAdmin, Version: state.Version + 1})
	})
	if err != nil {
		return err
	}

	if changed {
		s.logger.Info("admin rotated", "admin", newAdmin.Short())
		s.events.Emit(events.TypeAdminUpdated, map[string]any{"admin": newAdmin.String()})
	}
	return nil
}

// CloseRecord permanently removes the record at addr, reclaiming its
// storage and revoking whatever permission or limit it encoded. Admin
// only. The global state record cannot be closed while the engine runs.
func (s *Service) CloseRecord(ctx context.Context, caller identity.Identity, addr store.Address) error {
	globalAddr := s.derive.Derive(record.GlobalKey())
	if addr == globalAddr {
		return fmt.Errorf("%w: cannot close global state", authz.ErrInvalidParameter)
	}

	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		rec, err := tx.Get(ctx, globalAddr)
		if err != nil {
			return err
		}
		state, ok := rec.(*record.GlobalState)
		if !ok {
			return fmt.Errorf("%w: global state has kind %s", record.ErrMalformed, rec.Kind())
		}
		if caller != state.Admin {
			return authz.ErrUnauthorized
		}
		return tx.Delete(ctx, addr)
	})
	if err != nil {
		return err
	}

	s.logger.Info("record closed", "address", addr.String())
	s.events.Emit(events.TypeRecordClosed, map[string]any{"address": addr.String()})
	return nil
}

// Package registry holds and mutates the permission records of the
// delegation hierarchy: merchant managers, debitor allow-lists,
// destination allow-lists, and holder spending-limit configuration.
//
// Each mutator enforces exactly one rule: the caller must be the role one
// level above the record it writes. The administrator appoints managers
// and approves destinations; a merchant's manager authorizes debitors and
// configures holder limits. Nothing here verifies signatures; callers are
// identities the host has already authenticated.
package registry

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

// Registry mutates permission records.
type Registry struct {
	store  store.TxStore
	derive store.Deriver
	events *events.Dispatcher
	logger *slog.Logger
}

// New creates a registry over the given store. dispatcher may be nil.
func New(st store.TxStore, derive store.Deriver, dispatcher *events.Dispatcher, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: st, derive: derive, events: dispatcher, logger: logger}
}

// admin loads the global state and checks caller against it.
func admin(ctx context.Context, st store.Store, derive store.Deriver, caller identity.Identity) error {
	rec, err := st.Get(ctx, derive.Derive(record.GlobalKey()))
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
	return nil
}

// manager loads the merchant's manager record and checks caller against it.
func manager(ctx context.Context, st store.Store, derive store.Deriver, caller identity.Identity, merchant uint64) error {
	rec, err := st.Get(ctx, derive.Derive(record.ManagerKey(merchant)))
	if err != nil {
		return err
	}
	mgr, ok := rec.(*record.MerchantManager)
	if !ok {
		return fmt.Errorf("%w: manager record has kind %s", record.ErrMalformed, rec.Kind())
	}
	if caller != mgr.Manager {
		return authz.ErrUnauthorized
	}
	return nil
}

// SetMerchantManager creates or overwrites a merchant's manager record.
// Admin only. Re-appointing the current manager is a no-op success.
func (r *Registry) SetMerchantManager(ctx context.Context, caller identity.Identity, merchant uint64, mgr identity.Identity) error {
	if mgr.IsZero() {
		return fmt.Errorf("%w: manager identity is unset", authz.ErrInvalidParameter)
	}

	var changed bool
	err := r.store.WithinTx(ctx, func(tx store.Store) error {
		if err := admin(ctx, tx, r.derive, caller); err != nil {
			return err
		}
		addr := r.derive.Derive(record.ManagerKey(merchant))
		existing, err := tx.Get(ctx, addr)
		if err == nil {
			if cur, ok := existing.(*record.MerchantManager); ok && cur.Manager == mgr {
				return nil
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		changed = true
		return tx.Put(ctx, addr, &record.MerchantManager{Manager: mgr})
	})
	if err != nil {
		return err
	}

	if changed {
		r.logger.Info("merchant manager set", "merchant", merchant, "manager", mgr.Short())
		r.events.Emit(events.TypeManagerUpdated, map[string]any{
			"merchant": merchant,
			"manager":  mgr.String(),
		})
	}
	return nil
}

// SetDebitorPermission allows or denies a debitor for a (merchant, token)
// pair. Only the merchant's manager may call it; if no manager record
// exists the lookup failure (store.ErrNotFound) propagates.
func (r *Registry) SetDebitorPermission(ctx context.Context, caller identity.Identity, merchant uint64, token, debitor identity.Identity, allowed bool) error {
	if debitor.IsZero() {
		return fmt.Errorf("%w: debitor identity is unset", authz.ErrInvalidParameter)
	}
	return r.setAllowed(ctx, allowListWrite{
		caller:    caller,
		merchant:  merchant,
		authorize: manager,
		key:       record.DebitorKey(merchant, token, debitor),
		make:      func(allowed bool) record.Record { return &record.MerchantDebitor{Allowed: allowed} },
		current: func(rec record.Record) (bool, bool) {
			d, ok := rec.(*record.MerchantDebitor)
			if !ok {
				return false, false
			}
			return d.Allowed, true
		},
		eventType: events.TypeDebitorUpdated,
		entity:    debitor,
		token:     token,
		allowed:   allowed,
	})
}

// SetDestinationPermission allows or denies a destination account for a
// (merchant, token) pair. Admin only.
func (r *Registry) SetDestinationPermission(ctx context.Context, caller identity.Identity, merchant uint64, token, destination identity.Identity, allowed bool) error {
	if destination.IsZero() {
		return fmt.Errorf("%w: destination identity is unset", authz.ErrInvalidParameter)
	}
	authorize := func(ctx context.Context, st store.Store, derive store.Deriver, caller identity.Identity, _ uint64) error {
		return admin(ctx, st, derive, caller)
	}
	return r.setAllowed(ctx, allowListWrite{
		caller:    caller,
		merchant:  merchant,
		authorize: authorize,
		key:       record.DestinationKey(merchant, token, destination),
		make:      func(allowed bool) record.Record { return &record.MerchantDestination{Allowed: allowed} },
		current: func(rec record.Record) (bool, bool) {
			d, ok := rec.(*record.MerchantDestination)
			if !ok {
				return false, false
			}
			return d.Allowed, true
		},
		eventType: events.TypeDestinationUpdated,
		entity:    destination,
		token:     token,
		allowed:   allowed,
	})
}

// allowListWrite bundles the parts of an allow-list upsert that differ
// between debitor and destination records.
type allowListWrite struct {
	caller    identity.Identity
	merchant  uint64
	authorize func(context.Context, store.Store, store.Deriver, identity.Identity, uint64) error
	key       record.Key
	make      func(allowed bool) record.Record
	current   func(record.Record) (bool, bool)
	eventType events.Type
	entity    identity.Identity
	token     identity.Identity
	allowed   bool
}

func (r *Registry) setAllowed(ctx context.Context, w allowListWrite) error {
	var changed bool
	err := r.store.WithinTx(ctx, func(tx store.Store) error {
		if err := w.authorize(ctx, tx, r.derive, w.caller, w.merchant); err != nil {
			return err
		}
		addr := r.derive.Derive(w.key)
		existing, err := tx.Get(ctx, addr)
		if err == nil {
			if cur, ok := w.current(existing); ok && cur == w.allowed {
				return nil
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		changed = true
		return tx.Put(ctx, addr, w.make(w.allowed))
	})
	if err != nil {
		return err
	}

	if changed {
		r.logger.Info("allow-list updated",
			"kind", w.key.Kind.String(),
			"merchant", w.merchant,
			"entity", w.entity.Short(),
			"allowed", w.allowed,
		)
		r.events.Emit(w.eventType, map[string]any{
			"merchant": w.merchant,
			"token":    w.token.String(),
			"entity":   w.entity.String(),
			"allowed":  w.allowed,
		})
	}
	return nil
}

// DelegateConfig is the limit configuration a manager sets for one holder.
type DelegateConfig struct {
	PerTransferLimit    uint64
	PeriodTransferLimit uint64
	PeriodSeconds       uint32
}

// SetUserDelegate creates or updates the spending-limit record for a
// (merchant, token, holder) triple. Only the merchant's manager may call
// it. On update the tracking fields survive: tightening a limit mid-period
// does not grant a fresh window. A zero-length period is rejected.
func (r *Registry) SetUserDelegate(ctx context.Context, caller identity.Identity, merchant uint64, token, holder identity.Identity, cfg DelegateConfig, currentTime uint64) error {
	if cfg.PeriodSeconds == 0 {
		return fmt.Errorf("%w: transfer limit period must be positive", authz.ErrInvalidParameter)
	}
	if holder.IsZero() {
		return fmt.Errorf("%w: holder identity is unset", authz.ErrInvalidParameter)
	}

	var changed bool
	err := r.store.WithinTx(ctx, func(tx store.Store) error {
		if err := manager(ctx, tx, r.derive, caller, merchant); err != nil {
			return err
		}

		addr := r.derive.Derive(record.DelegateKey(merchant, token, holder))
		next := &record.UserDelegate{
			PerTransferLimit:           cfg.PerTransferLimit,
			PeriodTransferLimit:        cfg.PeriodTransferLimit,
			TransferLimitPeriodSeconds: cfg.PeriodSeconds,
			PeriodTimestampLastReset:   currentTime,
		}

		existing, err := tx.Get(ctx, addr)
		if err == nil {
			cur, ok := existing.(*record.UserDelegate)
			if !ok {
				return fmt.Errorf("%w: delegate record has kind %s", record.ErrMalformed, existing.Kind())
			}
			next.PeriodTransferredAmount = cur.PeriodTransferredAmount
			next.PeriodTimestampLastReset = cur.PeriodTimestampLastReset
			next.SlotLastTransferred = cur.SlotLastTransferred
			if *cur == *next {
				return nil
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		changed = true
		return tx.Put(ctx, addr, next)
	})
	if err != nil {
		return err
	}

	if changed {
		r.logger.Info("user delegate configured",
			"merchant", merchant,
			"holder", holder.Short(),
			"per_transfer_limit", cfg.PerTransferLimit,
			"period_transfer_limit", cfg.PeriodTransferLimit,
			"period_seconds", cfg.PeriodSeconds,
		)
		r.events.Emit(events.TypeDelegateUpdated, map[string]any{
			"merchant":            merchant,
			"token":               token.String(),
			"holder":              holder.String(),
			"perTransferLimit":    cfg.PerTransferLimit,
			"periodTransferLimit": cfg.PeriodTransferLimit,
			"periodSeconds":       cfg.PeriodSeconds,
		})
	}
	return nil
}

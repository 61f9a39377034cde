// Package debit orchestrates an authorized pull payment: it checks the
// debitor and destination allow-lists, runs the holder's spending-limit
// state machine, and on success asks the value-transfer backend to move
// the funds. The whole operation is one unit of work: either the limit
// state advances and the funds move, or neither happens.
package debit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mbd888/pullpay/internal/authz"
	"github.com/mbd888/pullpay/internal/events"
	"github.com/mbd888/pullpay/internal/identity"
	"github.com/mbd888/pullpay/internal/idgen"
	"github.com/mbd888/pullpay/internal/limits"
	"github.com/mbd888/pullpay/internal/metrics"
	"github.com/mbd888/pullpay/internal/record"
	"github.com/mbd888/pullpay/internal/store"
	"github.com/mbd888/pullpay/internal/syncutil"
	"github.com/mbd888/pullpay/internal/traces"
)

// Transferer moves token value between accounts. The transfer is
// authorized by the holder's standing delegation to the engine, not by
// the debitor: the backend must not care who initiated the debit.
type Transferer interface {
	Transfer(ctx context.Context, token, from, to identity.Identity, amount uint64, reference string) error
}

// TransferError wraps a value-transfer backend failure. The debit that
// caused it is fully rolled back.
type TransferError struct {
	Reference string
	Err       error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("debit: transfer %s failed: %v", e.Reference, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Request carries one debit attempt. Time and slot come from the host
// clock source, not from the engine.
type Request struct {
	Merchant    uint64
	Token       identity.Identity
	Debitor     identity.Identity
	Holder      identity.Identity
	Destination identity.Identity
	Amount      uint64
	CurrentTime uint64
	CurrentSlot uint64
}

// Result reports a committed debit.
type Result struct {
	Reference string `json:"reference"`
	// Remaining is the period headroom left after this debit.
	Remaining uint64 `json:"remaining"`
}

// Service authorizes and executes debits.
type Service struct {
	store    store.TxStore
	derive   store.Deriver
	transfer Transferer
	events   *events.Dispatcher
	logger   *slog.Logger

	// locks serializes debits per delegate so concurrent attempts against
	// the same spending limit queue up instead of colliding inside the
	// storage transaction.
	locks *syncutil.ContextShardedMutex
}

// New creates a debit service. dispatcher may be nil.
func New(st store.TxStore, derive store.Deriver, transfer Transferer, dispatcher *events.Dispatcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		derive:   derive,
		transfer: transfer,
		events:   dispatcher,
		logger:   logger,
		locks:    syncutil.NewContextShardedMutex(),
	}
}

// Debit performs one authorized pull payment.
//
// Checks run in a fixed order and the first failure aborts the whole
// operation: debitor allow-list, destination allow-list, delegate limits,
// transfer. Limit failures propagate verbatim from the limits package;
// backend failures surface as *TransferError. On any failure no record
// changes and no funds move.
func (s *Service) Debit(ctx context.Context, req Request) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "debit",
		traces.Merchant(req.Merchant),
		traces.Token(req.Token.Short()),
		traces.Debitor(req.Debitor.Short()),
		traces.Holder(req.Holder.Short()),
		traces.Amount(req.Amount),
	)
	defer span.End()

	reference := idgen.WithPrefix("dbt_")
	var result *Result

	delegateAddr := s.derive.Derive(record.DelegateKey(req.Merchant, req.Token, req.Holder))
	unlock, err := s.locks.LockContext(ctx, delegateAddr.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	err = s.store.WithinTx(ctx, func(tx store.Store) error {
		if err := s.checkAllowed(ctx, tx, record.DebitorKey(req.Merchant, req.Token, req.Debitor)); err != nil {
			return err
		}
		if err := s.checkAllowed(ctx, tx, record.DestinationKey(req.Merchant, req.Token, req.Destination)); err != nil {
			return err
		}

		rec, err := tx.Get(ctx, delegateAddr)
		if err != nil {
			return err
		}
		delegate, ok := rec.(*record.UserDelegate)
		if !ok {
			return fmt.Errorf("%w: delegate record has kind %s", record.ErrMalformed, rec.Kind())
		}

		resetBefore := delegate.PeriodTimestampLastReset
		if err := limits.ValidateDebitAndUpdate(delegate, req.Amount, req.CurrentTime, req.CurrentSlot); err != nil {
			return err
		}
		if delegate.PeriodTimestampLastReset != resetBefore {
			metrics.WindowResetsTotal.Inc()
		}

		if err := tx.Put(ctx, delegateAddr, delegate); err != nil {
			return err
		}

		// The transfer joins the unit of work: if it fails, the limit
		// write above rolls back with the transaction.
		if err := s.transfer.Transfer(ctx, req.Token, req.Holder, req.Destination, req.Amount, reference); err != nil {
			return &TransferError{Reference: reference, Err: err}
		}

		result = &Result{
			Reference: reference,
			Remaining: limits.Remaining(delegate, req.CurrentTime),
		}
		return nil
	})
	if err != nil {
		metrics.DebitsTotal.WithLabelValues(outcome(err)).Inc()
		span.RecordError(err)
		s.logger.Info("debit rejected",
			"merchant", req.Merchant,
			"debitor", req.Debitor.Short(),
			"holder", req.Holder.Short(),
			"amount", req.Amount,
			"error", err,
		)
		return nil, err
	}

	metrics.DebitsTotal.WithLabelValues("ok").Inc()
	metrics.DebitAmount.Observe(float64(req.Amount))
	s.logger.Info("debit committed",
		"reference", result.Reference,
		"merchant", req.Merchant,
		"holder", req.Holder.Short(),
		"destination", req.Destination.Short(),
		"amount", req.Amount,
	)
	s.events.Emit(events.TypeUserDebited, map[string]any{
		"reference":   result.Reference,
		"merchant":    req.Merchant,
		"token":       req.Token.String(),
		"debitor":     req.Debitor.String(),
		"holder":      req.Holder.String(),
		"destination": req.Destination.String(),
		"amount":      req.Amount,
		"remaining":   result.Remaining,
	})
	return result, nil
}

// checkAllowed loads an allow-list record and fails Unauthorized when the
// entry is present but denied. A missing record propagates store.ErrNotFound.
func (s *Service) checkAllowed(ctx context.Context, tx store.Store, key record.Key) error {
	rec, err := tx.Get(ctx, s.derive.Derive(key))
	if err != nil {
		return err
	}
	var allowed bool
	switch r := rec.(type) {
	case *record.MerchantDebitor:
		allowed = r.Allowed
	case *record.MerchantDestination:
		allowed = r.Allowed
	default:
		return fmt.Errorf("%w: %s has kind %s", record.ErrMalformed, key.Kind, rec.Kind())
	}
	if !allowed {
		return authz.ErrUnauthorized
	}
	return nil
}

// outcome maps a debit failure to its metric label.
func outcome(err error) string {
	var te *TransferError
	switch {
	case errors.Is(err, limits.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, limits.ErrPerTransferLimitExceeded):
		return "per_transfer_limit"
	case errors.Is(err, limits.ErrPeriodLimitExceeded):
		return "period_limit"
	case errors.Is(err, limits.ErrArithmeticOverflow):
		return "overflow"
	case errors.Is(err, authz.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.As(err, &te):
		return "transfer_failed"
	}
	return "error"
}

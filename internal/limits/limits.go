// Package limits implements the rolling-window spending-limit state
// machine that guards every debit.
//
// The tracker is a pure function of its inputs and the prior record state:
// time and slot are supplied by the caller, never read from a clock, so
// the whole state machine is unit-testable without waiting.
//
// The window is a fixed window, not sliding: when a period elapses the
// accumulated amount zeroes and the window restarts at the current debit's
// timestamp. Two maximum-size bursts straddling a window boundary can
// therefore move up to ~2x the period limit in a short span. Callers that
// need a hard rolling cap must halve the configured limit.
package limits

import (
	"errors"

	"github.com/mbd888/pullpay/internal/record"
)

var (
	ErrInvalidAmount            = errors.New("limits: amount must be positive")
	ErrPerTransferLimitExceeded = errors.New("limits: exceeds per-transfer limit")
	ErrPeriodLimitExceeded      = errors.New("limits: exceeds transfer limit for the period")
	ErrArithmeticOverflow       = errors.New("limits: period total overflows")
)

// ValidateDebitAndUpdate checks amount against the delegate's limits and,
// on success, commits the new period total and slot to rec. On any failure
// rec is left untouched, window refresh included: the refresh is staged
// and only applied together with a successful accumulation, so a rejected
// call leaves the record byte-identical to its pre-call value.
//
// This is the only code path that mutates PeriodTransferredAmount,
// PeriodTimestampLastReset, and SlotLastTransferred.
func ValidateDebitAndUpdate(rec *record.UserDelegate, amount, currentTime, currentSlot uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if amount > rec.PerTransferLimit {
		return ErrPerTransferLimitExceeded
	}

	// Window refresh. currentTime earlier than the last reset counts as
	// within the window: the host clock is the time source and a stale
	// reading must not zero the accumulator through unsigned underflow.
	refresh := currentTime >= rec.PeriodTimestampLastReset &&
		currentTime-rec.PeriodTimestampLastReset >= uint64(rec.TransferLimitPeriodSeconds)

	transferred := rec.PeriodTransferredAmount
	if refresh {
		transferred = 0
	}

	newTotal := transferred + amount
	if newTotal < amount {
		return ErrArithmeticOverflow
	}
	if newTotal > rec.PeriodTransferLimit {
		return ErrPeriodLimitExceeded
	}

	if refresh {
		rec.PeriodTimestampLastReset = currentTime
	}
	rec.PeriodTransferredAmount = newTotal
	rec.SlotLastTransferred = currentSlot
	return nil
}

// Remaining reports how much the delegate can still transfer in the
// current window at the given time, for API responses. Pure, no mutation.
func Remaining(rec *record.UserDelegate, currentTime uint64) uint64 {
	transferred := rec.PeriodTransferredAmount
	if currentTime >= rec.PeriodTimestampLastReset &&
		currentTime-rec.PeriodTimestampLastReset >= uint64(rec.TransferLimitPeriodSeconds) {
		transferred = 0
	}
	if transferred >= rec.PeriodTransferLimit {
		return 0
	}
	return rec.PeriodTransferLimit - transferred
}

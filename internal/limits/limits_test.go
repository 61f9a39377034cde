package limits

import (
	"errors"
	"math"
	"testing"

	"github.com/mbd888/pullpay/internal/record"
)

func delegate() *record.UserDelegate {
	return &record.UserDelegate{
		PerTransferLimit:           100,
		PeriodTransferLimit:        250,
		PeriodTransferredAmount:    0,
		PeriodTimestampLastReset:   1_000_000,
		TransferLimitPeriodSeconds: 86400,
		SlotLastTransferred:        0,
	}
}

func TestValidateDebitAndUpdate_AccumulatesWithinPeriod(t *testing.T) {
	rec := delegate()

	steps := []struct {
		amount  uint64
		wantErr error
		total   uint64
	}{
		{amount: 100, wantErr: nil, total: 100},
		{amount: 100, wantErr: nil, total: 200},
		{amount: 100, wantErr: ErrPeriodLimitExceeded, total: 200},
		{amount: 50, wantErr: nil, total: 250},
		{amount: 1, wantErr: ErrPeriodLimitExceeded, total: 250},
	}

	now := rec.PeriodTimestampLastReset + 10
	for i, step := range steps {
		err := ValidateDebitAndUpdate(rec, step.amount, now, uint64(i+1))
		if !errors.Is(err, step.wantErr) {
			t.Fatalf("step %d: got error %v, want %v", i, err, step.wantErr)
		}
		if rec.PeriodTransferredAmount != step.total {
			t.Fatalf("step %d: transferred = %d, want %d", i, rec.PeriodTransferredAmount, step.total)
		}
	}
}

func TestValidateDebitAndUpdate_PerTransferLimit(t *testing.T) {
	rec := delegate()

	err := ValidateDebitAndUpdate(rec, 101, rec.PeriodTimestampLastReset+1, 1)
	if !errors.Is(err, ErrPerTransferLimitExceeded) {
		t.Fatalf("got %v, want ErrPerTransferLimitExceeded", err)
	}
	if rec.PeriodTransferredAmount != 0 {
		t.Errorf("rejected debit must not change state, transferred = %d", rec.PeriodTransferredAmount)
	}
}

func TestValidateDebitAndUpdate_ZeroAmount(t *testing.T) {
	rec := delegate()

	err := ValidateDebitAndUpdate(rec, 0, rec.PeriodTimestampLastReset+1, 1)
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("got %v, want ErrInvalidAmount", err)
	}
}

func TestValidateDebitAndUpdate_WindowRefresh(t *testing.T) {
	rec := delegate()
	start := rec.PeriodTimestampLastReset

	// Exhaust the period.
	for i := 0; i < 3; i++ {
		if err := ValidateDebitAndUpdate(rec, 83, start+1, uint64(i+1)); err != nil {
			t.Fatalf("debit %d: %v", i, err)
		}
	}
	if err := ValidateDebitAndUpdate(rec, 2, start+2, 4); !errors.Is(err, ErrPeriodLimitExceeded) {
		t.Fatalf("got %v, want ErrPeriodLimitExceeded", err)
	}

	// One second before the boundary: still the old window.
	if err := ValidateDebitAndUpdate(rec, 2, start+86399, 5); !errors.Is(err, ErrPeriodLimitExceeded) {
		t.Fatalf("at window end - 1: got %v, want ErrPeriodLimitExceeded", err)
	}

	// Exactly at the boundary the window refreshes.
	if err := ValidateDebitAndUpdate(rec, 100, start+86400, 6); err != nil {
		t.Fatalf("at window boundary: %v", err)
	}
	if rec.PeriodTransferredAmount != 100 {
		t.Errorf("transferred after refresh = %d, want 100", rec.PeriodTransferredAmount)
	}
	if rec.PeriodTimestampLastReset != start+86400 {
		t.Errorf("reset timestamp = %d, want %d", rec.PeriodTimestampLastReset, start+86400)
	}
}

func TestValidateDebitAndUpdate_RefreshNotCommittedOnRejection(t *testing.T) {
	rec := delegate()
	rec.PeriodTransferredAmount = 250
	start := rec.PeriodTimestampLastReset

	// The window has elapsed but the amount is over the per-transfer
	// limit; the rejected attempt must not consume the fresh window.
	err := ValidateDebitAndUpdate(rec, 150, start+90000, 7)
	if !errors.Is(err, ErrPerTransferLimitExceeded) {
		t.Fatalf("got %v, want ErrPerTransferLimitExceeded", err)
	}
	if rec.PeriodTimestampLastReset != start {
		t.Errorf("reset timestamp moved on rejection: %d", rec.PeriodTimestampLastReset)
	}
	if rec.PeriodTransferredAmount != 250 {
		t.Errorf("transferred changed on rejection: %d", rec.PeriodTransferredAmount)
	}

	// A valid amount then starts the fresh window.
	if err := ValidateDebitAndUpdate(rec, 100, start+90000, 8); err != nil {
		t.Fatalf("fresh window debit: %v", err)
	}
	if rec.PeriodTransferredAmount != 100 {
		t.Errorf("transferred = %d, want 100", rec.PeriodTransferredAmount)
	}
}

func TestValidateDebitAndUpdate_ClockBeforeLastReset(t *testing.T) {
	rec := delegate()
	rec.PeriodTransferredAmount = 250

	// A clock reading before the last reset must not refresh the window.
	err := ValidateDebitAndUpdate(rec, 10, rec.PeriodTimestampLastReset-1, 9)
	if !errors.Is(err, ErrPeriodLimitExceeded) {
		t.Fatalf("got %v, want ErrPeriodLimitExceeded", err)
	}
}

func TestValidateDebitAndUpdate_Overflow(t *testing.T) {
	rec := &record.UserDelegate{
		PerTransferLimit:           math.MaxUint64,
		PeriodTransferLimit:        math.MaxUint64,
		PeriodTransferredAmount:    math.MaxUint64 - 5,
		PeriodTimestampLastReset:   1000,
		TransferLimitPeriodSeconds: 3600,
	}

	err := ValidateDebitAndUpdate(rec, 10, 1001, 1)
	if !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("got %v, want ErrArithmeticOverflow", err)
	}
	if rec.PeriodTransferredAmount != math.MaxUint64-5 {
		t.Errorf("state changed on overflow: %d", rec.PeriodTransferredAmount)
	}
}

func TestValidateDebitAndUpdate_RecordsSlot(t *testing.T) {
	rec := delegate()

	if err := ValidateDebitAndUpdate(rec, 10, rec.PeriodTimestampLastReset+1, 42); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if rec.SlotLastTransferred != 42 {
		t.Errorf("slot = %d, want 42", rec.SlotLastTransferred)
	}
}

func TestRemaining(t *testing.T) {
	rec := delegate()
	now := rec.PeriodTimestampLastReset + 10

	if got := Remaining(rec, now); got != 250 {
		t.Errorf("fresh delegate remaining = %d, want 250", got)
	}

	if err := ValidateDebitAndUpdate(rec, 100, now, 1); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if got := Remaining(rec, now); got != 150 {
		t.Errorf("remaining = %d, want 150", got)
	}

	// After the window elapses the full allowance is available again.
	if got := Remaining(rec, now+86400); got != 250 {
		t.Errorf("remaining after window = %d, want 250", got)
	}
}

package clock

import (
	"testing"
	"time"
)

func TestFixed(t *testing.T) {
	f := &Fixed{Time: 1_700_000_000, Seq: 42}

	if f.Now() != 1_700_000_000 {
		t.Errorf("Now() = %d", f.Now())
	}
	if f.Slot() != 42 {
		t.Errorf("Slot() = %d", f.Slot())
	}
}

func TestSystem_Now(t *testing.T) {
	s := NewSystem(time.Second)

	before := uint64(time.Now().Unix())
	got := s.Now()
	after := uint64(time.Now().Unix())

	if got < before || got > after {
		t.Errorf("Now() = %d, outside [%d, %d]", got, before, after)
	}
}

func TestSystem_SlotNonDecreasing(t *testing.T) {
	s := NewSystem(time.Millisecond)

	prev := s.Slot()
	for i := 0; i < 100; i++ {
		cur := s.Slot()
		if cur < prev {
			t.Fatalf("slot went backwards: %d after %d", cur, prev)
		}
		prev = cur
	}
}

func TestSystem_SlotAdvances(t *testing.T) {
	s := NewSystem(time.Millisecond)

	first := s.Slot()
	time.Sleep(5 * time.Millisecond)
	if second := s.Slot(); second <= first {
		t.Errorf("slot did not advance: %d then %d", first, second)
	}
}

func TestNewSystem_DefaultsInterval(t *testing.T) {
	s := NewSystem(0)
	if s.interval != time.Second {
		t.Errorf("interval = %v, want 1s", s.interval)
	}
}

// Package clock supplies the wall-clock time and monotonic slot counter
// the limit tracker consumes. The engine never reads a clock itself; the
// host passes both values into every debit, which keeps the limit state
// machine a pure function of its inputs.
package clock

import (
	"sync"
	"time"
)

// Source supplies the time inputs for a debit.
type Source interface {
	// Now returns wall-clock seconds since the Unix epoch.
	Now() uint64
	// Slot returns a monotonically non-decreasing sequence counter.
	Slot() uint64
}

// System is the production source: Unix seconds for time, and a slot
// counter that ticks every interval of wall time but never runs backwards
// even if the wall clock does.
type System struct {
	interval time.Duration

	mu   sync.Mutex
	last uint64
}

// NewSystem creates a system source. interval must be positive.
func NewSystem(interval time.Duration) *System {
	if interval <= 0 {
		interval = time.Second
	}
	return &System{interval: interval}
}

func (s *System) Now() uint64 {
	return uint64(time.Now().Unix())
}

func (s *System) Slot() uint64 {
	slot := uint64(time.Now().UnixNano() / int64(s.interval))
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot < s.last {
		slot = s.last
	}
	s.last = slot
	return slot
}

// Fixed is a test source returning preset values.
type Fixed struct {
	Time uint64
	Seq  uint64
}

func (f *Fixed) Now() uint64  { return f.Time }
func (f *Fixed) Slot() uint64 { return f.Seq }

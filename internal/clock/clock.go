// Package clock abstracts the CPU cycle counter the PDV engine paces and
// measures against. Go has no portable RDTSC intrinsic without cgo or
// per-arch assembly, so this package substitutes a monotonic nanosecond
// clock; every call site that would otherwise read "TSC cycles" reads
// Clock.Cycles() instead, and divides by Clock.Hz() exactly as the
// original design divides by its hz parameter.
package clock

import "time"

// Clock is the sole timekeeping source the hot path uses for pacing and
// measurement.
type Clock interface {
	// Cycles returns a monotonically increasing counter value.
	Cycles() uint64
	// Hz returns the counter's frequency, for converting Cycles() deltas
	// to seconds.
	Hz() uint64
}

// Monotonic is a Clock backed by time.Now(), ticking in nanoseconds.
type Monotonic struct {
	start time.Time
}

// NewMonotonic returns a Monotonic clock anchored at the current time.
func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

// Cycles returns nanoseconds elapsed since the clock was created.
func (m *Monotonic) Cycles() uint64 {
	return uint64(time.Since(m.start).Nanoseconds())
}

// Hz is fixed at one nanosecond-tick per unit.
func (m *Monotonic) Hz() uint64 {
	return 1_000_000_000
}

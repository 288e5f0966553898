// Package statetable implements the fixed-capacity vector of learned
// 4-tuples shared between a learning receiver and a replaying sender.
package statetable

import (
	"fmt"
	"sync/atomic"

	"github.com/lencsegabor/pdvtester/internal/wire"
)

// ResponderPortsMode selects how the replaying sender picks an index into
// the table during the test phase.
type ResponderPortsMode int

const (
	// Single always replays the first learned tuple; the original
	// implementation's "responder_ports == 0" optimized path.
	Single ResponderPortsMode = iota
	Increasing
	Decreasing
	Random
)

// Table is a fixed-capacity array of atomic 4-tuples. During the
// preliminary phase it has exactly one writer (the learning receiver),
// advancing a modulo cursor; during the test phase it is read-only except
// for the one case where an opposite-direction learner keeps writing
// concurrently with a replaying sender, which is why slots are
// atomic.Pointer rather than plain values.
type Table struct {
	slots    []atomic.Pointer[wire.FourTuple]
	capacity int

	cursor uint64 // write cursor, advanced by the single learner
	filled uint64 // number of distinct tuples written so far (saturates at capacity)
}

// New allocates a Table of the given capacity.
func New(capacity int) (*Table, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("statetable: capacity must be positive, got %d", capacity)
	}
	return &Table{slots: make([]atomic.Pointer[wire.FourTuple], capacity), capacity: capacity}, nil
}

// Capacity returns the table's fixed size.
func (t *Table) Capacity() int { return t.capacity }

// Learn is called by the single learning-receiver goroutine for every
// identified foreground 4-tuple. It writes at the current cursor and
// advances it modulo capacity.
func (t *Table) Learn(tuple wire.FourTuple) {
	idx := int(t.cursor % uint64(t.capacity))
	v := tuple
	t.slots[idx].Store(&v)
	t.cursor++
	if t.filled < uint64(t.capacity) {
		t.filled++
	}
}

// ValidEntries returns min(fg_frames_seen, capacity), the number of
// entries the replaying sender is allowed to index into.
func (t *Table) ValidEntries() int {
	return int(t.filled)
}

// Filled reports whether the preliminary phase fully populated the table,
// a precondition the Coordinator must check before starting the test
// phase.
func (t *Table) Filled() bool {
	return t.filled >= uint64(t.capacity)
}

// Get returns the tuple at idx. idx must be < ValidEntries().
func (t *Table) Get(idx int) wire.FourTuple {
	p := t.slots[idx].Load()
	if p == nil {
		return wire.FourTuple{}
	}
	return *p
}

// Snapshot freezes the table's currently valid entries into an immutable
// slice, realizing design-note option (c): left-only writes during the
// preliminary phase, then a snapshot for the simple (non-concurrent) test
// phase. Callers in the concurrent case (opposite-direction learner still
// writing during the test phase) should keep using Get against the live
// Table instead of a Snapshot.
func (t *Table) Snapshot() []wire.FourTuple {
	n := t.ValidEntries()
	out := make([]wire.FourTuple, n)
	for i := 0; i < n; i++ {
		out[i] = t.Get(i)
	}
	return out
}

// Cursor is a stateful reader of Table or Snapshot entries per one of the
// responder_ports modes, mirroring the Port variator's sequence shapes but
// operating over [0, validEntries).
type Cursor struct {
	mode    ResponderPortsMode
	current int
	bound   int
}

// NewCursor builds a Cursor over [0, validEntries) starting at the mode's
// natural extreme (0 for Increasing/Single, validEntries-1 for
// Decreasing).
func NewCursor(mode ResponderPortsMode, validEntries int) *Cursor {
	c := &Cursor{mode: mode, bound: validEntries}
	if mode == Decreasing {
		c.current = validEntries - 1
	}
	return c
}

// Next returns the next index to read.
func (c *Cursor) Next() int {
	switch c.mode {
	case Single:
		return 0
	case Increasing:
		v := c.current
		c.current++
		if c.current >= c.bound {
			c.current = 0
		}
		return v
	case Decreasing:
		v := c.current
		c.current--
		if c.current < 0 {
			c.current = c.bound - 1
		}
		return v
	case Random:
		return pseudoIndex(c.bound)
	default:
		return 0
	}
}

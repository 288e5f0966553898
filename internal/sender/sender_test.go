package sender

import (
	"errors"
	"net"
	"sync/atomic"
	"testing"

	"github.com/lencsegabor/pdvtester/internal/frame"
	"github.com/lencsegabor/pdvtester/internal/netio"
)

// fakeClock is a manually-advanced Clock for deterministic pacing tests.
type fakeClock struct {
	n atomic.Uint64
}

func (f *fakeClock) Cycles() uint64 { return f.n.Load() }
func (f *fakeClock) Hz() uint64     { return 1000 }

func (f *fakeClock) advance(d uint64) { f.n.Add(d) }

func testPool(t *testing.T) *frame.Pool {
	t.Helper()
	spec := frame.Spec{
		FrameLen: 64,
		IPv4:     true,
		SrcMAC:   net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:   net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	pool, err := frame.NewPool(spec, 1, 4)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	return pool
}

func TestRunSendsAllFrames(t *testing.T) {
	pool := testPool(t)
	tx, rx := netio.NewLoopback(256)
	defer tx.Close()
	defer rx.Close()

	fc := &fakeClock{}
	fc.advance(1_000_000)

	// Start exactly one duration (10 frames at 1000/s = 10 ticks at 1000 Hz)
	// behind the clock: every pacing target is already due so pacing never
	// blocks, and elapsed equals the duration, within the tolerance budget.
	cfg := Config{
		Clock:       fc,
		Tx:          tx,
		Pool:        pool,
		NumFrames:   10,
		FrameRate:   1000,
		StartTSC:    1_000_000 - 10,
		ForegroundM: 1,
		ForegroundN: 1,
	}
	sendTS := make([]uint64, 10)
	if err := Run(cfg, sendTS); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, ts := range sendTS {
		if ts == 0 {
			t.Fatalf("sendTS[%d] was never written", i)
		}
	}
}

func TestRunScheduleMiss(t *testing.T) {
	pool := testPool(t)
	tx, rx := netio.NewLoopback(256)
	defer tx.Close()
	defer rx.Close()

	fc := &fakeClock{}
	cfg := Config{
		Clock:       fc,
		Tx:          tx,
		Pool:        pool,
		NumFrames:   2,
		FrameRate:   1000,
		StartTSC:    0,
		Tolerance:   1.0001,
		ForegroundM: 1,
		ForegroundN: 1,
	}
	sendTS := make([]uint64, 2)
	// Advance the clock far beyond the budget before Run starts so the
	// post-hoc elapsed check trips immediately (pacing itself never
	// blocks since the clock is already ahead of every target).
	fc.advance(10_000)
	if err := Run(cfg, sendTS); err == nil {
		t.Fatalf("expected ErrScheduleMiss, got nil")
	} else if !errors.Is(err, ErrScheduleMiss) {
		t.Fatalf("expected ErrScheduleMiss, got %v", err)
	}
}

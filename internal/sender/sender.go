// Package sender implements the rate-paced transmit loop: the Paced
// Sender component. It busy-waits on the clock abstraction to hit its
// target send time for every frame, mutates a frame from the template
// pool in place, transmits it, and records a send timestamp.
package sender

import (
	"errors"
	"fmt"

	"github.com/lencsegabor/pdvtester/internal/clock"
	"github.com/lencsegabor/pdvtester/internal/frame"
	"github.com/lencsegabor/pdvtester/internal/netio"
	"github.com/lencsegabor/pdvtester/internal/statetable"
	"github.com/lencsegabor/pdvtester/internal/variator"
)

// DefaultTolerance is the schedule-slip threshold used when Config.Tolerance
// is left at zero: a test is declared invalid once total elapsed time
// exceeds duration * Tolerance.
const DefaultTolerance = 1.0001

// ErrScheduleMiss is returned when the sender fell behind its pacing
// target by more than Tolerance allows.
var ErrScheduleMiss = errors.New("sender: schedule tolerance exceeded")

// ErrPoolExhausted is returned when the template pool cannot supply a
// buffer (unrecoverable; mirrors the factory's "packet memory pool
// exhausted" fatal condition).
var ErrPoolExhausted = errors.New("sender: template pool exhausted")

// Mode selects which of the sender roles this instance plays.
type Mode int

const (
	// StatelessForeground sends the IP version under test with ports
	// drawn from the port variators.
	StatelessForeground Mode = iota
	// StatelessBackground is handled by Run exactly like
	// StatelessForeground; it does not force IPv6 or a fixed destination.
	// Which iterations are background is set by ForegroundM/ForegroundN
	// alone, and those frames come from BgPool when it is set.
	StatelessBackground
	// StatefulReplay overwrites each foreground frame's 4-tuple from the
	// state table.
	StatefulReplay
)

// Config bundles one sender worker's inputs.
type Config struct {
	Clock     clock.Clock
	Tx        netio.TxQueue
	Pool      *frame.Pool
	BgPool    *frame.Pool // used when ForegroundM < ForegroundN
	SrcPort   *variator.Port
	DstPort   *variator.Port
	DestNet   *variator.DestNet
	Table     *statetable.Table
	Cursor    *statetable.Cursor
	Mode      Mode
	NumFrames uint64 // F
	FrameRate uint64 // frames/sec
	StartTSC  uint64
	Tolerance float64
	// ForegroundM/N select which iterations are foreground: iteration k
	// is foreground iff k%n < m.
	ForegroundM int
	ForegroundN int
}

// Run executes the paced transmit loop, writing one send timestamp per
// iteration into sendTS (len(sendTS) must equal cfg.NumFrames), and
// returns ErrScheduleMiss if the loop fell behind its pacing target by
// more than cfg.Tolerance allows.
func Run(cfg Config, sendTS []uint64) error {
	if uint64(len(sendTS)) != cfg.NumFrames {
		return fmt.Errorf("sender: sendTS length %d != NumFrames %d", len(sendTS), cfg.NumFrames)
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	n := cfg.ForegroundN
	if n <= 0 {
		n = 1
	}
	m := cfg.ForegroundM
	hz := cfg.Clock.Hz()

	for k := uint64(0); k < cfg.NumFrames; k++ {
		target := cfg.StartTSC + k*hz/cfg.FrameRate
		for cfg.Clock.Cycles() < target {
			// intentional busy-wait: sub-microsecond pacing precision is
			// below sleep granularity.
		}

		foreground := int(k%uint64(n)) < m
		tpl := selectTemplate(cfg, foreground)
		if tpl == nil {
			return ErrPoolExhausted
		}

		if err := mutate(cfg, tpl, foreground, k); err != nil {
			return err
		}

		for {
			if err := cfg.Tx.Send(tpl.Buf); err == nil {
				break
			}
			// retry until the NIC accepts it; no fallback.
		}
		sendTS[k] = cfg.Clock.Cycles()
	}

	elapsed := float64(cfg.Clock.Cycles()-cfg.StartTSC) / float64(hz)
	durationSec := float64(cfg.NumFrames) / float64(cfg.FrameRate)
	if elapsed > durationSec*tolerance {
		return fmt.Errorf("%w: elapsed=%.6fs budget=%.6fs", ErrScheduleMiss, elapsed, durationSec*tolerance)
	}
	return nil
}

func selectTemplate(cfg Config, foreground bool) *frame.Template {
	if !foreground && cfg.BgPool != nil {
		return cfg.BgPool.Next(0)
	}
	netIdx := 0
	if cfg.DestNet != nil {
		netIdx = cfg.DestNet.Next()
	}
	return cfg.Pool.Next(netIdx)
}

func mutate(cfg Config, tpl *frame.Template, foreground bool, k uint64) error {
	switch {
	case foreground && cfg.Mode == StatefulReplay:
		if cfg.Table == nil || cfg.Cursor == nil {
			return fmt.Errorf("sender: stateful replay requires a state table and cursor")
		}
		idx := cfg.Cursor.Next()
		tuple := cfg.Table.Get(idx)
		return tpl.RewriteStateful(tuple, k)
	case foreground && cfg.SrcPort != nil && cfg.DstPort != nil:
		tpl.RewritePorts(cfg.SrcPort.Next(), cfg.DstPort.Next(), k)
		return nil
	default:
		tpl.RewriteCounter(k)
		return nil
	}
}

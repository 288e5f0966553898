// Package coordinator implements the Measurement Coordinator: it spawns
// and joins the Paced Sender / Timestamp Receiver workers for a direction
// pair, runs the stateful preliminary phase when required, and hands the
// resulting timestamp vectors to the Evaluator.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lencsegabor/pdvtester/internal/affinity"
	"github.com/lencsegabor/pdvtester/internal/evaluator"
	"github.com/lencsegabor/pdvtester/internal/receiver"
	"github.com/lencsegabor/pdvtester/internal/sender"
	"github.com/lencsegabor/pdvtester/internal/statetable"
)

// StatefulMode selects one of the three cases the Coordinator supports.
type StatefulMode int

const (
	// Stateless runs independent Paced Senders/Timestamp Receivers per
	// direction with no shared state table.
	Stateless StatefulMode = iota
	// StatefulInitiatorLeft runs a preliminary phase to populate the
	// state table, then a stateless forward sender plus a learning
	// receiver, and a stateful-replay reverse sender plus a plain
	// receiver.
	StatefulInitiatorLeft
	// StatefulInitiatorRight mirrors StatefulInitiatorLeft.
	StatefulInitiatorRight
)

// FatalError wraps any condition the spec's error taxonomy calls fatal:
// resource exhaustion, schedule violation, protocol violation, or an
// unfilled state table. cmd/pdvtester is the only place that converts one
// of these into a process exit code.
type FatalError struct {
	Stage string
	Err   error
}

func (e *FatalError) Error() string { return fmt.Sprintf("coordinator: %s: %v", e.Stage, e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// ErrStateTableUnderfilled is returned when the preliminary phase ends
// without fully populating the state table.
var ErrStateTableUnderfilled = errors.New("coordinator: preliminary phase did not fill the state table")

// Stats is the live counter snapshot pkg/web reads (via WithPublisher).
type Stats struct {
	Name           string // direction name ("forward"/"reverse")
	FramesSent     uint64
	FramesReceived uint64
	FramesLost     uint64
	PDVMs          float64
	Elapsed        time.Duration
	Done           bool
}

// StatsPublisher holds the latest Stats behind an atomic pointer so
// concurrent readers (the web/tui front ends) never race with the worker
// goroutines producing updates.
type StatsPublisher struct {
	p atomic.Pointer[Stats]
}

// Publish atomically replaces the current snapshot.
func (s *StatsPublisher) Publish(st Stats) { s.p.Store(&st) }

// Load returns the latest published snapshot, or a zero Stats if none has
// been published yet.
func (s *StatsPublisher) Load() Stats {
	p := s.p.Load()
	if p == nil {
		return Stats{}
	}
	return *p
}

// direction bundles one direction's sender and receiver configuration and
// CPU core assignment.
type Direction struct {
	Name        string
	SenderCfg   sender.Config
	ReceiverCfg receiver.Config
	SenderCore  int
	ReceiverCore int

	// Progress, if set, receives a "running" snapshot when this
	// direction's workers start and a final snapshot once they join and
	// are evaluated. The sender/receiver loops themselves stay
	// instrumentation-free, so this is necessarily coarse: a front end
	// polling it sees zero counters, then the completed totals.
	Progress *StatsPublisher
}

// Result is the outcome of running one direction's sender+receiver pair.
type Result struct {
	SendTS, ReceiveTS []uint64
	Eval              evaluator.Result
}

// runWorker pins the calling goroutine's OS thread to core (best-effort;
// failure is logged, not fatal) before invoking fn.
func runWorker(core int, logger *slog.Logger, fn func()) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := affinity.Pin(core); err != nil {
		logger.Warn("coordinator: core pinning failed, continuing unpinned", "core", core, "error", err)
	}
	fn()
}

// RunDirection launches dir's sender and receiver concurrently, joins
// both, and evaluates the resulting timestamp vectors. It returns a
// *FatalError if either worker reports a fatal condition.
func RunDirection(ctx context.Context, dir Direction, evalCfg evaluator.Config, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir.Progress != nil {
		dir.Progress.Publish(Stats{Name: dir.Name})
	}

	var wg sync.WaitGroup
	var sendTS []uint64
	var receiveTS []uint64
	var sendErr, recvErr error

	wg.Add(2)
	go runWorker(dir.SenderCore, logger, func() {
		defer wg.Done()
		sendTS = make([]uint64, dir.SenderCfg.NumFrames)
		sendErr = sender.Run(dir.SenderCfg, sendTS)
	})
	go runWorker(dir.ReceiverCore, logger, func() {
		defer wg.Done()
		receiveTS, recvErr = receiver.Run(ctx, dir.ReceiverCfg)
	})
	wg.Wait()

	if sendErr != nil {
		return Result{}, &FatalError{Stage: fmt.Sprintf("%s sender", dir.Name), Err: sendErr}
	}
	if recvErr != nil {
		return Result{}, &FatalError{Stage: fmt.Sprintf("%s receiver", dir.Name), Err: recvErr}
	}

	res := evaluator.Evaluate(sendTS, receiveTS, evalCfg)
	if dir.Progress != nil {
		var received uint64
		for _, ts := range receiveTS {
			if ts != 0 {
				received++
			}
		}
		dir.Progress.Publish(Stats{
			Name:           dir.Name,
			FramesSent:     uint64(len(sendTS)),
			FramesReceived: received,
			FramesLost:     uint64(res.FramesLost),
			PDVMs:          res.PDV,
			Done:           true,
		})
	}
	return Result{SendTS: sendTS, ReceiveTS: receiveTS, Eval: res}, nil
}

// RunStateless implements Coordinator case 0: independent senders and
// receivers per direction, no shared state table.
func RunStateless(ctx context.Context, directions []Direction, evalCfg evaluator.Config, logger *slog.Logger) (map[string]Result, error) {
	results := make(map[string]Result, len(directions))
	for _, d := range directions {
		r, err := RunDirection(ctx, d, evalCfg, logger)
		if err != nil {
			return nil, err
		}
		results[d.Name] = r
	}
	return results, nil
}

// RunPreliminary runs the preliminary phase's initiator sender plus
// learning receiver to populate table, returning ErrStateTableUnderfilled
// wrapped in a FatalError if it does not fill completely.
func RunPreliminary(ctx context.Context, dir Direction, table *statetable.Table, logger *slog.Logger) error {
	dir.ReceiverCfg.Learn = true
	dir.ReceiverCfg.Table = table
	if _, err := RunDirection(ctx, dir, evaluator.Config{Hz: dir.SenderCfg.Clock.Hz()}, logger); err != nil {
		return err
	}
	if !table.Filled() {
		return &FatalError{Stage: "preliminary", Err: ErrStateTableUnderfilled}
	}
	return nil
}

// RunStateful implements Coordinator cases 1 and 2: a preliminary phase
// fills the state table, then the test phase runs a stateless sender plus
// learning receiver on the initiator side and a stateful-replay sender
// plus plain receiver on the responder side. Which physical side
// (left/right) is the initiator is expressed by the order of forward and
// reverse in the supplied Direction values; callers construct them
// accordingly for mode StatefulInitiatorLeft vs StatefulInitiatorRight.
//
// The test phase's forward and reverse directions run concurrently,
// mirroring RunDirection's own two-goroutine pattern one level up: the
// forward learning receiver keeps writing into table while the reverse
// replay sender reads from it, exercising the single-writer/multi-reader
// contract the state table's atomic.Pointer slots are built for.
func RunStateful(ctx context.Context, preliminary Direction, forward, reverse Direction, table *statetable.Table, evalCfg evaluator.Config, logger *slog.Logger) (map[string]Result, error) {
	if err := RunPreliminary(ctx, preliminary, table, logger); err != nil {
		return nil, err
	}

	// forward/reverse's StartTSC and FinishCycles were computed before the
	// preliminary phase ran and consumed real time; shift both directions'
	// pacing and deadline by however long the preliminary phase actually
	// took, or the test phase starts already behind schedule.
	shift := forward.SenderCfg.Clock.Cycles() - forward.SenderCfg.StartTSC
	forward.SenderCfg.StartTSC += shift
	forward.ReceiverCfg.FinishCycles += shift
	reverse.SenderCfg.StartTSC += shift
	reverse.ReceiverCfg.FinishCycles += shift

	// The forward direction's receiver keeps learning during the test
	// phase: the opposite-direction learner still writes while the
	// reverse sender replays.
	forward.ReceiverCfg.Learn = true
	forward.ReceiverCfg.Table = table

	var wg sync.WaitGroup
	var fwdRes, revRes Result
	var fwdErr, revErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		fwdRes, fwdErr = RunDirection(ctx, forward, evalCfg, logger)
	}()
	go func() {
		defer wg.Done()
		revRes, revErr = RunDirection(ctx, reverse, evalCfg, logger)
	}()
	wg.Wait()

	if fwdErr != nil {
		return nil, fwdErr
	}
	if revErr != nil {
		return nil, revErr
	}

	return map[string]Result{
		forward.Name: fwdRes,
		reverse.Name: revRes,
	}, nil
}

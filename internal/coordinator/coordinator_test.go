package coordinator

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/lencsegabor/pdvtester/internal/clock"
	"github.com/lencsegabor/pdvtester/internal/evaluator"
	"github.com/lencsegabor/pdvtester/internal/frame"
	"github.com/lencsegabor/pdvtester/internal/netio"
	"github.com/lencsegabor/pdvtester/internal/receiver"
	"github.com/lencsegabor/pdvtester/internal/sender"
)

// TestLoopbackStatelessScenario reproduces scenario 1: loopback stateless
// IPv4, fixed ports, a single destination network, all frames foreground.
// Every sent frame should be received with no loss.
func TestLoopbackStatelessScenario(t *testing.T) {
	const numFrames = 200
	const rate = 10000 // frames/sec

	spec := frame.Spec{
		FrameLen: 64,
		IPv4:     true,
		SrcMAC:   net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:   net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	pool, err := frame.NewPool(spec, 1, frame.DefaultDepth)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	tx, rx := netio.NewLoopback(numFrames)
	defer tx.Close()
	defer rx.Close()

	clk := clock.NewMonotonic()
	start := clk.Cycles()

	dir := Direction{
		Name: "forward",
		SenderCfg: sender.Config{
			Clock:       clk,
			Tx:          tx,
			Pool:        pool,
			NumFrames:   numFrames,
			FrameRate:   rate,
			StartTSC:    start,
			ForegroundM: 1,
			ForegroundN: 1,
		},
		ReceiverCfg: receiver.Config{
			Clock:        clk,
			Rx:           rx,
			FinishCycles: start + clk.Hz()/2, // 0.5s deadline, generous for a 20ms test
			NumFrames:    numFrames,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	evalCfg := evaluator.Config{Hz: clk.Hz(), PenaltyMs: 1000}
	results, err := RunStateless(ctx, []Direction{dir}, evalCfg, nil)
	if err != nil {
		t.Fatalf("RunStateless: %v", err)
	}
	res := results["forward"]
	if res.Eval.FramesLost != 0 {
		t.Fatalf("FramesLost = %d, want 0", res.Eval.FramesLost)
	}
}

package evaluator

import "testing"

func TestLostFramePenalty(t *testing.T) {
	hz := uint64(1_000_000_000)
	send := []uint64{0, 1000, 2000}
	recv := []uint64{0, 0, 2500} // frames 0 and 1 lost (zero means never received)
	res := Evaluate(send, recv, Config{Hz: hz, PenaltyMs: 2000})
	if res.FramesLost != 2 {
		t.Fatalf("FramesLost = %d, want 2", res.FramesLost)
	}
}

func TestNegativeLatencyClamped(t *testing.T) {
	hz := uint64(1_000_000_000)
	send := []uint64{1000}
	recv := []uint64{500} // receive before send: clock skew
	res := Evaluate(send, recv, Config{Hz: hz, PenaltyMs: 1000})
	if res.NumCorrected != 1 {
		t.Fatalf("NumCorrected = %d, want 1", res.NumCorrected)
	}
}

func TestFrameTimeoutMode(t *testing.T) {
	hz := uint64(1000) // 1 unit = 1ms
	send := []uint64{0, 0, 0}
	recv := []uint64{5, 50, 0} // third lost
	res := Evaluate(send, recv, Config{Hz: hz, FrameTimeoutMs: 10, PenaltyMs: 1000})
	if !res.TimeoutMode {
		t.Fatalf("expected TimeoutMode true")
	}
	// frame 0: latency 5ms <= 10ms timeout -> counted
	// frame 1: latency 50ms > 10ms -> not counted
	// frame 2: lost, latency = penalty (1000ms) > 10ms -> not counted
	if res.FramesTimeout != 1 {
		t.Fatalf("FramesTimeout = %d, want 1", res.FramesTimeout)
	}
}

func TestPDVComputation(t *testing.T) {
	hz := uint64(1000) // 1 unit = 1ms
	n := 1000
	send := make([]uint64, n)
	recv := make([]uint64, n)
	for i := 0; i < n; i++ {
		send[i] = 0
		recv[i] = 10 // constant 10ms latency for all but last
	}
	recv[n-1] = 100 // one outlier frame at the 99.9th percentile boundary
	res := Evaluate(send, recv, Config{Hz: hz, PenaltyMs: 1000})
	if res.Dmin != 10 {
		t.Fatalf("Dmin = %v, want 10", res.Dmin)
	}
	if res.Dmax != 100 {
		t.Fatalf("Dmax = %v, want 100", res.Dmax)
	}
	if res.PDV < 0 {
		t.Fatalf("PDV = %v, must be non-negative", res.PDV)
	}
}

func TestEvaluatorIdempotence(t *testing.T) {
	hz := uint64(1_000_000_000)
	send := []uint64{0, 1000, 2000, 3000}
	recv := []uint64{500, 0, 2400, 3600}
	cfg := Config{Hz: hz, PenaltyMs: 2000}
	r1 := Evaluate(send, recv, cfg)
	r2 := Evaluate(send, recv, cfg)
	if r1 != r2 {
		t.Fatalf("Evaluate is not idempotent: %+v != %+v", r1, r2)
	}
}

// Package evaluator computes per-frame latency from paired send/receive
// timestamp vectors and produces Dmin, Dmax, D99.9 and PDV, or (in
// frame_timeout mode) a simple received-within-timeout count.
package evaluator

import (
	"log/slog"
	"sort"
)

// Result is the outcome of evaluating one pair of timestamp vectors.
type Result struct {
	FramesLost    int
	NumCorrected  int
	FramesTimeout int // only set when FrameTimeoutMs > 0
	Dmin          float64
	Dmax          float64
	D999          float64
	PDV           float64
	TimeoutMode   bool
}

// Config bundles the evaluator's inputs beyond the timestamp vectors
// themselves.
type Config struct {
	Hz            uint64
	FrameTimeoutMs uint64 // 0 means "do PDV"
	PenaltyMs     uint64
	Logger        *slog.Logger
}

// Evaluate computes latency[i] = receiveTS[i] - sendTS[i] for every frame,
// substituting the configured penalty for lost frames and clamping
// negative deltas to zero, then either counts frames received within
// frame_timeout or computes Dmin/Dmax/D99.9/PDV. Running Evaluate twice on
// the same vectors yields identical results (it never mutates its
// inputs).
func Evaluate(sendTS, receiveTS []uint64, cfg Config) Result {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	n := len(sendTS)
	latency := make([]int64, n)
	penaltyUnits := int64(cfg.PenaltyMs) * int64(cfg.Hz) / 1000

	var framesLost, numCorrected int
	for i := 0; i < n; i++ {
		if receiveTS[i] == 0 {
			latency[i] = penaltyUnits
			framesLost++
			continue
		}
		d := int64(receiveTS[i]) - int64(sendTS[i])
		if d < 0 {
			d = 0
			numCorrected++
		}
		latency[i] = d
	}

	if numCorrected > 0 {
		logger.Debug("evaluator: corrected negative latency values", "count", numCorrected)
	}
	for _, d := range latency {
		if d > penaltyUnits {
			logger.Debug("evaluator: BUG latency exceeds penalty", "latency", d, "penalty", penaltyUnits)
			break
		}
	}

	res := Result{FramesLost: framesLost, NumCorrected: numCorrected}

	if cfg.FrameTimeoutMs > 0 {
		res.TimeoutMode = true
		thresh := int64(cfg.FrameTimeoutMs) * int64(cfg.Hz) / 1000
		count := 0
		for _, d := range latency {
			if d <= thresh {
				count++
			}
		}
		res.FramesTimeout = count
		return res
	}

	if n == 0 {
		return res
	}

	dmin, dmax := latency[0], latency[0]
	for _, d := range latency {
		if d < dmin {
			dmin = d
		}
		if d > dmax {
			dmax = d
		}
	}

	sorted := append([]int64(nil), latency...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(ceilDiv999(len(sorted))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	d999 := sorted[idx]

	toMs := func(v int64) float64 {
		return 1000.0 * float64(v) / float64(cfg.Hz)
	}
	res.Dmin = toMs(dmin)
	res.Dmax = toMs(dmax)
	res.D999 = toMs(d999)
	res.PDV = res.D999 - res.Dmin
	return res
}

// ceilDiv999 computes ceil(0.999 * n) without floating point rounding
// surprises at large n.
func ceilDiv999(n int) int64 {
	num := int64(n) * 999
	q := num / 1000
	if num%1000 != 0 {
		q++
	}
	return q
}

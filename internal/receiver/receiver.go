// Package receiver implements the line-rate receive loop: the Timestamp
// Receiver component. It identifies test frames, records a receive
// timestamp indexed by the in-frame counter, and — when acting as a
// learning receiver — extracts 4-tuples from IPv4 foreground frames into
// the shared state table.
package receiver

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"

	"github.com/lencsegabor/pdvtester/internal/clock"
	"github.com/lencsegabor/pdvtester/internal/netio"
	"github.com/lencsegabor/pdvtester/internal/statetable"
	"github.com/lencsegabor/pdvtester/internal/wire"
)

// ErrInvalidCounter is returned when a received frame's counter is out of
// range — corruption, not loss, and therefore fatal. Replaces the
// original implementation's four KAKUKK tags; the logged "side" field
// carries the information those distinct tags used to.
var ErrInvalidCounter = errors.New("receiver: counter out of range")

// Config bundles one receiver worker's inputs.
type Config struct {
	Clock        clock.Clock
	Rx           netio.RxQueue
	FinishCycles uint64 // absolute deadline: start_tsc + (duration+global_timeout)*hz
	NumFrames    uint64 // F
	Learn        bool   // true for a learning receiver (preliminary phase, or stateful test phase)
	Table        *statetable.Table
	Logger       *slog.Logger
	Side         string // "left" or "right", for diagnostics only
}

// Run drains cfg.Rx until the clock reaches cfg.FinishCycles or ctx is
// done, writing one receive timestamp per matched frame into the returned
// slice (indexed by in-frame counter; zero means never received) and, if
// cfg.Learn is set, writing every identified IPv4 frame's 4-tuple into
// cfg.Table.
func Run(ctx context.Context, cfg Config) ([]uint64, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	receiveTS := make([]uint64, cfg.NumFrames)

	for cfg.Clock.Cycles() < cfg.FinishCycles {
		if ctx.Err() != nil {
			break
		}
		buf, err := cfg.Rx.Receive(ctx)
		if err != nil {
			return receiveTS, err
		}
		if buf == nil {
			continue
		}

		off, isV4, ok := identify(buf)
		if !ok {
			continue // silently dropped, per spec
		}

		counter := wire.Counter(buf[off.Counter:])
		ts := cfg.Clock.Cycles()
		if counter >= cfg.NumFrames {
			logger.Error("receiver: counter out of range", "side", cfg.Side, "counter", counter, "num_frames", cfg.NumFrames)
			return receiveTS, ErrInvalidCounter
		}
		receiveTS[counter] = ts

		if cfg.Learn && isV4 && cfg.Table != nil {
			cfg.Table.Learn(extractTuple(buf))
		}
	}
	return receiveTS, nil
}

// identify inspects EtherType, next-protocol and the magic identifier,
// returning the IP-version-specific offsets and whether the frame is
// IPv4, or ok=false if any check fails.
func identify(buf []byte) (wire.Offsets, bool, bool) {
	if len(buf) < 14 {
		return wire.Offsets{}, false, false
	}
	etherType := binary.BigEndian.Uint16(buf[12:14])
	switch etherType {
	case wire.EtherTypeIPv4:
		off := wire.OffsetsV4
		if len(buf) < off.Magic+8 {
			return off, true, false
		}
		if buf[off.NextProto] != wire.ProtoUDP {
			return off, true, false
		}
		if string(buf[off.Magic:off.Magic+8]) != wire.Magic {
			return off, true, false
		}
		return off, true, true
	case wire.EtherTypeIPv6:
		off := wire.OffsetsV6
		if len(buf) < off.Magic+8 {
			return off, false, false
		}
		if buf[off.NextProto] != wire.ProtoUDP {
			return off, false, false
		}
		if string(buf[off.Magic:off.Magic+8]) != wire.Magic {
			return off, false, false
		}
		return off, false, true
	default:
		return wire.Offsets{}, false, false
	}
}

// extractTuple reads the 4-tuple from an identified IPv4 frame, preserving
// network byte order exactly as it appeared on the wire.
func extractTuple(buf []byte) wire.FourTuple {
	return wire.FourTuple{
		InitAddr: binary.BigEndian.Uint32(buf[wire.IPv4SrcAddrOffset : wire.IPv4SrcAddrOffset+4]),
		RespAddr: binary.BigEndian.Uint32(buf[wire.IPv4DstAddrOffset : wire.IPv4DstAddrOffset+4]),
		InitPort: binary.BigEndian.Uint16(buf[wire.OffsetsV4.UDPSrcPort : wire.OffsetsV4.UDPSrcPort+2]),
		RespPort: binary.BigEndian.Uint16(buf[wire.OffsetsV4.UDPDstPort : wire.OffsetsV4.UDPDstPort+2]),
	}
}

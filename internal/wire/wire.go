// Package wire defines the byte-exact layout of PDV test frames and the
// incremental checksum arithmetic used to keep them valid without a full
// recompute on every transmission.
package wire

import "encoding/binary"

// Magic is the 8-byte payload identifier every test frame carries at the
// start of its UDP payload.
const Magic = "IDENTIFY"

// Canonical RFC 2544 Appendix C.2.6.4 ports, used whenever a side's port is
// left at zero and will not be overwritten by a variator.
const (
	CanonicalSrcPort uint16 = 0xC020
	CanonicalDstPort uint16 = 0x0007
)

// EtherType values, big-endian on the wire.
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeIPv6 uint16 = 0x86DD
)

// ProtoUDP is the IPv4 protocol number / IPv6 next-header value for UDP.
const ProtoUDP byte = 17

// Offsets holds the byte-exact field positions for one IP version's test
// frame layout, as carried in the frame template factory's output.
type Offsets struct {
	EtherType   int
	NextProto   int
	UDPSrcPort  int
	UDPDstPort  int
	UDPChecksum int
	Magic       int
	Counter     int
}

// OffsetsV4 and OffsetsV6 are the two fixed layouts test frames use.
var (
	OffsetsV4 = Offsets{
		EtherType:   12,
		NextProto:   23,
		UDPSrcPort:  34,
		UDPDstPort:  36,
		UDPChecksum: 40,
		Magic:       42,
		Counter:     50,
	}
	OffsetsV6 = Offsets{
		EtherType:   12,
		NextProto:   20,
		UDPSrcPort:  54,
		UDPDstPort:  56,
		UDPChecksum: 60,
		Magic:       62,
		Counter:     70,
	}
)

// IPv4 header field offsets, relative to the start of the Ethernet frame
// (14-byte Ethernet header precedes the IPv4 header).
const (
	IPv4HeaderStart    = 14
	IPv4HeaderLen      = 20
	IPv4ChecksumOffset = IPv4HeaderStart + 10
	IPv4SrcAddrOffset  = IPv4HeaderStart + 12
	IPv4DstAddrOffset  = IPv4HeaderStart + 16
	IPv6DstAddrOffset  = 14 + 24
)

// FourTuple is the NAT-mapping key the learning receiver records and the
// replaying sender later reads back: initiator and responder addresses and
// ports, all kept in network byte order exactly as they appeared on the
// wire.
type FourTuple struct {
	InitAddr uint32
	RespAddr uint32
	InitPort uint16
	RespPort uint16
}

// onesComplementSum adds 16-bit words from b (big-endian) into the running
// sum acc, folding pairs into a uint32 accumulator. Callers fold down to
// 16 bits themselves once all words for a checksum pass have been summed.
func onesComplementSum(acc uint32, b []byte) uint32 {
	for i := 0; i+1 < len(b); i += 2 {
		acc += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if len(b)%2 == 1 {
		acc += uint32(b[len(b)-1]) << 8
	}
	return acc
}

// fold reduces a 32-bit accumulated sum to 16 bits, folding twice as the
// standard one's-complement checksum algorithm requires.
func fold(acc uint32) uint16 {
	acc = (acc & 0xffff) + (acc >> 16)
	acc = (acc & 0xffff) + (acc >> 16)
	return uint16(acc)
}

// subtractWords removes b's 16-bit words from acc, the one's-complement
// equivalent of subtraction: adding a word's bitwise complement cancels out
// having added the word itself (RFC 1624 incremental-update identity).
// Used to retract a template's build-time address words from its stored
// base sum before folding in a replacement address, so a template's
// checksum bookkeeping doesn't depend on what addresses it was built with.
func subtractWords(acc uint32, b []byte) uint32 {
	for i := 0; i+1 < len(b); i += 2 {
		acc += uint32(^binary.BigEndian.Uint16(b[i:i+2])) & 0xffff
	}
	return acc
}

// FinishChecksum folds acc and takes the one's complement, applying the
// RFC 768 "must not be zero" rule. UDP-only: a computed IPv4 header
// checksum of zero is valid and must not be remapped.
func FinishChecksum(acc uint32) uint16 {
	sum := ^fold(acc)
	if sum == 0 {
		sum = 0xffff
	}
	return sum
}

// finishPlain folds acc and takes the one's complement with no
// zero-substitution, for checksums that don't carry UDP's "must not be
// zero" rule.
func finishPlain(acc uint32) uint16 {
	return ^fold(acc)
}

// BaseSum computes the uncomplemented one's-complement sum over b. Stored at
// template-creation time as S0 and reused every time the mutable fields of
// the same template are overwritten, so the checksum never needs a full
// recompute.
func BaseSum(b []byte) uint32 {
	return onesComplementSum(0, b)
}

// UpdateUDPChecksum recomputes a stateless frame's UDP checksum from its
// stored base sum, the bytes of the fields that changed (0, 1 or 2 port
// words) and the 8-byte little-endian counter, per the incremental
// algorithm in the checksum core.
func UpdateUDPChecksum(baseSum uint32, changedPortBytes []byte, counter []byte) uint16 {
	acc := baseSum
	acc = onesComplementSum(acc, changedPortBytes)
	acc = onesComplementSum(acc, counter)
	return FinishChecksum(acc)
}

// UpdateUDPChecksumStateful is UpdateUDPChecksum for a stateful-replay
// frame. origAddrWords is the 8-byte source+destination address pair that
// was folded into baseSum at template build time; it is retracted before
// tuple (the replacement 4-tuple's 12 address+port bytes) is folded in, so
// the result is correct regardless of what addresses the template was
// originally built with.
func UpdateUDPChecksumStateful(baseSum uint32, origAddrWords []byte, counter []byte, tuple []byte) uint16 {
	acc := subtractWords(baseSum, origAddrWords)
	acc = onesComplementSum(acc, tuple)
	acc = onesComplementSum(acc, counter)
	return FinishChecksum(acc)
}

// RecomputeIPv4Checksum fully recomputes the IPv4 header checksum over the
// 20-byte header at hdr, required whenever the source/destination address
// fields change (stateful replay). The checksum field inside hdr must be
// zeroed by the caller before calling this.
func RecomputeIPv4Checksum(hdr []byte) uint16 {
	return finishPlain(BaseSum(hdr))
}

// PutCounter writes counter into b as a little-endian 64-bit value,
// matching the wire format's raw, unconverted byte order.
func PutCounter(b []byte, counter uint64) {
	binary.LittleEndian.PutUint64(b, counter)
}

// Counter reads a little-endian 64-bit counter from b.
func Counter(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

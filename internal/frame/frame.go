// Package frame builds Ethernet+IP+UDP test-frame templates and the
// rotating per-destination-network pool of them a Paced Sender mutates and
// retransmits on every iteration.
package frame

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/lencsegabor/pdvtester/internal/wire"
)

// Spec describes one template to build.
type Spec struct {
	FrameLen int // total frame length, Ethernet CRC excluded
	IPv4     bool
	SrcMAC   net.HardwareAddr
	DstMAC   net.HardwareAddr
	SrcIP    net.IP
	DstIP    net.IP
	SrcPort  uint16 // 0 means "use canonical / will be overwritten"
	DstPort  uint16
	// Overwritten is true when the caller (a stateful or port-varying
	// sender) will rewrite ports/counter every iteration; when false and
	// both ports are zero, the RFC 2544 canonical ports are substituted.
	Overwritten bool
}

// Template is a preallocated packet buffer plus the cached metadata needed
// to mutate and re-checksum it without a full recompute.
type Template struct {
	Buf     []byte
	Offsets wire.Offsets
	IPv4    bool

	// baseSum is the one's-complement sum of every byte that stays fixed
	// across transmissions of this template: pseudo-header, UDP length,
	// and the whole payload except the 8-byte counter. Ports are summed
	// in separately per transmission since they may vary.
	baseSum uint32

	// addrWords is the source+destination address bytes folded into
	// baseSum via the pseudo-header at build time. RewriteStateful
	// subtracts these before folding in a replacement 4-tuple, so a
	// stateful template's checksum is correct regardless of what
	// addresses (zero or real) it happened to be built with.
	addrWords [8]byte
}

const (
	ethHeaderLen = 14
	ipv4HdrLen   = wire.IPv4HeaderLen
	ipv6HdrLen   = 40
	udpHdrLen    = 8
	counterLen   = 8
)

// Build constructs one Ethernet+IP+UDP template per s, writing the magic
// identifier, a zeroed counter placeholder, and deterministic filler, and
// computing the IPv4/UDP checksums at creation time as the factory
// requires.
func Build(s Spec) (*Template, error) {
	if s.IPv4 {
		return buildV4(s)
	}
	return buildV6(s)
}

func resolvePorts(s Spec) (src, dst uint16) {
	src, dst = s.SrcPort, s.DstPort
	if !s.Overwritten && src == 0 && dst == 0 {
		return wire.CanonicalSrcPort, wire.CanonicalDstPort
	}
	return src, dst
}

func writePayload(buf []byte, off int) {
	copy(buf[off:off+8], wire.Magic)
	// 8 zero bytes reserved for the counter.
	for i := 0; i < 8; i++ {
		buf[off+8+i] = 0
	}
	filler := buf[off+16:]
	for i := range filler {
		filler[i] = byte(i % 256)
	}
}

func buildV4(s Spec) (*Template, error) {
	if s.FrameLen < ethHeaderLen+ipv4HdrLen+udpHdrLen+16 {
		return nil, fmt.Errorf("frame: frame length %d too small for IPv4 template", s.FrameLen)
	}
	buf := make([]byte, s.FrameLen)

	copy(buf[0:6], s.DstMAC)
	copy(buf[6:12], s.SrcMAC)
	binary.BigEndian.PutUint16(buf[12:14], wire.EtherTypeIPv4)

	ipHdr := buf[ethHeaderLen : ethHeaderLen+ipv4HdrLen]
	ipHdr[0] = 0x45 // version 4, IHL 5
	ipHdr[1] = 0
	binary.BigEndian.PutUint16(ipHdr[2:4], uint16(s.FrameLen-ethHeaderLen))
	binary.BigEndian.PutUint16(ipHdr[4:6], 0) // identification
	binary.BigEndian.PutUint16(ipHdr[6:8], 0) // flags/fragment offset
	ipHdr[8] = 64                             // TTL
	ipHdr[9] = wire.ProtoUDP
	binary.BigEndian.PutUint16(ipHdr[10:12], 0) // checksum, filled below
	copy(ipHdr[12:16], s.SrcIP.To4())
	copy(ipHdr[16:20], s.DstIP.To4())
	binary.BigEndian.PutUint16(ipHdr[10:12], wire.RecomputeIPv4Checksum(ipHdr))

	udpHdr := buf[ethHeaderLen+ipv4HdrLen : ethHeaderLen+ipv4HdrLen+udpHdrLen]
	src, dst := resolvePorts(s)
	udpLen := uint16(s.FrameLen - ethHeaderLen - ipv4HdrLen)
	binary.BigEndian.PutUint16(udpHdr[0:2], src)
	binary.BigEndian.PutUint16(udpHdr[2:4], dst)
	binary.BigEndian.PutUint16(udpHdr[4:6], udpLen)
	binary.BigEndian.PutUint16(udpHdr[6:8], 0)

	payloadOff := ethHeaderLen + ipv4HdrLen + udpHdrLen
	writePayload(buf, payloadOff)

	pseudo := ipv4PseudoHeader(s.SrcIP.To4(), s.DstIP.To4(), udpLen)
	base := wire.BaseSum(pseudo)
	base = wire.BaseSum(append(append([]byte{}, udpHdr[4:6]...), udpHdr[6:8]...)) + base
	base += wire.BaseSum(buf[payloadOff:payloadOff+8]) + wire.BaseSum(buf[payloadOff+16:]) // payload minus counter
	binary.BigEndian.PutUint16(udpHdr[6:8], wire.UpdateUDPChecksum(base, udpHdr[0:4], buf[payloadOff+8:payloadOff+16]))

	var addrWords [8]byte
	copy(addrWords[0:4], s.SrcIP.To4())
	copy(addrWords[4:8], s.DstIP.To4())

	return &Template{Buf: buf, Offsets: wire.OffsetsV4, IPv4: true, baseSum: base, addrWords: addrWords}, nil
}

func buildV6(s Spec) (*Template, error) {
	if s.FrameLen < ethHeaderLen+ipv6HdrLen+udpHdrLen+16 {
		return nil, fmt.Errorf("frame: frame length %d too small for IPv6 template", s.FrameLen)
	}
	buf := make([]byte, s.FrameLen)

	copy(buf[0:6], s.DstMAC)
	copy(buf[6:12], s.SrcMAC)
	binary.BigEndian.PutUint16(buf[12:14], wire.EtherTypeIPv6)

	ipHdr := buf[ethHeaderLen : ethHeaderLen+ipv6HdrLen]
	binary.BigEndian.PutUint32(ipHdr[0:4], 0x60000000) // version 6
	udpLen := uint16(s.FrameLen - ethHeaderLen - ipv6HdrLen)
	binary.BigEndian.PutUint16(ipHdr[4:6], udpLen)
	ipHdr[6] = wire.ProtoUDP // next header
	ipHdr[7] = 64            // hop limit
	copy(ipHdr[8:24], s.SrcIP.To16())
	copy(ipHdr[24:40], s.DstIP.To16())

	udpHdr := buf[ethHeaderLen+ipv6HdrLen : ethHeaderLen+ipv6HdrLen+udpHdrLen]
	src, dst := resolvePorts(s)
	binary.BigEndian.PutUint16(udpHdr[0:2], src)
	binary.BigEndian.PutUint16(udpHdr[2:4], dst)
	binary.BigEndian.PutUint16(udpHdr[4:6], udpLen)
	binary.BigEndian.PutUint16(udpHdr[6:8], 0)

	payloadOff := ethHeaderLen + ipv6HdrLen + udpHdrLen
	writePayload(buf, payloadOff)

	pseudo := ipv6PseudoHeader(s.SrcIP.To16(), s.DstIP.To16(), uint32(udpLen))
	base := wire.BaseSum(pseudo)
	base += wire.BaseSum(append(append([]byte{}, udpHdr[4:6]...), udpHdr[6:8]...))
	base += wire.BaseSum(buf[payloadOff:payloadOff+8]) + wire.BaseSum(buf[payloadOff+16:])
	binary.BigEndian.PutUint16(udpHdr[6:8], wire.UpdateUDPChecksum(base, udpHdr[0:4], buf[payloadOff+8:payloadOff+16]))

	return &Template{Buf: buf, Offsets: wire.OffsetsV6, IPv4: false, baseSum: base}, nil
}

func ipv4PseudoHeader(src, dst net.IP, udpLen uint16) []byte {
	b := make([]byte, 12)
	copy(b[0:4], src)
	copy(b[4:8], dst)
	b[8] = 0
	b[9] = wire.ProtoUDP
	binary.BigEndian.PutUint16(b[10:12], udpLen)
	return b
}

func ipv6PseudoHeader(src, dst net.IP, udpLen uint32) []byte {
	b := make([]byte, 40)
	copy(b[0:16], src)
	copy(b[16:32], dst)
	binary.BigEndian.PutUint32(b[32:36], udpLen)
	b[39] = wire.ProtoUDP
	return b
}

// RewriteCounter writes counter into the template's counter field and
// recomputes the UDP checksum incrementally from the stored base sum,
// leaving port fields untouched.
func (t *Template) RewriteCounter(counter uint64) {
	cb := t.Buf[t.Offsets.Counter : t.Offsets.Counter+counterLen]
	wire.PutCounter(cb, counter)
	portBytes := t.Buf[t.Offsets.UDPSrcPort : t.Offsets.UDPSrcPort+4]
	chk := wire.UpdateUDPChecksum(t.baseSum, portBytes, cb)
	binary.BigEndian.PutUint16(t.Buf[t.Offsets.UDPChecksum:t.Offsets.UDPChecksum+2], chk)
}

// RewritePorts rewrites the UDP source/destination ports and the counter,
// recomputing the UDP checksum incrementally.
func (t *Template) RewritePorts(srcPort, dstPort uint16, counter uint64) {
	binary.BigEndian.PutUint16(t.Buf[t.Offsets.UDPSrcPort:t.Offsets.UDPSrcPort+2], srcPort)
	binary.BigEndian.PutUint16(t.Buf[t.Offsets.UDPDstPort:t.Offsets.UDPDstPort+2], dstPort)
	t.RewriteCounter(counter)
}

// RewriteDestNet overwrites the destination-network index byte: IPv4
// destination address byte [2], or IPv6 destination address byte [7].
func (t *Template) RewriteDestNet(idx byte) {
	if t.IPv4 {
		t.Buf[wire.IPv4DstAddrOffset+2] = idx
	} else {
		t.Buf[wire.IPv6DstAddrOffset+7] = idx
	}
}

// RewriteStateful overwrites the IPv4 source/destination addresses and
// ports from tuple, recomputes the UDP checksum incrementally (retracting
// the template's build-time addresses and folding in the 12 overwritten
// four-tuple bytes) and fully recomputes the IPv4 header checksum, as
// required for stateful-replay frames. Correct regardless of what
// addresses the template was originally built with.
func (t *Template) RewriteStateful(tuple wire.FourTuple, counter uint64) error {
	if !t.IPv4 {
		return fmt.Errorf("frame: stateful rewrite is only supported for IPv4 templates")
	}
	binary.BigEndian.PutUint32(t.Buf[wire.IPv4SrcAddrOffset:wire.IPv4SrcAddrOffset+4], tuple.RespAddr)
	binary.BigEndian.PutUint32(t.Buf[wire.IPv4DstAddrOffset:wire.IPv4DstAddrOffset+4], tuple.InitAddr)
	binary.BigEndian.PutUint16(t.Buf[t.Offsets.UDPSrcPort:t.Offsets.UDPSrcPort+2], tuple.RespPort)
	binary.BigEndian.PutUint16(t.Buf[t.Offsets.UDPDstPort:t.Offsets.UDPDstPort+2], tuple.InitPort)

	cb := t.Buf[t.Offsets.Counter : t.Offsets.Counter+counterLen]
	wire.PutCounter(cb, counter)

	tupleBytes := make([]byte, 12)
	binary.BigEndian.PutUint32(tupleBytes[0:4], tuple.RespAddr)
	binary.BigEndian.PutUint32(tupleBytes[4:8], tuple.InitAddr)
	binary.BigEndian.PutUint16(tupleBytes[8:10], tuple.RespPort)
	binary.BigEndian.PutUint16(tupleBytes[10:12], tuple.InitPort)
	chk := wire.UpdateUDPChecksumStateful(t.baseSum, t.addrWords[:], cb, tupleBytes)
	binary.BigEndian.PutUint16(t.Buf[t.Offsets.UDPChecksum:t.Offsets.UDPChecksum+2], chk)

	ipHdr := t.Buf[wire.IPv4HeaderStart : wire.IPv4HeaderStart+wire.IPv4HeaderLen]
	ipHdr[10], ipHdr[11] = 0, 0
	binary.BigEndian.PutUint16(ipHdr[10:12], wire.RecomputeIPv4Checksum(ipHdr))
	return nil
}

package frame

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/lencsegabor/pdvtester/internal/wire"
)

func testSpecV4() Spec {
	return Spec{
		FrameLen: 64,
		IPv4:     true,
		SrcMAC:   net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:   net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
}

func TestBuildV4Identification(t *testing.T) {
	tpl, err := Build(testSpecV4())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got := string(tpl.Buf[wire.OffsetsV4.Magic : wire.OffsetsV4.Magic+8])
	if got != wire.Magic {
		t.Fatalf("magic = %q, want %q", got, wire.Magic)
	}
}

func TestBuildV4CanonicalPorts(t *testing.T) {
	tpl, err := Build(testSpecV4())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	srcPort := uint16(tpl.Buf[wire.OffsetsV4.UDPSrcPort])<<8 | uint16(tpl.Buf[wire.OffsetsV4.UDPSrcPort+1])
	dstPort := uint16(tpl.Buf[wire.OffsetsV4.UDPDstPort])<<8 | uint16(tpl.Buf[wire.OffsetsV4.UDPDstPort+1])
	if srcPort != wire.CanonicalSrcPort || dstPort != wire.CanonicalDstPort {
		t.Fatalf("ports = %d/%d, want canonical %d/%d", srcPort, dstPort, wire.CanonicalSrcPort, wire.CanonicalDstPort)
	}
}

func TestChecksumNeverZero(t *testing.T) {
	tpl, err := Build(testSpecV4())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for k := uint64(0); k < 8; k++ {
		tpl.RewriteCounter(k)
		c := uint16(tpl.Buf[tpl.Offsets.UDPChecksum])<<8 | uint16(tpl.Buf[tpl.Offsets.UDPChecksum+1])
		if c == 0 {
			t.Fatalf("iteration %d: UDP checksum is zero, violates RFC 768", k)
		}
	}
}

func TestPoolRotation(t *testing.T) {
	pool, err := NewPool(testSpecV4(), 2, 4)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	seen := map[*Template]int{}
	for i := 0; i < 8; i++ {
		tpl := pool.Next(0)
		seen[tpl]++
	}
	if len(seen) != 4 {
		t.Fatalf("rotation over net 0 saw %d distinct buffers, want 4 (depth)", len(seen))
	}
	for tpl, n := range seen {
		if n != 2 {
			t.Fatalf("buffer %p reused %d times in 8 iterations over depth 4, want 2", tpl, n)
		}
	}
}

func TestPoolDestNetByte(t *testing.T) {
	pool, err := NewPool(testSpecV4(), 3, 2)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	for n := 0; n < 3; n++ {
		tpl := pool.Next(n)
		if tpl.Buf[wire.IPv4DstAddrOffset+2] != byte(n) {
			t.Fatalf("net %d: dest addr byte[2] = %d, want %d", n, tpl.Buf[wire.IPv4DstAddrOffset+2], n)
		}
	}
}

// verifyUDPChecksumV4 independently recomputes tpl's UDP checksum straight
// from the final on-wire buffer (pseudo-header + UDP header with the
// checksum field zeroed + payload) and fails if it doesn't match what's in
// the buffer, catching any double-counted or stale contribution the
// incremental update path might have left in baseSum.
func verifyUDPChecksumV4(t *testing.T, tpl *Template) {
	t.Helper()
	ipHdr := tpl.Buf[wire.IPv4HeaderStart : wire.IPv4HeaderStart+wire.IPv4HeaderLen]
	srcIP := net.IP(ipHdr[12:16])
	dstIP := net.IP(ipHdr[16:20])
	udpHdr := tpl.Buf[tpl.Offsets.UDPSrcPort : tpl.Offsets.UDPSrcPort+8]
	udpLen := uint16(udpHdr[4])<<8 | uint16(udpHdr[5])

	gotChk := uint16(tpl.Buf[tpl.Offsets.UDPChecksum])<<8 | uint16(tpl.Buf[tpl.Offsets.UDPChecksum+1])

	segment := append([]byte{}, udpHdr...)
	segment[6], segment[7] = 0, 0 // zero the checksum field for recompute
	segment = append(segment, tpl.Buf[tpl.Offsets.Magic:]...)

	pseudo := ipv4PseudoHeader(srcIP, dstIP, udpLen)
	want := wire.FinishChecksum(wire.BaseSum(pseudo) + wire.BaseSum(segment))

	if gotChk != want {
		t.Fatalf("UDP checksum = %#04x, independently recomputed = %#04x", gotChk, want)
	}
}

func TestRewriteStatefulChecksumCorrect(t *testing.T) {
	// Built with real, non-zero addresses: RewriteStateful must not
	// assume the template started out with a zero-IP placeholder.
	tpl, err := Build(testSpecV4())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	tuple := wire.FourTuple{
		InitAddr: 0xC0A80105, // 192.168.1.5
		RespAddr: 0xC0A80106, // 192.168.1.6
		InitPort: 5000,
		RespPort: 6000,
	}
	if err := tpl.RewriteStateful(tuple, 42); err != nil {
		t.Fatalf("RewriteStateful: %v", err)
	}

	verifyUDPChecksumV4(t, tpl)

	gotSrc := binary.BigEndian.Uint32(tpl.Buf[wire.IPv4SrcAddrOffset : wire.IPv4SrcAddrOffset+4])
	gotDst := binary.BigEndian.Uint32(tpl.Buf[wire.IPv4DstAddrOffset : wire.IPv4DstAddrOffset+4])
	if gotSrc != tuple.RespAddr || gotDst != tuple.InitAddr {
		t.Fatalf("addresses = %#x/%#x, want %#x/%#x", gotSrc, gotDst, tuple.RespAddr, tuple.InitAddr)
	}
}

func TestRewriteStatefulRepeatedCallsStayCorrect(t *testing.T) {
	// A replay sender calls RewriteStateful repeatedly as 4-tuples roll
	// over the state table; baseSum/addrWords must not drift.
	tpl, err := Build(testSpecV4())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	tuples := []wire.FourTuple{
		{InitAddr: 0xC0A80101, RespAddr: 0xC0A80201, InitPort: 1111, RespPort: 2222},
		{InitAddr: 0xC0A80102, RespAddr: 0xC0A80202, InitPort: 3333, RespPort: 4444},
		{InitAddr: 0xC0A80103, RespAddr: 0xC0A80203, InitPort: 5555, RespPort: 6666},
	}
	for i, tuple := range tuples {
		if err := tpl.RewriteStateful(tuple, uint64(i)); err != nil {
			t.Fatalf("RewriteStateful[%d]: %v", i, err)
		}
		verifyUDPChecksumV4(t, tpl)
	}
}

func TestPoolSizeMatchesOriginal(t *testing.T) {
	got := PoolSize(2, false)
	want := 2*2*DefaultDepth + 64 + 100
	if got != want {
		t.Fatalf("PoolSize(2,false) = %d, want %d", got, want)
	}
}

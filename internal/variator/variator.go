// Package variator implements the RFC 4814 port and destination-network
// variation modes the Paced Sender draws from on every iteration.
package variator

import "math/rand/v2"

// Mode selects how a port sequence is produced.
type Mode int

const (
	Fixed Mode = iota
	Increasing
	Decreasing
	Pseudorandom
)

// Port produces a sequence of port values per one side's (source or
// destination) variator configuration. It is not safe for concurrent use;
// each sender owns one Port instance.
type Port struct {
	mode    Mode
	min     uint16
	max     uint16
	current uint16
	canon   uint16
}

// NewPort builds a Port variator. canonical is the RFC 2544 canonical port
// value used when mode is Fixed.
func NewPort(mode Mode, min, max, canonical uint16) *Port {
	p := &Port{mode: mode, min: min, max: max, canon: canonical}
	switch mode {
	case Increasing:
		p.current = min
	case Decreasing:
		p.current = max
	}
	return p
}

// Next returns the next port value in the sequence.
//
// The wrap test for Increasing/Decreasing is deliberately performed AFTER
// the step, comparing the updated value against the extreme: Increasing
// wraps to min as soon as it reaches max (so max itself is never
// produced), and Decreasing wraps to max as soon as it reaches min (so min
// itself is never produced). This is a preserved quirk of the original
// design, not a bug to fix; callers relying on the exact sequence for
// trace compatibility depend on it.
func (p *Port) Next() uint16 {
	switch p.mode {
	case Fixed:
		return p.canon
	case Increasing:
		v := p.current
		p.current++
		if p.current == p.max {
			p.current = p.min
		}
		return v
	case Decreasing:
		v := p.current
		p.current--
		if p.current == p.min {
			p.current = p.max
		}
		return v
	case Pseudorandom:
		return p.min + uint16(rand.Uint64()%uint64(int(p.max)-int(p.min)+1))
	default:
		return p.canon
	}
}

// DestNet samples a destination-network index uniformly at random over
// [0, numNets). It does not iterate destinations; it samples per frame, as
// the variator design requires.
type DestNet struct {
	numNets int
}

// NewDestNet builds a DestNet sampler over numNets networks.
func NewDestNet(numNets int) *DestNet {
	return &DestNet{numNets: numNets}
}

// Next returns a uniformly sampled destination-network index. When there
// is only one destination network, it always returns 0 without consuming
// entropy.
func (d *DestNet) Next() int {
	if d.numNets <= 1 {
		return 0
	}
	return int(rand.Uint64() % uint64(d.numNets))
}

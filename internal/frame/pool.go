package frame

import "fmt"

// DefaultDepth is the default rotation-ring depth N: enough copies that a
// buffer the NIC may still be transmitting is never mutated in place.
const DefaultDepth = 8

// Pool holds N rotating copies of a template per destination-network
// index, so that on any iteration the buffer about to be reused is
// guaranteed past its last transmission.
type Pool struct {
	depth   int
	numNets int
	slots   [][]*Template // slots[net][i]
	cursors []int
}

// NewPool builds a pool of depth rotating copies of spec for each of
// numNets destination networks, rewriting the destination-network index
// byte into each copy at build time. depth <= 0 uses DefaultDepth.
func NewPool(spec Spec, numNets int, depth int) (*Pool, error) {
	if depth <= 0 {
		depth = DefaultDepth
	}
	if numNets <= 0 || numNets > 256 {
		return nil, fmt.Errorf("frame: num_dest_nets %d out of range [1,256]", numNets)
	}
	p := &Pool{
		depth:   depth,
		numNets: numNets,
		slots:   make([][]*Template, numNets),
		cursors: make([]int, numNets),
	}
	for n := 0; n < numNets; n++ {
		p.slots[n] = make([]*Template, depth)
		for i := 0; i < depth; i++ {
			t, err := Build(spec)
			if err != nil {
				return nil, fmt.Errorf("frame: pool exhausted building net %d slot %d: %w", n, i, err)
			}
			t.RewriteDestNet(byte(n))
			p.slots[n][i] = t
		}
	}
	return p, nil
}

// Next returns the next rotation slot's template for destination network
// netIdx, advancing that network's cursor modulo depth.
func (p *Pool) Next(netIdx int) *Template {
	cur := p.cursors[netIdx]
	t := p.slots[netIdx][cur]
	p.cursors[netIdx] = (cur + 1) % p.depth
	return t
}

// Depth returns the pool's rotation depth N.
func (p *Pool) Depth() int { return p.depth }

// NumNets returns the number of destination networks the pool covers.
func (p *Pool) NumNets() int { return p.numNets }

// PoolSize reports how many template buffers a sender must preallocate,
// mirroring the original implementation's senderPoolSize sizing helper:
// twice the per-network working set plus headroom for the NIC's transmit
// queue plus slack.
func PoolSize(numDestNets int, varPort bool) int {
	const txQueueSize = 64
	const slack = 100
	n := DefaultDepth
	size := 2*numDestNets*n + txQueueSize + slack
	if varPort {
		size += numDestNets
	}
	return size
}

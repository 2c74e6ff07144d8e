package sim

import (
	"sync"

	"github.com/san-kum/pimd/internal/dynamo"
)

// BeadsPool recycles ring-polymer buffers of one shape.
type BeadsPool struct {
	pool   sync.Pool
	nbeads int
	natoms int
}

func NewBeadsPool(nbeads, natoms int) *BeadsPool {
	return &BeadsPool{
		nbeads: nbeads,
		natoms: natoms,
		pool: sync.Pool{
			New: func() interface{} {
				return dynamo.NewBeads(nbeads, natoms)
			},
		},
	}
}

func (p *BeadsPool) Get() *dynamo.Beads {
	return p.pool.Get().(*dynamo.Beads)
}

func (p *BeadsPool) Put(b *dynamo.Beads) {
	if b != nil && b.NBeads() == p.nbeads && b.NAtoms() == p.natoms {
		p.pool.Put(b)
	}
}

// GetAndCopy returns a pooled buffer holding a copy of src.
func (p *BeadsPool) GetAndCopy(src *dynamo.Beads) *dynamo.Beads {
	dst := p.Get()
	copy(dst.Labels, src.Labels)
	copy(dst.Masses, src.Masses)
	for j := range src.Q {
		copy(dst.Q[j], src.Q[j])
		copy(dst.P[j], src.P[j])
	}
	return dst
}

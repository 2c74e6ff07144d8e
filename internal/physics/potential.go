package physics

import (
	"context"
	"fmt"
	"runtime"

	"github.com/san-kum/pimd/internal/dynamo"
)

// Potential evaluates the energy and forces of one configuration. The
// virial is W_ab = sum r_a f_b over the interaction terms.
type Potential interface {
	Kind() string
	Compute(q []float64, cell dynamo.Cell) (energy float64, forces []float64, virial [9]float64, err error)
}

// Provider adapts a Potential to the ForceProvider interface.
type Provider struct {
	name string
	pot  Potential
	// pbc disables the cell when false.
	pbc  bool
	proc int
}

func NewProvider(name string, pot Potential, pbc bool) *Provider {
	return &Provider{name: name, pot: pot, pbc: pbc, proc: runtime.NumCPU()}
}

func (p *Provider) Name() string         { return p.name }
func (p *Provider) Potential() Potential { return p.pot }
func (p *Provider) Parallelism() int     { return p.proc }
func (p *Provider) Close() error         { return nil }

func (p *Provider) Evaluate(ctx context.Context, req dynamo.ForceRequest) (*dynamo.ForceResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Positions)%3 != 0 {
		return nil, fmt.Errorf("%w: %d coordinates is not a multiple of 3", dynamo.ErrInvalidState, len(req.Positions))
	}
	cell := req.Cell
	if !p.pbc {
		cell = dynamo.Cell{}
	}
	v, f, vir, err := p.pot.Compute(req.Positions, cell)
	if err != nil {
		return nil, fmt.Errorf("%s: bead %d: %w", p.name, req.Bead, err)
	}
	return &dynamo.ForceResult{Potential: v, Forces: f, Virial: vir}, nil
}

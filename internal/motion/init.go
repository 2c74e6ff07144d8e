package motion

import (
	"fmt"
	"math"

	"github.com/san-kum/pimd/internal/config"
	"github.com/san-kum/pimd/internal/dynamo"
	"github.com/san-kum/pimd/internal/prng"
	"github.com/san-kum/pimd/internal/units"
)

// InitBeads places every bead on the configured initial positions.
func InitBeads(nbeads int, ic config.InitConfig) (*dynamo.Beads, error) {
	if len(ic.Positions) == 0 || len(ic.Positions)%3 != 0 {
		return nil, fmt.Errorf("motion: %d initial coordinates", len(ic.Positions))
	}
	natoms := len(ic.Positions) / 3
	if len(ic.Masses) != natoms || len(ic.Labels) != natoms {
		return nil, fmt.Errorf("%w: %d atoms, %d masses, %d labels",
			dynamo.ErrDimensionMismatch, natoms, len(ic.Masses), len(ic.Labels))
	}
	b := dynamo.NewBeads(nbeads, natoms)
	copy(b.Labels, ic.Labels)
	copy(b.Masses, ic.Masses)
	for j := range b.Q {
		copy(b.Q[j], ic.Positions)
	}
	return b, nil
}

// InitVelocities sets bead momenta from the velocities config. Thermal
// momenta are drawn at the bead temperature P*T.
func InitVelocities(b *dynamo.Beads, vc config.VelocitiesConfig, fixcom bool, rng *prng.Generator) error {
	switch vc.Mode {
	case "", "none":
		return nil
	case "manual":
		if len(vc.Values) != 3*b.NAtoms() {
			return fmt.Errorf("%w: %d velocities for %d atoms", dynamo.ErrDimensionMismatch, len(vc.Values), b.NAtoms())
		}
		for j := range b.P {
			for i, v := range vc.Values {
				b.P[j][i] = b.Masses[i/3] * v
			}
		}
	case "thermal":
		if vc.Temperature <= 0 {
			return fmt.Errorf("%w: thermal velocities need a positive temperature", dynamo.ErrParameterBounds)
		}
		kT := units.Kb * vc.Temperature * float64(b.NBeads())
		for j := range b.P {
			for i := range b.P[j] {
				b.P[j][i] = math.Sqrt(b.Masses[i/3]*kT) * rng.Gaussian()
			}
		}
	default:
		return fmt.Errorf("motion: unknown velocities mode %q", vc.Mode)
	}
	if fixcom {
		RemoveCOM(b)
	}
	return nil
}

package properties

import (
	"github.com/san-kum/pimd/internal/dynamo"
	"github.com/san-kum/pimd/internal/units"
)

// Input is everything the estimators read. Energies are totals over beads,
// as seen by the ring-polymer Hamiltonian at P times the temperature.
type Input struct {
	Step        int
	Time        float64
	Beads       *dynamo.Beads
	Forces      []*dynamo.ForceResult
	Cell        dynamo.Cell
	OmegaP      float64
	Temperature float64
	// ThermostatEnergy is the energy exchanged with thermostats and removed
	// by fixcom, summed over beads.
	ThermostatEnergy float64
	FixCOM           bool
}

// Values maps scalar property names to values in internal units.
type Values map[string]float64

// Evaluate computes every registered scalar property.
func Evaluate(in Input) Values {
	p := float64(in.Beads.NBeads())
	kin := KineticEnergy(in.Beads)
	pot := PotentialEnergy(in.Forces)
	spring := SpringEnergy(in.Beads, in.OmegaP)

	return Values{
		Step:             float64(in.Step),
		Time:             in.Time,
		Temperature:      KineticTemperature(in.Beads, kin, in.FixCOM),
		KineticMD:        kin / p,
		KineticCV:        CentroidVirialKinetic(in.Beads, in.Forces, in.Temperature),
		Potential:        pot / p,
		Spring:           spring / p,
		Conserved:        (kin + pot + spring + in.ThermostatEnergy) / p,
		ThermostatEnergy: in.ThermostatEnergy / p,
		Volume:           in.Cell.Volume(),
	}
}

// KineticEnergy is sum_j sum_i p_ij^2 / 2 m_i.
func KineticEnergy(b *dynamo.Beads) float64 {
	var k float64
	for j := range b.P {
		for i, p := range b.P[j] {
			k += 0.5 * p * p / b.Masses[i/3]
		}
	}
	return k
}

// KineticTemperature converts the bead kinetic energy to a physical
// temperature in Kelvin. Each bead samples P times the physical
// temperature, hence the P^2.
func KineticTemperature(b *dynamo.Beads, kin float64, fixcom bool) float64 {
	nf := 3 * b.NAtoms()
	if fixcom {
		nf -= 3
	}
	if nf <= 0 {
		return 0
	}
	p := float64(b.NBeads())
	return 2 * kin / (float64(nf) * units.Kb * p * p)
}

func PotentialEnergy(forces []*dynamo.ForceResult) float64 {
	var v float64
	for _, f := range forces {
		if f != nil {
			v += f.Potential
		}
	}
	return v
}

// SpringEnergy is sum_j sum_i m_i omegaP^2 |q_ij - q_i,j+1|^2 / 2 over the
// closed ring.
func SpringEnergy(b *dynamo.Beads, omegaP float64) float64 {
	p := b.NBeads()
	if p < 2 {
		return 0
	}
	var e float64
	for j := 0; j < p; j++ {
		next := b.Q[(j+1)%p]
		for i, q := range b.Q[j] {
			d := q - next[i]
			e += 0.5 * b.Masses[i/3] * omegaP * omegaP * d * d
		}
	}
	return e
}

// CentroidVirialKinetic is the centroid-virial quantum kinetic energy
// estimator 3N kT/2 + sum_j (q_j - q_c).(-f_j) / 2P.
func CentroidVirialKinetic(b *dynamo.Beads, forces []*dynamo.ForceResult, temperature float64) float64 {
	p := float64(b.NBeads())
	qc := b.Centroid()
	var vir float64
	for j, f := range forces {
		if f == nil {
			continue
		}
		for i, q := range b.Q[j] {
			vir -= (q - qc[i]) * f.Forces[i]
		}
	}
	return 1.5*float64(b.NAtoms())*units.Kb*temperature + vir/(2*p)
}

// CentroidVelocities returns the bead-averaged velocities.
func CentroidVelocities(b *dynamo.Beads) []float64 {
	pc := b.CentroidMomenta()
	for i := range pc {
		pc[i] /= b.Masses[i/3]
	}
	return pc
}

// Trajectory returns the per-atom quantity name for bead j (ignored for
// centroid quantities), in internal units.
func Trajectory(name string, b *dynamo.Beads, forces []*dynamo.ForceResult, j int) []float64 {
	switch name {
	case Positions:
		return append([]float64(nil), b.Q[j]...)
	case Velocities:
		return b.Velocities(j)
	case Forces:
		if j < len(forces) && forces[j] != nil {
			return append([]float64(nil), forces[j].Forces...)
		}
		return make([]float64, len(b.Q[j]))
	case XCentroid:
		return b.Centroid()
	case VCentroid:
		return CentroidVelocities(b)
	}
	return nil
}

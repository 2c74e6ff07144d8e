package motion

import (
	"fmt"
	"math"

	"github.com/san-kum/pimd/internal/config"
	"github.com/san-kum/pimd/internal/dynamo"
	"github.com/san-kum/pimd/internal/prng"
	"github.com/san-kum/pimd/internal/properties"
	"github.com/san-kum/pimd/internal/units"
)

// Thermostat applies a stochastic momentum update over dt. Energy drained
// from or added to the system is returned so the caller can keep a
// conserved quantity.
type Thermostat interface {
	Mode() string
	Apply(b *dynamo.Beads, dt float64) (delta float64)
}

// NewThermostat builds the thermostat described by tc for beads sampled at
// the given physical temperature (Kelvin).
func NewThermostat(tc *config.ThermostatConfig, temperature float64, nm *NormalModes, rng *prng.Generator) (Thermostat, error) {
	if tc == nil {
		return nil, nil
	}
	if temperature <= 0 {
		return nil, fmt.Errorf("%w: thermostat %s needs a positive temperature", dynamo.ErrParameterBounds, tc.Mode)
	}
	if tc.Tau <= 0 {
		return nil, fmt.Errorf("%w: thermostat tau must be positive", dynamo.ErrParameterBounds)
	}

	// each bead samples P times the physical temperature
	kT := units.Kb * temperature * float64(nm.NBeads())
	switch tc.Mode {
	case "langevin":
		return &Langevin{Tau: tc.Tau, KT: kT, rng: rng}, nil
	case "pile_l":
		return &PILE{Tau: tc.Tau, Lambda: tc.PileLambda, KT: kT, nm: nm, rng: rng}, nil
	case "pile_g":
		return &PILE{Tau: tc.Tau, Lambda: tc.PileLambda, KT: kT, nm: nm, rng: rng, Global: true}, nil
	case "svr":
		return &SVR{Tau: tc.Tau, KT: kT, rng: rng}, nil
	}
	return nil, fmt.Errorf("motion: unknown thermostat %q", tc.Mode)
}

// ou applies one Ornstein-Uhlenbeck step with friction gamma to momentum p
// of mass m.
func ou(p, m, gamma, dt, kT float64, rng *prng.Generator) float64 {
	c1 := math.Exp(-gamma * dt)
	c2 := math.Sqrt(1 - c1*c1)
	return c1*p + c2*math.Sqrt(m*kT)*rng.Gaussian()
}

// Langevin is a white-noise Langevin thermostat acting on every bead
// coordinate with friction 1/Tau.
type Langevin struct {
	Tau float64
	KT  float64
	rng *prng.Generator
}

func (l *Langevin) Mode() string { return "langevin" }

func (l *Langevin) Apply(b *dynamo.Beads, dt float64) float64 {
	before := properties.KineticEnergy(b)
	gamma := 1 / l.Tau
	for j := range b.P {
		for i := range b.P[j] {
			b.P[j][i] = ou(b.P[j][i], b.Masses[i/3], gamma, dt, l.KT, l.rng)
		}
	}
	return before - properties.KineticEnergy(b)
}

// PILE is the path-integral Langevin equation thermostat. Internal modes
// get friction 2 Lambda omega_k. The centroid gets a local Langevin
// thermostat with friction 1/Tau, or with Global set a stochastic velocity
// rescaling with time constant Tau.
type PILE struct {
	Tau    float64
	Lambda float64
	KT     float64
	Global bool
	nm     *NormalModes
	rng    *prng.Generator
}

func (t *PILE) Mode() string {
	if t.Global {
		return "pile_g"
	}
	return "pile_l"
}

func (t *PILE) Apply(b *dynamo.Beads, dt float64) float64 {
	before := properties.KineticEnergy(b)
	pt := t.nm.ToModes(b.P)
	freqs := t.nm.Freqs()

	for k := range pt {
		if k == 0 {
			if t.Global {
				svr(pt[0], b.Masses, t.Tau, dt, t.KT, t.rng)
			} else {
				for i := range pt[0] {
					pt[0][i] = ou(pt[0][i], b.Masses[i/3], 1/t.Tau, dt, t.KT, t.rng)
				}
			}
			continue
		}
		gamma := 2 * t.Lambda * freqs[k]
		for i := range pt[k] {
			pt[k][i] = ou(pt[k][i], b.Masses[i/3], gamma, dt, t.KT, t.rng)
		}
	}

	copyRows(b.P, t.nm.FromModes(pt))
	return before - properties.KineticEnergy(b)
}

// SVR is the Bussi-Donadio-Parrinello stochastic velocity rescaling
// thermostat applied to all bead momenta at once.
type SVR struct {
	Tau float64
	KT  float64
	rng *prng.Generator
}

func (s *SVR) Mode() string { return "svr" }

func (s *SVR) Apply(b *dynamo.Beads, dt float64) float64 {
	before := properties.KineticEnergy(b)
	n := len(b.P[0])
	flat := make([]float64, 0, len(b.P)*n)
	masses := make([]float64, 0, len(b.P)*b.NAtoms())
	for j := range b.P {
		flat = append(flat, b.P[j]...)
		masses = append(masses, b.Masses...)
	}
	svr(flat, masses, s.Tau, dt, s.KT, s.rng)
	for j := range b.P {
		copy(b.P[j], flat[j*n:(j+1)*n])
	}
	return before - properties.KineticEnergy(b)
}

// svr rescales the momenta p (3 per mass) in place towards the canonical
// kinetic energy distribution at kT.
func svr(p, masses []float64, tau, dt, kT float64, rng *prng.Generator) {
	var kin float64
	for i, v := range p {
		kin += 0.5 * v * v / masses[i/3]
	}
	nf := float64(len(p))
	if kin == 0 || nf == 0 {
		return
	}

	target := 0.5 * nf * kT
	c := math.Exp(-dt / tau)
	r1 := rng.Gaussian()
	r2 := rng.ChiSquared(nf - 1)

	alpha2 := c + (1-c)*(r2+r1*r1)*target/(nf*kin) + 2*r1*math.Sqrt(c*(1-c)*target/(nf*kin))
	alpha := math.Sqrt(alpha2)
	if r1+math.Sqrt(c*nf*kin/((1-c)*target)) < 0 {
		alpha = -alpha
	}
	for i := range p {
		p[i] *= alpha
	}
}

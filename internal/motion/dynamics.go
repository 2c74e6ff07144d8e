package motion

import (
	"context"
	"fmt"

	"github.com/san-kum/pimd/internal/config"
	"github.com/san-kum/pimd/internal/dynamo"
)

// Dynamics integrates the ring polymer with the OBABO splitting: thermostat
// half step, momentum half kick, exact free ring-polymer drift in normal
// modes, force evaluation, momentum half kick, thermostat half step.
type Dynamics struct {
	Ensemble   string
	Thermostat Thermostat
	dt         float64
	fixcom     bool
	env        Env
}

func NewDynamics(cfg config.DynamicsMotion, env Env) (*Dynamics, error) {
	if cfg.Timestep <= 0 {
		return nil, fmt.Errorf("%w: timestep must be positive", dynamo.ErrParameterBounds)
	}
	d := &Dynamics{Ensemble: cfg.Ensemble, dt: cfg.Timestep, fixcom: cfg.FixCOM, env: env}
	if cfg.Ensemble == "nvt" {
		if cfg.Thermostat == nil {
			return nil, fmt.Errorf("motion: nvt dynamics needs a thermostat")
		}
		th, err := NewThermostat(cfg.Thermostat, env.Temperature, env.Modes, env.RNG)
		if err != nil {
			return nil, err
		}
		d.Thermostat = th
	}
	return d, nil
}

func (d *Dynamics) Mode() string      { return "dynamics" }
func (d *Dynamics) Timestep() float64 { return d.dt }
func (d *Dynamics) FixCOM() bool      { return d.fixcom }

func (d *Dynamics) Step(ctx context.Context, st *State) error {
	if st.Forces == nil {
		if err := d.fetch(ctx, st); err != nil {
			return err
		}
	}
	half := 0.5 * d.dt

	d.thermostat(st, half)
	kick(st, half)
	d.env.Modes.Propagate(st.Beads, d.dt)
	if err := d.fetch(ctx, st); err != nil {
		return err
	}
	kick(st, half)
	d.thermostat(st, half)
	if d.fixcom {
		st.ThermostatEnergy += RemoveCOM(st.Beads)
	}

	if !st.Beads.IsValid() {
		return dynamo.ErrInvalidState
	}
	return nil
}

func (d *Dynamics) fetch(ctx context.Context, st *State) error {
	forces, err := d.env.Forces.Compute(ctx, st.Beads, st.Cell)
	if err != nil {
		return err
	}
	st.Forces = forces
	return nil
}

func (d *Dynamics) thermostat(st *State, dt float64) {
	if d.Thermostat != nil {
		st.ThermostatEnergy += d.Thermostat.Apply(st.Beads, dt)
	}
}

func kick(st *State, dt float64) {
	for j, f := range st.Forces {
		p := st.Beads.P[j]
		for i := range p {
			p[i] += f.Forces[i] * dt
		}
	}
}

// RemoveCOM zeroes the total momentum of the ring polymer and returns the
// kinetic energy removed.
func RemoveCOM(b *dynamo.Beads) float64 {
	var (
		ptot  [3]float64
		mtot  float64
		nbead = float64(b.NBeads())
	)
	for _, m := range b.Masses {
		mtot += m
	}
	if mtot == 0 {
		return 0
	}
	for j := range b.P {
		for i, p := range b.P[j] {
			ptot[i%3] += p
		}
	}

	var removed float64
	for j := range b.P {
		for i := range b.P[j] {
			m := b.Masses[i/3]
			old := b.P[j][i]
			b.P[j][i] -= m * ptot[i%3] / (mtot * nbead)
			removed += 0.5 * (old*old - b.P[j][i]*b.P[j][i]) / m
		}
	}
	return removed
}

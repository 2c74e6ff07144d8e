// Package motion advances the ring polymer in time.
//
// A Stepper is built from the configured motion tree: Dynamics integrates
// the equations of motion with a symmetric thermostat-kick-drift splitting,
// Minimizer relaxes the geometry, Multi runs its children in order, and
// Dummy leaves the system alone.
package motion

import (
	"context"
	"fmt"

	"github.com/san-kum/pimd/internal/config"
	"github.com/san-kum/pimd/internal/dynamo"
	"github.com/san-kum/pimd/internal/prng"
)

// Evaluator fetches forces for every bead; it is the barrier between the
// two half kicks of a step.
type Evaluator interface {
	Compute(ctx context.Context, beads *dynamo.Beads, cell dynamo.Cell) ([]*dynamo.ForceResult, error)
}

// State is the mutable ring-polymer state carried between steps.
type State struct {
	Beads  *dynamo.Beads
	Cell   dynamo.Cell
	Forces []*dynamo.ForceResult
	// ThermostatEnergy accumulates energy exchanged with thermostats and
	// removed by fixcom, summed over beads.
	ThermostatEnergy float64
}

// Stepper advances a State by one step.
type Stepper interface {
	Mode() string
	Step(ctx context.Context, st *State) error
	// Timestep is the simulated time covered by one Step.
	Timestep() float64
	FixCOM() bool
}

// Env carries what steppers share: the force evaluator, normal modes and
// the run's random number generator.
type Env struct {
	Forces      Evaluator
	Modes       *NormalModes
	RNG         *prng.Generator
	Temperature float64
	// NAtoms bounds atom indices in the motion config; zero skips the check.
	NAtoms int
}

// Build turns a motion config into a Stepper.
func Build(m config.Motion, env Env) (Stepper, error) {
	switch m := m.(type) {
	case config.DynamicsMotion:
		return NewDynamics(m, env)
	case config.MinimizeMotion:
		return NewMinimizer(m, env)
	case config.MultiMotion:
		multi := &Multi{}
		for i, child := range m.Motions {
			s, err := Build(child, env)
			if err != nil {
				return nil, fmt.Errorf("motion %d: %w", i, err)
			}
			multi.Steppers = append(multi.Steppers, s)
		}
		return multi, nil
	case config.DummyMotion:
		return Dummy{}, nil
	case nil:
		return nil, fmt.Errorf("motion: no motion configured")
	}
	return nil, fmt.Errorf("motion: unsupported motion %T", m)
}

// Multi runs several steppers in sequence within one step.
type Multi struct {
	Steppers []Stepper
}

func (m *Multi) Mode() string { return "multi" }

func (m *Multi) Step(ctx context.Context, st *State) error {
	for _, s := range m.Steppers {
		if err := s.Step(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// Timestep is the largest timestep among the children.
func (m *Multi) Timestep() float64 {
	var dt float64
	for _, s := range m.Steppers {
		dt = max(dt, s.Timestep())
	}
	return dt
}

// Converged is true once every child that can converge has done so.
func (m *Multi) Converged() bool {
	seen := false
	for _, s := range m.Steppers {
		if c, ok := s.(Converger); ok {
			if !c.Converged() {
				return false
			}
			seen = true
		}
	}
	return seen
}

func (m *Multi) FixCOM() bool {
	for _, s := range m.Steppers {
		if s.FixCOM() {
			return true
		}
	}
	return false
}

// Dummy does nothing.
type Dummy struct{}

func (Dummy) Mode() string                       { return "dummy" }
func (Dummy) Step(context.Context, *State) error { return nil }
func (Dummy) Timestep() float64                  { return 0 }
func (Dummy) FixCOM() bool                       { return false }

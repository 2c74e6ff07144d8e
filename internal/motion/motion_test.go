package motion

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/san-kum/pimd/internal/config"
	"github.com/san-kum/pimd/internal/dynamo"
	"github.com/san-kum/pimd/internal/prng"
	"github.com/san-kum/pimd/internal/properties"
)

type harmonicEval struct{ k float64 }

func (h harmonicEval) Compute(_ context.Context, b *dynamo.Beads, _ dynamo.Cell) ([]*dynamo.ForceResult, error) {
	out := make([]*dynamo.ForceResult, b.NBeads())
	for j, q := range b.Q {
		res := &dynamo.ForceResult{Forces: make([]float64, len(q))}
		for i, x := range q {
			res.Potential += 0.5 * h.k * x * x
			res.Forces[i] = -h.k * x
		}
		out[j] = res
	}
	return out, nil
}

type failingEval struct{}

func (failingEval) Compute(context.Context, *dynamo.Beads, dynamo.Cell) ([]*dynamo.ForceResult, error) {
	return nil, errors.New("boom")
}

func hydrogens(nbeads, natoms int) *dynamo.Beads {
	b := dynamo.NewBeads(nbeads, natoms)
	for i := range b.Masses {
		b.Labels[i] = "H"
		b.Masses[i] = 1837.15
	}
	return b
}

func conserved(st *State, nm *NormalModes) float64 {
	return properties.KineticEnergy(st.Beads) + properties.PotentialEnergy(st.Forces) +
		nm.SpringEnergy(st.Beads) + st.ThermostatEnergy
}

func TestNormalModesRoundTrip(t *testing.T) {
	for _, p := range []int{1, 2, 3, 4, 7} {
		nm := NewNormalModes(p, 300)
		b := hydrogens(p, 2)
		rng := prng.New(int64(p))
		for j := range b.Q {
			rng.FillGaussian(b.Q[j])
		}

		back := nm.FromModes(nm.ToModes(b.Q))
		for j := range back {
			for i := range back[j] {
				if math.Abs(back[j][i]-b.Q[j][i]) > 1e-12 {
					t.Fatalf("P=%d: round trip mismatch at [%d][%d]", p, j, i)
				}
			}
		}

		// centroid mode is sqrt(P) times the centroid
		qt := nm.ToModes(b.Q)
		qc := b.Centroid()
		for i := range qc {
			if math.Abs(qt[0][i]-math.Sqrt(float64(p))*qc[i]) > 1e-12 {
				t.Fatalf("P=%d: centroid mode mismatch", p)
			}
		}

		// spring energy is diagonal in normal modes
		var modal float64
		for k, w := range nm.Freqs() {
			for i, x := range qt[k] {
				modal += 0.5 * b.Masses[i/3] * w * w * x * x
			}
		}
		if spring := nm.SpringEnergy(b); math.Abs(modal-spring) > 1e-9*math.Max(1, spring) {
			t.Errorf("P=%d: modal spring %.10g, bead spring %.10g", p, modal, spring)
		}
	}
}

func TestNVEConservesEnergy(t *testing.T) {
	const (
		nbeads = 4
		temp   = 300.0
	)
	nm := NewNormalModes(nbeads, temp)
	rng := prng.New(7)
	b := hydrogens(nbeads, 2)
	for j := range b.Q {
		b.Q[j][0] = 0.3
		b.Q[j][4] = -0.2
	}
	if err := InitVelocities(b, config.VelocitiesConfig{Mode: "thermal", Temperature: temp}, false, rng); err != nil {
		t.Fatal(err)
	}

	stepper, err := Build(config.DynamicsMotion{Ensemble: "nve", Timestep: 5}, Env{
		Forces: harmonicEval{k: 0.05}, Modes: nm, RNG: rng, Temperature: temp,
	})
	if err != nil {
		t.Fatal(err)
	}

	st := &State{Beads: b}
	ctx := context.Background()
	if err := stepper.Step(ctx, st); err != nil {
		t.Fatal(err)
	}
	e0 := conserved(st, nm)
	for i := 0; i < 2000; i++ {
		if err := stepper.Step(ctx, st); err != nil {
			t.Fatal(err)
		}
	}
	if drift := math.Abs(conserved(st, nm)-e0) / math.Abs(e0); drift > 1e-2 {
		t.Errorf("energy drift too large: %.3e", drift)
	}
}

func TestThermostatsReachTargetTemperature(t *testing.T) {
	const temp = 300.0
	tests := []struct {
		mode   string
		nbeads int
	}{
		{"langevin", 1},
		{"langevin", 4},
		{"pile_l", 4},
		{"pile_g", 4},
		{"svr", 2},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			nm := NewNormalModes(tt.nbeads, temp)
			rng := prng.New(42)
			b := hydrogens(tt.nbeads, 32)
			if err := InitVelocities(b, config.VelocitiesConfig{Mode: "thermal", Temperature: temp / 2}, false, rng); err != nil {
				t.Fatal(err)
			}
			stepper, err := Build(config.DynamicsMotion{
				Ensemble:   "nvt",
				Timestep:   10,
				Thermostat: &config.ThermostatConfig{Mode: tt.mode, Tau: 200, PileLambda: 0.5},
			}, Env{Forces: harmonicEval{}, Modes: nm, RNG: rng, Temperature: temp})
			if err != nil {
				t.Fatal(err)
			}

			st := &State{Beads: b}
			ctx := context.Background()
			var sum float64
			const burn, steps = 1000, 4000
			for i := 0; i < burn+steps; i++ {
				if err := stepper.Step(ctx, st); err != nil {
					t.Fatal(err)
				}
				if i >= burn {
					sum += properties.KineticTemperature(b, properties.KineticEnergy(b), false)
				}
			}
			if avg := sum / steps; math.Abs(avg-temp)/temp > 0.05 {
				t.Errorf("average temperature %.1f K, want %.1f K", avg, temp)
			}
		})
	}
}

func TestNVTConservedQuantity(t *testing.T) {
	const temp = 300.0
	nm := NewNormalModes(2, temp)
	rng := prng.New(3)
	b := hydrogens(2, 4)
	if err := InitVelocities(b, config.VelocitiesConfig{Mode: "thermal", Temperature: temp}, true, rng); err != nil {
		t.Fatal(err)
	}
	stepper, err := Build(config.DynamicsMotion{
		Ensemble:   "nvt",
		Timestep:   5,
		FixCOM:     true,
		Thermostat: &config.ThermostatConfig{Mode: "pile_l", Tau: 100, PileLambda: 0.5},
	}, Env{Forces: harmonicEval{k: 0.02}, Modes: nm, RNG: rng, Temperature: temp})
	if err != nil {
		t.Fatal(err)
	}

	st := &State{Beads: b}
	ctx := context.Background()
	if err := stepper.Step(ctx, st); err != nil {
		t.Fatal(err)
	}
	e0 := conserved(st, nm)
	for i := 0; i < 1000; i++ {
		if err := stepper.Step(ctx, st); err != nil {
			t.Fatal(err)
		}
	}
	if st.ThermostatEnergy == 0 {
		t.Error("thermostat energy was not accumulated")
	}
	scale := properties.KineticEnergy(b)
	if drift := math.Abs(conserved(st, nm) - e0); drift > 0.05*scale {
		t.Errorf("conserved quantity drifted by %.3e (kinetic %.3e)", drift, scale)
	}
}

func TestRemoveCOM(t *testing.T) {
	b := hydrogens(3, 2)
	b.Masses[1] = 3674.3
	rng := prng.New(1)
	for j := range b.P {
		rng.FillGaussian(b.P[j])
	}
	before := properties.KineticEnergy(b)
	removed := RemoveCOM(b)

	var ptot [3]float64
	for j := range b.P {
		for i, p := range b.P[j] {
			ptot[i%3] += p
		}
	}
	for d, p := range ptot {
		if math.Abs(p) > 1e-12 {
			t.Errorf("total momentum along %d is %g", d, p)
		}
	}
	if got := before - properties.KineticEnergy(b); math.Abs(got-removed) > 1e-12 {
		t.Errorf("removed %g, kinetic energy dropped by %g", removed, got)
	}
	if removed < 0 {
		t.Errorf("removing the centre of mass motion added energy: %g", removed)
	}
}

func TestSameSeedSameTrajectory(t *testing.T) {
	run := func() []float64 {
		nm := NewNormalModes(3, 200)
		rng := prng.New(99)
		b := hydrogens(3, 2)
		stepper, err := Build(config.DynamicsMotion{
			Ensemble:   "nvt",
			Timestep:   10,
			Thermostat: &config.ThermostatConfig{Mode: "pile_g", Tau: 100, PileLambda: 0.5},
		}, Env{Forces: harmonicEval{k: 0.01}, Modes: nm, RNG: rng, Temperature: 200})
		if err != nil {
			t.Fatal(err)
		}
		st := &State{Beads: b}
		for i := 0; i < 50; i++ {
			if err := stepper.Step(context.Background(), st); err != nil {
				t.Fatal(err)
			}
		}
		return b.Q[2]
	}

	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("trajectories diverged at %d: %g != %g", i, a[i], b[i])
		}
	}
}

func TestBuild(t *testing.T) {
	env := Env{Forces: harmonicEval{}, Modes: NewNormalModes(2, 100), RNG: prng.New(1), Temperature: 100}

	s, err := Build(config.MultiMotion{Motions: []config.Motion{
		config.DynamicsMotion{Ensemble: "nve", Timestep: 2, FixCOM: true},
		config.DummyMotion{},
	}}, env)
	if err != nil {
		t.Fatal(err)
	}
	if s.Mode() != "multi" || s.Timestep() != 2 || !s.FixCOM() {
		t.Errorf("unexpected multi stepper: %s dt=%g fixcom=%v", s.Mode(), s.Timestep(), s.FixCOM())
	}

	if _, err := Build(config.DynamicsMotion{Ensemble: "nvt", Timestep: 1}, env); err == nil {
		t.Error("expected error for nvt without thermostat")
	}
	if _, err := Build(config.DynamicsMotion{Ensemble: "nve"}, env); !errors.Is(err, dynamo.ErrParameterBounds) {
		t.Errorf("expected ErrParameterBounds for zero timestep, got %v", err)
	}

	cold := env
	cold.Temperature = 0
	_, err = Build(config.DynamicsMotion{
		Ensemble: "nvt", Timestep: 1, Thermostat: &config.ThermostatConfig{Mode: "langevin", Tau: 10},
	}, cold)
	if !errors.Is(err, dynamo.ErrParameterBounds) {
		t.Errorf("expected ErrParameterBounds at zero temperature, got %v", err)
	}

	if _, err := Build(nil, env); err == nil {
		t.Error("expected error for missing motion")
	}
}

func TestStepPropagatesForceErrors(t *testing.T) {
	nm := NewNormalModes(1, 0)
	s, err := NewDynamics(config.DynamicsMotion{Ensemble: "nve", Timestep: 1}, Env{Forces: failingEval{}, Modes: nm})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Step(context.Background(), &State{Beads: hydrogens(1, 1)}); err == nil {
		t.Error("expected force error")
	}
}

func TestInitVelocities(t *testing.T) {
	b := hydrogens(2, 2)
	err := InitVelocities(b, config.VelocitiesConfig{Mode: "manual", Values: []float64{1, 0, 0, 0, 0, 0}}, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if b.P[1][0] != b.Masses[0] {
		t.Errorf("manual momentum = %g, want %g", b.P[1][0], b.Masses[0])
	}

	err = InitVelocities(b, config.VelocitiesConfig{Mode: "manual", Values: []float64{1}}, false, nil)
	if !errors.Is(err, dynamo.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}

	err = InitVelocities(b, config.VelocitiesConfig{Mode: "thermal"}, false, prng.New(1))
	if !errors.Is(err, dynamo.ErrParameterBounds) {
		t.Errorf("expected ErrParameterBounds, got %v", err)
	}

	if err := InitVelocities(b, config.VelocitiesConfig{Mode: "thermal", Temperature: 50}, true, prng.New(1)); err != nil {
		t.Fatal(err)
	}
	var px float64
	for j := range b.P {
		px += b.P[j][0] + b.P[j][3]
	}
	if math.Abs(px) > 1e-9 {
		t.Errorf("fixcom left total momentum %g", px)
	}
}

func TestInitBeads(t *testing.T) {
	b, err := InitBeads(3, config.InitConfig{
		Positions: []float64{0, 0, 0, 1, 0, 0},
		Labels:    []string{"H", "H"},
		Masses:    []float64{1837, 1837},
	})
	if err != nil {
		t.Fatal(err)
	}
	if b.NBeads() != 3 || b.NAtoms() != 2 || b.Q[2][3] != 1 {
		t.Errorf("unexpected beads: %d beads, %d atoms", b.NBeads(), b.NAtoms())
	}

	_, err = InitBeads(1, config.InitConfig{Positions: []float64{0, 0, 0}, Labels: []string{"H"}})
	if !errors.Is(err, dynamo.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

// anisotropicEval is a harmonic well whose stiffness differs per Cartesian
// direction, so steepest descent zigzags.
type anisotropicEval struct{}

func (anisotropicEval) Compute(_ context.Context, b *dynamo.Beads, _ dynamo.Cell) ([]*dynamo.ForceResult, error) {
	out := make([]*dynamo.ForceResult, b.NBeads())
	for j, q := range b.Q {
		res := &dynamo.ForceResult{Forces: make([]float64, len(q))}
		for i, x := range q {
			k := 1 + float64(i%3)
			res.Potential += 0.5 * k * x * x
			res.Forces[i] = -k * x
		}
		out[j] = res
	}
	return out, nil
}

func TestMinimizersReachMinimum(t *testing.T) {
	for _, opt := range []string{"sd", "cg", "bfgs"} {
		t.Run(opt, func(t *testing.T) {
			cfg := config.DefaultMinimize(opt)
			cfg.GradTolerance = 1e-5
			s, err := Build(cfg, Env{Forces: anisotropicEval{}, NAtoms: 2})
			if err != nil {
				t.Fatal(err)
			}
			st := &State{Beads: hydrogens(2, 2)}
			prng.New(5).FillGaussian(st.Beads.Q[0])
			copy(st.Beads.Q[1], st.Beads.Q[0])
			start := properties.PotentialEnergy(mustCompute(t, st.Beads))

			conv := s.(Converger)
			steps := 0
			for ; steps < 200 && !conv.Converged(); steps++ {
				if err := s.Step(context.Background(), st); err != nil {
					t.Fatal(err)
				}
			}
			if !conv.Converged() {
				t.Fatalf("%s did not converge in %d steps", opt, steps)
			}
			if e := properties.PotentialEnergy(st.Forces); e >= start {
				t.Errorf("energy did not decrease: %g -> %g", start, e)
			}
			for j := range st.Beads.Q {
				for i, x := range st.Beads.Q[j] {
					if math.Abs(x) > 1e-4 {
						t.Fatalf("bead %d coordinate %d = %g after %d steps", j, i, x, steps)
					}
				}
			}
			if s.Timestep() != 0 {
				t.Errorf("minimizer timestep = %g, want 0", s.Timestep())
			}
		})
	}
}

func TestMinimizerHoldsFixedAtoms(t *testing.T) {
	cfg := config.DefaultMinimize("bfgs")
	cfg.FixAtoms = []int{0}
	s, err := NewMinimizer(cfg, Env{Forces: anisotropicEval{}, NAtoms: 2})
	if err != nil {
		t.Fatal(err)
	}
	st := &State{Beads: hydrogens(1, 2)}
	copy(st.Beads.Q[0], []float64{0.5, -0.3, 0.2, 1.0, 0.7, -0.4})

	for i := 0; i < 100 && !s.Converged(); i++ {
		if err := s.Step(context.Background(), st); err != nil {
			t.Fatal(err)
		}
	}
	want := []float64{0.5, -0.3, 0.2}
	for i, x := range want {
		if st.Beads.Q[0][i] != x {
			t.Errorf("fixed coordinate %d moved: %g != %g", i, st.Beads.Q[0][i], x)
		}
	}
	for i := 3; i < 6; i++ {
		if math.Abs(st.Beads.Q[0][i]) > 1e-4 {
			t.Errorf("free coordinate %d = %g, want ~0", i, st.Beads.Q[0][i])
		}
	}
}

func TestMinimizerRejectsBadOptions(t *testing.T) {
	env := Env{Forces: anisotropicEval{}, NAtoms: 2}

	cfg := config.DefaultMinimize("bfgs")
	cfg.FixAtoms = []int{5}
	if _, err := NewMinimizer(cfg, env); !errors.Is(err, dynamo.ErrParameterBounds) {
		t.Errorf("expected ErrParameterBounds for atom index past the end, got %v", err)
	}
	if _, err := NewMinimizer(config.DefaultMinimize("newton"), env); !errors.Is(err, dynamo.ErrParameterBounds) {
		t.Errorf("expected ErrParameterBounds for unknown optimizer, got %v", err)
	}
	cfg = config.DefaultMinimize("cg")
	cfg.LineSearch.Adaptive = 2
	if _, err := NewMinimizer(cfg, env); !errors.Is(err, dynamo.ErrParameterBounds) {
		t.Errorf("expected ErrParameterBounds for adaptive > 1, got %v", err)
	}
}

func TestMultiConvergesWithItsMinimizer(t *testing.T) {
	m := &Multi{Steppers: []Stepper{Dummy{}}}
	if m.Converged() {
		t.Error("multi without a minimizer must never converge")
	}

	opt, err := NewMinimizer(config.DefaultMinimize("sd"), Env{Forces: anisotropicEval{}})
	if err != nil {
		t.Fatal(err)
	}
	m.Steppers = append(m.Steppers, opt)
	st := &State{Beads: hydrogens(1, 1)}
	if err := m.Step(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	// already at the minimum
	if !m.Converged() {
		t.Error("multi should report convergence once its minimizer has converged")
	}
}

func mustCompute(t *testing.T, b *dynamo.Beads) []*dynamo.ForceResult {
	t.Helper()
	f, err := anisotropicEval{}.Compute(context.Background(), b, dynamo.Cell{})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

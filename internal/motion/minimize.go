package motion

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/san-kum/pimd/internal/config"
	"github.com/san-kum/pimd/internal/dynamo"
	"github.com/san-kum/pimd/internal/properties"
)

// Converger is implemented by steppers that can finish a run early.
type Converger interface {
	Converged() bool
}

// Minimizer relaxes bead positions towards a local minimum of the summed
// bead potential. Each Step is one line search along a steepest descent,
// Polak-Ribiere conjugate gradient or BFGS direction. Momenta are left
// untouched and no time passes.
type Minimizer struct {
	cfg   config.MinimizeMotion
	env   Env
	fixed map[int]bool
	step  float64

	oldG, oldD []float64
	invH       *mat.SymDense

	stalls    int
	converged bool
}

func NewMinimizer(cfg config.MinimizeMotion, env Env) (*Minimizer, error) {
	switch cfg.Optimizer {
	case "sd", "cg", "bfgs":
	default:
		return nil, fmt.Errorf("%w: unknown optimizer %q", dynamo.ErrParameterBounds, cfg.Optimizer)
	}
	ls := cfg.LineSearch
	if cfg.GradTolerance <= 0 || cfg.MaximumStep <= 0 || ls.Step <= 0 || ls.Tolerance <= 0 || ls.Iter < 1 {
		return nil, fmt.Errorf("%w: minimizer tolerances, steps and iterations must be positive", dynamo.ErrParameterBounds)
	}
	if ls.Adaptive < 0 || ls.Adaptive > 1 {
		return nil, fmt.Errorf("%w: adaptive factor %g outside [0, 1]", dynamo.ErrParameterBounds, ls.Adaptive)
	}

	m := &Minimizer{cfg: cfg, env: env, fixed: make(map[int]bool, len(cfg.FixAtoms)), step: ls.Step}
	for _, a := range cfg.FixAtoms {
		if a < 0 || (env.NAtoms > 0 && a >= env.NAtoms) {
			return nil, fmt.Errorf("%w: fixed atom %d out of range", dynamo.ErrParameterBounds, a)
		}
		m.fixed[a] = true
	}
	return m, nil
}

func (m *Minimizer) Mode() string      { return "minimize" }
func (m *Minimizer) Timestep() float64 { return 0 }
func (m *Minimizer) FixCOM() bool      { return false }

// Converged reports whether the largest gradient component has dropped
// below grad_tolerance, or the line search stopped making progress.
func (m *Minimizer) Converged() bool { return m.converged }

func (m *Minimizer) Step(ctx context.Context, st *State) error {
	if m.converged {
		return nil
	}
	if st.Forces == nil {
		forces, err := m.env.Forces.Compute(ctx, st.Beads, st.Cell)
		if err != nil {
			return err
		}
		st.Forces = forces
	}

	g := m.gradient(st.Forces, st.Beads.NAtoms())
	if maxAbs(g) <= m.cfg.GradTolerance {
		m.converged = true
		return nil
	}

	d := m.direction(g)
	slope := floats.Dot(d, g)
	if slope >= 0 {
		m.reset()
		d = m.direction(g)
		slope = floats.Dot(d, g)
	}
	norm := floats.Norm(d, 2)
	u := make([]float64, len(d))
	floats.AddScaled(u, 1/norm, d)

	alpha, forces, err := m.lineSearch(ctx, st, u, properties.PotentialEnergy(st.Forces), slope/norm)
	if err != nil {
		return err
	}
	if forces == nil {
		// no lower energy anywhere along the search; start over from
		// steepest descent, and give up after a second miss
		m.reset()
		m.stalls++
		if m.stalls >= 2 {
			m.converged = true
		}
		return nil
	}
	m.stalls = 0

	for j := range st.Beads.Q {
		floats.AddScaled(st.Beads.Q[j], alpha, u[j*len(st.Beads.Q[j]):(j+1)*len(st.Beads.Q[j])])
	}
	st.Forces = forces
	next := m.gradient(forces, st.Beads.NAtoms())

	switch m.cfg.Optimizer {
	case "cg":
		m.oldG, m.oldD = g, d
	case "bfgs":
		s := make([]float64, len(u))
		floats.AddScaled(s, alpha, u)
		m.update(s, floats.SubTo(make([]float64, len(g)), next, g))
	}
	a := m.cfg.LineSearch.Adaptive
	m.step = a*alpha + (1-a)*m.step

	if maxAbs(next) <= m.cfg.GradTolerance {
		m.converged = true
	}
	if !st.Beads.IsValid() {
		return dynamo.ErrInvalidState
	}
	return nil
}

func (m *Minimizer) direction(g []float64) []float64 {
	d := make([]float64, len(g))
	switch {
	case m.cfg.Optimizer == "cg" && m.oldG != nil:
		y := floats.SubTo(make([]float64, len(g)), g, m.oldG)
		beta := max(0, floats.Dot(g, y)/floats.Dot(m.oldG, m.oldG))
		floats.AddScaledTo(d, d, beta, m.oldD)
		floats.AddScaled(d, -1, g)
	case m.cfg.Optimizer == "bfgs":
		if m.invH == nil {
			m.invH = identity(len(g))
		}
		dv := mat.NewVecDense(len(d), d)
		dv.MulVec(m.invH, mat.NewVecDense(len(g), g))
		floats.Scale(-1, d)
	default:
		floats.AddScaled(d, -1, g)
	}
	return d
}

// update applies the BFGS correction to the inverse Hessian for a step s
// that changed the gradient by y.
func (m *Minimizer) update(s, y []float64) {
	sy := floats.Dot(s, y)
	if sy <= 0 {
		m.invH = nil
		return
	}
	n := len(s)
	sv, yv := mat.NewVecDense(n, s), mat.NewVecDense(n, y)
	var hy mat.VecDense
	hy.MulVec(m.invH, yv)
	yhy := mat.Dot(yv, &hy)
	m.invH.SymRankOne(m.invH, (sy+yhy)/(sy*sy), sv)
	m.invH.RankTwo(m.invH, -1/sy, &hy, sv)
}

func (m *Minimizer) reset() {
	m.oldG, m.oldD, m.invH = nil, nil, nil
}

// lineSearch walks along the unit direction u from the current positions
// and returns the accepted step length with the forces found there. The
// forces are nil when no trial point lowered the energy.
func (m *Minimizer) lineSearch(ctx context.Context, st *State, u []float64, f0, g0 float64) (float64, []*dynamo.ForceResult, error) {
	ls := &optimize.MoreThuente{
		DecreaseFactor:  1e-4,
		CurvatureFactor: 0.1,
		StepTolerance:   m.cfg.LineSearch.Tolerance,
		MaximumStep:     m.cfg.MaximumStep,
	}
	if m.cfg.Optimizer == "bfgs" {
		ls.CurvatureFactor = 0.9
	}
	step := min(m.step, m.cfg.MaximumStep)
	ls.Init(f0, g0, step)

	var (
		trial = st.Beads.Clone()
		bestF = f0
		best  float64
		found []*dynamo.ForceResult
	)
	for range m.cfg.LineSearch.Iter {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		for j, q := range st.Beads.Q {
			floats.AddScaledTo(trial.Q[j], q, step, u[j*len(q):(j+1)*len(q)])
		}
		forces, err := m.env.Forces.Compute(ctx, trial, st.Cell)
		if err != nil {
			return 0, nil, err
		}
		f := properties.PotentialEnergy(forces)
		if f < bestF {
			bestF, best, found = f, step, forces
		}

		op, next, err := ls.Iterate(f, floats.Dot(m.gradient(forces, trial.NAtoms()), u))
		if errors.Is(err, optimize.ErrLinesearcherBound) || errors.Is(err, optimize.ErrLinesearcherFailure) {
			break
		}
		if err != nil {
			return 0, nil, err
		}
		if op == optimize.MajorIteration {
			break
		}
		step = next
	}
	return best, found, nil
}

// gradient flattens the negated bead forces into one vector with the
// components of fixed atoms zeroed.
func (m *Minimizer) gradient(forces []*dynamo.ForceResult, natoms int) []float64 {
	stride := 3 * natoms
	g := make([]float64, len(forces)*stride)
	for j, f := range forces {
		for i, v := range f.Forces {
			if !m.fixed[i/3] {
				g[j*stride+i] = -v
			}
		}
	}
	return g
}

func identity(n int) *mat.SymDense {
	h := mat.NewSymDense(n, nil)
	for i := range n {
		h.SetSym(i, i, 1)
	}
	return h
}

func maxAbs(xs []float64) float64 {
	var v float64
	for _, x := range xs {
		v = max(v, math.Abs(x))
	}
	return v
}

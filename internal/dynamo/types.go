package dynamo

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Cell holds the simulation box. H is row-major with the lattice vectors as
// columns; the zero Cell means a non-periodic system.
type Cell struct {
	H [9]float64
}

// OrthorhombicCell builds a cell from three box lengths.
func OrthorhombicCell(a, b, c float64) Cell {
	return Cell{H: [9]float64{a, 0, 0, 0, b, 0, 0, 0, c}}
}

func (c Cell) IsZero() bool {
	return c.H == [9]float64{}
}

func (c Cell) dense() *mat.Dense {
	data := make([]float64, 9)
	copy(data, c.H[:])
	return mat.NewDense(3, 3, data)
}

// Inverse returns the inverse box matrix. A zero cell has a zero inverse.
func (c Cell) Inverse() ([9]float64, error) {
	var out [9]float64
	if c.IsZero() {
		return out, nil
	}
	var ih mat.Dense
	if err := ih.Inverse(c.dense()); err != nil {
		return out, fmt.Errorf("dynamo: singular cell: %w", err)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[3*i+j] = ih.At(i, j)
		}
	}
	return out, nil
}

func (c Cell) Volume() float64 {
	if c.IsZero() {
		return 0
	}
	return math.Abs(mat.Det(c.dense()))
}

// ABC returns the lattice vector lengths and the angles (radians) between
// them, in the order a, b, c, alpha, beta, gamma.
func (c Cell) ABC() [6]float64 {
	col := func(j int) [3]float64 { return [3]float64{c.H[j], c.H[3+j], c.H[6+j]} }
	dot := func(u, v [3]float64) float64 { return u[0]*v[0] + u[1]*v[1] + u[2]*v[2] }
	a, b, cc := col(0), col(1), col(2)
	la, lb, lc := math.Sqrt(dot(a, a)), math.Sqrt(dot(b, b)), math.Sqrt(dot(cc, cc))
	angle := func(u, v [3]float64, lu, lv float64) float64 {
		if lu == 0 || lv == 0 {
			return math.Pi / 2
		}
		return math.Acos(dot(u, v) / (lu * lv))
	}
	return [6]float64{la, lb, lc, angle(b, cc, lb, lc), angle(a, cc, la, lc), angle(a, b, la, lb)}
}

// Wrap folds a flat 3N position vector into the primary cell in place.
func (c Cell) Wrap(q []float64) error {
	if c.IsZero() {
		return nil
	}
	ih, err := c.Inverse()
	if err != nil {
		return err
	}
	h := c.H
	for i := 0; i+2 < len(q); i += 3 {
		var s [3]float64
		for r := 0; r < 3; r++ {
			s[r] = ih[3*r]*q[i] + ih[3*r+1]*q[i+1] + ih[3*r+2]*q[i+2]
			s[r] -= math.Floor(s[r])
		}
		for r := 0; r < 3; r++ {
			q[i+r] = h[3*r]*s[0] + h[3*r+1]*s[1] + h[3*r+2]*s[2]
		}
	}
	return nil
}

// Beads is the ring-polymer state. Q and P are indexed [bead][3*atom+axis].
type Beads struct {
	Labels []string
	Masses []float64
	Q      [][]float64
	P      [][]float64
}

func NewBeads(nbeads, natoms int) *Beads {
	b := &Beads{
		Labels: make([]string, natoms),
		Masses: make([]float64, natoms),
		Q:      make([][]float64, nbeads),
		P:      make([][]float64, nbeads),
	}
	for j := 0; j < nbeads; j++ {
		b.Q[j] = make([]float64, 3*natoms)
		b.P[j] = make([]float64, 3*natoms)
	}
	return b
}

func (b *Beads) NBeads() int { return len(b.Q) }
func (b *Beads) NAtoms() int { return len(b.Masses) }

func (b *Beads) Clone() *Beads {
	c := NewBeads(b.NBeads(), b.NAtoms())
	copy(c.Labels, b.Labels)
	copy(c.Masses, b.Masses)
	for j := range b.Q {
		copy(c.Q[j], b.Q[j])
		copy(c.P[j], b.P[j])
	}
	return c
}

// Centroid returns the bead-averaged positions.
func (b *Beads) Centroid() []float64 {
	return average(b.Q)
}

// CentroidMomenta returns the bead-averaged momenta.
func (b *Beads) CentroidMomenta() []float64 {
	return average(b.P)
}

func average(rows [][]float64) []float64 {
	if len(rows) == 0 {
		return nil
	}
	out := make([]float64, len(rows[0]))
	for _, row := range rows {
		for i, v := range row {
			out[i] += v
		}
	}
	inv := 1 / float64(len(rows))
	for i := range out {
		out[i] *= inv
	}
	return out
}

// Velocities returns p/m for bead j.
func (b *Beads) Velocities(j int) []float64 {
	v := make([]float64, len(b.P[j]))
	for i, p := range b.P[j] {
		v[i] = p / b.Masses[i/3]
	}
	return v
}

// IsValid reports whether every position and momentum is finite.
func (b *Beads) IsValid() bool {
	for j := range b.Q {
		for i := range b.Q[j] {
			if math.IsNaN(b.Q[j][i]) || math.IsInf(b.Q[j][i], 0) ||
				math.IsNaN(b.P[j][i]) || math.IsInf(b.P[j][i], 0) {
				return false
			}
		}
	}
	return true
}

// ForceRequest asks for the forces on one bead.
type ForceRequest struct {
	Bead      int
	Positions []float64
	Cell      Cell
}

// ForceResult is the answer to a ForceRequest, in atomic units.
type ForceResult struct {
	Potential float64
	Forces    []float64
	Virial    [9]float64
	Extra     string
}

// ForceProvider computes energies and forces for one bead at a time.
// Evaluate must be safe for concurrent use when Parallelism() > 1.
type ForceProvider interface {
	Name() string
	Evaluate(ctx context.Context, req ForceRequest) (*ForceResult, error)
	// Parallelism is the number of requests the provider can serve at once.
	Parallelism() int
	Close() error
}

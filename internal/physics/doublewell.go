package physics

import "github.com/san-kum/pimd/internal/dynamo"

// DoubleWell is V = A (x^2 - B)^2 summed over every Cartesian coordinate,
// with minima at x = ±sqrt(B).
type DoubleWell struct {
	A, B float64
}

func NewDoubleWell(a, b float64) *DoubleWell {
	return &DoubleWell{A: a, B: b}
}

func (d *DoubleWell) Kind() string { return "doublewell" }

func (d *DoubleWell) Compute(q []float64, _ dynamo.Cell) (float64, []float64, [9]float64, error) {
	var (
		v   float64
		vir [9]float64
	)
	f := make([]float64, len(q))
	for i, x := range q {
		w := x*x - d.B
		v += d.A * w * w
		f[i] = -4 * d.A * x * w
		vir[(i%3)*4] += x * f[i]
	}
	return v, f, vir, nil
}

// Barrier is the energy difference between the top of the barrier and a
// minimum for one coordinate.
func (d *DoubleWell) Barrier() float64 { return d.A * d.B * d.B }

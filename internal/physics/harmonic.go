package physics

import (
	"math"

	"github.com/san-kum/pimd/internal/dynamo"
)

// Harmonic is V = k/2 sum_i |q_i|^2.
type Harmonic struct {
	K float64
}

func NewHarmonic(k float64) *Harmonic { return &Harmonic{K: k} }

func (h *Harmonic) Kind() string { return "harmonic" }

func (h *Harmonic) Compute(q []float64, _ dynamo.Cell) (float64, []float64, [9]float64, error) {
	var (
		v   float64
		vir [9]float64
	)
	f := make([]float64, len(q))
	for i := 0; i < len(q); i += 3 {
		for a := 0; a < 3; a++ {
			x := q[i+a]
			v += 0.5 * h.K * x * x
			f[i+a] = -h.K * x
		}
		for a := 0; a < 3; a++ {
			for b := 0; b < 3; b++ {
				vir[a*3+b] += q[i+a] * f[i+b]
			}
		}
	}
	return v, f, vir, nil
}

// Frequency is the classical angular frequency for a particle of mass m.
func (h *Harmonic) Frequency(m float64) float64 {
	return math.Sqrt(h.K / m)
}

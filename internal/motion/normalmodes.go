package motion

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/pimd/internal/dynamo"
	"github.com/san-kum/pimd/internal/properties"
	"github.com/san-kum/pimd/internal/units"
)

// NormalModes transforms ring-polymer coordinates between bead and
// normal-mode representations and propagates the free ring polymer
// exactly.
type NormalModes struct {
	nbeads int
	omegaP float64
	// c is the orthonormal P x P transform, x_modes = c^T x_beads.
	c     *mat.Dense
	freqs []float64
}

// NewNormalModes builds the transform for nbeads replicas at the given
// physical temperature (Kelvin).
func NewNormalModes(nbeads int, temperature float64) *NormalModes {
	p := float64(nbeads)
	nm := &NormalModes{
		nbeads: nbeads,
		omegaP: p * units.Kb * temperature / units.Hbar,
		c:      mat.NewDense(nbeads, nbeads, nil),
		freqs:  make([]float64, nbeads),
	}

	for j := 0; j < nbeads; j++ {
		for k := 0; k < nbeads; k++ {
			var v float64
			arg := 2 * math.Pi * float64(j*k) / p
			switch {
			case k == 0:
				v = 1 / math.Sqrt(p)
			case 2*k < nbeads:
				v = math.Sqrt(2/p) * math.Cos(arg)
			case 2*k == nbeads:
				v = math.Pow(-1, float64(j)) / math.Sqrt(p)
			default:
				v = math.Sqrt(2/p) * math.Sin(arg)
			}
			nm.c.Set(j, k, v)
		}
	}
	for k := 0; k < nbeads; k++ {
		nm.freqs[k] = 2 * nm.omegaP * math.Sin(float64(k)*math.Pi/p)
	}
	return nm
}

func (nm *NormalModes) NBeads() int { return nm.nbeads }

// OmegaP is the ring-polymer spring frequency P kB T / hbar.
func (nm *NormalModes) OmegaP() float64 { return nm.omegaP }

// Freqs returns the free ring-polymer frequencies 2 omegaP sin(k pi / P).
func (nm *NormalModes) Freqs() []float64 { return nm.freqs }

func rows(x [][]float64) *mat.Dense {
	p, n := len(x), len(x[0])
	data := make([]float64, 0, p*n)
	for _, r := range x {
		data = append(data, r...)
	}
	return mat.NewDense(p, n, data)
}

func unrows(m *mat.Dense) [][]float64 {
	p, _ := m.Dims()
	out := make([][]float64, p)
	for j := range out {
		out[j] = append([]float64(nil), m.RawRowView(j)...)
	}
	return out
}

// ToModes returns the normal-mode coordinates of x, indexed [mode][dof].
func (nm *NormalModes) ToModes(x [][]float64) [][]float64 {
	var out mat.Dense
	out.Mul(nm.c.T(), rows(x))
	return unrows(&out)
}

// FromModes is the inverse of ToModes.
func (nm *NormalModes) FromModes(xt [][]float64) [][]float64 {
	var out mat.Dense
	out.Mul(nm.c, rows(xt))
	return unrows(&out)
}

// Propagate advances positions and momenta under the free ring-polymer
// Hamiltonian for dt, exactly, mode by mode.
func (nm *NormalModes) Propagate(b *dynamo.Beads, dt float64) {
	qt := nm.ToModes(b.Q)
	pt := nm.ToModes(b.P)
	for k := 0; k < nm.nbeads; k++ {
		w := nm.freqs[k]
		cw, sw := math.Cos(w*dt), math.Sin(w*dt)
		for i := range qt[k] {
			m := b.Masses[i/3]
			q, p := qt[k][i], pt[k][i]
			if k == 0 || w == 0 {
				qt[k][i] = q + p/m*dt
				continue
			}
			qt[k][i] = q*cw + p/(m*w)*sw
			pt[k][i] = p*cw - m*w*q*sw
		}
	}
	copyRows(b.Q, nm.FromModes(qt))
	copyRows(b.P, nm.FromModes(pt))
}

// SpringEnergy is the total inter-bead spring energy of b.
func (nm *NormalModes) SpringEnergy(b *dynamo.Beads) float64 {
	return properties.SpringEnergy(b, nm.omegaP)
}

func copyRows(dst, src [][]float64) {
	for j := range dst {
		copy(dst[j], src[j])
	}
}

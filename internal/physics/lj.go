package physics

import (
	"math"

	"github.com/san-kum/pimd/internal/dynamo"
)

// LennardJones is the pair potential 4 eps ((s/r)^12 - (s/r)^6), shifted to
// zero at Cutoff. A zero cutoff keeps every pair. Pairs interact through
// the minimum image when the cell is non-zero.
type LennardJones struct {
	Epsilon, Sigma, Cutoff float64
	shift                  float64
}

func NewLennardJones(epsilon, sigma, cutoff float64) *LennardJones {
	lj := &LennardJones{Epsilon: epsilon, Sigma: sigma, Cutoff: cutoff}
	if cutoff > 0 {
		lj.shift = lj.pair(cutoff * cutoff)
	}
	return lj
}

func (lj *LennardJones) Kind() string { return "lj" }

func (lj *LennardJones) pair(r2 float64) float64 {
	s6 := math.Pow(lj.Sigma*lj.Sigma/r2, 3)
	return 4 * lj.Epsilon * (s6*s6 - s6)
}

func (lj *LennardJones) Compute(q []float64, cell dynamo.Cell) (float64, []float64, [9]float64, error) {
	var (
		v    float64
		vir  [9]float64
		hinv [9]float64
	)
	n := len(q) / 3
	f := make([]float64, len(q))
	periodic := !cell.IsZero()
	if periodic {
		var err error
		if hinv, err = cell.Inverse(); err != nil {
			return 0, nil, vir, err
		}
	}
	rc2 := lj.Cutoff * lj.Cutoff

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			var r [3]float64
			for a := 0; a < 3; a++ {
				r[a] = q[j*3+a] - q[i*3+a]
			}
			if periodic {
				r = minimumImage(cell.H, hinv, r)
			}
			r2 := r[0]*r[0] + r[1]*r[1] + r[2]*r[2]
			if lj.Cutoff > 0 && r2 >= rc2 {
				continue
			}

			s6 := math.Pow(lj.Sigma*lj.Sigma/r2, 3)
			v += 4*lj.Epsilon*(s6*s6-s6) - lj.shift
			// force on j along r
			fr := 24 * lj.Epsilon * (2*s6*s6 - s6) / r2
			for a := 0; a < 3; a++ {
				f[j*3+a] += fr * r[a]
				f[i*3+a] -= fr * r[a]
			}
			for a := 0; a < 3; a++ {
				for b := 0; b < 3; b++ {
					vir[a*3+b] += r[a] * fr * r[b]
				}
			}
		}
	}
	return v, f, vir, nil
}

func minimumImage(h, hinv [9]float64, r [3]float64) [3]float64 {
	var s [3]float64
	for a := 0; a < 3; a++ {
		s[a] = hinv[a*3]*r[0] + hinv[a*3+1]*r[1] + hinv[a*3+2]*r[2]
		s[a] -= math.Round(s[a])
	}
	var out [3]float64
	for a := 0; a < 3; a++ {
		out[a] = h[a*3]*s[0] + h[a*3+1]*s[1] + h[a*3+2]*s[2]
	}
	return out
}

package metrics

import (
	"math"

	"github.com/san-kum/pimd/internal/properties"
)

// Stability is the fraction of reported steps whose kinetic temperature
// stayed finite and at or below a ceiling in Kelvin. A blown-up integration
// shows up here long before the conserved quantity is inspected.
type Stability struct {
	ceiling float64
	bad     int
	seen    int
}

func NewStability(ceiling float64) *Stability {
	return &Stability{ceiling: ceiling}
}

func (*Stability) Name() string { return "stability" }

func (s *Stability) Observe(_ int, v properties.Values) {
	temp, ok := v[properties.Temperature]
	if !ok {
		return
	}
	s.seen++
	if math.IsNaN(temp) || math.IsInf(temp, 0) || temp > s.ceiling {
		s.bad++
	}
}

func (s *Stability) Value() float64 {
	if s.seen == 0 {
		return 1
	}
	return 1 - float64(s.bad)/float64(s.seen)
}

func (s *Stability) Reset() { s.bad, s.seen = 0, 0 }

package metrics

import (
	"math"

	"github.com/san-kum/pimd/internal/properties"
)

// Average is the running mean of one property.
type Average struct {
	name     string
	property string
	samples  int
	total    float64
}

func NewAverage(property string) *Average {
	return &Average{name: "mean_" + property, property: property}
}

func (a *Average) Name() string { return a.name }

func (a *Average) Observe(_ int, v properties.Values) {
	x, ok := v[a.property]
	if !ok {
		return
	}
	a.total += x
	a.samples++
}

func (a *Average) Value() float64 {
	if a.samples == 0 {
		return 0
	}
	return a.total / float64(a.samples)
}

func (a *Average) Reset() {
	a.total = 0
	a.samples = 0
}

// EnergyDrift tracks the largest relative deviation of the conserved
// quantity from its first observed value.
type EnergyDrift struct {
	name          string
	initialEnergy float64
	currentEnergy float64
	maxDrift      float64
	samples       int
}

func NewEnergyDrift() *EnergyDrift {
	return &EnergyDrift{name: "energy_drift"}
}

func (e *EnergyDrift) Name() string { return e.name }

func (e *EnergyDrift) Observe(_ int, v properties.Values) {
	energy, ok := v[properties.Conserved]
	if !ok {
		return
	}

	if e.samples == 0 {
		e.initialEnergy = energy
	}

	e.currentEnergy = energy
	e.samples++

	if e.initialEnergy != 0 {
		drift := math.Abs(energy-e.initialEnergy) / math.Abs(e.initialEnergy)
		e.maxDrift = math.Max(e.maxDrift, drift)
	}
}

func (e *EnergyDrift) Value() float64 {
	return e.maxDrift
}

// Current is the relative drift at the last observation.
func (e *EnergyDrift) Current() float64 {
	if e.initialEnergy == 0 {
		return 0
	}
	return math.Abs(e.currentEnergy-e.initialEnergy) / math.Abs(e.initialEnergy)
}

func (e *EnergyDrift) Reset() {
	e.initialEnergy = 0
	e.currentEnergy = 0
	e.maxDrift = 0
	e.samples = 0
}

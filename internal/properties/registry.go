package properties

import (
	"sort"

	"github.com/san-kum/pimd/internal/units"
)

// Scalar property names.
const (
	Step             = "step"
	Time             = "time"
	Temperature      = "temperature"
	KineticMD        = "kinetic_md"
	KineticCV        = "kinetic_cv"
	Potential        = "potential"
	Spring           = "spring"
	Conserved        = "conserved"
	ThermostatEnergy = "thermostat_energy"
	Volume           = "volume"
)

// Trajectory quantity names.
const (
	Positions  = "positions"
	Velocities = "velocities"
	Forces     = "forces"
	XCentroid  = "x_centroid"
	VCentroid  = "v_centroid"
)

var scalarDims = map[string]units.Dimension{
	Step:             units.Undefined,
	Time:             units.Time,
	Temperature:      units.Temperature,
	KineticMD:        units.Energy,
	KineticCV:        units.Energy,
	Potential:        units.Energy,
	Spring:           units.Energy,
	Conserved:        units.Energy,
	ThermostatEnergy: units.Energy,
	Volume:           units.Undefined,
}

var trajectoryDims = map[string]units.Dimension{
	Positions:  units.Length,
	Velocities: units.Velocity,
	Forces:     units.Force,
	XCentroid:  units.Length,
	VCentroid:  units.Velocity,
}

// ScalarDimension returns the dimension of a scalar property.
func ScalarDimension(name string) (units.Dimension, bool) {
	d, ok := scalarDims[name]
	return d, ok
}

// TrajectoryDimension returns the dimension of a per-atom trajectory quantity.
func TrajectoryDimension(name string) (units.Dimension, bool) {
	d, ok := trajectoryDims[name]
	return d, ok
}

// IsCentroid reports whether a trajectory quantity is bead-averaged.
func IsCentroid(name string) bool {
	return name == XCentroid || name == VCentroid
}

func ScalarNames() []string     { return sortedKeys(scalarDims) }
func TrajectoryNames() []string { return sortedKeys(trajectoryDims) }

func sortedKeys(m map[string]units.Dimension) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

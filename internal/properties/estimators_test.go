package properties

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/pimd/internal/dynamo"
	"github.com/san-kum/pimd/internal/units"
)

func twoBeads() (*dynamo.Beads, []*dynamo.ForceResult) {
	b := dynamo.NewBeads(2, 1)
	b.Labels[0] = "H"
	b.Masses[0] = 2
	b.Q[0] = []float64{1, 0, 0}
	b.Q[1] = []float64{3, 0, 0}
	b.P[0] = []float64{2, 0, 0}
	b.P[1] = []float64{0, 4, 0}
	forces := []*dynamo.ForceResult{
		{Potential: 1, Forces: []float64{-1, 0, 0}},
		{Potential: 3, Forces: []float64{-3, 0, 0}},
	}
	return b, forces
}

func TestEnergies(t *testing.T) {
	b, forces := twoBeads()

	// (4 + 16) / (2*2)
	assert.InDelta(t, 5.0, KineticEnergy(b), 1e-12)
	assert.InDelta(t, 4.0, PotentialEnergy(forces), 1e-12)
	assert.Equal(t, 0.0, PotentialEnergy([]*dynamo.ForceResult{nil}))

	// two springs of length 2 around the ring: 2 * 0.5 * 2 * 0.5^2 * 4
	assert.InDelta(t, 2.0, SpringEnergy(b, 0.5), 1e-12)

	single := dynamo.NewBeads(1, 1)
	single.Masses[0] = 1
	assert.Equal(t, 0.0, SpringEnergy(single, 10))
}

func TestKineticTemperature(t *testing.T) {
	b, _ := twoBeads()
	kin := KineticEnergy(b)
	assert.InDelta(t, 2*kin/(3*units.Kb*4), KineticTemperature(b, kin, false), 1e-6)
	assert.Equal(t, 0.0, KineticTemperature(b, kin, true), "a single atom has no free degrees with fixcom")
}

func TestCentroidVirialKinetic(t *testing.T) {
	b, forces := twoBeads()
	// centroid at x=2; (1-2)*1 + (3-2)*3 = 2; divided by 2P
	want := 1.5*units.Kb*100 + 2.0/4
	assert.InDelta(t, want, CentroidVirialKinetic(b, forces, 100), 1e-12)
}

func TestEvaluate(t *testing.T) {
	b, forces := twoBeads()
	v := Evaluate(Input{
		Step:             7,
		Time:             3.5,
		Beads:            b,
		Forces:           forces,
		Cell:             dynamo.OrthorhombicCell(2, 3, 4),
		OmegaP:           0.5,
		Temperature:      100,
		ThermostatEnergy: 1,
	})

	require.Len(t, v, len(ScalarNames()))
	assert.Equal(t, 7.0, v[Step])
	assert.Equal(t, 3.5, v[Time])
	assert.InDelta(t, 2.5, v[KineticMD], 1e-12)
	assert.InDelta(t, 2.0, v[Potential], 1e-12)
	assert.InDelta(t, 1.0, v[Spring], 1e-12)
	assert.InDelta(t, 0.5, v[ThermostatEnergy], 1e-12)
	assert.InDelta(t, (5.0+4+2+1)/2, v[Conserved], 1e-12)
	assert.InDelta(t, 24.0, v[Volume], 1e-12)
}

func TestTrajectory(t *testing.T) {
	b, forces := twoBeads()
	assert.Equal(t, []float64{3, 0, 0}, Trajectory(Positions, b, forces, 1))
	assert.Equal(t, []float64{0, 2, 0}, Trajectory(Velocities, b, forces, 1))
	assert.Equal(t, []float64{-3, 0, 0}, Trajectory(Forces, b, forces, 1))
	assert.Equal(t, []float64{0, 0, 0}, Trajectory(Forces, b, nil, 1))
	assert.Equal(t, []float64{2, 0, 0}, Trajectory(XCentroid, b, forces, 0))
	assert.Equal(t, []float64{0.5, 1, 0}, Trajectory(VCentroid, b, forces, 0))
	assert.Nil(t, Trajectory("bogus", b, forces, 0))

	// returned slices are copies
	q := Trajectory(Positions, b, forces, 0)
	q[0] = 99
	assert.Equal(t, 1.0, b.Q[0][0])
}

func TestRegistry(t *testing.T) {
	d, ok := ScalarDimension(Conserved)
	assert.True(t, ok)
	assert.Equal(t, units.Energy, d)

	_, ok = ScalarDimension("positions")
	assert.False(t, ok)

	d, ok = TrajectoryDimension(VCentroid)
	assert.True(t, ok)
	assert.Equal(t, units.Velocity, d)

	assert.True(t, IsCentroid(XCentroid))
	assert.False(t, IsCentroid(Positions))
	assert.Contains(t, TrajectoryNames(), Forces)
	assert.IsIncreasing(t, ScalarNames())
}

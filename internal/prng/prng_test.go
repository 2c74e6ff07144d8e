package prng

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSameSeedSameStream(t *testing.T) {
	a, b := New(42), New(42)
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Gaussian(), b.Gaussian())
	}
}

func TestDifferentSeedsDiffer(t *testing.T) {
	a, b := New(1), New(2)
	same := true
	for i := 0; i < 10; i++ {
		if a.Uniform() != b.Uniform() {
			same = false
		}
	}
	assert.False(t, same, "different seeds produced identical streams")
}

func TestStateRestoreContinuesStream(t *testing.T) {
	g := New(7)
	for i := 0; i < 13; i++ {
		g.Gaussian()
	}
	state, err := g.State()
	require.NoError(t, err)

	want := make([]float64, 5)
	g.FillGaussian(want)

	r := New(999)
	require.NoError(t, r.Restore(state))
	got := make([]float64, 5)
	r.FillGaussian(got)

	assert.Equal(t, want, got)
}

func TestRestoreRejectsGarbage(t *testing.T) {
	assert.Error(t, New(1).Restore([]byte("nope")))
}

func TestGaussianMoments(t *testing.T) {
	g := New(3)
	n := 20000
	var sum, sum2 float64
	for i := 0; i < n; i++ {
		x := g.Gaussian()
		sum += x
		sum2 += x * x
	}
	mean := sum / float64(n)
	variance := sum2/float64(n) - mean*mean
	assert.InDelta(t, 0, mean, 0.05)
	assert.InDelta(t, 1, variance, 0.05)
}

func TestChiSquaredMean(t *testing.T) {
	g := New(11)
	n := 5000
	k := 6.0
	var sum float64
	for i := 0; i < n; i++ {
		sum += g.ChiSquared(k)
	}
	assert.InDelta(t, k, sum/float64(n), 0.3)
	assert.Equal(t, 0.0, g.ChiSquared(0))
	assert.False(t, math.IsNaN(g.ChiSquared(1)))
}

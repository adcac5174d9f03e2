package psquare

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimator_Empty(t *testing.T) {
	e := New(0.5)
	assert.Zero(t, e.Value())
	assert.Zero(t, e.Max())
	assert.Zero(t, e.Count())
}

func TestEstimator_ClampsP(t *testing.T) {
	assert.Equal(t, 0.0, New(-1).P())
	assert.Equal(t, 1.0, New(2).P())
}

func TestEstimator_FewObservations(t *testing.T) {
	e := New(0.5)
	for _, x := range []float64{9, 1, 5} {
		e.Observe(x)
	}
	assert.Equal(t, 5.0, e.Value())
	assert.Equal(t, 9.0, e.Max())
	assert.Equal(t, 3, e.Count())
}

func TestEstimator_Uniform(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	values := make([]float64, 10000)
	for i := range values {
		values[i] = float64(i + 1)
	}
	rng.Shuffle(len(values), func(i, j int) { values[i], values[j] = values[j], values[i] })

	for _, tc := range []struct {
		p    float64
		want float64
	}{
		{0.5, 5000},
		{0.9, 9000},
		{0.99, 9900},
	} {
		e := New(tc.p)
		for _, x := range values {
			e.Observe(x)
		}
		require.Equal(t, len(values), e.Count())
		assert.InDelta(t, tc.want, e.Value(), 200, "p=%v", tc.p)
		assert.Equal(t, 10000.0, e.Max())
	}
}

func TestSummary(t *testing.T) {
	s := NewSummary(0.5, 0.99)
	assert.Zero(t, s.Max())
	assert.Zero(t, s.Mean())

	rng := rand.New(rand.NewPCG(3, 4))
	for _, i := range rng.Perm(1000) {
		s.Observe(float64(i + 1))
	}
	assert.Equal(t, 1000, s.Count())
	assert.Equal(t, 1000.0, s.Max())
	assert.InDelta(t, 500.5, s.Mean(), 1e-9)
	assert.InDelta(t, 500, s.Quantile(0), 50)
	assert.InDelta(t, 990, s.Quantile(1), 20)
	assert.Zero(t, s.Quantile(2))
	assert.Zero(t, s.Quantile(-1))

	s.Reset()
	assert.Zero(t, s.Count())
	assert.Zero(t, s.Quantile(0))

	s.Observe(-5)
	assert.Equal(t, -5.0, s.Max())
	assert.False(t, math.IsInf(s.Mean(), 0))
}

package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keysentry/internal/capture"
)

func sampleFixture() *capture.SessionSample {
	return &capture.SessionSample{
		FlightTimes: []float64{0.10, 0.12, 0.14, 0.12},
		DwellTimes:  []float64{0.08, 0.06, 0.07},
		BigramTimes: map[string][]float64{
			"th": {0.10, 0.12},
			"he": {0.14},
		},
		RhythmVector: []float64{0.10, 0.12, 0.14, 0.12},
	}
}

func TestBuild(t *testing.T) {
	p, err := Build(sampleFixture())
	require.NoError(t, err)

	assert.InDelta(t, 0.12, p.FlightAvg, 1e-9)
	assert.InDelta(t, 0.0163, p.FlightStd, 1e-4)
	assert.InDelta(t, 0.07, p.DwellAvg, 1e-9)
	assert.InDelta(t, 0.01, p.DwellStd, 1e-9)

	require.Len(t, p.BigramAvg, 2)
	assert.InDelta(t, 0.11, p.BigramAvg["th"], 1e-9)
	assert.InDelta(t, 0.14, p.BigramAvg["he"], 1e-9)

	assert.Equal(t, []float64{0.10, 0.12, 0.14, 0.12}, p.RhythmVector)
}

func TestBuildEmptySample(t *testing.T) {
	_, err := Build(&capture.SessionSample{})
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = Build(nil)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestBuildSingleFlightUsesFallbackStd(t *testing.T) {
	p, err := Build(&capture.SessionSample{
		FlightTimes:  []float64{0.2},
		RhythmVector: []float64{0.2},
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.2, p.FlightAvg, 1e-9)
	assert.InDelta(t, 0.05, p.FlightStd, 1e-9)
}

func TestBuildNoDwellData(t *testing.T) {
	p, err := Build(&capture.SessionSample{
		FlightTimes:  []float64{0.1, 0.2},
		RhythmVector: []float64{0.1, 0.2},
	})
	require.NoError(t, err)

	assert.Zero(t, p.DwellAvg)
	assert.InDelta(t, 0.02, p.DwellStd, 1e-9)
}

func TestBuildSingleDwellUsesFallbackStd(t *testing.T) {
	p, err := Build(&capture.SessionSample{
		FlightTimes:  []float64{0.1, 0.2},
		DwellTimes:   []float64{0.09},
		RhythmVector: []float64{0.1, 0.2},
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.09, p.DwellAvg, 1e-9)
	assert.InDelta(t, 0.02, p.DwellStd, 1e-9)
}

func TestBuildOmitsEmptyBigrams(t *testing.T) {
	p, err := Build(&capture.SessionSample{
		FlightTimes:  []float64{0.1, 0.2},
		RhythmVector: []float64{0.1, 0.2},
		BigramTimes: map[string][]float64{
			"th": {0.1},
			"he": {},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, p.BigramAvg, "th")
	assert.NotContains(t, p.BigramAvg, "he")
}

func TestStdevIsSampleStdev(t *testing.T) {
	// n-1 denominator: stdev of {1,2,3,4} is sqrt(5/3), not sqrt(5/4).
	got := stdev([]float64{1, 2, 3, 4})
	assert.InDelta(t, 1.29099, got, 1e-5)
}

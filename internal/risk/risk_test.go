package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keysentry/internal/capture"
	"keysentry/internal/config"
	"keysentry/internal/profile"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(config.DefaultConfig().Risk)
	require.NoError(t, err)
	return e
}

func baselineFixture() *profile.Profile {
	return &profile.Profile{
		FlightAvg:    0.12,
		FlightStd:    0.02,
		DwellAvg:     0.07,
		DwellStd:     0.01,
		BigramAvg:    map[string]float64{"th": 0.11, "he": 0.14},
		RhythmVector: []float64{0.10, 0.12, 0.14, 0.12},
	}
}

func matchingSample() *capture.SessionSample {
	return &capture.SessionSample{
		FlightTimes: []float64{0.10, 0.12, 0.14, 0.12},
		DwellTimes:  []float64{0.08, 0.06, 0.07},
		BigramTimes: map[string][]float64{
			"th": {0.11},
			"he": {0.14},
		},
		RhythmVector: []float64{0.10, 0.12, 0.14, 0.12},
	}
}

func TestNewEngineRejectsBadWeights(t *testing.T) {
	cfg := config.DefaultConfig().Risk
	cfg.FlightWeight = 0.5 // sum now 1.2

	_, err := NewEngine(cfg)
	assert.Error(t, err)
}

func TestNewEngineRejectsBadThresholdParams(t *testing.T) {
	cfg := config.DefaultConfig().Risk
	cfg.ThresholdK = 0
	_, err := NewEngine(cfg)
	assert.Error(t, err)

	cfg = config.DefaultConfig().Risk
	cfg.FloorStd = -0.01
	_, err = NewEngine(cfg)
	assert.Error(t, err)
}

func TestScoreSelfComparison(t *testing.T) {
	e := newTestEngine(t)

	a := e.Score(baselineFixture(), matchingSample())

	assert.Equal(t, StatusTrusted, a.Status)
	assert.True(t, a.Trusted())
	assert.Zero(t, a.FlightDev)
	assert.Zero(t, a.DwellDev)
	assert.Zero(t, a.BigramDev)
	assert.Zero(t, a.VectorDist)
	assert.InDelta(t, 1.0, a.CosineSim, 1e-9)
	assert.Zero(t, a.RiskScore)
	assert.InDelta(t, 0.05, a.Threshold, 1e-9)
}

func TestScoreImposter(t *testing.T) {
	e := newTestEngine(t)

	// Markedly slower cadence across every signal.
	sample := &capture.SessionSample{
		FlightTimes:  []float64{0.34, 0.38, 0.36, 0.35},
		DwellTimes:   []float64{0.15, 0.14, 0.16},
		BigramTimes:  map[string][]float64{"th": {0.35}},
		RhythmVector: []float64{0.34, 0.38, 0.36, 0.35},
	}
	a := e.Score(baselineFixture(), sample)

	assert.Equal(t, StatusSuspicious, a.Status)
	assert.False(t, a.Trusted())
	assert.Greater(t, a.RiskScore, a.Threshold)
}

func TestScoreWeightedCombination(t *testing.T) {
	// flight_dev 0.18, all other components zero: risk = 0.30 * 0.18.
	e := newTestEngine(t)

	baseline := &profile.Profile{FlightAvg: 0.12, FlightStd: 0.04}
	sample := &capture.SessionSample{FlightTimes: []float64{0.30}}

	a := e.Score(baseline, sample)
	assert.InDelta(t, 0.054, a.RiskScore, 1e-9)
	assert.InDelta(t, 0.1, a.Threshold, 1e-9)
	assert.Equal(t, StatusTrusted, a.Status)
}

func TestScoreMissingSignalsDegradeToZero(t *testing.T) {
	e := newTestEngine(t)

	baseline := baselineFixture()
	sample := &capture.SessionSample{FlightTimes: []float64{0.12}}

	a := e.Score(baseline, sample)
	assert.Zero(t, a.DwellDev)
	assert.Zero(t, a.BigramDev)
}

func TestScoreDwellZeroBaseline(t *testing.T) {
	e := newTestEngine(t)

	// A baseline with no dwell signal never penalizes dwell.
	baseline := baselineFixture()
	baseline.DwellAvg = 0

	sample := matchingSample()
	sample.DwellTimes = []float64{0.5}

	a := e.Score(baseline, sample)
	assert.Zero(t, a.DwellDev)
}

func TestScoreBigramSharedKeysOnly(t *testing.T) {
	e := newTestEngine(t)

	baseline := baselineFixture()
	sample := matchingSample()
	// Session only saw "th", and shifted; "he" is excluded, not penalized.
	sample.BigramTimes = map[string][]float64{"th": {0.13}}

	a := e.Score(baseline, sample)
	assert.InDelta(t, 0.02, a.BigramDev, 1e-9)
}

func TestDynamicThreshold(t *testing.T) {
	e := newTestEngine(t)

	// Floor applies below 0.02.
	assert.InDelta(t, 0.05, e.DynamicThreshold(0), 1e-9)
	assert.InDelta(t, 0.05, e.DynamicThreshold(0.01), 1e-9)

	// Above the floor, threshold scales with the baseline's variability.
	assert.InDelta(t, 0.075, e.DynamicThreshold(0.03), 1e-9)
	assert.Less(t, e.DynamicThreshold(0.03), e.DynamicThreshold(0.05))
}

func TestScoreBoundaryIsSuspicious(t *testing.T) {
	// A score exactly at the threshold is not trusted.
	e, err := NewEngine(config.RiskConfig{
		FlightWeight: 1.0,
		ThresholdK:   2.0,
		FloorStd:     0.25,
	})
	require.NoError(t, err)

	// flight_dev = 0.5 = threshold (floor 0.25 * 2.0), exact in binary.
	baseline := &profile.Profile{FlightAvg: 0, FlightStd: 0}
	sample := &capture.SessionSample{FlightTimes: []float64{0.5}}

	a := e.Score(baseline, sample)
	assert.Equal(t, StatusSuspicious, a.Status)
}

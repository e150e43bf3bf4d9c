// Package profile builds and persists the baseline behavioral profile.
//
// The baseline is the identity reference: compact statistics over one
// registration session. It is created exactly once per registration and
// never merged; re-registration fully overwrites it.
package profile

import (
	"errors"
	"math"

	"keysentry/internal/capture"
)

// ErrInsufficientData is returned when a session has no usable flight
// samples. Recoverable: the caller retries capture.
var ErrInsufficientData = errors.New("no flight time data captured")

// Fallback deviations used when a session is too small for a sample
// standard deviation. A zero FlightStd would collapse the adaptive
// threshold to its floor.
const (
	fallbackFlightStd = 0.05
	fallbackDwellStd  = 0.02
)

// Profile is the persisted baseline. Field names are the stable external
// schema; tooling may inspect the JSON directly.
type Profile struct {
	FlightAvg    float64            `json:"flight_avg"`
	FlightStd    float64            `json:"flight_std"`
	DwellAvg     float64            `json:"dwell_avg"`
	DwellStd     float64            `json:"dwell_std"`
	BigramAvg    map[string]float64 `json:"bigram_avg"`
	RhythmVector []float64          `json:"rhythm_vector"`
}

// Build aggregates a registration session into a baseline profile.
func Build(sample *capture.SessionSample) (*Profile, error) {
	if sample == nil || sample.Empty() {
		return nil, ErrInsufficientData
	}

	p := &Profile{
		FlightAvg: round4(mean(sample.FlightTimes)),
		FlightStd: fallbackFlightStd,
		DwellStd:  fallbackDwellStd,
		BigramAvg: make(map[string]float64, len(sample.BigramTimes)),
	}
	if len(sample.FlightTimes) > 1 {
		p.FlightStd = round4(stdev(sample.FlightTimes))
	}

	if len(sample.DwellTimes) > 0 {
		p.DwellAvg = round4(mean(sample.DwellTimes))
		if len(sample.DwellTimes) > 1 {
			p.DwellStd = round4(stdev(sample.DwellTimes))
		}
	}

	// One scalar per bigram; keys with no samples are omitted entirely.
	for pair, times := range sample.BigramTimes {
		if len(times) > 0 {
			p.BigramAvg[pair] = round4(mean(times))
		}
	}

	p.RhythmVector = make([]float64, len(sample.RhythmVector))
	for i, v := range sample.RhythmVector {
		p.RhythmVector[i] = round4(v)
	}

	return p, nil
}

// mean returns the arithmetic mean. Callers guarantee a non-empty slice.
func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdev returns the sample standard deviation (n-1 denominator).
// Callers guarantee at least two values.
func stdev(values []float64) float64 {
	m := mean(values)
	sq := 0.0
	for _, v := range values {
		d := v - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)-1))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

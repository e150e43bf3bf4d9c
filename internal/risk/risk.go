// Package risk scores a live typing session against the baseline profile.
//
// Four independent deviation metrics are combined with fixed weights into
// a scalar risk score, and the decision threshold adapts to the baseline's
// own variability. Scoring is pure: no side effects, deterministic for
// identical inputs, and no error paths. Missing or short inputs degrade to
// identity values rather than failing.
package risk

import (
	"fmt"
	"math"

	"keysentry/internal/capture"
	"keysentry/internal/config"
	"keysentry/internal/profile"
)

// Status is the trust decision for one assessment.
type Status string

const (
	// StatusTrusted means the risk score fell below the threshold.
	StatusTrusted Status = "TRUSTED"
	// StatusSuspicious means the score met or exceeded the threshold.
	StatusSuspicious Status = "SUSPICIOUS"
)

// Assessment is the output of one comparison. Numeric fields are rounded
// to 4 decimals for presentation stability; the Status decision was made
// on the unrounded values. Assessments are ephemeral and never persisted
// by this package.
type Assessment struct {
	FlightDev  float64 `json:"flight_dev"`
	DwellDev   float64 `json:"dwell_dev"`
	BigramDev  float64 `json:"bigram_dev"`
	VectorDist float64 `json:"vector_dist"`
	CosineSim  float64 `json:"cosine_sim"`
	RiskScore  float64 `json:"risk_score"`
	Threshold  float64 `json:"threshold"`
	Status     Status  `json:"status"`
}

// Trusted reports whether the assessment passed.
func (a *Assessment) Trusted() bool {
	return a.Status == StatusTrusted
}

// Engine computes assessments with a fixed, validated weight set.
type Engine struct {
	flightWeight float64
	dwellWeight  float64
	bigramWeight float64
	vectorWeight float64
	thresholdK   float64
	floorStd     float64
}

// weightTolerance absorbs float64 representation error in the sum check.
const weightTolerance = 1e-9

// NewEngine builds an Engine from the risk configuration. The weight-sum
// invariant is checked here, once at construction, not per call.
func NewEngine(cfg config.RiskConfig) (*Engine, error) {
	sum := cfg.FlightWeight + cfg.DwellWeight + cfg.BigramWeight + cfg.VectorWeight
	if math.Abs(sum-1.0) > weightTolerance {
		return nil, fmt.Errorf("risk weights must sum to 1.0, got %v", sum)
	}
	if cfg.ThresholdK <= 0 {
		return nil, fmt.Errorf("threshold multiplier must be positive, got %v", cfg.ThresholdK)
	}
	if cfg.FloorStd <= 0 {
		return nil, fmt.Errorf("floor standard deviation must be positive, got %v", cfg.FloorStd)
	}
	return &Engine{
		flightWeight: cfg.FlightWeight,
		dwellWeight:  cfg.DwellWeight,
		bigramWeight: cfg.BigramWeight,
		vectorWeight: cfg.VectorWeight,
		thresholdK:   cfg.ThresholdK,
		floorStd:     cfg.FloorStd,
	}, nil
}

// Score compares a live session against the baseline and returns the
// assessment.
func (e *Engine) Score(baseline *profile.Profile, sample *capture.SessionSample) *Assessment {
	flightDev := flightDeviation(baseline.FlightAvg, sample.FlightTimes)
	dwellDev := dwellDeviation(baseline.DwellAvg, sample.DwellTimes)
	bigramDev := bigramDeviation(baseline.BigramAvg, sample.BigramTimes)
	vectorDist := rhythmVectorDistance(baseline.RhythmVector, sample.RhythmVector)
	cosineSim := cosineSimilarity(baseline.RhythmVector, sample.RhythmVector)

	score := e.flightWeight*flightDev +
		e.dwellWeight*dwellDev +
		e.bigramWeight*bigramDev +
		e.vectorWeight*vectorDist

	threshold := e.DynamicThreshold(baseline.FlightStd)

	status := StatusSuspicious
	if score < threshold {
		status = StatusTrusted
	}

	return &Assessment{
		FlightDev:  round4(flightDev),
		DwellDev:   round4(dwellDev),
		BigramDev:  round4(bigramDev),
		VectorDist: round4(vectorDist),
		CosineSim:  round4(cosineSim),
		RiskScore:  round4(score),
		Threshold:  round4(threshold),
		Status:     status,
	}
}

// DynamicThreshold computes the adaptive cutoff:
//
//	threshold = max(flightStd, floorStd) * k
//
// A tight, consistent typist gets a tight threshold; a naturally variable
// typist gets proportionally more slack.
func (e *Engine) DynamicThreshold(flightStd float64) float64 {
	std := flightStd
	if std < e.floorStd {
		std = e.floorStd
	}
	return std * e.thresholdK
}

// flightDeviation is the absolute difference between baseline and current
// average flight time; 0 when the session has no flights.
func flightDeviation(baselineAvg float64, current []float64) float64 {
	if len(current) == 0 {
		return 0
	}
	return math.Abs(mean(current) - baselineAvg)
}

// dwellDeviation is the absolute difference between baseline and current
// average dwell time; 0 when either side has no dwell signal.
func dwellDeviation(baselineAvg float64, current []float64) float64 {
	if len(current) == 0 || baselineAvg == 0 {
		return 0
	}
	return math.Abs(mean(current) - baselineAvg)
}

// bigramDeviation is the mean absolute timing shift across bigrams present
// in both the baseline and the current session. Bigrams the session never
// typed are excluded, not penalized; 0 when nothing is shared.
func bigramDeviation(baseline map[string]float64, current map[string][]float64) float64 {
	var deviations []float64
	for pair, baseAvg := range baseline {
		times, ok := current[pair]
		if !ok || len(times) == 0 {
			continue
		}
		deviations = append(deviations, math.Abs(baseAvg-mean(times)))
	}
	if len(deviations) == 0 {
		return 0
	}
	return mean(deviations)
}

// rhythmVectorDistance is the Euclidean distance between aligned rhythm
// vectors, normalized by sqrt of the aligned length so scores stay
// comparable across phrase lengths.
func rhythmVectorDistance(baseline, current []float64) float64 {
	if len(baseline) == 0 || len(current) == 0 {
		return 0
	}
	a, b := align(baseline, current)
	if len(a) == 0 {
		return 0
	}
	return euclideanDistance(a, b) / math.Sqrt(float64(len(a)))
}

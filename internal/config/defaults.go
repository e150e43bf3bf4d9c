package config

import "path/filepath"

// Default timing and scoring constants. Weights must sum to 1.0.
const (
	// DefaultMaxIntervalSec discards pauses longer than this (seconds).
	DefaultMaxIntervalSec = 3.0

	// DefaultTimeoutSec bounds a single capture session.
	DefaultTimeoutSec = 90

	// DefaultIntervalSec is the wait between re-verification checks.
	DefaultIntervalSec = 30

	// DefaultThresholdK: threshold = max(flight_std, floor_std) * k.
	DefaultThresholdK = 2.5

	// DefaultFloorStd prevents a zero threshold for perfectly consistent baselines.
	DefaultFloorStd = 0.02

	// DefaultFlightWeight is W1, the flight-time deviation weight.
	DefaultFlightWeight = 0.30

	// DefaultDwellWeight is W2, the dwell-time deviation weight.
	DefaultDwellWeight = 0.20

	// DefaultBigramWeight is W3, the bigram timing deviation weight.
	DefaultBigramWeight = 0.30

	// DefaultVectorWeight is W4, the rhythm vector distance weight.
	DefaultVectorWeight = 0.20
)

// Default authentication phrases.
const (
	DefaultRegistrationPhrase   = "zero trust systems rely on continuous verification"
	DefaultVerificationPhrase   = "continuous authentication enhances security posture"
	DefaultReverificationPhrase = "trust no one verify always"
)

// DefaultTargetBigrams are the two-character sequences tracked for their own
// timing signature. They cover the default phrases; extend the list when
// changing phrases.
var DefaultTargetBigrams = []string{
	"ze", "er", "ro", "co", "on", "nt", "ti", "in",
	"se", "ec", "ur", "ri", "it", "tr", "ru", "us",
	"st", "em", "au", "th", "he", "en", "ca", "at",
	"io", "an",
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	dataDir := DataDir()

	return &Config{
		Version: Version,
		Capture: CaptureConfig{
			MaxIntervalSec: DefaultMaxIntervalSec,
			TimeoutSec:     DefaultTimeoutSec,
			TargetBigrams:  append([]string(nil), DefaultTargetBigrams...),
			Device:         "auto",
		},
		Risk: RiskConfig{
			FlightWeight: DefaultFlightWeight,
			DwellWeight:  DefaultDwellWeight,
			BigramWeight: DefaultBigramWeight,
			VectorWeight: DefaultVectorWeight,
			ThresholdK:   DefaultThresholdK,
			FloorStd:     DefaultFloorStd,
		},
		Phrases: PhraseConfig{
			Registration:   DefaultRegistrationPhrase,
			Verification:   DefaultVerificationPhrase,
			Reverification: DefaultReverificationPhrase,
		},
		Monitor: MonitorConfig{
			IntervalSec:  DefaultIntervalSec,
			WatchProfile: true,
		},
		Storage: StorageConfig{
			ProfilePath: filepath.Join(dataDir, "baseline_profile.json"),
			AuditPath:   filepath.Join(dataDir, "audit.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Notify: NotifyConfig{
			Enabled: true,
		},
	}
}

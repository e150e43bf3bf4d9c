package config

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig wraps all validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// weightTolerance absorbs float64 representation error in the weight sum check.
const weightTolerance = 1e-9

// Validate checks the configuration for consistency. It is called once at
// process start; the risk engine assumes a validated configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Version <= 0 || c.Version > Version {
		errs = append(errs, fmt.Errorf("version: must be between 1 and %d, got %d", Version, c.Version))
	}

	if c.Capture.MaxIntervalSec <= 0 {
		errs = append(errs, fmt.Errorf("capture.max_interval_sec: must be positive, got %v", c.Capture.MaxIntervalSec))
	}
	if c.Capture.TimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("capture.timeout_sec: must be positive, got %d", c.Capture.TimeoutSec))
	}
	for _, bg := range c.Capture.TargetBigrams {
		if len(bg) != 2 {
			errs = append(errs, fmt.Errorf("capture.target_bigrams: %q is not a two-character sequence", bg))
		}
	}

	if err := c.Risk.validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Phrases.Registration == "" {
		errs = append(errs, errors.New("phrases.registration: must not be empty"))
	}
	if c.Phrases.Verification == "" {
		errs = append(errs, errors.New("phrases.verification: must not be empty"))
	}
	if c.Phrases.Reverification == "" {
		errs = append(errs, errors.New("phrases.reverification: must not be empty"))
	}

	if c.Monitor.IntervalSec <= 0 {
		errs = append(errs, fmt.Errorf("monitor.interval_sec: must be positive, got %d", c.Monitor.IntervalSec))
	}

	if c.Storage.ProfilePath == "" {
		errs = append(errs, errors.New("storage.profile_path: must not be empty"))
	}
	if c.Storage.AuditPath == "" {
		errs = append(errs, errors.New("storage.audit_path: must not be empty"))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}
	switch c.Logging.Output {
	case "stdout", "stderr":
	case "file":
		if c.Logging.FilePath == "" {
			errs = append(errs, errors.New("logging.file_path: required when output is \"file\""))
		}
	default:
		errs = append(errs, fmt.Errorf("logging.output: unknown output %q", c.Logging.Output))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// validate checks the risk weights and threshold parameters.
func (r *RiskConfig) validate() error {
	var errs []error

	for _, w := range []struct {
		name  string
		value float64
	}{
		{"risk.flight_weight", r.FlightWeight},
		{"risk.dwell_weight", r.DwellWeight},
		{"risk.bigram_weight", r.BigramWeight},
		{"risk.vector_weight", r.VectorWeight},
	} {
		if w.value < 0 || w.value > 1 {
			errs = append(errs, fmt.Errorf("%s: must be in [0, 1], got %v", w.name, w.value))
		}
	}

	sum := r.FlightWeight + r.DwellWeight + r.BigramWeight + r.VectorWeight
	if math.Abs(sum-1.0) > weightTolerance {
		errs = append(errs, fmt.Errorf("risk weights must sum to 1.0, got %v", sum))
	}

	if r.ThresholdK <= 0 {
		errs = append(errs, fmt.Errorf("risk.threshold_k: must be positive, got %v", r.ThresholdK))
	}
	if r.FloorStd <= 0 {
		errs = append(errs, fmt.Errorf("risk.floor_std: must be positive, got %v", r.FloorStd))
	}

	return errors.Join(errs...)
}

// Package config handles configuration loading, validation, and management for keysentry.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete keysentry configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version"`

	// Capture configuration for the keystroke feature extractor.
	Capture CaptureConfig `toml:"capture" json:"capture"`

	// Risk configuration for the multi-factor risk engine.
	Risk RiskConfig `toml:"risk" json:"risk"`

	// Phrases are the fixed prompts typed during each operation.
	Phrases PhraseConfig `toml:"phrases" json:"phrases"`

	// Monitor configuration for continuous re-verification.
	Monitor MonitorConfig `toml:"monitor" json:"monitor"`

	// Storage configuration for the baseline profile and audit trail.
	Storage StorageConfig `toml:"storage" json:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging"`

	// Notify configuration for desktop alerts.
	Notify NotifyConfig `toml:"notify" json:"notify"`
}

// CaptureConfig holds keystroke capture configuration.
type CaptureConfig struct {
	// MaxIntervalSec is the outlier cutoff: flight and dwell intervals
	// longer than this are discarded, not errors.
	MaxIntervalSec float64 `toml:"max_interval_sec" json:"max_interval_sec"`

	// TimeoutSec bounds a capture session. A session that never sees the
	// escape sequence ends with whatever was captured so far.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec"`

	// TargetBigrams are the two-character sequences tracked for their own
	// timing signature.
	TargetBigrams []string `toml:"target_bigrams" json:"target_bigrams"`

	// Device selects the Linux input device path, or "auto" to probe
	// /proc/bus/input/devices for a keyboard.
	Device string `toml:"device" json:"device"`
}

// RiskConfig holds risk engine weights and threshold parameters.
type RiskConfig struct {
	// FlightWeight is the flight-time deviation weight (W1).
	FlightWeight float64 `toml:"flight_weight" json:"flight_weight"`

	// DwellWeight is the dwell-time deviation weight (W2).
	DwellWeight float64 `toml:"dwell_weight" json:"dwell_weight"`

	// BigramWeight is the bigram timing deviation weight (W3).
	BigramWeight float64 `toml:"bigram_weight" json:"bigram_weight"`

	// VectorWeight is the rhythm vector distance weight (W4).
	VectorWeight float64 `toml:"vector_weight" json:"vector_weight"`

	// ThresholdK scales the baseline flight-time standard deviation into
	// the adaptive decision threshold.
	ThresholdK float64 `toml:"threshold_k" json:"threshold_k"`

	// FloorStd is the minimum standard deviation used when deriving the
	// threshold, preventing a zero threshold for very consistent typists.
	FloorStd float64 `toml:"floor_std" json:"floor_std"`
}

// PhraseConfig holds the prompts typed during each operation.
type PhraseConfig struct {
	// Registration is typed when building the baseline profile.
	Registration string `toml:"registration" json:"registration"`

	// Verification is typed during one-shot verification.
	Verification string `toml:"verification" json:"verification"`

	// Reverification is typed during periodic monitoring re-checks.
	Reverification string `toml:"reverification" json:"reverification"`
}

// MonitorConfig holds continuous monitoring configuration.
type MonitorConfig struct {
	// IntervalSec is the wait between re-verification checks.
	IntervalSec int `toml:"interval_sec" json:"interval_sec"`

	// WatchProfile locks the session if the baseline profile file is
	// modified or removed while monitoring is active.
	WatchProfile bool `toml:"watch_profile" json:"watch_profile"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// ProfilePath is the path to the baseline profile JSON file.
	ProfilePath string `toml:"profile_path" json:"profile_path"`

	// AuditPath is the path to the audit event database.
	AuditPath string `toml:"audit_path" json:"audit_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level"`

	// Format is the output format: "text" or "json".
	Format string `toml:"format" json:"format"`

	// Output is where logs are written: "stdout", "stderr", or "file".
	Output string `toml:"output" json:"output"`

	// FilePath is the log file path when Output is "file".
	FilePath string `toml:"file_path" json:"file_path"`
}

// NotifyConfig holds desktop notification configuration.
type NotifyConfig struct {
	// Enabled sends a desktop notification when a session is locked.
	// Delivery is best-effort; a missing notification service never
	// fails the core pipeline.
	Enabled bool `toml:"enabled" json:"enabled"`
}

// MaxInterval returns the outlier cutoff as a duration.
func (c *CaptureConfig) MaxInterval() time.Duration {
	return time.Duration(c.MaxIntervalSec * float64(time.Second))
}

// Timeout returns the capture timeout as a duration.
func (c *CaptureConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// Interval returns the re-verification wait as a duration.
func (c *MonitorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// DataDir returns the platform-specific default data directory.
func DataDir() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Application Support", "keysentry")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "keysentry")
	default: // Linux and other Unix
		dataHome := os.Getenv("XDG_DATA_HOME")
		if dataHome == "" {
			homeDir, _ := os.UserHomeDir()
			dataHome = filepath.Join(homeDir, ".local", "share")
		}
		return filepath.Join(dataHome, "keysentry")
	}
}

// DefaultPath returns the platform-specific default config file path.
func DefaultPath() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Application Support", "keysentry", "config.toml")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "keysentry", "config.toml")
	default:
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			homeDir, _ := os.UserHomeDir()
			configHome = filepath.Join(homeDir, ".config")
		}
		return filepath.Join(configHome, "keysentry", "config.toml")
	}
}

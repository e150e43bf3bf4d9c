package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrProfileNotFound is returned when no baseline exists on disk.
// Recoverable: the caller must register first.
var ErrProfileNotFound = errors.New("baseline profile not found")

// ErrCorruptProfile is returned when a stored profile fails to parse or
// validate. The load is all-or-nothing; no partial recovery is attempted.
var ErrCorruptProfile = errors.New("baseline profile is corrupt")

// profileSchema validates stored profiles before they are decoded, so a
// hand-edited or truncated file surfaces as CorruptProfile rather than as
// silently zeroed statistics.
const profileSchema = `{
	"type": "object",
	"required": ["flight_avg", "flight_std", "dwell_avg", "dwell_std", "bigram_avg", "rhythm_vector"],
	"properties": {
		"flight_avg": {"type": "number", "minimum": 0},
		"flight_std": {"type": "number", "minimum": 0},
		"dwell_avg": {"type": "number", "minimum": 0},
		"dwell_std": {"type": "number", "minimum": 0},
		"bigram_avg": {
			"type": "object",
			"additionalProperties": {"type": "number", "minimum": 0},
			"propertyNames": {"minLength": 2, "maxLength": 2}
		},
		"rhythm_vector": {
			"type": "array",
			"items": {"type": "number", "minimum": 0}
		}
	},
	"additionalProperties": false
}`

var compiledSchema = jsonschema.MustCompileString("profile.schema.json", profileSchema)

// Store persists the single baseline profile at a fixed path.
type Store struct {
	path string
}

// NewStore creates a Store for the given profile path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the profile file path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a baseline profile is on disk.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Save writes the profile atomically (temp file + rename) with owner-only
// permissions. An interrupted write never leaves a half-written profile.
func (s *Store) Save(p *Profile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create profile directory: %w", err)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".profile-*.json")
	if err != nil {
		return fmt.Errorf("create temp profile: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp profile: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp profile: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp profile: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace profile: %w", err)
	}
	return nil
}

// Load reads and validates the stored profile. A missing file yields
// ErrProfileNotFound; any parse or schema failure yields ErrCorruptProfile.
func (s *Store) Load() (*Profile, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptProfile, err)
	}
	if err := compiledSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptProfile, err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptProfile, err)
	}
	if p.BigramAvg == nil {
		p.BigramAvg = map[string]float64{}
	}
	return &p, nil
}

// Delete removes the stored profile. Missing profiles are not an error.
func (s *Store) Delete() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}

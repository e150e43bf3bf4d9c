package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "profile.json"))
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	want := &Profile{
		FlightAvg:    0.12,
		FlightStd:    0.0163,
		DwellAvg:     0.07,
		DwellStd:     0.01,
		BigramAvg:    map[string]float64{"th": 0.11, "he": 0.14},
		RhythmVector: []float64{0.10, 0.12, 0.14},
	}
	require.NoError(t, s.Save(want))
	require.True(t, s.Exists())

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStoreLoadMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load()
	assert.ErrorIs(t, err, ErrProfileNotFound)
	assert.False(t, s.Exists())
}

func TestStoreLoadCorrupt(t *testing.T) {
	cases := map[string]string{
		"truncated":      `{"flight_avg": 0.1`,
		"not json":       `not a profile`,
		"missing fields": `{"flight_avg": 0.1}`,
		"wrong type":     `{"flight_avg": "fast", "flight_std": 0.05, "dwell_avg": 0.07, "dwell_std": 0.01, "bigram_avg": {}, "rhythm_vector": []}`,
		"negative value": `{"flight_avg": -0.1, "flight_std": 0.05, "dwell_avg": 0.07, "dwell_std": 0.01, "bigram_avg": {}, "rhythm_vector": []}`,
		"bad bigram key": `{"flight_avg": 0.1, "flight_std": 0.05, "dwell_avg": 0.07, "dwell_std": 0.01, "bigram_avg": {"abc": 0.1}, "rhythm_vector": []}`,
		"unknown field":  `{"flight_avg": 0.1, "flight_std": 0.05, "dwell_avg": 0.07, "dwell_std": 0.01, "bigram_avg": {}, "rhythm_vector": [], "extra": 1}`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)
			require.NoError(t, os.WriteFile(s.Path(), []byte(content), 0600))

			_, err := s.Load()
			assert.ErrorIs(t, err, ErrCorruptProfile)
		})
	}
}

func TestStoreSaveOverwrites(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save(&Profile{FlightAvg: 0.1, BigramAvg: map[string]float64{}, RhythmVector: []float64{}}))
	require.NoError(t, s.Save(&Profile{FlightAvg: 0.2, BigramAvg: map[string]float64{}, RhythmVector: []float64{}}))

	got, err := s.Load()
	require.NoError(t, err)
	assert.InDelta(t, 0.2, got.FlightAvg, 1e-9)
}

func TestStoreSavePermissions(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(&Profile{BigramAvg: map[string]float64{}, RhythmVector: []float64{}}))

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestStoreDelete(t *testing.T) {
	s := newTestStore(t)

	// Deleting a missing profile is not an error.
	require.NoError(t, s.Delete())

	require.NoError(t, s.Save(&Profile{BigramAvg: map[string]float64{}, RhythmVector: []float64{}}))
	require.NoError(t, s.Delete())
	assert.False(t, s.Exists())
}

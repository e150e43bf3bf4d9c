package trust

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func watchedFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0600))
	return path
}

func expectTamper(t *testing.T, w *profileWatcher, want string) {
	t.Helper()
	select {
	case reason := <-w.Tampered():
		require.Equal(t, want, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("no tamper event delivered")
	}
}

func TestWatchProfileDetectsModification(t *testing.T) {
	path := watchedFile(t)

	w, err := watchProfile(context.Background(), path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{"flight_avg": 0}`), 0600))
	expectTamper(t, w, "modified")
}

func TestWatchProfileDetectsRemoval(t *testing.T) {
	path := watchedFile(t)

	w, err := watchProfile(context.Background(), path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.Remove(path))
	expectTamper(t, w, "removed")
}

func TestWatchProfileIgnoresSiblings(t *testing.T) {
	path := watchedFile(t)

	w, err := watchProfile(context.Background(), path)
	require.NoError(t, err)
	defer w.Close()

	sibling := filepath.Join(filepath.Dir(path), "other.json")
	require.NoError(t, os.WriteFile(sibling, []byte(`{}`), 0600))

	select {
	case reason := <-w.Tampered():
		t.Fatalf("unexpected tamper event: %s", reason)
	case <-time.After(200 * time.Millisecond):
	}
}

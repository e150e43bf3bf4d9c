package trust

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keysentry/internal/capture"
	"keysentry/internal/config"
	"keysentry/internal/profile"
	"keysentry/internal/risk"
)

// Test helpers

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.ProfilePath = filepath.Join(dir, "profile.json")
	cfg.Storage.AuditPath = filepath.Join(dir, "audit.db")
	cfg.Capture.TimeoutSec = 5
	cfg.Monitor.IntervalSec = 1
	cfg.Monitor.WatchProfile = false
	return cfg
}

func newTestService(t *testing.T, cfg *config.Config, src capture.Source) *Service {
	t.Helper()
	engine, err := risk.NewEngine(cfg.Risk)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(cfg, src, profile.NewStore(cfg.Storage.ProfilePath), engine, nil, nil, logger)
}

func steadyScript(phrase string) []capture.KeyEvent {
	return capture.TypeScript(phrase, 0.12, 0.05)
}

func imposterScript(phrase string) []capture.KeyEvent {
	return capture.TypeScript(phrase, 0.40, 0.15)
}

// sequenceSource serves a different script for each capture session; once
// exhausted it yields empty sessions.
type sequenceSource struct {
	mu      sync.Mutex
	scripts [][]capture.KeyEvent
	cur     *capture.ScriptSource
}

func (s *sequenceSource) Start(ctx context.Context) error {
	s.mu.Lock()
	var script []capture.KeyEvent
	if len(s.scripts) > 0 {
		script = s.scripts[0]
		s.scripts = s.scripts[1:]
	}
	s.cur = capture.NewScriptSource(script)
	cur := s.cur
	s.mu.Unlock()
	return cur.Start(ctx)
}

func (s *sequenceSource) Stop() error {
	s.mu.Lock()
	cur := s.cur
	s.mu.Unlock()
	return cur.Stop()
}

func (s *sequenceSource) Events() <-chan capture.KeyEvent {
	s.mu.Lock()
	cur := s.cur
	s.mu.Unlock()
	return cur.Events()
}

func (s *sequenceSource) Available() (bool, string) {
	return true, "test sequence source"
}

// registered returns a service with a baseline already built from the
// steady typist.
func registered(t *testing.T, cfg *config.Config, src capture.Source) *Service {
	t.Helper()
	reg := newTestService(t, cfg, capture.NewScriptSource(steadyScript(cfg.Phrases.Registration)))
	_, err := reg.Register(context.Background())
	require.NoError(t, err)
	return newTestService(t, cfg, src)
}

// Tests

func TestRegisterBuildsProfile(t *testing.T) {
	cfg := testConfig(t)
	svc := newTestService(t, cfg, capture.NewScriptSource(steadyScript(cfg.Phrases.Registration)))

	assert.Equal(t, StateUnregistered, svc.State())

	p, err := svc.Register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateRegistered, svc.State())
	assert.InDelta(t, 0.12, p.FlightAvg, 1e-9)
	assert.NotEmpty(t, p.RhythmVector)
	assert.True(t, profile.NewStore(cfg.Storage.ProfilePath).Exists())
}

func TestRegisterNoInput(t *testing.T) {
	cfg := testConfig(t)
	svc := newTestService(t, cfg, capture.NewScriptSource(nil))

	_, err := svc.Register(context.Background())
	assert.ErrorIs(t, err, profile.ErrInsufficientData)
	assert.Equal(t, StateUnregistered, svc.State())
}

func TestVerifyTrusted(t *testing.T) {
	cfg := testConfig(t)
	svc := registered(t, cfg, capture.NewScriptSource(steadyScript(cfg.Phrases.Verification)))

	a, err := svc.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, a.Trusted())
	assert.Equal(t, StateVerified, svc.State())
	assert.Same(t, a, svc.LastAssessment())
}

func TestVerifySuspicious(t *testing.T) {
	cfg := testConfig(t)
	svc := registered(t, cfg, capture.NewScriptSource(imposterScript(cfg.Phrases.Verification)))

	a, err := svc.Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, a.Trusted())
	assert.Equal(t, risk.StatusSuspicious, a.Status)
	// A failed one-shot reports; it does not lock.
	assert.Equal(t, StateRegistered, svc.State())
}

func TestVerifyWithoutBaseline(t *testing.T) {
	cfg := testConfig(t)
	svc := newTestService(t, cfg, capture.NewScriptSource(steadyScript(cfg.Phrases.Verification)))

	_, err := svc.Verify(context.Background())
	assert.ErrorIs(t, err, profile.ErrProfileNotFound)
}

func TestVerifyNoInput(t *testing.T) {
	cfg := testConfig(t)
	svc := registered(t, cfg, capture.NewScriptSource(nil))

	_, err := svc.Verify(context.Background())
	assert.ErrorIs(t, err, ErrNoInputCaptured)
}

func TestMonitorInitialFailureNeverStarts(t *testing.T) {
	cfg := testConfig(t)
	svc := registered(t, cfg, &sequenceSource{scripts: [][]capture.KeyEvent{
		imposterScript(cfg.Phrases.Verification),
	}})

	result, err := svc.Monitor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNeverStarted, result.Outcome)
	assert.Zero(t, result.Rechecks)
	// An initial failure is "never started", not a lock.
	assert.Equal(t, StateRegistered, svc.State())
}

func TestMonitorNoInputAtStart(t *testing.T) {
	cfg := testConfig(t)
	svc := registered(t, cfg, &sequenceSource{})

	_, err := svc.Monitor(context.Background())
	assert.ErrorIs(t, err, ErrNoInputCaptured)
	assert.NotEqual(t, StateLocked, svc.State())
}

func TestMonitorLocksOnDeviantRecheck(t *testing.T) {
	cfg := testConfig(t)
	svc := registered(t, cfg, &sequenceSource{scripts: [][]capture.KeyEvent{
		steadyScript(cfg.Phrases.Verification),
		imposterScript(cfg.Phrases.Reverification),
	}})

	result, err := svc.Monitor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeLocked, result.Outcome)
	assert.Equal(t, 1, result.Rechecks)
	assert.Equal(t, StateLocked, svc.State())
	assert.False(t, result.Final.Trusted())
}

func TestMonitorLocksOnSilentRecheck(t *testing.T) {
	cfg := testConfig(t)
	// The initial verification and the first re-check have data; the second
	// re-check captures nothing, which is treated as evasion.
	svc := registered(t, cfg, &sequenceSource{scripts: [][]capture.KeyEvent{
		steadyScript(cfg.Phrases.Verification),
		steadyScript(cfg.Phrases.Reverification),
	}})

	result, err := svc.Monitor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeLocked, result.Outcome)
	assert.Equal(t, 2, result.Rechecks)
	assert.Equal(t, StateLocked, svc.State())
}

// stallAfterFirst replays one script for the first capture session; later
// sessions deliver nothing and stay open until stopped or cancelled.
type stallAfterFirst struct {
	mu     sync.Mutex
	script []capture.KeyEvent
	cur    *capture.ScriptSource
	silent chan capture.KeyEvent
	used   bool
}

func (s *stallAfterFirst) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.used {
		s.used = true
		s.cur = capture.NewScriptSource(s.script)
		return s.cur.Start(ctx)
	}
	s.cur = nil
	s.silent = make(chan capture.KeyEvent)
	return nil
}

func (s *stallAfterFirst) Stop() error {
	s.mu.Lock()
	cur := s.cur
	s.mu.Unlock()
	if cur != nil {
		return cur.Stop()
	}
	return nil
}

func (s *stallAfterFirst) Events() <-chan capture.KeyEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		return s.cur.Events()
	}
	return s.silent
}

func (s *stallAfterFirst) Available() (bool, string) {
	return true, "test stall source"
}

func TestMonitorStopDuringRecheckCapture(t *testing.T) {
	cfg := testConfig(t)
	src := &stallAfterFirst{script: steadyScript(cfg.Phrases.Verification)}
	svc := registered(t, cfg, src)

	// Stop the session while the re-check capture is waiting for input.
	// That must end monitoring normally, not count as evasion.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.OnPrompt = func(op Operation, _ string) {
		if op == OpReverification {
			cancel()
		}
	}

	result, err := svc.Monitor(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStopped, result.Outcome)
	assert.Equal(t, StateRegistered, svc.State())
}

func TestMonitorNormalEnd(t *testing.T) {
	cfg := testConfig(t)
	svc := registered(t, cfg, &sequenceSource{scripts: [][]capture.KeyEvent{
		steadyScript(cfg.Phrases.Verification),
		steadyScript(cfg.Phrases.Reverification),
		steadyScript(cfg.Phrases.Reverification),
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.OnResult = func(op Operation, a *risk.Assessment) {
		if op == OpReverification {
			cancel()
		}
	}

	result, err := svc.Monitor(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStopped, result.Outcome)
	assert.Equal(t, 1, result.Rechecks)
	assert.True(t, result.Final.Trusted())
	assert.Equal(t, StateRegistered, svc.State())
}

func TestLockedIsAbsorbing(t *testing.T) {
	cfg := testConfig(t)
	svc := registered(t, cfg, &sequenceSource{scripts: [][]capture.KeyEvent{
		steadyScript(cfg.Phrases.Verification),
	}})

	result, err := svc.Monitor(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeLocked, result.Outcome)

	_, err = svc.Verify(context.Background())
	assert.ErrorIs(t, err, ErrSessionLocked)
	_, err = svc.Monitor(context.Background())
	assert.ErrorIs(t, err, ErrSessionLocked)
}

func TestRegisterClearsLock(t *testing.T) {
	cfg := testConfig(t)
	svc := registered(t, cfg, &sequenceSource{scripts: [][]capture.KeyEvent{
		steadyScript(cfg.Phrases.Verification),
	}})

	result, err := svc.Monitor(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeLocked, result.Outcome)

	// Re-registration is the only way back in.
	reg := newTestService(t, cfg, capture.NewScriptSource(steadyScript(cfg.Phrases.Registration)))
	reg.mu.Lock()
	reg.state = StateLocked
	reg.mu.Unlock()

	_, err = reg.Register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateRegistered, reg.State())
}

func TestPromptCallback(t *testing.T) {
	cfg := testConfig(t)
	svc := newTestService(t, cfg, capture.NewScriptSource(steadyScript(cfg.Phrases.Registration)))

	var gotOp Operation
	var gotPhrase string
	svc.OnPrompt = func(op Operation, phrase string) {
		gotOp = op
		gotPhrase = phrase
	}

	_, err := svc.Register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OpRegistration, gotOp)
	assert.Equal(t, cfg.Phrases.Registration, gotPhrase)
}

// Package trust sequences registration, one-shot verification, and
// continuous re-verification, applying risk decisions at each step.
//
// The Service is an explicit object constructed once per process and
// passed to callers; there is no global instance.
package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"keysentry/internal/audit"
	"keysentry/internal/capture"
	"keysentry/internal/config"
	"keysentry/internal/profile"
	"keysentry/internal/risk"
)

// State is the session trust state.
type State int

const (
	// StateUnregistered means no baseline profile exists.
	StateUnregistered State = iota
	// StateRegistered means a baseline exists but no session is active.
	StateRegistered
	// StateVerified means the last one-shot verification passed.
	StateVerified
	// StateMonitoring means continuous re-verification is active.
	StateMonitoring
	// StateLocked is absorbing for a run: only re-registration restores
	// access.
	StateLocked
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateVerified:
		return "verified"
	case StateMonitoring:
		return "monitoring"
	case StateLocked:
		return "locked"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrNoInputCaptured is returned when a verification session captured no
// usable data. Recoverable: the caller retries.
var ErrNoInputCaptured = errors.New("no keystroke data captured")

// ErrSessionLocked is returned when an operation other than registration
// is attempted after the session locked.
var ErrSessionLocked = errors.New("session is locked; re-register to restore access")

// Notifier delivers out-of-band alerts. Failures are logged, never fatal.
type Notifier interface {
	Notify(summary, body string, urgency byte) error
}

// Operation names a capture phase, for prompts and audit detail.
type Operation string

const (
	OpRegistration   Operation = "registration"
	OpVerification   Operation = "verification"
	OpReverification Operation = "re-verification"
)

// Service owns the authentication pipeline: capture, baseline, scoring,
// and the session state machine.
type Service struct {
	cfg      *config.Config
	source   capture.Source
	profiles *profile.Store
	engine   *risk.Engine
	trail    *audit.Log
	notifier Notifier
	logger   *slog.Logger

	// OnPrompt, when set, is called before each capture so the UI can
	// display the phrase to type. The core never prints.
	OnPrompt func(op Operation, phrase string)

	// OnResult, when set, is called with each assessment as it is made.
	OnResult func(op Operation, a *risk.Assessment)

	mu             sync.Mutex
	state          State
	lastAssessment *risk.Assessment
}

// NewService constructs the trust service. The initial state reflects
// whether a baseline profile already exists.
func NewService(cfg *config.Config, source capture.Source, profiles *profile.Store,
	engine *risk.Engine, trail *audit.Log, notifier Notifier, logger *slog.Logger) *Service {

	state := StateUnregistered
	if profiles.Exists() {
		state = StateRegistered
	}
	return &Service{
		cfg:      cfg,
		source:   source,
		profiles: profiles,
		engine:   engine,
		trail:    trail,
		notifier: notifier,
		logger:   logger,
		state:    state,
	}
}

// State returns the current session state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastAssessment returns the most recent risk assessment, if any.
func (s *Service) LastAssessment() *risk.Assessment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAssessment
}

// Register captures the registration phrase and builds and persists the
// baseline profile, unconditionally overwriting any existing one. It is
// the only operation permitted in the locked state.
func (s *Service) Register(ctx context.Context) (*profile.Profile, error) {
	sample, err := s.captureSession(ctx, OpRegistration, s.cfg.Phrases.Registration)
	if err != nil {
		return nil, err
	}

	p, err := profile.Build(sample)
	if err != nil {
		s.record(audit.EventRegistration, "baseline registration failed: no data captured", "failure", nil)
		return nil, err
	}
	if err := s.profiles.Save(p); err != nil {
		s.record(audit.EventRegistration, "baseline registration failed: "+err.Error(), "failure", nil)
		return nil, fmt.Errorf("save baseline: %w", err)
	}

	s.mu.Lock()
	s.state = StateRegistered
	s.mu.Unlock()

	s.logger.Info("baseline profile registered",
		"flights", len(sample.FlightTimes),
		"dwells", len(sample.DwellTimes),
		"bigrams", len(p.BigramAvg))
	s.record(audit.EventRegistration, "baseline behavioral profile registered", "success", nil)
	return p, nil
}

// Verify performs one-shot verification against the stored baseline.
// It reports an assessment and has no further state effect.
func (s *Service) Verify(ctx context.Context) (*risk.Assessment, error) {
	if s.State() == StateLocked {
		return nil, ErrSessionLocked
	}

	baseline, err := s.loadBaseline(audit.EventVerification)
	if err != nil {
		return nil, err
	}

	sample, err := s.captureSession(ctx, OpVerification, s.cfg.Phrases.Verification)
	if err != nil {
		return nil, err
	}
	if sample.Empty() {
		s.record(audit.EventVerification, "verification failed: no input captured", "failure", nil)
		return nil, ErrNoInputCaptured
	}

	a := s.assess(OpVerification, baseline, sample)
	if a.Trusted() {
		s.mu.Lock()
		if s.state == StateRegistered {
			s.state = StateVerified
		}
		s.mu.Unlock()
		s.record(audit.EventVerification, "session verified", "success", a)
	} else {
		s.record(audit.EventVerification, "behavioral anomaly detected", "failure", a)
	}
	return a, nil
}

// MonitorOutcome describes how a monitoring session ended.
type MonitorOutcome int

const (
	// OutcomeNeverStarted means the initial verification failed, so
	// monitoring never began. Distinct from a lock.
	OutcomeNeverStarted MonitorOutcome = iota
	// OutcomeStopped means the user ended the session normally.
	OutcomeStopped
	// OutcomeLocked means a re-check failed and the session locked.
	OutcomeLocked
)

// String returns the outcome name.
func (o MonitorOutcome) String() string {
	switch o {
	case OutcomeNeverStarted:
		return "never-started"
	case OutcomeStopped:
		return "stopped"
	case OutcomeLocked:
		return "locked"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// MonitorResult summarizes a monitoring session.
type MonitorResult struct {
	Outcome  MonitorOutcome
	Rechecks int
	Final    *risk.Assessment
}

// Monitor runs continuous re-verification: an initial verification
// followed by periodic re-checks until the context is cancelled (normal
// end) or a re-check fails (lock). An initial failure means monitoring
// never starts; no lock is recorded.
func (s *Service) Monitor(ctx context.Context) (*MonitorResult, error) {
	if s.State() == StateLocked {
		return nil, ErrSessionLocked
	}

	baseline, err := s.loadBaseline(audit.EventMonitorStart)
	if err != nil {
		return nil, err
	}

	// Step 1: initial identity verification.
	sample, err := s.captureSession(ctx, OpVerification, s.cfg.Phrases.Verification)
	if err != nil {
		return nil, err
	}
	if sample.Empty() {
		s.record(audit.EventMonitorStart, "monitoring aborted: no keystroke data at login", "failure", nil)
		return nil, ErrNoInputCaptured
	}

	initial := s.assess(OpVerification, baseline, sample)
	if !initial.Trusted() {
		s.record(audit.EventMonitorStart, "initial verification failed; session not started", "failure", initial)
		return &MonitorResult{Outcome: OutcomeNeverStarted, Final: initial}, nil
	}

	s.mu.Lock()
	s.state = StateMonitoring
	s.mu.Unlock()
	s.logger.Info("monitoring started", "interval", s.cfg.Monitor.Interval())
	s.record(audit.EventMonitorStart, "initial verification trusted; monitoring active", "success", initial)

	var tamper <-chan string
	if s.cfg.Monitor.WatchProfile {
		w, err := watchProfile(ctx, s.profiles.Path())
		if err != nil {
			s.logger.Warn("profile tamper watch unavailable", "error", err)
		} else {
			defer w.Close()
			tamper = w.Tampered()
		}
	}

	result := &MonitorResult{Outcome: OutcomeStopped, Final: initial}
	interval := s.cfg.Monitor.Interval()

	for {
		timer := time.NewTimer(interval)

		select {
		case <-ctx.Done():
			timer.Stop()
			s.mu.Lock()
			s.state = StateRegistered
			s.mu.Unlock()
			s.record(audit.EventMonitorEnd, "session ended by user", "success", nil)
			return result, nil

		case reason := <-tamper:
			timer.Stop()
			s.lock("baseline profile " + reason + " during active session")
			s.record(audit.EventTamper, "baseline profile "+reason+" while monitoring", "failure", nil)
			result.Outcome = OutcomeLocked
			return result, nil

		case <-timer.C:
		}

		result.Rechecks++
		sample, err := s.captureSession(ctx, OpReverification, s.cfg.Phrases.Reverification)
		if err != nil {
			return nil, err
		}

		// A stop that lands mid-capture ends the session normally; the
		// interrupted re-check must not read as evasion.
		if ctx.Err() != nil {
			s.mu.Lock()
			s.state = StateRegistered
			s.mu.Unlock()
			s.record(audit.EventMonitorEnd, "session ended by user", "success", nil)
			return result, nil
		}

		// "No data" is itself an anomaly: an attacker could evade
		// detection by simply not typing.
		if sample.Empty() {
			s.lock(fmt.Sprintf("re-check #%d received no typing data", result.Rechecks))
			result.Outcome = OutcomeLocked
			return result, nil
		}

		check := s.assess(OpReverification, baseline, sample)
		result.Final = check
		if !check.Trusted() {
			s.lockWithAssessment(fmt.Sprintf("re-check #%d detected behavioral deviation", result.Rechecks), check)
			result.Outcome = OutcomeLocked
			return result, nil
		}
		s.record(audit.EventRecheck, fmt.Sprintf("re-check #%d trusted", result.Rechecks), "success", check)
	}
}

// captureSession runs one capture against the configured source.
func (s *Service) captureSession(ctx context.Context, op Operation, phrase string) (*capture.SessionSample, error) {
	if s.OnPrompt != nil {
		s.OnPrompt(op, phrase)
	}

	c := capture.NewCapturer(s.source, capture.Options{
		MaxInterval:   s.cfg.Capture.MaxInterval(),
		Timeout:       s.cfg.Capture.Timeout(),
		TargetBigrams: s.cfg.Capture.TargetBigrams,
	})
	sample, err := c.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture %s session: %w", op, err)
	}
	s.logger.Debug("capture complete",
		"operation", string(op),
		"flights", len(sample.FlightTimes),
		"dwells", len(sample.DwellTimes))
	return sample, nil
}

// assess scores a sample and retains it as the last assessment.
func (s *Service) assess(op Operation, baseline *profile.Profile, sample *capture.SessionSample) *risk.Assessment {
	a := s.engine.Score(baseline, sample)

	s.mu.Lock()
	s.lastAssessment = a
	s.mu.Unlock()

	s.logger.Info("risk assessment",
		"operation", string(op),
		"risk_score", a.RiskScore,
		"threshold", a.Threshold,
		"status", string(a.Status))
	if s.OnResult != nil {
		s.OnResult(op, a)
	}
	return a
}

// loadBaseline loads the stored profile, auditing the failure modes.
func (s *Service) loadBaseline(typ audit.EventType) (*profile.Profile, error) {
	baseline, err := s.profiles.Load()
	if err != nil {
		if errors.Is(err, profile.ErrProfileNotFound) {
			s.record(typ, "attempted without baseline profile", "failure", nil)
		} else {
			s.record(typ, "baseline load failed: "+err.Error(), "failure", nil)
		}
		return nil, err
	}
	return baseline, nil
}

// lock transitions to the absorbing locked state.
func (s *Service) lock(reason string) {
	s.mu.Lock()
	s.state = StateLocked
	s.mu.Unlock()

	s.logger.Error("session locked", "reason", reason)
	s.record(audit.EventLock, "session locked: "+reason, "locked", nil)
	s.alert(reason)
}

// lockWithAssessment locks and records the failing assessment.
func (s *Service) lockWithAssessment(reason string, a *risk.Assessment) {
	s.mu.Lock()
	s.state = StateLocked
	s.mu.Unlock()

	s.logger.Error("session locked",
		"reason", reason,
		"risk_score", a.RiskScore,
		"threshold", a.Threshold)
	s.record(audit.EventLock, "session locked: "+reason, "locked", a)
	s.alert(reason)
}

func (s *Service) alert(reason string) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Notify("keysentry: session locked",
		"Typing behavior deviated from your baseline: "+reason, notifyUrgencyCritical)
	if err != nil {
		s.logger.Warn("lock notification failed", "error", err)
	}
}

// notifyUrgencyCritical mirrors the Desktop Notifications urgency level
// without importing the notify package here.
const notifyUrgencyCritical = byte(2)

// record appends an audit event; audit failures are logged, never fatal.
func (s *Service) record(typ audit.EventType, detail, result string, a *risk.Assessment) {
	if s.trail == nil {
		return
	}
	e := &audit.Event{Type: typ, Detail: detail, Result: result}
	if a != nil {
		score, threshold := a.RiskScore, a.Threshold
		e.RiskScore = &score
		e.Threshold = &threshold
		e.Status = string(a.Status)
	}
	if err := s.trail.Record(e); err != nil {
		s.logger.Warn("audit record failed", "error", err)
	}
}

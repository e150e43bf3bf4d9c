// Package capture turns raw keyboard press/release events into timing
// features for behavioral analysis.
//
// IMPORTANT: capture is only ever active while the user types a known,
// fixed authentication phrase that they are prompted for. This package is
// not a general keylogger; a session records the timing of one prompt and
// nothing outside it.
//
// Signals extracted per session:
//   - Flight times : interval between consecutive key presses
//   - Dwell times  : duration each key is held (release - press)
//   - Bigram times : flight times for tracked two-character sequences
//   - Rhythm vector: the full ordered flight-time sequence
package capture

import (
	"context"
	"errors"
	"time"
)

// EventKind distinguishes press and release events.
type EventKind int

const (
	// KindPress is a key-down event.
	KindPress EventKind = iota
	// KindRelease is a key-up event.
	KindRelease
)

// KeyEvent is one observed input event. Char is zero for special keys
// (modifiers, arrows); such events are ignored for all timing signals.
// Time is monotonic seconds with float64 precision.
type KeyEvent struct {
	Kind EventKind
	Char rune
	Time float64
}

// SessionSample is the output of one capture session. It is owned by the
// caller and never mutated after being returned.
type SessionSample struct {
	// FlightTimes are intervals between consecutive presses, each within
	// the outlier cutoff, rounded to 4 decimals.
	FlightTimes []float64

	// DwellTimes are per-key hold durations within (0, cutoff].
	DwellTimes []float64

	// BigramTimes maps tracked two-character sequences to the flight
	// times observed for them.
	BigramTimes map[string][]float64

	// RhythmVector is the full ordered flight-time sequence. It holds
	// the same values as FlightTimes but is kept as a distinct sequence:
	// the baseline stores it independently of the scalar flight stats.
	RhythmVector []float64

	// TypedText is the characters typed, for diagnostics only.
	TypedText string
}

// Empty reports whether the session captured no usable flight data.
// Callers must not build a baseline or compute risk from an empty sample.
func (s *SessionSample) Empty() bool {
	return len(s.FlightTimes) == 0
}

// Source is a stream of keyboard events. Implementations may deliver
// events from a separate goroutine; the consumer serializes them.
type Source interface {
	// Start begins event delivery. Events arrive on the Events channel
	// until Stop is called or the context is cancelled.
	Start(ctx context.Context) error

	// Stop ends event delivery and closes the Events channel.
	Stop() error

	// Events returns the delivery channel.
	Events() <-chan KeyEvent

	// Available reports whether this source can run on the current
	// platform with current permissions, with a human-readable reason.
	Available() (bool, string)
}

// ErrSourceUnavailable is returned when no key-event source can run.
var ErrSourceUnavailable = errors.New("key-event source not available on this platform")

// ErrAlreadyRunning is returned when Start is called on a running source.
var ErrAlreadyRunning = errors.New("key-event source already running")

// Options configures a Capturer.
type Options struct {
	// MaxInterval is the outlier cutoff for flight and dwell times.
	MaxInterval time.Duration

	// Timeout bounds a capture session when no escape sequence arrives.
	Timeout time.Duration

	// TargetBigrams are the tracked two-character sequences.
	TargetBigrams []string
}

// Capturer runs capture sessions against a Source.
type Capturer struct {
	src  Source
	opts Options
}

// NewCapturer creates a Capturer for the given source.
func NewCapturer(src Source, opts Options) *Capturer {
	return &Capturer{src: src, opts: opts}
}

// Capture runs one session to completion: it starts the source, folds
// events into a Recorder until the escape sequence, the timeout, or
// context cancellation, then stops the source and returns the sample.
// An empty sample is a valid return, not an error.
func (c *Capturer) Capture(ctx context.Context) (*SessionSample, error) {
	if err := c.src.Start(ctx); err != nil {
		return nil, err
	}
	defer c.src.Stop()

	rec := NewRecorder(c.opts.MaxInterval, c.opts.TargetBigrams)

	timer := time.NewTimer(c.opts.Timeout)
	defer timer.Stop()

	events := c.src.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return rec.Sample(), nil
			}
			if rec.Feed(ev) {
				return rec.Sample(), nil
			}
		case <-timer.C:
			return rec.Sample(), nil
		case <-ctx.Done():
			return rec.Sample(), nil
		}
	}
}

package capture

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// ScriptSource replays a fixed sequence of key events. It backs tests and
// the session-gen tool, and lets the full pipeline run without a real
// keyboard. Events carry their own timestamps, so replay is immediate and
// deterministic.
type ScriptSource struct {
	mu      sync.Mutex
	script  []KeyEvent
	events  chan KeyEvent
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewScriptSource creates a source that replays the given events in order.
func NewScriptSource(script []KeyEvent) *ScriptSource {
	return &ScriptSource{script: script}
}

// Start begins replaying events. The Events channel is closed once the
// script is exhausted.
func (s *ScriptSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.events = make(chan KeyEvent, len(s.script))
	s.done = make(chan struct{})
	s.running = true

	go func() {
		defer close(s.done)
		defer close(s.events)
		for _, ev := range s.script {
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop ends the replay.
func (s *ScriptSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.cancel()
	<-s.done
	s.running = false
	return nil
}

// Events returns the delivery channel.
func (s *ScriptSource) Events() <-chan KeyEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// Available always reports true.
func (s *ScriptSource) Available() (bool, string) {
	return true, "scripted replay source"
}

// TypeScript builds the press/release event sequence for typing text with
// a constant cadence, ending with the escape sequence. flight is the
// interval between presses and dwell the hold duration, in seconds.
func TypeScript(text string, flight, dwell float64) []KeyEvent {
	var script []KeyEvent
	t := 0.0
	for _, c := range text + string([]rune{escapeFirst, escapeSecond}) {
		script = append(script,
			KeyEvent{Kind: KindPress, Char: c, Time: t},
			KeyEvent{Kind: KindRelease, Char: c, Time: t + dwell},
		)
		t += flight
	}
	return script
}

// scriptEvent is the JSONL wire form of a KeyEvent.
type scriptEvent struct {
	Kind string  `json:"kind"`
	Char string  `json:"char,omitempty"`
	Time float64 `json:"time"`
}

// WriteScript encodes events as one JSON object per line.
func WriteScript(w io.Writer, script []KeyEvent) error {
	enc := json.NewEncoder(w)
	for _, ev := range script {
		se := scriptEvent{Kind: "press", Time: ev.Time}
		if ev.Kind == KindRelease {
			se.Kind = "release"
		}
		if ev.Char != 0 {
			se.Char = string(ev.Char)
		}
		if err := enc.Encode(se); err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
	}
	return nil
}

// ReadScript decodes a JSONL event script.
func ReadScript(r io.Reader) ([]KeyEvent, error) {
	var script []KeyEvent
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var se scriptEvent
		if err := json.Unmarshal(line, &se); err != nil {
			return nil, fmt.Errorf("parse event script: %w", err)
		}
		ev := KeyEvent{Time: se.Time}
		switch se.Kind {
		case "press":
			ev.Kind = KindPress
		case "release":
			ev.Kind = KindRelease
		default:
			return nil, fmt.Errorf("parse event script: unknown kind %q", se.Kind)
		}
		for _, c := range se.Char {
			ev.Char = c
			break
		}
		script = append(script, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event script: %w", err)
	}
	return script, nil
}

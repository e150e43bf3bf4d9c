package capture

import (
	"math"
	"sync"
	"time"
	"unicode"
)

// Escape sequence ending a capture session: press ':' then 'q'.
const (
	escapeFirst  = ':'
	escapeSecond = 'q'
)

// Recorder folds a stream of key events into the per-session timing
// signals. It is a single-writer structure: press and release handling is
// serialized under one mutex, so sources that deliver from multiple
// goroutines stay safe.
type Recorder struct {
	mu sync.Mutex

	maxInterval float64
	tracked     map[string]struct{}

	flightTimes []float64
	dwellTimes  []float64
	bigramTimes map[string][]float64
	typed       []rune

	// pending holds unmatched press timestamps per character, consumed
	// FIFO on release so each press satisfies at most one release.
	pending map[rune][]float64

	lastPress    float64
	havePress    bool
	prevChar     rune
	havePrevChar bool

	// escape window: the last two printable characters pressed
	window    [2]rune
	windowLen int

	finished bool
}

// NewRecorder creates a Recorder with the given outlier cutoff and
// tracked bigram set.
func NewRecorder(maxInterval time.Duration, targetBigrams []string) *Recorder {
	tracked := make(map[string]struct{}, len(targetBigrams))
	for _, bg := range targetBigrams {
		tracked[bg] = struct{}{}
	}
	return &Recorder{
		maxInterval: maxInterval.Seconds(),
		tracked:     tracked,
		bigramTimes: make(map[string][]float64),
		pending:     make(map[rune][]float64),
	}
}

// Feed processes one event and reports whether the escape sequence has
// been seen. Events after completion are ignored.
func (r *Recorder) Feed(ev KeyEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return true
	}
	if !printable(ev.Char) {
		return false
	}

	switch ev.Kind {
	case KindPress:
		r.press(unicode.ToLower(ev.Char), ev.Time)
	case KindRelease:
		r.release(unicode.ToLower(ev.Char), ev.Time)
	}
	return r.finished
}

// press derives flight and bigram timings and records the press for
// dwell matching.
func (r *Recorder) press(char rune, t float64) {
	r.typed = append(r.typed, char)

	// Escape detection runs before any timing so the terminating press
	// contributes no data.
	r.pushWindow(char)
	if r.windowLen == 2 && r.window[0] == escapeFirst && r.window[1] == escapeSecond {
		r.finished = true
		return
	}

	if r.havePress {
		flight := t - r.lastPress
		if flight <= r.maxInterval {
			flight = round4(flight)
			r.flightTimes = append(r.flightTimes, flight)

			if r.havePrevChar {
				pair := string([]rune{r.prevChar, char})
				if _, ok := r.tracked[pair]; ok {
					r.bigramTimes[pair] = append(r.bigramTimes[pair], flight)
				}
			}
		}
	}

	// State advances even when the interval was discarded as an outlier.
	r.lastPress = t
	r.havePress = true
	r.prevChar = char
	r.havePrevChar = true

	r.pending[char] = append(r.pending[char], t)
}

// release consumes the earliest unmatched press of the same character and
// derives the dwell time.
func (r *Recorder) release(char rune, t float64) {
	queue := r.pending[char]
	if len(queue) == 0 {
		return
	}
	pressTime := queue[0]
	r.pending[char] = queue[1:]

	dwell := t - pressTime
	if dwell > 0 && dwell <= r.maxInterval {
		r.dwellTimes = append(r.dwellTimes, round4(dwell))
	}
}

func (r *Recorder) pushWindow(char rune) {
	if r.windowLen == 2 {
		r.window[0] = r.window[1]
		r.window[1] = char
		return
	}
	r.window[r.windowLen] = char
	r.windowLen++
}

// Sample returns the accumulated session sample. The returned sample owns
// independent copies of all sequences.
func (r *Recorder) Sample() *SessionSample {
	r.mu.Lock()
	defer r.mu.Unlock()

	bigrams := make(map[string][]float64, len(r.bigramTimes))
	for pair, times := range r.bigramTimes {
		bigrams[pair] = append([]float64(nil), times...)
	}

	return &SessionSample{
		FlightTimes:  append([]float64(nil), r.flightTimes...),
		DwellTimes:   append([]float64(nil), r.dwellTimes...),
		BigramTimes:  bigrams,
		RhythmVector: append([]float64(nil), r.flightTimes...),
		TypedText:    string(r.typed),
	}
}

// printable reports whether the event carries a usable character.
// Special keys are delivered with a zero rune and ignored.
func printable(c rune) bool {
	return c != 0 && unicode.IsPrint(c)
}

// round4 rounds to 4 decimal places, the precision used for all persisted
// and reported timing values.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

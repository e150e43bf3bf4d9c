//go:build linux

package capture

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// EvdevSource reads press/release events from a Linux /dev/input device.
// Requires membership in the 'input' group or root.
//
// While a capture session is active the device is grabbed (EVIOCGRAB) so
// the typed authentication phrase is not simultaneously delivered to other
// applications.
type EvdevSource struct {
	device string

	mu      sync.Mutex
	events  chan KeyEvent
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewEvdevSource creates a source for the given device path, or probes for
// a keyboard when device is "auto".
func NewEvdevSource(device string) *EvdevSource {
	return &EvdevSource{device: device}
}

// Available checks whether a readable keyboard device exists.
func (s *EvdevSource) Available() (bool, string) {
	dev, err := s.resolveDevice()
	if err != nil {
		return false, err.Error()
	}
	f, err := os.OpenFile(dev, os.O_RDONLY, 0)
	if err != nil {
		return false, fmt.Sprintf("cannot read %s (need 'input' group or root): %v", dev, err)
	}
	f.Close()
	return true, fmt.Sprintf("keyboard device: %s", dev)
}

// Start opens the device and begins delivering events.
func (s *EvdevSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	dev, err := s.resolveDevice()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	f, err := os.OpenFile(dev, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrSourceUnavailable, dev, err)
	}

	// Grab is best-effort: capture still works without exclusive access.
	grabbed := unix.IoctlSetInt(int(f.Fd()), eviocgrab, 1) == nil

	ctx, s.cancel = context.WithCancel(ctx)
	s.events = make(chan KeyEvent, 128)
	s.done = make(chan struct{})
	s.running = true

	go s.readLoop(ctx, f, grabbed)
	return nil
}

// Stop ends event delivery and releases the device.
func (s *EvdevSource) Stop() error {
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
func (s *EvdevSource) Events() <-chan KeyEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// resolveDevice returns the configured device or probes for a keyboard.
func (s *EvdevSource) resolveDevice() (string, error) {
	if s.device != "" && s.device != "auto" {
		return s.device, nil
	}
	devices, err := findKeyboardDevices()
	if err != nil {
		return "", fmt.Errorf("find keyboard devices: %w", err)
	}
	if len(devices) == 0 {
		return "", fmt.Errorf("no keyboard devices found")
	}
	return devices[0], nil
}

// findKeyboardDevices scans /proc/bus/input/devices for event handlers
// with key capabilities.
func findKeyboardDevices() ([]string, error) {
	f, err := os.Open("/proc/bus/input/devices")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var devices []string
	scanner := bufio.NewScanner(f)
	var currentHandler string
	isKeyboard := false

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "H: Handlers=") {
			for _, part := range strings.Fields(line) {
				if strings.HasPrefix(part, "event") {
					currentHandler = "/dev/input/" + part
				}
			}
		}

		if strings.HasPrefix(line, "B: KEY=") && len(line) > 10 {
			isKeyboard = true
		}

		if line == "" {
			if isKeyboard && currentHandler != "" {
				devices = append(devices, currentHandler)
			}
			currentHandler = ""
			isKeyboard = false
		}
	}

	matches, _ := filepath.Glob("/dev/input/by-id/*-kbd")
	devices = append(devices, matches...)

	return devices, scanner.Err()
}

// eviocgrab is the EVIOCGRAB ioctl request, _IOW('E', 0x90, int):
// write direction, 4-byte payload, magic 'E', number 0x90.
const eviocgrab = 0x40044590

// inputEventSize is the size of the 64-bit Linux input_event struct:
// two 8-byte time fields, type, code, value.
const inputEventSize = 24

const (
	evKey         = 1
	valRelease    = 0
	valPress      = 1
	valAutoRepeat = 2
)

func (s *EvdevSource) readLoop(ctx context.Context, f *os.File, grabbed bool) {
	defer close(s.done)
	defer close(s.events)

	// Closing the file from a watcher goroutine unblocks the Read below
	// when the context is cancelled.
	go func() {
		<-ctx.Done()
		if grabbed {
			unix.IoctlSetInt(int(f.Fd()), eviocgrab, 0)
		}
		f.Close()
	}()

	shift := false
	buf := make([]byte, inputEventSize)

	for {
		if ctx.Err() != nil {
			return
		}
		n, err := f.Read(buf)
		if err != nil {
			return
		}
		if n < inputEventSize {
			continue
		}

		evType := binary.LittleEndian.Uint16(buf[16:18])
		code := binary.LittleEndian.Uint16(buf[18:20])
		value := int32(binary.LittleEndian.Uint32(buf[20:24]))

		if evType != evKey || value == valAutoRepeat {
			continue
		}

		if code == keyLeftShift || code == keyRightShift {
			shift = value == valPress
			continue
		}

		char := charForKeycode(code, shift)
		if char == 0 {
			continue
		}

		sec := binary.LittleEndian.Uint64(buf[0:8])
		usec := binary.LittleEndian.Uint64(buf[8:16])
		ts := float64(sec) + float64(usec)/1e6

		ev := KeyEvent{Kind: KindPress, Char: char, Time: ts}
		if value == valRelease {
			ev.Kind = KindRelease
		}

		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// Keycodes from linux/input-event-codes.h needed for character mapping.
const (
	keyLeftShift  = 42
	keyRightShift = 54
)

// charForKeycode maps a US-layout keycode to its character. Letters come
// back lowercase regardless of shift; the extractor lowercases anyway.
// Unmapped keys (modifiers, function keys) yield zero and are ignored.
func charForKeycode(code uint16, shift bool) rune {
	if c, ok := keycodeChars[code]; ok {
		if shift {
			if up, ok := keycodeShifted[code]; ok {
				return up
			}
		}
		return c
	}
	return 0
}

var keycodeChars = map[uint16]rune{
	2: '1', 3: '2', 4: '3', 5: '4', 6: '5',
	7: '6', 8: '7', 9: '8', 10: '9', 11: '0',
	12: '-', 13: '=',
	16: 'q', 17: 'w', 18: 'e', 19: 'r', 20: 't',
	21: 'y', 22: 'u', 23: 'i', 24: 'o', 25: 'p',
	30: 'a', 31: 's', 32: 'd', 33: 'f', 34: 'g',
	35: 'h', 36: 'j', 37: 'k', 38: 'l', 39: ';',
	40: '\'', 44: 'z', 45: 'x', 46: 'c', 47: 'v',
	48: 'b', 49: 'n', 50: 'm', 51: ',', 52: '.',
	53: '/', 57: ' ',
}

// keycodeShifted maps the punctuation needed for the escape sequence and
// common prompt text. Shifted letters stay lowercase.
var keycodeShifted = map[uint16]rune{
	39: ':', 40: '"', 51: '<', 52: '>', 53: '?',
	12: '_', 13: '+',
}

// NewPlatformSource returns the native key-event source for this platform.
func NewPlatformSource(device string) Source {
	return NewEvdevSource(device)
}

//go:build !linux

package capture

import "context"

// unavailableSource is returned on platforms without a native key hook.
// Scripted replay still works everywhere.
type unavailableSource struct{}

func (unavailableSource) Start(ctx context.Context) error { return ErrSourceUnavailable }
func (unavailableSource) Stop() error                     { return nil }
func (unavailableSource) Events() <-chan KeyEvent         { return nil }
func (unavailableSource) Available() (bool, string) {
	return false, "native key-event capture is only implemented on Linux"
}

// NewPlatformSource returns the native key-event source for this platform.
func NewPlatformSource(device string) Source {
	return unavailableSource{}
}

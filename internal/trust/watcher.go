package trust

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// profileWatcher reports tampering with the baseline profile file while a
// monitoring session is active. The watch is on the parent directory so
// remove-and-recreate is still observed.
type profileWatcher struct {
	watcher  *fsnotify.Watcher
	tampered chan string
}

// watchProfile starts watching the profile file until ctx is cancelled or
// Close is called.
func watchProfile(ctx context.Context, path string) (*profileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	pw := &profileWatcher{
		watcher:  w,
		tampered: make(chan string, 1),
	}
	go pw.run(ctx, filepath.Clean(path))
	return pw, nil
}

// Tampered delivers at most one description of what happened to the file.
func (pw *profileWatcher) Tampered() <-chan string {
	return pw.tampered
}

// Close stops the watch.
func (pw *profileWatcher) Close() error {
	return pw.watcher.Close()
}

func (pw *profileWatcher) run(ctx context.Context, path string) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			var reason string
			switch {
			case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
				reason = "removed"
			case event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create):
				reason = "modified"
			default:
				continue
			}
			select {
			case pw.tampered <- reason:
			default:
			}
			return
		case _, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

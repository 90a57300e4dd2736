package collector

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
)

// waitForWindow blocks for d while watching path. rotated reports whether
// the file was removed or renamed meanwhile. It returns early only when
// ctx ends. A path that cannot be watched degrades to a plain sleep.
func waitForWindow(ctx context.Context, path string, d time.Duration) (rotated bool, err error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if w, werr := fsnotify.NewWatcher(); werr == nil {
		defer w.Close()
		if w.Add(path) == nil {
			events, errs = w.Events, w.Errors
		}
	}

	for {
		select {
		case <-timer.C:
			return rotated, nil
		case <-ctx.Done():
			return rotated, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				rotated = true
			}
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
		}
	}
}

package collector

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// restoreBudget bounds Lease.Release independently of the attempt deadline.
const restoreBudget = 10 * time.Second

// hotSwitchSlot admits one slow-log override per process at a time.
var hotSwitchSlot = make(chan struct{}, 1)

// Lease is a held slow-log override. Release must run on every exit path.
type Lease struct {
	sw         SlowLogSwitch
	prev       SwitchState
	ctx        context.Context
	slot       chan struct{}
	enableErrs []error
	once       sync.Once
}

// AcquireSlowLog waits for the process-wide hot-switch slot, then applies
// threshold. The slot is held until Release, so a later cycle waits for a
// pending restore instead of racing it. It fails only when ctx ends while
// waiting.
func AcquireSlowLog(ctx context.Context, sw SlowLogSwitch, prev SwitchState, thresholdSecs float64) (*Lease, error) {
	return acquire(ctx, hotSwitchSlot, sw, prev, thresholdSecs)
}

func acquire(ctx context.Context, slot chan struct{}, sw SlowLogSwitch, prev SwitchState, thresholdSecs float64) (*Lease, error) {
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for slow log hot switch: %w", ctx.Err())
	}
	l := &Lease{sw: sw, prev: prev, ctx: ctx, slot: slot}
	l.enableErrs = sw.Enable(ctx, thresholdSecs)
	return l, nil
}

// Enabled reports whether every enable step succeeded.
func (l *Lease) Enabled() bool { return len(l.enableErrs) == 0 }

func (l *Lease) EnableErrors() []error { return l.enableErrs }

// Release restores the previous settings when restore is set and frees the
// slot. Restoration runs on a context detached from the acquiring one, so
// it still happens after the attempt has timed out. Only the first call
// has any effect.
func (l *Lease) Release(restore bool) []string {
	var warnings []string
	l.once.Do(func() {
		defer func() { <-l.slot }()
		if !restore {
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(l.ctx), restoreBudget)
		defer cancel()
		warnings = l.sw.Restore(ctx, l.prev)
	})
	return warnings
}

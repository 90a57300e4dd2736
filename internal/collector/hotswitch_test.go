package collector

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAcquire_EnablesAndRestores(t *testing.T) {
	slot := make(chan struct{}, 1)
	sw := &fakeSwitch{prev: SwitchState{SlowQueryLog: strp("OFF")}, restoreWarns: []string{"restore warning"}}

	lease, err := acquire(context.Background(), slot, sw, sw.prev, 0.2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !lease.Enabled() {
		t.Error("lease should be enabled")
	}
	if len(sw.enabled) != 1 || sw.enabled[0] != 0.2 {
		t.Errorf("enable calls = %v", sw.enabled)
	}

	warns := lease.Release(true)
	if len(warns) != 1 || warns[0] != "restore warning" {
		t.Errorf("release warnings = %v", warns)
	}
	if sw.restoreCount() != 1 || *sw.restored[0].SlowQueryLog != "OFF" {
		t.Errorf("restore calls = %+v", sw.restored)
	}
	if len(slot) != 0 {
		t.Error("slot should be free after release")
	}
}

func TestAcquire_EnableErrorsKeepLease(t *testing.T) {
	slot := make(chan struct{}, 1)
	sw := &fakeSwitch{enableErrs: []error{errors.New("failed to set long_query_time: denied")}}

	lease, err := acquire(context.Background(), slot, sw, SwitchState{}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lease.Enabled() {
		t.Error("lease with enable errors must not report enabled")
	}
	if len(lease.EnableErrors()) != 1 {
		t.Errorf("enable errors = %v", lease.EnableErrors())
	}
	lease.Release(true)
	if sw.restoreCount() != 1 {
		t.Error("a partially applied switch is still restored")
	}
}

func TestRelease_WithoutRestore(t *testing.T) {
	slot := make(chan struct{}, 1)
	sw := &fakeSwitch{}
	lease, _ := acquire(context.Background(), slot, sw, SwitchState{}, 1)

	if warns := lease.Release(false); warns != nil {
		t.Errorf("unexpected warnings: %v", warns)
	}
	if sw.restoreCount() != 0 {
		t.Error("restore must not run when disabled")
	}
	if len(slot) != 0 {
		t.Error("slot should be freed")
	}
}

func TestRelease_Idempotent(t *testing.T) {
	slot := make(chan struct{}, 1)
	sw := &fakeSwitch{}
	lease, _ := acquire(context.Background(), slot, sw, SwitchState{}, 1)

	lease.Release(true)
	lease.Release(true)
	if sw.restoreCount() != 1 {
		t.Errorf("restore ran %d times, want 1", sw.restoreCount())
	}
}

func TestRelease_RestoresAfterCancel(t *testing.T) {
	slot := make(chan struct{}, 1)
	sw := &fakeSwitch{}
	ctx, cancel := context.WithCancel(context.Background())
	lease, err := acquire(ctx, slot, sw, SwitchState{}, 1)
	if err != nil {
		t.Fatal(err)
	}

	cancel()
	lease.Release(true)

	if sw.restoreCount() != 1 || !sw.restoreCtxOK[0] {
		t.Fatal("restore should run on a live context after the attempt was cancelled")
	}
}

func TestAcquire_WaitsForSlot(t *testing.T) {
	slot := make(chan struct{}, 1)
	first, _ := acquire(context.Background(), slot, &fakeSwitch{}, SwitchState{}, 1)

	second := &fakeSwitch{}
	got := make(chan *Lease, 1)
	go func() {
		l, _ := acquire(context.Background(), slot, second, SwitchState{}, 1)
		got <- l
	}()

	select {
	case <-got:
		t.Fatal("second acquire must wait for the first release")
	case <-time.After(50 * time.Millisecond):
	}

	first.Release(true)

	select {
	case l := <-got:
		l.Release(true)
	case <-time.After(2 * time.Second):
		t.Fatal("second acquire did not proceed after release")
	}
	if len(second.enabled) != 1 {
		t.Errorf("second switch enable calls = %v", second.enabled)
	}
}

func TestAcquire_ContextEndsWhileWaiting(t *testing.T) {
	slot := make(chan struct{}, 1)
	slot <- struct{}{}
	sw := &fakeSwitch{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := acquire(ctx, slot, sw, SwitchState{}, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
	if len(sw.enabled) != 0 {
		t.Error("switch must not be touched without the slot")
	}
}

package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/breeze-rmm/wsus/internal/wsus"
)

func TestSyncWaiterTransitions(t *testing.T) {
	srv := newFakeServer()
	srv.phases = []wsus.SyncPhase{wsus.SyncRunning, wsus.SyncRunning, wsus.SyncStopping, wsus.SyncNotProcessing}

	var slept []time.Duration
	var seen []wsus.SyncPhase
	w := &SyncWaiter{
		Server:       srv,
		PollInterval: 30 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
		OnPoll: func(_ int, phase wsus.SyncPhase) { seen = append(seen, phase) },
	}

	if w.State() != SyncIdle {
		t.Fatalf("initial state = %s, want idle", w.State())
	}
	if err := w.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if w.State() != SyncDone {
		t.Fatalf("state = %s, want done", w.State())
	}
	if w.Polls() != 4 || len(seen) != 4 {
		t.Fatalf("polls = %d (seen %d), want 4", w.Polls(), len(seen))
	}
	if len(slept) != 3 || slept[0] != 30*time.Second {
		t.Fatalf("slept = %v, want 3 sleeps of 30s", slept)
	}
	if got := srv.callsWithPrefix("startSync"); len(got) != 1 {
		t.Fatalf("startSync calls = %d, want 1", len(got))
	}
}

func TestSyncWaiterDefaultInterval(t *testing.T) {
	srv := newFakeServer()
	srv.phases = []wsus.SyncPhase{wsus.SyncRunning}

	var slept time.Duration
	w := &SyncWaiter{Server: srv, Sleep: func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}}
	if err := w.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if slept != DefaultSyncPollInterval {
		t.Fatalf("slept %s, want %s", slept, DefaultSyncPollInterval)
	}
}

func TestSyncWaiterStartFailureStaysIdle(t *testing.T) {
	srv := newFakeServer()
	srv.failOn["startSync"] = errBoom

	w := &SyncWaiter{Server: srv}
	err := w.Wait(context.Background())
	if !errors.Is(err, errBoom) {
		t.Fatalf("Wait error = %v, want boom", err)
	}
	if w.State() != SyncIdle {
		t.Fatalf("state = %s, want idle", w.State())
	}
}

func TestSyncWaiterStatusFailure(t *testing.T) {
	srv := newFakeServer()
	srv.failOn["syncPhase"] = errBoom

	w := &SyncWaiter{Server: srv}
	if err := w.Wait(context.Background()); !errors.Is(err, errBoom) {
		t.Fatalf("Wait error = %v, want boom", err)
	}
	if w.State() != SyncSyncing {
		t.Fatalf("state = %s, want syncing", w.State())
	}
}

func TestSyncWaiterCancelledWhileSleeping(t *testing.T) {
	srv := newFakeServer()
	srv.phases = []wsus.SyncPhase{wsus.SyncRunning, wsus.SyncRunning, wsus.SyncRunning}

	ctx, cancel := context.WithCancel(context.Background())
	w := &SyncWaiter{
		Server:       srv,
		PollInterval: time.Hour,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		},
	}
	err := w.Wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait error = %v, want context.Canceled", err)
	}
	if w.State() == SyncDone {
		t.Fatal("cancelled waiter must not report done")
	}
	if w.Polls() != 1 {
		t.Fatalf("polls = %d, want 1", w.Polls())
	}
}

func TestSyncWaiterCancelledBeforeStart(t *testing.T) {
	srv := newFakeServer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := &SyncWaiter{Server: srv}
	if err := w.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait error = %v, want context.Canceled", err)
	}
	if len(srv.calls) != 0 {
		t.Fatalf("calls = %v, want none", srv.calls)
	}
}

func TestSyncWaiterSingleUse(t *testing.T) {
	w := &SyncWaiter{Server: newFakeServer()}
	if err := w.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if err := w.Wait(context.Background()); err == nil {
		t.Fatal("second Wait should fail")
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("sleepContext: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("sleepContext on cancelled ctx = %v", err)
	}
}

func TestSyncStateString(t *testing.T) {
	if SyncIdle.String() != "idle" || SyncSyncing.String() != "syncing" || SyncDone.String() != "done" {
		t.Fatal("unexpected state names")
	}
	if SyncState(9).String() != "SyncState(9)" {
		t.Fatalf("got %q", SyncState(9).String())
	}
}

package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/breeze-rmm/wsus/internal/wsus"
)

// SyncState is the waiter's position in Idle -> Syncing -> Done.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncSyncing
	SyncDone
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncSyncing:
		return "syncing"
	case SyncDone:
		return "done"
	default:
		return fmt.Sprintf("SyncState(%d)", int(s))
	}
}

// DefaultSyncPollInterval is used when no interval is configured.
const DefaultSyncPollInterval = 60 * time.Second

// SyncServer is the part of Server the waiter needs.
type SyncServer interface {
	StartSynchronization() error
	SynchronizationPhase() (wsus.SyncPhase, error)
}

// SyncWaiter starts a synchronization and polls until the server stops
// processing. It never times out on its own; bound it with the context.
type SyncWaiter struct {
	Server       SyncServer
	PollInterval time.Duration
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnPoll is called after each status query.
	OnPoll func(poll int, phase wsus.SyncPhase)

	state SyncState
	polls int
}

// State returns the current state.
func (w *SyncWaiter) State() SyncState {
	return w.state
}

// Polls returns the number of status queries made so far.
func (w *SyncWaiter) Polls() int {
	return w.polls
}

// Wait starts the synchronization and blocks until it finishes, the status
// query fails, or ctx is done. The state only reaches SyncDone on success.
func (w *SyncWaiter) Wait(ctx context.Context) error {
	if w.state != SyncIdle {
		return fmt.Errorf("sync waiter already used (state %s)", w.state)
	}
	interval := w.PollInterval
	if interval <= 0 {
		interval = DefaultSyncPollInterval
	}
	sleep := w.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.Server.StartSynchronization(); err != nil {
		return fmt.Errorf("start synchronization: %w", err)
	}
	w.state = SyncSyncing

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		phase, err := w.Server.SynchronizationPhase()
		if err != nil {
			return fmt.Errorf("synchronization status: %w", err)
		}
		w.polls++
		if w.OnPoll != nil {
			w.OnPoll(w.polls, phase)
		}
		if !phase.Processing() {
			w.state = SyncDone
			return nil
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

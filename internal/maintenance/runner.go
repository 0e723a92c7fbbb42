// Package maintenance runs the update lifecycle steps against one server:
// cleanup, synchronization, decline, delete and approve, in that order.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/breeze-rmm/wsus/internal/audit"
	"github.com/breeze-rmm/wsus/internal/classifier"
	"github.com/breeze-rmm/wsus/internal/config"
	"github.com/breeze-rmm/wsus/internal/logging"
	"github.com/breeze-rmm/wsus/internal/wsus"
)

var log = logging.L("maintenance")

// Server is the update service the runner drives. *wsus.AdminServer
// satisfies it.
type Server interface {
	EnumerateAllUpdates() ([]wsus.UpdateRecord, error)
	EnumerateUpdates(filter wsus.UpdateFilter) ([]wsus.UpdateRecord, error)
	Decline(id string) error
	Approve(id string, group wsus.TargetGroup) error
	Delete(id string) error
	StartSynchronization() error
	SynchronizationPhase() (wsus.SyncPhase, error)
	LastSynchronization() (wsus.SyncResult, error)
	PerformCleanup(scope wsus.CleanupScope) (wsus.CleanupResult, error)
	TargetGroups() ([]wsus.TargetGroup, error)
}

// Options selects the steps of a run and how they behave.
type Options struct {
	Cleanup      bool
	CleanupScope wsus.CleanupScope
	// ContentDir, when set and present locally, is sampled for free space
	// around the cleanup.
	ContentDir string

	Sync             bool
	SyncPollInterval time.Duration
	// SyncTimeout bounds the wait for synchronization; zero waits forever.
	SyncTimeout time.Duration

	AutoDecline bool
	DeclineAll  bool

	DeleteDeclined bool

	AutoApprove bool
	// TargetGroup is a group name or ID; empty selects All Computers.
	TargetGroup string
	// ApproveMaxAge limits approval to updates that arrived within it.
	ApproveMaxAge time.Duration

	DryRun      bool
	StopOnError bool
}

// OptionsFromConfig maps the effective configuration onto run options.
func OptionsFromConfig(cfg *config.Config) Options {
	cs := cfg.CleanupScope
	return Options{
		Cleanup: cfg.Cleanup,
		CleanupScope: wsus.CleanupScope{
			RemoveLocalContentFiles:     cs.RemoveLocalContentFiles,
			RemoveObsoleteClientRecords: cs.RemoveObsoleteClientRecords,
			RemoveObsoleteUpdates:       cs.RemoveObsoleteUpdates,
			RemoveUnneededContentFiles:  cs.RemoveUnneededContentFiles,
			CompressRevisions:           cs.CompressRevisions,
			DeclineExpired:              cs.DeclineExpired,
			DeclineSuperseded:           cs.DeclineSuperseded,
		},
		ContentDir:       cfg.ContentDir,
		Sync:             cfg.Sync,
		SyncPollInterval: time.Duration(cfg.SyncPollIntervalSeconds) * time.Second,
		SyncTimeout:      time.Duration(cfg.SyncTimeoutMinutes) * time.Minute,
		AutoDecline:      cfg.AutoDecline,
		DeclineAll:       cfg.DeclineAll,
		DeleteDeclined:   cfg.DeleteDeclined,
		AutoApprove:      cfg.AutoApprove,
		TargetGroup:      cfg.TargetGroup,
		ApproveMaxAge:    time.Duration(cfg.ApproveMaxAgeDays) * 24 * time.Hour,
		DryRun:           cfg.DryRun,
		StopOnError:      cfg.StopOnError,
	}
}

// Requested reports whether any step is enabled.
func (o Options) Requested() bool {
	return o.Cleanup || o.Sync || o.AutoDecline || o.DeclineAll || o.DeleteDeclined || o.AutoApprove
}

// Runner executes the requested steps sequentially against one server.
type Runner struct {
	server     Server
	opts       Options
	classifier *classifier.Classifier
	audit      *audit.Logger
	out        io.Writer

	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	freeSpace func(path string) (uint64, error)
}

// NewRunner builds a runner. auditLog may be nil; progress lines go to out.
func NewRunner(server Server, opts Options, c *classifier.Classifier, auditLog *audit.Logger, out io.Writer) *Runner {
	if c == nil {
		c = classifier.New(classifier.DefaultPolicy())
	}
	if out == nil {
		out = io.Discard
	}
	return &Runner{
		server:     server,
		opts:       opts,
		classifier: c,
		audit:      auditLog,
		out:        out,
		now:        time.Now,
		sleep:      sleepContext,
		freeSpace:  contentFreeSpace,
	}
}

type step struct {
	name    string
	enabled bool
	run     func(ctx context.Context, res *Result) error
}

// Run executes every enabled step in order. The returned Result is never
// nil. A step that fails as a whole stops the run; per-update failures are
// collected and the run continues unless StopOnError is set.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	res := &Result{DryRun: r.opts.DryRun}
	started := r.now()
	r.audit.Log(audit.EventRunStarted, "", r.auditOptions())

	steps := []step{
		{StepCleanup, r.opts.Cleanup, r.cleanup},
		{StepSync, r.opts.Sync, r.sync},
		{StepDecline, r.opts.AutoDecline || r.opts.DeclineAll, r.decline},
		{StepDelete, r.opts.DeleteDeclined, r.deleteDeclined},
		{StepApprove, r.opts.AutoApprove, r.approve},
	}

	var errs []error
	for _, s := range steps {
		if !s.enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, &StepError{Step: s.name, Err: err})
			break
		}

		stepLog := log.With(logging.KeyStep, s.name)
		stepLog.Info("step started", "dryRun", r.opts.DryRun)
		stepStart := r.now()
		err := s.run(logging.NewContext(ctx, stepLog), res)
		stepLog.Info("step finished", logging.KeyDurationMs, r.now().Sub(stepStart).Milliseconds(), "ok", err == nil)

		if err == nil {
			continue
		}
		errs = append(errs, err)
		var se *StepError
		if !errors.As(err, &se) || !se.Partial {
			break
		}
	}

	err := errors.Join(errs...)
	details := map[string]any{
		"durationMs": r.now().Sub(started).Milliseconds(),
		"failures":   len(res.Failures),
	}
	if err != nil {
		details["error"] = err.Error()
	}
	r.audit.Log(audit.EventRunFinished, "", details)
	return res, err
}

func (r *Runner) auditOptions() map[string]any {
	return map[string]any{
		"cleanup":        r.opts.Cleanup,
		"sync":           r.opts.Sync,
		"autoDecline":    r.opts.AutoDecline,
		"declineAll":     r.opts.DeclineAll,
		"deleteDeclined": r.opts.DeleteDeclined,
		"autoApprove":    r.opts.AutoApprove,
		"dryRun":         r.opts.DryRun,
		"stopOnError":    r.opts.StopOnError,
	}
}

// failures accumulates per-update errors for one step.
type failures struct {
	step string
	errs []error
}

// fail records a failed update operation and reports whether the run must
// stop.
func (r *Runner) fail(res *Result, f *failures, op string, u wsus.UpdateRecord, err error) bool {
	res.Failures = append(res.Failures, Failure{Step: f.step, UpdateID: u.ID, Title: u.Title, Error: err.Error()})
	f.errs = append(f.errs, fmt.Errorf("%s %s: %w", op, u.ID, err))
	r.audit.Failure(op, u.ID, err)
	logging.WithUpdate(log, u.ID, u.Title).Error("update operation failed",
		logging.KeyStep, f.step, "operation", op, logging.KeyError, err)
	fmt.Fprintf(r.out, "  FAILED to %s %s: %v\n", op, u.Title, err)
	return r.opts.StopOnError
}

func (f *failures) aborted() error {
	return &StepError{Step: f.step, Err: errors.Join(append([]error{ErrAborted}, f.errs...)...)}
}

func (f *failures) interrupted(err error) error {
	return &StepError{Step: f.step, Err: errors.Join(append([]error{err}, f.errs...)...)}
}

func (f *failures) result() error {
	if len(f.errs) == 0 {
		return nil
	}
	return &StepError{Step: f.step, Err: errors.Join(f.errs...), Partial: true}
}

package maintenance

import (
	"context"
	"errors"
	"fmt"

	"github.com/breeze-rmm/wsus/internal/audit"
	"github.com/breeze-rmm/wsus/internal/classifier"
	"github.com/breeze-rmm/wsus/internal/logging"
	"github.com/breeze-rmm/wsus/internal/wsus"
)

func (r *Runner) cleanup(_ context.Context, res *Result) error {
	st := &CleanupStep{}
	res.Cleanup = st

	switch {
	case r.opts.DryRun:
		st.Skipped = "dry run"
	case r.opts.CleanupScope.Empty():
		st.Skipped = "no cleanup options enabled"
	}
	if st.Skipped != "" {
		fmt.Fprintf(r.out, "Cleanup skipped: %s\n", st.Skipped)
		return nil
	}

	fmt.Fprintln(r.out, "Running server cleanup...")
	st.FreeBefore = r.sampleFreeSpace()
	start := r.now()
	result, err := r.server.PerformCleanup(r.opts.CleanupScope)
	st.DurationMs = r.now().Sub(start).Milliseconds()
	if err != nil {
		r.audit.Failure("cleanup", "", err)
		return &StepError{Step: StepCleanup, Err: err}
	}
	st.Result = result
	st.FreeAfter = r.sampleFreeSpace()

	r.audit.Log(audit.EventCleanupPerformed, "", map[string]any{
		"diskSpaceFreed":            result.DiskSpaceFreed,
		"expiredUpdatesDeclined":    result.ExpiredUpdatesDeclined,
		"obsoleteComputersDeleted":  result.ObsoleteComputersDeleted,
		"obsoleteUpdatesDeleted":    result.ObsoleteUpdatesDeleted,
		"supersededUpdatesDeclined": result.SupersededUpdatesDeclined,
		"updatesCompressed":         result.UpdatesCompressed,
	})
	fmt.Fprintf(r.out, "Cleanup freed %.1f MB: %d obsolete updates deleted, %d expired and %d superseded declined, %d compressed, %d computers removed\n",
		float64(result.DiskSpaceFreed)/(1024*1024), result.ObsoleteUpdatesDeleted, result.ExpiredUpdatesDeclined,
		result.SupersededUpdatesDeclined, result.UpdatesCompressed, result.ObsoleteComputersDeleted)
	return nil
}

func (r *Runner) sampleFreeSpace() uint64 {
	if r.opts.ContentDir == "" {
		return 0
	}
	free, err := r.freeSpace(r.opts.ContentDir)
	if err != nil {
		log.Warn("could not read content volume free space", "path", r.opts.ContentDir, logging.KeyError, err)
		return 0
	}
	return free
}

func (r *Runner) sync(ctx context.Context, res *Result) error {
	st := &SyncStep{}
	res.Sync = st
	if r.opts.DryRun {
		st.Skipped = "dry run"
		fmt.Fprintln(r.out, "Synchronization skipped: dry run")
		return nil
	}

	if r.opts.SyncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.SyncTimeout)
		defer cancel()
	}

	stepLog := logging.FromContext(ctx)
	w := &SyncWaiter{
		Server:       r.server,
		PollInterval: r.opts.SyncPollInterval,
		Sleep:        r.sleep,
		OnPoll: func(poll int, phase wsus.SyncPhase) {
			stepLog.Debug("synchronization status", "poll", poll, "phase", phase.String())
			if phase.Processing() {
				fmt.Fprintf(r.out, "  synchronization %s (check %d)\n", phase, poll)
			}
		},
	}

	fmt.Fprintln(r.out, "Starting synchronization...")
	r.audit.Log(audit.EventSyncStarted, "", nil)
	start := r.now()
	err := w.Wait(ctx)
	st.Polls = w.Polls()
	st.DurationMs = r.now().Sub(start).Milliseconds()
	if err != nil {
		if r.opts.SyncTimeout > 0 && errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("synchronization still running after %s: %w", r.opts.SyncTimeout, err)
		}
		r.audit.Failure("sync", "", err)
		return &StepError{Step: StepSync, Err: err}
	}

	details := map[string]any{"polls": st.Polls, "durationMs": st.DurationMs}
	last, err := r.server.LastSynchronization()
	if err != nil {
		stepLog.Warn("could not read last synchronization result", logging.KeyError, err)
	} else {
		st.Last = &last
		details["result"] = last.Result
	}
	r.audit.Log(audit.EventSyncFinished, "", details)

	if st.Last == nil {
		fmt.Fprintln(r.out, "Synchronization finished")
		return nil
	}
	fmt.Fprintf(r.out, "Synchronization finished: %s\n", last.Result)
	if last.Result == wsus.SyncResultFailed {
		msg := "synchronization failed"
		if last.Error != "" {
			msg += ": " + last.Error
		}
		return &StepError{Step: StepSync, Err: errors.New(msg), Partial: true}
	}
	return nil
}

func (r *Runner) decline(ctx context.Context, res *Result) error {
	st := &DeclineStep{DeclineAll: r.opts.DeclineAll, ByRule: map[classifier.RuleID]int{}}
	res.Decline = st

	records, err := r.server.EnumerateAllUpdates()
	if err != nil {
		return &StepError{Step: StepDecline, Err: fmt.Errorf("enumerate updates: %w", err)}
	}
	st.Total = len(records)
	if r.opts.DeclineAll {
		fmt.Fprintf(r.out, "Declining all %d updates...\n", st.Total)
	} else {
		fmt.Fprintf(r.out, "Classifying %d updates...\n", st.Total)
	}

	f := &failures{step: StepDecline}
	for _, u := range records {
		if err := ctx.Err(); err != nil {
			return f.interrupted(err)
		}
		d := r.classifier.Classify(u, r.opts.DeclineAll)
		if d.Rule == classifier.RuleAlreadyDeclined {
			st.AlreadyDeclined++
			continue
		}
		if !d.Decline {
			continue
		}

		if r.opts.DryRun {
			st.Declined++
			st.ByRule[d.Rule]++
			fmt.Fprintf(r.out, "  would decline [%s] %s\n", d.Rule, u.Title)
			continue
		}
		if err := r.server.Decline(u.ID); err != nil {
			st.Failed++
			if r.fail(res, f, "decline", u, err) {
				return f.aborted()
			}
			continue
		}
		st.Declined++
		st.ByRule[d.Rule]++
		r.audit.Log(audit.EventUpdateDeclined, u.ID, map[string]any{
			"title":  u.Title,
			"rule":   string(d.Rule),
			"reason": d.Reason,
		})
		logging.WithUpdate(log, u.ID, u.Title).Info("update declined", logging.KeyRule, string(d.Rule), "reason", d.Reason)
		fmt.Fprintf(r.out, "  declined [%s] %s\n", d.Rule, u.Title)
	}

	fmt.Fprintf(r.out, "Declined %d of %d updates\n", st.Declined, st.Total)
	return f.result()
}

func (r *Runner) deleteDeclined(ctx context.Context, res *Result) error {
	st := &DeleteStep{}
	res.Delete = st

	records, err := r.server.EnumerateUpdates(wsus.UpdateFilter{ApprovalStates: []wsus.ApprovalState{wsus.Declined}})
	if err != nil {
		return &StepError{Step: StepDelete, Err: fmt.Errorf("enumerate declined updates: %w", err)}
	}
	st.Total = len(records)
	fmt.Fprintf(r.out, "Deleting %d declined updates...\n", st.Total)

	f := &failures{step: StepDelete}
	for _, u := range records {
		if err := ctx.Err(); err != nil {
			return f.interrupted(err)
		}
		if r.opts.DryRun {
			st.Deleted++
			fmt.Fprintf(r.out, "  would delete %s\n", u.Title)
			continue
		}
		if err := r.server.Delete(u.ID); err != nil {
			st.Failed++
			if r.fail(res, f, "delete", u, err) {
				return f.aborted()
			}
			continue
		}
		st.Deleted++
		r.audit.Log(audit.EventUpdateDeleted, u.ID, map[string]any{"title": u.Title})
		logging.WithUpdate(log, u.ID, u.Title).Info("update deleted")
	}

	fmt.Fprintf(r.out, "Deleted %d of %d declined updates\n", st.Deleted, st.Total)
	return f.result()
}

func (r *Runner) approve(ctx context.Context, res *Result) error {
	st := &ApproveStep{}
	res.Approve = st

	groups, err := r.server.TargetGroups()
	if err != nil {
		return &StepError{Step: StepApprove, Err: fmt.Errorf("list target groups: %w", err)}
	}
	group, ok := wsus.FindTargetGroup(groups, r.opts.TargetGroup)
	if !ok {
		if r.opts.TargetGroup == "" {
			return &StepError{Step: StepApprove, Err: errors.New("server has no computer target groups")}
		}
		return &StepError{Step: StepApprove, Err: fmt.Errorf("target group %q not found", r.opts.TargetGroup)}
	}
	st.Group = group

	filter := wsus.UpdateFilter{ApprovalStates: []wsus.ApprovalState{wsus.NotApproved}}
	if r.opts.ApproveMaxAge > 0 {
		filter.From = r.now().Add(-r.opts.ApproveMaxAge)
	}
	records, err := r.server.EnumerateUpdates(filter)
	if err != nil {
		return &StepError{Step: StepApprove, Err: fmt.Errorf("enumerate unapproved updates: %w", err)}
	}
	st.Total = len(records)
	fmt.Fprintf(r.out, "Approving %d updates for %s...\n", st.Total, group.Name)

	f := &failures{step: StepApprove}
	for _, u := range records {
		if err := ctx.Err(); err != nil {
			return f.interrupted(err)
		}
		if u.IsDeclined || u.ApprovalState != wsus.NotApproved {
			st.Skipped++
			continue
		}
		if r.opts.DryRun {
			st.Approved++
			fmt.Fprintf(r.out, "  would approve %s\n", u.Title)
			continue
		}
		if err := r.server.Approve(u.ID, group); err != nil {
			st.Failed++
			if r.fail(res, f, "approve", u, err) {
				return f.aborted()
			}
			continue
		}
		st.Approved++
		r.audit.Log(audit.EventUpdateApproved, u.ID, map[string]any{"title": u.Title, "group": group.Name})
		logging.WithUpdate(log, u.ID, u.Title).Info("update approved", "group", group.Name)
	}

	fmt.Fprintf(r.out, "Approved %d of %d updates\n", st.Approved, st.Total)
	return f.result()
}

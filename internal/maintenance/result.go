package maintenance

import (
	"errors"
	"fmt"

	"github.com/breeze-rmm/wsus/internal/classifier"
	"github.com/breeze-rmm/wsus/internal/wsus"
)

// Step names, in execution order.
const (
	StepCleanup = "cleanup"
	StepSync    = "sync"
	StepDecline = "decline"
	StepDelete  = "delete"
	StepApprove = "approve"
)

// ErrAborted is returned when --stop-on-error ends the run early.
var ErrAborted = errors.New("run aborted after first failure")

// StepError is a failure of a whole step, or the aggregate of the
// per-update failures inside one.
type StepError struct {
	Step string
	Err  error
	// Partial is set when the step ran to the end with some failures; later
	// steps still run.
	Partial bool
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Failure is one update operation that did not succeed.
type Failure struct {
	Step     string `json:"step" yaml:"step"`
	UpdateID string `json:"updateId" yaml:"updateId"`
	Title    string `json:"title,omitempty" yaml:"title,omitempty"`
	Error    string `json:"error" yaml:"error"`
}

// CleanupStep is the outcome of the server cleanup.
type CleanupStep struct {
	Skipped    string             `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Result     wsus.CleanupResult `json:"result" yaml:"result"`
	FreeBefore uint64             `json:"freeBytesBefore,omitempty" yaml:"freeBytesBefore,omitempty"`
	FreeAfter  uint64             `json:"freeBytesAfter,omitempty" yaml:"freeBytesAfter,omitempty"`
	DurationMs int64              `json:"durationMs" yaml:"durationMs"`
}

// SyncStep is the outcome of a synchronization.
type SyncStep struct {
	Skipped    string           `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Polls      int              `json:"polls" yaml:"polls"`
	DurationMs int64            `json:"durationMs" yaml:"durationMs"`
	Last       *wsus.SyncResult `json:"last,omitempty" yaml:"last,omitempty"`
}

// DeclineStep counts the decline pass.
type DeclineStep struct {
	DeclineAll      bool                      `json:"declineAll" yaml:"declineAll"`
	Total           int                       `json:"total" yaml:"total"`
	AlreadyDeclined int                       `json:"alreadyDeclined" yaml:"alreadyDeclined"`
	Declined        int                       `json:"declined" yaml:"declined"`
	Failed          int                       `json:"failed" yaml:"failed"`
	ByRule          map[classifier.RuleID]int `json:"byRule,omitempty" yaml:"byRule,omitempty"`
}

// DeleteStep counts the purge of declined updates.
type DeleteStep struct {
	Total   int `json:"total" yaml:"total"`
	Deleted int `json:"deleted" yaml:"deleted"`
	Failed  int `json:"failed" yaml:"failed"`
}

// ApproveStep counts the approval pass.
type ApproveStep struct {
	Group    wsus.TargetGroup `json:"group" yaml:"group"`
	Total    int              `json:"total" yaml:"total"`
	Approved int              `json:"approved" yaml:"approved"`
	Skipped  int              `json:"skipped" yaml:"skipped"`
	Failed   int              `json:"failed" yaml:"failed"`
}

// Result collects what every requested step did. Steps that were not
// requested, or not reached, are nil.
type Result struct {
	DryRun   bool         `json:"dryRun" yaml:"dryRun"`
	Cleanup  *CleanupStep `json:"cleanup,omitempty" yaml:"cleanup,omitempty"`
	Sync     *SyncStep    `json:"sync,omitempty" yaml:"sync,omitempty"`
	Decline  *DeclineStep `json:"decline,omitempty" yaml:"decline,omitempty"`
	Delete   *DeleteStep  `json:"delete,omitempty" yaml:"delete,omitempty"`
	Approve  *ApproveStep `json:"approve,omitempty" yaml:"approve,omitempty"`
	Failures []Failure    `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// Failed reports whether any update operation failed.
func (r *Result) Failed() bool {
	return len(r.Failures) > 0
}

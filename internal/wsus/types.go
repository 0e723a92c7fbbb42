package wsus

import (
	"fmt"
	"strings"
	"time"
)

// ApprovalState is the server-side approval state of an update.
type ApprovalState int

const (
	NotApproved ApprovalState = iota
	Approved
	Declined
)

func (s ApprovalState) String() string {
	switch s {
	case NotApproved:
		return "NotApproved"
	case Approved:
		return "Approved"
	case Declined:
		return "Declined"
	default:
		return fmt.Sprintf("ApprovalState(%d)", int(s))
	}
}

// UpdateRecord describes one update as reported by the WSUS server.
type UpdateRecord struct {
	ID             string
	Title          string
	Classification string // e.g. "Drivers", "Security Updates"
	KBArticle      string // e.g. "KB5034441"
	IsBeta         bool
	IsSuperseded   bool
	IsDeclined     bool
	ApprovalState  ApprovalState
	ArrivalDate    time.Time
}

// TargetGroup is a computer target group that approvals apply to.
type TargetGroup struct {
	ID   string
	Name string
}

// AllComputersGroupID is the well-known ID of the built-in "All Computers" group.
const AllComputersGroupID = "a0a08746-4dbe-4a37-9adf-9e7652c0b421"

// SyncPhase mirrors the server's SynchronizationStatus enumeration.
type SyncPhase int

const (
	SyncNotProcessing SyncPhase = iota
	SyncRunning
	SyncStopping
)

func (p SyncPhase) String() string {
	switch p {
	case SyncNotProcessing:
		return "NotProcessing"
	case SyncRunning:
		return "Running"
	case SyncStopping:
		return "Stopping"
	default:
		return fmt.Sprintf("SyncPhase(%d)", int(p))
	}
}

// Processing reports whether a synchronization is still in flight.
func (p SyncPhase) Processing() bool {
	return p != SyncNotProcessing
}

// Synchronization outcomes reported in SyncResult.Result.
const (
	SyncResultUnknown   = "Unknown"
	SyncResultSucceeded = "Succeeded"
	SyncResultFailed    = "Failed"
	SyncResultCanceled  = "Canceled"
	SyncResultNeverRun  = "NeverRun"
)

// SyncResult summarizes the most recent synchronization.
type SyncResult struct {
	Result    string    `json:"result" yaml:"result"` // Succeeded, Failed, Canceled, ...
	StartTime time.Time `json:"startTime" yaml:"startTime"`
	EndTime   time.Time `json:"endTime" yaml:"endTime"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// CleanupScope selects what the server cleanup wizard should do.
type CleanupScope struct {
	RemoveLocalContentFiles     bool
	RemoveObsoleteClientRecords bool
	RemoveObsoleteUpdates       bool
	RemoveUnneededContentFiles  bool
	CompressRevisions           bool
	DeclineExpired              bool
	DeclineSuperseded           bool
}

// FullCleanupScope enables every cleanup option.
func FullCleanupScope() CleanupScope {
	return CleanupScope{
		RemoveLocalContentFiles:     true,
		RemoveObsoleteClientRecords: true,
		RemoveObsoleteUpdates:       true,
		RemoveUnneededContentFiles:  true,
		CompressRevisions:           true,
		DeclineExpired:              true,
		DeclineSuperseded:           true,
	}
}

// Empty reports whether no cleanup option is enabled.
func (s CleanupScope) Empty() bool {
	return s == CleanupScope{}
}

// CleanupResult captures what the server cleanup removed.
type CleanupResult struct {
	DiskSpaceFreed            int64 `json:"diskSpaceFreed" yaml:"diskSpaceFreed"` // bytes
	ExpiredUpdatesDeclined    int   `json:"expiredUpdatesDeclined" yaml:"expiredUpdatesDeclined"`
	ObsoleteComputersDeleted  int   `json:"obsoleteComputersDeleted" yaml:"obsoleteComputersDeleted"`
	ObsoleteUpdatesDeleted    int   `json:"obsoleteUpdatesDeleted" yaml:"obsoleteUpdatesDeleted"`
	SupersededUpdatesDeclined int   `json:"supersededUpdatesDeclined" yaml:"supersededUpdatesDeclined"`
	UpdatesCompressed         int   `json:"updatesCompressed" yaml:"updatesCompressed"`
}

// Options holds connection parameters for a WSUS server.
type Options struct {
	Host   string
	UseSSL bool
	Port   int
}

func (o Options) String() string {
	scheme := "http"
	if o.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, o.Host, o.Port)
}

// IsLocalHost reports whether host names this machine.
func IsLocalHost(host, hostname string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	switch h {
	case "", "localhost", "127.0.0.1", "::1", ".":
		return true
	}
	name := strings.ToLower(hostname)
	if h == name {
		return true
	}
	// FQDN of this machine
	return name != "" && strings.HasPrefix(h, name+".")
}

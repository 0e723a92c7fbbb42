// Package report summarizes a maintenance run and ships the summary to a
// configured destination.
package report

import (
	"errors"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/breeze-rmm/wsus/internal/maintenance"
)

// Status is the overall outcome of a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

var statusRank = map[Status]int{
	StatusSucceeded: 0,
	StatusPartial:   1,
	StatusFailed:    2,
}

func worse(a, b Status) bool {
	return statusRank[a] > statusRank[b]
}

// Host describes the machine the run was launched from.
type Host struct {
	Hostname        string `json:"hostname" yaml:"hostname"`
	OS              string `json:"os" yaml:"os"`
	Platform        string `json:"platform,omitempty" yaml:"platform,omitempty"`
	PlatformVersion string `json:"platformVersion,omitempty" yaml:"platformVersion,omitempty"`
}

// LocalHost reads the current machine's identity. Errors yield a partial
// Host rather than failing the report.
func LocalHost() Host {
	info, err := host.Info()
	if err != nil || info == nil {
		return Host{}
	}
	return Host{
		Hostname:        info.Hostname,
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
	}
}

// Report is the serialized summary of one run.
type Report struct {
	Server     string              `json:"server" yaml:"server"`
	Version    string              `json:"version" yaml:"version"`
	Host       Host                `json:"host" yaml:"host"`
	StartedAt  time.Time           `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time           `json:"finishedAt" yaml:"finishedAt"`
	DurationMs int64               `json:"durationMs" yaml:"durationMs"`
	Status     Status              `json:"status" yaml:"status"`
	Errors     []string            `json:"errors,omitempty" yaml:"errors,omitempty"`
	Result     *maintenance.Result `json:"result" yaml:"result"`
}

// New builds a report from a finished run. runErr is the error returned by
// Runner.Run.
func New(server, version string, started, finished time.Time, res *maintenance.Result, runErr error) *Report {
	if res == nil {
		res = &maintenance.Result{}
	}
	r := &Report{
		Server:     server,
		Version:    version,
		StartedAt:  started.UTC(),
		FinishedAt: finished.UTC(),
		DurationMs: finished.Sub(started).Milliseconds(),
		Status:     statusOf(res, runErr),
		Result:     res,
	}
	for _, err := range flatten(runErr) {
		r.Errors = append(r.Errors, err.Error())
	}
	return r
}

// statusOf is the worst outcome across steps: a step that stopped the run
// is a failure, per-update failures are partial.
func statusOf(res *maintenance.Result, runErr error) Status {
	status := StatusSucceeded
	if res.Failed() && worse(StatusPartial, status) {
		status = StatusPartial
	}
	for _, err := range flatten(runErr) {
		s := StatusFailed
		var se *maintenance.StepError
		if errors.As(err, &se) && se.Partial {
			s = StatusPartial
		}
		if worse(s, status) {
			status = s
		}
	}
	return status
}

// flatten splits an errors.Join result into its members.
func flatten(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

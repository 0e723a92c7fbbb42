package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/wsus/internal/classifier"
)

// Format is a serialization of the report.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" or "yml".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown report format %q", s)
	}
}

// Ext returns the file extension without the dot.
func (f Format) Ext() string {
	return string(f)
}

// ContentType returns the MIME type used when uploading.
func (f Format) ContentType() string {
	if f == FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

// Marshal serializes the report.
func (r *Report) Marshal(f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.MarshalIndent(r, "", "  ")
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", f)
	}
}

// Render writes the human-readable summary.
func (r *Report) Render(w io.Writer) error {
	p := &printer{w: w}

	title := "WSUS maintenance report: " + r.Server
	if r.Result.DryRun {
		title += " (dry run)"
	}
	p.line("%s", title)
	p.line("%s", strings.Repeat("=", len(title)))
	p.row("Started", r.StartedAt.Format(time.RFC3339))
	p.row("Duration", (time.Duration(r.DurationMs) * time.Millisecond).String())
	p.row("Status", string(r.Status))

	res := r.Result
	if c := res.Cleanup; c != nil {
		p.section("Cleanup")
		if c.Skipped != "" {
			p.row("skipped", c.Skipped)
		} else {
			p.row("disk space freed", formatBytes(uint64(max(c.Result.DiskSpaceFreed, 0))))
			p.row("obsolete updates deleted", c.Result.ObsoleteUpdatesDeleted)
			p.row("expired updates declined", c.Result.ExpiredUpdatesDeclined)
			p.row("superseded updates declined", c.Result.SupersededUpdatesDeclined)
			p.row("updates compressed", c.Result.UpdatesCompressed)
			p.row("obsolete computers deleted", c.Result.ObsoleteComputersDeleted)
			if c.FreeAfter > 0 {
				p.row("content volume free", fmt.Sprintf("%s -> %s", formatBytes(c.FreeBefore), formatBytes(c.FreeAfter)))
			}
		}
	}

	if s := res.Sync; s != nil {
		p.section("Synchronization")
		switch {
		case s.Skipped != "":
			p.row("skipped", s.Skipped)
		case s.Last != nil:
			p.row("result", fmt.Sprintf("%s after %d checks", s.Last.Result, s.Polls))
			if s.Last.Error != "" {
				p.row("error", s.Last.Error)
			}
		default:
			p.row("checks", s.Polls)
		}
	}

	if d := res.Decline; d != nil {
		title := "Decline"
		if d.DeclineAll {
			title += " (all)"
		}
		p.section(title)
		p.row("declined", fmt.Sprintf("%d of %d", d.Declined, d.Total))
		p.row("already declined", d.AlreadyDeclined)
		p.row("failed", d.Failed)
		for _, id := range ruleOrder(d.ByRule) {
			p.row("  "+string(id), d.ByRule[id])
		}
	}

	if d := res.Delete; d != nil {
		p.section("Delete declined")
		p.row("deleted", fmt.Sprintf("%d of %d", d.Deleted, d.Total))
		p.row("failed", d.Failed)
	}

	if a := res.Approve; a != nil {
		p.section("Approve")
		if a.Group.Name != "" {
			p.row("target group", a.Group.Name)
		}
		p.row("approved", fmt.Sprintf("%d of %d", a.Approved, a.Total))
		p.row("skipped", a.Skipped)
		p.row("failed", a.Failed)
	}

	if len(res.Failures) > 0 {
		p.section("Failures")
		for _, f := range res.Failures {
			p.line("  %s %s %s: %s", f.Step, f.UpdateID, f.Title, f.Error)
		}
	}
	if len(r.Errors) > 0 {
		p.section("Errors")
		for _, e := range r.Errors {
			p.line("  %s", e)
		}
	}
	return p.err
}

// ruleOrder lists the rule IDs present in counts in evaluation order, with
// decline-all first.
func ruleOrder(counts map[classifier.RuleID]int) []classifier.RuleID {
	rank := map[classifier.RuleID]int{classifier.RuleDeclineAll: -1}
	for i, rule := range classifier.Rules() {
		rank[rule.ID] = i
	}
	ids := make([]classifier.RuleID, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return rank[ids[i]] < rank[ids[j]] })
	return ids
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) line(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) section(name string) {
	p.line("")
	p.line("%s", name)
}

func (p *printer) row(label string, value any) {
	p.line("  %-28s %v", label, value)
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

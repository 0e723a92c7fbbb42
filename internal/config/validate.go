package config

import (
	"fmt"
	"strings"
	"unicode"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validReportFormats = map[string]bool{
	"json": true,
	"yaml": true,
}

var validReportDestinations = map[string]bool{
	"":      true,
	"local": true,
	"s3":    true,
	"gcs":   true,
	"azure": true,
	"b2":    true,
}

// ValidationResult separates errors that must stop the run from values that
// were corrected in place.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether the run must not start.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// ValidateTiered checks the config. Out-of-range tunables are clamped and
// reported as warnings; values that would make the run misbehave are fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult
	fatal := func(format string, args ...any) { r.Fatals = append(r.Fatals, fmt.Errorf(format, args...)) }
	warn := func(format string, args ...any) { r.Warnings = append(r.Warnings, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.Server) == "" {
		fatal("server is required")
	} else if strings.IndexFunc(c.Server, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		fatal("server %q contains whitespace or control characters", c.Server)
	}

	if c.Port < 1 || c.Port > 65535 {
		fatal("port %d is out of range 1-65535", c.Port)
	}

	if c.SyncPollIntervalSeconds < 10 {
		warn("sync_poll_interval_seconds %d is below minimum 10, clamping", c.SyncPollIntervalSeconds)
		c.SyncPollIntervalSeconds = 10
	} else if c.SyncPollIntervalSeconds > 3600 {
		warn("sync_poll_interval_seconds %d exceeds maximum 3600, clamping", c.SyncPollIntervalSeconds)
		c.SyncPollIntervalSeconds = 3600
	}

	if c.SyncTimeoutMinutes < 0 {
		warn("sync_timeout_minutes %d is negative, waiting without a timeout", c.SyncTimeoutMinutes)
		c.SyncTimeoutMinutes = 0
	}

	if c.ApproveMaxAgeDays < 0 {
		warn("approve_max_age_days %d is negative, approving regardless of age", c.ApproveMaxAgeDays)
		c.ApproveMaxAgeDays = 0
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		fatal("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel)
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		fatal("log_format %q is not valid (use text or json)", c.LogFormat)
	}

	if c.AuditEnabled && c.AuditDir == "" {
		fatal("audit_dir is required when audit_enabled is true")
	}

	c.validateReport(fatal)
	return r
}

func (c *Config) validateReport(fatal func(string, ...any)) {
	rc := &c.Report
	rc.Format = strings.ToLower(rc.Format)
	rc.Destination = strings.ToLower(rc.Destination)

	if !validReportFormats[rc.Format] {
		fatal("report.format %q is not valid (use json or yaml)", rc.Format)
	}
	if !validReportDestinations[rc.Destination] {
		fatal("report.destination %q is not valid (use local, s3, gcs, azure or b2)", rc.Destination)
		return
	}

	switch rc.Destination {
	case "local":
		if rc.LocalDir == "" {
			rc.LocalDir = GetDataDir()
		}
	case "s3":
		if rc.Bucket == "" || rc.Region == "" {
			fatal("report.bucket and report.region are required for s3")
		}
		if (rc.AccessKeyID == "") != (rc.SecretAccessKey == "") {
			fatal("report.access_key_id and report.secret_access_key must be set together")
		}
	case "gcs":
		if rc.Bucket == "" {
			fatal("report.bucket is required for gcs")
		}
	case "azure":
		if rc.Bucket == "" || rc.AzureConnectionString == "" {
			fatal("report.bucket (container) and report.azure_connection_string are required for azure")
		}
	case "b2":
		if rc.Bucket == "" || rc.B2AccountID == "" || rc.B2ApplicationKey == "" {
			fatal("report.bucket, report.b2_account_id and report.b2_application_key are required for b2")
		}
	}
}

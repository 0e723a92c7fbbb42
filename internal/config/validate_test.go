package config

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	cfg.Server = "wsus01"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("default config should be valid, got %v", result.Fatals)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("default config should produce no warnings, got %v", result.Warnings)
	}
}

func TestValidateTieredPortOutOfRangeIsFatal(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		cfg := Default()
		cfg.Server = "wsus01"
		cfg.Port = port
		if !cfg.ValidateTiered().HasFatals() {
			t.Fatalf("port %d should be fatal", port)
		}
	}
}

func TestValidateTieredServerWithControlCharsIsFatal(t *testing.T) {
	cfg := Default()
	cfg.Server = "wsus\x0001"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("control chars in server should be fatal")
	}
}

func TestValidateTieredEmptyServerIsFatal(t *testing.T) {
	cfg := Default()
	cfg.Server = "  "
	if !cfg.ValidateTiered().HasFatals() {
		t.Fatal("blank server should be fatal")
	}
}

func TestValidateTieredPollIntervalClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.Server = "wsus01"
	cfg.SyncPollIntervalSeconds = 1
	result := cfg.ValidateTiered()

	if result.HasFatals() {
		t.Fatalf("clamped interval should be warning, not fatal: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for clamped interval")
	}
	if cfg.SyncPollIntervalSeconds != 10 {
		t.Fatalf("SyncPollIntervalSeconds = %d, want 10 (clamped)", cfg.SyncPollIntervalSeconds)
	}

	cfg.SyncPollIntervalSeconds = 7200
	cfg.ValidateTiered()
	if cfg.SyncPollIntervalSeconds != 3600 {
		t.Fatalf("SyncPollIntervalSeconds = %d, want 3600 (clamped)", cfg.SyncPollIntervalSeconds)
	}
}

func TestValidateTieredNegativeValuesAreClamped(t *testing.T) {
	cfg := Default()
	cfg.Server = "wsus01"
	cfg.SyncTimeoutMinutes = -5
	cfg.ApproveMaxAgeDays = -1
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("unexpected fatals: %v", result.Fatals)
	}
	if cfg.SyncTimeoutMinutes != 0 || cfg.ApproveMaxAgeDays != 0 {
		t.Fatalf("expected clamping to 0, got timeout=%d maxAge=%d", cfg.SyncTimeoutMinutes, cfg.ApproveMaxAgeDays)
	}
	if len(result.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %d", len(result.Warnings))
	}
}

func TestValidateTieredInvalidLogSettingsAreFatal(t *testing.T) {
	cfg := Default()
	cfg.Server = "wsus01"
	cfg.LogLevel = "verbose"
	cfg.LogFormat = "xml"
	result := cfg.ValidateTiered()
	if len(result.Fatals) != 2 {
		t.Fatalf("expected 2 fatals, got %v", result.Fatals)
	}
}

func TestValidateTieredReportDestinations(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ReportConfig)
		wantErr string
	}{
		{"unknown destination", func(r *ReportConfig) { r.Destination = "ftp" }, "report.destination"},
		{"unknown format", func(r *ReportConfig) { r.Format = "xml" }, "report.format"},
		{"s3 without region", func(r *ReportConfig) { r.Destination = "s3"; r.Bucket = "b" }, "required for s3"},
		{"s3 half credentials", func(r *ReportConfig) {
			r.Destination = "s3"
			r.Bucket, r.Region, r.AccessKeyID = "b", "us-east-1", "AKIA"
		}, "must be set together"},
		{"gcs without bucket", func(r *ReportConfig) { r.Destination = "gcs" }, "required for gcs"},
		{"azure without connection string", func(r *ReportConfig) { r.Destination = "azure"; r.Bucket = "c" }, "required for azure"},
		{"b2 without key", func(r *ReportConfig) { r.Destination = "b2"; r.Bucket = "b"; r.B2AccountID = "id" }, "required for b2"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Server = "wsus01"
			tc.mutate(&cfg.Report)
			result := cfg.ValidateTiered()
			if !result.HasFatals() {
				t.Fatal("expected fatal")
			}
			found := false
			for _, err := range result.Fatals {
				if strings.Contains(err.Error(), tc.wantErr) {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected %q in fatals, got %v", tc.wantErr, result.Fatals)
			}
		})
	}
}

func TestValidateTieredLocalReportDefaultsDir(t *testing.T) {
	cfg := Default()
	cfg.Server = "wsus01"
	cfg.Report.Destination = "LOCAL"
	if result := cfg.ValidateTiered(); result.HasFatals() {
		t.Fatalf("unexpected fatals: %v", result.Fatals)
	}
	if cfg.Report.Destination != "local" || cfg.Report.LocalDir == "" {
		t.Fatalf("expected normalized destination with default dir, got %+v", cfg.Report)
	}
}

func TestValidateTieredReturnsWarningsWithoutLogging(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := Default()
	cfg.Server = "wsus01"
	cfg.SyncPollIntervalSeconds = 5
	result := cfg.ValidateTiered()

	if len(result.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", result.Warnings)
	}
	if buf.Len() != 0 {
		t.Fatalf("validation should leave reporting to the caller, logged %q", buf.String())
	}
}

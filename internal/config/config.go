package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the effective configuration of one maintenance run.
type Config struct {
	Server string `mapstructure:"server"`
	UseSSL bool   `mapstructure:"use_ssl"`
	Port   int    `mapstructure:"port"`

	AutoDecline    bool `mapstructure:"auto_decline"`
	DeclineAll     bool `mapstructure:"decline_all"`
	DeleteDeclined bool `mapstructure:"delete_declined"`
	AutoApprove    bool `mapstructure:"auto_approve"`
	Sync           bool `mapstructure:"wsus_sync"`
	Cleanup        bool `mapstructure:"wsus_cleanup"`

	DryRun      bool `mapstructure:"dry_run"`
	StopOnError bool `mapstructure:"stop_on_error"`

	PolicyFile        string `mapstructure:"policy_file"`
	TargetGroup       string `mapstructure:"target_group"`
	ApproveMaxAgeDays int    `mapstructure:"approve_max_age_days"`

	SyncPollIntervalSeconds int `mapstructure:"sync_poll_interval_seconds"`
	SyncTimeoutMinutes      int `mapstructure:"sync_timeout_minutes"`

	CleanupScope CleanupConfig `mapstructure:"cleanup"`
	ContentDir   string        `mapstructure:"content_dir"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	AuditEnabled    bool   `mapstructure:"audit_enabled"`
	AuditDir        string `mapstructure:"audit_dir"`
	AuditMaxSizeMB  int    `mapstructure:"audit_max_size_mb"`
	AuditMaxBackups int    `mapstructure:"audit_max_backups"`

	Report ReportConfig `mapstructure:"report"`
}

// CleanupConfig selects the server cleanup options run by --wsus-cleanup.
type CleanupConfig struct {
	RemoveLocalContentFiles     bool `mapstructure:"remove_local_content_files"`
	RemoveObsoleteClientRecords bool `mapstructure:"remove_obsolete_client_records"`
	RemoveObsoleteUpdates       bool `mapstructure:"remove_obsolete_updates"`
	RemoveUnneededContentFiles  bool `mapstructure:"remove_unneeded_content_files"`
	CompressRevisions           bool `mapstructure:"compress_revisions"`
	DeclineExpired              bool `mapstructure:"decline_expired"`
	DeclineSuperseded           bool `mapstructure:"decline_superseded"`
}

// ReportConfig controls where the run report is stored.
type ReportConfig struct {
	Format      string `mapstructure:"format"`      // json, yaml
	Destination string `mapstructure:"destination"` // "", local, s3, gcs, azure, b2
	Prefix      string `mapstructure:"prefix"`

	LocalDir string `mapstructure:"local_dir"`

	Bucket          string `mapstructure:"bucket"` // bucket or container name
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`

	GCSCredentialsFile    string `mapstructure:"gcs_credentials_file"`
	AzureConnectionString string `mapstructure:"azure_connection_string"`
	B2AccountID           string `mapstructure:"b2_account_id"`
	B2ApplicationKey      string `mapstructure:"b2_application_key"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"server":             "server",
	"use-ssl":            "use_ssl",
	"port":               "port",
	"auto-decline":       "auto_decline",
	"decline-all":        "decline_all",
	"delete-declined":    "delete_declined",
	"auto-approve":       "auto_approve",
	"wsus-sync":          "wsus_sync",
	"wsus-cleanup":       "wsus_cleanup",
	"dry-run":            "dry_run",
	"stop-on-error":      "stop_on_error",
	"policy":             "policy_file",
	"target-group":       "target_group",
	"sync-poll-interval": "sync_poll_interval_seconds",
	"sync-timeout":       "sync_timeout_minutes",
	"report-format":      "report.format",
	"report-dest":        "report.destination",
	"log-level":          "log_level",
	"log-format":         "log_format",
	"log-file":           "log_file",
}

// Default returns the built-in configuration.
func Default() *Config {
	hostname, _ := os.Hostname()
	return &Config{
		Server:                  hostname,
		Port:                    8530,
		SyncPollIntervalSeconds: 60,
		CleanupScope: CleanupConfig{
			RemoveLocalContentFiles:     true,
			RemoveObsoleteClientRecords: true,
			RemoveObsoleteUpdates:       true,
			RemoveUnneededContentFiles:  true,
			CompressRevisions:           true,
			DeclineExpired:              true,
			DeclineSuperseded:           true,
		},
		LogLevel:        "info",
		LogFormat:       "text",
		LogMaxSizeMB:    10,
		LogMaxBackups:   3,
		AuditEnabled:    true,
		AuditDir:        GetDataDir(),
		AuditMaxSizeMB:  50,
		AuditMaxBackups: 3,
		Report: ReportConfig{
			Format: "json",
			Prefix: "wsus-reports",
		},
	}
}

// Load merges defaults, the config file, BREEZE_WSUS_* environment variables
// and explicitly set flags, in increasing order of precedence.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("wsus")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("BREEZE_WSUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server", d.Server)
	v.SetDefault("use_ssl", d.UseSSL)
	v.SetDefault("port", d.Port)
	v.SetDefault("auto_decline", false)
	v.SetDefault("decline_all", false)
	v.SetDefault("delete_declined", false)
	v.SetDefault("auto_approve", false)
	v.SetDefault("wsus_sync", false)
	v.SetDefault("wsus_cleanup", false)
	v.SetDefault("dry_run", false)
	v.SetDefault("stop_on_error", false)
	v.SetDefault("policy_file", "")
	v.SetDefault("target_group", "")
	v.SetDefault("approve_max_age_days", 0)
	v.SetDefault("sync_poll_interval_seconds", d.SyncPollIntervalSeconds)
	v.SetDefault("sync_timeout_minutes", 0)
	v.SetDefault("content_dir", "")

	v.SetDefault("cleanup.remove_local_content_files", d.CleanupScope.RemoveLocalContentFiles)
	v.SetDefault("cleanup.remove_obsolete_client_records", d.CleanupScope.RemoveObsoleteClientRecords)
	v.SetDefault("cleanup.remove_obsolete_updates", d.CleanupScope.RemoveObsoleteUpdates)
	v.SetDefault("cleanup.remove_unneeded_content_files", d.CleanupScope.RemoveUnneededContentFiles)
	v.SetDefault("cleanup.compress_revisions", d.CleanupScope.CompressRevisions)
	v.SetDefault("cleanup.decline_expired", d.CleanupScope.DeclineExpired)
	v.SetDefault("cleanup.decline_superseded", d.CleanupScope.DeclineSuperseded)

	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", d.LogMaxSizeMB)
	v.SetDefault("log_max_backups", d.LogMaxBackups)

	v.SetDefault("audit_enabled", d.AuditEnabled)
	v.SetDefault("audit_dir", d.AuditDir)
	v.SetDefault("audit_max_size_mb", d.AuditMaxSizeMB)
	v.SetDefault("audit_max_backups", d.AuditMaxBackups)

	v.SetDefault("report.format", d.Report.Format)
	v.SetDefault("report.destination", "")
	v.SetDefault("report.prefix", d.Report.Prefix)
	for _, key := range []string{
		"local_dir", "bucket", "region", "endpoint", "access_key_id", "secret_access_key",
		"session_token", "gcs_credentials_file", "azure_connection_string",
		"b2_account_id", "b2_application_key",
	} {
		v.SetDefault("report."+key, "")
	}
}

// GetDataDir returns the directory for audit logs and local reports.
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Breeze", "wsus")
	default:
		return "/var/lib/breeze/wsus"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Breeze")
	case "darwin":
		return "/Library/Application Support/Breeze"
	default:
		return "/etc/breeze"
	}
}

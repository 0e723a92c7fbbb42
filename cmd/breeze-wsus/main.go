package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/wsus/internal/audit"
	"github.com/breeze-rmm/wsus/internal/classifier"
	"github.com/breeze-rmm/wsus/internal/config"
	"github.com/breeze-rmm/wsus/internal/logging"
	"github.com/breeze-rmm/wsus/internal/maintenance"
	"github.com/breeze-rmm/wsus/internal/report"
	"github.com/breeze-rmm/wsus/internal/wsus"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

const publishTimeout = 2 * time.Minute

var rootCmd = &cobra.Command{
	Use:   "breeze-wsus",
	Short: "WSUS update lifecycle maintenance",
	Long: `breeze-wsus keeps a WSUS server tidy: it runs the server cleanup, synchronizes
with the upstream catalog, declines unwanted updates by policy, purges declined
updates and approves the rest for a computer target group.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runMaintenance(cmd))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("breeze-wsus v%s\n", version)
	},
}

// boolArg is a boolean flag that takes its value as a separate argument,
// as in "--use-ssl true".
type boolArg bool

func (b *boolArg) String() string { return strconv.FormatBool(bool(*b)) }

func (b *boolArg) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*b = boolArg(v)
	return nil
}

func (b *boolArg) Type() string { return "bool" }

func init() {
	hostname, _ := os.Hostname()

	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "config file (default is <config dir>/wsus.yaml)")
	f.String("server", hostname, "WSUS server host name")
	f.Var(new(boolArg), "use-ssl", "connect to the WSUS server over SSL (`true|false`)")
	f.Int("port", 8530, "WSUS server port")
	f.Bool("auto-decline", false, "decline updates matched by the decline policy")
	f.Bool("decline-all", false, "decline every update that is not already declined")
	f.Bool("delete-declined", false, "delete declined updates from the server")
	f.Bool("auto-approve", false, "approve unapproved updates for the target group")
	f.Bool("wsus-sync", false, "synchronize with the upstream server and wait for it to finish")
	f.Bool("wsus-cleanup", false, "run the server cleanup")

	f.String("policy", "", "decline policy file overriding the built-in vocabulary")
	f.String("target-group", "", "computer target group name or ID for approvals (default All Computers)")
	f.Bool("dry-run", false, "report what would change without modifying the server")
	f.Bool("stop-on-error", false, "abort the run at the first failed update operation")
	f.Int("sync-poll-interval", 60, "seconds between synchronization status checks")
	f.Int("sync-timeout", 0, "minutes to wait for synchronization (0 waits indefinitely)")
	f.String("report-format", "json", "report format for --report-dest: json or yaml")
	f.String("report-dest", "", "store the run report: local, s3, gcs, azure or b2")
	f.String("log-level", "info", "log level: debug, info, warn, error")
	f.String("log-format", "text", "log format: text or json")
	f.String("log-file", "", "also write logs to this file (rotated by size)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(auditCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads and validates the effective configuration. Fatal
// problems are printed and reported as an error.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	errOut := cmd.ErrOrStderr()
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	result := cfg.ValidateTiered()
	for _, w := range result.Warnings {
		fmt.Fprintf(errOut, "Config warning: %v\n", w)
	}
	if result.HasFatals() {
		for _, f := range result.Fatals {
			fmt.Fprintf(errOut, "Config error: %v\n", f)
		}
		return nil, errors.New("invalid configuration")
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) (io.Closer, error) {
	if cfg.LogFile == "" {
		logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)
		return io.NopCloser(nil), nil
	}
	rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	if err != nil {
		logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)
		return io.NopCloser(nil), err
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, logging.TeeWriter(os.Stderr, rw))
	return rw, nil
}

func runMaintenance(cmd *cobra.Command) int {
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	logCloser, err := setupLogging(cfg)
	if err != nil {
		log.Warn("log file unavailable, logging to stderr only", "path", cfg.LogFile, logging.KeyError, err)
	}
	defer logCloser.Close()

	policy, err := classifier.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		fmt.Fprintf(errOut, "Failed to load decline policy: %v\n", err)
		return 1
	}

	opts := maintenance.OptionsFromConfig(cfg)
	if !opts.Requested() {
		fmt.Fprintln(out, "Nothing to do. Enable at least one of --wsus-cleanup, --wsus-sync, --auto-decline,")
		fmt.Fprintln(out, "--decline-all, --delete-declined or --auto-approve.")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	auditLog, err := audit.NewLogger(cfg)
	if err != nil {
		log.Warn("audit log unavailable", logging.KeyError, err)
	}
	defer auditLog.Close()

	connOpts := wsus.Options{Host: cfg.Server, UseSSL: cfg.UseSSL, Port: cfg.Port}
	fmt.Fprintf(out, "Connecting to WSUS server %s\n", connOpts)
	server, err := wsus.Connect(ctx, connOpts)
	if err != nil {
		fmt.Fprintf(errOut, "Failed to connect to WSUS server: %v\n", err)
		if hint := connectHint(err); hint != "" {
			fmt.Fprintln(errOut, hint)
		}
		auditLog.Failure("connect", "", err)
		return 1
	}
	defer server.Close()

	if cfg.DryRun {
		fmt.Fprintln(out, "Dry run: no changes will be made")
	}

	runner := maintenance.NewRunner(server, opts, classifier.New(policy), auditLog, out)
	started := time.Now()
	res, runErr := runner.Run(ctx)
	finished := time.Now()

	rep := report.New(cfg.Server, version, started, finished, res, runErr)
	rep.Host = report.LocalHost()
	fmt.Fprintln(out)
	if err := rep.Render(out); err != nil {
		log.Warn("failed to render report", logging.KeyError, err)
	}

	exit := 0
	if runErr != nil {
		log.Error("maintenance finished with errors", logging.KeyServer, cfg.Server, logging.KeyError, runErr)
		exit = 1
	}
	if err := publishReport(out, cfg, rep); err != nil {
		fmt.Fprintf(errOut, "Failed to store report: %v\n", err)
		exit = 1
	}
	return exit
}

// publishReport ships the report to the configured sink. It runs on its own
// context so that an interrupted run still leaves a report behind.
func publishReport(out io.Writer, cfg *config.Config, rep *report.Report) error {
	if cfg.Report.Destination == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	format, err := report.ParseFormat(cfg.Report.Format)
	if err != nil {
		return err
	}
	sink, err := report.NewSink(ctx, cfg.Report)
	if err != nil {
		return err
	}
	key, err := report.Publish(ctx, sink, rep, format, cfg.Report.Prefix)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Report stored at %s:%s\n", sink.Name(), key)
	return nil
}

func connectHint(err error) string {
	switch {
	case errors.Is(err, wsus.ErrUnsupportedPlatform):
		return "Run breeze-wsus on a Windows host with the WSUS administration console installed."
	case errors.Is(err, wsus.ErrAPINotInstalled):
		return "Install the WSUS administration console (UpdateServices-UI) on this host."
	case errors.Is(err, wsus.ErrAccessDenied):
		return "Run from an elevated prompt as a member of WSUS Administrators."
	case errors.Is(err, wsus.ErrServerUnreachable):
		return "Check --server, --port and --use-ssl, and that the server is reachable."
	}
	return ""
}

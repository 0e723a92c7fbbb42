package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/breeze-rmm/wsus/internal/audit"
	"github.com/breeze-rmm/wsus/internal/classifier"
	"github.com/breeze-rmm/wsus/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		fmt.Printf("Configuration loaded successfully:\n%s\n", spew.Sdump(redact(*cfg)))
		return nil
	},
}

const redacted = "[redacted]"

// redact blanks credentials before the config is printed.
func redact(cfg config.Config) config.Config {
	for _, s := range []*string{
		&cfg.Report.SecretAccessKey,
		&cfg.Report.SessionToken,
		&cfg.Report.AzureConnectionString,
		&cfg.Report.B2ApplicationKey,
	} {
		if *s != "" {
			*s = redacted
		}
	}
	return cfg
}

var policyYAML bool

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Print the effective decline rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		p, err := classifier.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return err
		}
		if policyYAML {
			out, err := p.ToYAML()
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		}
		printRules(classifier.New(p))
		return nil
	},
}

func printRules(c *classifier.Classifier) {
	fmt.Println("Updates that are already declined are skipped. First matching rule declines:")
	for i, rule := range classifier.Rules() {
		fmt.Printf("%d. %-17s %s\n", i+1, rule.ID, rule.Label)
		if terms := c.Terms(rule.ID); terms != nil {
			if len(terms) == 0 {
				fmt.Println("   (disabled: no terms)")
				continue
			}
			fmt.Printf("   %s\n", strings.Join(terms, ", "))
		}
	}
}

var auditFile string

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Verify the audit log hash chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := auditFile
		if path == "" {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			path = filepath.Join(cfg.AuditDir, audit.FileName)
		}
		entries, err := audit.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read audit log: %w", err)
		}
		if err := audit.Verify(entries); err != nil {
			fmt.Fprintf(os.Stderr, "Audit log %s is NOT intact: %v\n", path, err)
			os.Exit(2)
		}
		fmt.Printf("Audit log %s: %d entries, hash chain intact\n", path, len(entries))
		return nil
	},
}

func init() {
	policyCmd.Flags().BoolVar(&policyYAML, "yaml", false, "print the effective policy as YAML")
	auditCmd.Flags().StringVar(&auditFile, "file", "", "audit log to verify (default is <audit_dir>/"+audit.FileName+")")
}

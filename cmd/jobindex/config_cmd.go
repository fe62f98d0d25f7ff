package main

import (
	"fmt"
	"io"
	"os"

	"github.com/BadgerOps/jobindex/internal/config"
	"github.com/BadgerOps/jobindex/internal/connection"
	"github.com/BadgerOps/jobindex/internal/tenant"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "<redacted>"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long: `Inspect the jobindex configuration. The file is read from --config or the
standard locations, then JOBINDEX_* environment variables are applied.`,
		Example: `  jobindex config show
  jobindex config validate`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigValidateCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration in YAML format with secrets
redacted.`,
		Example: `  jobindex config show
  jobindex config show --config /etc/jobindex/jobindex.yaml`,
		RunE: configShowRun,
	}
}

func configShowRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	data, err := yaml.Marshal(redactConfig(globalCfg))
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println(string(data))

	return nil
}

// redactConfig returns a copy of cfg without secrets
func redactConfig(cfg *config.Config) *config.Config {
	out := *cfg
	if out.GitHubWebhookSecret != "" {
		out.GitHubWebhookSecret = redacted
	}
	out.Connections = make(map[string]config.ConnectionConfig, len(cfg.Connections))
	for name, raw := range cfg.Connections {
		conn := make(config.ConnectionConfig, len(raw))
		for k, v := range raw {
			if k == "password" {
				v = redacted
			}
			conn[k] = v
		}
		out.Connections[name] = conn
	}
	return &out
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and tenant sources",
		Long: `Check that the configuration is complete, every connection can be created
and, when the tenant sources are read from a file, that the file parses.
Connections are not contacted.`,
		RunE: configValidateRun,
	}
}

func configValidateRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	return validateConfig(os.Stdout, globalCfg)
}

func validateConfig(w io.Writer, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(w, color.RedString("Configuration invalid: %v", err))
		return err
	}

	reg, err := connection.FromConfig(cfg, logger)
	if err != nil {
		fmt.Fprintln(w, color.RedString("Connections invalid: %v", err))
		return err
	}
	fmt.Fprintf(w, "Connections: %v\n", reg.Names())

	if cfg.TenantSources.File != "" {
		parser := tenant.NewParser(logger)
		if err := parser.LoadFile(cfg.TenantSources.File); err != nil {
			fmt.Fprintln(w, color.RedString("Tenant sources invalid: %v", err))
			return err
		}
		parser.Parse()
		fmt.Fprintf(w, "Tenants:     %d\n", len(parser.Tenants))
		fmt.Fprintf(w, "Repos:       %d\n", len(parser.Repos()))

		for _, repo := range parser.Repos() {
			entry := parser.RepoMap[repo]
			if _, ok := reg.Get(entry.ConnectionName); !ok {
				fmt.Fprintln(w, color.YellowString("  %s uses unknown connection '%s'", repo, entry.ConnectionName))
			}
		}
	}

	fmt.Fprintln(w, color.GreenString("Configuration OK"))
	return nil
}

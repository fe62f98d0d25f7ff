package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BadgerOps/jobindex/internal/config"
	"github.com/BadgerOps/jobindex/internal/connection"
	"github.com/BadgerOps/jobindex/internal/engine"
	"github.com/BadgerOps/jobindex/internal/store"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgPath   string
	logLevel  string
	logFormat string
	globalCfg *config.Config
	logger    *slog.Logger

	// Global components
	globalStore       *store.Store
	globalConnections *connection.Registry
	globalReconciler  *engine.Reconciler
)

// initializeComponents opens the index store
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	st, err := store.Open(globalCfg.Store.Driver, globalCfg.Store.DSN, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	globalStore = st

	logger.Debug("components initialized successfully")
	return nil
}

// initializeScraper validates the scraper settings, initializes every
// connection and creates the reconciler
func initializeScraper(ctx context.Context) error {
	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}
	if err := globalCfg.Validate(); err != nil {
		return err
	}

	reg, err := connection.FromConfig(globalCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create connections: %w", err)
	}
	if err := reg.InitAll(ctx); err != nil {
		return err
	}
	globalConnections = reg

	globalReconciler = engine.NewReconciler(globalStore, globalConnections, globalCfg, logger)
	return nil
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmdName string) bool {
	skipInitCmds := map[string]bool{
		"help":     true,
		"version":  true,
		"config":   true,
		"show":     true,
		"validate": true,
	}
	return skipInitCmds[cmdName]
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}

// loadConfig reads the config file, or the defaults when there is none, and
// overlays the environment
func loadConfig() (*config.Config, error) {
	if cfgPath == "" {
		var err error
		cfgPath, err = config.FindConfigFile()
		if err != nil {
			logger.Debug("config file not found, using defaults", "error", err)
		}
	}

	cfg := config.DefaultConfig()
	if cfgPath != "" {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	config.ApplyEnv(cfg, config.NewEnv())
	return cfg, nil
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		globalStore = nil
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobindex",
		Short: "Index Zuul jobs and Ansible roles of the repositories in a Zuul tenant configuration",
		Long: `jobindex reads a Zuul tenant configuration, scrapes the Zuul jobs and Ansible
roles of every listed repository from GitHub, Gerrit or plain git hosts and keeps
a searchable index of them up to date. GitHub webhooks trigger re-scrapes of
single repositories; every other repository is re-scraped periodically.`,
		Example: `  jobindex scrape --full
  jobindex scrape --repo orga/repo1 --repo orga/repo2
  jobindex scrape
  jobindex serve --with-scraper
  jobindex list-repos
  jobindex status`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			globalCfg = cfg
			logger.Debug("config loaded", "path", cfgPath, "store_driver", globalCfg.Store.Driver)

			if !shouldSkipComponentInit(cmd.Name()) {
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")

	cmd.AddCommand(
		newScrapeCmd(),
		newServeCmd(),
		newListReposCmd(),
		newStatusCmd(),
		newConfigCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

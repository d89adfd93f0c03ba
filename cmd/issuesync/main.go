package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/steveyegge/issuesync/internal/config"
	"github.com/steveyegge/issuesync/internal/logging"
)

var (
	configPath string
	envFile    string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "issuesync",
	Short: "Keep tracker issues in sync with static-analysis findings",
	Long: `issuesync reconciles a batch of static-analysis findings against an issue
tracker. Each run creates issues for new findings, updates or reopens issues for
findings it already knows, and closes issues for findings that went away.

Issues are identified by a fingerprint embedded in their body, so renamed titles
and moved code (within a few lines) keep their issue.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: .issuesync.yaml in the current or home directory)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Dotenv file to load (default: .env when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json (overrides config)")
}

// loadConfig reads configuration and applies the logging flag overrides.
func loadConfig(validate bool) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		ConfigPath:     configPath,
		EnvFile:        envFile,
		SkipValidation: !validate,
	})
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Logging.Level, cfg.Logging.Format)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

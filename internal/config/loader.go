package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	configName = ".issuesync"
	configType = "yaml"
	envPrefix  = "ISSUESYNC"
)

// DefaultEnvFile is read before the environment when it exists.
const DefaultEnvFile = ".env"

// LoadOptions controls where configuration is read from
type LoadOptions struct {
	// ConfigPath is an explicit config file. Empty searches CWD and $HOME
	// for .issuesync.yaml; a missing file is not an error.
	ConfigPath string
	// EnvFile is a dotenv file; empty means DefaultEnvFile. Variables
	// already set in the environment win.
	EnvFile string
	// SkipValidation returns the config without calling Validate.
	SkipValidation bool
}

// Load reads configuration from defaults, the config file, a dotenv file and
// the environment, in increasing precedence.
func Load(opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	} else if opts.EnvFile != "" {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Fallbacks for CI environments that already export these.
	_ = v.BindEnv("repository", "ISSUESYNC_REPOSITORY", "GITHUB_REPOSITORY")
	_ = v.BindEnv("tracker.github.token", "ISSUESYNC_TRACKER_GITHUB_TOKEN", "GITHUB_TOKEN")

	if opts.ConfigPath != "" {
		v.SetConfigFile(opts.ConfigPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if opts.SkipValidation {
		return &cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("repository", d.Repository)

	v.SetDefault("tracker.backend", d.Tracker.Backend)
	v.SetDefault("tracker.github.token", d.Tracker.GitHub.Token)
	v.SetDefault("tracker.github.base_url", d.Tracker.GitHub.BaseURL)
	v.SetDefault("tracker.sqlite.path", d.Tracker.SQLite.Path)
	v.SetDefault("tracker.mutation_delay", d.Tracker.MutationDelay)

	v.SetDefault("reconcile.severity_threshold", d.Reconcile.SeverityThreshold)
	v.SetDefault("reconcile.confidence_threshold", d.Reconcile.ConfidenceThreshold)
	v.SetDefault("reconcile.strategy", d.Reconcile.Strategy)
	v.SetDefault("reconcile.max_create", d.Reconcile.MaxCreate)
	v.SetDefault("reconcile.close_resolved", d.Reconcile.CloseResolved)
	v.SetDefault("reconcile.close_superseded", d.Reconcile.CloseSuperseded)
	v.SetDefault("reconcile.collapse_duplicates", d.Reconcile.CollapseDuplicates)
	v.SetDefault("reconcile.flap_threshold", d.Reconcile.FlapThreshold)
	v.SetDefault("reconcile.title_prefix", d.Reconcile.TitlePrefix)
	v.SetDefault("reconcile.base_label", d.Reconcile.BaseLabel)
	v.SetDefault("reconcile.legacy_labels", d.Reconcile.LegacyLabels)
	v.SetDefault("reconcile.ignore_labels", d.Reconcile.IgnoreLabels)
	v.SetDefault("reconcile.assignees", d.Reconcile.Assignees)
	v.SetDefault("reconcile.wrapper_tools", d.Reconcile.WrapperTools)
	v.SetDefault("reconcile.fixture_patterns", d.Reconcile.FixturePatterns)

	v.SetDefault("lock.redis_url", d.Lock.RedisURL)
	v.SetDefault("lock.ttl", d.Lock.TTL)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("metrics.textfile", d.Metrics.Textfile)
}

// WriteExample writes the default configuration to path. An existing file is
// never overwritten.
func WriteExample(path string) error {
	d := Default()
	d.Repository = "owner/name"

	data, err := yaml.Marshal(&d)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	header := []byte("# issuesync configuration. Every key can be overridden with an\n" +
		"# ISSUESYNC_* environment variable, e.g. ISSUESYNC_RECONCILE_MAX_CREATE=10.\n")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(header, data...)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

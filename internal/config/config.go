package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/issuesync/internal/merge"
	"github.com/steveyegge/issuesync/internal/reconcile"
	"github.com/steveyegge/issuesync/internal/types"
)

var (
	// ErrMissingRepository means no repository was configured
	ErrMissingRepository = errors.New("repository is required (set repository, ISSUESYNC_REPOSITORY or GITHUB_REPOSITORY)")
	// ErrMissingToken means the github backend has no token
	ErrMissingToken = errors.New("github token is required (set tracker.github.token, ISSUESYNC_TRACKER_GITHUB_TOKEN or GITHUB_TOKEN)")
)

// Tracker backends
const (
	BackendGitHub = "github"
	BackendSQLite = "sqlite"
)

// Config is the top-level configuration.
// Field tags use mapstructure for viper and yaml for the example file.
type Config struct {
	Repository string          `mapstructure:"repository" yaml:"repository"`
	Tracker    TrackerConfig   `mapstructure:"tracker" yaml:"tracker"`
	Reconcile  ReconcileConfig `mapstructure:"reconcile" yaml:"reconcile"`
	Lock       LockConfig      `mapstructure:"lock" yaml:"lock"`
	Logging    LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Metrics    MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// TrackerConfig selects and configures the issue tracker backend
type TrackerConfig struct {
	// Backend is "github" or "sqlite".
	Backend string       `mapstructure:"backend" yaml:"backend"`
	GitHub  GitHubConfig `mapstructure:"github" yaml:"github"`
	SQLite  SQLiteConfig `mapstructure:"sqlite" yaml:"sqlite"`

	// MutationDelay is the minimum spacing between writes, e.g. "1s".
	MutationDelay string `mapstructure:"mutation_delay" yaml:"mutation_delay"`
}

// GitHubConfig holds GitHub API settings
type GitHubConfig struct {
	Token   string `mapstructure:"token" yaml:"token,omitempty"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty"`
}

// SQLiteConfig holds the local tracker database settings
type SQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ReconcileConfig mirrors reconcile.Options
type ReconcileConfig struct {
	SeverityThreshold   string   `mapstructure:"severity_threshold" yaml:"severity_threshold"`
	ConfidenceThreshold string   `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	Strategy            string   `mapstructure:"strategy" yaml:"strategy"`
	MaxCreate           int      `mapstructure:"max_create" yaml:"max_create"`
	CloseResolved       bool     `mapstructure:"close_resolved" yaml:"close_resolved"`
	CloseSuperseded     bool     `mapstructure:"close_superseded" yaml:"close_superseded"`
	CollapseDuplicates  bool     `mapstructure:"collapse_duplicates" yaml:"collapse_duplicates"`
	FlapThreshold       int      `mapstructure:"flap_threshold" yaml:"flap_threshold"`
	TitlePrefix         string   `mapstructure:"title_prefix" yaml:"title_prefix"`
	BaseLabel           string   `mapstructure:"base_label" yaml:"base_label"`
	LegacyLabels        []string `mapstructure:"legacy_labels" yaml:"legacy_labels"`
	IgnoreLabels        []string `mapstructure:"ignore_labels" yaml:"ignore_labels"`
	Assignees           []string `mapstructure:"assignees" yaml:"assignees"`
	WrapperTools        []string `mapstructure:"wrapper_tools" yaml:"wrapper_tools"`
	FixturePatterns     []string `mapstructure:"fixture_patterns" yaml:"fixture_patterns"`
}

// LockConfig configures the optional cross-process run lock
type LockConfig struct {
	// RedisURL enables the lock when set, e.g. "redis://localhost:6379/0".
	RedisURL string `mapstructure:"redis_url" yaml:"redis_url"`
	TTL      string `mapstructure:"ttl" yaml:"ttl"`
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // console or json
}

// MetricsConfig configures run metrics output
type MetricsConfig struct {
	// Textfile is written after each sync when set.
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

// Default returns the default configuration
func Default() Config {
	opts := reconcile.DefaultOptions("")
	return Config{
		Tracker: TrackerConfig{
			Backend:       BackendGitHub,
			SQLite:        SQLiteConfig{Path: ".issuesync/issues.db"},
			MutationDelay: "1s",
		},
		Reconcile: ReconcileConfig{
			SeverityThreshold:   string(opts.SeverityThreshold),
			ConfidenceThreshold: string(opts.ConfidenceThreshold),
			Strategy:            opts.Strategy.String(),
			MaxCreate:           opts.MaxCreate,
			CloseResolved:       opts.CloseResolved,
			CloseSuperseded:     opts.CloseSuperseded,
			CollapseDuplicates:  opts.CollapseDuplicates,
			FlapThreshold:       opts.FlapThreshold,
			TitlePrefix:         opts.TitlePrefix,
			BaseLabel:           opts.BaseLabel,
			LegacyLabels:        []string{},
			IgnoreLabels:        opts.IgnoreLabels,
			Assignees:           []string{},
			WrapperTools:        opts.WrapperTools,
			FixturePatterns:     opts.FixturePatterns,
		},
		Lock: LockConfig{TTL: "10m"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks if the configuration has valid values
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Repository) == "" {
		return ErrMissingRepository
	}

	switch c.Tracker.Backend {
	case BackendGitHub:
		if strings.TrimSpace(c.Tracker.GitHub.Token) == "" {
			return ErrMissingToken
		}
	case BackendSQLite:
		if strings.TrimSpace(c.Tracker.SQLite.Path) == "" {
			return fmt.Errorf("tracker.sqlite.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("tracker.backend must be %q or %q (got %q)", BackendGitHub, BackendSQLite, c.Tracker.Backend)
	}

	if _, err := c.Tracker.Delay(); err != nil {
		return err
	}
	if _, err := c.Lock.Duration(); err != nil {
		return err
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json (got %q)", c.Logging.Format)
	}

	opts, err := c.Options()
	if err != nil {
		return err
	}
	return opts.Validate()
}

// Delay parses the mutation delay.
func (t TrackerConfig) Delay() (time.Duration, error) {
	if t.MutationDelay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(t.MutationDelay)
	if err != nil {
		return 0, fmt.Errorf("invalid tracker.mutation_delay %q: %w", t.MutationDelay, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("tracker.mutation_delay cannot be negative (got %s)", d)
	}
	return d, nil
}

// Duration parses the lock TTL.
func (l LockConfig) Duration() (time.Duration, error) {
	d, err := time.ParseDuration(l.TTL)
	if err != nil {
		return 0, fmt.Errorf("invalid lock.ttl %q: %w", l.TTL, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("lock.ttl must be positive (got %s)", d)
	}
	return d, nil
}

// Options converts the reconcile section into run options. Run number, time
// and ID are left for the caller.
func (c *Config) Options() (reconcile.Options, error) {
	r := c.Reconcile
	opts := reconcile.DefaultOptions(c.Repository)

	sev, err := types.ParseSeverity(r.SeverityThreshold)
	if err != nil {
		return opts, fmt.Errorf("reconcile.severity_threshold: %w", err)
	}
	conf, err := types.ParseConfidence(r.ConfidenceThreshold)
	if err != nil {
		return opts, fmt.Errorf("reconcile.confidence_threshold: %w", err)
	}
	strategy, err := merge.ParseStrategy(r.Strategy)
	if err != nil {
		return opts, fmt.Errorf("reconcile.strategy: %w", err)
	}

	opts.SeverityThreshold = sev
	opts.ConfidenceThreshold = conf
	opts.Strategy = strategy
	opts.MaxCreate = r.MaxCreate
	opts.CloseResolved = r.CloseResolved
	opts.CloseSuperseded = r.CloseSuperseded
	opts.CollapseDuplicates = r.CollapseDuplicates
	opts.FlapThreshold = r.FlapThreshold
	opts.TitlePrefix = r.TitlePrefix
	opts.BaseLabel = r.BaseLabel
	opts.LegacyLabels = r.LegacyLabels
	opts.IgnoreLabels = r.IgnoreLabels
	opts.Assignees = r.Assignees
	opts.WrapperTools = r.WrapperTools
	opts.FixturePatterns = r.FixturePatterns
	return opts, nil
}

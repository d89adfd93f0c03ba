package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/issuesync/internal/labels"
	"github.com/steveyegge/issuesync/internal/merge"
	"github.com/steveyegge/issuesync/internal/types"
)

// Options is the context of one reconciliation run.
type Options struct {
	// Repository identifies the tracker project, e.g. "owner/name".
	Repository string

	// Findings below either threshold are skipped.
	SeverityThreshold   types.Severity
	ConfidenceThreshold types.Confidence

	Strategy merge.Strategy

	// MaxCreate caps issue creation per run. 0 means unlimited.
	MaxCreate int

	CloseResolved      bool
	CloseSuperseded    bool
	CollapseDuplicates bool

	// FlapThreshold is the number of consecutive missed runs before a
	// resolved issue closes. 0 and 1 both close on the first miss.
	FlapThreshold int

	RunNumber int
	RunAt     time.Time // zero means now
	RunID     string    // empty means a random UUID

	TitlePrefix  string
	BaseLabel    string
	LegacyLabels []string
	IgnoreLabels []string
	Assignees    []string

	WrapperTools    []string
	FixturePatterns []string
}

// DefaultOptions returns the default run options for a repository.
func DefaultOptions(repository string) Options {
	return Options{
		Repository:          repository,
		SeverityThreshold:   types.SeverityLow,
		ConfidenceThreshold: types.ConfidenceLow,
		Strategy:            merge.StrategyNone,
		MaxCreate:           25,
		CloseResolved:       true,
		CloseSuperseded:     true,
		CollapseDuplicates:  true,
		FlapThreshold:       1,
		TitlePrefix:         "Lint",
		BaseLabel:           labels.DefaultBase,
		IgnoreLabels:        []string{"wontfix"},
		WrapperTools:        merge.DefaultWrapperTools(),
		FixturePatterns:     merge.DefaultFixturePatterns(),
	}
}

// Validate checks if the options have valid values
func (o *Options) Validate() error {
	if strings.TrimSpace(o.Repository) == "" {
		return fmt.Errorf("repository is required")
	}
	if !o.SeverityThreshold.IsValid() {
		return fmt.Errorf("invalid severity threshold: %q", o.SeverityThreshold)
	}
	if !o.ConfidenceThreshold.IsValid() {
		return fmt.Errorf("invalid confidence threshold: %q", o.ConfidenceThreshold)
	}
	if !o.Strategy.IsValid() {
		return fmt.Errorf("invalid merge strategy: %s", o.Strategy)
	}
	if o.MaxCreate < 0 {
		return fmt.Errorf("max_create cannot be negative (got %d)", o.MaxCreate)
	}
	if o.FlapThreshold < 0 {
		return fmt.Errorf("flap_threshold cannot be negative (got %d)", o.FlapThreshold)
	}
	if o.RunNumber < 0 {
		return fmt.Errorf("run number cannot be negative (got %d)", o.RunNumber)
	}
	if p := strings.TrimSpace(o.TitlePrefix); p == "" || strings.ContainsAny(p, "[]") {
		return fmt.Errorf("title prefix must be non-empty and free of brackets (got %q)", o.TitlePrefix)
	}
	if strings.TrimSpace(o.BaseLabel) == "" {
		return fmt.Errorf("base label is required")
	}
	for _, l := range o.LegacyLabels {
		if strings.EqualFold(l, o.BaseLabel) {
			return fmt.Errorf("legacy label %q equals the base label", l)
		}
	}
	return nil
}

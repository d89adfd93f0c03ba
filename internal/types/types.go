package types

import (
	"fmt"
	"strings"
)

// Finding is one normalized static-analysis result.
type Finding struct {
	IdentityToken string     `json:"identity_token,omitempty"`
	Tool          string     `json:"tool"`
	RuleID        string     `json:"rule_id"`
	Title         string     `json:"title,omitempty"`
	Message       string     `json:"message,omitempty"`
	Severity      Severity   `json:"severity"`
	Confidence    Confidence `json:"confidence"`
	Locations     []Location `json:"locations,omitempty"`
	Evidence      *Evidence  `json:"evidence,omitempty"`

	// Set by the merge engine on consolidated findings only.
	GroupedRules []string `json:"grouped_rules,omitempty"`
	Occurrences  int      `json:"occurrences,omitempty"`
}

// Validate checks if the finding has valid field values
func (f *Finding) Validate() error {
	if strings.TrimSpace(f.Tool) == "" {
		return fmt.Errorf("tool is required")
	}
	if strings.TrimSpace(f.RuleID) == "" {
		return fmt.Errorf("rule_id is required")
	}
	if !f.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %q", f.Severity)
	}
	if !f.Confidence.IsValid() {
		return fmt.Errorf("invalid confidence: %q", f.Confidence)
	}
	for i, loc := range f.Locations {
		if strings.TrimSpace(loc.Path) == "" {
			return fmt.Errorf("location %d: path is required", i)
		}
		if loc.StartLine < 0 {
			return fmt.Errorf("location %d: start_line cannot be negative (got %d)", i, loc.StartLine)
		}
	}
	return nil
}

// PrimaryLocation returns the first location, if any.
func (f *Finding) PrimaryLocation() (Location, bool) {
	if len(f.Locations) == 0 {
		return Location{}, false
	}
	return f.Locations[0], true
}

// Location points at a span in a source file
type Location struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line,omitempty"`
}

func (l Location) String() string {
	if l.StartLine <= 0 {
		return l.Path
	}
	return fmt.Sprintf("%s:%d", l.Path, l.StartLine)
}

// Evidence carries supporting material for a finding
type Evidence struct {
	Snippet string   `json:"snippet,omitempty"`
	Links   []string `json:"links,omitempty"`
}

// Severity of a finding, ordered from info to critical
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank returns the ordinal of the severity (info=0 ... critical=4), or -1 if invalid.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// ParseSeverity parses a severity name case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.IsValid() {
		return "", fmt.Errorf("invalid severity %q (want info, low, medium, high or critical)", s)
	}
	return sev, nil
}

// Confidence the analyzer has in a finding
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

var confidenceRank = map[Confidence]int{
	ConfidenceLow:    0,
	ConfidenceMedium: 1,
	ConfidenceHigh:   2,
}

// IsValid checks if the confidence value is valid
func (c Confidence) IsValid() bool {
	_, ok := confidenceRank[c]
	return ok
}

// Rank returns the ordinal of the confidence (low=0 ... high=2), or -1 if invalid.
func (c Confidence) Rank() int {
	if r, ok := confidenceRank[c]; ok {
		return r
	}
	return -1
}

// ParseConfidence parses a confidence name case-insensitively.
func ParseConfidence(s string) (Confidence, error) {
	c := Confidence(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("invalid confidence %q (want low, medium or high)", s)
	}
	return c, nil
}

// IssueState is the tracker-side state of an issue
type IssueState string

const (
	StateOpen   IssueState = "open"
	StateClosed IssueState = "closed"

	// StateAll is only meaningful as a search filter.
	StateAll IssueState = "all"
)

// IsValid checks if the state names a concrete issue state
func (s IssueState) IsValid() bool {
	return s == StateOpen || s == StateClosed
}

// IsValidFilter checks if the state is usable as a search filter
func (s IssueState) IsValidFilter() bool {
	return s.IsValid() || s == StateAll
}

// TrackerIssue is an issue as seen in the tracker snapshot.
type TrackerIssue struct {
	Number int        `json:"number"`
	Title  string     `json:"title"`
	Body   string     `json:"body"`
	State  IssueState `json:"state"`
	Labels []string   `json:"labels,omitempty"`

	// Decoded from body markers by the reconciler.
	IdentityToken string `json:"identity_token,omitempty"`
	LastSeenRun   int    `json:"last_seen_run,omitempty"`
	Misses        int    `json:"misses,omitempty"`
}

// IsOpen reports whether the issue is open
func (i *TrackerIssue) IsOpen() bool {
	return i.State == StateOpen
}

// HasLabel reports whether the issue carries the label (case-insensitive)
func (i *TrackerIssue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// LabelDef describes a label the tracker should know about
type LabelDef struct {
	Name        string `json:"name" yaml:"name"`
	Color       string `json:"color" yaml:"color"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Package labels computes the tracker labels issuesync manages.
//
// Managed labels:
// - the base label (default "issuesync") marks every issue the tool owns
// - tool:<name> names the analyzer
// - severity:<level> mirrors the finding severity
// - legacy labels are former base labels; they are removed on update
//
// Any other label on an issue belongs to humans and is preserved.
package labels

import (
	"sort"
	"strings"

	"github.com/steveyegge/issuesync/internal/fingerprint"
	"github.com/steveyegge/issuesync/internal/types"
)

// DefaultBase is the base label when none is configured
const DefaultBase = "issuesync"

const (
	// ToolPrefix prefixes analyzer labels
	ToolPrefix = "tool:"
	// SeverityPrefix prefixes severity labels
	SeverityPrefix = "severity:"
)

var severityColors = map[types.Severity]string{
	types.SeverityInfo:     "c5def5",
	types.SeverityLow:      "bfdadc",
	types.SeverityMedium:   "fbca04",
	types.SeverityHigh:     "d93f0b",
	types.SeverityCritical: "b60205",
}

const (
	baseColor = "5319e7"
	toolColor = "ededed"
)

// Tool returns the analyzer label for a tool.
func Tool(tool string) string {
	return ToolPrefix + fingerprint.NormalizeTool(tool)
}

// Severity returns the severity label.
func Severity(s types.Severity) string {
	return SeverityPrefix + string(s)
}

// Desired returns the managed labels a finding's issue should carry.
func Desired(base string, f *types.Finding) []string {
	return []string{base, Tool(f.Tool), Severity(f.Severity)}
}

// Apply replaces the managed labels in existing with desired and keeps every
// other label. The result is sorted and free of duplicates.
func Apply(existing, desired, legacy []string) []string {
	drop := make(map[string]bool, len(legacy))
	for _, l := range legacy {
		drop[strings.ToLower(l)] = true
	}

	set := make(map[string]string)
	for _, l := range existing {
		lower := strings.ToLower(l)
		if drop[lower] || strings.HasPrefix(lower, ToolPrefix) || strings.HasPrefix(lower, SeverityPrefix) {
			continue
		}
		set[lower] = l
	}
	for _, l := range desired {
		set[strings.ToLower(l)] = l
	}

	out := make([]string, 0, len(set))
	for _, l := range set {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether a and b hold the same labels, ignoring order and case.
func Equal(a, b []string) bool {
	sa, sb := toSet(a), toSet(b)
	if len(sa) != len(sb) {
		return false
	}
	for l := range sa {
		if !sb[l] {
			return false
		}
	}
	return true
}

func toSet(labels []string) map[string]bool {
	s := make(map[string]bool, len(labels))
	for _, l := range labels {
		s[strings.ToLower(l)] = true
	}
	return s
}

// Definitions returns label definitions for the base label, every severity
// and the given tools.
func Definitions(base string, tools []string) []types.LabelDef {
	defs := []types.LabelDef{{
		Name:        base,
		Color:       baseColor,
		Description: "Tracked by issuesync",
	}}
	for _, s := range []types.Severity{
		types.SeverityInfo, types.SeverityLow, types.SeverityMedium,
		types.SeverityHigh, types.SeverityCritical,
	} {
		defs = append(defs, types.LabelDef{
			Name:        Severity(s),
			Color:       severityColors[s],
			Description: "Finding severity " + string(s),
		})
	}

	seen := make(map[string]bool)
	var names []string
	for _, t := range tools {
		name := Tool(t)
		if name == ToolPrefix || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		defs = append(defs, types.LabelDef{
			Name:        name,
			Color:       toolColor,
			Description: "Reported by " + strings.TrimPrefix(name, ToolPrefix),
		})
	}
	return defs
}

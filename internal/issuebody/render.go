// Package issuebody renders tracker issue titles and bodies for findings and
// reads back the markers embedded in them.
package issuebody

import (
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/issuesync/internal/fingerprint"
	"github.com/steveyegge/issuesync/internal/types"
)

// MaxListedLocations caps the locations section of a body.
const MaxListedLocations = 50

// Meta is the run information written into a body.
type Meta struct {
	RunNumber int
	RunAt     time.Time
}

// Title renders the issue title: "[prefix] " followed by the finding title.
// Findings without a title fall back to "tool: rule in path".
func Title(prefix string, f *types.Finding) string {
	t := strings.TrimSpace(f.Title)
	if t == "" {
		t = DefaultTitle(f)
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		return t
	}
	return "[" + prefix + "] " + t
}

// DefaultTitle is the canonical single-finding title.
func DefaultTitle(f *types.Finding) string {
	t := fmt.Sprintf("%s: %s", f.Tool, f.RuleID)
	if loc, ok := f.PrimaryLocation(); ok {
		t += " in " + loc.Path
	}
	return t
}

// Render builds the issue body for a finding, markers included.
func Render(f *types.Finding, meta Meta) string {
	var sb strings.Builder

	if msg := strings.TrimSpace(f.Message); msg != "" {
		sb.WriteString(msg)
		sb.WriteString("\n\n")
	}

	sb.WriteString("| | |\n|---|---|\n")
	fmt.Fprintf(&sb, "| **Tool** | `%s` |\n", f.Tool)
	if f.RuleID != "" {
		fmt.Fprintf(&sb, "| **Rule** | `%s` |\n", f.RuleID)
	}
	fmt.Fprintf(&sb, "| **Severity** | %s |\n", f.Severity)
	fmt.Fprintf(&sb, "| **Confidence** | %s |\n", f.Confidence)
	if f.Occurrences > 0 {
		fmt.Fprintf(&sb, "| **Occurrences** | %d |\n", f.Occurrences)
	}
	if len(f.GroupedRules) > 1 {
		rules := make([]string, len(f.GroupedRules))
		for i, r := range f.GroupedRules {
			rules[i] = "`" + r + "`"
		}
		fmt.Fprintf(&sb, "| **Rules** | %s |\n", strings.Join(rules, ", "))
	}

	if len(f.Locations) > 0 {
		sb.WriteString("\n### Locations\n\n")
		for i, loc := range f.Locations {
			if i == MaxListedLocations {
				fmt.Fprintf(&sb, "- ...and %d more\n", len(f.Locations)-MaxListedLocations)
				break
			}
			fmt.Fprintf(&sb, "- `%s`\n", loc)
		}
	}

	if f.Evidence != nil && (f.Evidence.Snippet != "" || len(f.Evidence.Links) > 0) {
		sb.WriteString("\n### Evidence\n\n")
		if s := strings.TrimRight(f.Evidence.Snippet, "\n"); s != "" {
			fence := "```"
			if strings.Contains(s, fence) {
				fence = "~~~~"
			}
			sb.WriteString(fence + "\n" + s + "\n" + fence + "\n")
		}
		if len(f.Evidence.Links) > 0 {
			if f.Evidence.Snippet != "" {
				sb.WriteString("\n")
			}
			for _, link := range f.Evidence.Links {
				fmt.Fprintf(&sb, "- %s\n", link)
			}
		}
	}

	fmt.Fprintf(&sb, "\n<sub>issuesync fingerprint `%s`</sub>\n\n", fingerprint.Short(f.IdentityToken))
	sb.WriteString(TokenMarker(f.IdentityToken))
	sb.WriteString("\n")
	sb.WriteString(LastSeenMarker(meta.RunNumber, meta.RunAt))
	sb.WriteString("\n")
	return sb.String()
}

// SameContent reports whether two bodies differ only in volatile markers.
func SameContent(a, b string) bool {
	return Canonical(a) == Canonical(b)
}

// Canonical returns body with line endings normalized and volatile markers
// removed, the form used when deciding whether an issue needs an update.
func Canonical(body string) string {
	return StripVolatile(strings.ReplaceAll(body, "\r\n", "\n"))
}

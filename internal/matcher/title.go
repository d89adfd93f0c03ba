package matcher

import (
	"regexp"
	"strings"
)

// TitleInfo is the structured data recovered from an issue title.
type TitleInfo struct {
	Prefix string
	Tool   string
	RuleID string // empty for "[prefix] tool (..." titles
}

var (
	// [prefix] tool: ruleId ...
	toolRuleTitle = regexp.MustCompile(`^\s*\[([^\]]*)\]\s*([^\s:(\[\]]+)\s*:\s*([^\s()]+)`)
	// [prefix] tool (...
	toolGroupTitle = regexp.MustCompile(`^\s*\[([^\]]*)\]\s*([^\s:(\[\]]+)\s*\(`)

	bracketPrefix = regexp.MustCompile(`^\s*\[[^\]]*\]\s*`)
	countParens   = regexp.MustCompile(`\s*\([^()]*[0-9][^()]*\)`)
	trailingIn    = regexp.MustCompile(`\s+in\s+\S+\s*$`)
	spaceRun      = regexp.MustCompile(`\s+`)
)

// ParseTitle extracts prefix, tool and rule from titles of the form
// "[prefix] tool: ruleId ..." or "[prefix] tool (...". Any other shape
// returns false; it never panics.
func ParseTitle(title string) (TitleInfo, bool) {
	if m := toolRuleTitle.FindStringSubmatch(title); m != nil {
		return TitleInfo{
			Prefix: strings.TrimSpace(m[1]),
			Tool:   strings.ToLower(m[2]),
			RuleID: strings.ToLower(strings.TrimRight(m[3], ".,;")),
		}, true
	}
	if m := toolGroupTitle.FindStringSubmatch(title); m != nil {
		return TitleInfo{
			Prefix: strings.TrimSpace(m[1]),
			Tool:   strings.ToLower(m[2]),
		}, true
	}
	return TitleInfo{}, false
}

// StripPrefix removes a leading "[prefix]".
func StripPrefix(title string) string {
	return strings.TrimSpace(bracketPrefix.ReplaceAllString(title, ""))
}

// NormalizeTitle strips the bracketed prefix, parenthetical counts and a
// trailing "in <file>", collapses whitespace and lowercases.
func NormalizeTitle(title string) string {
	t := StripPrefix(title)
	t = countParens.ReplaceAllString(t, "")
	t = trailingIn.ReplaceAllString(t, "")
	t = spaceRun.ReplaceAllString(t, " ")
	return strings.ToLower(strings.TrimSpace(t))
}

// hasWordPrefix reports whether s starts with word followed by a boundary.
func hasWordPrefix(s, word string) bool {
	if word == "" || !strings.HasPrefix(s, word) {
		return false
	}
	if len(s) == len(word) {
		return true
	}
	switch s[len(word)] {
	case ' ', '\t', ':', '(', '/':
		return true
	}
	return false
}

// Package merge consolidates related findings into single findings so one
// tracker issue can represent a family of occurrences.
package merge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/steveyegge/issuesync/internal/fingerprint"
	"github.com/steveyegge/issuesync/internal/types"
)

const fixtureScope = "fixture"

// DefaultWrapperTools are tools that run several sub-analyzers under one name.
func DefaultWrapperTools() []string {
	return []string{"golangci-lint", "megalinter", "super-linter"}
}

// DefaultFixturePatterns match demo and fixture trees whose findings are
// always force-merged.
func DefaultFixturePatterns() []string {
	return []string{"test-fixtures/**", "demo/**", "examples/**"}
}

// Options configures an Engine
type Options struct {
	Strategy        Strategy
	WrapperTools    []string
	FixturePatterns []string
}

// Engine groups findings according to a Strategy.
type Engine struct {
	strategy Strategy
	wrappers map[string]bool
	fixtures []string
}

// NewEngine validates options and builds an Engine.
func NewEngine(opts Options) (*Engine, error) {
	if !opts.Strategy.IsValid() {
		return nil, fmt.Errorf("invalid merge strategy: %s", opts.Strategy)
	}
	e := &Engine{
		strategy: opts.Strategy,
		wrappers: make(map[string]bool, len(opts.WrapperTools)),
	}
	for _, tool := range opts.WrapperTools {
		e.wrappers[fingerprint.NormalizeTool(tool)] = true
	}
	for _, p := range opts.FixturePatterns {
		pattern := fingerprint.NormalizePath(p)
		if pattern == "" {
			continue
		}
		if !strings.ContainsAny(pattern, "*?[{") {
			// A bare directory means everything below it.
			pattern = strings.TrimSuffix(pattern, "/") + "/**"
		}
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid fixture pattern %q", p)
		}
		e.fixtures = append(e.fixtures, pattern)
	}
	return e, nil
}

// Strategy returns the engine's strategy
func (e *Engine) Strategy() Strategy {
	return e.strategy
}

// IsWrapper reports whether tool is a multi-analyzer wrapper.
func (e *Engine) IsWrapper(tool string) bool {
	return e.wrappers[fingerprint.NormalizeTool(tool)]
}

// IsFixture reports whether every location of f falls under a fixture pattern.
func (e *Engine) IsFixture(f *types.Finding) bool {
	if len(e.fixtures) == 0 || len(f.Locations) == 0 {
		return false
	}
	for _, loc := range f.Locations {
		if !e.matchesFixture(fingerprint.NormalizePath(loc.Path)) {
			return false
		}
	}
	return true
}

func (e *Engine) matchesFixture(path string) bool {
	for _, pattern := range e.fixtures {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

type group struct {
	key     groupKey
	fixture bool
	members []types.Finding
}

// Merge groups findings and returns one finding per group, in order of first
// appearance. Groups of one pass through unchanged except fixture groups,
// which are always consolidated so their identity does not depend on size.
func (e *Engine) Merge(findings []types.Finding) []types.Finding {
	var order []*group
	groups := make(map[string]*group)

	for i := range findings {
		f := findings[i]
		key, fixture, ok := e.keyFor(&f)
		if !ok {
			order = append(order, &group{members: []types.Finding{f}})
			continue
		}
		id := key.String()
		g, exists := groups[id]
		if !exists {
			g = &group{key: key, fixture: fixture}
			groups[id] = g
			order = append(order, g)
		}
		g.members = append(g.members, f)
	}

	out := make([]types.Finding, 0, len(order))
	for _, g := range order {
		if len(g.members) == 1 && !g.fixture {
			out = append(out, g.members[0])
			continue
		}
		out = append(out, consolidate(g))
	}
	return out
}

func (e *Engine) keyFor(f *types.Finding) (groupKey, bool, bool) {
	if e.IsFixture(f) {
		key := groupKey{scope: fixtureScope, tool: fingerprint.NormalizeTool(f.Tool)}
		if e.IsWrapper(f.Tool) {
			key.sub = SubAnalyzer(f)
		}
		return key, true, true
	}
	key, ok := keyFuncs[e.strategy](e, f)
	return key, false, ok
}

func consolidate(g *group) types.Finding {
	sortMembers(g.members)
	first := g.members[0]
	out := types.Finding{
		IdentityToken: g.key.token(),
		Tool:          first.Tool,
		Severity:      first.Severity,
		Confidence:    first.Confidence,
		Occurrences:   len(g.members),
	}

	var (
		locSeen   = make(map[string]bool)
		snippets  []string
		snipSeen  = make(map[string]bool)
		links     []string
		linkSeen  = make(map[string]bool)
		ruleSeen  = make(map[string]bool)
		rules     []string
		fileCount = make(map[string]bool)
	)

	for i := range g.members {
		m := &g.members[i]
		if m.Severity.Rank() > out.Severity.Rank() {
			out.Severity = m.Severity
		}
		if m.Confidence.Rank() > out.Confidence.Rank() {
			out.Confidence = m.Confidence
		}

		if r := fingerprint.NormalizeRule(m.RuleID); !ruleSeen[r] {
			ruleSeen[r] = true
			rules = append(rules, strings.TrimSpace(m.RuleID))
		}

		for _, loc := range m.Locations {
			path := fingerprint.NormalizePath(loc.Path)
			fileCount[path] = true
			k := fmt.Sprintf("%s:%d", path, loc.StartLine)
			if locSeen[k] {
				continue
			}
			locSeen[k] = true
			out.Locations = append(out.Locations, loc)
		}

		if m.Evidence == nil {
			continue
		}
		if s := strings.TrimSpace(m.Evidence.Snippet); s != "" && !snipSeen[s] {
			snipSeen[s] = true
			source := m.Tool
			if loc, ok := m.PrimaryLocation(); ok {
				source = loc.String()
			}
			snippets = append(snippets, source+":\n"+s)
		}
		for _, link := range m.Evidence.Links {
			if link != "" && !linkSeen[link] {
				linkSeen[link] = true
				links = append(links, link)
			}
		}
	}

	sort.SliceStable(out.Locations, func(i, j int) bool {
		pi := fingerprint.NormalizePath(out.Locations[i].Path)
		pj := fingerprint.NormalizePath(out.Locations[j].Path)
		if pi != pj {
			return pi < pj
		}
		return out.Locations[i].StartLine < out.Locations[j].StartLine
	})

	sort.Slice(rules, func(i, j int) bool {
		return fingerprint.NormalizeRule(rules[i]) < fingerprint.NormalizeRule(rules[j])
	})
	out.GroupedRules = rules

	switch {
	case len(rules) == 1:
		out.RuleID = rules[0]
	case g.key.sub != "":
		out.RuleID = g.key.sub
	}

	if len(snippets) > 0 || len(links) > 0 {
		out.Evidence = &types.Evidence{
			Snippet: strings.Join(snippets, "\n\n"),
			Links:   links,
		}
	}

	out.Title = title(g, &out, len(fileCount))
	out.Message = summary(first.Message, len(g.members), len(fileCount), rules)
	return out
}

// sortMembers orders findings by primary location, then token, so the
// consolidated finding does not depend on input order.
func sortMembers(members []types.Finding) {
	type sortKey struct {
		path string
		line int
	}
	keyOf := func(f *types.Finding) sortKey {
		loc, ok := f.PrimaryLocation()
		if !ok {
			return sortKey{path: fingerprint.NoLocationPath}
		}
		return sortKey{path: fingerprint.NormalizePath(loc.Path), line: loc.StartLine}
	}
	sort.SliceStable(members, func(i, j int) bool {
		a, b := &members[i], &members[j]
		ka, kb := keyOf(a), keyOf(b)
		if ka.path != kb.path {
			return ka.path < kb.path
		}
		if ka.line != kb.line {
			return ka.line < kb.line
		}
		if a.IdentityToken != b.IdentityToken {
			return a.IdentityToken < b.IdentityToken
		}
		return a.Message < b.Message
	})
}

// title synthesizes the consolidated title from the merge key. Scopes whose
// title already states how many findings are grouped get no extra count.
func title(g *group, f *types.Finding, files int) string {
	n := len(g.members)
	name := f.Tool
	if g.key.sub != "" {
		name = g.key.sub
	}

	switch g.key.scope {
	case fixtureScope:
		return fmt.Sprintf("%s fixtures (%s)", name, plural(n, "finding"))
	case StrategySameTool.String():
		return fmt.Sprintf("%s (%s across %s)", name, plural(n, "finding"), plural(len(f.GroupedRules), "rule"))
	case StrategySameLinter.String():
		if g.key.sub != "" {
			return fmt.Sprintf("%s (%s across %s)", name, plural(n, "finding"), plural(len(f.GroupedRules), "rule"))
		}
	case StrategySameFile.String():
		path := fingerprint.NoLocationPath
		if loc, ok := g.members[0].PrimaryLocation(); ok {
			path = loc.Path
		}
		return fmt.Sprintf("%s: %s in %s (%s)", f.Tool, f.RuleID, path, plural(n, "occurrence"))
	}
	return fmt.Sprintf("%s: %s (%s in %s)", f.Tool, f.RuleID, plural(n, "occurrence"), plural(files, "file"))
}

func summary(base string, n, files int, rules []string) string {
	var sb strings.Builder
	if base = strings.TrimSpace(base); base != "" {
		sb.WriteString(base)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "Found %s across %s.", plural(n, "occurrence"), plural(files, "file"))
	if len(rules) > 1 {
		fmt.Fprintf(&sb, " Rules: %s.", strings.Join(rules, ", "))
	}
	return sb.String()
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// Package matcher finds the tracker issue that already represents a finding.
//
// Matching runs a cascade of strategies, strongest first:
//
//  1. identity-token: the token embedded in the issue body
//  2. tool-rule: tool and rule parsed from a structured title
//  3. sub-analyzer: title prefixed by the sub-analyzer name (wrapper tools)
//  4. normalized-title: equal titles after normalization
//
// The fallbacks recover issues filed before a finding had its current token,
// for example after a fingerprint scheme change or a merge strategy switch.
// An Index is built from one tracker snapshot and lives for one run.
package matcher

import (
	"sort"
	"strings"

	"github.com/steveyegge/issuesync/internal/fingerprint"
	"github.com/steveyegge/issuesync/internal/issuebody"
	"github.com/steveyegge/issuesync/internal/labels"
	"github.com/steveyegge/issuesync/internal/merge"
	"github.com/steveyegge/issuesync/internal/types"
)

// Strategy names the cascade step that produced a match.
type Strategy string

const (
	StrategyNone            Strategy = ""
	StrategyIdentityToken   Strategy = "identity-token"
	StrategyToolRule        Strategy = "tool-rule"
	StrategySubAnalyzer     Strategy = "sub-analyzer"
	StrategyNormalizedTitle Strategy = "normalized-title"
)

// Result is the outcome of Match. Issue is nil when nothing matched.
type Result struct {
	Issue    *types.TrackerIssue
	Strategy Strategy
}

// Matched reports whether an issue was found.
func (r Result) Matched() bool {
	return r.Issue != nil
}

// Options configures an Index
type Options struct {
	// TitlePrefix is the bracketed prefix issue titles are filed under.
	TitlePrefix string

	// IsWrapper reports whether a tool runs several sub-analyzers.
	// When nil, the sub-analyzer strategy never fires.
	IsWrapper func(tool string) bool
}

// Index holds the run-scoped lookup tables.
type Index struct {
	opts Options

	issues    []*types.TrackerIssue // open first, then number descending
	byToken   map[string]*types.TrackerIssue
	parsed    map[int]TitleInfo
	normTitle map[int]string

	claimed  map[int]string  // issue number -> claiming finding token
	reserved map[string]bool // tokens of this run's findings
	seen     map[string]bool
}

// NewIndex builds an Index from a tracker snapshot. Issues must already have
// their marker fields decoded.
func NewIndex(issues []*types.TrackerIssue, opts Options) *Index {
	ix := &Index{
		opts:      opts,
		issues:    append([]*types.TrackerIssue(nil), issues...),
		byToken:   make(map[string]*types.TrackerIssue),
		parsed:    make(map[int]TitleInfo),
		normTitle: make(map[int]string),
		claimed:   make(map[int]string),
		reserved:  make(map[string]bool),
		seen:      make(map[string]bool),
	}
	sort.SliceStable(ix.issues, func(i, j int) bool {
		return preferred(ix.issues[i], ix.issues[j])
	})
	for _, issue := range ix.issues {
		ix.register(issue)
	}
	return ix
}

// preferred orders open issues before closed ones, then higher numbers first.
func preferred(a, b *types.TrackerIssue) bool {
	if a.IsOpen() != b.IsOpen() {
		return a.IsOpen()
	}
	return a.Number > b.Number
}

func (ix *Index) register(issue *types.TrackerIssue) {
	if issue.IdentityToken != "" {
		if cur, ok := ix.byToken[issue.IdentityToken]; !ok || preferred(issue, cur) {
			ix.byToken[issue.IdentityToken] = issue
		}
	}
	if info, ok := ParseTitle(issue.Title); ok {
		ix.parsed[issue.Number] = info
	}
	ix.normTitle[issue.Number] = NormalizeTitle(issue.Title)
}

// Add registers an issue created during the run.
func (ix *Index) Add(issue *types.TrackerIssue) {
	ix.issues = append(ix.issues, issue)
	sort.SliceStable(ix.issues, func(i, j int) bool {
		return preferred(ix.issues[i], ix.issues[j])
	})
	ix.register(issue)
}

// Refresh re-reads the title and token of an issue changed during the run.
func (ix *Index) Refresh(issue *types.TrackerIssue) {
	delete(ix.parsed, issue.Number)
	ix.register(issue)
}

// Issues returns the indexed issues, open first then number descending.
func (ix *Index) Issues() []*types.TrackerIssue {
	return ix.issues
}

// Reserve records the tokens of findings in this run. Fallback strategies
// never hand a finding an issue that carries another reserved token.
func (ix *Index) Reserve(tokens ...string) {
	for _, t := range tokens {
		if t != "" {
			ix.reserved[t] = true
		}
	}
}

// Claim marks issue as representing f for the rest of the run. The issue's
// previous token joins the seen set and the issue is promoted under the
// finding's token.
func (ix *Index) Claim(issue *types.TrackerIssue, f *types.Finding) {
	ix.claimed[issue.Number] = f.IdentityToken
	ix.MarkSeen(f.IdentityToken)
	ix.MarkSeen(issue.IdentityToken)
	if f.IdentityToken != "" {
		ix.byToken[f.IdentityToken] = issue
	}
}

// Claimed reports whether an issue was claimed this run.
func (ix *Index) Claimed(number int) bool {
	_, ok := ix.claimed[number]
	return ok
}

// MarkSeen adds a token to the seen set.
func (ix *Index) MarkSeen(token string) {
	if token != "" {
		ix.seen[token] = true
	}
}

// Seen reports whether a token was seen this run.
func (ix *Index) Seen(token string) bool {
	return token != "" && ix.seen[token]
}

// NormalizedTitle returns the normalized title of an indexed issue.
func (ix *Index) NormalizedTitle(number int) string {
	return ix.normTitle[number]
}

// ParsedTitle returns the structured title of an indexed issue.
func (ix *Index) ParsedTitle(number int) (TitleInfo, bool) {
	info, ok := ix.parsed[number]
	return info, ok
}

// Match runs the cascade for f. The first strategy that hits wins.
func (ix *Index) Match(f *types.Finding) Result {
	if issue := ix.byToken[f.IdentityToken]; issue != nil && f.IdentityToken != "" {
		if owner, ok := ix.claimed[issue.Number]; !ok || owner == f.IdentityToken {
			return Result{Issue: issue, Strategy: StrategyIdentityToken}
		}
	}

	tool := fingerprint.NormalizeTool(f.Tool)
	rule := fingerprint.NormalizeRule(f.RuleID)
	if issue := ix.first(f, func(issue *types.TrackerIssue) bool {
		info, ok := ix.parsed[issue.Number]
		return ok && info.Tool == tool && info.RuleID == rule
	}); issue != nil {
		return Result{Issue: issue, Strategy: StrategyToolRule}
	}

	if ix.opts.IsWrapper != nil && ix.opts.IsWrapper(f.Tool) {
		sub := merge.SubAnalyzer(f)
		if issue := ix.first(f, func(issue *types.TrackerIssue) bool {
			return ix.ownedBy(issue, tool, sub) && hasWordPrefix(ix.normTitle[issue.Number], sub)
		}); issue != nil {
			return Result{Issue: issue, Strategy: StrategySubAnalyzer}
		}
	}

	want := NormalizeTitle(issuebody.Title(ix.opts.TitlePrefix, f))
	if want != "" {
		if issue := ix.first(f, func(issue *types.TrackerIssue) bool {
			return ix.normTitle[issue.Number] == want
		}); issue != nil {
			return Result{Issue: issue, Strategy: StrategyNormalizedTitle}
		}
	}

	return Result{}
}

// ownedBy reports whether issue may belong to the wrapper tool. A tool label
// decides when present. Otherwise the title must name the wrapper, be a
// sub-analyzer group title, or carry no structure at all.
func (ix *Index) ownedBy(issue *types.TrackerIssue, wrapper, sub string) bool {
	labeled := false
	for _, l := range issue.Labels {
		name := strings.ToLower(l)
		if !strings.HasPrefix(name, labels.ToolPrefix) {
			continue
		}
		if name == labels.Tool(wrapper) {
			return true
		}
		labeled = true
	}
	if labeled {
		return false
	}

	info, ok := ix.parsed[issue.Number]
	if !ok {
		return true
	}
	return info.Tool == wrapper || (info.Tool == sub && info.RuleID == "")
}

// first returns the most preferred fallback candidate satisfying pred.
func (ix *Index) first(f *types.Finding, pred func(*types.TrackerIssue) bool) *types.TrackerIssue {
	for _, issue := range ix.issues {
		if _, taken := ix.claimed[issue.Number]; taken {
			continue
		}
		if t := issue.IdentityToken; t != "" && t != f.IdentityToken && ix.reserved[t] {
			continue
		}
		if pred(issue) {
			return issue
		}
	}
	return nil
}

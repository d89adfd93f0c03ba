package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/issuesync/internal/fingerprint"
	"github.com/steveyegge/issuesync/internal/types"
)

func finding(tool, rule, path string) *types.Finding {
	f := &types.Finding{
		Tool:       tool,
		RuleID:     rule,
		Message:    "m",
		Severity:   types.SeverityMedium,
		Confidence: types.ConfidenceMedium,
		Locations:  []types.Location{{Path: path, StartLine: 10}},
	}
	f.IdentityToken = fingerprint.Token(f)
	return f
}

func issue(number int, state types.IssueState, title, token string) *types.TrackerIssue {
	return &types.TrackerIssue{Number: number, State: state, Title: title, IdentityToken: token}
}

func wrappers(tool string) bool {
	return tool == "golangci-lint"
}

func TestMatchByToken(t *testing.T) {
	f := finding("ruff", "F841", "a.py")
	ix := NewIndex([]*types.TrackerIssue{
		issue(1, types.StateClosed, "[Lint] something else", f.IdentityToken),
		issue(2, types.StateOpen, "[Lint] ruff: F841 in a.py", ""),
	}, Options{TitlePrefix: "Lint"})

	got := ix.Match(f)
	require.True(t, got.Matched())
	assert.Equal(t, 1, got.Issue.Number, "token match wins over a title match")
	assert.Equal(t, StrategyIdentityToken, got.Strategy)
}

func TestMatchPrefersOpenThenHighest(t *testing.T) {
	f := finding("ruff", "F841", "a.py")
	ix := NewIndex([]*types.TrackerIssue{
		issue(9, types.StateClosed, "x", f.IdentityToken),
		issue(3, types.StateOpen, "x", f.IdentityToken),
		issue(5, types.StateOpen, "x", f.IdentityToken),
	}, Options{})

	got := ix.Match(f)
	require.True(t, got.Matched())
	assert.Equal(t, 5, got.Issue.Number)
}

func TestMatchByToolRule(t *testing.T) {
	f := finding("Ruff", "F841", "src/new_place.py")
	ix := NewIndex([]*types.TrackerIssue{
		issue(4, types.StateOpen, "[Lint] ruff: F841 in src/old_place.py", "sha256:old-scheme"),
		issue(7, types.StateOpen, "[Lint] ruff: E501 in src/new_place.py", ""),
	}, Options{TitlePrefix: "Lint"})

	got := ix.Match(f)
	require.True(t, got.Matched())
	assert.Equal(t, 4, got.Issue.Number)
	assert.Equal(t, StrategyToolRule, got.Strategy)
}

func TestMatchBySubAnalyzer(t *testing.T) {
	f := finding("golangci-lint", "gosec:G101", "a.go")
	ix := NewIndex([]*types.TrackerIssue{
		issue(2, types.StateOpen, "[Lint] gosecurity (3 findings across 1 rule)", ""),
		issue(3, types.StateOpen, "[Lint] gosec (3 findings across 2 rules)", ""),
	}, Options{TitlePrefix: "Lint", IsWrapper: wrappers})

	got := ix.Match(f)
	require.True(t, got.Matched())
	assert.Equal(t, 3, got.Issue.Number)
	assert.Equal(t, StrategySubAnalyzer, got.Strategy)

	// Without the wrapper predicate the same issue is unreachable.
	ix = NewIndex([]*types.TrackerIssue{
		issue(3, types.StateOpen, "[Lint] gosec (3 findings across 2 rules)", ""),
	}, Options{TitlePrefix: "Lint"})
	assert.False(t, ix.Match(f).Matched())
}

func TestSubAnalyzerSkipsOtherToolsIssues(t *testing.T) {
	megalinter := func(tool string) bool { return tool == "megalinter" }
	f := finding("megalinter", "ruff:F841", "a.py")

	standalone := issue(4, types.StateOpen, "[Lint] ruff: F841 in b.py", "")
	standalone.Labels = []string{"issuesync", "tool:ruff"}
	unlabeled := issue(5, types.StateOpen, "[Lint] ruff: E501 in c.py", "")
	ix := NewIndex([]*types.TrackerIssue{standalone, unlabeled}, Options{TitlePrefix: "Lint", IsWrapper: megalinter})
	assert.False(t, ix.Match(f).Matched())

	grouped := issue(3, types.StateOpen, "[Lint] ruff (2 findings across 2 rules)", "")
	grouped.Labels = []string{"issuesync", "tool:megalinter"}
	ix = NewIndex([]*types.TrackerIssue{standalone, grouped}, Options{TitlePrefix: "Lint", IsWrapper: megalinter})
	got := ix.Match(f)
	require.True(t, got.Matched())
	assert.Equal(t, 3, got.Issue.Number)
	assert.Equal(t, StrategySubAnalyzer, got.Strategy)
}

func TestMatchByNormalizedTitle(t *testing.T) {
	f := finding("pmd", "UnusedLocalVariable", "A.java")
	f.Title = "Avoid unused local variables such as 'x'"
	ix := NewIndex([]*types.TrackerIssue{
		issue(11, types.StateClosed, "[Old] avoid unused   LOCAL variables such as 'x' (2 occurrences)", ""),
	}, Options{TitlePrefix: "Lint"})

	got := ix.Match(f)
	require.True(t, got.Matched())
	assert.Equal(t, 11, got.Issue.Number)
	assert.Equal(t, StrategyNormalizedTitle, got.Strategy)
}

func TestMatchNone(t *testing.T) {
	f := finding("ruff", "F841", "a.py")
	ix := NewIndex([]*types.TrackerIssue{
		issue(1, types.StateOpen, "completely unrelated", ""),
		issue(2, types.StateOpen, "[Lint] mypy: attr-defined in a.py", ""),
	}, Options{TitlePrefix: "Lint", IsWrapper: wrappers})

	got := ix.Match(f)
	assert.False(t, got.Matched())
	assert.Equal(t, StrategyNone, got.Strategy)
}

func TestFallbackSkipsClaimedAndReserved(t *testing.T) {
	a := finding("ruff", "F841", "a.py")
	b := finding("ruff", "F841", "b.py")
	other := finding("ruff", "F841", "c.py")

	ix := NewIndex([]*types.TrackerIssue{
		issue(5, types.StateOpen, "[Lint] ruff: F841 in c.py", other.IdentityToken),
		issue(2, types.StateOpen, "[Lint] ruff: F841 in a.py", ""),
	}, Options{TitlePrefix: "Lint"})
	ix.Reserve(a.IdentityToken, b.IdentityToken, other.IdentityToken)

	got := ix.Match(a)
	require.True(t, got.Matched())
	assert.Equal(t, 2, got.Issue.Number, "issue 5 belongs to another live finding")
	ix.Claim(got.Issue, a)

	assert.False(t, ix.Match(b).Matched(), "claimed issues are not handed out twice")

	got = ix.Match(other)
	require.True(t, got.Matched())
	assert.Equal(t, 5, got.Issue.Number)
	assert.Equal(t, StrategyIdentityToken, got.Strategy)
}

func TestClaimPromotesToken(t *testing.T) {
	f := finding("ruff", "F841", "a.py")
	legacy := issue(6, types.StateOpen, "[Lint] ruff: F841 in a.py", "sha256:legacy")
	ix := NewIndex([]*types.TrackerIssue{legacy}, Options{TitlePrefix: "Lint"})

	got := ix.Match(f)
	require.Equal(t, StrategyToolRule, got.Strategy)
	ix.Claim(got.Issue, f)

	assert.True(t, ix.Seen("sha256:legacy"), "old token joins the seen set")
	assert.True(t, ix.Seen(f.IdentityToken))
	assert.True(t, ix.Claimed(6))

	again := ix.Match(f)
	assert.Equal(t, StrategyIdentityToken, again.Strategy)
	assert.Equal(t, 6, again.Issue.Number)
}

func TestAddRegistersCreatedIssue(t *testing.T) {
	f := finding("ruff", "F841", "a.py")
	ix := NewIndex(nil, Options{})
	ix.Add(issue(42, types.StateOpen, "[Lint] ruff: F841 in a.py", f.IdentityToken))

	got := ix.Match(f)
	require.True(t, got.Matched())
	assert.Equal(t, 42, got.Issue.Number)
	assert.Len(t, ix.Issues(), 1)
	assert.Equal(t, "ruff: f841", ix.NormalizedTitle(42))
}

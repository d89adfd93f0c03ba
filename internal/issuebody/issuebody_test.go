package issuebody

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/issuesync/internal/fingerprint"
	"github.com/steveyegge/issuesync/internal/types"
)

func sample() *types.Finding {
	f := &types.Finding{
		Tool:       "ruff",
		RuleID:     "F841",
		Message:    "Local variable `x` is assigned to but never used",
		Severity:   types.SeverityMedium,
		Confidence: types.ConfidenceHigh,
		Locations:  []types.Location{{Path: "src/a.py", StartLine: 12}},
		Evidence:   &types.Evidence{Snippet: "x = compute()", Links: []string{"https://docs.astral.sh/ruff/rules/F841"}},
	}
	f.IdentityToken = fingerprint.Token(f)
	return f
}

func TestTitle(t *testing.T) {
	f := sample()
	assert.Equal(t, "[Lint] ruff: F841 in src/a.py", Title("Lint", f))
	assert.Equal(t, "ruff: F841 in src/a.py", Title("", f))

	f.Title = "ruff (4 findings across 2 rules)"
	assert.Equal(t, "[Lint] ruff (4 findings across 2 rules)", Title(" Lint ", f))
}

func TestRenderEmbedsMarkers(t *testing.T) {
	f := sample()
	at := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	body := Render(f, Meta{RunNumber: 7, RunAt: at})

	assert.Equal(t, f.IdentityToken, ExtractToken(body))
	run, seenAt, ok := ExtractLastSeen(body)
	require.True(t, ok)
	assert.Equal(t, 7, run)
	assert.True(t, seenAt.Equal(at))
	assert.Contains(t, body, "`src/a.py:12`")
	assert.Contains(t, body, "```\nx = compute()\n```")
	assert.Contains(t, body, fingerprint.Short(f.IdentityToken))

	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, markerPrefix) {
			assert.True(t, strings.HasSuffix(line, markerSuffix), "marker must be a single line: %q", line)
		}
	}
}

func TestSameContentIgnoresLastSeen(t *testing.T) {
	f := sample()
	a := Render(f, Meta{RunNumber: 1, RunAt: time.Unix(0, 0)})
	b := Render(f, Meta{RunNumber: 2, RunAt: time.Unix(3600, 0)})
	assert.NotEqual(t, a, b)
	assert.True(t, SameContent(a, b))
	assert.True(t, SameContent(strings.ReplaceAll(a, "\n", "\r\n"), b))

	f.Message = "changed"
	c := Render(f, Meta{RunNumber: 2, RunAt: time.Unix(3600, 0)})
	assert.False(t, SameContent(a, c))
}

func TestMissesRoundTrip(t *testing.T) {
	body := Render(sample(), Meta{RunNumber: 3})
	assert.Equal(t, 0, ExtractMisses(body))

	missed := WithMisses(body, 2)
	assert.Equal(t, 2, ExtractMisses(missed))
	assert.False(t, SameContent(body, missed))

	missed = WithMisses(missed, 3)
	assert.Equal(t, 3, ExtractMisses(missed))
	assert.Equal(t, 1, strings.Count(missed, "missed count="))

	cleared := WithMisses(missed, 0)
	assert.Equal(t, 0, ExtractMisses(cleared))
	assert.True(t, SameContent(body, cleared))
}

func TestDecode(t *testing.T) {
	f := sample()
	issue := &types.TrackerIssue{Body: WithMisses(Render(f, Meta{RunNumber: 12}), 1)}
	Decode(issue)
	assert.Equal(t, f.IdentityToken, issue.IdentityToken)
	assert.Equal(t, 12, issue.LastSeenRun)
	assert.Equal(t, 1, issue.Misses)

	legacy := &types.TrackerIssue{Body: "filed by hand"}
	Decode(legacy)
	assert.Empty(t, legacy.IdentityToken)
	assert.Zero(t, legacy.LastSeenRun)
}

func TestRenderCapsLocations(t *testing.T) {
	f := sample()
	f.Locations = nil
	for i := 0; i < MaxListedLocations+5; i++ {
		f.Locations = append(f.Locations, types.Location{Path: "a.py", StartLine: i + 1})
	}
	body := Render(f, Meta{})
	assert.Contains(t, body, "...and 5 more")
	assert.NotContains(t, body, "`a.py:51`")
}

func TestRenderFencesSnippetsContainingBackticks(t *testing.T) {
	f := sample()
	f.Evidence = &types.Evidence{Snippet: "```go\nx := 1\n```"}
	body := Render(f, Meta{})
	assert.Contains(t, body, "~~~~\n```go")
}

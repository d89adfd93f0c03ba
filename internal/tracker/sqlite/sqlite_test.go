package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/issuesync/internal/reconcile"
	"github.com/steveyegge/issuesync/internal/tracker"
	"github.com/steveyegge/issuesync/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "nested", "issues.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateAndSearch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first, err := store.Create(ctx, tracker.CreateRequest{
		Title:     "[Lint] ruff: F841 in a.py",
		Body:      "body one",
		Labels:    []string{"issuesync", "tool:ruff"},
		Assignees: []string{"octocat"},
	})
	require.NoError(t, err)
	second, err := store.Create(ctx, tracker.CreateRequest{
		Title:  "[Lint] mypy: attr-defined in b.py",
		Labels: []string{"issuesync", "tool:mypy"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)

	issues, err := store.SearchByLabel(ctx, []string{"issuesync"}, types.StateAll)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "body one", issues[0].Body)
	assert.Equal(t, types.StateOpen, issues[0].State)
	assert.ElementsMatch(t, []string{"issuesync", "tool:ruff"}, issues[0].Labels)

	// Every label must match, case-insensitively.
	issues, err = store.SearchByLabel(ctx, []string{"IssueSync", "tool:mypy"}, types.StateOpen)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, second, issues[0].Number)

	issues, err = store.SearchByLabel(ctx, []string{"issuesync"}, types.StateClosed)
	require.NoError(t, err)
	assert.Empty(t, issues)

	_, err = store.SearchByLabel(ctx, nil, types.IssueState("merged"))
	assert.Error(t, err)
}

func TestCreateRejectsInvalidRequest(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Create(context.Background(), tracker.CreateRequest{Title: ""})
	assert.Error(t, err)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	number, err := store.Create(ctx, tracker.CreateRequest{Title: "old", Body: "old body", Labels: []string{"a", "b"}})
	require.NoError(t, err)

	err = store.Update(ctx, number, tracker.UpdateRequest{
		Title:  tracker.String("new"),
		Labels: tracker.Labels([]string{"b", "c"}),
		State:  tracker.State(types.StateClosed),
	})
	require.NoError(t, err)

	issues, err := store.SearchByLabel(ctx, []string{"c"}, types.StateAll)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	issue := issues[0]
	assert.Equal(t, "new", issue.Title)
	assert.Equal(t, "old body", issue.Body, "nil fields are left alone")
	assert.Equal(t, types.StateClosed, issue.State)
	assert.ElementsMatch(t, []string{"b", "c"}, issue.Labels)

	require.NoError(t, store.Update(ctx, number, tracker.UpdateRequest{State: tracker.State(types.StateOpen)}))
	var closedAt *string
	require.NoError(t, store.db.QueryRow(`SELECT closed_at FROM issues WHERE number = ?`, number).Scan(&closedAt))
	assert.Nil(t, closedAt)

	err = store.Update(ctx, 999, tracker.UpdateRequest{Body: tracker.String("x")})
	assert.ErrorIs(t, err, tracker.ErrNotFound)
}

func TestCloseWithComment(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	number, err := store.Create(ctx, tracker.CreateRequest{Title: "stale", Labels: []string{"issuesync"}})
	require.NoError(t, err)

	require.NoError(t, store.CloseWithComment(ctx, number, "Resolved in run 4."))

	comments, err := store.Comments(ctx, number)
	require.NoError(t, err)
	assert.Equal(t, []string{"Resolved in run 4."}, comments)

	issues, err := store.SearchByLabel(ctx, []string{"issuesync"}, types.StateClosed)
	require.NoError(t, err)
	require.Len(t, issues, 1)

	var events int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM events WHERE issue_number = ?`, number).Scan(&events))
	assert.Equal(t, 2, events)

	err = store.CloseWithComment(ctx, 404, "gone")
	assert.ErrorIs(t, err, tracker.ErrNotFound)
}

func TestEnsureLabelsExistKeepsExisting(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.EnsureLabelsExist(ctx, []types.LabelDef{{Name: "issuesync", Color: "ededed"}}))
	require.NoError(t, store.EnsureLabelsExist(ctx, []types.LabelDef{
		{Name: "IssueSync", Color: "000000"},
		{Name: "tool:ruff", Color: "1d76db", Description: "Reported by ruff"},
	}))

	defs, err := store.LabelDefs(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, types.LabelDef{Name: "issuesync", Color: "ededed"}, defs[0])
	assert.Equal(t, "tool:ruff", defs[1].Name)
}

func TestReopensAfterRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "issues.db")

	store, err := New(path)
	require.NoError(t, err)
	number, err := store.Create(ctx, tracker.CreateRequest{Title: "persisted"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = New(path)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Update(ctx, number, tracker.UpdateRequest{Body: tracker.String("still here")}))
}

func TestReconcileAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	findings := []types.Finding{
		{Tool: "ruff", RuleID: "F841", Message: "unused variable", Severity: types.SeverityHigh, Confidence: types.ConfidenceHigh,
			Locations: []types.Location{{Path: "src/a.py", StartLine: 3}}},
		{Tool: "mypy", RuleID: "attr-defined", Message: "no attribute", Severity: types.SeverityMedium, Confidence: types.ConfidenceHigh,
			Locations: []types.Location{{Path: "src/b.py", StartLine: 9}}},
	}

	opts := reconcile.DefaultOptions("acme/widgets")
	opts.RunNumber = 1
	r, err := reconcile.New(store, opts)
	require.NoError(t, err)
	res, err := r.Run(ctx, findings)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.Created)

	opts.RunNumber = 2
	r, err = reconcile.New(store, opts)
	require.NoError(t, err)
	res, err = r.Run(ctx, findings[:1])
	require.NoError(t, err)
	assert.Equal(t, 0, res.Stats.Created)
	assert.Equal(t, 1, res.Stats.Unchanged)
	assert.Equal(t, 1, res.Stats.ClosedResolved)

	open, err := store.SearchByLabel(ctx, []string{"issuesync"}, types.StateOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Contains(t, open[0].Title, "ruff")
}

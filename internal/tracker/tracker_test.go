package tracker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/steveyegge/issuesync/internal/tracker"
	"github.com/steveyegge/issuesync/internal/tracker/trackertest"
	"github.com/steveyegge/issuesync/internal/types"
)

func TestRateLimitedSpacesMutations(t *testing.T) {
	inner := trackertest.New()
	store := tracker.NewRateLimited(inner, 40*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := store.Create(ctx, tracker.CreateRequest{Title: "t"})
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	// The first write goes through immediately, the next two wait a delay each.
	assert.GreaterOrEqual(t, elapsed, 75*time.Millisecond)
	assert.Len(t, inner.CallsOf(trackertest.OpCreate), 3)
}

func TestRateLimitedReadsAreNotPaced(t *testing.T) {
	inner := trackertest.New()
	store := tracker.NewRateLimited(inner, time.Hour)
	ctx := context.Background()

	_, err := store.Create(ctx, tracker.CreateRequest{Title: "t"})
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 5; i++ {
		_, err := store.SearchByLabel(ctx, nil, types.StateAll)
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestRateLimitedCancelledWait(t *testing.T) {
	inner := trackertest.New()
	inner.Seed(&types.TrackerIssue{Number: 1, State: types.StateOpen, Title: "t"})
	store := tracker.NewRateLimited(inner, time.Hour)

	require.NoError(t, store.CloseWithComment(context.Background(), 1, "first"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := store.Update(ctx, 1, tracker.UpdateRequest{Title: tracker.String("new")})
	require.Error(t, err)
	assert.Len(t, inner.CallsOf(trackertest.OpUpdate), 0, "the update never reached the tracker")
}

func TestZeroDelayDisablesPacing(t *testing.T) {
	inner := trackertest.New()
	store := tracker.NewRateLimited(inner, 0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 20; i++ {
		_, err := store.Create(ctx, tracker.CreateRequest{Title: "t"})
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestDryRunPerformsNoWrites(t *testing.T) {
	inner := trackertest.New()
	inner.Seed(&types.TrackerIssue{Number: 7, State: types.StateOpen, Title: "t", Labels: []string{"issuesync"}})

	core, logs := observer.New(zap.InfoLevel)
	store := tracker.NewDryRun(inner, zap.New(core))
	ctx := context.Background()

	issues, err := store.SearchByLabel(ctx, []string{"issuesync"}, types.StateAll)
	require.NoError(t, err)
	require.Len(t, issues, 1)

	n1, err := store.Create(ctx, tracker.CreateRequest{Title: "a"})
	require.NoError(t, err)
	n2, err := store.Create(ctx, tracker.CreateRequest{Title: "b"})
	require.NoError(t, err)
	assert.Equal(t, -1, n1)
	assert.Equal(t, -2, n2)

	require.NoError(t, store.Update(ctx, 7, tracker.UpdateRequest{State: tracker.State(types.StateClosed)}))
	require.NoError(t, store.CloseWithComment(ctx, 7, "bye"))
	require.NoError(t, store.EnsureLabelsExist(ctx, []types.LabelDef{{Name: "issuesync"}}))

	assert.Equal(t, 0, inner.Mutations())
	assert.True(t, inner.Issue(7).IsOpen())
	assert.Equal(t, 5, logs.Len())
}

func TestUpdateRequest(t *testing.T) {
	var empty tracker.UpdateRequest
	assert.True(t, empty.IsEmpty())
	assert.NoError(t, empty.Validate())

	bad := tracker.UpdateRequest{Title: tracker.String("")}
	assert.Error(t, bad.Validate())

	badState := tracker.UpdateRequest{State: tracker.State(types.StateAll)}
	assert.Error(t, badState.Validate())

	ok := tracker.UpdateRequest{Labels: tracker.Labels([]string{"a"})}
	assert.False(t, ok.IsEmpty())
}

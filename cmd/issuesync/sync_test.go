package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/issuesync/internal/config"
	"github.com/steveyegge/issuesync/internal/findings"
	"github.com/steveyegge/issuesync/internal/reconcile"
	"github.com/steveyegge/issuesync/internal/tracker/sqlite"
	"github.com/steveyegge/issuesync/internal/types"
)

const findingsDoc = `{"findings": [
  {"tool": "ruff", "rule_id": "F841", "severity": "high", "confidence": "high",
   "message": "Local variable x is assigned to but never used",
   "locations": [{"path": "src/a.py", "start_line": 12}]},
  {"tool": "ruff", "rule_id": "F841", "severity": "high", "confidence": "high",
   "locations": [{"path": "src/b.py", "start_line": 3}]},
  {"tool": "mypy", "rule_id": "attr-defined", "severity": "low", "confidence": "medium",
   "locations": [{"path": "src/c.py", "start_line": 40}]}
]}`

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Repository = "acme/widgets"
	cfg.Tracker.Backend = config.BackendSQLite
	cfg.Tracker.SQLite.Path = filepath.Join(dir, "issues.db")
	cfg.Tracker.MutationDelay = "0s"
	cfg.Logging.Level = "error"
	cfg.Metrics.Textfile = filepath.Join(dir, "issuesync.prom")
	require.NoError(t, cfg.Validate())

	path := filepath.Join(dir, "findings.json")
	require.NoError(t, os.WriteFile(path, []byte(findingsDoc), 0o644))
	return &cfg, path
}

func openIssues(t *testing.T, cfg *config.Config) []*types.TrackerIssue {
	t.Helper()
	store, err := sqlite.New(cfg.Tracker.SQLite.Path)
	require.NoError(t, err)
	defer store.Close()
	issues, err := store.SearchByLabel(context.Background(), []string{"issuesync"}, types.StateOpen)
	require.NoError(t, err)
	return issues
}

func TestRunSyncAgainstSQLite(t *testing.T) {
	cfg, path := testConfig(t)
	ctx := context.Background()

	var out bytes.Buffer
	res, err := runSync(ctx, cfg, syncFlags{findings: []string{path}, runNumber: 1}, &out)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stats.Created)
	assert.Contains(t, out.String(), "Synced 3 findings into")
	assert.Contains(t, out.String(), "create")
	assert.Len(t, openIssues(t, cfg), 3)

	metricsText, err := os.ReadFile(cfg.Metrics.Textfile)
	require.NoError(t, err)
	assert.Contains(t, string(metricsText), `issuesync_issue_actions_total{action="created",repository="acme/widgets"} 3`)

	// Same findings again: nothing to write.
	out.Reset()
	res, err = runSync(ctx, cfg, syncFlags{findings: []string{path}, runNumber: 2}, &out)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Stats.Created)
	assert.Equal(t, 3, res.Stats.Unchanged)
}

func TestRunSyncFlagOverrides(t *testing.T) {
	cfg, path := testConfig(t)
	one := 1

	res, err := runSync(context.Background(), cfg, syncFlags{
		findings:  []string{path},
		strategy:  "same-rule",
		maxCreate: &one,
	}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.Actionable, "ruff findings merge into one")
	assert.Equal(t, 1, res.Stats.Created)
	assert.Equal(t, 1, res.Stats.SkippedMaxReached)

	issues := openIssues(t, cfg)
	require.Len(t, issues, 1)
	assert.Equal(t, "[Lint] ruff: F841 (2 occurrences in 2 files)", issues[0].Title)
}

func TestRunSyncDryRunWritesNothing(t *testing.T) {
	cfg, path := testConfig(t)

	var out bytes.Buffer
	res, err := runSync(context.Background(), cfg, syncFlags{findings: []string{path}, dryRun: true}, &out)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stats.Created)
	assert.Contains(t, out.String(), "dry run")
	assert.Empty(t, openIssues(t, cfg))
}

func TestRunSyncJSONOutput(t *testing.T) {
	cfg, path := testConfig(t)

	var out bytes.Buffer
	_, err := runSync(context.Background(), cfg, syncFlags{findings: []string{path}, jsonOutput: true}, &out)
	require.NoError(t, err)

	var res reconcile.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, 3, res.Stats.Created)
	assert.Len(t, res.Decisions, 3)
}

func TestRunSyncErrors(t *testing.T) {
	cfg, path := testConfig(t)

	_, err := runSync(context.Background(), cfg, syncFlags{findings: []string{path}, strategy: "same-planet"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = runSync(context.Background(), cfg, syncFlags{findings: []string{filepath.Join(t.TempDir(), "missing.json")}}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRunOptionsRunNumberFromEnvironment(t *testing.T) {
	cfg, _ := testConfig(t)
	t.Setenv("GITHUB_RUN_NUMBER", "77")

	opts, err := runOptions(cfg, syncFlags{})
	require.NoError(t, err)
	assert.Equal(t, 77, opts.RunNumber)

	opts, err = runOptions(cfg, syncFlags{runNumber: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, opts.RunNumber)

	off := false
	opts, err = runOptions(cfg, syncFlags{closeResolved: &off})
	require.NoError(t, err)
	assert.False(t, opts.CloseResolved)
}

func TestPrintFingerprints(t *testing.T) {
	_, path := testConfig(t)
	batch, err := findings.Load(context.Background(), path)
	require.NoError(t, err)

	var out bytes.Buffer
	printFingerprints(&out, batch, false)
	assert.Contains(t, out.String(), "ruff|f841|src/a.py|")
	assert.Contains(t, out.String(), "3 finding(s)")
}

func TestInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issuesync.yaml")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"init", path})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.FileExists(t, path)
	assert.Contains(t, out.String(), "Wrote")

	assert.Error(t, rootCmd.Execute(), "second init must not overwrite")
}

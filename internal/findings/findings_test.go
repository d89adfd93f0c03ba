package findings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/issuesync/internal/types"
)

const arrayDoc = `[
  {"tool": "ruff", "rule_id": "F841", "severity": "high", "confidence": "high",
   "message": "Local variable x is assigned to but never used",
   "locations": [{"path": "src/a.py", "start_line": 12}],
   "evidence": {"snippet": "x = 1", "links": ["https://docs.astral.sh/ruff/rules/unused-variable/"]}},
  {"tool": "mypy", "rule_id": "attr-defined", "severity": "medium"}
]`

const objectDoc = `{"findings": [{"tool": "pmd", "rule_id": "UnusedPrivateField", "severity": "low", "confidence": "low"}]}`

func TestParseArray(t *testing.T) {
	got, err := Parse("array.json", []byte(arrayDoc))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "ruff", got[0].Tool)
	assert.Equal(t, types.SeverityHigh, got[0].Severity)
	assert.Equal(t, 12, got[0].Locations[0].StartLine)
	require.NotNil(t, got[0].Evidence)
	assert.Equal(t, "x = 1", got[0].Evidence.Snippet)

	assert.Equal(t, types.ConfidenceMedium, got[1].Confidence, "missing confidence defaults to medium")
}

func TestParseObject(t *testing.T) {
	got, err := Parse("object.json", []byte(objectDoc))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "UnusedPrivateField", got[0].RuleID)
}

func TestParseEmpty(t *testing.T) {
	got, err := Parse("empty.json", []byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = Parse("empty.json", []byte(`{"findings": []}`))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing tool", `[{"rule_id": "F841", "severity": "high"}]`},
		{"unknown severity", `[{"tool": "ruff", "rule_id": "F841", "severity": "urgent"}]`},
		{"unknown confidence", `[{"tool": "ruff", "rule_id": "F841", "severity": "low", "confidence": "certain"}]`},
		{"negative line", `[{"tool": "ruff", "rule_id": "F841", "severity": "low", "locations": [{"path": "a.py", "start_line": -1}]}]`},
		{"empty path", `[{"tool": "ruff", "rule_id": "F841", "severity": "low", "locations": [{"path": ""}]}]`},
		{"wrong root", `{"results": []}`},
		{"scalar root", `"findings"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("doc.json", []byte(tt.doc))
			require.Error(t, err)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr), "got %v", err)
		})
	}

	_, err := Parse("broken.json", []byte(`[{"tool":`))
	assert.Error(t, err)
}

func TestLoadPreservesPathOrder(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 12; i++ {
		path := filepath.Join(dir, fmt.Sprintf("f%02d.json", i))
		doc := fmt.Sprintf(`[{"tool": "tool%02d", "rule_id": "R1", "severity": "low"}]`, i)
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
		paths = append(paths, path)
	}

	got, err := Load(context.Background(), paths...)
	require.NoError(t, err)
	require.Len(t, got, 12)
	for i, f := range got {
		assert.Equal(t, fmt.Sprintf("tool%02d", i), f.Tool)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(objectDoc), 0o644))

	_, err := Load(context.Background(), good, filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	_, err = Load(context.Background(), Stdin, Stdin)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Load(ctx, good)
	assert.ErrorIs(t, err, context.Canceled)
}

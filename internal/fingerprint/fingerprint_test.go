package fingerprint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/issuesync/internal/types"
)

func finding(path string, line int, msg string) types.Finding {
	f := types.Finding{
		Tool:       "Ruff",
		RuleID:     " F841 ",
		Message:    msg,
		Severity:   types.SeverityMedium,
		Confidence: types.ConfidenceHigh,
	}
	if path != "" {
		f.Locations = []types.Location{{Path: path, StartLine: line}}
	}
	return f
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`src\Pkg\a.py`, "src/pkg/a.py"},
		{"./src/a.py", "src/a.py"},
		{"././src/a.py", "src/a.py"},
		{"SRC/A.PY", "src/a.py"},
	}
	for _, tt := range tests {
		if got := NormalizePath(tt.in); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeMessage(t *testing.T) {
	got := NormalizeMessage("  Local variable `x1`   assigned\tbut never used (line 42)  ")
	assert.Equal(t, "local variable `x#` assigned but never used (line #)", got)
}

func TestBucket(t *testing.T) {
	tests := []struct {
		line, want int
	}{
		{0, 0},
		{19, 0},
		{20, 20},
		{47, 40},
		{-3, 0},
	}
	for _, tt := range tests {
		if got := Bucket(tt.line); got != tt.want {
			t.Errorf("Bucket(%d) = %d, want %d", tt.line, got, tt.want)
		}
	}
}

func TestKeyOfNoLocation(t *testing.T) {
	f := finding("", 0, "msg")
	key := KeyOf(&f)
	assert.Equal(t, NoLocationPath, key.Path)
	assert.Equal(t, 0, key.LineBucket)
	assert.Equal(t, "ruff|f841|__no_location__|0|msg", key.String())
}

func TestTokenDeterministic(t *testing.T) {
	a := finding("src/a.py", 12, "x is unused")
	b := finding("src/a.py", 12, "x is unused")
	require.Equal(t, Token(&a), Token(&b))
	assert.True(t, strings.HasPrefix(Token(&a), Algorithm+":"))
	assert.Len(t, Token(&a), len(Algorithm)+1+64)
}

func TestTokenBucketing(t *testing.T) {
	inBucket := finding("src/a.py", 41, "unused 3")
	sameBucket := finding(`.\src\A.py`, 59, "unused   17")
	nextBucket := finding("src/a.py", 60, "unused 3")

	assert.Equal(t, Token(&inBucket), Token(&sameBucket), "drift inside a bucket must not change identity")
	assert.NotEqual(t, Token(&inBucket), Token(&nextBucket), "crossing a bucket boundary changes identity")
}

func TestTokenDistinguishesRules(t *testing.T) {
	a := finding("src/a.py", 1, "m")
	b := finding("src/a.py", 1, "m")
	b.RuleID = "F401"
	assert.NotEqual(t, Token(&a), Token(&b))
}

func TestShort(t *testing.T) {
	f := finding("src/a.py", 1, "m")
	tok := Token(&f)
	short := Short(tok)
	assert.Len(t, short, ShortLength)
	assert.True(t, strings.HasPrefix(tok, Algorithm+":"+short))
	assert.Equal(t, "abc", Short("abc"))
}

func TestHashPartsMatchesTokenFormat(t *testing.T) {
	f := finding("src/a.py", 1, "m")
	assert.Equal(t, Token(&f), HashParts("ruff", "f841", "src/a.py", "0", "m"))
}

func TestStampDoesNotMutateInput(t *testing.T) {
	in := []types.Finding{finding("a.py", 1, "m"), finding("b.py", 1, "m")}
	out := Stamp(in)
	require.Len(t, out, 2)
	assert.Empty(t, in[0].IdentityToken)
	assert.NotEmpty(t, out[0].IdentityToken)
	assert.NotEqual(t, out[0].IdentityToken, out[1].IdentityToken)
}

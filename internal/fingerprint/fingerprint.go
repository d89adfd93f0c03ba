// Package fingerprint derives stable identity tokens for findings.
//
// A token is a pure function of the finding's normalized identity key, so the
// same problem reported by two runs yields byte-identical tokens even when
// line numbers drift inside a bucket, paths use different separators, or the
// message embeds changing counts.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"

	"github.com/steveyegge/issuesync/internal/types"
)

const (
	// Algorithm prefixes every token.
	Algorithm = "sha256"

	// NoLocationPath stands in for the path of findings without locations.
	NoLocationPath = "__no_location__"

	// LineBucketSize is the width of the line window that tolerates drift.
	LineBucketSize = 20

	// ShortLength is the length of the human-facing token form.
	ShortLength = 12

	keySeparator = "|"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	digitRun      = regexp.MustCompile(`[0-9]+`)
)

// IdentityKey is the normalized tuple a token is computed from.
type IdentityKey struct {
	Tool       string
	RuleID     string
	Path       string
	LineBucket int
	Message    string
}

// String joins the key fields in canonical order.
func (k IdentityKey) String() string {
	return strings.Join([]string{
		k.Tool,
		k.RuleID,
		k.Path,
		strconv.Itoa(k.LineBucket),
		k.Message,
	}, keySeparator)
}

// KeyOf computes the identity key of a finding from its primary location.
func KeyOf(f *types.Finding) IdentityKey {
	key := IdentityKey{
		Tool:    NormalizeTool(f.Tool),
		RuleID:  NormalizeRule(f.RuleID),
		Path:    NoLocationPath,
		Message: NormalizeMessage(f.Message),
	}
	if loc, ok := f.PrimaryLocation(); ok {
		key.Path = NormalizePath(loc.Path)
		key.LineBucket = Bucket(loc.StartLine)
	}
	return key
}

// Token returns the identity token of a finding.
func Token(f *types.Finding) string {
	return TokenOf(KeyOf(f))
}

// TokenOf returns the identity token for a key.
func TokenOf(k IdentityKey) string {
	return hash(k.String())
}

// HashParts hashes an arbitrary key made of parts, joined the same way as
// identity keys. Merge keys use it so consolidated findings get tokens in the
// same format.
func HashParts(parts ...string) string {
	return hash(strings.Join(parts, keySeparator))
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return Algorithm + ":" + hex.EncodeToString(sum[:])
}

// Short returns the first ShortLength hex characters of a token.
func Short(token string) string {
	if i := strings.IndexByte(token, ':'); i >= 0 {
		token = token[i+1:]
	}
	if len(token) > ShortLength {
		return token[:ShortLength]
	}
	return token
}

// Stamp returns copies of findings with IdentityToken set.
func Stamp(findings []types.Finding) []types.Finding {
	out := make([]types.Finding, len(findings))
	for i := range findings {
		out[i] = findings[i]
		out[i].IdentityToken = Token(&findings[i])
	}
	return out
}

// NormalizeTool lowercases a tool name.
func NormalizeTool(tool string) string {
	return strings.ToLower(strings.TrimSpace(tool))
}

// NormalizeRule trims and lowercases a rule id.
func NormalizeRule(rule string) string {
	return strings.ToLower(strings.TrimSpace(rule))
}

// NormalizePath converts separators to '/', strips leading "./" and lowercases.
func NormalizePath(path string) string {
	p := strings.ReplaceAll(strings.TrimSpace(path), `\`, "/")
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	return strings.ToLower(p)
}

// Bucket rounds a line down to its LineBucketSize window.
func Bucket(line int) int {
	if line < 0 {
		return 0
	}
	return (line / LineBucketSize) * LineBucketSize
}

// NormalizeMessage collapses whitespace, replaces digit runs with '#', trims
// and lowercases.
func NormalizeMessage(msg string) string {
	m := whitespaceRun.ReplaceAllString(msg, " ")
	m = digitRun.ReplaceAllString(m, "#")
	return strings.ToLower(strings.TrimSpace(m))
}

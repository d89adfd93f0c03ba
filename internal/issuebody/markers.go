package issuebody

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/issuesync/internal/types"
)

// Markers are HTML comments so they stay invisible in rendered issues.
const (
	markerPrefix = "<!-- issuesync:"
	markerSuffix = " -->"
)

var (
	tokenMarker    = regexp.MustCompile(`(?m)^<!-- issuesync:fingerprint (\S+) -->[ \t]*$`)
	lastSeenMarker = regexp.MustCompile(`(?m)^<!-- issuesync:last-seen run=(-?\d+) at=(\S+) -->[ \t]*\n?`)
	missedMarker   = regexp.MustCompile(`(?m)^<!-- issuesync:missed count=(\d+) -->[ \t]*\n?`)
)

// TokenMarker renders the identity token marker line.
func TokenMarker(token string) string {
	return markerPrefix + "fingerprint " + token + markerSuffix
}

// LastSeenMarker renders the last-seen marker line.
func LastSeenMarker(run int, at time.Time) string {
	return fmt.Sprintf("%slast-seen run=%d at=%s%s", markerPrefix, run, at.UTC().Format(time.RFC3339), markerSuffix)
}

// MissedMarker renders the consecutive-miss marker line.
func MissedMarker(count int) string {
	return fmt.Sprintf("%smissed count=%d%s", markerPrefix, count, markerSuffix)
}

// ExtractToken returns the identity token embedded in body, or "".
func ExtractToken(body string) string {
	m := tokenMarker.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return m[1]
}

// ExtractLastSeen returns the run number and time of the last-seen marker.
func ExtractLastSeen(body string) (run int, at time.Time, ok bool) {
	m := lastSeenMarker.FindStringSubmatch(body)
	if m == nil {
		return 0, time.Time{}, false
	}
	run, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, time.Time{}, false
	}
	at, _ = time.Parse(time.RFC3339, m[2])
	return run, at, true
}

// ExtractMisses returns the consecutive-miss count, 0 when absent.
func ExtractMisses(body string) int {
	m := missedMarker.FindStringSubmatch(body)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// StripVolatile removes the last-seen marker so bodies from different runs
// compare equal when nothing else changed.
func StripVolatile(body string) string {
	return strings.TrimRight(lastSeenMarker.ReplaceAllString(body, ""), "\n")
}

// WithMisses returns body with its miss marker set to count; count 0 removes it.
func WithMisses(body string, count int) string {
	body = strings.TrimRight(missedMarker.ReplaceAllString(body, ""), "\n")
	if count <= 0 {
		return body + "\n"
	}
	return body + "\n" + MissedMarker(count) + "\n"
}

// Decode fills the marker-derived fields of an issue from its body.
func Decode(issue *types.TrackerIssue) {
	issue.IdentityToken = ExtractToken(issue.Body)
	if run, _, ok := ExtractLastSeen(issue.Body); ok {
		issue.LastSeenRun = run
	}
	issue.Misses = ExtractMisses(issue.Body)
}

package reconcile

import (
	"time"

	"github.com/steveyegge/issuesync/internal/matcher"
)

// Stats counts what a run did.
type Stats struct {
	FindingsIn int `json:"findings_in"`
	Actionable int `json:"actionable"`

	Created   int `json:"created"`
	Updated   int `json:"updated"` // includes reopened
	Reopened  int `json:"reopened"`
	Unchanged int `json:"unchanged"`

	Closed           int `json:"closed"` // sum of the three below
	ClosedResolved   int `json:"closed_resolved"`
	ClosedSuperseded int `json:"closed_superseded"`
	ClosedDuplicate  int `json:"closed_duplicate"`

	MissesRecorded int `json:"misses_recorded"`

	SkippedBelowThreshold int `json:"skipped_below_threshold"`
	SkippedDuplicate      int `json:"skipped_duplicate"`
	SkippedMaxReached     int `json:"skipped_max_reached"`
	SkippedIgnored        int `json:"skipped_ignored"`
}

// Action is what the reconciler decided for a finding or issue
type Action string

const (
	ActionCreate          Action = "create"
	ActionUpdate          Action = "update"
	ActionReopen          Action = "reopen"
	ActionUnchanged       Action = "unchanged"
	ActionSkipCap         Action = "skip-max-reached"
	ActionSkipIgnored     Action = "skip-ignored"
	ActionCloseResolved   Action = "close-resolved"
	ActionCloseSuperseded Action = "close-superseded"
	ActionCloseDuplicate  Action = "close-duplicate"
	ActionRecordMiss      Action = "record-miss"
)

// Decision records one reconciler decision.
type Decision struct {
	Action   Action           `json:"action"`
	Finding  string           `json:"finding,omitempty"` // short token
	Title    string           `json:"title"`
	Issue    int              `json:"issue,omitempty"`
	Strategy matcher.Strategy `json:"strategy,omitempty"`
	// Reference is the surviving or superseding issue of a close.
	Reference int `json:"reference,omitempty"`
}

// Result is the outcome of a run
type Result struct {
	RunID     string        `json:"run_id"`
	Stats     Stats         `json:"stats"`
	Decisions []Decision    `json:"decisions"`
	Duration  time.Duration `json:"duration"`
}

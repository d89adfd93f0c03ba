// Package tracker defines the boundary between the reconciler and an issue
// tracker, plus store decorators for pacing and dry runs.
package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/steveyegge/issuesync/internal/types"
)

// ErrNotFound is returned when an issue number does not exist
var ErrNotFound = errors.New("issue not found")

// IssueStore defines the interface for issue tracker backends
type IssueStore interface {
	// SearchByLabel returns every issue carrying all of labels in the given
	// state (types.StateAll for both). Backends handle pagination.
	SearchByLabel(ctx context.Context, labels []string, state types.IssueState) ([]*types.TrackerIssue, error)

	// Create files a new open issue and returns its number.
	Create(ctx context.Context, req CreateRequest) (int, error)

	// Update applies the non-nil fields of req.
	Update(ctx context.Context, number int, req UpdateRequest) error

	// CloseWithComment posts comment on the issue, then closes it.
	CloseWithComment(ctx context.Context, number int, comment string) error

	// EnsureLabelsExist creates any label definition the tracker lacks.
	EnsureLabelsExist(ctx context.Context, defs []types.LabelDef) error
}

// CreateRequest describes a new issue
type CreateRequest struct {
	Title     string
	Body      string
	Labels    []string
	Assignees []string
}

// Validate checks if the request has valid field values
func (r *CreateRequest) Validate() error {
	if r.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(r.Title) > 256 {
		return fmt.Errorf("title must be 256 characters or less (got %d)", len(r.Title))
	}
	return nil
}

// UpdateRequest changes selected fields of an issue; nil means unchanged
type UpdateRequest struct {
	Title  *string
	Body   *string
	Labels *[]string
	State  *types.IssueState
}

// IsEmpty reports whether the request changes nothing
func (r *UpdateRequest) IsEmpty() bool {
	return r.Title == nil && r.Body == nil && r.Labels == nil && r.State == nil
}

// Validate checks if the request has valid field values
func (r *UpdateRequest) Validate() error {
	if r.Title != nil && *r.Title == "" {
		return fmt.Errorf("title cannot be set to empty")
	}
	if r.State != nil && !r.State.IsValid() {
		return fmt.Errorf("invalid state: %s", *r.State)
	}
	return nil
}

// String returns a pointer to s, for UpdateRequest fields.
func String(s string) *string {
	return &s
}

// State returns a pointer to s, for UpdateRequest fields.
func State(s types.IssueState) *types.IssueState {
	return &s
}

// Labels returns a pointer to labels, for UpdateRequest fields.
func Labels(labels []string) *[]string {
	return &labels
}

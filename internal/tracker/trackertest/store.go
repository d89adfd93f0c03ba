// Package trackertest provides an in-memory tracker.IssueStore that records
// every call, for tests.
package trackertest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/steveyegge/issuesync/internal/tracker"
	"github.com/steveyegge/issuesync/internal/types"
)

// Op names an IssueStore method
type Op string

const (
	OpSearch       Op = "search"
	OpCreate       Op = "create"
	OpUpdate       Op = "update"
	OpClose        Op = "close"
	OpEnsureLabels Op = "ensure-labels"
)

// Call is one recorded IssueStore invocation
type Call struct {
	Op      Op
	Number  int
	Comment string
	Update  tracker.UpdateRequest
}

// Store is an in-memory IssueStore.
type Store struct {
	mu        sync.Mutex
	issues    map[int]*types.TrackerIssue
	comments  map[int][]string
	labelDefs map[string]types.LabelDef
	next      int
	calls     []Call
	failures  map[Op]error
}

var _ tracker.IssueStore = (*Store)(nil)

// New returns an empty store whose first issue is number 1.
func New() *Store {
	return &Store{
		issues:    make(map[int]*types.TrackerIssue),
		comments:  make(map[int][]string),
		labelDefs: make(map[string]types.LabelDef),
		failures:  make(map[Op]error),
		next:      1,
	}
}

// Seed adds existing issues without recording calls.
func (s *Store) Seed(issues ...*types.TrackerIssue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, issue := range issues {
		c := clone(issue)
		s.issues[c.Number] = c
		if c.Number >= s.next {
			s.next = c.Number + 1
		}
	}
}

// FailOn makes every future call of op return err.
func (s *Store) FailOn(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// Calls returns the recorded calls in order.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsOf returns the recorded calls of one kind.
func (s *Store) CallsOf(op Op) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Mutations counts recorded calls other than searches.
func (s *Store) Mutations() int {
	n := 0
	for _, c := range s.Calls() {
		if c.Op != OpSearch {
			n++
		}
	}
	return n
}

// ResetCalls forgets recorded calls.
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// Issue returns a copy of an issue, or nil.
func (s *Store) Issue(number int) *types.TrackerIssue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if issue, ok := s.issues[number]; ok {
		return clone(issue)
	}
	return nil
}

// Issues returns copies of all issues ordered by number.
func (s *Store) Issues() []*types.TrackerIssue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.TrackerIssue, 0, len(s.issues))
	for _, issue := range s.issues {
		out = append(out, clone(issue))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// OpenIssues returns copies of the open issues ordered by number.
func (s *Store) OpenIssues() []*types.TrackerIssue {
	var out []*types.TrackerIssue
	for _, issue := range s.Issues() {
		if issue.IsOpen() {
			out = append(out, issue)
		}
	}
	return out
}

// Comments returns the comments posted on an issue.
func (s *Store) Comments(number int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.comments[number]...)
}

// LabelDefs returns the ensured label names, sorted.
func (s *Store) LabelDefs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.labelDefs))
	for name := range s.labelDefs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store) record(c Call) error {
	s.calls = append(s.calls, c)
	return s.failures[c.Op]
}

func (s *Store) SearchByLabel(_ context.Context, labels []string, state types.IssueState) ([]*types.TrackerIssue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Op: OpSearch}); err != nil {
		return nil, err
	}
	if !state.IsValidFilter() {
		return nil, fmt.Errorf("invalid state filter: %s", state)
	}

	var out []*types.TrackerIssue
	for _, issue := range s.issues {
		if state != types.StateAll && issue.State != state {
			continue
		}
		if !hasAll(issue, labels) {
			continue
		}
		out = append(out, clone(issue))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) Create(_ context.Context, req tracker.CreateRequest) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Op: OpCreate}); err != nil {
		return 0, err
	}
	if err := req.Validate(); err != nil {
		return 0, err
	}
	number := s.next
	s.next++
	s.issues[number] = &types.TrackerIssue{
		Number: number,
		Title:  req.Title,
		Body:   req.Body,
		State:  types.StateOpen,
		Labels: append([]string(nil), req.Labels...),
	}
	s.calls[len(s.calls)-1].Number = number
	return number, nil
}

func (s *Store) Update(_ context.Context, number int, req tracker.UpdateRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Op: OpUpdate, Number: number, Update: req}); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}
	issue, ok := s.issues[number]
	if !ok {
		return fmt.Errorf("issue %d: %w", number, tracker.ErrNotFound)
	}
	if req.Title != nil {
		issue.Title = *req.Title
	}
	if req.Body != nil {
		issue.Body = *req.Body
	}
	if req.Labels != nil {
		issue.Labels = append([]string(nil), (*req.Labels)...)
	}
	if req.State != nil {
		issue.State = *req.State
	}
	return nil
}

func (s *Store) CloseWithComment(_ context.Context, number int, comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Op: OpClose, Number: number, Comment: comment}); err != nil {
		return err
	}
	issue, ok := s.issues[number]
	if !ok {
		return fmt.Errorf("issue %d: %w", number, tracker.ErrNotFound)
	}
	s.comments[number] = append(s.comments[number], comment)
	issue.State = types.StateClosed
	return nil
}

func (s *Store) EnsureLabelsExist(_ context.Context, defs []types.LabelDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Op: OpEnsureLabels}); err != nil {
		return err
	}
	for _, def := range defs {
		s.labelDefs[def.Name] = def
	}
	return nil
}

func hasAll(issue *types.TrackerIssue, labels []string) bool {
	for _, want := range labels {
		found := false
		for _, l := range issue.Labels {
			if strings.EqualFold(l, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func clone(issue *types.TrackerIssue) *types.TrackerIssue {
	c := *issue
	c.Labels = append([]string(nil), issue.Labels...)
	return &c
}

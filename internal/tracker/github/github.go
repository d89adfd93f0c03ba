// Package github implements tracker.IssueStore on the GitHub Issues API.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v30/github"
	"golang.org/x/oauth2"

	"github.com/steveyegge/issuesync/internal/tracker"
	"github.com/steveyegge/issuesync/internal/types"
)

const pageSize = 100

// Options configures a GitHub issue store
type Options struct {
	Token string
	// Repository is "owner/name".
	Repository string
	// BaseURL points at a GitHub Enterprise API, e.g.
	// "https://github.example.com/api/v3/". Empty means github.com.
	BaseURL string
}

// Store implements tracker.IssueStore for one repository
type Store struct {
	client *gh.Client
	owner  string
	repo   string
}

var _ tracker.IssueStore = (*Store)(nil)

// SplitRepository splits "owner/name".
func SplitRepository(repository string) (owner, repo string, err error) {
	parts := strings.Split(strings.TrimSpace(repository), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository must be owner/name (got %q)", repository)
	}
	return parts[0], parts[1], nil
}

// New creates a store authenticated with opts.Token.
func New(ctx context.Context, opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, fmt.Errorf("github token is required")
	}
	owner, repo, err := SplitRepository(opts.Repository)
	if err != nil {
		return nil, err
	}

	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}))
	client := gh.NewClient(httpClient)
	if opts.BaseURL != "" {
		client, err = gh.NewEnterpriseClient(opts.BaseURL, opts.BaseURL, httpClient)
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
	}
	return NewWithClient(client, owner, repo), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *gh.Client, owner, repo string) *Store {
	return &Store{client: client, owner: owner, repo: repo}
}

// SearchByLabel lists every issue carrying all labels, following pagination.
// Pull requests are skipped.
func (s *Store) SearchByLabel(ctx context.Context, labels []string, state types.IssueState) ([]*types.TrackerIssue, error) {
	if !state.IsValidFilter() {
		return nil, fmt.Errorf("invalid state filter: %s", state)
	}

	opts := &gh.IssueListByRepoOptions{
		State:       string(state),
		Labels:      labels,
		Sort:        "created",
		Direction:   "asc",
		ListOptions: gh.ListOptions{PerPage: pageSize},
	}
	var out []*types.TrackerIssue
	for {
		page, resp, err := s.client.Issues.ListByRepo(ctx, s.owner, s.repo, opts)
		if err != nil {
			return nil, wrap(err, "listing issues")
		}
		for _, issue := range page {
			if issue.IsPullRequest() {
				continue
			}
			out = append(out, convert(issue))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// Create opens a new issue.
func (s *Store) Create(ctx context.Context, req tracker.CreateRequest) (int, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	ir := &gh.IssueRequest{
		Title:  gh.String(req.Title),
		Body:   gh.String(req.Body),
		Labels: &req.Labels,
	}
	if len(req.Assignees) > 0 {
		ir.Assignees = &req.Assignees
	}
	issue, _, err := s.client.Issues.Create(ctx, s.owner, s.repo, ir)
	if err != nil {
		return 0, wrap(err, "creating issue")
	}
	return issue.GetNumber(), nil
}

// Update edits the non-nil fields of req.
func (s *Store) Update(ctx context.Context, number int, req tracker.UpdateRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	ir := &gh.IssueRequest{
		Title:  req.Title,
		Body:   req.Body,
		Labels: req.Labels,
	}
	if req.State != nil {
		ir.State = gh.String(string(*req.State))
	}
	if _, _, err := s.client.Issues.Edit(ctx, s.owner, s.repo, number, ir); err != nil {
		return wrap(err, fmt.Sprintf("editing issue #%d", number))
	}
	return nil
}

// CloseWithComment comments first so the reason is visible before the close
// event.
func (s *Store) CloseWithComment(ctx context.Context, number int, comment string) error {
	if _, _, err := s.client.Issues.CreateComment(ctx, s.owner, s.repo, number, &gh.IssueComment{Body: gh.String(comment)}); err != nil {
		return wrap(err, fmt.Sprintf("commenting on issue #%d", number))
	}
	ir := &gh.IssueRequest{State: gh.String(string(types.StateClosed))}
	if _, _, err := s.client.Issues.Edit(ctx, s.owner, s.repo, number, ir); err != nil {
		return wrap(err, fmt.Sprintf("closing issue #%d", number))
	}
	return nil
}

// EnsureLabelsExist creates the labels the repository does not have yet.
func (s *Store) EnsureLabelsExist(ctx context.Context, defs []types.LabelDef) error {
	existing := make(map[string]bool)
	opts := &gh.ListOptions{PerPage: pageSize}
	for {
		page, resp, err := s.client.Issues.ListLabels(ctx, s.owner, s.repo, opts)
		if err != nil {
			return wrap(err, "listing labels")
		}
		for _, l := range page {
			existing[strings.ToLower(l.GetName())] = true
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	for _, def := range defs {
		if existing[strings.ToLower(def.Name)] {
			continue
		}
		label := &gh.Label{
			Name:  gh.String(def.Name),
			Color: gh.String(strings.TrimPrefix(def.Color, "#")),
		}
		if def.Description != "" {
			label.Description = gh.String(def.Description)
		}
		if _, _, err := s.client.Issues.CreateLabel(ctx, s.owner, s.repo, label); err != nil {
			// Created concurrently by another run.
			if status(err) == http.StatusUnprocessableEntity {
				continue
			}
			return wrap(err, fmt.Sprintf("creating label %q", def.Name))
		}
		existing[strings.ToLower(def.Name)] = true
	}
	return nil
}

func convert(issue *gh.Issue) *types.TrackerIssue {
	out := &types.TrackerIssue{
		Number: issue.GetNumber(),
		Title:  issue.GetTitle(),
		Body:   issue.GetBody(),
		State:  types.IssueState(issue.GetState()),
	}
	for _, l := range issue.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	return out
}

func status(err error) int {
	var er *gh.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return er.Response.StatusCode
	}
	return 0
}

func wrap(err error, what string) error {
	if status(err) == http.StatusNotFound {
		return fmt.Errorf("%s: %w", what, tracker.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/steveyegge/issuesync/internal/config"
	"github.com/steveyegge/issuesync/internal/tracker"
	"github.com/steveyegge/issuesync/internal/tracker/github"
	"github.com/steveyegge/issuesync/internal/tracker/sqlite"
)

// openStore builds the configured backend wrapped in the mutation pacer, and
// in the dry-run decorator when dryRun is set. The returned func releases the
// backend.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, dryRun bool) (tracker.IssueStore, func() error, error) {
	var inner tracker.IssueStore
	closer := func() error { return nil }

	switch cfg.Tracker.Backend {
	case config.BackendGitHub:
		gs, err := github.New(ctx, github.Options{
			Token:      cfg.Tracker.GitHub.Token,
			Repository: cfg.Repository,
			BaseURL:    cfg.Tracker.GitHub.BaseURL,
		})
		if err != nil {
			return nil, nil, err
		}
		inner = gs
	case config.BackendSQLite:
		ss, err := sqlite.New(cfg.Tracker.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite tracker: %w", err)
		}
		inner = ss
		closer = ss.Close
	default:
		return nil, nil, fmt.Errorf("unknown tracker backend %q", cfg.Tracker.Backend)
	}

	delay, err := cfg.Tracker.Delay()
	if err != nil {
		_ = closer()
		return nil, nil, err
	}
	var store tracker.IssueStore = tracker.NewRateLimited(inner, delay)
	if dryRun {
		store = tracker.NewDryRun(store, logger)
	}
	return store, closer, nil
}

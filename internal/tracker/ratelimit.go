package tracker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/steveyegge/issuesync/internal/types"
)

// RateLimited paces every mutating call so consecutive writes are separated
// by at least a fixed delay. Reads pass straight through.
type RateLimited struct {
	inner   IssueStore
	limiter *rate.Limiter
}

// NewRateLimited wraps inner. A delay of zero or less disables pacing.
func NewRateLimited(inner IssueStore, delay time.Duration) *RateLimited {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (r *RateLimited) wait(ctx context.Context, op string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting to %s: %w", op, err)
	}
	return nil
}

func (r *RateLimited) SearchByLabel(ctx context.Context, labels []string, state types.IssueState) ([]*types.TrackerIssue, error) {
	return r.inner.SearchByLabel(ctx, labels, state)
}

func (r *RateLimited) Create(ctx context.Context, req CreateRequest) (int, error) {
	if err := r.wait(ctx, "create issue"); err != nil {
		return 0, err
	}
	return r.inner.Create(ctx, req)
}

func (r *RateLimited) Update(ctx context.Context, number int, req UpdateRequest) error {
	if err := r.wait(ctx, "update issue"); err != nil {
		return err
	}
	return r.inner.Update(ctx, number, req)
}

func (r *RateLimited) CloseWithComment(ctx context.Context, number int, comment string) error {
	if err := r.wait(ctx, "close issue"); err != nil {
		return err
	}
	return r.inner.CloseWithComment(ctx, number, comment)
}

func (r *RateLimited) EnsureLabelsExist(ctx context.Context, defs []types.LabelDef) error {
	if err := r.wait(ctx, "ensure labels"); err != nil {
		return err
	}
	return r.inner.EnsureLabelsExist(ctx, defs)
}

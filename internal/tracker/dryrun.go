package tracker

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/steveyegge/issuesync/internal/types"
)

// DryRun reads from the wrapped store and logs writes without performing them.
// Created issues get negative placeholder numbers.
type DryRun struct {
	inner  IssueStore
	logger *zap.Logger
	next   atomic.Int64
}

// NewDryRun wraps inner. A nil logger discards output.
func NewDryRun(inner IssueStore, logger *zap.Logger) *DryRun {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DryRun{inner: inner, logger: logger.Named("dry-run")}
}

func (d *DryRun) SearchByLabel(ctx context.Context, labels []string, state types.IssueState) ([]*types.TrackerIssue, error) {
	return d.inner.SearchByLabel(ctx, labels, state)
}

func (d *DryRun) Create(_ context.Context, req CreateRequest) (int, error) {
	number := int(-d.next.Add(1))
	d.logger.Info("would create issue",
		zap.Int("placeholder", number),
		zap.String("title", req.Title),
		zap.Strings("labels", req.Labels))
	return number, nil
}

func (d *DryRun) Update(_ context.Context, number int, req UpdateRequest) error {
	fields := []zap.Field{zap.Int("issue", number)}
	if req.Title != nil {
		fields = append(fields, zap.String("title", *req.Title))
	}
	if req.Body != nil {
		fields = append(fields, zap.Int("body_bytes", len(*req.Body)))
	}
	if req.Labels != nil {
		fields = append(fields, zap.Strings("labels", *req.Labels))
	}
	if req.State != nil {
		fields = append(fields, zap.String("state", string(*req.State)))
	}
	d.logger.Info("would update issue", fields...)
	return nil
}

func (d *DryRun) CloseWithComment(_ context.Context, number int, comment string) error {
	d.logger.Info("would close issue", zap.Int("issue", number), zap.String("comment", comment))
	return nil
}

func (d *DryRun) EnsureLabelsExist(_ context.Context, defs []types.LabelDef) error {
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	d.logger.Info("would ensure labels", zap.Strings("labels", names))
	return nil
}

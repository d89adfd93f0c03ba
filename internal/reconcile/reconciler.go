package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/steveyegge/issuesync/internal/deduplication"
	"github.com/steveyegge/issuesync/internal/fingerprint"
	"github.com/steveyegge/issuesync/internal/issuebody"
	"github.com/steveyegge/issuesync/internal/labels"
	"github.com/steveyegge/issuesync/internal/matcher"
	"github.com/steveyegge/issuesync/internal/merge"
	"github.com/steveyegge/issuesync/internal/tracker"
	"github.com/steveyegge/issuesync/internal/types"
)

const tracerName = "github.com/steveyegge/issuesync/internal/reconcile"

// Reconciler drives one repository's findings into its tracker:
// - stamps, deduplicates and merges findings
// - filters by threshold and orders by severity
// - matches each finding against the tracker snapshot
// - creates, updates or reopens issues
// - closes resolved, superseded and duplicate issues
type Reconciler struct {
	store  tracker.IssueStore
	opts   Options
	merger *merge.Engine
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option customizes a Reconciler
type Option func(*Reconciler)

// WithLogger sets the logger; decisions are logged at info level.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTracer sets the tracer used for run spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Reconciler) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithClock overrides the time source used when Options.RunAt is zero.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// New validates opts and creates a Reconciler. No tracker call is made.
func New(store tracker.IssueStore, opts Options, options ...Option) (*Reconciler, error) {
	if store == nil {
		return nil, fmt.Errorf("issue store is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	merger, err := merge.NewEngine(merge.Options{
		Strategy:        opts.Strategy,
		WrapperTools:    opts.WrapperTools,
		FixturePatterns: opts.FixturePatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	r := &Reconciler{
		store:  store,
		opts:   opts,
		merger: merger,
		logger: zap.NewNop(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, o := range options {
		o(r)
	}
	return r, nil
}

// run holds the lookup tables of a single Run call.
type run struct {
	*Reconciler

	result        *Result
	logger        *zap.Logger
	index         *matcher.Index
	meta          issuebody.Meta
	tools         []string
	labelsEnsured bool

	// issue number each actionable finding ended up on, by token
	issueOf map[string]int
	// issues closed during this run
	closed map[int]bool
}

// Run reconciles findings against the tracker. Any store error aborts the
// run; everything done so far stays done and a rerun converges.
func (r *Reconciler) Run(ctx context.Context, findings []types.Finding) (res *Result, err error) {
	started := r.now()
	runID := r.opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	runAt := r.opts.RunAt
	if runAt.IsZero() {
		runAt = started
	}

	ctx, span := r.tracer.Start(ctx, "reconcile.Run", trace.WithAttributes(
		attribute.String("issuesync.repository", r.opts.Repository),
		attribute.Int("issuesync.run_number", r.opts.RunNumber),
		attribute.String("issuesync.run_id", runID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	st := &run{
		Reconciler: r,
		result:     &Result{RunID: runID},
		logger: r.logger.With(
			zap.String("run_id", runID),
			zap.String("repository", r.opts.Repository),
		),
		meta:    issuebody.Meta{RunNumber: r.opts.RunNumber, RunAt: runAt},
		issueOf: make(map[string]int),
		closed:  make(map[int]bool),
	}
	stats := &st.result.Stats
	stats.FindingsIn = len(findings)

	for i := range findings {
		if err := findings[i].Validate(); err != nil {
			return nil, fmt.Errorf("finding %d: %w", i, err)
		}
	}

	dedup := deduplication.Deduplicate(fingerprint.Stamp(findings))
	if err := dedup.Validate(); err != nil {
		return nil, fmt.Errorf("deduplicating findings: %w", err)
	}
	stats.SkippedDuplicate = dedup.Stats.WithinBatchDuplicateCount

	actionable := st.filter(r.merger.Merge(dedup.Unique))
	stats.Actionable = len(actionable)
	sortFindings(actionable)

	if len(actionable) == 0 && !r.opts.CloseResolved && !r.opts.CloseSuperseded && !r.opts.CollapseDuplicates {
		st.logger.Info("nothing to reconcile",
			zap.Int("below_threshold", stats.SkippedBelowThreshold))
		return st.finish(span, started), nil
	}

	issues, err := st.fetch(ctx)
	if err != nil {
		return nil, err
	}

	st.index = matcher.NewIndex(issues, matcher.Options{
		TitlePrefix: r.opts.TitlePrefix,
		IsWrapper:   r.merger.IsWrapper,
	})
	toolSeen := make(map[string]bool)
	for i := range actionable {
		st.index.Reserve(actionable[i].IdentityToken)
		if t := fingerprint.NormalizeTool(actionable[i].Tool); !toolSeen[t] {
			toolSeen[t] = true
			st.tools = append(st.tools, t)
		}
	}

	if err := st.apply(ctx, actionable); err != nil {
		return nil, err
	}
	if err := st.closeStale(ctx, actionable); err != nil {
		return nil, err
	}

	return st.finish(span, started), nil
}

func (st *run) finish(span trace.Span, started time.Time) *Result {
	st.result.Duration = st.now().Sub(started)
	s := st.result.Stats
	span.SetAttributes(
		attribute.Int("issuesync.created", s.Created),
		attribute.Int("issuesync.updated", s.Updated),
		attribute.Int("issuesync.closed", s.Closed),
		attribute.Int("issuesync.skipped_below_threshold", s.SkippedBelowThreshold),
		attribute.Int("issuesync.skipped_duplicate", s.SkippedDuplicate),
		attribute.Int("issuesync.skipped_max_reached", s.SkippedMaxReached),
	)
	st.logger.Info("reconciliation complete",
		zap.Int("created", s.Created),
		zap.Int("updated", s.Updated),
		zap.Int("reopened", s.Reopened),
		zap.Int("unchanged", s.Unchanged),
		zap.Int("closed", s.Closed),
		zap.Int("skipped_below_threshold", s.SkippedBelowThreshold),
		zap.Int("skipped_duplicate", s.SkippedDuplicate),
		zap.Int("skipped_max_reached", s.SkippedMaxReached),
		zap.Duration("duration", st.result.Duration))
	return st.result
}

// filter drops findings below either threshold.
func (st *run) filter(findings []types.Finding) []types.Finding {
	out := make([]types.Finding, 0, len(findings))
	for _, f := range findings {
		if f.Severity.Rank() < st.opts.SeverityThreshold.Rank() ||
			f.Confidence.Rank() < st.opts.ConfidenceThreshold.Rank() {
			st.result.Stats.SkippedBelowThreshold++
			continue
		}
		out = append(out, f)
	}
	return out
}

// sortFindings orders by severity desc, confidence desc, path, line, token.
func sortFindings(findings []types.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := &findings[i], &findings[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Confidence.Rank() != b.Confidence.Rank() {
			return a.Confidence.Rank() > b.Confidence.Rank()
		}
		pa, la := sortLocation(a)
		pb, lb := sortLocation(b)
		if pa != pb {
			return pa < pb
		}
		if la != lb {
			return la < lb
		}
		return a.IdentityToken < b.IdentityToken
	})
}

func sortLocation(f *types.Finding) (string, int) {
	loc, ok := f.PrimaryLocation()
	if !ok {
		// After every real path.
		return "\uffff", 0
	}
	return fingerprint.NormalizePath(loc.Path), loc.StartLine
}

// fetch reads every issue under the base and legacy labels once.
func (st *run) fetch(ctx context.Context) ([]*types.TrackerIssue, error) {
	ctx, span := st.tracer.Start(ctx, "reconcile.fetch")
	defer span.End()

	byNumber := make(map[int]*types.TrackerIssue)
	for _, label := range append([]string{st.opts.BaseLabel}, st.opts.LegacyLabels...) {
		issues, err := st.store.SearchByLabel(ctx, []string{label}, types.StateAll)
		if err != nil {
			return nil, fmt.Errorf("searching issues labeled %q: %w", label, err)
		}
		for _, issue := range issues {
			issuebody.Decode(issue)
			byNumber[issue.Number] = issue
		}
	}

	out := make([]*types.TrackerIssue, 0, len(byNumber))
	for _, issue := range byNumber {
		out = append(out, issue)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })

	span.SetAttributes(attribute.Int("issuesync.issues", len(out)))
	st.logger.Debug("fetched tracker snapshot", zap.Int("issues", len(out)))
	return out, nil
}

// apply creates, updates or reopens an issue per actionable finding.
func (st *run) apply(ctx context.Context, findings []types.Finding) error {
	ctx, span := st.tracer.Start(ctx, "reconcile.apply")
	defer span.End()

	for i := range findings {
		if err := st.applyOne(ctx, &findings[i]); err != nil {
			return err
		}
	}
	return nil
}

func (st *run) applyOne(ctx context.Context, f *types.Finding) error {
	stats := &st.result.Stats
	m := st.index.Match(f)
	title := issuebody.Title(st.opts.TitlePrefix, f)

	if !m.Matched() {
		if st.opts.MaxCreate > 0 && stats.Created >= st.opts.MaxCreate {
			stats.SkippedMaxReached++
			st.decide(Decision{Action: ActionSkipCap, Finding: fingerprint.Short(f.IdentityToken), Title: title}, f)
			return nil
		}
		return st.create(ctx, f, title)
	}

	issue := m.Issue
	st.index.Claim(issue, f)
	st.issueOf[f.IdentityToken] = issue.Number

	if !issue.IsOpen() && st.ignored(issue) {
		stats.SkippedIgnored++
		st.decide(Decision{Action: ActionSkipIgnored, Finding: fingerprint.Short(f.IdentityToken), Title: title, Issue: issue.Number, Strategy: m.Strategy}, f)
		return nil
	}

	body := issuebody.Render(f, st.meta)
	wantLabels := labels.Apply(issue.Labels, labels.Desired(st.opts.BaseLabel, f), st.opts.LegacyLabels)

	if issue.IsOpen() && digest(issue.Title, issue.Body, issue.Labels) == digest(title, body, wantLabels) {
		stats.Unchanged++
		st.decide(Decision{Action: ActionUnchanged, Finding: fingerprint.Short(f.IdentityToken), Title: title, Issue: issue.Number, Strategy: m.Strategy}, f)
		return nil
	}

	req := tracker.UpdateRequest{Body: tracker.String(body)}
	if issue.Title != title {
		req.Title = tracker.String(title)
	}
	if !labels.Equal(issue.Labels, wantLabels) {
		req.Labels = tracker.Labels(wantLabels)
	}
	action := ActionUpdate
	if !issue.IsOpen() {
		req.State = tracker.State(types.StateOpen)
		action = ActionReopen
	}

	if err := st.ensureLabels(ctx); err != nil {
		return err
	}
	if err := st.store.Update(ctx, issue.Number, req); err != nil {
		return fmt.Errorf("updating issue #%d: %w", issue.Number, err)
	}

	issue.Title = title
	issue.Body = body
	issue.Labels = wantLabels
	issue.State = types.StateOpen
	issue.IdentityToken = f.IdentityToken
	issue.Misses = 0
	st.index.Refresh(issue)

	stats.Updated++
	if action == ActionReopen {
		stats.Reopened++
	}
	st.decide(Decision{Action: action, Finding: fingerprint.Short(f.IdentityToken), Title: title, Issue: issue.Number, Strategy: m.Strategy}, f)
	return nil
}

func (st *run) create(ctx context.Context, f *types.Finding, title string) error {
	if err := st.ensureLabels(ctx); err != nil {
		return err
	}
	req := tracker.CreateRequest{
		Title:     title,
		Body:      issuebody.Render(f, st.meta),
		Labels:    labels.Apply(nil, labels.Desired(st.opts.BaseLabel, f), nil),
		Assignees: st.opts.Assignees,
	}
	number, err := st.store.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("creating issue %q: %w", title, err)
	}

	issue := &types.TrackerIssue{
		Number:        number,
		Title:         req.Title,
		Body:          req.Body,
		State:         types.StateOpen,
		Labels:        req.Labels,
		IdentityToken: f.IdentityToken,
		LastSeenRun:   st.meta.RunNumber,
	}
	st.index.Add(issue)
	st.index.Claim(issue, f)
	st.issueOf[f.IdentityToken] = number

	st.result.Stats.Created++
	st.decide(Decision{Action: ActionCreate, Finding: fingerprint.Short(f.IdentityToken), Title: title, Issue: number}, f)
	return nil
}

// ensureLabels creates label definitions once, before the first write.
func (st *run) ensureLabels(ctx context.Context) error {
	if st.labelsEnsured {
		return nil
	}
	if err := st.store.EnsureLabelsExist(ctx, labels.Definitions(st.opts.BaseLabel, st.tools)); err != nil {
		return fmt.Errorf("ensuring labels: %w", err)
	}
	st.labelsEnsured = true
	return nil
}

func (st *run) ignored(issue *types.TrackerIssue) bool {
	for _, l := range st.opts.IgnoreLabels {
		if issue.HasLabel(l) {
			return true
		}
	}
	return false
}

// decide records a decision and logs it. f is nil for issue-only decisions.
func (st *run) decide(d Decision, f *types.Finding) {
	st.result.Decisions = append(st.result.Decisions, d)

	fields := []zap.Field{
		zap.String("action", string(d.Action)),
		zap.Int("issue", d.Issue),
		zap.String("title", d.Title),
	}
	if d.Finding != "" {
		fields = append(fields, zap.String("finding", d.Finding))
	}
	if f != nil {
		fields = append(fields, zap.String("tool", f.Tool), zap.String("rule", f.RuleID))
	}
	if d.Strategy != matcher.StrategyNone {
		fields = append(fields, zap.String("strategy", string(d.Strategy)))
	}
	if d.Reference != 0 {
		fields = append(fields, zap.Int("reference", d.Reference))
	}
	st.logger.Info("reconcile decision", fields...)
}

// digest fingerprints the parts of an issue the reconciler owns. The
// last-seen marker is excluded so an unchanged run writes nothing.
func digest(title, body string, lbls []string) uint64 {
	norm := make([]string, len(lbls))
	for i, l := range lbls {
		norm[i] = strings.ToLower(l)
	}
	sort.Strings(norm)

	h := xxhash.New()
	_, _ = h.WriteString(title)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(issuebody.Canonical(body))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(strings.Join(norm, ","))
	return h.Sum64()
}

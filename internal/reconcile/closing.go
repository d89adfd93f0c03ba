package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/steveyegge/issuesync/internal/fingerprint"
	"github.com/steveyegge/issuesync/internal/issuebody"
	"github.com/steveyegge/issuesync/internal/merge"
	"github.com/steveyegge/issuesync/internal/tracker"
	"github.com/steveyegge/issuesync/internal/types"
)

// coverKey identifies what a multi-rule consolidated finding covers: a whole
// tool (sub empty) or one sub-analyzer of a wrapper tool.
type coverKey struct {
	tool string
	sub  string
}

// closeStale runs the enabled closing passes in order: superseded, resolved,
// then duplicates.
func (st *run) closeStale(ctx context.Context, findings []types.Finding) error {
	ctx, span := st.tracer.Start(ctx, "reconcile.close")
	defer span.End()

	if st.opts.CloseSuperseded {
		if err := st.closeSuperseded(ctx, findings); err != nil {
			return err
		}
	}
	if st.opts.CloseResolved {
		if err := st.closeResolved(ctx); err != nil {
			return err
		}
	}
	if st.opts.CollapseDuplicates {
		if err := st.collapseDuplicates(ctx); err != nil {
			return err
		}
	}
	return nil
}

// stale reports whether an open issue was left untouched by this run.
func (st *run) stale(issue *types.TrackerIssue) bool {
	return issue.IsOpen() &&
		!st.closed[issue.Number] &&
		!st.index.Claimed(issue.Number) &&
		!st.index.Seen(issue.IdentityToken)
}

// closeSuperseded closes legacy single-rule issues whose rule is now tracked
// by a consolidated issue covering the same tool or sub-analyzer.
func (st *run) closeSuperseded(ctx context.Context, findings []types.Finding) error {
	coverage := make(map[coverKey]int)
	for i := range findings {
		f := &findings[i]
		if len(f.GroupedRules) < 2 {
			continue
		}
		number, ok := st.issueOf[f.IdentityToken]
		if !ok {
			continue
		}
		key := coverKey{tool: fingerprint.NormalizeTool(f.Tool), sub: fingerprint.NormalizeRule(f.RuleID)}
		if _, exists := coverage[key]; !exists {
			coverage[key] = number
		}
	}
	if len(coverage) == 0 {
		return nil
	}

	for _, issue := range st.index.Issues() {
		if !st.stale(issue) {
			continue
		}
		info, ok := st.index.ParsedTitle(issue.Number)
		if !ok || info.RuleID == "" {
			continue
		}

		scope := info.Tool
		by, found := coverage[coverKey{tool: info.Tool}]
		if !found && st.merger.IsWrapper(info.Tool) {
			sub := merge.SubAnalyzer(&types.Finding{Tool: info.Tool, RuleID: info.RuleID})
			by, found = coverage[coverKey{tool: info.Tool, sub: sub}]
			scope = sub
		}
		if !found || by == issue.Number {
			continue
		}

		comment := fmt.Sprintf("Superseded by #%d, which now tracks all `%s` findings together. Closing this issue in favor of it.", by, scope)
		if err := st.close(ctx, issue, comment, ActionCloseSuperseded, by); err != nil {
			return err
		}
	}
	return nil
}

// closeResolved closes open issues no finding matched this run. With flap
// protection the issue first accumulates misses in its body.
func (st *run) closeResolved(ctx context.Context) error {
	for _, issue := range st.index.Issues() {
		if !st.stale(issue) {
			continue
		}

		misses := issue.Misses + 1
		if st.opts.FlapThreshold > 1 && misses < st.opts.FlapThreshold {
			if err := st.recordMiss(ctx, issue, misses); err != nil {
				return err
			}
			continue
		}

		comment := fmt.Sprintf("This finding was not reported by run %d. Closing automatically; it will be reopened if the finding comes back.", st.meta.RunNumber)
		if misses > 1 {
			comment = fmt.Sprintf("This finding has not been reported for %d consecutive runs (latest: run %d). Closing automatically; it will be reopened if the finding comes back.", misses, st.meta.RunNumber)
		}
		if err := st.close(ctx, issue, comment, ActionCloseResolved, 0); err != nil {
			return err
		}
	}
	return nil
}

func (st *run) recordMiss(ctx context.Context, issue *types.TrackerIssue, misses int) error {
	body := issuebody.WithMisses(issue.Body, misses)
	if err := st.store.Update(ctx, issue.Number, tracker.UpdateRequest{Body: tracker.String(body)}); err != nil {
		return fmt.Errorf("recording miss on issue #%d: %w", issue.Number, err)
	}
	issue.Body = body
	issue.Misses = misses
	st.result.Stats.MissesRecorded++
	st.decide(Decision{Action: ActionRecordMiss, Title: issue.Title, Issue: issue.Number}, nil)
	return nil
}

// collapseDuplicates closes all but one open issue per normalized title.
// When several live findings share a title, only issues carrying the same
// token collapse, so distinct findings keep their own issues. Open issues
// that still share a token under different titles collapse afterwards.
func (st *run) collapseDuplicates(ctx context.Context) error {
	if err := st.collapseByTitle(ctx); err != nil {
		return err
	}
	return st.collapseByToken(ctx)
}

func (st *run) collapseByTitle(ctx context.Context) error {
	var order []string
	groups := make(map[string][]*types.TrackerIssue)
	for _, issue := range st.index.Issues() {
		if !issue.IsOpen() || st.closed[issue.Number] || issue.Number <= 0 {
			continue
		}
		title := st.index.NormalizedTitle(issue.Number)
		if title == "" {
			continue
		}
		if _, ok := groups[title]; !ok {
			order = append(order, title)
		}
		groups[title] = append(groups[title], issue)
	}

	for _, title := range order {
		group := groups[title]
		if len(group) < 2 {
			continue
		}

		liveTokens := make(map[string]bool)
		for _, issue := range group {
			if st.index.Seen(issue.IdentityToken) {
				liveTokens[issue.IdentityToken] = true
			}
		}

		if len(liveTokens) <= 1 {
			if err := st.collapse(ctx, group); err != nil {
				return err
			}
			continue
		}

		byToken := make(map[string][]*types.TrackerIssue)
		var tokens []string
		for _, issue := range group {
			if !liveTokens[issue.IdentityToken] {
				continue
			}
			if _, ok := byToken[issue.IdentityToken]; !ok {
				tokens = append(tokens, issue.IdentityToken)
			}
			byToken[issue.IdentityToken] = append(byToken[issue.IdentityToken], issue)
		}
		for _, token := range tokens {
			if same := byToken[token]; len(same) > 1 {
				if err := st.collapse(ctx, same); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// collapseByToken leaves at most one open issue per identity token.
func (st *run) collapseByToken(ctx context.Context) error {
	var order []string
	groups := make(map[string][]*types.TrackerIssue)
	for _, issue := range st.index.Issues() {
		if !issue.IsOpen() || st.closed[issue.Number] || issue.Number <= 0 || issue.IdentityToken == "" {
			continue
		}
		if _, ok := groups[issue.IdentityToken]; !ok {
			order = append(order, issue.IdentityToken)
		}
		groups[issue.IdentityToken] = append(groups[issue.IdentityToken], issue)
	}

	for _, token := range order {
		if group := groups[token]; len(group) > 1 {
			if err := st.collapse(ctx, group); err != nil {
				return err
			}
		}
	}
	return nil
}

// collapse keeps one issue of group open and closes the rest. The survivor
// is the highest-numbered issue, preferring issues claimed this run, then
// issues whose token was seen.
func (st *run) collapse(ctx context.Context, group []*types.TrackerIssue) error {
	rank := func(issue *types.TrackerIssue) int {
		switch {
		case st.index.Claimed(issue.Number):
			return 2
		case st.index.Seen(issue.IdentityToken):
			return 1
		}
		return 0
	}

	survivor := group[0]
	for _, issue := range group[1:] {
		if r, best := rank(issue), rank(survivor); r > best || (r == best && issue.Number > survivor.Number) {
			survivor = issue
		}
	}

	for _, issue := range group {
		if issue == survivor {
			continue
		}
		comment := fmt.Sprintf("Duplicate of #%d. Closing this copy so the finding is tracked in one place.", survivor.Number)
		if err := st.close(ctx, issue, comment, ActionCloseDuplicate, survivor.Number); err != nil {
			return err
		}
	}
	return nil
}

// close posts comment and closes the issue.
func (st *run) close(ctx context.Context, issue *types.TrackerIssue, comment string, action Action, reference int) error {
	if err := st.store.CloseWithComment(ctx, issue.Number, comment); err != nil {
		return fmt.Errorf("closing issue #%d: %w", issue.Number, err)
	}
	issue.State = types.StateClosed
	st.closed[issue.Number] = true

	stats := &st.result.Stats
	stats.Closed++
	switch action {
	case ActionCloseResolved:
		stats.ClosedResolved++
	case ActionCloseSuperseded:
		stats.ClosedSuperseded++
	case ActionCloseDuplicate:
		stats.ClosedDuplicate++
	}

	st.decide(Decision{
		Action:    action,
		Finding:   fingerprint.Short(issue.IdentityToken),
		Title:     issue.Title,
		Issue:     issue.Number,
		Reference: reference,
	}, nil)
	st.logger.Debug("issue closed", zap.Int("issue", issue.Number), zap.String("comment", comment))
	return nil
}

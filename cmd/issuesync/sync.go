package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/steveyegge/issuesync/internal/config"
	"github.com/steveyegge/issuesync/internal/findings"
	"github.com/steveyegge/issuesync/internal/merge"
	"github.com/steveyegge/issuesync/internal/metrics"
	"github.com/steveyegge/issuesync/internal/reconcile"
	"github.com/steveyegge/issuesync/internal/runlock"
)

// syncFlags holds the command-line overrides of one sync.
type syncFlags struct {
	findings      []string
	dryRun        bool
	strategy      string
	maxCreate     *int
	runNumber     int
	closeResolved *bool
	jsonOutput    bool
}

var (
	syncFindings      []string
	syncDryRun        bool
	syncStrategy      string
	syncMaxCreate     int
	syncRunNumber     int
	syncCloseResolved bool
	syncJSON          bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile findings against the issue tracker",
	Long: `Reconcile one batch of findings against the tracker.

Findings are read from one or more JSON files ("-" reads standard input). Each
file holds an array of findings or an object with a "findings" array.

Examples:
  issuesync sync --findings ruff.json --findings mypy.json
  issuesync sync --findings all.json --strategy same-rule --max-create 10
  issuesync sync --findings all.json --dry-run       # log writes, change nothing
  golangci-lint-to-json | issuesync sync --findings -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := syncFlags{
			findings:   syncFindings,
			dryRun:     syncDryRun,
			strategy:   syncStrategy,
			runNumber:  syncRunNumber,
			jsonOutput: syncJSON,
		}
		if cmd.Flags().Changed("max-create") {
			flags.maxCreate = &syncMaxCreate
		}
		if cmd.Flags().Changed("close-resolved") {
			flags.closeResolved = &syncCloseResolved
		}

		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		_, err = runSync(ctx, cfg, flags, cmd.OutOrStdout())
		return err
	},
}

func init() {
	syncCmd.Flags().StringSliceVar(&syncFindings, "findings", nil, "Findings JSON file (repeatable, \"-\" for stdin)")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Log tracker writes instead of performing them")
	syncCmd.Flags().StringVar(&syncStrategy, "strategy", "", "Merge strategy (overrides config): "+strings.Join(merge.Strategies(), ", "))
	syncCmd.Flags().IntVar(&syncMaxCreate, "max-create", 0, "Maximum issues to create this run, 0 for unlimited (overrides config)")
	syncCmd.Flags().IntVar(&syncRunNumber, "run-number", 0, "Run number recorded in issue bodies (default: $GITHUB_RUN_NUMBER)")
	syncCmd.Flags().BoolVar(&syncCloseResolved, "close-resolved", true, "Close issues whose finding is gone (overrides config)")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "Print the run result as JSON")
	_ = syncCmd.MarkFlagRequired("findings")
	rootCmd.AddCommand(syncCmd)
}

// runSync performs one reconciliation and prints its outcome to out.
func runSync(ctx context.Context, cfg *config.Config, flags syncFlags, out io.Writer) (*reconcile.Result, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = logger.Sync() }()

	opts, err := runOptions(cfg, flags)
	if err != nil {
		return nil, err
	}

	batch, err := findings.Load(ctx, flags.findings...)
	if err != nil {
		return nil, err
	}
	logger.Debug("findings loaded", zap.Int("count", len(batch)), zap.Strings("files", flags.findings))

	if cfg.Lock.RedisURL != "" && !flags.dryRun {
		release, err := acquireLock(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	store, closeStore, err := openStore(ctx, cfg, logger, flags.dryRun)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closeStore() }()

	r, err := reconcile.New(store, opts, reconcile.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	recorder := metrics.New()
	res, runErr := r.Run(ctx, batch)
	if runErr != nil {
		recorder.ObserveFailure()
	} else {
		recorder.Observe(cfg.Repository, res, time.Now())
	}
	if cfg.Metrics.Textfile != "" {
		if err := recorder.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warn("metrics not written", zap.Error(err))
		}
	}
	if runErr != nil {
		return nil, fmt.Errorf("sync failed: %w", runErr)
	}

	if flags.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return res, enc.Encode(res)
	}
	printSummary(out, cfg.Repository, res, flags.dryRun)
	return res, nil
}

// runOptions merges config and command-line overrides.
func runOptions(cfg *config.Config, flags syncFlags) (reconcile.Options, error) {
	opts, err := cfg.Options()
	if err != nil {
		return opts, err
	}
	if flags.strategy != "" {
		s, err := merge.ParseStrategy(flags.strategy)
		if err != nil {
			return opts, err
		}
		opts.Strategy = s
	}
	if flags.maxCreate != nil {
		opts.MaxCreate = *flags.maxCreate
	}
	if flags.closeResolved != nil {
		opts.CloseResolved = *flags.closeResolved
	}

	opts.RunNumber = flags.runNumber
	if opts.RunNumber == 0 {
		if n, err := strconv.Atoi(os.Getenv("GITHUB_RUN_NUMBER")); err == nil {
			opts.RunNumber = n
		}
	}
	return opts, nil
}

func acquireLock(ctx context.Context, cfg *config.Config, logger *zap.Logger) (func(), error) {
	ttl, err := cfg.Lock.Duration()
	if err != nil {
		return nil, err
	}
	locker, err := runlock.Open(ctx, cfg.Lock.RedisURL, ttl)
	if err != nil {
		return nil, err
	}
	lock, err := locker.Acquire(ctx, cfg.Repository)
	if err != nil {
		_ = locker.Close()
		if errors.Is(err, runlock.ErrLocked) {
			return nil, fmt.Errorf("%w; retry when the other run finishes", err)
		}
		return nil, err
	}
	logger.Debug("run lock acquired", zap.String("holder", lock.Holder()))

	return func() {
		// The run context may already be cancelled.
		if err := lock.Release(context.Background()); err != nil {
			logger.Warn("run lock not released", zap.Error(err))
		}
		_ = locker.Close()
	}, nil
}

func printSummary(out io.Writer, repository string, res *reconcile.Result, dryRun bool) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	s := res.Stats
	mode := ""
	if dryRun {
		mode = yellow(" (dry run, nothing written)")
	}
	fmt.Fprintf(out, "\n%s Synced %s into %s%s\n\n", green("✓"),
		english.Plural(s.FindingsIn, "finding", "findings"), cyan(repository), mode)

	var rows []reconcile.Decision
	for _, d := range res.Decisions {
		if d.Action != reconcile.ActionUnchanged {
			rows = append(rows, d)
		}
	}
	if len(rows) > 0 {
		tbl := table.NewWriter()
		tbl.SetOutputMirror(out)
		tbl.SetStyle(table.StyleLight)
		tbl.AppendHeader(table.Row{"Action", "Issue", "Title", "Match"})
		for _, d := range rows {
			issue := ""
			if d.Issue > 0 {
				issue = "#" + strconv.Itoa(d.Issue)
			} else if d.Issue < 0 {
				issue = "(new)"
			}
			if d.Reference != 0 {
				issue += " → #" + strconv.Itoa(d.Reference)
			}
			tbl.AppendRow(table.Row{string(d.Action), issue, d.Title, string(d.Strategy)})
		}
		tbl.Render()
		fmt.Fprintln(out)
	}

	fmt.Fprintf(out, "  Created:   %s\n", humanize.Comma(int64(s.Created)))
	fmt.Fprintf(out, "  Updated:   %s (%s reopened)\n", humanize.Comma(int64(s.Updated)), humanize.Comma(int64(s.Reopened)))
	fmt.Fprintf(out, "  Unchanged: %s\n", humanize.Comma(int64(s.Unchanged)))
	fmt.Fprintf(out, "  Closed:    %s (%d resolved, %d superseded, %d duplicate)\n",
		humanize.Comma(int64(s.Closed)), s.ClosedResolved, s.ClosedSuperseded, s.ClosedDuplicate)
	if s.MissesRecorded > 0 {
		fmt.Fprintf(out, "  Missed:    %s (closing after more misses)\n", humanize.Comma(int64(s.MissesRecorded)))
	}
	skipped := s.SkippedBelowThreshold + s.SkippedDuplicate + s.SkippedMaxReached + s.SkippedIgnored
	fmt.Fprintf(out, "  Skipped:   %s (%d below threshold, %d duplicate, %d over cap, %d ignored)\n",
		humanize.Comma(int64(skipped)), s.SkippedBelowThreshold, s.SkippedDuplicate, s.SkippedMaxReached, s.SkippedIgnored)
	fmt.Fprintf(out, "\n%s\n", gray(fmt.Sprintf("run %s in %s", res.RunID, res.Duration.Round(time.Millisecond))))
	if s.SkippedMaxReached > 0 {
		fmt.Fprintf(out, "%s %s not filed; the next run picks them up\n", yellow("⚠"),
			english.Plural(s.SkippedMaxReached, "finding was", "findings were"))
	}
}

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/issuesync/internal/findings"
	"github.com/steveyegge/issuesync/internal/fingerprint"
	"github.com/steveyegge/issuesync/internal/labels"
)

var (
	labelsTools    []string
	labelsFindings []string
	labelsDryRun   bool
)

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "Create the managed label definitions in the tracker",
	Long: `Create the base label, the severity labels and one tool label per tool.
Existing labels are left untouched. sync does this on its first write; run it
ahead of time to review label colors.

Examples:
  issuesync labels --tools ruff,mypy
  issuesync labels --findings all.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		tools := append([]string(nil), labelsTools...)
		if len(labelsFindings) > 0 {
			batch, err := findings.Load(cmd.Context(), labelsFindings...)
			if err != nil {
				return err
			}
			for _, f := range batch {
				tools = append(tools, fingerprint.NormalizeTool(f.Tool))
			}
		}

		store, closeStore, err := openStore(cmd.Context(), cfg, logger, labelsDryRun)
		if err != nil {
			return err
		}
		defer func() { _ = closeStore() }()

		defs := labels.Definitions(cfg.Reconcile.BaseLabel, tools)
		if err := store.EnsureLabelsExist(cmd.Context(), defs); err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Ensured %d label(s) in %s\n", green("✓"), len(defs), cyan(cfg.Repository))
		for _, d := range defs {
			fmt.Fprintf(out, "  %-24s #%s  %s\n", d.Name, d.Color, d.Description)
		}
		return nil
	},
}

func init() {
	labelsCmd.Flags().StringSliceVar(&labelsTools, "tools", nil, "Tool names to create tool labels for")
	labelsCmd.Flags().StringSliceVar(&labelsFindings, "findings", nil, "Take tool names from these findings files")
	labelsCmd.Flags().BoolVar(&labelsDryRun, "dry-run", false, "Log label creation instead of performing it")
	rootCmd.AddCommand(labelsCmd)
}

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/issuesync/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter configuration file",
	Long: `Write the default configuration to path (default .issuesync.yaml).
An existing file is never overwritten.

Example:
  issuesync init
  issuesync init ci/issuesync.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ".issuesync.yaml"
		if len(args) > 0 {
			path = args[0]
		}
		if err := config.WriteExample(path); err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "\n%s Wrote %s\n\n", green("✓"), cyan(path))
		fmt.Fprintf(out, "%s Next steps:\n", gray("→"))
		fmt.Fprintf(out, "  %s\n", gray("set repository and export GITHUB_TOKEN"))
		fmt.Fprintf(out, "  %s\n", gray("issuesync sync --findings findings.json --dry-run"))
		fmt.Fprintln(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

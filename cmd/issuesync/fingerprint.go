package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/steveyegge/issuesync/internal/findings"
	"github.com/steveyegge/issuesync/internal/fingerprint"
	"github.com/steveyegge/issuesync/internal/types"
)

var (
	fingerprintFindings []string
	fingerprintFull     bool
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Print the identity token of each finding",
	Long: `Print each finding's identity token next to the normalized key it is
computed from. Use it to see why two findings do or do not share an issue.

Examples:
  issuesync fingerprint --findings ruff.json
  issuesync fingerprint --findings ruff.json --full`,
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, err := findings.Load(cmd.Context(), fingerprintFindings...)
		if err != nil {
			return err
		}
		printFingerprints(cmd.OutOrStdout(), batch, fingerprintFull)
		return nil
	},
}

func init() {
	fingerprintCmd.Flags().StringSliceVar(&fingerprintFindings, "findings", nil, "Findings JSON file (repeatable, \"-\" for stdin)")
	fingerprintCmd.Flags().BoolVar(&fingerprintFull, "full", false, "Print full tokens instead of the short form")
	_ = fingerprintCmd.MarkFlagRequired("findings")
	rootCmd.AddCommand(fingerprintCmd)
}

func printFingerprints(out io.Writer, batch []types.Finding, full bool) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(out)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Token", "Location", "Identity key"})
	for _, f := range fingerprint.Stamp(batch) {
		token := f.IdentityToken
		if !full {
			token = fingerprint.Short(token)
		}
		loc := fingerprint.NoLocationPath
		if l, ok := f.PrimaryLocation(); ok {
			loc = l.String()
		}
		tbl.AppendRow(table.Row{token, loc, fingerprint.KeyOf(&f).String()})
	}
	tbl.Render()
	fmt.Fprintf(out, "%d finding(s)\n", len(batch))
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chadiek/hospital-callbot/internal/analyzer"
	"github.com/chadiek/hospital-callbot/internal/usecase"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Recompute bug_report.md from the call index",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := usecase.PublishReport(cmd.Context(), a.registry, a.store)
		if err != nil {
			return err
		}
		if show, _ := cmd.Flags().GetBool("print"); show {
			return analyzer.RenderMarkdown(cmd.OutOrStdout(), rep)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d issues across %d calls written to %s\n", rep.Total, rep.Calls, usecase.BugReportMD)
		return nil
	},
}

func init() {
	reportCmd.Flags().Bool("print", false, "also print the report to stdout")
}

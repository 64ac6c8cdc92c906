package codeforge

import (
	"fmt"
	"io"
	"time"

	"github.com/mwiater/codeforge/internal/verify"
	"github.com/spf13/cobra"
)

// newAnalyzeCmd runs the verification steps against an existing project.
func newAnalyzeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze [dir]",
		Short: "Run the compile and lint steps against a project directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.config()
			dir := cfg.OutputDir
			if len(args) == 1 {
				dir = args[0]
			}
			report, err := verify.NewRunner(cfg.Verification).Verify(cmd.Context(), dir)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), dir, report)
			if !report.Passed {
				return fmt.Errorf("%s failed in the %s phase", dir, report.Phase)
			}
			return nil
		},
	}
}

func printReport(out io.Writer, dir string, report verify.Report) {
	fmt.Fprintf(out, "Analysis of %s\n", dir)
	for _, res := range report.Results {
		mark := successText("ok")
		if !res.Passed() {
			mark = failedText("FAIL")
		}
		if res.TimedOut {
			mark = failedText("TIMEOUT")
		}
		fmt.Fprintf(out, "  %-8s %-10s %s %s\n", res.Phase, res.Name, mark, mutedText(res.Duration.Round(time.Millisecond)))
	}
	if report.Passed {
		fmt.Fprintln(out, successText("all checks passed"))
		return
	}
	fmt.Fprintln(out, failedText("diagnostic:"))
	fmt.Fprintln(out, report.Diagnostic)
}

package codeforge

import (
	"fmt"

	"github.com/mwiater/codeforge/internal/history"
	"github.com/mwiater/codeforge/internal/util"
	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit        int
		showFeedback bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent generation attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.config()
			out := cmd.OutOrStdout()
			hist, err := history.Open(cfg.HistoryPath)
			if err != nil {
				return err
			}
			defer hist.Close()

			if showFeedback {
				all, err := hist.ListFeedback(cmd.Context())
				if err != nil {
					return err
				}
				for _, fb := range all {
					fmt.Fprintf(out, "%s  %-20s %d/5  %s\n", fb.Timestamp.Format("2006-01-02 15:04"), fb.ProjectID, fb.Rating, util.TruncateRunes(fb.Comments, 60))
				}
				return nil
			}

			recent, err := hist.RecentInteractions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(recent) == 0 {
				fmt.Fprintln(out, mutedText("no recorded attempts"))
				return nil
			}
			for _, rec := range recent {
				mark := successText("pass")
				if !rec.Success {
					mark = failedText("fail")
				}
				fmt.Fprintf(out, "%s  %s #%d %s %6dms  %s\n",
					rec.Timestamp.Format("2006-01-02 15:04:05"), shortID(rec.RunID), rec.Attempt, mark, rec.InferenceMs,
					util.TruncateRunes(rec.Description, 60))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of attempts to show")
	cmd.Flags().BoolVar(&showFeedback, "feedback", false, "list stored feedback instead")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

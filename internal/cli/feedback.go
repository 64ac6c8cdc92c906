package codeforge

import (
	"errors"
	"path/filepath"

	"github.com/mwiater/codeforge/internal/history"
	"github.com/spf13/cobra"
)

func newFeedbackCmd(a *app) *cobra.Command {
	var (
		rating    int
		comments  string
		projectID string
	)
	cmd := &cobra.Command{
		Use:   "feedback [dir]",
		Short: "Rate a generated project and store its source alongside the rating",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.config()
			status := newStatus(cmd.OutOrStdout())
			if rating < 1 || rating > 5 {
				return errors.New("--rating must be between 1 and 5")
			}
			dir := cfg.OutputDir
			if len(args) == 1 {
				dir = args[0]
			}
			if projectID == "" {
				projectID = filepath.Base(filepath.Clean(dir))
			}

			snippets, err := history.CollectSnippets(dir, cfg.Manifest.SourceExtensions)
			if err != nil {
				return err
			}
			hist, err := history.Open(cfg.HistoryPath)
			if err != nil {
				return err
			}
			defer hist.Close()
			fb, err := hist.AddFeedback(cmd.Context(), history.Feedback{
				ProjectID:    projectID,
				Rating:       rating,
				Comments:     comments,
				CodeSnippets: snippets,
			})
			if err != nil {
				return err
			}
			status("[FEEDBACK] stored %s for %s (rating %d, %d file(s))", fb.ID, fb.ProjectID, fb.Rating, len(snippets))
			return nil
		},
	}
	cmd.Flags().IntVarP(&rating, "rating", "r", 0, "rating from 1 to 5")
	cmd.Flags().StringVar(&comments, "comments", "", "free-form comments")
	cmd.Flags().StringVar(&projectID, "project-id", "", "project identifier (default: directory name)")
	_ = cmd.MarkFlagRequired("rating")
	return cmd
}

package codeforge

import (
	"time"

	"github.com/mwiater/codeforge/internal/history"
	"github.com/mwiater/codeforge/internal/project"
	"github.com/spf13/cobra"
)

func newSnapshotCmd(a *app) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "snapshot [dir]",
		Short: "Copy a working project into the knowledge base's project_states",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.config()
			status := newStatus(cmd.OutOrStdout())
			dir := cfg.OutputDir
			if len(args) == 1 {
				dir = args[0]
			}

			meta := project.SnapshotMetadata{Description: description}
			hist, err := history.Open(cfg.HistoryPath)
			if err != nil {
				return err
			}
			defer hist.Close()
			recent, err := hist.RecentInteractions(cmd.Context(), 50)
			if err != nil {
				return err
			}
			latestRun(recent, &meta)

			dest, err := project.Snapshot(dir, cfg.Knowledge.Path, meta, time.Now())
			if err != nil {
				return err
			}
			status("[SNAPSHOT] saved %s to %s", dir, dest)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "description stored with the snapshot")
	return cmd
}

// latestRun copies the attempt timings of the newest run into meta.
// recent must be ordered newest first.
func latestRun(recent []history.Interaction, meta *project.SnapshotMetadata) {
	if len(recent) == 0 {
		return
	}
	run := recent[0].RunID
	var ms []int64
	for _, rec := range recent {
		if rec.RunID != run {
			continue
		}
		ms = append([]int64{rec.InferenceMs}, ms...)
	}
	meta.InferenceMs = ms
	meta.AttemptCount = len(ms)
	if meta.Description == "" {
		meta.Description = recent[0].Description
	}
}

package codeforge

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mwiater/codeforge/internal/appconfig"
	"github.com/mwiater/codeforge/internal/feedback"
	"github.com/mwiater/codeforge/internal/fileset"
	"github.com/mwiater/codeforge/internal/history"
	"github.com/mwiater/codeforge/internal/logging"
	"github.com/mwiater/codeforge/internal/project"
	"github.com/mwiater/codeforge/internal/providerfactory"
	"github.com/mwiater/codeforge/internal/rag"
	"github.com/mwiater/codeforge/internal/util"
	"github.com/mwiater/codeforge/internal/verify"
	"github.com/mwiater/codeforge/internal/websearch"
	"github.com/spf13/cobra"
)

var (
	reportTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	reportLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Width(12)
	reportBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)

type generateOptions struct {
	noWeb    bool
	snapshot bool
}

// newGenerateCmd implements 'generate', which runs the feedback loop for one description.
func newGenerateCmd(a *app) *cobra.Command {
	var opts generateOptions
	cmd := &cobra.Command{
		Use:   "generate <description...>",
		Short: "Generate a project and iterate until it compiles and lints cleanly",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runGenerate(ctx, cmd, a.config(), strings.Join(args, " "), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.noWeb, "no-web", false, "disable the web-search fallback")
	cmd.Flags().BoolVar(&opts.snapshot, "snapshot", false, "snapshot the project into the knowledge base on success")
	return cmd
}

func runGenerate(ctx context.Context, cmd *cobra.Command, cfg *appconfig.Config, description string, opts generateOptions) error {
	out := cmd.OutOrStdout()
	status := newStatus(out)

	kb, err := openKnowledge(ctx, cfg, status)
	if err != nil {
		return err
	}
	defer kb.Close()
	if err := kb.ensureIndexed(ctx, cfg, status); err != nil {
		return err
	}
	retriever := kb.retriever(cfg)

	gen, err := providerfactory.NewGenerator(cfg)
	if err != nil {
		return err
	}
	defer gen.Close()

	genHost, err := cfg.GenerationHostConfig()
	if err != nil {
		return err
	}

	hist, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer hist.Close()

	deps := feedback.Deps{
		Retriever: retriever,
		Generator: gen,
		Parser:    fileset.NewParser(fileset.Options{DropBlankLines: cfg.Parser.DropBlankLines}),
		Materializer: project.NewMaterializer(project.Options{
			CleanOutputDir:   cfg.CleanOutputDir,
			ManifestFile:     cfg.Manifest.File,
			Sections:         cfg.Manifest.Sections,
			SourceExtensions: cfg.Manifest.SourceExtensions,
		}),
		Verifier: verify.NewRunner(cfg.Verification),
	}
	if cfg.WebSearch.Enabled && !opts.noWeb {
		deps.Web = websearch.New(cfg.WebSearch, cfg.RequestTimeout())
	}

	loop, err := feedback.New(deps, feedback.Options{
		MaxAttempts:       cfg.MaxAttempts,
		OutputDir:         cfg.OutputDir,
		Model:             genHost.Model,
		Parameters:        genHost.Parameters,
		GenerationTimeout: cfg.RequestTimeout(),
		MinContextWords:   cfg.Knowledge.MinContextWords,
		Prompt:            promptFor(cfg),
		Observer: func(at feedback.Attempt) {
			mark := successText("passed")
			if !at.Passed {
				mark = failedText("failed")
			}
			status("[GEN] attempt %d/%d %s in %s (%d file(s))", at.Number, cfg.MaxAttempts, mark, at.Duration.Round(time.Millisecond), len(at.Files))
			if !at.Passed {
				fmt.Fprintln(out, mutedText(util.TruncateRunes(at.Diagnostic, 600)))
			}
			if _, err := hist.RecordInteraction(ctx, history.Interaction{
				RunID:       at.RunID,
				Attempt:     at.Number,
				Description: description,
				Prompt:      at.Prompt,
				Response:    at.Response,
				Success:     at.Passed,
				Diagnostic:  at.Diagnostic,
				InferenceMs: at.Generation.Milliseconds(),
			}); err != nil {
				logging.LogEvent("[GEN] history write failed: %v", err)
			}
		},
	})
	if err != nil {
		return err
	}

	status("[GEN] generating: %s", description)
	result, err := loop.Run(ctx, description)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, renderReport(result, retriever.Stats()))

	if !result.Success {
		return fmt.Errorf("generation failed after %d attempt(s)", len(result.Attempts))
	}
	if opts.snapshot {
		dest, err := project.Snapshot(result.Directory, cfg.Knowledge.Path, snapshotMeta(description, result), time.Now())
		if err != nil {
			return err
		}
		status("[GEN] snapshot saved to %s", dest)
	}
	return nil
}

// promptFor lists the files the model is shown as the expected project layout.
func promptFor(cfg *appconfig.Config) feedback.PromptBuilder {
	return feedback.PromptBuilder{
		Language:    "Rust",
		LayoutFiles: []string{cfg.Manifest.File, "src/main.rs", "README.md"},
	}
}

func snapshotMeta(description string, result feedback.Result) project.SnapshotMetadata {
	meta := project.SnapshotMetadata{Description: description, AttemptCount: len(result.Attempts)}
	for _, at := range result.Attempts {
		meta.InferenceMs = append(meta.InferenceMs, at.Generation.Milliseconds())
	}
	return meta
}

// renderReport draws the final summary box for a run.
func renderReport(result feedback.Result, stats rag.InferenceStats) string {
	verdict := successText("SUCCESS")
	if !result.Success {
		verdict = failedText("FAILED")
	}
	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, reportLabelStyle.Render(label), value)
	}
	rows := []string{
		reportTitleStyle.Render("codeforge run " + result.RunID),
		row("Result", verdict),
		row("Attempts", fmt.Sprintf("%d", len(result.Attempts))),
		row("Directory", result.Directory),
		row("KB queries", fmt.Sprintf("%d (avg %s)", stats.TotalQueries, stats.Average.Round(time.Millisecond))),
	}
	if !result.Success && result.Diagnostic != "" {
		rows = append(rows, "", reportLabelStyle.Render("Diagnostic"), util.WrapToWidth(util.TruncateRunes(result.Diagnostic, 2000), 100))
	}
	return reportBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

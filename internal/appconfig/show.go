package appconfig

import (
	"fmt"
	"io"
	"strings"
)

// ShowConfig prints the current configuration summary.
func ShowConfig(out io.Writer, file string, cfg Config) {
	if file == "" {
		fmt.Fprintln(out, "No config file loaded (using defaults).")
	} else {
		fmt.Fprintf(out, "Config file: %s\n\n", file)
	}

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintf(out, "  Debug:              %v\n", cfg.Debug)
	fmt.Fprintf(out, "  Generation Host:    %s\n", cfg.GenerationHost)
	fmt.Fprintf(out, "  Embedding Host:     %s\n", cfg.EmbeddingHost)
	fmt.Fprintf(out, "  Embedding Model:    %s\n", cfg.EmbeddingModel)
	fmt.Fprintf(out, "  Request Timeout:    %s\n", cfg.RequestTimeout())
	fmt.Fprintf(out, "  Max Attempts:       %d\n", cfg.MaxAttempts)
	fmt.Fprintf(out, "  Output Dir:         %s\n", cfg.OutputDir)
	fmt.Fprintf(out, "  Clean Output Dir:   %v\n", cfg.CleanOutputDir)
	fmt.Fprintf(out, "  Drop Blank Lines:   %v\n", cfg.Parser.DropBlankLines)
	fmt.Fprintf(out, "  Log File:           %s\n", cfg.LogFilePath())
	fmt.Fprintf(out, "  History DB:         %s\n", cfg.HistoryPath)

	fmt.Fprintln(out, "\n  Hosts:")
	for _, h := range cfg.Hosts {
		key := "none"
		if cfg.APIKey(h) != "" {
			key = "set"
		}
		fmt.Fprintf(out, "    - %s (%s) %s model=%s apiKey=%s\n", h.Name, h.Type, h.URL, h.Model, key)
	}

	k := cfg.Knowledge
	fmt.Fprintln(out, "\n  Knowledge:")
	fmt.Fprintf(out, "    Path:               %s\n", k.Path)
	fmt.Fprintf(out, "    Cache:              %s (store %q)\n", k.CachePath, k.StoreName)
	fmt.Fprintf(out, "    Top K:              %d\n", k.TopK)
	fmt.Fprintf(out, "    Min Context Words:  %d\n", k.MinContextWords)
	fmt.Fprintf(out, "    Chunk Size Tokens:  %d (overlap %d)\n", k.ChunkSizeTokens, k.ChunkOverlapTokens)
	fmt.Fprintf(out, "    Allowed Extensions: %v\n", k.AllowedExtensions)
	fmt.Fprintf(out, "    Exclude Globs:      %v\n", k.ExcludeGlobs)

	fmt.Fprintln(out, "\n  Verification:")
	fmt.Fprintf(out, "    Timeout:            %s\n", cfg.VerificationTimeout())
	fmt.Fprintf(out, "    Required Files:     %v\n", cfg.Verification.RequiredFiles)
	for _, step := range cfg.Verification.Steps {
		fmt.Fprintf(out, "    - %-8s %-8s %s\n", step.Name, step.Phase, strings.Join(step.Command, " "))
	}

	if cfg.WebSearch.Enabled {
		fmt.Fprintln(out, "\n  Web Search:")
		fmt.Fprintf(out, "    Endpoint:           %s\n", cfg.WebSearch.Endpoint)
		fmt.Fprintf(out, "    Sites:              %v\n", cfg.WebSearch.Sites)
		fmt.Fprintf(out, "    Max Results:        %d\n", cfg.WebSearch.MaxResults)
	}
}

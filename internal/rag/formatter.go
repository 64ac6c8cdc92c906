package rag

import (
	"fmt"
	"strings"
)

// FormatContext builds the CONTEXT block and returns context text, token count, and source coverage.
// maxTokens of zero means no limit.
func FormatContext(matches []Match, maxTokens int) (string, int, int) {
	if len(matches) == 0 {
		return "", 0, 0
	}
	if maxTokens < 0 {
		maxTokens = 0
	}

	var b strings.Builder
	b.WriteString("CONTEXT\n")

	contextTokens := 0
	remaining := maxTokens
	sourceSet := make(map[string]struct{})

	for _, m := range matches {
		text := strings.TrimSpace(m.Entry.Content)
		if text == "" {
			continue
		}
		source := sourceName(m.Entry)

		if maxTokens > 0 {
			if remaining <= 0 {
				break
			}
			if tokens := estimateTokens(text); tokens > remaining {
				text = truncateToTokens(text, remaining)
			}
		}

		usedTokens := estimateTokens(text)
		if usedTokens == 0 {
			continue
		}

		fmt.Fprintf(&b, "[source:%s]\n%s\n\n", source, text)
		contextTokens += usedTokens
		if maxTokens > 0 {
			remaining -= usedTokens
		}
		sourceSet[source] = struct{}{}
	}

	return strings.TrimRight(b.String(), "\n"), contextTokens, len(sourceSet)
}

func sourceName(e Entry) string {
	for _, key := range []string{"source", "filename"} {
		if v := strings.TrimSpace(e.Metadata[key]); v != "" {
			return v
		}
	}
	return fmt.Sprintf("entry-%d", e.ID)
}

func estimateTokens(text string) int {
	return len(strings.Fields(text))
}

func truncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	parts := strings.Fields(text)
	if len(parts) <= maxTokens {
		return text
	}
	return strings.Join(parts[:maxTokens], " ")
}

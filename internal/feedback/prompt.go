package feedback

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are an expert %s developer who generates complete, compilable projects.
Dependencies must be mutually compatible and the project must build without warnings.
Return every file in this exact format and nothing else:
[FILE: relative/path]
<file content>
[END FILE]
Do not wrap file contents in markdown code fences.`

// PromptBuilder renders the fixed system instructions and the per-attempt user prompt.
type PromptBuilder struct {
	Language    string
	LayoutFiles []string
}

// System returns the fixed system instructions.
func (b PromptBuilder) System() string {
	return fmt.Sprintf(systemPrompt, b.Language)
}

// User builds the prompt for one attempt. diagnostic is empty on the first attempt.
func (b PromptBuilder) User(description, context, diagnostic string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Create a complete %s project for: %s\n", b.Language, strings.TrimSpace(description))
	if c := strings.TrimSpace(context); c != "" {
		sb.WriteString("\nUse these patterns and best practices:\n")
		sb.WriteString(c)
		sb.WriteString("\n")
	}
	if len(b.LayoutFiles) > 0 {
		sb.WriteString("\nFormat the response as:\n")
		for _, f := range b.LayoutFiles {
			fmt.Fprintf(&sb, "[FILE: %s]\n<content>\n[END FILE]\n\n", f)
		}
	}
	if diagnostic != "" {
		sb.WriteString("\nPrevious attempt failed with errors:\n")
		sb.WriteString(diagnostic)
		sb.WriteString("\nPlease fix these issues while preserving the original functionality.\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

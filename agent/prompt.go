package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"

	"github.com/martinemde/agentd/llm"
	"github.com/martinemde/agentd/workspace"
)

const basePrompt = `You are a coding agent operating inside a workspace directory.

Work iteratively: inspect files before changing them, prefer small
verifiable steps, and report what you did when finished. Use the
provided tools for every filesystem, shell, and network action; never
claim to have done something a tool did not do. When a tool call fails,
read the error, adjust, and try a different approach instead of
repeating the same call.`

// BuildSystemPrompt assembles the base instructions, the tool summary,
// and the environment context block.
func BuildSystemPrompt(ws *workspace.Workspace, tools []llm.ToolDefinition, model string) string {
	var sb strings.Builder
	sb.WriteString(basePrompt)
	sb.WriteString("\n\n")

	if len(tools) > 0 {
		sb.WriteString("Available tools:\n")
		for _, t := range tools {
			summary, _, _ := strings.Cut(t.Description, ".")
			fmt.Fprintf(&sb, "- %s: %s\n", t.Name, summary)
		}
		sb.WriteString("\n")
	}

	sb.WriteString(buildEnvironmentContext(ws, model))
	return sb.String()
}

// buildEnvironmentContext generates the structured environment block.
func buildEnvironmentContext(ws *workspace.Workspace, model string) string {
	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Working directory: %s\n", ws.Root())
	fmt.Fprintf(&sb, "Sandbox policy: %s\n", ws.Policy())

	branch := gitBranch(ws.Root())
	fmt.Fprintf(&sb, "Is git repository: %v\n", branch != "")
	if branch != "" {
		fmt.Fprintf(&sb, "Git branch: %s\n", branch)
	}
	fmt.Fprintf(&sb, "Platform: %s\n", ws.Platform())
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

func gitBranch(dir string) string {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	return head.Name().Short()
}

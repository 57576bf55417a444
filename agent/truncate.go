package agent

import (
	"fmt"
	"strings"
)

// TruncationMode selects which part of oversized output is kept.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// Per-tool character limits applied to tool output before it enters the
// message log.
var toolCharLimits = map[string]int{
	"read_file":      50000,
	"exec_command":   30000,
	"grep":           20000,
	"glob":           20000,
	"http_request":   20000,
	"list_directory": 10000,
	"edit_file":      10000,
	"write_file":     1000,
	"git_log":        10000,
	"git_status":     10000,
}

var toolTruncationModes = map[string]TruncationMode{
	"read_file":    TruncateHeadTail,
	"exec_command": TruncateHeadTail,
	"http_request": TruncateHeadTail,
	"grep":         TruncateTail,
	"glob":         TruncateTail,
}

// Line limits applied after character truncation.
var toolLineLimits = map[string]int{
	"exec_command": 256,
	"grep":         200,
	"glob":         500,
}

const fallbackCharLimit = 30000

// truncateChars bounds output by character count.
func truncateChars(output string, maxChars int, mode TruncationMode) string {
	if len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars

	if mode == TruncateTail {
		return fmt.Sprintf("[output truncated: first %d characters removed]\n\n", removed) +
			output[len(output)-maxChars:]
	}

	half := maxChars / 2
	return output[:half] +
		fmt.Sprintf("\n\n[output truncated: %d characters removed from the middle; "+
			"re-run the tool with narrower parameters to see more]\n\n", removed) +
		output[len(output)-half:]
}

// truncateLines bounds output by line count with a head/tail split.
func truncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}
	head := maxLines / 2
	tail := maxLines - head
	omitted := len(lines) - head - tail
	return strings.Join(lines[:head], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tail:], "\n")
}

// TruncateToolOutput applies the character limit for the tool, then the
// line limit when one is configured.
func TruncateToolOutput(output, toolName string) string {
	maxChars, ok := toolCharLimits[toolName]
	if !ok {
		maxChars = fallbackCharLimit
	}
	mode, ok := toolTruncationModes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}
	out := truncateChars(output, maxChars, mode)
	if maxLines, ok := toolLineLimits[toolName]; ok {
		out = truncateLines(out, maxLines)
	}
	return out
}

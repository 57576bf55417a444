package agent

import (
	"strings"
	"testing"
)

func TestTruncateCharsHeadTail(t *testing.T) {
	input := strings.Repeat("a", 500) + strings.Repeat("z", 500)
	out := truncateChars(input, 100, TruncateHeadTail)

	if !strings.HasPrefix(out, strings.Repeat("a", 50)) {
		t.Error("head not preserved")
	}
	if !strings.HasSuffix(out, strings.Repeat("z", 50)) {
		t.Error("tail not preserved")
	}
	if !strings.Contains(out, "900 characters removed") {
		t.Errorf("marker missing: %q", out)
	}
}

func TestTruncateCharsTail(t *testing.T) {
	input := strings.Repeat("a", 500) + strings.Repeat("z", 100)
	out := truncateChars(input, 100, TruncateTail)

	if !strings.HasSuffix(out, strings.Repeat("z", 100)) {
		t.Error("tail mode must keep the end of the output")
	}
	if strings.Contains(out[len(out)-100:], "a") {
		t.Error("head should have been removed")
	}
}

func TestTruncateCharsUnderLimit(t *testing.T) {
	if got := truncateChars("short", 100, TruncateHeadTail); got != "short" {
		t.Errorf("got %q, want unchanged", got)
	}
}

func TestTruncateLines(t *testing.T) {
	var lines []string
	for i := 0; i < 100; i++ {
		lines = append(lines, "line")
	}
	out := truncateLines(strings.Join(lines, "\n"), 10)

	if !strings.Contains(out, "90 lines omitted") {
		t.Errorf("omission marker missing: %q", out)
	}
	if got := strings.Count(out, "line"); got > 11 {
		t.Errorf("kept %d lines, want at most 10 plus marker", got)
	}
}

func TestTruncateToolOutputUsesPerToolLimit(t *testing.T) {
	// write_file has a tight 1000-character limit.
	input := strings.Repeat("x", 5000)
	out := TruncateToolOutput(input, "write_file")
	if len(out) >= len(input) {
		t.Error("write_file output was not truncated")
	}

	// Unknown tools fall back to the default limit and pass through here.
	if got := TruncateToolOutput(input, "mystery_tool"); got != input {
		t.Error("output under the fallback limit should pass through")
	}
}

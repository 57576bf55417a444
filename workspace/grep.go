package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// GrepOptions configures a workspace search.
type GrepOptions struct {
	GlobFilter      string
	CaseInsensitive bool
	MaxResults      int
}

// Grep searches for pattern beneath dir (workspace root when empty).
// Ripgrep is used when present, plain grep otherwise; in both cases a
// zero-match run is an empty result, not an error.
func (w *Workspace) Grep(ctx context.Context, pattern, dir string, opts GrepOptions) (string, error) {
	if dir == "" {
		dir = "."
	}
	resolved, err := w.resolve(dir)
	if err != nil {
		return "", err
	}

	if rg, err := exec.LookPath("rg"); err == nil {
		args := []string{pattern, resolved, "--line-number", "--no-heading"}
		if opts.CaseInsensitive {
			args = append(args, "-i")
		}
		if opts.GlobFilter != "" {
			args = append(args, "--glob", opts.GlobFilter)
		}
		if opts.MaxResults > 0 {
			args = append(args, "--max-count", fmt.Sprintf("%d", opts.MaxResults))
		}
		return runSearch(ctx, rg, args, w.root)
	}

	args := []string{"-rn", pattern, resolved}
	if opts.CaseInsensitive {
		args = append([]string{"-i"}, args...)
	}
	return runSearch(ctx, "grep", args, w.root)
}

func runSearch(ctx context.Context, bin string, args []string, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// Exit 1 means no matches. Anything else (bad pattern, missing
		// binary, killed process) is a real failure.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return stdout.String(), nil
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("search failed: %s", msg)
	}
	return stdout.String(), nil
}

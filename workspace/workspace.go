// Package workspace performs filesystem and process operations on behalf
// of tools, with every path routed through the safety validator first.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/martinemde/agentd/safety"
)

// DirEntry is one listing row.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size,omitempty"`
}

// Workspace binds filesystem operations to a root directory and a sandbox
// policy. All relative paths resolve against the root; escaping paths and
// sensitive files are refused per the policy.
type Workspace struct {
	root   string
	policy safety.SandboxPolicy
}

// New creates a Workspace rooted at dir. An empty dir means the current
// working directory.
func New(dir string, policy safety.SandboxPolicy) (*Workspace, error) {
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Workspace{root: abs, policy: policy}, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string { return w.root }

// Policy returns the sandbox policy in force.
func (w *Workspace) Policy() safety.SandboxPolicy { return w.policy }

// Platform describes the host for the system prompt environment block.
func (w *Workspace) Platform() string { return runtime.GOOS + "/" + runtime.GOARCH }

// resolve validates the path and returns its absolute form.
func (w *Workspace) resolve(path string) (string, error) {
	v := safety.ValidatePath(path, w.root, w.policy)
	if !v.Allowed {
		return "", fmt.Errorf("path rejected: %s", v.Reason)
	}
	return v.Resolved, nil
}

// ReadFile returns line-numbered content. offset is a 1-based starting
// line; limit bounds the number of lines (default 2000 when zero).
func (w *Workspace) ReadFile(path string, offset, limit int) (string, error) {
	resolved, err := w.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	lines := strings.Split(string(data), "\n")
	start := 0
	if offset > 0 {
		start = offset - 1
	}
	if start >= len(lines) {
		return "", nil
	}
	if limit <= 0 {
		limit = 2000
	}
	end := len(lines)
	if start+limit < end {
		end = start + limit
	}

	var sb strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%d | %s\n", i+1, lines[i])
	}
	return sb.String(), nil
}

// ReadFileRaw returns the exact file bytes as a string, for edits that
// must match content without line-number decoration.
func (w *Workspace) ReadFileRaw(path string) (string, error) {
	resolved, err := w.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// WriteFile writes content, creating parent directories as needed. The
// read-only policy refuses all writes.
func (w *Workspace) WriteFile(path, content string) error {
	if w.policy == safety.PolicyReadOnly {
		return fmt.Errorf("writes are disabled under the read-only sandbox policy")
	}
	resolved, err := w.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// FileExists reports whether the path resolves and exists.
func (w *Workspace) FileExists(path string) bool {
	resolved, err := w.resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(resolved)
	return err == nil
}

// ListDirectory returns the entries of a directory, directories first,
// each group sorted by name.
func (w *Workspace) ListDirectory(path string) ([]DirEntry, error) {
	if path == "" {
		path = "."
	}
	resolved, err := w.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}

	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		de := DirEntry{Name: e.Name(), IsDir: e.IsDir()}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			de.Size = info.Size()
		}
		out = append(out, de)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Glob matches pattern beneath the given directory (workspace root when
// empty) and returns paths relative to the root. The pattern may contain
// ".." segments, so each match is validated individually; matches the
// policy rejects are dropped.
func (w *Workspace) Glob(pattern, dir string) ([]string, error) {
	if dir == "" {
		dir = "."
	}
	resolved, err := w.resolve(dir)
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(resolved, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if v := safety.ValidatePath(m, w.root, w.policy); !v.Allowed {
			continue
		}
		if rel, err := filepath.Rel(w.root, m); err == nil {
			out = append(out, rel)
		} else {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/martinemde/agentd/safety"
	"github.com/martinemde/agentd/workspace"
)

// RegisterCoreTools registers the filesystem, shell, and search tools
// against the given workspace.
func RegisterCoreTools(reg *Registry, ws *workspace.Workspace) {
	registerReadFile(reg, ws)
	registerWriteFile(reg, ws)
	registerEditFile(reg, ws)
	registerListDirectory(reg, ws)
	registerExecCommand(reg, ws)
	registerGrep(reg, ws)
	registerGlob(reg, ws)
}

func registerReadFile(reg *Registry, ws *workspace.Workspace) {
	reg.MustRegister(Tool{
		Definition: Definition{
			Name:        "read_file",
			Description: "Read a file from the workspace. Returns line-numbered content.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"file_path": map[string]any{
						"type":        "string",
						"description": "Path to the file, relative to the workspace root.",
					},
					"offset": map[string]any{
						"type":        "integer",
						"description": "1-based line number to start reading from.",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of lines to read. Default: 2000.",
					},
				},
				"required": []any{"file_path"},
			},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := ParseArguments(raw)
			if err != nil {
				return "", err
			}
			path, ok := StringArg(args, "file_path")
			if !ok || path == "" {
				return "", fmt.Errorf("file_path is required")
			}
			offset, _ := IntArg(args, "offset")
			limit, _ := IntArg(args, "limit")
			return ws.ReadFile(path, offset, limit)
		},
	})
}

func registerWriteFile(reg *Registry, ws *workspace.Workspace) {
	reg.MustRegister(Tool{
		Definition: Definition{
			Name:        "write_file",
			Description: "Write content to a file, creating it and any parent directories.",
			Mutating:    true,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"file_path": map[string]any{
						"type":        "string",
						"description": "Path to write, relative to the workspace root.",
					},
					"content": map[string]any{
						"type":        "string",
						"description": "The full file content.",
					},
				},
				"required": []any{"file_path", "content"},
			},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := ParseArguments(raw)
			if err != nil {
				return "", err
			}
			path, ok := StringArg(args, "file_path")
			if !ok || path == "" {
				return "", fmt.Errorf("file_path is required")
			}
			content, _ := StringArg(args, "content")
			if err := ws.WriteFile(path, content); err != nil {
				return "", err
			}
			return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
		},
	})
}

func registerEditFile(reg *Registry, ws *workspace.Workspace) {
	reg.MustRegister(Tool{
		Definition: Definition{
			Name:        "edit_file",
			Description: "Replace an exact string in a file. The old string must appear exactly once unless replace_all is set.",
			Mutating:    true,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"file_path": map[string]any{
						"type":        "string",
						"description": "Path to the file, relative to the workspace root.",
					},
					"old_string": map[string]any{
						"type":        "string",
						"description": "Exact text to replace.",
					},
					"new_string": map[string]any{
						"type":        "string",
						"description": "Replacement text.",
					},
					"replace_all": map[string]any{
						"type":        "boolean",
						"description": "Replace every occurrence instead of requiring a unique match.",
					},
				},
				"required": []any{"file_path", "old_string", "new_string"},
			},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := ParseArguments(raw)
			if err != nil {
				return "", err
			}
			path, _ := StringArg(args, "file_path")
			oldStr, _ := StringArg(args, "old_string")
			newStr, _ := StringArg(args, "new_string")
			replaceAll, _ := BoolArg(args, "replace_all")
			if path == "" || oldStr == "" {
				return "", fmt.Errorf("file_path and old_string are required")
			}
			if oldStr == newStr {
				return "", fmt.Errorf("old_string and new_string are identical")
			}

			content, err := ws.ReadFileRaw(path)
			if err != nil {
				return "", err
			}
			count := strings.Count(content, oldStr)
			if count == 0 {
				return "", fmt.Errorf("old_string not found in %s", path)
			}
			if count > 1 && !replaceAll {
				return "", fmt.Errorf("old_string appears %d times in %s; pass replace_all or make it unique", count, path)
			}

			updated := strings.Replace(content, oldStr, newStr, -1)
			if !replaceAll {
				updated = strings.Replace(content, oldStr, newStr, 1)
			}
			if err := ws.WriteFile(path, updated); err != nil {
				return "", err
			}
			if replaceAll {
				return fmt.Sprintf("Replaced %d occurrences in %s", count, path), nil
			}
			return fmt.Sprintf("Edited %s", path), nil
		},
	})
}

func registerListDirectory(reg *Registry, ws *workspace.Workspace) {
	reg.MustRegister(Tool{
		Definition: Definition{
			Name:        "list_directory",
			Description: "List directory entries. Directories are suffixed with a slash.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Directory to list, relative to the workspace root. Defaults to the root.",
					},
				},
			},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := ParseArguments(raw)
			if err != nil {
				return "", err
			}
			path, _ := StringArg(args, "path")
			entries, err := ws.ListDirectory(path)
			if err != nil {
				return "", err
			}
			if len(entries) == 0 {
				return "(empty directory)", nil
			}
			var sb strings.Builder
			for _, e := range entries {
				if e.IsDir {
					fmt.Fprintf(&sb, "%s/\n", e.Name)
				} else {
					fmt.Fprintf(&sb, "%s (%d bytes)\n", e.Name, e.Size)
				}
			}
			return sb.String(), nil
		},
	})
}

func registerExecCommand(reg *Registry, ws *workspace.Workspace) {
	reg.MustRegister(Tool{
		Definition: Definition{
			Name:        "exec_command",
			Description: "Run a shell command in the workspace root. Output includes stdout, stderr, and the exit code.",
			Mutating:    true,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{
						"type":        "string",
						"description": "The shell command to run.",
					},
					"timeout_seconds": map[string]any{
						"type":        "integer",
						"description": "Timeout in seconds. Default 30, maximum 300.",
					},
				},
				"required": []any{"command"},
			},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := ParseArguments(raw)
			if err != nil {
				return "", err
			}
			command, ok := StringArg(args, "command")
			if !ok || command == "" {
				return "", fmt.Errorf("command is required")
			}

			verdict := safety.ValidateCommand(command, ws.Policy())
			if !verdict.Allowed {
				return "", fmt.Errorf("command refused: %s", verdict.Reason)
			}

			timeoutSec, _ := IntArg(args, "timeout_seconds")
			res, err := ws.ExecCommand(ctx, command, time.Duration(timeoutSec)*time.Second)
			if err != nil {
				return "", err
			}
			return formatExecResult(res), nil
		},
	})
}

func formatExecResult(res *workspace.ExecResult) string {
	var sb strings.Builder
	if res.TimedOut {
		sb.WriteString("Command timed out.\n")
	}
	if res.Stdout != "" {
		sb.WriteString(res.Stdout)
		if !strings.HasSuffix(res.Stdout, "\n") {
			sb.WriteByte('\n')
		}
	}
	if res.Stderr != "" {
		sb.WriteString("stderr:\n")
		sb.WriteString(res.Stderr)
		if !strings.HasSuffix(res.Stderr, "\n") {
			sb.WriteByte('\n')
		}
	}
	fmt.Fprintf(&sb, "exit code: %d", res.ExitCode)
	return sb.String()
}

func registerGrep(reg *Registry, ws *workspace.Workspace) {
	reg.MustRegister(Tool{
		Definition: Definition{
			Name:        "grep",
			Description: "Search file contents for a regular expression. Returns matching lines with file and line number.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"pattern": map[string]any{
						"type":        "string",
						"description": "Regular expression to search for.",
					},
					"path": map[string]any{
						"type":        "string",
						"description": "Directory to search, relative to the workspace root.",
					},
					"glob": map[string]any{
						"type":        "string",
						"description": "Restrict the search to files matching this glob.",
					},
					"case_insensitive": map[string]any{
						"type": "boolean",
					},
				},
				"required": []any{"pattern"},
			},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := ParseArguments(raw)
			if err != nil {
				return "", err
			}
			pattern, ok := StringArg(args, "pattern")
			if !ok || pattern == "" {
				return "", fmt.Errorf("pattern is required")
			}
			path, _ := StringArg(args, "path")
			glob, _ := StringArg(args, "glob")
			insensitive, _ := BoolArg(args, "case_insensitive")

			out, err := ws.Grep(ctx, pattern, path, workspace.GrepOptions{
				GlobFilter:      glob,
				CaseInsensitive: insensitive,
				MaxResults:      100,
			})
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(out) == "" {
				return "No matches found.", nil
			}
			return out, nil
		},
	})
}

func registerGlob(reg *Registry, ws *workspace.Workspace) {
	reg.MustRegister(Tool{
		Definition: Definition{
			Name:        "glob",
			Description: "Find files by name pattern, such as *.go or cmd/*/main.go.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"pattern": map[string]any{
						"type":        "string",
						"description": "Glob pattern to match file names against.",
					},
					"path": map[string]any{
						"type":        "string",
						"description": "Directory to search beneath, relative to the workspace root.",
					},
				},
				"required": []any{"pattern"},
			},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := ParseArguments(raw)
			if err != nil {
				return "", err
			}
			pattern, ok := StringArg(args, "pattern")
			if !ok || pattern == "" {
				return "", fmt.Errorf("pattern is required")
			}
			path, _ := StringArg(args, "path")
			matches, err := ws.Glob(pattern, path)
			if err != nil {
				return "", err
			}
			if len(matches) == 0 {
				return "No files matched.", nil
			}
			return strings.Join(matches, "\n"), nil
		},
	})
}

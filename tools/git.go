package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/martinemde/agentd/workspace"
)

// RegisterGitTools registers read-only repository inspection tools. They
// open the workspace root as a git repository on each call; a workspace
// that is not a repository yields an error result, not a crash.
func RegisterGitTools(reg *Registry, ws *workspace.Workspace) {
	registerGitStatus(reg, ws)
	registerGitLog(reg, ws)
	registerGitBranch(reg, ws)
}

func openRepo(ws *workspace.Workspace) (*git.Repository, error) {
	repo, err := git.PlainOpen(ws.Root())
	if err != nil {
		return nil, fmt.Errorf("workspace is not a git repository: %w", err)
	}
	return repo, nil
}

func registerGitStatus(reg *Registry, ws *workspace.Workspace) {
	reg.MustRegister(Tool{
		Definition: Definition{
			Name:        "git_status",
			Description: "Show the working tree status of the workspace repository.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			repo, err := openRepo(ws)
			if err != nil {
				return "", err
			}
			wt, err := repo.Worktree()
			if err != nil {
				return "", fmt.Errorf("open worktree: %w", err)
			}
			status, err := wt.Status()
			if err != nil {
				return "", fmt.Errorf("compute status: %w", err)
			}

			var sb strings.Builder
			if head, err := repo.Head(); err == nil {
				fmt.Fprintf(&sb, "On branch %s\n", head.Name().Short())
			}
			if status.IsClean() {
				sb.WriteString("Working tree clean.")
				return sb.String(), nil
			}
			for path, st := range status {
				fmt.Fprintf(&sb, "%c%c %s\n", st.Staging, st.Worktree, path)
			}
			return sb.String(), nil
		},
	})
}

func registerGitLog(reg *Registry, ws *workspace.Workspace) {
	reg.MustRegister(Tool{
		Definition: Definition{
			Name:        "git_log",
			Description: "Show recent commits on the current branch.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"max_count": map[string]any{
						"type":        "integer",
						"description": "Number of commits to show. Default 10.",
					},
				},
			},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := ParseArguments(raw)
			if err != nil {
				return "", err
			}
			maxCount, ok := IntArg(args, "max_count")
			if !ok || maxCount <= 0 {
				maxCount = 10
			}

			repo, err := openRepo(ws)
			if err != nil {
				return "", err
			}
			head, err := repo.Head()
			if err != nil {
				return "", fmt.Errorf("repository has no commits: %w", err)
			}
			iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
			if err != nil {
				return "", fmt.Errorf("read log: %w", err)
			}
			defer iter.Close()

			var sb strings.Builder
			count := 0
			err = iter.ForEach(func(c *object.Commit) error {
				if count >= maxCount {
					return storer.ErrStop
				}
				count++
				subject, _, _ := strings.Cut(c.Message, "\n")
				fmt.Fprintf(&sb, "%s %s (%s, %s)\n",
					c.Hash.String()[:8], subject, c.Author.Name,
					c.Author.When.Format("2006-01-02"))
				return nil
			})
			if err != nil {
				return "", fmt.Errorf("read log: %w", err)
			}
			return sb.String(), nil
		},
	})
}

func registerGitBranch(reg *Registry, ws *workspace.Workspace) {
	reg.MustRegister(Tool{
		Definition: Definition{
			Name:        "git_branch",
			Description: "List local branches, marking the current one.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			repo, err := openRepo(ws)
			if err != nil {
				return "", err
			}
			current := ""
			if head, err := repo.Head(); err == nil {
				current = head.Name().Short()
			}
			iter, err := repo.Branches()
			if err != nil {
				return "", fmt.Errorf("list branches: %w", err)
			}
			defer iter.Close()

			var names []string
			_ = iter.ForEach(func(ref *plumbing.Reference) error {
				name := ref.Name().Short()
				if name == current {
					name = "* " + name
				} else {
					name = "  " + name
				}
				names = append(names, name)
				return nil
			})
			if len(names) == 0 {
				return "No branches.", nil
			}
			return strings.Join(names, "\n"), nil
		},
	})
}

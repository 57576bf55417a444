package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/martinemde/agentd/safety"
	"github.com/martinemde/agentd/workspace"
)

func coreRegistry(t *testing.T, policy safety.SandboxPolicy) (*Registry, *workspace.Workspace) {
	t.Helper()
	ws, err := workspace.New(t.TempDir(), policy)
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	reg := NewRegistry()
	RegisterCoreTools(reg, ws)
	return reg, ws
}

func TestWriteThenReadFile(t *testing.T) {
	reg, _ := coreRegistry(t, safety.PolicyWorkspaceWrite)
	ctx := context.Background()

	res := reg.Execute(ctx, toolCall("c1", "write_file", `{"file_path":"notes.txt","content":"first\nsecond"}`))
	if res.IsError {
		t.Fatalf("write_file failed: %s", res.Content)
	}

	res = reg.Execute(ctx, toolCall("c2", "read_file", `{"file_path":"notes.txt"}`))
	if res.IsError {
		t.Fatalf("read_file failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, "1 | first") || !strings.Contains(res.Content, "2 | second") {
		t.Errorf("read_file output %q lacks line numbers", res.Content)
	}
}

func TestEditFileRequiresUniqueMatch(t *testing.T) {
	reg, ws := coreRegistry(t, safety.PolicyWorkspaceWrite)
	ctx := context.Background()
	if err := ws.WriteFile("dup.txt", "same\nsame\n"); err != nil {
		t.Fatal(err)
	}

	res := reg.Execute(ctx, toolCall("c1", "edit_file", `{"file_path":"dup.txt","old_string":"same","new_string":"diff"}`))
	if !res.IsError || !strings.Contains(res.Content, "2 times") {
		t.Errorf("ambiguous edit should fail with occurrence count, got %+v", res)
	}

	res = reg.Execute(ctx, toolCall("c2", "edit_file", `{"file_path":"dup.txt","old_string":"same","new_string":"diff","replace_all":true}`))
	if res.IsError {
		t.Fatalf("replace_all edit failed: %s", res.Content)
	}
	got, _ := ws.ReadFileRaw("dup.txt")
	if got != "diff\ndiff\n" {
		t.Errorf("file = %q after replace_all", got)
	}
}

func TestListDirectoryFormatting(t *testing.T) {
	reg, ws := coreRegistry(t, safety.PolicyWorkspaceWrite)
	if err := ws.WriteFile("sub/inner.txt", "x"); err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteFile("top.txt", "hello"); err != nil {
		t.Fatal(err)
	}

	res := reg.Execute(context.Background(), toolCall("c1", "list_directory", `{}`))
	if res.IsError {
		t.Fatalf("list_directory failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, "sub/") || !strings.Contains(res.Content, "top.txt (5 bytes)") {
		t.Errorf("listing = %q", res.Content)
	}
}

func TestExecCommandTool(t *testing.T) {
	reg, _ := coreRegistry(t, safety.PolicyWorkspaceWrite)

	res := reg.Execute(context.Background(), toolCall("c1", "exec_command", `{"command":"echo tool-output"}`))
	if res.IsError {
		t.Fatalf("exec_command failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, "tool-output") || !strings.Contains(res.Content, "exit code: 0") {
		t.Errorf("output = %q", res.Content)
	}
}

func TestExecCommandToolRefusesBlocked(t *testing.T) {
	reg, _ := coreRegistry(t, safety.PolicyWorkspaceWrite)

	res := reg.Execute(context.Background(), toolCall("c1", "exec_command", `{"command":"rm -rf /"}`))
	if !res.IsError || !strings.Contains(res.Content, "refused") {
		t.Errorf("blocked command should be refused, got %+v", res)
	}
}

func TestExecCommandToolReadOnlyPolicy(t *testing.T) {
	reg, _ := coreRegistry(t, safety.PolicyReadOnly)

	res := reg.Execute(context.Background(), toolCall("c1", "exec_command", `{"command":"echo hi"}`))
	if !res.IsError {
		t.Error("read-only policy must refuse command execution")
	}
}

func TestGlobTool(t *testing.T) {
	reg, ws := coreRegistry(t, safety.PolicyWorkspaceWrite)
	for _, f := range []string{"x.go", "y.go", "z.md"} {
		if err := ws.WriteFile(f, "x"); err != nil {
			t.Fatal(err)
		}
	}

	res := reg.Execute(context.Background(), toolCall("c1", "glob", `{"pattern":"*.go"}`))
	if res.IsError {
		t.Fatalf("glob failed: %s", res.Content)
	}
	if res.Content != "x.go\ny.go" {
		t.Errorf("glob output = %q", res.Content)
	}
}

func TestCoreToolMutabilityFlags(t *testing.T) {
	reg, _ := coreRegistry(t, safety.PolicyWorkspaceWrite)

	mutating := map[string]bool{
		"read_file":      false,
		"list_directory": false,
		"grep":           false,
		"glob":           false,
		"write_file":     true,
		"edit_file":      true,
		"exec_command":   true,
	}
	for name, want := range mutating {
		if got := reg.IsMutating(name); got != want {
			t.Errorf("IsMutating(%s) = %v, want %v", name, got, want)
		}
	}
}

package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/martinemde/agentd/approval"
	"github.com/martinemde/agentd/llm"
	"github.com/martinemde/agentd/safety"
	"github.com/martinemde/agentd/session"
	"github.com/martinemde/agentd/tools"
	"github.com/martinemde/agentd/workspace"
)

// scriptedAdapter replays canned responses in order and falls back to a
// plain text reply when the script runs out.
type scriptedAdapter struct {
	mu        sync.Mutex
	responses []*llm.Response
	requests  []llm.Request
	next      int
}

func (s *scriptedAdapter) Name() string { return "scripted" }

func (s *scriptedAdapter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.next >= len(s.responses) {
		return &llm.Response{Text: "done"}, nil
	}
	resp := s.responses[s.next]
	s.next++
	return resp, nil
}

func textResponse(text string) *llm.Response {
	return &llm.Response{Text: text, Usage: llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}}
}

func callResponse(calls ...llm.ToolCall) *llm.Response {
	return &llm.Response{ToolCalls: calls, Usage: llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}}
}

func call(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

type testHarness struct {
	runner   *Runner
	store    *session.MemoryStore
	registry *tools.Registry
	adapter  *scriptedAdapter
}

func newHarness(t *testing.T, cfg Config, responses ...*llm.Response) *testHarness {
	t.Helper()
	ws, err := workspace.New(t.TempDir(), safety.PolicyWorkspaceWrite)
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}

	adapter := &scriptedAdapter{responses: responses}
	client := llm.NewClient(llm.WithProvider("scripted", adapter))
	store := session.NewMemoryStore()
	registry := tools.NewRegistry()

	if cfg.ApprovalPolicy == "" {
		cfg.ApprovalPolicy = approval.PolicyNever
	}
	runner := NewRunner(store, registry, approval.NewManager(), client, ws, cfg, nil)
	return &testHarness{runner: runner, store: store, registry: registry, adapter: adapter}
}

func (h *testHarness) registerTool(t *testing.T, name string, mutating bool, handler tools.Handler) {
	t.Helper()
	err := h.registry.Register(tools.Tool{
		Definition: tools.Definition{Name: name, Description: name, Mutating: mutating},
		Handler:    handler,
	})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
}

func okHandler(output string) tools.Handler {
	return func(ctx context.Context, raw json.RawMessage) (string, error) {
		return output, nil
	}
}

func TestRunCompletesWithoutTools(t *testing.T) {
	h := newHarness(t, Config{}, textResponse("All done."))

	res, err := h.runner.Run(context.Background(), "say hi", "chat-1", "u1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success || res.Outcome != OutcomeCompleted {
		t.Errorf("result = %+v, want completed success", res)
	}
	if res.FinalText != "All done." || res.Iterations != 1 {
		t.Errorf("FinalText=%q Iterations=%d", res.FinalText, res.Iterations)
	}
	if res.Usage.TotalTokens != 15 {
		t.Errorf("Usage = %+v", res.Usage)
	}

	sess, _ := h.store.GetOrCreate(context.Background(), "chat-1", "u1", "")
	if sess.Status != session.StatusIdle {
		t.Errorf("session status = %s, want idle after run", sess.Status)
	}
	// system prompt, user task, assistant reply
	if len(sess.Messages) != 3 || sess.Messages[0].Role != session.RoleSystem {
		t.Errorf("log = %d messages, first role %s", len(sess.Messages), sess.Messages[0].Role)
	}
}

func TestRunExecutesToolThenFinishes(t *testing.T) {
	h := newHarness(t, Config{},
		callResponse(call("c1", "lookup", `{}`)),
		textResponse("finished"),
	)
	h.registerTool(t, "lookup", false, okHandler("lookup output"))

	res, err := h.runner.Run(context.Background(), "look it up", "chat-1", "u1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success || res.Iterations != 2 {
		t.Errorf("result = %+v", res)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Name != "lookup" || res.ToolCalls[0].IsError {
		t.Errorf("ToolCalls = %+v", res.ToolCalls)
	}
	if res.Usage.TotalTokens != 30 {
		t.Errorf("usage not accumulated across iterations: %+v", res.Usage)
	}

	sess, _ := h.store.GetOrCreate(context.Background(), "chat-1", "u1", "")
	var toolMsg *session.Message
	for i := range sess.Messages {
		if sess.Messages[i].Role == session.RoleTool {
			toolMsg = &sess.Messages[i]
		}
	}
	if toolMsg == nil || toolMsg.Content != "lookup output" || toolMsg.ToolCallID != "c1" {
		t.Errorf("tool message = %+v", toolMsg)
	}
}

func TestRunStopsAfterConsecutiveFailures(t *testing.T) {
	h := newHarness(t, Config{},
		callResponse(call("c1", "failing", `{}`)),
		callResponse(call("c2", "failing", `{"n":1}`)),
		callResponse(call("c3", "failing", `{"n":2}`)),
		textResponse("should never be reached"),
	)
	h.registerTool(t, "failing", false, func(ctx context.Context, raw json.RawMessage) (string, error) {
		return "", context.DeadlineExceeded
	})

	res, err := h.runner.Run(context.Background(), "keep failing", "chat-1", "u1")
	if err != nil {
		t.Fatalf("Run must not return a Go error for tool failures: %v", err)
	}
	if res.Success || res.Outcome != OutcomeFailed {
		t.Errorf("result = %+v, want failed outcome", res)
	}
	if !strings.Contains(res.FinalText, "consecutive") {
		t.Errorf("FinalText = %q", res.FinalText)
	}

	// A corrective hint follows each failed batch.
	sess, _ := h.store.GetOrCreate(context.Background(), "chat-1", "u1", "")
	hints := 0
	for _, m := range sess.Messages[1:] {
		if m.Role == session.RoleSystem && strings.Contains(m.Content, "failed") {
			hints++
		}
	}
	if hints == 0 {
		t.Error("no corrective hint appended after tool failure")
	}
}

func TestRunMutatingBatchIsSequential(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string, delay time.Duration) tools.Handler {
		return func(ctx context.Context, raw json.RawMessage) (string, error) {
			time.Sleep(delay)
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name, nil
		}
	}

	h := newHarness(t, Config{},
		callResponse(call("c1", "slow_read", `{}`), call("c2", "writer", `{}`)),
		textResponse("done"),
	)
	h.registerTool(t, "slow_read", false, record("slow_read", 50*time.Millisecond))
	h.registerTool(t, "writer", true, record("writer", 0))

	res, err := h.runner.Run(context.Background(), "go", "chat-1", "u1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}

	mu.Lock()
	defer mu.Unlock()
	// The batch contains a mutating tool, so execution is strictly in
	// request order even though the first call is slower.
	if len(order) != 2 || order[0] != "slow_read" || order[1] != "writer" {
		t.Errorf("execution order = %v, want [slow_read writer]", order)
	}
}

func TestRunReadOnlyBatchIsParallel(t *testing.T) {
	second := make(chan struct{})

	h := newHarness(t, Config{},
		callResponse(call("c1", "waiter", `{}`), call("c2", "signaler", `{}`)),
		textResponse("done"),
	)
	// waiter can only finish if signaler runs concurrently.
	h.registerTool(t, "waiter", false, func(ctx context.Context, raw json.RawMessage) (string, error) {
		select {
		case <-second:
			return "released", nil
		case <-time.After(5 * time.Second):
			return "", context.DeadlineExceeded
		}
	})
	h.registerTool(t, "signaler", false, func(ctx context.Context, raw json.RawMessage) (string, error) {
		close(second)
		return "signaled", nil
	})

	res, err := h.runner.Run(context.Background(), "go", "chat-1", "u1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	for _, tc := range res.ToolCalls {
		if tc.IsError {
			t.Errorf("call %s failed; batch was not parallel", tc.Name)
		}
	}

	// Results are persisted in request order regardless of completion order.
	sess, _ := h.store.GetOrCreate(context.Background(), "chat-1", "u1", "")
	var ids []string
	for _, m := range sess.Messages {
		if m.Role == session.RoleTool {
			ids = append(ids, m.ToolCallID)
		}
	}
	if len(ids) != 2 || ids[0] != "c1" || ids[1] != "c2" {
		t.Errorf("persisted order = %v, want [c1 c2]", ids)
	}
}

func TestRunCancellationBetweenIterations(t *testing.T) {
	h := newHarness(t, Config{},
		callResponse(call("c1", "lookup", `{}`)),
		textResponse("should not be requested"),
	)
	ctx := context.Background()
	h.registerTool(t, "lookup", false, func(ctx context.Context, raw json.RawMessage) (string, error) {
		if err := h.runner.Cancel(ctx, "chat-1"); err != nil {
			return "", err
		}
		return "ok", nil
	})

	res, err := h.runner.Run(ctx, "go", "chat-1", "u1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeCancelled || res.Success {
		t.Errorf("result = %+v, want cancelled", res)
	}
	// The tool batch before the cancel check still completed.
	if len(res.ToolCalls) != 1 {
		t.Errorf("ToolCalls = %+v", res.ToolCalls)
	}
}

func TestRunIterationCeiling(t *testing.T) {
	h := newHarness(t, Config{MaxIterations: 2},
		callResponse(call("c1", "lookup", `{"n":1}`)),
		callResponse(call("c2", "lookup", `{"n":2}`)),
		textResponse("unreachable"),
	)
	h.registerTool(t, "lookup", false, okHandler("ok"))

	res, err := h.runner.Run(context.Background(), "go", "chat-1", "u1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeIterationLimit || res.Success {
		t.Errorf("result = %+v, want iteration_limit", res)
	}
	if res.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", res.Iterations)
	}
}

func TestRunApprovalRejectionBecomesErrorResult(t *testing.T) {
	h := newHarness(t, Config{ApprovalPolicy: approval.PolicyAlways},
		callResponse(call("c1", "lookup", `{}`)),
		textResponse("wrapping up"),
	)
	h.registerTool(t, "lookup", false, okHandler("never runs"))

	// Auto-reject every approval request as soon as it is raised.
	var mgr *approval.Manager
	mgr = approval.NewManager(approval.WithNotifier(func(req approval.Request) {
		go func() { _ = mgr.Reject(req.ID, "operator said no") }()
	}))
	h.runner.approver = mgr

	res, err := h.runner.Run(context.Background(), "go", "chat-1", "u1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.ToolCalls) != 1 || !res.ToolCalls[0].IsError {
		t.Fatalf("ToolCalls = %+v, want one rejected call", res.ToolCalls)
	}

	sess, _ := h.store.GetOrCreate(context.Background(), "chat-1", "u1", "")
	found := false
	for _, m := range sess.Messages {
		if m.Role == session.RoleTool && strings.Contains(m.Content, "operator said no") {
			found = true
		}
	}
	if !found {
		t.Error("rejection reason not surfaced to the model")
	}
}

func TestRunRefusesBusySession(t *testing.T) {
	h := newHarness(t, Config{}, textResponse("x"))
	ctx := context.Background()

	sess, _ := h.store.GetOrCreate(ctx, "chat-1", "u1", "/w")
	if err := h.store.SetStatus(ctx, sess.ID, session.StatusRunning); err != nil {
		t.Fatal(err)
	}

	if _, err := h.runner.Run(ctx, "go", "chat-1", "u1"); err == nil {
		t.Error("a running session must refuse a second task")
	}
}

func TestRunTracksFilesTouched(t *testing.T) {
	h := newHarness(t, Config{},
		callResponse(call("c1", "write_file", `{"file_path":"out/a.txt","content":"x"}`)),
		callResponse(call("c2", "write_file", `{"file_path":"out/a.txt","content":"y"}`)),
		textResponse("wrote it"),
	)
	h.registerTool(t, "write_file", true, okHandler("written"))

	res, err := h.runner.Run(context.Background(), "go", "chat-1", "u1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.FilesTouched) != 1 || res.FilesTouched[0] != "out/a.txt" {
		t.Errorf("FilesTouched = %v, want deduplicated [out/a.txt]", res.FilesTouched)
	}
}

func TestRunTreatsWhitespaceTaskAsContinuation(t *testing.T) {
	h := newHarness(t, Config{}, textResponse("resumed"))

	res, err := h.runner.Run(context.Background(), "   \n\t", "chat-1", "u1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}

	sess, _ := h.store.GetOrCreate(context.Background(), "chat-1", "u1", "")
	var userMsg string
	for _, m := range sess.Messages {
		if m.Role == session.RoleUser {
			userMsg = m.Content
		}
	}
	if !strings.Contains(userMsg, "Continue the previous task") {
		t.Errorf("user message = %q, want the continuation message", userMsg)
	}
}

func TestRunLoopDetectionStopsRepeats(t *testing.T) {
	responses := make([]*llm.Response, 0, 14)
	for i := 0; i < 14; i++ {
		responses = append(responses, callResponse(call("c", "lookup", `{"same":"args"}`)))
	}
	h := newHarness(t, Config{LoopWindow: 4}, responses...)
	h.registerTool(t, "lookup", false, okHandler("ok"))

	res, err := h.runner.Run(context.Background(), "go", "chat-1", "u1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeFailed || !strings.Contains(res.FinalText, "repeating") {
		t.Errorf("result = %+v, want loop failure", res)
	}
	if res.Iterations >= 14 {
		t.Error("loop detection did not stop the run early")
	}
}

func TestRunLoopHintFollowsToolResults(t *testing.T) {
	responses := make([]*llm.Response, 0, 14)
	for i := 0; i < 14; i++ {
		responses = append(responses, callResponse(call("c", "lookup", `{"same":"args"}`)))
	}
	h := newHarness(t, Config{LoopWindow: 4}, responses...)
	h.registerTool(t, "lookup", false, okHandler("ok"))

	if _, err := h.runner.Run(context.Background(), "go", "chat-1", "u1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sess, _ := h.store.GetOrCreate(context.Background(), "chat-1", "u1", "")
	hinted := false
	for i, m := range sess.Messages {
		if m.Role == session.RoleSystem && strings.Contains(m.Content, "repeating") {
			hinted = true
		}
		// Every tool result must directly follow its assistant message or
		// a sibling result; the hint must never split the pair.
		if m.Role == session.RoleTool {
			prev := sess.Messages[i-1].Role
			if prev != session.RoleAssistant && prev != session.RoleTool {
				t.Errorf("message %d is a tool result but follows role=%s", i, prev)
			}
		}
	}
	if !hinted {
		t.Error("no corrective hint appended after the detected loop")
	}
}

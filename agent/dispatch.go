package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/martinemde/agentd/approval"
	"github.com/martinemde/agentd/llm"
	"github.com/martinemde/agentd/safety"
	"github.com/martinemde/agentd/session"
	"github.com/martinemde/agentd/tools"
)

// runBatch executes one batch of tool calls. A batch containing any
// mutating tool runs fully sequentially in request order; a batch of
// read-only tools runs in parallel. Results are always returned in
// request order regardless of completion order.
func (r *Runner) runBatch(ctx context.Context, sessionID string, calls []llm.ToolCall) []tools.Result {
	results := make([]tools.Result, len(calls))

	sequential := false
	for _, call := range calls {
		if r.registry.IsMutating(call.Name) {
			sequential = true
			break
		}
	}

	if sequential {
		for i, call := range calls {
			results[i] = r.runCall(ctx, sessionID, call)
		}
		return results
	}

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			results[i] = r.runCall(ctx, sessionID, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

// runCall gates one call through the approval workflow, then executes it.
func (r *Runner) runCall(ctx context.Context, sessionID string, call llm.ToolCall) tools.Result {
	r.emit(EventItemStarted, map[string]any{"tool": call.Name})

	risk, flagged := r.assessCall(call)
	if approval.NeedsApproval(r.cfg.ApprovalPolicy, risk, flagged) {
		if res, denied := r.awaitApproval(ctx, sessionID, call, risk); denied {
			r.emit(EventItemCompleted, map[string]any{"tool": call.Name, "outcome": "rejected"})
			return res
		}
	}

	res := r.executeCall(ctx, call)

	outcome := "ok"
	if res.IsError {
		outcome = "error"
	}
	// The event carries the untruncated output; truncation applies only to
	// what is persisted in the session log.
	r.emit(EventItemCompleted, map[string]any{
		"tool":    call.Name,
		"outcome": outcome,
		"output":  res.Content,
		"elapsed": res.Elapsed.String(),
	})
	return res
}

func (r *Runner) executeCall(ctx context.Context, call llm.ToolCall) tools.Result {
	res := r.registry.Execute(ctx, call)
	if res.IsError {
		r.log.Warn("tool failed", "tool", call.Name, "error", res.Content)
	} else {
		r.log.Debug("tool succeeded", "tool", call.Name, "elapsed", res.Elapsed)
	}
	return res
}

// assessCall classifies one call's risk. Commands get the full command
// validator; everything else is classified by tool name and target path.
func (r *Runner) assessCall(call llm.ToolCall) (safety.RiskLevel, bool) {
	var args map[string]any
	_ = json.Unmarshal(call.Arguments, &args)

	if call.Name == "exec_command" {
		command, _ := args["command"].(string)
		verdict := safety.ValidateCommand(command, r.ws.Policy())
		return verdict.Risk, verdict.RequiresApproval
	}

	path, _ := args["file_path"].(string)
	return safety.AssessRisk(call.Name, path), false
}

// awaitApproval parks the session in waiting_approval, raises the request,
// and blocks for a resolution. A denial is returned as an error result so
// the model can see why its call did not run.
func (r *Runner) awaitApproval(ctx context.Context, sessionID string, call llm.ToolCall, risk safety.RiskLevel) (tools.Result, bool) {
	if err := r.store.SetStatus(ctx, sessionID, session.StatusWaitingApproval); err != nil {
		r.log.Error("set waiting_approval", "session", sessionID, "error", err)
	}
	defer func() {
		if err := r.store.SetStatus(ctx, sessionID, session.StatusRunning); err != nil {
			r.log.Error("restore running status", "session", sessionID, "error", err)
		}
	}()

	chatRef := sessionID
	if sess, err := r.store.Get(ctx, sessionID); err == nil && sess.ChatKey != "" {
		chatRef = sess.ChatKey
	}
	req := r.approver.Raise(chatRef, call.Name, summarizeCall(call), risk)
	r.log.Info("approval requested", "tool", call.Name, "risk", risk, "request", req.ID)

	out := r.approver.Await(ctx, req.ID)
	if out.Approved {
		return tools.Result{}, false
	}
	return tools.Result{
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    fmt.Sprintf("tool call was not approved: %s", out.Reason),
		IsError:    true,
	}, true
}

// summarizeCall renders a short human-readable description for the
// approval prompt.
func summarizeCall(call llm.ToolCall) string {
	var args map[string]any
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return call.Name
	}
	if cmd, ok := args["command"].(string); ok {
		return cmd
	}
	if path, ok := args["file_path"].(string); ok {
		return fmt.Sprintf("%s %s", call.Name, path)
	}
	if url, ok := args["url"].(string); ok {
		return fmt.Sprintf("%s %s", call.Name, url)
	}
	return call.Name
}

// touchedPath extracts the file path from a successful write or edit so
// the run result can report which files changed.
func touchedPath(call llm.ToolCall) string {
	if call.Name != "write_file" && call.Name != "edit_file" {
		return ""
	}
	var args map[string]any
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return ""
	}
	path, _ := args["file_path"].(string)
	return path
}

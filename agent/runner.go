// Package agent drives the iterative tool-calling loop: model request,
// approval gating, tool dispatch, and durable session bookkeeping.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/martinemde/agentd/approval"
	"github.com/martinemde/agentd/llm"
	"github.com/martinemde/agentd/session"
	"github.com/martinemde/agentd/tools"
	"github.com/martinemde/agentd/workspace"
)

// Config holds the loop limits and model selection.
type Config struct {
	Model                string
	Provider             string
	MaxIterations        int
	MaxConsecutiveErrors int
	LoopWindow           int
	ApprovalPolicy       approval.Policy
}

// Defaults fills zero fields with the standard limits.
func (c Config) Defaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 15
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 3
	}
	if c.LoopWindow <= 0 {
		c.LoopWindow = defaultLoopWindow
	}
	if c.ApprovalPolicy == "" {
		c.ApprovalPolicy = approval.PolicyOnRequest
	}
	return c
}

// Outcome classifies how a run ended.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeCancelled      Outcome = "cancelled"
	OutcomeFailed         Outcome = "failed"
	OutcomeIterationLimit Outcome = "iteration_limit"
)

// CallRecord summarizes one executed tool call.
type CallRecord struct {
	Name    string
	IsError bool
	Elapsed time.Duration
}

// Result is the record of one completed run.
type Result struct {
	Outcome      Outcome
	Success      bool
	FinalText    string
	Iterations   int
	ToolCalls    []CallRecord
	Usage        llm.Usage
	FilesTouched []string
}

// Runner executes tasks against a session. All collaborators are injected;
// a Runner holds no global state and several may coexist in one process.
type Runner struct {
	store    session.Store
	registry *tools.Registry
	approver *approval.Manager
	client   *llm.Client
	ws       *workspace.Workspace
	cfg      Config
	log      *slog.Logger
	emitter  *Emitter
}

// NewRunner wires a Runner from its collaborators. A nil logger disables
// logging; a nil emitter disables events.
func NewRunner(store session.Store, registry *tools.Registry, approver *approval.Manager,
	client *llm.Client, ws *workspace.Workspace, cfg Config, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		store:    store,
		registry: registry,
		approver: approver,
		client:   client,
		ws:       ws,
		cfg:      cfg.Defaults(),
		log:      log,
	}
}

// SetEmitter attaches a progress event emitter.
func (r *Runner) SetEmitter(e *Emitter) { r.emitter = e }

func (r *Runner) emit(kind EventKind, data map[string]any) {
	if r.emitter != nil {
		r.emitter.Emit(kind, data)
	}
}

// Cancel raises the cooperative cancel flag for the chat's session. The
// running loop observes it at the next iteration boundary.
func (r *Runner) Cancel(ctx context.Context, chatKey string) error {
	sess, err := r.store.GetOrCreate(ctx, chatKey, "", r.ws.Root())
	if err != nil {
		return err
	}
	return r.store.SetCancelled(ctx, sess.ID, true)
}

// Reset clears the chat's session history.
func (r *Runner) Reset(ctx context.Context, chatKey string) error {
	sess, err := r.store.GetOrCreate(ctx, chatKey, "", r.ws.Root())
	if err != nil {
		return err
	}
	return r.store.Reset(ctx, sess.ID)
}

// Run executes one task to completion. An empty task resumes the previous
// one with a synthetic continuation message. A session already running a
// task refuses a second concurrent run.
func (r *Runner) Run(ctx context.Context, task, chatKey, userID string) (*Result, error) {
	sess, err := r.store.GetOrCreate(ctx, chatKey, userID, r.ws.Root())
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.Status != session.StatusIdle {
		return nil, fmt.Errorf("session %s is %s; wait for the current task or cancel it", sess.ID, sess.Status)
	}

	if err := r.store.SetCancelled(ctx, sess.ID, false); err != nil {
		return nil, err
	}
	if err := r.store.SetStatus(ctx, sess.ID, session.StatusRunning); err != nil {
		return nil, err
	}
	defer func() {
		if err := r.store.SetStatus(context.WithoutCancel(ctx), sess.ID, session.StatusIdle); err != nil {
			r.log.Error("restore idle status", "session", sess.ID, "error", err)
		}
	}()

	if len(sess.Messages) == 0 {
		prompt := BuildSystemPrompt(r.ws, r.registry.Definitions(), r.cfg.Model)
		if err := r.store.AppendMessage(ctx, sess.ID, session.NewSystemMessage(prompt)); err != nil {
			return nil, err
		}
	}
	task = strings.TrimSpace(task)
	if task == "" {
		task = "Continue the previous task from where it left off."
	}
	if err := r.store.AppendMessage(ctx, sess.ID, session.NewUserMessage(task)); err != nil {
		return nil, err
	}

	r.emit(EventTurnStarted, map[string]any{"task": task})
	r.log.Info("run started", "session", sess.ID, "chat", chatKey)

	result, err := r.loop(ctx, sess.ID)
	if err != nil {
		r.emit(EventError, map[string]any{"error": err.Error()})
		return nil, err
	}

	r.emit(EventTurnCompleted, map[string]any{
		"outcome":    string(result.Outcome),
		"iterations": result.Iterations,
	})
	r.log.Info("run finished", "session", sess.ID,
		"outcome", result.Outcome, "iterations", result.Iterations,
		"tokens", result.Usage.TotalTokens)
	return result, nil
}

// loop is the iteration engine. Cancellation is observed only here, at
// iteration boundaries, so tool batches are never torn mid-flight.
func (r *Runner) loop(ctx context.Context, sessionID string) (*Result, error) {
	result := &Result{}
	consecutiveErrors := 0
	loopWarned := false
	touched := map[string]bool{}
	defer func() { result.FilesTouched = sortedKeys(touched) }()

	for iteration := 0; iteration < r.cfg.MaxIterations; iteration++ {
		sess, err := r.store.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if sess.Cancelled || ctx.Err() != nil {
			result.Outcome = OutcomeCancelled
			result.FinalText = "Task cancelled."
			return result, nil
		}

		result.Iterations = iteration + 1

		resp, err := r.complete(ctx, sess)
		if err != nil {
			result.Outcome = OutcomeFailed
			result.FinalText = fmt.Sprintf("Model request failed: %v", err)
			return result, nil
		}
		if err := r.store.AddUsage(ctx, sessionID, resp.Usage); err != nil {
			return nil, err
		}
		result.Usage = result.Usage.Add(resp.Usage)

		assistant := session.NewAssistantMessage(resp.Text, resp.ToolCalls)
		if err := r.store.AppendMessage(ctx, sessionID, assistant); err != nil {
			return nil, err
		}

		if len(resp.ToolCalls) == 0 {
			result.Outcome = OutcomeCompleted
			result.Success = true
			result.FinalText = resp.Text
			return result, nil
		}

		// Loop detection runs on the log including the calls just issued.
		fresh, err := r.store.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		loopDetected := DetectLoop(fresh.Messages, r.cfg.LoopWindow)
		if loopDetected && loopWarned {
			result.Outcome = OutcomeFailed
			result.FinalText = "Stopped: the same tool calls were repeating without progress."
			return result, nil
		}

		results := r.runBatch(ctx, sessionID, resp.ToolCalls)

		batchFailed := false
		for i, res := range results {
			result.ToolCalls = append(result.ToolCalls, CallRecord{
				Name: res.Name, IsError: res.IsError, Elapsed: res.Elapsed,
			})
			if res.IsError {
				batchFailed = true
			}
			if !res.IsError {
				if path := touchedPath(resp.ToolCalls[i]); path != "" {
					touched[path] = true
				}
			}
			content := TruncateToolOutput(res.Content, res.Name)
			msg := session.NewToolMessage(res.ToolCallID, content, res.IsError)
			if err := r.store.AppendMessage(ctx, sessionID, msg); err != nil {
				return nil, err
			}
		}

		// The corrective hint goes after the batch results so every tool
		// message still directly follows its assistant message.
		if loopDetected {
			loopWarned = true
			r.log.Warn("repeating tool calls detected", "session", sessionID)
			hint := session.NewSystemMessage("You are repeating the same tool calls. Step back, summarize what you know, and take a different action.")
			if err := r.store.AppendMessage(ctx, sessionID, hint); err != nil {
				return nil, err
			}
		}

		if batchFailed {
			consecutiveErrors++
			if consecutiveErrors >= r.cfg.MaxConsecutiveErrors {
				result.Outcome = OutcomeFailed
				result.FinalText = fmt.Sprintf("Stopped after %d consecutive iterations with tool failures.", consecutiveErrors)
				return result, nil
			}
			hint := session.NewSystemMessage("One or more tool calls failed. Read the error output, fix the arguments or choose a different tool, and avoid repeating the failing call unchanged.")
			if err := r.store.AppendMessage(ctx, sessionID, hint); err != nil {
				return nil, err
			}
		} else {
			consecutiveErrors = 0
		}
	}

	result.Outcome = OutcomeIterationLimit
	result.FinalText = fmt.Sprintf("Stopped after reaching the %d iteration limit.", r.cfg.MaxIterations)
	return result, nil
}

func (r *Runner) complete(ctx context.Context, sess *session.Session) (*llm.Response, error) {
	req := llm.Request{
		Model:    r.cfg.Model,
		Provider: r.cfg.Provider,
		Messages: session.ToLLMMessages(sess.Messages),
		Tools:    r.registry.Definitions(),
	}
	return r.client.Complete(ctx, req)
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Command agentd runs the coding agent, either as a Telegram bot or as a
// one-shot task from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/martinemde/agentd/agent"
	"github.com/martinemde/agentd/approval"
	"github.com/martinemde/agentd/config"
	"github.com/martinemde/agentd/gateway"
	"github.com/martinemde/agentd/llm"
	"github.com/martinemde/agentd/session"
	"github.com/martinemde/agentd/tools"
	"github.com/martinemde/agentd/workspace"
)

func main() {
	configPath := flag.String("config", "agentd.yaml", "path to the configuration file")
	workspaceDir := flag.String("workspace", "", "workspace root (overrides the config file)")
	task := flag.String("task", "", "run a single task from the command line and exit")
	flag.Parse()

	if err := run(*configPath, *workspaceDir, *task); err != nil {
		fmt.Fprintln(os.Stderr, "agentd:", err)
		os.Exit(1)
	}
}

func run(configPath, workspaceDir, task string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if workspaceDir != "" {
		cfg.WorkspaceDir = workspaceDir
	}

	log := newLogger(cfg.LogLevel)

	ws, err := workspace.New(cfg.WorkspaceDir, cfg.SandboxPolicy)
	if err != nil {
		return err
	}

	store, err := session.NewFileStore(cfg.SessionDir)
	if err != nil {
		return err
	}
	store.SetMaxHistory(cfg.MaxHistory)

	registry := tools.NewRegistry()
	tools.RegisterCoreTools(registry, ws)
	tools.RegisterGitTools(registry, ws)
	tools.RegisterHTTPTool(registry)
	registry.SetPolicy(tools.Policy{Allow: cfg.ToolsAllow, Deny: cfg.ToolsDeny})

	client, err := newLLMClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	approver := approval.NewManager()

	runner := agent.NewRunner(store, registry, approver, client, ws, agent.Config{
		Model:                cfg.Model,
		Provider:             cfg.Provider,
		MaxIterations:        cfg.MaxIterations,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		ApprovalPolicy:       cfg.ApprovalPolicy,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if task != "" {
		return runOnce(ctx, runner, task, log)
	}

	token, err := cfg.TelegramToken()
	if err != nil {
		return err
	}
	gw, err := gateway.New(token, runner, approver, cfg.Telegram.AllowedUserIDs, log)
	if err != nil {
		return err
	}
	// Approval prompts go to the chat that started the task.
	approver.SetNotifier(gw.NotifyApproval(ctx))

	gw.Run(ctx)
	return nil
}

// runOnce executes a single task against a local session and prints the
// result, for use without a chat gateway.
func runOnce(ctx context.Context, runner *agent.Runner, task string, log *slog.Logger) error {
	result, err := runner.Run(ctx, task, "cli:local", "cli")
	if err != nil {
		return err
	}
	fmt.Println(result.FinalText)
	if len(result.FilesTouched) > 0 {
		fmt.Println("\nFiles changed:")
		for _, f := range result.FilesTouched {
			fmt.Println(" ", f)
		}
	}
	log.Info("task finished", "outcome", result.Outcome,
		"iterations", result.Iterations, "tokens", result.Usage.TotalTokens)
	if !result.Success {
		return fmt.Errorf("task did not complete: %s", result.Outcome)
	}
	return nil
}

// newLLMClient selects the native adapter for anthropic and the gollm
// adapter for everything else, with retries layered as middleware.
func newLLMClient(cfg config.Config) (*llm.Client, error) {
	apiKey, err := cfg.APIKey()
	if err != nil {
		return nil, err
	}

	var adapter llm.ProviderAdapter
	switch cfg.Provider {
	case "anthropic":
		adapter = llm.NewAnthropicAdapter(apiKey, cfg.Model)
	default:
		adapter, err = llm.NewGollmAdapter(cfg.Provider, apiKey, llm.WithModel(cfg.Model))
		if err != nil {
			return nil, fmt.Errorf("create %s adapter: %w", cfg.Provider, err)
		}
	}

	return llm.NewClient(
		llm.WithProvider(cfg.Provider, adapter),
		llm.WithMiddleware(llm.RetryMiddleware(llm.DefaultRetryPolicy())),
	), nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// Package gateway connects the agent runner to a Telegram chat: incoming
// messages become tasks, progress events become throttled status updates,
// and approval requests become prompts the operator answers with commands.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/martinemde/agentd/agent"
	"github.com/martinemde/agentd/approval"
)

// Gateway is the Telegram front end. The workspace is shared, so tasks
// from all chats are serialized; a chat sending a task while another is
// running gets told to wait.
type Gateway struct {
	bot      *bot.Bot
	runner   *agent.Runner
	approver *approval.Manager
	allowed  map[int64]bool
	log      *slog.Logger

	runMu sync.Mutex
}

// New creates a Gateway and registers its handlers. An empty allowedUsers
// list admits everyone.
func New(token string, runner *agent.Runner, approver *approval.Manager, allowedUsers []int64, log *slog.Logger) (*Gateway, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	g := &Gateway{
		runner:   runner,
		approver: approver,
		allowed:  make(map[int64]bool, len(allowedUsers)),
		log:      log,
	}
	for _, id := range allowedUsers {
		g.allowed[id] = true
	}

	b, err := bot.New(token, bot.WithDefaultHandler(g.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	g.bot = b
	return g, nil
}

// Run starts long polling and blocks until the context ends.
func (g *Gateway) Run(ctx context.Context) {
	g.log.Info("telegram gateway started")
	g.bot.Start(ctx)
}

func (g *Gateway) handleUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	msg := update.Message
	if len(g.allowed) > 0 && (msg.From == nil || !g.allowed[msg.From.ID]) {
		g.log.Warn("rejected message from unauthorized user", "chat", msg.Chat.ID)
		return
	}

	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.HasPrefix(text, "/reset"):
		g.handleReset(ctx, msg)
	case strings.HasPrefix(text, "/cancel"):
		g.handleCancel(ctx, msg)
	case strings.HasPrefix(text, "/approve"):
		g.handleDecision(ctx, msg, text, true)
	case strings.HasPrefix(text, "/deny"):
		g.handleDecision(ctx, msg, text, false)
	case strings.HasPrefix(text, "/"):
		g.send(ctx, msg.Chat.ID, "Commands: /reset, /cancel, /approve <id>, /deny <id> [reason]")
	default:
		g.handleTask(ctx, msg, text)
	}
}

func chatKey(chatID int64) string {
	return fmt.Sprintf("telegram:%d", chatID)
}

func (g *Gateway) handleReset(ctx context.Context, msg *models.Message) {
	if err := g.runner.Reset(ctx, chatKey(msg.Chat.ID)); err != nil {
		g.send(ctx, msg.Chat.ID, "Reset failed: "+err.Error())
		return
	}
	g.send(ctx, msg.Chat.ID, "Session cleared.")
}

func (g *Gateway) handleCancel(ctx context.Context, msg *models.Message) {
	if err := g.runner.Cancel(ctx, chatKey(msg.Chat.ID)); err != nil {
		g.send(ctx, msg.Chat.ID, "Cancel failed: "+err.Error())
		return
	}
	g.send(ctx, msg.Chat.ID, "Cancelling after the current step.")
}

func (g *Gateway) handleDecision(ctx context.Context, msg *models.Message, text string, approve bool) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		g.send(ctx, msg.Chat.ID, "Usage: /approve <id> or /deny <id> [reason]")
		return
	}
	id := fields[1]
	var err error
	if approve {
		err = g.approver.Approve(id)
	} else {
		reason := strings.Join(fields[2:], " ")
		err = g.approver.Reject(id, reason)
	}
	if err != nil {
		g.send(ctx, msg.Chat.ID, "No pending request with that id.")
		return
	}
	g.send(ctx, msg.Chat.ID, "Recorded.")
}

// handleTask runs one task, relaying progress and the final result.
func (g *Gateway) handleTask(ctx context.Context, msg *models.Message, task string) {
	if !g.runMu.TryLock() {
		g.send(ctx, msg.Chat.ID, "A task is already running. Send /cancel to stop it.")
		return
	}
	defer g.runMu.Unlock()

	userID := ""
	if msg.From != nil {
		userID = fmt.Sprintf("%d", msg.From.ID)
	}

	emitter := agent.NewEmitter(chatKey(msg.Chat.ID), 0)
	g.runner.SetEmitter(emitter)
	defer g.runner.SetEmitter(nil)

	done := make(chan struct{})
	go g.relayProgress(ctx, msg.Chat.ID, emitter, done)

	result, err := g.runner.Run(ctx, task, chatKey(msg.Chat.ID), userID)
	emitter.Close()
	<-done

	if err != nil {
		g.send(ctx, msg.Chat.ID, "Error: "+err.Error())
		return
	}
	g.send(ctx, msg.Chat.ID, renderResult(result))
}

// relayProgress forwards item events as throttled status messages so a
// chatty run does not flood the chat.
func (g *Gateway) relayProgress(ctx context.Context, chatID int64, emitter *agent.Emitter, done chan<- struct{}) {
	defer close(done)
	throttle := NewThrottle(defaultProgressInterval)

	for ev := range emitter.Events() {
		if ev.Kind != agent.EventItemCompleted {
			continue
		}
		tool, _ := ev.Data["tool"].(string)
		outcome, _ := ev.Data["outcome"].(string)
		line := fmt.Sprintf("%s %s", tool, outcome)
		if flushed, ok := throttle.Add(line); ok {
			g.send(ctx, chatID, strings.Join(flushed, "\n"))
		}
	}
	if rest := throttle.Flush(); len(rest) > 0 {
		g.send(ctx, chatID, strings.Join(rest, "\n"))
	}
}

func renderResult(res *agent.Result) string {
	var sb strings.Builder
	if res.FinalText != "" {
		sb.WriteString(res.FinalText)
	} else {
		sb.WriteString(string(res.Outcome))
	}
	if len(res.FilesTouched) > 0 {
		sb.WriteString("\n\nFiles changed:\n")
		for _, f := range res.FilesTouched {
			fmt.Fprintf(&sb, "  %s\n", f)
		}
	}
	fmt.Fprintf(&sb, "\n(%d tool calls, %d tokens)", len(res.ToolCalls), res.Usage.TotalTokens)
	return sb.String()
}

func (g *Gateway) send(ctx context.Context, chatID int64, text string) {
	_, err := g.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		g.log.Error("send message", "chat", chatID, "error", err)
	}
}

// NotifyApproval renders an approval request into the chat identified by
// the session's chat key. Wire it as the approval manager's notifier.
func (g *Gateway) NotifyApproval(ctx context.Context) func(approval.Request) {
	return func(req approval.Request) {
		chatID, ok := parseChatKey(req.ChatKey)
		if !ok {
			g.log.Warn("approval request without a chat binding", "request", req.ID)
			return
		}
		text := fmt.Sprintf("Approval needed (%s risk):\n%s\n\n/approve %s\n/deny %s <reason>",
			req.Risk, req.Summary, req.ID, req.ID)
		g.send(ctx, chatID, text)
	}
}

func parseChatKey(key string) (int64, bool) {
	var chatID int64
	if _, err := fmt.Sscanf(key, "telegram:%d", &chatID); err != nil {
		return 0, false
	}
	return chatID, true
}

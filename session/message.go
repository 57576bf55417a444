// Package session holds the durable per-conversation state: the message
// log, lifecycle status, token counters, and the stores that persist them.
package session

import (
	"time"

	"github.com/martinemde/agentd/llm"
)

// Role identifies who produced a message in the session log.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn in the session log.
//
// Invariant: a tool message references a tool-call id emitted by the
// immediately preceding assistant message. The log is append-only except
// for the bounded trim in the store, which preserves the leading system
// message.
type Message struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []llm.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// NewSystemMessage creates a system Message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, Timestamp: time.Now().UTC()}
}

// NewUserMessage creates a user Message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: time.Now().UTC()}
}

// NewAssistantMessage creates an assistant Message carrying the model's
// text and any tool-call requests.
func NewAssistantMessage(content string, calls []llm.ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls, Timestamp: time.Now().UTC()}
}

// NewToolMessage creates a tool Message answering one tool call.
func NewToolMessage(toolCallID, content string, isError bool) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID, IsError: isError, Timestamp: time.Now().UTC()}
}

// ToLLMMessages converts the session log into the provider-facing model.
func ToLLMMessages(log []Message) []llm.Message {
	out := make([]llm.Message, 0, len(log))
	for _, m := range log {
		out = append(out, llm.Message{
			Role:       llm.Role(m.Role),
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
			IsError:    m.IsError,
		})
	}
	return out
}

// Trim bounds the log to max messages. The leading system message, if
// present, survives every trim; the oldest non-system messages are dropped
// first. A max of zero or less means no trimming.
func Trim(log []Message, max int) []Message {
	if max <= 0 || len(log) <= max {
		return log
	}
	if log[0].Role == RoleSystem {
		keep := max - 1
		tail := log[len(log)-keep:]
		out := make([]Message, 0, max)
		out = append(out, log[0])
		out = append(out, tail...)
		return out
	}
	return append([]Message(nil), log[len(log)-max:]...)
}

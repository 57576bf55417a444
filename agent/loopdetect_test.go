package agent

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/martinemde/agentd/llm"
	"github.com/martinemde/agentd/session"
)

func assistantCall(name, args string) session.Message {
	return session.NewAssistantMessage("", []llm.ToolCall{{
		ID: "c", Name: name, Arguments: json.RawMessage(args),
	}})
}

func TestDetectLoopRepeatedSingleCall(t *testing.T) {
	var log []session.Message
	for i := 0; i < 6; i++ {
		log = append(log, assistantCall("read_file", `{"file_path":"a.txt"}`))
	}
	if !DetectLoop(log, 6) {
		t.Error("six identical calls should be detected as a loop")
	}
}

func TestDetectLoopAlternatingPair(t *testing.T) {
	var log []session.Message
	for i := 0; i < 3; i++ {
		log = append(log, assistantCall("read_file", `{"file_path":"a.txt"}`))
		log = append(log, assistantCall("grep", `{"pattern":"x"}`))
	}
	if !DetectLoop(log, 6) {
		t.Error("an alternating pair should be detected as a loop")
	}
}

func TestDetectLoopDistinctCalls(t *testing.T) {
	var log []session.Message
	for i := 0; i < 6; i++ {
		log = append(log, assistantCall("read_file", fmt.Sprintf(`{"file_path":"f%d.txt"}`, i)))
	}
	if DetectLoop(log, 6) {
		t.Error("distinct arguments must not be detected as a loop")
	}
}

func TestDetectLoopTooFewCalls(t *testing.T) {
	log := []session.Message{
		assistantCall("read_file", `{"file_path":"a.txt"}`),
		assistantCall("read_file", `{"file_path":"a.txt"}`),
	}
	if DetectLoop(log, 6) {
		t.Error("fewer calls than the window must never count as a loop")
	}
}

func TestDetectLoopIgnoresNonAssistantMessages(t *testing.T) {
	var log []session.Message
	for i := 0; i < 6; i++ {
		log = append(log, assistantCall("glob", `{"pattern":"*.go"}`))
		log = append(log, session.NewToolMessage("c", "out", false))
	}
	if !DetectLoop(log, 6) {
		t.Error("interleaved tool results must not hide the loop")
	}
}

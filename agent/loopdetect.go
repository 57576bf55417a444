package agent

import (
	"crypto/sha256"
	"fmt"

	"github.com/martinemde/agentd/session"
)

// defaultLoopWindow is how many recent tool calls are inspected for a
// repeating pattern.
const defaultLoopWindow = 6

// callSignature hashes a tool call into a comparable token.
func callSignature(name string, arguments []byte) string {
	h := sha256.Sum256(arguments)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// recentCallSignatures walks the log backwards collecting up to count
// tool-call signatures, returned in chronological order.
func recentCallSignatures(log []session.Message, count int) []string {
	var sigs []string
	for i := len(log) - 1; i >= 0 && len(sigs) < count; i-- {
		msg := log[i]
		if msg.Role != session.RoleAssistant {
			continue
		}
		for j := len(msg.ToolCalls) - 1; j >= 0 && len(sigs) < count; j-- {
			tc := msg.ToolCalls[j]
			sigs = append(sigs, callSignature(tc.Name, tc.Arguments))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop reports whether the last windowSize tool calls repeat a
// pattern of length 1, 2, or 3. Fewer than windowSize calls never count
// as a loop.
func DetectLoop(log []session.Message, windowSize int) bool {
	if windowSize <= 0 {
		windowSize = defaultLoopWindow
	}
	sigs := recentCallSignatures(log, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 {
			continue
		}
		pattern := sigs[:patternLen]
		match := true
		for i := patternLen; i < windowSize && match; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if sigs[i+j] != pattern[j] {
					match = false
					break
				}
			}
		}
		if match {
			return true
		}
	}
	return false
}

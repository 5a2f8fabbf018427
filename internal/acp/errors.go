package acp

import (
	"fmt"
	"strings"
	"time"
)

// ProcessSpawnError reports a failure to start the agent subprocess.
type ProcessSpawnError struct {
	Command string
	Err     error
}

func (e *ProcessSpawnError) Error() string {
	return fmt.Sprintf("failed to spawn agent %q: %v", e.Command, e.Err)
}

func (e *ProcessSpawnError) Unwrap() error { return e.Err }

// HandshakeError reports a failed initialize/newSession exchange. It
// carries the tail of the agent's diagnostic stream and, when the
// failure matches a known pattern, a hint at the likely cause.
type HandshakeError struct {
	Err        error
	StderrTail string
	Hint       string
}

func (e *HandshakeError) Error() string {
	msg := fmt.Sprintf("agent handshake failed: %v", e.Err)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	if tail := strings.TrimSpace(e.StderrTail); tail != "" {
		msg += "\nagent stderr:\n" + tail
	}
	return msg
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// handshakeHint matches failure text against known patterns and
// returns a human-readable hint, or "".
func handshakeHint(failure, stderrTail string) string {
	combined := strings.ToLower(failure + "\n" + stderrTail)
	if strings.Contains(combined, "internal error") {
		return "the agent reported an internal error; this usually means a broken tool or MCP server configuration"
	}
	return ""
}

// PromptTimeoutError reports that a prompt exceeded its overall deadline.
type PromptTimeoutError struct {
	After time.Duration
}

func (e *PromptTimeoutError) Error() string {
	return fmt.Sprintf("prompt timed out after %s", e.After)
}

// PromptNoOutputTimeoutError reports that the agent went silent for
// longer than the no-output deadline.
type PromptNoOutputTimeoutError struct {
	After time.Duration
}

func (e *PromptNoOutputTimeoutError) Error() string {
	return fmt.Sprintf("prompt produced no output for %s", e.After)
}

// PromptCancelledError reports a cancelled prompt that produced no
// output. Manual distinguishes a user-requested abort from a cancel
// issued elsewhere (agent side, timeout path).
type PromptCancelledError struct {
	Manual bool
}

func (e *PromptCancelledError) Error() string {
	if e.Manual {
		return "prompt aborted by user"
	}
	return "prompt was cancelled"
}

// ConcurrentPromptError reports a runPrompt call made while another
// prompt was already in flight. The call is rejected with no state
// change.
type ConcurrentPromptError struct{}

func (e *ConcurrentPromptError) Error() string {
	return "a prompt is already in flight"
}

package acp

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// invocation tracks one in-flight prompt from issue to settlement.
type invocation struct {
	id    string
	start time.Time

	mu           sync.Mutex
	buf          strings.Builder
	chunks       int
	firstChunk   time.Time
	lastActivity time.Time
	settled      bool
	resultText   string
	resultErr    error
	onChunk      func(string)

	// done is closed exactly once, when the invocation settles.
	done chan struct{}
}

func newInvocation(onChunk func(string)) *invocation {
	now := time.Now()
	return &invocation{
		id:           uuid.NewString(),
		start:        now,
		lastActivity: now,
		onChunk:      onChunk,
		done:         make(chan struct{}),
	}
}

// touch records protocol or diagnostic-stream activity; the no-output
// timer measures silence from the last touch.
func (inv *invocation) touch() {
	inv.mu.Lock()
	inv.lastActivity = time.Now()
	inv.mu.Unlock()
}

func (inv *invocation) sinceActivity() time.Duration {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return time.Since(inv.lastActivity)
}

// deliver appends a message-content fragment and forwards it to the
// chunk callback. Fragments arriving after settlement are dropped.
func (inv *invocation) deliver(text string) {
	inv.mu.Lock()
	if inv.settled {
		inv.mu.Unlock()
		return
	}
	now := time.Now()
	if inv.chunks == 0 {
		inv.firstChunk = now
	}
	inv.chunks++
	inv.buf.WriteString(text)
	inv.lastActivity = now
	onChunk := inv.onChunk
	inv.mu.Unlock()

	if onChunk != nil {
		onChunk(text)
	}
}

func (inv *invocation) text() string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.buf.String()
}

// settle resolves the invocation. Only the first caller wins; later
// calls (a timeout firing after the prompt already resolved, a process
// exit racing a timer) are no-ops.
func (inv *invocation) settle(text string, err error) bool {
	inv.mu.Lock()
	if inv.settled {
		inv.mu.Unlock()
		return false
	}
	inv.settled = true
	inv.resultText = text
	inv.resultErr = err
	inv.mu.Unlock()
	close(inv.done)
	return true
}

func (inv *invocation) result() (string, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.resultText, inv.resultErr
}

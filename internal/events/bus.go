// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (session runtime, message
// queue, bridge) to subscribers (WebSocket handler, MQTT publisher). The
// bus is nil-safe: calling Publish on a nil *Bus is a no-op, so
// components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceSession identifies events from the agent session runtime.
	SourceSession = "session"
	// SourceQueue identifies events from the message queue.
	SourceQueue = "queue"
	// SourceBridge identifies events from the chat bridge.
	SourceBridge = "bridge"
)

// Kind constants describe the type of event within a source.
const (
	// KindStateChange signals a session state transition.
	// Data: from, to.
	KindStateChange = "state_change"
	// KindSessionReady signals a completed handshake.
	// Data: session_id, pid, elapsed_ms.
	KindSessionReady = "session_ready"
	// KindHandshakeFailed signals a failed session establishment.
	// Data: error, stderr_tail.
	KindHandshakeFailed = "handshake_failed"
	// KindProcessExit signals the agent subprocess exited.
	// Data: pid, error.
	KindProcessExit = "process_exit"
	// KindPromptStart signals the beginning of a prompt turn.
	// Data: prompt_id, prompt_len.
	KindPromptStart = "prompt_start"
	// KindPromptComplete signals the end of a prompt turn.
	// Data: prompt_id, stop_reason, output_len, elapsed_ms.
	KindPromptComplete = "prompt_complete"
	// KindPromptTimeout signals a prompt turn hit a deadline.
	// Data: prompt_id, timeout_type ("overall" or "no_output").
	KindPromptTimeout = "prompt_timeout"
	// KindPromptCancelled signals a prompt turn was cancelled.
	// Data: prompt_id, manual.
	KindPromptCancelled = "prompt_cancelled"

	// KindEnqueued signals a message entered the queue.
	// Data: item_id, depth.
	KindEnqueued = "enqueued"
	// KindProcessed signals a queue item finished processing.
	// Data: item_id, ok, duration_ms.
	KindProcessed = "processed"

	// KindContextQueued signals an out-of-band note was stored for later.
	// Data: note_len.
	KindContextQueued = "context_queued"
	// KindContextFlushed signals stored notes were delivered to a session.
	// Data: count.
	KindContextFlushed = "context_flushed"
	// KindReplySent signals an outbound reply finished delivery.
	// Data: item_id, chunks, total_len.
	KindReplySent = "reply_sent"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full; drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

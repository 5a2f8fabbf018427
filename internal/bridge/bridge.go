// Package bridge connects inbound chat messages to the agent runtime.
// Messages are serialized through a single-flight queue, run as prompts
// against the agent session, and the response is delivered back through
// the chat platform in markdown-safe chunks, streaming live when the
// platform supports editable messages.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/skaldbot/skald/internal/acp"
	"github.com/skaldbot/skald/internal/ctxqueue"
	"github.com/skaldbot/skald/internal/deliver"
	"github.com/skaldbot/skald/internal/events"
	"github.com/skaldbot/skald/internal/msgqueue"
)

// handleTimeout bounds how long a single inbound message may be
// processed (prompt + response delivery).
const handleTimeout = 15 * time.Minute

// ChatContext is one inbound message plus the platform operations
// needed to answer it. Implemented by the chat-platform adapter.
type ChatContext interface {
	// Text returns the user's message text.
	Text() string
	// StartTyping shows a typing indicator and returns a stop function.
	// Both are best-effort.
	StartTyping() (stop func())
	// SendText sends a discrete message to the originating chat.
	SendText(ctx context.Context, text string) error
}

// LiveMessenger is the optional editable-message surface. Platforms
// that support it get incremental streaming; the bridge detects it by
// type assertion on the ChatContext.
type LiveMessenger interface {
	StartLive(ctx context.Context, initial string) (handle string, err error)
	UpdateLive(ctx context.Context, handle, text string) error
	FinalizeLive(ctx context.Context, handle, text string) error
	RemoveMessage(ctx context.Context, handle string) error
}

// AgentRuntime abstracts the session runtime for testability. The real
// implementation is *acp.Runtime.
type AgentRuntime interface {
	RunPrompt(ctx context.Context, text string, onChunk func(string)) (string, error)
	AppendContext(text string) bool
	SchedulePrewarm(reason string)
}

// BridgeConfig holds the dependencies for a Bridge.
type BridgeConfig struct {
	Runtime AgentRuntime
	// Store persists context notes that could not be injected live.
	// May be nil, in which case undeliverable context is dropped.
	Store          *ctxqueue.Store
	MaxMessageLen  int
	StreamInterval time.Duration
	Logger         *slog.Logger
	Bus            *events.Bus
}

// Bridge routes chat messages through the agent runtime, one at a time.
type Bridge struct {
	runtime        AgentRuntime
	store          *ctxqueue.Store
	maxMessageLen  int
	streamInterval time.Duration
	logger         *slog.Logger
	bus            *events.Bus
	queue          *msgqueue.Queue
}

// NewBridge creates a chat-to-agent bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		runtime:        cfg.Runtime,
		store:          cfg.Store,
		maxMessageLen:  cfg.MaxMessageLen,
		streamInterval: cfg.StreamInterval,
		logger:         logger,
		bus:            cfg.Bus,
	}
	b.queue = msgqueue.New(msgqueue.Config{
		Process: b.process,
		Logger:  logger,
		Bus:     cfg.Bus,
	})
	return b
}

// QueueDepth returns the number of messages waiting to be processed.
func (b *Bridge) QueueDepth() int {
	return b.queue.Depth()
}

// HandleMessage enqueues an inbound message. Processing happens in
// arrival order, one message at a time; the returned item settles when
// this message has been fully processed.
func (b *Bridge) HandleMessage(ctx context.Context, chat ChatContext) *msgqueue.Item {
	b.logger.Info("chat message received", "message_len", len(chat.Text()))
	return b.queue.Enqueue(ctx, chat)
}

// process runs one queued message through the agent and delivers the
// response. Queue-item failures are local; the queue keeps draining.
func (b *Bridge) process(ctx context.Context, item *msgqueue.Item) error {
	chat, ok := item.Payload.(ChatContext)
	if !ok {
		return fmt.Errorf("unexpected queue payload %T", item.Payload)
	}

	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	stopTyping := chat.StartTyping()

	live, hasLive := chat.(LiveMessenger)

	// The streamer sends deltas; the live message wants the full
	// accumulated text, so the send callback tracks what has gone out.
	var (
		liveMu     sync.Mutex
		liveHandle string
		liveSent   strings.Builder
	)
	var streamer *deliver.Streamer
	if hasLive {
		streamer = deliver.NewStreamer(deliver.StreamerConfig{
			Interval: b.streamInterval,
			MaxLen:   b.maxMessageLen,
			Logger:   b.logger,
			Send: func(delta string) error {
				liveMu.Lock()
				defer liveMu.Unlock()
				liveSent.WriteString(delta)
				if liveHandle == "" {
					h, err := live.StartLive(ctx, liveSent.String())
					if err != nil {
						return err
					}
					liveHandle = h
					return nil
				}
				return live.UpdateLive(ctx, liveHandle, liveSent.String())
			},
		})
	}

	onChunk := func(fragment string) {
		if streamer != nil {
			streamer.Append(fragment)
		}
	}

	reply, err := b.runtime.RunPrompt(ctx, chat.Text(), onChunk)
	if streamer != nil {
		streamer.Finalize()
	}

	// Stop typing regardless of outcome.
	stopTyping()

	liveMu.Lock()
	handle := liveHandle
	liveMu.Unlock()

	if err != nil {
		b.logger.Error("message processing failed", "error", err)
		b.sendFailure(chat, live, handle, err)
		return err
	}

	b.deliverReply(ctx, chat, live, handle, reply)
	b.flushPending()
	return nil
}

// deliverReply sends the final response. When a live message exists it
// is finalized with the first chunk; overflow chunks go out as discrete
// messages.
func (b *Bridge) deliverReply(ctx context.Context, chat ChatContext, live LiveMessenger, handle, reply string) {
	chunks := deliver.SplitMessage(reply, b.maxMessageLen)
	if len(chunks) == 0 {
		return
	}

	rest := chunks
	if handle != "" {
		if err := live.FinalizeLive(ctx, handle, chunks[0]); err != nil {
			b.logger.Warn("live message finalize failed", "error", err)
		} else {
			rest = chunks[1:]
		}
	}
	for _, chunk := range rest {
		if err := chat.SendText(ctx, chunk); err != nil {
			b.logger.Error("reply send failed", "error", err)
			return
		}
	}

	b.logger.Info("reply delivered", "reply_len", len(reply), "chunks", len(chunks))
	b.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceBridge,
		Kind:      events.KindReplySent,
		Data:      map[string]any{"reply_len": len(reply), "chunks": len(chunks)},
	})
}

// sendFailure renders a human-readable failure to the originating chat.
// An orphaned live message is removed first so the error does not
// appear as an edit of partial output.
func (b *Bridge) sendFailure(chat ChatContext, live LiveMessenger, handle string, err error) {
	// Fresh context: the handler context may be the reason we failed.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if handle != "" {
		if rmErr := live.RemoveMessage(ctx, handle); rmErr != nil {
			b.logger.Debug("live message removal failed", "error", rmErr)
		}
	}
	if sendErr := chat.SendText(ctx, friendlyFailure(err)); sendErr != nil {
		b.logger.Error("failure message send failed", "error", sendErr)
	}
}

// friendlyFailure maps an internal error to a short user-facing line.
func friendlyFailure(err error) string {
	var (
		timeoutErr  *acp.PromptTimeoutError
		noOutErr    *acp.PromptNoOutputTimeoutError
		cancelErr   *acp.PromptCancelledError
		concurErr   *acp.ConcurrentPromptError
		handshake   *acp.HandshakeError
		spawnFailed *acp.ProcessSpawnError
	)
	switch {
	case errors.As(err, &timeoutErr):
		return "The agent took too long to respond and was stopped."
	case errors.As(err, &noOutErr):
		return "The agent stopped responding and was cancelled."
	case errors.As(err, &cancelErr):
		if cancelErr.Manual {
			return "Okay, stopped."
		}
		return "The agent cancelled the request before producing any output."
	case errors.As(err, &concurErr):
		return "Still working on the previous message; this one was dropped."
	case errors.As(err, &handshake), errors.As(err, &spawnFailed):
		return "The agent could not be started. Check the server logs for details."
	default:
		return deliver.Truncate("Something went wrong: "+err.Error(), 300)
	}
}

// QueueContext delivers out-of-band context (a finished background job,
// a scheduled reminder) to the agent. If the session cannot take it
// right now, the note is persisted and flushed into the next available
// session.
func (b *Bridge) QueueContext(source, text string) error {
	if b.runtime.AppendContext(text) {
		b.logger.Debug("context injected live", "source", source, "len", len(text))
		return nil
	}

	if b.store == nil {
		b.logger.Warn("context dropped, no session and no durable queue", "source", source)
		return nil
	}
	if err := b.store.Add(source, text); err != nil {
		return fmt.Errorf("queue context: %w", err)
	}
	b.logger.Info("context queued for next session", "source", source, "len", len(text))
	b.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceQueue,
		Kind:      events.KindContextQueued,
		Data:      map[string]any{"source": source, "len": len(text)},
	})
	b.runtime.SchedulePrewarm("queued context")
	return nil
}

// flushPending injects any persisted context notes into the session.
// Notes are combined into a single injection and removed only after the
// runtime accepts them.
func (b *Bridge) flushPending() {
	if b.store == nil {
		return
	}
	notes, err := b.store.Pending()
	if err != nil {
		b.logger.Warn("pending context read failed", "error", err)
		return
	}
	if len(notes) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString("Context updates that arrived while you were unavailable:\n")
	for _, n := range notes {
		fmt.Fprintf(&sb, "\n[%s at %s]\n%s\n", n.Source, n.QueuedAt.Format(time.RFC3339), n.Text)
	}

	if !b.runtime.AppendContext(sb.String()) {
		return
	}
	for _, n := range notes {
		if err := b.store.Remove(n.ID); err != nil {
			b.logger.Warn("context note removal failed", "id", n.ID, "error", err)
		}
	}
	b.logger.Info("queued context flushed", "notes", len(notes))
	b.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceQueue,
		Kind:      events.KindContextFlushed,
		Data:      map[string]any{"notes": len(notes)},
	})
}

// Run watches session lifecycle events and flushes queued context
// whenever a fresh session comes up. Blocks until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	if b.bus == nil {
		<-ctx.Done()
		return
	}
	sub := b.bus.Subscribe(16)
	defer b.bus.Unsubscribe(sub)

	b.logger.Info("bridge started")
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bridge shutting down")
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if evt.Kind == events.KindSessionReady {
				b.flushPending()
			}
		}
	}
}

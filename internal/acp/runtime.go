// Package acp manages the agent subprocess, its protocol session, and
// the single-prompt-at-a-time invocation lifecycle.
package acp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	acp "github.com/coder/acp-go-sdk"

	"github.com/skaldbot/skald/internal/config"
	"github.com/skaldbot/skald/internal/events"
)

// emptyResponseFallback is returned when a prompt completes normally
// but produced no visible text.
const emptyResponseFallback = "(no output)"

// stderrTailCapacity bounds the retained diagnostic stream excerpt.
const stderrTailCapacity = 8 * 1024

// RuntimeConfig holds dependencies for a Runtime.
type RuntimeConfig struct {
	Agent config.AgentConfig
	// BuildPrompt augments user text before it is sent (memory
	// injection). Nil sends text unchanged.
	BuildPrompt func(string) string
	// EnsureMemoryFile runs before each prompt when set; failures are
	// logged, not fatal.
	EnsureMemoryFile func() error
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Bus receives session lifecycle events. May be nil.
	Bus *events.Bus
}

// spawnFunc starts the agent and returns its process handle and
// protocol connection. Swapped out by tests.
type spawnFunc func(cfg config.AgentConfig, client acp.Client, tail *tailBuffer, onActivity func(), logger *slog.Logger) (procHandle, agentConn, error)

// Runtime owns the agent subprocess, the protocol connection, and the
// session id. All session fields are non-nil together or nil together;
// every mutation goes through setStateLocked, which validates the
// transition.
type Runtime struct {
	cfg              config.AgentConfig
	buildPrompt      func(string) string
	ensureMemoryFile func() error
	logger           *slog.Logger
	bus              *events.Bus
	spawn            spawnFunc

	promptTimeout   time.Duration
	noOutputTimeout time.Duration
	terminateGrace  time.Duration
	prewarmDelay    time.Duration

	mu           sync.Mutex
	state        State
	sessionID    acp.SessionId
	proc         procHandle
	conn         agentConn
	tail         *tailBuffer
	active       *invocation
	manualCancel bool

	// starting is non-nil while a handshake is in flight; concurrent
	// ensureSession callers wait on it instead of spawning again.
	starting chan struct{}
	startErr error

	prewarmTimer   *time.Timer
	prewarmRetries int

	promptsCompleted atomic.Uint64
	promptsFailed    atomic.Uint64
}

// NewRuntime creates a Runtime in the idle state.
func NewRuntime(cfg RuntimeConfig) *Runtime {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		cfg:              cfg.Agent,
		buildPrompt:      cfg.BuildPrompt,
		ensureMemoryFile: cfg.EnsureMemoryFile,
		logger:           logger,
		bus:              cfg.Bus,
		spawn:            spawnAgent,
		promptTimeout:    cfg.Agent.PromptTimeout(),
		noOutputTimeout:  cfg.Agent.NoOutputTimeout(),
		terminateGrace:   cfg.Agent.TerminateGrace(),
		prewarmDelay:     cfg.Agent.Prewarm.RetryDelay(),
	}
}

// spawnAgent starts the real subprocess and wires the SDK connection
// over its stdio.
func spawnAgent(cfg config.AgentConfig, client acp.Client, tail *tailBuffer, onActivity func(), logger *slog.Logger) (procHandle, agentConn, error) {
	proc, err := startProcess(cfg, tail, onActivity, logger)
	if err != nil {
		return nil, nil, err
	}
	conn := acp.NewClientSideConnection(client, proc.Stdin(), proc.Stdout())
	conn.SetLogger(logger)
	return proc, conn, nil
}

// State returns the current session state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Status is a point-in-time snapshot for the ops surfaces.
type Status struct {
	State            string `json:"state"`
	SessionID        string `json:"session_id,omitempty"`
	PID              int    `json:"pid,omitempty"`
	PromptsCompleted uint64 `json:"prompts_completed"`
	PromptsFailed    uint64 `json:"prompts_failed"`
}

// Status returns a snapshot of the runtime.
func (r *Runtime) Status() Status {
	r.mu.Lock()
	s := Status{
		State:     r.state.String(),
		SessionID: string(r.sessionID),
	}
	if r.proc != nil {
		s.PID = r.proc.PID()
	}
	r.mu.Unlock()
	s.PromptsCompleted = r.promptsCompleted.Load()
	s.PromptsFailed = r.promptsFailed.Load()
	return s
}

// setStateLocked validates and applies a state transition. Caller
// holds r.mu. Illegal transitions are logged and refused.
func (r *Runtime) setStateLocked(to State) bool {
	from := r.state
	if from == to {
		return true
	}
	if !from.canTransition(to) {
		r.logger.Error("illegal session state transition refused", "from", from, "to", to)
		return false
	}
	r.state = to
	r.logger.Debug("session state change", "from", from, "to", to)
	r.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceSession,
		Kind:      events.KindStateChange,
		Data:      map[string]any{"from": from.String(), "to": to.String()},
	})
	return true
}

// clearSessionLocked nils out all session fields together, preserving
// the all-or-nothing invariant. Caller holds r.mu and is responsible
// for terminating the process.
func (r *Runtime) clearSessionLocked() {
	r.sessionID = ""
	r.proc = nil
	r.conn = nil
	r.tail = nil
	r.active = nil
	r.manualCancel = false
}

// EnsureSession establishes a session if none exists. Idempotent: a
// healthy session returns immediately, and concurrent callers during a
// handshake all await the same in-flight attempt.
func (r *Runtime) EnsureSession(ctx context.Context) error {
	for {
		r.mu.Lock()
		switch r.state {
		case StateReady, StatePrompting:
			r.mu.Unlock()
			return nil

		case StateShuttingDown:
			r.mu.Unlock()
			return fmt.Errorf("session manager is shutting down")

		case StateStarting:
			ch := r.starting
			r.mu.Unlock()
			if ch == nil {
				continue
			}
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
			r.mu.Lock()
			err := r.startErr
			r.mu.Unlock()
			return err

		case StateIdle, StateError:
			if !r.setStateLocked(StateStarting) {
				r.mu.Unlock()
				continue
			}
			ch := make(chan struct{})
			r.starting = ch
			r.mu.Unlock()

			err := r.establish(ctx)

			r.mu.Lock()
			r.startErr = err
			r.starting = nil
			r.mu.Unlock()
			close(ch)
			return err
		}
	}
}

// establish spawns the agent and performs the initialize/newSession
// handshake. On success all session fields are stored together and the
// state becomes ready; on failure the process is torn down, all fields
// stay clear, and the state becomes error.
func (r *Runtime) establish(ctx context.Context) error {
	start := time.Now()
	tail := newTailBuffer(stderrTailCapacity)
	handler := &clientHandler{r: r}

	proc, conn, err := r.spawn(r.cfg, handler, tail, r.touchActivity, r.logger)
	if err != nil {
		r.failEstablish(err, tail)
		return err
	}

	_, err = conn.Initialize(ctx, acp.InitializeRequest{
		ProtocolVersion:    acp.ProtocolVersionNumber,
		ClientCapabilities: acp.ClientCapabilities{},
	})
	if err != nil {
		proc.Terminate(r.terminateGrace)
		herr := &HandshakeError{
			Err:        fmt.Errorf("initialize: %w", err),
			StderrTail: tail.String(),
			Hint:       handshakeHint(err.Error(), tail.String()),
		}
		r.failEstablish(herr, tail)
		return herr
	}

	sessResp, err := conn.NewSession(ctx, acp.NewSessionRequest{
		Cwd:        r.cfg.WorkDir,
		McpServers: []acp.McpServer{},
	})
	if err != nil {
		proc.Terminate(r.terminateGrace)
		herr := &HandshakeError{
			Err:        fmt.Errorf("new session: %w", err),
			StderrTail: tail.String(),
			Hint:       handshakeHint(err.Error(), tail.String()),
		}
		r.failEstablish(herr, tail)
		return herr
	}

	r.mu.Lock()
	if r.state != StateStarting {
		// Shutdown (or a forced reset) won the race while the
		// handshake was in flight. The session fields must stay clear;
		// the fresh process is ours to clean up.
		st := r.state
		r.mu.Unlock()
		proc.Terminate(r.terminateGrace)
		return fmt.Errorf("session discarded, runtime no longer starting (state %s)", st)
	}
	r.sessionID = sessResp.SessionId
	r.proc = proc
	r.conn = conn
	r.tail = tail
	r.setStateLocked(StateReady)
	r.prewarmRetries = 0
	r.mu.Unlock()

	go r.watchExit(proc)

	elapsed := time.Since(start)
	r.logger.Info("agent session established",
		"session_id", string(sessResp.SessionId), "pid", proc.PID(), "elapsed", elapsed)
	r.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceSession,
		Kind:      events.KindSessionReady,
		Data: map[string]any{
			"session_id": string(sessResp.SessionId),
			"pid":        proc.PID(),
			"elapsed_ms": elapsed.Milliseconds(),
		},
	})
	return nil
}

func (r *Runtime) failEstablish(err error, tail *tailBuffer) {
	r.mu.Lock()
	r.clearSessionLocked()
	r.setStateLocked(StateError)
	r.mu.Unlock()

	r.logger.Error("agent session establishment failed", "error", err)
	r.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceSession,
		Kind:      events.KindHandshakeFailed,
		Data:      map[string]any{"error": err.Error(), "stderr_tail": tail.String()},
	})
}

// watchExit resets the runtime when its process exits unexpectedly. An
// exit during a prompt settles the in-flight invocation as an error;
// either way the state lands back in idle and a prewarm is scheduled.
func (r *Runtime) watchExit(proc procHandle) {
	<-proc.Done()
	exitErr := proc.Err()

	r.mu.Lock()
	if r.proc != proc {
		// This session was already torn down; the exit is expected.
		r.mu.Unlock()
		return
	}
	if r.state == StateShuttingDown {
		r.mu.Unlock()
		return
	}
	pid := proc.PID()
	fromState := r.state
	inv := r.active
	r.clearSessionLocked()
	r.setStateLocked(StateIdle)
	r.mu.Unlock()

	r.logger.Warn("agent process exited unexpectedly",
		"pid", pid, "state", fromState, "error", exitErr)

	if inv != nil {
		r.promptsFailed.Add(1)
		inv.settle("", fmt.Errorf("agent process exited during prompt: %v", exitErr))
	}

	r.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceSession,
		Kind:      events.KindProcessExit,
		Data:      map[string]any{"pid": pid, "error": fmt.Sprint(exitErr)},
	})

	r.SchedulePrewarm("process exit")
}

// touchActivity forwards diagnostic-stream activity to the in-flight
// invocation, resetting its no-output window.
func (r *Runtime) touchActivity() {
	r.mu.Lock()
	inv := r.active
	r.mu.Unlock()
	if inv != nil {
		inv.touch()
	}
}

// RunPrompt sends text to the agent and returns the accumulated
// response. Message-content fragments stream to onChunk as they
// arrive. Rejected immediately if a prompt is already in flight.
func (r *Runtime) RunPrompt(ctx context.Context, text string, onChunk func(string)) (string, error) {
	r.mu.Lock()
	switch r.state {
	case StatePrompting:
		r.mu.Unlock()
		return "", &ConcurrentPromptError{}
	case StateShuttingDown:
		r.mu.Unlock()
		return "", fmt.Errorf("session manager is shutting down")
	}
	r.mu.Unlock()

	if err := r.EnsureSession(ctx); err != nil {
		r.SchedulePrewarm("prompt session failure")
		return "", err
	}

	if r.ensureMemoryFile != nil {
		if err := r.ensureMemoryFile(); err != nil {
			r.logger.Warn("memory file check failed", "error", err)
		}
	}
	prompt := text
	if r.buildPrompt != nil {
		prompt = r.buildPrompt(text)
	}

	r.mu.Lock()
	switch r.state {
	case StateReady:
	case StatePrompting:
		r.mu.Unlock()
		return "", &ConcurrentPromptError{}
	default:
		st := r.state
		r.mu.Unlock()
		return "", fmt.Errorf("session not available (state %s)", st)
	}
	inv := newInvocation(onChunk)
	r.active = inv
	r.setStateLocked(StatePrompting)
	conn, sid := r.conn, r.sessionID
	r.mu.Unlock()

	r.logger.Info("prompt started", "prompt_id", inv.id, "prompt_len", len(prompt))
	r.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceSession,
		Kind:      events.KindPromptStart,
		Data:      map[string]any{"prompt_id": inv.id, "prompt_len": len(prompt)},
	})

	return r.executePrompt(ctx, inv, conn, sid, prompt)
}

type promptOutcome struct {
	stop acp.StopReason
	err  error
}

// executePrompt issues the protocol prompt call and supervises it with
// two independent timers: a fixed overall deadline and a no-output
// deadline that restarts on any inbound notification or diagnostic
// activity.
func (r *Runtime) executePrompt(ctx context.Context, inv *invocation, conn agentConn, sid acp.SessionId, prompt string) (string, error) {
	rpcCtx, cancelRPC := context.WithCancel(context.Background())
	defer cancelRPC()

	resultCh := make(chan promptOutcome, 1)
	go func() {
		resp, err := conn.Prompt(rpcCtx, acp.PromptRequest{
			SessionId: sid,
			Prompt:    []acp.ContentBlock{acp.TextBlock(prompt)},
		})
		resultCh <- promptOutcome{stop: resp.StopReason, err: err}
	}()

	overallTimeout := r.promptTimeout
	noOutTimeout := r.noOutputTimeout
	overall := time.NewTimer(overallTimeout)
	defer overall.Stop()
	idle := time.NewTimer(noOutTimeout)
	defer idle.Stop()

	for {
		select {
		case out := <-resultCh:
			return r.resolveOutcome(inv, out)

		case <-overall.C:
			r.cancelBestEffort(conn, sid)
			return r.endPrompt(inv, "", &PromptTimeoutError{After: overallTimeout})

		case <-idle.C:
			// The timer fires on schedule; whether the agent was
			// actually silent is decided by the activity clock.
			if since := inv.sinceActivity(); since < noOutTimeout {
				idle.Reset(noOutTimeout - since)
				continue
			}
			r.cancelBestEffort(conn, sid)
			return r.endPrompt(inv, "", &PromptNoOutputTimeoutError{After: noOutTimeout})

		case <-inv.done:
			// Settled externally: process exit or shutdown already
			// reset the state.
			return inv.result()

		case <-ctx.Done():
			r.cancelBestEffort(conn, sid)
			return r.endPrompt(inv, "", ctx.Err())
		}
	}
}

// resolveOutcome applies the result policy: a cancelled turn with no
// output is a failure, a cancelled turn with partial text is returned
// as success, and an empty normal completion gets the fallback string.
func (r *Runtime) resolveOutcome(inv *invocation, out promptOutcome) (string, error) {
	if out.err != nil {
		return r.endPrompt(inv, "", fmt.Errorf("prompt call failed: %w", out.err))
	}

	text := inv.text()
	if out.stop == acp.StopReasonCancelled {
		manual := r.consumeManualCancel()
		if text == "" {
			return r.endPrompt(inv, "", &PromptCancelledError{Manual: manual})
		}
		r.logger.Info("prompt cancelled with partial output", "prompt_id", inv.id, "manual", manual, "len", len(text))
		return r.endPrompt(inv, text, nil)
	}

	if text == "" {
		text = emptyResponseFallback
	}
	return r.endPrompt(inv, text, nil)
}

// endPrompt settles the invocation and returns the state to ready.
// Late calls after an external settlement just report that result.
func (r *Runtime) endPrompt(inv *invocation, text string, err error) (string, error) {
	if !inv.settle(text, err) {
		return inv.result()
	}

	r.mu.Lock()
	if r.active == inv {
		r.active = nil
		if r.state == StatePrompting {
			r.setStateLocked(StateReady)
		}
	}
	r.mu.Unlock()

	elapsed := time.Since(inv.start)
	if err != nil {
		r.promptsFailed.Add(1)
		r.logger.Warn("prompt failed", "prompt_id", inv.id, "error", err, "elapsed", elapsed)
	} else {
		r.promptsCompleted.Add(1)
		r.logger.Info("prompt completed", "prompt_id", inv.id, "output_len", len(text), "elapsed", elapsed)
	}
	r.publishPromptEnd(inv, text, err, elapsed)
	return text, err
}

func (r *Runtime) publishPromptEnd(inv *invocation, text string, err error, elapsed time.Duration) {
	evt := events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceSession,
		Data:      map[string]any{"prompt_id": inv.id},
	}
	switch e := err.(type) {
	case nil:
		evt.Kind = events.KindPromptComplete
		evt.Data["output_len"] = len(text)
		evt.Data["elapsed_ms"] = elapsed.Milliseconds()
	case *PromptTimeoutError:
		evt.Kind = events.KindPromptTimeout
		evt.Data["timeout_type"] = "overall"
	case *PromptNoOutputTimeoutError:
		evt.Kind = events.KindPromptTimeout
		evt.Data["timeout_type"] = "no_output"
	case *PromptCancelledError:
		evt.Kind = events.KindPromptCancelled
		evt.Data["manual"] = e.Manual
	default:
		evt.Kind = events.KindPromptComplete
		evt.Data["error"] = err.Error()
	}
	r.bus.Publish(evt)
}

// cancelBestEffort sends a protocol cancel and ignores failures.
func (r *Runtime) cancelBestEffort(conn agentConn, sid acp.SessionId) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Cancel(ctx, acp.CancelNotification{SessionId: sid}); err != nil {
		r.logger.Debug("cancel notification failed", "error", err)
	}
}

// Cancel requests a manual abort of the in-flight prompt. Cooperative:
// the invocation settles only when the agent acknowledges with a
// cancelled result, or a timeout fires first.
func (r *Runtime) Cancel(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StatePrompting || r.conn == nil {
		r.mu.Unlock()
		return fmt.Errorf("no prompt in flight")
	}
	r.manualCancel = true
	conn, sid := r.conn, r.sessionID
	r.mu.Unlock()

	r.logger.Info("manual prompt abort requested")
	return conn.Cancel(ctx, acp.CancelNotification{SessionId: sid})
}

// consumeManualCancel reads and clears the sticky manual-abort flag.
func (r *Runtime) consumeManualCancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.manualCancel
	r.manualCancel = false
	return v
}

// AppendContext injects out-of-band context into a ready session as a
// fire-and-forget prompt turn. Returns false when no session is live
// or a prompt is in flight; the caller falls back to the durable
// context queue.
func (r *Runtime) AppendContext(text string) bool {
	r.mu.Lock()
	if r.state != StateReady || r.conn == nil {
		r.mu.Unlock()
		return false
	}
	inv := newInvocation(nil)
	r.active = inv
	r.setStateLocked(StatePrompting)
	conn, sid := r.conn, r.sessionID
	r.mu.Unlock()

	r.logger.Debug("injecting out-of-band context", "len", len(text))
	go func() {
		if _, err := r.executePrompt(context.Background(), inv, conn, sid, text); err != nil {
			r.logger.Warn("context injection failed", "error", err)
		}
	}()
	return true
}

// SchedulePrewarm establishes a session in the background so the next
// message is not penalized by a cold start. No-op when a session is
// healthy, a handshake is in flight, or a retry timer is already
// pending.
func (r *Runtime) SchedulePrewarm(reason string) {
	r.mu.Lock()
	switch r.state {
	case StateReady, StatePrompting, StateStarting, StateShuttingDown:
		r.mu.Unlock()
		return
	}
	if r.prewarmTimer != nil {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	go r.prewarm(reason)
}

func (r *Runtime) prewarm(reason string) {
	r.logger.Info("prewarming agent session", "reason", reason)
	err := r.EnsureSession(context.Background())
	if err == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.prewarmRetries++
	if r.prewarmRetries >= r.cfg.Prewarm.MaxRetries {
		r.logger.Warn("prewarm retries exhausted, waiting for next trigger",
			"retries", r.prewarmRetries, "error", err)
		r.prewarmRetries = 0
		return
	}
	if r.prewarmTimer != nil {
		return
	}
	delay := r.prewarmDelay
	r.logger.Info("prewarm failed, retrying",
		"retries", r.prewarmRetries, "delay", delay, "error", err)
	r.prewarmTimer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		r.prewarmTimer = nil
		r.mu.Unlock()
		r.SchedulePrewarm("retry")
	})
}

// Shutdown tears everything down: the in-flight invocation fails, the
// process gets a graceful terminate, and the state lands in idle.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	if r.state == StateShuttingDown {
		r.mu.Unlock()
		return
	}
	if !r.setStateLocked(StateShuttingDown) {
		r.mu.Unlock()
		return
	}
	if r.prewarmTimer != nil {
		r.prewarmTimer.Stop()
		r.prewarmTimer = nil
	}
	inv := r.active
	proc := r.proc
	r.clearSessionLocked()
	r.mu.Unlock()

	if inv != nil {
		inv.settle("", fmt.Errorf("session manager is shutting down"))
	}
	if proc != nil {
		proc.Terminate(r.terminateGrace)
	}

	r.mu.Lock()
	r.setStateLocked(StateIdle)
	r.mu.Unlock()
	r.logger.Info("session manager shut down")
}

// handleSessionUpdate demultiplexes an inbound notification: message
// content goes to the invocation's chunk callback, everything else
// only counts as activity.
func (r *Runtime) handleSessionUpdate(params acp.SessionNotification) error {
	r.mu.Lock()
	sid := r.sessionID
	inv := r.active
	r.mu.Unlock()

	if sid == "" || params.SessionId != sid {
		r.logger.Debug("notification for unknown session dropped", "session_id", string(params.SessionId))
		return nil
	}
	if inv == nil {
		return nil
	}
	inv.touch()

	u := params.Update
	switch {
	case u.AgentMessageChunk != nil:
		if u.AgentMessageChunk.Content.Text != nil {
			inv.deliver(u.AgentMessageChunk.Content.Text.Text)
		}
	case u.AgentThoughtChunk != nil:
		r.logger.Debug("agent thought fragment", "prompt_id", inv.id)
	case u.ToolCall != nil:
		r.logger.Debug("agent tool call", "prompt_id", inv.id)
	case u.ToolCallUpdate != nil:
		r.logger.Debug("agent tool call update", "prompt_id", inv.id)
	case u.Plan != nil:
		r.logger.Debug("agent plan update", "prompt_id", inv.id)
	}
	return nil
}

// answerPermission resolves an inbound permission request per the
// configured approval mode.
func (r *Runtime) answerPermission(params acp.RequestPermissionRequest) acp.RequestPermissionResponse {
	title := ""
	if params.ToolCall.Title != nil {
		title = *params.ToolCall.Title
	}

	switch r.cfg.ApprovalMode {
	case "deny":
		r.logger.Info("permission denied by policy", "tool", title)
		return acp.RequestPermissionResponse{Outcome: acp.NewRequestPermissionOutcomeCancelled()}

	case "first":
		if len(params.Options) > 0 {
			opt := params.Options[0]
			r.logger.Info("permission answered with first option", "tool", title, "option", opt.Name)
			return acp.RequestPermissionResponse{Outcome: acp.NewRequestPermissionOutcomeSelected(opt.OptionId)}
		}
		return acp.RequestPermissionResponse{Outcome: acp.NewRequestPermissionOutcomeCancelled()}

	default: // "auto"
		if id, ok := selectPermissionOption(params.Options,
			acp.PermissionOptionKindAllowAlways, acp.PermissionOptionKindAllowOnce); ok {
			r.logger.Info("permission auto-approved", "tool", title)
			return acp.RequestPermissionResponse{Outcome: acp.NewRequestPermissionOutcomeSelected(id)}
		}
		if len(params.Options) > 0 {
			return acp.RequestPermissionResponse{Outcome: acp.NewRequestPermissionOutcomeSelected(params.Options[0].OptionId)}
		}
		return acp.RequestPermissionResponse{Outcome: acp.NewRequestPermissionOutcomeCancelled()}
	}
}

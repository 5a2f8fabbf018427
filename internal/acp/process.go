package acp

import (
	"bufio"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/skaldbot/skald/internal/config"
)

// buildAgentArgs assembles the capability flags passed to the agent
// subprocess: approval mode, model override, and extra directories,
// followed by any user-configured arguments.
func buildAgentArgs(cfg config.AgentConfig) []string {
	var args []string
	if cfg.ApprovalMode != "" {
		args = append(args, "--approval-mode", cfg.ApprovalMode)
	}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	for _, dir := range cfg.IncludeDirs {
		args = append(args, "--add-dir", dir)
	}
	return append(args, cfg.Args...)
}

// procHandle abstracts the running agent subprocess so tests can
// substitute a fake.
type procHandle interface {
	PID() int
	Stdin() io.WriteCloser
	Stdout() io.Reader
	// Done is closed when the process exits, by any path.
	Done() <-chan struct{}
	// Err returns the exit error once Done is closed.
	Err() error
	// Terminate asks the process to exit, force-killing after grace.
	Terminate(grace time.Duration)
}

// agentProcess owns one spawned agent subprocess and its pipes.
type agentProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	logger *slog.Logger

	done    chan struct{}
	exitErr error
}

// startProcess spawns the agent and wires its stderr into the tail
// buffer. Each stderr line also counts as activity for the no-output
// timer.
func startProcess(cfg config.AgentConfig, tail *tailBuffer, onActivity func(), logger *slog.Logger) (*agentProcess, error) {
	cmd := exec.Command(cfg.Command, buildAgentArgs(cfg)...)
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &ProcessSpawnError{Command: cfg.Command, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ProcessSpawnError{Command: cfg.Command, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &ProcessSpawnError{Command: cfg.Command, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &ProcessSpawnError{Command: cfg.Command, Err: err}
	}

	p := &agentProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		logger: logger,
		done:   make(chan struct{}),
	}

	go p.drainStderr(stderr, tail, onActivity)
	go func() {
		p.exitErr = cmd.Wait()
		close(p.done)
	}()

	logger.Info("agent process started", "command", cfg.Command, "pid", cmd.Process.Pid)
	return p, nil
}

func (p *agentProcess) drainStderr(r io.Reader, tail *tailBuffer, onActivity func()) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		tail.Write([]byte(line + "\n"))
		p.logger.Debug("agent stderr", "line", line)
		if onActivity != nil {
			onActivity()
		}
	}
}

func (p *agentProcess) PID() int {
	if p.cmd.Process != nil {
		return p.cmd.Process.Pid
	}
	return 0
}

func (p *agentProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *agentProcess) Stdout() io.Reader     { return p.stdout }
func (p *agentProcess) Done() <-chan struct{} { return p.done }

func (p *agentProcess) Err() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}

func (p *agentProcess) Terminate(grace time.Duration) {
	select {
	case <-p.done:
		return
	default:
	}
	if p.cmd.Process == nil {
		return
	}

	// Closing stdin tells a well-behaved agent to wind down; the
	// signal covers the rest.
	_ = p.stdin.Close()
	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-p.done:
		p.logger.Info("agent process exited", "pid", p.PID(), "error", p.exitErr)
	case <-time.After(grace):
		p.logger.Warn("agent process did not exit within grace period, killing", "pid", p.PID())
		_ = p.cmd.Process.Kill()
		<-p.done
	}
}

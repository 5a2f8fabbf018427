package acp

import (
	"context"
	"fmt"

	acp "github.com/coder/acp-go-sdk"
)

// agentConn is the slice of the protocol connection the runtime uses.
// The real implementation is acp.ClientSideConnection.
type agentConn interface {
	Initialize(ctx context.Context, params acp.InitializeRequest) (acp.InitializeResponse, error)
	NewSession(ctx context.Context, params acp.NewSessionRequest) (acp.NewSessionResponse, error)
	Prompt(ctx context.Context, params acp.PromptRequest) (acp.PromptResponse, error)
	Cancel(ctx context.Context, params acp.CancelNotification) error
}

// clientHandler answers inbound protocol requests from the agent. It
// routes everything to the owning Runtime; one instance lives for the
// lifetime of one connection.
type clientHandler struct {
	r *Runtime
}

func (h *clientHandler) SessionUpdate(ctx context.Context, params acp.SessionNotification) error {
	return h.r.handleSessionUpdate(params)
}

func (h *clientHandler) RequestPermission(ctx context.Context, params acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	return h.r.answerPermission(params), nil
}

// File operations are answered as no-ops: the runtime advertises no
// filesystem capability, but a misbehaving agent asking anyway gets a
// harmless empty answer rather than a protocol error.

func (h *clientHandler) ReadTextFile(ctx context.Context, params acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	h.r.logger.Debug("agent requested file read, refusing", "path", params.Path)
	return acp.ReadTextFileResponse{}, nil
}

func (h *clientHandler) WriteTextFile(ctx context.Context, params acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	h.r.logger.Debug("agent requested file write, refusing", "path", params.Path)
	return acp.WriteTextFileResponse{}, nil
}

// Terminal support is not advertised and not implemented.

func (h *clientHandler) CreateTerminal(ctx context.Context, params acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error) {
	return acp.CreateTerminalResponse{}, fmt.Errorf("terminal support not available")
}

func (h *clientHandler) KillTerminalCommand(ctx context.Context, params acp.KillTerminalCommandRequest) (acp.KillTerminalCommandResponse, error) {
	return acp.KillTerminalCommandResponse{}, fmt.Errorf("terminal support not available")
}

func (h *clientHandler) TerminalOutput(ctx context.Context, params acp.TerminalOutputRequest) (acp.TerminalOutputResponse, error) {
	return acp.TerminalOutputResponse{}, fmt.Errorf("terminal support not available")
}

func (h *clientHandler) ReleaseTerminal(ctx context.Context, params acp.ReleaseTerminalRequest) (acp.ReleaseTerminalResponse, error) {
	return acp.ReleaseTerminalResponse{}, fmt.Errorf("terminal support not available")
}

func (h *clientHandler) WaitForTerminalExit(ctx context.Context, params acp.WaitForTerminalExitRequest) (acp.WaitForTerminalExitResponse, error) {
	return acp.WaitForTerminalExitResponse{}, fmt.Errorf("terminal support not available")
}

// selectPermissionOption picks an option id matching one of the
// preferred kinds, in order.
func selectPermissionOption(options []acp.PermissionOption, preferred ...acp.PermissionOptionKind) (acp.PermissionOptionId, bool) {
	for _, kind := range preferred {
		for _, opt := range options {
			if opt.Kind == kind {
				return opt.OptionId, true
			}
		}
	}
	return "", false
}

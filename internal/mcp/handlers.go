package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ctagard/dap-engine/internal/adapters"
	"github.com/ctagard/dap-engine/internal/dap"
	"github.com/ctagard/dap-engine/internal/errors"
	"github.com/ctagard/dap-engine/internal/version"
)

// Lifecycle handlers

func (s *Server) handleDebugLaunch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil && !s.session.State().Terminal() {
		return mcp.NewToolResultError("a debug session is already active; call debug_terminate first"), nil
	}

	launch := s.config.Launch
	launch.StopOnEntry = request.GetBool("stopOnEntry", launch.StopOnEntry)
	if launch.Program == "" {
		return mcp.NewToolResultError("no program configured; set launch.program in the configuration file"), nil
	}

	adapter, transport, cmd, err := adapters.Start(ctx, s.config.Debugger)
	if err != nil {
		return toolError(err), nil
	}

	sess := dap.NewSession(transport, dap.Options{
		ClientID:             version.Name,
		ClientName:           version.String(),
		RequestTimeout:       s.config.RequestTimeout.Std(),
		LaunchTimeout:        s.config.LaunchTimeout.Std(),
		EvaluateWhileRunning: s.config.EvaluateWhileRunning,
		TerminateDebuggee:    s.config.TerminateDebuggee,
	})
	sess.AttachProcess(cmd)

	if _, err := sess.Initialize(); err != nil {
		_ = sess.Terminate()
		return toolError(err), nil
	}
	if err := sess.Launch(adapter.BuildLaunchArgs(launch)); err != nil {
		_ = sess.Terminate()
		return toolError(err), nil
	}
	if err := sess.ConfigurationDone(); err != nil {
		_ = sess.Terminate()
		return toolError(err), nil
	}

	s.session = sess
	s.adapter = adapter

	result := map[string]interface{}{
		"sessionId": sess.ID,
		"state":     sess.State(),
		"program":   launch.Program,
	}
	if cmd != nil && cmd.Process != nil {
		result["pid"] = cmd.Process.Pid
	}
	if stop := sess.LastStop(); stop != nil {
		result["stopped"] = stop
	}
	return jsonResult(result)
}

func (s *Server) handleDebugTerminate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()

	if sess == nil {
		return mcp.NewToolResultError("no debug session; call debug_launch first"), nil
	}
	if err := sess.Terminate(); err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{
		"sessionId": sess.ID,
		"state":     sess.State(),
	})
}

func (s *Server) handleDebugState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	sess := s.session
	adapter := s.adapter
	s.mu.Unlock()

	if sess == nil {
		return jsonResult(map[string]interface{}{"state": "none"})
	}

	result := map[string]interface{}{
		"sessionId": sess.ID,
		"state":     sess.State(),
	}
	if adapter != nil {
		result["adapter"] = adapter.Kind()
	}
	if stop := sess.LastStop(); stop != nil {
		result["stopped"] = stop
	}
	return jsonResult(result)
}

// handleDebugLaunchConfig reports the configuration debug_launch will
// use. Read-only; it never touches the session.
func (s *Server) handleDebugLaunchConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg := s.config

	launch := map[string]interface{}{
		"program":     cfg.Launch.Program,
		"stopOnEntry": cfg.Launch.StopOnEntry,
	}
	if len(cfg.Launch.Args) > 0 {
		launch["args"] = cfg.Launch.Args
	}
	if cfg.Launch.Cwd != "" {
		launch["cwd"] = cfg.Launch.Cwd
	}
	if len(cfg.Launch.Env) > 0 {
		launch["env"] = cfg.Launch.Env
	}
	for key, value := range cfg.Launch.Extra {
		launch[key] = value
	}

	debugger := map[string]interface{}{
		"kind":      cfg.Debugger.Kind,
		"path":      cfg.Debugger.Path,
		"transport": cfg.Debugger.Transport,
	}
	if len(cfg.Debugger.Args) > 0 {
		debugger["args"] = cfg.Debugger.Args
	}

	result := map[string]interface{}{
		"debugger": debugger,
		"launch":   launch,
	}
	if len(cfg.SourceDirs) > 0 {
		result["sourceDirs"] = cfg.SourceDirs
	}
	return jsonResult(result)
}

// Breakpoint handlers

func (s *Server) handleDebugSetBreakpoint(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess := s.currentSession()
	if sess == nil {
		return noSessionError(), nil
	}

	file, err := request.RequireString("file")
	if err != nil {
		return mcp.NewToolResultError("file is required"), nil
	}
	line, err := request.RequireFloat("line")
	if err != nil {
		return mcp.NewToolResultError("line is required"), nil
	}
	condition := request.GetString("condition", "")

	path, err := s.resolveSourcePath(file)
	if err != nil {
		return toolError(err), nil
	}

	bp, err := sess.SetBreakpoint(path, int(line), condition)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(bp)
}

func (s *Server) handleDebugRemoveBreakpoint(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess := s.currentSession()
	if sess == nil {
		return noSessionError(), nil
	}

	file, err := request.RequireString("file")
	if err != nil {
		return mcp.NewToolResultError("file is required"), nil
	}
	line, err := request.RequireFloat("line")
	if err != nil {
		return mcp.NewToolResultError("line is required"), nil
	}

	path, err := s.resolveSourcePath(file)
	if err != nil {
		return toolError(err), nil
	}

	if err := sess.RemoveBreakpoint(path, int(line)); err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{
		"removed": fmt.Sprintf("%s:%d", path, int(line)),
	})
}

func (s *Server) handleDebugListBreakpoints(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()

	if sess == nil {
		return noSessionError(), nil
	}
	return jsonResult(map[string]interface{}{
		"breakpoints": sess.ListBreakpoints(),
	})
}

func (s *Server) handleDebugRemoveAllBreakpoints(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess := s.currentSession()
	if sess == nil {
		return noSessionError(), nil
	}
	if err := sess.RemoveAllBreakpoints(); err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{"removed": "all"})
}

// Execution handlers

func (s *Server) handleDebugContinue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handleResume(func(sess *dap.Session) error { return sess.Continue() })
}

func (s *Server) handleDebugNext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handleResume(func(sess *dap.Session) error { return sess.Next() })
}

func (s *Server) handleDebugStepIn(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handleResume(func(sess *dap.Session) error { return sess.StepIn() })
}

func (s *Server) handleDebugStepOut(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handleResume(func(sess *dap.Session) error { return sess.StepOut() })
}

// handleResume runs a resume operation and then waits briefly for the
// next stop so steppers get the new position in one round trip.
func (s *Server) handleResume(op func(*dap.Session) error) (*mcp.CallToolResult, error) {
	sess := s.currentSession()
	if sess == nil {
		return noSessionError(), nil
	}
	if err := op(sess); err != nil {
		return toolError(err), nil
	}

	result := map[string]interface{}{
		"state": sess.State(),
	}
	if stop, err := sess.WaitStopped(s.config.RequestTimeout.Std()); err == nil {
		result["state"] = sess.State()
		result["stopped"] = stop
	}
	return jsonResult(result)
}

// Inspection handlers

func (s *Server) handleDebugStack(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess := s.currentSession()
	if sess == nil {
		return noSessionError(), nil
	}
	frames, err := sess.StackFrames()
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{"frames": frames})
}

func (s *Server) handleDebugChangeFrame(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess := s.currentSession()
	if sess == nil {
		return noSessionError(), nil
	}
	frameID, err := request.RequireFloat("frameId")
	if err != nil {
		return mcp.NewToolResultError("frameId is required"), nil
	}
	frame, err := sess.ChangeFrame(int(frameID))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{"frame": frame})
}

func (s *Server) handleDebugEvaluate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess := s.currentSession()
	if sess == nil {
		return noSessionError(), nil
	}
	expression, err := request.RequireString("expression")
	if err != nil {
		return mcp.NewToolResultError("expression is required"), nil
	}
	result, err := sess.Evaluate(expression)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(result)
}

// Helpers

// resolveSourcePath makes a breakpoint path absolute. Relative paths
// are tried against each configured source dir, then the working
// directory; the file must exist.
func (s *Server) resolveSourcePath(file string) (string, error) {
	if filepath.IsAbs(file) {
		if _, err := os.Stat(file); err != nil {
			return "", errors.NotFound("source file", file)
		}
		return filepath.Clean(file), nil
	}

	candidates := make([]string, 0, len(s.config.SourceDirs)+1)
	for _, dir := range s.config.SourceDirs {
		candidates = append(candidates, filepath.Join(dir, file))
	}
	candidates = append(candidates, file)

	for _, candidate := range candidates {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		if _, err := os.Stat(abs); err == nil {
			return abs, nil
		}
	}
	return "", errors.NotFound("source file", file)
}

func noSessionError() *mcp.CallToolResult {
	return mcp.NewToolResultError("no active debug session; call debug_launch first")
}

// toolError renders an engine error as a tool failure, keeping the
// error code visible to the caller.
func toolError(err error) *mcp.CallToolResult {
	de := errors.FromError(err)
	return mcp.NewToolResultError(fmt.Sprintf("[%s] %s", de.Code, de.Error()))
}

func jsonResult(data interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// Package mcp exposes the debug engine through Model Context Protocol
// tools.
//
// The server drives a single debug session at a time against the
// configured adapter. Tools cover the whole session lifecycle:
//
// Lifecycle:
//   - debug_launch: Start the adapter and launch the configured program
//   - debug_terminate: Tear the session down
//   - debug_state: Report session state and last stop
//   - debug_launch_config: Show the configured launch settings
//
// Breakpoints:
//   - debug_set_breakpoint, debug_remove_breakpoint,
//     debug_list_breakpoints, debug_remove_all_breakpoints
//
// Execution:
//   - debug_continue, debug_next, debug_step_in, debug_step_out
//
// Inspection:
//   - debug_stack, debug_change_frame, debug_evaluate
package mcp

import (
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ctagard/dap-engine/internal/adapters"
	"github.com/ctagard/dap-engine/internal/config"
	"github.com/ctagard/dap-engine/internal/dap"
	"github.com/ctagard/dap-engine/internal/version"
)

// Server wraps the MCP server around one debug session.
type Server struct {
	mcpServer *server.MCPServer
	config    *config.Config

	mu      sync.Mutex
	session *dap.Session
	adapter adapters.Adapter
}

// NewServer creates the tool server for the given configuration.
func NewServer(cfg *config.Config) *Server {
	mcpServer := server.NewMCPServer(
		version.Name,
		version.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &Server{
		mcpServer: mcpServer,
		config:    cfg,
	}
	s.registerTools()
	return s
}

// ServeStdio serves MCP over stdin/stdout until the client hangs up.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// Close terminates the active session, if any.
func (s *Server) Close() {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session != nil {
		_ = session.Terminate()
	}
}

// currentSession returns the live session or nil when none is active.
func (s *Server) currentSession() *dap.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.session.State().Terminal() {
		return nil
	}
	return s.session
}

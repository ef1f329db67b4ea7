package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// registerTools registers the debug tool API.
func (s *Server) registerTools() {
	// Lifecycle
	s.registerDebugLaunch()
	s.registerDebugTerminate()
	s.registerDebugState()
	s.registerDebugLaunchConfig()

	// Breakpoints
	s.registerDebugSetBreakpoint()
	s.registerDebugRemoveBreakpoint()
	s.registerDebugListBreakpoints()
	s.registerDebugRemoveAllBreakpoints()

	// Execution control
	s.registerDebugContinue()
	s.registerDebugNext()
	s.registerDebugStepIn()
	s.registerDebugStepOut()

	// Inspection
	s.registerDebugStack()
	s.registerDebugChangeFrame()
	s.registerDebugEvaluate()
}

// Lifecycle tools

func (s *Server) registerDebugLaunch() {
	tool := mcp.NewTool("debug_launch",
		mcp.WithDescription("Start the configured debug adapter and launch the target program. With stopOnEntry=true the program pauses at its first line so breakpoints can be set before any code runs."),
		mcp.WithBoolean("stopOnEntry",
			mcp.Description("Stop at the program entry point (overrides the configured default)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugLaunch)
}

func (s *Server) registerDebugTerminate() {
	tool := mcp.NewTool("debug_terminate",
		mcp.WithDescription("End the debug session and tear down the adapter process. A new debug_launch can follow."),
	)
	s.mcpServer.AddTool(tool, s.handleDebugTerminate)
}

func (s *Server) registerDebugState() {
	tool := mcp.NewTool("debug_state",
		mcp.WithDescription("Report the session state (running, stopped, terminated...) and, when stopped, the stop reason and active thread."),
	)
	s.mcpServer.AddTool(tool, s.handleDebugState)
}

func (s *Server) registerDebugLaunchConfig() {
	tool := mcp.NewTool("debug_launch_config",
		mcp.WithDescription("Show the configured debugger and launch settings (read-only). Useful to check what debug_launch will run before starting a session."),
	)
	s.mcpServer.AddTool(tool, s.handleDebugLaunchConfig)
}

// Breakpoint tools

func (s *Server) registerDebugSetBreakpoint() {
	tool := mcp.NewTool("debug_set_breakpoint",
		mcp.WithDescription("Set or update a breakpoint at file:line. Setting the same line again replaces its condition. Returns whether the adapter verified the breakpoint."),
		mcp.WithString("file",
			mcp.Required(),
			mcp.Description("Source file path (absolute, or relative to a configured source dir)"),
		),
		mcp.WithNumber("line",
			mcp.Required(),
			mcp.Description("1-based line number"),
		),
		mcp.WithString("condition",
			mcp.Description("Optional condition expression; the breakpoint only triggers when it evaluates true"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugSetBreakpoint)
}

func (s *Server) registerDebugRemoveBreakpoint() {
	tool := mcp.NewTool("debug_remove_breakpoint",
		mcp.WithDescription("Remove the breakpoint at file:line."),
		mcp.WithString("file",
			mcp.Required(),
			mcp.Description("Source file path"),
		),
		mcp.WithNumber("line",
			mcp.Required(),
			mcp.Description("1-based line number"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugRemoveBreakpoint)
}

func (s *Server) registerDebugListBreakpoints() {
	tool := mcp.NewTool("debug_list_breakpoints",
		mcp.WithDescription("List all breakpoints grouped by file, including verification status."),
	)
	s.mcpServer.AddTool(tool, s.handleDebugListBreakpoints)
}

func (s *Server) registerDebugRemoveAllBreakpoints() {
	tool := mcp.NewTool("debug_remove_all_breakpoints",
		mcp.WithDescription("Remove every breakpoint in every file."),
	)
	s.mcpServer.AddTool(tool, s.handleDebugRemoveAllBreakpoints)
}

// Execution tools

func (s *Server) registerDebugContinue() {
	tool := mcp.NewTool("debug_continue",
		mcp.WithDescription("Resume execution until the next breakpoint or program end. Use debug_state to see where it stopped."),
	)
	s.mcpServer.AddTool(tool, s.handleDebugContinue)
}

func (s *Server) registerDebugNext() {
	tool := mcp.NewTool("debug_next",
		mcp.WithDescription("Step over: run to the next line in the current function."),
	)
	s.mcpServer.AddTool(tool, s.handleDebugNext)
}

func (s *Server) registerDebugStepIn() {
	tool := mcp.NewTool("debug_step_in",
		mcp.WithDescription("Step into the function call at the current line."),
	)
	s.mcpServer.AddTool(tool, s.handleDebugStepIn)
}

func (s *Server) registerDebugStepOut() {
	tool := mcp.NewTool("debug_step_out",
		mcp.WithDescription("Step out: run until the current function returns."),
	)
	s.mcpServer.AddTool(tool, s.handleDebugStepOut)
}

// Inspection tools

func (s *Server) registerDebugStack() {
	tool := mcp.NewTool("debug_stack",
		mcp.WithDescription("Get the stack trace of the stopped thread. Frame IDs feed debug_change_frame and debug_evaluate."),
	)
	s.mcpServer.AddTool(tool, s.handleDebugStack)
}

func (s *Server) registerDebugChangeFrame() {
	tool := mcp.NewTool("debug_change_frame",
		mcp.WithDescription("Select the stack frame later debug_evaluate calls run in."),
		mcp.WithNumber("frameId",
			mcp.Required(),
			mcp.Description("Frame ID from debug_stack"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugChangeFrame)
}

func (s *Server) registerDebugEvaluate() {
	tool := mcp.NewTool("debug_evaluate",
		mcp.WithDescription("Evaluate an expression in the selected stack frame while the program is stopped."),
		mcp.WithString("expression",
			mcp.Required(),
			mcp.Description("Expression to evaluate (e.g. 'len(items)', 'x + y')"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugEvaluate)
}

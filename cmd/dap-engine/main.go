package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ctagard/dap-engine/internal/config"
	"github.com/ctagard/dap-engine/internal/mcp"
	"github.com/ctagard/dap-engine/internal/version"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	help := flag.Bool("help", false, "Show help and exit")

	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	if *help {
		printHelp()
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	server := mcp.NewServer(cfg)

	// Shut the session down cleanly on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("Shutting down...")
		server.Close()
		os.Exit(0)
	}()

	log.Printf("%s starting...", version.String())
	if err := server.ServeStdio(); err != nil {
		server.Close()
		log.Fatalf("Server error: %v", err)
	}
	server.Close()
}

func printHelp() {
	fmt.Println(`dap-engine: Debug Adapter Protocol engine

Drives a Debug Adapter Protocol (DAP) debug adapter and exposes the
session over Model Context Protocol (MCP) tools on stdio.

USAGE:
    dap-engine [OPTIONS]

OPTIONS:
    -config <path>     Path to configuration file (JSON)
    -version           Show version and exit
    -help              Show this help message

SUPPORTED ADAPTERS:
    - debugpy (Python)
    - Delve (Go)
    - Any DAP adapter runnable as a command (stdio or TCP)

CONFIGURATION:
    {
        "debugger": {
            "kind": "debugpy",
            "debuggerPath": "python3",
            "transport": "stdio"
        },
        "launch": {
            "program": "app/main.py",
            "stopOnEntry": true
        },
        "sourceDirs": ["app"],
        "requestTimeout": "10s",
        "launchTimeout": "30s"
    }

TOOLS:
    Lifecycle:
        debug_launch            Launch the configured program
        debug_terminate         End the debug session
        debug_state             Report session state and last stop
        debug_launch_config     Show the configured launch settings

    Breakpoints:
        debug_set_breakpoint    Set or update a breakpoint
        debug_remove_breakpoint Remove one breakpoint
        debug_list_breakpoints  List all breakpoints
        debug_remove_all_breakpoints  Clear every breakpoint

    Execution:
        debug_continue          Resume until the next breakpoint
        debug_next              Step over
        debug_step_in           Step into
        debug_step_out          Step out

    Inspection:
        debug_stack             Stack trace of the stopped thread
        debug_change_frame      Select the evaluation frame
        debug_evaluate          Evaluate an expression`)
}

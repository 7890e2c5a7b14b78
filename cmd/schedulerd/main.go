// ============================================================================
// Lustre Scheduler - Main Entry Point
// ============================================================================
//
// File: cmd/schedulerd/main.go
// Purpose: Application entry point and CLI initialization
//
// Responsibilities:
//   1. Version Management - Inject build info via ldflags
//   2. Panic Recovery - Catch unexpected panics gracefully
//   3. CLI Setup - Build and configure Cobra command interface
//   4. Error Handling - Unified command execution error handling
//
// Version Injection:
//   Variables injected at build time via -ldflags:
//   go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
//
// Usage:
//   ./schedulerd --help                          # Show help
//   ./schedulerd --version                       # Show version
//   ./schedulerd run                              # Start the daemon
//   ./schedulerd set-state --type target --id 7 --state mounted
//   ./schedulerd run-jobs -f jobs.json
//   ./schedulerd status                           # View system status
//
// ============================================================================

package main

import (
	"fmt"
	"os"

	"github.com/whamcloud/lustre-scheduler/internal/cli"
)

// Build-time version injection via ldflags
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "1.0.0"   // Semantic version
	commit  = "dev"     // Git commit hash
	date    = "unknown" // Build timestamp
)

// main is the program entry point.
// Initializes CLI, handles panics, and executes commands.
func main() {
	// Global panic recovery
	// Prevents uncaught panics from crashing the process
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI()

	// Set version info for --version flag
	// Format: "1.0.0 (commit: abc123, built: 2026-01-01)"
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

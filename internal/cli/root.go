// Package cli implements the cupcake command-line front end: the
// `eval` subcommand that is the actual per-call integration point for
// a harness, plus the operator-facing trust/verify/inspect/init
// commands that manage a project's policy directories between calls.
package cli

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via -ldflags.
	Version = "dev"

	cfgHarness   string
	cfgPolicyDir string
	cfgJSON      bool

	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	warnColor    = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	dimColor     = color.New(color.Faint)
)

// Exit codes. ExitPolicyError is returned by `verify` for a policy
// directory that fails to compile; it is distinct from a general CLI
// usage error so CI can tell the two apart.
const (
	ExitSuccess     = 0
	ExitUsageError  = 1
	ExitPolicyError = 2
)

// RootCmd is cupcake's top-level command.
var RootCmd = &cobra.Command{
	Use:   "cupcake",
	Short: "Cupcake - deterministic policy enforcement for AI coding agents",
	Long: `Cupcake intercepts tool calls from an AI coding agent (Claude Code, Cursor,
Factory, OpenCode), evaluates them against your project's rulebook, and
returns an allow/deny/ask decision before the call is allowed to run.

Configuration can be provided via:
  - Command-line flags (highest priority)
  - Environment variables (CUPCAKE_GLOBAL_CONFIG, CUPCAKE_DEBUG_ROUTING)
  - rulebook.yml in the current project directory`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgHarness, "harness", "", "harness name (claude-code, cursor, factory, opencode)")
	RootCmd.PersistentFlags().StringVar(&cfgPolicyDir, "policy-dir", "", "project policy directory (default: ./policies)")
	RootCmd.PersistentFlags().BoolVar(&cfgJSON, "json", false, "emit machine-readable JSON for operator commands")

	RootCmd.AddCommand(evalCmd)
	RootCmd.AddCommand(trustCmd)
	RootCmd.AddCommand(verifyCmd)
	RootCmd.AddCommand(inspectCmd)
	RootCmd.AddCommand(initCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		printError(err.Error())
		os.Exit(ExitUsageError)
	}
}

func printSuccess(format string, args ...interface{}) {
	if cfgJSON {
		return
	}
	successColor.Fprintf(os.Stdout, "✓ "+format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	errorColor.Fprintf(os.Stderr, "✗ "+format+"\n", args...)
}

func printWarn(format string, args ...interface{}) {
	if cfgJSON {
		return
	}
	warnColor.Fprintf(os.Stderr, "⚠ "+format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	if cfgJSON {
		return
	}
	infoColor.Fprintf(os.Stdout, format+"\n", args...)
}

func printDim(format string, args ...interface{}) {
	if cfgJSON {
		return
	}
	dimColor.Fprintf(os.Stdout, format+"\n", args...)
}

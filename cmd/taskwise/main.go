// Package main provides the CLI entry point for the Taskwise assistant.
//
// Taskwise is a conversational task-management assistant: it connects a chat
// surface to an LLM provider (Anthropic or OpenAI) with task, project, and
// calendar tools, and records every turn in an append-only stream event log.
//
// # Basic Usage
//
// Start the server:
//
//	taskwise serve --config taskwise.yaml
//
// Chat from the terminal without a server:
//
//	taskwise chat
//
// Mint an API token for a user:
//
//	taskwise token --user alice
//
// # Environment Variables
//
//   - TASKWISE_CONFIG: Path to configuration file (default: taskwise.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - TODOIST_API_TOKEN: Todoist REST API token
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigName = "taskwise.yaml"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "taskwise",
		Short: "Taskwise - conversational task management assistant",
		Long: `Taskwise turns natural language into task, project, and calendar actions.

Supported LLM providers: Anthropic (Claude), OpenAI (GPT)
Available tools: Todoist tasks and projects, Google Calendar events, current time`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildTokenCmd(),
	)

	return rootCmd
}

// resolveConfigPath applies the TASKWISE_CONFIG override when the flag keeps
// its default.
func resolveConfigPath(path string) string {
	if path == "" || path == defaultConfigName {
		if env := os.Getenv("TASKWISE_CONFIG"); env != "" {
			return env
		}
	}
	if path == "" {
		return defaultConfigName
	}
	return path
}

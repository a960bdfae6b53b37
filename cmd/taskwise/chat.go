package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskwise/taskwise/internal/assistant"
	"github.com/taskwise/taskwise/internal/config"
	"github.com/taskwise/taskwise/internal/observability"
)

func buildChatCmd() *cobra.Command {
	var (
		configPath string
		userID     string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant from the terminal",
		Long: `Run an interactive chat session against a locally assembled assistant,
without starting the HTTP gateway. Uses the same configuration as serve;
when no config file exists, defaults apply and only the time tool is
available.`,
		Example: `  taskwise chat
  taskwise chat --config taskwise.yaml --user alice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, resolveConfigPath(configPath), userID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName,
		"Path to YAML configuration file")
	cmd.Flags().StringVarP(&userID, "user", "u", "local",
		"User id for the conversation")

	return cmd
}

func runChat(cmd *cobra.Command, configPath, userID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		cfg = config.Default()
	}
	// The REPL is single-user and short-lived; the in-memory backend avoids
	// touching the serve deployment's database.
	cfg.Streaming.Backend = "memory"
	cfg.Database.URL = ""

	logger := observability.NewLogger(observability.LogConfig{
		Level:  "warn",
		Format: "text",
		Output: os.Stderr,
	})

	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Taskwise chat. Type a message, or 'exit' to quit.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		message := strings.TrimSpace(scanner.Text())
		if message == "" {
			continue
		}
		if message == "exit" || message == "quit" {
			break
		}

		resp, err := a.service.ChatWithAI(ctx, userID, message, assistant.ChatOptions{})
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, resp.Response)
	}
	return scanner.Err()
}

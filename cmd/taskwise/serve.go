package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskwise/taskwise/internal/config"
	"github.com/taskwise/taskwise/internal/gateway"
	"github.com/taskwise/taskwise/internal/observability"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Taskwise gateway server",
		Long: `Start the Taskwise HTTP gateway.

The server will:
1. Load configuration from the specified file (or taskwise.yaml)
2. Open the session store and stream event log
3. Initialize the configured LLM provider and tools
4. Start the HTTP gateway with chat, stream, health, and metrics endpoints
5. Start the stream retention sweeper

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  taskwise serve

  # Start with custom config
  taskwise serve --config /etc/taskwise/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName,
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.sweeper.Start(); err != nil {
		return err
	}
	defer a.sweeper.Stop()

	auth := gateway.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	server, err := gateway.NewServer(a.service, a.events, a.bridge, auth, logger, a.metrics, gateway.ServerConfig{
		Host: cfg.Server.Host,
		Port: cfg.Server.HTTPPort,
	})
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

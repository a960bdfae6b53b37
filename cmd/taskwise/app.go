package main

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2"

	"github.com/taskwise/taskwise/internal/agent"
	"github.com/taskwise/taskwise/internal/agent/providers"
	"github.com/taskwise/taskwise/internal/assistant"
	"github.com/taskwise/taskwise/internal/config"
	"github.com/taskwise/taskwise/internal/gcal"
	"github.com/taskwise/taskwise/internal/infra"
	"github.com/taskwise/taskwise/internal/observability"
	"github.com/taskwise/taskwise/internal/sessions"
	"github.com/taskwise/taskwise/internal/stream"
	"github.com/taskwise/taskwise/internal/todoist"
	"github.com/taskwise/taskwise/internal/tools/calendar"
	"github.com/taskwise/taskwise/internal/tools/projects"
	"github.com/taskwise/taskwise/internal/tools/tasks"
	"github.com/taskwise/taskwise/internal/tools/timeutil"
)

const systemPrompt = `You are Taskwise, a task management assistant. You help the user manage
tasks, projects, and calendar events through the tools available to you.

Guidelines:
- Use getCurrentTime before interpreting relative dates like "tomorrow".
- Tool ids are opaque strings from previous tool results. Never invent them;
  use the list tools to look ids up.
- Confirm destructive actions (delete, complete) in your reply.
- Keep replies short and concrete.`

// app holds the assembled runtime: every collaborator the serve and chat
// commands need, plus the teardown list.
type app struct {
	service *assistant.Service
	events  stream.Log
	bridge  *stream.Bridge
	sweeper *stream.Sweeper
	logger  *observability.Logger
	metrics *observability.Metrics

	closers []func() error
}

// Close tears down in reverse assembly order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// buildApp assembles the full service graph from configuration.
func buildApp(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*app, error) {
	a := &app{
		logger:  logger,
		metrics: observability.NewMetrics(nil),
	}

	store, err := a.buildSessionStore(cfg)
	if err != nil {
		return nil, err
	}

	events, err := a.buildEventLog(cfg, store)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.events = events

	var legacy stream.LegacyStore
	if cfg.Streaming.DualWrite {
		// Legacy documents live beside the event log when it is durable.
		if sqliteLog, ok := events.(*stream.SQLiteLog); ok {
			legacy, err = stream.NewSQLiteLegacyStore(sqliteLog.DB())
			if err != nil {
				a.Close()
				return nil, err
			}
		} else {
			legacy = stream.NewMemoryLegacyStore()
		}
	}
	bridge, err := stream.NewBridge(events, legacy, stream.Flags{
		WriteEvents:    true,
		WriteLegacy:    cfg.Streaming.DualWrite,
		ReadFromEvents: cfg.Streaming.ReadFromEvents,
	}, logger, a.metrics)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.bridge = bridge

	sweeper, err := stream.NewSweeper(bridge, stream.RetentionConfig{
		RetentionDays: cfg.Streaming.RetentionDays,
		Schedule:      cfg.Streaming.RetentionSchedule,
	}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sweeper = sweeper

	provider, err := buildProvider(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	registry := agent.NewToolRegistry()
	registerTools(ctx, registry, cfg)

	breakers := infra.NewBreakerRegistry(infra.BreakerConfig{
		FailureThreshold: cfg.Agent.FailureThreshold,
		Window:           cfg.Agent.FailureWindow,
		OnStateChange: func(name string, open bool) {
			if open {
				a.metrics.BreakerOpens.WithLabelValues(name).Inc()
			}
		},
	})
	executor := agent.NewExecutor(registry, breakers, logger, a.metrics, agent.ExecutorConfig{
		PerToolTimeout: cfg.Agent.ToolTimeout,
	})

	orchestrator := agent.NewOrchestrator(provider, executor, store, logger, a.metrics, agent.OrchestratorConfig{
		MaxSteps: cfg.Agent.MaxSteps,
	})
	orchestrator.SetDefaultSystem(systemPrompt)

	locks := sessions.NewLockManager(0)
	service, err := assistant.NewService(orchestrator, store, locks, bridge, logger, assistant.ServiceConfig{})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.service = service

	return a, nil
}

func (a *app) buildSessionStore(cfg *config.Config) (sessions.Store, error) {
	if cfg.Database.URL == "" {
		return sessions.NewMemoryStore(), nil
	}

	pool := sessions.DefaultPostgresConfig()
	if cfg.Database.MaxConnections > 0 {
		pool.MaxOpenConns = cfg.Database.MaxConnections
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		pool.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	}
	store, err := sessions.NewPostgresStore(cfg.Database.URL, pool)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func (a *app) buildEventLog(cfg *config.Config, store sessions.Store) (stream.Log, error) {
	switch cfg.Streaming.Backend {
	case "memory":
		return stream.NewMemoryLog(), nil

	case "sqlite":
		log, err := stream.NewSQLiteLog(cfg.Database.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite event log: %w", err)
		}
		a.closers = append(a.closers, log.Close)
		return log, nil

	case "postgres":
		pg, ok := store.(*sessions.PostgresStore)
		if !ok {
			return nil, fmt.Errorf("postgres streaming backend requires database.url")
		}
		log, err := stream.NewPostgresLog(pg.DB())
		if err != nil {
			return nil, fmt.Errorf("postgres event log: %w", err)
		}
		return log, nil

	default:
		return nil, fmt.Errorf("unknown streaming backend %q", cfg.Streaming.Backend)
	}
}

func buildProvider(cfg *config.Config) (agent.LLMProvider, error) {
	name := cfg.LLM.DefaultProvider
	pc := cfg.LLM.Providers[name]

	switch name {
	case "anthropic":
		apiKey := pc.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       apiKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
		if err != nil {
			return nil, err
		}
		return provider, nil

	case "openai":
		apiKey := pc.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		provider, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       apiKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
		if err != nil {
			return nil, err
		}
		return provider, nil

	default:
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
}

// registerTools wires every enabled tool into the registry. The time tool is
// always present; integrations register only when configured, so the model
// never sees tools it cannot use.
func registerTools(ctx context.Context, registry *agent.ToolRegistry, cfg *config.Config) {
	registry.MustRegister(timeutil.NewNowTool(""))

	if cfg.Integrations.Todoist.Enabled {
		token := cfg.Integrations.Todoist.APIToken
		if token == "" {
			token = os.Getenv("TODOIST_API_TOKEN")
		}
		client := todoist.NewClient(todoist.Config{
			Token:   token,
			BaseURL: cfg.Integrations.Todoist.BaseURL,
		})
		registry.MustRegister(tasks.NewCreateTool(client))
		registry.MustRegister(tasks.NewUpdateTool(client))
		registry.MustRegister(tasks.NewCompleteTool(client))
		registry.MustRegister(tasks.NewDeleteTool(client))
		registry.MustRegister(tasks.NewListTool(client))
		registry.MustRegister(projects.NewCreateTool(client))
		registry.MustRegister(projects.NewListTool(client))
	}

	if cal := cfg.Integrations.Calendar; cal.Enabled {
		oc := oauth2.Config{
			ClientID:     cal.ClientID,
			ClientSecret: cal.ClientSecret,
			RedirectURL:  cal.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
				TokenURL: "https://oauth2.googleapis.com/token",
			},
		}
		source := oc.TokenSource(ctx, &oauth2.Token{
			AccessToken:  cal.AccessToken,
			RefreshToken: cal.RefreshToken,
		})
		client := gcal.NewClient(ctx, gcal.Config{
			TokenSource: source,
			BaseURL:     cal.BaseURL,
		})
		registry.MustRegister(calendar.NewCreateTool(client))
		registry.MustRegister(calendar.NewUpdateTool(client))
		registry.MustRegister(calendar.NewDeleteTool(client))
		registry.MustRegister(calendar.NewListTool(client))
	}
}

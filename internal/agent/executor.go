package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/taskwise/taskwise/internal/infra"
	"github.com/taskwise/taskwise/internal/observability"
	"github.com/taskwise/taskwise/pkg/models"
)

// User-facing failure templates. Known upstream failure modes map to fixed
// messages instead of leaking raw errors into conversation.
const (
	msgToolUnavailable = "This tool is temporarily unavailable. Please try again in a few minutes."
	msgNotConnected    = "This integration is not connected yet. Please connect it in settings and try again."
	msgAuthExpired     = "Your connection to this service has expired. Please reconnect it in settings."
	msgRateLimited     = "The service is receiving too many requests right now. Please try again shortly."
	msgUpstreamDown    = "The service is having trouble right now. Please try again later."
)

// ExecutorConfig configures tool execution behavior.
type ExecutorConfig struct {
	// Concurrency is the maximum number of concurrent tool executions.
	// Default: 4.
	Concurrency int

	// PerToolTimeout is the timeout for individual tool executions.
	// Default: 30 seconds.
	PerToolTimeout time.Duration
}

// DefaultExecutorConfig returns sensible defaults for tool execution.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Concurrency:    4,
		PerToolTimeout: 30 * time.Second,
	}
}

// Executor dispatches decided tool invocations and normalizes every outcome
// into a models.ToolResult. It never returns an error: failures are encoded
// as {IsError: true, Content: <user-safe message>}.
//
// A per-tool-name circuit breaker, shared process-wide, short-circuits calls
// to a tool that has failed repeatedly within the rolling window. The breaker
// registry is injected so a flaky external dependency is contained for all
// callers at once.
type Executor struct {
	registry *ToolRegistry
	breakers *infra.BreakerRegistry
	logger   *observability.Logger
	metrics  *observability.Metrics
	config   ExecutorConfig
}

// NewExecutor creates a tool executor. Registry and breakers are required;
// logger and metrics may be nil.
func NewExecutor(registry *ToolRegistry, breakers *infra.BreakerRegistry, logger *observability.Logger, metrics *observability.Metrics, config ExecutorConfig) *Executor {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Executor{
		registry: registry,
		breakers: breakers,
		logger:   logger,
		metrics:  metrics,
		config:   config,
	}
}

// Execute runs one tool invocation through the breaker gate, input
// validation, and dispatch. Always resolves to a result.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) models.ToolResult {
	start := time.Now()
	result := e.execute(ctx, call)

	if e.metrics != nil {
		status := "success"
		if result.IsError {
			status = "error"
		}
		e.metrics.ToolExecutionCounter.WithLabelValues(call.Name, status).Inc()
		e.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	}
	return result
}

func (e *Executor) execute(ctx context.Context, call models.ToolCall) models.ToolResult {
	breaker := e.breakers.Get(call.Name)
	if err := breaker.Allow(); err != nil {
		e.logger.Warn(ctx, "tool call short-circuited by open breaker", "tool_name", call.Name)
		if e.metrics != nil {
			e.metrics.ToolExecutionCounter.WithLabelValues(call.Name, "short_circuit").Inc()
		}
		return models.ToolResult{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Content:    msgToolUnavailable,
			IsError:    true,
		}
	}

	toolCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
	defer cancel()

	result, err := e.registry.Execute(toolCtx, call.Name, call.Input)
	if err != nil {
		breaker.RecordFailure()
		e.logger.Warn(ctx, "tool execution failed",
			"tool_name", call.Name, "tool_call_id", call.ID, "error", err)
		return models.ToolResult{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Content:    friendlyToolError(err.Error()),
			IsError:    true,
		}
	}

	if result == nil {
		breaker.RecordFailure()
		return models.ToolResult{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Content:    msgUpstreamDown,
			IsError:    true,
		}
	}

	if result.IsError {
		breaker.RecordFailure()
		return models.ToolResult{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Content:    friendlyToolError(result.Content),
			IsError:    true,
		}
	}

	breaker.RecordSuccess()
	return models.ToolResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    result.Content,
	}
}

// ExecuteAll executes a step's tool calls concurrently, bounded by the
// configured concurrency. Results are returned in input order; sibling calls
// within a step have no ordering dependency.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	if len(calls) == 0 {
		return nil
	}

	results := make([]models.ToolResult, len(calls))
	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = models.ToolResult{
					ToolCallID: tc.ID,
					ToolName:   tc.Name,
					Content:    "tool execution canceled",
					IsError:    true,
				}
				return
			}

			results[idx] = e.Execute(ctx, tc)
		}(i, call)
	}

	wg.Wait()
	return results
}

// friendlyToolError maps known upstream failure substrings to the fixed
// user-facing templates; everything else passes through as-is since tools
// already produce user-safe strings for their own domain errors.
func friendlyToolError(raw string) string {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "not connected") || strings.Contains(lower, "no account linked"):
		return msgNotConnected
	case strings.Contains(lower, "token expired") || strings.Contains(lower, "invalid_grant") ||
		strings.Contains(lower, "unauthorized") || strings.Contains(lower, "401"):
		return msgAuthExpired
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "429"):
		return msgRateLimited
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") ||
		strings.Contains(lower, "503") || strings.Contains(lower, "bad gateway") ||
		strings.Contains(lower, "service unavailable"):
		return msgUpstreamDown
	default:
		return raw
	}
}

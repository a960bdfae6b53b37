package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskwise/taskwise/internal/observability"
	"github.com/taskwise/taskwise/internal/sessions"
	"github.com/taskwise/taskwise/pkg/models"
)

// chunkBufferSize buffers the response channel so slow consumers do not stall
// the model stream.
const chunkBufferSize = 64

// OrchestratorConfig configures the bounded step loop.
type OrchestratorConfig struct {
	// MaxSteps limits the number of Plan iterations per run. Default: 8.
	MaxSteps int

	// MaxTokens is the default max tokens for model responses. Default: 4096.
	MaxTokens int

	// HistoryLimit bounds how many persisted messages are loaded as context.
	// Default: 50.
	HistoryLimit int
}

// DefaultOrchestratorConfig returns the default loop configuration.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxSteps:     8,
		MaxTokens:    4096,
		HistoryLimit: 50,
	}
}

// Orchestrator runs the bounded agent loop: normalize context, invoke the
// model, execute any proposed tools, fold results back into history, and
// repeat until the model answers in plain text or the run terminates.
//
// Terminal states are Finished (a Done chunk carrying the final text) and
// Failed (an Error chunk carrying a RunError). Steps are strictly sequential;
// only sibling tool calls within one step run in parallel.
type Orchestrator struct {
	provider   LLMProvider
	executor   *Executor
	sessions   sessions.Store
	normalizer *Normalizer
	logger     *observability.Logger
	metrics    *observability.Metrics
	config     OrchestratorConfig

	defaultModel  string
	defaultSystem string
}

// NewOrchestrator creates an orchestrator. Provider, executor, and session
// store are required; logger and metrics may be nil.
func NewOrchestrator(provider LLMProvider, executor *Executor, store sessions.Store, logger *observability.Logger, metrics *observability.Metrics, config OrchestratorConfig) *Orchestrator {
	defaults := DefaultOrchestratorConfig()
	if config.MaxSteps <= 0 {
		config.MaxSteps = defaults.MaxSteps
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaults.MaxTokens
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = defaults.HistoryLimit
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Orchestrator{
		provider:   provider,
		executor:   executor,
		sessions:   store,
		normalizer: NewNormalizer(logger),
		logger:     logger,
		metrics:    metrics,
		config:     config,
	}
}

// SetDefaultModel sets the model used when requests do not specify one.
func (o *Orchestrator) SetDefaultModel(model string) {
	o.defaultModel = model
}

// SetDefaultSystem sets the system prompt for all runs.
func (o *Orchestrator) SetDefaultSystem(system string) {
	o.defaultSystem = system
}

// runState tracks one orchestration run. It is created at run start and
// discarded at run end; nothing here leaks across runs.
type runState struct {
	history    []*models.Message
	guard      *LoopGuard
	priorTools []string
	step       int
}

// Run executes one orchestration run for the user message and streams
// results through the returned channel. The channel is closed when the run
// reaches a terminal state.
func (o *Orchestrator) Run(ctx context.Context, session *models.Session, msg *models.Message) (<-chan *ResponseChunk, error) {
	if o.provider == nil {
		return nil, ErrNoProvider
	}
	if session == nil {
		return nil, errors.New("session is nil")
	}
	if msg == nil {
		return nil, errors.New("message is nil")
	}
	if o.sessions == nil {
		return nil, errors.New("no session store configured")
	}

	chunks := make(chan *ResponseChunk, chunkBufferSize)
	go o.run(ctx, session, msg, chunks)
	return chunks, nil
}

func (o *Orchestrator) run(ctx context.Context, session *models.Session, msg *models.Message, chunks chan<- *ResponseChunk) {
	defer close(chunks)

	state := &runState{guard: NewLoopGuard()}

	// Start: load history, persist the inbound user message.
	history, err := o.sessions.GetHistory(ctx, session.ID, o.config.HistoryLimit)
	if err != nil {
		o.fail(chunks, PhaseStart, 0, "", err)
		return
	}
	state.history = history

	if err := o.persistUserMessage(ctx, session, msg); err != nil {
		o.fail(chunks, PhaseStart, 0, "", err)
		return
	}
	state.history = append(state.history, msg)

	for state.step = 0; state.step < o.config.MaxSteps; state.step++ {
		select {
		case <-ctx.Done():
			o.fail(chunks, PhasePlan, state.step, "", ctx.Err())
			return
		default:
		}

		// Guard checks run before the step does anything external.
		fingerprint := Fingerprint(session.UserID, msg.Content, state.history, state.priorTools)
		if err := state.guard.CheckAndRecord(fingerprint); err != nil {
			o.fail(chunks, PhasePlan, state.step, "loop_detected", err)
			return
		}

		text, toolCalls, err := o.planStep(ctx, state, msg, chunks)
		if err != nil {
			o.fail(chunks, PhasePlan, state.step, "", err)
			return
		}

		if len(toolCalls) == 0 {
			// Finished: commit the assistant's answer and stop.
			if err := o.persistAssistantMessage(ctx, session, state, text, nil); err != nil {
				o.fail(chunks, PhaseFinish, state.step, "", err)
				return
			}
			o.observeRun("finished", state.step+1)
			chunks <- &ResponseChunk{Done: true, FinalText: text, StepCount: state.step + 1}
			return
		}

		// Oscillation check before any tool executes.
		names := make([]string, len(toolCalls))
		for i, tc := range toolCalls {
			names[i] = tc.Name
		}
		if err := state.guard.RecordToolCalls(names); err != nil {
			o.fail(chunks, PhaseExecuteTools, state.step, "oscillation", err)
			return
		}

		if err := o.persistAssistantMessage(ctx, session, state, text, toolCalls); err != nil {
			o.fail(chunks, PhaseExecuteTools, state.step, "", err)
			return
		}
		for i := range toolCalls {
			chunks <- &ResponseChunk{ToolCall: &toolCalls[i]}
		}

		results := o.executor.ExecuteAll(ctx, toolCalls)
		results = reconcileResults(toolCalls, results)
		for i := range results {
			chunks <- &ResponseChunk{ToolResult: &results[i]}
		}

		if err := o.persistToolResults(ctx, session, state, results); err != nil {
			o.fail(chunks, PhaseExecuteTools, state.step, "", err)
			return
		}
		state.priorTools = names
	}

	o.fail(chunks, PhasePlan, state.step, "max_steps",
		fmt.Errorf("%w: %d steps", ErrMaxSteps, o.config.MaxSteps))
}

// planStep normalizes context and invokes the model, collecting streamed
// text and proposed tool calls. A model-invocation failure is retried once
// with the minimal fallback context before being treated as fatal.
func (o *Orchestrator) planStep(ctx context.Context, state *runState, msg *models.Message, chunks chan<- *ResponseChunk) (string, []models.ToolCall, error) {
	messages := o.normalizer.Normalize(ctx, state.history, nil)

	text, toolCalls, err := o.complete(ctx, messages, chunks)
	if err == nil {
		return text, toolCalls, nil
	}

	o.logger.Warn(ctx, "model invocation failed, retrying with fallback context",
		"step", state.step, "error", err)
	text, toolCalls, retryErr := o.complete(ctx, o.normalizer.Fallback(msg), chunks)
	if retryErr != nil {
		return "", nil, fmt.Errorf("model invocation failed after fallback retry: %w", retryErr)
	}
	return text, toolCalls, nil
}

func (o *Orchestrator) complete(ctx context.Context, messages []CompletionMessage, chunks chan<- *ResponseChunk) (string, []models.ToolCall, error) {
	req := &CompletionRequest{
		Model:     o.defaultModel,
		System:    o.defaultSystem,
		Messages:  messages,
		Tools:     o.executor.registry.AsLLMTools(),
		MaxTokens: o.config.MaxTokens,
	}

	start := time.Now()
	completion, err := o.provider.Complete(ctx, req)
	if err != nil {
		o.observeLLM(req.Model, "error", start)
		return "", nil, err
	}

	var toolCalls []models.ToolCall
	var text strings.Builder
	for chunk := range completion {
		if chunk.Error != nil {
			o.observeLLM(req.Model, "error", start)
			return "", nil, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			chunks <- &ResponseChunk{Text: chunk.Text}
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
	}

	o.observeLLM(req.Model, "success", start)
	return text.String(), toolCalls, nil
}

// reconcileResults drops any result whose ToolCallID does not match a call
// proposed in the same step. Defensive validation against result/call desync.
func reconcileResults(calls []models.ToolCall, results []models.ToolResult) []models.ToolResult {
	valid := make(map[string]struct{}, len(calls))
	for _, call := range calls {
		valid[call.ID] = struct{}{}
	}
	matched := make([]models.ToolResult, 0, len(results))
	for _, result := range results {
		if _, ok := valid[result.ToolCallID]; ok {
			matched = append(matched, result)
		}
	}
	return matched
}

func (o *Orchestrator) persistUserMessage(ctx context.Context, session *models.Session, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SessionID == "" {
		msg.SessionID = session.ID
	}
	if msg.Role == "" {
		msg.Role = models.RoleUser
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	return o.sessions.AppendMessage(ctx, session.ID, msg)
}

func (o *Orchestrator) persistAssistantMessage(ctx context.Context, session *models.Session, state *runState, text string, toolCalls []models.ToolCall) error {
	assistantMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      models.RoleAssistant,
		Content:   text,
		ToolCalls: toolCalls,
		CreatedAt: time.Now(),
	}
	if err := o.sessions.AppendMessage(ctx, session.ID, assistantMsg); err != nil {
		return err
	}
	state.history = append(state.history, assistantMsg)
	return nil
}

func (o *Orchestrator) persistToolResults(ctx context.Context, session *models.Session, state *runState, results []models.ToolResult) error {
	if len(results) == 0 {
		return nil
	}
	toolMsg := &models.Message{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		Role:        models.RoleTool,
		ToolResults: results,
		CreatedAt:   time.Now(),
	}
	if err := o.sessions.AppendMessage(ctx, session.ID, toolMsg); err != nil {
		return err
	}
	state.history = append(state.history, toolMsg)
	return nil
}

// fail emits the terminal error chunk. No partial assistant text from the
// failed step is committed to history, so the next turn starts clean.
func (o *Orchestrator) fail(chunks chan<- *ResponseChunk, phase RunPhase, step int, outcome string, cause error) {
	if outcome == "" {
		outcome = "error"
	}
	o.observeRun(outcome, step+1)
	chunks <- &ResponseChunk{Error: &RunError{Phase: phase, Step: step, Cause: cause}}
}

func (o *Orchestrator) observeRun(outcome string, steps int) {
	if o.metrics == nil {
		return
	}
	o.metrics.RunCounter.WithLabelValues(outcome).Inc()
	o.metrics.RunSteps.Observe(float64(steps))
}

func (o *Orchestrator) observeLLM(model, status string, start time.Time) {
	if o.metrics == nil {
		return
	}
	if model == "" {
		model = "default"
	}
	o.metrics.LLMRequestCounter.WithLabelValues(o.provider.Name(), model, status).Inc()
	if status == "success" {
		o.metrics.LLMRequestDuration.WithLabelValues(o.provider.Name(), model).Observe(time.Since(start).Seconds())
	}
}

// Package agent implements the bounded orchestration loop that turns a user
// message into model completions and tool executions until the model answers
// in plain text or the run is terminated.
package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors for orchestration runs.
var (
	// ErrMaxSteps indicates the loop exhausted its step ceiling without
	// converging. Distinct from a structural loop: the run made progress each
	// step but never finished.
	ErrMaxSteps = errors.New("maximum iterations reached")

	// ErrLoopDetected indicates a conversation-state fingerprint repeated
	// within a single run.
	ErrLoopDetected = errors.New("conversation loop detected")

	// ErrOscillation indicates the same tool was proposed too many times
	// within a single run without the conversation converging.
	ErrOscillation = errors.New("oscillation detected")

	// ErrNoProvider indicates no model provider is configured.
	ErrNoProvider = errors.New("no provider configured")

	// ErrToolNotFound indicates a requested tool doesn't exist.
	ErrToolNotFound = errors.New("tool not found")
)

// RunPhase represents a distinct phase of the orchestration run.
type RunPhase string

const (
	// PhaseStart covers history loading and guard reset.
	PhaseStart RunPhase = "start"

	// PhasePlan covers fingerprinting, normalization, and the model call.
	PhasePlan RunPhase = "plan"

	// PhaseExecuteTools covers the concurrent tool fan-out.
	PhaseExecuteTools RunPhase = "execute_tools"

	// PhaseFinish covers persisting the final assistant text.
	PhaseFinish RunPhase = "finish"
)

// RunError wraps a terminal orchestration failure with the phase and step at
// which it occurred.
type RunError struct {
	Phase   RunPhase
	Step    int
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("run error at %s (step %d): %s", e.Phase, e.Step, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("run error at %s (step %d): %v", e.Phase, e.Step, e.Cause)
	}
	return fmt.Sprintf("run error at %s (step %d)", e.Phase, e.Step)
}

// Unwrap returns the underlying error.
func (e *RunError) Unwrap() error {
	return e.Cause
}

package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/taskwise/taskwise/pkg/models"
)

const (
	// maxToolRepeats is the per-tool invocation ceiling within one run.
	maxToolRepeats = 3

	// fingerprintUserLen and fingerprintMsgLen bound the identifying prefixes
	// folded into the fingerprint.
	fingerprintUserLen = 12
	fingerprintMsgLen  = 48

	// fingerprintRoleDepth is how many trailing turns contribute their roles.
	fingerprintRoleDepth = 3
)

// LoopGuard detects structural cycles and tool oscillation within a single
// orchestration run. It is created at run start and discarded at run end;
// its state never leaks across runs or users.
//
// The fingerprint is a heuristic, not a correctness guarantee: it summarizes
// truncated state (message prefix, last few roles) and can in principle
// produce false positives for genuinely different requests that truncate
// identically, or miss loops that vary in untracked state. The formula is a
// tunable; adjust the truncation lengths above rather than the detection
// logic.
type LoopGuard struct {
	seen       map[string]struct{}
	toolCounts map[string]int
}

// NewLoopGuard creates a guard for one orchestration run.
func NewLoopGuard() *LoopGuard {
	return &LoopGuard{
		seen:       make(map[string]struct{}),
		toolCounts: make(map[string]int),
	}
}

// Fingerprint derives a deterministic state summary from the run inputs:
// truncated user id, truncated current message, history length, the role
// sequence of the last few turns, and the sorted set of tool names invoked
// in the prior step.
func Fingerprint(userID, userMessage string, history []*models.Message, priorTools []string) string {
	roles := make([]string, 0, fingerprintRoleDepth)
	start := len(history) - fingerprintRoleDepth
	if start < 0 {
		start = 0
	}
	for _, msg := range history[start:] {
		if msg == nil {
			continue
		}
		roles = append(roles, string(msg.Role))
	}

	tools := append([]string(nil), priorTools...)
	sort.Strings(tools)

	return fmt.Sprintf("%s|%s|%d|%s|%s",
		truncate(userID, fingerprintUserLen),
		truncate(userMessage, fingerprintMsgLen),
		len(history),
		strings.Join(roles, ","),
		strings.Join(tools, ","),
	)
}

// CheckAndRecord records the fingerprint for this step, failing with
// ErrLoopDetected if the exact fingerprint was already seen in this run.
// It must be called before the step executes so that a detected cycle aborts
// before any further external side effects.
func (g *LoopGuard) CheckAndRecord(fingerprint string) error {
	if _, ok := g.seen[fingerprint]; ok {
		return fmt.Errorf("%w: state %q repeated", ErrLoopDetected, truncate(fingerprint, 64))
	}
	g.seen[fingerprint] = struct{}{}
	return nil
}

// RecordToolCalls increments the per-tool counters for a step's proposed
// invocations, failing with ErrOscillation once any tool reaches the ceiling.
// Like CheckAndRecord, it runs before the tools execute.
func (g *LoopGuard) RecordToolCalls(names []string) error {
	for _, name := range names {
		g.toolCounts[name]++
		if g.toolCounts[name] >= maxToolRepeats {
			return fmt.Errorf("%w: tool %q proposed %d times in one run", ErrOscillation, name, g.toolCounts[name])
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

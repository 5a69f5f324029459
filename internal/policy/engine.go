// Package policy decides whether an assistant turn's tool calls pass through
// to the client. Rule evaluation is delegated; this engine normalizes the two
// call variants, applies the verdict to the whole set, and builds the refusal
// substitute on denial.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/akiho/torii/internal/contract"
)

// Call is the normalized shape rule evaluators see, regardless of variant.
type Call struct {
	ID             string
	Name           string
	Arguments      string
	Enabled        bool
	AgentID        string
	ContextTrusted bool
}

// Evaluator is the external rule evaluator, keyed by tool name, arguments,
// trust state, and the allowlist flag.
type Evaluator interface {
	Allow(ctx context.Context, call Call) (allowed bool, reason string, err error)
}

// Decision is either allow (calls pass through unchanged) or deny with a
// refusal substitute and the blocked-call count for reporting.
type Decision struct {
	Allowed      bool
	Reason       string
	BlockedCount int
	Refusal      contract.Message
}

type Engine struct {
	eval Evaluator
}

func NewEngine(eval Evaluator) *Engine {
	return &Engine{eval: eval}
}

// Review evaluates every accumulated tool call. A single denial blocks the
// entire set for the turn; there is no partial allow.
func (e *Engine) Review(ctx context.Context, agentID string, msg contract.Message, enabled map[string]struct{}, contextTrusted bool) Decision {
	if len(msg.ToolCalls) == 0 {
		return Decision{Allowed: true}
	}

	for _, tc := range msg.ToolCalls {
		name, arguments := tc.Normalize()
		_, isEnabled := enabled[name]

		call := Call{
			ID:             tc.ID,
			Name:           name,
			Arguments:      arguments,
			Enabled:        isEnabled,
			AgentID:        agentID,
			ContextTrusted: contextTrusted,
		}

		allowed, reason, err := e.eval.Allow(ctx, call)
		if err != nil {
			// fail closed: an evaluator outage must not let calls through
			slog.Error("Tool policy evaluation failed", "tool", name, "agent", agentID, "error", err)
			return e.deny(msg, "evaluator_error")
		}
		if !allowed {
			if reason == "" {
				reason = "policy_denied"
			}
			slog.Info("Tool calls blocked", "tool", name, "reason", reason, "agent", agentID, "blocked", len(msg.ToolCalls))
			return e.deny(msg, reason)
		}
	}

	return Decision{Allowed: true}
}

func (e *Engine) deny(msg contract.Message, reason string) Decision {
	names := make([]string, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		name, _ := tc.Normalize()
		names = append(names, name)
	}

	return Decision{
		Allowed:      false,
		Reason:       reason,
		BlockedCount: len(msg.ToolCalls),
		Refusal: contract.Message{
			Role:      contract.RoleAssistant,
			ToolCalls: []contract.ToolCall{},
			Refusal:   reason,
			Content:   fmt.Sprintf("The requested tool call(s) were blocked by gateway policy (%s): %s.", reason, strings.Join(names, ", ")),
		},
	}
}

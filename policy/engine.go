// Package policy evaluates message admission rules with OPA.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by the message policy.
const (
	DecisionAllow  = "allow"
	DecisionReject = "reject"
)

// MessageInput is the policy input for one posted message.
type MessageInput struct {
	TextLength    int  `json:"text_length"`
	MaxTextLength int  `json:"max_text_length"`
	Blank         bool `json:"blank"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
// The module must define data.message_policy.decision.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.message_policy.decision"),
		rego.Module("message_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks a message against the policy.
// Returns: decision (allow, reject), reason (optional), error
func (e *Engine) Evaluate(ctx context.Context, input MessageInput) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"text_length":     input.TextLength,
		"max_text_length": input.MaxTextLength,
		"blank":           input.Blank,
	}))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The policy defines a default; an undefined result means a broken module.
		return DecisionReject, "policy produced no decision", nil
	}

	switch val := results[0].Expressions[0].Value.(type) {
	case string:
		return val, "", nil
	case map[string]interface{}:
		decision, _ := val["decision"].(string)
		reason, _ := val["reason"].(string)
		if decision == "" {
			return DecisionReject, "policy returned no decision field", nil
		}
		return decision, reason, nil
	default:
		return DecisionReject, "unexpected return type", nil
	}
}

// DefaultPolicy admits any non-blank message up to the configured length.
// Content is never inspected.
const DefaultPolicy = `
package message_policy

default decision = {"decision": "allow", "reason": ""}

decision = {"decision": "reject", "reason": "text must not be empty"} {
	input.blank
}

decision = {"decision": "reject", "reason": "text exceeds maximum length"} {
	not input.blank
	input.text_length > input.max_text_length
}
`

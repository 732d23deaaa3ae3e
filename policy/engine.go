// Package policy decides how a detection event is resolved: rewrite the turn
// through the external provider, echo the original content back, or skip.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by Evaluate.
const (
	DecisionRewrite = "rewrite"
	DecisionEcho    = "echo"
	DecisionSkip    = "skip"
)

// Input is the evaluation input for one detection.
type Input struct {
	Censored      bool `json:"censored"`
	Manual        bool `json:"manual"`
	HasCredential bool `json:"has_credential"`
}

// Engine is the rego policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a policy engine from the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.rewrite_policy.decision"),
		rego.Module("rewrite_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate returns the decision for one detection. An empty result set falls
// back to echo, which leaves the turn untouched.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionEcho, nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return DecisionEcho, nil
}

// DefaultPolicy encodes the stock resolution rules: rewrite when the text
// classified as censored (or the user forced a retry) and a provider
// credential is configured; otherwise echo the original content so the
// pipeline has a single success path.
const DefaultPolicy = `
package rewrite_policy

import rego.v1

default decision := "echo"

decision := "rewrite" if {
	input.censored
	input.has_credential
}

decision := "rewrite" if {
	input.manual
	input.has_credential
}

decision := "skip" if {
	input.censored
	not input.has_credential
}

decision := "skip" if {
	input.manual
	not input.has_credential
}
`

package policy

import (
	"context"
	"testing"
)

func TestDefaultPolicyDecisions(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	cases := []struct {
		name  string
		input Input
		want  string
	}{
		{"censored with credential", Input{Censored: true, HasCredential: true}, DecisionRewrite},
		{"manual with credential", Input{Manual: true, HasCredential: true}, DecisionRewrite},
		{"clean content", Input{HasCredential: true}, DecisionEcho},
		{"censored without credential", Input{Censored: true}, DecisionSkip},
		{"manual without credential", Input{Manual: true}, DecisionSkip},
		{"nothing to do", Input{}, DecisionEcho},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := engine.Evaluate(ctx, tc.input)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if got != tc.want {
				t.Fatalf("decision = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewEngineRejectsBadPolicy(t *testing.T) {
	if _, err := NewEngine(context.Background(), "not rego at all {{{"); err == nil {
		t.Fatalf("expected error for malformed policy")
	}
}

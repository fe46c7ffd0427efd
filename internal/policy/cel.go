// Package policy implements disclosure policy as CEL rules.
//
// Each rule is a boolean CEL expression over three variables:
//
//	target:   the dispatch target ({kind, agent_id, session_id, system, target, channel})
//	envelope: the packet envelope (labels under envelope.visibility)
//	payload:  the packet payload ({kind, value, content_ref})
//
// Rules are evaluated in order; the first rule whose expression is true
// decides. When no rule matches the decider's default applies.
package policy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/roach88/dgate/internal/core"
)

// Rule is one ordered policy rule.
type Rule struct {
	Name   string              `yaml:"name" json:"name"`
	Expr   string              `yaml:"expr" json:"expr"`
	Effect core.PolicyDecision `yaml:"effect" json:"effect"`
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// CELDecider is a core.PolicyDecider. Programs are compiled once at
// construction and are safe for concurrent evaluation.
type CELDecider struct {
	rules    []compiledRule
	fallback core.PolicyDecision
}

// NewCELDecider compiles rules. fallback is the decision when no rule
// matches; empty means permit.
func NewCELDecider(rules []Rule, fallback core.PolicyDecision) (*CELDecider, error) {
	if fallback == "" {
		fallback = core.PolicyPermit
	}
	if fallback != core.PolicyPermit && fallback != core.PolicyDeny {
		return nil, fmt.Errorf("policy: invalid default %q", fallback)
	}

	env, err := cel.NewEnv(
		cel.Variable("target", cel.DynType),
		cel.Variable("envelope", cel.DynType),
		cel.Variable("payload", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	d := &CELDecider{fallback: fallback}
	for i, r := range rules {
		if r.Effect != core.PolicyPermit && r.Effect != core.PolicyDeny {
			return nil, fmt.Errorf("policy rule %d (%s): invalid effect %q", i, r.Name, r.Effect)
		}
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("policy rule %d (%s): compile: %w", i, r.Name, issues.Err())
		}
		if ast.OutputType() != cel.BoolType && ast.OutputType() != cel.DynType {
			return nil, fmt.Errorf("policy rule %d (%s): expression must be boolean, got %s", i, r.Name, ast.OutputType())
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(10000),
		)
		if err != nil {
			return nil, fmt.Errorf("policy rule %d (%s): program: %w", i, r.Name, err)
		}
		d.rules = append(d.rules, compiledRule{Rule: r, prg: prg})
	}
	return d, nil
}

// Authorize returns the effect of the first matching rule. An evaluation
// error is returned as-is; the engine records it on the receipt.
func (d *CELDecider) Authorize(ctx context.Context, target core.DispatchTarget, envelope core.PacketEnvelope, payload core.PacketPayload) (core.PolicyDecision, error) {
	input, err := activation(target, envelope, payload)
	if err != nil {
		return core.PolicyDeny, err
	}
	for _, r := range d.rules {
		out, _, err := r.prg.ContextEval(ctx, input)
		if err != nil {
			return core.PolicyDeny, fmt.Errorf("policy rule %s: %w", r.Name, err)
		}
		matched, ok := out.Value().(bool)
		if !ok {
			return core.PolicyDeny, fmt.Errorf("policy rule %s: result is %T, not bool", r.Name, out.Value())
		}
		if matched {
			return r.Effect, nil
		}
	}
	return d.fallback, nil
}

// activation converts the typed inputs to plain maps through their JSON
// form so rules see the same field names as the wire format.
func activation(target core.DispatchTarget, envelope core.PacketEnvelope, payload core.PacketPayload) (map[string]any, error) {
	vars := map[string]any{}
	for name, v := range map[string]any{"target": target, "envelope": envelope, "payload": payload} {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("policy input %s: %w", name, err)
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("policy input %s: %w", name, err)
		}
		vars[name] = m
	}
	return vars, nil
}

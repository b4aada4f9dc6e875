package gate

import (
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/attestry/attestry/pkg/contracts"
)

// RuleSet holds operator-supplied CEL expressions evaluated against a
// verification result before an unlock is recorded. Rules can only tighten
// eligibility: a failing or erroring rule blocks the unlock, and no rule is
// consulted at all for an UNVERIFIED verdict.
type RuleSet struct {
	rules []compiledRule
}

type compiledRule struct {
	expr string
	prg  cel.Program
}

// NewRuleSet compiles the given expressions. Each expression must evaluate
// to a bool over the variables overall, failure_modes, integrity, signature,
// and chain (the json shape of the verification result). A malformed rule is
// a construction error, not a runtime one.
func NewRuleSet(exprs ...string) (*RuleSet, error) {
	env, err := cel.NewEnv(
		cel.Variable("overall", cel.StringType),
		cel.Variable("failure_modes", cel.DynType),
		cel.Variable("integrity", cel.DynType),
		cel.Variable("signature", cel.DynType),
		cel.Variable("chain", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create rule environment: %w", err)
	}

	rs := &RuleSet{rules: make([]compiledRule, 0, len(exprs))}
	for _, expr := range exprs {
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile rule %q: %w", expr, issues.Err())
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(10000),
		)
		if err != nil {
			return nil, fmt.Errorf("program rule %q: %w", expr, err)
		}
		rs.rules = append(rs.rules, compiledRule{expr: expr, prg: prg})
	}
	return rs, nil
}

// Len returns the number of configured rules.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// Allow evaluates every rule against the result. All rules must pass for an
// unlock to proceed; the first failing rule is reported by expression.
func (rs *RuleSet) Allow(result contracts.VerificationResult) (bool, string, error) {
	input, err := ruleInput(result)
	if err != nil {
		return false, "", fmt.Errorf("build rule input: %w", err)
	}
	for _, rule := range rs.rules {
		out, _, err := rule.prg.Eval(input)
		if err != nil {
			return false, rule.expr, fmt.Errorf("eval rule %q: %w", rule.expr, err)
		}
		val, ok := out.Value().(bool)
		if !ok {
			return false, rule.expr, fmt.Errorf("rule %q did not evaluate to bool", rule.expr)
		}
		if !val {
			return false, rule.expr, nil
		}
	}
	return true, "", nil
}

// ruleInput exposes the result to CEL through its json shape, so rule
// authors write the same field names the API returns.
func ruleInput(result contracts.VerificationResult) (map[string]any, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	modes := m["failure_modes"]
	if modes == nil {
		modes = []any{}
	}
	return map[string]any{
		"overall":       string(result.Overall),
		"failure_modes": modes,
		"integrity":     m["integrity"],
		"signature":     m["signature"],
		"chain":         m["chain"],
	}, nil
}

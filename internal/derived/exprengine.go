// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package derived

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Inputs resolves the current value of a named input metric for the
// label set a rule is being evaluated against. The scheduler supplies
// an implementation backed by the cache hierarchy.
type Inputs interface {
	// Value returns the most recent value of metric for the series
	// matching labelValues (a name->value map the rule's expression
	// indexes by), and whether that metric was found at all.
	Value(metric string, labelValues map[string]string) (float64, bool)
}

// ExprEngine compiles and evaluates derived-metric rules using
// expr-lang/expr, the same general-purpose expression evaluator family
// (Go, not CEL or similar) that the ecosystem offers for user-supplied
// formulas; no example repo in the pack evaluates arbitrary formulas, so
// this component has no closer grounding than "use the expression
// engine the Go ecosystem provides for this exact job" (recorded in
// DESIGN.md).
type ExprEngine struct {
	programs map[string]*vm.Program
}

// NewExprEngine compiles every rule's expression once up front so that
// Evaluate never pays compilation cost on the scheduler's hot path.
func NewExprEngine(rules []Rule) (*ExprEngine, error) {
	e := &ExprEngine{programs: make(map[string]*vm.Program, len(rules))}
	for _, r := range rules {
		program, err := expr.Compile(r.Expr, expr.Env(exprEnv{}))
		if err != nil {
			return nil, fmt.Errorf("derived: compile rule %q: %w", r.Name, err)
		}
		e.programs[r.Name] = program
	}
	return e, nil
}

// exprEnv is the variable environment every compiled rule expression
// runs against: a single function, Metric(name), that rule authors call
// to pull in another series' current value by name.
type exprEnv struct {
	metricFn func(string) float64
}

// Metric is the exported method expr-lang binds to a bare "Metric(...)"
// call in a rule expression.
func (e exprEnv) Metric(name string) float64 {
	return e.metricFn(name)
}

// Evaluate runs the compiled expression for ruleName against labelValues
// resolved through in, returning the derived float64 result.
func (e *ExprEngine) Evaluate(ruleName string, in Inputs, labelValues map[string]string) (float64, error) {
	program, ok := e.programs[ruleName]
	if !ok {
		return 0, fmt.Errorf("derived: no compiled program for rule %q", ruleName)
	}

	env := exprEnv{metricFn: func(name string) float64 {
		v, _ := in.Value(name, labelValues)
		return v
	}}

	out, err := expr.Run(program, env)
	if err != nil {
		return 0, &evalError{rule: ruleName, err: err}
	}

	f, ok := out.(float64)
	if !ok {
		return 0, &evalError{rule: ruleName, err: fmt.Errorf("expression did not produce a number, got %T", out)}
	}
	return f, nil
}

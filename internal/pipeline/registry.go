// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pipeline

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/autobrr/fetcharr/internal/models"
)

// Registry maps step kinds to implementations and validates template trees.
type Registry struct {
	steps map[string]Step
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{steps: make(map[string]Step)}
}

// Register adds a step implementation. Registering a duplicate kind panics,
// which surfaces wiring mistakes at startup instead of mid-pipeline.
func (r *Registry) Register(step Step) {
	kind := step.Kind()
	if _, exists := r.steps[kind]; exists {
		panic(fmt.Sprintf("pipeline: step kind %q registered twice", kind))
	}
	r.steps[kind] = step
}

// Get returns the implementation for a kind.
func (r *Registry) Get(kind string) (Step, bool) {
	step, ok := r.steps[kind]
	return step, ok
}

// ValidateTemplate walks a template tree and rejects unknown kinds, invalid
// per-step config and uncompilable conditions.
func (r *Registry) ValidateTemplate(steps []models.StepDefinition) error {
	for i := range steps {
		def := &steps[i]

		step, ok := r.steps[def.Kind]
		if !ok {
			return fmt.Errorf("unknown step kind %q", def.Kind)
		}
		if err := step.ValidateConfig(def.Config); err != nil {
			return fmt.Errorf("step %q: invalid config: %w", def.DisplayName(), err)
		}
		if def.Condition != "" {
			if _, err := compileCondition(def.Condition); err != nil {
				return fmt.Errorf("step %q: invalid condition: %w", def.DisplayName(), err)
			}
		}
		if err := r.ValidateTemplate(def.Children); err != nil {
			return err
		}
	}
	return nil
}

// compileCondition compiles a template condition expression. Conditions are
// evaluated against the raw context map, so undefined keys are allowed and
// read as nil.
func compileCondition(condition string) (*vm.Program, error) {
	return expr.Compile(condition,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
}

// EvaluateCondition runs a step condition against the branch context. An
// empty condition is true.
func EvaluateCondition(condition string, sc models.StepContext) (bool, error) {
	if condition == "" {
		return true, nil
	}

	program, err := compileCondition(condition)
	if err != nil {
		return false, fmt.Errorf("failed to compile condition: %w", err)
	}

	out, err := expr.Run(program, map[string]any(sc))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition: %w", err)
	}

	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition did not evaluate to a boolean")
	}
	return result, nil
}

package container

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// GateEvaluator evaluates permeability gate rules. Rules are CEL expressions
// carried in the governing agreement's terms under "gateRules", keyed by
// direction ("deposit", "withdraw"). The expression sees the acting entity,
// the item being moved and the target container, and must evaluate to bool.
type GateEvaluator struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[string]cel.Program
}

// NewGateEvaluator builds the CEL environment for gate rules.
func NewGateEvaluator() (*GateEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("actor", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("item", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("quantity", cel.DoubleType),
		cel.Variable("container", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("gate cel env: %w", err)
	}
	return &GateEvaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

// GateInput is the evaluation context for one rule.
type GateInput struct {
	Actor     map[string]interface{}
	Item      map[string]interface{}
	Quantity  float64
	Container map[string]interface{}
}

// Allow evaluates expr against input. A compile or type error denies.
func (g *GateEvaluator) Allow(expr string, input GateInput) (bool, error) {
	prg, err := g.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]interface{}{
		"actor":     nonNilMap(input.Actor),
		"item":      nonNilMap(input.Item),
		"quantity":  input.Quantity,
		"container": nonNilMap(input.Container),
	})
	if err != nil {
		return false, fmt.Errorf("gate rule eval: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("gate rule %q is not boolean", expr)
	}
	return allowed, nil
}

func (g *GateEvaluator) program(expr string) (cel.Program, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if prg, ok := g.programs[expr]; ok {
		return prg, nil
	}
	ast, issues := g.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("gate rule compile: %w", issues.Err())
	}
	prg, err := g.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("gate rule program: %w", err)
	}
	g.programs[expr] = prg
	return prg, nil
}

func nonNilMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

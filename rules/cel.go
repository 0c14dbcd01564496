package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// ExpressionEvaluator evaluates a boolean expression against bindings
type ExpressionEvaluator interface {
	Evaluate(expression string, bindings map[string]any) (bool, error)
}

// ExpressionChecker compiles an expression without evaluating it
type ExpressionChecker interface {
	Check(expression string) error
}

// ValueEvaluator resolves an expression to its value. Evaluators that implement it let
// evaluation report the value a rule compared against.
type ValueEvaluator interface {
	Value(expression string, bindings map[string]any) (any, error)
}

// costLimit bounds the work a single expression may do
const costLimit = 1000000

// DefaultProgramCacheSize bounds the compiled-program cache
const DefaultProgramCacheSize = 1024

// CELEvaluator evaluates expressions with CEL. Compiled programs are cached by expression
// text; it is safe for concurrent use.
type CELEvaluator struct {
	env      *cel.Env
	programs map[string]cel.Program
	maxSize  int
	mu       sync.RWMutex
}

// NewCELEvaluator creates an evaluator whose environment declares the input namespace.
// cacheSize <= 0 uses DefaultProgramCacheSize.
func NewCELEvaluator(cacheSize int) (*CELEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.DynType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	if cacheSize <= 0 {
		cacheSize = DefaultProgramCacheSize
	}
	return &CELEvaluator{
		env:      env,
		programs: make(map[string]cel.Program),
		maxSize:  cacheSize,
	}, nil
}

// Check compiles expression and verifies it can produce a boolean
func (ev *CELEvaluator) Check(expression string) error {
	ast, issues := ev.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compile error: %w", issues.Err())
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return fmt.Errorf("expression must be boolean, got %s", out)
	}
	return nil
}

// Evaluate runs expression against bindings. A non-boolean result is an error.
func (ev *CELEvaluator) Evaluate(expression string, bindings map[string]any) (bool, error) {
	out, err := ev.eval(expression, bindings)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not evaluate to a boolean (got %T)", out)
	}
	return b, nil
}

// Value runs expression against bindings and returns the native result
func (ev *CELEvaluator) Value(expression string, bindings map[string]any) (any, error) {
	return ev.eval(expression, bindings)
}

// CachedPrograms returns the number of compiled programs held
func (ev *CELEvaluator) CachedPrograms() int {
	ev.mu.RLock()
	defer ev.mu.RUnlock()
	return len(ev.programs)
}

func (ev *CELEvaluator) eval(expression string, bindings map[string]any) (any, error) {
	prog, err := ev.program(expression)
	if err != nil {
		return nil, err
	}
	out, _, err := prog.Eval(bindings)
	if err != nil {
		return nil, fmt.Errorf("evaluation error: %w", err)
	}
	return out.Value(), nil
}

func (ev *CELEvaluator) program(expression string) (cel.Program, error) {
	ev.mu.RLock()
	prog, ok := ev.programs[expression]
	ev.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := ev.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	prog, err := ev.env.Program(ast, cel.CostLimit(costLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	ev.mu.Lock()
	if len(ev.programs) >= ev.maxSize {
		// Start over rather than track recency.
		ev.programs = make(map[string]cel.Program, ev.maxSize)
	}
	ev.programs[expression] = prog
	ev.mu.Unlock()

	return prog, nil
}

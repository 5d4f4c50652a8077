package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// Evaluator compiles filter expressions over a decoded feed notification.
// Expressions see three variables:
//
//	action  the envelope action string
//	data    the envelope data object
//	event   the whole envelope
type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("action", cel.StringType),
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateFilterExpression(expression string) error {
	_, err := e.compileFilter(expression)
	return err
}

func (e *Evaluator) compileFilter(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return program, nil
}

// Filter is a compiled boolean expression, safe for concurrent use.
type Filter struct {
	expression string
	program    cel.Program
}

func (e *Evaluator) CompileFilter(expression string) (*Filter, error) {
	program, err := e.compileFilter(expression)
	if err != nil {
		return nil, err
	}
	return &Filter{expression: expression, program: program}, nil
}

// NewFilter compiles expression in a fresh environment.
func NewFilter(expression string) (*Filter, error) {
	e, err := NewEvaluator()
	if err != nil {
		return nil, err
	}
	return e.CompileFilter(expression)
}

func (f *Filter) Expression() string {
	return f.expression
}

// Match evaluates the filter against a decoded envelope. A missing field
// referenced by the expression is an evaluation error, not a false match.
func (f *Filter) Match(ctx context.Context, envelope map[string]interface{}) (bool, error) {
	action, _ := envelope["action"].(string)
	data, _ := envelope["data"].(map[string]interface{})
	if data == nil {
		data = map[string]interface{}{}
	}

	vars := map[string]interface{}{
		"action": action,
		"data":   data,
		"event":  envelope,
	}

	result, _, err := f.program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

package factcache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
)

// filter compiles snapshot expressions over a fact's id, start, end, key and
// labels. Compiled programs are cached by expression text.
type filter struct {
	env   *cel.Env
	cache sync.Map // map[string]cel.Program
}

func newFilter() (*filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("start", cel.IntType),
		cel.Variable("end", cel.IntType),
		cel.Variable("key", cel.StringType),
		cel.Variable("labels", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}
	return &filter{env: env}, nil
}

func (f *filter) compile(expr string) (cel.Program, error) {
	if cached, ok := f.cache.Load(expr); ok {
		return cached.(cel.Program), nil
	}

	ast, issues := f.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: result is %s, not bool", ErrInvalidExpression, ast.OutputType())
	}
	prg, err := f.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}

	f.cache.Store(expr, prg)
	return prg, nil
}

// match evaluates prg against a fact. Evaluation errors such as a missing
// label count as no match.
func (f *filter) match(ctx context.Context, prg cel.Program, fact *Fact) bool {
	labels := fact.Object.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	out, _, err := prg.Eval(map[string]any{
		"id":     fact.ID,
		"start":  fact.Start,
		"end":    fact.End,
		"key":    fact.Object.Key,
		"labels": labels,
	})
	if err != nil {
		slog.DebugContext(ctx, "snapshot filter eval failed", "id", fact.ID, "error", err)
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// Package objective compiles arithmetic expressions into objective functions
// so that problems can be submitted over the wire.
package objective

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/copyleftdev/godirect/internal/optimization"
	"github.com/copyleftdev/godirect/internal/optimization/direct"
)

// Expression is a compiled objective over the variables x0..x{n-1}. In one
// dimension x is accepted as an alias of x0.
type Expression struct {
	source string
	dims   int
	expr   *govaluate.EvaluableExpression
}

var functions = map[string]govaluate.ExpressionFunction{
	"sin":  unary(math.Sin),
	"cos":  unary(math.Cos),
	"tan":  unary(math.Tan),
	"exp":  unary(math.Exp),
	"log":  unary(math.Log),
	"sqrt": unary(math.Sqrt),
	"abs":  unary(math.Abs),
	"pow":  binary(math.Pow),
	"min":  binary(math.Min),
	"max":  binary(math.Max),
}

// Parse compiles expr for a problem with dims variables. It fails when the
// expression refers to a variable outside x0..x{dims-1}.
func Parse(expr string, dims int) (*Expression, error) {
	const op = "objective.Parse"

	if strings.TrimSpace(expr) == "" {
		return nil, optimization.NewError("expression is empty").WithOperation(op)
	}
	if dims < 1 {
		return nil, optimization.NewErrorf("dimension must be positive, got %d", dims).WithOperation(op)
	}

	parsed, err := govaluate.NewEvaluableExpressionWithFunctions(expr, functions)
	if err != nil {
		return nil, optimization.WrapError(err, "invalid expression").WithOperation(op)
	}
	for _, v := range parsed.Vars() {
		if _, ok := variableIndex(v, dims); !ok {
			return nil, optimization.NewErrorf("unknown variable %q, expected x0..x%d", v, dims-1).WithOperation(op)
		}
	}

	return &Expression{source: expr, dims: dims, expr: parsed}, nil
}

// String returns the source expression.
func (e *Expression) String() string {
	return e.source
}

// Eval evaluates the expression at x. Non-finite results are reported as
// direct.ErrInfeasible so the solver treats them as hidden constraints.
func (e *Expression) Eval(x []float64) (float64, error) {
	if len(x) != e.dims {
		return math.NaN(), fmt.Errorf("expected %d variables, got %d", e.dims, len(x))
	}

	params := make(map[string]interface{}, e.dims+1)
	for i, v := range x {
		params["x"+strconv.Itoa(i)] = v
	}
	if e.dims == 1 {
		params["x"] = x[0]
	}

	out, err := e.expr.Evaluate(params)
	if err != nil {
		return math.NaN(), err
	}
	f, err := toFloat(out)
	if err != nil {
		return math.NaN(), err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f, direct.ErrInfeasible
	}
	return f, nil
}

// Func adapts the expression to the optimizer interface.
func (e *Expression) Func() optimization.ObjectiveFunction {
	return e.Eval
}

func variableIndex(name string, dims int) (int, bool) {
	if name == "x" && dims == 1 {
		return 0, true
	}
	if !strings.HasPrefix(name, "x") {
		return 0, false
	}
	i, err := strconv.Atoi(name[1:])
	if err != nil || i < 0 || i >= dims {
		return 0, false
	}
	return i, true
}

func unary(fn func(float64) float64) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		v, err := toFloat(args[0])
		if err != nil {
			return nil, err
		}
		return fn(v), nil
	}
}

func binary(fn func(float64, float64) float64) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("expected 2 arguments, got %d", len(args))
		}
		a, err := toFloat(args[0])
		if err != nil {
			return nil, err
		}
		b, err := toFloat(args[1])
		if err != nil {
			return nil, err
		}
		return fn(a, b), nil
	}
}

func toFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	default:
		return math.NaN(), fmt.Errorf("expression did not yield a number: %T", v)
	}
}

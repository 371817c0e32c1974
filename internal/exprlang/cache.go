package exprlang

import "sync"

// cache memoizes parsed expressions by source text, since the same eval.code
// string is evaluated on every dependent re-derivation.
var cache sync.Map // map[string]Expr

// Eval parses (or reuses a cached parse of) code and evaluates it against
// vars. This is the entry point internal/eval drives DoEval's EvalFunc
// through.
func Eval(code string, vars map[string]interface{}) (interface{}, error) {
	if v, ok := cache.Load(code); ok {
		return v.(Expr).Eval(vars)
	}
	expr, err := Parse(code)
	if err != nil {
		return nil, err
	}
	cache.Store(code, expr)
	return expr.Eval(vars)
}

package exprlang

import (
	"fmt"
	"regexp"
)

type literal struct{ value interface{} }

func (l *literal) Eval(map[string]interface{}) (interface{}, error) { return l.value, nil }

type identExpr struct{ name string }

func (e *identExpr) Eval(vars map[string]interface{}) (interface{}, error) {
	v, ok := vars[e.name]
	if !ok {
		return nil, fmt.Errorf("exprlang: undefined variable %q", e.name)
	}
	return v, nil
}

type listExpr struct{ items []Expr }

func (e *listExpr) Eval(vars map[string]interface{}) (interface{}, error) {
	out := make([]interface{}, len(e.items))
	for i, item := range e.items {
		v, err := item.Eval(vars)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type logicalOp int

const (
	opAnd logicalOp = iota
	opOr
)

type binOp struct {
	op          logicalOp
	left, right Expr
}

func (e *binOp) Eval(vars map[string]interface{}) (interface{}, error) {
	l, err := e.left.Eval(vars)
	if err != nil {
		return nil, err
	}
	lb, err := toBool(l)
	if err != nil {
		return nil, err
	}
	if e.op == opAnd && !lb {
		return false, nil
	}
	if e.op == opOr && lb {
		return true, nil
	}
	r, err := e.right.Eval(vars)
	if err != nil {
		return nil, err
	}
	return toBool(r)
}

type notOp struct{ inner Expr }

func (e *notOp) Eval(vars map[string]interface{}) (interface{}, error) {
	v, err := e.inner.Eval(vars)
	if err != nil {
		return nil, err
	}
	b, err := toBool(v)
	if err != nil {
		return nil, err
	}
	return !b, nil
}

type negateExpr struct{ inner Expr }

func (e *negateExpr) Eval(vars map[string]interface{}) (interface{}, error) {
	v, err := e.inner.Eval(vars)
	if err != nil {
		return nil, err
	}
	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	return -f, nil
}

type arithOp int

const (
	arithAdd arithOp = iota
	arithSub
	arithMul
	arithDiv
)

type arithExpr struct {
	op          arithOp
	left, right Expr
}

func (e *arithExpr) Eval(vars map[string]interface{}) (interface{}, error) {
	l, err := e.left.Eval(vars)
	if err != nil {
		return nil, err
	}
	r, err := e.right.Eval(vars)
	if err != nil {
		return nil, err
	}

	if e.op == arithAdd {
		if ls, ok := l.(string); ok {
			rs, err := toString(r)
			if err != nil {
				return nil, err
			}
			return ls + rs, nil
		}
	}

	lf, err := toFloat(l)
	if err != nil {
		return nil, err
	}
	rf, err := toFloat(r)
	if err != nil {
		return nil, err
	}

	switch e.op {
	case arithAdd:
		return lf + rf, nil
	case arithSub:
		return lf - rf, nil
	case arithMul:
		return lf * rf, nil
	case arithDiv:
		if rf == 0 {
			return nil, fmt.Errorf("exprlang: division by zero")
		}
		return lf / rf, nil
	default:
		return nil, fmt.Errorf("exprlang: unknown arithmetic operator")
	}
}

type compareOp int

const (
	cmpEq compareOp = iota
	cmpNeq
	cmpLt
	cmpLte
	cmpGt
	cmpGte
)

type compareExpr struct {
	op          compareOp
	left, right Expr
}

func (e *compareExpr) Eval(vars map[string]interface{}) (interface{}, error) {
	l, err := e.left.Eval(vars)
	if err != nil {
		return nil, err
	}
	r, err := e.right.Eval(vars)
	if err != nil {
		return nil, err
	}

	if e.op == cmpEq {
		return valuesEqual(l, r), nil
	}
	if e.op == cmpNeq {
		return !valuesEqual(l, r), nil
	}

	lf, err := toFloat(l)
	if err != nil {
		return nil, err
	}
	rf, err := toFloat(r)
	if err != nil {
		return nil, err
	}
	switch e.op {
	case cmpLt:
		return lf < rf, nil
	case cmpLte:
		return lf <= rf, nil
	case cmpGt:
		return lf > rf, nil
	case cmpGte:
		return lf >= rf, nil
	default:
		return nil, fmt.Errorf("exprlang: unknown comparison operator")
	}
}

type inOp struct {
	needle, haystack Expr
}

func (e *inOp) Eval(vars map[string]interface{}) (interface{}, error) {
	n, err := e.needle.Eval(vars)
	if err != nil {
		return nil, err
	}
	h, err := e.haystack.Eval(vars)
	if err != nil {
		return nil, err
	}
	list, ok := h.([]interface{})
	if !ok {
		return nil, fmt.Errorf("exprlang: right-hand side of 'in' must be a list")
	}
	for _, item := range list {
		if valuesEqual(n, item) {
			return true, nil
		}
	}
	return false, nil
}

type callExpr struct {
	name string
	args []Expr
}

func (e *callExpr) Eval(vars map[string]interface{}) (interface{}, error) {
	args := make([]interface{}, len(e.args))
	for i, a := range e.args {
		v, err := a.Eval(vars)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch e.name {
	case "match":
		if len(args) != 2 {
			return nil, fmt.Errorf("exprlang: match() takes exactly 2 arguments")
		}
		value, err := toString(args[0])
		if err != nil {
			return nil, err
		}
		pattern, err := toString(args[1])
		if err != nil {
			return nil, err
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("exprlang: invalid regex %q: %w", pattern, err)
		}
		return re.MatchString(value), nil
	case "abs":
		if len(args) != 1 {
			return nil, fmt.Errorf("exprlang: abs() takes exactly 1 argument")
		}
		f, err := toFloat(args[0])
		if err != nil {
			return nil, err
		}
		if f < 0 {
			return -f, nil
		}
		return f, nil
	default:
		return nil, fmt.Errorf("exprlang: unknown function %q", e.name)
	}
}

func toBool(v interface{}) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case float64:
		return b != 0, nil
	case string:
		return b != "", nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("exprlang: cannot use %T as boolean", v)
	}
}

func toFloat(v interface{}) (float64, error) {
	switch f := v.(type) {
	case float64:
		return f, nil
	case int:
		return float64(f), nil
	case int64:
		return float64(f), nil
	case bool:
		if f {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("exprlang: cannot use %T as number", v)
	}
}

func toString(v interface{}) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case float64, bool:
		return fmt.Sprintf("%v", s), nil
	default:
		return "", fmt.Errorf("exprlang: cannot use %T as string", v)
	}
}

func valuesEqual(a, b interface{}) bool {
	af, aerr := toFloat(a)
	bf, berr := toFloat(b)
	if aerr == nil && berr == nil {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

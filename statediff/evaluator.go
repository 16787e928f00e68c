package statediff

import (
	"fmt"

	"vitess.io/vitess/go/vt/sqlparser"
)

// Result is either a three-state string (NULL represented as a nil Str) or
// a boolean, mirroring the evaluator's two-shape value model: comparisons
// and conjunctions produce booleans, everything else resolves to a string.
type Result struct {
	IsBool bool
	Bool   bool
	Str    *string
}

func boolResult(b bool) Result { return Result{IsBool: true, Bool: b} }
func strResult(s *string) Result { return Result{Str: s} }

// Evaluate walks a WHERE/predicate expression tree against row (column name
// → value, nil meaning NULL). It fails open: an expression shape it doesn't
// understand returns an error, and callers must treat that as "do not
// rewrite, do not skip".
func Evaluate(expr sqlparser.Expr, row map[string]*string) (Result, error) {
	switch e := expr.(type) {
	case *sqlparser.AndExpr:
		return evaluateConjunction(row, e.Left, e.Right, true)
	case *sqlparser.OrExpr:
		return evaluateConjunction(row, e.Left, e.Right, false)
	case *sqlparser.ComparisonExpr:
		return evaluateComparison(row, e)
	case *sqlparser.IsExpr:
		inner, err := Evaluate(e.Left, row)
		if err != nil {
			return Result{}, err
		}
		switch e.Right {
		case sqlparser.IsNullOp:
			if inner.IsBool {
				return boolResult(false), nil
			}
			return boolResult(inner.Str == nil), nil
		case sqlparser.IsNotNullOp:
			if inner.IsBool {
				return boolResult(false), nil
			}
			return boolResult(inner.Str != nil), nil
		default:
			return Result{}, fmt.Errorf("statediff: unsupported IS operator %v", e.Right)
		}
	case *sqlparser.ColName:
		v, ok := row[e.Name.String()]
		if !ok {
			return Result{}, fmt.Errorf("statediff: unknown column %q", e.Name.String())
		}
		return strResult(v), nil
	case *sqlparser.Literal:
		return literalResult(e)
	case *sqlparser.NullVal:
		return strResult(nil), nil
	case sqlparser.BoolVal:
		return boolResult(bool(e)), nil
	default:
		return Result{}, fmt.Errorf("statediff: unsupported expression type %T", expr)
	}
}

func literalResult(lit *sqlparser.Literal) (Result, error) {
	switch lit.Type {
	case sqlparser.StrVal, sqlparser.IntVal, sqlparser.FloatVal, sqlparser.DecimalVal, sqlparser.HexNum, sqlparser.HexVal, sqlparser.BitNum, sqlparser.DateVal, sqlparser.TimeVal, sqlparser.TimestampVal:
		s := string(lit.Val)
		return strResult(&s), nil
	default:
		return Result{}, fmt.Errorf("statediff: unsupported literal type %v", lit.Type)
	}
}

// evaluateConjunction implements AND/OR with left-to-right short-circuit:
// a boolean left side deciding the outcome skips evaluating the right side
// entirely.
func evaluateConjunction(row map[string]*string, left, right sqlparser.Expr, isAnd bool) (Result, error) {
	l, err := Evaluate(left, row)
	if err != nil {
		return Result{}, err
	}
	if l.IsBool {
		if isAnd && !l.Bool {
			return boolResult(false), nil
		}
		if !isAnd && l.Bool {
			return boolResult(true), nil
		}
	}

	r, err := Evaluate(right, row)
	if err != nil {
		return Result{}, err
	}
	if !r.IsBool {
		return Result{}, fmt.Errorf("statediff: %s right operand did not evaluate to a boolean", conjunctionName(isAnd))
	}
	return boolResult(r.Bool), nil
}

func conjunctionName(isAnd bool) string {
	if isAnd {
		return "AND"
	}
	return "OR"
}

func evaluateComparison(row map[string]*string, e *sqlparser.ComparisonExpr) (Result, error) {
	left, err := Evaluate(e.Left, row)
	if err != nil {
		return Result{}, err
	}
	right, err := Evaluate(e.Right, row)
	if err != nil {
		return Result{}, err
	}

	switch e.Operator {
	case sqlparser.EqualOp:
		return boolResult(equal(left, right)), nil
	case sqlparser.NotEqualOp:
		return boolResult(!equal(left, right)), nil
	case sqlparser.LessThanOp, sqlparser.LessEqualOp, sqlparser.GreaterThanOp, sqlparser.GreaterEqualOp:
		if left.IsBool || right.IsBool || left.Str == nil || right.Str == nil {
			return boolResult(false), nil
		}
		return boolResult(ordered(*left.Str, *right.Str, e.Operator)), nil
	default:
		return Result{}, fmt.Errorf("statediff: unsupported comparison operator %v", e.Operator)
	}
}

func equal(l, r Result) bool {
	if l.IsBool && r.IsBool {
		return l.Bool == r.Bool
	}
	if !l.IsBool && !r.IsBool {
		if l.Str == nil || r.Str == nil {
			return l.Str == r.Str
		}
		return *l.Str == *r.Str
	}
	return false
}

func ordered(l, r string, op sqlparser.ComparisonExprOperator) bool {
	switch op {
	case sqlparser.LessThanOp:
		return l < r
	case sqlparser.LessEqualOp:
		return l <= r
	case sqlparser.GreaterThanOp:
		return l > r
	case sqlparser.GreaterEqualOp:
		return l >= r
	default:
		return false
	}
}

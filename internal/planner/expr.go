package planner

import (
	"github.com/aleksaelezovic/trigo/internal/engine/errs"
	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/index"
	"github.com/aleksaelezovic/trigo/internal/engine/ops"
	"github.com/aleksaelezovic/trigo/internal/sparql/parser"
	"github.com/aleksaelezovic/trigo/pkg/rdf"
)

// termToId maps a constant RDF term to its runtime Id: inline ids for
// numerics, booleans, and dates (the encoder's inline trick carried over
// to the 64-bit space), persistent-vocabulary ids for everything the index
// knows. ok is false when the term is not representable without a local
// vocabulary entry.
func (s *session) termToId(t rdf.Term) (ids.Id, bool) {
	if id, ok := index.InlineId(t); ok {
		return id, true
	}
	if id, ok := s.p.env.Idx.Vocab().GetId(ops.LexicalForm(t)); ok {
		return id, true
	}
	return ids.UndefinedId, false
}

// convertExpr lowers the parser's expression AST into the engine's Expr
// tree. Constants present in the persistent vocabulary become fixed-Id
// constants (enabling the binary-search filter fast path); unknown terms
// become lazily-interned term constants.
func (s *session) convertExpr(e parser.Expression) (ops.Expr, error) {
	switch v := e.(type) {
	case *parser.VariableExpression:
		return &ops.VarExpr{Name: v.Variable.Name}, nil
	case *parser.LiteralExpression:
		if id, ok := s.termToId(v.Literal); ok {
			return &ops.ConstExpr{Id: id}, nil
		}
		return &ops.TermConstExpr{Term: v.Literal}, nil
	case *parser.BinaryExpression:
		left, err := s.convertExpr(v.Left)
		if err != nil {
			return nil, err
		}
		right, err := s.convertExpr(v.Right)
		if err != nil {
			return nil, err
		}
		switch v.Operator {
		case parser.OpAnd:
			return &ops.LogicalExpr{And: true, Left: left, Right: right}, nil
		case parser.OpOr:
			return &ops.LogicalExpr{Left: left, Right: right}, nil
		case parser.OpEqual:
			return &ops.CompareExpr{Op: ops.CmpEq, Left: left, Right: right}, nil
		case parser.OpNotEqual:
			return &ops.CompareExpr{Op: ops.CmpNe, Left: left, Right: right}, nil
		case parser.OpLessThan:
			return &ops.CompareExpr{Op: ops.CmpLt, Left: left, Right: right}, nil
		case parser.OpLessThanOrEqual:
			return &ops.CompareExpr{Op: ops.CmpLe, Left: left, Right: right}, nil
		case parser.OpGreaterThan:
			return &ops.CompareExpr{Op: ops.CmpGt, Left: left, Right: right}, nil
		case parser.OpGreaterThanOrEqual:
			return &ops.CompareExpr{Op: ops.CmpGe, Left: left, Right: right}, nil
		case parser.OpAdd:
			return &ops.ArithExpr{Op: ops.ArithAdd, Left: left, Right: right}, nil
		case parser.OpSubtract:
			return &ops.ArithExpr{Op: ops.ArithSub, Left: left, Right: right}, nil
		case parser.OpMultiply:
			return &ops.ArithExpr{Op: ops.ArithMul, Left: left, Right: right}, nil
		case parser.OpDivide:
			return &ops.ArithExpr{Op: ops.ArithDiv, Left: left, Right: right}, nil
		case parser.OpRegex:
			return &ops.FuncExpr{Name: "REGEX", Args: []ops.Expr{left, right}}, nil
		default:
			return nil, errs.NewUnsupportedQueryFeature("binary operator %d in filter expression", v.Operator)
		}
	case *parser.UnaryExpression:
		arg, err := s.convertExpr(v.Operand)
		if err != nil {
			return nil, err
		}
		switch v.Operator {
		case parser.OpNot:
			return &ops.NotExpr{Operand: arg}, nil
		case parser.OpStr:
			return &ops.FuncExpr{Name: "STR", Args: []ops.Expr{arg}}, nil
		case parser.OpLang:
			return &ops.FuncExpr{Name: "LANG", Args: []ops.Expr{arg}}, nil
		case parser.OpDatatype:
			return &ops.FuncExpr{Name: "DATATYPE", Args: []ops.Expr{arg}}, nil
		case parser.OpIsNumeric:
			return &ops.FuncExpr{Name: "ISNUMERIC", Args: []ops.Expr{arg}}, nil
		case parser.OpAbs:
			return &ops.FuncExpr{Name: "ABS", Args: []ops.Expr{arg}}, nil
		case parser.OpCeil:
			return &ops.FuncExpr{Name: "CEIL", Args: []ops.Expr{arg}}, nil
		case parser.OpFloor:
			return &ops.FuncExpr{Name: "FLOOR", Args: []ops.Expr{arg}}, nil
		case parser.OpRound:
			return &ops.FuncExpr{Name: "ROUND", Args: []ops.Expr{arg}}, nil
		default:
			return nil, errs.NewUnsupportedQueryFeature("unary operator %d in filter expression", v.Operator)
		}
	case *parser.FunctionCallExpression:
		args := make([]ops.Expr, len(v.Arguments))
		for i, a := range v.Arguments {
			conv, err := s.convertExpr(a)
			if err != nil {
				return nil, err
			}
			args[i] = conv
		}
		return &ops.FuncExpr{Name: v.Function, Args: args}, nil
	default:
		return nil, errs.NewUnsupportedQueryFeature("unsupported expression node in filter")
	}
}

// exprVars returns the deduplicated variable set an expression references.
func exprVars(e ops.Expr) map[string]bool {
	out := map[string]bool{}
	for _, v := range e.Vars() {
		out[v] = true
	}
	return out
}

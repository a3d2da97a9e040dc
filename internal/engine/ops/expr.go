package ops

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/result"
	"github.com/aleksaelezovic/trigo/pkg/rdf"
)

// Expr is the engine's expression tree, built by the planner from the
// parsed query's expressions. Eval computes an Id per row; boolean results
// are Bool ids, errors and unbound lookups are Undefined (three-valued
// semantics: a filter drops rows whose expression is False or Undefined).
type Expr interface {
	// Eval computes the expression for one row.
	Eval(e *EvalEnv, row int) ids.Id
	// Vars lists the variables the expression references.
	Vars() []string
	// Key renders the expression deterministically for cache keys.
	Key() string
}

// EvalEnv is the per-evaluation context: the input table's variable
// mapping, column accessors, and term resolution for string functions.
type EvalEnv struct {
	Vars result.VariableColumns
	Column func(col int) []ids.Id
	Vocab   *ids.LocalVocab
	Env     *Env
}

func (e *EvalEnv) lookup(name string, row int) ids.Id {
	col, ok := e.Vars[name]
	if !ok {
		return ids.UndefinedId
	}
	return e.Column(col)[row]
}

func (e *EvalEnv) resolve(id ids.Id) (rdf.Term, bool) {
	return resolveWithVocab(e.Env, e.Vocab, id)
}

// EffectiveBool maps an Id to its SPARQL effective boolean value.
func EffectiveBool(id ids.Id) ids.Bool3 {
	switch id.Tag() {
	case ids.Undefined:
		return ids.B3Undef
	case ids.Bool:
		if id.ToBool() {
			return ids.B3True
		}
		return ids.B3False
	case ids.Int:
		if id.ToInt() != 0 {
			return ids.B3True
		}
		return ids.B3False
	case ids.Double:
		v := id.ToDouble()
		if v != 0 && !math.IsNaN(v) {
			return ids.B3True
		}
		return ids.B3False
	default:
		// IRIs/blank nodes have no effective boolean value; non-empty
		// strings would be True, but string content is not inspected here.
		return ids.B3Undef
	}
}

func bool3ToId(b ids.Bool3) ids.Id {
	switch b {
	case ids.B3True:
		return ids.FromBool(true)
	case ids.B3False:
		return ids.FromBool(false)
	default:
		return ids.UndefinedId
	}
}

// VarExpr references a variable.
type VarExpr struct{ Name string }

func (v *VarExpr) Eval(e *EvalEnv, row int) ids.Id { return e.lookup(v.Name, row) }
func (v *VarExpr) Vars() []string                  { return []string{v.Name} }
func (v *VarExpr) Key() string                     { return "?" + v.Name }

// ConstExpr is a constant Id (a term already interned into the persistent
// or local vocabulary, or an inline numeric).
type ConstExpr struct{ Id ids.Id }

func (c *ConstExpr) Eval(e *EvalEnv, row int) ids.Id { return c.Id }
func (c *ConstExpr) Vars() []string                  { return nil }
func (c *ConstExpr) Key() string                     { return fmt.Sprintf("#%d", uint64(c.Id)) }

// TermConstExpr is a constant RDF term that is not present in the
// persistent vocabulary: it is interned into the evaluation's LocalVocab
// on first use, so equality against values interned by BIND/VALUES in the
// same result lineage compares by string identity.
type TermConstExpr struct {
	Term rdf.Term
}

func (c *TermConstExpr) Eval(e *EvalEnv, row int) ids.Id {
	// GetOrAdd is idempotent, so repeated evaluation against the same
	// vocabulary always yields the same id; no caching across vocabularies.
	return e.Vocab.GetOrAdd(LexicalForm(c.Term))
}

func (c *TermConstExpr) Vars() []string { return nil }
func (c *TermConstExpr) Key() string    { return "term:" + LexicalForm(c.Term) }

// CompareOp enumerates the relational operators.
type CompareOp int

const (
	CmpEq CompareOp = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

func (op CompareOp) String() string {
	return [...]string{"=", "!=", "<", "<=", ">", ">="}[op]
}

// CompareExpr applies a relational operator with three-valued semantics.
type CompareExpr struct {
	Op          CompareOp
	Left, Right Expr
}

func (c *CompareExpr) Eval(e *EvalEnv, row int) ids.Id {
	a, b := c.Left.Eval(e, row), c.Right.Eval(e, row)
	return bool3ToId(evalCompare(c.Op, a, b))
}

func evalCompare(op CompareOp, a, b ids.Id) ids.Bool3 {
	switch op {
	case CmpEq:
		return ids.EqualForFilter(a, b)
	case CmpNe:
		return ids.Not(ids.EqualForFilter(a, b))
	case CmpLt:
		return ids.RelationalForFilter(a, b, true, false)
	case CmpLe:
		return ids.RelationalForFilter(a, b, true, true)
	case CmpGt:
		return ids.RelationalForFilter(a, b, false, false)
	default:
		return ids.RelationalForFilter(a, b, false, true)
	}
}

func (c *CompareExpr) Vars() []string { return append(c.Left.Vars(), c.Right.Vars()...) }
func (c *CompareExpr) Key() string {
	return fmt.Sprintf("(%s%s%s)", c.Left.Key(), c.Op, c.Right.Key())
}

// LogicalExpr is AND/OR with three-valued propagation.
type LogicalExpr struct {
	And bool
	Left, Right Expr
}

func (l *LogicalExpr) Eval(e *EvalEnv, row int) ids.Id {
	a := EffectiveBool(l.Left.Eval(e, row))
	b := EffectiveBool(l.Right.Eval(e, row))
	if l.And {
		return bool3ToId(ids.And(a, b))
	}
	return bool3ToId(ids.Or(a, b))
}

func (l *LogicalExpr) Vars() []string { return append(l.Left.Vars(), l.Right.Vars()...) }
func (l *LogicalExpr) Key() string {
	op := "||"
	if l.And {
		op = "&&"
	}
	return fmt.Sprintf("(%s%s%s)", l.Left.Key(), op, l.Right.Key())
}

// NotExpr is three-valued negation.
type NotExpr struct{ Operand Expr }

func (n *NotExpr) Eval(e *EvalEnv, row int) ids.Id {
	return bool3ToId(ids.Not(EffectiveBool(n.Operand.Eval(e, row))))
}
func (n *NotExpr) Vars() []string { return n.Operand.Vars() }
func (n *NotExpr) Key() string    { return "(!" + n.Operand.Key() + ")" }

// ArithOp enumerates arithmetic operators.
type ArithOp int

const (
	ArithAdd ArithOp = iota
	ArithSub
	ArithMul
	ArithDiv
)

func (op ArithOp) String() string { return [...]string{"+", "-", "*", "/"}[op] }

// ArithExpr performs numeric arithmetic; non-numeric operands yield
// Undefined. Int op Int stays Int except for division, which promotes to
// Double per XPath semantics.
type ArithExpr struct {
	Op          ArithOp
	Left, Right Expr
}

func (a *ArithExpr) Eval(e *EvalEnv, row int) ids.Id {
	l, r := a.Left.Eval(e, row), a.Right.Eval(e, row)
	if !l.IsNumeric() || !r.IsNumeric() {
		return ids.UndefinedId
	}
	if l.Tag() == ids.Int && r.Tag() == ids.Int && a.Op != ArithDiv {
		x, y := l.ToInt(), r.ToInt()
		var v int64
		switch a.Op {
		case ArithAdd:
			v = x + y
		case ArithSub:
			v = x - y
		default:
			v = x * y
		}
		if ids.FitsInt(v) {
			return ids.FromInt(v)
		}
		return ids.FromDouble(float64(v))
	}
	x, y := l.AsDouble(), r.AsDouble()
	var v float64
	switch a.Op {
	case ArithAdd:
		v = x + y
	case ArithSub:
		v = x - y
	case ArithMul:
		v = x * y
	default:
		if y == 0 {
			return ids.UndefinedId
		}
		v = x / y
	}
	return ids.FromDouble(v)
}

func (a *ArithExpr) Vars() []string { return append(a.Left.Vars(), a.Right.Vars()...) }
func (a *ArithExpr) Key() string {
	return fmt.Sprintf("(%s%s%s)", a.Left.Key(), a.Op, a.Right.Key())
}

// InExpr tests membership of Left in a constant list.
type InExpr struct {
	Left    Expr
	Options []ids.Id
}

func (in *InExpr) Eval(e *EvalEnv, row int) ids.Id {
	v := in.Left.Eval(e, row)
	res := ids.B3False
	for _, o := range in.Options {
		res = ids.Or(res, ids.EqualForFilter(v, o))
		if res == ids.B3True {
			break
		}
	}
	return bool3ToId(res)
}

func (in *InExpr) Vars() []string { return in.Left.Vars() }
func (in *InExpr) Key() string {
	var b strings.Builder
	fmt.Fprintf(&b, "(%s IN ", in.Left.Key())
	for i, o := range in.Options {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", uint64(o))
	}
	b.WriteByte(')')
	return b.String()
}

// FuncExpr covers the builtin functions the engine evaluates per row.
type FuncExpr struct {
	Name string // upper-case: BOUND, STR, LANG, DATATYPE, ABS, CEIL, FLOOR, ROUND, ISNUMERIC, REGEX
	Args []Expr
}

func (f *FuncExpr) Eval(e *EvalEnv, row int) ids.Id {
	switch f.Name {
	case "BOUND":
		return ids.FromBool(!f.Args[0].Eval(e, row).IsUndefined())
	case "ISNUMERIC":
		return ids.FromBool(f.Args[0].Eval(e, row).IsNumeric())
	case "ABS", "CEIL", "FLOOR", "ROUND":
		v := f.Args[0].Eval(e, row)
		if !v.IsNumeric() {
			return ids.UndefinedId
		}
		if v.Tag() == ids.Int && f.Name != "ABS" {
			return v
		}
		x := v.AsDouble()
		switch f.Name {
		case "ABS":
			x = math.Abs(x)
			if v.Tag() == ids.Int {
				return ids.FromInt(int64(x))
			}
		case "CEIL":
			x = math.Ceil(x)
		case "FLOOR":
			x = math.Floor(x)
		default:
			x = math.Round(x)
		}
		return ids.FromDouble(x)
	case "STR":
		term, ok := e.resolve(f.Args[0].Eval(e, row))
		if !ok {
			return ids.UndefinedId
		}
		switch t := term.(type) {
		case *rdf.NamedNode:
			return e.Vocab.GetOrAdd(`"` + t.IRI + `"`)
		case *rdf.Literal:
			return e.Vocab.GetOrAdd(`"` + t.Value + `"`)
		default:
			return ids.UndefinedId
		}
	case "LANG":
		term, ok := e.resolve(f.Args[0].Eval(e, row))
		if !ok {
			return ids.UndefinedId
		}
		if lit, isLit := term.(*rdf.Literal); isLit {
			return e.Vocab.GetOrAdd(`"` + lit.Language + `"`)
		}
		return ids.UndefinedId
	case "DATATYPE":
		v := f.Args[0].Eval(e, row)
		switch v.Tag() {
		case ids.Int:
			return e.Vocab.GetOrAdd("<" + rdf.XSDInteger.IRI + ">")
		case ids.Double:
			return e.Vocab.GetOrAdd("<" + rdf.XSDDouble.IRI + ">")
		case ids.Bool:
			return e.Vocab.GetOrAdd("<" + rdf.XSDBoolean.IRI + ">")
		case ids.Date:
			return e.Vocab.GetOrAdd("<" + rdf.XSDDateTime.IRI + ">")
		}
		term, ok := e.resolve(v)
		if !ok {
			return ids.UndefinedId
		}
		if lit, isLit := term.(*rdf.Literal); isLit {
			dt := rdf.XSDString.IRI
			if lit.Datatype != nil {
				dt = lit.Datatype.IRI
			}
			return e.Vocab.GetOrAdd("<" + dt + ">")
		}
		return ids.UndefinedId
	case "REGEX":
		term, ok := e.resolve(f.Args[0].Eval(e, row))
		if !ok || len(f.Args) < 2 {
			return ids.UndefinedId
		}
		patTerm, ok := e.resolve(f.Args[1].Eval(e, row))
		if !ok {
			return ids.UndefinedId
		}
		lit, isLit := term.(*rdf.Literal)
		pat, isPat := patTerm.(*rdf.Literal)
		if !isLit || !isPat {
			return ids.UndefinedId
		}
		re, err := regexp.Compile(pat.Value)
		if err != nil {
			return ids.UndefinedId
		}
		return ids.FromBool(re.MatchString(lit.Value))
	default:
		return ids.UndefinedId
	}
}

func (f *FuncExpr) Vars() []string {
	var out []string
	for _, a := range f.Args {
		out = append(out, a.Vars()...)
	}
	return out
}

func (f *FuncExpr) Key() string {
	var b strings.Builder
	b.WriteString(f.Name)
	b.WriteByte('(')
	for i, a := range f.Args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(a.Key())
	}
	b.WriteByte(')')
	return b.String()
}

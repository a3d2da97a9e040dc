package ops

import (
	"context"
	"fmt"
	"sort"

	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/join"
	"github.com/aleksaelezovic/trigo/internal/engine/result"
)

// JoinAlgorithm selects the physical join routine. The planner picks it
// from the inputs' estimates; Auto defers the choice to Compute time.
type JoinAlgorithm int

const (
	JoinAuto JoinAlgorithm = iota
	JoinZipper
	JoinIndexNestedLoop
)

// Join combines two inputs on their shared variables.
// Output layout: all left columns in order, then right's non-shared
// columns. With the zipper algorithm both inputs must be sorted on the
// join columns; the planner inserts Sort children to guarantee that.
type Join struct {
	env   *Env
	left result.Operation
	right result.Operation
	alg   JoinAlgorithm

	vars result.VariableColumns
	joinLeft   []int // join columns in left
	joinRight  []int // paired columns in right
	rightExtra []int // right columns appended after left's, in output order
	est estimates
}

// joinColumnPairs computes the shared-variable column pairs of two
// operations, ordered by the left input's column index. The planner
// inserts Sorts using the same ordering, so the zipper's sortedness
// precondition and the comparison order here always agree.
func joinColumnPairs(left, right result.Operation) (leftCols, rightCols []int) {
	lv, rv := left.Variables(), right.Variables()
	type pair struct{ l, r int }
	var pairs []pair
	for name, lc := range lv {
		if rc, ok := rv[name]; ok {
			pairs = append(pairs, pair{lc, rc})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].l < pairs[j].l })
	for _, p := range pairs {
		leftCols = append(leftCols, p.l)
		rightCols = append(rightCols, p.r)
	}
	return
}

// NewJoin builds a join over every variable shared between left and right.
func NewJoin(env *Env, left, right result.Operation, alg JoinAlgorithm) *Join {
	j := &Join{env: env, left: left, right: right, alg: alg}
	j.joinLeft, j.joinRight = joinColumnPairs(left, right)
	vars, rightExtraNames, _ := mergeVariables(left.Variables(), right.Variables(), left.NumColumns())
	j.vars = vars
	rv := right.Variables()
	for _, name := range rightExtraNames {
		j.rightExtra = append(j.rightExtra, rv[name])
	}
	return j
}

func (j *Join) Variables() result.VariableColumns { return j.vars }
func (j *Join) NumColumns() int                   { return j.left.NumColumns() + len(j.rightExtra) }
func (j *Join) Children() []result.Operation      { return []result.Operation{j.left, j.right} }
func (j *Join) JoinColumns() ([]int, []int)       { return j.joinLeft, j.joinRight }

// joinSizeEstimate is the planner's coarse join selectivity model: the
// product of input sizes divided by the larger distinct-value count of the
// join columns.
func joinSizeEstimate(left, right result.Operation, joinLeft, joinRight []int) float64 {
	ls, rs := left.Estimates().SizeEstimate, right.Estimates().SizeEstimate
	if len(joinLeft) == 0 {
		return ls * rs
	}
	lm, rm := left.Multiplicity(), right.Multiplicity()
	distinct := 1.0
	for k := range joinLeft {
		dl := ls / maxf(1, lm(joinLeft[k]))
		dr := rs / maxf(1, rm(joinRight[k]))
		d := maxf(dl, dr)
		if d > distinct {
			distinct = d
		}
	}
	return ls * rs / maxf(1, distinct)
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func (j *Join) Estimates() result.Estimates {
	return j.est.getOrCompute(func() result.Estimates {
		le, re := j.left.Estimates(), j.right.Estimates()
		if le.KnownEmpty || re.KnownEmpty {
			return result.Estimates{KnownEmpty: true}
		}
		size := joinSizeEstimate(j.left, j.right, j.joinLeft, j.joinRight)
		return result.Estimates{
			SizeEstimate: size,
			CostEstimate: le.CostEstimate + re.CostEstimate + le.SizeEstimate + re.SizeEstimate + size,
		}
	})
}

func (j *Join) Multiplicity() result.Multiplicity {
	lm, rm := j.left.Multiplicity(), j.right.Multiplicity()
	leftCols := j.left.NumColumns()
	return func(col int) float64 {
		if col < leftCols {
			return lm(col)
		}
		return rm(j.rightExtra[col-leftCols])
	}
}

func (j *Join) ResultSortedOn() result.SortedColumns {
	if j.alg == JoinIndexNestedLoop {
		// Output order is the left input's order.
		return j.left.ResultSortedOn()
	}
	return result.SortedColumns(append([]int(nil), j.joinLeft...))
}

func (j *Join) SupportsLazy() bool { return false }

func (j *Join) AlwaysDefined(col int) bool {
	leftCols := j.left.NumColumns()
	if col < leftCols {
		// A join column is defined if either side always defines it.
		for k, lc := range j.joinLeft {
			if lc == col {
				if alwaysDefined(j.left, lc) || alwaysDefined(j.right, j.joinRight[k]) {
					return true
				}
			}
		}
		return alwaysDefined(j.left, col)
	}
	return alwaysDefined(j.right, j.rightExtra[col-leftCols])
}

func (j *Join) CacheKey() string {
	return fmt.Sprintf("Join{alg=%d,cols=%v/%v,left=%s,right=%s}", j.alg, j.joinLeft, j.joinRight, j.left.CacheKey(), j.right.CacheKey())
}

// mightContainUndef reports whether any join column on either side might
// carry UNDEF, selecting the zipper's UNDEF-aware path.
func (j *Join) mightContainUndef() bool {
	for k := range j.joinLeft {
		if !alwaysDefined(j.left, j.joinLeft[k]) || !alwaysDefined(j.right, j.joinRight[k]) {
			return true
		}
	}
	return false
}

// writeJoinedRow appends the combined row for a matched pair. UNDEF join
// columns take the other side's value: a row with UNDEF matched against x
// binds to x in the output.
func writeJoinedRow(out *idtable.IdTable, left, right *idtable.IdTable, joinLeft, joinRight, rightExtra []int, p join.Pair, rowBuf []ids.Id) error {
	for c := 0; c < left.NumColumns(); c++ {
		rowBuf[c] = left.Column(c)[p.LeftRow]
	}
	if !p.RightUnmatched {
		for k, lc := range joinLeft {
			if rowBuf[lc].IsUndefined() {
				rowBuf[lc] = right.Column(joinRight[k])[p.RightRow]
			}
		}
	}
	base := left.NumColumns()
	for i, rc := range rightExtra {
		if p.RightUnmatched {
			rowBuf[base+i] = ids.UndefinedId
		} else {
			rowBuf[base+i] = right.Column(rc)[p.RightRow]
		}
	}
	return out.AppendRow(rowBuf)
}

func (j *Join) Compute(ctx context.Context, wantLazy bool) (*result.Result, error) {
	lt, lv, err := materialize(ctx, j.env, j.left)
	if err != nil {
		return nil, err
	}
	rt, rv, err := materialize(ctx, j.env, j.right)
	if err != nil {
		return nil, err
	}
	// Remap local-vocabulary ids into the merged vocabulary before joining
	// so every cell copied below is already valid in the surviving vocab.
	vocab, remapLeft, remapRight := ids.MergeSmallerInto(lv, rv)
	remapTables([]*idtable.IdTable{lt}, remapLeft)
	remapTables([]*idtable.IdTable{rt}, remapRight)

	out := idtable.New(j.NumColumns(), j.env.Q.Alloc)
	rowBuf := make([]ids.Id, j.NumColumns())
	var innerErr error
	n := 0
	yield := func(p join.Pair) bool {
		if err := checkEvery(ctx, j.env, n); err != nil {
			innerErr = err
			return false
		}
		n++
		if err := writeJoinedRow(out, lt, rt, j.joinLeft, j.joinRight, j.rightExtra, p, rowBuf); err != nil {
			innerErr = err
			return false
		}
		return true
	}

	alg := j.alg
	undef := j.mightContainUndef()
	if alg == JoinAuto {
		alg = JoinZipper
	}
	switch alg {
	case JoinIndexNestedLoop:
		join.IndexNestedLoopJoin(lt, rt, j.joinLeft, j.joinRight, yield)
	default:
		if len(j.joinLeft) > 1 {
			join.MultiColumnJoin(lt, rt, j.joinLeft, j.joinRight, undef, yield)
		} else {
			join.ZipperJoin(lt, rt, j.joinLeft, j.joinRight, undef, yield)
		}
	}
	if innerErr != nil {
		return nil, innerErr
	}
	return result.NewMaterialized(out, vocab), nil
}

// OptionalJoin implements the LEFT OUTER contract: every
// left row survives; unmatched rows carry Undefined in every right-only
// column.
type OptionalJoin struct {
	Join
}

func NewOptionalJoin(env *Env, left, right result.Operation) *OptionalJoin {
	oj := &OptionalJoin{}
	oj.Join = *NewJoin(env, left, right, JoinZipper)
	return oj
}

func (j *OptionalJoin) Estimates() result.Estimates {
	return j.est.getOrCompute(func() result.Estimates {
		le, re := j.left.Estimates(), j.right.Estimates()
		if le.KnownEmpty {
			return result.Estimates{KnownEmpty: true}
		}
		size := maxf(le.SizeEstimate, joinSizeEstimate(j.left, j.right, j.joinLeft, j.joinRight))
		return result.Estimates{
			SizeEstimate: size,
			CostEstimate: le.CostEstimate + re.CostEstimate + le.SizeEstimate + re.SizeEstimate + size,
		}
	})
}

func (j *OptionalJoin) AlwaysDefined(col int) bool {
	if col < j.left.NumColumns() {
		return alwaysDefined(j.left, col)
	}
	// Right-only columns may be filled with Undefined.
	return false
}

func (j *OptionalJoin) CacheKey() string {
	return fmt.Sprintf("OptionalJoin{cols=%v/%v,left=%s,right=%s}", j.joinLeft, j.joinRight, j.left.CacheKey(), j.right.CacheKey())
}

func (j *OptionalJoin) Compute(ctx context.Context, wantLazy bool) (*result.Result, error) {
	lt, lv, err := materialize(ctx, j.env, j.left)
	if err != nil {
		return nil, err
	}
	rt, rv, err := materialize(ctx, j.env, j.right)
	if err != nil {
		return nil, err
	}
	vocab, remapLeft, remapRight := ids.MergeSmallerInto(lv, rv)
	remapTables([]*idtable.IdTable{lt}, remapLeft)
	remapTables([]*idtable.IdTable{rt}, remapRight)

	out := idtable.New(j.NumColumns(), j.env.Q.Alloc)
	rowBuf := make([]ids.Id, j.NumColumns())
	var innerErr error
	n := 0
	join.OptionalJoin(lt, rt, j.joinLeft, j.joinRight, j.mightContainUndef(), func(p join.Pair) bool {
		if err := checkEvery(ctx, j.env, n); err != nil {
			innerErr = err
			return false
		}
		n++
		if err := writeJoinedRow(out, lt, rt, j.joinLeft, j.joinRight, j.rightExtra, p, rowBuf); err != nil {
			innerErr = err
			return false
		}
		return true
	})
	if innerErr != nil {
		return nil, innerErr
	}
	// The OPTIONAL pass appends unmatched rows after the merged matches, so
	// the zipper's sort guarantee no longer holds; restore it.
	if len(j.joinLeft) > 0 {
		idtable.SortByColumns(out, j.joinLeft)
	}
	return result.NewMaterialized(out, vocab), nil
}

// Minus drops each left row that has a matching right row under MINUS
// equality. Output columns are exactly the left input's.
type Minus struct {
	env   *Env
	left result.Operation
	right result.Operation

	joinLeft  []int
	joinRight []int
	est estimates
}

func NewMinus(env *Env, left, right result.Operation) *Minus {
	m := &Minus{env: env, left: left, right: right}
	m.joinLeft, m.joinRight = joinColumnPairs(left, right)
	return m
}

func (m *Minus) Variables() result.VariableColumns { return m.left.Variables() }
func (m *Minus) NumColumns() int                   { return m.left.NumColumns() }
func (m *Minus) Children() []result.Operation      { return []result.Operation{m.left, m.right} }
func (m *Minus) JoinColumns() ([]int, []int)       { return m.joinLeft, m.joinRight }

func (m *Minus) Estimates() result.Estimates {
	return m.est.getOrCompute(func() result.Estimates {
		le, re := m.left.Estimates(), m.right.Estimates()
		if le.KnownEmpty {
			return result.Estimates{KnownEmpty: true}
		}
		return result.Estimates{
			SizeEstimate: le.SizeEstimate,
			CostEstimate: le.CostEstimate + re.CostEstimate + le.SizeEstimate + re.SizeEstimate,
		}
	})
}

func (m *Minus) Multiplicity() result.Multiplicity       { return m.left.Multiplicity() }
func (m *Minus) ResultSortedOn() result.SortedColumns    { return m.left.ResultSortedOn() }
func (m *Minus) SupportsLazy() bool                      { return false }
func (m *Minus) AlwaysDefined(col int) bool              { return alwaysDefined(m.left, col) }

func (m *Minus) CacheKey() string {
	return fmt.Sprintf("Minus{cols=%v/%v,left=%s,right=%s}", m.joinLeft, m.joinRight, m.left.CacheKey(), m.right.CacheKey())
}

func (m *Minus) Compute(ctx context.Context, wantLazy bool) (*result.Result, error) {
	lt, lv, err := materialize(ctx, m.env, m.left)
	if err != nil {
		return nil, err
	}
	if len(m.joinLeft) == 0 {
		// No shared variables: MINUS removes nothing.
		return result.NewMaterialized(lt, lv), nil
	}
	rt, _, err := materialize(ctx, m.env, m.right)
	if err != nil {
		return nil, err
	}

	var keep []bool
	if len(m.joinLeft) == 1 &&
		sortedOnPrefix(m.left.ResultSortedOn(), m.joinLeft) &&
		sortedOnPrefix(m.right.ResultSortedOn(), m.joinRight) {
		keep = join.MinusKeepSorted(lt, rt, m.joinLeft[0], m.joinRight[0])
	} else {
		keep = join.MinusKeep(lt, rt, m.joinLeft, m.joinRight)
	}
	out := idtable.New(m.NumColumns(), m.env.Q.Alloc)
	rowBuf := make([]ids.Id, m.NumColumns())
	for r, k := range keep {
		if !k {
			continue
		}
		if err := checkEvery(ctx, m.env, r); err != nil {
			return nil, err
		}
		for c := 0; c < lt.NumColumns(); c++ {
			rowBuf[c] = lt.Column(c)[r]
		}
		if err := out.AppendRow(rowBuf); err != nil {
			return nil, err
		}
	}
	return result.NewMaterialized(out, lv), nil
}

// sortedOnPrefix reports whether want is a prefix of have.
func sortedOnPrefix(have result.SortedColumns, want []int) bool {
	if len(have) < len(want) {
		return false
	}
	for i, c := range want {
		if have[i] != c {
			return false
		}
	}
	return true
}

// alwaysDefined consults the optional definedness interface; operators
// that don't implement it are conservatively assumed to possibly produce
// UNDEF.
type definedness interface {
	AlwaysDefined(col int) bool
}

func alwaysDefined(op result.Operation, col int) bool {
	if d, ok := op.(definedness); ok {
		return d.AlwaysDefined(col)
	}
	return false
}

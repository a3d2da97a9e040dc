package ops

import (
	"context"
	"testing"

	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/qctx"
	"github.com/aleksaelezovic/trigo/internal/engine/result"
)

func testEnv() *Env {
	return &Env{Q: qctx.New(0, qctx.DefaultParams())}
}

// tableOp wraps a fixed table as an Operation, the test stand-in for an
// arbitrary child.
type tableOp struct {
	table    *idtable.IdTable
	vars result.VariableColumns
	sortedOn result.SortedColumns
	defined bool
}

func newTableOp(vars []string, sortedOn []int, defined bool, rows ...[]ids.Id) *tableOp {
	t := idtable.New(len(vars), nil)
	for _, r := range rows {
		if err := t.AppendRow(r); err != nil {
			panic(err)
		}
	}
	vc := result.VariableColumns{}
	for i, v := range vars {
		vc[v] = i
	}
	return &tableOp{table: t, vars: vc, sortedOn: sortedOn, defined: defined}
}

func (o *tableOp) Variables() result.VariableColumns { return o.vars }
func (o *tableOp) NumColumns() int                   { return o.table.NumColumns() }
func (o *tableOp) Estimates() result.Estimates {
	return result.Estimates{SizeEstimate: float64(o.table.NumRows()), CostEstimate: float64(o.table.NumRows())}
}
func (o *tableOp) Multiplicity() result.Multiplicity    { return func(int) float64 { return 1 } }
func (o *tableOp) ResultSortedOn() result.SortedColumns { return o.sortedOn }
func (o *tableOp) SupportsLazy() bool                   { return false }
func (o *tableOp) AlwaysDefined(col int) bool           { return o.defined }
func (o *tableOp) CacheKey() string                     { return "tableOp{}" }
func (o *tableOp) Compute(ctx context.Context, wantLazy bool) (*result.Result, error) {
	return result.NewMaterialized(o.table, ids.NewLocalVocab()), nil
}

func v(i uint64) ids.Id { return ids.FromVocabIndex(i) }

func rowsOf(t *testing.T, op result.Operation) [][]ids.Id {
	t.Helper()
	res, err := op.Compute(context.Background(), false)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	table := res.Table
	var out [][]ids.Id
	for r := 0; r < table.NumRows(); r++ {
		out = append(out, table.Row(r))
	}
	return out
}

func TestJoinUndefMatchesAndBinds(t *testing.T) {
	env := testEnv()
	// Left has an UNDEF join value; it must match any right value, and the
	// output's join column must carry the right side's concrete value.
	left := newTableOp([]string{"a"}, []int{0}, false,
		[]ids.Id{ids.UndefinedId},
		[]ids.Id{v(3)},
	)
	right := newTableOp([]string{"a", "b"}, []int{0}, true,
		[]ids.Id{v(3), v(10)},
		[]ids.Id{v(4), v(11)},
	)
	j := NewJoin(env, left, right, JoinZipper)
	rows := rowsOf(t, j)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows (UNDEF x 2 + exact 1), got %d", len(rows))
	}
	for _, row := range rows {
		if row[0].IsUndefined() {
			t.Fatalf("join column must be bound to the matched value, got UNDEF in %v", row)
		}
	}
}

func TestJoinCommutativeRowMultiset(t *testing.T) {
	env := testEnv()
	left := newTableOp([]string{"a", "l"}, []int{0}, true,
		[]ids.Id{v(1), v(100)},
		[]ids.Id{v(2), v(101)},
		[]ids.Id{v(2), v(102)},
	)
	right := newTableOp([]string{"a", "r"}, []int{0}, true,
		[]ids.Id{v(2), v(200)},
		[]ids.Id{v(3), v(201)},
	)
	ab := rowsOf(t, NewJoin(env, left, right, JoinZipper))
	ba := rowsOf(t, NewJoin(env, right, left, JoinZipper))
	if len(ab) != len(ba) || len(ab) != 2 {
		t.Fatalf("join must be commutative in row count: %d vs %d", len(ab), len(ba))
	}
}

func TestOptionalJoinFillsUndef(t *testing.T) {
	env := testEnv()
	left := newTableOp([]string{"a"}, []int{0}, true,
		[]ids.Id{v(1)},
		[]ids.Id{v(2)},
	)
	right := newTableOp([]string{"a", "b"}, []int{0}, true,
		[]ids.Id{v(2), v(20)},
	)
	oj := NewOptionalJoin(env, left, right)
	rows := rowsOf(t, oj)
	if len(rows) != 2 {
		t.Fatalf("expected both left rows to survive, got %d", len(rows))
	}
	matched, unmatched := false, false
	for _, row := range rows {
		if row[0] == v(1) && row[1].IsUndefined() {
			unmatched = true
		}
		if row[0] == v(2) && row[1] == v(20) {
			matched = true
		}
	}
	if !matched || !unmatched {
		t.Fatalf("expected one matched and one UNDEF-extended row, got %v", rows)
	}
}

func TestMinusUndefDoesNotSuppress(t *testing.T) {
	env := testEnv()
	// Right row is UNDEF on the only join column: it must not suppress
	// anything (a match that holds solely because both sides are UNDEF
	// keeps the row, and UNDEF never matches a concrete value).
	left := newTableOp([]string{"a"}, []int{0}, false,
		[]ids.Id{ids.UndefinedId},
		[]ids.Id{v(1)},
	)
	right := newTableOp([]string{"a"}, []int{0}, false,
		[]ids.Id{ids.UndefinedId},
	)
	m := NewMinus(env, left, right)
	rows := rowsOf(t, m)
	if len(rows) != 2 {
		t.Fatalf("expected both rows kept, got %v", rows)
	}

	// A concrete right value suppresses exactly the agreeing left row.
	right2 := newTableOp([]string{"a"}, []int{0}, true, []ids.Id{v(1)})
	rows2 := rowsOf(t, NewMinus(env, left, right2))
	if len(rows2) != 1 || !rows2[0][0].IsUndefined() {
		t.Fatalf("expected only the UNDEF row kept, got %v", rows2)
	}
}

func TestCartesianProductStrideFill(t *testing.T) {
	env := testEnv()
	a := newTableOp([]string{"a"}, nil, true, []ids.Id{v(1)}, []ids.Id{v(2)})
	b := newTableOp([]string{"b"}, nil, true, []ids.Id{v(10)}, []ids.Id{v(11)}, []ids.Id{v(12)})
	cp, err := NewCartesianProduct(env, []result.Operation{a, b})
	if err != nil {
		t.Fatalf("NewCartesianProduct: %v", err)
	}
	rows := rowsOf(t, cp)
	if len(rows) != 6 {
		t.Fatalf("expected 6 rows, got %d", len(rows))
	}
	seen := map[[2]ids.Id]bool{}
	for _, row := range rows {
		seen[[2]ids.Id{row[0], row[1]}] = true
	}
	if len(seen) != 6 {
		t.Fatalf("expected all distinct combinations, got %d", len(seen))
	}
}

func TestCartesianLimitOffset(t *testing.T) {
	env := testEnv()
	a := newTableOp([]string{"a"}, nil, true, []ids.Id{v(1)}, []ids.Id{v(2)})
	b := newTableOp([]string{"b"}, nil, true, []ids.Id{v(10)}, []ids.Id{v(11)})
	cp, err := NewCartesianProduct(env, []result.Operation{a, b})
	if err != nil {
		t.Fatalf("NewCartesianProduct: %v", err)
	}
	if !cp.SetLimit(2, 1) {
		t.Fatal("cartesian product must accept LIMIT/OFFSET natively")
	}
	rows := rowsOf(t, cp)
	if len(rows) != 2 {
		t.Fatalf("expected rows [1,3) of the product, got %d", len(rows))
	}
}

func TestCartesianLazyMatchesMaterialized(t *testing.T) {
	env := testEnv()
	a := newTableOp([]string{"a"}, nil, true, []ids.Id{v(1)}, []ids.Id{v(2)})
	b := newTableOp([]string{"b"}, nil, true, []ids.Id{v(10)}, []ids.Id{v(11)}, []ids.Id{v(12)})
	cp, err := NewCartesianProduct(env, []result.Operation{a, b})
	if err != nil {
		t.Fatalf("NewCartesianProduct: %v", err)
	}
	materialized := rowsOf(t, cp)

	res, err := cp.Compute(context.Background(), true)
	if err != nil {
		t.Fatalf("lazy Compute: %v", err)
	}
	if !res.Lazy {
		t.Fatal("expected a lazy result")
	}
	var streamed [][]ids.Id
	for {
		blk, ok, err := res.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		for r := 0; r < blk.Table.NumRows(); r++ {
			streamed = append(streamed, blk.Table.Row(r))
		}
	}
	if len(streamed) != len(materialized) {
		t.Fatalf("lazy rows %d != materialized rows %d", len(streamed), len(materialized))
	}
	for i := range streamed {
		for c := range streamed[i] {
			if streamed[i][c] != materialized[i][c] {
				t.Fatalf("row %d differs between lazy and materialized", i)
			}
		}
	}
}

func TestLimitOffsetIdempotence(t *testing.T) {
	env := testEnv()
	base := newTableOp([]string{"a"}, []int{0}, true,
		[]ids.Id{v(1)}, []ids.Id{v(2)}, []ids.Id{v(3)}, []ids.Id{v(4)}, []ids.Id{v(5)})

	// apply(apply(r, l, o1), l, o2) == apply(r, l, o1+o2) when both fit
	// (the limit does not truncate either application).
	once := NewLimitOffset(env, base, 10, 1)
	twice := NewLimitOffset(env, NewLimitOffset(env, base, 10, 1), 10, 1)
	combined := NewLimitOffset(env, base, 10, 2)

	r1 := rowsOf(t, twice)
	r2 := rowsOf(t, combined)
	if len(r1) != len(r2) {
		t.Fatalf("nested offsets %d rows, combined %d rows", len(r1), len(r2))
	}
	for i := range r1 {
		if r1[i][0] != r2[i][0] {
			t.Fatalf("row %d differs", i)
		}
	}

	// Applying the same limit twice is a no-op.
	again := NewLimitOffset(env, once, 10, 0)
	ra, rb := rowsOf(t, once), rowsOf(t, again)
	if len(ra) != len(rb) {
		t.Fatalf("re-applying the same limit changed the row count")
	}
}

func TestFilterDropsUndefAndFalse(t *testing.T) {
	env := testEnv()
	child := newTableOp([]string{"a"}, []int{0}, false,
		[]ids.Id{ids.UndefinedId},
		[]ids.Id{ids.FromInt(1)},
		[]ids.Id{ids.FromInt(5)},
	)
	f := NewFilter(env, child, &CompareExpr{
		Op:   CmpGt,
		Left: &VarExpr{Name: "a"}, Right: &ConstExpr{Id: ids.FromInt(2)},
	})
	rows := rowsOf(t, f)
	if len(rows) != 1 || rows[0][0] != ids.FromInt(5) {
		t.Fatalf("expected only the row with 5, got %v", rows)
	}
}

func TestFilterBinarySearchMatchesScan(t *testing.T) {
	env := testEnv()
	// Sorted leading column: the interval fast path must agree with the
	// row-by-row evaluation.
	child := newTableOp([]string{"a"}, []int{0}, true,
		[]ids.Id{v(1)}, []ids.Id{v(2)}, []ids.Id{v(2)}, []ids.Id{v(5)}, []ids.Id{v(9)})
	for _, op := range []CompareOp{CmpEq, CmpNe, CmpLt, CmpLe, CmpGt, CmpGe} {
		f := NewFilter(env, child, &CompareExpr{
			Op:   op,
			Left: &VarExpr{Name: "a"}, Right: &ConstExpr{Id: v(2)},
		})
		if f.binarySearchable() == nil {
			t.Fatalf("%v: expected the binary-search fast path to apply", op)
		}
		fast := rowsOf(t, f)
		// Count by brute force.
		want := 0
		for _, val := range []uint64{1, 2, 2, 5, 9} {
			if ids.PassesFilter(evalCompare(op, v(val), v(2))) {
				want++
			}
		}
		if len(fast) != want {
			t.Fatalf("%v: fast path %d rows, brute force %d", op, len(fast), want)
		}
	}
}

func TestDistinctKeepsFirstOfRun(t *testing.T) {
	env := testEnv()
	child := newTableOp([]string{"a"}, []int{0}, true,
		[]ids.Id{v(1)}, []ids.Id{v(1)}, []ids.Id{v(2)}, []ids.Id{v(2)}, []ids.Id{v(3)})
	d := NewDistinct(env, child)
	rows := rowsOf(t, d)
	if len(rows) != 3 {
		t.Fatalf("expected 3 distinct rows, got %d", len(rows))
	}
}

func TestGroupByAggregateValues(t *testing.T) {
	env := testEnv()
	child := newTableOp([]string{"g", "x"}, []int{0}, true,
		[]ids.Id{v(1), ids.FromInt(2)},
		[]ids.Id{v(1), ids.FromInt(4)},
		[]ids.Id{v(2), ids.FromInt(10)},
	)
	gb, err := NewGroupBy(env, child, []string{"g"}, []Aggregate{
		{Kind: AggCount, Expr: &VarExpr{Name: "x"}, OutVar: "n"},
		{Kind: AggSum, Expr: &VarExpr{Name: "x"}, OutVar: "s"},
		{Kind: AggAvg, Expr: &VarExpr{Name: "x"}, OutVar: "avg"},
		{Kind: AggMin, Expr: &VarExpr{Name: "x"}, OutVar: "min"},
		{Kind: AggMax, Expr: &VarExpr{Name: "x"}, OutVar: "max"},
	})
	if err != nil {
		t.Fatalf("NewGroupBy: %v", err)
	}
	rows := rowsOf(t, gb)
	if len(rows) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(rows))
	}
	first := rows[0]
	if first[1] != ids.FromInt(2) || first[2] != ids.FromInt(6) {
		t.Fatalf("group 1: expected COUNT=2 SUM=6, got %v", first)
	}
	if first[3].AsDouble() != 3.0 {
		t.Fatalf("group 1: expected AVG=3, got %v", first[3].AsDouble())
	}
	if first[4] != ids.FromInt(2) || first[5] != ids.FromInt(4) {
		t.Fatalf("group 1: expected MIN=2 MAX=4, got %v", first)
	}
}

func TestUnionHarmonizesColumns(t *testing.T) {
	env := testEnv()
	left := newTableOp([]string{"a"}, []int{0}, true, []ids.Id{v(1)})
	right := newTableOp([]string{"b"}, []int{0}, true, []ids.Id{v(2)})
	u := NewUnion(env, left, right)
	rows := rowsOf(t, u)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, row := range rows {
		defined := 0
		for _, c := range row {
			if !c.IsUndefined() {
				defined++
			}
		}
		if defined != 1 {
			t.Fatalf("each union row must bind exactly one side, got %v", row)
		}
	}
}

func TestTransitivePathBounds(t *testing.T) {
	env := testEnv()
	// Edge chain 1 -> 2 -> 3 -> 4.
	edges := newTableOp([]string{"s", "o"}, []int{0, 1}, true,
		[]ids.Id{v(1), v(2)},
		[]ids.Id{v(2), v(3)},
		[]ids.Id{v(3), v(4)},
	)
	tp, err := NewTransitivePath(env, edges, PathSide{Value: v(1)}, PathSide{Var: "y"}, 1, 2)
	if err != nil {
		t.Fatalf("NewTransitivePath: %v", err)
	}
	rows := rowsOf(t, tp)
	if len(rows) != 2 {
		t.Fatalf("expected targets at distance 1..2 only, got %v", rows)
	}

	// Reflexive closure includes the seed itself.
	tp0, err := NewTransitivePath(env, edges, PathSide{Value: v(1)}, PathSide{Var: "y"}, 0, 0)
	if err != nil {
		t.Fatalf("NewTransitivePath: %v", err)
	}
	rows0 := rowsOf(t, tp0)
	if len(rows0) != 4 {
		t.Fatalf("expected {1,2,3,4} under min=0 unbounded, got %v", rows0)
	}
}

func TestTextLimitKeepsTopNPerEntity(t *testing.T) {
	env := testEnv()
	// Columns: record, entity, score.
	child := newTableOp([]string{"rec", "ent", "score"}, nil, true,
		[]ids.Id{ids.FromTextRecordIndex(1), v(1), ids.FromDouble(1)},
		[]ids.Id{ids.FromTextRecordIndex(2), v(1), ids.FromDouble(3)},
		[]ids.Id{ids.FromTextRecordIndex(3), v(1), ids.FromDouble(2)},
		[]ids.Id{ids.FromTextRecordIndex(4), v(2), ids.FromDouble(1)},
	)
	tl := NewTextLimit(env, child, 2, 0, []int{1}, []int{2})
	rows := rowsOf(t, tl)
	if len(rows) != 3 {
		t.Fatalf("expected 2 records for entity 1 plus 1 for entity 2, got %d", len(rows))
	}
	for _, row := range rows {
		if row[1] == v(1) && row[0] == ids.FromTextRecordIndex(1) {
			t.Fatalf("lowest-scoring record of entity 1 must be dropped, got %v", rows)
		}
	}
}

func TestLazyResultPanicsWhenConsumedPastEnd(t *testing.T) {
	// A lazy Result is single-consumption: calling Next again after the
	// stream has ended must panic.
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic on double consumption of a lazy result")
		}
	}()
	p := &exhaustedProducer{}
	r := result.NewLazy(p)
	_, ok, _ := r.Next(context.Background())
	if ok {
		t.Fatal("expected immediate end of stream")
	}
	r.Next(context.Background()) // must panic: consumed past its end
}

type exhaustedProducer struct{}

func (*exhaustedProducer) Next(ctx context.Context) (result.Block, bool, error) {
	return result.Block{}, false, nil
}
func (*exhaustedProducer) Close() error { return nil }

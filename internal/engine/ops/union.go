package ops

import (
	"context"
	"fmt"

	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/merge"
	"github.com/aleksaelezovic/trigo/internal/engine/result"
)

// Union concatenates two results with column harmonization: the output's
// variable set is the union of the children's, and columns missing on one
// side are filled with Undefined. If both children are
// sorted on the same mapped column prefix, the two inputs are
// merge-interleaved instead and the prefix is preserved.
type Union struct {
	env   *Env
	left result.Operation
	right result.Operation

	vars result.VariableColumns
	// leftMap/rightMap give, for each output column, the corresponding
	// child column or -1 (fill with Undefined).
	leftMap  []int
	rightMap []int
	est estimates
}

func NewUnion(env *Env, left, right result.Operation) *Union {
	u := &Union{env: env, left: left, right: right}
	vars, rightExtraNames, _ := mergeVariables(left.Variables(), right.Variables(), left.NumColumns())
	u.vars = vars
	n := left.NumColumns() + len(rightExtraNames)
	u.leftMap = make([]int, n)
	u.rightMap = make([]int, n)
	lv, rv := left.Variables(), right.Variables()
	for i := range u.leftMap {
		u.leftMap[i] = -1
		u.rightMap[i] = -1
	}
	for name, out := range vars {
		if c, ok := lv[name]; ok {
			u.leftMap[out] = c
		}
		if c, ok := rv[name]; ok {
			u.rightMap[out] = c
		}
	}
	return u
}

func (u *Union) Variables() result.VariableColumns { return u.vars }
func (u *Union) NumColumns() int                   { return len(u.leftMap) }
func (u *Union) Children() []result.Operation      { return []result.Operation{u.left, u.right} }

func (u *Union) Estimates() result.Estimates {
	return u.est.getOrCompute(func() result.Estimates {
		le, re := u.left.Estimates(), u.right.Estimates()
		if le.KnownEmpty && re.KnownEmpty {
			return result.Estimates{KnownEmpty: true}
		}
		return result.Estimates{
			SizeEstimate: le.SizeEstimate + re.SizeEstimate,
			CostEstimate: le.CostEstimate + re.CostEstimate + le.SizeEstimate + re.SizeEstimate,
		}
	})
}

func (u *Union) Multiplicity() result.Multiplicity {
	lm, rm := u.left.Multiplicity(), u.right.Multiplicity()
	return func(col int) float64 {
		m := 0.0
		if u.leftMap[col] >= 0 {
			m += lm(u.leftMap[col])
		}
		if u.rightMap[col] >= 0 {
			m += rm(u.rightMap[col])
		}
		return maxf(1, m)
	}
}

// sharedSortedPrefix maps both children's sorted columns into output
// columns and returns the longest common prefix, or nil.
func (u *Union) sharedSortedPrefix() result.SortedColumns {
	mapSorted := func(sorted result.SortedColumns, childMap []int) []int {
		var out []int
		for _, sc := range sorted {
			found := -1
			for outCol, cc := range childMap {
				if cc == sc {
					found = outCol
					break
				}
			}
			if found < 0 {
				break
			}
			out = append(out, found)
		}
		return out
	}
	ls := mapSorted(u.left.ResultSortedOn(), u.leftMap)
	rs := mapSorted(u.right.ResultSortedOn(), u.rightMap)
	var prefix result.SortedColumns
	for i := 0; i < len(ls) && i < len(rs); i++ {
		if ls[i] != rs[i] {
			break
		}
		prefix = append(prefix, ls[i])
	}
	return prefix
}

func (u *Union) ResultSortedOn() result.SortedColumns {
	if u.left.Estimates().KnownEmpty {
		return u.mapChildSorted(u.right.ResultSortedOn(), u.rightMap)
	}
	if u.right.Estimates().KnownEmpty {
		return u.mapChildSorted(u.left.ResultSortedOn(), u.leftMap)
	}
	return u.sharedSortedPrefix()
}

func (u *Union) mapChildSorted(sorted result.SortedColumns, childMap []int) result.SortedColumns {
	var out result.SortedColumns
	for _, sc := range sorted {
		found := -1
		for outCol, cc := range childMap {
			if cc == sc {
				found = outCol
				break
			}
		}
		if found < 0 {
			break
		}
		out = append(out, found)
	}
	return out
}

func (u *Union) SupportsLazy() bool { return false }

func (u *Union) AlwaysDefined(col int) bool {
	lc, rc := u.leftMap[col], u.rightMap[col]
	if lc < 0 || rc < 0 {
		return false
	}
	return alwaysDefined(u.left, lc) && alwaysDefined(u.right, rc)
}

func (u *Union) CacheKey() string {
	return fmt.Sprintf("Union{left=%s,right=%s}", u.left.CacheKey(), u.right.CacheKey())
}

// harmonize projects a child table into the union's column layout.
func (u *Union) harmonize(t *idtable.IdTable, childMap []int) (*idtable.IdTable, error) {
	out := idtable.New(u.NumColumns(), u.env.Q.Alloc)
	n := t.NumRows()
	if err := out.Reserve(n); err != nil {
		return nil, err
	}
	for c, cc := range childMap {
		data := make([]ids.Id, n)
		if cc >= 0 {
			copy(data, t.Column(cc))
		} else {
			for i := range data {
				data[i] = ids.UndefinedId
			}
		}
		out.SetColumn(c, data)
	}
	out.SetRows(n)
	return out, nil
}

func (u *Union) Compute(ctx context.Context, wantLazy bool) (*result.Result, error) {
	lt, lv, err := materialize(ctx, u.env, u.left)
	if err != nil {
		return nil, err
	}
	rt, rv, err := materialize(ctx, u.env, u.right)
	if err != nil {
		return nil, err
	}
	vocab, remapLeft, remapRight := ids.MergeSmallerInto(lv, rv)

	lh, err := u.harmonize(lt, u.leftMap)
	if err != nil {
		return nil, err
	}
	rh, err := u.harmonize(rt, u.rightMap)
	if err != nil {
		return nil, err
	}
	remapTables([]*idtable.IdTable{lh}, remapLeft)
	remapTables([]*idtable.IdTable{rh}, remapRight)

	if prefix := u.sharedSortedPrefix(); len(prefix) > 0 {
		// Both sides sorted on the same prefix: interleave with the binary
		// merge so the output stays sorted on it.
		merged := merge.Merge(ctx, []merge.Stream{
			merge.NewSliceStream(lh),
			merge.NewSliceStream(rh),
		}, prefix, ChunkSize, u.env.Q.Alloc, u.NumColumns())
		out := idtable.New(u.NumColumns(), u.env.Q.Alloc)
		for {
			blk, ok, err := merged.Next(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			if err := out.Append(blk); err != nil {
				return nil, err
			}
		}
		return result.NewMaterialized(out, vocab), nil
	}

	if err := lh.Append(rh); err != nil {
		return nil, err
	}
	return result.NewMaterialized(lh, vocab), nil
}

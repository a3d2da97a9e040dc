package ops

import (
	"context"
	"fmt"

	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/result"
)

// PathSide describes one endpoint of a transitive path: either a fixed Id
// or a variable.
type PathSide struct {
	Value ids.Id // meaningful when Var == ""
	Var string
}

func (s PathSide) bound() bool { return s.Var == "" }

// TransitivePath computes the transitive closure of a single-edge relation
// between two endpoints with path-length bounds [Min, Max].
// The edge relation is the sub-operation's two columns (source, target).
// Output columns: start, then end (only the variable endpoints become
// output columns). Results are sorted on the output columns.
type TransitivePath struct {
	env  *Env
	sub result.Operation // two columns: edge source, edge target
	lhs  PathSide
	rhs  PathSide
	min int
	max int // <= 0 means unbounded

	vars result.VariableColumns
	est estimates
}

func NewTransitivePath(env *Env, sub result.Operation, lhs, rhs PathSide, min, max int) (*TransitivePath, error) {
	if sub.NumColumns() != 2 {
		return nil, contractf("transitive path edge input must have exactly 2 columns, got %d", sub.NumColumns())
	}
	tp := &TransitivePath{env: env, sub: sub, lhs: lhs, rhs: rhs, min: min, max: max}
	tp.vars = make(result.VariableColumns)
	col := 0
	if !lhs.bound() {
		tp.vars[lhs.Var] = col
		col++
	}
	if !rhs.bound() {
		tp.vars[rhs.Var] = col
	}
	return tp, nil
}

func (tp *TransitivePath) Variables() result.VariableColumns { return tp.vars }
func (tp *TransitivePath) NumColumns() int                   { return len(tp.vars) }
func (tp *TransitivePath) Children() []result.Operation      { return []result.Operation{tp.sub} }

func (tp *TransitivePath) Estimates() result.Estimates {
	return tp.est.getOrCompute(func() result.Estimates {
		e := tp.sub.Estimates()
		if e.KnownEmpty && tp.min > 0 {
			return result.Estimates{KnownEmpty: true}
		}
		size := e.SizeEstimate
		if !tp.lhs.bound() && !tp.rhs.bound() {
			// Closure of an unbound path can be quadratic in the worst
			// case; estimate a modest expansion.
			size *= 4
		}
		if tp.lhs.bound() != tp.rhs.bound() {
			// One side bound prunes the BFS to a single seed's reachable set.
			size = maxf(1, size/maxf(1, e.SizeEstimate/16))
		}
		if tp.lhs.bound() && tp.rhs.bound() {
			size = 1
		}
		return result.Estimates{SizeEstimate: size, CostEstimate: e.CostEstimate + e.SizeEstimate + size}
	})
}

func (tp *TransitivePath) Multiplicity() result.Multiplicity {
	return func(col int) float64 { return 1 }
}

func (tp *TransitivePath) ResultSortedOn() result.SortedColumns {
	cols := make(result.SortedColumns, tp.NumColumns())
	for i := range cols {
		cols[i] = i
	}
	return cols
}

func (tp *TransitivePath) SupportsLazy() bool          { return false }
func (tp *TransitivePath) AlwaysDefined(col int) bool  { return true }

func (tp *TransitivePath) CacheKey() string {
	side := func(s PathSide) string {
		if s.bound() {
			return fmt.Sprintf("#%d", uint64(s.Value))
		}
		return "?" + s.Var
	}
	return fmt.Sprintf("TransitivePath{lhs=%s,rhs=%s,min=%d,max=%d,sub=%s}",
		side(tp.lhs), side(tp.rhs), tp.min, tp.max, tp.sub.CacheKey())
}

// adjacency is the BFS edge map built from the materialized sub-result.
type adjacency map[ids.Id][]ids.Id

func buildAdjacency(t *idtable.IdTable, srcCol, dstCol int) adjacency {
	adj := make(adjacency, t.NumRows())
	src, dst := t.Column(srcCol), t.Column(dstCol)
	for i := range src {
		adj[src[i]] = append(adj[src[i]], dst[i])
	}
	return adj
}

// reachable runs a BFS from seed over adj, collecting every node whose
// path length from seed lies within [min, max]. Duplicates are suppressed
// per (seed, node) pair; max <= 0 means unbounded.
func (tp *TransitivePath) reachable(ctx context.Context, adj adjacency, seed ids.Id) ([]ids.Id, error) {
	type item struct {
		node ids.Id
		dist int
	}
	var out []ids.Id
	visited := map[ids.Id]bool{seed: true}
	queue := []item{{seed, 0}}
	if tp.min == 0 {
		out = append(out, seed)
	}
	n := 0
	for len(queue) > 0 {
		if err := checkEvery(ctx, tp.env, n); err != nil {
			return nil, err
		}
		n++
		cur := queue[0]
		queue = queue[1:]
		if tp.max > 0 && cur.dist >= tp.max {
			continue
		}
		for _, next := range adj[cur.node] {
			if visited[next] {
				continue
			}
			visited[next] = true
			d := cur.dist + 1
			if d >= tp.min {
				out = append(out, next)
			}
			queue = append(queue, item{next, d})
		}
	}
	return out, nil
}

func (tp *TransitivePath) Compute(ctx context.Context, wantLazy bool) (*result.Result, error) {
	t, v, err := materialize(ctx, tp.env, tp.sub)
	if err != nil {
		return nil, err
	}

	// Right-bound-only paths BFS over reversed edges from the right seed.
	reversed := tp.rhs.bound() && !tp.lhs.bound()
	srcCol, dstCol := 0, 1
	if reversed {
		srcCol, dstCol = 1, 0
	}
	adj := buildAdjacency(t, srcCol, dstCol)

	var seeds []ids.Id
	switch {
	case tp.lhs.bound():
		seeds = []ids.Id{tp.lhs.Value}
	case tp.rhs.bound():
		seeds = []ids.Id{tp.rhs.Value}
	default:
		// Unbound: BFS from every distinct edge source.
		seen := make(map[ids.Id]bool)
		for _, s := range t.Column(0) {
			if !seen[s] {
				seen[s] = true
				seeds = append(seeds, s)
			}
		}
	}

	out := idtable.New(tp.NumColumns(), tp.env.Q.Alloc)
	appendPair := func(start, end ids.Id) error {
		switch tp.NumColumns() {
		case 2:
			return out.AppendRow([]ids.Id{start, end})
		case 1:
			if !tp.lhs.bound() {
				return out.AppendRow([]ids.Id{start})
			}
			return out.AppendRow([]ids.Id{end})
		default:
			// Both bound: emit one empty row per reachable witness.
			return out.AppendRow(nil)
		}
	}

	for _, seed := range seeds {
		targets, err := tp.reachable(ctx, adj, seed)
		if err != nil {
			return nil, err
		}
		for _, tgt := range targets {
			start, end := seed, tgt
			if reversed {
				start, end = tgt, seed
			}
			if tp.lhs.bound() && tp.rhs.bound() {
				if tgt != tp.rhs.Value {
					continue
				}
			}
			if err := appendPair(start, end); err != nil {
				return nil, err
			}
			if tp.lhs.bound() && tp.rhs.bound() {
				break
			}
		}
	}
	if tp.NumColumns() > 0 {
		idtable.SortByColumns(out, tp.ResultSortedOn())
	}
	return result.NewMaterialized(out, v), nil
}

package idtable

import (
	"github.com/aleksaelezovic/trigo/internal/engine/ids"
)

// IdTable is a column-major matrix of ids.Id with a fixed column count set
// at construction. Every allocation of column backing storage goes through
// an Allocator so a query can enforce a memory ceiling.
//
// Column-major storage (one []ids.Id slice per column, instead of a single
// row-major slice) is what makes column-subset projection zero-copy: a
// view just keeps a slice of the original column slices.
type IdTable struct {
	cols  []columnData
	rows int
	alloc *Allocator
}

// columnData is boxed so that multiple IdTable views can share the same
// backing slice without copying.
type columnData struct {
	data []ids.Id
}

// New creates an empty IdTable with numCols columns, backed by alloc (nil
// means unbounded).
func New(numCols int, alloc *Allocator) *IdTable {
	t := &IdTable{
		cols:  make([]columnData, numCols),
		alloc: alloc,
	}
	return t
}

// NumColumns reports the fixed column count.
func (t *IdTable) NumColumns() int { return len(t.cols) }

// NumRows reports the current row count.
func (t *IdTable) NumRows() int { return t.rows }

// Allocator returns the allocator backing this table's growth.
func (t *IdTable) Allocator() *Allocator { return t.alloc }

// Column returns the backing slice for column c, truncated to NumRows.
// Callers must not retain it across a subsequent AppendRow/Resize that
// might reallocate, and must not mutate entries shared with a projected
// view unless they own the only reference (SetColumn replaces the slice
// rather than mutating shared backing arrays, to keep views coherent).
func (t *IdTable) Column(c int) []ids.Id {
	return t.cols[c].data[:t.rows]
}

// growColumn grows column c's backing array by amortized doubling to hold
// at least n rows, reserving the delta through the allocator.
func (t *IdTable) growColumn(c, n int) error {
	cur := t.cols[c].data
	if cap(cur) >= n {
		return nil
	}
	newCap := cap(cur)
	if newCap == 0 {
		newCap = 8
	}
	for newCap < n {
		newCap *= 2
	}
	if err := t.alloc.Reserve(newCap - cap(cur)); err != nil {
		return err
	}
	grown := make([]ids.Id, len(cur), newCap)
	copy(grown, cur)
	t.cols[c].data = grown
	return nil
}

// AppendRow appends one row. len(row) must equal NumColumns().
func (t *IdTable) AppendRow(row []ids.Id) error {
	if len(row) != len(t.cols) {
		panic("idtable: row width mismatch")
	}
	for c := range t.cols {
		if err := t.growColumn(c, t.rows+1); err != nil {
			return err
		}
	}
	for c, v := range row {
		t.cols[c].data = append(t.cols[c].data[:t.rows], v)
	}
	t.rows++
	return nil
}

// Reserve pre-grows every column to hold at least n rows, amortizing
// AppendRow's per-call growth checks when the final size is known (e.g.
// sort-merge join precomputing a Cartesian run's size).
func (t *IdTable) Reserve(n int) error {
	for c := range t.cols {
		if err := t.growColumn(c, n); err != nil {
			return err
		}
	}
	return nil
}

// SetRows sets the logical row count directly after callers have written
// into columns obtained via Column() up to index n-1 (used by operators
// that fill column-by-column, e.g. the Cartesian product join). n must not
// exceed any column's capacity; call Reserve(n) first.
func (t *IdTable) SetRows(n int) {
	for c := range t.cols {
		if cap(t.cols[c].data) < n {
			panic("idtable: SetRows exceeds reserved capacity")
		}
		t.cols[c].data = t.cols[c].data[:n]
	}
	t.rows = n
}

// SetColumn replaces column c's data with data (no copy), used when an
// operator has computed a column independently (e.g. replicate/stride
// fills in Cartesian product) and wants to install it without a redundant
// per-row AppendRow.
func (t *IdTable) SetColumn(c int, data []ids.Id) {
	t.cols[c].data = data
	if len(data) > t.rows {
		t.rows = len(data)
	}
}

// View returns a zero-copy projection of this table onto the given column
// indices, in the given order (columns may repeat or be omitted). The view
// shares backing arrays with t; mutating t's rows after constructing a view
// is unsafe once the view has been read.
func (t *IdTable) View(colIdx ...int) *IdTable {
	v := &IdTable{
		cols:  make([]columnData, len(colIdx)),
		rows:  t.rows,
		alloc: t.alloc,
	}
	for i, c := range colIdx {
		v.cols[i] = t.cols[c]
	}
	return v
}

// Clone deep-copies t into a freshly allocated table (used when a result
// must be materialized independent of a source that may mutate, e.g.
// caching a lazy block).
func (t *IdTable) Clone() (*IdTable, error) {
	out := New(len(t.cols), t.alloc)
	if err := out.Reserve(t.rows); err != nil {
		return nil, err
	}
	for c := range t.cols {
		data := make([]ids.Id, t.rows)
		copy(data, t.cols[c].data[:t.rows])
		out.cols[c].data = data
	}
	out.rows = t.rows
	return out, nil
}

// Row returns a freshly allocated copy of row r across all columns, used
// by consumers that want a stable snapshot (e.g. Binding export).
func (t *IdTable) Row(r int) []ids.Id {
	row := make([]ids.Id, len(t.cols))
	for c := range t.cols {
		row[c] = t.cols[c].data[r]
	}
	return row
}

// Append concatenates other's rows onto t in place (used by lazy block
// consumers that accumulate a materialized result, and by Union). Column
// counts must match.
func (t *IdTable) Append(other *IdTable) error {
	if other.rows == 0 {
		return nil
	}
	if err := t.Reserve(t.rows + other.rows); err != nil {
		return err
	}
	for c := range t.cols {
		t.cols[c].data = append(t.cols[c].data[:t.rows], other.cols[c].data[:other.rows]...)
	}
	t.rows += other.rows
	return nil
}

// Slice returns a zero-copy row-range view [lo, hi) over all columns.
func (t *IdTable) Slice(lo, hi int) *IdTable {
	v := &IdTable{
		cols:  make([]columnData, len(t.cols)),
		rows:  hi - lo,
		alloc: t.alloc,
	}
	for c := range t.cols {
		v.cols[c].data = t.cols[c].data[lo:hi]
	}
	return v
}

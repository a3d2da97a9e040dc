package server

import (
	"bytes"
	"encoding/binary"

	"github.com/aleksaelezovic/trigo/internal/exec"
	"github.com/aleksaelezovic/trigo/pkg/server/results"
)

// formatBinary serializes a SELECT result as raw Id tuples,
// little-endian, one uint64 per projected column per row. The header is two uint64s: column
// count and row count.
func formatBinary(outcome *exec.Outcome) ([]byte, error) {
	cols := make([]int, 0, len(outcome.Select.Variables))
	for _, name := range outcome.Select.Variables {
		if c, ok := outcome.VarCols[name]; ok {
			cols = append(cols, c)
		}
	}
	var buf bytes.Buffer
	write := func(v uint64) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		buf.Write(b[:])
	}
	write(uint64(len(cols)))
	write(uint64(outcome.Table.NumRows()))
	for r := 0; r < outcome.Table.NumRows(); r++ {
		for _, c := range cols {
			write(uint64(outcome.Table.Column(c)[r]))
		}
	}
	return buf.Bytes(), nil
}

// formatConstructTurtle serializes a CONSTRUCT result as Turtle. Without
// prefix compression every statement is also valid N-Triples, which Turtle
// subsumes.
func formatConstructTurtle(res *results.ConstructResult) ([]byte, error) {
	return results.FormatConstructResultNTriples(res)
}

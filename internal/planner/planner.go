package planner

import (
	"github.com/aleksaelezovic/trigo/internal/engine/errs"
	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/index"
	"github.com/aleksaelezovic/trigo/internal/engine/ops"
	"github.com/aleksaelezovic/trigo/internal/engine/qctx"
	"github.com/aleksaelezovic/trigo/internal/engine/result"
	"github.com/aleksaelezovic/trigo/internal/query"
)

// TextLimitSpec requests a per-entity top-n restriction of text records;
// the operator is placed during stage 5 of the planning pipeline.
type TextLimitSpec struct {
	N          int64
	RecordVar string
	EntityVars []string
	ScoreVars  []string
}

// Planner plans one query at a time against a fixed Index. It is cheap to
// construct; the heavyweight state (index, text index) is shared.
type Planner struct {
	env        *ops.Env
	textLimits []TextLimitSpec
}

// New creates a planner executing against idx with the per-query context
// q. text and terms may be nil.
func New(q *qctx.Query, idx index.Index, text index.TextIndex, terms ops.TermResolver) *Planner {
	return &Planner{env: &ops.Env{Q: q, Idx: idx, Text: text, Terms: terms}}
}

// WithTextLimits adds text-limit requests to the next Plan call.
func (p *Planner) WithTextLimits(specs ...TextLimitSpec) *Planner {
	p.textLimits = append(p.textLimits, specs...)
	return p
}

// Env exposes the planner's operator environment (used by the execution
// boundary to construct auxiliary operators with the same context).
func (p *Planner) Env() *ops.Env { return p.env }

// Plan translates pq into an executable operator tree. A cancellation
// observed during planning is tagged with the planning phase before being
// rethrown.
func (p *Planner) Plan(pq *query.ParsedQuery) (result.Operation, error) {
	op, err := p.planQuery(pq)
	if err != nil {
		if ce, ok := err.(*errs.CancellationError); ok {
			return nil, ce.WithPhase("Query planning")
		}
		return nil, err
	}
	return op, nil
}

// session carries per-Plan state: the graph restriction in effect and the
// counter for fresh variables minted by rewrites.
type session struct {
	p       *Planner
	graphs  []ids.Id
	freshID int
}

func (p *Planner) planQuery(pq *query.ParsedQuery) (result.Operation, error) {
	s := &session{p: p}
	if op, ok, err := s.tryPatternTrick(pq); err != nil {
		return nil, err
	} else if ok {
		return op, nil
	}
	root, err := s.planGroup(pq.Root)
	if err != nil {
		return nil, err
	}
	return s.applyModifiers(pq, root)
}

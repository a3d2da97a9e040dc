// Package lazy adapts a callback-driven block producer into the
// single-consumption pull iterator (result.Producer) the lazy Result
// contract requires. A separate worker goroutine runs the producer while
// the consumer iterates; a channel rendezvous strictly alternates control
// so producer and consumer never run simultaneously on the same state, and
// cancellation on the consumer side causes the producer to observe a
// finished yield and exit.
package lazy

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/aleksaelezovic/trigo/internal/engine/result"
)

// Yield is handed to a Generate callback. It returns false once the
// consumer has stopped (Close was called or the consumer's context was
// cancelled); the producer must then return promptly.
type Yield func(result.Block) (cont bool)

// Generator is the callback-driven side of the adapter: it calls yield for
// each block in order and returns when done (or when yield returns false).
type Generator func(ctx context.Context, yield Yield) error

// FromGenerator wraps gen into a result.Producer. The generator does not
// start until the first Next call, so constructing a lazy Result is free
// when the consumer never reads it.
func FromGenerator(gen Generator) result.Producer {
	return &generatorProducer{gen: gen}
}

type generatorProducer struct {
	gen     Generator
	started bool
	blocks chan result.Block
	resume chan struct{}
	done chan struct{}
	wait func() error
	err error
	eof bool
}

func (p *generatorProducer) start(ctx context.Context) {
	p.started = true
	p.blocks = make(chan result.Block)
	p.resume = make(chan struct{})
	p.done = make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(p.blocks)
		yield := func(b result.Block) bool {
			select {
			case p.blocks <- b:
			case <-p.done:
				return false
			case <-gctx.Done():
				return false
			}
			// Wait until the consumer asks for the next block before
			// touching producer state again: strict alternation.
			select {
			case <-p.resume:
				return true
			case <-p.done:
				return false
			case <-gctx.Done():
				return false
			}
		}
		return p.gen(gctx, yield)
	})
	p.wait = g.Wait
}

func (p *generatorProducer) Next(ctx context.Context) (result.Block, bool, error) {
	if p.eof {
		return result.Block{}, false, p.err
	}
	if !p.started {
		p.start(ctx)
	} else {
		select {
		case p.resume <- struct{}{}:
		case <-ctx.Done():
			return result.Block{}, false, ctx.Err()
		}
	}
	select {
	case b, ok := <-p.blocks:
		if !ok {
			p.eof = true
			p.err = p.wait()
			return result.Block{}, false, p.err
		}
		return b, true, nil
	case <-ctx.Done():
		return result.Block{}, false, ctx.Err()
	}
}

func (p *generatorProducer) Close() error {
	if !p.started || p.eof {
		return nil
	}
	p.eof = true
	close(p.done)
	p.err = p.wait()
	return p.err
}

// SliceProducer adapts pre-computed blocks into a result.Producer, used by
// operators whose lazy path is just "emit what I already have in chunks".
type SliceProducer struct {
	Blocks []result.Block
	i int
}

func (s *SliceProducer) Next(ctx context.Context) (result.Block, bool, error) {
	if err := ctx.Err(); err != nil {
		return result.Block{}, false, err
	}
	if s.i >= len(s.Blocks) {
		return result.Block{}, false, nil
	}
	b := s.Blocks[s.i]
	s.i++
	return b, true, nil
}

func (s *SliceProducer) Close() error { return nil }

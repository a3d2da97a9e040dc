package lazy

import (
	"context"
	"testing"

	"github.com/aleksaelezovic/trigo/internal/engine/ids"
	"github.com/aleksaelezovic/trigo/internal/engine/idtable"
	"github.com/aleksaelezovic/trigo/internal/engine/result"
)

func oneRowBlock(v uint64) result.Block {
	t := idtable.New(1, nil)
	_ = t.AppendRow([]ids.Id{ids.FromVocabIndex(v)})
	return result.Block{Table: t, Vocab: ids.NewLocalVocab()}
}

func TestGeneratorYieldsAllBlocks(t *testing.T) {
	p := FromGenerator(func(ctx context.Context, yield Yield) error {
		for i := uint64(0); i < 5; i++ {
			if !yield(oneRowBlock(i)) {
				return nil
			}
		}
		return nil
	})
	var got []uint64
	for {
		blk, ok, err := p.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, blk.Table.Column(0)[0].Payload())
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 blocks, got %v", got)
	}
	for i, v := range got {
		if v != uint64(i) {
			t.Fatalf("blocks out of order: %v", got)
		}
	}
}

func TestGeneratorStopsOnClose(t *testing.T) {
	produced := 0
	p := FromGenerator(func(ctx context.Context, yield Yield) error {
		for i := uint64(0); ; i++ {
			produced++
			if !yield(oneRowBlock(i)) {
				return nil
			}
		}
	})
	if _, ok, err := p.Next(context.Background()); !ok || err != nil {
		t.Fatalf("first Next failed: ok=%v err=%v", ok, err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// The producer observed the stop and exited: it ran at most one step
	// past the consumed block (the rendezvous admits no further blocks).
	if produced > 2 {
		t.Fatalf("producer kept running after Close: %d steps", produced)
	}
}

func TestGeneratorPropagatesError(t *testing.T) {
	wantErr := context.DeadlineExceeded
	p := FromGenerator(func(ctx context.Context, yield Yield) error {
		yield(oneRowBlock(1))
		return wantErr
	})
	if _, ok, err := p.Next(context.Background()); !ok || err != nil {
		t.Fatalf("first Next: ok=%v err=%v", ok, err)
	}
	_, ok, err := p.Next(context.Background())
	if ok {
		t.Fatal("expected end of stream")
	}
	if err != wantErr {
		t.Fatalf("expected the generator's error, got %v", err)
	}
}

func TestSliceProducer(t *testing.T) {
	p := &SliceProducer{Blocks: []result.Block{oneRowBlock(1), oneRowBlock(2)}}
	n := 0
	for {
		_, ok, err := p.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		n++
	}
	if n != 2 {
		t.Fatalf("expected 2 blocks, got %d", n)
	}
}

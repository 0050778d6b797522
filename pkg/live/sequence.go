package live

import (
	"context"
	"iter"
)

// Item is one element of a Sequence.
type Item struct {
	Value   any
	Options Options
}

// Sequence is a single-pass lazy source of snapshots. Next reports ok=false
// once exhausted. An item with Options.Done ends the sequence early.
type Sequence interface {
	Next(ctx context.Context) (item Item, ok bool, err error)
}

// SequenceFunc adapts a function to Sequence.
type SequenceFunc func(ctx context.Context) (Item, bool, error)

// Next calls f.
func (f SequenceFunc) Next(ctx context.Context) (Item, bool, error) {
	return f(ctx)
}

type stopper interface {
	Stop()
}

type sliceSeq struct {
	values []any
	next   int
}

// Items returns a sequence over values. The last item is marked done.
func Items(values ...any) Sequence {
	return &sliceSeq{values: values}
}

func (s *sliceSeq) Next(ctx context.Context) (Item, bool, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, false, err
	}
	if s.next >= len(s.values) {
		return Item{}, false, nil
	}
	v := s.values[s.next]
	s.next++
	return Item{Value: v, Options: Options{Done: s.next == len(s.values)}}, true, nil
}

type pullSeq struct {
	next func() (any, bool)
	stop func()
}

// FromSeq adapts an iterator. Exhausting it ends the sequence without a
// final replacement.
func FromSeq(seq iter.Seq[any]) Sequence {
	next, stop := iter.Pull(seq)
	return &pullSeq{next: next, stop: stop}
}

func (s *pullSeq) Next(ctx context.Context) (Item, bool, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, false, err
	}
	v, ok := s.next()
	if !ok {
		return Item{}, false, nil
	}
	return Item{Value: v}, true, nil
}

func (s *pullSeq) Stop() {
	s.stop()
}

func stopSequence(seq Sequence) {
	if s, ok := seq.(stopper); ok {
		s.Stop()
	}
}

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	lrerrors "github.com/vango-dev/liveroute/internal/errors"
	"github.com/vango-dev/liveroute/pkg/mutation"
	"github.com/vango-dev/liveroute/pkg/task"
)

type syncOptions struct {
	includeArrayBatchOps bool
}

// SyncOption configures PublishMutations.
type SyncOption func(*syncOptions)

// IncludeArrayBatchOps ships array method calls as single call records
// instead of the per-index records they imply.
func IncludeArrayBatchOps() SyncOption {
	return func(o *syncOptions) { o.includeArrayBatchOps = true }
}

// PublishMutations observes obj and posts every batch of changes as one
// TypeMutations message tagged with frameID. Publishing stops after a batch
// carrying a done record, when ctx ends (an end marker is posted first), or
// when the port closes. The returned task settles when publishing stops.
func (a *API) PublishMutations(ctx context.Context, obj *mutation.Object, frameID string, opts ...SyncOption) *task.Task {
	t, err := a.PublishLive(ctx, obj, frameID, func(any) error { return nil }, opts...)
	if err != nil {
		return task.Rejected(err)
	}
	return t
}

// PublishLive is PublishMutations with an announcement: announce receives
// the snapshot the published batches apply to and runs before any of them
// is posted, typically to send that snapshot to the peer. If announce fails
// nothing is published.
func (a *API) PublishLive(ctx context.Context, obj *mutation.Object, frameID string, announce func(snapshot any) error, opts ...SyncOption) (*task.Task, error) {
	var o syncOptions
	for _, opt := range opts {
		opt(&o)
	}

	t := task.New()
	var (
		mu      sync.Mutex
		seq     uint64
		stopped bool
		cancel  func()
	)

	// post must be called with mu held so sequence numbers match send order.
	post := func(records []mutation.Record) error {
		seq++
		return a.Send(Message{
			Type:    TypeMutations,
			EventID: frameID,
			Data:    mutation.Batch{Frame: frameID, Seq: seq, Records: records},
		})
	}

	stop := func(err error) {
		mu.Lock()
		if stopped {
			mu.Unlock()
			return
		}
		stopped = true
		c := cancel
		mu.Unlock()
		if c != nil {
			c()
		}
		t.Settle(nil, err)
	}

	observe := func(records []mutation.Record) {
		mu.Lock()
		if stopped {
			mu.Unlock()
			return
		}
		out := mutation.Filter(records, o.includeArrayBatchOps)
		if len(out) == 0 {
			mu.Unlock()
			return
		}
		err := post(out)
		mu.Unlock()

		if err != nil {
			a.logger.Warn("publish mutations failed", "frame", frameID, "error", err)
			stop(err)
			return
		}
		if mutation.HasDone(out) {
			stop(nil)
		}
	}

	mu.Lock()
	c, err := obj.Track(announce, observe)
	if err != nil {
		stopped = true
		mu.Unlock()
		return nil, err
	}
	cancel = c
	mu.Unlock()

	go func() {
		select {
		case <-t.Done():
		case <-ctx.Done():
			mu.Lock()
			var err error
			if !stopped && !a.closing() {
				err = post([]mutation.Record{{Op: mutation.OpEnd, Detail: mutation.Detail{Done: true}}})
			}
			mu.Unlock()
			stop(err)
		case <-a.done:
			stop(lrerrors.New("T001").Wrap(ErrPortClosed))
		}
	}()
	return t, nil
}

// ApplyMutations replays every TypeMutations batch for frameID onto obj, in
// arrival order, one batch at a time. The returned task resolves with obj
// once a batch flags done. A malformed, out-of-order or unappliable batch
// rejects the task and ends this frame's subscription; the port itself stays
// usable.
func (a *API) ApplyMutations(ctx context.Context, obj *mutation.Object, frameID string) *task.Task {
	t := task.New()
	var (
		mu   sync.Mutex
		last uint64
		off  func()
	)

	fail := func(err error) {
		off()
		t.Reject(err)
	}

	mu.Lock()
	off = a.Subscribe(func(msg Message) {
		mu.Lock()
		defer mu.Unlock()
		if t.Settled() {
			return
		}

		b, err := decodeBatch(msg.Data)
		if err != nil {
			a.logger.Warn("malformed mutation batch", "frame", frameID, "error", err)
			fail(lrerrors.New("S001").WithDetailf("frame %s", frameID).Wrap(err))
			return
		}
		if b.Seq != 0 && b.Seq != last+1 {
			a.logger.Warn("mutation batch out of order", "frame", frameID, "seq", b.Seq, "want", last+1)
			fail(lrerrors.New("S001").WithDetailf("frame %s: seq %d after %d", frameID, b.Seq, last))
			return
		}
		last = b.Seq

		if err := obj.ApplyBatch(b.Records); err != nil {
			a.logger.Warn("mutation batch rejected", "frame", frameID, "error", err)
			fail(lrerrors.New("S002").WithDetailf("frame %s", frameID).Wrap(err))
			return
		}
		if b.Done() {
			off()
			t.Resolve(obj)
		}
	}, ForType(TypeMutations), ForEvent(frameID))
	mu.Unlock()

	go func() {
		select {
		case <-t.Done():
		case <-ctx.Done():
			mu.Lock()
			fail(ctx.Err())
			mu.Unlock()
		case <-a.done:
			mu.Lock()
			fail(lrerrors.New("T001").Wrap(ErrPortClosed))
			mu.Unlock()
		}
	}()
	return t
}

// decodeBatch accepts a Batch value or anything that JSON-decodes into one.
func decodeBatch(data any) (mutation.Batch, error) {
	switch b := data.(type) {
	case mutation.Batch:
		return b, nil
	case *mutation.Batch:
		if b == nil {
			return mutation.Batch{}, mutation.ErrInvalidRecord
		}
		return *b, nil
	case nil:
		return mutation.Batch{}, mutation.ErrInvalidRecord
	}

	var raw []byte
	switch d := data.(type) {
	case json.RawMessage:
		raw = d
	case []byte:
		raw = d
	default:
		var err error
		if raw, err = json.Marshal(data); err != nil {
			return mutation.Batch{}, err
		}
	}

	var b mutation.Batch
	if err := json.Unmarshal(raw, &b); err != nil {
		return mutation.Batch{}, fmt.Errorf("%w: %v", mutation.ErrInvalidRecord, err)
	}
	if b.Records == nil {
		return mutation.Batch{}, fmt.Errorf("%w: batch without records", mutation.ErrInvalidRecord)
	}
	for i := range b.Records {
		if err := b.Records[i].Validate(); err != nil {
			return mutation.Batch{}, err
		}
	}
	return b, nil
}

// detachedContext returns a context cancelled when done closes.
func detachedContext(done <-chan struct{}) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-done
		cancel()
	}()
	return ctx
}

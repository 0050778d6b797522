package messaging

import (
	"context"
	"testing"
	"time"

	lrerrors "github.com/vango-dev/liveroute/internal/errors"
	"github.com/vango-dev/liveroute/pkg/mutation"
	"github.com/vango-dev/liveroute/pkg/task"
)

// mirror subscribes b for live snapshots and replays their frames.
func mirror(t *testing.T, b Port) <-chan *task.Task {
	t.Helper()
	out := make(chan *task.Task, 1)
	b.Subscribe(func(m Message) {
		if !m.Live {
			return
		}
		obj, err := mutation.NewObject(m.Data)
		if err != nil {
			t.Errorf("NewObject(snapshot) error: %v", err)
			return
		}
		out <- b.ApplyMutations(context.Background(), obj, m.Frame)
	})
	return out
}

func waitTask(t *testing.T, tk *task.Task) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	v, err := tk.Wait(ctx)
	if ctx.Err() != nil {
		t.Fatal("timed out waiting for task")
	}
	return v, err
}

func TestLiveObject_RoundTrip(t *testing.T) {
	a, b := NewChannel(nil)
	defer a.Close()

	tasks := mirror(t, b)
	src := mutation.MustObject(map[string]any{"title": "draft", "items": []any{}})

	if err := a.PostMessage(src, Live()); err != nil {
		t.Fatalf("PostMessage(live) error: %v", err)
	}
	src.Set([]string{"title"}, "final")
	src.Call([]string{"items"}, "push", "a", "b")
	src.Call([]string{"items"}, "reverse")
	src.Set([]string{"meta"}, map[string]any{"n": 2})
	src.Delete([]string{"meta", "n"})
	src.Done()

	var tk *task.Task
	select {
	case tk = <-tasks:
	case <-time.After(testTimeout):
		t.Fatal("no live snapshot received")
	}
	v, err := waitTask(t, tk)
	if err != nil {
		t.Fatalf("ApplyMutations error: %v", err)
	}
	dst := v.(*mutation.Object)
	if !mutation.Equal(src.Snapshot(), dst.Snapshot()) {
		t.Fatalf("replica = %v, want %v", dst.Snapshot(), src.Snapshot())
	}
}

func TestPublishMutations_ArrayBatchOps(t *testing.T) {
	tests := []struct {
		name    string
		opts    []SyncOption
		wantOps []mutation.Op
	}{
		{"per-index records", nil, []mutation.Op{mutation.OpSet, mutation.OpSet}},
		{"call records", []SyncOption{IncludeArrayBatchOps()}, []mutation.Op{mutation.OpCall}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := NewChannel(nil)
			defer a.Close()

			got, off := collect(b, ForType(TypeMutations))
			defer off()

			obj := mutation.MustObject(map[string]any{"xs": []any{}})
			a.PublishMutations(context.Background(), obj, "f", tt.opts...)
			obj.Call([]string{"xs"}, "push", 1)

			batch, err := decodeBatch(recv(t, got).Data)
			if err != nil {
				t.Fatalf("decodeBatch() error: %v", err)
			}
			if batch.Seq != 1 || batch.Frame != "f" {
				t.Fatalf("batch = %+v", batch)
			}
			var ops []mutation.Op
			for _, r := range batch.Records {
				ops = append(ops, r.Op)
			}
			if len(ops) != len(tt.wantOps) {
				t.Fatalf("ops = %v, want %v", ops, tt.wantOps)
			}
			for i := range ops {
				if ops[i] != tt.wantOps[i] {
					t.Fatalf("ops = %v, want %v", ops, tt.wantOps)
				}
			}
		})
	}
}

func TestPublishMutations_StopsOnDone(t *testing.T) {
	a, b := NewChannel(nil)
	defer a.Close()

	got, off := collect(b, ForType(TypeMutations))
	defer off()

	obj := mutation.MustObject(map[string]any{})
	tk := a.PublishMutations(context.Background(), obj, "f")
	obj.Set([]string{"k"}, 1)
	obj.Done()
	if _, err := waitTask(t, tk); err != nil {
		t.Fatalf("publish task error: %v", err)
	}
	if obj.Observers() != 0 {
		t.Fatalf("observers = %d after done, want 0", obj.Observers())
	}

	recv(t, got)
	recv(t, got)
	obj.Set([]string{"k"}, 2)
	expectNone(t, got)
}

func TestPublishMutations_ContextEndSendsEndMarker(t *testing.T) {
	a, b := NewChannel(nil)
	defer a.Close()

	dst := mutation.MustObject(map[string]any{})
	applied := b.ApplyMutations(context.Background(), dst, "f")

	obj := mutation.MustObject(map[string]any{})
	ctx, cancel := context.WithCancel(context.Background())
	a.PublishMutations(ctx, obj, "f")
	obj.Set([]string{"k"}, "v")
	cancel()

	if _, err := waitTask(t, applied); err != nil {
		t.Fatalf("apply task error: %v", err)
	}
	if v, _ := dst.Get("k"); v != "v" {
		t.Fatalf("dst k = %v", v)
	}
}

func TestApplyMutations_MalformedBatchEndsFrameOnly(t *testing.T) {
	tests := []struct {
		name string
		data any
		code string
	}{
		{"not a batch", "garbage", "S001"},
		{"bad op", map[string]any{"seq": 1, "records": []any{map[string]any{"path": []any{"a"}, "operation": "explode"}}}, "S001"},
		{"sequence gap", mutation.Batch{Frame: "f", Seq: 3, Records: []mutation.Record{{Path: []string{"a"}, Op: mutation.OpSet, Value: 1}}}, "S001"},
		{"unresolvable path", mutation.Batch{Frame: "f", Seq: 1, Records: []mutation.Record{{Path: []string{"missing", "deep"}, Op: mutation.OpDelete}}}, "S002"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := NewChannel(nil)
			defer a.Close()

			dst := mutation.MustObject(map[string]any{"a": 0})
			applied := b.ApplyMutations(context.Background(), dst, "f")

			a.Send(Message{Type: TypeMutations, EventID: "f", Data: tt.data})

			_, err := waitTask(t, applied)
			if code := lrerrors.CodeOf(err); code != tt.code {
				t.Fatalf("error = %v (code %q), want %s", err, code, tt.code)
			}
			if v, _ := dst.Get("a"); v != 0 {
				t.Fatalf("dst changed after rejected batch: a=%v", v)
			}

			got, off := collect(b)
			defer off()
			a.PostMessage("still alive")
			if m := recv(t, got); m.Data != "still alive" {
				t.Fatalf("port unusable after malformed batch: %v", m.Data)
			}
		})
	}
}

func TestApplyMutations_PortClosed(t *testing.T) {
	a, b := NewChannel(nil)
	applied := b.ApplyMutations(context.Background(), mutation.MustObject(map[string]any{}), "f")
	a.Close()
	if _, err := waitTask(t, applied); lrerrors.CodeOf(err) != "T001" {
		t.Fatalf("error = %v, want T001", err)
	}
}

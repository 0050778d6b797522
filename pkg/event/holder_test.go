package event

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	lrerrors "github.com/vango-dev/liveroute/internal/errors"
	"github.com/vango-dev/liveroute/pkg/live"
	"github.com/vango-dev/liveroute/pkg/task"
)

func result(t *testing.T, e *Event) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	r, err := e.Holder().Result(ctx)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	return r
}

func TestReturnDecidesResult(t *testing.T) {
	e := newTestEvent(t)
	if err := e.Holder().Return("hello"); err != nil {
		t.Fatal(err)
	}
	r := result(t, e)
	if r.Kind != Returned || r.Value != "hello" {
		t.Errorf("result = %+v, want returned hello", r)
	}
	if StatusOf(r) != http.StatusOK {
		t.Errorf("status = %d", StatusOf(r))
	}
}

func TestPushAfterReturnIsLateResponse(t *testing.T) {
	e := newTestEvent(t)
	e.Holder().Return("sync")
	err := e.Push("late")
	if lrerrors.CodeOf(err) != "D001" {
		t.Fatalf("err = %v, want D001", err)
	}
	if !e.Aborted() || lrerrors.CodeOf(e.Cause()) != "D001" {
		t.Errorf("event should be aborted with D001, cause = %v", e.Cause())
	}
}

func TestPushesReplaceSnapshots(t *testing.T) {
	e := newTestEvent(t)
	if err := e.Push(1); err != nil {
		t.Fatal(err)
	}
	r := result(t, e)
	if r.Kind != Pushed || r.Response == nil {
		t.Fatalf("result = %+v, want pushed", r)
	}

	var bodies []any
	r.Response.On(live.EventReplace, func(s live.Snapshot) { bodies = append(bodies, s.Body) })
	e.Push(2)
	e.Push(3)

	if len(bodies) != 2 || bodies[0] != 2 || bodies[1] != 3 {
		t.Errorf("replacements = %v, want [2 3]", bodies)
	}
	if r.Response.GeneratorDone() {
		t.Error("generator should stay open while the event is live")
	}
}

func TestNilReturnDefersToPush(t *testing.T) {
	e := newTestEvent(t)
	e.Holder().Return(nil)
	if e.Holder().Decided() {
		t.Fatal("nil return must not decide the result")
	}
	e.Push("later")
	if r := result(t, e); r.Kind != Pushed {
		t.Errorf("kind = %v, want pushed", r.Kind)
	}
}

func TestReturnAfterPushIsFinalSnapshot(t *testing.T) {
	e := newTestEvent(t)
	e.Push("first")
	if err := e.Holder().Return("final"); err != nil {
		t.Fatal(err)
	}
	resp := e.Holder().Response()
	if resp.Body() != "final" || !resp.GeneratorDone() {
		t.Errorf("body = %v done = %v, want final snapshot", resp.Body(), resp.GeneratorDone())
	}
}

func TestLifecycleCloseFinishesHolder(t *testing.T) {
	e := newTestEvent(t)
	e.Push("a")
	work := task.New()
	e.WaitUntil(work)
	e.LifeCycleComplete(nil)
	e.Push("b")
	work.Resolve(nil)
	waitDone(t, e.Done())

	resp := e.Holder().Response()
	if !resp.GeneratorDone() {
		t.Error("live response should be finished once the lifecycle completes")
	}
	if err := e.Push("c"); lrerrors.CodeOf(err) != "L002" {
		t.Errorf("push after lifecycle err = %v, want L002", err)
	}
}

func TestUnansweredEventIsNone(t *testing.T) {
	e := newTestEvent(t)
	e.LifeCycleComplete(nil)
	r := result(t, e)
	if r.Kind != None || StatusOf(r) != http.StatusNotFound {
		t.Errorf("result = %+v, want none/404", r)
	}
}

func TestAbortRejectsUndecidedResult(t *testing.T) {
	e := newTestEvent(t)
	cause := errors.New("gone")
	e.Abort(cause)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if _, err := e.Holder().Result(ctx); !errors.Is(err, cause) {
		t.Errorf("err = %v, want gone", err)
	}
}

func TestAbortClosesLiveResponse(t *testing.T) {
	e := newTestEvent(t)
	e.Push(map[string]any{"n": 1})
	resp := e.Holder().Response()
	e.Abort(nil)
	waitDone(t, resp.Done())
	if !resp.Closed() {
		t.Error("live response should be closed on abort")
	}
}

func TestPushWithFrameClosure(t *testing.T) {
	e := newTestEvent(t)
	closure := task.New()
	if err := e.Holder().Push("x", live.Options{Status: http.StatusAccepted}, closure); err != nil {
		t.Fatal(err)
	}
	resp := e.Holder().Response()
	if resp.FrameDone() {
		t.Error("frame should be open until the closure settles")
	}
	if resp.Status() != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.Status())
	}
	closure.Resolve(nil)
	for i := 0; i < 200 && !resp.FrameDone(); i++ {
		time.Sleep(5 * time.Millisecond)
	}
	if !resp.FrameDone() {
		t.Error("frame should be done after the closure settles")
	}
}

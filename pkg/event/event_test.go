package event

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	lrerrors "github.com/vango-dev/liveroute/internal/errors"
	"github.com/vango-dev/liveroute/pkg/state"
	"github.com/vango-dev/liveroute/pkg/task"
)

const testTimeout = 2 * time.Second

func newTestEvent(t *testing.T, opts ...Option) *Event {
	t.Helper()
	return New(httptest.NewRequest(http.MethodGet, "/", nil), opts...)
}

func settled(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for completion")
	}
}

func TestLifecycleAggregatesTasks(t *testing.T) {
	e := newTestEvent(t)
	a, b := task.New(), task.New()

	if _, err := e.WaitUntil(a); err != nil {
		t.Fatal(err)
	}
	if _, err := e.WaitUntil(b); err != nil {
		t.Fatal(err)
	}

	e.LifeCycleComplete(nil)
	a.Resolve(nil)
	time.Sleep(10 * time.Millisecond)
	if settled(e.Done()) {
		t.Fatal("lifecycle complete with one task pending")
	}

	b.Resolve(nil)
	waitDone(t, e.Done())
	if err := e.Outcome().Err(); err != nil {
		t.Errorf("outcome err = %v, want nil", err)
	}

	_, err := e.WaitUntil(task.New())
	if lrerrors.CodeOf(err) != "L001" {
		t.Errorf("late WaitUntil err = %v, want L001", err)
	}
}

func TestLifecycleRejectsOnFailure(t *testing.T) {
	e := newTestEvent(t)
	boom := errors.New("boom")
	ok, bad := task.New(), task.New()
	e.WaitUntil(ok)
	e.WaitUntil(bad)
	e.LifeCycleComplete(nil)

	bad.Reject(boom)
	ok.Resolve(nil)
	waitDone(t, e.Done())
	if !errors.Is(e.Outcome().Err(), boom) {
		t.Errorf("outcome err = %v, want boom", e.Outcome().Err())
	}
}

func TestLifecycleStaysOpenUntilComplete(t *testing.T) {
	e := newTestEvent(t)
	quick := task.New()
	if _, err := e.WaitUntil(quick); err != nil {
		t.Fatal(err)
	}
	quick.Resolve(nil)
	time.Sleep(10 * time.Millisecond)
	if settled(e.Done()) {
		t.Fatal("lifecycle completed before LifeCycleComplete")
	}

	late := task.New()
	if _, err := e.WaitUntil(late); err != nil {
		t.Fatalf("WaitUntil after settled work: %v", err)
	}
	if err := e.Holder().Return("value"); err != nil {
		t.Fatalf("Return: %v", err)
	}
	e.LifeCycleComplete(nil)
	if settled(e.Done()) {
		t.Fatal("lifecycle completed with work pending")
	}
	late.Resolve(nil)
	waitDone(t, e.Done())

	res, err := e.Holder().Result(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != Returned || res.Value != "value" {
		t.Errorf("result = %+v, want returned value", res)
	}
}

func TestLifeCycleCompleteWithNothingPending(t *testing.T) {
	e := newTestEvent(t)
	done := e.LifeCycleComplete(nil)
	if !done.Settled() {
		t.Fatal("lifecycle should complete at once with nothing pending")
	}
	if _, err := e.WaitUntil(task.New()); lrerrors.CodeOf(err) != "L001" {
		t.Errorf("err = %v, want L001", err)
	}
}

func TestLifeCycleCompleteWaitsForReturn(t *testing.T) {
	e := newTestEvent(t)
	ret := task.New()
	done := e.LifeCycleComplete(ret)
	if done.Settled() {
		t.Fatal("completed before return task settled")
	}
	ret.Resolve("ok")
	waitDone(t, done.Done())
}

func TestExtendFoldsChildIntoParent(t *testing.T) {
	parent := newTestEvent(t)
	child, err := parent.Extend()
	if err != nil {
		t.Fatal(err)
	}
	if child.Parent() != parent {
		t.Error("child.Parent() should be the parent")
	}

	work := task.New()
	child.WaitUntil(work)
	child.LifeCycleComplete(nil)
	parent.LifeCycleComplete(nil)
	time.Sleep(10 * time.Millisecond)
	if settled(parent.Done()) {
		t.Fatal("parent completed before extended child")
	}

	work.Resolve(nil)
	waitDone(t, child.Done())
	waitDone(t, parent.Done())
}

func TestExtendAfterCompletion(t *testing.T) {
	e := newTestEvent(t)
	e.LifeCycleComplete(nil)
	if _, err := e.Extend(); lrerrors.CodeOf(err) != "L001" {
		t.Errorf("err = %v, want L001", err)
	}
}

func TestAbortCascadesDownOnly(t *testing.T) {
	parent := newTestEvent(t)
	child, _ := parent.Extend()
	grandchild, _ := child.Extend()

	child.Abort(nil)
	if !child.Aborted() || !grandchild.Aborted() {
		t.Error("abort should reach the child and its descendants")
	}
	if parent.Aborted() {
		t.Error("child abort must not reach the parent")
	}
	if !errors.Is(grandchild.Cause(), ErrAborted) {
		t.Errorf("grandchild cause = %v, want ErrAborted", grandchild.Cause())
	}

	other, _ := parent.Extend()
	cause := errors.New("client gone")
	parent.Abort(cause)
	parent.Abort(errors.New("second"))
	if !errors.Is(other.Cause(), cause) {
		t.Errorf("cause = %v, want first abort cause", other.Cause())
	}
}

func TestAbortFollowsRequestContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	e := New(r)
	cancel()
	if !e.Aborted() {
		t.Error("event should be aborted with its request")
	}
}

func TestCloneHasNoLifecycleLink(t *testing.T) {
	e := newTestEvent(t, WithDetail(Detail{Navigation: "push"}))
	sib := e.Clone(WithDetail(Detail{Navigation: "reload"}))

	e.Abort(nil)
	if sib.Aborted() {
		t.Error("clone should not be aborted with the original")
	}
	if sib.Detail().Navigation != "reload" {
		t.Errorf("clone navigation = %q", sib.Detail().Navigation)
	}
	if sib.Request() != e.Request() {
		t.Error("clone should fall back to the original request")
	}
	sib.WaitUntil(task.Resolved(nil))
	sib.LifeCycleComplete(nil)
	waitDone(t, sib.Done())
	if settled(e.Done()) {
		t.Error("original completed with the clone")
	}
}

func TestFieldFallback(t *testing.T) {
	stores := &state.Stores{Cookies: state.NewCookies(nil)}
	root := newTestEvent(t, WithStores(stores), WithDetail(Detail{Origin: "nav"}))
	child, _ := root.Extend()
	other := httptest.NewRequest(http.MethodPost, "/x", nil)
	overridden, _ := child.Extend(WithRequest(other))

	if child.Stores() != stores || overridden.Stores() != stores {
		t.Error("stores should fall back to the root")
	}
	if overridden.Detail().Origin != "nav" {
		t.Errorf("detail origin = %q, want nav", overridden.Detail().Origin)
	}
	if overridden.Request() != other || child.Request() != root.Request() {
		t.Error("request override not honoured")
	}
	if child.ID() == root.ID() {
		t.Error("extended events need their own id")
	}
}

func TestCommitAfterLifecycle(t *testing.T) {
	cookies := state.NewCookies(nil)
	e := newTestEvent(t, WithStores(&state.Stores{Cookies: cookies}))
	work := task.New()
	e.WaitUntil(work)
	e.LifeCycleComplete(nil)

	h := http.Header{}
	errc := make(chan error, 1)
	go func() { errc <- e.Commit(context.Background(), h) }()

	cookies.Set(&http.Cookie{Name: "seen", Value: "1"})
	work.Resolve(nil)

	select {
	case err := <-errc:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Commit did not return")
	}
	if got := h.Get("Set-Cookie"); got == "" {
		t.Error("cookies not committed")
	}
}

func TestCommitHonoursContext(t *testing.T) {
	e := newTestEvent(t)
	e.WaitUntil(task.New())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := e.Commit(ctx, http.Header{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

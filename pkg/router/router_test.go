package router

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	lrerrors "github.com/vango-dev/liveroute/internal/errors"
	"github.com/vango-dev/liveroute/pkg/event"
	"github.com/vango-dev/liveroute/pkg/live"
	"github.com/vango-dev/liveroute/pkg/task"
)

func newEvent(method, target string) *event.Event {
	return event.New(httptest.NewRequest(method, target, nil))
}

// echo answers with its entry path and the consumed trail.
func echo(name string) Handler {
	return func(t *Tick) (any, error) {
		return name + " " + t.Path(), nil
	}
}

func fallbackValue(e *event.Event, _ FetchFunc) (any, error) {
	return "fallback " + e.Request().URL.Path, nil
}

func mustTable(t *testing.T, routes map[string]any) *Table {
	t.Helper()
	table, err := TableFrom(routes)
	if err != nil {
		t.Fatalf("TableFrom: %v", err)
	}
	return table
}

func route(t *testing.T, r *Router, method, dest string) (event.Result, error) {
	t.Helper()
	return r.Route(dest, newEvent(method, dest), fallbackValue, nil)
}

func TestWildcardPrecedence(t *testing.T) {
	r := New(mustTable(t, map[string]any{
		"/users/alice": echo("alice"),
		"/users/-": func(t *Tick) (any, error) {
			if len(t.Remaining()) > 0 {
				return t.Next("", nil)
			}
			return "wildcard " + strings.Join(t.Wildcards(), ","), nil
		},
	}))

	tests := []struct {
		dest string
		want string
	}{
		{"/users/alice", "alice /users/alice"},
		{"/users/bob", "wildcard bob"},
		{"/users/bob/extra", "fallback /users/bob/extra"},
		{"/other", "fallback /other"},
		{"/", "fallback /"},
	}
	for _, tc := range tests {
		t.Run(tc.dest, func(t *testing.T) {
			res, err := route(t, r, http.MethodGet, tc.dest)
			if err != nil {
				t.Fatal(err)
			}
			if res.Kind != event.Returned || res.Value != tc.want {
				t.Errorf("result = %+v, want %q", res, tc.want)
			}
		})
	}
}

func TestPassThroughDescendsToDeeperEntries(t *testing.T) {
	r := New(mustTable(t, map[string]any{
		"/a/-/c": echo("deep"),
	}))
	res, err := route(t, r, http.MethodGet, "/a/b/c")
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "deep /a/b/c" {
		t.Errorf("value = %v", res.Value)
	}
}

func TestVerbSelection(t *testing.T) {
	table := NewTable()
	table.Handle("/items", http.MethodPost, echo("post"))
	table.Handle("/items", DefaultVerb, echo("default"))
	table.Handle("/only-put", http.MethodPut, echo("put"))
	r := New(table)

	tests := []struct {
		method, dest, want string
	}{
		{http.MethodPost, "/items", "post /items"},
		{http.MethodGet, "/items", "default /items"},
		{http.MethodGet, "/only-put", "fallback /only-put"},
		{http.MethodPut, "/only-put", "put /only-put"},
	}
	for _, tc := range tests {
		res, err := route(t, r, tc.method, tc.dest)
		if err != nil {
			t.Fatal(err)
		}
		if res.Value != tc.want {
			t.Errorf("%s %s = %v, want %q", tc.method, tc.dest, res.Value, tc.want)
		}
	}
}

func TestNextResumesDeeperWithExtendedEvent(t *testing.T) {
	var rootEvent, leafEvent *event.Event
	r := New(mustTable(t, map[string]any{
		"/": func(t *Tick) (any, error) {
			rootEvent = t.Event
			v, err := t.Next("", nil)
			return "root(" + v.(string) + ")", err
		},
		"/docs/page": func(t *Tick) (any, error) {
			leafEvent = t.Event
			return "page", nil
		},
	}))

	res, err := route(t, r, http.MethodGet, "/docs/page")
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "root(page)" {
		t.Errorf("value = %v", res.Value)
	}
	if leafEvent.Parent() != rootEvent {
		t.Error("continuation should run on an Event extended from the caller's")
	}
	if leafEvent.Request() != rootEvent.Request() {
		t.Error("argument-less Next should keep the request")
	}
}

func TestContinuationRootEscape(t *testing.T) {
	var escapeErr, absErr error
	var absValue any
	r := New(mustTable(t, map[string]any{
		"/x": echo("x"),
		"/a": func(t *Tick) (any, error) {
			_, escapeErr = t.Next("../../x", nil)
			absValue, absErr = t.Next("/x", nil)
			return "a", nil
		},
	}))

	if _, err := route(t, r, http.MethodGet, "/a"); err != nil {
		t.Fatal(err)
	}
	if lrerrors.CodeOf(escapeErr) != "R001" {
		t.Errorf("escape err = %v, want R001", escapeErr)
	}
	if absErr != nil || absValue != "x /x" {
		t.Errorf("absolute next = %v, %v; want x /x", absValue, absErr)
	}
}

func TestAbsoluteNextRestartsAtRoot(t *testing.T) {
	var rootCalls atomic.Int32
	r := New(mustTable(t, map[string]any{
		"/": func(t *Tick) (any, error) {
			rootCalls.Add(1)
			return t.Next("", nil)
		},
		"/a/b": func(t *Tick) (any, error) { return t.Next("/c", nil) },
		"/c":   echo("c"),
	}))
	res, err := route(t, r, http.MethodGet, "/a/b")
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "c /c" {
		t.Errorf("value = %v", res.Value)
	}
	if n := rootCalls.Load(); n != 2 {
		t.Errorf("root handler ran %d times, want 2", n)
	}
}

func TestRelativeNextRedescendsDivergentSuffix(t *testing.T) {
	var sectionCalls atomic.Int32
	var seenPath string
	r := New(mustTable(t, map[string]any{
		"/docs": func(t *Tick) (any, error) {
			sectionCalls.Add(1)
			return t.Next("", nil)
		},
		"/docs/old": func(t *Tick) (any, error) {
			return t.Next("../new?from=old", nil)
		},
		"/docs/new": func(t *Tick) (any, error) {
			seenPath = t.Event.Request().URL.RequestURI()
			return "new " + t.Query, nil
		},
	}))

	res, err := route(t, r, http.MethodGet, "/docs/old")
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "new from=old" {
		t.Errorf("value = %v", res.Value)
	}
	if sectionCalls.Load() != 1 {
		t.Errorf("/docs ran %d times; the shared prefix must not re-run", sectionCalls.Load())
	}
	if seenPath != "/docs/new?from=old" {
		t.Errorf("continuation request = %q", seenPath)
	}
}

func TestNextRejectsRemote(t *testing.T) {
	var nextErr error
	r := New(mustTable(t, map[string]any{
		"/": func(t *Tick) (any, error) {
			_, nextErr = t.Next("https://example.com/x", nil)
			return "done", nil
		},
	}))
	route(t, r, http.MethodGet, "/")
	if lrerrors.CodeOf(nextErr) != "R002" {
		t.Errorf("err = %v, want R002", nextErr)
	}
}

func TestFetchRemoteUsesFetchFunc(t *testing.T) {
	var got *http.Request
	fetch := func(ctx context.Context, req *http.Request) (*http.Response, error) {
		got = req
		return &http.Response{StatusCode: http.StatusTeapot, Body: io.NopCloser(strings.NewReader("tea"))}, nil
	}
	r := New(mustTable(t, map[string]any{
		"/": func(t *Tick) (any, error) {
			return t.Fetch("https://api.example.com/v1", &Init{Method: http.MethodPost, Header: http.Header{"X-Test": {"1"}}})
		},
	}))

	res, err := r.Route("/", newEvent(http.MethodGet, "/"), nil, fetch)
	if err != nil {
		t.Fatal(err)
	}
	resp, ok := res.Value.(*http.Response)
	if !ok || resp.StatusCode != http.StatusTeapot {
		t.Fatalf("value = %#v", res.Value)
	}
	if got.Method != http.MethodPost || got.Header.Get("X-Test") != "1" || got.URL.Host != "api.example.com" {
		t.Errorf("fetch request = %s %s %v", got.Method, got.URL, got.Header)
	}
}

func TestFetchWithoutFetchFunc(t *testing.T) {
	var fetchErr error
	r := New(mustTable(t, map[string]any{
		"/": func(t *Tick) (any, error) {
			_, fetchErr = t.Fetch("https://example.com", nil)
			return "x", nil
		},
	}))
	route(t, r, http.MethodGet, "/")
	if !errors.Is(fetchErr, ErrNoFetch) {
		t.Errorf("err = %v, want ErrNoFetch", fetchErr)
	}
}

func TestFetchLocalBehavesLikeNext(t *testing.T) {
	r := New(mustTable(t, map[string]any{
		"/a":     func(t *Tick) (any, error) { return t.Fetch("b", &Init{Method: http.MethodPut}) },
		"/a/b":   echo("default"),
		"/a/put": echo("unused"),
	}))
	table := r.Table()
	table.Handle("/a/b", http.MethodPut, echo("put"))

	res, err := route(t, r, http.MethodGet, "/a")
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "put /a/b" {
		t.Errorf("value = %v", res.Value)
	}
}

func TestHandlerErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	r := New(mustTable(t, map[string]any{
		"/": func(t *Tick) (any, error) { return nil, boom },
	}))
	e := newEvent(http.MethodGet, "/")
	if _, err := r.Route("/", e, nil, nil); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	select {
	case <-e.Done():
	default:
		t.Error("lifecycle should complete after a failed handler")
	}
}

func TestPushedHandlerYieldsLiveResponse(t *testing.T) {
	r := New(mustTable(t, map[string]any{
		"/feed": func(t *Tick) (any, error) {
			if err := t.Event.Push("first"); err != nil {
				return nil, err
			}
			return nil, nil
		},
		"/": func(t *Tick) (any, error) { return t.Next("", nil) },
	}))

	res, err := route(t, r, http.MethodGet, "/feed")
	if err != nil {
		t.Fatal(err)
	}
	resp, ok := res.Value.(*live.Response)
	if res.Kind != event.Returned || !ok {
		t.Fatalf("result = %+v, want the continuation's live response", res)
	}
	if resp.Body() != "first" {
		t.Errorf("body = %v", resp.Body())
	}
}

func TestLazyEntry(t *testing.T) {
	var loads atomic.Int32
	fail := true
	r := New(mustTable(t, map[string]any{
		"/lazy": Loader(func(ctx context.Context) (*Entry, error) {
			loads.Add(1)
			if fail {
				fail = false
				return nil, errors.New("not yet")
			}
			return &Entry{Handlers: map[string]Handler{DefaultVerb: echo("lazy")}}, nil
		}),
	}))

	if _, err := route(t, r, http.MethodGet, "/lazy"); err == nil {
		t.Fatal("expected load error")
	}
	for i := 0; i < 2; i++ {
		res, err := route(t, r, http.MethodGet, "/lazy")
		if err != nil || res.Value != "lazy /lazy" {
			t.Fatalf("route = %+v, %v", res, err)
		}
	}
	if n := loads.Load(); n != 2 {
		t.Errorf("loader ran %d times, want 2", n)
	}
}

func TestMiddlewareWrapsHandlersAndFallback(t *testing.T) {
	var seen []string
	table := NewTable()
	table.Add("/a", &Entry{
		Handlers: map[string]Handler{DefaultVerb: echo("a")},
		Middleware: []Middleware{MiddlewareFunc(func(t *Tick, next func() (any, error)) (any, error) {
			seen = append(seen, "local")
			return next()
		})},
	})
	r := New(table, WithFallback(fallbackValue))
	r.Use(MiddlewareFunc(func(t *Tick, next func() (any, error)) (any, error) {
		seen = append(seen, "global "+t.Path())
		return next()
	}))

	if _, err := r.Dispatch(newEvent(http.MethodGet, "/a")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Dispatch(newEvent(http.MethodGet, "/missing")); err != nil {
		t.Fatal(err)
	}
	want := []string{"global /a", "local", "global /"}
	if strings.Join(seen, "|") != strings.Join(want, "|") {
		t.Errorf("middleware calls = %v, want %v", seen, want)
	}
}

func TestRedirect(t *testing.T) {
	r := New(mustTable(t, map[string]any{
		"/old": func(t *Tick) (any, error) { return Redirect(http.StatusMovedPermanently, "/new"), nil },
	}))
	res, err := route(t, r, http.MethodGet, "/old")
	if err != nil {
		t.Fatal(err)
	}
	redir, ok := res.Value.(*Redirection)
	if !ok || redir.Status != http.StatusMovedPermanently || redir.Location != "/new" {
		t.Errorf("value = %#v", res.Value)
	}
	if Redirect(200, "/x").Status != http.StatusFound {
		t.Error("non-3xx status should become 302")
	}
}

func TestRouteRejectsMalformedPath(t *testing.T) {
	r := New(NewTable())
	if _, err := route(t, r, http.MethodGet, "/../etc"); lrerrors.CodeOf(err) != "R001" {
		t.Errorf("err = %v, want R001", err)
	}
}

func TestNotFoundLeavesEventUnanswered(t *testing.T) {
	r := New(NewTable())
	res, err := r.Dispatch(newEvent(http.MethodGet, "/nothing"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != event.None {
		t.Errorf("kind = %v, want none", res.Kind)
	}
}

func TestHandlerReturnsAfterSettledWork(t *testing.T) {
	tests := []struct {
		name    string
		handler Handler
		want    string
	}{
		{
			name: "after next",
			handler: func(t *Tick) (any, error) {
				v, err := t.Next("", nil)
				if err != nil {
					return nil, err
				}
				time.Sleep(20 * time.Millisecond)
				return "parent saw " + v.(string), nil
			},
			want: "parent saw b /a/b",
		},
		{
			name: "after wait until",
			handler: func(t *Tick) (any, error) {
				quick := task.Go(t.Context(), func(context.Context) (any, error) { return nil, nil })
				if _, err := t.Event.WaitUntil(quick); err != nil {
					return nil, err
				}
				<-quick.Done()
				time.Sleep(20 * time.Millisecond)
				if _, err := t.Event.WaitUntil(task.Resolved(nil)); err != nil {
					return nil, err
				}
				return "value", nil
			},
			want: "value",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(mustTable(t, map[string]any{
				"/a":   tt.handler,
				"/a/b": echo("b"),
			}))
			res, err := route(t, r, http.MethodGet, "/a/b")
			if err != nil {
				t.Fatal(err)
			}
			if res.Kind != event.Returned || res.Value != tt.want {
				t.Errorf("result = %+v, want returned %q", res, tt.want)
			}
		})
	}
}

func TestNextToCommonPrefixFallsBack(t *testing.T) {
	r := New(mustTable(t, map[string]any{
		"/a": func(t *Tick) (any, error) {
			if len(t.Remaining()) > 0 {
				return t.Next("", nil)
			}
			return "a", nil
		},
		"/a/b": func(t *Tick) (any, error) { return t.Next("..", nil) },
	}))
	res, err := route(t, r, http.MethodGet, "/a/b")
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "fallback /a" {
		t.Errorf("value = %v, want fallback /a", res.Value)
	}
}

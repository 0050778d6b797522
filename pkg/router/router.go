package router

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	lrerrors "github.com/vango-dev/liveroute/internal/errors"
	"github.com/vango-dev/liveroute/pkg/event"
	"github.com/vango-dev/liveroute/pkg/routepath"
)

// ErrNoFetch is returned when a remote fetch is attempted without a
// FetchFunc.
var ErrNoFetch = errors.New("router: no cross-boundary fetch configured")

// Handler answers a tick. It may return a value, push values through
// t.Event, or continue with t.Next and t.Fetch.
type Handler func(t *Tick) (any, error)

// FetchFunc performs a request the router cannot answer itself, such as one
// to another origin. The router never does network I/O on its own.
type FetchFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// Fallback answers when resolution finds no handler.
type Fallback func(e *event.Event, fetch FetchFunc) (any, error)

// NotFound is the default fallback. It returns nil, leaving the Event
// unanswered.
func NotFound(*event.Event, FetchFunc) (any, error) {
	return nil, nil
}

// Router resolves destinations against a Table and runs handler chains.
type Router struct {
	table      *Table
	middleware []Middleware
	fallback   Fallback
	fetch      FetchFunc
	logger     *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithFallback sets the fallback used by Dispatch.
func WithFallback(f Fallback) Option {
	return func(r *Router) { r.fallback = f }
}

// WithFetch sets the cross-boundary fetch used by Dispatch.
func WithFetch(f FetchFunc) Option {
	return func(r *Router) { r.fetch = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l.With("component", "router")
		}
	}
}

// New returns a Router over table.
func New(table *Table, opts ...Option) *Router {
	r := &Router{
		table:    table,
		fallback: NotFound,
		logger:   slog.Default().With("component", "router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Table returns the router's table.
func (r *Router) Table() *Table {
	return r.table
}

// Use appends middleware run around every handler and fallback. Call it
// before routing.
func (r *Router) Use(mw ...Middleware) {
	r.middleware = append(r.middleware, mw...)
}

// Dispatch routes e's request URL with the router's fallback and fetch.
func (r *Router) Dispatch(e *event.Event) (event.Result, error) {
	req := e.Request()
	if req == nil {
		return event.Result{}, errors.New("router: event has no request")
	}
	return r.Route(req.URL.RequestURI(), e, r.fallback, r.fetch)
}

// Route resolves dest from the root and runs the handler chain against e.
// It completes e's lifecycle registration and returns how e was answered.
// fallback and fetch may be nil.
func (r *Router) Route(dest string, e *event.Event, fallback Fallback, fetch FetchFunc) (event.Result, error) {
	segs, query, err := routepath.Segments(dest)
	if err != nil {
		e.LifeCycleComplete(nil)
		return event.Result{}, err
	}
	if fallback == nil {
		fallback = NotFound
	}
	w := &walk{router: r, fallback: fallback, fetch: fetch}
	method := http.MethodGet
	if req := e.Request(); req != nil && req.Method != "" {
		method = req.Method
	}
	return w.run(e, method, segs, query, nil, nil, false)
}

// walk is one routing pass and the continuations spawned from it.
type walk struct {
	router   *Router
	fallback Fallback
	fetch    FetchFunc
}

// run resolves dest tick by tick from trail. With descend set the entry at
// trail itself is skipped.
func (w *walk) run(e *event.Event, method string, dest []string, query string, trail, onFile []string, descend bool) (event.Result, error) {
	table := w.router.table
	for {
		if !descend {
			entry, err := table.lookup(e.Context(), onFile)
			if err != nil {
				e.LifeCycleComplete(nil)
				return event.Result{}, err
			}
			if entry != nil {
				if h := entry.handler(method, DefaultVerb); h != nil {
					t := w.tick(e, method, dest, query, trail, onFile, entry)
					w.router.logger.Debug("route resolved", "path", t.Path(), "entry", tableKey(onFile), "method", method)
					return w.invoke(t, h, entry.Middleware)
				}
			}
		}
		descend = false

		if len(trail) >= len(dest) {
			return w.fallBack(e, method, dest, query, trail, onFile)
		}
		seg := dest[len(trail)]
		switch {
		case table.exists(with(onFile, seg)):
			onFile = with(onFile, seg)
		case table.exists(with(onFile, Wildcard)):
			onFile = with(onFile, Wildcard)
		default:
			return w.fallBack(e, method, dest, query, trail, onFile)
		}
		trail = with(trail, seg)
	}
}

func (w *walk) tick(e *event.Event, method string, dest []string, query string, trail, onFile []string, entry *Entry) *Tick {
	return &Tick{
		Destination: dest,
		Trail:       trail,
		TrailOnFile: onFile,
		Entry:       entry,
		Event:       e,
		Method:      method,
		Query:       query,
		walk:        w,
	}
}

func (w *walk) fallBack(e *event.Event, method string, dest []string, query string, trail, onFile []string) (event.Result, error) {
	t := w.tick(e, method, dest, query, trail, onFile, nil)
	w.router.logger.Debug("route fallback", "path", routepath.Join(dest), "trail", t.Path())
	return w.invoke(t, func(t *Tick) (any, error) {
		return w.fallback(t.Event, w.fetch)
	}, nil)
}

// invoke runs h inside the middleware chain and settles the Event's answer.
func (w *walk) invoke(t *Tick, h Handler, local []Middleware) (event.Result, error) {
	e := t.Event
	mw := make([]Middleware, 0, len(w.router.middleware)+len(local))
	mw = append(mw, w.router.middleware...)
	mw = append(mw, local...)

	value, err := ComposeMiddleware(t, mw, func() (any, error) { return h(t) })
	if err == nil {
		err = e.Holder().Return(value)
	}
	e.LifeCycleComplete(nil)
	if err != nil {
		return event.Result{}, err
	}
	return e.Holder().Result(context.Background())
}

// valueOf turns a continuation's Result into the value handed back to the
// calling handler.
func valueOf(res event.Result) any {
	switch res.Kind {
	case event.Returned:
		return res.Value
	case event.Pushed:
		return res.Response
	default:
		return nil
	}
}

func remoteError(target string) error {
	return lrerrors.New("R002").WithDetail(target).Wrap(routepath.ErrRemoteURL)
}

package event

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	lrerrors "github.com/vango-dev/liveroute/internal/errors"
	"github.com/vango-dev/liveroute/pkg/live"
	"github.com/vango-dev/liveroute/pkg/state"
	"github.com/vango-dev/liveroute/pkg/task"
)

// ErrAborted is the cancellation cause of an Event aborted without one.
var ErrAborted = errors.New("event: aborted")

// Detail describes how an interaction was initiated.
type Detail struct {
	// Navigation is the navigation kind, e.g. "push", "replace", "reload"
	// or "traverse". Empty for non-navigation requests.
	Navigation string

	// Origin identifies the element that triggered the interaction.
	Origin string

	// Values holds free-form metadata.
	Values map[string]any
}

// Option overrides a field of a new Event. Unset fields fall back to the
// Event it was extended or cloned from.
type Option func(*Event)

// WithRequest sets the request.
func WithRequest(r *http.Request) Option {
	return func(e *Event) { e.request = r }
}

// WithDetail sets the navigation detail.
func WithDetail(d Detail) Option {
	return func(e *Event) { e.detail = &d }
}

// WithStores sets the state stores.
func WithStores(s *state.Stores) Option {
	return func(e *Event) { e.stores = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Event) { e.logger = l }
}

// Event is one interaction. It is safe for concurrent use.
type Event struct {
	id     string
	base   *Event
	parent *Event

	request *http.Request
	detail  *Detail
	stores  *state.Stores
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc
	holder *Holder

	mu       sync.Mutex
	pending  int
	firstErr error
	armed    bool
	terminal bool
	outcome  *task.Task
}

// New creates a root Event for r. Its context is derived from r's.
func New(r *http.Request, opts ...Option) *Event {
	ctx := context.Background()
	if r != nil {
		ctx = r.Context()
	}
	e := newEvent(ctx, nil, append([]Option{WithRequest(r)}, opts...))
	e.Logger().Debug("event created")
	return e
}

func newEvent(ctx context.Context, base *Event, opts []Option) *Event {
	e := &Event{
		id:      uuid.NewString(),
		base:    base,
		outcome: task.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ctx, e.cancel = context.WithCancelCause(ctx)
	e.holder = newHolder(e)
	context.AfterFunc(e.ctx, func() { e.holder.abort(context.Cause(e.ctx)) })
	return e
}

// ID returns the Event's unique id.
func (e *Event) ID() string {
	return e.id
}

// Request returns the request, falling back to the base Event's.
func (e *Event) Request() *http.Request {
	if e.request != nil || e.base == nil {
		return e.request
	}
	return e.base.Request()
}

// Detail returns the navigation detail, falling back to the base Event's.
func (e *Event) Detail() Detail {
	if e.detail != nil {
		return *e.detail
	}
	if e.base != nil {
		return e.base.Detail()
	}
	return Detail{}
}

// Stores returns the state stores, falling back to the base Event's.
func (e *Event) Stores() *state.Stores {
	if e.stores != nil || e.base == nil {
		return e.stores
	}
	return e.base.Stores()
}

// Logger returns the Event's logger.
func (e *Event) Logger() *slog.Logger {
	l := e.logger
	if l == nil && e.base != nil {
		l = e.base.Logger()
	}
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", "event", "event_id", e.id)
}

// Parent returns the Event this one was extended from, or nil.
func (e *Event) Parent() *Event {
	return e.parent
}

// Context returns the Event's cancellation context.
func (e *Event) Context() context.Context {
	return e.ctx
}

// Aborted reports whether the Event was cancelled.
func (e *Event) Aborted() bool {
	return e.ctx.Err() != nil
}

// Cause returns why the Event was cancelled, or nil.
func (e *Event) Cause() error {
	return context.Cause(e.ctx)
}

// Holder returns the Event's live value slot.
func (e *Event) Holder() *Holder {
	return e.holder
}

// Push sends value through the live value slot.
func (e *Event) Push(value any) error {
	return e.holder.Push(value, live.Options{}, nil)
}

// Extend creates a child Event. Aborting e aborts the child, not the other
// way round. The child's completion is registered as pending work of e, so
// e's lifecycle cannot complete before the child's.
func (e *Event) Extend(opts ...Option) (*Event, error) {
	child := newEvent(e.ctx, e, opts)
	child.parent = e
	if _, err := e.WaitUntil(child.outcome); err != nil {
		child.cancel(err)
		return nil, err
	}
	return child, nil
}

// Clone creates a sibling sharing e's fields but not its lifecycle or
// cancellation.
func (e *Event) Clone(opts ...Option) *Event {
	ctx := context.Background()
	if r := e.Request(); r != nil {
		ctx = r.Context()
	}
	return newEvent(ctx, e, opts)
}

// WaitUntil registers w as pending work. It fails with L001 once the Event's
// lifecycle has completed. Settling the last pending task completes the
// lifecycle only after LifeCycleComplete has been called.
func (e *Event) WaitUntil(w task.Waiter) (*task.Task, error) {
	e.mu.Lock()
	if e.terminal {
		e.mu.Unlock()
		return nil, lrerrors.New("L001").WithDetailf("event %s", e.id)
	}
	e.pending++
	e.mu.Unlock()

	t := task.From(w)
	t.Then(func(_ any, err error) { e.settleOne(err) })
	return t, nil
}

func (e *Event) settleOne(err error) {
	e.mu.Lock()
	e.pending--
	if err != nil && e.firstErr == nil {
		e.firstErr = err
	}
	if e.pending > 0 || !e.armed || e.terminal {
		e.mu.Unlock()
		return
	}
	e.terminal = true
	firstErr := e.firstErr
	e.mu.Unlock()

	e.complete(firstErr)
}

func (e *Event) complete(err error) {
	if err != nil {
		e.Logger().Debug("lifecycle complete", "error", err)
	} else {
		e.Logger().Debug("lifecycle complete")
	}
	e.holder.close()
	e.outcome.Settle(nil, err)
}

// LifeCycleComplete registers ret, if any, and returns the task that settles
// once all pending work has. Until it is called the lifecycle stays open even
// when nothing is pending. With nothing pending it settles at once.
func (e *Event) LifeCycleComplete(ret task.Waiter) *task.Task {
	if ret != nil {
		if _, err := e.WaitUntil(ret); err != nil {
			return e.outcome
		}
	}
	e.mu.Lock()
	e.armed = true
	if e.terminal || e.pending > 0 {
		e.mu.Unlock()
		return e.outcome
	}
	e.terminal = true
	firstErr := e.firstErr
	e.mu.Unlock()

	e.complete(firstErr)
	return e.outcome
}

// Outcome returns the lifecycle task.
func (e *Event) Outcome() *task.Task {
	return e.outcome
}

// Done is closed when the lifecycle completes.
func (e *Event) Done() <-chan struct{} {
	return e.outcome.Done()
}

// Abort cancels the Event and its extended children and closes its live
// response. A nil cause records ErrAborted. Aborting twice is a no-op.
func (e *Event) Abort(cause error) {
	if cause == nil {
		cause = ErrAborted
	}
	if e.ctx.Err() != nil {
		return
	}
	e.cancel(cause)
	e.Logger().Debug("event aborted", "cause", cause)
}

// Commit waits for the lifecycle to complete and then commits the state
// stores into h: cookies, then session, then user. A failed lifecycle is
// reported together with any commit error.
func (e *Event) Commit(ctx context.Context, h http.Header) error {
	_, lifecycleErr := e.outcome.Wait(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	commitErr := e.Stores().Commit(ctx, h)
	return errors.Join(lifecycleErr, commitErr)
}

package event

import (
	"context"
	"net/http"
	"sync"

	lrerrors "github.com/vango-dev/liveroute/internal/errors"
	"github.com/vango-dev/liveroute/pkg/live"
	"github.com/vango-dev/liveroute/pkg/task"
)

// Kind tells how a handler answered.
type Kind uint8

const (
	// None means the handler neither returned nor pushed a value.
	None Kind = iota

	// Returned means the handler returned a value.
	Returned

	// Pushed means the handler pushed values into the live slot.
	Pushed
)

func (k Kind) String() string {
	switch k {
	case Returned:
		return "returned"
	case Pushed:
		return "pushed"
	default:
		return "none"
	}
}

// Result is the outcome of a handler: a returned value or a live response
// fed by pushes.
type Result struct {
	Kind     Kind
	Value    any
	Response *live.Response
}

// Holder is the live value slot of an Event. The first of Return (with a
// value) and Push decides the Result. Later pushes replace the live
// response's snapshot.
type Holder struct {
	event *Event

	mu       sync.Mutex
	resp     *live.Response
	returned bool
	closed   bool
	result   *task.Task
}

func newHolder(e *Event) *Holder {
	return &Holder{event: e, result: task.New()}
}

// Push installs value as the next snapshot. The first push creates the live
// response and decides the Result. A push after Return is a D001 error that
// aborts the Event.
func (h *Holder) Push(value any, opts live.Options, frameClosure task.Waiter) error {
	h.mu.Lock()
	if h.returned {
		h.mu.Unlock()
		err := lrerrors.New("D001").WithDetailf("event %s", h.event.id)
		h.event.Abort(err)
		return err
	}
	if h.closed {
		h.mu.Unlock()
		return lrerrors.New("L002").WithDetailf("event %s", h.event.id).Wrap(live.ErrClosed)
	}
	resp := h.resp
	if resp != nil {
		h.mu.Unlock()
		return resp.ReplaceWith(value, opts, frameClosure)
	}

	resp, err := h.open(value, opts, frameClosure)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	h.resp = resp
	h.mu.Unlock()

	h.result.Resolve(Result{Kind: Pushed, Response: resp})
	return nil
}

// open builds the live response for the first push. mu must be held.
func (h *Holder) open(value any, opts live.Options, frameClosure task.Waiter) (*live.Response, error) {
	ctx := h.event.ctx
	lopts := []live.Option{live.Pending(), live.WithLogger(h.event.logger)}
	if opts.Status != 0 {
		lopts = append(lopts, live.WithStatus(opts.Status, opts.StatusText))
	}
	if opts.Header != nil {
		lopts = append(lopts, live.WithHeader(opts.Header))
	}
	if frameClosure == nil {
		resp, err := live.New(ctx, value, lopts...)
		if err != nil {
			return nil, err
		}
		if opts.Done {
			resp.Finish()
		}
		return resp, nil
	}
	resp, err := live.New(ctx, nil, lopts...)
	if err != nil {
		return nil, err
	}
	if err := resp.ReplaceWith(value, opts, frameClosure); err != nil {
		return nil, err
	}
	return resp, nil
}

// Return records the handler's return value. A nil value defers to pushes.
// A value returned after a push becomes the final snapshot.
func (h *Holder) Return(value any) error {
	if value == nil {
		return nil
	}
	h.mu.Lock()
	if h.returned {
		h.mu.Unlock()
		return nil
	}
	h.returned = true
	resp := h.resp
	h.mu.Unlock()

	if resp != nil {
		return resp.ReplaceWith(value, live.Options{Done: true}, nil)
	}
	h.result.Resolve(Result{Kind: Returned, Value: value})
	return nil
}

// Result waits until the handler's answer is decided.
func (h *Holder) Result(ctx context.Context) (Result, error) {
	v, err := h.result.Wait(ctx)
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// Decided reports whether the Result is known.
func (h *Holder) Decided() bool {
	return h.result.Settled()
}

// Response returns the live response created by pushes, or nil.
func (h *Holder) Response() *live.Response {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resp
}

// close ends the slot once the lifecycle completes: an open live response
// gets no further snapshots, and an undecided Result becomes None.
func (h *Holder) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	resp := h.resp
	h.mu.Unlock()

	if resp != nil {
		resp.Finish()
	}
	h.result.Resolve(Result{Kind: None})
}

func (h *Holder) abort(cause error) {
	h.mu.Lock()
	h.closed = true
	resp := h.resp
	h.mu.Unlock()

	if resp != nil {
		resp.Close()
	}
	h.result.Reject(cause)
}

// StatusOf returns the HTTP status a Result maps to.
func StatusOf(r Result) int {
	switch r.Kind {
	case Pushed:
		if r.Response != nil {
			return r.Response.Status()
		}
	case None:
		return http.StatusNotFound
	}
	return http.StatusOK
}
